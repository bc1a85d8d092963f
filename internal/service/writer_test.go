package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"infantguard/internal/bus"
	"infantguard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepos struct {
	mu        sync.Mutex
	positions []models.Position
	events    []models.GateEvent
	alerts    []models.Alert
	dismissed []string
}

func (f *fakeRepos) InsertPosition(ctx context.Context, p *models.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, *p)
	return nil
}

func (f *fakeRepos) InsertGateEvent(ctx context.Context, ev *models.GateEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeRepos) UpsertAlert(ctx context.Context, a *models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, *a)
	return nil
}

func (f *fakeRepos) MarkDismissed(ctx context.Context, alertID string, dismissedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, alertID)
	return nil
}

func (f *fakeRepos) Active(severity models.Severity, acknowledged *bool) []models.Alert {
	return nil
}

func (f *fakeRepos) counts() (int, int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.positions), len(f.events), len(f.alerts), len(f.dismissed)
}

func TestWriter_PersistsBusTraffic(t *testing.T) {
	logger := zap.NewNop()
	b := bus.New(logger)
	repos := &fakeRepos{}
	w := NewWriter(repos, repos, repos, repos, nil, b, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Run 里的订阅建立是异步的，先等一拍
	time.Sleep(20 * time.Millisecond)

	b.Publish(bus.TopicPositions, models.Position{TagID: "INF-003", Floor: "F3", Timestamp: time.Now()})
	b.Publish(bus.TopicGates, models.GateEvent{ID: "ev-1", GateID: "gate-1", EventType: models.GateEventForced, Timestamp: time.Now()})
	b.Publish(bus.TopicAlerts, models.Alert{AlertID: "a-1", Type: models.AlertDoorForcedOpen})

	require.Eventually(t, func() bool {
		p, e, a, _ := repos.counts()
		return p == 1 && e == 1 && a == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWriter_MarksDismissedAlerts(t *testing.T) {
	logger := zap.NewNop()
	b := bus.New(logger)
	repos := &fakeRepos{}
	w := NewWriter(repos, repos, repos, repos, nil, b, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(20 * time.Millisecond)

	now := time.Now()
	b.Publish(bus.TopicAlerts, models.Alert{AlertID: "a-1", Type: models.AlertExitZone, DismissedAt: &now})

	require.Eventually(t, func() bool {
		_, _, a, d := repos.counts()
		return a == 1 && d == 1
	}, 2*time.Second, 5*time.Millisecond)

	repos.mu.Lock()
	defer repos.mu.Unlock()
	assert.Equal(t, []string{"a-1"}, repos.dismissed)
}
