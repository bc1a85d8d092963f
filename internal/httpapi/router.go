package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRTLSRoutes 位置查询路由
func (r *Router) RegisterRTLSRoutes(api *API) {
	r.Handle("/api/v1/rtls/positions/latest", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		api.GetLatestPositions(w, req)
	})

	r.Handle("/api/v1/rtls/positions/history", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		api.GetPositionHistory(w, req)
	})

	// tags/{tagId}/latest
	r.Handle("/api/v1/rtls/tags/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/rtls/tags/")
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] != "latest" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		api.GetTagLatest(w, req, parts[0])
	})
}

// RegisterGateRoutes 门禁查询路由
func (r *Router) RegisterGateRoutes(api *API) {
	r.Handle("/api/v1/gates", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		api.GetGates(w, req)
	})

	// gates/{gateId}/events
	r.Handle("/api/v1/gates/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/gates/")
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] != "events" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		api.GetGateEvents(w, req, parts[0])
	})
}

// RegisterAlertRoutes 报警查询与生命周期路由
func (r *Router) RegisterAlertRoutes(api *API) {
	r.Handle("/api/v1/alerts", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		api.GetActiveAlerts(w, req)
	})

	r.Handle("/api/v1/alerts/history", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		api.GetAlertHistory(w, req)
	})

	// DELETE alerts/{alertId}（dismiss）与 POST alerts/{alertId}/acknowledge|escalate
	r.Handle("/api/v1/alerts/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/v1/alerts/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			if req.Method != http.MethodDelete {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			api.DismissAlert(w, req, parts[0])
		case len(parts) == 2 && parts[0] != "":
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			switch parts[1] {
			case "acknowledge":
				api.AcknowledgeAlert(w, req, parts[0])
			case "escalate":
				api.EscalateAlert(w, req, parts[0])
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// RegisterHealthRoute 健康检查
func (r *Router) RegisterHealthRoute(api *API) {
	r.Handle("/healthz", api.Healthz)
}
