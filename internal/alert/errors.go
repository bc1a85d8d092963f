package alert

import "fmt"

// NotFoundError 操作的报警不存在
type NotFoundError struct {
	AlertID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("alert %s not found", e.AlertID)
}

// AlreadyDismissedError 报警已被 dismiss（终态），不能再变更
type AlreadyDismissedError struct {
	AlertID string
}

func (e *AlreadyDismissedError) Error() string {
	return fmt.Sprintf("alert %s already dismissed", e.AlertID)
}
