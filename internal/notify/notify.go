// Package notify is the core's best-effort status notification port:
// notify_status({id, msisdn, status, error_code?}). Failures must never
// propagate back into the caller's send/reconcile path.
package notify

import "context"

// StatusEvent is one delivery-status notification.
type StatusEvent struct {
	AttemptID int64
	MSISDN    string
	Status    string
	ErrorCode string
}

// Notifier is the core's notification port.
type Notifier interface {
	NotifyStatus(ctx context.Context, ev StatusEvent)
}

// NoOp discards every notification. Used when no webhook URL is configured.
type NoOp struct{}

func (NoOp) NotifyStatus(context.Context, StatusEvent) {}
