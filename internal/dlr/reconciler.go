// Package dlr matches a modem.DeliveryReportEvent against the most recent
// Attempt sharing its reference, updates that Attempt's status, and emits
// a best-effort status notification.
package dlr

import (
	"context"
	"log/slog"

	"github.com/Skunkworks-Digital/muxo/internal/modem"
	"github.com/Skunkworks-Digital/muxo/internal/notify"
	"github.com/Skunkworks-Digital/muxo/internal/pdu"
	"github.com/Skunkworks-Digital/muxo/internal/store"
)

// Reconciler ties delivery reports back to the Attempt they report on.
type Reconciler struct {
	Store    store.Store
	Notifier notify.Notifier
	Log      *slog.Logger
}

// New constructs a Reconciler. log may be nil, notifier may be notify.NoOp{}.
func New(st store.Store, notifier notify.Notifier, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NoOp{}
	}
	return &Reconciler{Store: st, Notifier: notifier, Log: log}
}

// Handle processes one delivery report. A report with no matching Attempt,
// or whose Attempt is already delivered or failed, is logged and dropped.
func (r *Reconciler) Handle(ctx context.Context, ev modem.DeliveryReportEvent) {
	attempt, err := r.Store.FindAttemptByRef(ctx, ev.Ref)
	if err != nil {
		r.Log.Error("looking up attempt by reference failed", "ref", ev.Ref, "error", err)
		return
	}
	if attempt == nil {
		r.Log.Warn("delivery report matches no attempt", "ref", ev.Ref)
		return
	}
	if attempt.Status.Terminal() {
		r.Log.Warn("delivery report for attempt already in a terminal state", "ref", ev.Ref, "attempt", attempt.ID, "status", attempt.Status)
		return
	}

	status := toStoreStatus(ev.Status)
	var errorCode *string
	if ev.ErrorCode != "" {
		errorCode = &ev.ErrorCode
	}
	if err := r.Store.UpdateAttemptStatus(ctx, attempt.ID, status, errorCode); err != nil {
		r.Log.Error("updating attempt status failed", "attempt", attempt.ID, "error", err)
		return
	}

	var msisdnStr string
	if contact, err := r.Store.GetContact(ctx, attempt.ContactID); err == nil {
		msisdnStr = contact.MSISDN
	}
	r.Notifier.NotifyStatus(ctx, notify.StatusEvent{
		AttemptID: attempt.ID,
		MSISDN:    msisdnStr,
		Status:    string(status),
		ErrorCode: ev.ErrorCode,
	})
}

func toStoreStatus(s pdu.Status) store.Status {
	switch s {
	case pdu.StatusDelivered:
		return store.StatusDelivered
	case pdu.StatusFailed:
		return store.StatusFailed
	default:
		return store.StatusUnknown
	}
}
