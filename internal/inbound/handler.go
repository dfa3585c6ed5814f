// Package inbound turns modem.InboundEvent values into persisted contacts
// and inbox records, and answers the STOP/INFO keyword protocol.
package inbound

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Skunkworks-Digital/muxo/internal/modem"
	"github.com/Skunkworks-Digital/muxo/internal/msisdn"
	"github.com/Skunkworks-Digital/muxo/internal/pdu"
	"github.com/Skunkworks-Digital/muxo/internal/store"
)

// Sender is the narrow modem-facing capability the handler needs to answer
// an INFO request on the same device the message arrived on.
type Sender interface {
	Send(ctx context.Context, segments []pdu.Segment) ([]string, error)
}

// Handler normalizes the sender's number, upserts the Contact, appends the
// inbox record, and answers STOP/INFO keywords.
type Handler struct {
	Store         store.Store
	DefaultRegion string
	InfoTemplate  string
	Log           *slog.Logger

	// Senders maps a device ID to the session capable of replying on it.
	// Populated by the caller; cmd/gateway fills it once at startup.
	Senders map[int64]Sender
}

// New constructs a Handler. log may be nil, in which case slog.Default is used.
func New(st store.Store, defaultRegion, infoTemplate string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Store:         st,
		DefaultRegion: defaultRegion,
		InfoTemplate:  infoTemplate,
		Log:           log,
		Senders:       make(map[int64]Sender),
	}
}

// Handle processes one inbound event. Errors are logged, never returned:
// an invalid sender number or a storage failure is dropped and the
// handler moves on to the next event.
func (h *Handler) Handle(ctx context.Context, ev modem.InboundEvent) {
	e164, err := msisdn.Normalize(ev.MSISDN, h.DefaultRegion)
	if err != nil {
		h.Log.Warn("dropping inbound message with unnormalizable sender", "raw", ev.MSISDN, "error", err)
		return
	}

	contact, err := h.Store.UpsertContactByMSISDN(ctx, e164)
	if err != nil {
		h.Log.Error("upserting contact failed", "msisdn", e164, "error", err)
		return
	}

	if err := h.Store.AppendInbox(ctx, store.InboundRecord{
		MSISDN:   e164,
		Text:     ev.Text,
		DeviceID: ev.DeviceID,
	}); err != nil {
		h.Log.Error("appending inbox record failed", "msisdn", e164, "error", err)
	}

	switch strings.ToUpper(strings.TrimSpace(ev.Text)) {
	case "STOP":
		if err := h.Store.SetContactOptOut(ctx, contact.ID, true); err != nil {
			h.Log.Error("recording opt-out failed", "msisdn", e164, "error", err)
		}
	case "INFO":
		if contact.OptOut {
			return
		}
		h.replyInfo(ctx, ev.DeviceID, e164)
	}
}

func (h *Handler) replyInfo(ctx context.Context, deviceID int64, msisdnE164 string) {
	sender, ok := h.Senders[deviceID]
	if !ok {
		h.Log.Warn("no session available to send INFO reply", "device", deviceID)
		return
	}
	segments, err := pdu.Encode(msisdnE164, h.InfoTemplate)
	if err != nil {
		h.Log.Error("encoding INFO reply failed", "msisdn", msisdnE164, "error", err)
		return
	}
	if _, err := sender.Send(ctx, segments); err != nil {
		h.Log.Warn("sending INFO reply failed", "msisdn", msisdnE164, "error", err)
	}
}
