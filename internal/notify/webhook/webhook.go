// Package webhook is the reference notify.Notifier: it POSTs a JSON body to
// a configured URL and swallows every error, honoring the best-effort
// contract notify.Notifier promises.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Skunkworks-Digital/muxo/internal/notify"
)

// body is the wire shape POSTed to the configured webhook URL.
type body struct {
	ID        int64  `json:"id"`
	MSISDN    string `json:"msisdn"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Notifier POSTs status events to URL.
type Notifier struct {
	URL    string
	Client *http.Client
	Log    *slog.Logger
}

// New constructs a Notifier with a bounded-timeout client.
func New(url string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Log:    log,
	}
}

// NotifyStatus POSTs ev as JSON. Any failure is logged, never returned;
// this is a best-effort port and must not affect the reconciler's own
// outcome.
func (n *Notifier) NotifyStatus(ctx context.Context, ev notify.StatusEvent) {
	payload, err := json.Marshal(body{
		ID:        ev.AttemptID,
		MSISDN:    ev.MSISDN,
		Status:    ev.Status,
		ErrorCode: ev.ErrorCode,
	})
	if err != nil {
		n.Log.Error("marshaling status notification failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		n.Log.Error("building status notification request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		n.Log.Warn("status notification delivery failed", "url", n.URL, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.Log.Warn("status notification rejected", "url", n.URL, "status", resp.StatusCode)
	}
}
