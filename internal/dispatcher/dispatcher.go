// Package dispatcher runs the per-campaign send loop. One run processes
// its recipients strictly sequentially: window enforcement, device
// round-robin, and per-device rate limiting all happen inline, recipient
// by recipient, with no parallelism within a single campaign.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Skunkworks-Digital/muxo/internal/pdu"
	"github.com/Skunkworks-Digital/muxo/internal/store"
)

// Sender is the narrow modem-facing capability the dispatcher needs.
type Sender interface {
	Send(ctx context.Context, segments []pdu.Segment) ([]string, error)
}

// Clock abstracts wall-clock time and sleeping so window/rate-limit logic
// can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

// realClock is Clock backed by the actual wall clock.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Dispatcher runs campaigns against a Store and a set of per-device Senders.
type Dispatcher struct {
	Store   store.Store
	Senders map[int64]Sender
	Clock   Clock
	Log     *slog.Logger

	deviceCursor int // persists the round-robin position across runs
}

// New constructs a Dispatcher with the real wall clock. log may be nil.
func New(st store.Store, senders map[int64]Sender, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{Store: st, Senders: senders, Clock: realClock{}, Log: log}
}

// Run executes one campaign to completion: recipient selection,
// deduplication, opt-out filtering, then a sequential send loop enforcing
// the window, device rotation, and per-device rate limit. It returns an
// error only if the run was aborted outright (e.g. zero active devices);
// individual send failures are recorded as failed Attempts and do not stop
// the run.
func (d *Dispatcher) Run(ctx context.Context, campaign store.Campaign) error {
	recipients, err := d.recipients(ctx, campaign)
	if err != nil {
		return fmt.Errorf("dispatcher: selecting recipients: %w", err)
	}

	lastSent := make(map[int64]time.Time)

	for _, contact := range recipients {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if campaign.HasWindow() {
			d.waitForWindow(ctx, campaign)
		}

		device, err := d.nextDevice(ctx)
		if err != nil {
			d.Log.Error("campaign aborted", "campaign", campaign.Name, "error", err)
			return err
		}

		d.waitForRateLimit(ctx, device.ID, campaign.RateLimit, lastSent)

		sender, ok := d.Senders[device.ID]
		if !ok {
			d.recordFailure(ctx, campaign, contact, device, "no session for device")
			continue
		}

		segments, err := pdu.Encode(contact.MSISDN, campaign.Template)
		if err != nil {
			d.recordFailure(ctx, campaign, contact, device, err.Error())
			continue
		}

		refs, err := sender.Send(ctx, segments)
		lastSent[device.ID] = d.Clock.Now()
		if err != nil {
			d.recordFailure(ctx, campaign, contact, device, err.Error())
			continue
		}

		d.recordSuccess(ctx, campaign, contact, device, refs)
	}
	return nil
}

// recipients returns list-members who are not opted out, deduplicated by
// MSISDN with first occurrence winning, in iteration order.
func (d *Dispatcher) recipients(ctx context.Context, campaign store.Campaign) ([]store.Contact, error) {
	members, err := d.Store.ListMembersFor(ctx, campaign.ListID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(members))
	out := make([]store.Contact, 0, len(members))
	for _, c := range members {
		if c.OptOut || seen[c.MSISDN] {
			continue
		}
		seen[c.MSISDN] = true
		out = append(out, c)
	}
	return out, nil
}

// waitForWindow sleeps until the campaign's daily send window next opens,
// if the current time falls outside it. Checked before every send, not
// just once at run start.
func (d *Dispatcher) waitForWindow(ctx context.Context, campaign store.Campaign) {
	now := d.Clock.Now()
	next, inWindow := nextWindowStart(now, *campaign.WindowStart, *campaign.WindowEnd)
	if inWindow {
		return
	}
	d.Clock.Sleep(ctx, next.Sub(now))
}

// nextWindowStart reports whether now falls inside [start, end] (both
// "HH:MM" UTC), and if not, the next wall-clock instant at which
// window_start occurs: tomorrow's if now is strictly after window_end,
// otherwise today's.
func nextWindowStart(now time.Time, start, end string) (time.Time, bool) {
	loc := now.Location()
	y, m, dom := now.Date()

	startT, errS := time.ParseInLocation("15:04", start, loc)
	endT, errE := time.ParseInLocation("15:04", end, loc)
	if errS != nil || errE != nil {
		return now, true // malformed window: treat as always-open rather than hang forever
	}

	todayStart := time.Date(y, m, dom, startT.Hour(), startT.Minute(), 0, 0, loc)
	todayEnd := time.Date(y, m, dom, endT.Hour(), endT.Minute(), 0, 0, loc)

	if !now.Before(todayStart) && !now.After(todayEnd) {
		return now, true
	}
	if now.After(todayEnd) {
		return todayStart.AddDate(0, 0, 1), false
	}
	return todayStart, false
}

// nextDevice advances the round-robin cursor over the currently active
// devices, ordered by id. It errors if there are none.
func (d *Dispatcher) nextDevice(ctx context.Context) (store.Device, error) {
	devices, err := d.Store.ListActiveDevices(ctx)
	if err != nil {
		return store.Device{}, err
	}
	if len(devices) == 0 {
		return store.Device{}, fmt.Errorf("dispatcher: no active devices")
	}
	device := devices[d.deviceCursor%len(devices)]
	d.deviceCursor++
	return device, nil
}

// waitForRateLimit sleeps until last_sent[deviceID] + 1/rateLimit, if that
// instant hasn't already passed.
func (d *Dispatcher) waitForRateLimit(ctx context.Context, deviceID int64, rateLimit float64, lastSent map[int64]time.Time) {
	last, ok := lastSent[deviceID]
	if !ok || rateLimit <= 0 {
		return
	}
	interval := time.Duration(float64(time.Second) / rateLimit)
	target := last.Add(interval)
	now := d.Clock.Now()
	if now.Before(target) {
		d.Clock.Sleep(ctx, target.Sub(now))
	}
}

func (d *Dispatcher) recordSuccess(ctx context.Context, campaign store.Campaign, contact store.Contact, device store.Device, refs []string) {
	ref := ""
	if len(refs) > 0 {
		ref = refs[0]
	}
	campaignID := campaign.ID
	_, err := d.Store.RecordAttempt(ctx, store.Attempt{
		CampaignID: &campaignID,
		ContactID:  contact.ID,
		DeviceID:   device.ID,
		Text:       campaign.Template,
		Ref:        ref,
		Status:     store.StatusSent,
	})
	if err != nil {
		d.Log.Error("recording sent attempt failed", "campaign", campaign.Name, "contact", contact.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, campaign store.Campaign, contact store.Contact, device store.Device, errorLine string) {
	campaignID := campaign.ID
	_, err := d.Store.RecordAttempt(ctx, store.Attempt{
		CampaignID: &campaignID,
		ContactID:  contact.ID,
		DeviceID:   device.ID,
		Text:       campaign.Template,
		Status:     store.StatusFailed,
		ErrorCode:  &errorLine,
	})
	if err != nil {
		d.Log.Error("recording failed attempt failed", "campaign", campaign.Name, "contact", contact.ID, "error", err)
	}
}
