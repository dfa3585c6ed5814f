// Package store defines the core's narrow persistence and domain-type
// surface. The core never holds process-wide collections; it is handed a
// Store at construction and talks to it exclusively through this
// interface.
package store

import (
	"context"
	"time"
)

// Status is an Attempt's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// Terminal reports whether the status is one the reconciler will never
// move on from (delivered, failed). Unknown is a non-terminal
// intermediate used for unrecognized status-report codes.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Contact is identified by MSISDN in E.164 form. It is created on first
// reference and never destroyed by the core; OptOut is a flag, not a
// deletion.
type Contact struct {
	ID      int64
	MSISDN  string
	OptOut  bool
	Created time.Time
}

// List is a named recipient set, populated via ListMembership.
type List struct {
	ID   int64
	Name string
}

// Device is a modem bound to a serial port path.
type Device struct {
	ID     int64
	Port   string
	Active bool
}

// Campaign is immutable after creation; the dispatcher only ever writes
// Attempts referencing it.
type Campaign struct {
	ID          int64
	Name        string
	Template    string
	ListID      int64
	StartTime   time.Time
	WindowStart *string // "HH:MM" UTC, both set or both nil with WindowEnd
	WindowEnd   *string
	RateLimit   float64 // messages per second per device
}

// HasWindow reports whether this campaign restricts sending to a daily
// wall-clock window.
func (c Campaign) HasWindow() bool {
	return c.WindowStart != nil && c.WindowEnd != nil
}

// Attempt is one per-recipient send record.
type Attempt struct {
	ID         int64
	CampaignID *int64
	ContactID  int64
	DeviceID   int64
	Text       string
	Ref        string // modem-assigned reference, canonical hex form
	Status     Status
	ErrorCode  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InboundRecord is an append-only log entry for a received message.
type InboundRecord struct {
	ID         int64
	MSISDN     string
	Text       string
	DeviceID   int64
	ReceivedAt time.Time
}

// Store is the core's persistence port. Implementations must serialize
// concurrent writers (the reference SQLite adapter does so via short-lived
// transactional sessions); the core issues no cross-call transactions of
// its own.
type Store interface {
	UpsertContactByMSISDN(ctx context.Context, msisdn string) (Contact, error)
	SetContactOptOut(ctx context.Context, contactID int64, optOut bool) error
	GetContact(ctx context.Context, contactID int64) (Contact, error)
	ListMembersFor(ctx context.Context, listID int64) ([]Contact, error)
	ListActiveDevices(ctx context.Context) ([]Device, error)
	RecordAttempt(ctx context.Context, a Attempt) (Attempt, error)
	FindAttemptByRef(ctx context.Context, ref string) (*Attempt, error)
	UpdateAttemptStatus(ctx context.Context, attemptID int64, status Status, errorCode *string) error
	AppendInbox(ctx context.Context, rec InboundRecord) error

	// PurgeAttemptsBefore deletes Attempts created before cutoff and
	// returns how many rows were removed.
	PurgeAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// PurgeInboxBefore deletes InboundRecords received before cutoff and
	// returns how many rows were removed.
	PurgeInboxBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
