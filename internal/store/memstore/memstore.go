// Package memstore is an in-memory store.Store used by this repository's
// own tests, so the dispatcher, inbound handler and DLR reconciler can be
// exercised without a SQLite file on disk. It is not used by cmd/gateway.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Skunkworks-Digital/muxo/internal/pdu"
	"github.com/Skunkworks-Digital/muxo/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	nextContactID int64
	nextAttemptID int64

	contacts map[string]*store.Contact // by msisdn
	members  map[int64][]string        // listID -> msisdns, in insertion order
	devices  []store.Device
	attempts []*store.Attempt
	inbox    []store.InboundRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nextContactID: 1,
		nextAttemptID: 1,
		contacts:      make(map[string]*store.Contact),
		members:       make(map[int64][]string),
	}
}

// SeedList registers msisdns as members of listID, upserting Contacts as
// needed, preserving the order given.
func (s *Store) SeedList(listID int64, msisdns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msisdns {
		s.upsertLocked(m)
		s.members[listID] = append(s.members[listID], m)
	}
}

// SeedDevice registers an active or inactive device.
func (s *Store) SeedDevice(id int64, port string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, store.Device{ID: id, Port: port, Active: active})
}

func (s *Store) upsertLocked(msisdn string) store.Contact {
	if c, ok := s.contacts[msisdn]; ok {
		return *c
	}
	c := &store.Contact{ID: s.nextContactID, MSISDN: msisdn}
	s.nextContactID++
	s.contacts[msisdn] = c
	return *c
}

func (s *Store) UpsertContactByMSISDN(ctx context.Context, msisdn string) (store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(msisdn), nil
}

func (s *Store) SetContactOptOut(ctx context.Context, contactID int64, optOut bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.ID == contactID {
			c.OptOut = optOut
			return nil
		}
	}
	return nil
}

func (s *Store) GetContact(ctx context.Context, contactID int64) (store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.ID == contactID {
			return *c, nil
		}
	}
	return store.Contact{}, fmt.Errorf("memstore: no contact with id %d", contactID)
}

func (s *Store) ListMembersFor(ctx context.Context, listID int64) ([]store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Contact
	for _, msisdn := range s.members[listID] {
		out = append(out, *s.contacts[msisdn])
	}
	return out, nil
}

func (s *Store) ListActiveDevices(ctx context.Context) ([]store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Device
	for _, d := range s.devices {
		if d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) RecordAttempt(ctx context.Context, a store.Attempt) (store.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextAttemptID
	s.nextAttemptID++
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := a
	s.attempts = append(s.attempts, &cp)
	return a, nil
}

func (s *Store) FindAttemptByRef(ctx context.Context, ref string) (*store.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.attempts) - 1; i >= 0; i-- {
		if pdu.RefsEqual(s.attempts[i].Ref, ref) {
			cp := *s.attempts[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateAttemptStatus(ctx context.Context, attemptID int64, status store.Status, errorCode *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ID == attemptID {
			a.Status = status
			a.ErrorCode = errorCode
			return nil
		}
	}
	return nil
}

func (s *Store) AppendInbox(ctx context.Context, rec store.InboundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ReceivedAt = time.Now().UTC()
	s.inbox = append(s.inbox, rec)
	return nil
}

// PurgeAttemptsBefore deletes Attempts whose CreatedAt precedes cutoff.
func (s *Store) PurgeAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.attempts[:0]
	var removed int64
	for _, a := range s.attempts {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return removed, nil
}

// PurgeInboxBefore deletes InboundRecords whose ReceivedAt precedes cutoff.
func (s *Store) PurgeInboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.inbox[:0]
	var removed int64
	for _, rec := range s.inbox {
		if rec.ReceivedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.inbox = kept
	return removed, nil
}

// Inbox returns a snapshot of appended inbound records, for test
// assertions.
func (s *Store) Inbox() []store.InboundRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.InboundRecord, len(s.inbox))
	copy(out, s.inbox)
	return out
}

// Contact returns the current state of a contact by MSISDN, for test
// assertions.
func (s *Store) Contact(msisdn string) (store.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[msisdn]
	if !ok {
		return store.Contact{}, false
	}
	return *c, true
}

// Attempts returns a snapshot of all recorded attempts, for test
// assertions.
func (s *Store) Attempts() []store.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Attempt, len(s.attempts))
	for i, a := range s.attempts {
		out[i] = *a
	}
	return out
}
