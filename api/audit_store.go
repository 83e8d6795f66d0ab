package api

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/flexiant/camanager/internal/uuid"
	"github.com/flexiant/camanager/storage"
)

const collectionAuditEvents = "audit_events"

type auditEntry struct {
	ID        string     `json:"id"`
	Event     AuditEvent `json:"event"`
	CA        string     `json:"ca,omitempty"`
	Serial    string     `json:"serial,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// auditStore keeps the audit trail in the document store. When maxAge or
// maxEntries is set, older entries are pruned after each append.
type auditStore struct {
	repo       storage.Repository
	maxAge     time.Duration
	maxEntries int
}

func (s *auditStore) append(ctx context.Context, event AuditEvent, ca, serial string, at time.Time) error {
	entry := auditEntry{
		ID:        uuid.New(),
		Event:     event,
		CA:        ca,
		Serial:    serial,
		CreatedAt: at,
	}
	doc, err := storage.Encode(entry, 1)
	if err != nil {
		return err
	}
	if err := s.repo.Put(ctx, collectionAuditEvents, entry.ID, doc); err != nil {
		return err
	}
	if s.maxAge > 0 || s.maxEntries > 0 {
		return s.prune(ctx, at)
	}
	return nil
}

// prune deletes entries older than maxAge and everything beyond the newest
// maxEntries.
func (s *auditStore) prune(ctx context.Context, now time.Time) error {
	entries, err := s.list(ctx, "")
	if err != nil {
		return err
	}
	for i, e := range entries {
		expired := s.maxAge > 0 && now.Sub(e.CreatedAt) > s.maxAge
		overflow := s.maxEntries > 0 && i >= s.maxEntries
		if !expired && !overflow {
			continue
		}
		if err := s.repo.Delete(ctx, collectionAuditEvents, e.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// list returns entries newest first, optionally limited to one CA.
func (s *auditStore) list(ctx context.Context, ca string) ([]auditEntry, error) {
	ids, err := s.repo.List(ctx, collectionAuditEvents)
	if err != nil {
		return nil, err
	}
	entries := make([]auditEntry, 0, len(ids))
	for _, id := range ids {
		doc, err := s.repo.Get(ctx, collectionAuditEvents, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var entry auditEntry
		if err := doc.Decode(&entry); err != nil {
			continue
		}
		if ca != "" && entry.CA != ca {
			continue
		}
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b auditEntry) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return entries, nil
}
