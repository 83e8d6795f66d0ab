// Package ledger records certificate revocations per CA as an append-only
// log, allocates CRL sequence numbers, and keeps the most recently generated
// CRL for each CA.
//
// Revocation entries are never deleted. Unrevoking a serial stamps the
// active entry with an unrevoked-at time, so the full history of a serial
// stays queryable.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/flexiant/camanager/internal/util"
	"github.com/flexiant/camanager/internal/uuid"
	"github.com/flexiant/camanager/storage"
)

const (
	CollectionRevocations = "revocations"
	CollectionCRLNumbers  = "crl_numbers"
	CollectionCRLs        = "crls"
)

var (
	// ErrInvalidSerial is returned when a serial is not a non-negative
	// decimal (or 0x-prefixed hexadecimal) integer.
	ErrInvalidSerial = errors.New("invalid serial number")

	// ErrCANameRequired is returned when a ledger operation is called
	// without a CA name.
	ErrCANameRequired = errors.New("CA name is required")

	// ErrNoCRL is returned when no CRL has been stored for a CA yet.
	ErrNoCRL = errors.New("no CRL has been generated")
)

// Entry is a single revocation event for a (CA, serial) pair. An entry with
// a nil UnrevokedAt is active.
type Entry struct {
	ID          string `json:"id"`
	CAName      string `json:"ca_name"`
	Serial      string `json:"serial"`
	Reason      *int   `json:"reason"`
	RevokedAt   int64  `json:"revoked_at"`
	UnrevokedAt *int64 `json:"unrevoked_at"`
}

// Active reports whether the entry currently revokes its serial.
func (e *Entry) Active() bool {
	return e.UnrevokedAt == nil
}

// ReasonCode returns the CRL reason code, 0 (unspecified) when none was given.
func (e *Entry) ReasonCode() int {
	if e.Reason == nil {
		return 0
	}
	return *e.Reason
}

type crlNumber struct {
	CAName string `json:"ca_name"`
	Number int64  `json:"number"`
}

// StoredCRL is the latest CRL generated for a CA.
type StoredCRL struct {
	CAName    string    `json:"ca_name"`
	CRLPEM    string    `json:"crl_pem"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger is the revocation ledger and CRL sequence allocator. It is safe for
// concurrent use to the extent the underlying Repository is.
type Ledger struct {
	repo storage.Repository
	now  func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for unrevocation stamps and
// stored CRL timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns a Ledger that persists through repo.
func New(repo storage.Repository, opts ...Option) *Ledger {
	l := &Ledger{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NormalizeSerial returns the decimal string form of serial.
func NormalizeSerial(serial string) (string, error) {
	n, ok := util.ParseSerial(serial)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
	}
	return util.SerialString(n), nil
}

// pairPrefix is the id prefix shared by every entry of a (CA, serial) pair.
// Escaping keeps the separator out of CA names.
func pairPrefix(caName, serial string) string {
	return url.QueryEscape(caName) + "|" + serial + "|"
}

func caPrefix(caName string) string {
	return url.QueryEscape(caName) + "|"
}

// Revoke appends a new active entry for serial under caName. It does not
// check whether the serial is already revoked.
func (l *Ledger) Revoke(ctx context.Context, caName, serial string, reason *int, revokedAt int64) (*Entry, error) {
	if caName == "" {
		return nil, ErrCANameRequired
	}
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		ID:        pairPrefix(caName, serial) + uuid.New(),
		CAName:    caName,
		Serial:    serial,
		RevokedAt: revokedAt,
	}
	if reason != nil {
		r := *reason
		entry.Reason = &r
	}
	if err := l.put(ctx, entry); err != nil {
		return nil, fmt.Errorf("recording revocation of %s on %s: %w", serial, caName, err)
	}
	return entry, nil
}

// Unrevoke stamps every active entry for the pair with the current time.
// It is a no-op when the serial is not revoked.
func (l *Ledger) Unrevoke(ctx context.Context, caName, serial string) error {
	if caName == "" {
		return ErrCANameRequired
	}
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return err
	}
	entries, err := l.scan(ctx, pairPrefix(caName, serial))
	if err != nil {
		return err
	}
	ts := l.now().Unix()
	for _, e := range entries {
		if !e.Active() {
			continue
		}
		e.UnrevokedAt = &ts
		if err := l.put(ctx, e); err != nil {
			return fmt.Errorf("recording unrevocation of %s on %s: %w", serial, caName, err)
		}
	}
	return nil
}

// LoadActive returns the active entries of a CA ordered by revocation time.
func (l *Ledger) LoadActive(ctx context.Context, caName string) ([]*Entry, error) {
	entries, err := l.scan(ctx, caPrefix(caName))
	if err != nil {
		return nil, err
	}
	active := slices.DeleteFunc(entries, func(e *Entry) bool { return !e.Active() })
	slices.SortStableFunc(active, func(a, b *Entry) int {
		if a.RevokedAt != b.RevokedAt {
			if a.RevokedAt < b.RevokedAt {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return active, nil
}

// ActiveEntry returns the most recent active entry for the pair, or nil when
// the serial is not revoked.
func (l *Ledger) ActiveEntry(ctx context.Context, caName, serial string) (*Entry, error) {
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return nil, err
	}
	entries, err := l.scan(ctx, pairPrefix(caName, serial))
	if err != nil {
		return nil, err
	}
	var latest *Entry
	for _, e := range entries {
		if e.Active() && (latest == nil || e.RevokedAt >= latest.RevokedAt) {
			latest = e
		}
	}
	return latest, nil
}

// IsRevoked reports whether an active entry exists for the pair.
func (l *Ledger) IsRevoked(ctx context.Context, caName, serial string) (bool, error) {
	e, err := l.ActiveEntry(ctx, caName, serial)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

// History returns every entry recorded for the pair, active or not.
func (l *Ledger) History(ctx context.Context, caName, serial string) ([]*Entry, error) {
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return nil, err
	}
	entries, err := l.scan(ctx, pairPrefix(caName, serial))
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(entries, func(a, b *Entry) int {
		switch {
		case a.RevokedAt < b.RevokedAt:
			return -1
		case a.RevokedAt > b.RevokedAt:
			return 1
		}
		return 0
	})
	return entries, nil
}

// ReadSequence returns the last CRL number written for caName, or 0.
func (l *Ledger) ReadSequence(ctx context.Context, caName string) (int64, error) {
	doc, err := l.repo.Get(ctx, CollectionCRLNumbers, caName)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading CRL number for %s: %w", caName, err)
	}
	var n crlNumber
	if err := doc.Decode(&n); err != nil {
		return 0, fmt.Errorf("decoding CRL number for %s: %w", caName, err)
	}
	return n.Number, nil
}

// WriteSequence upserts the CRL number for caName. Callers are responsible
// for writing increasing values.
func (l *Ledger) WriteSequence(ctx context.Context, caName string, number int64) error {
	if caName == "" {
		return ErrCANameRequired
	}
	doc, err := storage.Encode(crlNumber{CAName: caName, Number: number}, 0)
	if err != nil {
		return err
	}
	if err := l.repo.Put(ctx, CollectionCRLNumbers, caName, doc); err != nil {
		return fmt.Errorf("writing CRL number for %s: %w", caName, err)
	}
	return nil
}

// StoreCRL replaces the stored CRL snapshot for caName.
func (l *Ledger) StoreCRL(ctx context.Context, caName string, crlPEM []byte) error {
	if caName == "" {
		return ErrCANameRequired
	}
	doc, err := storage.Encode(StoredCRL{
		CAName:    caName,
		CRLPEM:    string(crlPEM),
		UpdatedAt: l.now().UTC(),
	}, 0)
	if err != nil {
		return err
	}
	if err := l.repo.Put(ctx, CollectionCRLs, caName, doc); err != nil {
		return fmt.Errorf("storing CRL for %s: %w", caName, err)
	}
	return nil
}

// LoadCRL returns the stored CRL snapshot for caName, or ErrNoCRL.
func (l *Ledger) LoadCRL(ctx context.Context, caName string) (*StoredCRL, error) {
	doc, err := l.repo.Get(ctx, CollectionCRLs, caName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", caName, ErrNoCRL)
	}
	if err != nil {
		return nil, fmt.Errorf("loading CRL for %s: %w", caName, err)
	}
	var crl StoredCRL
	if err := doc.Decode(&crl); err != nil {
		return nil, fmt.Errorf("decoding CRL for %s: %w", caName, err)
	}
	return &crl, nil
}

func (l *Ledger) put(ctx context.Context, e *Entry) error {
	doc, err := storage.Encode(e, 0)
	if err != nil {
		return err
	}
	return l.repo.Put(ctx, CollectionRevocations, e.ID, doc)
}

// scan loads every revocation entry whose id starts with prefix.
func (l *Ledger) scan(ctx context.Context, prefix string) ([]*Entry, error) {
	ids, err := l.repo.List(ctx, CollectionRevocations)
	if err != nil {
		return nil, fmt.Errorf("listing revocations: %w", err)
	}
	var entries []*Entry
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		doc, err := l.repo.Get(ctx, CollectionRevocations, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading revocation %s: %w", id, err)
		}
		var e Entry
		if err := doc.Decode(&e); err != nil {
			return nil, fmt.Errorf("decoding revocation %s: %w", id, err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}
