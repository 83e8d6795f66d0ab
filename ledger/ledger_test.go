package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexiant/camanager/ledger"
	"github.com/flexiant/camanager/storage/memory"
)

func intPtr(i int) *int { return &i }

func newLedger(t *testing.T) (*ledger.Ledger, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	clock := time.Unix(1_700_000_000, 0)
	return ledger.New(repo, ledger.WithClock(func() time.Time { return clock })), repo
}

func TestRevokeUnrevoke(t *testing.T) {
	ctx := t.Context()

	for _, reason := range []*int{nil, intPtr(0), intPtr(1), intPtr(4)} {
		l, _ := newLedger(t)

		revoked, err := l.IsRevoked(ctx, "root", "123")
		require.NoError(t, err)
		assert.False(t, revoked)

		_, err = l.Revoke(ctx, "root", "123", reason, 1000)
		require.NoError(t, err)

		revoked, err = l.IsRevoked(ctx, "root", "123")
		require.NoError(t, err)
		assert.True(t, revoked)

		require.NoError(t, l.Unrevoke(ctx, "root", "123"))

		revoked, err = l.IsRevoked(ctx, "root", "123")
		require.NoError(t, err)
		assert.False(t, revoked)
	}
}

func TestRevokeScopedToCA(t *testing.T) {
	ctx := t.Context()
	l, _ := newLedger(t)

	_, err := l.Revoke(ctx, "root", "7", nil, 1)
	require.NoError(t, err)

	revoked, err := l.IsRevoked(ctx, "other", "7")
	require.NoError(t, err)
	assert.False(t, revoked)

	// A CA name that is a prefix of another must not match it.
	_, err = l.Revoke(ctx, "ro", "8", nil, 1)
	require.NoError(t, err)
	active, err := l.LoadActive(ctx, "root")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "7", active[0].Serial)
}

func TestSerialNormalization(t *testing.T) {
	ctx := t.Context()
	l, _ := newLedger(t)

	_, err := l.Revoke(ctx, "root", "0xff", nil, 1)
	require.NoError(t, err)

	revoked, err := l.IsRevoked(ctx, "root", "255")
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = l.Revoke(ctx, "root", "not-a-serial", nil, 1)
	assert.ErrorIs(t, err, ledger.ErrInvalidSerial)

	_, err = l.Revoke(ctx, "", "1", nil, 1)
	assert.ErrorIs(t, err, ledger.ErrCANameRequired)
}

func TestUnrevokeWithoutEntryIsNoop(t *testing.T) {
	ctx := t.Context()
	l, repo := newLedger(t)

	require.NoError(t, l.Unrevoke(ctx, "root", "99"))

	ids, err := repo.List(ctx, ledger.CollectionRevocations)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHistoryIsRetained(t *testing.T) {
	ctx := t.Context()
	l, _ := newLedger(t)

	_, err := l.Revoke(ctx, "root", "5", intPtr(1), 100)
	require.NoError(t, err)
	require.NoError(t, l.Unrevoke(ctx, "root", "5"))
	_, err = l.Revoke(ctx, "root", "5", intPtr(4), 200)
	require.NoError(t, err)

	history, err := l.History(ctx, "root", "5")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Active())
	require.NotNil(t, history[0].UnrevokedAt)
	assert.Equal(t, int64(1_700_000_000), *history[0].UnrevokedAt)
	assert.True(t, history[1].Active())
	assert.Equal(t, 4, history[1].ReasonCode())
}

func TestUnrevokeClosesDuplicateEntries(t *testing.T) {
	ctx := t.Context()
	l, _ := newLedger(t)

	_, err := l.Revoke(ctx, "root", "5", nil, 100)
	require.NoError(t, err)
	_, err = l.Revoke(ctx, "root", "5", intPtr(1), 101)
	require.NoError(t, err)

	entry, err := l.ActiveEntry(ctx, "root", "5")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(101), entry.RevokedAt)

	require.NoError(t, l.Unrevoke(ctx, "root", "5"))
	revoked, err := l.IsRevoked(ctx, "root", "5")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestLoadActive(t *testing.T) {
	ctx := t.Context()
	l, _ := newLedger(t)

	_, err := l.Revoke(ctx, "root", "3", nil, 300)
	require.NoError(t, err)
	_, err = l.Revoke(ctx, "root", "1", intPtr(1), 100)
	require.NoError(t, err)
	_, err = l.Revoke(ctx, "root", "2", nil, 200)
	require.NoError(t, err)
	require.NoError(t, l.Unrevoke(ctx, "root", "2"))

	active, err := l.LoadActive(ctx, "root")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "1", active[0].Serial)
	assert.Equal(t, "3", active[1].Serial)
	assert.Equal(t, 1, active[0].ReasonCode())
	assert.Nil(t, active[1].Reason)
}

func TestSequence(t *testing.T) {
	ctx := t.Context()
	l, repo := newLedger(t)

	n, err := l.ReadSequence(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, l.WriteSequence(ctx, "root", 5))
	n, err = l.ReadSequence(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	require.NoError(t, l.WriteSequence(ctx, "root", 6))
	n, err = l.ReadSequence(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	ids, err := repo.List(ctx, ledger.CollectionCRLNumbers)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, ids)
}

func TestStoredCRL(t *testing.T) {
	ctx := t.Context()
	l, _ := newLedger(t)

	_, err := l.LoadCRL(ctx, "root")
	assert.ErrorIs(t, err, ledger.ErrNoCRL)

	require.NoError(t, l.StoreCRL(ctx, "root", []byte("first")))
	require.NoError(t, l.StoreCRL(ctx, "root", []byte("second")))

	crl, err := l.LoadCRL(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, "second", crl.CRLPEM)
	assert.Equal(t, "root", crl.CAName)
}
