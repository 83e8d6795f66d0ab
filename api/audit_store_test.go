package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexiant/camanager/storage/memory"
)

func TestAuditStoreListOrderAndFilter(t *testing.T) {
	ctx := t.Context()
	s := &auditStore{repo: memory.NewRepository()}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.append(ctx, AuditCertIssued, "root", "1", base))
	require.NoError(t, s.append(ctx, AuditCertRevoked, "root", "1", base.Add(time.Minute)))
	require.NoError(t, s.append(ctx, AuditCACreated, "sub", "", base.Add(2*time.Minute)))

	all, err := s.list(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, AuditCACreated, all[0].Event)
	assert.Equal(t, AuditCertIssued, all[2].Event)

	root, err := s.list(ctx, "root")
	require.NoError(t, err)
	require.Len(t, root, 2)
	assert.Equal(t, AuditCertRevoked, root[0].Event)
	assert.Equal(t, "1", root[0].Serial)
}

func TestAuditStoreRetentionByCount(t *testing.T) {
	ctx := t.Context()
	s := &auditStore{repo: memory.NewRepository(), maxEntries: 2}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		require.NoError(t, s.append(ctx, AuditCertIssued, "root", "", base.Add(time.Duration(i)*time.Second)))
	}
	entries, err := s.list(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].CreatedAt.Equal(base.Add(4*time.Second)))
	assert.True(t, entries[1].CreatedAt.Equal(base.Add(3*time.Second)))
}

func TestAuditStoreRetentionByAge(t *testing.T) {
	ctx := t.Context()
	s := &auditStore{repo: memory.NewRepository(), maxAge: time.Hour}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.append(ctx, AuditCertIssued, "root", "", base))
	require.NoError(t, s.append(ctx, AuditCertIssued, "root", "", base.Add(30*time.Minute)))
	require.NoError(t, s.append(ctx, AuditCertIssued, "root", "", base.Add(2*time.Hour)))

	entries, err := s.list(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CreatedAt.Equal(base.Add(2*time.Hour)))
}
