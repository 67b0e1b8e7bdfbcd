package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func appendEvent(t *testing.T, store *AuditStore, kind, name, outcome string, at time.Time) *AuditEventRecord {
	t.Helper()
	ev := &AuditEventRecord{
		ID:        uuid.New().String(),
		Kind:      kind,
		Name:      name,
		Outcome:   outcome,
		CreatedAt: at,
	}
	require.NoError(t, store.Append(context.Background(), ev))
	return ev
}

func TestAuditStore_AppendAndGet(t *testing.T) {
	store := NewAuditStore(newTestDB(t))
	ctx := context.Background()

	ev := &AuditEventRecord{
		ID:            uuid.New().String(),
		Kind:          "version",
		Name:          "sample.top",
		Version:       "0.0.3",
		Namespace:     "sample",
		Outcome:       OutcomeSuccess,
		Latest:        true,
		CreatedAt:     time.Now().UTC(),
		EventMetadata: JSONAny{"state": "committed"},
	}
	require.NoError(t, store.Append(ctx, ev))

	got, err := store.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sample.top", got.Name)
	assert.True(t, got.Latest)
	assert.Equal(t, "committed", got.EventMetadata["state"])

	missing, err := store.GetByID(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = store.Append(ctx, ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append audit event")
}

func TestAuditStore_ListFilteredPaginates(t *testing.T) {
	store := NewAuditStore(newTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		appendEvent(t, store, "version", fmt.Sprintf("sample.e%d", i), OutcomeSuccess, base.Add(time.Duration(i)*time.Minute))
	}
	appendEvent(t, store, "namespace", "sample", OutcomeDenied, base.Add(time.Hour))

	page, next, total, err := store.ListFiltered(ctx, ListFilter{Kind: "version"}, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "sample.e4", page[0].Name)
	assert.Equal(t, "sample.e3", page[1].Name)
	require.NotEmpty(t, next)

	page, next, _, err = store.ListFiltered(ctx, ListFilter{Kind: "version"}, 2, next)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "sample.e2", page[0].Name)
	require.NotEmpty(t, next)

	page, next, _, err = store.ListFiltered(ctx, ListFilter{Kind: "version"}, 2, next)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Empty(t, next)

	denied, _, total, err := store.ListFiltered(ctx, ListFilter{Outcome: OutcomeDenied}, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "namespace", denied[0].Kind)

	_, _, _, err = store.ListFiltered(ctx, ListFilter{}, 10, "yesterday")
	assert.Error(t, err)
}

func TestAuditStore_DeleteOlderThan(t *testing.T) {
	store := NewAuditStore(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	appendEvent(t, store, "version", "old", OutcomeSuccess, now.Add(-100*24*time.Hour))
	kept := appendEvent(t, store, "version", "new", OutcomeSuccess, now.Add(-time.Hour))

	deleted, err := store.DeleteOlderThan(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := store.GetByID(ctx, kept.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
