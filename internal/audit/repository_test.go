package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pdu/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-pdu/migrations"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	_, err = db.Migrate(context.Background(), migrations.FS)
	require.NoError(t, err)
	return NewSQLiteRepository(db.DB)
}

func TestCreate_FillsDefaults(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	e := &Entry{
		Action:     ActionSwitch,
		EntityType: EntityOutlet,
		EntityID:   "outlet-1",
		Actor:      "ops",
		Source:     SourceAPI,
		Outcome:    OutcomeAccepted,
		Details:    map[string]any{"on": true},
	}
	require.NoError(t, repo.Create(ctx, e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)

	got := res.Entries[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "ops", got.Actor)
	assert.Equal(t, OutcomeAccepted, got.Outcome)
	assert.Equal(t, true, got.Details["on"])
	assert.True(t, got.CreatedAt.Equal(e.CreatedAt))
}

func TestCreate_OptionalFieldsEmpty(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &Entry{
		Action:     ActionDiscovery,
		EntityType: EntityBridge,
		Source:     SourceAPI,
		Outcome:    OutcomeFailed,
	}))

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Empty(t, res.Entries[0].EntityID)
	assert.Empty(t, res.Entries[0].Actor)
	assert.Nil(t, res.Entries[0].Details)
}

func TestList_FilterAndPaging(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		source := SourceAPI
		if i%2 == 1 {
			source = SourceMQTT
		}
		require.NoError(t, repo.Create(ctx, &Entry{
			Action:     ActionSwitch,
			EntityType: EntityOutlet,
			EntityID:   "outlet-1",
			Source:     source,
			Outcome:    OutcomeAccepted,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Create(ctx, &Entry{
		Action:     ActionDiscovery,
		EntityType: EntityBridge,
		Source:     SourceAPI,
		Outcome:    OutcomeAccepted,
		CreatedAt:  base.Add(time.Hour),
	}))

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 6, all.Total)
	assert.Equal(t, ActionDiscovery, all.Entries[0].Action, "most recent first")

	mqtt, err := repo.List(ctx, Filter{Source: SourceMQTT})
	require.NoError(t, err)
	assert.Equal(t, 2, mqtt.Total)

	page, err := repo.List(ctx, Filter{EntityID: "outlet-1", Action: ActionSwitch, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Entries, 2)
	assert.True(t, page.Entries[0].CreatedAt.Equal(base.Add(2*time.Minute)))
}

func TestList_LimitClamped(t *testing.T) {
	repo := openTestRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, maxLimit, res.Limit)
	assert.Equal(t, 0, res.Offset)
	assert.NotNil(t, res.Entries)

	res, err = repo.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, defaultLimit, res.Limit)
}

func TestPrune(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []time.Duration{48 * time.Hour, 36 * time.Hour, time.Hour} {
		require.NoError(t, repo.Create(ctx, &Entry{
			Action:     ActionSwitch,
			EntityType: EntityOutlet,
			Source:     SourceMQTT,
			Outcome:    OutcomeAccepted,
			CreatedAt:  now.Add(-age),
		}))
	}

	n, err := repo.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}
