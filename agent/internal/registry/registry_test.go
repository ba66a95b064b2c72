package registry

import (
	"context"
	"errors"
	"testing"

	"callwatch/agent/database"
	"callwatch/agent/internal/models"
	"callwatch/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return database.NewStore(db)
}

func newTestRegistry(t *testing.T, store Store) *Registry {
	return New(store, logger.FromZap(zaptest.NewLogger(t)))
}

func TestRegistryAddRemove(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newTestStore(t))

	require.NoError(t, r.Add(ctx, models.TargetChat, -100, ""))
	require.NoError(t, r.Add(ctx, models.TargetChat, -300, ""))
	require.NoError(t, r.Add(ctx, models.TargetChat, -200, ""))
	assert.True(t, r.Has(models.TargetChat, -100))
	assert.False(t, r.Has(models.TargetUser, -100))
	assert.Equal(t, []int64{-300, -200, -100}, r.IDs(models.TargetChat))

	require.NoError(t, r.Remove(ctx, models.TargetChat, -100))
	assert.False(t, r.Has(models.TargetChat, -100))
	assert.Equal(t, 2, r.Len(models.TargetChat))

	require.NoError(t, r.Remove(ctx, models.TargetChat, -999))
}

func TestRegistryLabelsReplace(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newTestStore(t))

	require.NoError(t, r.Add(ctx, models.TargetAssignment, -100, "bot_1"))
	require.NoError(t, r.Add(ctx, models.TargetAssignment, -100, "bot_2"))
	require.NoError(t, r.Add(ctx, models.TargetAssignment, -50, "bot_1"))

	label, ok := r.Label(models.TargetAssignment, -100)
	assert.True(t, ok)
	assert.Equal(t, "bot_2", label)
	assert.Equal(t, []Entry{{ID: -100, Label: "bot_2"}, {ID: -50, Label: "bot_1"}}, r.Entries(models.TargetAssignment))

	_, ok = r.Label(models.TargetCaller, -100)
	assert.False(t, ok)
}

func TestRegistryLoadRestoresAndSeedsAdmins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := newTestRegistry(t, store)
	require.NoError(t, first.Add(ctx, models.TargetUser, 7, ""))
	require.NoError(t, first.Add(ctx, models.TargetCaller, -100, "Whale"))

	second := newTestRegistry(t, store)
	require.NoError(t, second.Load(ctx, []int64{1, 2}))
	assert.True(t, second.Has(models.TargetUser, 7))
	label, _ := second.Label(models.TargetCaller, -100)
	assert.Equal(t, "Whale", label)
	assert.True(t, second.IsAdmin(1))
	assert.True(t, second.IsAdmin(2))
	assert.False(t, second.IsAdmin(7))

	targets, err := store.ListTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 4)

	// Loading again does not duplicate seed admins.
	require.NoError(t, second.Load(ctx, []int64{1}))
	targets, err = store.ListTargets(ctx)
	require.NoError(t, err)
	assert.Len(t, targets, 4)
}

func TestRegistryShouldMonitor(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, newTestStore(t))
	require.NoError(t, r.Add(ctx, models.TargetChat, -100, ""))
	require.NoError(t, r.Add(ctx, models.TargetChannel, -200, ""))
	require.NoError(t, r.Add(ctx, models.TargetUser, 7, ""))

	assert.True(t, r.ShouldMonitor(-100, 1))
	assert.True(t, r.ShouldMonitor(-200, 0))
	assert.True(t, r.ShouldMonitor(-300, 7))
	assert.False(t, r.ShouldMonitor(-300, 1))
	assert.False(t, r.ShouldMonitor(-300, 0))
}

type brokenStore struct{}

func (brokenStore) ListTargets(context.Context) ([]models.Target, error) {
	return nil, errors.New("db down")
}
func (brokenStore) UpsertTarget(context.Context, *models.Target) error { return errors.New("db down") }
func (brokenStore) DeleteTarget(context.Context, models.TargetKind, int64) error {
	return errors.New("db down")
}

func TestRegistryStoreFailureLeavesMemoryUntouched(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, brokenStore{})

	assert.Error(t, r.Load(ctx, nil))
	assert.Error(t, r.Add(ctx, models.TargetChat, -100, ""))
	assert.False(t, r.Has(models.TargetChat, -100))
}
