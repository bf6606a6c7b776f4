package ml

import (
	"testing"
	"time"

	"court-pricer/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, dir string) *storage.Store {
	t.Helper()
	store, err := storage.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// modelAt returns a shallow copy of the shared model registered under a new identity.
func modelAt(t *testing.T, id string, createdAt time.Time) *TrainedModel {
	t.Helper()
	m := *trainedModel(t)
	m.ID = id
	m.CreatedAt = createdAt
	return &m
}

func TestModelManager_AddActivateRollback(t *testing.T) {
	mm, err := NewModelManager(openStore(t, t.TempDir()))
	require.NoError(t, err)
	assert.Nil(t, mm.GetCurrentVersion())
	_, err = mm.LoadActive()
	assert.ErrorIs(t, err, ErrNoModel)

	older := modelAt(t, "aaaaaaaa-1111", testNow)
	newer := modelAt(t, "bbbbbbbb-2222", testNow.Add(time.Hour))

	v1, err := mm.AddVersion(older)
	require.NoError(t, err)
	assert.Equal(t, "20250601-120000-aaaaaaaa", v1.Version)
	assert.False(t, v1.IsActive)
	assert.Equal(t, 400, v1.Metrics.TrainingSamples)
	assert.Equal(t, "path", v1.Metrics.ExplainMethod)

	v2, err := mm.AddVersion(newer)
	require.NoError(t, err)

	versions := mm.ListVersions()
	require.Len(t, versions, 2)
	assert.Equal(t, v2.Version, versions[0].Version)
	assert.Equal(t, v1.Version, versions[1].Version)

	require.NoError(t, mm.ActivateVersion(v2.Version))
	require.NotNil(t, mm.GetCurrentVersion())
	assert.Equal(t, v2.Version, mm.GetCurrentVersion().Version)

	active, err := mm.LoadActive()
	require.NoError(t, err)
	assert.Equal(t, newer.ID, active.ID)

	rolled, err := mm.Rollback()
	require.NoError(t, err)
	assert.Equal(t, v1.Version, rolled.Version)
	assert.True(t, rolled.IsActive)

	_, err = mm.Rollback()
	assert.Error(t, err)

	assert.Error(t, mm.ActivateVersion("missing"))
	_, err = mm.Load("missing")
	assert.Error(t, err)
}

func TestModelManager_Persistence(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.New(dir)
	require.NoError(t, err)

	mm, err := NewModelManager(store)
	require.NoError(t, err)
	v, err := mm.AddVersion(modelAt(t, "cccccccc-3333", testNow))
	require.NoError(t, err)
	require.NoError(t, mm.ActivateVersion(v.Version))
	require.NoError(t, store.Close())

	reopened, err := NewModelManager(openStore(t, dir))
	require.NoError(t, err)
	current := reopened.GetCurrentVersion()
	require.NotNil(t, current)
	assert.Equal(t, v.Version, current.Version)

	m, err := reopened.LoadActive()
	require.NoError(t, err)
	want, _ := trainedModel(t).Predict(cheapBooking())
	got, err := m.Predict(cheapBooking())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestModelManager_RollbackWithoutHistory(t *testing.T) {
	mm, err := NewModelManager(openStore(t, t.TempDir()))
	require.NoError(t, err)

	_, err = mm.Rollback()
	assert.Error(t, err)

	v, err := mm.AddVersion(modelAt(t, "dddddddd", testNow))
	require.NoError(t, err)
	require.NoError(t, mm.ActivateVersion(v.Version))
	_, err = mm.Rollback()
	assert.Error(t, err)
}
