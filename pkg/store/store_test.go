package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/autodoctor/pkg/knowledge"
)

var _ knowledge.CorrectionSource = (*Store)(nil)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "autodoctor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLearnedValues(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Learn(LearnedValue{Domain: "vacuum", Integration: "roborock", Value: "segment_cleaning"}))
	require.NoError(t, s.Learn(LearnedValue{Domain: "vacuum", Value: "docked_charging"}))
	require.NoError(t, s.Learn(LearnedValue{Domain: "vacuum", Integration: "ecovacs", Value: "returning_home"}))
	// idempotent
	require.NoError(t, s.Learn(LearnedValue{Domain: "vacuum", Value: "docked_charging"}))

	got, err := s.LearnedValues("vacuum", "roborock")
	require.NoError(t, err)
	assert.Equal(t, []string{"docked_charging", "segment_cleaning"}, got)

	got, err = s.LearnedValues("vacuum", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"docked_charging"}, got)

	all, err := s.Learned()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.Forget(LearnedValue{Domain: "vacuum", Value: "docked_charging"}))
	err = s.Forget(LearnedValue{Domain: "vacuum", Value: "docked_charging"})
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, s.Learn(LearnedValue{Domain: "vacuum"}))
}

func TestSuppressions(t *testing.T) {
	s := openTemp(t)
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	require.NoError(t, s.Suppress("a1:light.x:entity_not_found", "light is on a smart plug"))
	clock = clock.Add(time.Minute)
	require.NoError(t, s.Suppress("conflict:a:b:light.hall", ""))
	require.NoError(t, s.Suppress("a1:light.x:entity_not_found", "updated"))

	sup, err := s.Suppression("a1:light.x:entity_not_found")
	require.NoError(t, err)
	assert.Equal(t, "updated", sup.Reason)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), sup.CreatedAt)

	all, err := s.Suppressions()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a1:light.x:entity_not_found", all[0].Key)

	keys, err := s.SuppressedKeys()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{
		"a1:light.x:entity_not_found": true,
		"conflict:a:b:light.hall":     true,
	}, keys)

	require.NoError(t, s.Unsuppress("conflict:a:b:light.hall"))
	assert.ErrorIs(t, s.Unsuppress("conflict:a:b:light.hall"), ErrNotFound)
	_, err = s.Suppression("conflict:a:b:light.hall")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Suppress("", "no key"))
}

func TestOpen_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autodoctor.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Suppress("k", ""))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())
	_, err = s.Suppression("k")
	assert.NoError(t, err)

	_, err = Open("")
	assert.Error(t, err)
}
