package artifact

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestStorePutAndValidate(t *testing.T) {
	store := newTestStore(t)

	art, err := store.Put(ScopeDatabase, "sales", strings.NewReader("CREATE TABLE orders (id int);"))
	require.NoError(t, err)
	require.NotNil(t, art)

	assert.Equal(t, ScopeDatabase, art.Scope)
	assert.Equal(t, "sales", art.TargetName)
	assert.Greater(t, art.SizeBytes, int64(0))
	assert.FileExists(t, art.Path)

	// The write must be atomic: no temp file left behind.
	entries, err := os.ReadDir(filepath.Dir(art.Path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}

	assert.Equal(t, IntegrityValid, store.Validate(art))

	// Round trip the content through Open.
	rc, err := store.Open(art)
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE orders (id int);", string(content))
}

func TestStorePutRequiresTargetForDatabaseScope(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put(ScopeDatabase, "", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindValidation))
}

func TestStoreValidateDetectsCorruption(t *testing.T) {
	store := newTestStore(t)

	art, err := store.Put(ScopeCluster, "", strings.NewReader("-- cluster dump"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		corrupt func(t *testing.T, path string)
	}{
		{
			name: "truncated file",
			corrupt: func(t *testing.T, path string) {
				info, err := os.Stat(path)
				require.NoError(t, err)
				require.NoError(t, os.Truncate(path, info.Size()-4))
			},
		},
		{
			name: "not gzip at all",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, []byte("plain text"), 0640))
			},
		},
		{
			name: "missing file",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.Remove(path))
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Distinct timestamps keep the file names unique across subtests.
			at := time.Date(2024, 2, 1, 0, 0, i, 0, time.Local)
			store.now = func() time.Time { return at }
			fresh, err := store.Put(ScopeDatabase, "victim", strings.NewReader("data"))
			require.NoError(t, err)
			require.Equal(t, IntegrityValid, store.Validate(fresh))

			tt.corrupt(t, fresh.Path)
			assert.Equal(t, IntegrityCorrupt, store.Validate(fresh))
		})
	}

	// The untouched artifact is still valid.
	assert.Equal(t, IntegrityValid, store.Validate(art))
}

func TestStoreListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	times := []time.Time{
		time.Date(2024, 1, 1, 2, 0, 0, 0, time.Local),
		time.Date(2024, 1, 3, 2, 0, 0, 0, time.Local),
		time.Date(2024, 1, 2, 2, 0, 0, 0, time.Local),
	}
	for _, at := range times {
		at := at
		store.now = func() time.Time { return at }
		_, err := store.Put(ScopeDatabase, "sales", strings.NewReader("data"))
		require.NoError(t, err)
	}

	// An out-of-convention file must not surface in listings.
	require.NoError(t, os.WriteFile(filepath.Join(store.dir(ScopeDatabase), "notes.txt"), []byte("x"), 0640))

	artifacts, err := store.List(ScopeDatabase, "")
	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	assert.True(t, artifacts[0].CreatedAt.After(artifacts[1].CreatedAt))
	assert.True(t, artifacts[1].CreatedAt.After(artifacts[2].CreatedAt))

	latest, err := store.Latest(ScopeDatabase, "sales")
	require.NoError(t, err)
	assert.Equal(t, artifacts[0].Path, latest.Path)
}

func TestStoreListFiltersByTarget(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	for i, target := range []string{"sales", "inventory", "sales"} {
		at := base.Add(time.Duration(i) * time.Minute)
		store.now = func() time.Time { return at }
		_, err := store.Put(ScopeDatabase, target, strings.NewReader("data"))
		require.NoError(t, err)
	}

	sales, err := store.List(ScopeDatabase, "sales")
	require.NoError(t, err)
	assert.Len(t, sales, 2)
	for _, a := range sales {
		assert.Equal(t, "sales", a.TargetName)
	}

	_, err = store.Latest(ScopeDatabase, "missing")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindNotFound))
}

func TestStorePruneNeverDeletesNewest(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.Local)

	// Every artifact is far older than any plausible retention window.
	ages := []time.Duration{400 * 24 * time.Hour, 300 * 24 * time.Hour, 200 * 24 * time.Hour}
	for _, age := range ages {
		at := now.Add(-age)
		store.now = func() time.Time { return at }
		_, err := store.Put(ScopeCluster, "", strings.NewReader("data"))
		require.NoError(t, err)
	}
	store.now = func() time.Time { return now }

	for _, maxAgeDays := range []int{0, 1, 7, 100} {
		deleted, err := store.Prune(ScopeCluster, maxAgeDays, true)
		require.NoError(t, err)
		assert.LessOrEqual(t, deleted, 2, "max-age-days=%d would delete the newest artifact", maxAgeDays)
	}

	deleted, err := store.Prune(ScopeCluster, 7, false)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := store.List(ScopeCluster, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, now.Add(-200*24*time.Hour), remaining[0].CreatedAt)
}

func TestStorePruneKeepsYoungArtifacts(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.Local)

	for _, age := range []time.Duration{48 * time.Hour, 24 * time.Hour, time.Hour} {
		at := now.Add(-age)
		store.now = func() time.Time { return at }
		_, err := store.Put(ScopeDatabase, "sales", strings.NewReader("data"))
		require.NoError(t, err)
	}
	store.now = func() time.Time { return now }

	deleted, err := store.Prune(ScopeDatabase, 7, false)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = store.Prune(ScopeDatabase, -1, false)
	require.Error(t, err)
	assert.Zero(t, deleted)
}

func TestStoreResolve(t *testing.T) {
	store := newTestStore(t)

	art, err := store.Put(ScopeDatabase, "sales", strings.NewReader("data"))
	require.NoError(t, err)

	resolved, err := store.Resolve(art.Path)
	require.NoError(t, err)
	assert.Equal(t, ScopeDatabase, resolved.Scope)
	assert.Equal(t, "sales", resolved.TargetName)
	assert.Equal(t, art.SizeBytes, resolved.SizeBytes)

	_, err = store.Resolve(filepath.Join(store.BaseDir(), "missing.sql.gz"))
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrorKindNotFound))

	// Out-of-convention files still resolve with metadata from the file.
	loose := filepath.Join(t.TempDir(), "handmade.sql.gz")
	require.NoError(t, os.WriteFile(loose, []byte("x"), 0640))
	resolved, err = store.Resolve(loose)
	require.NoError(t, err)
	assert.Empty(t, resolved.TargetName)
	assert.Equal(t, int64(1), resolved.SizeBytes)
}
