package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestManager_StableWithinStore(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	first, err := m.GetOrCreateSessionID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := m.GetOrCreateSessionID(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestManager_ResetYieldsNewID(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore())

	first, err := m.GetOrCreateSessionID(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Reset(ctx))

	second, err := m.GetOrCreateSessionID(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestManager_SharedStoreAcrossManagers(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "storage.yaml"))

	id, err := NewManager(store).GetOrCreateSessionID(ctx)
	require.NoError(t, err)

	// a fresh manager over the same file behaves like a page reload
	again, err := NewManager(NewFileStore(store.Path())).GetOrCreateSessionID(ctx)
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestManager_CustomKeyAndGenerator(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, WithKey("custom"), WithIDGenerator(func() string { return "fixed-id" }))

	id, err := m.GetOrCreateSessionID(ctx)
	require.NoError(t, err)
	require.Equal(t, "fixed-id", id)

	v, err := store.Get(ctx, "custom")
	require.NoError(t, err)
	require.Equal(t, "fixed-id", v)

	_, err = store.Get(ctx, DefaultKey)
	require.True(t, errors.Is(err, ErrNotFound))
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("disk on fire")
}

func TestManager_StoreErrorSurfaces(t *testing.T) {
	m := NewManager(&failingStore{})
	_, err := m.GetOrCreateSessionID(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk on fire")
}

func TestFileStore_KeepsOtherKeys(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.yaml")
	store := NewFileStore(path)

	require.NoError(t, store.Set(ctx, "theme", "dark"))
	require.NoError(t, store.Set(ctx, DefaultKey, "abc"))
	require.NoError(t, store.Delete(ctx, DefaultKey))

	v, err := store.Get(ctx, "theme")
	require.NoError(t, err)
	require.Equal(t, "dark", v)

	_, err = store.Get(ctx, DefaultKey)
	require.True(t, errors.Is(err, ErrNotFound))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "theme: dark")
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- not\n- a map\n"), 0o600))

	_, err := NewFileStore(path).Get(context.Background(), DefaultKey)
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, addr, os.Getenv("REDIS_PASSWORD"))
	require.NoError(t, err)
	defer store.Close()

	key := "test-" + t.Name()
	require.NoError(t, store.Delete(ctx, key))

	m := NewManager(store, WithKey(key))
	first, err := m.GetOrCreateSessionID(ctx)
	require.NoError(t, err)
	second, err := m.GetOrCreateSessionID(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NoError(t, m.Reset(ctx))
}
