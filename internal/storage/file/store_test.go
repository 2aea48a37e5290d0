package file

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/storefront-session/internal/model"
	"github.com/dtroode/storefront-session/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "nested", "tokens.json"), testutil.MakeNoopLogger())
}

func TestStore_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)

	pair := model.TokenPair{Access: "access", Refresh: "refresh"}
	require.NoError(t, s.Save(ctx, pair))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, pair, got)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.Clear(ctx))
}

func TestStore_Load_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "empty file", content: "", wantErr: model.ErrNotFound},
		{name: "empty pair", content: `{"access":"","refresh":""}`, wantErr: model.ErrNotFound},
		{name: "corrupted", content: `{"access":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tokens.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := NewStore(path, testutil.MakeNoopLogger()).Load(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestStore_Save_Overwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, model.TokenPair{Access: "a1", Refresh: "r1"}))
	require.NoError(t, s.Save(ctx, model.TokenPair{Access: "a2", Refresh: "r1"}))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TokenPair{Access: "a2", Refresh: "r1"}, got)
}

func startWatch(t *testing.T, s *Store) *atomic.Int32 {
	t.Helper()

	var cleared atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Watch(ctx, func() { cleared.Add(1) })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	return &cleared
}

func TestStore_Watch_ExternalRemove(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), model.TokenPair{Access: "a", Refresh: "r"}))

	cleared := startWatch(t, s)

	require.NoError(t, os.Remove(s.Path()))

	require.Eventually(t, func() bool { return cleared.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStore_Watch_ExternalEmptyPair(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Save(context.Background(), model.TokenPair{Access: "a", Refresh: "r"}))

	cleared := startWatch(t, s)

	other := NewStore(s.Path(), testutil.MakeNoopLogger())
	require.NoError(t, other.Save(context.Background(), model.TokenPair{}))

	require.Eventually(t, func() bool { return cleared.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStore_Watch_IgnoresOwnChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Save(ctx, model.TokenPair{Access: "a", Refresh: "r"}))

	cleared := startWatch(t, s)

	require.NoError(t, s.Save(ctx, model.TokenPair{Access: "b", Refresh: "r"}))
	require.NoError(t, s.Clear(ctx))

	assert.Never(t, func() bool { return cleared.Load() > 0 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestStore_Save_FailedRenameKeepsState(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Path(), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(s.Path(), "keep"), nil, 0o600))

	err := s.Save(context.Background(), model.TokenPair{Access: "a", Refresh: "r"})
	require.Error(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.hasTokens)
}
