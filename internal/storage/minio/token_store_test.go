package minio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/storefront-session/internal/model"
)

func newTestTokenStore(t *testing.T) (*TokenStore, *fakeMinio) {
	t.Helper()

	api := newFakeMinio()
	c, err := newClient(context.Background(), api, "storefront-sessions")
	require.NoError(t, err)

	return NewTokenStore(c, "sessions", "s1"), api
}

func TestTokenStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, api := newTestTokenStore(t)

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)

	pair := model.TokenPair{Access: "a", Refresh: "r"}
	require.NoError(t, s.Save(ctx, pair))
	assert.JSONEq(t, `{"access":"a","refresh":"r"}`, string(api.objects["storefront-sessions/sessions/s1.json"]))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, pair, got)

	require.NoError(t, s.Clear(ctx))
	_, err = s.Load(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.Clear(ctx))
}

func TestTokenStore_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("corrupted object", func(t *testing.T) {
		s, api := newTestTokenStore(t)
		api.objects["storefront-sessions/sessions/s1.json"] = []byte("{")

		_, err := s.Load(ctx)
		require.Error(t, err)
		assert.NotErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("upload fails", func(t *testing.T) {
		s, api := newTestTokenStore(t)
		api.putErr = errors.New("quota")

		assert.ErrorContains(t, s.Save(ctx, model.TokenPair{Access: "a", Refresh: "r"}), "quota")
	})

	t.Run("stat fails on clear", func(t *testing.T) {
		s, api := newTestTokenStore(t)
		api.statErr = errors.New("denied")

		assert.ErrorContains(t, s.Clear(ctx), "denied")
	})
}
