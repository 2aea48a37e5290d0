//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dtroode/storefront-session/internal/model"
	repo "github.com/dtroode/storefront-session/internal/repository/postgres"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "storefront_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	dsn = fmt.Sprintf("postgres://postgres:password@%s:%s/storefront_test?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestSessionTokenRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Ping(ctx))

	r := repo.NewSessionTokenRepository(conn, uuid.NewString())

	_, err = r.Load(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, r.Save(ctx, model.TokenPair{Access: "a1", Refresh: "r1"}))
	require.NoError(t, r.Save(ctx, model.TokenPair{Access: "a2", Refresh: "r1"}))

	got, err := r.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TokenPair{Access: "a2", Refresh: "r1"}, got)

	require.NoError(t, r.Clear(ctx))
	_, err = r.Load(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestSessionTokenRepository_SessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	first := repo.NewSessionTokenRepository(conn, uuid.NewString())
	second := repo.NewSessionTokenRepository(conn, uuid.NewString())

	require.NoError(t, first.Save(ctx, model.TokenPair{Access: "a", Refresh: "r"}))
	_, err = second.Load(ctx)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestSessionTokenRepository_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	conn, err := repo.NewConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	r := repo.NewSessionTokenRepository(conn, uuid.NewString())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pair := model.TokenPair{Access: fmt.Sprintf("a%d", i), Refresh: fmt.Sprintf("r%d", i)}
			assert.NoError(t, r.Save(ctx, pair))
		}(i)
	}
	wg.Wait()

	got, err := r.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, got.Access[1:], got.Refresh[1:], "pair must never mix tokens of different writes")
}
