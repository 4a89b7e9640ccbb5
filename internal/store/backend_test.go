package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the contract every backend must satisfy.
func exerciseStore(t *testing.T, ctx context.Context, s Store) {
	t.Helper()
	suffix := uuid.NewString()
	key := Key{Email: "a_b@x.com", DeviceID: "dev-" + suffix}
	other := Key{Email: "a", DeviceID: "b@x.com_dev-" + suffix}

	_, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, found, "lookup must not create a record")

	first := Entitlement{Email: key.Email, DeviceID: key.DeviceID, PlanID: "1year", UpdatedAt: 1000, ExpiresAt: 2000, Status: StatusDisabled}
	require.NoError(t, s.Put(ctx, first))
	got, found, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, first, got)

	second := Entitlement{Email: key.Email, DeviceID: key.DeviceID, PlanID: "6hrs", UpdatedAt: 3000, ExpiresAt: 4000}
	require.NoError(t, s.Put(ctx, second))
	got, found, err = s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, second, got, "put must overwrite the whole record")

	_, found, err = s.Get(ctx, other)
	require.NoError(t, err)
	require.False(t, found, "keys sharing a legacy id must not collide")
}

func TestMemoryStoreContract(t *testing.T) {
	exerciseStore(t, context.Background(), NewMemoryStore())
}

func TestRedisStoreContract(t *testing.T) {
	rawURL := os.Getenv("AG_TEST_REDIS_URL")
	if rawURL == "" {
		t.Skip("AG_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(rawURL)
	require.NoError(t, err)
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable for store tests: %v", err)
	}

	prefix := "accessgate:test:" + uuid.NewString() + ":"
	s := NewRedisStore(client, prefix)
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(context.Background(), keys...).Err()
		}
		_ = s.Close()
	})
	exerciseStore(t, context.Background(), s)
}

func TestFirestoreStoreContract(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "accessgate-test")
	require.NoError(t, err)
	s := NewFirestoreStore(client, "accessRecords-"+uuid.NewString())
	defer s.Close()

	require.NoError(t, s.Ping(ctx))
	exerciseStore(t, ctx, s)
}

func TestPostgresStoreContract(t *testing.T) {
	withTempDatabase(t, func(ctx context.Context, dsn string) {
		s, err := OpenPostgres(dsn)
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, Migrate(ctx, s.DB()))
		// Re-running migrations is a no-op.
		require.NoError(t, Migrate(ctx, s.DB()))

		exerciseStore(t, ctx, s)
	})
}

func withTempDatabase(t *testing.T, run func(ctx context.Context, dsn string)) {
	t.Helper()

	baseDSN := os.Getenv("AG_TEST_DB_DSN")
	if baseDSN == "" {
		t.Skip("AG_TEST_DB_DSN not set")
	}

	adminDSN, err := dsnWithDatabase(baseDSN, "postgres")
	require.NoError(t, err)
	adminDB, err := sql.Open("pgx", adminDSN)
	require.NoError(t, err)
	defer adminDB.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := adminDB.PingContext(pingCtx); err != nil {
		t.Skipf("postgres unavailable for store tests: %v", err)
	}

	dbName := "accessgate_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = adminDB.ExecContext(context.Background(), fmt.Sprintf(`CREATE DATABASE %s`, dbName))
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupDB, err := sql.Open("pgx", adminDSN)
		if err != nil {
			return
		}
		defer cleanupDB.Close()
		_, _ = cleanupDB.ExecContext(context.Background(), `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, dbName)
		_, _ = cleanupDB.ExecContext(context.Background(), fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, dbName))
	})

	testDSN, err := dsnWithDatabase(baseDSN, dbName)
	require.NoError(t, err)
	run(context.Background(), testDSN)
}

func dsnWithDatabase(rawDSN, dbName string) (string, error) {
	parsed, err := url.Parse(rawDSN)
	if err != nil {
		return "", err
	}
	parsed.Path = "/" + dbName
	return parsed.String(), nil
}
