package events_test

import (
	stdsql "database/sql"
	"context"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tachikoma-dev/tachikoma/pkg/database"
	"github.com/tachikoma-dev/tachikoma/pkg/events"
)

// newCatchupTestDB starts a real Postgres container, applies migrations
// (including the events table), and returns both a stdlib *sql.DB for
// direct queries and a cleanup func.
func newCatchupTestDB(t *testing.T) (*stdsql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tachikoma_test"),
		postgres.WithUsername("tachikoma"),
		postgres.WithPassword("tachikoma"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.Config{
		Host:         host,
		Port:         port.Int(),
		User:         "tachikoma",
		Password:     "tachikoma",
		Database:     "tachikoma_test",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := database.NewPool(ctx, cfg)
	require.NoError(t, err)
	pool.Close()

	db, err := stdsql.Open("pgx", cfg.DSN())
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		require.NoError(t, testcontainers.TerminateContainer(pgContainer))
	}
	return db, cleanup
}

func insertEvent(t *testing.T, db *stdsql.DB, channel string, payload string) int {
	t.Helper()
	var id int
	require.NoError(t, db.QueryRow(
		`INSERT INTO events (channel, payload, created_at) VALUES ($1, $2, now()) RETURNING id`,
		channel, payload,
	).Scan(&id))
	return id
}

func TestSQLCatchupQuerier_GetCatchupEvents(t *testing.T) {
	db, cleanup := newCatchupTestDB(t)
	defer cleanup()

	id1 := insertEvent(t, db, "mission:test", `{"type":"loop.event","seq":1}`)
	id2 := insertEvent(t, db, "mission:test", `{"type":"stream.chunk","seq":2}`)

	querier := events.NewSQLCatchupQuerier(db)
	got, err := querier.GetCatchupEvents(context.Background(), "mission:test", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, id1, got[0].ID)
	assert.Equal(t, id2, got[1].ID)
	assert.Equal(t, "loop.event", got[0].Payload["type"])
	assert.Equal(t, float64(2), got[1].Payload["seq"])
}

func TestSQLCatchupQuerier_GetCatchupEvents_RespectsSinceID(t *testing.T) {
	db, cleanup := newCatchupTestDB(t)
	defer cleanup()

	id1 := insertEvent(t, db, "mission:test", `{"seq":1}`)
	insertEvent(t, db, "mission:test", `{"seq":2}`)

	querier := events.NewSQLCatchupQuerier(db)
	got, err := querier.GetCatchupEvents(context.Background(), "mission:test", id1, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(2), got[0].Payload["seq"])
}

func TestSQLCatchupQuerier_GetCatchupEvents_RespectsLimit(t *testing.T) {
	db, cleanup := newCatchupTestDB(t)
	defer cleanup()

	for i := 1; i <= 3; i++ {
		insertEvent(t, db, "mission:limit-test", `{"seq":1}`)
	}

	querier := events.NewSQLCatchupQuerier(db)
	got, err := querier.GetCatchupEvents(context.Background(), "mission:limit-test", 0, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSQLCatchupQuerier_GetCatchupEvents_IsolatesByChannel(t *testing.T) {
	db, cleanup := newCatchupTestDB(t)
	defer cleanup()

	insertEvent(t, db, "mission:a", `{"seq":1}`)
	insertEvent(t, db, "mission:b", `{"seq":2}`)

	querier := events.NewSQLCatchupQuerier(db)
	got, err := querier.GetCatchupEvents(context.Background(), "mission:a", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(1), got[0].Payload["seq"])
}

func TestSQLCatchupQuerier_GetCatchupEvents_Empty(t *testing.T) {
	db, cleanup := newCatchupTestDB(t)
	defer cleanup()

	querier := events.NewSQLCatchupQuerier(db)
	got, err := querier.GetCatchupEvents(context.Background(), "mission:empty", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
