//go:build integration

package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/samclaus/games/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var connString string

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("clueroom"),
		postgres.WithUsername("clueroom"),
		postgres.WithPassword("clueroom"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		panic(err)
	}

	connString, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}

	code := m.Run()

	container.Terminate(ctx)
	os.Exit(code)
}

func exerciseStore(t *testing.T, s LogStore, roomID string) {
	ctx := context.Background()

	require.NoError(t, s.AppendEntries(ctx, roomID, entries(1, 3)))
	require.NoError(t, s.AppendEntries(ctx, roomID, entries(3, 4)))

	got, err := s.LoadEntries(ctx, roomID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs(got))

	got, err = s.LoadEntries(ctx, roomID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, seqs(got))
	assert.Equal(t, models.LogJoined, got[0].Kind)

	_, err = s.LoadRoom(ctx, roomID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, s.SaveRoom(ctx, models.RoomRecord{RoomID: roomID, Code: "ABC123", State: "lobby", Players: []string{"Ann", "Bob"}, CreatedAt: time.Now()}))
	closed := time.Now()
	require.NoError(t, s.SaveRoom(ctx, models.RoomRecord{RoomID: roomID, Code: "ABC123", State: "closed", Players: []string{}, ClosedAt: &closed}))

	rec, err := s.LoadRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", rec.Code)
	assert.Equal(t, "closed", rec.State)
	assert.Empty(t, rec.Players)
	assert.NotNil(t, rec.ClosedAt)

	// a later room reusing the code keeps its own log and record
	next := roomID + "-next"
	require.NoError(t, s.AppendEntries(ctx, next, entries(1, 2)))
	require.NoError(t, s.SaveRoom(ctx, models.RoomRecord{RoomID: next, Code: "ABC123", State: "lobby", CreatedAt: time.Now()}))

	got, err = s.LoadEntries(ctx, next, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, seqs(got))
	got, err = s.LoadEntries(ctx, roomID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs(got))

	rec, err = s.LoadRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "closed", rec.State)
}

func TestPostgreSQL(t *testing.T) {
	s, err := NewPostgreSQL(connString)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s, "raw-room")
}

func TestGormPostgreSQL(t *testing.T) {
	s, err := NewGormPostgreSQL(connString)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s, "gorm-room")
}
