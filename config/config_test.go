package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samclaus/games/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.True(t, cfg.Room.LockTeamsDuringGame)
	assert.Equal(t, 2*time.Minute, cfg.Room.SeatTimeout)
	assert.Equal(t, "memory", cfg.Database.Driver)

	// a signing key must always be configured
	assert.Error(t, cfg.Validate())
	cfg.Auth.SigningKey = "k"
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
room:
  lock_teams_during_game: false
  seat_timeout: 30s
  rotation: [teal_knower, purple_knower, teal_seeker, purple_seeker]
auth:
  signing_key: from-file
database:
  driver: postgres
  postgres:
    user: clue
    dbname: clueroom
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("CLUEROOM_AUTH_SIGNING_KEY", "from-env")
	t.Setenv("CLUEROOM_ROOM_MIN_PER_ROLE", "2")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.False(t, cfg.Room.LockTeamsDuringGame)
	assert.Equal(t, 30*time.Second, cfg.Room.SeatTimeout)
	assert.Equal(t, 2, cfg.Room.MinPerRole)
	assert.Equal(t, "from-env", cfg.Auth.SigningKey)
	assert.Equal(t, "clue", cfg.Database.Postgres.User)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)

	roles, err := cfg.Room.RotationRoles()
	require.NoError(t, err)
	assert.Equal(t, []models.Role{models.RoleTealKnower, models.RolePurpleKnower, models.RoleTealSeeker, models.RolePurpleSeeker}, roles)
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("CLUEROOM_AUTH_SIGNING_KEY", "k")
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Room.SendQueueSize)
}

func TestRotationRoles(t *testing.T) {
	bad := [][]string{
		{"purple_knower", "teal_knower", "purple_seeker"},
		{"purple_knower", "teal_knower", "purple_seeker", "purple_seeker"},
		{"purple_knower", "teal_knower", "purple_seeker", "spectator"},
		{"purple_knower", "teal_knower", "purple_seeker", "referee"},
	}
	for _, rotation := range bad {
		_, err := RoomConfig{Rotation: rotation}.RotationRoles()
		assert.Error(t, err, "%v", rotation)
	}

	roles, err := RoomConfig{}.RotationRoles()
	require.NoError(t, err)
	assert.Equal(t, models.RolePurpleKnower, roles[0])
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Auth.SigningKey = "k"

	cfg.Database.Driver = "sqlite"
	assert.Error(t, cfg.Validate())
	cfg.Database.Driver = "gorm"
	assert.NoError(t, cfg.Validate())

	cfg.Room.SeatTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}
