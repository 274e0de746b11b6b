// models/models.go
package models

import (
	"time"
)

// GameState is the state of an active round. Turn is never RoleSpectator.
type GameState struct {
	Turn      Role   `json:"turn"`
	ClueText  string `json:"clue_text"`
	ClueCount int    `json:"clue_count"`
	Round     int    `json:"round"`
}

// LogKind classifies a game log entry.
type LogKind string

const (
	LogJoined      LogKind = "joined"
	LogLeft        LogKind = "left"
	LogKicked      LogKind = "kicked"
	LogTeamChanged LogKind = "team_changed"
	LogRoleChanged LogKind = "role_changed"
	LogForceMoved  LogKind = "force_moved"
	LogRoundStart  LogKind = "round_started"
	LogRoundEnd    LogKind = "round_ended"
	LogClueGiven   LogKind = "clue_given"
	LogTurnEnded   LogKind = "turn_ended"
	LogHostChanged LogKind = "host_changed"
)

// LogEntry is an immutable record in a room's append-only game log.
type LogEntry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Kind      LogKind   `json:"kind"`
	Summary   string    `json:"summary"`
}

// RoomState is the full snapshot sent to a client when it first subscribes.
// Field names follow the client-side schema.
type RoomState struct {
	RoomID              string     `json:"room_id"`
	Version             uint64     `json:"version"`
	LockTeamsDuringGame bool       `json:"lock_teams_during_game"`
	Spectators          []string   `json:"spectators"`
	PurpleSeekers       []string   `json:"purple_team_seekers"`
	PurpleKnowers       []string   `json:"purple_team_knowers"`
	TealSeekers         []string   `json:"teal_team_seekers"`
	TealKnowers         []string   `json:"teal_team_knowers"`
	Game                *GameState `json:"game,omitempty"`
	Hosts               []string   `json:"hosts"`
	Offline             []string   `json:"offline"`
	RoundLogStart       uint64     `json:"round_log_start"`
	Log                 []LogEntry `json:"log"`
}

// Roster returns the names holding the given role, in display order.
func (s *RoomState) Roster(r Role) []string {
	switch r {
	case RolePurpleSeeker:
		return s.PurpleSeekers
	case RolePurpleKnower:
		return s.PurpleKnowers
	case RoleTealSeeker:
		return s.TealSeekers
	case RoleTealKnower:
		return s.TealKnowers
	}
	return s.Spectators
}

// SeatChange describes a player whose roster membership changed. Removed means
// the seat was vacated.
type SeatChange struct {
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	Host    bool   `json:"host,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// GamePatch carries only the GameState fields that changed. Started means a new
// round began and every field is populated.
type GamePatch struct {
	Started   bool    `json:"started,omitempty"`
	Turn      *Role   `json:"turn,omitempty"`
	ClueText  *string `json:"clue_text,omitempty"`
	ClueCount *int    `json:"clue_count,omitempty"`
	Round     *int    `json:"round,omitempty"`
}

// Delta is the minimal description of what one committed action changed.
type Delta struct {
	Version       uint64       `json:"version"`
	Seats         []SeatChange `json:"seats,omitempty"`
	Game          *GamePatch   `json:"game,omitempty"`
	GameEnded     bool         `json:"game_ended,omitempty"`
	RoundLogStart *uint64      `json:"round_log_start,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d *Delta) Empty() bool {
	return len(d.Seats) == 0 && d.Game == nil && !d.GameEnded && d.RoundLogStart == nil
}

// LogAppended carries the log entries produced by one commit. It always
// follows the Delta of the same version.
type LogAppended struct {
	Version uint64     `json:"version"`
	Entries []LogEntry `json:"entries"`
}

// Presence announces a connect or disconnect of a seated player. It never
// changes rosters.
type Presence struct {
	Version   uint64 `json:"version"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// RoomSummary is the public listing entry for a room.
type RoomSummary struct {
	RoomID    string    `json:"room_id"`
	Key       string    `json:"key"`
	Players   int       `json:"players"`
	InRound   bool      `json:"in_round"`
	Frozen    bool      `json:"frozen"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomRecord is what persistence keeps about a room between log entries.
// RoomID is the room's storage key; Code is the short join code, which a
// later room may reuse.
type RoomRecord struct {
	RoomID              string
	Code                string
	LockTeamsDuringGame bool
	State               string
	Players             []string
	CreatedAt           time.Time
	ClosedAt            *time.Time
}
