package state

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samclaus/games/models"
)

// ErrInternalInconsistency means an invariant of the room no longer holds. A
// room reporting it must be frozen, never repaired.
var ErrInternalInconsistency = errors.New("internal inconsistency")

// Seat is a player's persistent membership slot. A player holds exactly one
// Role; rosters are derived by grouping seats by role and ordering by Index.
type Seat struct {
	// ID is unique per seating. A name seated again gets a new ID.
	ID       string
	Name     string
	Role     models.Role
	Index    uint64
	ConnID   string
	Host     bool
	JoinedAt time.Time
}

// Connected reports whether a live connection is attached to the seat.
func (s Seat) Connected() bool {
	return s.ConnID != ""
}

type game struct {
	models.GameState
	// knowers holds every name that has held a knower role this round,
	// including players who were kicked afterwards.
	knowers map[string]struct{}
}

// Join seats a new player as a spectator.
type Join struct {
	SeatID string
	Name   string
	ConnID string
	Host   bool
}

// Move puts an existing seat into a new role.
type Move struct {
	Name string
	To   models.Role
}

// Clue is the clue part of a game state update.
type Clue struct {
	Text  string
	Count int
}

// Change is an accepted transition, ready to commit. It is produced by Decide
// (player actions) or by the room itself (joins, vacated seats).
type Change struct {
	Joins   []Join
	Moves   []Move
	Removes []string

	StartGame *models.GameState
	EndGame   bool
	Turn      *models.Role
	Clue      *Clue

	Actor   string
	Kind    models.LogKind
	Summary string
}

// Aggregate is the canonical state of one room. It is not safe for concurrent
// use; the owning room serializes every call.
type Aggregate struct {
	ID                  string
	LockTeamsDuringGame bool

	rotation  []models.Role
	seats     map[string]*Seat
	nextIndex uint64
	version   uint64

	game          *game
	rounds        int
	roundLogStart uint64

	log []models.LogEntry
}

// NewAggregate creates an empty room. rotation is the turn order used when
// the role holding the turn is left empty.
func NewAggregate(id string, lockTeamsDuringGame bool, rotation []models.Role) *Aggregate {
	return &Aggregate{
		ID:                  id,
		LockTeamsDuringGame: lockTeamsDuringGame,
		rotation:            rotation,
		seats:               make(map[string]*Seat),
	}
}

// --- View ---

func (a *Aggregate) LockTeams() bool {
	return a.LockTeamsDuringGame
}

func (a *Aggregate) Seat(name string) (Seat, bool) {
	s, ok := a.seats[name]
	if !ok {
		return Seat{}, false
	}
	return *s, true
}

func (a *Aggregate) Game() (models.GameState, bool) {
	if a.game == nil {
		return models.GameState{}, false
	}
	return a.game.GameState, true
}

func (a *Aggregate) WasKnower(name string) bool {
	if a.game == nil {
		return false
	}
	_, ok := a.game.knowers[name]
	return ok
}

func (a *Aggregate) Occupants(r models.Role) int {
	n := 0
	for _, s := range a.seats {
		if s.Role == r {
			n++
		}
	}
	return n
}

func (a *Aggregate) Rounds() int {
	return a.rounds
}

// --- bookkeeping ---

func (a *Aggregate) Version() uint64 {
	return a.version
}

func (a *Aggregate) Len() int {
	return len(a.seats)
}

// SeatByConn finds the seat a connection is attached to.
func (a *Aggregate) SeatByConn(connID string) (Seat, bool) {
	if connID == "" {
		return Seat{}, false
	}
	for _, s := range a.seats {
		if s.ConnID == connID {
			return *s, true
		}
	}
	return Seat{}, false
}

// Seats returns every seat in membership order.
func (a *Aggregate) Seats() []Seat {
	out := make([]Seat, 0, len(a.seats))
	for _, s := range a.seats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Log returns the entries with Seq greater than afterSeq.
func (a *Aggregate) Log(afterSeq uint64) []models.LogEntry {
	i := sort.Search(len(a.log), func(i int) bool { return a.log[i].Seq > afterSeq })
	out := make([]models.LogEntry, len(a.log)-i)
	copy(out, a.log[i:])
	return out
}

// SetConnection attaches (or with an empty connID detaches) a connection to
// a seat and returns the presence event to publish. Rosters are untouched.
func (a *Aggregate) SetConnection(name, connID string) (models.Presence, bool) {
	s, ok := a.seats[name]
	if !ok {
		return models.Presence{}, false
	}
	s.ConnID = connID
	a.version++
	return models.Presence{Version: a.version, Name: name, Connected: connID != ""}, true
}

// Commit applies an accepted change and returns the delta plus the log
// entries it produced, in order.
func (a *Aggregate) Commit(c Change, now time.Time) (models.Delta, []models.LogEntry) {
	a.version++
	delta := models.Delta{Version: a.version}
	var entries []models.LogEntry

	if c.StartGame != nil {
		a.rounds++
		g := &game{GameState: *c.StartGame, knowers: make(map[string]struct{})}
		g.Round = a.rounds
		for _, s := range a.seats {
			if s.Role.IsKnower() {
				g.knowers[s.Name] = struct{}{}
			}
		}
		a.game = g

		turn, text, count, round := g.Turn, g.ClueText, g.ClueCount, g.Round
		delta.Game = &models.GamePatch{Started: true, Turn: &turn, ClueText: &text, ClueCount: &count, Round: &round}
	}

	for _, j := range c.Joins {
		a.nextIndex++
		s := &Seat{ID: j.SeatID, Name: j.Name, Role: models.RoleSpectator, Index: a.nextIndex, ConnID: j.ConnID, Host: j.Host, JoinedAt: now}
		a.seats[j.Name] = s
		delta.Seats = append(delta.Seats, models.SeatChange{Name: s.Name, Role: s.Role, Host: s.Host})
	}

	for _, m := range c.Moves {
		s, ok := a.seats[m.Name]
		if !ok {
			continue
		}
		s.Role = m.To
		a.nextIndex++
		s.Index = a.nextIndex
		if a.game != nil && m.To.IsKnower() {
			a.game.knowers[m.Name] = struct{}{}
		}
		delta.Seats = append(delta.Seats, models.SeatChange{Name: s.Name, Role: s.Role, Host: s.Host})
	}

	for _, name := range c.Removes {
		s, ok := a.seats[name]
		if !ok {
			continue
		}
		delete(a.seats, name)
		delta.Seats = append(delta.Seats, models.SeatChange{Name: name, Role: s.Role, Removed: true})
	}

	// a turn left with nobody to play it moves on as if it had been ended
	var skipped string
	if a.game != nil && !c.EndGame {
		current := a.game.Turn
		if c.Turn != nil {
			current = *c.Turn
		}
		if a.Occupants(current) == 0 {
			if next := NextTurn(a.rotation, current, a.Occupants); next != current {
				c.Turn = &next
				c.Clue = &Clue{}
				skipped = fmt.Sprintf("nobody holds %s; the turn passed to %s", current, next)
			}
		}
	}

	if a.game != nil && c.StartGame == nil {
		patch := &models.GamePatch{}
		changed := false
		if c.Turn != nil && *c.Turn != a.game.Turn {
			a.game.Turn = *c.Turn
			turn := *c.Turn
			patch.Turn = &turn
			changed = true
		}
		if c.Clue != nil {
			if c.Clue.Text != a.game.ClueText {
				a.game.ClueText = c.Clue.Text
				text := c.Clue.Text
				patch.ClueText = &text
				changed = true
			}
			if c.Clue.Count != a.game.ClueCount {
				a.game.ClueCount = c.Clue.Count
				count := c.Clue.Count
				patch.ClueCount = &count
				changed = true
			}
		}
		if changed {
			delta.Game = patch
		}
	}

	if c.EndGame && a.game != nil {
		a.game = nil
		delta.GameEnded = true
	}

	if c.Kind != "" {
		entry := a.appendLog(now, c.Actor, c.Kind, c.Summary)
		entries = append(entries, entry)
		if c.StartGame != nil {
			a.roundLogStart = entry.Seq
			start := entry.Seq
			delta.RoundLogStart = &start
		}
	}
	if skipped != "" {
		entries = append(entries, a.appendLog(now, "", models.LogTurnEnded, skipped))
	}

	if heir, ok := a.ensureHost(); ok {
		delta.Seats = append(delta.Seats, models.SeatChange{Name: heir.Name, Role: heir.Role, Host: true})
		entries = append(entries, a.appendLog(now, heir.Name, models.LogHostChanged, heir.Name+" is now the host"))
	}

	return delta, entries
}

// ensureHost grants host permission to the earliest seat when nobody holds it.
func (a *Aggregate) ensureHost() (Seat, bool) {
	if len(a.seats) == 0 {
		return Seat{}, false
	}
	var heir *Seat
	for _, s := range a.seats {
		if s.Host {
			return Seat{}, false
		}
		if heir == nil || s.Index < heir.Index {
			heir = s
		}
	}
	heir.Host = true
	return *heir, true
}

func (a *Aggregate) appendLog(now time.Time, actor string, kind models.LogKind, summary string) models.LogEntry {
	var seq uint64 = 1
	if n := len(a.log); n > 0 {
		seq = a.log[n-1].Seq + 1
	}
	entry := models.LogEntry{Seq: seq, Timestamp: now, Actor: actor, Kind: kind, Summary: summary}
	a.log = append(a.log, entry)
	return entry
}

// Snapshot builds the full client view, including the tail of the current
// round's log (at most tail entries).
func (a *Aggregate) Snapshot(tail int) models.RoomState {
	st := models.RoomState{
		RoomID:              a.ID,
		Version:             a.version,
		LockTeamsDuringGame: a.LockTeamsDuringGame,
		Spectators:          []string{},
		PurpleSeekers:       []string{},
		PurpleKnowers:       []string{},
		TealSeekers:         []string{},
		TealKnowers:         []string{},
		Hosts:               []string{},
		Offline:             []string{},
		RoundLogStart:       a.roundLogStart,
	}

	for _, s := range a.Seats() {
		switch s.Role {
		case models.RolePurpleSeeker:
			st.PurpleSeekers = append(st.PurpleSeekers, s.Name)
		case models.RolePurpleKnower:
			st.PurpleKnowers = append(st.PurpleKnowers, s.Name)
		case models.RoleTealSeeker:
			st.TealSeekers = append(st.TealSeekers, s.Name)
		case models.RoleTealKnower:
			st.TealKnowers = append(st.TealKnowers, s.Name)
		default:
			st.Spectators = append(st.Spectators, s.Name)
		}
		if s.Host {
			st.Hosts = append(st.Hosts, s.Name)
		}
		if !s.Connected() {
			st.Offline = append(st.Offline, s.Name)
		}
	}

	if a.game != nil {
		g := a.game.GameState
		st.Game = &g
	}

	after := uint64(0)
	if a.roundLogStart > 0 {
		after = a.roundLogStart - 1
	}
	st.Log = a.Log(after)
	if tail >= 0 && len(st.Log) > tail {
		st.Log = st.Log[len(st.Log)-tail:]
	}
	return st
}

// CheckInvariants verifies the structural rules every reachable state obeys.
func (a *Aggregate) CheckInvariants() error {
	indexes := make(map[uint64]string, len(a.seats))
	hosts := 0
	for key, s := range a.seats {
		if key != s.Name {
			return fmt.Errorf("%w: seat %q filed under %q", ErrInternalInconsistency, s.Name, key)
		}
		if !s.Role.Valid() {
			return fmt.Errorf("%w: seat %q has invalid role %d", ErrInternalInconsistency, s.Name, s.Role)
		}
		if other, dup := indexes[s.Index]; dup {
			return fmt.Errorf("%w: %q and %q share membership index %d", ErrInternalInconsistency, s.Name, other, s.Index)
		}
		indexes[s.Index] = s.Name
		if s.Host {
			hosts++
		}
	}
	if hosts > 1 {
		return fmt.Errorf("%w: %d hosts", ErrInternalInconsistency, hosts)
	}
	if a.game != nil {
		if a.game.Turn == models.RoleSpectator || !a.game.Turn.Valid() {
			return fmt.Errorf("%w: turn is %s", ErrInternalInconsistency, a.game.Turn)
		}
		if a.game.ClueCount < 0 {
			return fmt.Errorf("%w: negative clue count", ErrInternalInconsistency)
		}
	}
	for i := 1; i < len(a.log); i++ {
		if a.log[i].Seq != a.log[i-1].Seq+1 {
			return fmt.Errorf("%w: log gap after seq %d", ErrInternalInconsistency, a.log[i-1].Seq)
		}
	}
	return nil
}
