package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/samclaus/games/auth"
	"github.com/samclaus/games/broadcast"
	"github.com/samclaus/games/models"
	"github.com/samclaus/games/network"
	"github.com/samclaus/games/persistence"
	"github.com/samclaus/games/state"
	"github.com/samclaus/games/timer"
	"github.com/stretchr/testify/require"
)

var defaultRotation = []models.Role{
	models.RolePurpleKnower,
	models.RoleTealKnower,
	models.RolePurpleSeeker,
	models.RoleTealSeeker,
}

func testOptions() Options {
	return Options{
		LockTeamsDuringGame: true,
		Policy:              state.Policy{Rotation: defaultRotation, MinPerRole: 1},
		InboxSize:           64,
		LogTail:             50,
	}
}

type testEnv struct {
	room   *Room
	hub    *broadcast.Hub
	tokens *auth.SeatTokens
	timers *timer.TimerManager
	store  *persistence.MemoryStore
	writer *persistence.Writer
}

func newTestEnv(t *testing.T, opts Options, setup func(*Room)) *testEnv {
	t.Helper()

	env := &testEnv{
		hub:    broadcast.NewHub(),
		tokens: auth.NewSeatTokens("test-secret", time.Hour),
		timers: timer.NewTimerManager(5 * time.Millisecond),
		store:  persistence.NewMemoryStore(),
	}
	env.writer = persistence.NewWriter(env.store, 256, 1, 10*time.Millisecond)
	deps := Deps{Tokens: env.tokens, Timers: env.timers, Log: env.writer}
	env.room = newRoom("ROOM01", opts, deps, env.hub, setup)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		env.room.Close(ctx)
		<-env.room.Done()
		env.writer.Close()
		env.timers.Stop()
	})
	return env
}

type event struct {
	id   uint16
	body []byte
}

// testSink records every frame it is given.
type testSink struct {
	id     string
	limit  int
	mu     sync.Mutex
	frames [][]byte
	kicked string
}

func newSink(id string) *testSink {
	return &testSink{id: id, limit: 1000}
}

func (s *testSink) GetID() string { return s.id }

func (s *testSink) Enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kicked != "" || len(s.frames) >= s.limit {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *testSink) Kick(reason string) {
	s.mu.Lock()
	s.kicked = reason
	s.mu.Unlock()
}

func (s *testSink) Kicked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kicked != ""
}

func (s *testSink) events(t *testing.T) []event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]event, 0, len(s.frames))
	for _, f := range s.frames {
		pkt, err := network.DecodePacket(f)
		require.NoError(t, err)
		out = append(out, event{id: pkt.MsgID, body: pkt.Data})
	}
	return out
}

// drain returns the events received so far and forgets them.
func (s *testSink) drain(t *testing.T) []event {
	t.Helper()
	evs := s.events(t)
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
	return evs
}

func ids(evs []event) []uint16 {
	out := make([]uint16, len(evs))
	for i, e := range evs {
		out[i] = e.id
	}
	return out
}

func decode[T any](t *testing.T, e event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(e.body, &v))
	return v
}

type player struct {
	sink *testSink
	res  JoinResult
}

func (env *testEnv) join(t *testing.T, name string) *player {
	t.Helper()
	sink := newSink("conn-" + name)
	res, err := env.room.Join(context.Background(), sink, name)
	require.NoError(t, err)
	return &player{sink: sink, res: res}
}

func (env *testEnv) apply(t *testing.T, actor string, a state.Action) models.Delta {
	t.Helper()
	d, err := env.room.Apply(context.Background(), actor, a)
	require.NoError(t, err)
	return d
}

func (env *testEnv) snapshot(t *testing.T) models.RoomState {
	t.Helper()
	st, err := env.room.Snapshot(context.Background())
	require.NoError(t, err)
	return st
}

// seatFour joins Ann, Bob, Cid and Dee and puts them in the four team roles:
// Ann purple seeker (host), Bob purple knower, Cid teal seeker, Dee teal
// knower.
func (env *testEnv) seatFour(t *testing.T) map[string]*player {
	t.Helper()
	ps := map[string]*player{}
	for _, name := range []string{"Ann", "Bob", "Cid", "Dee"} {
		ps[name] = env.join(t, name)
	}
	env.apply(t, "Ann", state.ChangeTeam{Team: models.TeamPurple})
	env.apply(t, "Bob", state.ChangeTeam{Team: models.TeamPurple})
	env.apply(t, "Bob", state.ChangeRole{Knower: true})
	env.apply(t, "Cid", state.ChangeTeam{Team: models.TeamTeal})
	env.apply(t, "Dee", state.ChangeTeam{Team: models.TeamTeal})
	env.apply(t, "Dee", state.ChangeRole{Knower: true})
	return ps
}
