package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/samclaus/games/auth"
	"github.com/samclaus/games/broadcast"
	"github.com/samclaus/games/models"
	"github.com/samclaus/games/network"
	"github.com/samclaus/games/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_SnapshotThenDeltas(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)

	ann := env.join(t, "Ann")
	assert.True(t, ann.res.Host, "first seat is host")
	assert.Equal(t, models.RoleSpectator, ann.res.Role)
	assert.NotEmpty(t, ann.res.Token)

	evs := ann.sink.drain(t)
	require.Equal(t, []uint16{network.MsgTypeJoined, network.MsgTypeSnapshot}, ids(evs))
	snap := decode[models.RoomState](t, evs[1])
	assert.Equal(t, []string{"Ann"}, snap.Spectators)
	assert.Equal(t, []string{"Ann"}, snap.Hosts)

	bob := env.join(t, "Bob")
	assert.False(t, bob.res.Host)

	evs = ann.sink.drain(t)
	require.Equal(t, []uint16{network.MsgTypeDelta, network.MsgTypeLogAppended}, ids(evs))
	delta := decode[models.Delta](t, evs[0])
	assert.Equal(t, snap.Version+1, delta.Version)
	assert.Equal(t, []models.SeatChange{{Name: "Bob", Role: models.RoleSpectator}}, delta.Seats)

	// Bob's snapshot already contains his own join, so he gets no delta for it.
	evs = bob.sink.events(t)
	require.Equal(t, []uint16{network.MsgTypeJoined, network.MsgTypeSnapshot}, ids(evs))
	assert.Equal(t, delta.Version, decode[models.RoomState](t, evs[1]).Version)
}

// A watcher without a seat gets a snapshot and then every later event, and
// nothing once it unsubscribes.
func TestSubscribe_SnapshotThenDeltas(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	env.join(t, "Ann")

	watcher := newSink("watch")
	require.NoError(t, env.room.Subscribe(context.Background(), watcher))
	d := env.apply(t, "Ann", state.ChangeTeam{Team: models.TeamPurple})

	evs := watcher.drain(t)
	require.Equal(t, []uint16{network.MsgTypeSnapshot, network.MsgTypeDelta, network.MsgTypeLogAppended}, ids(evs))
	snap := decode[models.RoomState](t, evs[0])
	assert.Equal(t, []string{"Ann"}, snap.Spectators)
	assert.Equal(t, d.Version-1, snap.Version)
	assert.Equal(t, d, decode[models.Delta](t, evs[1]))

	// watching takes no seat
	st := env.snapshot(t)
	assert.Equal(t, []string{"Ann"}, st.PurpleSeekers)
	assert.Empty(t, st.Spectators)

	env.room.Unsubscribe(watcher.GetID())
	env.apply(t, "Ann", state.ChangeTeam{Team: models.TeamTeal})
	assert.Empty(t, watcher.events(t))
}

func TestJoin_DefaultNamesAndConflicts(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)

	s1 := newSink("a")
	r1, err := env.room.Join(context.Background(), s1, "")
	require.NoError(t, err)
	r2, err := env.room.Join(context.Background(), newSink("b"), "  ")
	require.NoError(t, err)
	assert.Equal(t, "Player 1", r1.Name)
	assert.Equal(t, "Player 2", r2.Name)

	_, err = env.room.Join(context.Background(), newSink("other"), "Player 1")
	assert.ErrorIs(t, err, ErrIdentityConflict)

	_, err = env.room.Join(context.Background(), s1, "Someone")
	assert.ErrorIs(t, err, ErrIdentityConflict, "a connection holds at most one seat")

	_, err = env.room.Join(context.Background(), newSink("long"), "abcdefghijklmnopqrstuvwxyz0123456789")
	assert.ErrorIs(t, err, state.ErrMalformedAction)
}

// Ann joins, moves to purple seekers, the host starts a round, and Bob
// gives a clue which passes the turn to the teal knower.
func TestScenario_ClueAdvancesTurn(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	env.seatFour(t)

	st := env.snapshot(t)
	assert.Equal(t, []string{"Ann"}, st.PurpleSeekers)
	assert.Equal(t, []string{"Bob"}, st.PurpleKnowers)
	assert.Equal(t, []string{"Cid"}, st.TealSeekers)
	assert.Equal(t, []string{"Dee"}, st.TealKnowers)
	assert.Empty(t, st.Spectators)

	d := env.apply(t, "Ann", state.StartRound{})
	require.NotNil(t, d.Game)
	assert.True(t, d.Game.Started)

	st = env.snapshot(t)
	require.NotNil(t, st.Game)
	assert.Equal(t, models.GameState{Turn: models.RolePurpleKnower, ClueText: "", ClueCount: 0, Round: 1}, *st.Game)
	logBefore := len(st.Log)

	d = env.apply(t, "Bob", state.GiveClue{Text: "ocean", Count: 2})
	require.NotNil(t, d.Game)
	require.NotNil(t, d.Game.Turn)
	assert.Equal(t, models.RoleTealKnower, *d.Game.Turn)

	st = env.snapshot(t)
	assert.Equal(t, models.GameState{Turn: models.RoleTealKnower, ClueText: "ocean", ClueCount: 2, Round: 1}, *st.Game)
	assert.Len(t, st.Log, logBefore+1)
	assert.Equal(t, models.LogClueGiven, st.Log[len(st.Log)-1].Kind)
}

// Ann is moved to purple knower mid-round and then tries to switch teams.
func TestScenario_KnowerLockedMidRound(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ps := env.seatFour(t)
	env.apply(t, "Ann", state.StartRound{})
	env.apply(t, "Ann", state.ForceMove{Target: "Ann", Role: models.RolePurpleKnower})

	before := env.snapshot(t)
	for _, p := range ps {
		p.sink.drain(t)
	}

	_, err := env.room.Apply(context.Background(), "Ann", state.ChangeTeam{Team: models.TeamTeal})
	require.ErrorIs(t, err, state.ErrKnowerLocked)

	after := env.snapshot(t)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("rejected action changed the room (-before +after):\n%s", diff)
	}
	for name, p := range ps {
		assert.Empty(t, p.sink.events(t), "%s should receive nothing for a rejected action", name)
	}
}

func TestKnowerLockedWithoutTeamLock(t *testing.T) {
	opts := testOptions()
	opts.LockTeamsDuringGame = false
	env := newTestEnv(t, opts, nil)
	env.seatFour(t)
	env.apply(t, "Ann", state.StartRound{})

	// a seeker may switch teams when teams are not locked
	env.apply(t, "Cid", state.ChangeTeam{Team: models.TeamPurple})

	_, err := env.room.Apply(context.Background(), "Bob", state.ChangeTeam{Team: models.TeamTeal})
	assert.ErrorIs(t, err, state.ErrKnowerLocked)
	_, err = env.room.Apply(context.Background(), "Bob", state.ChangeRole{Knower: false})
	assert.ErrorIs(t, err, state.ErrKnowerLocked)
	_, err = env.room.Apply(context.Background(), "Ann", state.ForceMove{Target: "Bob", Role: models.RoleSpectator})
	assert.ErrorIs(t, err, state.ErrKnowerLocked)

	env.apply(t, "Ann", state.EndRound{})
	env.apply(t, "Bob", state.ChangeTeam{Team: models.TeamTeal})
}

func TestTeamsLockedDuringRound(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	env.seatFour(t)
	env.apply(t, "Ann", state.StartRound{})

	_, err := env.room.Apply(context.Background(), "Cid", state.ChangeTeam{Team: models.TeamPurple})
	assert.ErrorIs(t, err, state.ErrTeamsLockedDuringGame)

	// host moves bypass the team lock
	env.apply(t, "Ann", state.ForceMove{Target: "Cid", Role: models.RolePurpleSeeker})
}

// Bob drops mid-round and comes back with his seat token.
func TestScenario_DisconnectReconnect(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ps := env.seatFour(t)
	env.apply(t, "Ann", state.StartRound{})

	ann := ps["Ann"]
	bob := ps["Bob"]
	rosters := env.snapshot(t)
	ann.sink.drain(t)

	env.room.Disconnect(bob.sink.GetID())
	st := env.snapshot(t)
	assert.Equal(t, []string{"Bob"}, st.Offline)
	assert.Equal(t, []string{"Bob"}, st.PurpleKnowers)

	evs := ann.sink.drain(t)
	require.Equal(t, []uint16{network.MsgTypePresence}, ids(evs))
	assert.Equal(t, models.Presence{Version: rosters.Version + 1, Name: "Bob", Connected: false}, decode[models.Presence](t, evs[0]))

	back := newSink("conn-Bob-2")
	res, err := env.room.Reconnect(context.Background(), back, "Bob", bob.res.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RolePurpleKnower, res.Role)

	evs = ann.sink.drain(t)
	require.Equal(t, []uint16{network.MsgTypePresence}, ids(evs), "no roster delta on reconnect")
	assert.Equal(t, models.Presence{Version: rosters.Version + 2, Name: "Bob", Connected: true}, decode[models.Presence](t, evs[0]))

	evs = back.events(t)
	require.Equal(t, []uint16{network.MsgTypeJoined, network.MsgTypeSnapshot}, ids(evs))

	st = env.snapshot(t)
	assert.Empty(t, st.Offline)
	if diff := cmp.Diff(rosters, st, cmpopts.IgnoreFields(models.RoomState{}, "Version")); diff != "" {
		t.Fatalf("reconnect changed the room (-before +after):\n%s", diff)
	}
}

func TestReconnectTwiceConflicts(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	env.join(t, "Ann")
	bob := env.join(t, "Bob")

	env.room.Disconnect(bob.sink.GetID())
	_, err := env.room.Reconnect(context.Background(), newSink("b2"), "Bob", bob.res.Token)
	require.NoError(t, err)
	before := env.snapshot(t)

	_, err = env.room.Reconnect(context.Background(), newSink("b3"), "Bob", bob.res.Token)
	require.ErrorIs(t, err, ErrIdentityConflict)

	if diff := cmp.Diff(before, env.snapshot(t)); diff != "" {
		t.Fatalf("second reconnect changed the room:\n%s", diff)
	}
}

func TestReconnectRejectsBadIdentity(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	env.join(t, "Ann")
	bob := env.join(t, "Bob")
	env.room.Disconnect(bob.sink.GetID())

	_, err := env.room.Reconnect(context.Background(), newSink("x"), "Bob", "garbage")
	assert.ErrorIs(t, err, ErrIdentityConflict)

	_, err = env.room.Reconnect(context.Background(), newSink("x"), "Ann", bob.res.Token)
	assert.ErrorIs(t, err, ErrIdentityConflict, "token names another seat")

	other, err := env.tokens.Issue(auth.SeatClaim{Room: "OTHER", Name: "Bob", Seat: "s1"}, time.Now())
	require.NoError(t, err)
	_, err = env.room.Reconnect(context.Background(), newSink("x"), "Bob", other)
	assert.ErrorIs(t, err, ErrIdentityConflict, "token from another room")

	forged, err := env.tokens.Issue(auth.SeatClaim{Room: env.room.Key, Name: "Bob", Seat: "s1"}, time.Now())
	require.NoError(t, err)
	_, err = env.room.Reconnect(context.Background(), newSink("x"), "Bob", forged)
	assert.ErrorIs(t, err, ErrIdentityConflict, "token for another seat with the same name")

	ghost, err := env.tokens.Issue(auth.SeatClaim{Room: env.room.Key, Name: "Ghost", Seat: "s2"}, time.Now())
	require.NoError(t, err)
	_, err = env.room.Reconnect(context.Background(), newSink("x"), "", ghost)
	assert.ErrorIs(t, err, ErrIdentityConflict, "unseated name")
}

// Bob is kicked and a different player later takes the name Bob. The first
// Bob's token must not reclaim the new seat.
func TestKickedTokenCannotClaimNewSeat(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	env.join(t, "Ann")
	oldBob := env.join(t, "Bob")
	env.apply(t, "Ann", state.Kick{Target: "Bob"})

	newBob, err := env.room.Join(context.Background(), newSink("conn-Bob-2"), "Bob")
	require.NoError(t, err)
	require.NotEqual(t, oldBob.res.Token, newBob.Token)
	env.apply(t, "Ann", state.ForceMove{Target: "Bob", Role: models.RoleTealKnower})
	env.room.Disconnect("conn-Bob-2")
	before := env.snapshot(t)

	_, err = env.room.Reconnect(context.Background(), newSink("thief"), "Bob", oldBob.res.Token)
	require.ErrorIs(t, err, ErrIdentityConflict)
	if diff := cmp.Diff(before, env.snapshot(t)); diff != "" {
		t.Fatalf("stale token changed the room:\n%s", diff)
	}

	res, err := env.room.Reconnect(context.Background(), newSink("conn-Bob-3"), "Bob", newBob.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleTealKnower, res.Role)
}

func TestPendingActionCompletesAfterDisconnect(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ann := env.join(t, "Ann")
	env.join(t, "Bob")

	env.room.Disconnect(ann.sink.GetID())
	_, err := env.room.ApplyFrom(context.Background(), ann.sink.GetID(), "Ann", state.Kick{Target: "Bob"})
	require.NoError(t, err)

	st := env.snapshot(t)
	assert.Equal(t, []string{"Ann"}, st.Spectators)
}

func TestApplyFromStaleConnection(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ann := env.join(t, "Ann")

	env.room.Disconnect(ann.sink.GetID())
	_, err := env.room.Reconnect(context.Background(), newSink("ann-2"), "Ann", ann.res.Token)
	require.NoError(t, err)

	_, err = env.room.ApplyFrom(context.Background(), ann.sink.GetID(), "Ann", state.ChangeTeam{Team: models.TeamTeal})
	assert.ErrorIs(t, err, state.ErrUnknownPlayer)
}

func TestKickDisconnectsTarget(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ann := env.join(t, "Ann")
	bob := env.join(t, "Bob")
	bob.sink.drain(t)

	_, err := env.room.Apply(context.Background(), "Bob", state.Kick{Target: "Ann"})
	require.ErrorIs(t, err, state.ErrNotHost)

	env.apply(t, "Ann", state.Kick{Target: "Bob"})
	assert.True(t, bob.sink.Kicked())
	assert.False(t, ann.sink.Kicked())

	// Bob still saw his own removal before being dropped.
	evs := bob.sink.events(t)
	require.Equal(t, []uint16{network.MsgTypeDelta, network.MsgTypeLogAppended}, ids(evs))
	assert.True(t, decode[models.Delta](t, evs[0]).Seats[0].Removed)
}

func TestSeatVacatedAfterTimeoutPassesHost(t *testing.T) {
	opts := testOptions()
	opts.SeatTimeout = 30 * time.Millisecond
	env := newTestEnv(t, opts, nil)

	ann := env.join(t, "Ann")
	env.join(t, "Bob")
	env.join(t, "Cid")

	env.room.Disconnect(ann.sink.GetID())

	require.Eventually(t, func() bool {
		st, err := env.room.Snapshot(context.Background())
		return err == nil && len(st.Spectators) == 2
	}, time.Second, 5*time.Millisecond)

	st := env.snapshot(t)
	assert.Equal(t, []string{"Bob", "Cid"}, st.Spectators)
	assert.Equal(t, []string{"Bob"}, st.Hosts)

	kinds := make([]models.LogKind, 0, len(st.Log))
	for _, e := range st.Log {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []models.LogKind{models.LogJoined, models.LogJoined, models.LogJoined, models.LogLeft, models.LogHostChanged}, kinds)
}

func TestReconnectCancelsVacate(t *testing.T) {
	opts := testOptions()
	opts.SeatTimeout = 40 * time.Millisecond
	env := newTestEnv(t, opts, nil)

	env.join(t, "Ann")
	bob := env.join(t, "Bob")
	env.room.Disconnect(bob.sink.GetID())
	_, err := env.room.Reconnect(context.Background(), newSink("b2"), "Bob", bob.res.Token)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"Ann", "Bob"}, env.snapshot(t).Spectators)
}

func TestLastLeaveClosesRoom(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ann := env.join(t, "Ann")

	require.NoError(t, env.room.Leave(context.Background(), ann.sink.GetID()))

	select {
	case <-env.room.Done():
	case <-time.After(time.Second):
		t.Fatal("room did not close after its last seat left")
	}
	_, err := env.room.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrRoomClosed)
}

func TestCloseNotifiesSubscribers(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ann := env.join(t, "Ann")
	ann.sink.drain(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.room.Close(ctx))
	<-env.room.Done()

	evs := ann.sink.events(t)
	require.Equal(t, []uint16{network.MsgTypeRoomClosed}, ids(evs))
	assert.Equal(t, network.RoomClosed{RoomID: "ROOM01", Reason: "closed by server"}, decode[network.RoomClosed](t, evs[0]))
	assert.False(t, ann.sink.Kicked())
}

func TestFrozenRoomRejectsActions(t *testing.T) {
	calls := 0
	env := newTestEnv(t, testOptions(), func(r *Room) {
		r.checkInvariants = func(a *state.Aggregate) error {
			calls++
			if calls == 3 {
				return fmt.Errorf("%w: forced for test", state.ErrInternalInconsistency)
			}
			return a.CheckInvariants()
		}
	})
	env.join(t, "Ann")
	env.join(t, "Bob")

	_, err := env.room.Apply(context.Background(), "Ann", state.ChangeTeam{Team: models.TeamPurple})
	require.ErrorIs(t, err, ErrInternalInconsistency)
	assert.True(t, env.room.Frozen())

	_, err = env.room.Apply(context.Background(), "Ann", state.ChangeTeam{Team: models.TeamTeal})
	assert.ErrorIs(t, err, state.ErrRoomFrozen)

	_, err = env.room.Join(context.Background(), newSink("late"), "Cid")
	assert.ErrorIs(t, err, state.ErrRoomFrozen)

	// the room is kept as is for inspection
	_, err = env.room.Snapshot(context.Background())
	assert.NoError(t, err)
}

func TestSlowSubscriberDroppedOthersUnaffected(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	env.join(t, "Ann")

	slow := newSink("slow")
	slow.limit = 3
	_, err := env.room.Join(context.Background(), slow, "Bob")
	require.NoError(t, err)
	fast := env.join(t, "Cid")
	fast.sink.drain(t)

	for i := 0; i < 5; i++ {
		team := models.TeamPurple
		if i%2 == 1 {
			team = models.TeamTeal
		}
		env.apply(t, "Ann", state.ChangeTeam{Team: team})
	}

	assert.True(t, slow.Kicked())
	assert.Len(t, fast.sink.events(t), 10)
}

// Every subscriber sees the same events in the same order, whatever the
// interleaving of submitters.
func TestConcurrentActionsTotallyOrdered(t *testing.T) {
	opts := testOptions()
	opts.LockTeamsDuringGame = false
	env := newTestEnv(t, opts, nil)

	names := []string{"Ann", "Bob", "Cid", "Dee", "Eve", "Fay"}
	players := make([]*player, len(names))
	for i, n := range names {
		players[i] = env.join(t, n)
	}
	for _, p := range players {
		p.sink.drain(t)
	}

	var wg sync.WaitGroup
	for _, n := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				team := models.TeamPurple
				if i%2 == 1 {
					team = models.TeamTeal
				}
				_, err := env.room.Apply(context.Background(), name, state.ChangeTeam{Team: team})
				if err != nil && !errors.Is(err, state.ErrNoChange) {
					t.Errorf("%s: %v", name, err)
				}
			}
		}(n)
	}
	wg.Wait()

	var want []uint64
	for _, e := range players[0].sink.events(t) {
		if e.id == network.MsgTypeDelta {
			want = append(want, decode[models.Delta](t, e).Version)
		}
	}
	require.Len(t, want, len(names)*20)
	for i := 1; i < len(want); i++ {
		require.Equal(t, want[i-1]+1, want[i], "versions must be gapless and increasing")
	}

	for _, p := range players[1:] {
		var got []uint64
		for _, e := range p.sink.events(t) {
			if e.id == network.MsgTypeDelta {
				got = append(got, decode[models.Delta](t, e).Version)
			}
		}
		assert.Equal(t, want, got)
	}

	st := env.snapshot(t)
	assert.Len(t, st.TealSeekers, len(names))
	assert.Empty(t, st.PurpleSeekers)
	assert.Empty(t, st.Spectators)
}

func TestLogPersisted(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	env.join(t, "Ann")
	env.apply(t, "Ann", state.ChangeTeam{Team: models.TeamPurple})

	require.Eventually(t, func() bool {
		es, _ := env.store.LoadEntries(context.Background(), env.room.Key, 0, 0)
		return len(es) == 2
	}, time.Second, 5*time.Millisecond)

	es, err := env.store.LoadEntries(context.Background(), env.room.Key, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []models.LogKind{models.LogJoined, models.LogTeamChanged}, []models.LogKind{es[0].Kind, es[1].Kind})

	require.Eventually(t, func() bool {
		rec, err := env.store.LoadRoom(context.Background(), env.room.Key)
		return err == nil && rec.State == state.PhaseLobby && rec.Code == env.room.ID
	}, time.Second, 5*time.Millisecond)
}

// A code handed out again after its room closed must not mix the two logs.
func TestReusedCodeKeepsLogsApart(t *testing.T) {
	env := newTestEnv(t, testOptions(), nil)
	ann := env.join(t, "Ann")
	env.apply(t, "Ann", state.ChangeTeam{Team: models.TeamTeal})
	require.NoError(t, env.room.Leave(context.Background(), ann.sink.GetID()))
	<-env.room.Done()

	deps := Deps{Tokens: env.tokens, Timers: env.timers, Log: env.writer}
	next := newRoom(env.room.ID, testOptions(), deps, broadcast.NewHub(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		next.Close(ctx)
		<-next.Done()
	})
	require.NotEqual(t, env.room.Key, next.Key)

	_, err := next.Join(context.Background(), newSink("conn-Bob"), "Bob")
	require.NoError(t, err)

	load := func(key string) []models.LogEntry {
		es, _ := env.store.LoadEntries(context.Background(), key, 0, 0)
		return es
	}
	require.Eventually(t, func() bool { return len(load(next.Key)) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(load(env.room.Key)) == 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "Bob", load(next.Key)[0].Actor)
	first := load(env.room.Key)
	assert.Equal(t, []string{"Ann", "Ann", "Ann"}, []string{first[0].Actor, first[1].Actor, first[2].Actor})

	require.Eventually(t, func() bool {
		rec, err := env.store.LoadRoom(context.Background(), env.room.Key)
		return err == nil && rec.State == state.PhaseClosed
	}, time.Second, 5*time.Millisecond)
	rec, err := env.store.LoadRoom(context.Background(), next.Key)
	if assert.NoError(t, err) {
		assert.Equal(t, env.room.ID, rec.Code)
		assert.Nil(t, rec.ClosedAt)
	}

	// a token from the first room does not open the second
	_, err = next.Reconnect(context.Background(), newSink("x"), "Ann", ann.res.Token)
	assert.ErrorIs(t, err, ErrIdentityConflict)
}
