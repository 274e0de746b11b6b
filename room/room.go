// room/room.go
package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samclaus/games/auth"
	"github.com/samclaus/games/broadcast"
	"github.com/samclaus/games/logger"
	"github.com/samclaus/games/models"
	"github.com/samclaus/games/monitor"
	"github.com/samclaus/games/network"
	"github.com/samclaus/games/state"
	"github.com/samclaus/games/timer"
	"go.uber.org/zap"
)

var (
	ErrIdentityConflict = errors.New("identity conflict")
	ErrRoomClosed       = errors.New("room closed")
	ErrRoomNotFound     = errors.New("room not found")

	ErrInternalInconsistency = state.ErrInternalInconsistency
)

const maxNameLength = 32

// Options are the policy parameters a room is created with.
type Options struct {
	LockTeamsDuringGame bool
	Policy              state.Policy
	// SeatTimeout is how long a disconnected seat is kept. Zero keeps it
	// until the room closes.
	SeatTimeout time.Duration
	InboxSize   int
	LogTail     int
}

// Deps are the shared services a room uses. Log and Monitor are optional.
type Deps struct {
	Tokens  *auth.SeatTokens
	Timers  *timer.TimerManager
	Log     LogSink
	Monitor *monitor.Monitor
}

// JoinResult is what a connection learns about its own seat.
type JoinResult struct {
	RoomID string
	Name   string
	Role   models.Role
	Host   bool
	Token  string
}

// Room 是游戏房间的核心结构. One goroutine owns all room state; every
// operation is a request on the inbox and is handled to completion before
// the next one starts.
type Room struct {
	ID string
	// Key names this room instance in storage and seat tokens. Codes are
	// handed out again once a room closes; keys never are.
	Key       string
	CreatedAt time.Time

	opts Options
	deps Deps
	hub  Publisher
	log  *zap.SugaredLogger

	agg       *state.Aggregate
	lifecycle *state.Lifecycle
	sinks     map[string]broadcast.Sink // seated connections by id
	vacate    map[string]vacateTimer    // pending seat timeouts by name
	vacateGen uint64
	frozenErr error
	closed    bool

	inbox chan any
	done  chan struct{}

	statusMutex sync.RWMutex
	summary     models.RoomSummary

	onClose  func(*Room)
	onFreeze func(*Room)

	checkInvariants func(*state.Aggregate) error
	now             func() time.Time
}

type applyRequest struct {
	connID    string
	actor     string
	action    state.Action
	submitted time.Time
	reply     chan applyReply
}

type applyReply struct {
	delta models.Delta
	err   error
}

type joinRequest struct {
	sink  broadcast.Sink
	name  string
	token string
	reply chan joinReply
}

type joinReply struct {
	res JoinResult
	err error
}

type subscribeRequest struct {
	sink  broadcast.Sink
	reply chan error
}

type snapshotRequest struct {
	reply chan models.RoomState
}

type closeRequest struct {
	reason string
	reply  chan struct{}
}

// NewRoom 创建一个新房间 and starts its goroutine.
func NewRoom(id string, opts Options, deps Deps, hub Publisher) *Room {
	return newRoom(id, opts, deps, hub, nil)
}

// newRoom lets the caller adjust the room before its goroutine starts.
func newRoom(id string, opts Options, deps Deps, hub Publisher, setup func(*Room)) *Room {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 128
	}
	key := uuid.NewString()
	r := &Room{
		ID:              id,
		Key:             key,
		CreatedAt:       time.Now(),
		opts:            opts,
		deps:            deps,
		hub:             hub,
		log:             logger.Room(id).With("key", key),
		agg:             state.NewAggregate(id, opts.LockTeamsDuringGame, opts.Policy.Rotation),
		sinks:           make(map[string]broadcast.Sink),
		vacate:          make(map[string]vacateTimer),
		inbox:           make(chan any, opts.InboxSize),
		done:            make(chan struct{}),
		checkInvariants: (*state.Aggregate).CheckInvariants,
		now:             time.Now,
	}
	r.summary = models.RoomSummary{RoomID: id, Key: key, CreatedAt: r.CreatedAt}
	if setup != nil {
		setup(r)
	}
	r.lifecycle = state.NewLifecycle(r.onPhase)

	go r.loop()
	return r
}

// --- public API; safe from any goroutine ---

// Apply submits an action for the named seat and waits for the result. A
// rejection is a *state.Rejection and leaves the room unchanged.
func (r *Room) Apply(ctx context.Context, actor string, action state.Action) (models.Delta, error) {
	return r.ApplyFrom(ctx, "", actor, action)
}

// ApplyFrom is Apply for a request arriving on connection connID. The action
// is refused if the seat has since been taken over by another connection;
// it still completes if the seat merely went offline.
func (r *Room) ApplyFrom(ctx context.Context, connID, actor string, action state.Action) (models.Delta, error) {
	if action == nil {
		return models.Delta{}, state.Malformed("missing action")
	}
	req := &applyRequest{
		connID:    connID,
		actor:     actor,
		action:    action,
		submitted: time.Now(),
		reply:     make(chan applyReply, 1),
	}
	rep, err := call(ctx, r, req, req.reply)
	if err != nil {
		return models.Delta{}, err
	}
	return rep.delta, rep.err
}

// Join seats the connection as a new spectator. An empty name gets a
// default. The sink receives Joined and Snapshot, then every later event.
func (r *Room) Join(ctx context.Context, sink broadcast.Sink, name string) (JoinResult, error) {
	req := &joinRequest{sink: sink, name: name, reply: make(chan joinReply, 1)}
	rep, err := call(ctx, r, req, req.reply)
	if err != nil {
		return JoinResult{}, err
	}
	return rep.res, rep.err
}

// Subscribe streams the room to a sink that holds no seat: a snapshot
// first, then every event committed after it.
func (r *Room) Subscribe(ctx context.Context, sink broadcast.Sink) error {
	req := &subscribeRequest{sink: sink, reply: make(chan error, 1)}
	err, callErr := call(ctx, r, req, req.reply)
	if callErr != nil {
		return callErr
	}
	return err
}

func (r *Room) Unsubscribe(id string) {
	r.hub.Unsubscribe(id)
}

// Snapshot returns a full copy of the room state.
func (r *Room) Snapshot(ctx context.Context) (models.RoomState, error) {
	req := &snapshotRequest{reply: make(chan models.RoomState, 1)}
	return call(ctx, r, req, req.reply)
}

// Close shuts the room down. Pending requests fail with ErrRoomClosed.
func (r *Room) Close(ctx context.Context) error {
	req := &closeRequest{reason: "closed by server", reply: make(chan struct{}, 1)}
	_, err := call(ctx, r, req, req.reply)
	if errors.Is(err, ErrRoomClosed) {
		return nil
	}
	return err
}

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Summary is the room's listing entry as of its last commit.
func (r *Room) Summary() models.RoomSummary {
	r.statusMutex.RLock()
	defer r.statusMutex.RUnlock()
	return r.summary
}

func (r *Room) Frozen() bool {
	return r.Summary().Frozen
}

// call hands req to the room goroutine and waits for its reply. Once queued
// a request is always handled, even if ctx ends first.
func call[T any](ctx context.Context, r *Room, req any, reply chan T) (T, error) {
	var zero T
	select {
	case r.inbox <- req:
	case <-r.done:
		return zero, ErrRoomClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrRoomClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// post queues a request without waiting for it to be handled.
func (r *Room) post(req any) bool {
	select {
	case r.inbox <- req:
		return true
	case <-r.done:
		return false
	}
}

// --- room goroutine ---

func (r *Room) loop() {
	defer close(r.done)

	for !r.closed {
		switch req := (<-r.inbox).(type) {
		case *applyRequest:
			delta, err := r.apply(req)
			req.reply <- applyReply{delta: delta, err: err}
		case *joinRequest:
			var (
				res JoinResult
				err error
			)
			if req.token != "" {
				res, err = r.reconnect(req)
			} else {
				res, err = r.join(req)
			}
			req.reply <- joinReply{res: res, err: err}
		case *subscribeRequest:
			req.reply <- r.subscribe(req.sink)
		case *snapshotRequest:
			req.reply <- r.agg.Snapshot(r.opts.LogTail)
		case *leaveRequest:
			req.reply <- r.leave(req.connID)
		case *disconnectRequest:
			r.disconnect(req.connID)
		case *vacateRequest:
			r.vacateSeat(req)
		case *closeRequest:
			r.close(req.reason)
			req.reply <- struct{}{}
		default:
			r.log.Errorw("unknown room request", "type", fmt.Sprintf("%T", req))
		}
	}
}

// acceptingChanges reports why the room cannot take a new mutation.
func (r *Room) acceptingChanges() error {
	if r.frozenErr != nil {
		return &state.Rejection{Reason: state.ReasonRoomFrozen, Detail: "room is frozen for inspection"}
	}
	return nil
}

func (r *Room) apply(req *applyRequest) (models.Delta, error) {
	if err := r.acceptingChanges(); err != nil {
		r.deps.Monitor.ActionRejected(string(state.ReasonRoomFrozen))
		return models.Delta{}, err
	}

	actor := state.Actor{Name: req.actor}
	if seat, ok := r.agg.Seat(req.actor); ok {
		if req.connID != "" && seat.Connected() && seat.ConnID != req.connID {
			r.deps.Monitor.ActionRejected(string(state.ReasonUnknownPlayer))
			return models.Delta{}, &state.Rejection{Reason: state.ReasonUnknownPlayer, Detail: "seat is held by another connection"}
		}
		actor.Host = seat.Host
	}

	change, err := state.Decide(r.agg, r.opts.Policy, actor, req.action)
	if err != nil {
		var rej *state.Rejection
		if errors.As(err, &rej) {
			r.deps.Monitor.ActionRejected(string(rej.Reason))
		}
		r.log.Debugw("action rejected", "actor", req.actor, "kind", req.action.Kind(), "error", err)
		return models.Delta{}, err
	}

	delta, err := r.commit(change)
	if err != nil {
		return models.Delta{}, err
	}
	r.deps.Monitor.ActionAccepted(string(req.action.Kind()))
	r.deps.Monitor.ObserveApplyLatency(time.Since(req.submitted))
	return delta, nil
}

// commit applies an accepted change, verifies the room, and publishes the
// delta followed by its log entries.
func (r *Room) commit(c state.Change) (models.Delta, error) {
	removed := make(map[string]string, len(c.Removes))
	for _, name := range c.Removes {
		if seat, ok := r.agg.Seat(name); ok {
			removed[name] = seat.ConnID
		}
	}

	delta, entries := r.agg.Commit(c, r.now())
	if err := r.checkInvariants(r.agg); err != nil {
		r.freeze(err)
		return models.Delta{}, err
	}
	r.syncPhase()

	r.publish(network.MsgTypeDelta, delta)
	if len(entries) > 0 {
		r.publish(network.MsgTypeLogAppended, models.LogAppended{Version: delta.Version, Entries: entries})
		if r.deps.Log != nil && !r.deps.Log.Append(r.Key, entries) {
			r.deps.Monitor.IncPersistDrops()
		}
	}

	for name, connID := range removed {
		r.cancelVacate(name)
		if connID == "" {
			continue
		}
		r.hub.Unsubscribe(connID)
		if sink, ok := r.sinks[connID]; ok {
			delete(r.sinks, connID)
			if c.Kind == models.LogKicked {
				sink.Kick("kicked by host")
			}
		}
	}

	r.refreshSummary()
	if r.agg.Len() == 0 {
		r.close("last seat vacated")
	}
	return delta, nil
}

func (r *Room) join(req *joinRequest) (JoinResult, error) {
	if err := r.acceptingChanges(); err != nil {
		return JoinResult{}, err
	}

	connID := req.sink.GetID()
	if seat, ok := r.agg.SeatByConn(connID); ok {
		return JoinResult{}, fmt.Errorf("%w: connection already holds seat %q", ErrIdentityConflict, seat.Name)
	}
	name, err := r.pickName(req.name)
	if err != nil {
		return JoinResult{}, err
	}
	if _, taken := r.agg.Seat(name); taken {
		return JoinResult{}, fmt.Errorf("%w: %q is already seated", ErrIdentityConflict, name)
	}

	seatID := uuid.NewString()
	token, err := r.deps.Tokens.Issue(auth.SeatClaim{Room: r.Key, Name: name, Seat: seatID}, r.now())
	if err != nil {
		return JoinResult{}, err
	}

	change := state.Change{
		Joins:   []state.Join{{SeatID: seatID, Name: name, ConnID: connID, Host: r.agg.Len() == 0}},
		Actor:   name,
		Kind:    models.LogJoined,
		Summary: name + " joined",
	}
	if _, err := r.commit(change); err != nil {
		return JoinResult{}, err
	}

	seat, _ := r.agg.Seat(name)
	res := JoinResult{RoomID: r.ID, Name: seat.Name, Role: seat.Role, Host: seat.Host, Token: token}
	r.attach(req.sink, res)
	r.log.Infow("player joined", "name", name, "conn", connID, "host", seat.Host)
	return res, nil
}

// pickName validates a requested name, or picks "Player N" for an empty one.
func (r *Room) pickName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		for n := r.agg.Len() + 1; ; n++ {
			name = fmt.Sprintf("Player %d", n)
			if _, taken := r.agg.Seat(name); !taken {
				return name, nil
			}
		}
	}
	if !utf8.ValidString(name) || utf8.RuneCountInString(name) > maxNameLength {
		return "", state.Malformed("name must be valid text of at most %d characters", maxNameLength)
	}
	return name, nil
}

// attach sends a seated connection its own seat and a snapshot, then
// subscribes it to later events.
func (r *Room) attach(sink broadcast.Sink, res JoinResult) {
	joined, err := network.EncodeJSON(network.MsgTypeJoined, network.Joined{
		RoomID: res.RoomID,
		Name:   res.Name,
		Role:   res.Role,
		Host:   res.Host,
		Token:  res.Token,
	})
	if err != nil {
		r.log.Errorw("failed to encode joined", "error", err)
		return
	}
	snap, err := r.snapshotFrame()
	if err != nil {
		return
	}

	r.sinks[sink.GetID()] = sink
	if !r.hub.Subscribe(sink, joined, snap) {
		r.log.Warnw("new subscriber could not take its snapshot", "conn", sink.GetID())
	}
}

func (r *Room) subscribe(sink broadcast.Sink) error {
	snap, err := r.snapshotFrame()
	if err != nil {
		return err
	}
	r.hub.Subscribe(sink, snap)
	return nil
}

func (r *Room) snapshotFrame() ([]byte, error) {
	frame, err := network.EncodeJSON(network.MsgTypeSnapshot, r.agg.Snapshot(r.opts.LogTail))
	if err != nil {
		r.log.Errorw("failed to encode snapshot", "error", err)
	}
	return frame, err
}

func (r *Room) publish(msgID uint16, v any) {
	frame, err := network.EncodeJSON(msgID, v)
	if err != nil {
		r.log.Errorw("failed to encode event", "msg", msgID, "error", err)
		return
	}
	r.hub.Publish(frame)
}

// freeze stops the room from taking further changes. Its state is kept as
// is for inspection.
func (r *Room) freeze(err error) {
	if r.frozenErr != nil {
		return
	}
	r.frozenErr = err
	r.log.Errorw("room frozen", "error", err, "version", r.agg.Version())
	if cerr := r.lifecycle.ChangeState(r.lifecycle.Frozen); cerr != nil {
		r.log.Errorw("failed to enter frozen phase", "error", cerr)
	}
	r.refreshSummary()
	if r.onFreeze != nil {
		r.onFreeze(r)
	}
}

// syncPhase keeps the lifecycle machine in step with the game state.
func (r *Room) syncPhase() {
	_, inRound := r.agg.Game()
	var next *state.Phase
	switch {
	case inRound && r.lifecycle.Is(state.PhaseLobby):
		next = r.lifecycle.Round
	case !inRound && r.lifecycle.Is(state.PhaseRound):
		next = r.lifecycle.Lobby
	default:
		return
	}
	if err := r.lifecycle.ChangeState(next); err != nil {
		r.log.Errorw("phase change refused", "to", next.ID, "error", err)
	}
}

// onPhase runs on every lifecycle transition.
func (r *Room) onPhase(id string) {
	r.log.Infow("room phase", "phase", id)
	if r.deps.Log == nil {
		return
	}

	rec := models.RoomRecord{
		RoomID:              r.Key,
		Code:                r.ID,
		LockTeamsDuringGame: r.opts.LockTeamsDuringGame,
		State:               id,
		CreatedAt:           r.CreatedAt,
	}
	for _, s := range r.agg.Seats() {
		rec.Players = append(rec.Players, s.Name)
	}
	if id == state.PhaseClosed {
		now := r.now()
		rec.ClosedAt = &now
	}
	if !r.deps.Log.SaveRoom(rec) {
		r.deps.Monitor.IncPersistDrops()
	}
}

func (r *Room) refreshSummary() {
	_, inRound := r.agg.Game()
	r.statusMutex.Lock()
	r.summary.Players = r.agg.Len()
	r.summary.InRound = inRound
	r.summary.Frozen = r.frozenErr != nil
	r.statusMutex.Unlock()
}

func (r *Room) close(reason string) {
	if r.closed {
		return
	}
	r.closed = true

	for name := range r.vacate {
		r.cancelVacate(name)
	}
	if err := r.lifecycle.ChangeState(r.lifecycle.Closed); err != nil {
		r.log.Errorw("failed to enter closed phase", "error", err)
	}
	if r.hub.Len() > 0 {
		r.publish(network.MsgTypeRoomClosed, network.RoomClosed{RoomID: r.ID, Reason: reason})
	}
	r.hub.Close()
	r.log.Infow("room closed", "reason", reason)

	if r.onClose != nil {
		r.onClose(r)
	}
}
