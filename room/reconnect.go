package room

import (
	"context"
	"fmt"

	"github.com/samclaus/games/broadcast"
	"github.com/samclaus/games/models"
	"github.com/samclaus/games/network"
	"github.com/samclaus/games/state"
)

type leaveRequest struct {
	connID string
	reply  chan error
}

type disconnectRequest struct {
	connID string
}

type vacateRequest struct {
	name string
	gen  uint64
}

type vacateTimer struct {
	id  int64
	gen uint64
}

// Reconnect reattaches a connection to the disconnected seat the token was
// issued for. name, if not empty, must match the token. The seat keeps its
// role; only a presence event is published.
func (r *Room) Reconnect(ctx context.Context, sink broadcast.Sink, name, token string) (JoinResult, error) {
	if token == "" {
		return JoinResult{}, fmt.Errorf("%w: missing seat token", ErrIdentityConflict)
	}
	req := &joinRequest{sink: sink, name: name, token: token, reply: make(chan joinReply, 1)}
	rep, err := call(ctx, r, req, req.reply)
	if err != nil {
		return JoinResult{}, err
	}
	return rep.res, rep.err
}

// Leave vacates the seat held by connID right away.
func (r *Room) Leave(ctx context.Context, connID string) error {
	req := &leaveRequest{connID: connID, reply: make(chan error, 1)}
	err, callErr := call(ctx, r, req, req.reply)
	if callErr != nil {
		return callErr
	}
	return err
}

// Disconnect marks the seat held by connID as offline. It does not wait
// for the room to handle it.
func (r *Room) Disconnect(connID string) {
	r.post(&disconnectRequest{connID: connID})
}

func (r *Room) reconnect(req *joinRequest) (JoinResult, error) {
	if err := r.acceptingChanges(); err != nil {
		return JoinResult{}, err
	}

	claim, err := r.deps.Tokens.Verify(req.token)
	if err != nil || claim.Room != r.Key {
		return JoinResult{}, fmt.Errorf("%w: invalid seat token", ErrIdentityConflict)
	}
	name := claim.Name
	if req.name != "" && req.name != name {
		return JoinResult{}, fmt.Errorf("%w: token was issued to %q", ErrIdentityConflict, name)
	}
	seat, ok := r.agg.Seat(name)
	if !ok {
		return JoinResult{}, fmt.Errorf("%w: %q is not seated", ErrIdentityConflict, name)
	}
	// the name may have been seated again since the token was issued
	if seat.ID != claim.Seat {
		return JoinResult{}, fmt.Errorf("%w: token was issued for an earlier %q seat", ErrIdentityConflict, name)
	}
	if seat.Connected() {
		return JoinResult{}, fmt.Errorf("%w: %q is already connected", ErrIdentityConflict, name)
	}
	connID := req.sink.GetID()
	if other, ok := r.agg.SeatByConn(connID); ok {
		return JoinResult{}, fmt.Errorf("%w: connection already holds seat %q", ErrIdentityConflict, other.Name)
	}

	presence, _ := r.agg.SetConnection(name, connID)
	if err := r.checkInvariants(r.agg); err != nil {
		r.freeze(err)
		return JoinResult{}, err
	}
	r.cancelVacate(name)
	r.publish(network.MsgTypePresence, presence)
	r.refreshSummary()

	res := JoinResult{RoomID: r.ID, Name: seat.Name, Role: seat.Role, Host: seat.Host, Token: req.token}
	r.attach(req.sink, res)
	r.log.Infow("player reconnected", "name", name, "conn", connID)
	return res, nil
}

func (r *Room) disconnect(connID string) {
	r.hub.Unsubscribe(connID)
	delete(r.sinks, connID)

	seat, ok := r.agg.SeatByConn(connID)
	if !ok || r.frozenErr != nil {
		return
	}

	presence, _ := r.agg.SetConnection(seat.Name, "")
	if err := r.checkInvariants(r.agg); err != nil {
		r.freeze(err)
		return
	}
	r.publish(network.MsgTypePresence, presence)
	r.refreshSummary()
	r.scheduleVacate(seat.Name)
	r.log.Infow("player disconnected", "name", seat.Name, "conn", connID)
}

func (r *Room) leave(connID string) error {
	if err := r.acceptingChanges(); err != nil {
		return err
	}
	seat, ok := r.agg.SeatByConn(connID)
	if !ok {
		return &state.Rejection{Reason: state.ReasonUnknownPlayer, Detail: "connection holds no seat"}
	}
	_, err := r.commit(state.Change{
		Removes: []string{seat.Name},
		Actor:   seat.Name,
		Kind:    models.LogLeft,
		Summary: seat.Name + " left",
	})
	return err
}

// scheduleVacate releases the seat after the configured timeout unless the
// player reconnects first.
func (r *Room) scheduleVacate(name string) {
	if r.opts.SeatTimeout <= 0 || r.deps.Timers == nil {
		return
	}
	r.cancelVacate(name)

	r.vacateGen++
	gen := r.vacateGen
	id := r.deps.Timers.AddTimer(r.opts.SeatTimeout, 0, func() {
		r.post(&vacateRequest{name: name, gen: gen})
	})
	r.vacate[name] = vacateTimer{id: id, gen: gen}
}

func (r *Room) cancelVacate(name string) {
	t, ok := r.vacate[name]
	if !ok {
		return
	}
	delete(r.vacate, name)
	if r.deps.Timers != nil {
		r.deps.Timers.RemoveTimer(t.id)
	}
}

func (r *Room) vacateSeat(req *vacateRequest) {
	t, ok := r.vacate[req.name]
	if !ok || t.gen != req.gen {
		return
	}
	delete(r.vacate, req.name)

	if r.frozenErr != nil {
		return
	}
	seat, ok := r.agg.Seat(req.name)
	if !ok || seat.Connected() {
		return
	}
	if _, err := r.commit(state.Change{
		Removes: []string{seat.Name},
		Actor:   seat.Name,
		Kind:    models.LogLeft,
		Summary: seat.Name + " left (timed out)",
	}); err != nil {
		r.log.Errorw("failed to vacate seat", "name", seat.Name, "error", err)
		return
	}
	r.log.Infow("seat vacated", "name", seat.Name)
}
