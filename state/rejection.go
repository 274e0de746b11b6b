package state

import "fmt"

// Reason is the machine-readable code of a rejected action. It is sent to the
// submitting client only.
type Reason string

const (
	ReasonNotYourTurn           Reason = "NotYourTurn"
	ReasonKnowerLocked          Reason = "KnowerLocked"
	ReasonTeamsLockedDuringGame Reason = "TeamsLockedDuringGame"
	ReasonNotHost               Reason = "NotHost"
	ReasonEmptyClueNotAllowed   Reason = "EmptyClueNotAllowed"
	ReasonInvalidRoundState     Reason = "InvalidRoundState"
	ReasonNotOnTeam             Reason = "NotOnTeam"
	ReasonUnknownPlayer         Reason = "UnknownPlayer"
	ReasonNoChange              Reason = "NoChange"
	ReasonRoomFrozen            Reason = "RoomFrozen"
	ReasonMalformedAction       Reason = "MalformedAction"
)

// Rejection is returned when an action is refused. Room state is unchanged.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}

// Is matches any rejection with the same reason, so callers can use
// errors.Is(err, state.ErrKnowerLocked) regardless of detail text.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

var (
	ErrNotYourTurn           = &Rejection{Reason: ReasonNotYourTurn}
	ErrKnowerLocked          = &Rejection{Reason: ReasonKnowerLocked}
	ErrTeamsLockedDuringGame = &Rejection{Reason: ReasonTeamsLockedDuringGame}
	ErrNotHost               = &Rejection{Reason: ReasonNotHost}
	ErrEmptyClueNotAllowed   = &Rejection{Reason: ReasonEmptyClueNotAllowed}
	ErrInvalidRoundState     = &Rejection{Reason: ReasonInvalidRoundState}
	ErrNotOnTeam             = &Rejection{Reason: ReasonNotOnTeam}
	ErrUnknownPlayer         = &Rejection{Reason: ReasonUnknownPlayer}
	ErrNoChange              = &Rejection{Reason: ReasonNoChange}
	ErrRoomFrozen            = &Rejection{Reason: ReasonRoomFrozen}
	ErrMalformedAction       = &Rejection{Reason: ReasonMalformedAction}
)

func reject(base *Rejection, format string, args ...any) error {
	return &Rejection{Reason: base.Reason, Detail: fmt.Sprintf(format, args...)}
}

// Malformed builds a MalformedAction rejection; used by decoders before an
// action ever reaches a room.
func Malformed(format string, args ...any) error {
	return reject(ErrMalformedAction, format, args...)
}
