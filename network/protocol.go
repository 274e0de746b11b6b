package network

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/samclaus/games/models"
	"github.com/samclaus/games/state"
)

// Client -> server
const (
	MsgTypeHeartbeat  = 1
	MsgTypeJoinRoom   = 101
	MsgTypeLeaveRoom  = 102
	MsgTypeCreateRoom = 103
	MsgTypeAction     = 201
)

// Server -> client
const (
	MsgTypeJoined      = 300
	MsgTypeSnapshot    = 301
	MsgTypeDelta       = 302
	MsgTypeLogAppended = 303
	MsgTypePresence    = 304
	MsgTypeRejection   = 305
	MsgTypeRoomClosed  = 306
)

// JoinRequest joins an existing room. A non-empty Token reattaches a
// disconnected seat instead of taking a new one.
type JoinRequest struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
	Token  string `json:"token,omitempty"`
}

type CreateRequest struct {
	Name                string `json:"name"`
	LockTeamsDuringGame *bool  `json:"lock_teams_during_game,omitempty"`
}

// Joined is sent privately to a connection once it holds a seat.
type Joined struct {
	RoomID string      `json:"room_id"`
	Name   string      `json:"name"`
	Role   models.Role `json:"role"`
	Host   bool        `json:"host"`
	Token  string      `json:"token"`
}

// Rejection is sent only to the connection whose request was refused.
type Rejection struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// RoomClosed is the last frame subscribers get from a room that shut down
// while they were still watching it.
type RoomClosed struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// ActionPayload is the JSON body of MsgTypeAction. Fields are read according
// to Kind.
type ActionPayload struct {
	Kind     string `json:"kind"`
	Team     string `json:"team,omitempty"`
	Role     string `json:"role,omitempty"`
	Target   string `json:"target,omitempty"`
	Text     string `json:"text,omitempty"`
	Count    int    `json:"count,omitempty"`
	External bool   `json:"external,omitempty"`
}

// Limits bounds client input that is checked before an action reaches a room.
type Limits struct {
	MaxClueCount  int
	MaxClueLength int
}

// DecodeAction parses and validates the shape of an action. Anything that
// does not depend on room state is rejected here as MalformedAction.
func DecodeAction(data []byte, lim Limits) (state.Action, error) {
	var p ActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, state.Malformed("invalid action body: %v", err)
	}

	switch state.ActionKind(p.Kind) {
	case state.KindChangeTeam:
		team, err := models.ParseTeam(p.Team)
		if err != nil {
			return nil, state.Malformed("%v", err)
		}
		return state.ChangeTeam{Team: team}, nil
	case state.KindChangeRole:
		switch p.Role {
		case "knower":
			return state.ChangeRole{Knower: true}, nil
		case "seeker":
			return state.ChangeRole{Knower: false}, nil
		}
		return nil, state.Malformed("role must be seeker or knower, got %q", p.Role)
	case state.KindStartRound:
		return state.StartRound{}, nil
	case state.KindEndRound:
		return state.EndRound{}, nil
	case state.KindGiveClue:
		if p.Count < 0 || p.Count > lim.MaxClueCount {
			return nil, state.Malformed("clue count must be between 0 and %d", lim.MaxClueCount)
		}
		if !utf8.ValidString(p.Text) || utf8.RuneCountInString(p.Text) > lim.MaxClueLength {
			return nil, state.Malformed("clue must be valid text of at most %d characters", lim.MaxClueLength)
		}
		return state.GiveClue{Text: p.Text, Count: p.Count, External: p.External}, nil
	case state.KindEndTurn:
		return state.EndTurn{}, nil
	case state.KindForceMove:
		role, err := models.ParseRole(p.Role)
		if err != nil {
			return nil, state.Malformed("%v", err)
		}
		if p.Target == "" {
			return nil, state.Malformed("force_move needs a target")
		}
		return state.ForceMove{Target: p.Target, Role: role}, nil
	case state.KindKick:
		if p.Target == "" {
			return nil, state.Malformed("kick needs a target")
		}
		return state.Kick{Target: p.Target}, nil
	}
	return nil, state.Malformed("unknown action kind %q", p.Kind)
}

// EncodeJSON marshals v and frames it under msgID.
func EncodeJSON(msgID uint16, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return EncodePacket(msgID, data)
}
