package state

import "github.com/samclaus/games/models"

// ActionKind names a player action on the wire and in logs.
type ActionKind string

const (
	KindChangeTeam ActionKind = "change_team"
	KindChangeRole ActionKind = "change_role"
	KindStartRound ActionKind = "start_round"
	KindEndRound   ActionKind = "end_round"
	KindGiveClue   ActionKind = "give_clue"
	KindEndTurn    ActionKind = "end_turn"
	KindForceMove  ActionKind = "force_move"
	KindKick       ActionKind = "kick"
)

// Action is a request made by a seated player.
type Action interface {
	Kind() ActionKind
}

// ChangeTeam moves the actor to the seekers of Team, or to the spectators for
// TeamNone.
type ChangeTeam struct {
	Team models.Team
}

// ChangeRole swaps the actor between seeker and knower on their current team.
type ChangeRole struct {
	Knower bool
}

type StartRound struct{}

type EndRound struct{}

// GiveClue submits the knower's clue. External marks clues given outside the
// app (e.g. by voice), which may be empty.
type GiveClue struct {
	Text     string
	Count    int
	External bool
}

type EndTurn struct{}

// ForceMove is a host action putting Target into Role.
type ForceMove struct {
	Target string
	Role   models.Role
}

// Kick is a host action removing Target from the room.
type Kick struct {
	Target string
}

func (ChangeTeam) Kind() ActionKind { return KindChangeTeam }
func (ChangeRole) Kind() ActionKind { return KindChangeRole }
func (StartRound) Kind() ActionKind { return KindStartRound }
func (EndRound) Kind() ActionKind   { return KindEndRound }
func (GiveClue) Kind() ActionKind   { return KindGiveClue }
func (EndTurn) Kind() ActionKind    { return KindEndTurn }
func (ForceMove) Kind() ActionKind  { return KindForceMove }
func (Kick) Kind() ActionKind       { return KindKick }

// Actor identifies who submitted an action.
type Actor struct {
	Name string
	Host bool
}
