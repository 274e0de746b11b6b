package state

import (
	"fmt"
	"strings"

	"github.com/samclaus/games/models"
)

// View is the read-only room state the validator decides against.
type View interface {
	LockTeams() bool
	Seat(name string) (Seat, bool)
	Game() (models.GameState, bool)
	WasKnower(name string) bool
	Occupants(r models.Role) int
	Rounds() int
}

// Policy holds the rule parameters a room was created with.
type Policy struct {
	// Rotation is the turn order; a permutation of the four team roles.
	Rotation []models.Role
	// MinPerRole is how many players each team role needs to start a round.
	MinPerRole int
}

// Decide authorizes an action. It never mutates the view: on success it
// returns the change to commit, otherwise a *Rejection.
func Decide(v View, p Policy, actor Actor, a Action) (Change, error) {
	seat, ok := v.Seat(actor.Name)
	if !ok {
		return Change{}, reject(ErrUnknownPlayer, "%s is not seated", actor.Name)
	}
	g, inRound := v.Game()

	switch act := a.(type) {
	case ChangeTeam:
		return decideChangeTeam(v, seat, inRound, act)
	case ChangeRole:
		return decideChangeRole(v, seat, inRound, act)
	case StartRound:
		return decideStartRound(v, p, actor, inRound)
	case EndRound:
		if !actor.Host {
			return Change{}, reject(ErrNotHost, "only the host can end a round")
		}
		if !inRound {
			return Change{}, reject(ErrInvalidRoundState, "no round in progress")
		}
		return Change{EndGame: true, Actor: seat.Name, Kind: models.LogRoundEnd, Summary: fmt.Sprintf("%s ended round %d", seat.Name, g.Round)}, nil
	case GiveClue:
		return decideGiveClue(v, p, actor, seat, g, inRound, act)
	case EndTurn:
		if !inRound {
			return Change{}, reject(ErrInvalidRoundState, "no round in progress")
		}
		if seat.Role != g.Turn && !actor.Host {
			return Change{}, reject(ErrNotYourTurn, "it is %s's turn", g.Turn)
		}
		next := NextTurn(p.Rotation, g.Turn, v.Occupants)
		return Change{
			Turn:    &next,
			Clue:    &Clue{},
			Actor:   seat.Name,
			Kind:    models.LogTurnEnded,
			Summary: fmt.Sprintf("%s ended the %s turn", seat.Name, g.Turn),
		}, nil
	case ForceMove:
		return decideForceMove(v, actor, inRound, act)
	case Kick:
		if !actor.Host {
			return Change{}, reject(ErrNotHost, "only the host can kick players")
		}
		if _, ok := v.Seat(act.Target); !ok {
			return Change{}, reject(ErrUnknownPlayer, "%s is not seated", act.Target)
		}
		return Change{
			Removes: []string{act.Target},
			Actor:   seat.Name,
			Kind:    models.LogKicked,
			Summary: fmt.Sprintf("%s kicked %s", seat.Name, act.Target),
		}, nil
	case nil:
		return Change{}, Malformed("missing action")
	}
	return Change{}, Malformed("unsupported action %s", a.Kind())
}

// roundKnower reports whether the seat is frozen into knower status.
func roundKnower(v View, s Seat) bool {
	return s.Role.IsKnower() || v.WasKnower(s.Name)
}

func decideChangeTeam(v View, seat Seat, inRound bool, act ChangeTeam) (Change, error) {
	if !act.Team.Valid() {
		return Change{}, Malformed("unknown team %d", act.Team)
	}
	if seat.Role.Team() == act.Team {
		return Change{}, reject(ErrNoChange, "already on %s", act.Team)
	}
	if inRound && roundKnower(v, seat) {
		return Change{}, reject(ErrKnowerLocked, "%s has seen the board this round", seat.Name)
	}
	if inRound && v.LockTeams() {
		return Change{}, reject(ErrTeamsLockedDuringGame, "teams are locked until the round ends")
	}

	to := act.Team.Seeker()
	summary := fmt.Sprintf("%s joined the %s team", seat.Name, act.Team)
	if act.Team == models.TeamNone {
		summary = seat.Name + " became a spectator"
	}
	return Change{
		Moves:   []Move{{Name: seat.Name, To: to}},
		Actor:   seat.Name,
		Kind:    models.LogTeamChanged,
		Summary: summary,
	}, nil
}

func decideChangeRole(v View, seat Seat, inRound bool, act ChangeRole) (Change, error) {
	team := seat.Role.Team()
	if team == models.TeamNone {
		return Change{}, reject(ErrNotOnTeam, "join a team first")
	}
	to := team.Seeker()
	if act.Knower {
		to = team.Knower()
	}
	if to == seat.Role {
		return Change{}, reject(ErrNoChange, "already %s", to)
	}
	if inRound {
		if roundKnower(v, seat) {
			return Change{}, reject(ErrKnowerLocked, "%s has seen the board this round", seat.Name)
		}
		return Change{}, reject(ErrInvalidRoundState, "roles cannot change during a round")
	}
	return Change{
		Moves:   []Move{{Name: seat.Name, To: to}},
		Actor:   seat.Name,
		Kind:    models.LogRoleChanged,
		Summary: fmt.Sprintf("%s is now %s", seat.Name, to),
	}, nil
}

func decideStartRound(v View, p Policy, actor Actor, inRound bool) (Change, error) {
	if !actor.Host {
		return Change{}, reject(ErrNotHost, "only the host can start a round")
	}
	if inRound {
		return Change{}, reject(ErrInvalidRoundState, "a round is already in progress")
	}
	for _, r := range models.TeamRoles {
		if n := v.Occupants(r); n < p.MinPerRole {
			return Change{}, reject(ErrInvalidRoundState, "%s needs at least %d player(s), has %d", r, p.MinPerRole, n)
		}
	}
	first, ok := firstOccupied(p.Rotation, v.Occupants)
	if !ok {
		return Change{}, reject(ErrInvalidRoundState, "nobody is on a team")
	}
	round := v.Rounds() + 1
	return Change{
		StartGame: &models.GameState{Turn: first, Round: round},
		Actor:     actor.Name,
		Kind:      models.LogRoundStart,
		Summary:   fmt.Sprintf("%s started round %d", actor.Name, round),
	}, nil
}

func decideGiveClue(v View, p Policy, actor Actor, seat Seat, g models.GameState, inRound bool, act GiveClue) (Change, error) {
	if !inRound {
		return Change{}, reject(ErrInvalidRoundState, "no round in progress")
	}
	if seat.Role != g.Turn && !actor.Host {
		return Change{}, reject(ErrNotYourTurn, "it is %s's turn", g.Turn)
	}
	if !g.Turn.IsKnower() {
		return Change{}, reject(ErrInvalidRoundState, "clues are given on a knower turn")
	}
	if act.Count < 0 {
		return Change{}, Malformed("negative clue count")
	}
	text := strings.TrimSpace(act.Text)
	if text == "" && !act.External {
		return Change{}, reject(ErrEmptyClueNotAllowed, "clue text is empty")
	}

	next := NextTurn(p.Rotation, g.Turn, v.Occupants)
	summary := fmt.Sprintf("%s gave the clue %q for %d", seat.Name, text, act.Count)
	if text == "" {
		summary = fmt.Sprintf("%s gave a clue out loud for %d", seat.Name, act.Count)
	}
	return Change{
		Turn:    &next,
		Clue:    &Clue{Text: text, Count: act.Count},
		Actor:   seat.Name,
		Kind:    models.LogClueGiven,
		Summary: summary,
	}, nil
}

func decideForceMove(v View, actor Actor, inRound bool, act ForceMove) (Change, error) {
	if !actor.Host {
		return Change{}, reject(ErrNotHost, "only the host can move other players")
	}
	if !act.Role.Valid() {
		return Change{}, Malformed("unknown role %d", act.Role)
	}
	target, ok := v.Seat(act.Target)
	if !ok {
		return Change{}, reject(ErrUnknownPlayer, "%s is not seated", act.Target)
	}
	if target.Role == act.Role {
		return Change{}, reject(ErrNoChange, "%s is already %s", target.Name, act.Role)
	}
	if inRound && roundKnower(v, target) && !act.Role.IsKnower() {
		return Change{}, reject(ErrKnowerLocked, "%s has seen the board this round", target.Name)
	}
	return Change{
		Moves:   []Move{{Name: target.Name, To: act.Role}},
		Actor:   actor.Name,
		Kind:    models.LogForceMoved,
		Summary: fmt.Sprintf("%s moved %s to %s", actor.Name, target.Name, act.Role),
	}, nil
}

// NextTurn returns the role after current in the rotation, skipping roles
// nobody occupies. If every role is empty the turn stays where it is.
func NextTurn(rotation []models.Role, current models.Role, occupants func(models.Role) int) models.Role {
	n := len(rotation)
	at := -1
	for i, r := range rotation {
		if r == current {
			at = i
			break
		}
	}
	for i := 1; i <= n; i++ {
		r := rotation[(at+i+n)%n]
		if occupants(r) > 0 {
			return r
		}
	}
	return current
}

func firstOccupied(rotation []models.Role, occupants func(models.Role) int) (models.Role, bool) {
	for _, r := range rotation {
		if occupants(r) > 0 {
			return r, true
		}
	}
	return models.RoleSpectator, false
}
