// models/role.go
package models

import (
	"encoding/json"
	"fmt"
)

// Role is the position a player holds in a room. The numeric values are part of
// the wire format.
type Role byte

const (
	RoleSpectator Role = iota
	RolePurpleSeeker
	RolePurpleKnower
	RoleTealSeeker
	RoleTealKnower
)

// TeamRoles lists the four roles that can hold the turn.
var TeamRoles = [4]Role{RolePurpleSeeker, RolePurpleKnower, RoleTealSeeker, RoleTealKnower}

var roleNames = map[Role]string{
	RoleSpectator:    "spectator",
	RolePurpleSeeker: "purple_seeker",
	RolePurpleKnower: "purple_knower",
	RoleTealSeeker:   "teal_seeker",
	RoleTealKnower:   "teal_knower",
}

func (r Role) Valid() bool {
	return r <= RoleTealKnower
}

func (r Role) IsSeeker() bool {
	return r == RolePurpleSeeker || r == RoleTealSeeker
}

func (r Role) IsKnower() bool {
	return r == RolePurpleKnower || r == RoleTealKnower
}

// Team reports which team the role belongs to; spectators have TeamNone.
func (r Role) Team() Team {
	switch r {
	case RolePurpleSeeker, RolePurpleKnower:
		return TeamPurple
	case RoleTealSeeker, RoleTealKnower:
		return TeamTeal
	}
	return TeamNone
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", byte(r))
}

// ParseRole accepts the snake_case role names used in configuration.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Team identifies one side of the game.
type Team byte

const (
	TeamNone Team = iota
	TeamPurple
	TeamTeal
)

func (t Team) Valid() bool {
	return t <= TeamTeal
}

// Seeker returns the seeker role of the team, or RoleSpectator for TeamNone.
func (t Team) Seeker() Role {
	switch t {
	case TeamPurple:
		return RolePurpleSeeker
	case TeamTeal:
		return RoleTealSeeker
	}
	return RoleSpectator
}

// Knower returns the knower role of the team, or RoleSpectator for TeamNone.
func (t Team) Knower() Role {
	switch t {
	case TeamPurple:
		return RolePurpleKnower
	case TeamTeal:
		return RoleTealKnower
	}
	return RoleSpectator
}

func (t Team) String() string {
	switch t {
	case TeamPurple:
		return "purple"
	case TeamTeal:
		return "teal"
	}
	return "none"
}

// ParseTeam accepts "purple", "teal" and "none"/"spectators".
func ParseTeam(s string) (Team, error) {
	switch s {
	case "purple":
		return TeamPurple, nil
	case "teal":
		return TeamTeal, nil
	case "none", "spectators", "spectator":
		return TeamNone, nil
	}
	return 0, fmt.Errorf("unknown team %q", s)
}

// MarshalJSON keeps roles numeric on the wire, matching the client enum.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(byte(r))
}
