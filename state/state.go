package state

import (
	"errors"
	"sync"
)

// 房间生命周期状态ID
const (
	PhaseLobby  = "lobby"
	PhaseRound  = "round"
	PhaseFrozen = "frozen"
	PhaseClosed = "closed"
)

// 状态机接口
type StateMachine interface {
	ChangeState(state State) error
	GetCurrentState() State
	AddTransition(from, to string) error
}

// 状态接口
type State interface {
	OnEnter()
	OnExit()
	GetID() string
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// BaseStateMachine only performs transitions that were registered with
// AddTransition.
type BaseStateMachine struct {
	currentState State
	transitions  map[string]map[string]bool // fromState -> toState
	mutex        sync.RWMutex
}

func NewBaseStateMachine(initialState State) *BaseStateMachine {
	machine := &BaseStateMachine{
		currentState: initialState,
		transitions:  make(map[string]map[string]bool),
	}
	initialState.OnEnter()
	return machine
}

func (sm *BaseStateMachine) ChangeState(newState State) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	currentID := sm.currentState.GetID()
	newID := newState.GetID()

	if !sm.transitions[currentID][newID] {
		return ErrTransitionNotAllowed
	}

	sm.currentState.OnExit()
	sm.currentState = newState
	sm.currentState.OnEnter()

	return nil
}

func (sm *BaseStateMachine) GetCurrentState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

func (sm *BaseStateMachine) AddTransition(from, to string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.transitions[from]; !exists {
		sm.transitions[from] = make(map[string]bool)
	}
	sm.transitions[from][to] = true
	return nil
}

// Phase is a room lifecycle state with optional enter/exit hooks.
type Phase struct {
	ID    string
	Enter func()
	Exit  func()
}

func (p *Phase) GetID() string {
	return p.ID
}

func (p *Phase) OnEnter() {
	if p.Enter != nil {
		p.Enter()
	}
}

func (p *Phase) OnExit() {
	if p.Exit != nil {
		p.Exit()
	}
}

// Lifecycle wires the room phases: lobby and round alternate, either may
// freeze or close, and nothing leaves frozen except closing.
type Lifecycle struct {
	*BaseStateMachine
	Lobby  *Phase
	Round  *Phase
	Frozen *Phase
	Closed *Phase
}

// NewLifecycle builds the machine starting in the lobby. onEnter, if set, is
// called with the phase ID every time a phase is entered.
func NewLifecycle(onEnter func(id string)) *Lifecycle {
	mk := func(id string) *Phase {
		return &Phase{ID: id, Enter: func() {
			if onEnter != nil {
				onEnter(id)
			}
		}}
	}
	l := &Lifecycle{
		Lobby:  mk(PhaseLobby),
		Round:  mk(PhaseRound),
		Frozen: mk(PhaseFrozen),
		Closed: mk(PhaseClosed),
	}
	l.BaseStateMachine = NewBaseStateMachine(l.Lobby)

	l.AddTransition(PhaseLobby, PhaseRound)
	l.AddTransition(PhaseRound, PhaseLobby)
	l.AddTransition(PhaseLobby, PhaseFrozen)
	l.AddTransition(PhaseRound, PhaseFrozen)
	l.AddTransition(PhaseLobby, PhaseClosed)
	l.AddTransition(PhaseRound, PhaseClosed)
	l.AddTransition(PhaseFrozen, PhaseClosed)
	return l
}

// Is reports whether the current phase has the given ID.
func (l *Lifecycle) Is(id string) bool {
	return l.GetCurrentState().GetID() == id
}
