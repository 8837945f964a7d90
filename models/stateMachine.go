package models

import "fmt"

type Transition[S ~string, A ~string] struct {
	From   S
	Action A
	To     S
}

// StateMachine is a transition table; any (status, action) pair not listed is illegal.
type StateMachine[S ~string, A ~string] struct {
	name  string
	table map[S]map[A]S
}

func NewStateMachine[S ~string, A ~string](name string, transitions ...Transition[S, A]) *StateMachine[S, A] {
	m := &StateMachine[S, A]{name: name, table: map[S]map[A]S{}}
	for _, t := range transitions {
		if m.table[t.From] == nil {
			m.table[t.From] = map[A]S{}
		}
		if _, dup := m.table[t.From][t.Action]; dup {
			panic(fmt.Sprintf("%s: duplicate transition %s/%s", name, t.From, t.Action))
		}
		m.table[t.From][t.Action] = t.To
	}
	return m
}

func (m *StateMachine[S, A]) Next(from S, action A) (S, error) {
	if to, ok := m.table[from][action]; ok {
		return to, nil
	}
	var zero S
	return zero, fmt.Errorf("%w: %s cannot %s from %s", ErrIllegalTransition, m.name, action, from)
}

func (m *StateMachine[S, A]) Can(from S, action A) bool {
	_, ok := m.table[from][action]
	return ok
}
