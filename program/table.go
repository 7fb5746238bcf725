package program

import (
	"fmt"
	"sync/atomic"
)

// Table indexes programs by name. Registration copies the index, so
// lookups never lock and see either the old or the new set.
type Table struct {
	index atomic.Pointer[tableIndex]
}

type tableIndex struct {
	byName map[string][]Program
	order  []Program
}

// NewTable creates an empty table.
func NewTable() *Table {
	t := &Table{}
	t.index.Store(&tableIndex{byName: map[string][]Program{}})
	return t
}

// Register applies defaults, validates and adds programs. Registering a
// second program under an existing name is allowed; dispatching that
// name then reports an error if both produce a result.
func (t *Table) Register(programs ...Program) error {
	prepared := make([]Program, 0, len(programs))
	for _, p := range programs {
		p = p.WithDefaults()
		if err := p.Validate(); err != nil {
			return err
		}
		prepared = append(prepared, p)
	}

	for {
		old := t.index.Load()
		next := &tableIndex{
			byName: make(map[string][]Program, len(old.byName)+len(prepared)),
			order:  append(append([]Program(nil), old.order...), prepared...),
		}
		for name, ps := range old.byName {
			next.byName[name] = ps
		}
		for _, p := range prepared {
			next.byName[p.Name] = append(append([]Program(nil), next.byName[p.Name]...), p)
		}
		if t.index.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// RegisterComponents registers every program of every component.
func (t *Table) RegisterComponents(components []Component) error {
	for _, c := range components {
		if err := t.Register(c.Programs...); err != nil {
			return fmt.Errorf("component %s: %w", c.Name, err)
		}
	}
	return nil
}

// Lookup returns the programs registered under name.
func (t *Table) Lookup(name string) []Program {
	return t.index.Load().byName[name]
}

// All returns every program in registration order.
func (t *Table) All() []Program {
	return t.index.Load().order
}

// Len returns the number of registered programs.
func (t *Table) Len() int {
	return len(t.index.Load().order)
}
