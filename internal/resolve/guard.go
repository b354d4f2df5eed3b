package resolve

import "github.com/roach88/tangle/internal/objset"

// expansionGuard bounds one resolution.
//
// It combines two checks that together guarantee termination:
//   - Visited set: catches cyclic patterns (A → B → A, A → A).
//   - Expansion quota: catches linear explosions (A → B → C → ... ),
//     e.g. a mapper that keeps producing fresh values.
//
// A guard lives for a single Resolve call and is not shared, so it needs
// no locking.
type expansionGuard struct {
	visited    *objset.Set
	expansions int
	limit      int
}

func newExpansionGuard(limit int) *expansionGuard {
	return &expansionGuard{
		visited: objset.New(),
		limit:   limit,
	}
}

// Visit marks obj as expanded. Returns false if it already was.
func (g *expansionGuard) Visit(obj any) bool {
	return g.visited.Add(obj)
}

// Visited reports whether obj has been expanded.
func (g *expansionGuard) Visited(obj any) bool {
	return g.visited.Contains(obj)
}

// Check counts one expansion and fails once the quota is exceeded.
func (g *expansionGuard) Check() error {
	g.expansions++
	if g.limit > 0 && g.expansions > g.limit {
		return &ExpansionLimitError{Expansions: g.expansions, Limit: g.limit}
	}
	return nil
}

// Expansions returns the number of objects expanded so far.
func (g *expansionGuard) Expansions() int {
	return g.expansions
}
