package spreadsheet

import (
	"maps"
	"slices"
)

// PositionSet is an unordered set of position ids
type PositionSet map[PositionID]struct{}

// NewPositionSet creates a set holding the given ids
func NewPositionSet(ids ...PositionID) PositionSet {
	set := make(PositionSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s PositionSet) Add(id PositionID) {
	s[id] = struct{}{}
}

func (s PositionSet) AddAll(other PositionSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

func (s PositionSet) Has(id PositionID) bool {
	_, exists := s[id]
	return exists
}

func (s PositionSet) Delete(id PositionID) {
	delete(s, id)
}

// Sorted returns the ids in ascending order, which is the order the
// evaluator processes them in
func (s PositionSet) Sorted() []PositionID {
	return slices.Sorted(maps.Keys(s))
}

// FormulaDependencyGraph records which formulas read which positions.
// single-cell references are stored as direct edges, wider references as
// range observers, so that SUM(A1:A100000) costs one entry instead of one
// hundred thousand.
type FormulaDependencyGraph struct {
	codec *PositionCodec

	dependents     map[PositionID]PositionSet // position -> formulas reading it directly
	rangeObservers map[Range]PositionSet      // range -> formulas reading it
	dependencies   map[PositionID][]Range     // formula -> its current references
	volatileCells  PositionSet                // formulas calling volatile functions
}

// NewFormulaDependencyGraph creates an empty graph minting ids with codec
func NewFormulaDependencyGraph(codec *PositionCodec) *FormulaDependencyGraph {
	return &FormulaDependencyGraph{
		codec:          codec,
		dependents:     make(map[PositionID]PositionSet),
		rangeObservers: make(map[Range]PositionSet),
		dependencies:   make(map[PositionID][]Range),
		volatileCells:  NewPositionSet(),
	}
}

// AddDependencies records deps as the references of formula p. invalid
// ranges are skipped. must follow RemoveAllDependencies(p) when p already
// had references.
func (dg *FormulaDependencyGraph) AddDependencies(p PositionID, deps []Range) {
	kept := make([]Range, 0, len(deps))
	for _, dep := range deps {
		if dep.Invalid {
			continue
		}
		kept = append(kept, dep)

		if dep.IsSingleCell() {
			id := dg.codec.Encode(dep.TopLeft())
			if dg.dependents[id] == nil {
				dg.dependents[id] = NewPositionSet()
			}
			dg.dependents[id].Add(p)
			continue
		}

		if dg.rangeObservers[dep] == nil {
			dg.rangeObservers[dep] = NewPositionSet()
		}
		dg.rangeObservers[dep].Add(p)
	}
	dg.dependencies[p] = kept
}

// RemoveAllDependencies drops every edge where p is the reader
func (dg *FormulaDependencyGraph) RemoveAllDependencies(p PositionID) {
	for _, dep := range dg.dependencies[p] {
		if dep.IsSingleCell() {
			id := dg.codec.Encode(dep.TopLeft())
			if readers, exists := dg.dependents[id]; exists {
				readers.Delete(p)
				if len(readers) == 0 {
					delete(dg.dependents, id)
				}
			}
			continue
		}

		if observers, exists := dg.rangeObservers[dep]; exists {
			observers.Delete(p)
			if len(observers) == 0 {
				delete(dg.rangeObservers, dep)
			}
		}
	}
	delete(dg.dependencies, p)
	dg.volatileCells.Delete(p)
}

// DependenciesOf returns the valid references currently recorded for p
func (dg *FormulaDependencyGraph) DependenciesOf(p PositionID) []Range {
	return dg.dependencies[p]
}

// IsFormula reports whether p was registered as a formula position
func (dg *FormulaDependencyGraph) IsFormula(p PositionID) bool {
	_, exists := dg.dependencies[p]
	return exists
}

// directDependents returns the formulas reading p, directly or through a
// range
func (dg *FormulaDependencyGraph) directDependents(p PositionID, yield func(PositionID)) {
	for reader := range dg.dependents[p] {
		yield(reader)
	}
	if len(dg.rangeObservers) == 0 {
		return
	}
	position := dg.codec.Decode(p)
	for r, observers := range dg.rangeObservers {
		if r.Contains(position) {
			for observer := range observers {
				yield(observer)
			}
		}
	}
}

// CellsDependingOn returns every position transitively reading any of ps,
// the seeds excluded. cycles terminate through the visited set.
func (dg *FormulaDependencyGraph) CellsDependingOn(ps []PositionID) PositionSet {
	visited := NewPositionSet(ps...)
	queue := slices.Clone(ps)
	result := NewPositionSet()

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		dg.directDependents(current, func(reader PositionID) {
			if visited.Has(reader) {
				return
			}
			visited.Add(reader)
			result.Add(reader)
			queue = append(queue, reader)
		})
	}

	return result
}

// CellsDependingOnRanges is CellsDependingOn seeded with every position of
// the given ranges
func (dg *FormulaDependencyGraph) CellsDependingOnRanges(ranges []Range) PositionSet {
	var seeds []PositionID
	for _, r := range ranges {
		for p := range r.Positions() {
			seeds = append(seeds, dg.codec.Encode(p))
		}
	}
	return dg.CellsDependingOn(seeds)
}

// FormulasIn returns the registered formula positions inside r, sorted
func (dg *FormulaDependencyGraph) FormulasIn(r Range) []PositionID {
	if r.Invalid {
		return nil
	}

	var result []PositionID
	if r.Size() <= len(dg.dependencies) {
		for p := range r.Positions() {
			id := dg.codec.Encode(p)
			if dg.IsFormula(id) {
				result = append(result, id)
			}
		}
		return result
	}

	// range wider than the formula count: scan formulas instead
	for id := range dg.dependencies {
		if r.Contains(dg.codec.Decode(id)) {
			result = append(result, id)
		}
	}
	slices.Sort(result)
	return result
}

// MarkVolatile marks a formula as calling volatile functions
func (dg *FormulaDependencyGraph) MarkVolatile(p PositionID) {
	dg.volatileCells.Add(p)
}

// IsVolatile checks if a formula calls volatile functions
func (dg *FormulaDependencyGraph) IsVolatile(p PositionID) bool {
	return dg.volatileCells.Has(p)
}

// VolatileCells returns all formulas marked as volatile, sorted
func (dg *FormulaDependencyGraph) VolatileCells() []PositionID {
	return dg.volatileCells.Sorted()
}

// RangeObserverCount returns the number of observed ranges
func (dg *FormulaDependencyGraph) RangeObserverCount() int {
	return len(dg.rangeObservers)
}

// Clear removes all nodes and dependencies from the graph
func (dg *FormulaDependencyGraph) Clear() {
	dg.dependents = make(map[PositionID]PositionSet)
	dg.rangeObservers = make(map[Range]PositionSet)
	dg.dependencies = make(map[PositionID][]Range)
	dg.volatileCells = NewPositionSet()
}
