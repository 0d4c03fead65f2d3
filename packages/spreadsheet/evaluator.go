package spreadsheet

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/text/language"
)

// Getters is what the evaluator needs from the grid
type Getters interface {
	// Cell returns the content at p, false if nothing was written there
	Cell(p Position) (Cell, bool)
	// SheetSize returns the number of rows and columns of a sheet
	SheetSize(sheet SheetID) (rows, cols uint32, ok bool)
	SheetIDs() []SheetID
	// CellPositions returns every position holding content on a sheet
	CellPositions(sheet SheetID) []Position
}

// CompiledFormula is the executable form of a formula. deps is the
// statically resolved reference list the formula was compiled with.
type CompiledFormula interface {
	Execute(deps []Range, ctx *EvalContext) (Value, error)
}

// FormulaFunc adapts a plain function to CompiledFormula
type FormulaFunc func(deps []Range, ctx *EvalContext) (Value, error)

func (f FormulaFunc) Execute(deps []Range, ctx *EvalContext) (Value, error) {
	return f(deps, ctx)
}

// volatileFormula is implemented by compiled formulas that know whether
// they call a volatile function
type volatileFormula interface {
	IsVolatile() bool
}

// EvaluationStats describes one evaluation. Converged is false when the
// iteration cap was hit with work still queued; Pending then lists the
// positions that kept their previous, possibly stale, value.
type EvaluationStats struct {
	Iterations int
	Converged  bool
	Pending    []Position
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithMaxIteration bounds the fixed-point loop
func WithMaxIteration(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxIteration = n
		}
	}
}

// WithConfig applies the iteration cap, locale and debug flag of a config
func WithConfig(c Config) EvaluatorOption {
	return func(e *Evaluator) {
		if c.MaxIteration > 0 {
			e.maxIteration = c.MaxIteration
		}
		e.locale = c.LocaleTag()
		e.debug = c.Debug
	}
}

// WithClock sets the clock seen by NOW and TODAY
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		e.now = now
	}
}

// WithRandom sets the source seen by RAND
func WithRandom(random func() float64) EvaluatorOption {
	return func(e *Evaluator) {
		e.random = random
	}
}

func defaultRandom() float64 {
	return rand.Float64()
}

// Evaluator keeps an evaluated value for every position consistent with
// the content of the grid. it owns the evaluated cache, the dependency
// graph and the spreading relation; nothing else writes to them. it is not
// safe for concurrent use.
type Evaluator struct {
	getters   Getters
	functions *FunctionRegistry

	codec     *PositionCodec
	graph     *FormulaDependencyGraph
	spreading *SpreadingRelation

	evaluated map[PositionID]EvaluatedCell
	blocked   PositionSet // array formulas whose spill collided
	queue     PositionSet // positions to recompute in the next iteration
	visits    *visitArena

	maxIteration int
	locale       language.Tag
	debug        bool
	now          func() time.Time
	random       func() float64
}

// NewEvaluator creates an evaluator reading cells through getters and
// calling functions from functions
func NewEvaluator(getters Getters, functions *FunctionRegistry, opts ...EvaluatorOption) *Evaluator {
	codec := NewPositionCodec()
	e := &Evaluator{
		getters:      getters,
		functions:    functions,
		codec:        codec,
		graph:        NewFormulaDependencyGraph(codec),
		spreading:    NewSpreadingRelation(),
		evaluated:    make(map[PositionID]EvaluatedCell),
		blocked:      NewPositionSet(),
		queue:        NewPositionSet(),
		visits:       newVisitArena(),
		maxIteration: DefaultMaxIteration,
		locale:       language.Und,
		now:          time.Now,
		random:       defaultRandom,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateAllCells drops every cached value, rebuilds the dependency graph
// from all formulas and evaluates every position holding content
func (e *Evaluator) EvaluateAllCells() (stats EvaluationStats, err error) {
	defer e.recoverInternal(&err)

	clear(e.evaluated)
	e.blocked = NewPositionSet()
	e.graph.Clear()
	e.spreading.Clear()

	work := NewPositionSet()
	for _, sheet := range e.getters.SheetIDs() {
		for _, p := range e.getters.CellPositions(sheet) {
			id := e.codec.Encode(p)
			work.Add(id)
			e.updateDependencies(id, p)
		}
	}

	evaluatorLog.Debugf("evaluating all %d cells", len(work))
	return e.run(work), nil
}

// EvaluateCells recomputes the changed positions, everything depending on
// them, and the array formulas whose spill the change may affect
func (e *Evaluator) EvaluateCells(ps ...Position) (stats EvaluationStats, err error) {
	defer e.recoverInternal(&err)

	ids := make([]PositionID, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, e.codec.Encode(p))
	}

	work := NewPositionSet(ids...)
	work.AddAll(e.graph.CellsDependingOn(ids))
	impacted := e.impactedArrayFormulas(ids)
	work.AddAll(impacted)
	work.AddAll(e.graph.CellsDependingOn(impacted.Sorted()))

	return e.run(work), nil
}

// UpdateDependencies refreshes the graph edges of p from its current
// content. call it after every edit of p, before EvaluateCells.
func (e *Evaluator) UpdateDependencies(p Position) {
	e.updateDependencies(e.codec.Encode(p), p)
}

// EvaluatedCell returns the value of p, empty if p was never evaluated
func (e *Evaluator) EvaluatedCell(p Position) EvaluatedCell {
	id, known := e.codec.Lookup(p)
	if !known {
		return emptyEvaluatedCell
	}
	if cell, exists := e.evaluated[id]; exists {
		return cell
	}
	return emptyEvaluatedCell
}

// ArrayFormulaSpreadingOn returns the anchor of the array formula whose
// result currently occupies p. an anchor occupies its own position.
func (e *Evaluator) ArrayFormulaSpreadingOn(p Position) (Position, bool) {
	id, known := e.codec.Lookup(p)
	if !known {
		return Position{}, false
	}
	anchor, exists := e.arrayFormulaSpreadingOn(id)
	if !exists {
		return Position{}, false
	}
	return e.codec.Decode(anchor), true
}

// VolatilePositions returns the formulas calling volatile functions
func (e *Evaluator) VolatilePositions() []Position {
	ids := e.graph.VolatileCells()
	positions := make([]Position, 0, len(ids))
	for _, id := range ids {
		positions = append(positions, e.codec.Decode(id))
	}
	return positions
}

// recoverInternal turns an internal error panic into the returned error.
// anything else keeps panicking.
func (e *Evaluator) recoverInternal(err *error) {
	r := recover()
	if r == nil {
		return
	}
	appErr, ok := r.(*AppError)
	if !ok || appErr.Code != Internal {
		panic(r)
	}
	evaluatorLog.Criticalf("evaluation aborted: %s", appErr)
	e.queue = NewPositionSet()
	*err = appErr
}

func (e *Evaluator) updateDependencies(id PositionID, p Position) {
	e.graph.RemoveAllDependencies(id)
	cell, exists := e.getters.Cell(p)
	if !exists || !cell.IsFormula() {
		return
	}
	e.graph.AddDependencies(id, cell.Dependencies)
	if v, ok := cell.Formula.(volatileFormula); ok && v.IsVolatile() {
		e.graph.MarkVolatile(id)
	}
}

// arrayFormulaSpreadingOn returns the unblocked anchor occupying id
func (e *Evaluator) arrayFormulaSpreadingOn(id PositionID) (PositionID, bool) {
	if e.spreading.IsArrayFormula(id) && !e.blocked.Has(id) {
		return id, true
	}
	for _, anchor := range e.spreading.ArrayFormulasSpreadingOn(id) {
		if !e.blocked.Has(anchor) {
			return anchor, true
		}
	}
	return 0, false
}

// impactedArrayFormulas returns the array formulas that must re-check their
// spill after a change at ids: the one occupying a changed position, and
// every one claiming a position whose content was cleared
func (e *Evaluator) impactedArrayFormulas(ids []PositionID) PositionSet {
	impacted := NewPositionSet()
	for _, id := range ids {
		if anchor, exists := e.arrayFormulaSpreadingOn(id); exists {
			impacted.Add(anchor)
		}
		if cell, exists := e.getters.Cell(e.codec.Decode(id)); exists && cell.HasContent() {
			continue
		}
		for _, anchor := range e.spreading.ArrayFormulasSpreadingOn(id) {
			impacted.Add(anchor)
		}
	}
	return impacted
}

// run is the fixed-point loop. every iteration clears the cache of the
// queued positions and recomputes them in id order; recomputation may
// queue more work for the next iteration.
func (e *Evaluator) run(work PositionSet) EvaluationStats {
	e.queue = work
	iteration := 0
	for len(e.queue) > 0 && iteration < e.maxIteration {
		iteration++
		batch := e.queue.Sorted()
		e.queue = NewPositionSet()

		for _, id := range batch {
			delete(e.evaluated, id)
		}
		e.visits.reset()
		for _, id := range batch {
			if _, cached := e.evaluated[id]; !cached {
				e.computeCell(id)
			}
		}
	}

	stats := EvaluationStats{Iterations: iteration, Converged: len(e.queue) == 0}
	if !stats.Converged {
		for _, id := range e.queue.Sorted() {
			stats.Pending = append(stats.Pending, e.codec.Decode(id))
		}
		evaluatorLog.Warningf("evaluation stopped after %d iterations with %d positions pending", iteration, len(stats.Pending))
		e.queue = NewPositionSet()
	}
	return stats
}

// computeCell returns the value of id, computing it and the formulas it
// declares as dependencies first. the walk uses an explicit stack; reaching
// a formula already in progress marks the reaching formula as a cycle.
func (e *Evaluator) computeCell(id PositionID) EvaluatedCell {
	if cached, exists := e.evaluated[id]; exists {
		return cached
	}
	if e.visits.state(id) == visitInProgress {
		return cycleEvaluatedCell()
	}

	stack := e.push(nil, id)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if !top.cycle && top.next < len(top.deps) {
			dep := top.deps[top.next]
			top.next++
			if _, cached := e.evaluated[dep]; cached {
				continue
			}
			switch e.visits.state(dep) {
			case visitInProgress:
				top.cycle = true
			case visitUnvisited:
				stack = e.push(stack, dep)
			}
			continue
		}

		e.finish(top)
		stack = stack[:len(stack)-1]
	}

	if cached, exists := e.evaluated[id]; exists {
		return cached
	}
	return emptyEvaluatedCell
}

// push starts the computation of id. literals and empty positions are
// resolved on the spot, formulas get a frame.
func (e *Evaluator) push(stack []frame, id PositionID) []frame {
	if !e.blocked.Has(id) {
		e.invalidateSpreading(id)
	}

	pos := e.codec.Decode(id)
	cell, exists := e.getters.Cell(pos)
	if !exists || !cell.IsFormula() {
		e.blocked.Delete(id)
		e.spreading.RemoveArrayFormula(id)
		if exists && cell.HasContent() {
			e.evaluated[id] = literalEvaluatedCell(cell)
		}
		e.visits.set(id, visitDone)
		return stack
	}

	e.visits.set(id, visitInProgress)
	return append(stack, frame{id: id, pos: pos, cell: cell, deps: e.declaredDependencies(cell)})
}

// finish executes a formula whose dependencies were all visited
func (e *Evaluator) finish(f *frame) {
	if f.cycle {
		e.blocked.Delete(f.id)
		e.spreading.RemoveArrayFormula(f.id)
		e.evaluated[f.id] = cycleEvaluatedCell()
	} else {
		e.evaluated[f.id] = e.evaluateFormula(f)
	}
	e.visits.set(f.id, visitDone)
}

// declaredDependencies lists the positions to compute before a formula:
// its single-cell references, the anchors spreading onto them, and the
// formulas inside its range references
func (e *Evaluator) declaredDependencies(cell Cell) []PositionID {
	seen := NewPositionSet()
	var deps []PositionID
	add := func(dep PositionID) {
		if !seen.Has(dep) {
			seen.Add(dep)
			deps = append(deps, dep)
		}
	}

	for _, r := range cell.Dependencies {
		if r.Invalid {
			continue
		}
		if r.IsSingleCell() {
			dep := e.codec.Encode(r.TopLeft())
			add(dep)
			for _, anchor := range e.spreading.ArrayFormulasSpreadingOn(dep) {
				if !e.blocked.Has(anchor) {
					add(anchor)
				}
			}
			continue
		}
		for _, dep := range e.graph.FormulasIn(r) {
			add(dep)
		}
	}
	return deps
}

// invalidateSpreading withdraws the previous spill of anchor: spilled
// values not covered by content are dropped, and their readers and the
// other formulas claiming them are queued
func (e *Evaluator) invalidateSpreading(anchor PositionID) {
	results := e.spreading.ResultsOf(anchor)
	if len(results) == 0 {
		return
	}

	var cleared []PositionID
	for _, result := range results {
		if cell, exists := e.getters.Cell(e.codec.Decode(result)); exists && cell.HasContent() {
			continue
		}
		delete(e.evaluated, result)
		cleared = append(cleared, result)
	}

	dependents := e.graph.CellsDependingOn(cleared)
	dependents.Delete(anchor)
	e.queue.AddAll(dependents)
	for _, result := range cleared {
		for _, other := range e.spreading.ArrayFormulasSpreadingOn(result) {
			if other != anchor {
				e.queue.Add(other)
			}
		}
	}

	e.spreading.RemoveArrayFormula(anchor)
}

// evaluateFormula executes a formula and types its result. a matrix result
// larger than one value is spilled.
func (e *Evaluator) evaluateFormula(f *frame) EvaluatedCell {
	value, err := e.execute(f.cell, e.newContext(f.pos))
	if err != nil {
		e.blocked.Delete(f.id)
		e.spreading.RemoveArrayFormula(f.id)
		return errorEvaluatedCell(asSpreadsheetError(err))
	}

	if !value.IsMatrix() || value.Matrix().IsSingleValue() {
		e.blocked.Delete(f.id)
		e.spreading.RemoveArrayFormula(f.id)
		return formulaEvaluatedCell(value.Result(), f.cell.Format)
	}
	return e.spill(f, value.Matrix())
}

// execute runs the compiled formula. internal errors unwind to the public
// entry points, any other panic becomes #ERROR!.
func (e *Evaluator) execute(cell Cell, ctx *EvalContext) (value Value, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if appErr, ok := r.(*AppError); ok && appErr.Code == Internal {
			panic(appErr)
		}
		evaluatorLog.Errorf("formula at %s panicked: %v", ctx.Position, r)
		err = NewSpreadsheetError(ErrorCodeOther, fmt.Sprint(r))
	}()

	value, err = cell.Formula.Execute(cell.Dependencies, ctx)
	var appErr *AppError
	if err != nil && errors.As(err, &appErr) && appErr.Code == Internal {
		panic(appErr)
	}
	return value, err
}

// spill writes a matrix result around its anchor. nothing is written
// unless every target is free.
func (e *Evaluator) spill(f *frame, m Matrix[FunctionResult]) EvaluatedCell {
	cols, rows := uint32(m.Cols()), uint32(m.Rows())
	sheetRows, sheetCols, ok := e.getters.SheetSize(f.pos.Sheet)
	if !ok || uint64(f.pos.Col)+uint64(cols) > uint64(sheetCols) || uint64(f.pos.Row)+uint64(rows) > uint64(sheetRows) {
		e.blocked.Delete(f.id)
		e.spreading.RemoveArrayFormula(f.id)
		return errorEvaluatedCell(NewSpreadsheetError(ErrorCodeSpill,
			"Result couldn't be automatically expanded. Please insert more columns and rows."))
	}

	zone := Range{
		Sheet:       f.pos.Sheet,
		StartRow:    f.pos.Row,
		StartColumn: f.pos.Col,
		EndRow:      f.pos.Row + rows - 1,
		EndColumn:   f.pos.Col + cols - 1,
	}
	if readsOwnSpill(f.cell.Dependencies, zone, f.pos) {
		e.blocked.Delete(f.id)
		e.spreading.RemoveArrayFormula(f.id)
		return errorEvaluatedCell(NewSpreadsheetError(ErrorCodeCycle,
			"Circular reference: the array result would overwrite cells the formula reads"))
	}

	e.spreading.RemoveArrayFormula(f.id)
	targets := make([]PositionID, 0, zone.Size()-1)
	for p := range zone.Positions() {
		if p == f.pos {
			continue
		}
		target := e.codec.Encode(p)
		targets = append(targets, target)
		e.spreading.AddRelation(f.id, target)
	}

	for _, target := range targets {
		p := e.codec.Decode(target)
		cell, exists := e.getters.Cell(p)
		cached, computed := e.evaluated[target]
		if (exists && cell.HasContent()) || (computed && !cached.IsEmpty()) {
			e.blocked.Add(f.id)
			return errorEvaluatedCell(NewSpreadsheetError(ErrorCodeSpill, fmt.Sprintf(
				"Array result was not expanded because it would overwrite data in %s.", FormatA1(p.Col, p.Row))))
		}
	}
	e.blocked.Delete(f.id)

	i := 0
	for col := range m {
		for row := range m[col] {
			if col == 0 && row == 0 {
				continue
			}
			e.evaluated[targets[i]] = formulaEvaluatedCell(m[col][row], "")
			i++
		}
	}

	dependents := e.graph.CellsDependingOn(targets)
	dependents.Delete(f.id)
	e.queue.AddAll(dependents)

	return formulaEvaluatedCell(m[0][0], f.cell.Format)
}

// readsOwnSpill reports whether a reference overlaps the spill zone
// anywhere but on the anchor itself
func readsOwnSpill(deps []Range, zone Range, anchor Position) bool {
	for _, dep := range deps {
		if !dep.Intersects(zone) {
			continue
		}
		overlap := Range{
			Sheet:       zone.Sheet,
			StartRow:    max(dep.StartRow, zone.StartRow),
			StartColumn: max(dep.StartColumn, zone.StartColumn),
			EndRow:      min(dep.EndRow, zone.EndRow),
			EndColumn:   min(dep.EndColumn, zone.EndColumn),
		}
		if overlap.IsSingleCell() && overlap.TopLeft() == anchor {
			continue
		}
		return true
	}
	return false
}

func (e *Evaluator) newContext(p Position) *EvalContext {
	return &EvalContext{
		Position:  p,
		Locale:    e.locale,
		Debug:     e.debug,
		Functions: e.functions,
		reader:    e,
		now:       e.now,
		random:    e.random,
	}
}

// readCell serves reads made by a running formula
func (e *Evaluator) readCell(p Position) EvaluatedCell {
	return e.computeCell(e.codec.Encode(p))
}

func (e *Evaluator) readRange(r Range) Value {
	return MatrixValue(NewMatrix(int(r.Cols()), int(r.Rows()), func(col, row int) FunctionResult {
		cell := e.readCell(Position{
			Sheet: r.Sheet,
			Col:   r.StartColumn + uint32(col),
			Row:   r.StartRow + uint32(row),
		})
		return FunctionResult{Value: cell.Value, Format: cell.Format}
	}))
}

// literalEvaluatedCell types the content of a non-formula cell
func literalEvaluatedCell(cell Cell) EvaluatedCell {
	value := cell.Value
	if value == nil {
		value = cell.Content
	}
	return newEvaluatedCell(FunctionResult{Value: value, Format: cell.Format})
}

// formulaEvaluatedCell types a formula result. formulas never evaluate to
// empty: an empty result reads as 0. a cell format wins over the result's.
func formulaEvaluatedCell(result FunctionResult, format string) EvaluatedCell {
	if result.Value == nil {
		result.Value = 0.0
	}
	if format != "" {
		result.Format = format
	}
	return newEvaluatedCell(result)
}

func cycleEvaluatedCell() EvaluatedCell {
	return errorEvaluatedCell(NewSpreadsheetError(ErrorCodeCycle, "Circular reference"))
}

// asSpreadsheetError converts a formula execution error to a cell error
func asSpreadsheetError(err error) *SpreadsheetError {
	var sErr *SpreadsheetError
	if errors.As(err, &sErr) {
		return sErr
	}
	return NewSpreadsheetError(ErrorCodeOther, err.Error())
}
