package spreadsheet

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Spreadsheet ties a Grid, a function registry and an Evaluator together
// behind address based accessors. every mutation is followed by an
// incremental evaluation, so Get always sees up to date values.
type Spreadsheet struct {
	config    Config
	grid      *Grid
	functions *FunctionRegistry
	evaluator *Evaluator
	stats     EvaluationStats
}

type SpreadsheetInterface interface {
	// cell methods

	Get(address string) (Primitive, error)
	Set(address string, value Primitive) error
	Remove(address string) error

	// worksheet methods

	AddWorksheet(name string) error
	RemoveWorksheet(name string) error
	RenameWorksheet(oldName, newName string) error
	DoesWorksheetExist(name string) bool
	ListWorksheets() []string

	// common methods

	Calculate() error
	Recalculate() error
}

var _ SpreadsheetInterface = (*Spreadsheet)(nil)

// NewSpreadsheet creates a spreadsheet with the default configuration and
// the built-in functions
func NewSpreadsheet(opts ...EvaluatorOption) *Spreadsheet {
	s, err := NewSpreadsheetWithConfig(DefaultConfig(), opts...)
	if err != nil {
		// the default configuration is valid
		panic(err)
	}
	return s
}

// NewSpreadsheetWithConfig creates a spreadsheet from a validated config.
// opts are applied after the config.
func NewSpreadsheetWithConfig(config Config, opts ...EvaluatorOption) (*Spreadsheet, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	grid := NewGrid(config.DefaultRows, config.DefaultCols)
	functions := NewDefaultFunctionRegistry()
	return &Spreadsheet{
		config:    config,
		grid:      grid,
		functions: functions,
		evaluator: NewEvaluator(grid, functions, append([]EvaluatorOption{WithConfig(config)}, opts...)...),
		stats:     EvaluationStats{Converged: true},
	}, nil
}

// Functions returns the registry formulas are compiled against. functions
// registered there are callable from formulas set afterwards.
func (s *Spreadsheet) Functions() *FunctionRegistry {
	return s.functions
}

// LastStats describes the last evaluation
func (s *Spreadsheet) LastStats() EvaluationStats {
	return s.stats
}

// resolveAddress parses "Sheet1!A1", or "A1" on the first worksheet, and
// resolves the sheet name
func (s *Spreadsheet) resolveAddress(address string) (Position, error) {
	var defaultSheet SheetID
	if sheets := s.grid.SheetIDs(); len(sheets) > 0 {
		name, _ := s.grid.SheetName(sheets[0])
		defaultSheet = SheetID(name)
	}
	p, err := ParsePosition(strings.TrimSpace(address), defaultSheet)
	if err != nil {
		return Position{}, NewApplicationError(InvalidArgument, fmt.Sprintf("Invalid address: %v", err))
	}
	sheet, exists := s.grid.SheetByName(string(p.Sheet))
	if !exists {
		return Position{}, NewApplicationError(NotFound, fmt.Sprintf("worksheet %s not found", p.Sheet))
	}
	p.Sheet = sheet
	return p, nil
}

// Get retrieves the evaluated value of a cell
func (s *Spreadsheet) Get(address string) (Primitive, error) {
	cell, err := s.GetCell(address)
	if err != nil {
		return nil, err
	}
	return cell.Value, nil
}

// GetCell retrieves the evaluated cell with its type and format
func (s *Spreadsheet) GetCell(address string) (EvaluatedCell, error) {
	p, err := s.resolveAddress(address)
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) && appErr.Code == NotFound {
			// reading from a missing worksheet is a reference error, not a failure
			return errorEvaluatedCell(NewSpreadsheetError(ErrorCodeRef, "Worksheet not found")), nil
		}
		return EvaluatedCell{}, err
	}
	return s.evaluator.EvaluatedCell(p), nil
}

// Content returns what was written in a cell: the formula text for a
// formula, the literal's text otherwise
func (s *Spreadsheet) Content(address string) (string, error) {
	p, err := s.resolveAddress(address)
	if err != nil {
		return "", err
	}
	cell, _ := s.grid.Cell(p)
	return cell.Content, nil
}

// Set writes a cell. strings starting with "=" are formulas; a formula
// that does not parse is stored and evaluates to its parse error.
func (s *Spreadsheet) Set(address string, value Primitive) error {
	p, err := s.resolveAddress(address)
	if err != nil {
		return err
	}

	if text, isString := value.(string); isString && len(text) > 1 && strings.HasPrefix(text, "=") {
		if err := s.setFormulaText(p, text); err != nil {
			return err
		}
		return s.refresh(p)
	}

	v := normalizePrimitive(value)
	if sErr := checkForError(v); sErr != nil && sErr.ErrorCode == ErrorCodeOther && checkForError(value) == nil {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("unsupported value type %T", value))
	}
	if err := s.grid.SetValue(p, v); err != nil {
		return err
	}
	return s.refresh(p)
}

// SetFormula compiles an expression tree and writes it at address
func (s *Spreadsheet) SetFormula(address string, node Node) error {
	p, err := s.resolveAddress(address)
	if err != nil {
		return err
	}
	formula, err := s.compile(node, p)
	if err != nil {
		return err
	}
	if err := s.grid.SetFormula(p, formula.Text(), formula, formula.Dependencies()); err != nil {
		return err
	}
	return s.refresh(p)
}

// SetFormat sets the number format of a cell
func (s *Spreadsheet) SetFormat(address, format string) error {
	p, err := s.resolveAddress(address)
	if err != nil {
		return err
	}
	if err := s.grid.SetFormat(p, format); err != nil {
		return err
	}
	return s.refresh(p)
}

// compile resolves node for the sheet of p. references are compiled against
// sheet names, the grid maps them to SheetIDs.
func (s *Spreadsheet) compile(node Node, p Position) (*Formula, error) {
	name, _ := s.grid.SheetName(p.Sheet)
	return Compile(node, SheetID(name), s.functions)
}

func (s *Spreadsheet) setFormulaText(p Position, text string) error {
	node, err := ParseFormula(text)
	if err == nil {
		formula, compileErr := s.compile(node, p)
		if compileErr == nil {
			return s.grid.SetFormula(p, text, formula, formula.Dependencies())
		}
		err = compileErr
	}

	sheetLog.Debugf("formula at %s does not parse: %s", p, err)
	var sErr *SpreadsheetError
	if !errors.As(err, &sErr) {
		sErr = NewSpreadsheetError(ErrorCodeBadExpr, err.Error())
	}
	return s.grid.SetFormula(p, text, FormulaFunc(func([]Range, *EvalContext) (Value, error) {
		return Value{}, sErr
	}), nil)
}

// Remove clears a cell
func (s *Spreadsheet) Remove(address string) error {
	p, err := s.resolveAddress(address)
	if err != nil {
		return err
	}
	if _, err := s.grid.Remove(p); err != nil {
		return err
	}
	return s.refresh(p)
}

// AddWorksheet creates a worksheet. formulas that referenced it before it
// existed are recompiled and now read it.
func (s *Spreadsheet) AddWorksheet(name string) error {
	if _, err := s.grid.AddSheet(name); err != nil {
		return err
	}
	sheetLog.Debugf("added worksheet %s", name)
	return s.recompile(func(dep Range) bool { return dep.Invalid }, nil)
}

// RemoveWorksheet drops a worksheet. formulas reading it evaluate to #REF!.
func (s *Spreadsheet) RemoveWorksheet(name string) error {
	sheet, exists := s.grid.SheetByName(name)
	if !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("worksheet %s not found", name))
	}
	removed, err := s.grid.RemoveSheet(sheet)
	if err != nil {
		return err
	}
	sheetLog.Debugf("removed worksheet %s with %d cells", name, len(removed))
	if err := s.refresh(removed...); err != nil {
		return err
	}
	return s.recompile(func(dep Range) bool { return !dep.Invalid && dep.Sheet == sheet }, nil)
}

// RenameWorksheet renames a worksheet. formulas reading it keep reading it
// and have their text rewritten to the new name; formulas that referenced
// newName while no worksheet had it are recompiled and now read it.
func (s *Spreadsheet) RenameWorksheet(oldName, newName string) error {
	sheet, exists := s.grid.SheetByName(oldName)
	if !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("worksheet %s not found", oldName))
	}
	previous, _ := s.grid.SheetName(sheet)
	if err := s.grid.RenameSheet(sheet, newName); err != nil {
		return err
	}
	sheetLog.Debugf("renamed worksheet %s to %s", previous, newName)

	err := s.recompile(func(dep Range) bool { return !dep.Invalid && dep.Sheet == sheet }, func(node Node) bool {
		return renameSheetReferences(node, previous, newName)
	})
	if err != nil {
		return err
	}
	return s.recompile(func(dep Range) bool { return dep.Invalid }, nil)
}

// DoesWorksheetExist checks a worksheet name, case-insensitively
func (s *Spreadsheet) DoesWorksheetExist(name string) bool {
	_, exists := s.grid.SheetByName(name)
	return exists
}

// ListWorksheets returns the worksheet names in creation order
func (s *Spreadsheet) ListWorksheets() []string {
	sheets := s.grid.SheetIDs()
	names := make([]string, len(sheets))
	for i, sheet := range sheets {
		names[i], _ = s.grid.SheetName(sheet)
	}
	return names
}

// ResizeWorksheet changes the area array results may spill onto
func (s *Spreadsheet) ResizeWorksheet(name string, rows, cols uint32) error {
	sheet, exists := s.grid.SheetByName(name)
	if !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("worksheet %s not found", name))
	}
	if err := s.grid.Resize(sheet, rows, cols); err != nil {
		return err
	}
	return s.Calculate()
}

// Calculate re-evaluates every cell from scratch
func (s *Spreadsheet) Calculate() error {
	stats, err := s.evaluator.EvaluateAllCells()
	if err != nil {
		return err
	}
	s.stats = stats
	return nil
}

// Recalculate re-evaluates the formulas calling volatile functions (NOW,
// TODAY, RAND) and everything depending on them
func (s *Spreadsheet) Recalculate() error {
	volatile := s.evaluator.VolatilePositions()
	if len(volatile) == 0 {
		return nil
	}
	stats, err := s.evaluator.EvaluateCells(volatile...)
	if err != nil {
		return err
	}
	s.stats = stats
	return nil
}

// SpreadingOn returns the address of the array formula whose result
// occupies address
func (s *Spreadsheet) SpreadingOn(address string) (string, bool, error) {
	p, err := s.resolveAddress(address)
	if err != nil {
		return "", false, err
	}
	anchor, exists := s.evaluator.ArrayFormulaSpreadingOn(p)
	if !exists {
		return "", false, nil
	}
	name, _ := s.grid.SheetName(anchor.Sheet)
	return sheetPrefix(SheetID(name)) + FormatA1(anchor.Col, anchor.Row), true, nil
}

// refresh re-evaluates after ps changed
func (s *Spreadsheet) refresh(ps ...Position) error {
	for _, p := range ps {
		s.evaluator.UpdateDependencies(p)
	}
	stats, err := s.evaluator.EvaluateCells(ps...)
	if err != nil {
		return err
	}
	s.stats = stats
	return nil
}

// recompile parses again the formulas having a reference matching stale,
// so that their references are resolved against the current sheets. when
// rewrite is set, only the formulas it changes are recompiled, from the
// text of the rewritten tree.
func (s *Spreadsheet) recompile(stale func(Range) bool, rewrite func(Node) bool) error {
	var changed []Position
	for _, sheet := range s.grid.SheetIDs() {
		for _, p := range s.grid.CellPositions(sheet) {
			cell, _ := s.grid.Cell(p)
			if !cell.IsFormula() || !slices.ContainsFunc(cell.Dependencies, stale) {
				continue
			}
			text := cell.Content
			if rewrite != nil {
				node, err := ParseFormula(text)
				if err != nil || !rewrite(node) {
					continue
				}
				text = "=" + node.String()
			}
			if err := s.setFormulaText(p, text); err != nil {
				return err
			}
			changed = append(changed, p)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return s.refresh(changed...)
}

// RunnableSpreadsheet provides a chainable interface for
// spreadsheet operations. wraps the standard Spreadsheet and tracks
// errors internally
type RunnableSpreadsheet struct {
	spreadsheet *Spreadsheet
	err         error
	printLn     func(string)
}

// NewRunnableSpreadsheet creates a new RunnableSpreadsheet. printLn is
// required and will be used for all logging operations (Log, CheckError)
func NewRunnableSpreadsheet(printLn func(string), opts ...EvaluatorOption) *RunnableSpreadsheet {
	return &RunnableSpreadsheet{
		spreadsheet: NewSpreadsheet(opts...),
		printLn:     printLn,
	}
}

// do runs op unless an earlier step failed
func (r *RunnableSpreadsheet) do(op func(s *Spreadsheet) error) *RunnableSpreadsheet {
	if r.err == nil {
		r.err = op(r.spreadsheet)
	}
	return r
}

// Set sets a cell value (chainable)
func (r *RunnableSpreadsheet) Set(address string, value Primitive) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.Set(address, value) })
}

// SetFormula sets a compiled expression (chainable)
func (r *RunnableSpreadsheet) SetFormula(address string, node Node) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.SetFormula(address, node) })
}

// SetBatch sets multiple cells at once, in address order (chainable)
func (r *RunnableSpreadsheet) SetBatch(cells map[string]Primitive) *RunnableSpreadsheet {
	for _, address := range slices.Sorted(maps.Keys(cells)) {
		r.Set(address, cells[address])
	}
	return r
}

// Remove removes a cell (chainable)
func (r *RunnableSpreadsheet) Remove(address string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.Remove(address) })
}

// AddWorksheet adds a new worksheet (chainable)
func (r *RunnableSpreadsheet) AddWorksheet(name string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.AddWorksheet(name) })
}

// WithWorksheet ensures a worksheet exists before continuing (chainable)
func (r *RunnableSpreadsheet) WithWorksheet(name string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error {
		if s.DoesWorksheetExist(name) {
			return nil
		}
		return s.AddWorksheet(name)
	})
}

// RemoveWorksheet removes a worksheet (chainable)
func (r *RunnableSpreadsheet) RemoveWorksheet(name string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.RemoveWorksheet(name) })
}

// RenameWorksheet renames a worksheet (chainable)
func (r *RunnableSpreadsheet) RenameWorksheet(oldName, newName string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.RenameWorksheet(oldName, newName) })
}

// Calculate recalculates all formulas (chainable)
func (r *RunnableSpreadsheet) Calculate() *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.Calculate() })
}

// Recalculate refreshes the volatile formulas (chainable)
func (r *RunnableSpreadsheet) Recalculate() *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error { return s.Recalculate() })
}

// Then allows conditional execution based on current error state
func (r *RunnableSpreadsheet) Then(fn func(*RunnableSpreadsheet) *RunnableSpreadsheet) *RunnableSpreadsheet {
	if r.err != nil {
		return r
	}
	return fn(r)
}

// OnError allows error handling in the chain
func (r *RunnableSpreadsheet) OnError(fn func(error) error) *RunnableSpreadsheet {
	if r.err != nil {
		r.err = fn(r.err)
	}
	return r
}

// Run returns the spreadsheet, or the first error of the chain
func (r *RunnableSpreadsheet) Run() (*Spreadsheet, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.spreadsheet, nil
}

// Error returns the current error state
func (r *RunnableSpreadsheet) Error() error {
	return r.err
}

// CheckError logs the current error using the PrintLn function (chainable)
func (r *RunnableSpreadsheet) CheckError() *RunnableSpreadsheet {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

// Value is a helper to get a single value from the chain.
// example: val := NewRunnableSpreadsheet(fn).AddWorksheet("Sheet1").Set("A1", 10).Set("A2", "=A1*2").Value("A2")
func (r *RunnableSpreadsheet) Value(address string) Primitive {
	var value Primitive
	r.do(func(s *Spreadsheet) (err error) {
		value, err = s.Get(address)
		return err
	})
	return value
}

// Log logs the value of a cell using the provided PrintLn function (chainable)
func (r *RunnableSpreadsheet) Log(address string) *RunnableSpreadsheet {
	return r.do(func(s *Spreadsheet) error {
		value, err := s.Get(address)
		if err != nil {
			return err
		}
		if value == nil {
			r.printLn(fmt.Sprintf("%s: <empty>", address))
		} else {
			r.printLn(fmt.Sprintf("%s: %s", address, toString(value)))
		}
		return nil
	})
}
