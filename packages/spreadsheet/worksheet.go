package spreadsheet

import (
	"cmp"
	"fmt"
	"slices"

	"golang.org/x/text/cases"
)

// ChunkKey represents the key for indexing chunks in Worksheet
type ChunkKey struct {
	ChunkRow uint32
	ChunkCol uint32
}

const (
	ChunkRows uint32 = 256                   // rows per chunk - power of 2 for efficient modulo
	ChunkCols uint32 = 256                   // columns per chunk - matches typical viewport size
	ChunkSize        = ChunkRows * ChunkCols // 65536 cells per chunk
)

// Chunk holds the cells of one 256x256 block. slots are indexed by
// row*ChunkCols+col relative to the chunk origin.
type Chunk struct {
	cells map[uint32]Cell
}

// Worksheet stores the content of one sheet.
//
//   - cells are partitioned into 256x256 chunks for spatial locality
//   - chunks are created on first write and dropped once empty
//   - rows and cols bound the addressable area, and the area an array
//     result may spill onto
type Worksheet struct {
	id     SheetID
	rows   uint32
	cols   uint32
	chunks map[ChunkKey]*Chunk
	count  int
}

func newWorksheet(id SheetID, rows, cols uint32) *Worksheet {
	return &Worksheet{
		id:     id,
		rows:   rows,
		cols:   cols,
		chunks: make(map[ChunkKey]*Chunk),
	}
}

func chunkOf(row, col uint32) (ChunkKey, uint32) {
	key := ChunkKey{ChunkRow: row / ChunkRows, ChunkCol: col / ChunkCols}
	return key, (row%ChunkRows)*ChunkCols + col%ChunkCols
}

func (w *Worksheet) get(row, col uint32) (Cell, bool) {
	key, idx := chunkOf(row, col)
	chunk, exists := w.chunks[key]
	if !exists {
		return Cell{}, false
	}
	cell, exists := chunk.cells[idx]
	return cell, exists
}

func (w *Worksheet) set(row, col uint32, cell Cell) {
	key, idx := chunkOf(row, col)
	chunk, exists := w.chunks[key]
	if !exists {
		chunk = &Chunk{cells: make(map[uint32]Cell)}
		w.chunks[key] = chunk
	}
	if _, exists := chunk.cells[idx]; !exists {
		w.count++
	}
	chunk.cells[idx] = cell
}

func (w *Worksheet) remove(row, col uint32) bool {
	key, idx := chunkOf(row, col)
	chunk, exists := w.chunks[key]
	if !exists {
		return false
	}
	if _, exists := chunk.cells[idx]; !exists {
		return false
	}
	delete(chunk.cells, idx)
	w.count--
	if len(chunk.cells) == 0 {
		delete(w.chunks, key)
	}
	return true
}

// positions returns every written position, sorted by row then column
func (w *Worksheet) positions() []Position {
	positions := make([]Position, 0, w.count)
	for key, chunk := range w.chunks {
		for idx := range chunk.cells {
			positions = append(positions, Position{
				Sheet: w.id,
				Row:   key.ChunkRow*ChunkRows + idx/ChunkCols,
				Col:   key.ChunkCol*ChunkCols + idx%ChunkCols,
			})
		}
	}
	slices.SortFunc(positions, func(a, b Position) int {
		return cmp.Or(cmp.Compare(a.Row, b.Row), cmp.Compare(a.Col, b.Col))
	})
	return positions
}

// Grid is an in-memory store of sheets and their cells. it implements
// Getters. sheet names are matched case-insensitively. a sheet keeps the
// SheetID it was created with when it is renamed.
type Grid struct {
	sheets      map[SheetID]*Worksheet
	order       []SheetID
	names       map[string]SheetID // folded name -> id
	display     map[SheetID]string // id -> current name
	nextCellID  CellID
	defaultRows uint32
	defaultCols uint32
}

var _ Getters = (*Grid)(nil)

// NewGrid creates an empty grid whose new sheets are rows x cols
func NewGrid(rows, cols uint32) *Grid {
	return &Grid{
		sheets:      make(map[SheetID]*Worksheet),
		names:       make(map[string]SheetID),
		display:     make(map[SheetID]string),
		defaultRows: rows,
		defaultCols: cols,
	}
}

func foldName(name string) string {
	return cases.Fold().String(name)
}

// AddSheet creates a sheet of the default size
func (g *Grid) AddSheet(name string) (SheetID, error) {
	if name == "" {
		return "", NewApplicationError(InvalidArgument, "worksheet name cannot be empty")
	}
	folded := foldName(name)
	if _, exists := g.names[folded]; exists {
		return "", NewApplicationError(AlreadyExists, fmt.Sprintf("worksheet %s already exists", name))
	}
	// a renamed sheet may still hold the id derived from name
	id := SheetID(name)
	for n := 2; g.sheets[id] != nil; n++ {
		id = SheetID(fmt.Sprintf("%s#%d", name, n))
	}
	g.sheets[id] = newWorksheet(id, g.defaultRows, g.defaultCols)
	g.names[folded] = id
	g.display[id] = name
	g.order = append(g.order, id)
	return id, nil
}

// RenameSheet changes the name a sheet is looked up by. its SheetID, and so
// every resolved reference to it, stays the same.
func (g *Grid) RenameSheet(sheet SheetID, name string) error {
	previous, exists := g.display[sheet]
	if !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("worksheet %s not found", sheet))
	}
	if name == "" {
		return NewApplicationError(InvalidArgument, "worksheet name cannot be empty")
	}
	folded := foldName(name)
	if id, exists := g.names[folded]; exists && id != sheet {
		return NewApplicationError(AlreadyExists, fmt.Sprintf("worksheet %s already exists", name))
	}
	delete(g.names, foldName(previous))
	g.names[folded] = sheet
	g.display[sheet] = name
	return nil
}

// RemoveSheet drops a sheet and returns the positions that held content
func (g *Grid) RemoveSheet(sheet SheetID) ([]Position, error) {
	ws, exists := g.sheets[sheet]
	if !exists {
		return nil, NewApplicationError(NotFound, fmt.Sprintf("worksheet %s not found", sheet))
	}
	positions := ws.positions()
	delete(g.sheets, sheet)
	delete(g.names, foldName(g.display[sheet]))
	delete(g.display, sheet)
	g.order = slices.DeleteFunc(g.order, func(id SheetID) bool { return id == sheet })
	return positions, nil
}

// SheetByName resolves a sheet name case-insensitively
func (g *Grid) SheetByName(name string) (SheetID, bool) {
	id, exists := g.names[foldName(name)]
	return id, exists
}

// SheetName returns the current name of a sheet
func (g *Grid) SheetName(sheet SheetID) (string, bool) {
	name, exists := g.display[sheet]
	return name, exists
}

// Resize changes the addressable area of a sheet. content outside the new
// area is kept but can no longer be addressed.
func (g *Grid) Resize(sheet SheetID, rows, cols uint32) error {
	ws, exists := g.sheets[sheet]
	if !exists {
		return NewApplicationError(NotFound, fmt.Sprintf("worksheet %s not found", sheet))
	}
	if rows == 0 || cols == 0 || rows > MaxRows || cols > MaxCols {
		return NewApplicationError(OutOfRange, fmt.Sprintf("invalid sheet size %dx%d", cols, rows))
	}
	ws.rows, ws.cols = rows, cols
	return nil
}

func (g *Grid) worksheetAt(p Position) (*Worksheet, error) {
	ws, exists := g.sheets[p.Sheet]
	if !exists {
		return nil, NewApplicationError(NotFound, fmt.Sprintf("worksheet %s not found", p.Sheet))
	}
	if p.Row >= ws.rows || p.Col >= ws.cols {
		return nil, NewApplicationError(OutOfRange, fmt.Sprintf("%s is outside of the sheet", p))
	}
	return ws, nil
}

func (g *Grid) newCellID() CellID {
	g.nextCellID++
	return g.nextCellID
}

// SetValue writes a literal. a nil value clears the cell.
func (g *Grid) SetValue(p Position, value Primitive) error {
	if value == nil {
		_, err := g.Remove(p)
		return err
	}
	ws, err := g.worksheetAt(p)
	if err != nil {
		return err
	}
	previous, _ := ws.get(p.Row, p.Col)
	ws.set(p.Row, p.Col, Cell{
		ID:      g.newCellID(),
		Content: toString(value),
		Value:   value,
		Format:  previous.Format,
	})
	return nil
}

// SetFormula writes a formula. references to sheets the grid does not know
// are stored as invalid ranges, the formula reads them as #REF!.
func (g *Grid) SetFormula(p Position, content string, formula CompiledFormula, deps []Range) error {
	if formula == nil {
		return NewApplicationError(InvalidArgument, "formula cannot be nil")
	}
	ws, err := g.worksheetAt(p)
	if err != nil {
		return err
	}
	resolved := make([]Range, len(deps))
	for i, dep := range deps {
		resolved[i] = g.resolveRange(dep)
	}
	previous, _ := ws.get(p.Row, p.Col)
	ws.set(p.Row, p.Col, Cell{
		ID:           g.newCellID(),
		Content:      content,
		Formula:      formula,
		Dependencies: resolved,
		Format:       previous.Format,
	})
	return nil
}

// SetFormat sets the number format of a cell, creating it if needed
func (g *Grid) SetFormat(p Position, format string) error {
	ws, err := g.worksheetAt(p)
	if err != nil {
		return err
	}
	cell, exists := ws.get(p.Row, p.Col)
	if !exists {
		cell.ID = g.newCellID()
	}
	cell.Format = format
	ws.set(p.Row, p.Col, cell)
	return nil
}

func (g *Grid) resolveRange(r Range) Range {
	if r.Invalid {
		return r
	}
	id, exists := g.SheetByName(string(r.Sheet))
	if !exists {
		return InvalidRange()
	}
	r.Sheet = id
	return r
}

// Remove clears a cell and reports whether it held anything
func (g *Grid) Remove(p Position) (bool, error) {
	ws, err := g.worksheetAt(p)
	if err != nil {
		return false, err
	}
	return ws.remove(p.Row, p.Col), nil
}

// Cell returns the content at p
func (g *Grid) Cell(p Position) (Cell, bool) {
	ws, exists := g.sheets[p.Sheet]
	if !exists {
		return Cell{}, false
	}
	return ws.get(p.Row, p.Col)
}

// SheetSize returns the addressable area of a sheet
func (g *Grid) SheetSize(sheet SheetID) (rows, cols uint32, ok bool) {
	ws, exists := g.sheets[sheet]
	if !exists {
		return 0, 0, false
	}
	return ws.rows, ws.cols, true
}

// SheetIDs returns the sheets in creation order
func (g *Grid) SheetIDs() []SheetID {
	return slices.Clone(g.order)
}

// CellPositions returns the written positions of a sheet, row by row
func (g *Grid) CellPositions(sheet SheetID) []Position {
	ws, exists := g.sheets[sheet]
	if !exists {
		return nil
	}
	return ws.positions()
}

// CellCount returns the number of written cells of a sheet
func (g *Grid) CellCount(sheet SheetID) int {
	ws, exists := g.sheets[sheet]
	if !exists {
		return 0
	}
	return ws.count
}
