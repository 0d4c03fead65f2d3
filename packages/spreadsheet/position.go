package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

// SheetID identifies a sheet. it is opaque to the evaluator.
type SheetID string

// Position is a (sheet, column, row) triple with zero-based coordinates
type Position struct {
	Sheet SheetID
	Col   uint32
	Row   uint32
}

func (p Position) String() string {
	return fmt.Sprintf("%s!%s", p.Sheet, FormatA1(p.Col, p.Row))
}

// PositionID is the compact, totally ordered form of a Position.
//
// layout (low to high bits):
//   - bits 0..20: row
//   - bits 21..41: column
//   - bits 42..63: dense sheet index
type PositionID uint64

const (
	positionBits = 21
	positionMask = 1<<positionBits - 1
	sheetShift   = 2 * positionBits

	MaxRows uint32 = 1 << positionBits // rows addressable by a PositionID
	MaxCols uint32 = 1 << positionBits // columns addressable by a PositionID
)

// sheetTable assigns dense indexes to sheet ids in encounter order. it is
// append-only: an index is never reused, even when the sheet disappears.
type sheetTable struct {
	indexes map[SheetID]uint32 // sheet id -> dense index
	sheets  []SheetID          // dense index -> sheet id
}

func newSheetTable() sheetTable {
	return sheetTable{indexes: make(map[SheetID]uint32)}
}

// intern returns the index of a sheet, assigning the next one if the sheet
// was never seen
func (st *sheetTable) intern(sheet SheetID) uint32 {
	if index, exists := st.indexes[sheet]; exists {
		return index
	}
	index := uint32(len(st.sheets))
	st.indexes[sheet] = index
	st.sheets = append(st.sheets, sheet)
	return index
}

// PositionCodec maps positions to PositionIDs and back. one codec is owned
// by each Evaluator; ids minted by different codecs are not comparable.
type PositionCodec struct {
	sheets sheetTable
}

// NewPositionCodec creates an empty codec
func NewPositionCodec() *PositionCodec {
	return &PositionCodec{sheets: newSheetTable()}
}

// Encode returns the id of a position. panics with an Internal AppError if
// the coordinates do not fit the id layout, grids never hand out such
// positions.
func (c *PositionCodec) Encode(p Position) PositionID {
	if p.Row > positionMask || p.Col > positionMask {
		panic(internalErrorf("position %s does not fit a position id", p))
	}
	index := c.sheets.intern(p.Sheet)
	return PositionID(uint64(index)<<sheetShift | uint64(p.Col)<<positionBits | uint64(p.Row))
}

// Decode is the inverse of Encode. an id carrying a sheet index this codec
// never assigned is an internal error.
func (c *PositionCodec) Decode(id PositionID) Position {
	index := uint64(id) >> sheetShift
	if index >= uint64(len(c.sheets.sheets)) {
		panic(internalErrorf("unknown sheet index %d in position id %d", index, id))
	}
	return Position{
		Sheet: c.sheets.sheets[index],
		Col:   uint32(uint64(id)>>positionBits) & positionMask,
		Row:   uint32(id) & positionMask,
	}
}

// Lookup is Encode without assigning an index to an unseen sheet
func (c *PositionCodec) Lookup(p Position) (PositionID, bool) {
	if _, exists := c.sheets.indexes[p.Sheet]; !exists || p.Row > positionMask || p.Col > positionMask {
		return 0, false
	}
	return c.Encode(p), true
}

// SheetIndex returns the dense index of a sheet if it was already encoded
func (c *PositionCodec) SheetIndex(sheet SheetID) (uint32, bool) {
	index, exists := c.sheets.indexes[sheet]
	return index, exists
}

// SheetCount returns how many sheets were assigned an index
func (c *PositionCodec) SheetCount() int {
	return len(c.sheets.sheets)
}

// ParseA1 parses a cell reference such as "B3" into zero-based coordinates
func ParseA1(cell string) (col uint32, row uint32, err error) {
	cell = strings.ReplaceAll(cell, "$", "")
	if len(cell) < 2 {
		return 0, 0, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid cell reference: %s", cell))
	}

	// find where letters end and numbers begin
	letterEnd := 0
	for i, ch := range cell {
		if ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z' {
			letterEnd = i + 1
		} else {
			break
		}
	}

	if letterEnd == 0 || letterEnd == len(cell) {
		return 0, 0, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid cell reference: %s", cell))
	}

	// parse column (A=0, B=1, ..., Z=25, AA=26, AB=27, ...)
	colStr := strings.ToUpper(cell[:letterEnd])
	var colNum uint64
	for _, ch := range colStr {
		colNum = colNum*26 + uint64(ch-'A') + 1
		if colNum > uint64(MaxCols) {
			return 0, 0, NewApplicationError(OutOfRange, fmt.Sprintf("column out of range: %s", colStr))
		}
	}

	// parse row (1-based in notation, but we want 0-based)
	rowStr := cell[letterEnd:]
	rowNum, err := strconv.ParseUint(rowStr, 10, 32)
	if err != nil {
		return 0, 0, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid row number: %s", rowStr))
	}
	if rowNum < 1 {
		return 0, 0, NewApplicationError(InvalidArgument, fmt.Sprintf("row number must be positive: %d", rowNum))
	}
	if rowNum > uint64(MaxRows) {
		return 0, 0, NewApplicationError(OutOfRange, fmt.Sprintf("row out of range: %d", rowNum))
	}

	return uint32(colNum - 1), uint32(rowNum - 1), nil
}

// FormatA1 renders zero-based coordinates as "B3"
func FormatA1(col, row uint32) string {
	return columnName(col) + strconv.FormatUint(uint64(row)+1, 10)
}

func columnName(col uint32) string {
	var buf []byte
	n := uint64(col) + 1
	for n > 0 {
		n--
		buf = append([]byte{byte('A' + n%26)}, buf...)
		n /= 26
	}
	return string(buf)
}

// ParsePosition parses "Sheet1!B3" or "B3". the default sheet is used when
// the address carries none. quoted sheet names ('My sheet'!A1) are accepted.
func ParsePosition(address string, defaultSheet SheetID) (Position, error) {
	sheet, cell := splitSheet(address, defaultSheet)
	if sheet == "" {
		return Position{}, NewApplicationError(InvalidArgument, fmt.Sprintf("no sheet in address: %s", address))
	}
	col, row, err := ParseA1(cell)
	if err != nil {
		return Position{}, err
	}
	return Position{Sheet: sheet, Col: col, Row: row}, nil
}

// splitSheet separates the sheet prefix of an address
func splitSheet(address string, defaultSheet SheetID) (SheetID, string) {
	lastExclamation := strings.LastIndex(address, "!")
	if lastExclamation == -1 {
		return defaultSheet, address
	}
	name := address[:lastExclamation]
	// remove quotes if present
	if len(name) >= 2 && strings.HasPrefix(name, "'") && strings.HasSuffix(name, "'") {
		name = name[1 : len(name)-1]
	}
	return SheetID(name), address[lastExclamation+1:]
}
