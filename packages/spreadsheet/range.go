package spreadsheet

import (
	"fmt"
	"iter"
	"strings"
)

// Range is a rectangular block of positions within a single sheet. a range
// built from a malformed reference is flagged Invalid and never produces
// graph edges.
type Range struct {
	Sheet       SheetID
	StartRow    uint32
	StartColumn uint32
	EndRow      uint32
	EndColumn   uint32
	Invalid     bool
}

// CellRange returns the range covering exactly one position
func CellRange(p Position) Range {
	return Range{
		Sheet:       p.Sheet,
		StartRow:    p.Row,
		StartColumn: p.Col,
		EndRow:      p.Row,
		EndColumn:   p.Col,
	}
}

// ZoneRange parses "A1:B5" (or a single "C3") on the given sheet. a sheet
// prefix in the reference ("Data!A1:B2") overrides the given sheet. corners
// may be given in any order.
func ZoneRange(sheet SheetID, reference string) (Range, error) {
	sheet, zone := splitSheet(reference, sheet)
	if sheet == "" {
		return Range{}, NewApplicationError(InvalidArgument, fmt.Sprintf("no sheet in range: %s", reference))
	}

	start, end, isZone := strings.Cut(zone, ":")
	startCol, startRow, err := ParseA1(start)
	if err != nil {
		return Range{}, err
	}
	endCol, endRow := startCol, startRow
	if isZone {
		endCol, endRow, err = ParseA1(end)
		if err != nil {
			return Range{}, err
		}
	}

	return Range{
		Sheet:       sheet,
		StartRow:    min(startRow, endRow),
		StartColumn: min(startCol, endCol),
		EndRow:      max(startRow, endRow),
		EndColumn:   max(startCol, endCol),
	}, nil
}

// InvalidRange is the range a dangling reference resolves to
func InvalidRange() Range {
	return Range{Invalid: true}
}

// Contains reports whether p lies inside the range
func (r Range) Contains(p Position) bool {
	return !r.Invalid &&
		p.Sheet == r.Sheet &&
		p.Row >= r.StartRow && p.Row <= r.EndRow &&
		p.Col >= r.StartColumn && p.Col <= r.EndColumn
}

// Intersects reports whether the two ranges share at least one position
func (r Range) Intersects(other Range) bool {
	if r.Invalid || other.Invalid || r.Sheet != other.Sheet {
		return false
	}
	return r.StartRow <= other.EndRow && other.StartRow <= r.EndRow &&
		r.StartColumn <= other.EndColumn && other.StartColumn <= r.EndColumn
}

// Rows returns the height of the range
func (r Range) Rows() uint32 {
	if r.Invalid {
		return 0
	}
	return r.EndRow - r.StartRow + 1
}

// Cols returns the width of the range
func (r Range) Cols() uint32 {
	if r.Invalid {
		return 0
	}
	return r.EndColumn - r.StartColumn + 1
}

// Size returns the number of positions covered
func (r Range) Size() int {
	return int(r.Rows()) * int(r.Cols())
}

// IsSingleCell reports whether the range covers exactly one position
func (r Range) IsSingleCell() bool {
	return !r.Invalid && r.StartRow == r.EndRow && r.StartColumn == r.EndColumn
}

// TopLeft returns the first position of the range
func (r Range) TopLeft() Position {
	return Position{Sheet: r.Sheet, Col: r.StartColumn, Row: r.StartRow}
}

// Positions iterates the range column by column, matching the column-major
// layout of Matrix
func (r Range) Positions() iter.Seq[Position] {
	return func(yield func(Position) bool) {
		if r.Invalid {
			return
		}
		for col := r.StartColumn; col <= r.EndColumn; col++ {
			for row := r.StartRow; row <= r.EndRow; row++ {
				if !yield(Position{Sheet: r.Sheet, Col: col, Row: row}) {
					return
				}
			}
		}
	}
}

func (r Range) String() string {
	if r.Invalid {
		return ErrorMapper[ErrorCodeRef]
	}
	start := FormatA1(r.StartColumn, r.StartRow)
	if r.IsSingleCell() {
		return fmt.Sprintf("%s!%s", r.Sheet, start)
	}
	return fmt.Sprintf("%s!%s:%s", r.Sheet, start, FormatA1(r.EndColumn, r.EndRow))
}
