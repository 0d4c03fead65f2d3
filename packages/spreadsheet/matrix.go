package spreadsheet

// Matrix is a rectangular, column-major grid: m[col][row]. matrices built
// through this file are never empty and never ragged.
type Matrix[T any] [][]T

// NewMatrix builds a cols x rows matrix filled by fill(col, row)
func NewMatrix[T any](cols, rows int, fill func(col, row int) T) Matrix[T] {
	m := make(Matrix[T], cols)
	for col := range m {
		m[col] = make([]T, rows)
		for row := range m[col] {
			m[col][row] = fill(col, row)
		}
	}
	return m
}

// Cols returns the number of columns
func (m Matrix[T]) Cols() int {
	return len(m)
}

// Rows returns the number of rows
func (m Matrix[T]) Rows() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// At returns the element at (col, row)
func (m Matrix[T]) At(col, row int) T {
	return m[col][row]
}

// IsRectangular reports whether m is non-empty and every column has the
// same, non-zero length
func (m Matrix[T]) IsRectangular() bool {
	if len(m) == 0 || len(m[0]) == 0 {
		return false
	}
	for _, column := range m[1:] {
		if len(column) != len(m[0]) {
			return false
		}
	}
	return true
}

// IsSingleValue reports whether m is 1x1
func (m Matrix[T]) IsSingleValue() bool {
	return len(m) == 1 && len(m[0]) == 1
}

// Transpose swaps rows and columns
func (m Matrix[T]) Transpose() Matrix[T] {
	return NewMatrix(m.Rows(), m.Cols(), func(col, row int) T {
		return m[row][col]
	})
}

// Values iterates the elements column by column
func (m Matrix[T]) Values(yield func(T) bool) {
	for _, column := range m {
		for _, v := range column {
			if !yield(v) {
				return
			}
		}
	}
}

// MapMatrix applies f to every element
func MapMatrix[T, U any](m Matrix[T], f func(T) U) Matrix[U] {
	return NewMatrix(m.Cols(), m.Rows(), func(col, row int) U {
		return f(m[col][row])
	})
}
