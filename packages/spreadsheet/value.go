package spreadsheet

import (
	"fmt"
	"math"
	"strings"
)

// FunctionResult is a value with an optional number format
type FunctionResult struct {
	Value  Primitive
	Format string
}

// FormattedMatrix carries a matrix of values and a matrix of formats that
// must have the same dimensions
type FormattedMatrix struct {
	Values  Matrix[Primitive]
	Formats Matrix[string]
}

// Value is what flows between formulas and functions: either a scalar
// result or a matrix of results
type Value struct {
	scalar FunctionResult
	matrix Matrix[FunctionResult]
}

// Scalar wraps a primitive
func Scalar(v Primitive) Value {
	return Value{scalar: FunctionResult{Value: v}}
}

// ScalarResult wraps a formatted primitive
func ScalarResult(r FunctionResult) Value {
	return Value{scalar: r}
}

// MatrixValue wraps a matrix of results. panics with an internal error if m
// is empty or ragged.
func MatrixValue(m Matrix[FunctionResult]) Value {
	if !m.IsRectangular() {
		panic(internalErrorf("matrix value must be rectangular and non-empty"))
	}
	return Value{matrix: m}
}

// ErrorValue wraps a spreadsheet error
func ErrorValue(code ErrorCode, message string) Value {
	return Scalar(NewSpreadsheetError(code, message))
}

// IsMatrix reports whether v holds a matrix
func (v Value) IsMatrix() bool {
	return v.matrix != nil
}

// Result returns the scalar, or the top-left element of a matrix
func (v Value) Result() FunctionResult {
	if v.matrix != nil {
		return v.matrix[0][0]
	}
	return v.scalar
}

// Primitive returns the raw scalar, or the top-left element of a matrix
func (v Value) Primitive() Primitive {
	return v.Result().Value
}

// Matrix returns the matrix, a scalar is seen as 1x1
func (v Value) Matrix() Matrix[FunctionResult] {
	if v.matrix != nil {
		return v.matrix
	}
	return Matrix[FunctionResult]{{v.scalar}}
}

// Err returns the spreadsheet error held by a scalar value, nil otherwise
func (v Value) Err() *SpreadsheetError {
	if v.matrix != nil {
		return nil
	}
	return checkForError(v.scalar.Value)
}

func (v Value) String() string {
	if v.matrix != nil {
		return fmt.Sprintf("matrix(%dx%d)", v.matrix.Cols(), v.matrix.Rows())
	}
	return fmt.Sprintf("%v", v.scalar.Value)
}

// normalizeResult turns whatever a function implementation returned into
// a Value. ints become float64, NaN and infinities become #NUM!.
func normalizeResult(out any) Value {
	switch v := out.(type) {
	case Value:
		if v.IsMatrix() {
			return MatrixValue(MapMatrix(v.matrix, normalizeFunctionResult))
		}
		return ScalarResult(normalizeFunctionResult(v.scalar))
	case FunctionResult:
		return ScalarResult(normalizeFunctionResult(v))
	case Matrix[FunctionResult]:
		return MatrixValue(MapMatrix(v, normalizeFunctionResult))
	case Matrix[Primitive]:
		return MatrixValue(MapMatrix(v, func(p Primitive) FunctionResult {
			return FunctionResult{Value: normalizePrimitive(p)}
		}))
	case [][]any:
		m := make(Matrix[Primitive], len(v))
		for col, values := range v {
			m[col] = make([]Primitive, len(values))
			for row, p := range values {
				m[col][row] = p
			}
		}
		return normalizeResult(m)
	case FormattedMatrix:
		if v.Values.Cols() != v.Formats.Cols() || v.Values.Rows() != v.Formats.Rows() || !v.Formats.IsRectangular() {
			panic(internalErrorf("format matrix is %dx%d but value matrix is %dx%d",
				v.Formats.Cols(), v.Formats.Rows(), v.Values.Cols(), v.Values.Rows()))
		}
		return MatrixValue(NewMatrix(v.Values.Cols(), v.Values.Rows(), func(col, row int) FunctionResult {
			return FunctionResult{Value: normalizePrimitive(v.Values[col][row]), Format: v.Formats[col][row]}
		}))
	default:
		return Scalar(normalizePrimitive(out))
	}
}

func normalizeFunctionResult(r FunctionResult) FunctionResult {
	return FunctionResult{Value: normalizePrimitive(r.Value), Format: r.Format}
}

// normalizePrimitive maps Go values onto the primitive types
func normalizePrimitive(p any) Primitive {
	switch v := p.(type) {
	case nil, string, bool, *SpreadsheetError:
		return v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewSpreadsheetError(ErrorCodeNum, "")
		}
		return v
	case float32:
		return normalizePrimitive(float64(v))
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return NewSpreadsheetError(ErrorCodeOther, fmt.Sprintf("unsupported result type %T", p))
	}
}

// withFunctionName substitutes the function name placeholder in an error
// message, leaving the original error untouched
func withFunctionName(err *SpreadsheetError, name string) *SpreadsheetError {
	if !strings.Contains(err.Message, FunctionNamePlaceholder) {
		return err
	}
	return &SpreadsheetError{
		ErrorCode: err.ErrorCode,
		Message:   strings.ReplaceAll(err.Message, FunctionNamePlaceholder, name),
	}
}
