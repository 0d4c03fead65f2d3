package spreadsheet

import "fmt"

// Primitive represents basic spreadsheet value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty/null cells
//   - *SpreadsheetError: error values (#DIV/0!, #VALUE!, etc.)
type Primitive any

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull    ErrorCode = 1  // #NULL! - no cells in common between ranges
	ErrorCodeDiv0    ErrorCode = 2  // #DIV/0! - division by zero
	ErrorCodeValue   ErrorCode = 3  // #VALUE! - wrong type of argument or operand
	ErrorCodeRef     ErrorCode = 4  // #REF! - invalid cell reference
	ErrorCodeName    ErrorCode = 5  // #NAME? - unrecognized function name
	ErrorCodeNum     ErrorCode = 6  // #NUM! - number too large or small to be represented
	ErrorCodeNA      ErrorCode = 7  // #N/A - value not available
	ErrorCodeOther   ErrorCode = 8  // #ERROR! - all other errors
	ErrorCodeCycle   ErrorCode = 9  // #CYCLE! - circular reference
	ErrorCodeSpill   ErrorCode = 10 // #SPILL! - array result cannot be spread
	ErrorCodeBadExpr ErrorCode = 11 // #BAD_EXPR - wrong argument count or type
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:    "#NULL!",
	ErrorCodeDiv0:    "#DIV/0!",
	ErrorCodeValue:   "#VALUE!",
	ErrorCodeRef:     "#REF!",
	ErrorCodeName:    "#NAME?",
	ErrorCodeNum:     "#NUM!",
	ErrorCodeNA:      "#N/A",
	ErrorCodeOther:   "#ERROR!",
	ErrorCodeCycle:   "#CYCLE!",
	ErrorCodeSpill:   "#SPILL!",
	ErrorCodeBadExpr: "#BAD_EXPR",
}

// FunctionNamePlaceholder is replaced with the calling function's name in
// error messages produced by function implementations.
const FunctionNamePlaceholder = "[[FUNCTION_NAME]]"

// SpreadsheetError preserves error code for display in cells
type SpreadsheetError struct {
	ErrorCode ErrorCode
	Message   string
}

func (e *SpreadsheetError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.ErrorCode]
}

// Code returns the display form of the error, e.g. "#REF!"
func (e *SpreadsheetError) Code() string {
	return ErrorMapper[e.ErrorCode]
}

// Is reports whether target is a *SpreadsheetError with the same code
func (e *SpreadsheetError) Is(target error) bool {
	t, ok := target.(*SpreadsheetError)
	return ok && t.ErrorCode == e.ErrorCode
}

func NewSpreadsheetError(code ErrorCode, message string) *SpreadsheetError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &SpreadsheetError{
		ErrorCode: code,
		Message:   message,
	}
}

// checkForError returns the error if value is a *SpreadsheetError, nil otherwise
func checkForError(value Primitive) *SpreadsheetError {
	if err, ok := value.(*SpreadsheetError); ok {
		return err
	}
	return nil
}

// CellType represents numeric constants for cell value
// types (external API)
type CellType uint8

const (
	CellValueTypeEmpty   CellType = 0
	CellValueTypeNumber  CellType = 1
	CellValueTypeString  CellType = 2
	CellValueTypeDate    CellType = 3
	CellValueTypeBoolean CellType = 4
	CellValueTypeError   CellType = 5
)

// EvaluatedCell is the result of evaluating a position. instances are
// replaced wholesale on every recomputation, never mutated.
type EvaluatedCell struct {
	Type   CellType
	Value  Primitive
	Format string
	Error  *SpreadsheetError
}

// IsEmpty reports whether the evaluated cell holds nothing
func (c EvaluatedCell) IsEmpty() bool {
	return c.Type == CellValueTypeEmpty
}

var emptyEvaluatedCell = EvaluatedCell{Type: CellValueTypeEmpty}

// newEvaluatedCell types a function result. nil becomes the empty cell
func newEvaluatedCell(result FunctionResult) EvaluatedCell {
	cell := EvaluatedCell{Value: result.Value, Format: result.Format}
	switch v := result.Value.(type) {
	case nil:
		cell.Type = CellValueTypeEmpty
	case float64:
		cell.Type = CellValueTypeNumber
		if isDateFormat(result.Format) {
			cell.Type = CellValueTypeDate
		}
	case string:
		cell.Type = CellValueTypeString
	case bool:
		cell.Type = CellValueTypeBoolean
	case *SpreadsheetError:
		cell.Type = CellValueTypeError
		cell.Error = v
	default:
		cell.Type = CellValueTypeError
		cell.Error = NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("unsupported value type %T", v))
		cell.Value = cell.Error
	}
	return cell
}

// errorEvaluatedCell builds the evaluated form of a formula error
func errorEvaluatedCell(err *SpreadsheetError) EvaluatedCell {
	return EvaluatedCell{Type: CellValueTypeError, Value: err, Error: err}
}

// isDateFormat reports whether a number format renders dates
func isDateFormat(format string) bool {
	for _, ch := range format {
		switch ch {
		case 'd', 'm', 'y', 'D', 'M', 'Y':
			return true
		}
	}
	return false
}

// CellID identifies a cell independently of where it is stored
type CellID uint64

// Cell is the content of one position as owned by the grid layer. the
// evaluator only reads it.
type Cell struct {
	ID           CellID          // stable identity of the cell
	Content      string          // raw text as typed by the user
	Value        Primitive       // parsed literal value, nil for formula cells
	Formula      CompiledFormula // compiled formula, nil for literal cells
	Dependencies []Range         // statically resolved references of the formula
	Format       string          // number format
}

// IsFormula reports whether the cell holds a formula
func (c Cell) IsFormula() bool {
	return c.Formula != nil
}

// HasContent reports whether anything was written in the cell
func (c Cell) HasContent() bool {
	return c.Formula != nil || c.Value != nil || c.Content != ""
}

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error. Errors raised by APIs that do not return enough error
	// information may be converted to this error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (e.g., worksheet or function)
	// was not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// Is matches any *AppError carrying the same code, so callers can test
// errors.Is(err, ErrInternal)
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

var (
	// ErrInternal matches every error reporting a broken invariant
	ErrInternal = NewApplicationError(Internal, "internal error")

	// ErrInvalidFunction matches function registration failures
	ErrInvalidFunction = NewApplicationError(FailedPrecondition, "invalid function description")
)

// internalErrorf builds an Internal application error
func internalErrorf(format string, args ...any) *AppError {
	return NewApplicationError(Internal, fmt.Sprintf(format, args...))
}
