package spreadsheet

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Excel date/time constants
const (
	// December 30, 1899 00:00:00 UTC in Unix milliseconds, day zero of the
	// serial date system
	EXCEL_EPOCH_MS = -2209161600000
	MS_PER_DAY     = 86400000 // milliseconds in a day
)

const (
	dateTimeFormat = "m/d/yyyy hh:mm:ss"
	dateFormat     = "m/d/yyyy"
)

// NewDefaultFunctionRegistry creates a registry holding the built-in
// library and the operator functions
func NewDefaultFunctionRegistry() *FunctionRegistry {
	fr := NewFunctionRegistry()
	RegisterBuiltins(fr)
	return fr
}

// RegisterBuiltins adds the built-in library and the operator functions to
// fr. it panics if one of them is already registered.
func RegisterBuiltins(fr *FunctionRegistry) {
	for _, group := range [][]FunctionDescription{
		aggregateFunctions(),
		logicalFunctions(),
		textFunctions(),
		mathFunctions(),
		volatileFunctions(),
		arrayFunctions(),
		operatorFunctions(),
	} {
		for _, descr := range group {
			fr.MustRegister(descr)
		}
	}
}

var repeatingNumbers = []ArgDefinition{
	Arg("value (number, range<number>, repeating)", "a number or a range of numbers"),
}

func aggregateFunctions() []FunctionDescription {
	return []FunctionDescription{
		{
			Name:        "SUM",
			Description: "Sum of a series of numbers and/or cells.",
			Args:        repeatingNumbers,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				sum := 0.0
				err := eachNumber(args, func(n float64) { sum += n })
				if err != nil {
					return nil, err
				}
				rounded, _ := strconv.ParseFloat(fmt.Sprintf("%.15f", sum), 64)
				return rounded, nil
			},
		},
		{
			Name:        "AVERAGE",
			Description: "Numerical average value in a dataset, ignoring text.",
			Args:        repeatingNumbers,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				sum, count := 0.0, 0
				err := eachNumber(args, func(n float64) {
					sum += n
					count++
				})
				if err != nil {
					return nil, err
				}
				if count == 0 {
					return nil, NewSpreadsheetError(ErrorCodeDiv0, "Evaluation of function [[FUNCTION_NAME]] caused a divide by zero error.")
				}
				return sum / float64(count), nil
			},
		},
		{
			Name:        "COUNT",
			Description: "The number of numeric values in dataset.",
			Args:        []ArgDefinition{Arg("value (any, range, repeating)", "a value or range to count")},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				count := 0
				for _, arg := range args {
					for v := range arg.Matrix().Values {
						// only numbers count, errors and text are skipped
						if _, isNumber := v.Value.(float64); isNumber {
							count++
						}
					}
				}
				return float64(count), nil
			},
		},
		{
			Name:        "COUNTA",
			Description: "The number of values in a dataset.",
			Args:        []ArgDefinition{Arg("value (any, range, repeating)", "a value or range to count")},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				count := 0
				for _, arg := range args {
					if !arg.IsMatrix() {
						// direct arguments always count, even ""
						count++
						continue
					}
					for v := range arg.Matrix().Values {
						if v.Value != nil {
							count++
						}
					}
				}
				return float64(count), nil
			},
		},
		{
			Name:        "MAX",
			Description: "Returns the maximum value in a numeric dataset.",
			Args:        repeatingNumbers,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				result, found := math.Inf(-1), false
				err := eachNumber(args, func(n float64) {
					result = max(result, n)
					found = true
				})
				if err != nil {
					return nil, err
				}
				if !found {
					return 0.0, nil
				}
				return result, nil
			},
		},
		{
			Name:        "MIN",
			Description: "Returns the minimum value in a numeric dataset.",
			Args:        repeatingNumbers,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				result, found := math.Inf(1), false
				err := eachNumber(args, func(n float64) {
					result = min(result, n)
					found = true
				})
				if err != nil {
					return nil, err
				}
				if !found {
					return 0.0, nil
				}
				return result, nil
			},
		},
		{
			Name:        "MEDIAN",
			Description: "Returns the median value in a numeric dataset.",
			Args:        repeatingNumbers,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				var values []float64
				if err := eachNumber(args, func(n float64) { values = append(values, n) }); err != nil {
					return nil, err
				}
				if len(values) == 0 {
					return nil, NewSpreadsheetError(ErrorCodeNum, "[[FUNCTION_NAME]] has no numeric values")
				}
				slices.Sort(values)
				mid := len(values) / 2
				if len(values)%2 == 0 {
					return (values[mid-1] + values[mid]) / 2, nil
				}
				return values[mid], nil
			},
		},
	}
}

func logicalFunctions() []FunctionDescription {
	return []FunctionDescription{
		{
			Name:        "IF",
			Description: "Returns value if logical expression is TRUE, second value if it is FALSE.",
			Args: []ArgDefinition{
				Arg("logical_expression (boolean)", "an expression or cell that evaluates to TRUE or FALSE"),
				Arg("value_if_true (any)", "the value returned when the expression is TRUE"),
				Arg("value_if_false (any, default=FALSE)", "the value returned when the expression is FALSE"),
			},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				if isTruthy(args[0].Primitive()) {
					return args[1], nil
				}
				if len(args) == 3 {
					return args[2], nil
				}
				return false, nil
			},
		},
		{
			Name:        "AND",
			Description: "Returns TRUE if all the provided arguments are logically true.",
			Args:        []ArgDefinition{Arg("logical_expression (boolean, range<boolean>, repeating)", "a value or range to test")},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				result := true
				err := eachPrimitive(args, func(p Primitive) { result = result && isTruthy(p) })
				return result, err
			},
		},
		{
			Name:        "OR",
			Description: "Returns TRUE if any of the provided arguments are logically true.",
			Args:        []ArgDefinition{Arg("logical_expression (boolean, range<boolean>, repeating)", "a value or range to test")},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				result := false
				err := eachPrimitive(args, func(p Primitive) { result = result || isTruthy(p) })
				return result, err
			},
		},
		{
			Name:        "NOT",
			Description: "Returns the opposite of a logical value.",
			Args:        []ArgDefinition{Arg("logical_expression (boolean)", "an expression or cell holding a logical value")},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				return !isTruthy(args[0].Primitive()), nil
			},
		},
		{
			Name:        "IFERROR",
			Description: "Returns the first argument if it is not an error value, otherwise returns the second argument.",
			Args: []ArgDefinition{
				Arg("value (any)", "the value to return if it is not an error"),
				Arg(`value_if_error (any, default="")`, "the value to return if value is an error"),
			},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				if args[0].Err() == nil {
					return args[0], nil
				}
				if len(args) == 2 {
					return args[1], nil
				}
				return "", nil
			},
		},
		{
			Name:        "ISERROR",
			Description: "Whether a value is an error.",
			Args:        []ArgDefinition{Arg("value (any)", "the value to be verified as an error type")},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				return args[0].Err() != nil, nil
			},
		},
	}
}

func textFunctions() []FunctionDescription {
	text := []ArgDefinition{Arg("text (string)", "the text to transform")}
	return []FunctionDescription{
		{
			Name:        "CONCATENATE",
			Description: "Appends strings to one another.",
			Args:        []ArgDefinition{Arg("string (string, range<string>, repeating)", "a string or range of strings")},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				var result strings.Builder
				err := eachPrimitive(args, func(p Primitive) { result.WriteString(toString(p)) })
				return result.String(), err
			},
		},
		{
			Name:        "LEN",
			Description: "Length of a string.",
			Args:        text,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				return utf8.RuneCountInString(toString(args[0].Primitive())), nil
			},
		},
		{
			Name:        "UPPER",
			Description: "Converts a specified string to uppercase.",
			Args:        text,
			Compute: func(ctx *EvalContext, args ...Value) (any, error) {
				return cases.Upper(ctx.Locale).String(toString(args[0].Primitive())), nil
			},
		},
		{
			Name:        "LOWER",
			Description: "Converts a specified string to lowercase.",
			Args:        text,
			Compute: func(ctx *EvalContext, args ...Value) (any, error) {
				return cases.Lower(ctx.Locale).String(toString(args[0].Primitive())), nil
			},
		},
		{
			Name:        "TRIM",
			Description: "Removes leading and trailing spaces in a specified string.",
			Args:        text,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				return strings.TrimSpace(toString(args[0].Primitive())), nil
			},
		},
	}
}

func mathFunctions() []FunctionDescription {
	number := []ArgDefinition{Arg("value (number)", "the number to transform")}
	return []FunctionDescription{
		{
			Name:        "ABS",
			Description: "Absolute value of a number.",
			Args:        number,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				n, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				return math.Abs(n), nil
			},
		},
		{
			Name:        "ROUND",
			Description: "Rounds a number to a certain number of decimal places.",
			Args: []ArgDefinition{
				Arg("value (number)", "the value to round"),
				Arg("places (number, default=0)", "the number of decimal places to round to"),
			},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				n, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				places := 0.0
				if len(args) == 2 {
					if places, err = numberArg(args[1]); err != nil {
						return nil, err
					}
				}
				multiplier := math.Pow(10, math.Trunc(places))
				return math.Round(n*multiplier) / multiplier, nil
			},
		},
		{
			Name:        "FLOOR",
			Description: "Rounds number down to the nearest integer.",
			Args:        number,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				n, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				return math.Floor(n), nil
			},
		},
		{
			Name:        "CEILING",
			Description: "Rounds number up to the nearest integer.",
			Args:        number,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				n, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				return math.Ceil(n), nil
			},
		},
		{
			Name:        "SQRT",
			Description: "Positive square root of a positive number.",
			Args:        number,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				n, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				if n < 0 {
					return nil, NewSpreadsheetError(ErrorCodeNum, "Function [[FUNCTION_NAME]] parameter 1 value is negative. It should be positive or zero.")
				}
				return math.Sqrt(n), nil
			},
		},
		{
			Name:        "POWER",
			Description: "A number raised to a power.",
			Args: []ArgDefinition{
				Arg("base (number)", "the number to raise to the exponent power"),
				Arg("exponent (number)", "the exponent to raise base to"),
			},
			Compute: binaryNumeric(func(base, exponent float64) (any, error) {
				return math.Pow(base, exponent), nil
			}),
		},
		{
			Name:        "MOD",
			Description: "Modulo (remainder) operator.",
			Args: []ArgDefinition{
				Arg("dividend (number)", "the number to be divided"),
				Arg("divisor (number)", "the number to divide by"),
			},
			Compute: binaryNumeric(func(dividend, divisor float64) (any, error) {
				if divisor == 0 {
					return nil, NewSpreadsheetError(ErrorCodeDiv0, "The divisor must be different from 0.")
				}
				// the result takes the sign of the divisor
				mod := math.Mod(dividend, divisor)
				if mod != 0 && (mod < 0) != (divisor < 0) {
					mod += divisor
				}
				return mod, nil
			}),
		},
		{
			Name:        "PI",
			Description: "The number pi.",
			Compute: func(*EvalContext, ...Value) (any, error) {
				return math.Pi, nil
			},
		},
	}
}

func volatileFunctions() []FunctionDescription {
	return []FunctionDescription{
		{
			Name:        "NOW",
			Description: "Current date and time as a date value.",
			Volatile:    true,
			Compute: func(ctx *EvalContext, _ ...Value) (any, error) {
				return FunctionResult{Value: toSerialDate(ctx.Now()), Format: dateTimeFormat}, nil
			},
		},
		{
			Name:        "TODAY",
			Description: "Current date as a date value.",
			Volatile:    true,
			Compute: func(ctx *EvalContext, _ ...Value) (any, error) {
				now := ctx.Now()
				midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
				return FunctionResult{Value: math.Floor(toSerialDate(midnight)), Format: dateFormat}, nil
			},
		},
		{
			Name:        "RAND",
			Description: "Returns a random number between 0 inclusive and 1 exclusive.",
			Volatile:    true,
			Compute: func(ctx *EvalContext, _ ...Value) (any, error) {
				return ctx.Rand(), nil
			},
		},
	}
}

func arrayFunctions() []FunctionDescription {
	return []FunctionDescription{
		{
			Name:        "TRANSPOSE",
			Description: "Transposes the rows and columns of a range.",
			Args:        []ArgDefinition{Arg("range (any, range)", "a range to be transposed")},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				return MatrixValue(args[0].Matrix().Transpose()), nil
			},
		},
		{
			Name:        "SEQUENCE",
			Description: "Returns a sequence of numbers.",
			Args: []ArgDefinition{
				Arg("rows (number)", "the number of rows to return"),
				Arg("columns (number, default=1)", "the number of columns to return"),
				Arg("start (number, default=1)", "the first number in the sequence"),
				Arg("step (number, default=1)", "the amount to increment each value in the sequence"),
			},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				params := []float64{0, 1, 1, 1}
				for i, arg := range args {
					n, err := numberArg(arg)
					if err != nil {
						return nil, err
					}
					params[i] = n
				}
				rows, cols := math.Trunc(params[0]), math.Trunc(params[1])
				if rows < 1 || cols < 1 {
					return nil, NewSpreadsheetError(ErrorCodeValue, "Function [[FUNCTION_NAME]] expects number of rows and columns to be greater than 0.")
				}
				if err := checkMatrixSize(cols, rows); err != nil {
					return nil, err
				}
				start, step := params[2], params[3]
				return NewMatrix(int(cols), int(rows), func(col, row int) Primitive {
					return start + step*float64(row*int(cols)+col)
				}), nil
			},
		},
		{
			Name:        "MUNIT",
			Description: "Returns a n by n unit matrix.",
			Args:        []ArgDefinition{Arg("dimension (number)", "the dimension of the unit matrix")},
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				n, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				n = math.Trunc(n)
				if n < 1 {
					return nil, NewSpreadsheetError(ErrorCodeValue, "The argument dimension must be greater than 0.")
				}
				if err := checkMatrixSize(n, n); err != nil {
					return nil, err
				}
				return NewMatrix(int(n), int(n), func(col, row int) Primitive {
					if col == row {
						return 1.0
					}
					return 0.0
				}), nil
			},
		},
	}
}

// MaxMatrixCells bounds the arrays built by functions. sizes are checked
// before anything is allocated.
const MaxMatrixCells = 1 << 20

func checkMatrixSize(cols, rows float64) *SpreadsheetError {
	if cols*rows > MaxMatrixCells {
		return NewSpreadsheetError(ErrorCodeNum, fmt.Sprintf(
			"Function [[FUNCTION_NAME]] result is too large: %.0f cells, the limit is %d.", cols*rows, MaxMatrixCells))
	}
	return nil
}

// operatorFunctions back the formula operators. an error operand never
// reaches them: no argument accepts errors.
func operatorFunctions() []FunctionDescription {
	operand := "(number, string, boolean)"
	binary := []ArgDefinition{
		Arg("left "+operand, "left operand"),
		Arg("right "+operand, "right operand"),
	}
	unary := []ArgDefinition{Arg("value "+operand, "operand")}

	compare := func(name string, test func(cmp int) bool) FunctionDescription {
		return FunctionDescription{
			Name: name,
			Args: binary,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				return test(comparePrimitives(args[0].Primitive(), args[1].Primitive())), nil
			},
		}
	}

	return []FunctionDescription{
		{Name: "ADD", Args: binary, Compute: binaryNumeric(func(a, b float64) (any, error) { return a + b, nil })},
		{Name: "MINUS", Args: binary, Compute: binaryNumeric(func(a, b float64) (any, error) { return a - b, nil })},
		{Name: "MULTIPLY", Args: binary, Compute: binaryNumeric(func(a, b float64) (any, error) { return a * b, nil })},
		{Name: "DIVIDE", Args: binary, Compute: binaryNumeric(func(a, b float64) (any, error) {
			if b == 0 {
				return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
			}
			return a / b, nil
		})},
		{
			Name: "CONCAT",
			Args: binary,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				return toString(args[0].Primitive()) + toString(args[1].Primitive()), nil
			},
		},
		compare("EQ", func(cmp int) bool { return cmp == 0 }),
		compare("NE", func(cmp int) bool { return cmp != 0 }),
		compare("LT", func(cmp int) bool { return cmp < 0 }),
		compare("LTE", func(cmp int) bool { return cmp <= 0 }),
		compare("GT", func(cmp int) bool { return cmp > 0 }),
		compare("GTE", func(cmp int) bool { return cmp >= 0 }),
		{
			Name: "UPLUS",
			Args: unary,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				// unary plus keeps its operand as is
				return args[0], nil
			},
		},
		{
			Name: "UMINUS",
			Args: unary,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				n, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				return -n, nil
			},
		},
		{
			Name: "UNARY.PERCENT",
			Args: unary,
			Compute: func(_ *EvalContext, args ...Value) (any, error) {
				n, err := numberArg(args[0])
				if err != nil {
					return nil, err
				}
				return n / 100, nil
			},
		},
	}
}

// binaryNumeric coerces both arguments to numbers before calling f
func binaryNumeric(f func(a, b float64) (any, error)) FunctionImpl {
	return func(_ *EvalContext, args ...Value) (any, error) {
		a, err := numberArg(args[0])
		if err != nil {
			return nil, err
		}
		b, err := numberArg(args[1])
		if err != nil {
			return nil, err
		}
		return f(a, b)
	}
}

// numberArg coerces a scalar argument, text that is not a number is
// #VALUE!
func numberArg(v Value) (float64, error) {
	p := v.Primitive()
	n, ok := toNumber(p)
	if !ok {
		return 0, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf(
			"Function [[FUNCTION_NAME]] expects number values. But '%s' is a text and cannot be coerced to a number.", toString(p)))
	}
	return n, nil
}

// eachNumber feeds the numbers of the arguments to f. direct arguments are
// coerced and skipped when they are not numeric; values read from a range
// count only when they are numbers. an error inside a range propagates.
func eachNumber(args []Value, f func(float64)) error {
	for _, arg := range args {
		if !arg.IsMatrix() {
			if n, ok := toNumber(arg.Primitive()); ok && !math.IsNaN(n) {
				f(n)
			}
			continue
		}
		for v := range arg.Matrix().Values {
			switch value := v.Value.(type) {
			case *SpreadsheetError:
				return value
			case float64:
				f(value)
			}
		}
	}
	return nil
}

// eachPrimitive feeds every non-empty value of the arguments to f. an error
// inside a range propagates.
func eachPrimitive(args []Value, f func(Primitive)) error {
	for _, arg := range args {
		if !arg.IsMatrix() {
			f(arg.Primitive())
			continue
		}
		for v := range arg.Matrix().Values {
			if err := checkForError(v.Value); err != nil {
				return err
			}
			if v.Value != nil {
				f(v.Value)
			}
		}
	}
	return nil
}

// toSerialDate converts a time to days since the serial date epoch
func toSerialDate(t time.Time) float64 {
	return float64(t.UnixMilli()-EXCEL_EPOCH_MS) / MS_PER_DAY
}

// toNumber converts value to number, returning ok=false if conversion fails
func toNumber(value Primitive) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, true
		}
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

// toString converts value to its display text
func toString(value Primitive) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case *SpreadsheetError:
		return v.Code()
	default:
		return fmt.Sprint(v)
	}
}

// isTruthy checks if value is truthy
func isTruthy(value Primitive) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return strings.EqualFold(v, "TRUE") || (v != "" && !strings.EqualFold(v, "FALSE") && v != "0")
	case nil:
		return false
	default:
		return true
	}
}

// comparePrimitives compares two primitive values. returns -1 if left <
// right, 0 if equal, 1 if left > right. numbers sort before text, text
// before booleans; text compares case-insensitively.
func comparePrimitives(left, right Primitive) int {
	left, right = emptyAs(left, right), emptyAs(right, left)

	rank := func(p Primitive) int {
		switch p.(type) {
		case float64:
			return 0
		case string:
			return 1
		default:
			return 2
		}
	}
	if rl, rr := rank(left), rank(right); rl != rr {
		return cmp.Compare(rl, rr)
	}

	switch l := left.(type) {
	case float64:
		return cmp.Compare(l, right.(float64))
	case string:
		return strings.Compare(strings.ToUpper(l), strings.ToUpper(right.(string)))
	default:
		return cmp.Compare(boolRank(left), boolRank(right))
	}
}

// emptyAs gives an empty operand the zero value of the other operand's
// type, so that an empty cell equals 0, "" and FALSE
func emptyAs(value, other Primitive) Primitive {
	if value != nil {
		return value
	}
	switch other.(type) {
	case string:
		return ""
	case bool:
		return false
	default:
		return 0.0
	}
}

func boolRank(p Primitive) int {
	if b, ok := p.(bool); ok && b {
		return 1
	}
	return 0
}
