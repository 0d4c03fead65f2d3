package spreadsheet

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/language"
)

func newBuiltinContext() *EvalContext {
	clock := time.Date(2024, time.March, 15, 18, 0, 0, 0, time.UTC)
	return &EvalContext{
		Functions: NewDefaultFunctionRegistry(),
		Locale:    language.Und,
		now:       func() time.Time { return clock },
		random:    func() float64 { return 0.25 },
	}
}

// column builds a one column range value
func column(values ...Primitive) Value {
	return MatrixValue(NewMatrix(1, len(values), func(_, row int) FunctionResult {
		return FunctionResult{Value: values[row]}
	}))
}

func TestBuiltinFunctions(t *testing.T) {
	ctx := newBuiltinContext()
	div0 := NewSpreadsheetError(ErrorCodeDiv0, "")

	tests := []struct {
		name string
		fn   string
		args []Value
		want Primitive
		code ErrorCode
	}{
		{name: "SumScalars", fn: "SUM", args: []Value{Scalar(1.0), Scalar(2.0), Scalar(true)}, want: 4.0},
		{name: "SumRangeSkipsText", fn: "SUM", args: []Value{column(1.0, "x", nil, 2.5)}, want: 3.5},
		{name: "SumRounding", fn: "SUM", args: []Value{Scalar(0.1), Scalar(0.2)}, want: 0.3},
		{name: "SumRangeError", fn: "SUM", args: []Value{column(1.0, div0)}, code: ErrorCodeDiv0},
		{name: "SumScalarError", fn: "SUM", args: []Value{Scalar(div0)}, code: ErrorCodeDiv0},
		{name: "Average", fn: "AVERAGE", args: []Value{column(1.0, 2.0, 6.0)}, want: 3.0},
		{name: "AverageEmpty", fn: "AVERAGE", args: []Value{column(nil, "x")}, code: ErrorCodeDiv0},
		{name: "Count", fn: "COUNT", args: []Value{column(1.0, "x", nil, div0), Scalar(2.0)}, want: 2.0},
		{name: "CountA", fn: "COUNTA", args: []Value{column(1.0, "x", nil), Scalar("")}, want: 3.0},
		{name: "Max", fn: "MAX", args: []Value{column(1.0, 9.0), Scalar(-3.0)}, want: 9.0},
		{name: "MaxEmpty", fn: "MAX", args: []Value{column(nil)}, want: 0.0},
		{name: "Min", fn: "MIN", args: []Value{column(1.0, 9.0), Scalar(-3.0)}, want: -3.0},
		{name: "MedianOdd", fn: "MEDIAN", args: []Value{column(5.0, 1.0, 3.0)}, want: 3.0},
		{name: "MedianEven", fn: "MEDIAN", args: []Value{column(4.0, 1.0, 3.0, 2.0)}, want: 2.5},
		{name: "MedianEmpty", fn: "MEDIAN", args: []Value{column("a")}, code: ErrorCodeNum},

		{name: "IfTrue", fn: "IF", args: []Value{Scalar(true), Scalar("a"), Scalar("b")}, want: "a"},
		{name: "IfFalseDefault", fn: "IF", args: []Value{Scalar(0.0), Scalar("a")}, want: false},
		{name: "IfLazyError", fn: "IF", args: []Value{Scalar(true), Scalar(1.0), Scalar(div0)}, want: 1.0},
		{name: "And", fn: "AND", args: []Value{Scalar(true), column(true, 1.0)}, want: true},
		{name: "AndFalse", fn: "AND", args: []Value{Scalar(true), column(false)}, want: false},
		{name: "Or", fn: "OR", args: []Value{Scalar(false), column(nil, 0.0, "TRUE")}, want: true},
		{name: "Not", fn: "NOT", args: []Value{Scalar(0.0)}, want: true},
		{name: "IfErrorFallback", fn: "IFERROR", args: []Value{Scalar(div0), Scalar("fallback")}, want: "fallback"},
		{name: "IfErrorDefault", fn: "IFERROR", args: []Value{Scalar(div0)}, want: ""},
		{name: "IfErrorPassThrough", fn: "IFERROR", args: []Value{Scalar(7.0), Scalar("fallback")}, want: 7.0},
		{name: "IsError", fn: "ISERROR", args: []Value{Scalar(div0)}, want: true},

		{name: "Concatenate", fn: "CONCATENATE", args: []Value{Scalar("a"), column(1.0, true), Scalar(2.5)}, want: "a1TRUE2.5"},
		{name: "LenRunes", fn: "LEN", args: []Value{Scalar("世界!")}, want: 3.0},
		{name: "Upper", fn: "UPPER", args: []Value{Scalar("straße")}, want: "STRASSE"},
		{name: "Lower", fn: "LOWER", args: []Value{Scalar("ABC")}, want: "abc"},
		{name: "Trim", fn: "TRIM", args: []Value{Scalar("  x  ")}, want: "x"},

		{name: "Abs", fn: "ABS", args: []Value{Scalar(-2.0)}, want: 2.0},
		{name: "AbsText", fn: "ABS", args: []Value{Scalar("abc")}, code: ErrorCodeValue},
		{name: "AbsNumericText", fn: "ABS", args: []Value{Scalar("-4")}, want: 4.0},
		{name: "Round", fn: "ROUND", args: []Value{Scalar(2.346), Scalar(2.0)}, want: 2.35},
		{name: "RoundDefault", fn: "ROUND", args: []Value{Scalar(2.5)}, want: 3.0},
		{name: "Floor", fn: "FLOOR", args: []Value{Scalar(-1.5)}, want: -2.0},
		{name: "Ceiling", fn: "CEILING", args: []Value{Scalar(1.2)}, want: 2.0},
		{name: "Sqrt", fn: "SQRT", args: []Value{Scalar(9.0)}, want: 3.0},
		{name: "SqrtNegative", fn: "SQRT", args: []Value{Scalar(-1.0)}, code: ErrorCodeNum},
		{name: "Power", fn: "POWER", args: []Value{Scalar(2.0), Scalar(10.0)}, want: 1024.0},
		{name: "PowerOverflow", fn: "POWER", args: []Value{Scalar(10.0), Scalar(400.0)}, code: ErrorCodeNum},
		{name: "ModSign", fn: "MOD", args: []Value{Scalar(-3.0), Scalar(2.0)}, want: 1.0},
		{name: "ModNegativeDivisor", fn: "MOD", args: []Value{Scalar(3.0), Scalar(-2.0)}, want: -1.0},
		{name: "ModZero", fn: "MOD", args: []Value{Scalar(3.0), Scalar(0.0)}, code: ErrorCodeDiv0},
		{name: "Pi", fn: "PI", want: math.Pi},

		{name: "Rand", fn: "RAND", want: 0.25},

		{name: "Divide", fn: "DIVIDE", args: []Value{Scalar(1.0), Scalar(4.0)}, want: 0.25},
		{name: "DivideByZero", fn: "DIVIDE", args: []Value{Scalar(1.0), Scalar(nil)}, code: ErrorCodeDiv0},
		{name: "MinusText", fn: "MINUS", args: []Value{Scalar("a"), Scalar(1.0)}, code: ErrorCodeValue},
		{name: "AddBooleans", fn: "ADD", args: []Value{Scalar(true), Scalar(true)}, want: 2.0},
		{name: "EqEmptyZero", fn: "EQ", args: []Value{Scalar(nil), Scalar(0.0)}, want: true},
		{name: "EqEmptyText", fn: "EQ", args: []Value{Scalar(nil), Scalar("")}, want: true},
		{name: "LtNumberText", fn: "LT", args: []Value{Scalar(99.0), Scalar("a")}, want: true},
		{name: "GtBoolText", fn: "GT", args: []Value{Scalar(false), Scalar("z")}, want: true},
		{name: "NeCaseInsensitive", fn: "NE", args: []Value{Scalar("A"), Scalar("a")}, want: false},
		{name: "Gte", fn: "GTE", args: []Value{Scalar(2.0), Scalar(2.0)}, want: true},
		{name: "Lte", fn: "LTE", args: []Value{Scalar(3.0), Scalar(2.0)}, want: false},
		{name: "Concat", fn: "CONCAT", args: []Value{Scalar(1.5), Scalar(false)}, want: "1.5FALSE"},
		{name: "Uminus", fn: "UMINUS", args: []Value{Scalar("3")}, want: -3.0},
		{name: "Percent", fn: "UNARY.PERCENT", args: []Value{Scalar(50.0)}, want: 0.5},
		{name: "OperatorShortCircuit", fn: "ADD", args: []Value{Scalar(1.0), Scalar(div0)}, code: ErrorCodeDiv0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ctx.Call(tt.fn, tt.args...)
			if tt.code != 0 {
				if err := got.Err(); err == nil || err.ErrorCode != tt.code {
					t.Errorf("%s() = %v, want %s", tt.fn, got, ErrorMapper[tt.code])
				}
				return
			}
			if got.IsMatrix() {
				t.Fatalf("%s() returned a matrix", tt.fn)
			}
			if diff := cmp.Diff(tt.want, got.Primitive()); diff != "" {
				t.Errorf("%s() mismatch (-want +got):\n%s", tt.fn, diff)
			}
		})
	}
}

func TestBuiltinErrorMessagesNameTheFunction(t *testing.T) {
	ctx := newBuiltinContext()
	got := ctx.Call("ABS", Scalar("abc")).Err()
	want := "Function ABS expects number values. But 'abc' is a text and cannot be coerced to a number."
	if got == nil || got.Message != want {
		t.Errorf("ABS(\"abc\") = %v, want %q", got, want)
	}
}

func TestVolatileDates(t *testing.T) {
	ctx := newBuiltinContext()

	now := ctx.Call("NOW")
	if now.Result().Format != dateTimeFormat {
		t.Errorf("NOW() format = %q", now.Result().Format)
	}
	// 2024-03-15 is serial day 45366, 18:00 is three quarters of a day
	if got := now.Primitive(); got != 45366.75 {
		t.Errorf("NOW() = %v, want 45366.75", got)
	}

	today := ctx.Call("TODAY")
	if today.Primitive() != 45366.0 || today.Result().Format != dateFormat {
		t.Errorf("TODAY() = %v (%s)", today.Primitive(), today.Result().Format)
	}
}

func TestArrayFunctions(t *testing.T) {
	ctx := newBuiltinContext()

	t.Run("Sequence", func(t *testing.T) {
		got := primitives(ctx.Call("SEQUENCE", Scalar(2.0), Scalar(3.0)))
		// filled row by row: 1 2 3 / 4 5 6
		want := Matrix[Primitive]{{1.0, 4.0}, {2.0, 5.0}, {3.0, 6.0}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("SEQUENCE(2, 3) mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("SequenceStartStep", func(t *testing.T) {
		got := primitives(ctx.Call("SEQUENCE", Scalar(3.0), Scalar(1.0), Scalar(10.0), Scalar(-5.0)))
		want := Matrix[Primitive]{{10.0, 5.0, 0.0}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("SEQUENCE(3, 1, 10, -5) mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("SequenceInvalid", func(t *testing.T) {
		if err := ctx.Call("SEQUENCE", Scalar(0.0)).Err(); err == nil || err.ErrorCode != ErrorCodeValue {
			t.Errorf("SEQUENCE(0) = %v, want #VALUE!", err)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		tests := map[string][]Value{
			"SEQUENCE": {Scalar(60000.0), Scalar(60000.0)},
			"MUNIT":    {Scalar(2000000.0)},
		}
		for name, args := range tests {
			err := ctx.Call(name, args...).Err()
			if err == nil || err.ErrorCode != ErrorCodeNum {
				t.Errorf("%s() = %v, want #NUM!", name, err)
				continue
			}
			if !strings.HasPrefix(err.Message, "Function "+name+" result is too large") {
				t.Errorf("%s() message = %q", name, err.Message)
			}
		}
	})

	t.Run("Transpose", func(t *testing.T) {
		got := primitives(ctx.Call("TRANSPOSE", column(1.0, 2.0, 3.0)))
		want := Matrix[Primitive]{{1.0}, {2.0}, {3.0}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("TRANSPOSE() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Munit", func(t *testing.T) {
		got := primitives(ctx.Call("MUNIT", Scalar(2.0)))
		want := Matrix[Primitive]{{1.0, 0.0}, {0.0, 1.0}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("MUNIT(2) mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestComparePrimitives(t *testing.T) {
	tests := []struct {
		left, right Primitive
		want        int
	}{
		{1.0, 2.0, -1},
		{"b", "A", 1},
		{"abc", "ABC", 0},
		{1e9, "0", -1},
		{"zzz", false, -1},
		{true, false, 1},
		{nil, nil, 0},
		{nil, false, 0},
		{nil, -1.0, 1},
	}
	for _, tt := range tests {
		if got := comparePrimitives(tt.left, tt.right); got != tt.want {
			t.Errorf("comparePrimitives(%v, %v) = %d, want %d", tt.left, tt.right, got, tt.want)
		}
	}
}
