package spreadsheet

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestRegistry(t *testing.T, descrs ...FunctionDescription) (*FunctionRegistry, *EvalContext) {
	t.Helper()
	fr := NewFunctionRegistry()
	for _, descr := range descrs {
		if err := fr.Register(descr); err != nil {
			t.Fatalf("Register(%s) failed: %v", descr.Name, err)
		}
	}
	return fr, &EvalContext{Functions: fr}
}

func numberMatrix(cols, rows int, fill func(col, row int) float64) Value {
	return MatrixValue(NewMatrix(cols, rows, func(col, row int) FunctionResult {
		return FunctionResult{Value: fill(col, row)}
	}))
}

func primitives(v Value) Matrix[Primitive] {
	return MapMatrix(v.Matrix(), func(r FunctionResult) Primitive { return r.Value })
}

var addTwo = FunctionDescription{
	Name: "add2",
	Args: []ArgDefinition{Arg("a (number)", ""), Arg("b (number)", "")},
	Compute: func(ctx *EvalContext, args ...Value) (any, error) {
		return args[0].Primitive().(float64) + args[1].Primitive().(float64), nil
	},
}

func TestRegisterNormalizesNames(t *testing.T) {
	fr, _ := newTestRegistry(t, addTwo)
	if _, found := fr.Lookup("Add2"); !found {
		t.Error("Lookup() is case sensitive")
	}
	if diff := cmp.Diff([]string{"ADD2"}, fr.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterErrors(t *testing.T) {
	fr := NewFunctionRegistry()
	fr.MustRegister(addTwo)

	err := fr.Register(addTwo)
	if !errors.Is(err, NewApplicationError(AlreadyExists, "")) {
		t.Errorf("duplicate registration error = %v, want AlreadyExists", err)
	}

	invalid := []FunctionDescription{
		{Name: "", Compute: addTwo.Compute},
		{Name: "NOBODY"},
		{
			Name:    "OPTIONALHEAVY",
			Args:    []ArgDefinition{Arg("a (any)", ""), Arg("o (any, optional)", ""), Arg("r (any, repeating)", "")},
			Compute: addTwo.Compute,
		},
		{
			Name:    "SPLIT",
			Args:    []ArgDefinition{Arg("r1 (any, repeating)", ""), Arg("a (any)", ""), Arg("r2 (any, repeating)", "")},
			Compute: addTwo.Compute,
		},
		{
			Name:    "MIXED",
			Args:    []ArgDefinition{Arg("r1 (any, repeating)", ""), Arg("r2 (any, optional, repeating)", "")},
			Compute: addTwo.Compute,
		},
	}
	for _, descr := range invalid {
		t.Run(descr.Name, func(t *testing.T) {
			if err := fr.Register(descr); !errors.Is(err, ErrInvalidFunction) {
				t.Errorf("Register() error = %v, want FailedPrecondition", err)
			}
		})
	}
}

func TestCallUnknownFunction(t *testing.T) {
	_, ctx := newTestRegistry(t)
	got := ctx.Call("NOPE", Scalar(1.0))
	if err := got.Err(); err == nil || err.ErrorCode != ErrorCodeName {
		t.Errorf("Call(NOPE) = %v, want #NAME?", got)
	}
}

func TestCallArityError(t *testing.T) {
	_, ctx := newTestRegistry(t, addTwo)
	got := ctx.Call("ADD2", Scalar(1.0))
	if err := got.Err(); err == nil || err.ErrorCode != ErrorCodeBadExpr {
		t.Errorf("Call(ADD2, 1) = %v, want #BAD_EXPR", got)
	}
}

func TestVectorization(t *testing.T) {
	_, ctx := newTestRegistry(t, addTwo)

	t.Run("MatrixAndScalar", func(t *testing.T) {
		m := numberMatrix(2, 2, func(col, row int) float64 { return float64(col*10 + row) })
		got := ctx.Call("ADD2", m, Scalar(100.0))
		want := Matrix[Primitive]{{100.0, 101.0}, {110.0, 111.0}}
		if diff := cmp.Diff(want, primitives(got)); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("RowAndColumnBroadcast", func(t *testing.T) {
		row := numberMatrix(3, 1, func(col, _ int) float64 { return float64(col) })
		column := numberMatrix(1, 2, func(_, row int) float64 { return float64(row * 10) })
		got := ctx.Call("ADD2", row, column)
		want := Matrix[Primitive]{{0.0, 10.0}, {1.0, 11.0}, {2.0, 12.0}}
		if diff := cmp.Diff(want, primitives(got)); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("MismatchedSizes", func(t *testing.T) {
		small := numberMatrix(2, 2, func(int, int) float64 { return 1 })
		large := numberMatrix(3, 3, func(int, int) float64 { return 1 })
		got := ctx.Call("ADD2", small, large).Matrix()
		if got.Cols() != 3 || got.Rows() != 3 {
			t.Fatalf("result is %dx%d, want 3x3", got.Cols(), got.Rows())
		}
		if got[1][1].Value != 2.0 {
			t.Errorf("overlapping element = %v, want 2", got[1][1].Value)
		}
		sErr := checkForError(got[2][0].Value)
		if sErr == nil || sErr.ErrorCode != ErrorCodeNA {
			t.Fatalf("element outside the smaller matrix = %v, want #N/A", got[2][0].Value)
		}
		if sErr.Message != "Array arguments to ADD2 are of different size." {
			t.Errorf("message = %q", sErr.Message)
		}
	})

	t.Run("SingleValueMatrixIsScalar", func(t *testing.T) {
		got := ctx.Call("ADD2", numberMatrix(1, 1, func(int, int) float64 { return 4 }), Scalar(1.0))
		if got.IsMatrix() || got.Primitive() != 5.0 {
			t.Errorf("Call() = %v, want scalar 5", got)
		}
	})
}

func TestErrorShortCircuit(t *testing.T) {
	calls := 0
	_, ctx := newTestRegistry(t,
		FunctionDescription{
			Name: "STRICT",
			Args: []ArgDefinition{Arg("value (number)", "")},
			Compute: func(ctx *EvalContext, args ...Value) (any, error) {
				calls++
				return 1.0, nil
			},
		},
		FunctionDescription{
			Name: "LENIENT",
			Args: []ArgDefinition{Arg("value (any)", "")},
			Compute: func(ctx *EvalContext, args ...Value) (any, error) {
				calls++
				return "seen", nil
			},
		},
	)

	input := NewSpreadsheetError(ErrorCodeDiv0, "")
	got := ctx.Call("STRICT", Scalar(input))
	if got.Err() != input {
		t.Errorf("Call(STRICT) = %v, want the input error unchanged", got)
	}
	if calls != 0 {
		t.Errorf("implementation ran %d times for an error argument", calls)
	}

	if got := ctx.Call("LENIENT", Scalar(input)); got.Primitive() != "seen" {
		t.Errorf("Call(LENIENT) = %v, want the implementation to run", got)
	}

	// vectorized calls short-circuit per element
	m := MatrixValue(Matrix[FunctionResult]{{{Value: 1.0}, {Value: input}}})
	calls = 0
	result := ctx.Call("STRICT", m).Matrix()
	if result[0][0].Value != 1.0 || result[0][1].Value != input || calls != 1 {
		t.Errorf("vectorized short-circuit = %v after %d calls", result, calls)
	}
}

func TestAcceptMatrixOnly(t *testing.T) {
	_, ctx := newTestRegistry(t, FunctionDescription{
		Name: "ROWS",
		Args: []ArgDefinition{Arg("range (range)", "")},
		Compute: func(ctx *EvalContext, args ...Value) (any, error) {
			return args[0].Matrix().Rows(), nil
		},
	})

	got := ctx.Call("ROWS", Scalar(1.0))
	if err := got.Err(); err == nil || err.ErrorCode != ErrorCodeBadExpr {
		t.Errorf("Call(ROWS, 1) = %v, want #BAD_EXPR", got)
	}
	if got := ctx.Call("ROWS", numberMatrix(2, 3, func(int, int) float64 { return 0 })); got.Primitive() != 3.0 {
		t.Errorf("Call(ROWS, 2x3) = %v, want 3", got)
	}
}

func TestExecuteNormalization(t *testing.T) {
	tests := []struct {
		name    string
		compute FunctionImpl
		want    Primitive
		code    ErrorCode
	}{
		{
			name:    "IntBecomesFloat",
			compute: func(*EvalContext, ...Value) (any, error) { return 3, nil },
			want:    3.0,
		},
		{
			name:    "NaNBecomesNum",
			compute: func(*EvalContext, ...Value) (any, error) { return math.NaN(), nil },
			code:    ErrorCodeNum,
		},
		{
			name:    "PanicBecomesError",
			compute: func(*EvalContext, ...Value) (any, error) { panic("boom") },
			code:    ErrorCodeOther,
		},
		{
			name:    "PlainErrorBecomesError",
			compute: func(*EvalContext, ...Value) (any, error) { return nil, errors.New("broken") },
			code:    ErrorCodeOther,
		},
		{
			name:    "UnsupportedType",
			compute: func(*EvalContext, ...Value) (any, error) { return struct{}{}, nil },
			code:    ErrorCodeOther,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ctx := newTestRegistry(t, FunctionDescription{Name: "F", Compute: tt.compute})
			got := ctx.Call("F")
			if tt.code != 0 {
				if err := got.Err(); err == nil || err.ErrorCode != tt.code {
					t.Errorf("Call() = %v, want %s", got, ErrorMapper[tt.code])
				}
				return
			}
			if got.Primitive() != tt.want {
				t.Errorf("Call() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVectorizationSizeLimit(t *testing.T) {
	_, ctx := newTestRegistry(t, addTwo)
	column := numberMatrix(1, 2048, func(int, int) float64 { return 1 })
	row := numberMatrix(1024, 1, func(int, int) float64 { return 1 })
	got := ctx.Call("ADD2", column, row)
	if err := got.Err(); err == nil || err.ErrorCode != ErrorCodeNum {
		t.Errorf("Call() = %v, want #NUM!", got)
	}
}

func TestExecuteNormalizesMatrices(t *testing.T) {
	placeholder := NewSpreadsheetError(ErrorCodeValue, "[[FUNCTION_NAME]] failed")
	want := Matrix[Primitive]{
		{1.0, "a"},
		{NewSpreadsheetError(ErrorCodeNum, ""), &SpreadsheetError{ErrorCode: ErrorCodeValue, Message: "F failed"}},
	}
	tests := map[string]FunctionImpl{
		"SliceOfSlices": func(*EvalContext, ...Value) (any, error) {
			return [][]any{{1, "a"}, {math.Inf(1), placeholder}}, nil
		},
		"Value": func(*EvalContext, ...Value) (any, error) {
			return MatrixValue(Matrix[FunctionResult]{
				{{Value: 1}, {Value: "a"}},
				{{Value: math.Inf(1)}, {Value: placeholder}},
			}), nil
		},
		"PrimitiveMatrix": func(*EvalContext, ...Value) (any, error) {
			return Matrix[Primitive]{{1, "a"}, {math.NaN(), placeholder}}, nil
		},
	}
	for name, compute := range tests {
		t.Run(name, func(t *testing.T) {
			_, ctx := newTestRegistry(t, FunctionDescription{Name: "F", Compute: compute})
			got := ctx.Call("F")
			if !got.IsMatrix() {
				t.Fatalf("Call() = %v, want a matrix", got)
			}
			if diff := cmp.Diff(want, primitives(got)); diff != "" {
				t.Errorf("Call() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExecuteNormalizesScalarValues(t *testing.T) {
	_, ctx := newTestRegistry(t, FunctionDescription{
		Name: "F",
		Compute: func(*EvalContext, ...Value) (any, error) {
			return ScalarResult(FunctionResult{Value: 2, Format: "0.0"}), nil
		},
	})
	got := ctx.Call("F").Result()
	if got.Value != 2.0 || got.Format != "0.0" {
		t.Errorf("Call() = %+v, want 2 formatted as 0.0", got)
	}
}

func TestFunctionNamePlaceholder(t *testing.T) {
	_, ctx := newTestRegistry(t, FunctionDescription{
		Name: "CHECK",
		Compute: func(*EvalContext, ...Value) (any, error) {
			return nil, NewSpreadsheetError(ErrorCodeValue, "Function [[FUNCTION_NAME]] expects numbers.")
		},
	})
	got := ctx.Call("check")
	if err := got.Err(); err == nil || err.Message != "Function CHECK expects numbers." {
		t.Errorf("Call() = %v", got)
	}
}

func TestInternalErrorsUnwind(t *testing.T) {
	_, ctx := newTestRegistry(t, FunctionDescription{
		Name: "BROKEN",
		Compute: func(*EvalContext, ...Value) (any, error) {
			return nil, internalErrorf("invariant broken")
		},
	})
	defer func() {
		err, ok := recover().(error)
		if !ok || !errors.Is(err, ErrInternal) {
			t.Errorf("recovered %v, want an internal error", err)
		}
	}()
	ctx.Call("BROKEN")
	t.Error("Call() returned instead of unwinding")
}

func TestArgTargetingIsCached(t *testing.T) {
	fr, _ := newTestRegistry(t, addTwo)
	first, err := fr.ArgTargeting("ADD2", 2)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := fr.ArgTargeting("add2", 2)
	if &first[0] != &second[0] {
		t.Error("ArgTargeting() recomputed a cached mapping")
	}
	if _, err := fr.ArgTargeting("MISSING", 1); !errors.Is(err, NewApplicationError(NotFound, "")) {
		t.Errorf("ArgTargeting(MISSING) error = %v, want NotFound", err)
	}
}
