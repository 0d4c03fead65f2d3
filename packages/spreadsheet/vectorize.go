package spreadsheet

import (
	"errors"
	"fmt"
)

// Call runs the function: arguments are mapped to formal arguments,
// matrices given to scalar slots are vectorized, scalar errors are
// short-circuited, then the implementation runs and its result is
// normalized. errors come back as values.
func (f *Function) Call(ctx *EvalContext, args ...Value) Value {
	targeting, err := f.registry.argTargeting(f, len(args))
	if err != nil {
		var sErr *SpreadsheetError
		if errors.As(err, &sErr) {
			return Scalar(sErr)
		}
		return ErrorValue(ErrorCodeBadExpr, err.Error())
	}

	args = append([]Value(nil), args...)
	var vectorized []int
	for i, arg := range args {
		def := f.Args[targeting[i].Index]
		if arg.IsMatrix() {
			if def.AcceptMatrix {
				continue
			}
			if arg.Matrix().IsSingleValue() {
				args[i] = ScalarResult(arg.Result())
				continue
			}
			vectorized = append(vectorized, i)
			continue
		}
		if def.AcceptMatrixOnly {
			return ErrorValue(ErrorCodeBadExpr, fmt.Sprintf(
				"Function %s expects the parameter '%s' to be reference to a cell or range.", f.Name, def.Name))
		}
	}

	if len(vectorized) == 0 {
		return f.invoke(ctx, targeting, args)
	}
	return f.vectorize(ctx, targeting, args, vectorized)
}

// vectorize calls the function once per coordinate of the matrices given to
// scalar slots. the result has the largest width and height among them. a
// single row or column is broadcast along the other axis, coordinates
// outside a smaller matrix read as #N/A.
func (f *Function) vectorize(ctx *EvalContext, targeting ArgTargeting, args []Value, vectorized []int) Value {
	cols, rows := 0, 0
	for _, i := range vectorized {
		m := args[i].Matrix()
		cols = max(cols, m.Cols())
		rows = max(rows, m.Rows())
	}
	if err := checkMatrixSize(float64(cols), float64(rows)); err != nil {
		return Scalar(withFunctionName(err, f.Name))
	}

	notAvailable := NewSpreadsheetError(ErrorCodeNA, "Array arguments to [[FUNCTION_NAME]] are of different size.")
	return MatrixValue(NewMatrix(cols, rows, func(col, row int) FunctionResult {
		scalarArgs := append([]Value(nil), args...)
		for _, i := range vectorized {
			m := args[i].Matrix()
			x, y := col, row
			if m.Cols() == 1 {
				x = 0
			}
			if m.Rows() == 1 {
				y = 0
			}
			if x >= m.Cols() || y >= m.Rows() {
				scalarArgs[i] = Scalar(withFunctionName(notAvailable, f.Name))
				continue
			}
			scalarArgs[i] = ScalarResult(m[x][y])
		}
		return f.invoke(ctx, targeting, scalarArgs).Result()
	}))
}

// invoke short-circuits on an error scalar given to a slot that does not
// accept errors, otherwise executes the implementation
func (f *Function) invoke(ctx *EvalContext, targeting ArgTargeting, args []Value) Value {
	for i, arg := range args {
		if f.Args[targeting[i].Index].AcceptErrors {
			continue
		}
		if err := arg.Err(); err != nil {
			return Scalar(err)
		}
	}
	return f.execute(ctx, args)
}

// execute runs the implementation. panics and errors become error values,
// except internal errors which keep unwinding to the evaluator.
func (f *Function) execute(ctx *EvalContext, args []Value) (result Value) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if appErr, ok := r.(*AppError); ok && appErr.Code == Internal {
			panic(appErr)
		}
		functionLog.Errorf("function %s panicked: %v", f.Name, r)
		result = ErrorValue(ErrorCodeOther, fmt.Sprint(r))
	}()

	out, err := f.Compute(ctx, args...)
	if err != nil {
		return f.errorResult(err)
	}

	value := normalizeResult(out)
	if value.IsMatrix() {
		return MatrixValue(MapMatrix(value.matrix, func(r FunctionResult) FunctionResult {
			if sErr := checkForError(r.Value); sErr != nil {
				r.Value = withFunctionName(sErr, f.Name)
			}
			return r
		}))
	}
	if sErr := value.Err(); sErr != nil {
		return ScalarResult(FunctionResult{Value: withFunctionName(sErr, f.Name), Format: value.Result().Format})
	}
	return value
}

// errorResult converts an error returned by an implementation
func (f *Function) errorResult(err error) Value {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == Internal {
		panic(appErr)
	}

	var sErr *SpreadsheetError
	if errors.As(err, &sErr) {
		return Scalar(withFunctionName(sErr, f.Name))
	}

	functionLog.Errorf("function %s failed: %s", f.Name, err)
	return Scalar(withFunctionName(NewSpreadsheetError(ErrorCodeOther, err.Error()), f.Name))
}
