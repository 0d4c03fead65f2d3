package spreadsheet

import (
	"time"

	"golang.org/x/text/language"
)

// cellReader resolves reads made while a formula executes
type cellReader interface {
	readCell(p Position) EvaluatedCell
	readRange(r Range) Value
}

// EvalContext is handed to every formula execution and every function
// implementation. it is built once per formula execution and not modified
// afterwards.
type EvalContext struct {
	Position  Position          // cell being computed
	Locale    language.Tag      // used by locale aware text functions
	Debug     bool              // set from Config.Debug
	Functions *FunctionRegistry // registry used by Call

	reader cellReader
	now    func() time.Time
	random func() float64
}

// Cell returns the evaluated content of p
func (ctx *EvalContext) Cell(p Position) EvaluatedCell {
	if ctx.reader == nil {
		return emptyEvaluatedCell
	}
	return ctx.reader.readCell(p)
}

// Range returns the evaluated content of r as a matrix. an invalid range
// reads as #REF!.
func (ctx *EvalContext) Range(r Range) Value {
	if r.Invalid {
		return ErrorValue(ErrorCodeRef, "Invalid reference")
	}
	if ctx.reader == nil {
		return MatrixValue(NewMatrix(int(r.Cols()), int(r.Rows()), func(int, int) FunctionResult {
			return FunctionResult{}
		}))
	}
	return ctx.reader.readRange(r)
}

// Call invokes a registered function through the invocation layer
func (ctx *EvalContext) Call(name string, args ...Value) Value {
	if ctx.Functions == nil {
		return ErrorValue(ErrorCodeName, "Invalid formula: unknown function "+name)
	}
	return ctx.Functions.Call(ctx, name, args...)
}

// Now returns the evaluation clock
func (ctx *EvalContext) Now() time.Time {
	if ctx.now == nil {
		return time.Now()
	}
	return ctx.now()
}

// Rand returns a pseudo-random number in [0, 1)
func (ctx *EvalContext) Rand() float64 {
	if ctx.random == nil {
		return defaultRandom()
	}
	return ctx.random()
}
