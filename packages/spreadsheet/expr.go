package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a formula expression tree. references carry an empty sheet when
// they point at the sheet the formula lives on.
type Node interface {
	String() string
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value float64
}

func (n *NumberNode) String() string {
	return strconv.FormatFloat(n.Value, 'f', -1, 64)
}

// StringNode represents a string literal
type StringNode struct {
	Value string
}

func (n *StringNode) String() string {
	return `"` + strings.ReplaceAll(n.Value, `"`, `""`) + `"`
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value bool
}

func (n *BooleanNode) String() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// CellRefNode represents a single cell reference
type CellRefNode struct {
	Sheet SheetID
	Col   uint32
	Row   uint32
}

func (n *CellRefNode) String() string {
	return sheetPrefix(n.Sheet) + FormatA1(n.Col, n.Row)
}

// RangeNode represents a rectangular range reference
type RangeNode struct {
	Sheet    SheetID
	StartCol uint32
	StartRow uint32
	EndCol   uint32
	EndRow   uint32
}

func (n *RangeNode) String() string {
	return sheetPrefix(n.Sheet) + FormatA1(n.StartCol, n.StartRow) + ":" + FormatA1(n.EndCol, n.EndRow)
}

// FunctionCallNode represents a function call
type FunctionCallNode struct {
	Name string
	Args []Node
}

func (n *FunctionCallNode) String() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.String()
	}
	return n.Name + "(" + strings.Join(args, ",") + ")"
}

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

// binaryOps maps operators to their symbol and the function implementing
// them. operators go through the function layer so that they vectorize.
var binaryOps = map[BinaryOp]struct{ symbol, function string }{
	BinOpAdd:          {"+", "ADD"},
	BinOpSubtract:     {"-", "MINUS"},
	BinOpMultiply:     {"*", "MULTIPLY"},
	BinOpDivide:       {"/", "DIVIDE"},
	BinOpPower:        {"^", "POWER"},
	BinOpConcat:       {"&", "CONCAT"},
	BinOpEqual:        {"=", "EQ"},
	BinOpNotEqual:     {"<>", "NE"},
	BinOpLess:         {"<", "LT"},
	BinOpLessEqual:    {"<=", "LTE"},
	BinOpGreater:      {">", "GT"},
	BinOpGreaterEqual: {">=", "GTE"},
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op    BinaryOp
	Left  Node
	Right Node
}

func (n *BinaryOpNode) String() string {
	return "(" + n.Left.String() + binaryOps[n.Op].symbol + n.Right.String() + ")"
}

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

var unaryOps = map[UnaryOp]string{
	UnaryOpPlus:    "UPLUS",
	UnaryOpMinus:   "UMINUS",
	UnaryOpPercent: "UNARY.PERCENT",
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op      UnaryOp
	Operand Node
}

func (n *UnaryOpNode) String() string {
	switch n.Op {
	case UnaryOpMinus:
		return "-" + n.Operand.String()
	case UnaryOpPercent:
		return n.Operand.String() + "%"
	default:
		return "+" + n.Operand.String()
	}
}

func sheetPrefix(sheet SheetID) string {
	if sheet == "" {
		return ""
	}
	if strings.ContainsAny(string(sheet), " '!") {
		return "'" + string(sheet) + "'!"
	}
	return string(sheet) + "!"
}

// renameSheetReferences points the references to sheet old, matched
// case-insensitively, at name. it reports whether node changed.
func renameSheetReferences(node Node, old, name string) bool {
	matches := func(sheet SheetID) bool {
		return sheet != "" && foldName(string(sheet)) == foldName(old)
	}
	switch n := node.(type) {
	case *CellRefNode:
		if matches(n.Sheet) {
			n.Sheet = SheetID(name)
			return true
		}
	case *RangeNode:
		if matches(n.Sheet) {
			n.Sheet = SheetID(name)
			return true
		}
	case *FunctionCallNode:
		changed := false
		for _, arg := range n.Args {
			changed = renameSheetReferences(arg, old, name) || changed
		}
		return changed
	case *BinaryOpNode:
		left := renameSheetReferences(n.Left, old, name)
		return renameSheetReferences(n.Right, old, name) || left
	case *UnaryOpNode:
		return renameSheetReferences(n.Operand, old, name)
	}
	return false
}

// Formula is a compiled expression. references are resolved to indexes in
// the dependency list, so Execute reads whatever ranges it is given.
type Formula struct {
	text     string
	root     evalFunc
	deps     []Range
	volatile bool
}

type evalFunc func(deps []Range, ctx *EvalContext) Value

// Compile turns an expression tree into an executable formula living on
// sheet. functions is consulted to flag formulas calling volatile
// functions; it may be nil. function names are looked up when the formula
// executes, so an unknown name evaluates to #NAME? and a function
// registered afterwards is found.
func Compile(node Node, sheet SheetID, functions *FunctionRegistry) (*Formula, error) {
	if node == nil {
		return nil, NewApplicationError(InvalidArgument, "cannot compile an empty formula")
	}
	c := &compiler{sheet: sheet, functions: functions}
	root, err := c.compile(node)
	if err != nil {
		return nil, err
	}
	return &Formula{
		text:     "=" + node.String(),
		root:     root,
		deps:     c.deps,
		volatile: c.volatile,
	}, nil
}

// Text returns the formula source, starting with "="
func (f *Formula) Text() string {
	return f.text
}

// Dependencies returns the ranges the formula reads, in reference order
func (f *Formula) Dependencies() []Range {
	return append([]Range(nil), f.deps...)
}

// IsVolatile reports whether the formula calls a volatile function
func (f *Formula) IsVolatile() bool {
	return f.volatile
}

func (f *Formula) Execute(deps []Range, ctx *EvalContext) (Value, error) {
	return f.root(deps, ctx), nil
}

type compiler struct {
	sheet     SheetID
	functions *FunctionRegistry
	deps      []Range
	volatile  bool
}

func (c *compiler) sheetOf(sheet SheetID) SheetID {
	if sheet == "" {
		return c.sheet
	}
	return sheet
}

// addDependency appends a reference and returns its index
func (c *compiler) addDependency(r Range) int {
	c.deps = append(c.deps, r)
	return len(c.deps) - 1
}

func (c *compiler) compile(node Node) (evalFunc, error) {
	switch n := node.(type) {
	case *NumberNode:
		value := Scalar(n.Value)
		return func([]Range, *EvalContext) Value { return value }, nil

	case *StringNode:
		value := Scalar(n.Value)
		return func([]Range, *EvalContext) Value { return value }, nil

	case *BooleanNode:
		value := Scalar(n.Value)
		return func([]Range, *EvalContext) Value { return value }, nil

	case *CellRefNode:
		index := c.addDependency(CellRange(Position{Sheet: c.sheetOf(n.Sheet), Col: n.Col, Row: n.Row}))
		return func(deps []Range, ctx *EvalContext) Value {
			if index >= len(deps) || deps[index].Invalid {
				return ErrorValue(ErrorCodeRef, "Invalid reference")
			}
			if !deps[index].IsSingleCell() {
				return ctx.Range(deps[index])
			}
			cell := ctx.Cell(deps[index].TopLeft())
			return ScalarResult(FunctionResult{Value: cell.Value, Format: cell.Format})
		}, nil

	case *RangeNode:
		index := c.addDependency(Range{
			Sheet:       c.sheetOf(n.Sheet),
			StartRow:    min(n.StartRow, n.EndRow),
			StartColumn: min(n.StartCol, n.EndCol),
			EndRow:      max(n.StartRow, n.EndRow),
			EndColumn:   max(n.StartCol, n.EndCol),
		})
		return func(deps []Range, ctx *EvalContext) Value {
			if index >= len(deps) {
				return ErrorValue(ErrorCodeRef, "Invalid reference")
			}
			return ctx.Range(deps[index])
		}, nil

	case *FunctionCallNode:
		name := normalizeFunctionName(n.Name)
		if c.functions != nil {
			if f, exists := c.functions.Lookup(name); exists && f.Volatile {
				c.volatile = true
			}
		}
		args, err := c.compileAll(n.Args...)
		if err != nil {
			return nil, err
		}
		return callFunc(name, args), nil

	case *BinaryOpNode:
		op, known := binaryOps[n.Op]
		if !known {
			return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("unknown binary operator %d", n.Op))
		}
		args, err := c.compileAll(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return callFunc(op.function, args), nil

	case *UnaryOpNode:
		function, known := unaryOps[n.Op]
		if !known {
			return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("unknown unary operator %d", n.Op))
		}
		args, err := c.compileAll(n.Operand)
		if err != nil {
			return nil, err
		}
		return callFunc(function, args), nil

	default:
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("unsupported expression node %T", node))
	}
}

func (c *compiler) compileAll(nodes ...Node) ([]evalFunc, error) {
	compiled := make([]evalFunc, len(nodes))
	for i, node := range nodes {
		if node == nil {
			return nil, NewApplicationError(InvalidArgument, "missing operand")
		}
		f, err := c.compile(node)
		if err != nil {
			return nil, err
		}
		compiled[i] = f
	}
	return compiled, nil
}

// callFunc evaluates the arguments then calls the function through the
// context's registry
func callFunc(name string, args []evalFunc) evalFunc {
	return func(deps []Range, ctx *EvalContext) Value {
		values := make([]Value, len(args))
		for i, arg := range args {
			values[i] = arg(deps, ctx)
		}
		return ctx.Call(name, values...)
	}
}
