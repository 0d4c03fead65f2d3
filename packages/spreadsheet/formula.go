package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenBoolean
	TokenReference
	TokenFunction
	TokenOperator
	TokenComma
	TokenLeftParen
	TokenRightParen
)

// Token is one lexeme of a formula. Pos is the byte offset in the source.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// lexer splits formula source into tokens
type lexer struct {
	input string
	pos   int
}

func badExpr(format string, args ...any) *SpreadsheetError {
	return NewSpreadsheetError(ErrorCodeBadExpr, fmt.Sprintf(format, args...))
}

// Tokenize splits a formula (without its leading "=") into tokens
func Tokenize(input string) ([]Token, error) {
	l := &lexer{input: input}
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) peek(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *lexer) next() (Token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: start}, nil
	}

	ch := l.input[l.pos]
	switch {
	case isDigit(ch) || (ch == '.' && isDigit(l.peek(1))):
		return l.scanNumber(), nil
	case ch == '"':
		return l.scanString()
	case ch == '\'':
		return l.scanQuotedReference()
	case isIdentStart(ch):
		return l.scanIdentifier()
	case ch == ',':
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: start}, nil
	case ch == '(':
		l.pos++
		return Token{Type: TokenLeftParen, Value: "(", Pos: start}, nil
	case ch == ')':
		l.pos++
		return Token{Type: TokenRightParen, Value: ")", Pos: start}, nil
	}

	// two-character operators first
	if l.pos+1 < len(l.input) {
		switch two := l.input[l.pos : l.pos+2]; two {
		case "<=", ">=", "<>":
			l.pos += 2
			return Token{Type: TokenOperator, Value: two, Pos: start}, nil
		}
	}
	if strings.IndexByte("+-*/^&=<>%", ch) >= 0 {
		l.pos++
		return Token{Type: TokenOperator, Value: string(ch), Pos: start}, nil
	}

	return Token{}, badExpr("unexpected character %q at position %d", ch, start)
}

func (l *lexer) scanNumber() Token {
	start := l.pos
	for isDigit(l.peek(0)) {
		l.pos++
	}
	if l.peek(0) == '.' {
		l.pos++
		for isDigit(l.peek(0)) {
			l.pos++
		}
	}
	// exponent, only when digits follow
	if e := l.peek(0); e == 'e' || e == 'E' {
		offset := 1
		if sign := l.peek(1); sign == '+' || sign == '-' {
			offset = 2
		}
		if isDigit(l.peek(offset)) {
			l.pos += offset
			for isDigit(l.peek(0)) {
				l.pos++
			}
		}
	}
	return Token{Type: TokenNumber, Value: l.input[start:l.pos], Pos: start}
}

// scanString reads a double quoted string, "" being an escaped quote
func (l *lexer) scanString() (Token, error) {
	start := l.pos
	l.pos++ // opening quote
	var value strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '"' {
			if l.peek(1) == '"' {
				value.WriteByte('"')
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: TokenString, Value: value.String(), Pos: start}, nil
		}
		value.WriteByte(ch)
		l.pos++
	}
	return Token{}, badExpr("unterminated string starting at position %d", start)
}

// scanQuotedReference reads 'Sheet name'!A1 or 'Sheet name'!A1:B2
func (l *lexer) scanQuotedReference() (Token, error) {
	start := l.pos
	end := strings.IndexByte(l.input[l.pos+1:], '\'')
	if end == -1 {
		return Token{}, badExpr("unterminated sheet name starting at position %d", start)
	}
	l.pos += end + 2
	if l.peek(0) != '!' {
		return Token{}, badExpr("expected '!' after sheet name at position %d", l.pos)
	}
	l.pos++
	l.scanZone()
	return Token{Type: TokenReference, Value: l.input[start:l.pos], Pos: start}, nil
}

// scanZone consumes A1 or A1:B2 and reports whether anything was read
func (l *lexer) scanZone() bool {
	start := l.pos
	for isReferenceChar(l.peek(0)) {
		l.pos++
	}
	if l.pos > start && l.peek(0) == ':' && isReferenceChar(l.peek(1)) {
		l.pos++
		for isReferenceChar(l.peek(0)) {
			l.pos++
		}
	}
	return l.pos > start
}

func (l *lexer) scanIdentifier() (Token, error) {
	start := l.pos
	for isIdentChar(l.peek(0)) {
		l.pos++
	}
	word := l.input[start:l.pos]

	// sheet prefix: Sheet1!A1
	if l.peek(0) == '!' {
		l.pos++
		if !l.scanZone() {
			return Token{}, badExpr("expected a reference after %s!", word)
		}
		return Token{Type: TokenReference, Value: l.input[start:l.pos], Pos: start}, nil
	}

	// function call: name followed by "("
	lookahead := l.pos
	for lookahead < len(l.input) && unicode.IsSpace(rune(l.input[lookahead])) {
		lookahead++
	}
	if lookahead < len(l.input) && l.input[lookahead] == '(' {
		return Token{Type: TokenFunction, Value: word, Pos: start}, nil
	}

	switch strings.ToUpper(word) {
	case "TRUE", "FALSE":
		return Token{Type: TokenBoolean, Value: strings.ToUpper(word), Pos: start}, nil
	}

	if _, _, err := ParseA1(word); err == nil {
		if l.peek(0) == ':' && isReferenceChar(l.peek(1)) {
			l.pos++
			for isReferenceChar(l.peek(0)) {
				l.pos++
			}
		}
		return Token{Type: TokenReference, Value: l.input[start:l.pos], Pos: start}, nil
	}

	return Token{}, NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("unknown name %q", word))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z' || ch == '_' || ch == '$'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '.'
}

func isReferenceChar(ch byte) bool {
	return ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z' || isDigit(ch) || ch == '$'
}

// Parser parses tokens into an expression tree
type Parser struct {
	tokens []Token
	pos    int
}

// ParseFormula parses formula source such as "=SUM(A1:A3)*2"
func ParseFormula(source string) (Node, error) {
	if !strings.HasPrefix(source, "=") {
		return nil, badExpr("formula must start with '='")
	}
	tokens, err := Tokenize(source[1:])
	if err != nil {
		return nil, err
	}
	return NewParser(tokens).Parse()
}

// NewParser creates a parser over tokens, which must end with TokenEOF
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) isOperator(values ...string) (string, bool) {
	tok := p.current()
	if tok.Type != TokenOperator {
		return "", false
	}
	for _, v := range values {
		if tok.Value == v {
			return v, true
		}
	}
	return "", false
}

// Parse parses the whole token stream
func (p *Parser) Parse() (Node, error) {
	if p.current().Type == TokenEOF {
		return nil, badExpr("empty formula")
	}
	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok.Type != TokenEOF {
		return nil, badExpr("unexpected token %q at position %d", tok.Value, tok.Pos)
	}
	return node, nil
}

// parseBinary parses a left-associative level of binary operators
func (p *Parser) parseBinary(next func() (Node, error), ops map[string]BinaryOp) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.current()
		op, isOp := ops[tok.Value]
		if tok.Type != TokenOperator || !isOp {
			return left, nil
		}
		p.pos++
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryOpNode{Op: op, Left: left, Right: right}
	}
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (Node, error) {
	return p.parseBinary(p.parseConcatenation, map[string]BinaryOp{
		"=":  BinOpEqual,
		"<>": BinOpNotEqual,
		"<":  BinOpLess,
		"<=": BinOpLessEqual,
		">":  BinOpGreater,
		">=": BinOpGreaterEqual,
	})
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (Node, error) {
	return p.parseBinary(p.parseAddition, map[string]BinaryOp{"&": BinOpConcat})
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (Node, error) {
	return p.parseBinary(p.parseMultiplication, map[string]BinaryOp{"+": BinOpAdd, "-": BinOpSubtract})
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (Node, error) {
	return p.parseBinary(p.parsePower, map[string]BinaryOp{"*": BinOpMultiply, "/": BinOpDivide})
}

// parsePower handles exponentiation, right-associative
func (p *Parser) parsePower() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if _, isPow := p.isOperator("^"); !isPow {
		return left, nil
	}
	p.pos++
	right, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	return &BinaryOpNode{Op: BinOpPower, Left: left, Right: right}, nil
}

// parseUnary handles prefix + and -
func (p *Parser) parseUnary() (Node, error) {
	op, isUnary := p.isOperator("+", "-")
	if !isUnary {
		return p.parsePostfix()
	}
	p.pos++
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if op == "-" {
		return &UnaryOpNode{Op: UnaryOpMinus, Operand: operand}, nil
	}
	return &UnaryOpNode{Op: UnaryOpPlus, Operand: operand}, nil
}

// parsePostfix handles postfix operators (percent)
func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		if _, isPercent := p.isOperator("%"); !isPercent {
			return node, nil
		}
		p.pos++
		node = &UnaryOpNode{Op: UnaryOpPercent, Operand: node}
	}
}

// parsePrimary handles literals, references, function calls and
// parentheses
func (p *Parser) parsePrimary() (Node, error) {
	tok := p.current()
	switch tok.Type {
	case TokenNumber:
		p.pos++
		value, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, badExpr("invalid number: %s", tok.Value)
		}
		return &NumberNode{Value: value}, nil

	case TokenString:
		p.pos++
		return &StringNode{Value: tok.Value}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{Value: tok.Value == "TRUE"}, nil

	case TokenReference:
		p.pos++
		return parseReference(tok.Value)

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.current().Type != TokenRightParen {
			return nil, badExpr("expected closing parenthesis")
		}
		p.pos++
		return node, nil

	case TokenEOF:
		return nil, badExpr("unexpected end of expression")

	default:
		return nil, badExpr("unexpected token %q at position %d", tok.Value, tok.Pos)
	}
}

// parseFunctionCall parses NAME(arg, ...)
func (p *Parser) parseFunctionCall() (Node, error) {
	name := p.current().Value
	p.pos++
	if p.current().Type != TokenLeftParen {
		return nil, badExpr("expected '(' after %s", name)
	}
	p.pos++

	call := &FunctionCallNode{Name: strings.ToUpper(name)}
	if p.current().Type == TokenRightParen {
		p.pos++
		return call, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		switch p.current().Type {
		case TokenRightParen:
			p.pos++
			return call, nil
		case TokenComma:
			p.pos++
		default:
			return nil, badExpr("expected ',' or ')' in arguments of %s", name)
		}
	}
}

// parseReference turns "A1", "Sheet1!A1:B2" or "'My sheet'!C3" into a
// reference node. an unprefixed reference keeps an empty sheet.
func parseReference(text string) (Node, error) {
	sheet, zone := splitSheet(text, "")
	start, end, isRange := strings.Cut(zone, ":")

	startCol, startRow, err := ParseA1(start)
	if err != nil {
		return nil, NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("invalid reference %s", text))
	}
	if !isRange {
		return &CellRefNode{Sheet: sheet, Col: startCol, Row: startRow}, nil
	}

	endCol, endRow, err := ParseA1(end)
	if err != nil {
		return nil, NewSpreadsheetError(ErrorCodeRef, fmt.Sprintf("invalid reference %s", text))
	}
	return &RangeNode{
		Sheet:    sheet,
		StartCol: min(startCol, endCol),
		StartRow: min(startRow, endRow),
		EndCol:   max(startCol, endCol),
		EndRow:   max(startRow, endRow),
	}, nil
}
