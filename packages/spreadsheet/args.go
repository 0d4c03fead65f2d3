package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

// ArgType is a bit set of the types a formal argument accepts
type ArgType uint16

const (
	ArgAny ArgType = 1 << iota
	ArgBoolean
	ArgNumber
	ArgString
	ArgDate
	ArgRange
	ArgRangeBoolean
	ArgRangeNumber
	ArgRangeString
	ArgRangeDate
	ArgMeta
)

const argRangeTypes = ArgRange | ArgRangeBoolean | ArgRangeNumber | ArgRangeString | ArgRangeDate

var argTypeNames = map[string]ArgType{
	"any":            ArgAny,
	"boolean":        ArgBoolean,
	"number":         ArgNumber,
	"string":         ArgString,
	"date":           ArgDate,
	"range":          ArgRange,
	"range<boolean>": ArgRangeBoolean,
	"range<number>":  ArgRangeNumber,
	"range<string>":  ArgRangeString,
	"range<date>":    ArgRangeDate,
	"meta":           ArgMeta,
}

// ArgDefinition describes one formal argument of a function
type ArgDefinition struct {
	Name             string
	Description      string
	Types            ArgType
	Optional         bool
	Repeating        bool
	Default          bool
	DefaultValue     Primitive
	AcceptErrors     bool
	AcceptMatrix     bool
	AcceptMatrixOnly bool
}

// ParseArg builds an ArgDefinition from its compact form:
//
//	value (number, range<number>, optional, repeating, default=0)
//
// the name comes first, then a parenthesized list of types and flags.
// errors are accepted when the types include any or a plain range, a
// matrix when any type is a range, and only a matrix when all types are
// ranges. a default implies optional.
func ParseArg(signature, description string) (ArgDefinition, error) {
	name, rest, found := strings.Cut(signature, "(")
	name = strings.TrimSpace(name)
	if !found || name == "" || !strings.HasSuffix(strings.TrimSpace(rest), ")") {
		return ArgDefinition{}, NewApplicationError(InvalidArgument, fmt.Sprintf("malformed argument definition: %q", signature))
	}
	rest = strings.TrimSuffix(strings.TrimSpace(rest), ")")

	def := ArgDefinition{Name: name, Description: description}
	for _, token := range strings.Split(rest, ",") {
		token = strings.TrimSpace(token)
		lower := strings.ToLower(token)
		switch {
		case lower == "optional":
			def.Optional = true
		case lower == "repeating":
			def.Repeating = true
		case strings.HasPrefix(lower, "default="):
			def.Default = true
			def.Optional = true
			def.DefaultValue = parseDefaultValue(strings.TrimSpace(token[len("default="):]))
		default:
			t, known := argTypeNames[lower]
			if !known {
				return ArgDefinition{}, NewApplicationError(InvalidArgument, fmt.Sprintf("unknown argument type %q in %q", token, signature))
			}
			def.Types |= t
		}
	}

	if def.Types == 0 {
		return ArgDefinition{}, NewApplicationError(InvalidArgument, fmt.Sprintf("argument %q declares no type", name))
	}

	def.AcceptErrors = def.Types&(ArgAny|ArgRange|ArgMeta) != 0
	def.AcceptMatrix = def.Types&(argRangeTypes|ArgMeta) != 0
	def.AcceptMatrixOnly = def.Types&^argRangeTypes == 0
	return def, nil
}

// Arg is ParseArg for static definitions. it panics on a malformed signature.
func Arg(signature, description string) ArgDefinition {
	def, err := ParseArg(signature, description)
	if err != nil {
		panic(err)
	}
	return def
}

// parseDefaultValue reads a literal: a number, TRUE/FALSE, or a string,
// optionally double quoted
func parseDefaultValue(literal string) Primitive {
	if n, err := strconv.ParseFloat(literal, 64); err == nil {
		return n
	}
	switch strings.ToUpper(literal) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	if len(literal) >= 2 && strings.HasPrefix(literal, `"`) && strings.HasSuffix(literal, `"`) {
		return literal[1 : len(literal)-1]
	}
	return literal
}
