package spreadsheet

import "fmt"

// ArgPosition is the formal argument a supplied argument maps to.
// RepeatingGroup is the index of the repetition group for repeating
// arguments, -1 otherwise.
type ArgPosition struct {
	Index          int
	RepeatingGroup int
}

// ArgTargeting maps supplied argument i to ArgTargeting[i]
type ArgTargeting []ArgPosition

// Target returns the formal argument of supplied argument i
func (t ArgTargeting) Target(i int) ArgPosition {
	return t[i]
}

// computeArgTargeting maps supplied arguments onto formal ones. full
// repeating groups are consumed first, what remains beyond the mandatory
// arguments fills optional slots in declaration order.
func computeArgTargeting(descr FunctionDescription, supplied int) (ArgTargeting, error) {
	if supplied < descr.MinArgRequired || (descr.MaxArgPossible >= 0 && supplied > descr.MaxArgPossible) {
		return nil, arityError(descr, supplied)
	}

	groups := 0
	if descr.NbrArgRepeating > 0 {
		groups = (supplied - descr.MinArgRequired) / descr.NbrArgRepeating
	}
	optionalValues := supplied - descr.MinArgRequired - groups*descr.NbrArgRepeating
	if optionalValues > descr.NbrOptionalNonRepeatingArgs {
		return nil, arityError(descr, supplied)
	}

	targeting := make(ArgTargeting, 0, supplied)
	countOptional := 0
	for i := 0; i < len(descr.Args); i++ {
		arg := descr.Args[i]

		if arg.Repeating {
			mandatoryGroup := 1
			if arg.Optional {
				mandatoryGroup = 0
			}
			for j := 0; j < groups+mandatoryGroup; j++ {
				for k := 0; k < descr.NbrArgRepeating; k++ {
					targeting = append(targeting, ArgPosition{Index: i + k, RepeatingGroup: j})
				}
			}
			i += descr.NbrArgRepeating - 1
			continue
		}

		if arg.Optional {
			if countOptional < optionalValues {
				targeting = append(targeting, ArgPosition{Index: i, RepeatingGroup: -1})
			}
			countOptional++
			continue
		}

		targeting = append(targeting, ArgPosition{Index: i, RepeatingGroup: -1})
	}

	if len(targeting) != supplied {
		return nil, arityError(descr, supplied)
	}
	return targeting, nil
}

// arityError is the #BAD_EXPR returned for a call whose argument count the
// signature cannot absorb
func arityError(descr FunctionDescription, supplied int) *SpreadsheetError {
	var expected string
	switch {
	case descr.MaxArgPossible < 0:
		expected = fmt.Sprintf("at least %d", descr.MinArgRequired)
	case descr.MinArgRequired == descr.MaxArgPossible:
		expected = fmt.Sprintf("%d", descr.MinArgRequired)
	default:
		expected = fmt.Sprintf("%d to %d", descr.MinArgRequired, descr.MaxArgPossible)
	}
	return NewSpreadsheetError(ErrorCodeBadExpr, fmt.Sprintf(
		"Invalid number of arguments for the %s function. Expected %s, but got %d instead.",
		descr.Name, expected, supplied))
}
