package spreadsheet

import (
	"fmt"
	"slices"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FunctionImpl is the raw body of a function. it receives the arguments
// after targeting, vectorization and error short-circuiting. the returned
// value may be a Primitive (ints are accepted), a FunctionResult, a
// Matrix[Primitive], a Matrix[FunctionResult], a FormattedMatrix or a
// Value. a returned *SpreadsheetError, as value or as error, becomes the
// cell error; any other error becomes #ERROR!.
type FunctionImpl func(ctx *EvalContext, args ...Value) (any, error)

// FunctionDescription declares a function's signature and body
type FunctionDescription struct {
	Name        string
	Description string
	Args        []ArgDefinition
	Compute     FunctionImpl
	Volatile    bool // result changes without any input changing (NOW, RAND)

	// derived at registration
	MinArgRequired              int
	MaxArgPossible              int // -1 when repeating arguments make it unbounded
	NbrArgRepeating             int
	NbrOptionalNonRepeatingArgs int
}

// Function is a registered, invocation-ready function
type Function struct {
	FunctionDescription
	registry *FunctionRegistry
}

// FunctionRegistry maps upper-cased names to functions and owns the
// argument targeting cache
type FunctionRegistry struct {
	mu        sync.Mutex
	functions map[string]*Function
	targeting map[targetingKey]ArgTargeting
}

type targetingKey struct {
	name     string
	supplied int
}

// NewFunctionRegistry creates an empty registry
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: make(map[string]*Function),
		targeting: make(map[targetingKey]ArgTargeting),
	}
}

// normalizeFunctionName upper-cases a name independently of the locale
func normalizeFunctionName(name string) string {
	return cases.Upper(language.Und).String(name)
}

// Register validates and adds a function. a signature the targeting
// algorithm cannot map unambiguously is rejected with a FailedPrecondition
// error.
func (fr *FunctionRegistry) Register(descr FunctionDescription) error {
	descr.Name = normalizeFunctionName(descr.Name)
	if descr.Name == "" {
		return NewApplicationError(FailedPrecondition, "function name cannot be empty")
	}
	if descr.Compute == nil {
		return NewApplicationError(FailedPrecondition, fmt.Sprintf("function %s has no implementation", descr.Name))
	}

	addMetaInfoFromArgs(&descr)
	if err := validateArguments(descr); err != nil {
		return err
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	if _, exists := fr.functions[descr.Name]; exists {
		return NewApplicationError(AlreadyExists, fmt.Sprintf("function %s is already registered", descr.Name))
	}
	fr.functions[descr.Name] = &Function{FunctionDescription: descr, registry: fr}
	functionLog.Debugf("registered function %s (%d..%d args)", descr.Name, descr.MinArgRequired, descr.MaxArgPossible)
	return nil
}

// MustRegister is Register for static definitions. it panics on error.
func (fr *FunctionRegistry) MustRegister(descr FunctionDescription) {
	if err := fr.Register(descr); err != nil {
		panic(err)
	}
}

// Lookup returns a function by name, case-insensitively
func (fr *FunctionRegistry) Lookup(name string) (*Function, bool) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	f, exists := fr.functions[normalizeFunctionName(name)]
	return f, exists
}

// Names returns every registered name, sorted
func (fr *FunctionRegistry) Names() []string {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	names := make([]string, 0, len(fr.functions))
	for name := range fr.functions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Call invokes a function by name. an unknown name yields #NAME?.
func (fr *FunctionRegistry) Call(ctx *EvalContext, name string, args ...Value) Value {
	f, exists := fr.Lookup(name)
	if !exists {
		return ErrorValue(ErrorCodeName, fmt.Sprintf("Invalid formula: unknown function %s", normalizeFunctionName(name)))
	}
	return f.Call(ctx, args...)
}

// ArgTargeting returns the mapping of supplied arguments to formal
// arguments of a function for a call with supplied arguments. mappings are
// cached for the registry lifetime.
func (fr *FunctionRegistry) ArgTargeting(name string, supplied int) (ArgTargeting, error) {
	f, exists := fr.Lookup(name)
	if !exists {
		return nil, NewApplicationError(NotFound, fmt.Sprintf("unknown function %s", normalizeFunctionName(name)))
	}
	return fr.argTargeting(f, supplied)
}

func (fr *FunctionRegistry) argTargeting(f *Function, supplied int) (ArgTargeting, error) {
	key := targetingKey{name: f.Name, supplied: supplied}

	fr.mu.Lock()
	targeting, cached := fr.targeting[key]
	fr.mu.Unlock()
	if cached {
		return targeting, nil
	}

	targeting, err := computeArgTargeting(f.FunctionDescription, supplied)
	if err != nil {
		return nil, err
	}

	fr.mu.Lock()
	fr.targeting[key] = targeting
	fr.mu.Unlock()
	return targeting, nil
}

// addMetaInfoFromArgs computes the derived counts of a description
func addMetaInfoFromArgs(descr *FunctionDescription) {
	descr.MinArgRequired = 0
	descr.NbrArgRepeating = 0
	descr.NbrOptionalNonRepeatingArgs = 0
	for _, arg := range descr.Args {
		if !arg.Optional {
			descr.MinArgRequired++
		}
		if arg.Repeating {
			descr.NbrArgRepeating++
		}
		if arg.Optional && !arg.Repeating {
			descr.NbrOptionalNonRepeatingArgs++
		}
	}
	descr.MaxArgPossible = len(descr.Args)
	if descr.NbrArgRepeating > 0 {
		descr.MaxArgPossible = -1
	}
}

// validateArguments enforces the shape the targeting algorithm relies on:
// repeating arguments are consecutive, share the same optional flag, and
// outnumber the optional non-repeating ones
func validateArguments(descr FunctionDescription) error {
	invalid := func(format string, args ...any) error {
		return NewApplicationError(ErrInvalidFunction.Code, fmt.Sprintf(format, args...))
	}

	if descr.NbrArgRepeating > 0 && descr.NbrArgRepeating <= descr.NbrOptionalNonRepeatingArgs {
		return invalid("function %s has more optional arguments than repeating ones", descr.Name)
	}

	firstRepeating := -1
	for i, arg := range descr.Args {
		if !arg.Repeating {
			continue
		}
		if firstRepeating == -1 {
			firstRepeating = i
			continue
		}
		if !descr.Args[i-1].Repeating {
			return invalid("function %s has non-consecutive repeating arguments", descr.Name)
		}
		if arg.Optional != descr.Args[firstRepeating].Optional {
			return invalid("function %s mixes optional and mandatory repeating arguments", descr.Name)
		}
	}

	return nil
}
