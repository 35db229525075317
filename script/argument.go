package script

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// ArgumentKind distinguishes the four kinds of Sieve arguments.
type ArgumentKind int

const (
	StringArg ArgumentKind = iota
	StringListArg
	NumberArg
	TagArg
)

func (k ArgumentKind) String() string {
	switch k {
	case StringArg:
		return "string"
	case StringListArg:
		return "string list"
	case NumberArg:
		return "number"
	case TagArg:
		return "tag"
	default:
		return "ArgumentKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Argument is a single test or command argument. Only the fields relevant to
// Kind are set: Str for strings and tags (tag names are stored lower-case
// without the leading colon), List for string lists, Num and Suffix for
// numbers.
type Argument struct {
	Kind   ArgumentKind
	Str    string
	List   []string
	Num    uint64
	Suffix byte
}

// Str returns a string argument.
func Str(s string) Argument {
	return Argument{Kind: StringArg, Str: s}
}

// List returns a string-list argument.
func List(items ...string) Argument {
	return Argument{Kind: StringListArg, List: slices.Clone(items)}
}

// Num returns a number argument. suffix is 0 or one of 'K', 'M', 'G'.
func Num(n uint64, suffix byte) Argument {
	return Argument{Kind: NumberArg, Num: n, Suffix: upper(suffix)}
}

// Tag returns a tagged argument. A leading colon is accepted and dropped.
func Tag(name string) Argument {
	return Argument{Kind: TagArg, Str: strings.ToLower(strings.TrimPrefix(name, ":"))}
}

// IsTag reports whether a is the tag with the given name.
func (a Argument) IsTag(name string) bool {
	return a.Kind == TagArg && a.Str == strings.ToLower(strings.TrimPrefix(name, ":"))
}

// Strings returns the string values of a string or string-list argument.
func (a Argument) Strings() []string {
	switch a.Kind {
	case StringArg:
		return []string{a.Str}
	case StringListArg:
		return slices.Clone(a.List)
	}
	return nil
}

// Scaled returns the number multiplied by its suffix. ok is false when the
// result does not fit in 64 bits or a is not a number.
func (a Argument) Scaled() (n uint64, ok bool) {
	if a.Kind != NumberArg {
		return 0, false
	}
	var mult uint64 = 1
	switch a.Suffix {
	case 'K':
		mult = 1 << 10
	case 'M':
		mult = 1 << 20
	case 'G':
		mult = 1 << 30
	}
	if a.Num > math.MaxUint64/mult {
		return 0, false
	}
	return a.Num * mult, true
}

// Equal reports whether a and b are structurally equal.
func (a Argument) Equal(b Argument) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case StringArg, TagArg:
		return a.Str == b.Str
	case StringListArg:
		return slices.Equal(a.List, b.List)
	case NumberArg:
		return a.Num == b.Num && a.Suffix == b.Suffix
	}
	return false
}

func (a Argument) clone() Argument {
	a.List = slices.Clone(a.List)
	return a
}

func (a Argument) validate() error {
	switch a.Kind {
	case StringArg:
		return nil
	case StringListArg:
		if len(a.List) == 0 {
			return invalidArgument("argument", "string list must not be empty")
		}
	case NumberArg:
		switch a.Suffix {
		case 0, 'K', 'M', 'G':
		default:
			return invalidArgument("argument", "invalid number suffix %q", a.Suffix)
		}
	case TagArg:
		if !isIdentifier(a.Str) {
			return invalidArgument("argument", "invalid tag name %q", a.Str)
		}
	default:
		return invalidArgument("argument", "unknown argument kind %d", a.Kind)
	}
	return nil
}

// String renders the argument in canonical form.
func (a Argument) String() string {
	var b strings.Builder
	writeArgument(&b, a)
	return b.String()
}

func argumentsEqual(a, b []Argument) bool {
	return slices.EqualFunc(a, b, Argument.Equal)
}

func cloneArguments(args []Argument) []Argument {
	if args == nil {
		return nil
	}
	out := make([]Argument, len(args))
	for i, a := range args {
		out[i] = a.clone()
	}
	return out
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}
