package script

import (
	"strings"
)

// Test is a boolean test expression. The set of implementations is closed:
// *SimpleTest and *CompositeTest are the only node shapes.
type Test interface {
	// Name returns the lower-case test identifier ("header", "allof", ...).
	Name() string
	// Inverted reports whether the test is preceded by "not".
	Inverted() bool
	// Invert returns the logical negation of the test as a new node.
	Invert() Test
	// Equal reports structural equality.
	Equal(other Test) bool
	// Clone returns a deep copy.
	Clone() Test
	// String renders the test in canonical form.
	String() string

	isTest()
}

// SimpleTest is a named test with ordered arguments, e.g.
// header :contains "subject" "sale".
type SimpleTest struct {
	name     string
	params   []Argument
	inverted bool
}

// NewTest returns a non-inverted simple test.
func NewTest(name string, params ...Argument) (*SimpleTest, error) {
	name = strings.ToLower(name)
	if name == "" {
		return nil, invalidArgument("name", "test name must not be empty")
	}
	if !isIdentifier(name) {
		return nil, invalidArgument("name", "%q is not an identifier", name)
	}
	switch name {
	case "not", "allof", "anyof":
		return nil, invalidArgument("name", "%q is not a simple test", name)
	}
	for _, p := range params {
		if err := p.validate(); err != nil {
			return nil, err
		}
	}
	return &SimpleTest{name: name, params: cloneArguments(params)}, nil
}

// MustTest is like NewTest but panics on error. It is meant for tests and
// statically known trees.
func MustTest(name string, params ...Argument) *SimpleTest {
	t, err := NewTest(name, params...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *SimpleTest) Name() string   { return t.name }
func (t *SimpleTest) Inverted() bool { return t.inverted }
func (t *SimpleTest) isTest()        {}

// Parameters returns a copy of the test arguments in source order.
func (t *SimpleTest) Parameters() []Argument {
	return cloneArguments(t.params)
}

func (t *SimpleTest) Invert() Test {
	return &SimpleTest{name: t.name, params: cloneArguments(t.params), inverted: !t.inverted}
}

func (t *SimpleTest) Equal(other Test) bool {
	o, ok := other.(*SimpleTest)
	if !ok || t == nil || o == nil {
		return ok && t == o
	}
	return t.inverted == o.inverted && t.name == o.name && argumentsEqual(t.params, o.params)
}

func (t *SimpleTest) Clone() Test {
	return &SimpleTest{name: t.name, params: cloneArguments(t.params), inverted: t.inverted}
}

func (t *SimpleTest) String() string {
	return RenderTest(t)
}

// Combinator selects the boolean operator of a composite test.
type Combinator int

const (
	AllOf Combinator = iota
	AnyOf
)

func (c Combinator) String() string {
	if c == AnyOf {
		return "anyof"
	}
	return "allof"
}

// Dual returns the combinator De Morgan's laws exchange c with.
func (c Combinator) Dual() Combinator {
	if c == AllOf {
		return AnyOf
	}
	return AllOf
}

// ParseCombinator maps "allof"/"anyof" (any case) to a Combinator.
func ParseCombinator(name string) (Combinator, bool) {
	switch strings.ToLower(name) {
	case "allof":
		return AllOf, true
	case "anyof":
		return AnyOf, true
	}
	return AllOf, false
}

// CompositeTest is an allof or anyof test. It exclusively owns its children:
// they are copied on construction and on access.
type CompositeTest struct {
	kind     Combinator
	children []Test
	inverted bool
}

// NewComposite returns a non-inverted composite. children must not be nil
// and must not contain nil tests; an empty slice is accepted (an empty allof
// is true, an empty anyof is false).
func NewComposite(kind Combinator, children []Test) (*CompositeTest, error) {
	if kind != AllOf && kind != AnyOf {
		return nil, invalidArgument("kind", "unknown combinator %d", kind)
	}
	if children == nil {
		return nil, invalidArgument("children", "child list must not be nil")
	}
	owned := make([]Test, len(children))
	for i, c := range children {
		if c == nil || isNilTest(c) {
			return nil, invalidArgument("children", "child %d is nil", i)
		}
		owned[i] = c.Clone()
	}
	return &CompositeTest{kind: kind, children: owned}, nil
}

// MustAllOf builds an allof composite and panics on error.
func MustAllOf(children ...Test) *CompositeTest {
	return mustComposite(AllOf, children)
}

// MustAnyOf builds an anyof composite and panics on error.
func MustAnyOf(children ...Test) *CompositeTest {
	return mustComposite(AnyOf, children)
}

func mustComposite(kind Combinator, children []Test) *CompositeTest {
	if children == nil {
		children = []Test{}
	}
	c, err := NewComposite(kind, children)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *CompositeTest) Name() string           { return c.kind.String() }
func (c *CompositeTest) Inverted() bool         { return c.inverted }
func (c *CompositeTest) Combinator() Combinator { return c.kind }
func (c *CompositeTest) Len() int               { return len(c.children) }
func (c *CompositeTest) isTest()                {}

// Children returns the child tests in order. The slice is a copy; the nodes
// themselves are immutable.
func (c *CompositeTest) Children() []Test {
	out := make([]Test, len(c.children))
	copy(out, c.children)
	return out
}

// Child returns the i-th child.
func (c *CompositeTest) Child(i int) Test {
	return c.children[i]
}

// WithChildren returns a composite of the same kind and inversion holding
// children instead. The receiver is unchanged.
func (c *CompositeTest) WithChildren(children []Test) (*CompositeTest, error) {
	n, err := NewComposite(c.kind, children)
	if err != nil {
		return nil, err
	}
	n.inverted = c.inverted
	return n, nil
}

// Invert applies De Morgan's laws: the combinator is swapped and every child
// is inverted. The composite's own not-prefix is kept.
func (c *CompositeTest) Invert() Test {
	children := make([]Test, len(c.children))
	for i, child := range c.children {
		children[i] = child.Invert()
	}
	return &CompositeTest{kind: c.kind.Dual(), children: children, inverted: c.inverted}
}

func (c *CompositeTest) Equal(other Test) bool {
	o, ok := other.(*CompositeTest)
	if !ok || c == nil || o == nil {
		return ok && c == o
	}
	if c.kind != o.kind || c.inverted != o.inverted || len(c.children) != len(o.children) {
		return false
	}
	for i := range c.children {
		if !c.children[i].Equal(o.children[i]) {
			return false
		}
	}
	return true
}

func (c *CompositeTest) Clone() Test {
	children := make([]Test, len(c.children))
	for i, child := range c.children {
		children[i] = child.Clone()
	}
	return &CompositeTest{kind: c.kind, children: children, inverted: c.inverted}
}

func (c *CompositeTest) String() string {
	return RenderTest(c)
}

func isNilTest(t Test) bool {
	switch t := t.(type) {
	case *SimpleTest:
		return t == nil
	case *CompositeTest:
		return t == nil
	}
	return false
}
