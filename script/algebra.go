package script

// Invert returns the logical negation of t. See Test.Invert.
func Invert(t Test) Test {
	return t.Invert()
}

// Not toggles the "not" prefix of t without changing its shape. This is the
// operation the parser applies for each "not" keyword; unlike Invert it keeps
// a composite's combinator and children as they are.
func Not(t Test) Test {
	switch t := t.(type) {
	case *SimpleTest:
		return &SimpleTest{name: t.name, params: cloneArguments(t.params), inverted: !t.inverted}
	case *CompositeTest:
		c := t.Clone().(*CompositeTest)
		c.inverted = !c.inverted
		return c
	}
	panic("script: unknown test type")
}

// EqualTests reports whether a and b are structurally equal. Two nil tests
// are equal.
func EqualTests(a, b Test) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// ConstantValue folds tests whose truth value does not depend on the
// message: true, false and composites decided by such children. An empty
// allof is true and an empty anyof is false. known is false when the value
// depends on the message.
func ConstantValue(t Test) (value bool, known bool) {
	switch t := t.(type) {
	case *SimpleTest:
		switch t.name {
		case "true":
			return !t.inverted, true
		case "false":
			return t.inverted, true
		}
		return false, false
	case *CompositeTest:
		// allof is decided by any false child, anyof by any true child.
		decisive := t.kind == AnyOf
		allKnown := true
		for _, child := range t.children {
			v, ok := ConstantValue(child)
			if !ok {
				allKnown = false
				continue
			}
			if v == decisive {
				return decisive != t.inverted, true
			}
		}
		if allKnown {
			return !decisive != t.inverted, true
		}
		return false, false
	}
	return false, false
}

// Simplify removes constant children from composites where that does not
// change the result, and replaces fully constant subtrees with true or false.
// Non-constant simple tests are returned unchanged.
func Simplify(t Test) Test {
	if v, ok := ConstantValue(t); ok {
		return constantTest(v)
	}
	c, ok := t.(*CompositeTest)
	if !ok {
		return t.Clone()
	}
	// Children equal to the identity element (true for allof, false for
	// anyof) do not affect the outcome.
	identity := c.kind == AllOf
	children := make([]Test, 0, len(c.children))
	for _, child := range c.children {
		if v, ok := ConstantValue(child); ok && v == identity {
			continue
		}
		children = append(children, Simplify(child))
	}
	if len(children) == 1 {
		if c.inverted {
			return Not(children[0])
		}
		return children[0]
	}
	return &CompositeTest{kind: c.kind, children: children, inverted: c.inverted}
}

func constantTest(v bool) Test {
	if v {
		return &SimpleTest{name: "true"}
	}
	return &SimpleTest{name: "false"}
}
