package document

import (
	"fmt"
	"slices"

	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/script"
)

// Condition is a test-bearing command.
type Condition struct {
	Path    TestPath
	Command string
	Test    script.Test
}

// Conditions lists every command that carries a test, depth first in
// source order.
func (d *Document) Conditions() []Condition {
	var out []Condition
	var walk func(cmds []*script.Command, prefix []int)
	walk = func(cmds []*script.Command, prefix []int) {
		for i, cmd := range cmds {
			path := append(slices.Clip(prefix), i)
			if cmd.Test != nil {
				out = append(out, Condition{
					Path:    TestPath{Command: slices.Clone(path)},
					Command: cmd.Name,
					Test:    cmd.Test,
				})
			}
			walk(cmd.Block, path)
		}
	}
	walk(d.script.Commands, nil)
	return out
}

// Test returns the test addressed by path.
func (d *Document) Test(path TestPath) (script.Test, error) {
	cmd, err := commandAt(d.script.Commands, path.Command)
	if err != nil {
		return nil, err
	}
	if cmd.Test == nil {
		return nil, fmt.Errorf("%w: command %q has no test", consts.ErrInvalidPath, cmd.Name)
	}
	return testAt(cmd.Test, path.Child)
}

// edit applies fn to the addressed test on a copy of the tree and installs
// the copy only if fn succeeds.
func (d *Document) edit(path TestPath, fn func(script.Test) (script.Test, error)) error {
	s := d.script.Clone()
	cmd, err := commandAt(s.Commands, path.Command)
	if err != nil {
		return err
	}
	if cmd.Test == nil {
		return fmt.Errorf("%w: command %q has no test", consts.ErrInvalidPath, cmd.Name)
	}
	t, err := rewrite(cmd.Test, path.Child, fn)
	if err != nil {
		return err
	}
	cmd.Test = t
	d.script = s
	return nil
}

// Negate replaces the addressed test with its logical negation.
func (d *Document) Negate(path TestPath) error {
	return d.edit(path, func(t script.Test) (script.Test, error) {
		return script.Invert(t), nil
	})
}

// ReplaceTest puts t at path.
func (d *Document) ReplaceTest(path TestPath, t script.Test) error {
	if t == nil {
		return fmt.Errorf("%w: nil test", script.ErrInvalidArgument)
	}
	return d.edit(path, func(script.Test) (script.Test, error) {
		return t.Clone(), nil
	})
}

// Simplify folds constant sub-expressions of the addressed test.
func (d *Document) Simplify(path TestPath) error {
	return d.edit(path, func(t script.Test) (script.Test, error) {
		return script.Simplify(t), nil
	})
}

// Group wraps tests in a new composite of the given kind. Without indexes the
// test at parent itself is wrapped. With indexes, parent must address a
// composite; the listed children move into the new group, which takes the
// place of the first of them.
func (d *Document) Group(kind script.Combinator, parent TestPath, indexes ...int) error {
	if len(indexes) == 0 {
		return d.edit(parent, func(t script.Test) (script.Test, error) {
			return newComposite(kind, []script.Test{t})
		})
	}

	sorted := slices.Clone(indexes)
	slices.Sort(sorted)
	if len(slices.Compact(slices.Clone(sorted))) != len(sorted) {
		return fmt.Errorf("%w: duplicate child index in %v", consts.ErrInvalidPath, indexes)
	}

	return d.edit(parent, func(t script.Test) (script.Test, error) {
		c, ok := t.(*script.CompositeTest)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a composite", consts.ErrInvalidPath, t.Name())
		}
		if sorted[0] < 0 || sorted[len(sorted)-1] >= c.Len() {
			return nil, fmt.Errorf("%w: child indexes %v out of range for %d children", consts.ErrInvalidPath, indexes, c.Len())
		}

		children := c.Children()
		grouped := make([]script.Test, len(sorted))
		for i, idx := range sorted {
			grouped[i] = children[idx]
		}
		group, err := newComposite(kind, grouped)
		if err != nil {
			return nil, err
		}

		kept := make([]script.Test, 0, len(children)-len(sorted)+1)
		for i, child := range children {
			switch {
			case i == sorted[0]:
				kept = append(kept, group)
			case slices.Contains(sorted, i):
			default:
				kept = append(kept, child)
			}
		}
		n, err := c.WithChildren(kept)
		if err != nil {
			return nil, err
		}
		return n, nil
	})
}

// Ungroup dissolves the composite at path. A single-child composite is
// replaced by its child, negated if the composite was. Otherwise the
// composite must be a non-inverted child of a composite with the same
// combinator, into which its children are spliced.
func (d *Document) Ungroup(path TestPath) error {
	target, err := d.Test(path)
	if err != nil {
		return err
	}
	c, ok := target.(*script.CompositeTest)
	if !ok {
		return fmt.Errorf("%w: %s is not a composite", script.ErrInvalidArgument, target.Name())
	}

	if c.Len() == 1 {
		return d.edit(path, func(script.Test) (script.Test, error) {
			child := c.Child(0)
			if c.Inverted() {
				return script.Not(child), nil
			}
			return child.Clone(), nil
		})
	}

	parentPath, index, hasParent := path.Parent()
	if !hasParent {
		return fmt.Errorf("%w: cannot ungroup a top-level %s with %d children", script.ErrInvalidArgument, c.Name(), c.Len())
	}
	return d.edit(parentPath, func(t script.Test) (script.Test, error) {
		parent := t.(*script.CompositeTest)
		if c.Inverted() || parent.Combinator() != c.Combinator() {
			return nil, fmt.Errorf("%w: cannot splice %s into %s", script.ErrInvalidArgument, script.RenderTest(c), parent.Name())
		}
		siblings := parent.Children()
		spliced := slices.Concat(siblings[:index], c.Children(), siblings[index+1:])
		n, err := parent.WithChildren(spliced)
		if err != nil {
			return nil, err
		}
		return n, nil
	})
}

func newComposite(kind script.Combinator, children []script.Test) (script.Test, error) {
	c, err := script.NewComposite(kind, children)
	if err != nil {
		return nil, err
	}
	return c, nil
}
