package document

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/script"
)

// TestPath addresses a test inside a script. Command indexes into the
// top-level commands and then into nested blocks; Child descends through
// composite children of that command's test.
type TestPath struct {
	Command []int `json:"command" yaml:"command"`
	Child   []int `json:"child,omitempty" yaml:"child,omitempty"`
}

// String formats the path as "1.0" or "1.0/2.1" (command/child).
func (p TestPath) String() string {
	s := joinInts(p.Command)
	if len(p.Child) > 0 {
		s += "/" + joinInts(p.Child)
	}
	return s
}

// ParsePath parses the format produced by TestPath.String.
func ParsePath(s string) (TestPath, error) {
	cmdPart, childPart, hasChild := strings.Cut(strings.TrimSpace(s), "/")
	cmd, err := splitInts(cmdPart)
	if err != nil || len(cmd) == 0 {
		return TestPath{}, fmt.Errorf("%w: %q", consts.ErrInvalidPath, s)
	}
	p := TestPath{Command: cmd}
	if hasChild {
		child, err := splitInts(childPart)
		if err != nil || len(child) == 0 {
			return TestPath{}, fmt.Errorf("%w: %q", consts.ErrInvalidPath, s)
		}
		p.Child = child
	}
	return p, nil
}

// Parent returns the path of the enclosing composite and the index of the
// addressed test within it. ok is false for a condition's root test.
func (p TestPath) Parent() (parent TestPath, index int, ok bool) {
	if len(p.Child) == 0 {
		return p, 0, false
	}
	n := len(p.Child)
	parent = TestPath{Command: p.Command, Child: p.Child[:n-1:n-1]}
	return parent, p.Child[n-1], true
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ".")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ".")
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad index %q", f)
		}
		out[i] = n
	}
	return out, nil
}

// commandAt follows indexes through nested blocks.
func commandAt(cmds []*script.Command, indexes []int) (*script.Command, error) {
	if len(indexes) == 0 {
		return nil, fmt.Errorf("%w: empty command path", consts.ErrInvalidPath)
	}
	var cmd *script.Command
	for depth, i := range indexes {
		if i < 0 || i >= len(cmds) {
			return nil, fmt.Errorf("%w: command index %d out of range at depth %d", consts.ErrInvalidPath, i, depth)
		}
		cmd = cmds[i]
		cmds = cmd.Block
	}
	return cmd, nil
}

// testAt descends through composite children.
func testAt(t script.Test, child []int) (script.Test, error) {
	for depth, i := range child {
		c, ok := t.(*script.CompositeTest)
		if !ok {
			return nil, fmt.Errorf("%w: %s at depth %d is not a composite", consts.ErrInvalidPath, t.Name(), depth)
		}
		if i < 0 || i >= c.Len() {
			return nil, fmt.Errorf("%w: child index %d out of range at depth %d", consts.ErrInvalidPath, i, depth)
		}
		t = c.Child(i)
	}
	return t, nil
}

// rewrite replaces the test addressed by child with fn's result, rebuilding
// every composite on the way up. The input tree is not modified.
func rewrite(t script.Test, child []int, fn func(script.Test) (script.Test, error)) (script.Test, error) {
	if len(child) == 0 {
		return fn(t)
	}
	c, ok := t.(*script.CompositeTest)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a composite", consts.ErrInvalidPath, t.Name())
	}
	i := child[0]
	if i < 0 || i >= c.Len() {
		return nil, fmt.Errorf("%w: child index %d out of range", consts.ErrInvalidPath, i)
	}
	children := c.Children()
	replaced, err := rewrite(children[i], child[1:], fn)
	if err != nil {
		return nil, err
	}
	children[i] = replaced
	n, err := c.WithChildren(children)
	if err != nil {
		return nil, err
	}
	return n, nil
}
