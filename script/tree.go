package script

// Node is a serializable view of a command or test, used to dump parsed
// scripts as JSON, YAML or CBOR.
type Node struct {
	Kind      string   `json:"kind" yaml:"kind"` // "command", "test", "allof" or "anyof"
	Name      string   `json:"name" yaml:"name"`
	Inverted  bool     `json:"inverted,omitempty" yaml:"inverted,omitempty"`
	Arguments []string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Test      *Node    `json:"test,omitempty" yaml:"test,omitempty"`
	Children  []Node   `json:"children,omitempty" yaml:"children,omitempty"`
	Block     []Node   `json:"block,omitempty" yaml:"block,omitempty"`
}

// Tree returns the nodes of the top-level commands of s.
func Tree(s *Script) []Node {
	if s == nil {
		return nil
	}
	return commandNodes(s.Commands)
}

// TestNode returns the node of a single test.
func TestNode(t Test) Node {
	n := Node{Name: t.Name(), Inverted: t.Inverted()}
	switch t := t.(type) {
	case *SimpleTest:
		n.Kind = "test"
		n.Arguments = argumentStrings(t.params)
	case *CompositeTest:
		n.Kind = t.kind.String()
		n.Children = make([]Node, len(t.children))
		for i, child := range t.children {
			n.Children[i] = TestNode(child)
		}
	}
	return n
}

func commandNodes(cmds []*Command) []Node {
	if len(cmds) == 0 {
		return nil
	}
	nodes := make([]Node, len(cmds))
	for i, cmd := range cmds {
		n := Node{Kind: "command", Name: cmd.Name, Arguments: argumentStrings(cmd.Arguments)}
		if cmd.Test != nil {
			t := TestNode(cmd.Test)
			n.Test = &t
		}
		n.Block = commandNodes(cmd.Block)
		nodes[i] = n
	}
	return nodes
}

func argumentStrings(args []Argument) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.String()
	}
	return out
}
