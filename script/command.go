package script

// Script is a parsed Sieve script: a sequence of top-level commands.
type Script struct {
	Commands []*Command
}

// Command is a control or action command, e.g. require, if, fileinto. Test
// is set for commands followed by a test (if, elsif). HasBlock distinguishes
// "cmd;" from "cmd {}".
type Command struct {
	Name      string
	Arguments []Argument
	Test      Test
	HasBlock  bool
	Block     []*Command
}

// Equal reports whether two scripts are structurally equal.
func (s *Script) Equal(o *Script) bool {
	if s == nil || o == nil {
		return s == o
	}
	return commandsEqual(s.Commands, o.Commands)
}

// Clone returns a deep copy of the script.
func (s *Script) Clone() *Script {
	if s == nil {
		return nil
	}
	return &Script{Commands: cloneCommands(s.Commands)}
}

// Equal reports whether two commands are structurally equal.
func (c *Command) Equal(o *Command) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Name == o.Name &&
		argumentsEqual(c.Arguments, o.Arguments) &&
		EqualTests(c.Test, o.Test) &&
		c.HasBlock == o.HasBlock &&
		commandsEqual(c.Block, o.Block)
}

// Clone returns a deep copy of the command.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	out := &Command{
		Name:      c.Name,
		Arguments: cloneArguments(c.Arguments),
		HasBlock:  c.HasBlock,
		Block:     cloneCommands(c.Block),
	}
	if c.Test != nil {
		out.Test = c.Test.Clone()
	}
	return out
}

func commandsEqual(a, b []*Command) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func cloneCommands(cmds []*Command) []*Command {
	if cmds == nil {
		return nil
	}
	out := make([]*Command, len(cmds))
	for i, c := range cmds {
		out[i] = c.Clone()
	}
	return out
}

// Requires returns the capability names listed by require commands, in
// order of appearance, without duplicates.
func (s *Script) Requires() []string {
	var out []string
	seen := make(map[string]bool)
	for _, cmd := range s.Commands {
		if cmd.Name != "require" {
			continue
		}
		for _, arg := range cmd.Arguments {
			for _, capability := range arg.Strings() {
				if !seen[capability] {
					seen[capability] = true
					out = append(out, capability)
				}
			}
		}
	}
	return out
}
