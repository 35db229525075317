package script

import (
	"strconv"
	"strings"
)

const indentUnit = "    "

// Render returns the canonical text of s. Equal scripts always render to
// identical text.
func Render(s *Script) string {
	var b strings.Builder
	if s != nil {
		writeCommands(&b, s.Commands, 0)
	}
	return b.String()
}

// RenderTest returns the canonical text of a single test.
func RenderTest(t Test) string {
	var b strings.Builder
	writeTest(&b, t)
	return b.String()
}

// continuesChain reports whether cmd attaches to the closing brace of the
// preceding if/elsif block.
func continuesChain(prev, cmd *Command) bool {
	return prev != nil && prev.HasBlock && (cmd.Name == "elsif" || cmd.Name == "else")
}

func writeCommands(b *strings.Builder, cmds []*Command, depth int) {
	indent := strings.Repeat(indentUnit, depth)
	var prev *Command
	for i, cmd := range cmds {
		if continuesChain(prev, cmd) {
			b.WriteByte(' ')
		} else {
			if i > 0 {
				b.WriteByte('\n')
				// Blank line between top-level statements that carry a block.
				if depth == 0 && (prev.HasBlock || cmd.HasBlock) {
					b.WriteByte('\n')
				}
			}
			b.WriteString(indent)
		}
		writeCommand(b, cmd, depth)
		prev = cmd
	}
	if len(cmds) > 0 {
		b.WriteByte('\n')
	}
}

func writeCommand(b *strings.Builder, cmd *Command, depth int) {
	b.WriteString(cmd.Name)
	for _, arg := range cmd.Arguments {
		b.WriteByte(' ')
		writeArgument(b, arg)
	}
	if cmd.Test != nil {
		b.WriteByte(' ')
		writeTest(b, cmd.Test)
	}
	if !cmd.HasBlock {
		b.WriteByte(';')
		return
	}
	b.WriteString(" {\n")
	writeCommands(b, cmd.Block, depth+1)
	b.WriteString(strings.Repeat(indentUnit, depth))
	b.WriteByte('}')
}

func writeTest(b *strings.Builder, t Test) {
	if t.Inverted() {
		b.WriteString("not ")
	}
	switch t := t.(type) {
	case *SimpleTest:
		b.WriteString(t.name)
		for _, arg := range t.params {
			b.WriteByte(' ')
			writeArgument(b, arg)
		}
	case *CompositeTest:
		b.WriteString(t.kind.String())
		b.WriteByte('(')
		for i, child := range t.children {
			if i > 0 {
				b.WriteString(", ")
			}
			writeTest(b, child)
		}
		b.WriteByte(')')
	default:
		panic("script: unknown test type")
	}
}

func writeArgument(b *strings.Builder, a Argument) {
	switch a.Kind {
	case StringArg:
		writeString(b, a.Str)
	case StringListArg:
		b.WriteByte('[')
		for i, s := range a.List {
			if i > 0 {
				b.WriteString(", ")
			}
			writeString(b, s)
		}
		b.WriteByte(']')
	case NumberArg:
		b.WriteString(strconv.FormatUint(a.Num, 10))
		if a.Suffix != 0 {
			b.WriteByte(a.Suffix)
		}
	case TagArg:
		b.WriteByte(':')
		b.WriteString(a.Str)
	}
}

// writeString uses the text: form for newline-terminated strings without
// carriage returns, which the lexer reads back unchanged; everything else is
// quoted.
func writeString(b *strings.Builder, s string) {
	if strings.HasSuffix(s, "\n") && !strings.Contains(s, "\r") {
		b.WriteString("text:\n")
		for _, line := range strings.SplitAfter(s, "\n") {
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, ".") {
				b.WriteByte('.')
			}
			b.WriteString(line)
		}
		b.WriteString(".\n")
		return
	}
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
}
