package script

import (
	"fmt"
	"strings"
)

// maxNesting bounds block and test nesting so hostile input cannot exhaust
// the stack.
const maxNesting = 256

// arity describes the positional (untagged) arguments a known test takes.
type arity struct {
	positional int
	number     bool     // positional argument must be a number
	oneOfTags  []string // one of these tags is required
}

var knownTests = map[string]arity{
	"address":  {positional: 2},
	"envelope": {positional: 2},
	"header":   {positional: 2},
	"string":   {positional: 2},
	"exists":   {positional: 1},
	"size":     {positional: 1, number: true, oneOfTags: []string{"over", "under"}},
	"true":     {},
	"false":    {},
}

// taggedValue lists tags that consume the following argument.
var taggedValue = map[string]ArgumentKind{
	"comparator": StringArg,
	"count":      StringArg,
	"value":      StringArg,
	"index":      NumberArg,
}

// Parse parses a complete script.
func Parse(text string) (*Script, error) {
	tokens, _, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	return ParseTokens(tokens)
}

// ParseTest parses a single test expression such as
// `not header :is "from" "a@example.com"`.
func ParseTest(text string) (Test, error) {
	tokens, _, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	p := newParser(tokens)
	t, err := p.parseTest(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != EOF {
		return nil, p.unexpected(tok, "end of test")
	}
	return t, nil
}

// ParseTokens parses a token stream as produced by Tokenize. A missing
// trailing EOF token is tolerated.
func ParseTokens(tokens []Token) (*Script, error) {
	p := newParser(tokens)
	cmds, err := p.parseCommands(false, 0)
	if err != nil {
		return nil, err
	}
	return &Script{Commands: cmds}, nil
}

type parser struct {
	tokens  []Token
	pos     int
	prevEnd Position
}

func newParser(tokens []Token) *parser {
	if n := len(tokens); n == 0 || tokens[n-1].Kind != EOF {
		var end Position
		if n > 0 {
			end = tokens[n-1].End
		} else {
			end = Position{Line: 1, Column: 1}
		}
		tokens = append(tokens[:n:n], Token{Kind: EOF, Pos: end, End: end})
	}
	return &parser{tokens: tokens, prevEnd: tokens[0].Pos}
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != EOF {
		p.pos++
	}
	p.prevEnd = tok.End
	return tok
}

func (p *parser) expect(kind TokenKind, what string) (Token, error) {
	tok := p.peek()
	if tok.Kind != kind {
		return Token{}, p.unexpected(tok, what)
	}
	return p.next(), nil
}

// unexpected reports tok where something else was expected.
func (p *parser) unexpected(tok Token, expected string) error {
	return &ParseError{Pos: tok.Pos, Expected: expected, Found: tok.describe()}
}

// missing reports an argument that should have followed the last consumed
// token; the position is immediately after that token.
func (p *parser) missing(expected string) error {
	return &ParseError{Pos: p.prevEnd, Expected: expected, Found: p.peek().describe()}
}

func (p *parser) parseCommands(nested bool, depth int) ([]*Command, error) {
	if depth > maxNesting {
		return nil, p.unexpected(p.peek(), "shallower block nesting")
	}
	cmds := []*Command{}
	for {
		tok := p.peek()
		switch tok.Kind {
		case EOF:
			if nested {
				return nil, p.unexpected(tok, `"}"`)
			}
			return cmds, nil
		case RBRACE:
			if nested {
				return cmds, nil
			}
			return nil, p.unexpected(tok, "command")
		case IDENTIFIER:
			cmd, err := p.parseCommand(depth)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, cmd)
		default:
			return nil, p.unexpected(tok, "command")
		}
	}
}

func (p *parser) parseCommand(depth int) (*Command, error) {
	cmd := &Command{Name: strings.ToLower(p.next().Value)}

	args, _, err := p.parseArguments()
	if err != nil {
		return nil, err
	}
	cmd.Arguments = args

	if p.peek().Kind == IDENTIFIER {
		t, err := p.parseTest(depth + 1)
		if err != nil {
			return nil, err
		}
		cmd.Test = t
	}

	switch tok := p.peek(); tok.Kind {
	case SEMICOLON:
		p.next()
	case LBRACE:
		p.next()
		block, err := p.parseCommands(true, depth+1)
		if err != nil {
			return nil, err
		}
		p.next() // closing brace
		cmd.HasBlock = true
		cmd.Block = block
	default:
		return nil, p.unexpected(tok, `";" or "{"`)
	}
	return cmd, nil
}

// parseArguments reads arguments up to the first token that cannot start
// one. It also returns the start position of each argument.
func (p *parser) parseArguments() ([]Argument, []Position, error) {
	var args []Argument
	var at []Position
	for {
		tok := p.peek()
		switch tok.Kind {
		case STRING:
			p.next()
			args = append(args, Str(tok.Value))
		case NUMBER:
			p.next()
			args = append(args, Num(tok.Number, tok.Suffix))
		case TAG:
			p.next()
			args = append(args, Tag(tok.Value))
		case LBRACKET:
			list, err := p.parseStringList()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, list)
		default:
			return args, at, nil
		}
		at = append(at, tok.Pos)
	}
}

func (p *parser) parseStringList() (Argument, error) {
	p.next() // [
	var items []string
	for {
		tok, err := p.expect(STRING, "string")
		if err != nil {
			return Argument{}, err
		}
		items = append(items, tok.Value)
		switch tok := p.peek(); tok.Kind {
		case COMMA:
			p.next()
		case RBRACKET:
			p.next()
			return List(items...), nil
		default:
			return Argument{}, p.unexpected(tok, `"," or "]"`)
		}
	}
}

func (p *parser) parseTest(depth int) (Test, error) {
	if depth > maxNesting {
		return nil, p.unexpected(p.peek(), "shallower test nesting")
	}
	tok := p.peek()
	if tok.Kind != IDENTIFIER {
		return nil, p.unexpected(tok, "test")
	}
	name := strings.ToLower(tok.Value)

	if name == "not" {
		p.next()
		t, err := p.parseTest(depth + 1)
		if err != nil {
			return nil, err
		}
		return Not(t), nil
	}

	if kind, ok := ParseCombinator(name); ok {
		p.next()
		children, err := p.parseTestList(depth)
		if err != nil {
			return nil, err
		}
		return &CompositeTest{kind: kind, children: children}, nil
	}

	p.next()
	args, at, err := p.parseArguments()
	if err != nil {
		return nil, err
	}
	if err := p.checkArguments(name, args, at); err != nil {
		return nil, err
	}
	return &SimpleTest{name: name, params: args}, nil
}

func (p *parser) parseTestList(depth int) ([]Test, error) {
	if _, err := p.expect(LPAREN, `"("`); err != nil {
		return nil, err
	}
	children := []Test{}
	if p.peek().Kind == RPAREN {
		p.next()
		return children, nil
	}
	for {
		t, err := p.parseTest(depth + 1)
		if err != nil {
			return nil, err
		}
		children = append(children, t)
		switch tok := p.peek(); tok.Kind {
		case COMMA:
			p.next()
		case RPAREN:
			p.next()
			return children, nil
		default:
			return nil, p.unexpected(tok, `"," or ")"`)
		}
	}
}

// checkArguments validates the arguments of known tests; unknown extension
// tests are accepted unchanged. at holds the start position of each argument.
// Missing arguments are reported immediately after the last consumed token.
func (p *parser) checkArguments(name string, args []Argument, at []Position) error {
	for i, arg := range args {
		if arg.Kind != TagArg {
			continue
		}
		want, ok := taggedValue[arg.Str]
		if !ok {
			continue
		}
		expected := fmt.Sprintf("%s after :%s", want, arg.Str)
		if i+1 >= len(args) {
			return p.missing(expected)
		}
		if args[i+1].Kind != want {
			return &ParseError{Pos: at[i+1], Expected: expected, Found: args[i+1].Kind.String()}
		}
	}

	spec, ok := knownTests[name]
	if !ok {
		return nil
	}

	positional := 0
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg.Kind == TagArg {
			if _, ok := taggedValue[arg.Str]; ok {
				i++
			}
			continue
		}
		positional++
		if positional > spec.positional {
			return &ParseError{Pos: at[i], Expected: fmt.Sprintf("at most %d argument(s) for %s", spec.positional, name), Found: arg.Kind.String()}
		}
		switch {
		case spec.number && arg.Kind != NumberArg:
			return &ParseError{Pos: at[i], Expected: "number for " + name, Found: arg.Kind.String()}
		case !spec.number && arg.Kind == NumberArg:
			return &ParseError{Pos: at[i], Expected: "string or string list for " + name, Found: arg.Kind.String()}
		}
	}

	if positional < spec.positional {
		return p.missing(fmt.Sprintf("%d more argument(s) for %s", spec.positional-positional, name))
	}

	if len(spec.oneOfTags) > 0 && !hasAnyTag(args, spec.oneOfTags) {
		return p.missing(fmt.Sprintf(":%s for %s", strings.Join(spec.oneOfTags, " or :"), name))
	}
	return nil
}

func hasAnyTag(args []Argument, tags []string) bool {
	for _, arg := range args {
		for _, tag := range tags {
			if arg.IsTag(tag) {
				return true
			}
		}
	}
	return false
}
