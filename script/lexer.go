package script

import (
	"strconv"
	"strings"
)

// Lexer produces tokens on demand. After the end of input it keeps returning
// EOF; after an error it keeps returning that error. Reset rewinds it.
type Lexer struct {
	src      string
	offset   int
	line     int
	column   int
	comments []Comment
	err      error
}

// NewLexer returns a lexer positioned at the start of text.
func NewLexer(text string) *Lexer {
	l := &Lexer{src: text}
	l.Reset()
	return l
}

// Reset rewinds the lexer to the start of its input.
func (l *Lexer) Reset() {
	l.offset = 0
	l.line = 1
	l.column = 1
	l.comments = nil
	l.err = nil
}

// Comments returns the comments skipped so far.
func (l *Lexer) Comments() []Comment {
	out := make([]Comment, len(l.comments))
	copy(out, l.comments)
	return out
}

// Tokenize lexes the whole of text. The returned tokens always end with EOF.
func Tokenize(text string) ([]Token, []Comment, error) {
	l := NewLexer(text)
	var tokens []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == EOF {
			return tokens, l.comments, nil
		}
	}
}

// Next returns the next token.
func (l *Lexer) Next() (Token, error) {
	if l.err != nil {
		return Token{}, l.err
	}
	if err := l.skipBlanks(); err != nil {
		l.err = err
		return Token{}, err
	}

	start := l.position()
	if l.offset >= len(l.src) {
		return Token{Kind: EOF, Pos: start, End: start}, nil
	}

	var tok Token
	var err error
	c := l.src[l.offset]
	switch {
	case c == '"':
		tok, err = l.quotedString(start)
	case c == ':':
		tok, err = l.tag(start)
	case isDigit(c):
		tok, err = l.number(start)
	case isIdentStart(c):
		tok, err = l.identifier(start)
	default:
		kind, ok := punctuation[c]
		if !ok {
			err = &LexError{Pos: start, Reason: "unexpected character " + strconv.QuoteRune(l.peekRune())}
			break
		}
		l.advance()
		tok = Token{Kind: kind, Value: string(c), Pos: start}
	}
	if err != nil {
		l.err = err
		return Token{}, err
	}
	tok.End = l.position()
	return tok, nil
}

func (l *Lexer) position() Position {
	return Position{Offset: l.offset, Line: l.line, Column: l.column}
}

func (l *Lexer) advance() {
	c := l.src[l.offset]
	l.offset++
	switch {
	case c == '\n':
		l.line++
		l.column = 1
	case c&0xC0 != 0x80:
		// count characters, not UTF-8 continuation bytes
		l.column++
	}
}

func (l *Lexer) peekRune() rune {
	for _, r := range l.src[l.offset:] {
		return r
	}
	return 0
}

func (l *Lexer) hasPrefix(s string) bool {
	return strings.HasPrefix(l.src[l.offset:], s)
}

func (l *Lexer) skipBlanks() error {
	for l.offset < len(l.src) {
		switch c := l.src[l.offset]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '#':
			start := l.position()
			begin := l.offset
			for l.offset < len(l.src) && l.src[l.offset] != '\n' {
				l.advance()
			}
			l.comments = append(l.comments, Comment{Text: strings.TrimRight(l.src[begin:l.offset], "\r"), Pos: start})
		case l.hasPrefix("/*"):
			start := l.position()
			end := strings.Index(l.src[l.offset+2:], "*/")
			if end < 0 {
				return &LexError{Pos: start, Reason: "unterminated bracketed comment"}
			}
			stop := l.offset + 2 + end + 2
			text := l.src[l.offset:stop]
			for l.offset < stop {
				l.advance()
			}
			l.comments = append(l.comments, Comment{Text: text, Bracketed: true, Pos: start})
		default:
			return nil
		}
	}
	return nil
}

func (l *Lexer) quotedString(start Position) (Token, error) {
	l.advance() // opening quote
	var b strings.Builder
	for {
		if l.offset >= len(l.src) {
			return Token{}, &LexError{Pos: start, Reason: "unterminated quoted string"}
		}
		c := l.src[l.offset]
		switch c {
		case '"':
			l.advance()
			return Token{Kind: STRING, Value: b.String(), Pos: start}, nil
		case '\\':
			l.advance()
			if l.offset >= len(l.src) {
				return Token{}, &LexError{Pos: start, Reason: "unterminated quoted string"}
			}
			c = l.src[l.offset]
		}
		b.WriteByte(c)
		l.advance()
	}
}

func (l *Lexer) tag(start Position) (Token, error) {
	l.advance() // colon
	if l.offset >= len(l.src) || !isIdentStart(l.src[l.offset]) {
		return Token{}, &LexError{Pos: start, Reason: "expected identifier after ':'"}
	}
	return Token{Kind: TAG, Value: l.word(), Pos: start}, nil
}

func (l *Lexer) word() string {
	begin := l.offset
	for l.offset < len(l.src) && isIdentChar(l.src[l.offset]) {
		l.advance()
	}
	return l.src[begin:l.offset]
}

func (l *Lexer) number(start Position) (Token, error) {
	begin := l.offset
	for l.offset < len(l.src) && isDigit(l.src[l.offset]) {
		l.advance()
	}
	digits := l.src[begin:l.offset]

	var suffix byte
	if l.offset < len(l.src) {
		switch c := upper(l.src[l.offset]); c {
		case 'K', 'M', 'G':
			suffix = c
			l.advance()
		}
	}
	if l.offset < len(l.src) && isIdentChar(l.src[l.offset]) {
		return Token{}, &LexError{Pos: start, Reason: "malformed number " + strconv.Quote(l.src[begin:l.offset+1])}
	}

	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return Token{}, &LexError{Pos: start, Reason: "number out of range: " + digits}
	}
	return Token{Kind: NUMBER, Value: digits, Number: n, Suffix: suffix, Pos: start}, nil
}

func (l *Lexer) identifier(start Position) (Token, error) {
	name := l.word()
	if strings.EqualFold(name, "text") && l.offset < len(l.src) && l.src[l.offset] == ':' {
		return l.multiline(start)
	}
	return Token{Kind: IDENTIFIER, Value: name, Pos: start}, nil
}

// multiline reads a text: literal. The lexer is positioned on the colon.
// Line endings are normalized to \n and dot-stuffing is removed.
func (l *Lexer) multiline(start Position) (Token, error) {
	l.advance() // colon
	for l.offset < len(l.src) && (l.src[l.offset] == ' ' || l.src[l.offset] == '\t') {
		l.advance()
	}
	if l.offset < len(l.src) && l.src[l.offset] == '#' {
		pos := l.position()
		begin := l.offset
		for l.offset < len(l.src) && l.src[l.offset] != '\n' {
			l.advance()
		}
		l.comments = append(l.comments, Comment{Text: strings.TrimRight(l.src[begin:l.offset], "\r"), Pos: pos})
	}
	if l.hasPrefix("\r\n") {
		l.advance()
	}
	if l.offset >= len(l.src) || l.src[l.offset] != '\n' {
		return Token{}, &LexError{Pos: l.position(), Reason: "expected line break after text:"}
	}
	l.advance()

	var b strings.Builder
	for {
		if l.offset >= len(l.src) {
			return Token{}, &LexError{Pos: start, Reason: "unterminated multi-line string"}
		}
		begin := l.offset
		for l.offset < len(l.src) && l.src[l.offset] != '\n' {
			l.advance()
		}
		line := strings.TrimSuffix(l.src[begin:l.offset], "\r")
		terminated := l.offset < len(l.src)
		if terminated {
			l.advance()
		}
		if line == "." {
			return Token{Kind: STRING, Value: b.String(), Multiline: true, Pos: start}, nil
		}
		if !terminated {
			return Token{}, &LexError{Pos: start, Reason: "unterminated multi-line string"}
		}
		b.WriteString(strings.TrimPrefix(line, "."))
		b.WriteByte('\n')
	}
}
