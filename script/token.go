package script

import (
	"fmt"
	"strconv"
)

// TokenKind is the lexical class of a token.
type TokenKind int

const (
	EOF TokenKind = iota
	IDENTIFIER
	STRING    // quoted string or text: multi-line string
	NUMBER    // digits with an optional K, M or G suffix
	TAG       // :identifier
	LBRACE    // {
	RBRACE    // }
	LPAREN    // (
	RPAREN    // )
	LBRACKET  // [
	RBRACKET  // ]
	SEMICOLON // ;
	COMMA     // ,
)

var tokenNames = [...]string{
	EOF:        "EOF",
	IDENTIFIER: "IDENTIFIER",
	STRING:     "STRING",
	NUMBER:     "NUMBER",
	TAG:        "TAG",
	LBRACE:     "LBRACE",
	RBRACE:     "RBRACE",
	LPAREN:     "LPAREN",
	RPAREN:     "RPAREN",
	LBRACKET:   "LBRACKET",
	RBRACKET:   "RBRACKET",
	SEMICOLON:  "SEMICOLON",
	COMMA:      "COMMA",
}

func (k TokenKind) String() string {
	if int(k) >= 0 && int(k) < len(tokenNames) {
		return tokenNames[k]
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

var punctuation = map[byte]TokenKind{
	'{': LBRACE,
	'}': RBRACE,
	'(': LPAREN,
	')': RPAREN,
	'[': LBRACKET,
	']': RBRACKET,
	';': SEMICOLON,
	',': COMMA,
}

// Token is a lexical unit. Value holds the identifier, the decoded string
// contents, the tag name without colon, or the digits of a number; Number and
// Suffix hold the parsed number.
type Token struct {
	Kind      TokenKind
	Value     string
	Number    uint64
	Suffix    byte
	Multiline bool
	Pos       Position
	End       Position
}

// describe returns a short human readable description for error messages.
func (t Token) describe() string {
	switch t.Kind {
	case EOF:
		return "end of script"
	case IDENTIFIER:
		return fmt.Sprintf("identifier %q", t.Value)
	case STRING:
		v := t.Value
		if len(v) > 24 {
			v = v[:24] + "..."
		}
		return "string " + strconv.Quote(v)
	case NUMBER:
		s := strconv.FormatUint(t.Number, 10)
		if t.Suffix != 0 {
			s += string(t.Suffix)
		}
		return "number " + s
	case TAG:
		return "tag :" + t.Value
	}
	for c, k := range punctuation {
		if k == t.Kind {
			return strconv.Quote(string(c))
		}
	}
	return t.Kind.String()
}

// Comment is a comment removed from the token stream.
type Comment struct {
	Text      string
	Bracketed bool
	Pos       Position
}
