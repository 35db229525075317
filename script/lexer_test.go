package script

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenKinds(tokens []Token) []TokenKind {
	kinds := make([]TokenKind, len(tokens))
	for i, tok := range tokens {
		kinds[i] = tok.Kind
	}
	return kinds
}

func TestTokenKinds(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenKind
	}{
		{
			input:    `require ["fileinto", "vacation"];`,
			expected: []TokenKind{IDENTIFIER, LBRACKET, STRING, COMMA, STRING, RBRACKET, SEMICOLON, EOF},
		},
		{
			input:    `if size :over 100K { discard; }`,
			expected: []TokenKind{IDENTIFIER, IDENTIFIER, TAG, NUMBER, LBRACE, IDENTIFIER, SEMICOLON, RBRACE, EOF},
		},
		{
			input:    `anyof(true, false)`,
			expected: []TokenKind{IDENTIFIER, LPAREN, IDENTIFIER, COMMA, IDENTIFIER, RPAREN, EOF},
		},
		{
			input:    "# only a comment\n/* and\nanother */",
			expected: []TokenKind{EOF},
		},
		{
			input:    "",
			expected: []TokenKind{EOF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tokens, _, err := Tokenize(tt.input)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.expected, tokenKinds(tokens)); diff != "" {
				t.Errorf("token kinds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenValues(t *testing.T) {
	tokens, comments, err := Tokenize("header :Contains \"Sub\\\"ject\\\\\" 10m # trailing\n")
	require.NoError(t, err)
	require.Len(t, tokens, 5)

	assert.Equal(t, "header", tokens[0].Value)
	assert.Equal(t, "Contains", tokens[1].Value)
	assert.Equal(t, `Sub"ject\`, tokens[2].Value)
	assert.Equal(t, uint64(10), tokens[3].Number)
	assert.Equal(t, byte('M'), tokens[3].Suffix)

	require.Len(t, comments, 1)
	assert.Equal(t, "# trailing", comments[0].Text)
	assert.False(t, comments[0].Bracketed)
}

func TestTokenPositions(t *testing.T) {
	tokens, _, err := Tokenize("if true {\n  stop;\n}")
	require.NoError(t, err)

	want := []Position{
		{Offset: 0, Line: 1, Column: 1},
		{Offset: 3, Line: 1, Column: 4},
		{Offset: 8, Line: 1, Column: 9},
		{Offset: 12, Line: 2, Column: 3},
		{Offset: 16, Line: 2, Column: 7},
		{Offset: 18, Line: 3, Column: 1},
		{Offset: 19, Line: 3, Column: 2},
	}
	got := make([]Position, len(tokens))
	for i, tok := range tokens {
		got[i] = tok.Pos
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("positions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Position{Offset: 7, Line: 1, Column: 8}, tokens[1].End)
}

func TestColumnsCountCharacters(t *testing.T) {
	tokens, _, err := Tokenize(`"héllo" x`)
	require.NoError(t, err)
	assert.Equal(t, 9, tokens[1].Pos.Column)
	assert.Equal(t, 9, tokens[1].Pos.Offset)
}

func TestMultilineString(t *testing.T) {
	input := "vacation text: # greeting\r\nHello,\r\n..dotted\r\n\r\n.\r\n;"
	tokens, comments, err := Tokenize(input)
	require.NoError(t, err)
	require.Equal(t, []TokenKind{IDENTIFIER, STRING, SEMICOLON, EOF}, tokenKinds(tokens))

	assert.True(t, tokens[1].Multiline)
	assert.Equal(t, "Hello,\n.dotted\n\n", tokens[1].Value)
	require.Len(t, comments, 1)
	assert.Equal(t, "# greeting", comments[0].Text)
}

func TestMultilineAtEndOfInput(t *testing.T) {
	tokens, _, err := Tokenize("text:\nbody\n.")
	require.NoError(t, err)
	assert.Equal(t, "body\n", tokens[0].Value)
}

func TestLexErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		pos    Position
		reason string
	}{
		{"unterminated string", `exists "abc`, Position{Offset: 7, Line: 1, Column: 8}, "unterminated quoted string"},
		{"escape at end", `"abc\`, Position{Offset: 0, Line: 1, Column: 1}, "unterminated quoted string"},
		{"unterminated multiline", "text:\nabc\n", Position{Offset: 0, Line: 1, Column: 1}, "unterminated multi-line string"},
		{"text without line break", "text: abc\n.\n", Position{Offset: 6, Line: 1, Column: 7}, "expected line break after text:"},
		{"unterminated comment", "stop; /* never", Position{Offset: 6, Line: 1, Column: 7}, "unterminated bracketed comment"},
		{"malformed number", "size :over 10X;", Position{Offset: 11, Line: 1, Column: 12}, `malformed number "10X"`},
		{"suffix followed by letters", "size :over 10KB;", Position{Offset: 11, Line: 1, Column: 12}, `malformed number "10KB"`},
		{"number overflow", "99999999999999999999", Position{Offset: 0, Line: 1, Column: 1}, "number out of range: 99999999999999999999"},
		{"bare colon", "header : \"a\"", Position{Offset: 7, Line: 1, Column: 8}, "expected identifier after ':'"},
		{"unexpected character", "\nif @", Position{Offset: 4, Line: 2, Column: 4}, "unexpected character '@'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Tokenize(tt.input)
			require.Error(t, err)
			var lexErr *LexError
			require.True(t, errors.As(err, &lexErr), "want *LexError, got %T", err)
			assert.Equal(t, tt.pos, lexErr.Pos)
			assert.Equal(t, tt.reason, lexErr.Reason)
		})
	}
}

func TestLexerStopsAtFirstErrorAndResets(t *testing.T) {
	l := NewLexer(`stop @ keep`)
	tok, err := l.Next()
	require.NoError(t, err)
	assert.Equal(t, "stop", tok.Value)

	_, err = l.Next()
	require.Error(t, err)
	_, again := l.Next()
	assert.Equal(t, err, again)

	l.Reset()
	tok, err = l.Next()
	require.NoError(t, err)
	assert.Equal(t, "stop", tok.Value)
}

func TestLexerKeepsReturningEOF(t *testing.T) {
	l := NewLexer("keep")
	_, _ = l.Next()
	for i := 0; i < 3; i++ {
		tok, err := l.Next()
		require.NoError(t, err)
		assert.Equal(t, EOF, tok.Kind)
	}
}
