package managesieve

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/migadu/sieveedit/consts"
)

// maxLiteralSize bounds literals read from the server.
const maxLiteralSize = 16 * 1024 * 1024

type tokenKind int

const (
	tokenAtom tokenKind = iota
	tokenString
	tokenLParen
	tokenRParen
)

type token struct {
	kind  tokenKind
	value string
}

// ResponseError is a NO or BYE response.
type ResponseError struct {
	Status  string // "NO" or "BYE"
	Code    string // response code without arguments, e.g. "NONEXISTENT", "QUOTA/MAXSIZE"
	Message string
}

func (e *ResponseError) Error() string {
	var b strings.Builder
	b.WriteString("managesieve: ")
	b.WriteString(e.Status)
	if e.Code != "" {
		b.WriteString(" (" + e.Code + ")")
	}
	if e.Message != "" {
		b.WriteString(" " + e.Message)
	}
	return b.String()
}

// Unwrap maps well known response codes to the sentinel errors in consts.
// Servers that omit response codes are matched on the message text.
func (e *ResponseError) Unwrap() error {
	code := strings.ToUpper(e.Code)
	switch {
	case code == "NONEXISTENT":
		return consts.ErrScriptNotFound
	case code == "ALREADYEXISTS":
		return consts.ErrScriptExists
	case code == "ACTIVE":
		return consts.ErrActiveScript
	case code == "QUOTA" || strings.HasPrefix(code, "QUOTA/") || code == "MAXSCRIPTSIZE":
		return consts.ErrScriptTooLarge
	case code == "AUTH-TOO-WEAK" || code == "ENCRYPT-NEEDED":
		return consts.ErrNotPermitted
	}
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "no such script"):
		return consts.ErrScriptNotFound
	case strings.Contains(msg, "already exists"):
		return consts.ErrScriptExists
	}
	return nil
}

// response is a parsed OK/NO/BYE line.
type response struct {
	status  string
	code    string
	codeArg string
	message string
}

func (r *response) err() error {
	if r.status == "OK" {
		return nil
	}
	return &ResponseError{Status: r.status, Code: r.code, Message: r.message}
}

// readTokens reads one logical response line. Literals ({n} or {n+} at the
// end of a physical line) are read inline and returned as string tokens.
func readTokens(r *bufio.Reader) ([]token, error) {
	var toks []token
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && line == "" {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		literal, err := scanLine(line, &toks)
		if err != nil {
			return nil, err
		}
		if literal < 0 {
			return toks, nil
		}
		if literal > maxLiteralSize {
			return nil, fmt.Errorf("literal of %d bytes exceeds limit", literal)
		}
		buf := make([]byte, literal)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read literal: %w", err)
		}
		toks = append(toks, token{kind: tokenString, value: string(buf)})
	}
}

// scanLine appends the tokens of line to toks. It returns the size of a
// trailing literal, or -1 when the line is complete.
func scanLine(line string, toks *[]token) (int, error) {
	i := 0
	for i < len(line) {
		switch c := line[i]; {
		case c == ' ':
			i++
		case c == '(':
			*toks = append(*toks, token{kind: tokenLParen})
			i++
		case c == ')':
			*toks = append(*toks, token{kind: tokenRParen})
			i++
		case c == '"':
			var b strings.Builder
			i++
			closed := false
			for i < len(line) {
				ch := line[i]
				if ch == '\\' && i+1 < len(line) {
					b.WriteByte(line[i+1])
					i += 2
					continue
				}
				i++
				if ch == '"' {
					closed = true
					break
				}
				b.WriteByte(ch)
			}
			if !closed {
				return -1, fmt.Errorf("unterminated quoted string in %q", line)
			}
			*toks = append(*toks, token{kind: tokenString, value: b.String()})
		case c == '{':
			end := strings.IndexByte(line[i:], '}')
			if end < 0 || i+end != len(line)-1 {
				return -1, fmt.Errorf("malformed literal in %q", line)
			}
			spec := strings.TrimSuffix(line[i+1:i+end], "+")
			n, err := strconv.Atoi(spec)
			if err != nil || n < 0 {
				return -1, fmt.Errorf("malformed literal size in %q", line)
			}
			return n, nil
		default:
			start := i
			for i < len(line) && line[i] != ' ' && line[i] != '(' && line[i] != ')' && line[i] != '"' {
				i++
			}
			*toks = append(*toks, token{kind: tokenAtom, value: line[start:i]})
		}
	}
	return -1, nil
}

// parseResponse recognizes an OK/NO/BYE line. ok is false for data lines.
func parseResponse(toks []token) (resp *response, ok bool) {
	if len(toks) == 0 || toks[0].kind != tokenAtom {
		return nil, false
	}
	status := strings.ToUpper(toks[0].value)
	if status != "OK" && status != "NO" && status != "BYE" {
		return nil, false
	}
	resp = &response{status: status}
	rest := toks[1:]
	if len(rest) > 0 && rest[0].kind == tokenLParen {
		j := 1
		for ; j < len(rest) && rest[j].kind != tokenRParen; j++ {
			switch {
			case rest[j].kind == tokenAtom && resp.code == "":
				resp.code = strings.ToUpper(rest[j].value)
			case rest[j].kind == tokenString:
				resp.codeArg = rest[j].value
			}
		}
		if j < len(rest) {
			j++
		}
		rest = rest[j:]
	}
	var parts []string
	for _, t := range rest {
		parts = append(parts, t.value)
	}
	resp.message = strings.Join(parts, " ")
	return resp, true
}

// quote renders s as a ManageSieve string: quoted when possible, otherwise
// as a non-synchronizing literal.
func quote(s string) string {
	if len(s) <= 1024 && !strings.ContainsAny(s, "\r\n\x00") {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	}
	return literal(s)
}

func literal(s string) string {
	return fmt.Sprintf("{%d+}\r\n%s", len(s), s)
}
