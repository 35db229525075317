package helpers

import (
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
)

// SanitizeScript removes invalid UTF-8 sequences and NULL bytes from script
// text. PostgreSQL text columns reject NULL bytes, and ManageSieve requires
// scripts to be valid UTF-8.
func SanitizeScript(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, '\x00') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		if r == '\x00' {
			continue
		}
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// wellKnownFlags maps the lowercased spelling of system and common keyword
// flags to their canonical form.
var wellKnownFlags = map[string]imap.Flag{}

func init() {
	for _, f := range []imap.Flag{
		imap.FlagSeen, imap.FlagAnswered, imap.FlagFlagged, imap.FlagDeleted, imap.FlagDraft,
		imap.FlagForwarded, imap.FlagMDNSent, imap.FlagJunk, imap.FlagNotJunk,
		imap.FlagPhishing, imap.FlagImportant,
	} {
		wellKnownFlags[strings.ToLower(string(f))] = f
	}
}

// ScriptFlags turns the flag strings collected by imap4flags actions into
// IMAP flags. A single string may hold several space separated flags.
// The sieve runtime lowercases flags, so system and well-known keyword
// flags are restored to their canonical spelling.
//
// Filters out:
// - Flags containing "NIL" or "NULL" (case-insensitive)
// - Empty flags
// - Duplicates, compared case-insensitively
func ScriptFlags(raw []string) []imap.Flag {
	flags := make([]imap.Flag, 0, len(raw))
	seen := make(map[string]bool)
	for _, item := range raw {
		for _, f := range strings.Fields(item) {
			upper := strings.ToUpper(f)
			if strings.Contains(upper, "NIL") || strings.Contains(upper, "NULL") {
				continue
			}
			if seen[upper] {
				continue
			}
			seen[upper] = true
			if canonical, ok := wellKnownFlags[strings.ToLower(f)]; ok {
				flags = append(flags, canonical)
				continue
			}
			flags = append(flags, imap.Flag(f))
		}
	}
	return flags
}
