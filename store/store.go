// Package store defines where scripts live. Implementations are the
// ManageSieve client, a local SQLite workspace and a direct PostgreSQL
// backend.
package store

import (
	"context"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/migadu/sieveedit/consts"
)

// MaxNameLength is the longest accepted script name, in bytes.
const MaxNameLength = 255

// ScriptInfo is one entry of a script listing.
type ScriptInfo struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Script is a stored script with its content.
type Script struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ScriptStore stores the scripts of one account. At most one script is
// active at a time.
type ScriptStore interface {
	ListScripts(ctx context.Context) ([]ScriptInfo, error)
	// GetScript returns consts.ErrScriptNotFound for unknown names.
	GetScript(ctx context.Context, name string) (*Script, error)
	// PutScript creates or replaces a script. Activation is unchanged.
	PutScript(ctx context.Context, name, content string) error
	// SetActive activates name and deactivates every other script. An
	// empty name deactivates all scripts.
	SetActive(ctx context.Context, name string) error
	// DeleteScript returns consts.ErrActiveScript for the active script.
	DeleteScript(ctx context.Context, name string) error
	// RenameScript returns consts.ErrScriptExists when newName is taken.
	RenameScript(ctx context.Context, oldName, newName string) error
	Close() error
}

// ValidateName checks a script name: non-empty UTF-8 without control
// characters, at most MaxNameLength bytes.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", consts.ErrInvalidScriptName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name longer than %d bytes", consts.ErrInvalidScriptName, MaxNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", consts.ErrInvalidScriptName)
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == '\u2028' || r == '\u2029' {
			return fmt.Errorf("%w: name contains control character %U", consts.ErrInvalidScriptName, r)
		}
	}
	return nil
}

// ActiveName returns the name of the active script in scripts, or "".
func ActiveName(scripts []ScriptInfo) string {
	for _, s := range scripts {
		if s.Active {
			return s.Name
		}
	}
	return ""
}
