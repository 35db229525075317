// Package document holds one parsed script for editing. Every edit builds a
// new command tree; trees handed out earlier are never modified.
//
// A Document is not safe for concurrent use. The editor workspace serializes
// access to the documents it owns.
package document

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxcpp/go-sieve"
	"github.com/migadu/sieveedit/helpers"
	"github.com/migadu/sieveedit/pkg/metrics"
	"github.com/migadu/sieveedit/script"
)

// ValidationError reports a script the Sieve interpreter refused to load.
type ValidationError struct {
	Err     error
	Missing []string // required extensions that are not enabled
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("script requires disabled extensions: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("script rejected: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Document is a named script and its command tree.
type Document struct {
	name   string
	script *script.Script
	saved  string
}

// New parses text. The document starts clean.
func New(name, text string) (*Document, error) {
	s, err := parse(text)
	if err != nil {
		return nil, err
	}
	d := &Document{name: name, script: s}
	d.saved = d.Source()
	return d, nil
}

// FromScript wraps an already parsed script. The document starts dirty so
// that it is saved at least once.
func FromScript(name string, s *script.Script) *Document {
	return &Document{name: name, script: s.Clone()}
}

func parse(text string) (*script.Script, error) {
	start := time.Now()
	s, err := script.Parse(text)
	metrics.ParseDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ParseTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ParseTotal.WithLabelValues("success").Inc()
	return s, nil
}

// Clone returns an independent copy, including the saved state.
func (d *Document) Clone() *Document {
	return &Document{name: d.name, script: d.script.Clone(), saved: d.saved}
}

func (d *Document) Name() string { return d.name }

// SetName renames the document without touching its content.
func (d *Document) SetName(name string) { d.name = name }

// Script returns a copy of the current command tree.
func (d *Document) Script() *script.Script {
	return d.script.Clone()
}

// Source renders the current tree in canonical form.
func (d *Document) Source() string {
	metrics.RenderTotal.Inc()
	return script.Render(d.script)
}

// Hash is the BLAKE3 digest of Source.
func (d *Document) Hash() string {
	return helpers.HashContent([]byte(d.Source()))
}

// Replace parses text and replaces the whole tree. On error the document is
// left unchanged.
func (d *Document) Replace(text string) error {
	s, err := parse(text)
	if err != nil {
		return err
	}
	d.script = s
	return nil
}

// Dirty reports whether the rendered text differs from the text at load time
// or at the last MarkSaved.
func (d *Document) Dirty() bool {
	return d.Source() != d.saved
}

// MarkSaved records the current text as persisted.
func (d *Document) MarkSaved() {
	d.saved = d.Source()
}

// RequiredExtensions lists the capabilities named by require commands.
func (d *Document) RequiredExtensions() []string {
	return d.script.Requires()
}

// Validate loads the rendered script with the Sieve interpreter, allowing
// only the given extensions. An empty list enables every supported
// extension.
func (d *Document) Validate(extensions []string) error {
	if len(extensions) == 0 {
		extensions = SupportedExtensions
	}
	if missing := MissingExtensions(d.RequiredExtensions(), extensions); len(missing) > 0 {
		metrics.ValidationsTotal.WithLabelValues("rejected").Inc()
		return &ValidationError{Err: errors.New("extension not enabled"), Missing: missing}
	}

	options := sieve.DefaultOptions()
	options.EnabledExtensions = extensions
	if _, err := sieve.Load(strings.NewReader(d.Source()), options); err != nil {
		metrics.ValidationsTotal.WithLabelValues("rejected").Inc()
		return &ValidationError{Err: err}
	}
	metrics.ValidationsTotal.WithLabelValues("ok").Inc()
	return nil
}
