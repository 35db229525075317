// Package editor manages the scripts of one account: the script listing with
// its active marker, and the documents open for editing.
//
// All methods are safe for concurrent use. Documents never leave the
// workspace; callers get Snapshots and mutate through Edit.
package editor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/document"
	"github.com/migadu/sieveedit/helpers"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/pkg/metrics"
	"github.com/migadu/sieveedit/store"
)

// Options configures a Workspace.
type Options struct {
	Extensions    []string // enabled for validation; empty enables all supported
	MaxScriptSize int64    // zero disables the check
}

// Snapshot is a read-only view of an open document.
type Snapshot struct {
	Name       string               `json:"name"`
	Source     string               `json:"source"`
	Hash       string               `json:"hash"`
	Dirty      bool                 `json:"dirty"`
	Active     bool                 `json:"active"`
	Stored     bool                 `json:"stored"` // false for scripts never saved
	Requires   []string             `json:"requires,omitempty"`
	Conditions []document.Condition `json:"-"`
}

type Workspace struct {
	mu      sync.Mutex
	store   store.ScriptStore
	opts    Options
	scripts []store.ScriptInfo
	docs    map[string]*document.Document
	stored  map[string]string // name -> hash of the text last read from or written to the store
}

func New(s store.ScriptStore, opts Options) *Workspace {
	return &Workspace{
		store:  s,
		opts:   opts,
		docs:   make(map[string]*document.Document),
		stored: make(map[string]string),
	}
}

// Refresh reloads the script listing from the store.
func (w *Workspace) Refresh(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refreshLocked(ctx)
}

func (w *Workspace) refreshLocked(ctx context.Context) error {
	scripts, err := w.store.ListScripts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scripts: %w", err)
	}
	w.scripts = scripts
	metrics.ScriptsTotal.Set(float64(len(scripts)))
	logger.DebugContext(ctx, "Workspace: refreshed", "scripts", len(scripts), "active", store.ActiveName(scripts))
	return nil
}

// Scripts returns the cached listing, sorted by name.
func (w *Workspace) Scripts() []store.ScriptInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]store.ScriptInfo, len(w.scripts))
	copy(out, w.scripts)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveScript returns the name of the active script, or "".
func (w *Workspace) ActiveScript() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return store.ActiveName(w.scripts)
}

// FindScripts returns the scripts whose names fuzzily match query, best
// match first. An empty query matches everything.
func (w *Workspace) FindScripts(query string) []store.ScriptInfo {
	scripts := w.Scripts()
	if query == "" {
		return scripts
	}
	names := make([]string, len(scripts))
	byName := make(map[string]store.ScriptInfo, len(scripts))
	for i, s := range scripts {
		names[i] = s.Name
		byName[s.Name] = s
	}
	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Stable(ranks)
	out := make([]store.ScriptInfo, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, byName[r.Target])
	}
	return out
}

// Suggest returns the known script name closest to name, or "". Names
// containing the letters of name in order win; otherwise the name within a
// small edit distance is chosen, which catches transposed letters.
func (w *Workspace) Suggest(name string) string {
	if name == "" {
		return ""
	}
	if matches := w.FindScripts(name); len(matches) > 0 {
		return matches[0].Name
	}

	limit := max(2, len(name)/3)
	best, bestDistance := "", limit+1
	lower := strings.ToLower(name)
	for _, s := range w.Scripts() {
		if d := fuzzy.LevenshteinDistance(lower, strings.ToLower(s.Name)); d < bestDistance {
			best, bestDistance = s.Name, d
		}
	}
	return best
}

func (w *Workspace) known(name string) bool {
	for _, s := range w.scripts {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (w *Workspace) snapshotLocked(d *document.Document) Snapshot {
	src := d.Source()
	_, stored := w.stored[d.Name()]
	return Snapshot{
		Name:       d.Name(),
		Source:     src,
		Hash:       helpers.HashContent([]byte(src)),
		Dirty:      d.Dirty(),
		Active:     store.ActiveName(w.scripts) == d.Name(),
		Stored:     stored,
		Requires:   d.RequiredExtensions(),
		Conditions: d.Conditions(),
	}
}

// Open loads a script into a document. An already open document is returned
// as is, unsaved changes included.
func (w *Workspace) Open(ctx context.Context, name string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if d, ok := w.docs[name]; ok {
		return w.snapshotLocked(d), nil
	}
	s, err := w.store.GetScript(ctx, name)
	if err != nil {
		return Snapshot{}, err
	}
	d, err := document.New(name, s.Content)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	w.docs[name] = d
	w.stored[name] = helpers.HashContent([]byte(s.Content))
	logger.InfoContext(ctx, "Workspace: opened", "name", name, "bytes", len(s.Content))
	return w.snapshotLocked(d), nil
}

// Snapshot returns the state of an open document.
func (w *Workspace) Snapshot(name string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.docs[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", consts.ErrDocumentNotOpen, name)
	}
	return w.snapshotLocked(d), nil
}

// NewScript opens an unsaved document holding the default template.
func (w *Workspace) NewScript(ctx context.Context, name string) (Snapshot, error) {
	return w.NewScriptFrom(ctx, name, consts.DefaultScriptTemplate)
}

// NewScriptFrom opens an unsaved document holding text.
func (w *Workspace) NewScriptFrom(ctx context.Context, name, text string) (Snapshot, error) {
	if err := store.ValidateName(name); err != nil {
		return Snapshot{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, open := w.docs[name]; open || w.known(name) {
		return Snapshot{}, fmt.Errorf("%w: %s", consts.ErrScriptExists, name)
	}
	parsed, err := document.New(name, text)
	if err != nil {
		return Snapshot{}, err
	}
	d := document.FromScript(name, parsed.Script())
	w.docs[name] = d
	logger.InfoContext(ctx, "Workspace: new script", "name", name)
	return w.snapshotLocked(d), nil
}

// Edit applies fn to a copy of an open document and keeps the copy only if
// fn succeeds. operation labels the edit in metrics.
func (w *Workspace) Edit(name, operation string, fn func(*document.Document) error) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.docs[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", consts.ErrDocumentNotOpen, name)
	}
	c := d.Clone()
	if err := fn(c); err != nil {
		metrics.EditsTotal.WithLabelValues(operation, "error").Inc()
		return Snapshot{}, err
	}
	w.docs[name] = c
	metrics.EditsTotal.WithLabelValues(operation, "success").Inc()
	return w.snapshotLocked(c), nil
}

// Save validates and stores an open document. Text identical to what the
// store already holds is not written again; saved reports whether a write
// happened.
func (w *Workspace) Save(ctx context.Context, name string) (saved bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	d, ok := w.docs[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", consts.ErrDocumentNotOpen, name)
	}
	src := d.Source()
	if w.opts.MaxScriptSize > 0 && int64(len(src)) > w.opts.MaxScriptSize {
		return false, fmt.Errorf("%w: %d bytes exceeds %d", consts.ErrScriptTooLarge, len(src), w.opts.MaxScriptSize)
	}
	if err := d.Validate(w.opts.Extensions); err != nil {
		return false, err
	}

	hash := helpers.HashContent([]byte(src))
	if stored, ok := w.stored[name]; ok && stored == hash {
		d.MarkSaved()
		metrics.SavesSkippedTotal.Inc()
		logger.DebugContext(ctx, "Workspace: save skipped, content unchanged", "name", name)
		return false, nil
	}

	if err := w.store.PutScript(ctx, name, src); err != nil {
		return false, fmt.Errorf("failed to store %s: %w", name, err)
	}
	w.stored[name] = hash
	d.MarkSaved()
	logger.InfoContext(ctx, "Workspace: saved", "name", name, "bytes", len(src))

	if !w.known(name) {
		if err := w.refreshLocked(ctx); err != nil {
			logger.WarnContext(ctx, "Workspace: refresh after save failed", "name", name, "error", err)
		}
	}
	return true, nil
}

// Activate makes name the active script. Unsaved documents cannot be
// activated.
func (w *Workspace) Activate(ctx context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if d, open := w.docs[name]; open && !w.known(name) && d.Dirty() {
		return fmt.Errorf("%w: %s has never been saved", consts.ErrNotPermitted, name)
	}
	if err := w.store.SetActive(ctx, name); err != nil {
		return fmt.Errorf("failed to activate %s: %w", name, err)
	}
	logger.InfoContext(ctx, "Workspace: activated", "name", name)
	return w.refreshLocked(ctx)
}

// Deactivate leaves no script active.
func (w *Workspace) Deactivate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.store.SetActive(ctx, ""); err != nil {
		return fmt.Errorf("failed to deactivate scripts: %w", err)
	}
	logger.InfoContext(ctx, "Workspace: deactivated all scripts")
	return w.refreshLocked(ctx)
}

// Rename renames a script in the store and any open document with it. A
// document that was never saved is renamed locally only.
func (w *Workspace) Rename(ctx context.Context, oldName, newName string) error {
	if err := store.ValidateName(newName); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, open := w.docs[newName]; open || w.known(newName) {
		return fmt.Errorf("%w: %s", consts.ErrScriptExists, newName)
	}
	d, open := w.docs[oldName]
	if !w.known(oldName) {
		if !open {
			return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, oldName)
		}
	} else if err := w.store.RenameScript(ctx, oldName, newName); err != nil {
		return fmt.Errorf("failed to rename %s: %w", oldName, err)
	}

	if open {
		delete(w.docs, oldName)
		d.SetName(newName)
		w.docs[newName] = d
	}
	if hash, ok := w.stored[oldName]; ok {
		delete(w.stored, oldName)
		w.stored[newName] = hash
	}
	logger.InfoContext(ctx, "Workspace: renamed", "from", oldName, "to", newName)
	if !w.known(oldName) {
		return nil
	}
	return w.refreshLocked(ctx)
}

// Delete removes a script from the store and closes its document. The
// active script cannot be deleted.
func (w *Workspace) Delete(ctx context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if store.ActiveName(w.scripts) == name {
		return fmt.Errorf("%w: %s", consts.ErrActiveScript, name)
	}
	if w.known(name) {
		if err := w.store.DeleteScript(ctx, name); err != nil {
			return fmt.Errorf("failed to delete %s: %w", name, err)
		}
	} else if _, open := w.docs[name]; !open {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, name)
	}
	delete(w.docs, name)
	delete(w.stored, name)
	logger.InfoContext(ctx, "Workspace: deleted", "name", name)
	if !w.known(name) {
		return nil
	}
	return w.refreshLocked(ctx)
}

// Close discards an open document, unsaved changes included.
func (w *Workspace) Close(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.docs[name]; !ok {
		return fmt.Errorf("%w: %s", consts.ErrDocumentNotOpen, name)
	}
	delete(w.docs, name)
	return nil
}

// CanClose returns the names of documents with unsaved changes, sorted.
// The workspace can be closed without losing work when it is empty.
func (w *Workspace) CanClose() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var dirty []string
	for name, d := range w.docs {
		if d.Dirty() {
			dirty = append(dirty, name)
		}
	}
	sort.Strings(dirty)
	return dirty
}

// OpenDocuments returns the names of open documents, sorted.
func (w *Workspace) OpenDocuments() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.docs))
	for name := range w.docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats implements metrics.StatsProvider.
func (w *Workspace) Stats() metrics.WorkspaceStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	stats := metrics.WorkspaceStats{Scripts: len(w.scripts), Open: len(w.docs)}
	for _, d := range w.docs {
		if d.Dirty() {
			stats.Dirty++
		}
	}
	return stats
}
