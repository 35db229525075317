package editor

import (
	"context"
	"errors"
	"testing"

	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/document"
	"github.com/migadu/sieveedit/pkg/metrics"
	"github.com/migadu/sieveedit/script"
	"github.com/migadu/sieveedit/store"
	"github.com/migadu/sieveedit/testutils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workScript = `require "fileinto";

if header :contains "subject" "report" {
    fileinto "Reports";
}
`

func newWorkspace(t *testing.T) (*Workspace, *testutils.MemoryStore) {
	t.Helper()
	s := testutils.NewMemoryStore(map[string]string{
		"work":     workScript,
		"vacation": "require \"vacation\";\nvacation \"away\";\n",
		"spam":     "discard;\n",
	}, "vacation")
	w := New(s, Options{})
	require.NoError(t, w.Refresh(context.Background()))
	return w, s
}

func TestRefreshAndListing(t *testing.T) {
	w, _ := newWorkspace(t)

	assert.Equal(t, []store.ScriptInfo{{Name: "spam"}, {Name: "vacation", Active: true}, {Name: "work"}}, w.Scripts())
	assert.Equal(t, "vacation", w.ActiveScript())
}

func TestRefreshError(t *testing.T) {
	s := testutils.NewMemoryStore(nil, "")
	boom := errors.New("boom")
	s.SetError("list", boom)
	w := New(s, Options{})
	assert.ErrorIs(t, w.Refresh(context.Background()), boom)
}

func TestFindScripts(t *testing.T) {
	w, _ := newWorkspace(t)

	matches := w.FindScripts("vac")
	require.Len(t, matches, 1)
	assert.Equal(t, "vacation", matches[0].Name)
	assert.Len(t, w.FindScripts(""), 3)
	assert.Empty(t, w.FindScripts("zzz"))
	assert.Equal(t, "work", w.Suggest("wrk"))
}

func TestSuggestTransposedLetters(t *testing.T) {
	w, _ := newWorkspace(t)

	assert.Equal(t, "work", w.Suggest("wokr"))
	assert.Equal(t, "spam", w.Suggest("SPMA"))
	assert.Equal(t, "vacation", w.Suggest("vacatoin"))
	assert.Empty(t, w.Suggest("zzzzzz"))
	assert.Empty(t, w.Suggest(""))
}

func TestOpenAndEdit(t *testing.T) {
	w, _ := newWorkspace(t)
	ctx := context.Background()

	snap, err := w.Open(ctx, "work")
	require.NoError(t, err)
	assert.False(t, snap.Dirty)
	assert.True(t, snap.Stored)
	assert.Equal(t, workScript, snap.Source)
	assert.Equal(t, []string{"fileinto"}, snap.Requires)
	require.Len(t, snap.Conditions, 1)

	path := snap.Conditions[0].Path
	snap, err = w.Edit("work", "negate", func(d *document.Document) error {
		return d.Negate(path)
	})
	require.NoError(t, err)
	assert.True(t, snap.Dirty)
	assert.Contains(t, snap.Source, `if not header :contains "subject" "report" {`)

	// Reopening returns the edited document.
	snap, err = w.Open(ctx, "work")
	require.NoError(t, err)
	assert.True(t, snap.Dirty)

	_, err = w.Open(ctx, "missing")
	assert.ErrorIs(t, err, consts.ErrScriptNotFound)
}

func TestEditFailureKeepsDocument(t *testing.T) {
	w, _ := newWorkspace(t)
	ctx := context.Background()
	before, err := w.Open(ctx, "work")
	require.NoError(t, err)
	path := before.Conditions[0].Path

	failed := testutil.ToFloat64(metrics.EditsTotal.WithLabelValues("multi", "error"))
	_, err = w.Edit("work", "multi", func(d *document.Document) error {
		if err := d.Negate(path); err != nil {
			return err
		}
		return d.Negate(document.TestPath{Command: []int{42}})
	})
	assert.ErrorIs(t, err, consts.ErrInvalidPath)
	assert.Equal(t, failed+1, testutil.ToFloat64(metrics.EditsTotal.WithLabelValues("multi", "error")))

	after, err := w.Snapshot("work")
	require.NoError(t, err)
	assert.Equal(t, before.Source, after.Source)
	assert.False(t, after.Dirty)

	_, err = w.Edit("spam", "negate", func(*document.Document) error { return nil })
	assert.ErrorIs(t, err, consts.ErrDocumentNotOpen)
}

func TestSave(t *testing.T) {
	w, s := newWorkspace(t)
	ctx := context.Background()

	snap, err := w.Open(ctx, "work")
	require.NoError(t, err)
	path := snap.Conditions[0].Path

	skipped := testutil.ToFloat64(metrics.SavesSkippedTotal)
	saved, err := w.Save(ctx, "work")
	require.NoError(t, err)
	assert.False(t, saved, "unchanged text is not written")
	assert.Equal(t, skipped+1, testutil.ToFloat64(metrics.SavesSkippedTotal))
	assert.Equal(t, 0, s.Calls("put"))

	_, err = w.Edit("work", "negate", func(d *document.Document) error { return d.Negate(path) })
	require.NoError(t, err)
	saved, err = w.Save(ctx, "work")
	require.NoError(t, err)
	assert.True(t, saved)

	content, _ := s.Content("work")
	assert.Contains(t, content, "if not header")
	snap, err = w.Snapshot("work")
	require.NoError(t, err)
	assert.False(t, snap.Dirty)

	// Negating twice restores the stored text: the next save is skipped.
	_, err = w.Edit("work", "negate", func(d *document.Document) error { return d.Negate(path) })
	require.NoError(t, err)
	_, err = w.Edit("work", "negate", func(d *document.Document) error { return d.Negate(path) })
	require.NoError(t, err)
	saved, err = w.Save(ctx, "work")
	require.NoError(t, err)
	assert.False(t, saved)
	assert.Equal(t, 1, s.Calls("put"))
}

func TestSaveCanonicalizesStoredText(t *testing.T) {
	s := testutils.NewMemoryStore(map[string]string{"messy": "if true{keep;}"}, "")
	w := New(s, Options{})
	ctx := context.Background()
	require.NoError(t, w.Refresh(ctx))

	snap, err := w.Open(ctx, "messy")
	require.NoError(t, err)
	assert.False(t, snap.Dirty)

	saved, err := w.Save(ctx, "messy")
	require.NoError(t, err)
	assert.True(t, saved)
	content, _ := s.Content("messy")
	assert.Equal(t, "if true {\n    keep;\n}\n", content)
}

func TestSaveRejectsInvalidScripts(t *testing.T) {
	s := testutils.NewMemoryStore(map[string]string{"work": workScript}, "")
	w := New(s, Options{Extensions: []string{"envelope"}})
	ctx := context.Background()
	require.NoError(t, w.Refresh(ctx))
	_, err := w.Open(ctx, "work")
	require.NoError(t, err)

	_, err = w.Save(ctx, "work")
	var verr *document.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"fileinto"}, verr.Missing)

	w = New(s, Options{MaxScriptSize: 10})
	require.NoError(t, w.Refresh(ctx))
	_, err = w.Open(ctx, "work")
	require.NoError(t, err)
	_, err = w.Save(ctx, "work")
	assert.ErrorIs(t, err, consts.ErrScriptTooLarge)

	_, err = w.Save(ctx, "closed")
	assert.ErrorIs(t, err, consts.ErrDocumentNotOpen)
}

func TestNewScript(t *testing.T) {
	w, s := newWorkspace(t)
	ctx := context.Background()

	snap, err := w.NewScript(ctx, "filters")
	require.NoError(t, err)
	assert.True(t, snap.Dirty)
	assert.False(t, snap.Stored)
	assert.Contains(t, snap.Source, `require ["fileinto"];`)

	_, err = w.NewScript(ctx, "work")
	assert.ErrorIs(t, err, consts.ErrScriptExists)
	_, err = w.NewScript(ctx, "filters")
	assert.ErrorIs(t, err, consts.ErrScriptExists)
	_, err = w.NewScript(ctx, "")
	assert.ErrorIs(t, err, consts.ErrInvalidScriptName)

	assert.ErrorIs(t, w.Activate(ctx, "filters"), consts.ErrNotPermitted)

	saved, err := w.Save(ctx, "filters")
	require.NoError(t, err)
	assert.True(t, saved)
	_, ok := s.Content("filters")
	assert.True(t, ok)
	assert.Len(t, w.Scripts(), 4)

	require.NoError(t, w.Activate(ctx, "filters"))
	assert.Equal(t, "filters", w.ActiveScript())
}

func TestNewScriptFromInvalidText(t *testing.T) {
	w, _ := newWorkspace(t)
	_, err := w.NewScriptFrom(context.Background(), "broken", "if {")
	var perr *script.ParseError
	assert.ErrorAs(t, err, &perr)
	assert.Empty(t, w.OpenDocuments())
}

func TestActivateAndDeactivate(t *testing.T) {
	w, _ := newWorkspace(t)
	ctx := context.Background()

	require.NoError(t, w.Activate(ctx, "work"))
	assert.Equal(t, "work", w.ActiveScript())

	assert.ErrorIs(t, w.Activate(ctx, "missing"), consts.ErrScriptNotFound)

	require.NoError(t, w.Deactivate(ctx))
	assert.Equal(t, "", w.ActiveScript())
}

func TestRename(t *testing.T) {
	w, s := newWorkspace(t)
	ctx := context.Background()
	_, err := w.Open(ctx, "vacation")
	require.NoError(t, err)

	assert.ErrorIs(t, w.Rename(ctx, "vacation", "work"), consts.ErrScriptExists)
	assert.ErrorIs(t, w.Rename(ctx, "missing", "other"), consts.ErrScriptNotFound)
	assert.ErrorIs(t, w.Rename(ctx, "vacation", ""), consts.ErrInvalidScriptName)

	require.NoError(t, w.Rename(ctx, "vacation", "away"))
	assert.Equal(t, "away", w.ActiveScript())
	snap, err := w.Snapshot("away")
	require.NoError(t, err)
	assert.Equal(t, "away", snap.Name)
	assert.True(t, snap.Stored)
	_, err = w.Snapshot("vacation")
	assert.ErrorIs(t, err, consts.ErrDocumentNotOpen)

	// Unsaved documents are renamed locally.
	_, err = w.NewScript(ctx, "draft")
	require.NoError(t, err)
	require.NoError(t, w.Rename(ctx, "draft", "final"))
	_, ok := s.Content("final")
	assert.False(t, ok)
	assert.Equal(t, []string{"away", "final"}, w.OpenDocuments())
}

func TestDelete(t *testing.T) {
	w, s := newWorkspace(t)
	ctx := context.Background()

	assert.ErrorIs(t, w.Delete(ctx, "vacation"), consts.ErrActiveScript)
	assert.Equal(t, 0, s.Calls("delete"), "the active script is refused before reaching the store")
	assert.ErrorIs(t, w.Delete(ctx, "missing"), consts.ErrScriptNotFound)

	_, err := w.Open(ctx, "spam")
	require.NoError(t, err)
	require.NoError(t, w.Delete(ctx, "spam"))
	assert.Len(t, w.Scripts(), 2)
	assert.Empty(t, w.OpenDocuments())

	_, err = w.NewScript(ctx, "draft")
	require.NoError(t, err)
	require.NoError(t, w.Delete(ctx, "draft"))
	assert.Empty(t, w.OpenDocuments())
}

func TestCloseAndCanClose(t *testing.T) {
	w, _ := newWorkspace(t)
	ctx := context.Background()

	_, err := w.Open(ctx, "work")
	require.NoError(t, err)
	_, err = w.Open(ctx, "spam")
	require.NoError(t, err)
	_, err = w.NewScript(ctx, "draft")
	require.NoError(t, err)
	assert.Equal(t, []string{"draft"}, w.CanClose())

	_, err = w.Edit("work", "replace", func(d *document.Document) error { return d.Replace("keep;") })
	require.NoError(t, err)
	assert.Equal(t, []string{"draft", "work"}, w.CanClose())

	assert.Equal(t, metrics.WorkspaceStats{Scripts: 3, Open: 3, Dirty: 2}, w.Stats())

	require.NoError(t, w.Close("draft"))
	require.NoError(t, w.Close("work"))
	assert.Empty(t, w.CanClose())
	assert.ErrorIs(t, w.Close("work"), consts.ErrDocumentNotOpen)
	assert.Equal(t, []string{"spam"}, w.OpenDocuments())
}
