package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/helpers"
	"github.com/migadu/sieveedit/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, keepRevisions int) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "scripts.db"), keepRevisions)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetList(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()

	scripts, err := s.ListScripts(ctx)
	require.NoError(t, err)
	assert.Empty(t, scripts)

	require.NoError(t, s.PutScript(ctx, "work", "keep;\n"))
	require.NoError(t, s.PutScript(ctx, "spam", "discard;\n"))

	scripts, err = s.ListScripts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.ScriptInfo{{Name: "spam"}, {Name: "work"}}, scripts)

	script, err := s.GetScript(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "keep;\n", script.Content)
	assert.False(t, script.Active)
	assert.False(t, script.UpdatedAt.IsZero())

	hash, err := s.Hash(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, helpers.HashContent([]byte("keep;\n")), hash)

	_, err = s.GetScript(ctx, "missing")
	assert.ErrorIs(t, err, consts.ErrScriptNotFound)

	assert.ErrorIs(t, s.PutScript(ctx, "", "keep;"), consts.ErrInvalidScriptName)
}

func TestReopenKeepsScripts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripts.db")
	ctx := context.Background()

	s, err := Open(ctx, path, 0)
	require.NoError(t, err)
	require.NoError(t, s.PutScript(ctx, "work", "keep;"))
	require.NoError(t, s.SetActive(ctx, "work"))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, 0)
	require.NoError(t, err)
	defer s.Close()
	scripts, err := s.ListScripts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.ScriptInfo{{Name: "work", Active: true}}, scripts)
}

func TestRevisions(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.PutScript(ctx, "work", "v1"))
	require.NoError(t, s.PutScript(ctx, "work", "v1")) // unchanged, no revision
	require.NoError(t, s.PutScript(ctx, "work", "v2"))
	require.NoError(t, s.PutScript(ctx, "work", "v3"))
	require.NoError(t, s.PutScript(ctx, "work", "v4"))

	revisions, err := s.Revisions(ctx, "work")
	require.NoError(t, err)
	require.Len(t, revisions, 2)
	assert.Equal(t, "v3", revisions[0].Content)
	assert.Equal(t, "v2", revisions[1].Content)
	assert.Equal(t, helpers.HashContent([]byte("v3")), revisions[0].Hash)

	script, err := s.GetScript(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "v4", script.Content)
}

func TestRevisionsDisabled(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.PutScript(ctx, "work", "v1"))
	require.NoError(t, s.PutScript(ctx, "work", "v2"))
	revisions, err := s.Revisions(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, revisions)
}

func TestSetActive(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.PutScript(ctx, "a", "keep;"))
	require.NoError(t, s.PutScript(ctx, "b", "keep;"))

	require.NoError(t, s.SetActive(ctx, "a"))
	require.NoError(t, s.SetActive(ctx, "b"))
	scripts, err := s.ListScripts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.ScriptInfo{{Name: "a"}, {Name: "b", Active: true}}, scripts)

	assert.ErrorIs(t, s.SetActive(ctx, "missing"), consts.ErrScriptNotFound)

	require.NoError(t, s.SetActive(ctx, ""))
	scripts, err = s.ListScripts(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", store.ActiveName(scripts))
}

func TestDeleteScript(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	require.NoError(t, s.PutScript(ctx, "a", "v1"))
	require.NoError(t, s.PutScript(ctx, "a", "v2"))
	require.NoError(t, s.SetActive(ctx, "a"))

	assert.ErrorIs(t, s.DeleteScript(ctx, "a"), consts.ErrActiveScript)
	assert.ErrorIs(t, s.DeleteScript(ctx, "missing"), consts.ErrScriptNotFound)

	require.NoError(t, s.SetActive(ctx, ""))
	require.NoError(t, s.DeleteScript(ctx, "a"))
	_, err := s.GetScript(ctx, "a")
	assert.ErrorIs(t, err, consts.ErrScriptNotFound)
	revisions, err := s.Revisions(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, revisions)
}

func TestRenameScript(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	require.NoError(t, s.PutScript(ctx, "a", "v1"))
	require.NoError(t, s.PutScript(ctx, "a", "v2"))
	require.NoError(t, s.PutScript(ctx, "b", "keep;"))
	require.NoError(t, s.SetActive(ctx, "a"))

	assert.ErrorIs(t, s.RenameScript(ctx, "a", "b"), consts.ErrScriptExists)
	assert.ErrorIs(t, s.RenameScript(ctx, "missing", "c"), consts.ErrScriptNotFound)
	assert.ErrorIs(t, s.RenameScript(ctx, "a", ""), consts.ErrInvalidScriptName)

	require.NoError(t, s.RenameScript(ctx, "a", "c"))
	scripts, err := s.ListScripts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.ScriptInfo{{Name: "b"}, {Name: "c", Active: true}}, scripts)

	revisions, err := s.Revisions(ctx, "c")
	require.NoError(t, err)
	require.Len(t, revisions, 1)
	assert.Equal(t, "v1", revisions[0].Content)
}
