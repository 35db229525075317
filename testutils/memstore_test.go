package testutils

import (
	"context"
	"errors"
	"testing"

	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(map[string]string{"a": "keep;", "b": "discard;"}, "a")

	scripts, err := m.ListScripts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.ScriptInfo{{Name: "a", Active: true}, {Name: "b"}}, scripts)

	assert.ErrorIs(t, m.DeleteScript(ctx, "a"), consts.ErrActiveScript)
	assert.ErrorIs(t, m.RenameScript(ctx, "a", "b"), consts.ErrScriptExists)
	require.NoError(t, m.RenameScript(ctx, "a", "c"))

	script, err := m.GetScript(ctx, "c")
	require.NoError(t, err)
	assert.True(t, script.Active)

	boom := errors.New("boom")
	m.SetError("put", boom)
	assert.ErrorIs(t, m.PutScript(ctx, "d", "keep;"), boom)
	m.SetError("put", nil)
	require.NoError(t, m.PutScript(ctx, "d", "keep;"))
	assert.Equal(t, 2, m.Calls("put"))

	require.NoError(t, m.Close())
	_, err = m.ListScripts(ctx)
	assert.Error(t, err)
}
