package script

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree(t *testing.T) {
	s, err := Parse(`require "fileinto";
if anyof(not exists "x-spam", header :is "from" "a") { fileinto "A"; }`)
	require.NoError(t, err)

	want := []Node{
		{Kind: "command", Name: "require", Arguments: []string{`"fileinto"`}},
		{
			Kind: "command",
			Name: "if",
			Test: &Node{
				Kind: "anyof",
				Name: "anyof",
				Children: []Node{
					{Kind: "test", Name: "exists", Inverted: true, Arguments: []string{`"x-spam"`}},
					{Kind: "test", Name: "header", Arguments: []string{":is", `"from"`, `"a"`}},
				},
			},
			Block: []Node{
				{Kind: "command", Name: "fileinto", Arguments: []string{`"A"`}},
			},
		},
	}
	if diff := cmp.Diff(want, Tree(s)); diff != "" {
		t.Errorf("Tree() mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeEmpty(t *testing.T) {
	assert.Nil(t, Tree(nil))
	s, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, Tree(s))
}

func TestTestNodeInvertedComposite(t *testing.T) {
	n := TestNode(Not(MustAllOf(MustTest("true"))))
	assert.Equal(t, "allof", n.Kind)
	assert.True(t, n.Inverted)
	require.Len(t, n.Children, 1)
	assert.Equal(t, "true", n.Children[0].Name)
}
