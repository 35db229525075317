package script

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestValidation(t *testing.T) {
	tests := []struct {
		name    string
		test    string
		params  []Argument
		wantErr bool
	}{
		{name: "plain", test: "exists", params: []Argument{Str("X-Spam-Flag")}},
		{name: "upper case name is normalized", test: "HEADER", params: []Argument{Tag(":is"), Str("from"), Str("a")}},
		{name: "empty name", test: "", wantErr: true},
		{name: "not an identifier", test: "head er", wantErr: true},
		{name: "reserved not", test: "not", wantErr: true},
		{name: "reserved allof", test: "allof", wantErr: true},
		{name: "empty string list", test: "exists", params: []Argument{List()}, wantErr: true},
		{name: "bad tag", test: "header", params: []Argument{{Kind: TagArg, Str: "1x"}}, wantErr: true},
		{name: "bad suffix", test: "size", params: []Argument{Tag("over"), {Kind: NumberArg, Num: 1, Suffix: 'T'}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTest(tt.test, tt.params...)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidArgument))
				var argErr *ArgumentError
				assert.True(t, errors.As(err, &argErr))
				return
			}
			require.NoError(t, err)
			assert.False(t, got.Inverted())
		})
	}
}

func TestNewCompositeValidation(t *testing.T) {
	_, err := NewComposite(AllOf, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewComposite(AnyOf, []Test{MustTest("true"), nil})
	require.ErrorIs(t, err, ErrInvalidArgument)

	var nilTest *SimpleTest
	_, err = NewComposite(AnyOf, []Test{nilTest})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewComposite(Combinator(7), []Test{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	empty, err := NewComposite(AnyOf, []Test{})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, "anyof", empty.Name())
}

func TestCompositeOwnsChildren(t *testing.T) {
	children := []Test{MustTest("exists", Str("a")), MustTest("exists", Str("b"))}
	c, err := NewComposite(AllOf, children)
	require.NoError(t, err)

	children[0] = MustTest("false")
	assert.Equal(t, "exists", c.Child(0).Name())

	got := c.Children()
	got[1] = MustTest("true")
	assert.Equal(t, "exists", c.Child(1).Name())
}

func TestParametersAreCopied(t *testing.T) {
	list := []string{"a", "b"}
	test := MustTest("exists", List(list...))
	list[0] = "changed"

	params := test.Parameters()
	params[0].List[1] = "changed"
	assert.Equal(t, []string{"a", "b"}, test.Parameters()[0].List)
}

func TestTestEquality(t *testing.T) {
	a := MustTest("header", Tag("contains"), Str("subject"), Str("sale"))
	b := MustTest("header", Tag(":CONTAINS"), Str("subject"), Str("sale"))
	c := MustTest("header", Str("subject"), Tag("contains"), Str("sale"))

	assert.True(t, a.Equal(b), "tags are case-insensitive")
	assert.False(t, a.Equal(c), "parameter order is significant")
	assert.False(t, a.Equal(a.Invert()), "inversion flag is significant")
	assert.False(t, a.Equal(MustAllOf(a)))

	x := MustAllOf(a, MustAnyOf(b))
	assert.True(t, x.Equal(x.Clone()))
	assert.False(t, x.Equal(MustAnyOf(a, MustAnyOf(b))))
	assert.False(t, x.Equal(MustAllOf(a)))
	assert.True(t, EqualTests(nil, nil))
	assert.False(t, EqualTests(a, nil))
}

func TestArgumentScaled(t *testing.T) {
	n, ok := Num(100, 'k').Scaled()
	require.True(t, ok)
	assert.Equal(t, uint64(102400), n)

	_, ok = Num(1<<40, 'G').Scaled()
	assert.False(t, ok)

	_, ok = Str("1").Scaled()
	assert.False(t, ok)
}
