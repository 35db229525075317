package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTests() map[string]Test {
	sale := MustTest("header", Tag("contains"), Str("subject"), Str("sale"))
	offer := MustTest("header", Tag("contains"), Str("subject"), Str("offer"))
	spam := MustTest("exists", Str("X-Spam-Flag"))
	big := MustTest("size", Tag("over"), Num(100, 'K'))

	return map[string]Test{
		"simple":           sale,
		"inverted simple":  spam.Invert(),
		"allof":            MustAllOf(sale, offer),
		"anyof":            MustAnyOf(sale, spam.Invert()),
		"empty allof":      MustAllOf(),
		"empty anyof":      MustAnyOf(),
		"negated allof":    Not(MustAllOf(sale, big)),
		"nested":           MustAllOf(MustAnyOf(sale, offer), Not(MustAnyOf(spam, MustAllOf(big))), MustTest("true")),
		"deep single path": MustAnyOf(MustAllOf(MustAnyOf(MustAllOf(spam.Invert())))),
	}
}

func TestDoubleInversionIsIdentity(t *testing.T) {
	for name, test := range sampleTests() {
		t.Run(name, func(t *testing.T) {
			twice := Invert(Invert(test))
			assert.True(t, twice.Equal(test), "got %s, want %s", twice, test)
		})
	}
}

func TestInversionDoesNotMutate(t *testing.T) {
	for name, test := range sampleTests() {
		t.Run(name, func(t *testing.T) {
			before := RenderTest(test)
			_ = Invert(test)
			assert.Equal(t, before, RenderTest(test))
		})
	}
}

func TestInvertCompositeAppliesDeMorgan(t *testing.T) {
	for name, test := range sampleTests() {
		c, ok := test.(*CompositeTest)
		if !ok {
			continue
		}
		t.Run(name, func(t *testing.T) {
			got, ok := Invert(c).(*CompositeTest)
			require.True(t, ok)
			assert.Equal(t, c.Combinator().Dual(), got.Combinator())
			assert.Equal(t, c.Inverted(), got.Inverted())
			require.Equal(t, c.Len(), got.Len())
			for i, child := range c.Children() {
				assert.True(t, got.Child(i).Equal(Invert(child)))
			}
		})
	}
}

func TestInvertScenario(t *testing.T) {
	// anyof(A, B) inverts to allof(not A, not B).
	a := MustTest("header", Tag("contains"), Str("subject"), Str("sale"))
	b := MustTest("header", Tag("contains"), Str("subject"), Str("offer"))

	got := Invert(MustAnyOf(a, b))

	want := MustAllOf(Not(a), Not(b))
	assert.True(t, got.Equal(want))
	assert.Equal(t, `allof(not header :contains "subject" "sale", not header :contains "subject" "offer")`, got.String())
}

func TestNotKeepsShape(t *testing.T) {
	c := MustAllOf(MustTest("true"), MustTest("false"))
	negated := Not(c).(*CompositeTest)
	assert.True(t, negated.Inverted())
	assert.Equal(t, AllOf, negated.Combinator())
	assert.Equal(t, "not allof(true, false)", negated.String())
	assert.True(t, Not(negated).Equal(c))
}

func TestConstantValue(t *testing.T) {
	spam := MustTest("exists", Str("X-Spam-Flag"))

	tests := []struct {
		name      string
		test      Test
		wantValue bool
		wantKnown bool
	}{
		{"true", MustTest("true"), true, true},
		{"false", MustTest("false"), false, true},
		{"not true", Not(MustTest("true")), false, true},
		{"empty allof is true", MustAllOf(), true, true},
		{"empty anyof is false", MustAnyOf(), false, true},
		{"not empty anyof", Not(MustAnyOf()), true, true},
		{"exists depends on message", spam, false, false},
		{"allof with false child", MustAllOf(spam, MustTest("false")), false, true},
		{"anyof with true child", MustAnyOf(spam, MustTest("true")), true, true},
		{"allof of unknown and true", MustAllOf(spam, MustTest("true")), false, false},
		{"nested constants", MustAnyOf(MustAllOf(), MustTest("false")), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, known := ConstantValue(tt.test)
			assert.Equal(t, tt.wantKnown, known)
			if tt.wantKnown {
				assert.Equal(t, tt.wantValue, value)
				inverted, known := ConstantValue(Invert(tt.test))
				assert.True(t, known)
				assert.Equal(t, !tt.wantValue, inverted, "inversion must negate the constant")
			}
		})
	}
}

func TestSimplify(t *testing.T) {
	spam := MustTest("exists", Str("X-Spam-Flag"))
	big := MustTest("size", Tag("over"), Num(1, 'M'))

	tests := []struct {
		name string
		in   Test
		want string
	}{
		{"constant composite", MustAllOf(MustTest("true"), MustAnyOf()), "false"},
		{"drops identity children", MustAllOf(spam, MustTest("true"), big), `allof(exists "X-Spam-Flag", size :over 1M)`},
		{"collapses single child", MustAnyOf(MustTest("false"), spam), `exists "X-Spam-Flag"`},
		{"keeps negation when collapsing", Not(MustAnyOf(MustTest("false"), spam)), `not exists "X-Spam-Flag"`},
		{"leaves plain tests", spam, `exists "X-Spam-Flag"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Simplify(tt.in).String())
		})
	}
}
