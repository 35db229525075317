// Package script implements the Sieve (RFC 5228) script model used by the
// editor: a lexer, a recursive-descent parser, a canonical serializer and the
// boolean algebra over test expressions.
//
// # Test expressions
//
// A test is either a simple test (header, address, envelope, size, exists,
// true, false or any extension test) or a composite allof/anyof test that owns
// an ordered list of child tests. The "not" keyword never appears in the tree:
// the parser folds it into the inversion flag of the node it precedes.
//
//	if not anyof(header :contains "subject" "sale",
//	             header :contains "subject" "offer") {
//	    fileinto "Promotions";
//	}
//
// # Inversion
//
// Invert returns the logical negation of a test. Simple tests toggle their
// inversion flag. Composite tests are rewritten with De Morgan's laws: allof
// becomes anyof (and vice versa) and every child is inverted recursively.
//
//	t, _ := script.ParseTest(`allof(exists "X-Spam", size :over 100K)`)
//	fmt.Println(script.Invert(t))
//	// anyof(not exists "X-Spam", not size :over 100K)
//
// # Rendering
//
// Render produces canonical text: the same tree always renders to the same
// bytes regardless of how it was built, and Parse(Render(tree)) yields a tree
// equal to the original.
//
// # Concurrency
//
// Nodes are immutable once constructed and no function in this package keeps
// state between calls, so everything here is safe for concurrent use.
package script
