// Package testutils provides helpers shared by the test suites.
//
// Key components:
//   - MemoryStore: an in-memory store.ScriptStore with injectable failures
//   - SetupTestPostgres: locates a PostgreSQL test database or skips
//
// Example usage:
//
//	func TestMyFunction(t *testing.T) {
//		s := testutils.NewMemoryStore(map[string]string{"work": "keep;"}, "work")
//		// Use s as a store.ScriptStore...
//	}
package testutils
