package consts

// ContextKey is a custom type for context keys to avoid collisions between packages.
type ContextKey string

const (
	// RequestIDKey carries the id assigned to an API request so that log
	// lines emitted further down the call chain can be correlated.
	RequestIDKey = ContextKey("request_id")
)

// DefaultScriptTemplate is the text of a freshly created script.
const DefaultScriptTemplate = `require ["fileinto"];

if header :contains "subject" "example" {
    fileinto "Example";
}
`
