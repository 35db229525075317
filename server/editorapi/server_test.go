package editorapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/editor"
	"github.com/migadu/sieveedit/pkg/metrics"
	"github.com/migadu/sieveedit/testutils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testKey = "secret"

const workScript = `require "fileinto";

if header :contains "subject" "report" {
    fileinto "Reports";
}
`

const filterScript = `if allof(header :contains "subject" "a", header :contains "from" "b", true) {
    stop;
}
`

func newTestServer(t *testing.T, opts ServerOptions) (http.Handler, *testutils.MemoryStore) {
	t.Helper()
	m := testutils.NewMemoryStore(map[string]string{
		"work":     workScript,
		"filters":  filterScript,
		"vacation": "require \"vacation\";\nvacation \"away\";\n",
		"spam":     "discard;\n",
	}, "vacation")
	ws := editor.New(m, editor.Options{})
	require.NoError(t, ws.Refresh(context.Background()))

	if opts.APIKey == "" {
		opts.APIKey = testKey
	}
	s, err := New(ws, opts)
	require.NoError(t, err)
	return s.Handler(), m
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func stored(t *testing.T, m *testutils.MemoryStore, name string) string {
	t.Helper()
	content, ok := m.Content(name)
	require.True(t, ok, "script %s not in store", name)
	return content
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewValidation(t *testing.T) {
	ws := editor.New(testutils.NewMemoryStore(nil, ""), editor.Options{})

	_, err := New(ws, ServerOptions{})
	assert.Error(t, err, "API key is required")

	_, err = New(nil, ServerOptions{APIKey: testKey})
	assert.Error(t, err)

	_, err = New(ws, ServerOptions{APIKey: testKey, TLS: true})
	assert.Error(t, err)

	_, err = New(ws, ServerOptions{APIKey: testKey, AllowedHosts: []string{"10.0.0.0/99"}})
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	req := httptest.NewRequest("GET", "/api/v1/scripts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/scripts", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/scripts", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Invalid API key", decode(t, rec)["error"])
}

func TestAuthWithBcryptKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)
	h, _ := newTestServer(t, ServerOptions{APIKey: string(hash)})

	rec := do(t, h, "GET", "/api/v1/scripts", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest("GET", "/api/v1/scripts", nil)
	req.Header.Set("Authorization", "Bearer "+string(hash))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAllowedHosts(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{AllowedHosts: []string{"10.0.0.0/8", "127.0.0.1"}})

	// httptest requests come from 192.0.2.1.
	rec := do(t, h, "GET", "/api/v1/scripts", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, "GET", "/api/v1/scripts", "", "X-Real-IP", "10.1.2.3")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "GET", "/api/v1/scripts", "", "X-Forwarded-For", "127.0.0.1, 192.0.2.1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	rec := do(t, h, "GET", "/api/v1/status", "", "X-Request-ID", "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = do(t, h, "GET", "/api/v1/status", "")
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestListScripts(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})
	before := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("/api/v1/scripts", "GET", "200"))

	rec := do(t, h, "GET", "/api/v1/scripts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 4, body["count"])
	assert.Equal(t, "vacation", body["active"])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("/api/v1/scripts", "GET", "200")))

	rec = do(t, h, "GET", "/api/v1/scripts?q=vac&refresh=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
	scripts := body["scripts"].([]any)
	assert.Equal(t, "vacation", scripts[0].(map[string]any)["name"])
	assert.Equal(t, true, scripts[0].(map[string]any)["active"])
}

func TestListScriptsStoreFailure(t *testing.T) {
	h, m := newTestServer(t, ServerOptions{})
	m.SetError("list", assert.AnError)

	rec := do(t, h, "GET", "/api/v1/scripts?refresh=true", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decode(t, rec)["error"])
}

func TestGetScript(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	rec := do(t, h, "GET", "/api/v1/scripts/work", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, workScript, body["source"])
	assert.Equal(t, false, body["dirty"])
	assert.Equal(t, []any{"fileinto"}, body["requires"])
	tag := rec.Header().Get("ETag")
	require.NotEmpty(t, tag)
	assert.Equal(t, tag, body["etag"])

	conds := body["conditions"].([]any)
	require.Len(t, conds, 1)
	cond := conds[0].(map[string]any)
	assert.Equal(t, "1", cond["path"])
	assert.Equal(t, "if", cond["command"])
	assert.Equal(t, `header :contains "subject" "report"`, cond["test"])
	assert.Equal(t, "simple", cond["kind"])

	rec = do(t, h, "GET", "/api/v1/scripts/work", "", "If-None-Match", tag)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestGetScriptNotFound(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	rec := do(t, h, "GET", "/api/v1/scripts/wrk", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "work", decode(t, rec)["suggestion"])

	rec = do(t, h, "GET", "/api/v1/scripts/zzzzzz", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	_, hasSuggestion := decode(t, rec)["suggestion"]
	assert.False(t, hasSuggestion)
}

func TestCreateScript(t *testing.T) {
	h, m := newTestServer(t, ServerOptions{})

	rec := do(t, h, "POST", "/api/v1/scripts", `{"name": "new"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, stored(t, m, "new"), body["source"])
	assert.Equal(t, false, body["dirty"])
	assert.Equal(t, true, body["stored"])

	rec = do(t, h, "POST", "/api/v1/scripts", `{"name": "mine", "content": "keep;", "activate": true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["active"])
	assert.Equal(t, "keep;\n", stored(t, m, "mine"))

	rec = do(t, h, "POST", "/api/v1/scripts", `{"name": "work"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "POST", "/api/v1/scripts", `{"name": "bad", "content": "require \"nosuchext\";"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, "GET", "/api/v1/status", "")
	assert.NotContains(t, decode(t, rec)["open"], "bad")
}

func TestPutScript(t *testing.T) {
	h, m := newTestServer(t, ServerOptions{})

	rec := do(t, h, "PUT", "/api/v1/scripts/fresh", `{"content": "keep;"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get("X-Script-Saved"))
	assert.Equal(t, "keep;\n", stored(t, m, "fresh"))
	puts := m.Calls("put")

	rec = do(t, h, "PUT", "/api/v1/scripts/fresh", `{"content": "keep ;"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "false", rec.Header().Get("X-Script-Saved"))
	assert.Equal(t, puts, m.Calls("put"))

	rec = do(t, h, "PUT", "/api/v1/scripts/work", `{"content": "discard;"}`, "If-Match", `"0000000000000000"`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, workScript, stored(t, m, "work"))

	rec = do(t, h, "GET", "/api/v1/scripts/work", "")
	tag := rec.Header().Get("ETag")
	rec = do(t, h, "PUT", "/api/v1/scripts/work", `{"content": "discard;"}`, "If-Match", tag)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "discard;\n", stored(t, m, "work"))

	rec = do(t, h, "PUT", "/api/v1/scripts/work", `{"content": "if {"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "line 1")

	rec = do(t, h, "PUT", "/api/v1/scripts/missing", `{"content": "keep;"}`, "If-Match", `"x"`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestRequestBodyValidation(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{MaxBodySize: 64})

	rec := do(t, h, "POST", "/api/v1/format", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "Invalid request body")

	rec = do(t, h, "POST", "/api/v1/invert", `{"test": 5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/v1/format", `{"content": "keep;", "extra": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/v1/format", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", decode(t, rec)["error"])

	rec = do(t, h, "POST", "/api/v1/format", `{"content": "`+strings.Repeat("keep;", 20)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(t, h, "POST", "/api/v1/scripts/work/group", `{"path": "1", "kind": "oneof"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/v1/scripts/work/negate", `{"path": "zero"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteScript(t *testing.T) {
	h, m := newTestServer(t, ServerOptions{})

	rec := do(t, h, "DELETE", "/api/v1/scripts/vacation", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 0, m.Calls("delete"))

	rec = do(t, h, "DELETE", "/api/v1/scripts/spam", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "GET", "/api/v1/scripts/spam", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "DELETE", "/api/v1/scripts/spam", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivateAndDeactivate(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	rec := do(t, h, "POST", "/api/v1/scripts/work/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "work", decode(t, rec)["active"])

	rec = do(t, h, "POST", "/api/v1/scripts/nothere/activate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "DELETE", "/api/v1/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", decode(t, rec)["active"])
}

func TestRenameScript(t *testing.T) {
	h, m := newTestServer(t, ServerOptions{})

	rec := do(t, h, "POST", "/api/v1/scripts/spam/rename", `{"new_name": "junk"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "discard;\n", stored(t, m, "junk"))

	rec = do(t, h, "POST", "/api/v1/scripts/junk/rename", `{"new_name": "work"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "POST", "/api/v1/scripts/junk/rename", `{"new_name": "bad\u0001name"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNegateAndSave(t *testing.T) {
	h, m := newTestServer(t, ServerOptions{})

	rec := do(t, h, "POST", "/api/v1/scripts/work/negate", `{"path": "1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["dirty"])
	assert.Contains(t, body["source"], `if not header :contains "subject" "report" {`)
	assert.Equal(t, workScript, stored(t, m, "work"))

	rec = do(t, h, "POST", "/api/v1/scripts/work/close", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "GET", "/api/v1/status", "")
	assert.Equal(t, []any{"work"}, decode(t, rec)["unsaved"])

	rec = do(t, h, "POST", "/api/v1/scripts/work/save", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Script-Saved"))
	assert.Contains(t, stored(t, m, "work"), "if not header")

	rec = do(t, h, "POST", "/api/v1/scripts/work/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["discarded"])

	rec = do(t, h, "POST", "/api/v1/scripts/work/close", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseDiscardsWithForce(t *testing.T) {
	h, m := newTestServer(t, ServerOptions{})

	rec := do(t, h, "POST", "/api/v1/scripts/work/negate", `{"path": "1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "POST", "/api/v1/scripts/work/close?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["discarded"])

	rec = do(t, h, "GET", "/api/v1/scripts/work", "")
	assert.Equal(t, workScript, decode(t, rec)["source"])
	assert.Equal(t, workScript, stored(t, m, "work"))
}

func TestGroupAndUngroup(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	rec := do(t, h, "POST", "/api/v1/scripts/filters/group", `{"path": "0", "kind": "anyof", "indexes": [0, 1]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["source"],
		`if allof(anyof(header :contains "subject" "a", header :contains "from" "b"), true) {`)

	// An anyof cannot be spliced into an allof.
	rec = do(t, h, "POST", "/api/v1/scripts/filters/ungroup", `{"path": "0/0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/v1/scripts/filters/negate", `{"path": "0/0"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["source"],
		`if allof(allof(not header :contains "subject" "a", not header :contains "from" "b"), true) {`)

	rec = do(t, h, "POST", "/api/v1/scripts/filters/ungroup", `{"path": "0/0"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["source"],
		`if allof(not header :contains "subject" "a", not header :contains "from" "b", true) {`)

	rec = do(t, h, "POST", "/api/v1/scripts/filters/group", `{"path": "0", "kind": "allof", "indexes": [5]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimplify(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	rec := do(t, h, "POST", "/api/v1/scripts/filters/simplify", `{"path": "0"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["source"],
		`if allof(header :contains "subject" "a", header :contains "from" "b") {`)
}

func TestConditions(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	rec := do(t, h, "GET", "/api/v1/scripts/filters/conditions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
	cond := body["conditions"].([]any)[0].(map[string]any)
	assert.Equal(t, "allof", cond["kind"])
	assert.EqualValues(t, 3, cond["children"])
	assert.Equal(t, false, cond["inverted"])

	rec = do(t, h, "GET", "/api/v1/scripts/spam/conditions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["count"])
}

func TestFormat(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	rec := do(t, h, "POST", "/api/v1/format", `{"content": "if true{keep;}"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "if true {\n    keep;\n}\n", body["content"])
	assert.Equal(t, true, body["changed"])

	rec = do(t, h, "POST", "/api/v1/format", `{"content": "if true {"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/v1/format", `{"content": "keep; \"unterminated"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvert(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})

	rec := do(t, h, "POST", "/api/v1/invert", `{"test": "allof(header :is \"from\" \"a\", not exists \"x\")"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, `allof(header :is "from" "a", not exists "x")`, body["test"])
	assert.Equal(t, `anyof(not header :is "from" "a", exists "x")`, body["inverted"])

	rec = do(t, h, "POST", "/api/v1/invert", `{"test": "allof("}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulate(t *testing.T) {
	h, _ := newTestServer(t, ServerOptions{})
	message := "From: boss@example.com\r\nTo: me@example.com\r\nSubject: Monthly report\r\n\r\nBody\r\n"
	payload, err := json.Marshal(map[string]any{
		"message":  message,
		"envelope": map[string]string{"from": "boss@example.com", "to": "me@example.com"},
	})
	require.NoError(t, err)

	rec := do(t, h, "POST", "/api/v1/scripts/work/simulate", string(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "fileinto", body["action"])
	assert.Equal(t, "Reports", body["mailbox"])

	payload, err = json.Marshal(map[string]any{
		"content":  "discard;",
		"message":  message,
		"envelope": map[string]string{"from": "boss@example.com", "to": "me@example.com"},
	})
	require.NoError(t, err)
	rec = do(t, h, "POST", "/api/v1/simulate", string(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "discard", decode(t, rec)["action"])

	rec = do(t, h, "POST", "/api/v1/simulate", `{"message": "Subject: x\r\n\r\n"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/api/v1/simulate", `{"content": "if {", "message": "Subject: x\r\n\r\n"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{consts.ErrScriptNotFound, http.StatusNotFound},
		{consts.ErrDocumentNotOpen, http.StatusNotFound},
		{consts.ErrScriptExists, http.StatusConflict},
		{consts.ErrActiveScript, http.StatusConflict},
		{consts.ErrNotPermitted, http.StatusConflict},
		{consts.ErrInvalidPath, http.StatusBadRequest},
		{consts.ErrInvalidScriptName, http.StatusBadRequest},
		{consts.ErrScriptTooLarge, http.StatusRequestEntityTooLarge},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
