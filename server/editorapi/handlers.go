package editorapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/mux"
	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/document"
	"github.com/migadu/sieveedit/editor"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/script"
	"github.com/migadu/sieveedit/simulate"
	"github.com/migadu/sieveedit/store"
)

// Request/Response types

type CreateScriptRequest struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Activate bool   `json:"activate"`
}

type PutScriptRequest struct {
	Content string `json:"content"`
}

type RenameScriptRequest struct {
	NewName string `json:"new_name"`
}

type PathRequest struct {
	Path string `json:"path"`
}

type GroupRequest struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Indexes []int  `json:"indexes"`
}

type FormatRequest struct {
	Content string `json:"content"`
}

type InvertRequest struct {
	Test string `json:"test"`
}

type SimulateRequest struct {
	Content  string            `json:"content"`
	Message  string            `json:"message"`
	Envelope simulate.Envelope `json:"envelope"`
}

// ConditionView is a test-bearing command as shown to API clients.
type ConditionView struct {
	Path     string `json:"path"`
	Command  string `json:"command"`
	Test     string `json:"test"`
	Kind     string `json:"kind"`
	Inverted bool   `json:"inverted"`
	Children int    `json:"children,omitempty"`
}

// ScriptResponse is an open document.
type ScriptResponse struct {
	editor.Snapshot
	ETag       string          `json:"etag"`
	Conditions []ConditionView `json:"conditions"`
}

func conditionViews(conds []document.Condition) []ConditionView {
	views := make([]ConditionView, 0, len(conds))
	for _, c := range conds {
		v := ConditionView{
			Path:     c.Path.String(),
			Command:  c.Command,
			Test:     script.RenderTest(c.Test),
			Kind:     "simple",
			Inverted: c.Test.Inverted(),
		}
		if comp, ok := c.Test.(*script.CompositeTest); ok {
			v.Kind = comp.Name()
			v.Children = comp.Len()
		}
		views = append(views, v)
	}
	return views
}

func etag(source string) string {
	return fmt.Sprintf(`"%016x"`, xxhash.Sum64String(source))
}

func (s *Server) writeScript(w http.ResponseWriter, status int, snap editor.Snapshot) {
	tag := etag(snap.Source)
	w.Header().Set("ETag", tag)
	s.writeJSON(w, status, ScriptResponse{
		Snapshot:   snap,
		ETag:       tag,
		Conditions: conditionViews(snap.Conditions),
	})
}

// writeFailure maps domain errors to HTTP status codes.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Editor API: Request failed", "name", s.name, "path", r.URL.Path, "error", err)
		s.writeError(w, status, "Internal server error")
		return
	}
	logger.DebugContext(r.Context(), "Editor API: Request rejected", "name", s.name, "path", r.URL.Path, "status", status, "error", err)
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var (
		reqErr   *requestError
		lexErr   *script.LexError
		parseErr *script.ParseError
		valErr   *document.ValidationError
	)
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status
	case errors.As(err, &lexErr), errors.As(err, &parseErr), errors.As(err, &valErr),
		errors.Is(err, script.ErrInvalidArgument),
		errors.Is(err, consts.ErrInvalidPath),
		errors.Is(err, consts.ErrInvalidScriptName):
		return http.StatusBadRequest
	case errors.Is(err, consts.ErrScriptTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, consts.ErrScriptNotFound), errors.Is(err, consts.ErrDocumentNotOpen):
		return http.StatusNotFound
	case errors.Is(err, consts.ErrScriptExists), errors.Is(err, consts.ErrActiveScript), errors.Is(err, consts.ErrNotPermitted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func scriptName(r *http.Request) (string, error) {
	name, err := url.PathUnescape(mux.Vars(r)["name"])
	if err != nil {
		return "", fmt.Errorf("%w: %v", consts.ErrInvalidScriptName, err)
	}
	return name, nil
}

// Handler functions

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.ws.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"scripts":   stats.Scripts,
		"open":      s.ws.OpenDocuments(),
		"unsaved":   s.ws.CanClose(),
		"active":    s.ws.ActiveScript(),
		"can_close": stats.Dirty == 0,
	})
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.ws.Refresh(ctx); err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}

	scripts := s.ws.FindScripts(r.URL.Query().Get("q"))
	if scripts == nil {
		scripts = []store.ScriptInfo{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"scripts": scripts,
		"count":   len(scripts),
		"active":  s.ws.ActiveScript(),
	})
}

func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	var req CreateScriptRequest
	if err := s.decodeBody(r, "create", &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	ctx := r.Context()

	var err error
	if req.Content == "" {
		_, err = s.ws.NewScript(ctx, req.Name)
	} else {
		_, err = s.ws.NewScriptFrom(ctx, req.Name, req.Content)
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if _, err := s.ws.Save(ctx, req.Name); err != nil {
		// Leave no unsaved document behind for a rejected create.
		_ = s.ws.Close(req.Name)
		s.writeFailure(w, r, err)
		return
	}
	if req.Activate {
		if err := s.ws.Activate(ctx, req.Name); err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}

	snap, err := s.ws.Snapshot(req.Name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeScript(w, http.StatusCreated, snap)
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	snap, err := s.ws.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, consts.ErrScriptNotFound) {
			if suggestion := s.ws.Suggest(name); suggestion != "" {
				s.writeJSON(w, http.StatusNotFound, map[string]string{
					"error":      err.Error(),
					"suggestion": suggestion,
				})
				return
			}
		}
		s.writeFailure(w, r, err)
		return
	}

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag(snap.Source) {
		w.Header().Set("ETag", match)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeScript(w, http.StatusOK, snap)
}

// handlePutScript replaces the text of a script and saves it, creating the
// script when it does not exist.
func (s *Server) handlePutScript(w http.ResponseWriter, r *http.Request) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req PutScriptRequest
	if err := s.decodeBody(r, "put", &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	ctx := r.Context()

	created := false
	current, err := s.ws.Open(ctx, name)
	switch {
	case errors.Is(err, consts.ErrScriptNotFound):
		if r.Header.Get("If-Match") != "" {
			s.writeError(w, http.StatusPreconditionFailed, "Script does not exist")
			return
		}
		if _, err := s.ws.NewScriptFrom(ctx, name, req.Content); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		created = true
	case err != nil:
		s.writeFailure(w, r, err)
		return
	default:
		if match := r.Header.Get("If-Match"); match != "" && match != etag(current.Source) {
			s.writeError(w, http.StatusPreconditionFailed, "Script was modified")
			return
		}
		if _, err := s.ws.Edit(name, "replace", func(d *document.Document) error {
			return d.Replace(req.Content)
		}); err != nil {
			s.writeFailure(w, r, err)
			return
		}
	}

	saved, err := s.ws.Save(ctx, name)
	if err != nil {
		if created {
			_ = s.ws.Close(name)
		}
		s.writeFailure(w, r, err)
		return
	}
	snap, err := s.ws.Snapshot(name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("X-Script-Saved", fmt.Sprintf("%t", saved))
	s.writeScript(w, status, snap)
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.ws.Delete(r.Context(), name); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Script deleted",
		"name":    name,
	})
}

func (s *Server) handleSaveScript(w http.ResponseWriter, r *http.Request) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	saved, err := s.ws.Save(r.Context(), name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	snap, err := s.ws.Snapshot(name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("X-Script-Saved", fmt.Sprintf("%t", saved))
	s.writeScript(w, http.StatusOK, snap)
}

// handleCloseScript discards an open document. Unsaved changes are only
// dropped with ?force=true.
func (s *Server) handleCloseScript(w http.ResponseWriter, r *http.Request) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	snap, err := s.ws.Snapshot(name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if snap.Dirty && r.URL.Query().Get("force") != "true" {
		s.writeError(w, http.StatusConflict, "Script has unsaved changes")
		return
	}
	if err := s.ws.Close(name); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Script closed",
		"name":      name,
		"discarded": snap.Dirty,
	})
}

func (s *Server) handleActivateScript(w http.ResponseWriter, r *http.Request) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.ws.Activate(r.Context(), name); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Script activated",
		"active":  s.ws.ActiveScript(),
	})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := s.ws.Deactivate(r.Context()); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Scripts deactivated",
		"active":  s.ws.ActiveScript(),
	})
}

func (s *Server) handleRenameScript(w http.ResponseWriter, r *http.Request) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req RenameScriptRequest
	if err := s.decodeBody(r, "rename", &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.ws.Rename(r.Context(), name, req.NewName); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Script renamed",
		"from":    name,
		"to":      req.NewName,
	})
}

func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	snap, err := s.ws.Open(r.Context(), name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	views := conditionViews(snap.Conditions)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conditions": views,
		"count":      len(views),
	})
}

// editTest opens name if needed and applies fn to the document.
func (s *Server) editTest(w http.ResponseWriter, r *http.Request, operation string, fn func(*document.Document) error) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if _, err := s.ws.Open(r.Context(), name); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	snap, err := s.ws.Edit(name, operation, fn)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "Editor API: Test edited", "name", name, "operation", operation)
	s.writeScript(w, http.StatusOK, snap)
}

func (s *Server) decodePath(w http.ResponseWriter, r *http.Request) (document.TestPath, bool) {
	var req PathRequest
	if err := s.decodeBody(r, "path", &req); err != nil {
		s.writeFailure(w, r, err)
		return document.TestPath{}, false
	}
	path, err := document.ParsePath(req.Path)
	if err != nil {
		s.writeFailure(w, r, err)
		return document.TestPath{}, false
	}
	return path, true
}

func (s *Server) handleNegate(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodePath(w, r)
	if !ok {
		return
	}
	s.editTest(w, r, "negate", func(d *document.Document) error {
		return d.Negate(path)
	})
}

func (s *Server) handleSimplify(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodePath(w, r)
	if !ok {
		return
	}
	s.editTest(w, r, "simplify", func(d *document.Document) error {
		return d.Simplify(path)
	})
}

func (s *Server) handleUngroup(w http.ResponseWriter, r *http.Request) {
	path, ok := s.decodePath(w, r)
	if !ok {
		return
	}
	s.editTest(w, r, "ungroup", func(d *document.Document) error {
		return d.Ungroup(path)
	})
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if err := s.decodeBody(r, "group", &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	path, err := document.ParsePath(req.Path)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	kind, ok := script.ParseCombinator(req.Kind)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown combinator %q", req.Kind))
		return
	}
	s.editTest(w, r, "group", func(d *document.Document) error {
		return d.Group(kind, path, req.Indexes...)
	})
}

func (s *Server) handleSimulateScript(w http.ResponseWriter, r *http.Request) {
	name, err := scriptName(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var req SimulateRequest
	if err := s.decodeBody(r, "simulate", &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	snap, err := s.ws.Open(r.Context(), name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.simulate(w, r, snap.Source, req)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := s.decodeBody(r, "simulate", &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	s.simulate(w, r, req.Content, req)
}

func (s *Server) simulate(w http.ResponseWriter, r *http.Request, text string, req SimulateRequest) {
	msg, err := simulate.ReadMessage(strings.NewReader(req.Message))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid message: %v", err))
		return
	}
	result, err := simulate.Run(r.Context(), text, msg, simulate.Options{
		Extensions: s.extensions,
		Envelope:   req.Envelope,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	var req FormatRequest
	if err := s.decodeBody(r, "format", &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	parsed, err := script.Parse(req.Content)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	formatted := script.Render(parsed)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"content":  formatted,
		"changed":  formatted != req.Content,
		"requires": parsed.Requires(),
	})
}

func (s *Server) handleInvert(w http.ResponseWriter, r *http.Request) {
	var req InvertRequest
	if err := s.decodeBody(r, "invert", &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	t, err := script.ParseTest(req.Test)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"test":     script.RenderTest(t),
		"inverted": script.RenderTest(script.Invert(t)),
	})
}
