package editorapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request body schemas, keyed by the name handlers pass to decodeBody.
var requestSchemas = map[string]string{
	"create": `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string", "minLength": 1, "maxLength": 255},
			"content": {"type": "string"},
			"activate": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
	"put": `{
		"type": "object",
		"required": ["content"],
		"properties": {
			"content": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	"rename": `{
		"type": "object",
		"required": ["new_name"],
		"properties": {
			"new_name": {"type": "string", "minLength": 1, "maxLength": 255}
		},
		"additionalProperties": false
	}`,
	"path": `{
		"type": "object",
		"required": ["path"],
		"properties": {
			"path": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)*(/[0-9]+(\\.[0-9]+)*)?$"}
		},
		"additionalProperties": false
	}`,
	"group": `{
		"type": "object",
		"required": ["path", "kind"],
		"properties": {
			"path": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)*(/[0-9]+(\\.[0-9]+)*)?$"},
			"kind": {"enum": ["allof", "anyof"]},
			"indexes": {"type": "array", "items": {"type": "integer", "minimum": 0}, "uniqueItems": true}
		},
		"additionalProperties": false
	}`,
	"format": `{
		"type": "object",
		"required": ["content"],
		"properties": {
			"content": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	"invert": `{
		"type": "object",
		"required": ["test"],
		"properties": {
			"test": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,
	"simulate": `{
		"type": "object",
		"required": ["message"],
		"properties": {
			"content": {"type": "string"},
			"message": {"type": "string", "minLength": 1},
			"envelope": {
				"type": "object",
				"properties": {
					"from": {"type": "string"},
					"to": {"type": "string"},
					"auth": {"type": "string"}
				},
				"additionalProperties": false
			}
		},
		"additionalProperties": false
	}`,
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.LoadURL = func(url string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("external schema references are not allowed: %s", url)
	}

	schemas := make(map[string]*jsonschema.Schema, len(requestSchemas))
	for name, text := range requestSchemas {
		url := "schema://editorapi/" + name + ".json"
		if err := compiler.AddResource(url, strings.NewReader(text)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		schemas[name] = schema
	}
	return schemas, nil
}

// requestError is a client mistake detected before the handler ran.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

// decodeBody reads a JSON body, validates it against the named schema and
// decodes it into dst.
func (s *Server) decodeBody(r *http.Request, schemaName string, dst any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodySize+1))
	if err != nil {
		return &requestError{status: http.StatusBadRequest, message: "Failed to read request body"}
	}
	if int64(len(body)) > s.maxBodySize {
		return &requestError{status: http.StatusRequestEntityTooLarge, message: fmt.Sprintf("Request body exceeds %d bytes", s.maxBodySize)}
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return &requestError{status: http.StatusBadRequest, message: "Invalid JSON body"}
	}
	if err := s.schemas[schemaName].Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return &requestError{status: http.StatusBadRequest, message: "Invalid request body: " + leafMessage(ve)}
		}
		return &requestError{status: http.StatusBadRequest, message: "Invalid request body"}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &requestError{status: http.StatusBadRequest, message: "Invalid JSON body"}
	}
	return nil
}

// leafMessage returns the most specific cause of a validation failure.
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	location := ve.InstanceLocation
	if location == "" {
		location = "/"
	}
	return location + ": " + ve.Message
}
