package httpapi

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// schemaBaseURL gives every embedded schema an absolute id so that relative
// $refs between them resolve.
const schemaBaseURL = "https://useraudit.local/schemas/"

// SchemaViolation lists every reason a request body failed its schema.
type SchemaViolation struct {
	Errors []string
}

func (e *SchemaViolation) Error() string {
	return "request body violates schema: " + strings.Join(e.Errors, "; ")
}

// requestSchemas holds one compiled schema per request body, keyed by file
// name without extension.
type requestSchemas struct {
	byName map[string]*santhosh.Schema
}

func loadRequestSchemas() (*requestSchemas, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	compiler.AssertFormat = true

	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		if err := compiler.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
		names = append(names, e.Name())
	}

	s := &requestSchemas{byName: make(map[string]*santhosh.Schema, len(names))}
	for _, name := range names {
		compiled, err := compiler.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		s.byName[strings.TrimSuffix(name, ".json")] = compiled
	}
	return s, nil
}

// decode validates raw against the named schema, then unmarshals it into dst.
func (s *requestSchemas) decode(name string, raw []byte, dst any) error {
	sch, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("unknown request schema %q", name)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &SchemaViolation{Errors: []string{"body must be valid json"}}
	}
	if err := sch.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &SchemaViolation{Errors: collectValidationErrors(ve)}
		}
		return &SchemaViolation{Errors: []string{err.Error()}}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &SchemaViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
