package envreg

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Request body schemas.
const (
	SchemaNamespaceRegistration = "namespace-registration.schema.json"
	SchemaVersionRegistration   = "version-registration.schema.json"
	SchemaVersionUpdate         = "version-update.schema.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
	printer     = message.NewPrinter(language.English)
)

// ValidationIssue is one schema violation in a request body.
type ValidationIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Keyword string `json:"keyword"`
}

// SchemaError reports that a request body does not match its schema.
type SchemaError struct {
	Schema string
	Issues []ValidationIssue
}

func (e *SchemaError) Error() string {
	if len(e.Issues) == 0 {
		return "request body does not match schema"
	}
	first := e.Issues[0]
	if first.Path == "" {
		return "request body does not match schema: " + first.Message
	}
	return fmt.Sprintf("request body does not match schema: %s: %s", first.Path, first.Message)
}

// loadSchemas compiles every embedded schema once.
func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		entries, err := fs.ReadDir(schemaFS, "schemas")
		if err != nil {
			schemasErr = fmt.Errorf("reading embedded schemas: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		for _, e := range entries {
			data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
			if err != nil {
				schemasErr = fmt.Errorf("reading schema %s: %w", e.Name(), err)
				return
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				schemasErr = fmt.Errorf("unmarshaling schema %s: %w", e.Name(), err)
				return
			}
			if err := c.AddResource(e.Name(), doc); err != nil {
				schemasErr = fmt.Errorf("adding schema resource %s: %w", e.Name(), err)
				return
			}
		}

		compiled := make(map[string]*jsonschema.Schema, len(entries))
		for _, e := range entries {
			s, err := c.Compile(e.Name())
			if err != nil {
				schemasErr = fmt.Errorf("compiling schema %s: %w", e.Name(), err)
				return
			}
			compiled[e.Name()] = s
		}
		schemas = compiled
	})
	return schemas, schemasErr
}

// ValidateJSON checks body against the named schema. A mismatch is returned
// as a *SchemaError; any other error means the schema itself is unusable.
func ValidateJSON(schemaName string, body []byte) error {
	all, err := loadSchemas()
	if err != nil {
		return err
	}
	schema, ok := all[schemaName]
	if !ok {
		return fmt.Errorf("unknown schema %q", schemaName)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return &SchemaError{Schema: schemaName, Issues: []ValidationIssue{{Message: "invalid JSON: " + err.Error()}}}
	}

	err = schema.Validate(inst)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate against %s: %w", schemaName, err)
	}
	return &SchemaError{Schema: schemaName, Issues: collectIssues(ve)}
}

// DecodeJSON validates body against the named schema and decodes it into dst.
func DecodeJSON(schemaName string, body []byte, dst any) error {
	if err := ValidateJSON(schemaName, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &SchemaError{Schema: schemaName, Issues: []ValidationIssue{{Message: err.Error()}}}
	}
	return nil
}

// collectIssues flattens the error tree into its leaves.
func collectIssues(ve *jsonschema.ValidationError) []ValidationIssue {
	var issues []ValidationIssue
	seen := make(map[string]bool)
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		if e.ErrorKind == nil {
			return
		}
		keyword := ""
		if kw := e.ErrorKind.KeywordPath(); len(kw) > 0 {
			keyword = kw[len(kw)-1]
		}
		if keyword == "" || keyword == "$ref" || keyword == "allOf" {
			return
		}
		p := ""
		if len(e.InstanceLocation) > 0 {
			p = "/" + strings.Join(e.InstanceLocation, "/")
		}
		issue := ValidationIssue{Path: p, Message: e.ErrorKind.LocalizedString(printer), Keyword: keyword}
		key := issue.Path + "|" + issue.Keyword + "|" + issue.Message
		if !seen[key] {
			seen[key] = true
			issues = append(issues, issue)
		}
	}
	walk(ve)

	if len(issues) == 0 {
		return []ValidationIssue{{Message: ve.Error()}}
	}
	return issues
}
