// Package schemas provides the registered JSON Schema documents that the LLM
// gateway enforces on agent output, plus string-level validation helpers.
// Schema files are embedded at compile time.
package schemas

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed *.schema.json
var schemaFiles embed.FS

// Registered schema names. Route bindings in configuration refer to these.
const (
	PrimerPlan   = "primer_plan"
	WarmupPlan   = "warmup_plan"
	QuestionPlan = "question_plan"
	Evaluation   = "evaluation"
	AutoReply    = "auto_reply"
)

var (
	cache   = make(map[string]string)
	cacheMu sync.RWMutex
)

// Get returns the raw schema document for a registered name.
func Get(name string) (string, error) {
	cacheMu.RLock()
	if doc, ok := cache[name]; ok {
		cacheMu.RUnlock()
		return doc, nil
	}
	cacheMu.RUnlock()

	data, err := schemaFiles.ReadFile(name + ".schema.json")
	if err != nil {
		return "", fmt.Errorf("unknown output schema %q: %w", name, err)
	}

	cacheMu.Lock()
	cache[name] = string(data)
	cacheMu.Unlock()
	return string(data), nil
}

// MustGet returns a registered schema, panicking when absent. Use only for
// schemas required at initialization time.
func MustGet(name string) string {
	doc, err := Get(name)
	if err != nil {
		panic(fmt.Sprintf("failed to load schema: %v", err))
	}
	return doc
}

// ValidationError represents a schema validation failure with field paths.
type ValidationError struct {
	Schema string
	Errors []FieldError
}

// FieldError is a single validation error at a specific field.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("output does not match schema %s:\n", ve.Schema))
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Validate checks JSON content against a registered schema. It returns a
// *ValidationError when the document is well-formed JSON that violates the
// schema, and a plain error for anything else.
func Validate(name, jsonContent string) error {
	schemaContent, err := Get(name)
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaContent),
		gojsonschema.NewStringLoader(jsonContent),
	)
	if err != nil {
		return fmt.Errorf("schema %s validation failed during load: %w", name, err)
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Schema: name,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
