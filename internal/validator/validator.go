package validator

// =============================================================================
// CRASH EARLY, CRASH LOUD
// =============================================================================
//
// The CUE schema is the contract between fabricdb and everything that reads
// its output: the rego triage rules, the fact tables consumed by query
// engines, and the verification reports archived per run.
//
// When a field is renamed in Go but not in the schema, the policy engine
// silently sees `undefined` and its rules stop firing. Validating every
// payload before it leaves the process turns that into an immediate error
// naming the offending field.
//
// WHEN VALIDATION FAILS:
// 1. DON'T suppress the error or loosen the schema to make it pass
// 2. DO find which side drifted: the Go row types or schema.cue
// 3. DO fix it there, and update the rego rules if a field moved
// =============================================================================

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaFS embed.FS

func compileSchema() (*cue.Context, cue.Value, error) {
	ctx := cuecontext.New()

	schemaBytes, err := schemaFS.ReadFile("schema.cue")
	if err != nil {
		return nil, cue.Value{}, fmt.Errorf("loading embedded schema: %w", err)
	}

	schema := ctx.CompileBytes(schemaBytes)
	if schema.Err() != nil {
		return nil, cue.Value{}, fmt.Errorf("compiling schema: %w", schema.Err())
	}
	return ctx, schema, nil
}

// contract validates payloads against one definition of the schema. A
// cue.Context is not safe for concurrent use, so calls are serialized.
type contract struct {
	mu   *sync.Mutex
	ctx  *cue.Context
	def  cue.Value
	what string
}

func newContract(path, what string) (contract, error) {
	ctx, schema, err := compileSchema()
	if err != nil {
		return contract{}, err
	}
	def := schema.LookupPath(cue.ParsePath(path))
	if def.Err() != nil {
		return contract{}, fmt.Errorf("looking up %s definition: %w", path, def.Err())
	}
	return contract{mu: &sync.Mutex{}, ctx: ctx, def: def, what: what}, nil
}

func (c contract) unify(jsonBytes []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dataValue := c.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return fmt.Errorf("compiling %s as CUE: %w", c.what, dataValue.Err())
	}
	return c.def.Unify(dataValue).Validate()
}

func (c contract) validate(data interface{}) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s to JSON: %w", c.what, err)
	}
	return c.validateJSON(jsonBytes)
}

func (c contract) validateJSON(jsonBytes []byte) error {
	if err := c.unify(jsonBytes); err != nil {
		return fmt.Errorf("%s schema validation failed: %w", c.what, err)
	}
	return nil
}

func (c contract) violations(data interface{}) []string {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return []string{fmt.Sprintf("marshal error: %v", err)}
	}
	err = c.unify(jsonBytes)
	if err == nil {
		return nil
	}
	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}

// FactsValidator validates relational fact tables against #FactTables.
type FactsValidator struct {
	c contract
}

// NewFactsValidator creates a validator for relational fact tables.
func NewFactsValidator() (*FactsValidator, error) {
	c, err := newContract("#FactTables", "facts")
	if err != nil {
		return nil, err
	}
	return &FactsValidator{c: c}, nil
}

// Validate checks that the fact tables conform to the facts schema.
func (v *FactsValidator) Validate(data interface{}) error { return v.c.validate(data) }

// ValidateJSON validates encoded fact tables.
func (v *FactsValidator) ValidateJSON(jsonBytes []byte) error { return v.c.validateJSON(jsonBytes) }

// ValidationErrors returns every individual schema violation in data.
func (v *FactsValidator) ValidationErrors(data interface{}) []string { return v.c.violations(data) }

// ReportValidator validates verification reports against #Report.
type ReportValidator struct {
	c contract
}

// NewReportValidator creates a validator for verification reports.
func NewReportValidator() (*ReportValidator, error) {
	c, err := newContract("#Report", "report")
	if err != nil {
		return nil, err
	}
	return &ReportValidator{c: c}, nil
}

// Validate checks that a report conforms to the report schema.
func (v *ReportValidator) Validate(data interface{}) error { return v.c.validate(data) }

// ValidateJSON validates an encoded report.
func (v *ReportValidator) ValidateJSON(jsonBytes []byte) error { return v.c.validateJSON(jsonBytes) }
