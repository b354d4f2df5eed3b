package harness

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// schema holds the compiled definition. A cue.Context is not safe for
// concurrent use, so validation is serialized on mu.
var schema struct {
	once sync.Once
	mu   sync.Mutex
	ctx  *cue.Context
	def  cue.Value
	err  error
}

// scenarioSchema compiles the embedded schema once and returns #Scenario.
func scenarioSchema() (*cue.Context, cue.Value, error) {
	schema.once.Do(func() {
		schema.ctx = cuecontext.New()
		v := schema.ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schema.err = fmt.Errorf("compile scenario schema: %w", err)
			return
		}
		schema.def = v.LookupPath(cue.ParsePath("#Scenario"))
		if err := schema.def.Err(); err != nil {
			schema.err = fmt.Errorf("lookup #Scenario: %w", err)
		}
	})
	return schema.ctx, schema.def, schema.err
}

// ValidateSchema checks a YAML scenario document against the #Scenario
// definition. Unknown fields, unknown kinds and actions, and malformed refs
// are reported here, before the document is decoded.
func ValidateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("empty scenario document")
	}

	ctx, def, err := scenarioSchema()
	if err != nil {
		return err
	}

	schema.mu.Lock()
	defer schema.mu.Unlock()

	v := ctx.Encode(doc)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
