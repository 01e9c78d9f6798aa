package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var policySchema []byte

// PolicyPack is the on-disk extension format for the catalog.
type PolicyPack struct {
	Sources    []Source     `json:"sources,omitempty"`
	Sinks      []Sink       `json:"sinks,omitempty"`
	Sanitizers []Sanitizer  `json:"sanitizers,omitempty"`
	Poly       []PolyHelper `json:"poly,omitempty"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(policySchema))
		if err != nil {
			schemaErr = fmt.Errorf("decode embedded policy schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("policy.json", doc); err != nil {
			schemaErr = fmt.Errorf("register policy schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("policy.json")
	})
	return schema, schemaErr
}

// LoadPolicy parses and validates a policy pack from raw JSON.
func LoadPolicy(data []byte) (*PolicyPack, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("policy does not match schema: %w", err)
	}

	var pack PolicyPack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &pack, nil
}

// LoadPolicyFile reads, validates, and parses a policy pack file.
func LoadPolicyFile(path string) (*PolicyPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	pack, err := LoadPolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pack, nil
}

// Merge applies a policy pack on top of the catalog; pack entries override
// built-ins with the same name.
func (c *Catalog) Merge(pack *PolicyPack) {
	for _, s := range pack.Sources {
		c.AddSource(s)
	}
	for _, s := range pack.Sinks {
		c.AddSink(s)
	}
	for _, s := range pack.Sanitizers {
		c.AddSanitizer(s)
	}
	for _, p := range pack.Poly {
		c.AddPoly(p)
	}
}
