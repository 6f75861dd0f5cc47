package publisher

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/felipemaragno/hookline/internal/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator checks event data against the v1 data contracts.
type Validator struct {
	schemas map[domain.WebhookEvent]*jsonschema.Schema
}

// NewValidator compiles the embedded schema for every event.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	v := &Validator{schemas: make(map[domain.WebhookEvent]*jsonschema.Schema, len(domain.AllEvents))}
	for _, event := range domain.AllEvents {
		raw, err := schemaFS.ReadFile("schemas/" + event.String() + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", event, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", event, err)
		}

		url := "hookline://schemas/" + event.String() + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", event, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", event, err)
		}
		v.schemas[event] = compiled
	}
	return v, nil
}

// Validate returns domain.ErrInvalidPayload when data does not satisfy the
// event's contract.
func (v *Validator) Validate(event domain.WebhookEvent, data []byte) error {
	schema, ok := v.schemas[event]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrInvalidEvent, event)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidPayload, event, err)
	}
	return nil
}
