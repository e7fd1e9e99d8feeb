package uiid

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed resources/*.json
var resources embed.FS

// Known lists the supported UIIDs.
var Known = []int{
	1, 2, 3, 4, 5, 6, 7, 8, 9, 14, 15, 16, 17, 18, 19, 22, 24, 25, 27, 28, 29, 30,
	31, 32, 33, 34, 36, 44, 52, 57, 59, 77, 78, 81, 82, 83, 84, 102, 103, 104, 107,
	195, 1770, 1771,
}

// aliases maps UIIDs to the UIID whose payload shape and resources they
// share.
var aliases = map[int]int{
	// multi channel relays
	2: 4, 3: 4, 7: 4, 8: 4, 9: 4, 29: 4, 30: 4, 31: 4, 34: 4,
	// single channel relays
	6: 1, 14: 1, 24: 1, 27: 1, 57: 1, 77: 1, 78: 1, 81: 1, 82: 1, 83: 1, 84: 1, 107: 1,
	52:   16,
	1771: 1770,
}

// resolution is the order Resolve tries schemas in. Families keyed by a
// parameter no relay reports go first.
var resolution = []int{16, 22, 17, 19, 25, 28, 33, 103, 1770, 195, 1, 4, 5, 15, 18, 32, 36, 44, 59, 102, 104}

// Canonical returns the UIID whose schema and mapping describe id.
func Canonical(id int) int {
	if c, ok := aliases[id]; ok {
		return c
	}
	return id
}

// Registry validates payloads against UIID schemas and loads mappings.
//
// All public methods are thread-safe.
type Registry struct {
	order []int

	mu       sync.RWMutex
	schemas  map[int]*jsonschema.Schema
	mappings map[int]*Mapping
}

// NewRegistry creates a registry over the embedded resource bundle.
func NewRegistry() *Registry {
	return &Registry{
		order:    resolution,
		schemas:  make(map[int]*jsonschema.Schema),
		mappings: make(map[int]*Mapping),
	}
}

// Resolve finds the UIID whose schema accepts params and decodes params
// into that UIID's variant.
func (r *Registry) Resolve(params map[string]any) (Variant, error) {
	for _, id := range r.order {
		sch, err := r.schema(id)
		if err != nil {
			continue
		}
		if err := sch.Validate(normalize(params)); err != nil {
			continue
		}
		return Decode(id, params)
	}
	return nil, ErrUnsupportedType
}

// Validate checks params against the schema of a specific UIID.
func (r *Registry) Validate(id int, params map[string]any) error {
	sch, err := r.schema(Canonical(id))
	if err != nil {
		return err
	}
	if err := sch.Validate(normalize(params)); err != nil {
		return fmt.Errorf("%w: uiid %d: %w", ErrInvalidPayload, id, err)
	}
	return nil
}

// Mapping returns the parameter mapping of a UIID.
func (r *Registry) Mapping(id int) (*Mapping, error) {
	id = Canonical(id)

	r.mu.RLock()
	m, ok := r.mappings[id]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	data, err := resources.ReadFile(fmt.Sprintf("resources/uiid%d_mapping.json", id))
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUIID, id)
	}
	m, err = ParseMapping(data)
	if err != nil {
		return nil, fmt.Errorf("uiid %d: %w", id, err)
	}

	r.mu.Lock()
	r.mappings[id] = m
	r.mu.Unlock()
	return m, nil
}

// schema returns the compiled schema of a UIID, compiling it on first use.
func (r *Registry) schema(id int) (*jsonschema.Schema, error) {
	r.mu.RLock()
	s, ok := r.schemas[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := r.schemas[id]; ok {
		return s, nil
	}

	name := fmt.Sprintf("uiid%d.json", id)
	data, err := resources.ReadFile("resources/" + name)
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownUIID, id)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshaling schema %s: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("adding schema %s: %w", name, err)
	}
	compiled, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}

	r.schemas[id] = compiled
	return compiled, nil
}

// normalize round-trips params through JSON so that validation sees only
// JSON value types regardless of how the map was built.
func normalize(params map[string]any) any {
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return params
	}
	return v
}
