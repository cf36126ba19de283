// Package schema holds the known credential schemas and converts untyped
// claim input into typed claims.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"veritas/internal/credential/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// Registry is a concurrency-safe set of schemas. Schemas are immutable once
// registered.
type Registry struct {
	mu      sync.RWMutex
	schemas map[id.SchemaID]models.Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[id.SchemaID]models.Schema)}
}

// Register adds a schema. Attribute names must be unique and non-empty.
func (r *Registry) Register(s models.Schema) error {
	if s.ID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "schema id is required")
	}
	if len(s.Attributes) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "schema must declare at least one attribute")
	}
	attrs := make([]models.Attribute, len(s.Attributes))
	copy(attrs, s.Attributes)
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	for i, a := range attrs {
		if a.Name == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "attribute name is required")
		}
		if i > 0 && attrs[i-1].Name == a.Name {
			return dErrors.New(dErrors.CodeInvalidInput, "duplicate attribute: "+a.Name)
		}
		if _, err := models.ParseAttributeType(string(a.Type)); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[s.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "schema already registered: "+s.ID.String())
	}
	r.schemas[s.ID] = models.Schema{ID: s.ID, Attributes: attrs}
	return nil
}

// Get returns a registered schema or ErrNotFound.
func (r *Registry) Get(schemaID id.SchemaID) (models.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[schemaID]
	if !ok {
		return models.Schema{}, dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "schema not found: "+schemaID.String())
	}
	return s, nil
}

// Conform converts raw claim input into typed claims. The key set must equal
// the schema's attributes and every value must match its declared type.
// Unknown schemas are a schema violation.
func (r *Registry) Conform(schemaID id.SchemaID, raw map[string]any) (models.Schema, models.Claims, error) {
	s, err := r.Get(schemaID)
	if err != nil {
		return models.Schema{}, nil, violation("unknown schema %q", schemaID)
	}
	claims, err := Conform(s, raw)
	return s, claims, err
}

// Conform is the schema-level check used by Registry.Conform.
func Conform(s models.Schema, raw map[string]any) (models.Claims, error) {
	if len(raw) != len(s.Attributes) {
		for name := range raw {
			if _, ok := s.Attribute(name); !ok {
				return nil, violation("unexpected attribute %q", name)
			}
		}
	}
	claims := make(models.Claims, len(s.Attributes))
	for _, a := range s.Attributes {
		v, ok := raw[a.Name]
		if !ok {
			return nil, violation("missing attribute %q", a.Name)
		}
		value, err := convert(a, v)
		if err != nil {
			return nil, err
		}
		claims[a.Name] = value
	}
	return claims, nil
}

// ConformTyped checks already-typed claims against a schema.
func ConformTyped(s models.Schema, claims models.Claims) error {
	if len(claims) != len(s.Attributes) {
		return violation("claims have %d attributes, schema declares %d", len(claims), len(s.Attributes))
	}
	for _, a := range s.Attributes {
		v, ok := claims[a.Name]
		if !ok {
			return violation("missing attribute %q", a.Name)
		}
		if v.Type != a.Type {
			return violation("attribute %q must be %s", a.Name, a.Type)
		}
		if v.Type == models.AttributeInteger && v.Int >= models.MaxInteger {
			return violation("attribute %q out of range", a.Name)
		}
	}
	return nil
}

func convert(a models.Attribute, v any) (models.Value, error) {
	switch a.Type {
	case models.AttributeBool:
		b, ok := v.(bool)
		if !ok {
			return models.Value{}, violation("attribute %q must be a boolean", a.Name)
		}
		return models.BoolValue(b), nil
	case models.AttributeString:
		s, ok := v.(string)
		if !ok {
			return models.Value{}, violation("attribute %q must be a string", a.Name)
		}
		return models.StringValue(s), nil
	case models.AttributeInteger:
		n, ok := toUint(v)
		if !ok || n >= models.MaxInteger {
			return models.Value{}, violation("attribute %q must be an integer in [0, %d)", a.Name, models.MaxInteger)
		}
		return models.IntValue(n), nil
	}
	return models.Value{}, violation("attribute %q has unsupported type", a.Name)
}

func toUint(v any) (uint64, bool) {
	switch n := v.(type) {
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case float64:
		if n < 0 || n != math.Trunc(n) || n >= float64(models.MaxInteger) {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return uint64(i), i >= 0
	}
	return 0, false
}

func violation(format string, args ...any) error {
	return dErrors.Wrap(dErrors.ErrSchemaViolation, dErrors.CodeSchemaViolation, fmt.Sprintf(format, args...))
}
