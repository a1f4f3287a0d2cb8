package snapshot

import (
	"encoding/json"
	"fmt"
)

// Schema is the parsed form of a project's Cedar schema document. Cedar
// schemas are namespaced JSON: top-level keys are namespaces, each holding
// "entityTypes" and "actions" maps. The core treats the schema as opaque
// beyond two checks: it must parse, and entity types written as literals in
// policy source must be declared (see checkSchemaReferences). Declared
// actions and the types of stored entities are not checked.
type Schema struct {
	raw         []byte
	entityTypes map[string]struct{}
	actions     map[string]struct{}
}

type rawNamespace struct {
	EntityTypes map[string]json.RawMessage `json:"entityTypes"`
	Actions     map[string]json.RawMessage `json:"actions"`
}

// ParseSchema parses a Cedar JSON schema document, failing with a message
// suitable for an InvalidSchema error if the document does not parse.
func ParseSchema(raw []byte) (*Schema, error) {
	var namespaces map[string]rawNamespace
	if err := json.Unmarshal(raw, &namespaces); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}

	s := &Schema{
		raw:         append([]byte(nil), raw...),
		entityTypes: map[string]struct{}{},
		actions:     map[string]struct{}{},
	}
	for ns, body := range namespaces {
		for name := range body.EntityTypes {
			s.entityTypes[qualify(ns, name)] = struct{}{}
		}
		for name := range body.Actions {
			s.actions[qualify(ns, name)] = struct{}{}
		}
	}
	return s, nil
}

func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "::" + name
}

// HasEntityType reports whether typeName is declared by the schema.
func (s *Schema) HasEntityType(typeName string) bool {
	_, ok := s.entityTypes[typeName]
	return ok
}

// HasAction reports whether actionName is declared by the schema.
func (s *Schema) HasAction(actionName string) bool {
	_, ok := s.actions[actionName]
	return ok
}

// Raw returns the original schema bytes, the form persisted and mirrored to
// the shared cache.
func (s *Schema) Raw() []byte {
	return s.raw
}
