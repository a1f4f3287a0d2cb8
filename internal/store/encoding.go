package store

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/stratusmedia/cedrus/internal/model"
)

// Canonical binary payload encoding (spec.md §6.4): length-prefixed,
// stable-field-numbered serialization so cross-instance reads are
// bit-identical. No protobuf/msgpack codegen is available without running
// the toolchain, so this uses encoding/gob — the standard library's own
// stable binary codec. Gob matches struct fields by name, so decode does not
// depend on field order in source; the types are also registered below.
func init() {
	gob.Register(model.EntityUID{})
	gob.Register(model.AttrValue{})
}

func encodeEntity(e model.Entity) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("encoding entity %v: %w", e.UID, err)
	}
	return buf.Bytes(), nil
}

func decodeEntity(b []byte) (model.Entity, error) {
	var e model.Entity
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&e); err != nil {
		return model.Entity{}, fmt.Errorf("decoding entity: %w", err)
	}
	return e, nil
}

func encodePolicy(p model.Policy) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("encoding policy %s: %w", p.ID, err)
	}
	return buf.Bytes(), nil
}

func decodePolicy(b []byte) (model.Policy, error) {
	var p model.Policy
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&p); err != nil {
		return model.Policy{}, fmt.Errorf("decoding policy: %w", err)
	}
	return p, nil
}

func encodeTemplate(t model.Template) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return nil, fmt.Errorf("encoding template %s: %w", t.ID, err)
	}
	return buf.Bytes(), nil
}

func decodeTemplate(b []byte) (model.Template, error) {
	var t model.Template
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&t); err != nil {
		return model.Template{}, fmt.Errorf("decoding template: %w", err)
	}
	return t, nil
}

func encodeLink(l model.TemplateLink) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(l); err != nil {
		return nil, fmt.Errorf("encoding link %s: %w", l.LinkID, err)
	}
	return buf.Bytes(), nil
}

func decodeLink(b []byte) (model.TemplateLink, error) {
	var l model.TemplateLink
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&l); err != nil {
		return model.TemplateLink{}, fmt.Errorf("decoding link: %w", err)
	}
	return l, nil
}

func encodeProject(p model.Project) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, fmt.Errorf("encoding project %s: %w", p.ID, err)
	}
	return buf.Bytes(), nil
}

func decodeProject(b []byte) (model.Project, error) {
	var p model.Project
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&p); err != nil {
		return model.Project{}, fmt.Errorf("decoding project: %w", err)
	}
	return p, nil
}

// The write path and bootstrap mirror the same canonical bytes into the
// Shared Cache that this package persists durably (spec.md §6.4: "the JSON
// form exposed by upstream HTTP collaborators is a separate representation;
// the core ... normalizes to the internal representation before storing").
// These exported aliases let those packages reuse the one encoding instead
// of inventing a second wire format.
var (
	EncodeEntity   = encodeEntity
	DecodeEntity   = decodeEntity
	EncodePolicy   = encodePolicy
	DecodePolicy   = decodePolicy
	EncodeTemplate = encodeTemplate
	DecodeTemplate = decodeTemplate
	EncodeLink     = encodeLink
	DecodeLink     = decodeLink
	EncodeProject  = encodeProject
	DecodeProject  = decodeProject
)
