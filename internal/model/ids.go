// Package model holds the data model from spec.md §3: project identity,
// entity UIDs, attribute values, and the raw (uncompiled) project content
// that a ProjectSnapshot bundles together.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ProjectID is a 128-bit UUID. The nil UUID names the distinguished admin
// project; every other project is assigned a v7 (time-ordered) id at
// creation so natural creation order is recoverable from the id alone.
type ProjectID uuid.UUID

// AdminProjectID is the nil UUID that names the admin project.
var AdminProjectID = ProjectID(uuid.Nil)

// NewProjectID mints a fresh v7 project id.
func NewProjectID() (ProjectID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ProjectID{}, fmt.Errorf("generating project id: %w", err)
	}
	return ProjectID(id), nil
}

// IsAdmin reports whether this id names the admin project.
func (p ProjectID) IsAdmin() bool {
	return p == AdminProjectID
}

func (p ProjectID) String() string {
	return uuid.UUID(p).String()
}

// ParseProjectID parses the canonical string form of a project id.
func ParseProjectID(s string) (ProjectID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ProjectID{}, fmt.Errorf("parsing project id %q: %w", s, err)
	}
	return ProjectID(id), nil
}

// EntityUID identifies a Cedar entity by its qualified type name (e.g.
// "MyApp::User") and a type-local id.
type EntityUID struct {
	TypeName string
	ID       string
}

func (u EntityUID) String() string {
	return fmt.Sprintf("%s::%q", u.TypeName, u.ID)
}

// SlotID names a template slot. Cedar templates only ever use the two
// slots below, per spec.md §3.
type SlotID string

const (
	SlotPrincipal SlotID = "?principal"
	SlotResource  SlotID = "?resource"
)
