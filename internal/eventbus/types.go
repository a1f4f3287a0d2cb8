// Package eventbus implements the Event Bus capability from spec.md §6.3:
// best-effort publish/subscribe of mutation notifications so peer instances
// know to reload a project from the Shared Cache (falling back to the
// Durable Store). The bus never carries object bytes, only ids (§9).
package eventbus

import (
	"encoding/json"
	"time"
)

// Type enumerates the mutation events a write path operation may emit: the
// ten kinds of spec.md §6.3 plus ProjectRemoveTemplates and
// ProjectRemoveTemplateLinks for the template and link remove operations.
type Type string

const (
	ProjectCreate              Type = "ProjectCreate"
	ProjectUpdate              Type = "ProjectUpdate"
	ProjectRemove              Type = "ProjectRemove"
	ProjectPutSchema           Type = "ProjectPutSchema"
	ProjectAddEntities         Type = "ProjectAddEntities"
	ProjectRemoveEntities      Type = "ProjectRemoveEntities"
	ProjectAddPolicies         Type = "ProjectAddPolicies"
	ProjectRemovePolicies      Type = "ProjectRemovePolicies"
	ProjectAddTemplates        Type = "ProjectAddTemplates"
	ProjectRemoveTemplates     Type = "ProjectRemoveTemplates"
	ProjectAddTemplateLinks    Type = "ProjectAddTemplateLinks"
	ProjectRemoveTemplateLinks Type = "ProjectRemoveTemplateLinks"
)

// Event is the payload published on the bus. AffectedIDs is empty for
// project-level events (create/update/remove/put-schema).
type Event struct {
	Type        Type      `json:"type"`
	ProjectID   string    `json:"project_id"`
	AffectedIDs []string  `json:"affected_ids,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Marshal serializes an Event to the wire form used by every driver.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses the wire form produced by Marshal.
func Unmarshal(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}
