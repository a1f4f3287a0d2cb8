package snapshot

import (
	"fmt"
	"strings"

	cedar "github.com/cedar-policy/cedar-go"

	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/model"
)

// Diagnostic is a non-fatal issue recorded while compiling a snapshot, kept
// alongside it per spec.md §4.2 step 5 so lenient-mode schema violations are
// visible without failing the write.
type Diagnostic struct {
	PolicyID string
	Message  string
}

// compile builds a Cedar PolicySet from a project's raw policies, templates,
// and links: static policies keyed by id, then each link's instantiation
// keyed by link id. Templates are not added to the set themselves; they are
// only read as the source each link instantiates. A
// policy id colliding with a link id is rejected with IdConflict so the
// link always wins; this function assumes the caller already ran that
// check, and only compiles inputs that passed it.
func compile(policies map[string]model.Policy, templates map[string]model.Template, links map[string]model.TemplateLink, schema *Schema, strict bool) (*cedar.PolicySet, []Diagnostic, error) {
	ps := cedar.NewPolicySet()

	for id, p := range policies {
		cp, err := parsePolicy(p.Source)
		if err != nil {
			return nil, nil, cedruserr.Wrap(cedruserr.InvalidPolicy, "policy "+id, err)
		}
		ps.Add(cedar.PolicyID(id), cp)
	}

	var diags []Diagnostic
	for linkID, link := range links {
		tmpl, ok := templates[link.TemplateID]
		if !ok {
			return nil, nil, cedruserr.New(cedruserr.NoSuchTemplate, "link "+linkID+" references unknown template "+link.TemplateID)
		}
		rendered, err := instantiate(tmpl.Source, link.Values)
		if err != nil {
			return nil, nil, err
		}
		cp, err := parsePolicy(rendered)
		if err != nil {
			return nil, nil, cedruserr.Wrap(cedruserr.InvalidPolicy, "instantiated link "+linkID, err)
		}
		ps.Add(cedar.PolicyID(linkID), cp)
	}

	if schema != nil {
		for id, p := range policies {
			if err := checkSchemaReferences(p.Source, schema); err != nil {
				if strict {
					return nil, nil, cedruserr.Wrap(cedruserr.SchemaMismatch, "policy "+id, err)
				}
				diags = append(diags, Diagnostic{PolicyID: id, Message: err.Error()})
			}
		}
	}

	return ps, diags, nil
}

func parsePolicy(source string) (*cedar.Policy, error) {
	var p cedar.Policy
	if err := p.UnmarshalCedar([]byte(source)); err != nil {
		return nil, err
	}
	return &p, nil
}

// ValidatePolicySource parses source without installing it anywhere, so the
// write path can reject a syntactically invalid policy or template during
// local validation (spec.md §4.4 step 1) before any durable write happens.
func ValidatePolicySource(source string) error {
	if _, err := parsePolicy(source); err != nil {
		return cedruserr.Wrap(cedruserr.InvalidPolicy, "parsing policy source", err)
	}
	return nil
}

// ValidateInstantiation renders a template link's substitution without
// installing it anywhere, so add_template_links can reject a dangling slot
// or a value that isn't an entity reference during local validation
// (spec.md §4.4 step 1) before any durable write happens.
func ValidateInstantiation(templateSource string, values map[model.SlotID]model.EntityUID) error {
	rendered, err := instantiate(templateSource, values)
	if err != nil {
		return err
	}
	_, err = parsePolicy(rendered)
	if err != nil {
		return cedruserr.Wrap(cedruserr.InvalidPolicy, "instantiated template link", err)
	}
	return nil
}

// instantiate substitutes a template's slots with literal entity UID
// references and returns renderable Cedar policy source. Cedar's slot
// syntax (?principal, ?resource) is textual in the template source, so
// instantiation is a controlled substitution rather than an AST rewrite;
// every substituted value must be an entity reference per spec.md §4.2.
func instantiate(templateSource string, values map[model.SlotID]model.EntityUID) (string, error) {
	out := templateSource
	for slot, uid := range values {
		if uid.TypeName == "" || uid.ID == "" {
			return "", cedruserr.New(cedruserr.InvalidSlot, fmt.Sprintf("slot %s must be an entity reference", slot))
		}
		literal := fmt.Sprintf("%s::%q", uid.TypeName, uid.ID)
		out = strings.ReplaceAll(out, string(slot), literal)
	}
	if strings.Contains(out, "?principal") || strings.Contains(out, "?resource") {
		return "", cedruserr.New(cedruserr.InvalidSlot, "template link did not supply a value for every slot")
	}
	return out, nil
}

// checkSchemaReferences is a best-effort scan for obviously undeclared
// entity types appearing as "Type::" literals in policy source. It is not a
// full Cedar type-checker: actions are not checked against the schema's
// declared actions, and the types of stored entities are not checked at all.
func checkSchemaReferences(source string, schema *Schema) error {
	for _, typeName := range strings.Split(source, " ") {
		typeName = strings.Trim(typeName, "(),;")
		idx := strings.Index(typeName, "::\"")
		if idx <= 0 {
			continue
		}
		tn := typeName[:idx]
		if !schema.HasEntityType(tn) {
			return fmt.Errorf("entity type %q not declared in schema", tn)
		}
	}
	return nil
}
