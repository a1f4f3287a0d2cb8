// Package authz implements the Authorization Evaluator from spec.md §4.3:
// entity closure resolution over a project snapshot followed by a Cedar
// authorization call. It performs no I/O and acquires no write locks, so it
// never contends with Registry.Mutate beyond the snapshot pointer read.
package authz

import (
	cedar "github.com/cedar-policy/cedar-go"
	"github.com/cedar-policy/cedar-go/types"

	"github.com/stratusmedia/cedrus/internal/cedruserr"
	"github.com/stratusmedia/cedrus/internal/model"
	"github.com/stratusmedia/cedrus/internal/registry"
	"github.com/stratusmedia/cedrus/internal/snapshot"
)

// Decision is Allow or Deny, matching Cedar's own two-valued outcome.
type Decision string

const (
	Allow Decision = "Allow"
	Deny  Decision = "Deny"
)

// PolicyError pairs a policy id with an evaluation error message, carried in
// diagnostics rather than raised, per spec.md §7 ("authorization evaluation
// never throws").
type PolicyError struct {
	PolicyID string
	Message  string
}

// Diagnostics accompanies every Response with the policies that determined
// the decision and any per-policy evaluation errors.
type Diagnostics struct {
	DeterminingPolicies []string
	Errors              []PolicyError
}

// Request is one is_authorized call: principal, action, and resource are
// already-resolved entity UIDs (identity resolution happens upstream, per
// spec.md §4.6); Context carries request-scoped attributes.
type Request struct {
	Principal model.EntityUID
	Action    model.EntityUID
	Resource  model.EntityUID
	Context   map[string]model.AttrValue
}

// Response is the result of evaluating one Request.
type Response struct {
	Decision    Decision
	Diagnostics Diagnostics
}

// Evaluator answers is_authorized / is_authorized_batch against a Registry.
type Evaluator struct {
	registry *registry.Registry
	// BatchLimit caps is_authorized_batch per spec.md §9's resolved Open
	// Question; a batch larger than this is rejected wholesale.
	BatchLimit int
}

func New(r *registry.Registry, batchLimit int) *Evaluator {
	return &Evaluator{registry: r, BatchLimit: batchLimit}
}

// IsAuthorized implements spec.md §4.3's single-decision algorithm.
func (e *Evaluator) IsAuthorized(projectID model.ProjectID, req Request) (Response, error) {
	snap, err := e.registry.Get(projectID)
	if err != nil {
		return Response{}, err
	}
	return evaluate(snap, req), nil
}

// IsAuthorizedBatch evaluates every request independently, preserving input
// order in the response slice (spec.md §4.3, §5's batch-order guarantee).
// A batch larger than BatchLimit is rejected wholesale with BatchTooLarge
// before any evaluation runs, per the supplemented cap resolving §9's Open
// Question on unbounded batch size.
func (e *Evaluator) IsAuthorizedBatch(projectID model.ProjectID, reqs []Request) ([]Response, error) {
	if e.BatchLimit > 0 && len(reqs) > e.BatchLimit {
		return nil, cedruserr.New(cedruserr.BatchTooLarge, "batch exceeds limit")
	}

	snap, err := e.registry.Get(projectID)
	if err != nil {
		return nil, err
	}

	out := make([]Response, len(reqs))
	for i, r := range reqs {
		out[i] = evaluate(snap, r)
	}
	return out, nil
}

func evaluate(snap *snapshot.ProjectSnapshot, req Request) Response {
	closure := entityClosure(snap, req)

	cedarReq := cedar.Request{
		Principal: toCedarUID(req.Principal),
		Action:    toCedarUID(req.Action),
		Resource:  toCedarUID(req.Resource),
		Context:   toCedarRecord(req.Context),
	}

	var policySet *cedar.PolicySet
	if snap.CompiledPolicySet != nil {
		policySet = snap.CompiledPolicySet
	} else {
		policySet = cedar.NewPolicySet()
	}

	decision, diagnostic := cedar.Authorize(policySet, closure, cedarReq)

	result := Deny
	if decision == cedar.Allow {
		result = Allow
	}

	diag := Diagnostics{}
	for _, r := range diagnostic.Reasons {
		diag.DeterminingPolicies = append(diag.DeterminingPolicies, string(r.PolicyID))
	}
	for _, errReason := range diagnostic.Errors {
		diag.Errors = append(diag.Errors, PolicyError{
			PolicyID: string(errReason.PolicyID),
			Message:  errReason.Message,
		})
	}

	return Response{Decision: result, Diagnostics: diag}
}

// entityClosure performs the breadth-first walk described in spec.md §4.3
// step 2: starting from {principal, resource} plus any entity references in
// context, follow `parents` until no new entities are discovered. A visited
// set makes parent cycles safe; missing references are silently omitted,
// matching Cedar's standard evaluation model.
func entityClosure(snap *snapshot.ProjectSnapshot, req Request) types.EntityMap {
	visited := map[model.EntityUID]bool{}
	queue := []model.EntityUID{req.Principal, req.Resource}
	for _, v := range req.Context {
		collectEntityRefs(v, &queue)
	}

	result := types.EntityMap{}
	for len(queue) > 0 {
		uid := queue[0]
		queue = queue[1:]
		if visited[uid] {
			continue
		}
		visited[uid] = true

		entity, ok := snap.Entities[uid]
		if !ok {
			continue
		}
		result[toCedarUID(uid)] = toCedarEntity(entity)
		queue = append(queue, entity.Parents...)
	}
	return result
}

func collectEntityRefs(v model.AttrValue, queue *[]model.EntityUID) {
	switch v.Kind {
	case model.AttrEntityRef:
		*queue = append(*queue, v.Entity)
	case model.AttrSet:
		for _, e := range v.Set {
			collectEntityRefs(e, queue)
		}
	case model.AttrRecord:
		for _, e := range v.Record {
			collectEntityRefs(e, queue)
		}
	}
}
