package ports

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/formloop/formloop/internal/domain/evaluation"
)

// Evaluator is the external evaluation function. It receives the request and
// the current aggregate state and returns evaluation output for every form,
// not just the requested one. It may be slow; implementations must honour
// ctx.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluation.EvaluationRequest, current map[string]evaluation.EvaluationOutput) (map[string]evaluation.EvaluationOutput, error)
}

// StateStore holds the published evaluation state. Replace is a wholesale
// swap of the aggregate state; MergeForm is a scoped merge for a single form.
// Snapshots and reads return copies that never alias stored state.
type StateStore interface {
	Snapshot(ctx context.Context) (map[string]evaluation.EvaluationOutput, error)
	Replace(ctx context.Context, state map[string]evaluation.EvaluationOutput) error
	MergeForm(ctx context.Context, formID string, out evaluation.EvaluationOutput) error
	FormState(ctx context.Context, formID string) (evaluation.EvaluationOutput, bool)
}

// Entity is one named node of the reactive data tree, carrying the evaluated
// values the builder computed for it.
type Entity interface {
	Name() string

	// ValueAt resolves a dotted path (attribute names and list indices)
	// against the entity's evaluated values, reporting explicitly whether
	// the path exists.
	ValueAt(path string) (cty.Value, bool)
}

// DataTree exposes the builder's evaluated entities by name.
type DataTree interface {
	Lookup(name string) (Entity, bool)
}

// TriggerAPI is the backend plugin API used to resolve dynamic values.
type TriggerAPI interface {
	// DefaultTriggerURL returns the per-datasource default trigger endpoint.
	DefaultTriggerURL(datasourceID string) string

	// FetchFormValues calls the trigger endpoint. Transport failures return
	// an error; application-level failures surface via ResponseMeta.Status.
	FetchFormValues(ctx context.Context, url string, req evaluation.TriggerRequest) (*evaluation.TriggerResponse, error)
}
