package sequencer

import (
	"context"
	"net/http"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/zclconf/go-cty/cty"

	"github.com/formloop/formloop/internal/binding"
	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/infrastructure/datatree"
	"github.com/formloop/formloop/internal/logger"
	"github.com/formloop/formloop/internal/ports"
)

// Fetcher resolves dynamically-computed field values by calling the backend
// trigger API, one field at a time.
type Fetcher struct {
	api   ports.TriggerAPI
	tree  ports.DataTree
	store ports.StateStore
	log   ports.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetcherLogger injects a logger.
func WithFetcherLogger(log ports.Logger) FetcherOption {
	return func(f *Fetcher) {
		if log != nil {
			f.log = log
		}
	}
}

// NewFetcher constructs a Fetcher.
func NewFetcher(api ports.TriggerAPI, tree ports.DataTree, store ports.StateStore, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		api:   api,
		tree:  tree,
		store: store,
		log:   logger.NewNoOp(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll resolves every listed field sequentially, overwriting each
// field's fetch state in out, then publishes a single per-form merge. A
// failed field never blocks the remaining fields; failures are aggregated
// into the returned error after the publish has happened.
func (f *Fetcher) FetchAll(ctx context.Context, keys []string, formID string, out evaluation.EvaluationOutput, datasourceID, pluginID string) error {
	var errs *multierror.Error

	for _, key := range keys {
		cond := out[key]
		if cond == nil || cond.FetchDynamicValues == nil {
			continue
		}
		state := f.fetchOne(ctx, cond.FetchDynamicValues, formID, datasourceID, pluginID, key)
		cond.FetchDynamicValues.State = state
		if state.HasFetchFailed {
			errs = multierror.Append(errs, evaluation.NewFetchError("dynamic value fetch failed", nil, map[string]any{
				"form_id": formID,
				"field":   key,
			}))
		}
	}

	if err := f.store.MergeForm(ctx, formID, out); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// fetchOne performs one trigger call and returns the resulting lifecycle
// state. It never returns an error: every failure mode collapses into
// HasFetchFailed with empty data.
func (f *Fetcher) fetchOne(ctx context.Context, dv *evaluation.DynamicValues, formID, datasourceID, pluginID, fieldKey string) (state evaluation.DynamicValuesState) {
	state.HasStarted = true
	state.IsLoading = true
	defer func() { state.IsLoading = false }()

	endpoint := f.api.DefaultTriggerURL(datasourceID)
	if override := strings.TrimSpace(dv.EvaluatedConfig.URL); override != "" {
		endpoint = override
	}

	params := dv.EvaluatedConfig.Params
	if params != nil {
		substituted := f.substituteParams(ctx, dv, formID)
		merged := make(map[string]any, len(params)+len(substituted))
		for key, value := range params {
			merged[key] = value
		}
		for key, value := range substituted {
			merged[key] = value
		}
		params = merged
	}

	resp, err := f.api.FetchFormValues(ctx, endpoint, evaluation.TriggerRequest{
		ActionID:       formID,
		ConfigProperty: fieldKey,
		DatasourceID:   datasourceID,
		PluginID:       pluginID,
		Params:         params,
	})
	if err != nil {
		f.log.Warn(ctx, "trigger call failed",
			"form_id", formID, "field", fieldKey, "url", endpoint, "error", err)
		state.HasFetchFailed = true
		state.Data = evaluation.EmptyData()
		return state
	}

	if resp.ResponseMeta.Status == http.StatusOK && len(resp.Data.Trigger) > 0 {
		state.Data = resp.Data.Trigger
		state.HasFetchFailed = false
		return state
	}

	f.log.Warn(ctx, "trigger response carried no values",
		"form_id", formID, "field", fieldKey, "status", resp.ResponseMeta.Status)
	state.HasFetchFailed = true
	state.Data = evaluation.EmptyData()
	return state
}

// substituteParams resolves parameters whose values are still binding
// expressions against the form entity's evaluated configuration. Absent
// paths are omitted; values that are themselves unresolved expressions
// substitute as empty strings, so an expression is never forwarded to the
// backend.
func (f *Fetcher) substituteParams(ctx context.Context, dv *evaluation.DynamicValues, formID string) map[string]any {
	substituted := make(map[string]any)

	entity, ok := f.tree.Lookup(formID)
	if !ok {
		f.log.Debug(ctx, "form entity not in data tree, skipping substitution", "form_id", formID)
		return substituted
	}

	for name, raw := range dv.EvaluatedConfig.Params {
		expr, ok := raw.(string)
		if !ok || !binding.IsBinding(expr) {
			continue
		}
		inner, ok := binding.FirstExpression(expr)
		if !ok {
			continue
		}
		configPath, ok := binding.ConfigPath(inner)
		if !ok {
			continue
		}

		value, found := entity.ValueAt("config." + configPath)
		if !found {
			continue
		}
		if value.Type() == cty.String && binding.IsBinding(value.AsString()) {
			substituted[name] = ""
			continue
		}
		native, err := datatree.Native(value)
		if err != nil {
			f.log.Debug(ctx, "parameter value not convertible, omitting",
				"form_id", formID, "parameter", name, "error", err)
			continue
		}
		substituted[name] = native
	}
	return substituted
}
