package evaluation

import (
	"encoding/json"
	"sort"
)

// EvaluationRequest describes a single request to re-evaluate a form against
// the current aggregate state. Requests are immutable once submitted.
type EvaluationRequest struct {
	// ID correlates the request through logs and traces. Assigned on submit
	// when empty.
	ID string `json:"id,omitempty"`

	// FormID names the form (action) whose fields are being evaluated.
	FormID string `json:"formId"`

	// DatasourceID and PluginID identify the backend integration the form is
	// bound to. Either may be empty for forms without a live datasource.
	DatasourceID string `json:"datasourceId,omitempty"`
	PluginID     string `json:"pluginId,omitempty"`

	// ActionConfig carries the form's authored configuration.
	ActionConfig map[string]any `json:"actionConfiguration,omitempty"`

	// EditorConfig and SettingConfig carry the field definitions the
	// evaluation function consumes.
	EditorConfig  []map[string]any `json:"editorConfig,omitempty"`
	SettingConfig []map[string]any `json:"settingConfig,omitempty"`

	// DiffPath points at the configuration property whose change caused this
	// request, when known.
	DiffPath string `json:"diffPath,omitempty"`
}

// EvaluationOutput maps a field key to its per-field evaluation result.
type EvaluationOutput map[string]*ConditionalOutput

// ConditionalOutput is the evaluation result for a single field.
type ConditionalOutput struct {
	Visible bool `json:"visible"`
	Enabled bool `json:"enabled"`

	// FetchDynamicValues is non-nil when the field's values cannot be
	// computed locally and must be resolved against the backend.
	FetchDynamicValues *DynamicValues `json:"fetchDynamicValues,omitempty"`
}

// DynamicValues pairs the remote-fetch request produced by evaluation with
// the lifecycle state of resolving it.
type DynamicValues struct {
	AllowedToFetch bool `json:"allowedToFetch"`

	// Config is the authored trigger configuration; EvaluatedConfig is the
	// same configuration with binding expressions evaluated where possible.
	Config          TriggerConfig `json:"config"`
	EvaluatedConfig TriggerConfig `json:"evaluatedConfig"`

	State DynamicValuesState `json:"state"`
}

// TriggerConfig describes how to call the backend for a dynamic value.
type TriggerConfig struct {
	// URL overrides the datasource's default trigger URL when non-empty.
	URL string `json:"url,omitempty"`

	// Params maps parameter names to values. A value may still be a binding
	// expression that needs substitution before the call is made. A nil map
	// means the config declares no parameters at all.
	Params map[string]any `json:"parameters,omitempty"`
}

// DynamicValuesState tracks the lifecycle of one dynamic-value fetch.
// Terminal states are either populated Data with HasFetchFailed false, or
// empty Data with HasFetchFailed true.
type DynamicValuesState struct {
	HasStarted     bool            `json:"hasStarted"`
	IsLoading      bool            `json:"isLoading"`
	HasFetchFailed bool            `json:"hasFetchFailed"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// EmptyData is the Data payload recorded for failed fetches.
func EmptyData() json.RawMessage { return json.RawMessage("[]") }

// PendingDynamicFields returns the keys of fields flagged for remote
// resolution, in sorted order so iteration is deterministic.
func (o EvaluationOutput) PendingDynamicFields() []string {
	keys := make([]string, 0, len(o))
	for key, cond := range o {
		if cond == nil || cond.FetchDynamicValues == nil {
			continue
		}
		if cond.FetchDynamicValues.AllowedToFetch {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies the output so published state never aliases the
// sequencer's working copy.
func (o EvaluationOutput) Clone() EvaluationOutput {
	if o == nil {
		return nil
	}
	out := make(EvaluationOutput, len(o))
	for key, cond := range o {
		out[key] = cond.Clone()
	}
	return out
}

// Clone deep-copies a ConditionalOutput.
func (c *ConditionalOutput) Clone() *ConditionalOutput {
	if c == nil {
		return nil
	}
	clone := *c
	if c.FetchDynamicValues != nil {
		dv := *c.FetchDynamicValues
		dv.Config = c.FetchDynamicValues.Config.clone()
		dv.EvaluatedConfig = c.FetchDynamicValues.EvaluatedConfig.clone()
		if c.FetchDynamicValues.State.Data != nil {
			dv.State.Data = append(json.RawMessage(nil), c.FetchDynamicValues.State.Data...)
		}
		clone.FetchDynamicValues = &dv
	}
	return &clone
}

func (t TriggerConfig) clone() TriggerConfig {
	out := t
	if t.Params != nil {
		out.Params = make(map[string]any, len(t.Params))
		for k, v := range t.Params {
			out.Params[k] = v
		}
	}
	return out
}

// TriggerRequest is the body sent to the backend trigger endpoint. Params are
// flattened alongside the named properties on the wire.
type TriggerRequest struct {
	ActionID       string
	ConfigProperty string
	DatasourceID   string
	PluginID       string
	Params         map[string]any
}

// TriggerResponse is the backend trigger endpoint's envelope.
type TriggerResponse struct {
	ResponseMeta ResponseMeta `json:"responseMeta"`
	Data         TriggerData  `json:"data"`
}

// ResponseMeta carries the backend's application-level status.
type ResponseMeta struct {
	Status int `json:"status"`
}

// TriggerData holds the fetched values. Trigger is absent when the backend
// could not resolve them.
type TriggerData struct {
	Trigger json.RawMessage `json:"trigger,omitempty"`
}
