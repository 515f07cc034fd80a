package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/ports"
)

// Evaluate invokes the backend evaluation worker with the request and the
// current aggregate state, returning evaluation output for every form. An
// empty response body yields an empty map, which the sequencer treats as
// "nothing to publish".
func (c *Client) Evaluate(ctx context.Context, req evaluation.EvaluationRequest, current map[string]evaluation.EvaluationOutput) (map[string]evaluation.EvaluationOutput, error) {
	body := struct {
		Request evaluation.EvaluationRequest            `json:"request"`
		Current map[string]evaluation.EvaluationOutput `json:"currentEvaluationState"`
	}{Request: req, Current: current}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, evaluation.NewInternalError("encode evaluation request", err)
	}

	endpoint := c.base + "/v1/forms/evaluate"
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, evaluation.NewEvaluationError("build evaluation request", err, map[string]any{"url": endpoint})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, evaluation.NewEvaluationError("evaluation request failed", err, map[string]any{"url": endpoint})
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, evaluation.NewEvaluationError("read evaluation response", err, map[string]any{"url": endpoint})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, evaluation.NewEvaluationError("evaluation worker returned an error", nil, map[string]any{
			"url":    endpoint,
			"status": resp.StatusCode,
		})
	}

	if len(payload) == 0 {
		return map[string]evaluation.EvaluationOutput{}, nil
	}
	var out map[string]evaluation.EvaluationOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, evaluation.NewEvaluationError("decode evaluation response", err, map[string]any{"url": endpoint})
	}
	if out == nil {
		out = map[string]evaluation.EvaluationOutput{}
	}
	return out, nil
}

var _ ports.Evaluator = (*Client)(nil)
