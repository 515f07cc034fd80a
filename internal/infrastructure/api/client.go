// Package api implements the backend plugin API client used to resolve
// dynamically-computed form values.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/logger"
	"github.com/formloop/formloop/internal/ports"
)

// maxResponseBytes bounds how much of a trigger response is read.
const maxResponseBytes = 8 << 20

// Options configures the Client.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	RetryMax       int
	Logger         ports.Logger
}

// Client talks to the backend plugin API over a retrying HTTP client.
type Client struct {
	base string
	http *retryablehttp.Client
	log  ports.Logger
}

// NewClient builds a Client from Options.
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOp()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.Logger = &leveledLogger{log: log}
	rc.HTTPClient = &http.Client{
		Transport: cleanhttp.DefaultPooledTransport(),
		Timeout:   opts.RequestTimeout,
	}

	return &Client{
		base: strings.TrimRight(opts.BaseURL, "/"),
		http: rc,
		log:  log,
	}
}

// DefaultTriggerURL returns the per-datasource default trigger endpoint.
func (c *Client) DefaultTriggerURL(datasourceID string) string {
	return fmt.Sprintf("%s/v1/datasources/%s/trigger", c.base, url.PathEscape(datasourceID))
}

// FetchFormValues posts a trigger request. Named properties and evaluated
// parameters are flattened into one JSON object, matching the backend's
// contract. Parameters never shadow the named properties.
func (c *Client) FetchFormValues(ctx context.Context, endpoint string, req evaluation.TriggerRequest) (*evaluation.TriggerResponse, error) {
	body := make(map[string]any, len(req.Params)+4)
	for key, value := range req.Params {
		body[key] = value
	}
	body["actionId"] = req.ActionID
	body["configProperty"] = req.ConfigProperty
	body["datasourceId"] = req.DatasourceID
	body["pluginId"] = req.PluginID

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, evaluation.NewInternalError("encode trigger request", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, evaluation.NewFetchError("build trigger request", err, map[string]any{"url": endpoint})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, evaluation.NewFetchError("trigger request failed", err, map[string]any{"url": endpoint})
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, evaluation.NewFetchError("read trigger response", err, map[string]any{"url": endpoint})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, evaluation.NewFetchError("trigger endpoint returned an error", nil, map[string]any{
			"url":    endpoint,
			"status": resp.StatusCode,
		})
	}

	var decoded evaluation.TriggerResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, evaluation.NewFetchError("decode trigger response", err, map[string]any{"url": endpoint})
	}
	if decoded.ResponseMeta.Status == 0 {
		decoded.ResponseMeta.Status = resp.StatusCode
	}
	return &decoded, nil
}

// leveledLogger adapts ports.Logger to retryablehttp's LeveledLogger.
type leveledLogger struct {
	log ports.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...any) {
	l.log.Error(context.Background(), msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...any) {
	l.log.Info(context.Background(), msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...any) {
	l.log.Debug(context.Background(), msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...any) {
	l.log.Warn(context.Background(), msg, keysAndValues...)
}

var (
	_ ports.TriggerAPI            = (*Client)(nil)
	_ retryablehttp.LeveledLogger = (*leveledLogger)(nil)
)
