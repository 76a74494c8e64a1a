package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPModel talks to a segmentation inference sidecar. The handle is
// constructed once at startup (readiness-checked) and shared across
// requests; there is no lazy initialization.
type HTTPModel struct {
	inferURL string
	id       string
	cli      *http.Client
	loadErrs []string
}

// NewHTTPModel verifies the inference endpoint is up before returning a
// usable handle. A degraded-but-alive backend is accepted; its reported
// problems end up in ModelInfo.Errors (and the X-Model-Errors header).
func NewHTTPModel(ctx context.Context, baseURL, modelID string, timeout time.Duration) (*HTTPModel, error) {
	m := &HTTPModel{
		inferURL: baseURL + "/v1/infer",
		id:       modelID,
		cli:      &http.Client{Timeout: timeout},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}

	resp, err := m.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model backend unreachable: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model backend not ready: status %d", resp.StatusCode)
	}

	var health struct {
		Errors []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err == nil {
		m.loadErrs = health.Errors
	}

	return m, nil
}

func (m *HTTPModel) Info() ModelInfo {
	return ModelInfo{ID: m.id, Errors: m.loadErrs}
}

type inferRequest struct {
	Model string    `json:"model"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

func (m *HTTPModel) Infer(ctx context.Context, in *Tensor) (*Tensor, error) {
	body, err := json.Marshal(inferRequest{Model: m.id, Shape: in.Shape, Data: in.Data})
	if err != nil {
		return nil, fmt.Errorf("marshal infer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.inferURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build infer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model backend: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model backend returned status %d", resp.StatusCode)
	}

	var out Tensor
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode infer response: %w", err)
	}

	return &out, nil
}
