package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ShenlongDev/afp-integration/internal/interfaces/http/dto"
)

// apiClient talks to the server's /api/v1 endpoints
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, hc *http.Client) *apiClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// submitEnvelope is the success envelope of POST /imports
type submitEnvelope struct {
	Success bool                     `json:"success"`
	Data    dto.SubmitImportResponse `json:"data"`
	Error   *dto.ErrorInfo           `json:"error"`
}

// SubmitImport posts the request and returns the queued job
func (c *apiClient) SubmitImport(ctx context.Context, req dto.SubmitImportRequest) (*dto.SubmitImportResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/imports", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit import: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env submitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unexpected response (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != http.StatusAccepted || !env.Success {
		if env.Error != nil {
			return nil, fmt.Errorf("server rejected import (HTTP %d, %s): %s", resp.StatusCode, env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("server rejected import (HTTP %d)", resp.StatusCode)
	}
	return &env.Data, nil
}
