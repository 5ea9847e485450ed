package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"advsandbox/pkg/api"
)

// adminTokenHeader carries the operator token on model registry writes.
const adminTokenHeader = "X-Admin-Token"

// AttackClient handles API calls to the advsandbox controller.
type AttackClient struct {
	BaseURL    string
	Token      string
	AdminToken string
	HTTPClient *http.Client
}

// NewAttackClient creates a new client with the given base URL and token.
func NewAttackClient(baseURL, token string) *AttackClient {
	return &AttackClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("API error (%d): %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// SubmitAttack sends POST /attacks to queue a new attack.
func (c *AttackClient) SubmitAttack(req api.SubmitAttackRequest) (*api.AttackLaunchResponse, error) {
	var result api.AttackLaunchResponse
	if err := c.do(http.MethodPost, "/attacks", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetStatus sends GET /attacks/{id}/status.
func (c *AttackClient) GetStatus(attackID string) (*api.AttackStatusResponse, error) {
	var result api.AttackStatusResponse
	if err := c.do(http.MethodGet, "/attacks/"+url.PathEscape(attackID)+"/status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetResult sends GET /attacks/{id}/results.
func (c *AttackClient) GetResult(attackID string) (*api.AttackResultResponse, error) {
	var result api.AttackResultResponse
	if err := c.do(http.MethodGet, "/attacks/"+url.PathEscape(attackID)+"/results", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelAttack sends POST /attacks/{id}/cancel.
func (c *AttackClient) CancelAttack(attackID string) (*api.CancelAttackResponse, error) {
	var result api.CancelAttackResponse
	if err := c.do(http.MethodPost, "/attacks/"+url.PathEscape(attackID)+"/cancel", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAttacks sends GET /attacks with the given filters.
func (c *AttackClient) ListAttacks(query url.Values) (*api.AttackListResponse, error) {
	path := "/attacks"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var result api.AttackListResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetWebhookAttempts sends GET /attacks/{id}/webhooks.
func (c *AttackClient) GetWebhookAttempts(attackID string) (*api.WebhookAttemptsResponse, error) {
	var result api.WebhookAttemptsResponse
	if err := c.do(http.MethodGet, "/attacks/"+url.PathEscape(attackID)+"/webhooks", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListModels sends GET /models.
func (c *AttackClient) ListModels(query url.Values) (*api.ModelListResponse, error) {
	path := "/models"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var result api.ModelListResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterModel sends POST /models.
func (c *AttackClient) RegisterModel(req api.RegisterModelRequest) (*api.ModelResponse, error) {
	var result api.ModelResponse
	if err := c.do(http.MethodPost, "/models", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateModelStatus sends PATCH /models/{id}/status.
func (c *AttackClient) UpdateModelStatus(modelID, status string) (*api.ModelResponse, error) {
	var result api.ModelResponse
	req := api.UpdateModelStatusRequest{Status: status}
	if err := c.do(http.MethodPatch, "/models/"+url.PathEscape(modelID)+"/status", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Predict sends POST /predict.
func (c *AttackClient) Predict(req api.PredictRequest) (*api.PredictResponse, error) {
	var result api.PredictResponse
	if err := c.do(http.MethodPost, "/predict", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListMethods sends GET /attack-methods.
func (c *AttackClient) ListMethods() ([]api.AttackMethodResponse, error) {
	var result []api.AttackMethodResponse
	if err := c.do(http.MethodGet, "/attack-methods", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *AttackClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")
	if c.AdminToken != "" {
		httpReq.Header.Add(adminTokenHeader, c.AdminToken)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
			apiErr.Details = errResp.Details
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
