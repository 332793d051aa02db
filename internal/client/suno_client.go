package client

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

	"github.com/makeasinger/musicgen/internal/config"
	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/internal/model"
)

// MusicGenerator defines the provider operations the orchestrator consumes
type MusicGenerator interface {
	GenerateMusic(ctx context.Context, req *GenerateMusicRequest) (*GenerateMusicResponse, error)
	GetMusicStatus(ctx context.Context, taskID string) (*MusicStatus, error)
	GetCredits(ctx context.Context) (int, error)
}

// SunoClient implements MusicGenerator for the Suno API
type SunoClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	callbackURL string
}

// GenerateMusicRequest represents the request for music generation
type GenerateMusicRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model,omitempty"`
	CallBackURL  string `json:"callBackUrl,omitempty"`
}

// GenerateMusicResponse represents the response from music generation
type GenerateMusicResponse struct {
	TaskID string `json:"taskId"`
}

// MusicStatus is the normalized status of a generation task
type MusicStatus struct {
	TaskID       string               `json:"taskId"`
	Status       model.ProviderStatus `json:"status"`
	RawStatus    string               `json:"rawStatus"`
	ResultURL    string               `json:"resultUrl,omitempty"`
	Title        string               `json:"title,omitempty"`
	Duration     float64              `json:"duration,omitempty"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
}

// envelope is the provider's outer response shape
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type recordInfo struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		SunoData []struct {
			ID       string  `json:"id"`
			AudioURL string  `json:"audioUrl"`
			Title    string  `json:"title"`
			Duration float64 `json:"duration"`
		} `json:"sunoData"`
	} `json:"response"`
}

// NewSunoClient creates a new Suno API client
func NewSunoClient(cfg *config.SunoConfig) *SunoClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SunoClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		callbackURL: cfg.CallbackURL,
	}
}

// GenerateMusic submits a generation task and returns the provider task id
func (c *SunoClient) GenerateMusic(ctx context.Context, req *GenerateMusicRequest) (*GenerateMusicResponse, error) {
	body := *req
	if body.Model == "" {
		body.Model = c.model
	}
	if body.CallBackURL == "" {
		body.CallBackURL = c.callbackURL
	}
	body.CustomMode = body.Style != "" || body.Title != ""

	var result GenerateMusicResponse
	if err := c.post(ctx, "/api/v1/generate", &body, &result); err != nil {
		return nil, err
	}
	if result.TaskID == "" {
		return nil, &ProviderError{Kind: KindUnexpectedResponse, Message: "generate response has no taskId"}
	}
	return &result, nil
}

// GetMusicStatus retrieves the status of a music generation task
func (c *SunoClient) GetMusicStatus(ctx context.Context, taskID string) (*MusicStatus, error) {
	endpoint := "/api/v1/generate/record-info?taskId=" + url.QueryEscape(taskID)
	var info recordInfo
	if err := c.get(ctx, endpoint, &info); err != nil {
		return nil, err
	}

	status := &MusicStatus{
		TaskID:       taskID,
		RawStatus:    info.Status,
		Status:       model.NormalizeProviderStatus(info.Status),
		ErrorMessage: info.ErrorMessage,
	}
	for _, track := range info.Response.SunoData {
		if track.AudioURL != "" {
			status.ResultURL = track.AudioURL
			status.Title = track.Title
			status.Duration = track.Duration
			break
		}
	}
	if status.Status == model.ProviderStatusFailed && status.ErrorMessage == "" {
		status.ErrorMessage = fmt.Sprintf("generation failed: %s", info.Status)
	}
	return status, nil
}

// GetCredits returns the remaining credit balance
func (c *SunoClient) GetCredits(ctx context.Context) (int, error) {
	var credits float64
	if err := c.get(ctx, "/api/v1/generate/credit", &credits); err != nil {
		return 0, err
	}
	return int(credits), nil
}

// post sends a POST request with JSON body
func (c *SunoClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *SunoClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request, unwraps the provider envelope and
// classifies every failure into a ProviderError
func (c *SunoClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log := logger.WithFields(logger.Fields{"method": req.Method, "url": req.URL.Path})
	log.Debug("[Suno API] →")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warnf("[Suno API] ✗ request failed: %v", err)
		return &ProviderError{Kind: KindUnavailable, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warnf("[Suno API] ✗ failed to read response: %v", err)
		return &ProviderError{Kind: KindUnavailable, StatusCode: resp.StatusCode, Message: "failed to read response", Cause: err}
	}

	log.WithField("status", resp.StatusCode).Debugf("[Suno API] ← %s", string(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Msg != "" {
			msg = env.Msg
		}
		return &ProviderError{
			Kind:       classifyStatus(resp.StatusCode, msg),
			StatusCode: resp.StatusCode,
			Message:    msg,
			Body:       string(respBody),
		}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		log.Errorf("[Suno API] ✗ unmarshal error: %v (body: %s)", err, string(respBody))
		return &ProviderError{Kind: KindUnexpectedResponse, StatusCode: resp.StatusCode, Message: "malformed response", Body: string(respBody), Cause: err}
	}
	if env.Code != 0 && env.Code != http.StatusOK {
		return &ProviderError{
			Kind:       classifyStatus(env.Code, env.Msg),
			StatusCode: env.Code,
			Message:    env.Msg,
			Body:       string(respBody),
		}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		log.Errorf("[Suno API] ✗ response has no data (body: %s)", string(respBody))
		return &ProviderError{Kind: KindUnexpectedResponse, StatusCode: resp.StatusCode, Message: "response has no data", Body: string(respBody)}
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		log.Errorf("[Suno API] ✗ unmarshal data error: %v (body: %s)", err, string(respBody))
		return &ProviderError{Kind: KindUnexpectedResponse, StatusCode: resp.StatusCode, Message: "malformed response data", Body: string(respBody), Cause: err}
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SunoClient) IsConfigured() bool {
	return c.apiKey != ""
}
