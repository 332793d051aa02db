package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/musicgen/internal/config"
	"github.com/makeasinger/musicgen/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *SunoClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewSunoClient(&config.SunoConfig{
		APIKey:      "test-key",
		BaseURL:     server.URL,
		Model:       "V4_5",
		CallbackURL: "https://api.example.com/webhooks/suno",
		Timeout:     2 * time.Second,
	})
}

func TestGenerateMusic(t *testing.T) {
	var got GenerateMusicRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"abc123"}}`))
	})

	resp, err := c.GenerateMusic(context.Background(), &GenerateMusicRequest{Prompt: "lofi beat"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", resp.TaskID)
	assert.Equal(t, "lofi beat", got.Prompt)
	assert.Equal(t, "V4_5", got.Model)
	assert.Equal(t, "https://api.example.com/webhooks/suno", got.CallBackURL)
	assert.False(t, got.CustomMode)
}

func TestGenerateMusic_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"http 401", http.StatusUnauthorized, `{"code":401,"msg":"invalid key"}`, KindAuth},
		{"envelope 401", http.StatusOK, `{"code":401,"msg":"Unauthorized"}`, KindAuth},
		{"no credits", http.StatusOK, `{"code":429,"msg":"Insufficient credits"}`, KindNoCredits},
		{"payment required", http.StatusPaymentRequired, `{}`, KindNoCredits},
		{"http 429", http.StatusTooManyRequests, `too many`, KindRateLimited},
		{"envelope 430", http.StatusOK, `{"code":430,"msg":"call frequency too high"}`, KindRateLimited},
		{"maintenance", http.StatusOK, `{"code":455,"msg":"maintenance"}`, KindUnavailable},
		{"http 502", http.StatusBadGateway, `bad gateway`, KindUnavailable},
		{"garbage", http.StatusOK, `<html>`, KindUnexpectedResponse},
		{"missing task id", http.StatusOK, `{"code":200,"msg":"success","data":{}}`, KindUnexpectedResponse},
		{"null data", http.StatusOK, `{"code":200,"msg":"success","data":null}`, KindUnexpectedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.GenerateMusic(context.Background(), &GenerateMusicRequest{Prompt: "x"})
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestGenerateMusic_Unreachable(t *testing.T) {
	c := NewSunoClient(&config.SunoConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := c.GenerateMusic(context.Background(), &GenerateMusicRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnavailable))
}

func TestGetMusicStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/generate/record-info", r.URL.Path)
		assert.Equal(t, "abc123", r.URL.Query().Get("taskId"))
		w.Write([]byte(`{"code":200,"msg":"success","data":{
			"taskId":"abc123","status":"SUCCESS",
			"response":{"sunoData":[{"id":"t1","audioUrl":"https://x/a.mp3","title":"Lofi","duration":121.5}]}}}`))
	})

	status, err := c.GetMusicStatus(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, model.ProviderStatusSuccess, status.Status)
	assert.Equal(t, "https://x/a.mp3", status.ResultURL)
	assert.Equal(t, "Lofi", status.Title)
	assert.Equal(t, 121.5, status.Duration)
}

func TestGetMusicStatus_Failed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"abc123","status":"GENERATE_AUDIO_FAILED"}}`))
	})

	status, err := c.GetMusicStatus(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, model.ProviderStatusFailed, status.Status)
	assert.Equal(t, "generation failed: GENERATE_AUDIO_FAILED", status.ErrorMessage)
}

func TestGetCredits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/generate/credit", r.URL.Path)
		w.Write([]byte(`{"code":200,"msg":"success","data":42}`))
	})

	credits, err := c.GetCredits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, credits)
}

func TestProviderError_Code(t *testing.T) {
	assert.Equal(t, model.ErrorCodeNoCredits, (&ProviderError{Kind: KindNoCredits}).Code())
	assert.Equal(t, model.ErrorCodeProviderAuth, (&ProviderError{Kind: KindAuth}).Code())
	assert.Equal(t, model.ErrorCodeUnexpectedResponse, (&ProviderError{Kind: KindUnexpectedResponse}).Code())

	pe := AsProviderError(context.DeadlineExceeded)
	assert.Equal(t, KindUnavailable, pe.Kind)
	assert.ErrorIs(t, pe, context.DeadlineExceeded)
}
