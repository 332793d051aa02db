package e2e

import (
	"net/http"
	"testing"
)

const validGenerationBody = `{"prompt":"lofi beat for studying","channelId":"ch-1","instrumental":true}`

func createGeneration(t *testing.T, ta *testApp, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/generations", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp, parseJSON(t, resp)
}

func TestCreateGeneration_ImmediateSuccess(t *testing.T) {
	ta := setupApp(t)
	ta.provider.configure(func(f *fakeSuno) { f.defaultStatus = "SUCCESS" })

	resp, result := createGeneration(t, ta, validGenerationBody)
	assertStatus(t, resp, http.StatusOK)

	if result["jobId"] == nil || result["jobId"] == "" {
		t.Error("expected 'jobId' in response")
	}
	if result["stage"] != "SUCCESS" {
		t.Errorf("expected stage SUCCESS, got %v", result["stage"])
	}
	if result["resultUrl"] != "https://cdn.test/task-1.mp3" {
		t.Errorf("unexpected resultUrl %v", result["resultUrl"])
	}
	if ta.post.count() != 1 {
		t.Errorf("expected one post-processing dispatch, got %d", ta.post.count())
	}
}

func TestCreateGeneration_PendingThenWebhook(t *testing.T) {
	ta := setupApp(t)

	resp, result := createGeneration(t, ta, validGenerationBody)
	assertStatus(t, resp, http.StatusAccepted)
	if result["stage"] != "PENDING" {
		t.Fatalf("expected stage PENDING, got %v", result["stage"])
	}
	jobID := result["jobId"].(string)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/generations/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	status := parseJSON(t, resp)
	if status["stage"] != "PENDING" || status["terminal"] != false {
		t.Errorf("expected non-terminal PENDING, got %v", status)
	}
	if status["externalTaskId"] != "task-1" {
		t.Errorf("expected externalTaskId task-1, got %v", status["externalTaskId"])
	}

	callback := `{"code":200,"msg":"All generated successfully.","data":{"callbackType":"complete","task_id":"task-1",
		"data":[{"id":"t1","audio_url":"https://cdn.test/hook.mp3","title":"Night Drive"}]}}`
	resp, err = doRequest(ta.app, http.MethodPost, "/webhooks/suno", callback, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	ack := parseJSON(t, resp)
	if ack["recognized"] != true || ack["applied"] != true {
		t.Errorf("expected recognized and applied ack, got %v", ack)
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/generations/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	status = parseJSON(t, resp)
	if status["stage"] != "SUCCESS" || status["terminal"] != true {
		t.Errorf("expected terminal SUCCESS, got %v", status)
	}
	if status["resultUrl"] != "https://cdn.test/hook.mp3" {
		t.Errorf("unexpected resultUrl %v", status["resultUrl"])
	}
	if status["title"] != "Night Drive" {
		t.Errorf("unexpected title %v", status["title"])
	}
	if ta.post.count() != 1 {
		t.Errorf("expected one post-processing dispatch, got %d", ta.post.count())
	}
}

func TestCreateGeneration_ProviderReportsFailure(t *testing.T) {
	ta := setupApp(t)
	ta.provider.configure(func(f *fakeSuno) { f.defaultStatus = "GENERATE_AUDIO_FAILED" })

	resp, result := createGeneration(t, ta, validGenerationBody)
	assertStatus(t, resp, http.StatusOK)

	if result["stage"] != "FAILED" {
		t.Errorf("expected stage FAILED, got %v", result["stage"])
	}
	if result["errorCode"] != "GENERATION_FAILED" {
		t.Errorf("expected errorCode GENERATION_FAILED, got %v", result["errorCode"])
	}
	if ta.post.count() != 0 {
		t.Error("post-processing must not run for failed jobs")
	}
}

func TestCreateGeneration_ProviderErrors(t *testing.T) {
	tests := []struct {
		name    string
		credits int
		code    int
		msg     string
		status  int
		errCode string
	}{
		{"no credits preflight", 0, 0, "", http.StatusPaymentRequired, "NO_CREDITS"},
		{"auth", 100, 401, "invalid api key", http.StatusBadGateway, "PROVIDER_AUTH"},
		{"rate limited", 100, 430, "call frequency too high", http.StatusTooManyRequests, "RATE_LIMITED"},
		{"maintenance", 100, 455, "maintenance", http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE"},
		{"unexpected", 100, 400, "bad request", http.StatusBadGateway, "UNEXPECTED_RESPONSE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := setupApp(t)
			ta.provider.configure(func(f *fakeSuno) {
				f.credits = tt.credits
				f.generateCode = tt.code
				f.generateMsg = tt.msg
			})

			resp, result := createGeneration(t, ta, validGenerationBody)
			assertStatus(t, resp, tt.status)

			errBody, ok := result["error"].(map[string]interface{})
			if !ok {
				t.Fatalf("expected error envelope, got %v", result)
			}
			if errBody["code"] != tt.errCode {
				t.Errorf("expected code %s, got %v", tt.errCode, errBody["code"])
			}
			jobID, _ := errBody["jobId"].(string)
			if jobID == "" {
				t.Fatal("expected jobId in error response")
			}

			// the failed job is still readable
			resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/generations/"+jobID, "")
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, http.StatusOK)
			status := parseJSON(t, resp)
			if status["stage"] != "FAILED" || status["errorCode"] != tt.errCode {
				t.Errorf("expected FAILED/%s, got %v", tt.errCode, status)
			}
		})
	}
}

func TestCreateGeneration_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/generations", validGenerationBody, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestCreateGeneration_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `prompt=x`},
		{"missing prompt", `{"channelId":"ch-1"}`},
		{"missing channel", `{"prompt":"x"}`},
		{"blank prompt", `{"prompt":"   ","channelId":"ch-1"}`},
		{"unknown model", `{"prompt":"x","channelId":"ch-1","model":"V1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, result := createGeneration(t, ta, tt.body)
			assertStatus(t, resp, http.StatusBadRequest)
			errBody, _ := result["error"].(map[string]interface{})
			if errBody["code"] != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %v", result)
			}
		})
	}

	if n := ta.provider.taskCount(); n != 0 {
		t.Errorf("provider must not be called for invalid input, got %d tasks", n)
	}
}

func TestGetGeneration_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/generations/does-not-exist", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestGetGeneration_OtherUser(t *testing.T) {
	ta := setupApp(t)

	_, result := createGeneration(t, ta, validGenerationBody)
	jobID := result["jobId"].(string)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/generations/"+jobID, "", map[string]string{
		"Authorization": "Bearer " + generateTokenFor(t, "someone-else"),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestProviderCredits(t *testing.T) {
	ta := setupApp(t)
	ta.provider.configure(func(f *fakeSuno) { f.credits = 42 })

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/provider/credits", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)
	if body := parseJSON(t, resp); body["credits"] != float64(42) {
		t.Errorf("expected 42 credits, got %v", body["credits"])
	}
}
