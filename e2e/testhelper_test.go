package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/musicgen/internal/auth"
	"github.com/makeasinger/musicgen/internal/client"
	"github.com/makeasinger/musicgen/internal/config"
	"github.com/makeasinger/musicgen/internal/handler"
	"github.com/makeasinger/musicgen/internal/middleware"
	"github.com/makeasinger/musicgen/internal/model"
	"github.com/makeasinger/musicgen/internal/queue"
	"github.com/makeasinger/musicgen/internal/service"
	"github.com/makeasinger/musicgen/internal/store"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

// fakeSuno serves the subset of the provider API the orchestrator calls.
type fakeSuno struct {
	mu            sync.Mutex
	credits       int
	generateCode  int // envelope code for /generate, 0 means success
	generateMsg   string
	defaultStatus string
	statuses      map[string]string
	tasks         int
}

func newFakeSuno() *fakeSuno {
	return &fakeSuno{credits: 100, defaultStatus: "PENDING", statuses: make(map[string]string)}
}

// configure mutates the fake under its lock.
func (f *fakeSuno) configure(fn func(f *fakeSuno)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeSuno) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks
}

func (f *fakeSuno) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/v1/generate/credit":
		fmt.Fprintf(w, `{"code":200,"msg":"success","data":%d}`, f.credits)

	case "/api/v1/generate":
		if f.generateCode != 0 {
			fmt.Fprintf(w, `{"code":%d,"msg":%q}`, f.generateCode, f.generateMsg)
			return
		}
		f.tasks++
		taskID := fmt.Sprintf("task-%d", f.tasks)
		f.statuses[taskID] = f.defaultStatus
		fmt.Fprintf(w, `{"code":200,"msg":"success","data":{"taskId":%q}}`, taskID)

	case "/api/v1/generate/record-info":
		taskID := r.URL.Query().Get("taskId")
		status := f.statuses[taskID]
		data := ""
		if status == "SUCCESS" {
			data = fmt.Sprintf(`{"id":"t1","audioUrl":"https://cdn.test/%s.mp3","title":"Rain"}`, taskID)
		}
		fmt.Fprintf(w, `{"code":200,"msg":"success","data":{"taskId":%q,"status":%q,"response":{"sunoData":[%s]}}}`,
			taskID, status, data)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type recordingPostProcessor struct {
	mu   sync.Mutex
	jobs []string
}

func (p *recordingPostProcessor) Enqueue(ctx context.Context, job *model.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job.ID)
	return nil
}

func (p *recordingPostProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	provider *fakeSuno
	store    *store.MemoryStore
	post     *recordingPostProcessor
}

// setupApp wires the real routes and orchestrator against an in-memory
// store and a fake provider. Timings are scaled down to milliseconds.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	provider := newFakeSuno()
	server := httptest.NewServer(provider)
	t.Cleanup(server.Close)

	sunoClient := client.NewSunoClient(&config.SunoConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "V4_5",
		Timeout: 2 * time.Second,
	})

	jobStore := store.NewMemoryStore()
	post := &recordingPostProcessor{}

	svc := service.NewGenerationService(service.Deps{
		Store:         jobStore,
		Queue:         queue.New(queue.Options{Concurrency: 1}),
		Provider:      sunoClient,
		PostProcessor: post,
	}, service.Options{
		ShortPollInterval:      10 * time.Millisecond,
		ShortWaitTimeout:       100 * time.Millisecond,
		BackgroundPollInterval: time.Hour,
		BackgroundTimeout:      time.Hour,
		PreflightCredits:       true,
		MaxPromptLength:        3000,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	validate := validator.New()
	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
	})

	routes := &handler.Routes{
		Generation: handler.NewGenerationHandler(svc, validate),
		Webhook:    handler.NewWebhookHandler(svc),
		Health: handler.NewHealthHandler(fiber.Map{
			"suno":  true,
			"r2":    false,
			"store": "memory",
			"auth":  true,
		}, svc.Stats),
		Auth:    handler.NewAuthHandler(auth.NewHMACVerifier(testJWTSecret)),
		APIAuth: middleware.NewAuthMiddleware(auth.NewHMACVerifier(testJWTSecret)).Authenticate(),
		// no redis: limiter passes everything through
		SubmitLimit: middleware.NewRateLimiter(nil).GenerationLimit(10),
	}
	routes.Register(app)

	return &testApp{app: app, provider: provider, store: jobStore, post: post}
}

// generateToken creates an HMAC JWT token for the default test user.
func generateToken(t *testing.T) string {
	return generateTokenFor(t, testUserID)
}

func generateTokenFor(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueToken(testJWTSecret, userID, "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
