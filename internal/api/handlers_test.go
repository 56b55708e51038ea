package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/ManimStudio/internal/errors"
	"github.com/Corphon/ManimStudio/internal/models"
	"github.com/Corphon/ManimStudio/internal/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakePipeline struct {
	result  *models.RunResult
	prompts []string
}

func (f *fakePipeline) Run(_ context.Context, prompt string) *models.RunResult {
	f.prompts = append(f.prompts, prompt)
	return f.result
}

type fakeRuns struct {
	runs      map[string]*models.Run
	lastLimit int
}

func (f *fakeRuns) Get(id string) (*models.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("run "+id+" not found", nil)
	}
	return run, nil
}

func (f *fakeRuns) Delete(id string) error {
	run, ok := f.runs[id]
	if !ok {
		return apperrors.NewNotFoundError("run "+id+" not found", nil)
	}
	if !run.Status.Terminal() {
		return apperrors.NewValidationError("run "+id+" is still "+string(run.Status), nil)
	}
	delete(f.runs, id)
	return nil
}

func (f *fakeRuns) List(limit int) ([]*models.Run, error) {
	f.lastLimit = limit
	out := make([]*models.Run, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

type fakeChecker struct{ err error }

func (f fakeChecker) Check(context.Context) error { return f.err }

type fakeStatus map[string]string

func (f fakeStatus) Describe() map[string]string { return f }

func newTestHandler(pipeline *fakePipeline, runs *fakeRuns) *Handler {
	if runs == nil {
		runs = &fakeRuns{runs: map[string]*models.Run{}}
	}
	return &Handler{
		Pipeline:        pipeline,
		Runs:            runs,
		LLM:             fakeStatus{"provider": "google", "ready": "true"},
		Renderer:        fakeChecker{},
		Metrics:         utils.NewRunMetricsWith(utils.NewMetricsCollector(), utils.NewLogger(io.Discard)),
		Response:        NewResponseHelper(false),
		MaxPromptLength: 4000,
	}
}

func newTestRouter(t *testing.T, h *Handler, opts RouterOptions) *gin.Engine {
	t.Helper()
	r, err := NewRouter(h, opts)
	if err != nil {
		t.Fatalf("NewRouter err=%v", err)
	}
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestIndexPage(t *testing.T) {
	r := newTestRouter(t, newTestHandler(&fakePipeline{}, nil), RouterOptions{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<textarea") || !strings.Contains(body, pageTitle) {
		t.Fatalf("unexpected page %q", body)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
}

func TestRenderAPIStatusMapping(t *testing.T) {
	cases := []struct {
		status   models.RunStatus
		httpCode int
		code     string
	}{
		{models.RunStatusSucceeded, http.StatusOK, ""},
		{models.RunStatusRejected, http.StatusBadRequest, ErrorValidation},
		{models.RunStatusGenerationFailed, http.StatusUnprocessableEntity, ErrorGenerationFailed},
		{models.RunStatusRenderFailed, http.StatusUnprocessableEntity, ErrorRenderFailed},
		{models.RunStatusRenderTimedOut, http.StatusGatewayTimeout, ErrorRenderTimedOut},
		{models.RunStatusArtifactNotFound, http.StatusUnprocessableEntity, ErrorArtifactNotFound},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			result := &models.RunResult{RunID: "run-1", Status: tc.status}
			if tc.status == models.RunStatusSucceeded {
				result.ArtifactPath = "/tmp/run-1.mp4"
			} else {
				result.Error = "boom"
			}
			pipeline := &fakePipeline{result: result}
			r := newTestRouter(t, newTestHandler(pipeline, nil), RouterOptions{})

			w := doJSON(r, http.MethodPost, "/api/render", `{"prompt":"explain the pythagorean theorem"}`)
			if w.Code != tc.httpCode {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.httpCode, w.Body.String())
			}
			resp := decode(t, w)
			if tc.code == "" {
				if !resp.Success || resp.Error != nil {
					t.Fatalf("expected success, got %+v", resp)
				}
			} else {
				if resp.Success || resp.Error == nil || resp.Error.Code != tc.code {
					t.Fatalf("expected code %s, got %+v", tc.code, resp.Error)
				}
				if resp.Error.Message != "boom" {
					t.Fatalf("message=%q", resp.Error.Message)
				}
			}
			if resp.RequestID == "" {
				t.Fatal("missing request id")
			}
			if len(pipeline.prompts) != 1 || pipeline.prompts[0] != "explain the pythagorean theorem" {
				t.Fatalf("pipeline got %v", pipeline.prompts)
			}
		})
	}
}

func TestRenderAPIBadBody(t *testing.T) {
	pipeline := &fakePipeline{}
	r := newTestRouter(t, newTestHandler(pipeline, nil), RouterOptions{})

	w := doJSON(r, http.MethodPost, "/api/render", `{"prompt":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if resp := decode(t, w); resp.Error == nil || resp.Error.Code != ErrorBadRequest {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(pipeline.prompts) != 0 {
		t.Fatal("pipeline should not run on a bad body")
	}
}

func postForm(r http.Handler, prompt string) *httptest.ResponseRecorder {
	form := url.Values{"prompt": {prompt}}
	req := httptest.NewRequest(http.MethodPost, "/render", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRenderPage(t *testing.T) {
	pipeline := &fakePipeline{result: &models.RunResult{
		RunID:        "abc",
		Status:       models.RunStatusSucceeded,
		ArtifactPath: "/runs/abc/abc.mp4",
	}}
	r := newTestRouter(t, newTestHandler(pipeline, nil), RouterOptions{})

	w := postForm(r, "draw a circle")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `src="/videos/abc"`) {
		t.Fatalf("video not embedded: %s", body)
	}

	pipeline.result = &models.RunResult{RunID: "def", Status: models.RunStatusRenderFailed, Error: "manim exited with code 1"}
	w = postForm(r, "draw a circle")
	body := w.Body.String()
	if !strings.Contains(body, "Error: manim exited with code 1") {
		t.Fatalf("error message missing: %s", body)
	}
	if strings.Contains(body, "<video") {
		t.Fatal("failed run should not embed a video")
	}
}

func TestRenderRateLimit(t *testing.T) {
	pipeline := &fakePipeline{result: &models.RunResult{Status: models.RunStatusRejected, Error: "prompt must not be empty"}}
	r := newTestRouter(t, newTestHandler(pipeline, nil), RouterOptions{RenderRateLimit: 1})

	if w := doJSON(r, http.MethodPost, "/api/render", `{"prompt":""}`); w.Code != http.StatusBadRequest {
		t.Fatalf("first request status=%d", w.Code)
	}
	w := doJSON(r, http.MethodPost, "/api/render", `{"prompt":""}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status=%d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining=%q", w.Header().Get("X-RateLimit-Remaining"))
	}
	if len(pipeline.prompts) != 1 {
		t.Fatalf("pipeline ran %d times", len(pipeline.prompts))
	}

	// read-only routes are not limited
	if w := doJSON(r, http.MethodGet, "/api/runs", ""); w.Code != http.StatusOK {
		t.Fatalf("runs status=%d", w.Code)
	}
}

func TestRenderPageRateLimit(t *testing.T) {
	pipeline := &fakePipeline{result: &models.RunResult{Status: models.RunStatusRejected, Error: "prompt must not be empty"}}
	r := newTestRouter(t, newTestHandler(pipeline, nil), RouterOptions{RenderRateLimit: 1})

	if w := postForm(r, "draw a circle"); w.Code != http.StatusOK {
		t.Fatalf("first submission status=%d", w.Code)
	}
	w := postForm(r, "draw a square")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second submission status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type=%q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Error: rate limit exceeded") {
		t.Fatalf("rate limit message missing: %s", body)
	}
	if !strings.Contains(body, "draw a square") {
		t.Fatalf("prompt not kept: %s", body)
	}
	if len(pipeline.prompts) != 1 {
		t.Fatalf("pipeline ran %d times", len(pipeline.prompts))
	}

	// the page and the JSON endpoint share one budget per client
	w = doJSON(r, http.MethodPost, "/api/render", `{"prompt":"x"}`)
	if w.Code != http.StatusTooManyRequests || decode(t, w).Error.Code != ErrorRateLimited {
		t.Fatalf("api status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	if !rl.Allow("ip", 2, time.Hour) || !rl.Allow("ip", 2, time.Hour) {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("ip", 2, time.Hour) {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("other", 2, time.Hour) {
		t.Fatal("keys are independent")
	}

	now = now.Add(time.Hour + time.Second)
	if !rl.Allow("ip", 2, time.Hour) {
		t.Fatal("new window should allow again")
	}
}

func TestRunsEndpoints(t *testing.T) {
	runs := &fakeRuns{runs: map[string]*models.Run{
		"r1": {ID: "r1", Prompt: "circle", Status: models.RunStatusSucceeded},
	}}
	r := newTestRouter(t, newTestHandler(&fakePipeline{}, runs), RouterOptions{})

	w := doJSON(r, http.MethodGet, "/api/runs/r1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}
	data, _ := decode(t, w).Data.(map[string]interface{})
	if data["prompt"] != "circle" {
		t.Fatalf("unexpected run %v", data)
	}

	w = doJSON(r, http.MethodGet, "/api/runs/missing", "")
	if w.Code != http.StatusNotFound || decode(t, w).Error.Code != ErrorRunNotFound {
		t.Fatalf("missing run status=%d body=%s", w.Code, w.Body.String())
	}

	if w := doJSON(r, http.MethodGet, "/api/runs?limit=5", ""); w.Code != http.StatusOK || runs.lastLimit != 5 {
		t.Fatalf("list status=%d limit=%d", w.Code, runs.lastLimit)
	}
	for _, bad := range []string{"abc", "0", "1000"} {
		if w := doJSON(r, http.MethodGet, "/api/runs?limit="+bad, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s status=%d", bad, w.Code)
		}
	}
}

func TestDeleteRun(t *testing.T) {
	runs := &fakeRuns{runs: map[string]*models.Run{
		"done": {ID: "done", Status: models.RunStatusRenderFailed},
		"busy": {ID: "busy", Status: models.RunStatusRendering},
	}}
	r := newTestRouter(t, newTestHandler(&fakePipeline{}, runs), RouterOptions{})

	w := doJSON(r, http.MethodDelete, "/api/runs/done", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", w.Code, w.Body.String())
	}
	if _, ok := runs.runs["done"]; ok {
		t.Fatal("run still present")
	}

	w = doJSON(r, http.MethodDelete, "/api/runs/done", "")
	if w.Code != http.StatusNotFound || decode(t, w).Error.Code != ErrorRunNotFound {
		t.Fatalf("repeat delete status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodDelete, "/api/runs/busy", "")
	if w.Code != http.StatusConflict || decode(t, w).Error.Code != ErrorRunInProgress {
		t.Fatalf("busy delete status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestServeVideo(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "r1.mp4")
	if err := os.WriteFile(video, []byte("fake-mp4"), 0644); err != nil {
		t.Fatal(err)
	}
	runs := &fakeRuns{runs: map[string]*models.Run{
		"r1": {ID: "r1", ArtifactPath: video},
		"r2": {ID: "r2", Status: models.RunStatusRenderFailed},
		"r3": {ID: "r3", ArtifactPath: filepath.Join(dir, "gone.mp4")},
	}}
	r := newTestRouter(t, newTestHandler(&fakePipeline{}, runs), RouterOptions{})

	w := doJSON(r, http.MethodGet, "/videos/r1", "")
	if w.Code != http.StatusOK || w.Body.String() != "fake-mp4" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("content type %q", ct)
	}

	for _, id := range []string{"r2", "r3", "nope"} {
		if w := doJSON(r, http.MethodGet, "/videos/"+id, ""); w.Code != http.StatusNotFound {
			t.Fatalf("%s status=%d", id, w.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&fakePipeline{}, nil)
	r := newTestRouter(t, h, RouterOptions{})

	w := doJSON(r, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	data, _ := decode(t, w).Data.(map[string]interface{})
	if data["status"] != "ok" || data["object_store"] != "disabled" {
		t.Fatalf("unexpected report %v", data)
	}

	h.Renderer = fakeChecker{err: errors.New("docker daemon unreachable")}
	h.Store = fakeChecker{}
	w = doJSON(r, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	resp := decode(t, w)
	data, _ = resp.Data.(map[string]interface{})
	if data["renderer"] != "docker daemon unreachable" || data["object_store"] != "ok" || resp.Error.Code != ErrorServiceUnhealthy {
		t.Fatalf("unexpected report %v", data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(&fakePipeline{}, nil)
	r := newTestRouter(t, h, RouterOptions{})

	doJSON(r, http.MethodGet, "/", "")
	w := doJSON(r, http.MethodGet, "/api/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := h.Metrics.Collector().GetCounterValue("api_requests_total"); got < 1 {
		t.Fatalf("api_requests_total=%d", got)
	}
}
