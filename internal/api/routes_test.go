package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scivid/scivid/internal/db"
	"github.com/scivid/scivid/internal/jobs"
	"github.com/scivid/scivid/internal/media"
	"github.com/scivid/scivid/internal/pipeline"
	"github.com/scivid/scivid/internal/playback"
	"github.com/scivid/scivid/internal/progress"
	"github.com/scivid/scivid/internal/session"
)

const (
	testToken = "test-token-0123456789"
	testPDF   = "%PDF-1.4\n%%EOF\n"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupAPI(t *testing.T) (*jobs.Service, *jobs.SQLiteRepository, *session.Store) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "api.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store, err := session.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	repo := jobs.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatal(err)
	}
	return jobs.NewService(repo, store, nil), repo, store
}

type fakeRunner struct {
	paused bool
	active *jobs.Job
}

func (f *fakeRunner) Pause()               { f.paused = true }
func (f *fakeRunner) Resume()              { f.paused = false }
func (f *fakeRunner) IsPaused() bool       { return f.paused }
func (f *fakeRunner) ActiveJob() *jobs.Job { return f.active }

type fakeTimeline struct {
	err error
}

func (f *fakeTimeline) Timeline(ctx context.Context, sess *session.Session) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "TITLE: " + sess.ID + "\n", nil
}

type fakeProber struct {
	caps *media.Capabilities
}

func (f *fakeProber) RunDoctor(ctx context.Context) (*media.Capabilities, error) {
	if f.caps == nil {
		return nil, errors.New("ffmpeg not found")
	}
	return f.caps, nil
}

type testEnv struct {
	cfg     ServerConfig
	service *jobs.Service
	repo    *jobs.SQLiteRepository
	store   *session.Store
	runner  *fakeRunner
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	service, repo, store := setupAPI(t)
	runner := &fakeRunner{}
	cfg := ServerConfig{
		Service:        service,
		Repository:     repo,
		Runner:         runner,
		Timeline:       &fakeTimeline{},
		PlaybackServer: playback.NewServer(nil),
		APIKey:         "AIzaSyExampleKey1234",
		Logger:         discardLogger(),
		StartTime:      time.Now(),
	}
	return &testEnv{cfg: cfg, service: service, repo: repo, store: store, runner: runner, router: NewRouter(cfg)}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) createSession(t *testing.T) *jobs.SessionRecord {
	t.Helper()
	rec, err := e.service.CreateSession(context.Background(), "paper.pdf", strings.NewReader(testPDF), "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	return rec
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	return body
}

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
	if body := decodeJSONBody(t, rr); body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range []string{"/status", "/sessions", "/jobs", "/styles"} {
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want %d", target, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestStatusHandler_NilDoctor(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Doctor = nil

	rr := httptest.NewRecorder()
	statusHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if _, ok := body["toolchain"]; ok {
		t.Fatal("toolchain should be omitted when doctor is nil")
	}
	if body["state"] != "idle" {
		t.Errorf("state = %v, want idle", body["state"])
	}
	key, ok := body["api_key"].(map[string]interface{})
	if !ok || key["configured"] != true || key["masked"] != "AIza...1234" {
		t.Errorf("api_key = %v", body["api_key"])
	}
}

func TestStatusHandler_EmptyCache(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Doctor = media.NewCachedDoctor(&fakeProber{}, discardLogger())

	rr := httptest.NewRecorder()
	statusHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	if _, ok := decodeJSONBody(t, rr)["toolchain"]; ok {
		t.Fatal("toolchain should be omitted when cache is empty")
	}
}

func TestStatusHandler_WithCachedCaps(t *testing.T) {
	env := newTestEnv(t)
	doctor := media.NewCachedDoctor(&fakeProber{caps: &media.Capabilities{
		FFmpeg:    media.ToolInfo{Available: true, Version: "6.1"},
		FFprobe:   media.ToolInfo{Available: true, Version: "6.1"},
		HasConcat: true,
		HasProbe:  true,
		ProbedAt:  time.Now(),
	}}, discardLogger())
	if _, err := doctor.Refresh(context.Background()); err != nil {
		t.Fatalf("doctor.Refresh() error = %v", err)
	}
	env.cfg.Doctor = doctor

	rr := httptest.NewRecorder()
	statusHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))

	toolchain, ok := decodeJSONBody(t, rr)["toolchain"].(map[string]interface{})
	if !ok {
		t.Fatal("toolchain missing from response")
	}
	if toolchain["has_concat"] != true {
		t.Errorf("toolchain.has_concat = %v, want true", toolchain["has_concat"])
	}
	if toolchain["last_probe_at"] == nil {
		t.Error("toolchain.last_probe_at missing")
	}
}

func TestStatusHandler_States(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := env.createSession(t)

	job, err := env.service.EnqueueStage(ctx, rec.ID, pipeline.StageScript)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.repo.UpdateJobStatus(ctx, job.ID, jobs.StatusFailed, "quota exceeded"); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	statusHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	body := decodeJSONBody(t, rr)
	if body["state"] != "error" || body["last_error"] != "quota exceeded" {
		t.Errorf("state = %v, last_error = %v, want error/quota exceeded", body["state"], body["last_error"])
	}

	env.runner.active = job
	rr = httptest.NewRecorder()
	statusHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	body = decodeJSONBody(t, rr)
	if body["state"] != "running" || body["active_job"] == nil {
		t.Errorf("state = %v, active_job = %v, want running with active job", body["state"], body["active_job"])
	}

	env.runner.paused = true
	rr = httptest.NewRecorder()
	statusHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if got := decodeJSONBody(t, rr)["state"]; got != "paused" {
		t.Errorf("state = %v, want paused", got)
	}
}

func TestAPIKeyStatus(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.APIKey = ""

	rr := httptest.NewRecorder()
	apiKeyStatusHandler(env.cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/apikey/status", nil))
	body := decodeJSONBody(t, rr)
	if body["configured"] != false {
		t.Errorf("configured = %v, want false", body["configured"])
	}
	if _, ok := body["masked"]; ok {
		t.Error("masked should be omitted without a key")
	}
}

func TestStyles(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/styles", nil, "")

	var resp StylesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Styles) != 4 {
		t.Fatalf("styles = %d, want 4", len(resp.Styles))
	}
	for _, s := range resp.Styles {
		if s.ID == "" || s.DisplayName == "" {
			t.Errorf("incomplete style %+v", s)
		}
	}
}

func TestCreateSession_Multipart(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "attention.pdf")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, testPDF)
	mw.WriteField("style", "anime")
	mw.Close()

	rr := env.do(t, http.MethodPost, "/sessions", &buf, mw.FormDataContentType())
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var resp SessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.PDFName != "attention.pdf" || resp.Style != "anime" {
		t.Errorf("session = %+v", resp)
	}

	sess, err := env.store.Open(resp.ID)
	if err != nil {
		t.Fatalf("session dir missing: %v", err)
	}
	data, err := os.ReadFile(sess.Path(session.SourceFile))
	if err != nil || string(data) != testPDF {
		t.Errorf("stored source = %q, %v", data, err)
	}
}

func TestCreateSession_JSON(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		req      CreateSessionRequest
		wantCode int
		wantName string
	}{
		{
			name:     "plain base64",
			req:      CreateSessionRequest{PDFBase64: base64.StdEncoding.EncodeToString([]byte(testPDF)), FileName: "paper.pdf"},
			wantCode: http.StatusCreated,
			wantName: "paper.pdf",
		},
		{
			name:     "data url with path in name",
			req:      CreateSessionRequest{PDFBase64: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte(testPDF)), FileName: "../../etc/paper.pdf", Style: "academic"},
			wantCode: http.StatusCreated,
			wantName: "paper.pdf",
		},
		{
			name:     "missing payload",
			req:      CreateSessionRequest{FileName: "paper.pdf"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "not base64",
			req:      CreateSessionRequest{PDFBase64: "%%%"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "not a pdf",
			req:      CreateSessionRequest{PDFBase64: base64.StdEncoding.EncodeToString([]byte("hello"))},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown style",
			req:      CreateSessionRequest{PDFBase64: base64.StdEncoding.EncodeToString([]byte(testPDF)), Style: "noir"},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.req)
			rr := env.do(t, http.MethodPost, "/sessions", bytes.NewReader(body), "application/json")
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantName != "" {
				if got := decodeJSONBody(t, rr)["pdf_name"]; got != tt.wantName {
					t.Errorf("pdf_name = %v, want %s", got, tt.wantName)
				}
			}
		})
	}

	// Rejected uploads leave no session directories behind.
	sessions, err := env.store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Errorf("session dirs = %d, want 2", len(sessions))
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createSession(t)

	rr := env.do(t, http.MethodGet, "/sessions", nil, "")
	var list SessionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0].ID != rec.ID {
		t.Fatalf("sessions = %+v", list.Sessions)
	}

	rr = env.do(t, http.MethodPost, "/sessions/"+rec.ID+"/stages/script", nil, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d: %s", rr.Code, rr.Body.String())
	}
	jobID, _ := decodeJSONBody(t, rr)["job_id"].(string)

	rr = env.do(t, http.MethodPost, "/sessions/"+rec.ID+"/run", nil, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("second enqueue status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "CONFLICT" {
		t.Errorf("code = %v, want CONFLICT", code)
	}

	rr = env.do(t, http.MethodGet, "/sessions/"+rec.ID, nil, "")
	var got SessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Jobs) != 1 || got.Jobs[0].ID != jobID {
		t.Errorf("session jobs = %+v", got.Jobs)
	}

	rr = env.do(t, http.MethodGet, "/jobs/"+jobID, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get job status = %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/jobs", nil, "")
	var jl JobsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &jl); err != nil || len(jl.Jobs) != 1 {
		t.Fatalf("jobs = %+v, %v", jl.Jobs, err)
	}

	rr = env.do(t, http.MethodDelete, "/sessions/"+rec.ID, nil, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("delete with open job status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if err := env.repo.UpdateJobStatus(context.Background(), jobID, jobs.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	rr = env.do(t, http.MethodDelete, "/sessions/"+rec.ID, nil, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	rr = env.do(t, http.MethodGet, "/sessions/"+rec.ID, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestEnqueueStage_Errors(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createSession(t)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown stage", "/sessions/" + rec.ID + "/stages/render", http.StatusBadRequest},
		{"unknown session", "/sessions/session_1_missing/stages/script", http.StatusNotFound},
		{"invalid session id", "/sessions/..%2Fetc/stages/script", http.StatusNotFound},
		{"run unknown session", "/sessions/session_1_missing/run", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, tt.target, nil, ""); rr.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestSessionResult(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createSession(t)

	rr := env.do(t, http.MethodGet, "/sessions/"+rec.ID+"/result", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	if body["sessionId"] != rec.ID {
		t.Errorf("sessionId = %v, want %s", body["sessionId"], rec.ID)
	}
	if _, ok := body["script"]; ok {
		t.Error("script should be absent before the script stage runs")
	}
}

func TestExportTimeline(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createSession(t)

	rr := env.do(t, http.MethodGet, "/sessions/"+rec.ID+"/export.edl", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(rr.Body.String(), "TITLE: "+rec.ID) {
		t.Errorf("body = %q", rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, rec.ID+".edl") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	env.cfg.Timeline = &fakeTimeline{err: session.ErrMissingInput}
	router := NewRouter(env.cfg)
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+rec.ID+"/export.edl", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "NOT_READY" {
		t.Errorf("code = %v, want NOT_READY", code)
	}
}

func TestRunnerPauseResume(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/runner/pause", nil, "")
	if rr.Code != http.StatusOK || !env.runner.paused {
		t.Fatalf("pause: status = %d, paused = %v", rr.Code, env.runner.paused)
	}
	rr = env.do(t, http.MethodPost, "/runner/resume", nil, "")
	if rr.Code != http.StatusOK || env.runner.paused {
		t.Fatalf("resume: status = %d, paused = %v", rr.Code, env.runner.paused)
	}
	if got := decodeJSONBody(t, rr)["paused"]; got != false {
		t.Errorf("paused = %v, want false", got)
	}
}

func TestEvents_SharesCORSOriginPolicy(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.cfg
	cfg.Hub = progress.NewHub()
	server := httptest.NewServer(NewRouter(cfg))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events?token=" + testToken
	dial := func(origin string) (*http.Response, error) {
		header := http.Header{}
		header.Set("Origin", origin)
		conn, resp, err := websocket.DefaultDialer.Dial(url, header)
		if conn != nil {
			conn.Close()
		}
		return resp, err
	}

	if _, err := dial("http://localhost:5173"); err != nil {
		t.Fatalf("localhost front end refused: %v", err)
	}
	resp, err := dial("https://evil.example")
	if err == nil {
		t.Fatal("foreign origin should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign origin response = %v, want 403", resp)
	}
}

func TestSessionFiles_Integration(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createSession(t)
	sess, err := env.store.Open(rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sess.Path(session.FinalVideoFile), []byte("fake mp4 bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(env.router)
	defer server.Close()

	get := func(method, path, auth string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(method, server.URL+path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		req.Header.Set("Range", "bytes=0-3")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request error: %v", err)
		}
		return resp
	}

	resp := get(http.MethodGet, "/sessions/"+rec.ID+"/files/"+session.FinalVideoFile+"?token="+testToken, "")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent || string(body) != "fake" {
		t.Fatalf("GET status = %d, body = %q", resp.StatusCode, body)
	}

	resp = get(http.MethodHead, sess.PublicPath()+"/"+session.FinalVideoFile, "Bearer "+testToken)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("HEAD status = %d", resp.StatusCode)
	}
	if len(body) != 0 {
		t.Errorf("HEAD response body length = %d, want 0", len(body))
	}

	resp = get(http.MethodGet, "/sessions/session_1_missing/files/final.mp4", "Bearer "+testToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing session status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestSessionFiles_RejectsRemote(t *testing.T) {
	env := newTestEnv(t)
	rec := env.createSession(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+rec.ID+"/files/"+session.SourceFile, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.RemoteAddr = "10.0.0.5:40000"
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}
}
