package api

import (
	"bytes"
	"context"
	"encoding/json"
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

	"github.com/dgallion1/chaptergest/internal/llm"
	"github.com/dgallion1/chaptergest/internal/parser"
	"github.com/dgallion1/chaptergest/internal/pipeline"
	"github.com/dgallion1/chaptergest/internal/sizer"
	"github.com/dgallion1/chaptergest/internal/summarize"
)

const testKey = "test-key"

type testEnv struct {
	srv       *Server
	inputDir  string
	uploadDir string
}

func newTestEnv(t *testing.T, start bool) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	model := llm.NewScriptedClient()
	stats := llm.NewCallStats(time.Hour)

	sumOpts := summarize.DefaultOptions()
	sumOpts.BaseDelay = time.Millisecond
	sumOpts.MaxDelay = time.Millisecond
	runner := pipeline.NewRunner(
		parser.NewExtractor(parser.Options{}, log),
		sizer.New(sizer.Static{}, sizer.DefaultLimits(), log),
		summarize.New(llm.Instrument(model, stats), sumOpts, log),
		stats,
		pipeline.Options{},
		log,
	)
	sched := pipeline.NewScheduler(runner, pipeline.SchedulerConfig{MaxQueue: 4}, log)
	if start {
		sched.Start(context.Background())
		t.Cleanup(sched.Stop)
	}

	env := &testEnv{inputDir: t.TempDir(), uploadDir: t.TempDir()}
	env.srv = NewServer(sched, model, stats, Options{
		APIKey:         testKey,
		InputDir:       env.inputDir,
		UploadDir:      env.uploadDir,
		MaxUploadBytes: 1024,
	}, log)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func waitForStatus(t *testing.T, env *testEnv, runID string) pipeline.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := env.do(t, http.MethodGet, "/api/runs/"+runID, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status endpoint returned %d: %s", rec.Code, rec.Body.String())
		}
		var snap pipeline.JobSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatal(err)
		}
		if snap.Status.Finished() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", runID)
	return pipeline.JobSnapshot{}
}

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t, false)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, false)
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + testKey},
		{"wrong key", "Bearer nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.srv.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if decodeMap(t, rec)["error"] == "" {
				t.Error("expected JSON error body")
			}
		})
	}
}

func TestAuth_EmptyKeyRejectsEverything(t *testing.T) {
	h := AuthMiddleware("", slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with empty server key, got %d", rec.Code)
	}
}

func TestCreateRun_FromInputFolder(t *testing.T) {
	env := newTestEnv(t, true)
	os.WriteFile(filepath.Join(env.inputDir, "b.txt"), []byte("Second paper text."), 0o644)
	os.WriteFile(filepath.Join(env.inputDir, "a.md"), []byte("# First\n\nFirst paper text."), 0o644)
	os.WriteFile(filepath.Join(env.inputDir, "notes.csv"), []byte("ignored"), 0o644)

	rec := env.do(t, http.MethodPost, "/api/runs", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeMap(t, rec)
	runID, _ := body["run_id"].(string)
	if runID == "" || body["documents"] != float64(2) {
		t.Fatalf("unexpected response %v", body)
	}
	if body["poll_url"] != "/api/runs/"+runID {
		t.Errorf("unexpected poll url %v", body["poll_url"])
	}

	snap := waitForStatus(t, env, runID)
	if snap.Status != pipeline.JobCompleted {
		t.Fatalf("expected completed, got %+v", snap)
	}
	if len(snap.Documents) != 2 || snap.Documents[0].DocumentID != "a.md" {
		t.Fatalf("unexpected documents %+v", snap.Documents)
	}

	rec = env.do(t, http.MethodGet, "/api/runs/"+runID+"/chapter", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected chapter, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(rec.Body.String(), "summary: ") {
		t.Errorf("unexpected chapter %q", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/stats/llm", nil, "")
	stats := decodeMap(t, rec)
	if stats["model"] != "scripted-1" || stats["backend"] != llm.ScriptedName {
		t.Fatalf("unexpected stats %v", stats)
	}
	if s, ok := stats["stats"].(map[string]any); !ok || s["calls"] != float64(5) {
		t.Errorf("expected 5 recorded model calls, got %v", stats["stats"])
	}
}

func TestCreateRun_EmptyInputFolder(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/runs", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateRun_Upload(t *testing.T) {
	env := newTestEnv(t, true)
	body, ct := multipartBody(t, map[string]string{
		"../../etc/one.txt": "Uploaded paper one.",
		"two.txt":           "Uploaded paper two.",
	})
	rec := env.do(t, http.MethodPost, "/api/runs", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	runID := decodeMap(t, rec)["run_id"].(string)

	matches, _ := filepath.Glob(filepath.Join(env.uploadDir, "*", "*.txt"))
	if len(matches) != 2 {
		t.Fatalf("expected 2 saved uploads, got %v", matches)
	}
	for _, m := range matches {
		if base := filepath.Base(m); base != "one.txt" && base != "two.txt" {
			t.Errorf("unexpected saved name %q", base)
		}
	}

	if snap := waitForStatus(t, env, runID); snap.Status != pipeline.JobCompleted {
		t.Fatalf("expected completed, got %+v", snap)
	}
}

func TestCreateRun_UploadRejected(t *testing.T) {
	env := newTestEnv(t, false)
	tests := []struct {
		name  string
		files map[string]string
		code  int
	}{
		{"unsupported", map[string]string{"data.csv": "a,b"}, http.StatusBadRequest},
		{"too large", map[string]string{"big.txt": strings.Repeat("x", 2048)}, http.StatusRequestEntityTooLarge},
		{"no files", map[string]string{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.files)
			rec := env.do(t, http.MethodPost, "/api/runs", body, ct)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
	if matches, _ := filepath.Glob(filepath.Join(env.uploadDir, "*", "*")); len(matches) != 0 {
		t.Errorf("rejected uploads should be removed, found %v", matches)
	}
}

func TestRunEndpoints_NotFoundAndNotReady(t *testing.T) {
	env := newTestEnv(t, false)
	if rec := env.do(t, http.MethodGet, "/api/runs/missing", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/runs/missing/chapter", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	os.WriteFile(filepath.Join(env.inputDir, "a.txt"), []byte("text"), 0o644)
	rec := env.do(t, http.MethodPost, "/api/runs", nil, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	runID := decodeMap(t, rec)["run_id"].(string)

	// The scheduler is not started, so the run stays queued.
	rec = env.do(t, http.MethodGet, "/api/runs/"+runID+"/chapter", nil, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(decodeMap(t, rec)["error"].(string), "queued") {
		t.Errorf("expected queued status in error, got %s", rec.Body.String())
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"paper.pdf":           "paper.pdf",
		"../../secret.txt":    "secret.txt",
		`C:\docs\thesis.docx`: "thesis.docx",
		"a..b.md":             "a_b.md",
		"":                    "unnamed",
		"/":                   "unnamed",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
