package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jamesenh/novelgen/internal/providers"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{ProjectsRoot: t.TempDir(), Providers: providers.Default()})
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateAndGetProject(t *testing.T) {
	_, ts := testServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "alpha", Author: "a"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/projects/alpha", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateProject_DuplicateConflicts(t *testing.T) {
	_, ts := testServer(t)

	doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "alpha"}).Body.Close()
	resp := doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "alpha"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate create, got %d", resp.StatusCode)
	}
}

func TestGetProject_MissingIs404(t *testing.T) {
	_, ts := testServer(t)
	resp := doJSON(t, http.MethodGet, ts.URL+"/projects/nope", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListProjects(t *testing.T) {
	_, ts := testServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "alpha"}).Body.Close()
	doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "beta"}).Body.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/projects", nil)
	var body struct {
		Projects []string `json:"projects"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Projects) != 2 {
		t.Fatalf("expected 2 projects, got %v", body.Projects)
	}
}

func TestDeleteProject(t *testing.T) {
	_, ts := testServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "alpha"}).Body.Close()

	resp := doJSON(t, http.MethodDelete, ts.URL+"/projects/alpha", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/projects/alpha", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected deleted project to 404, got %d", resp.StatusCode)
	}
}

func TestGenerate_CompletesAndReportsStatus(t *testing.T) {
	_, ts := testServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "alpha"}).Body.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/projects/alpha/generate", GenerateRequest{
		NumChapters: 1,
		Prompt:      "a reluctant hero in an invented world",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	var status GenerateStatusResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/projects/alpha/generate/status", nil)
		decodeJSON(t, resp, &status)
		if status.Status != StatusRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.Status != StatusCompleted {
		t.Fatalf("expected the generation task to complete, got %+v", status)
	}
}

func TestGenerate_ConflictsWhileRunning(t *testing.T) {
	s, ts := testServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "alpha"}).Body.Close()

	s.mu.Lock()
	s.tasks["alpha"] = &task{id: "t1", status: StatusRunning}
	s.mu.Unlock()

	resp := doJSON(t, http.MethodPost, ts.URL+"/projects/alpha/generate", GenerateRequest{NumChapters: 1, Prompt: "x"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 while a task is already running, got %d", resp.StatusCode)
	}
}

func TestStop_UnknownProjectTaskIs404(t *testing.T) {
	_, ts := testServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/projects/ghost/generate/stop", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 stopping a project with no running task, got %d", resp.StatusCode)
	}
}

func TestGenerateStatus_UnknownProjectIsIdle(t *testing.T) {
	_, ts := testServer(t)
	resp := doJSON(t, http.MethodGet, ts.URL+"/projects/ghost/generate/status", nil)
	var status GenerateStatusResponse
	decodeJSON(t, resp, &status)
	if status.Status != StatusIdle {
		t.Fatalf("expected idle status for a project with no task history, got %+v", status)
	}
}

func TestRollback_RequiresStepOrChapter(t *testing.T) {
	_, ts := testServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "alpha"}).Body.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/projects/alpha/rollback", RollbackRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 with neither step nor chapter set, got %d", resp.StatusCode)
	}
}

func TestGetState_BeforeAnyRunIs404(t *testing.T) {
	_, ts := testServer(t)
	doJSON(t, http.MethodPost, ts.URL+"/projects", CreateProjectRequest{ProjectName: "alpha"}).Body.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/projects/alpha/state", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any generation has run, got %d", resp.StatusCode)
	}
}
