// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package gwservice

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/funcx-faas/container-build-service/internal/builder"
	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/funcx-faas/container-build-service/internal/objectstore"
)

type fakeQueue struct{ enqueued []string }

func (q *fakeQueue) Enqueue(ctx context.Context, containerID string) error {
	q.enqueued = append(q.enqueued, containerID)
	return nil
}

func newTestService() (*Service, *fakeQueue) {
	cat := catalog.NewMemoryCatalog()
	store := objectstore.NewMemoryStore()
	q := &fakeQueue{}
	svc := &Service{
		Catalog: cat,
		Store:   store,
		Queue:   q,
		Builder: &builder.Builder{Catalog: cat, Store: store, SelfTag: "gw-tag", MaxStorage: 1 << 40},
		Alpha:   0.5,
	}
	return svc, q
}

func newMux(svc *Service) http.Handler {
	mux := http.NewServeMux()
	svc.Routes(mux)
	return mux
}

func TestHandleBuildDedupsIdenticalSpec(t *testing.T) {
	svc, q := newTestService()
	mux := newMux(svc)

	body := bytes.NewReader([]byte(`{"pip":["numpy"]}`))
	req := httptest.NewRequest(http.MethodPost, "/build", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first submission: got %d: %s", rec.Code, rec.Body)
	}
	var first BuildResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("expected exactly one dispatched build, got %v", q.enqueued)
	}

	body2 := bytes.NewReader([]byte(`{"pip":["numpy"]}`))
	req2 := httptest.NewRequest(http.MethodPost, "/build", body2)
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("second submission: got %d: %s", rec2.Code, rec2.Body)
	}
	var second BuildResponse
	json.Unmarshal(rec2.Body.Bytes(), &second)
	if second.BuildID == first.BuildID {
		t.Fatal("expected a distinct build id for the second submission")
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("expected the duplicate submission not to dispatch a second build, got %v", q.enqueued)
	}
}

func TestHandleStatusUnknownBuildIs404(t *testing.T) {
	svc, _ := newTestService()
	mux := newMux(svc)

	req := httptest.NewRequest(http.MethodGet, "/nope/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestHandleDockerNotYetBuiltTriggersDispatch(t *testing.T) {
	svc, q := newTestService()
	mux := newMux(svc)

	req := httptest.NewRequest(http.MethodPost, "/build", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var resp BuildResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	q.enqueued = nil // the initial submission already dispatched; isolate the docker-endpoint behavior

	dreq := httptest.NewRequest(http.MethodGet, "/"+resp.BuildID+"/docker", nil)
	drec := httptest.NewRecorder()
	mux.ServeHTTP(drec, dreq)
	if drec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", drec.Code, drec.Body)
	}
	var out struct {
		URL *string `json:"url"`
	}
	json.Unmarshal(drec.Body.Bytes(), &out)
	if out.URL != nil {
		t.Fatalf("expected no url yet, got %v", *out.URL)
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("expected the docker endpoint to dispatch one build, got %v", q.enqueued)
	}
}

func TestHandleDockerfileRejectsTarballBuild(t *testing.T) {
	svc, _ := newTestService()
	mux := newMux(svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("repo", "repo.tar.gz")
	fw.Write([]byte("not a real tarball but nonempty"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/build_advanced", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("build_advanced: got %d: %s", rec.Code, rec.Body)
	}
	var resp BuildResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	dreq := httptest.NewRequest(http.MethodGet, "/"+resp.BuildID+"/dockerfile", nil)
	drec := httptest.NewRecorder()
	mux.ServeHTTP(drec, dreq)
	if drec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a tarball build's dockerfile, got %d", drec.Code)
	}
}
