// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// Package gwservice implements the Request Gateway's HTTP surface: the
// client-facing build submission and artifact-retrieval endpoints, plus the
// internal endpoint a taskqueue.Queue dispatches builds back to. Grounded
// on internal/api/apiservice/rebuild.go's Handler-per-route wiring,
// generalized from a single rebuild RPC to the multi-route surface of
// spec §6.
package gwservice

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/funcx-faas/container-build-service/internal/api"
	"github.com/funcx-faas/container-build-service/internal/builder"
	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/funcx-faas/container-build-service/internal/dockerfile"
	"github.com/funcx-faas/container-build-service/internal/hasher"
	"github.com/funcx-faas/container-build-service/internal/matcher"
	"github.com/funcx-faas/container-build-service/internal/objectstore"
	"github.com/funcx-faas/container-build-service/internal/taskqueue"
	"github.com/pkg/errors"
)

// TarballBucket is the object-store bucket tarball submissions are
// uploaded to; cmd/gateway wires Builder.FetchTarball to read back from it.
const TarballBucket = "tarballs"

// Service holds the wiring the Gateway's handlers share.
type Service struct {
	Catalog catalog.Catalog
	Store   objectstore.Store
	Queue   taskqueue.Queue
	Builder *builder.Builder
	Alpha   float64
}

// Routes registers every spec §6 endpoint, plus the internal dispatch
// endpoint, on mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /build", s.handleBuild)
	mux.HandleFunc("POST /build_advanced", s.handleBuildAdvanced)
	mux.HandleFunc("GET /{build_id}/dockerfile", s.handleDockerfile)
	mux.HandleFunc("GET /{build_id}/status", s.handleStatus)
	mux.HandleFunc("GET /{build_id}/docker", s.handleDocker)
	mux.HandleFunc("GET /{build_id}/singularity", s.handleSingularity)
	mux.HandleFunc("GET /{build_id}/build_log", s.handleBuildLog)
	mux.HandleFunc("POST /internal/build", s.handleInternalBuild)
}

// BuildRequest is the JSON body of POST /build: a declarative package list
// per spec §2.
type BuildRequest struct {
	Apt   []string `json:"apt,omitempty"`
	Conda []string `json:"conda,omitempty"`
	Pip   []string `json:"pip,omitempty"`
}

func (r BuildRequest) Validate() error { return nil }

var _ api.Message = BuildRequest{}

// BuildResponse is returned by every submission and artifact-retrieval
// endpoint that yields a build handle.
type BuildResponse struct {
	BuildID string `json:"build_id"`
}

func (s *Service) dispatch(ctx context.Context, containerID string) {
	if err := s.Queue.Enqueue(ctx, containerID); err != nil {
		log.Printf("gwservice: enqueueing build of %s: %v", containerID, err)
	}
}

func (s *Service) handleBuild(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "invalid request body", http.StatusBadRequest)
		return
	}
	spec := hasher.Spec{Apt: req.Apt, Conda: req.Conda, Pip: req.Pip}
	canonical, err := hasher.Canonicalize(spec)
	if err != nil {
		http.Error(rw, "invalid specification", http.StatusBadRequest)
		return
	}
	id, err := hasher.HashSpec(spec)
	if err != nil {
		http.Error(rw, "invalid specification", http.StatusBadRequest)
		return
	}

	created, err := s.Catalog.PutSpec(ctx, canonical, id)
	if err != nil {
		log.Println(errors.Wrap(err, "storing spec"))
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	targetID := id
	if created {
		if matchID, ok, err := matcher.Find(ctx, s.Catalog, spec, s.Alpha); err != nil {
			log.Println(errors.Wrap(err, "matching existing container"))
		} else if ok {
			targetID = matchID
		} else {
			s.dispatch(ctx, id)
		}
	}

	buildID, err := s.Catalog.AddBuild(ctx, targetID)
	if err != nil {
		log.Println(errors.Wrap(err, "adding build"))
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, BuildResponse{BuildID: buildID})
}

func (s *Service) handleBuildAdvanced(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(1 << 30); err != nil {
		http.Error(rw, "invalid multipart body", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("repo")
	if err != nil {
		http.Error(rw, "missing repo file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		http.Error(rw, "reading upload", http.StatusBadRequest)
		return
	}
	id, err := hasher.HashTarball(bytes.NewReader(body))
	if err != nil {
		http.Error(rw, "hashing upload", http.StatusBadRequest)
		return
	}

	if err := s.Store.Put(ctx, TarballBucket, id, bytes.NewReader(body)); err != nil {
		log.Println(errors.Wrap(err, "uploading tarball"))
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	created, err := s.Catalog.PutTarball(ctx, id, id)
	if err != nil {
		log.Println(errors.Wrap(err, "storing tarball reference"))
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	if created {
		s.dispatch(ctx, id)
	}

	buildID, err := s.Catalog.AddBuild(ctx, id)
	if err != nil {
		log.Println(errors.Wrap(err, "adding build"))
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, BuildResponse{BuildID: buildID})
}

func (s *Service) handleDockerfile(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buildID := r.PathValue("build_id")
	specBytes, err := s.Catalog.GetSpec(ctx, buildID)
	if writeCatalogError(rw, err) {
		return
	}
	var spec hasher.Spec
	if err := json.Unmarshal(specBytes, &spec); err != nil {
		log.Println(errors.Wrap(err, "decoding stored spec"))
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.Write(dockerfile.Emit(spec))
}

// StatusResponse is the JSON body of GET /{build_id}/status, mirroring
// catalog.StatusRecord in full so identical recipe_checksum values and
// failure-log urls are observable through the HTTP surface.
type StatusResponse struct {
	BuildID         string    `json:"id"`
	RecipeChecksum  string    `json:"recipe_checksum,omitempty"`
	LastUsed        time.Time `json:"last_used"`
	DockerURL       string    `json:"docker_url,omitempty"`
	DockerSize      *int64    `json:"docker_size,omitempty"`
	DockerLog       string    `json:"docker_log,omitempty"`
	SingularityURL  string    `json:"singularity_url,omitempty"`
	SingularitySize *int64    `json:"singularity_size,omitempty"`
	SingularityLog  string    `json:"singularity_log,omitempty"`
}

func (s *Service) handleStatus(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buildID := r.PathValue("build_id")
	rec, err := s.Catalog.Status(ctx, buildID)
	if writeCatalogError(rw, err) {
		return
	}
	writeJSON(rw, StatusResponse{
		BuildID:         rec.ID,
		RecipeChecksum:  rec.RecipeChecksum,
		LastUsed:        rec.LastUsed,
		DockerURL:       rec.DockerURL,
		DockerSize:      rec.DockerSize,
		DockerLog:       rec.DockerLog,
		SingularityURL:  rec.SingularityURL,
		SingularitySize: rec.SingularitySize,
		SingularityLog:  rec.SingularityLog,
	})
}

func (s *Service) handleDocker(rw http.ResponseWriter, r *http.Request) {
	s.handleArtifact(rw, r, s.Catalog.DockerURL)
}

func (s *Service) handleSingularity(rw http.ResponseWriter, r *http.Request) {
	s.handleArtifact(rw, r, s.Catalog.SingularityURL)
}

// handleArtifact implements the shared shape of GET /docker and
// GET /singularity: return the signed url if ready, or kick off a rebuild
// (idempotent via single-flight) and report not-ready if it was evicted or
// never started.
func (s *Service) handleArtifact(rw http.ResponseWriter, r *http.Request, lookup func(context.Context, string) (string, string, error)) {
	ctx := r.Context()
	buildID := r.PathValue("build_id")
	containerID, url, err := lookup(ctx, buildID)
	if writeCatalogError(rw, err) {
		return
	}
	if url == "" {
		s.dispatch(ctx, containerID)
		writeJSON(rw, struct {
			URL *string `json:"url"`
		}{})
		return
	}
	writeJSON(rw, struct {
		URL string `json:"url"`
	}{URL: url})
}

func (s *Service) handleBuildLog(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buildID := r.PathValue("build_id")
	rec, err := s.Catalog.Status(ctx, buildID)
	if writeCatalogError(rw, err) {
		return
	}
	if rec.DockerLog == "" {
		http.Error(rw, "not found", http.StatusNotFound)
		return
	}
	http.Redirect(rw, r, rec.DockerLog, http.StatusFound)
}

type internalBuildRequest struct {
	ContainerID string `json:"container_id"`
}

func (s *Service) handleInternalBuild(rw http.ResponseWriter, r *http.Request) {
	var req internalBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContainerID == "" {
		http.Error(rw, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Builder.Run(r.Context(), req.ContainerID); err != nil {
		log.Println(errors.Wrap(err, "running build"))
		http.Error(rw, "internal error", http.StatusInternalServerError)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Println(errors.Wrap(err, "encoding response"))
	}
}

// writeCatalogError writes the HTTP status for a Catalog sentinel error and
// reports whether it did so (i.e. whether the caller should stop).
func writeCatalogError(rw http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if !errors.Is(err, catalog.ErrNotFound) && !errors.Is(err, catalog.ErrBadRequest) && !errors.Is(err, catalog.ErrGone) {
		log.Println(errors.Wrap(err, "catalog operation"))
	}
	code := api.HTTPStatus(err)
	http.Error(rw, http.StatusText(code), code)
	return true
}
