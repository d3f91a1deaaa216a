// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// gateway is the Request Gateway binary: it serves the public build
// submission and artifact-retrieval HTTP surface, wiring a Catalog,
// object-store, and Builder together, and dispatching background builds
// either to Cloud Tasks or to an in-process worker pool.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	gcs "cloud.google.com/go/storage"
	"github.com/funcx-faas/container-build-service/internal/builder"
	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/funcx-faas/container-build-service/internal/gwservice"
	"github.com/funcx-faas/container-build-service/internal/objectstore"
	"github.com/funcx-faas/container-build-service/internal/taskqueue"
	"github.com/pkg/errors"
)

var (
	project         = flag.String("project", "", "GCP project for Firestore, GCS and Cloud Tasks; empty selects in-memory/local backends")
	listenAddr      = flag.String("listen-addr", ":8080", "address to listen on")
	maxStorageBytes = flag.Int64("max-storage", 2_000_000_000, "total bytes of docker+singularity artifacts to retain before LRU eviction")
	alpha           = flag.Float64("alpha", 0.5, "maximum Jaccard distance at which an existing container satisfies a new submission")
	repo2dockerPath = flag.String("repo2docker-path", "jupyter-repo2docker", "path to the repo2docker binary")
	dockerPath      = flag.String("docker-path", "docker", "path to the docker binary")
	singularityPath = flag.String("singularity-path", "singularity", "path to the singularity binary")
	registryAddress = flag.String("registry-address", "", "address of the docker registry images are pushed to")
	localWorkers    = flag.Int("local-workers", 4, "worker goroutines for the local (non-Cloud-Tasks) build queue")
	taskQueuePath   = flag.String("task-queue-path", "", "Cloud Tasks queue resource name; empty selects the local in-process queue")
	taskQueueTarget = flag.String("task-queue-target-url", "", "URL of this service's own /internal/build endpoint, for Cloud Tasks dispatch")
	taskQueueSA     = flag.String("task-queue-service-account", "", "service account email Cloud Tasks authenticates dispatch as")
	signerAccountID = flag.String("signer-google-access-id", "", "service account email used to mint V4 signed GCS urls")
	signerKeyPath   = flag.String("signer-private-key-path", "", "path to the PEM private key used to mint V4 signed GCS urls")
)

func selfTag() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("pid-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func main() {
	flag.Parse()
	ctx := context.Background()

	cat, store := mustCatalogAndStore(ctx)

	b := &builder.Builder{
		Catalog: cat,
		Store:   store,
		Docker: &builder.ShellDockerEngine{
			Repo2DockerPath: *repo2dockerPath,
			DockerPath:      *dockerPath,
		},
		Singularity: &builder.ShellSingularityEngine{
			SingularityPath: *singularityPath,
		},
		Registry: &builder.LocalRegistry{
			DockerPath:      *dockerPath,
			RegistryAddress: *registryAddress,
		},
		SelfTag:    selfTag(),
		MaxStorage: *maxStorageBytes,
		FetchTarball: func(ctx context.Context, containerID string) (io.ReadCloser, error) {
			return store.Get(ctx, gwservice.TarballBucket, containerID)
		},
	}

	svc := &gwservice.Service{
		Catalog: cat,
		Store:   store,
		Builder: b,
		Alpha:   *alpha,
	}
	svc.Queue = mustQueue(ctx, b)

	mux := http.NewServeMux()
	svc.Routes(mux)
	log.Printf("gateway listening on %s", *listenAddr)
	if err := http.ListenAndServe(*listenAddr, mux); err != nil {
		log.Fatalln(err)
	}
}

func mustCatalogAndStore(ctx context.Context) (catalog.Catalog, objectstore.Store) {
	if *project == "" {
		log.Println("no -project configured; using in-memory catalog and object store")
		return catalog.NewMemoryCatalog(), objectstore.NewMemoryStore()
	}
	fsClient, err := firestore.NewClient(ctx, *project)
	if err != nil {
		log.Fatalln(errors.Wrap(err, "creating firestore client"))
	}
	gcsClient, err := gcs.NewClient(ctx)
	if err != nil {
		log.Fatalln(errors.Wrap(err, "creating gcs client"))
	}
	var signer objectstore.SignerOptions
	if *signerKeyPath != "" {
		key, err := os.ReadFile(*signerKeyPath)
		if err != nil {
			log.Fatalln(errors.Wrap(err, "reading signer private key"))
		}
		signer = objectstore.SignerOptions{GoogleAccessID: *signerAccountID, PrivateKey: key}
	}
	return catalog.NewFirestoreCatalog(fsClient), objectstore.NewGCSStore(gcsClient, signer)
}

// mustQueue selects a Cloud Tasks queue when -task-queue-path is set, or
// else an in-process LocalQueue whose workers call builder.Run directly.
func mustQueue(ctx context.Context, b *builder.Builder) taskqueue.Queue {
	if *taskQueuePath == "" {
		log.Printf("no -task-queue-path configured; using a %d-worker local queue", *localWorkers)
		return taskqueue.NewLocalQueue(*localWorkers, func(ctx context.Context, containerID string) {
			if err := b.Run(ctx, containerID); err != nil {
				log.Printf("local queue: build of %s failed: %v", containerID, err)
			}
		})
	}
	q, err := taskqueue.NewCloudTasksQueue(ctx, *taskQueuePath, *taskQueueTarget, *taskQueueSA)
	if err != nil {
		log.Fatalln(errors.Wrap(err, "creating cloud tasks queue"))
	}
	return q
}
