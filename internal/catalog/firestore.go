// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	containersCollection = "containers"
	buildsCollection     = "builds"
)

// containerDoc is the Firestore-wire shape of a Container, mirroring the
// snake_case field layout tools/ctl/rundex uses for its own documents.
type containerDoc struct {
	ID              string    `firestore:"id"`
	LastUsed        time.Time `firestore:"last_used"`
	Specification   []byte    `firestore:"specification,omitempty"`
	TarballRef      string    `firestore:"tarball_ref,omitempty"`
	DockerURL       string    `firestore:"docker_url,omitempty"`
	DockerLog       string    `firestore:"docker_log,omitempty"`
	DockerSize      *int64    `firestore:"docker_size"`
	SingularityURL  string    `firestore:"singularity_url,omitempty"`
	SingularityLog  string    `firestore:"singularity_log,omitempty"`
	SingularitySize *int64    `firestore:"singularity_size"`
	Building        string    `firestore:"building,omitempty"`
}

func (d containerDoc) toContainer() Container {
	return Container{
		ID:              d.ID,
		LastUsed:        d.LastUsed,
		Specification:   d.Specification,
		TarballRef:      d.TarballRef,
		DockerURL:       d.DockerURL,
		DockerLog:       d.DockerLog,
		DockerSize:      d.DockerSize,
		SingularityURL:  d.SingularityURL,
		SingularityLog:  d.SingularityLog,
		SingularitySize: d.SingularitySize,
		Building:        d.Building,
	}
}

func fromContainer(c Container) containerDoc {
	return containerDoc{
		ID:              c.ID,
		LastUsed:        c.LastUsed,
		Specification:   c.Specification,
		TarballRef:      c.TarballRef,
		DockerURL:       c.DockerURL,
		DockerLog:       c.DockerLog,
		DockerSize:      c.DockerSize,
		SingularityURL:  c.SingularityURL,
		SingularityLog:  c.SingularityLog,
		SingularitySize: c.SingularitySize,
		Building:        c.Building,
	}
}

type buildDoc struct {
	ID            string `firestore:"id"`
	ContainerHash string `firestore:"container_hash"`
}

// FirestoreCatalog is a Firestore-backed Catalog, grounded on the client
// wrapper conventions of tools/ctl/rundex/firestore.go: a thin struct
// around *firestore.Client with one method per operation, using
// RunTransaction for every read-modify-write so the compare-and-set in
// TryStartBuild is atomic across concurrent processes.
type FirestoreCatalog struct {
	client *firestore.Client
}

// NewFirestoreCatalog wraps an already-constructed Firestore client.
func NewFirestoreCatalog(client *firestore.Client) *FirestoreCatalog {
	return &FirestoreCatalog{client: client}
}

var _ Catalog = (*FirestoreCatalog)(nil)

func (f *FirestoreCatalog) containerRef(id string) *firestore.DocumentRef {
	return f.client.Collection(containersCollection).Doc(id)
}

func (f *FirestoreCatalog) buildRef(id string) *firestore.DocumentRef {
	return f.client.Collection(buildsCollection).Doc(id)
}

func (f *FirestoreCatalog) getContainerTx(ctx context.Context, tx *firestore.Transaction, id string) (containerDoc, error) {
	snap, err := tx.Get(f.containerRef(id))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return containerDoc{}, ErrNotFound
		}
		return containerDoc{}, errors.Wrap(err, "fetching container")
	}
	var d containerDoc
	if err := snap.DataTo(&d); err != nil {
		return containerDoc{}, errors.Wrap(err, "decoding container")
	}
	return d, nil
}

func (f *FirestoreCatalog) putIfAbsent(ctx context.Context, id string, doc containerDoc) (bool, error) {
	created := false
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(f.containerRef(id))
		if err == nil {
			created = false
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return errors.Wrap(err, "checking for existing container")
		}
		created = true
		return tx.Set(f.containerRef(id), doc)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (f *FirestoreCatalog) PutSpec(ctx context.Context, spec []byte, id string) (bool, error) {
	return f.putIfAbsent(ctx, id, containerDoc{ID: id, LastUsed: time.Now().UTC(), Specification: spec})
}

func (f *FirestoreCatalog) PutTarball(ctx context.Context, id, tarballRef string) (bool, error) {
	return f.putIfAbsent(ctx, id, containerDoc{ID: id, LastUsed: time.Now().UTC(), TarballRef: tarballRef})
}

func (f *FirestoreCatalog) AddBuild(ctx context.Context, containerID string) (string, error) {
	buildID := uuid.NewString()
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cdoc, err := f.getContainerTx(ctx, tx, containerID)
		if err != nil {
			return err
		}
		cdoc.LastUsed = time.Now().UTC()
		if err := tx.Set(f.containerRef(containerID), cdoc); err != nil {
			return err
		}
		return tx.Set(f.buildRef(buildID), buildDoc{ID: buildID, ContainerHash: containerID})
	})
	if err != nil {
		return "", err
	}
	return buildID, nil
}

func (f *FirestoreCatalog) resolveBuild(ctx context.Context, buildID string) (containerDoc, error) {
	snap, err := f.buildRef(buildID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return containerDoc{}, ErrNotFound
		}
		return containerDoc{}, errors.Wrap(err, "fetching build")
	}
	var b buildDoc
	if err := snap.DataTo(&b); err != nil {
		return containerDoc{}, errors.Wrap(err, "decoding build")
	}
	csnap, err := f.containerRef(b.ContainerHash).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return containerDoc{}, ErrNotFound
		}
		return containerDoc{}, errors.Wrap(err, "fetching container")
	}
	var d containerDoc
	if err := csnap.DataTo(&d); err != nil {
		return containerDoc{}, errors.Wrap(err, "decoding container")
	}
	return d, nil
}

func (f *FirestoreCatalog) GetSpec(ctx context.Context, buildID string) ([]byte, error) {
	d, err := f.resolveBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	if d.Specification == nil {
		return nil, ErrBadRequest
	}
	return d.Specification, nil
}

func (f *FirestoreCatalog) Status(ctx context.Context, buildID string) (StatusRecord, error) {
	d, err := f.resolveBuild(ctx, buildID)
	if err != nil {
		return StatusRecord{}, err
	}
	return StatusRecord{
		ID:              buildID,
		RecipeChecksum:  d.ID,
		LastUsed:        d.LastUsed,
		DockerURL:       d.DockerURL,
		DockerSize:      d.DockerSize,
		DockerLog:       d.DockerLog,
		SingularityURL:  d.SingularityURL,
		SingularitySize: d.SingularitySize,
		SingularityLog:  d.SingularityLog,
	}, nil
}

func (f *FirestoreCatalog) DockerURL(ctx context.Context, buildID string) (string, string, error) {
	d, err := f.resolveBuild(ctx, buildID)
	if err != nil {
		return "", "", err
	}
	if d.DockerLog != "" && d.DockerURL == "" {
		return "", "", ErrGone
	}
	return d.ID, d.DockerURL, nil
}

func (f *FirestoreCatalog) SingularityURL(ctx context.Context, buildID string) (string, string, error) {
	d, err := f.resolveBuild(ctx, buildID)
	if err != nil {
		return "", "", err
	}
	if d.SingularityLog != "" && d.SingularityURL == "" {
		return "", "", ErrGone
	}
	return d.ID, d.SingularityURL, nil
}

// TryStartBuild runs the three-way compare-and-set inside a Firestore
// transaction: tx.Get takes a read lock on the document for the lifetime of
// the transaction, so two concurrent transactions racing on the same id
// serialize and exactly one observes building=="" and wins.
func (f *FirestoreCatalog) TryStartBuild(ctx context.Context, id, selfTag string) (bool, error) {
	acquired := false
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		d, err := f.getContainerTx(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case d.Building == selfTag:
			acquired = false
			return nil
		case d.Building == "":
			d.Building = selfTag
		default:
			d.DockerURL, d.DockerLog, d.DockerSize = "", "", nil
			d.SingularityURL, d.SingularityLog, d.SingularitySize = "", "", nil
			d.Building = selfTag
		}
		acquired = true
		return tx.Set(f.containerRef(id), d)
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

func (f *FirestoreCatalog) FinishBuild(ctx context.Context, id string, results BuildResults) error {
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		d, err := f.getContainerTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if results.DockerLog != "" || results.DockerURL != "" || results.DockerSize != nil {
			d.DockerURL, d.DockerLog, d.DockerSize = results.DockerURL, results.DockerLog, results.DockerSize
		}
		if results.SingularityLog != "" || results.SingularityURL != "" || results.SingularitySize != nil {
			d.SingularityURL, d.SingularityLog, d.SingularitySize = results.SingularityURL, results.SingularityLog, results.SingularitySize
		}
		d.Building = ""
		return tx.Set(f.containerRef(id), d)
	})
}

func (f *FirestoreCatalog) Get(ctx context.Context, id string) (Container, error) {
	snap, err := f.containerRef(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Container{}, ErrNotFound
		}
		return Container{}, errors.Wrap(err, "fetching container")
	}
	var d containerDoc
	if err := snap.DataTo(&d); err != nil {
		return Container{}, errors.Wrap(err, "decoding container")
	}
	return d.toContainer(), nil
}

func (f *FirestoreCatalog) Remove(ctx context.Context, id string) (bool, error) {
	removed := false
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		d, err := f.getContainerTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Building != "" {
			removed = false
			return nil
		}
		d.DockerURL, d.DockerLog, d.DockerSize = "", "", nil
		d.SingularityURL, d.SingularityLog, d.SingularitySize = "", "", nil
		removed = true
		return tx.Set(f.containerRef(id), d)
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

func (f *FirestoreCatalog) ListMatchCandidates(ctx context.Context) ([]Container, error) {
	q := f.client.Collection(containersCollection).Where("specification", "!=", nil)
	return f.queryContainers(ctx, q, func(c Container) bool { return c.DockerSize != nil })
}

func (f *FirestoreCatalog) ListEvictionCandidates(ctx context.Context) ([]Container, error) {
	q := f.client.Collection(containersCollection).Query
	return f.queryContainers(ctx, q, func(c Container) bool {
		return c.DockerSize != nil || c.SingularitySize != nil
	})
}

func (f *FirestoreCatalog) queryContainers(ctx context.Context, q firestore.Query, keep func(Container) bool) ([]Container, error) {
	var out []Container
	iter := q.Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "iterating containers")
		}
		var d containerDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, errors.Wrap(err, "decoding container")
		}
		c := d.toContainer()
		if keep(c) {
			out = append(out, c)
		}
	}
	return out, nil
}
