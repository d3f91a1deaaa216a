// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// GCSStore is a Cloud Storage-backed Store, grounded on
// tools/ctl/rundex/gcs.go's wrapper-around-*gcs.Client conventions: one
// bucket-qualified object per operation, no bespoke retry or caching logic
// layered on top of the client.
type GCSStore struct {
	client    *gcs.Client
	signerOpt SignerOptions
}

// SignerOptions carries the service-account credentials needed to mint
// V4 signed URLs, since the default application-default-credentials path
// cannot sign on its own.
type SignerOptions struct {
	GoogleAccessID string
	PrivateKey     []byte
}

// NewGCSStore wraps an already-constructed Cloud Storage client.
func NewGCSStore(client *gcs.Client, signer SignerOptions) *GCSStore {
	return &GCSStore{client: client, signerOpt: signer}
}

var _ Store = (*GCSStore)(nil)

func (g *GCSStore) Put(ctx context.Context, bucket, key string, r io.Reader) error {
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrapf(err, "uploading %s/%s", bucket, key)
	}
	return errors.Wrapf(w.Close(), "closing upload of %s/%s", bucket, key)
}

func (g *GCSStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := g.client.Bucket(bucket).SignedURL(key, &gcs.SignedURLOptions{
		GoogleAccessID: g.signerOpt.GoogleAccessID,
		PrivateKey:     g.signerOpt.PrivateKey,
		Method:         "GET",
		Expires:        time.Now().Add(ttl),
	})
	if err != nil {
		return "", errors.Wrapf(err, "signing url for %s/%s", bucket, key)
	}
	return u, nil
}

func (g *GCSStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s/%s", bucket, key)
	}
	return r, nil
}

func (g *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	err := g.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && err != gcs.ErrObjectNotExist {
		return errors.Wrapf(err, "deleting %s/%s", bucket, key)
	}
	return nil
}
