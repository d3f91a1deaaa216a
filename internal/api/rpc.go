// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/funcx-faas/container-build-service/internal/catalog"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func AsStatus(code codes.Code, err error) error {
	return status.New(code, err.Error()).Err()
}

// codeGone extends the standard grpc code space for the catalog's "artifact
// permanently unavailable" outcome (spec's Gone error kind), which has no
// natural standard grpc code of its own.
const codeGone codes.Code = 1000

// CatalogStatus maps a Catalog sentinel error to the grpc code HTTPStatus
// translates into the corresponding HTTP status: not-found, bad-request
// and gone each get their own status; a successful lookup that merely has
// no artifact yet is not an error at all and must not flow through here.
func CatalogStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrNotFound):
		return AsStatus(codes.NotFound, err)
	case errors.Is(err, catalog.ErrBadRequest):
		return AsStatus(codes.InvalidArgument, err)
	case errors.Is(err, catalog.ErrGone):
		return AsStatus(codeGone, err)
	default:
		return AsStatus(codes.Internal, err)
	}
}

// HTTPStatus maps a Catalog sentinel error straight to the HTTP status the
// Gateway should respond with, composing CatalogStatus with the
// grpcToHTTP table.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	s := status.Convert(CatalogStatus(err))
	if code, ok := grpcToHTTP[s.Code()]; ok {
		return code
	}
	return http.StatusInternalServerError
}

var grpcToHTTP = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.Canceled:           499,
	codes.Unknown:            http.StatusInternalServerError,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.FailedPrecondition: http.StatusBadRequest,
	codes.Aborted:            http.StatusConflict,
	codes.OutOfRange:         http.StatusBadRequest,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DataLoss:           http.StatusInternalServerError,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codeGone:                 http.StatusGone,
}
