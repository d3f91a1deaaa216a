// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue dispatches container builds to run asynchronously after
// a gateway request returns. Grounded on the Cloud Tasks wiring the teacher
// uses to fan work out to its build service, generalized from a
// form-urlencoded rebuild message to a JSON container-id payload posted to
// this service's own /internal/build endpoint.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/pkg/errors"
)

// Queue dispatches a build of containerID to run out-of-band.
type Queue interface {
	Enqueue(ctx context.Context, containerID string) error
}

type buildTask struct {
	ContainerID string `json:"container_id"`
}

// CloudTasksQueue posts an authenticated HTTP task to a Cloud Tasks queue
// targeting this service's own /internal/build handler.
type CloudTasksQueue struct {
	client              *cloudtasks.Client
	queuePath           string
	targetURL           string
	serviceAccountEmail string
}

// NewCloudTasksQueue constructs a Queue backed by Cloud Tasks. targetURL is
// this service's own /internal/build endpoint; serviceAccountEmail
// authenticates the task's OIDC token.
func NewCloudTasksQueue(ctx context.Context, queuePath, targetURL, serviceAccountEmail string) (*CloudTasksQueue, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating cloudtasks client")
	}
	return &CloudTasksQueue{
		client:              client,
		queuePath:           queuePath,
		targetURL:           targetURL,
		serviceAccountEmail: serviceAccountEmail,
	}, nil
}

var _ Queue = (*CloudTasksQueue)(nil)

func (q *CloudTasksQueue) Enqueue(ctx context.Context, containerID string) error {
	body, err := json.Marshal(buildTask{ContainerID: containerID})
	if err != nil {
		return errors.Wrap(err, "marshalling build task")
	}
	req := &taskspb.CreateTaskRequest{
		Parent: q.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        q.targetURL,
					Headers: map[string]string{
						"Content-Type": "application/json",
					},
					Body: body,
					AuthorizationHeader: &taskspb.HttpRequest_OidcToken{
						OidcToken: &taskspb.OidcToken{
							ServiceAccountEmail: q.serviceAccountEmail,
						},
					},
				},
			},
		},
	}
	if _, err := q.client.CreateTask(ctx, req); err != nil {
		return fmt.Errorf("cloudtasks.CreateTask: %w", err)
	}
	return nil
}
