// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ShellDockerEngine invokes repo2docker and the local docker CLI via
// os/exec, grounded on build/container/container.go's
// exec.CommandContext(ctx, "docker", "build", ...) pattern: no special
// client library, just the CLI tools the way the teacher shells out to
// `docker build`.
type ShellDockerEngine struct {
	Repo2DockerPath string // defaults to "jupyter-repo2docker"
	DockerPath      string // defaults to "docker"
}

func (e ShellDockerEngine) repo2docker() string {
	if e.Repo2DockerPath != "" {
		return e.Repo2DockerPath
	}
	return "jupyter-repo2docker"
}

func (e ShellDockerEngine) docker() string {
	if e.DockerPath != "" {
		return e.DockerPath
	}
	return "docker"
}

var _ DockerEngine = ShellDockerEngine{}

func (e ShellDockerEngine) Build(ctx context.Context, scratchDir, imageTag string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, e.repo2docker(), "--no-run", "--image-name", imageTag, scratchDir)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), errors.Wrap(err, "repo2docker build failed")
}

func (e ShellDockerEngine) ImageSize(ctx context.Context, imageTag string) (int64, bool, error) {
	cmd := exec.CommandContext(ctx, e.docker(), "inspect", "--format", "{{.Size}}", imageTag)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		// A non-zero exit here means the image doesn't exist locally,
		// which is the absent-image build failure of spec §4.4 step 3.
		return 0, false, nil
	}
	size, err := strconv.ParseInt(strings.TrimSpace(out.String()), 10, 64)
	if err != nil {
		return 0, false, errors.Wrap(err, "parsing docker inspect size")
	}
	if size <= 0 {
		return 0, false, nil
	}
	return size, true, nil
}

// ShellSingularityEngine shells out to the singularity CLI, converting
// directly from the local Docker daemon per spec §4.4 step 4.
type ShellSingularityEngine struct {
	SingularityPath string // defaults to "singularity"
}

func (e ShellSingularityEngine) path() string {
	if e.SingularityPath != "" {
		return e.SingularityPath
	}
	return "singularity"
}

var _ SingularityEngine = ShellSingularityEngine{}

func (e ShellSingularityEngine) Build(ctx context.Context, imageTag, sifPath string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, e.path(), "build", "--force", sifPath, "docker-daemon://"+imageTag)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), errors.Wrap(err, "singularity build failed")
}

// LocalRegistry pushes to whatever registry the local docker CLI is
// configured against, tagging imageTag with the registry prefix before
// pushing.
type LocalRegistry struct {
	DockerPath      string // defaults to "docker"
	RegistryAddress string // e.g. "registry.internal:5000"
}

func (r LocalRegistry) docker() string {
	if r.DockerPath != "" {
		return r.DockerPath
	}
	return "docker"
}

var _ Registry = LocalRegistry{}

func (r LocalRegistry) qualifiedTag(imageTag string) string {
	return r.RegistryAddress + "/" + imageTag
}

func (r LocalRegistry) Push(ctx context.Context, imageTag string) (string, error) {
	qualified := r.qualifiedTag(imageTag)
	if err := exec.CommandContext(ctx, r.docker(), "tag", imageTag, qualified).Run(); err != nil {
		return "", errors.Wrap(err, "tagging image for registry push")
	}
	if err := exec.CommandContext(ctx, r.docker(), "push", qualified).Run(); err != nil {
		return "", errors.Wrap(err, "pushing image to registry")
	}
	return "https://" + qualified, nil
}

func (r LocalRegistry) Delete(ctx context.Context, imageTag string) error {
	qualified := r.qualifiedTag(imageTag)
	_ = exec.CommandContext(ctx, r.docker(), "rmi", "-f", imageTag).Run()
	_ = exec.CommandContext(ctx, r.docker(), "rmi", "-f", qualified).Run()
	return nil
}
