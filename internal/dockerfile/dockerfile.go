// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

// Package dockerfile renders a human-readable Dockerfile for a
// spec-submitted container, for clients who want to inspect or reproduce a
// build without invoking repo2docker themselves. It does not support
// tarball-submitted containers, since those have no declarative package
// list to render.
package dockerfile

import (
	"bytes"
	"fmt"

	"github.com/funcx-faas/container-build-service/internal/hasher"
)

const base = "continuumio/miniconda3:latest"

// Emit renders a Dockerfile roughly compatible with what repo2docker would
// produce for the same specification: apt packages via apt-get, then conda
// and pip packages via a single `conda env update`.
func Emit(spec hasher.Spec) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "FROM %s\n\n", base)

	if len(spec.Apt) > 0 {
		buf.WriteString("RUN apt-get update && apt-get install -y --no-install-recommends \\\n")
		for _, pkg := range spec.Apt {
			fmt.Fprintf(&buf, "    %s \\\n", pkg)
		}
		buf.WriteString("    && rm -rf /var/lib/apt/lists/*\n\n")
	}

	if len(spec.Conda) > 0 || len(spec.Pip) > 0 {
		buf.WriteString("COPY environment.yml /tmp/environment.yml\n")
		buf.WriteString("RUN conda env update -n base -f /tmp/environment.yml && conda clean -afy\n\n")
	}

	buf.WriteString("WORKDIR /home/user\n")
	buf.WriteString(`CMD ["/bin/bash"]` + "\n")
	return buf.Bytes()
}
