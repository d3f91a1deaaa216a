// Copyright 2025 Container Build Service Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"github.com/funcx-faas/container-build-service/internal/hasher"
	"gopkg.in/yaml.v3"
)

// environment is the repo2docker-compatible conda environment manifest
// shape, grounded on original_source/funcx_container_service/build.py's
// env_from_spec: a fixed name/channel/pip base, conda packages appended
// directly, pip packages nested under a {pip: [...]} dependency entry.
type environment struct {
	Name         string        `yaml:"name"`
	Channels     []string      `yaml:"channels"`
	Dependencies []interface{} `yaml:"dependencies"`
}

// EnvironmentYAML renders spec's conda and pip package lists into the
// environment.yml manifest the Builder writes into the build's scratch
// directory (spec §4.4 step 2).
func EnvironmentYAML(spec hasher.Spec) ([]byte, error) {
	env := environment{
		Name:         "container-build",
		Channels:     []string{"conda-forge"},
		Dependencies: []interface{}{"pip"},
	}
	for _, c := range spec.Conda {
		env.Dependencies = append(env.Dependencies, c)
	}
	if len(spec.Pip) > 0 {
		env.Dependencies = append(env.Dependencies, map[string][]string{"pip": spec.Pip})
	}
	return yaml.Marshal(env)
}

// AptTxt renders spec's apt package list as one package name per line, the
// shape repo2docker's apt.txt convention expects.
func AptTxt(spec hasher.Spec) []byte {
	if len(spec.Apt) == 0 {
		return nil
	}
	var out []byte
	for _, pkg := range spec.Apt {
		out = append(out, []byte(pkg+"\n")...)
	}
	return out
}
