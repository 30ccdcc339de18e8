// Package ociconfig patches an OCI runtime bundle's config.json before
// runc/runsc launches the sandboxed build agent: overriding the entrypoint,
// extending environment and mounts, and pinning the running user.
package ociconfig

import (
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Patch describes the overrides to apply to a config.json. Nil/empty fields
// are left untouched; Args, User and Cwd replace the existing value when
// set, while Env and Mounts are appended to the existing list.
type Patch struct {
	// Args, when non-empty, replaces Process.Args (space-split).
	Args string
	// AdditionalEnv is appended to Process.Env.
	AdditionalEnv []string
	// User, when non-nil, replaces Process.User.
	User *specs.User
	// Cwd, when non-empty, replaces Process.Cwd.
	Cwd string
	// AdditionalMounts is appended to Mounts.
	AdditionalMounts []specs.Mount
}

// Apply mutates spec in place according to p. Applying the zero Patch is a
// no-op (P5): unset fields are skipped, and a missing Process is only
// created when a process field is being set, so re-running Apply with an
// empty Patch never changes a previously patched spec.
func Apply(spec *specs.Spec, p Patch) {
	if spec.Process == nil && (p.Args != "" || len(p.AdditionalEnv) > 0 || p.User != nil || p.Cwd != "") {
		spec.Process = &specs.Process{}
	}

	if p.Args != "" {
		spec.Process.Args = strings.Fields(p.Args)
	}

	if len(p.AdditionalEnv) > 0 {
		spec.Process.Env = append(spec.Process.Env, p.AdditionalEnv...)
	}

	if p.User != nil {
		spec.Process.User = *p.User
	}

	if p.Cwd != "" {
		spec.Process.Cwd = p.Cwd
	}

	if len(p.AdditionalMounts) > 0 {
		spec.Mounts = append(spec.Mounts, p.AdditionalMounts...)
	}
}
