package ociconfig

import (
	"reflect"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func baseSpec() *specs.Spec {
	return &specs.Spec{
		Process: &specs.Process{
			Args: []string{"/bin/sh", "-c", "echo hi"},
			Env:  []string{"PATH=/usr/bin"},
			Cwd:  "/",
			User: specs.User{UID: 0, GID: 0},
		},
		Mounts: []specs.Mount{
			{Destination: "/proc", Type: "proc", Source: "proc"},
		},
	}
}

// TestPatchNoop verifies P5: applying the zero Patch leaves the spec
// byte-for-byte identical.
func TestPatchNoop(t *testing.T) {
	spec := baseSpec()
	want := baseSpec()

	Apply(spec, Patch{})

	if !reflect.DeepEqual(spec, want) {
		t.Errorf("Apply(zero Patch) changed the spec:\ngot:  %+v\nwant: %+v", spec, want)
	}
}

// TestPatchAllParameters verifies P6: Env and Mounts append to the existing
// list while Args, User and Cwd replace the existing value.
func TestPatchAllParameters(t *testing.T) {
	spec := baseSpec()

	Apply(spec, Patch{
		Args:          "/bin/bash entry.sh",
		AdditionalEnv: []string{"GITHUB_REG_TOKEN=abc", "GITHUB_RUNNER_NAME=NitroNorris"},
		User:          &specs.User{UID: 1000, GID: 1000},
		Cwd:           "/app",
		AdditionalMounts: []specs.Mount{
			{Destination: "/output", Type: "none", Source: "/local/output", Options: []string{"rbind", "rw"}},
		},
	})

	if !reflect.DeepEqual(spec.Process.Args, []string{"/bin/bash", "entry.sh"}) {
		t.Errorf("Args = %v, want replaced", spec.Process.Args)
	}
	wantEnv := []string{"PATH=/usr/bin", "GITHUB_REG_TOKEN=abc", "GITHUB_RUNNER_NAME=NitroNorris"}
	if !reflect.DeepEqual(spec.Process.Env, wantEnv) {
		t.Errorf("Env = %v, want %v (appended, not replaced)", spec.Process.Env, wantEnv)
	}
	if spec.Process.User.UID != 1000 || spec.Process.User.GID != 1000 {
		t.Errorf("User = %+v, want {UID:1000 GID:1000}", spec.Process.User)
	}
	if spec.Process.Cwd != "/app" {
		t.Errorf("Cwd = %q, want /app", spec.Process.Cwd)
	}
	if len(spec.Mounts) != 2 {
		t.Fatalf("Mounts = %+v, want 2 entries (appended, not replaced)", spec.Mounts)
	}
	if spec.Mounts[0].Destination != "/proc" || spec.Mounts[1].Destination != "/output" {
		t.Errorf("Mounts = %+v, want original mount preserved then new mount appended", spec.Mounts)
	}
}

func TestPatchCreatesMissingProcess(t *testing.T) {
	spec := &specs.Spec{}
	Apply(spec, Patch{Args: "/bin/true"})
	if spec.Process == nil || len(spec.Process.Args) != 1 || spec.Process.Args[0] != "/bin/true" {
		t.Errorf("Process = %+v, want populated from Patch", spec.Process)
	}
}
