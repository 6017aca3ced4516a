// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildScript_PythonDepsWithCache(t *testing.T) {
	script := BuildScript(BootstrapSpec{PythonDeps: "numpy,pandas", UseCache: true})

	assert.True(t, strings.HasPrefix(script, "set -e\n"))
	assert.Contains(t, script, "pip install --no-cache-dir uv")
	assert.Contains(t, script, "export UV_CACHE_DIR="+UVCacheDir)
	assert.Contains(t, script, `VENV_DIR="/tmp/venv-{{workflow.name}}"`)
	assert.Contains(t, script, `uv venv "$VENV_DIR"`)
	assert.Contains(t, script, `echo "$PYTHON_DEPS" | tr ',' ' ' | xargs uv pip install`)
	assert.Contains(t, script, `python -c "$PYTHON_CODE"`)

	// The package list travels via the environment, never inline.
	assert.NotContains(t, script, "numpy")
	// No system deps, no nix involvement.
	assert.NotContains(t, script, "nix-portable")
}

func TestBuildScript_NoCacheOmitsUVCache(t *testing.T) {
	script := BuildScript(BootstrapSpec{PythonDeps: "requests"})

	assert.NotContains(t, script, "UV_CACHE_DIR")
}

func TestBuildScript_RequirementsFileHeredoc(t *testing.T) {
	reqs := "numpy==1.26.0\npandas>=2.0"
	script := BuildScript(BootstrapSpec{RequirementsFile: reqs})

	assert.Contains(t, script, "cat > /tmp/requirements.txt << 'REQ_EOF'\n"+reqs+"\nREQ_EOF")
	assert.Contains(t, script, "uv pip install -r /tmp/requirements.txt")
	// A requirements file takes the place of the package list.
	assert.NotContains(t, script, "xargs uv pip install")
}

func TestBuildScript_SystemDepsWrapsInNixShell(t *testing.T) {
	script := BuildScript(BootstrapSpec{SystemDeps: "gcc,make", UseCache: true})

	assert.Contains(t, script, "if ! command -v nix-portable &> /dev/null; then")
	assert.Contains(t, script, `SYSTEM_DEPS=$(echo "$SYSTEM_DEPS" | tr ',' ' ')`)
	assert.Contains(t, script, "ln -sfn "+NixStorePath+" "+NixStoreLink)
	assert.Contains(t, script, `nix-portable nix-shell -p $SYSTEM_DEPS --run 'python -c "$PYTHON_CODE"'`)
	// The plain execution path must not appear alongside the wrapped one.
	assert.NotContains(t, script, "\npython -c \"$PYTHON_CODE\"")
}

func TestBuildScript_SystemDepsWithoutCacheSkipsStoreLink(t *testing.T) {
	script := BuildScript(BootstrapSpec{SystemDeps: "ffmpeg"})

	assert.Contains(t, script, "nix-portable nix-shell")
	assert.NotContains(t, script, "ln -sfn")
}

func TestBuildStepScript(t *testing.T) {
	code := "result = read_step_output('prev')\nwrite_step_output({'ok': True})"
	script := BuildStepScript("step-a", code, BootstrapSpec{PythonDeps: "requests"})

	assert.Contains(t, script, `VENV_DIR="/tmp/venv-step-a-{{workflow.name}}"`)
	assert.Contains(t, script, "cat > /tmp/step_helpers.py << 'HELPERS_EOF'")
	assert.Contains(t, script, "def read_step_output(step_id, output_name='output'):")
	assert.Contains(t, script, "def write_step_output(data, output_name='output'):")
	assert.Contains(t, script, ResultsMountPath)
	assert.Contains(t, script, "cat > /tmp/execute_step.py << 'CODE_EOF'")
	assert.Contains(t, script, code)
	assert.Contains(t, script, "python /tmp/execute_step.py")
	// Step dependency lists travel via DEPENDENCIES.
	assert.Contains(t, script, `echo "$DEPENDENCIES" | tr ',' ' ' | xargs uv pip install`)
}

func TestBuildStepScript_NoDeps(t *testing.T) {
	script := BuildStepScript("solo", "print('hi')", BootstrapSpec{})

	assert.NotContains(t, script, "uv pip install")
	// The venv and helpers are still provisioned.
	assert.Contains(t, script, `uv venv "$VENV_DIR"`)
	assert.Contains(t, script, "step_helpers")
}
