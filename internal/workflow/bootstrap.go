// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import "strings"

// Bootstrap mount points. The uv cache and nix store paths must match the
// volume mounts wired by the synthesizer.
const (
	ResultsMountPath = "/mnt/results"
	UVCacheDir       = "/root/.cache/uv"
	NixStorePath     = "/root/.nix-portable/nix/store"
	NixStoreLink     = "/nix/store"
)

// BootstrapSpec parameterizes the bash bootstrap emitted into a workflow
// template. The user's code itself is not part of the script; it reaches
// the container through the PYTHON_CODE environment variable, as do the
// dependency strings (PYTHON_DEPS, SYSTEM_DEPS). Only the requirements
// file content is embedded verbatim, inside a quoted heredoc.
type BootstrapSpec struct {
	PythonDeps       string
	RequirementsFile string
	SystemDeps       string
	UseCache         bool
}

// BuildScript emits the bootstrap for a single-task workflow: provision
// system packages through nix-portable when requested, create a
// per-workflow virtual environment with uv, install Python dependencies,
// then run `python -c "$PYTHON_CODE"`.
func BuildScript(spec BootstrapSpec) string {
	var b scriptBuilder
	b.lines("set -e", "")

	if spec.SystemDeps != "" {
		b.lines(
			"# System packages via nix-portable",
			"if ! command -v nix-portable &> /dev/null; then",
			"  echo 'Error: nix-portable not found in image; a nix-portable base image is required.'",
			"  exit 1",
			"fi",
			`SYSTEM_DEPS=$(echo "$SYSTEM_DEPS" | tr ',' ' ')`,
			"",
		)
		if spec.UseCache {
			b.lines(
				"# Link the shared nix store to the conventional path",
				"mkdir -p "+NixStorePath+" /nix",
				"ln -sfn "+NixStorePath+" "+NixStoreLink,
				"",
			)
		}
	}

	b.uvSetup(spec.UseCache)
	b.venv(`VENV_DIR="/tmp/venv-{{workflow.name}}"`)
	b.pythonDeps(spec.RequirementsFile, spec.PythonDeps, "PYTHON_DEPS")

	b.line("")
	if spec.SystemDeps != "" {
		b.lines(
			"# Run the user code inside a nix-shell so the requested commands are on PATH",
			`nix-portable nix-shell -p $SYSTEM_DEPS --run 'python -c "$PYTHON_CODE"'`,
		)
	} else {
		b.lines(
			"# Execute Python code",
			`python -c "$PYTHON_CODE"`,
		)
	}

	return b.String()
}

// BuildStepScript emits the bootstrap for one step of a flow workflow. It
// differs from the single-task script in two ways: the virtual environment
// is keyed by step id as well as workflow name, and a helper module for
// inter-step data exchange is placed on the import path before the user
// code runs. The user code is embedded in a quoted heredoc and executed as
// a file so it can import the helpers.
func BuildStepScript(stepID, pythonCode string, spec BootstrapSpec) string {
	var b scriptBuilder
	b.lines("set -e", "")

	b.uvSetup(spec.UseCache)
	b.venv(`VENV_DIR="/tmp/venv-` + stepID + `-{{workflow.name}}"`)
	b.pythonDeps(spec.RequirementsFile, spec.PythonDeps, "DEPENDENCIES")

	b.lines(
		"",
		"# Helper functions for step data exchange",
		"cat > /tmp/step_helpers.py << 'HELPERS_EOF'",
		"import json",
		"import os",
		"from pathlib import Path",
		"",
		"def read_step_output(step_id, output_name='output'):",
		"    output_path = Path('"+ResultsMountPath+"/{}/{}.json'.format(step_id, output_name))",
		"    if output_path.exists():",
		"        with open(output_path, 'r') as f:",
		"            return json.load(f)",
		"    return None",
		"",
		"def write_step_output(data, output_name='output'):",
		"    step_id = os.getenv('STEP_ID', 'unknown')",
		"    output_dir = Path('"+ResultsMountPath+"/{}'.format(step_id))",
		"    output_dir.mkdir(parents=True, exist_ok=True)",
		"    output_path = output_dir / '{}.json'.format(output_name)",
		"    with open(output_path, 'w') as f:",
		"        json.dump(data, f, indent=2)",
		"    return str(output_path)",
		"HELPERS_EOF",
		"",
		"export PYTHONPATH=/tmp:$PYTHONPATH",
		"",
		"# Wrap the user code so the helpers are importable",
		"cat > /tmp/execute_step.py << 'CODE_EOF'",
		"import sys",
		"sys.path.insert(0, '/tmp')",
		"from step_helpers import read_step_output, write_step_output",
		"",
		pythonCode,
		"CODE_EOF",
		"",
		"python /tmp/execute_step.py",
	)

	return b.String()
}

type scriptBuilder struct {
	sb strings.Builder
}

func (b *scriptBuilder) line(s string) {
	b.sb.WriteString(s)
	b.sb.WriteByte('\n')
}

func (b *scriptBuilder) lines(ss ...string) {
	for _, s := range ss {
		b.line(s)
	}
}

func (b *scriptBuilder) uvSetup(useCache bool) {
	b.lines(
		"# Install uv if not present",
		"if ! command -v uv &> /dev/null; then",
		"  pip install --no-cache-dir uv",
		"fi",
		"",
	)
	if useCache {
		b.lines(
			"# Use shared uv cache",
			"export UV_CACHE_DIR="+UVCacheDir,
			"mkdir -p $UV_CACHE_DIR",
			"echo \"Using uv cache at: $UV_CACHE_DIR\"",
			"",
		)
	}
}

func (b *scriptBuilder) venv(venvAssign string) {
	b.lines(
		"# Create isolated virtual environment",
		venvAssign,
		`uv venv "$VENV_DIR"`,
		"",
		"# Activate virtual environment",
		`source "$VENV_DIR/bin/activate"`,
	)
}

// pythonDeps installs either the verbatim requirements file or the
// space/comma separated package list carried by depsEnv.
func (b *scriptBuilder) pythonDeps(requirementsFile, deps, depsEnv string) {
	if requirementsFile != "" {
		b.lines(
			"",
			"# Write requirements file",
			"cat > /tmp/requirements.txt << 'REQ_EOF'",
			requirementsFile,
			"REQ_EOF",
			"",
			"echo 'Installing from requirements.txt...'",
			"uv pip install -r /tmp/requirements.txt",
			"echo 'Dependencies installed successfully'",
		)
		return
	}
	if deps != "" {
		b.lines(
			"",
			"# Install Python dependencies",
			"echo \"Installing Python packages: $"+depsEnv+"\"",
			`echo "$`+depsEnv+`" | tr ',' ' ' | xargs uv pip install`,
			"echo 'Dependencies installed successfully'",
		)
	}
}

// String returns the assembled script without a trailing newline.
func (b *scriptBuilder) String() string {
	return strings.TrimRight(b.sb.String(), "\n")
}
