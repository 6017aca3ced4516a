// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func step(id string) FlowStep {
	return FlowStep{ID: id, PythonCode: "print('x')"}
}

func TestValidateDefinition(t *testing.T) {
	tests := []struct {
		name    string
		def     *FlowDefinition
		wantErr string
	}{
		{
			name:    "nil definition",
			def:     nil,
			wantErr: "at least one step",
		},
		{
			name:    "empty steps",
			def:     &FlowDefinition{},
			wantErr: "at least one step",
		},
		{
			name: "single step no edges",
			def:  &FlowDefinition{Steps: []FlowStep{step("a")}},
		},
		{
			name: "missing step id",
			def:  &FlowDefinition{Steps: []FlowStep{{PythonCode: "pass"}}},
			wantErr: "missing an id",
		},
		{
			name: "duplicate step id",
			def: &FlowDefinition{
				Steps: []FlowStep{step("a"), step("a")},
			},
			wantErr: "duplicate step id",
		},
		{
			name: "edge references undeclared step",
			def: &FlowDefinition{
				Steps: []FlowStep{step("a")},
				Edges: []FlowEdge{{Source: "a", Target: "ghost"}},
			},
			wantErr: "undeclared step",
		},
		{
			name: "linear chain",
			def: &FlowDefinition{
				Steps: []FlowStep{step("a"), step("b"), step("c")},
				Edges: []FlowEdge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}},
			},
		},
		{
			name: "diamond",
			def: &FlowDefinition{
				Steps: []FlowStep{step("a"), step("b"), step("c"), step("d")},
				Edges: []FlowEdge{
					{Source: "a", Target: "b"},
					{Source: "a", Target: "c"},
					{Source: "b", Target: "d"},
					{Source: "c", Target: "d"},
				},
			},
		},
		{
			name: "two-step cycle",
			def: &FlowDefinition{
				Steps: []FlowStep{step("a"), step("b")},
				Edges: []FlowEdge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
			},
			wantErr: ErrCyclicFlow.Error(),
		},
		{
			name: "three-step cycle",
			def: &FlowDefinition{
				Steps: []FlowStep{step("a"), step("b"), step("c")},
				Edges: []FlowEdge{
					{Source: "a", Target: "b"},
					{Source: "b", Target: "c"},
					{Source: "c", Target: "a"},
				},
			},
			wantErr: ErrCyclicFlow.Error(),
		},
		{
			name: "self loop",
			def: &FlowDefinition{
				Steps: []FlowStep{step("a")},
				Edges: []FlowEdge{{Source: "a", Target: "a"}},
			},
			wantErr: ErrCyclicFlow.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDefinition(tt.def)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
