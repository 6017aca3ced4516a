// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/flowforge/flowforge/internal/logging"
)

// ClusterType selects how the Kubernetes client is configured.
type ClusterType string

const (
	ClusterTypeAuto     ClusterType = "auto"
	ClusterTypeKind     ClusterType = "kind"
	ClusterTypeEKS      ClusterType = "eks"
	ClusterTypeExternal ClusterType = "external"
)

// Config is the top-level configuration for the FlowForge API server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Database DatabaseConfig `koanf:"database"`
	CORS     CORSConfig     `koanf:"cors"`
	Cluster  ClusterConfig  `koanf:"cluster"`
	Logging  logging.Config `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
}

// WorkflowConfig holds workflow-engine settings.
type WorkflowConfig struct {
	// Namespace is used for all workflow and helper-pod operations.
	Namespace string `koanf:"namespace"`
	// NixBaseImage is the container image bearing the nix-portable binary,
	// used when a task declares system dependencies.
	NixBaseImage string `koanf:"nix_base_image"`
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	// URL is either a postgres:// connection string or a sqlite file path.
	URL string `koanf:"url"`
}

// CORSConfig holds the allowed origins for browser clients.
type CORSConfig struct {
	// Origins is a comma-separated list; "*" allows any origin.
	Origins string `koanf:"origins"`
}

// ClusterConfig selects how cluster credentials are resolved.
type ClusterConfig struct {
	Type           string `koanf:"type"`
	KubeconfigPath string `koanf:"kubeconfig_path"`
}

// DefaultConfig returns the configuration defaults applied before file and
// environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Workflow: WorkflowConfig{
			Namespace:    "default",
			NixBaseImage: "ghcr.io/flowforge/nix-portable-runner:latest",
		},
		Database: DatabaseConfig{
			URL: "flowforge.db",
		},
		CORS: CORSConfig{
			Origins: "*",
		},
		Cluster: ClusterConfig{
			Type: string(ClusterTypeAuto),
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate implements the Validator interface.
func (c *Config) Validate() error {
	var errs ValidationErrors

	add := func(err *FieldError) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	server := NewPath("server")
	add(MustBeInRange(server.Child("port"), c.Server.Port, 1, 65535))
	add(MustBeNonNegative(server.Child("read_timeout"), c.Server.ReadTimeout))
	add(MustBeNonNegative(server.Child("write_timeout"), c.Server.WriteTimeout))
	add(MustBeNonNegative(server.Child("idle_timeout"), c.Server.IdleTimeout))

	wf := NewPath("workflow")
	add(MustNotBeEmpty(wf.Child("namespace"), c.Workflow.Namespace))
	add(MustNotBeEmpty(wf.Child("nix_base_image"), c.Workflow.NixBaseImage))

	add(MustNotBeEmpty(NewPath("database").Child("url"), c.Database.URL))

	cluster := NewPath("cluster")
	add(MustBeOneOf(cluster.Child("type"), c.Cluster.Type, []string{
		string(ClusterTypeAuto), string(ClusterTypeKind), string(ClusterTypeEKS), string(ClusterTypeExternal),
	}))
	if ClusterType(c.Cluster.Type) == ClusterTypeExternal {
		add(MustNotBeEmpty(cluster.Child("kubeconfig_path"), c.Cluster.KubeconfigPath))
	}

	return errs.OrNil()
}

// CORSOrigins returns the configured origins as a trimmed slice.
func (c *Config) CORSOrigins() []string {
	parts := strings.Split(c.CORS.Origins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// Load reads the full server configuration from defaults, the optional YAML
// file at configPath, and FLOWFORGE__* environment variables.
func Load(configPath string) (*Config, error) {
	loader := NewLoader("FLOWFORGE")
	if err := loader.LoadWithDefaults(DefaultConfig(), configPath); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := loader.UnmarshalAndValidate("", cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
