// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package kube wraps the Kubernetes clients the control plane needs: the
// dynamic client for Argo Workflow custom resources and the typed clientset
// for pods, claims, logs and exec.
package kube

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/flowforge/flowforge/internal/config"
)

// Client bundles the Kubernetes API surfaces used by the control plane.
type Client struct {
	clientset  kubernetes.Interface
	dynamic    dynamic.Interface
	restConfig *rest.Config
	namespace  string
	logger     *slog.Logger
}

// NewClient builds the Kubernetes clients according to the cluster
// configuration. In-cluster credentials win when present; otherwise the
// kubeconfig is loaded from the configured path or the default location.
// For kind clusters reached from inside a container the API server host is
// rewritten to host.docker.internal and TLS verification is disabled
// (kind serves a self-signed certificate for localhost only).
func NewClient(cfg config.ClusterConfig, namespace string, logger *slog.Logger) (*Client, error) {
	restConfig, err := buildRESTConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	return &Client{
		clientset:  clientset,
		dynamic:    dynamicClient,
		restConfig: restConfig,
		namespace:  namespace,
		logger:     logger,
	}, nil
}

// Namespace returns the namespace all workflow and pod operations target.
func (c *Client) Namespace() string {
	return c.namespace
}

func buildRESTConfig(cfg config.ClusterConfig, logger *slog.Logger) (*rest.Config, error) {
	if restConfig, err := rest.InClusterConfig(); err == nil {
		logger.Info("using in-cluster kubernetes configuration")
		return restConfig, nil
	}

	kubeconfigPath := cfg.KubeconfigPath
	if kubeconfigPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			kubeconfigPath = filepath.Join(home, ".kube", "config")
		}
	}

	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig from %s: %w", kubeconfigPath, err)
	}
	logger.Info("loaded kubernetes configuration", slog.String("kubeconfig", kubeconfigPath))

	clusterType := config.ClusterType(cfg.Type)
	isLocalhost := strings.Contains(restConfig.Host, "127.0.0.1") || strings.Contains(restConfig.Host, "localhost")
	if clusterType == config.ClusterTypeKind || (clusterType == config.ClusterTypeAuto && isLocalhost) {
		patchForKind(restConfig, logger)
	}

	return restConfig, nil
}

// patchForKind adapts a localhost kubeconfig for use against a kind
// cluster. The host rewrite only applies when running inside a container,
// where localhost does not reach the host machine's API server.
func patchForKind(restConfig *rest.Config, logger *slog.Logger) {
	if !strings.Contains(restConfig.Host, "127.0.0.1") && !strings.Contains(restConfig.Host, "localhost") {
		return
	}

	if runningInContainer() {
		restConfig.Host = strings.ReplaceAll(restConfig.Host, "127.0.0.1", "host.docker.internal")
		restConfig.Host = strings.ReplaceAll(restConfig.Host, "localhost", "host.docker.internal")
		logger.Info("rewrote kind api server host for container networking",
			slog.String("host", restConfig.Host))
	} else {
		logger.Info("using localhost kind cluster")
	}

	// kind's certificate is only valid for the original localhost address.
	restConfig.TLSClientConfig.Insecure = true
	restConfig.TLSClientConfig.CAFile = ""
	restConfig.TLSClientConfig.CAData = nil
}

func runningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return os.Getenv("DOCKER_CONTAINER") == "true"
}
