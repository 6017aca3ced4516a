// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

// Package hash provides generic utilities for computing hashes.
// This package contains no domain-specific types and can be used by any package.
package hash

import (
	"fmt"
	"hash/fnv"

	"k8s.io/apimachinery/pkg/util/dump"
	"k8s.io/apimachinery/pkg/util/rand"
)

// ComputeHash computes a short hash string from any object, using
// dump.ForHash() for a deterministic string representation. The result is
// safe-encoded the Kubernetes way so it can appear in resource names.
func ComputeHash(obj interface{}) string {
	hasher := fnv.New32a()
	hasher.Write([]byte(dump.ForHash(obj)))
	return rand.SafeEncodeString(fmt.Sprint(hasher.Sum32()))
}

// Equal returns true if two objects produce the same hash.
func Equal(obj1, obj2 interface{}) bool {
	return ComputeHash(obj1) == ComputeHash(obj2)
}
