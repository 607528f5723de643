// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"path/filepath"
	"strings"
)

// Package variables rather than constants so tests can point the package at
// a scratch directory instead of the real /dev/vfio.
var (
	// vfioContainerPath is the IOMMU domain control node.
	vfioContainerPath = "/dev/vfio/vfio"

	// vfioDevDir holds the per-group control nodes, named by group id.
	vfioDevDir = "/dev/vfio"
)

// IsVFIOControlDevicePath reports whether path names the VFIO container
// control device rather than a group.
func IsVFIOControlDevicePath(path string) bool {
	return path == filepath.Join(vfioDevDir, "vfio")
}

// IsVFIODevicePath reports whether path names a VFIO group control device,
// e.g. /dev/vfio/16.
func IsVFIODevicePath(hostPath string) bool {
	// The container node lives in the same directory and is not a group.
	if strings.HasPrefix(hostPath, filepath.Join(vfioDevDir, "vfio")) {
		return false
	}

	prefix := vfioDevDir + "/"
	return strings.HasPrefix(hostPath, prefix) && len(hostPath) > len(prefix)
}
