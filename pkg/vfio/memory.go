// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

// MemoryRegion is one contiguous run of guest memory: where the guest sees
// it, how long it is, and where it lives in the host's address space.
type MemoryRegion struct {
	GuestAddr uint64
	Size      uint64
	HostAddr  uint64
}

// GuestMemory enumerates the guest's memory regions. Implementations are
// provided by the VMM's memory model; this package only walks them to install
// or remove IOMMU translations. The sequence must be finite and restartable:
// IterateRegions may be called more than once and must visit the same regions
// each time. Iteration stops at the first callback error, which is returned.
type GuestMemory interface {
	IterateRegions(func(MemoryRegion) error) error
}
