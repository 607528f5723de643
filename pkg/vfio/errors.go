// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import "errors"

// Errors reported by the package. Call sites wrap these with context, so
// match with errors.Is rather than equality.
var (
	// ErrOpenFailed means the container, group or device file could not
	// be opened.
	ErrOpenFailed = errors.New("vfio open failed")

	// ErrVersionMismatch means the kernel reports a VFIO API version this
	// package was not written against.
	ErrVersionMismatch = errors.New("unexpected VFIO API version")

	// ErrExtensionUnsupported means the container does not support the
	// Type1 v2 IOMMU backend.
	ErrExtensionUnsupported = errors.New("VFIO extension not supported")

	// ErrGroupNotViable means not every device in the group is bound to a
	// VFIO driver, so the group cannot be used.
	ErrGroupNotViable = errors.New("VFIO group is not viable")

	// ErrInvalidPath means a device path could not be parsed down to a
	// device identifier or an owning group.
	ErrInvalidPath = errors.New("invalid VFIO device path")

	// ErrPathNotFound means the group could not resolve the named device.
	ErrPathNotFound = errors.New("device not found in VFIO group")

	// ErrDeviceInfo means the device info query failed or the device does
	// not expose the PCI surface this package requires.
	ErrDeviceInfo = errors.New("VFIO device info query failed")

	// ErrGroupBind means binding the group to the container failed.
	ErrGroupBind = errors.New("binding VFIO group to container failed")

	// ErrIommuSet means selecting the IOMMU backend failed.
	ErrIommuSet = errors.New("setting VFIO IOMMU backend failed")

	// ErrAttach means the hypervisor collaborator rejected the group.
	ErrAttach = errors.New("attaching VFIO group to hypervisor failed")

	// ErrDMAMap and ErrDMAUnmap report IOMMU translation failures. A
	// partial unmap, where the kernel reports a size other than the one
	// requested, is an ErrDMAUnmap as well.
	ErrDMAMap   = errors.New("VFIO DMA map failed")
	ErrDMAUnmap = errors.New("VFIO DMA unmap failed")

	// ErrNoSuchIrq means the interrupt index is unknown to the device or
	// the vector lies outside the index's vector count.
	ErrNoSuchIrq = errors.New("no such VFIO interrupt")

	// ErrIrqSet means the kernel rejected an interrupt setup request.
	ErrIrqSet = errors.New("VFIO interrupt set failed")

	// ErrCapChainCorrupt means a region's capability chain does not fit
	// the buffer the kernel sized for it, or walks in a loop.
	ErrCapChainCorrupt = errors.New("malformed region capability chain")
)
