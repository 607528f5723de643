// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package bindings carries the userspace ABI of the Linux VFIO framework:
// ioctl request numbers, flag and index constants, and the fixed-size
// structures exchanged with the kernel. Names mirror include/uapi/linux/vfio.h
// so they can be cross-checked against the kernel header directly.
package bindings

// VFIO_API_VERSION is the container API version this package was written
// against. The kernel reports its version from VFIO_GET_API_VERSION and the
// two must match exactly.
const VFIO_API_VERSION = 0

const (
	VFIO_TYPE = ';'
	VFIO_BASE = 100
)

// Container, group and device ioctl requests, _IO(VFIO_TYPE, VFIO_BASE + n).
// VFIO encodes no argument size in its request numbers; variable-size
// arguments self-describe through a leading argsz field instead.
const (
	VFIO_GET_API_VERSION        = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 0)
	VFIO_CHECK_EXTENSION        = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 1)
	VFIO_SET_IOMMU              = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 2)
	VFIO_GROUP_GET_STATUS       = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 3)
	VFIO_GROUP_SET_CONTAINER    = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 4)
	VFIO_GROUP_UNSET_CONTAINER  = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 5)
	VFIO_GROUP_GET_DEVICE_FD    = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 6)
	VFIO_DEVICE_GET_INFO        = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 7)
	VFIO_DEVICE_GET_REGION_INFO = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 8)
	VFIO_DEVICE_GET_IRQ_INFO    = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 9)
	VFIO_DEVICE_SET_IRQS        = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 10)
	VFIO_DEVICE_RESET           = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 11)
	VFIO_IOMMU_GET_INFO         = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 12)
	VFIO_IOMMU_MAP_DMA          = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 13)
	VFIO_IOMMU_UNMAP_DMA        = VFIO_TYPE<<iocTypeShift | (VFIO_BASE + 14)
)

// IOMMU backend types for VFIO_SET_IOMMU / VFIO_CHECK_EXTENSION.
const (
	VFIO_TYPE1_IOMMU     = 1
	VFIO_SPAPR_TCE_IOMMU = 2
	VFIO_TYPE1v2_IOMMU   = 3
)

// Group status flags.
const (
	VFIO_GROUP_FLAGS_VIABLE        = 1 << 0
	VFIO_GROUP_FLAGS_CONTAINER_SET = 1 << 1
)

// Device info flags.
const (
	VFIO_DEVICE_FLAGS_RESET    = 1 << 0
	VFIO_DEVICE_FLAGS_PCI      = 1 << 1
	VFIO_DEVICE_FLAGS_PLATFORM = 1 << 2
	VFIO_DEVICE_FLAGS_AMBA     = 1 << 3
	VFIO_DEVICE_FLAGS_CCW      = 1 << 4
	VFIO_DEVICE_FLAGS_AP       = 1 << 5
)

// Region info flags.
const (
	VFIO_REGION_INFO_FLAG_READ  = 1 << 0
	VFIO_REGION_INFO_FLAG_WRITE = 1 << 1
	VFIO_REGION_INFO_FLAG_MMAP  = 1 << 2
	VFIO_REGION_INFO_FLAG_CAPS  = 1 << 3
)

// Region info capability identifiers.
const (
	VFIO_REGION_INFO_CAP_SPARSE_MMAP    = 1
	VFIO_REGION_INFO_CAP_TYPE           = 2
	VFIO_REGION_INFO_CAP_MSIX_MAPPABLE  = 3
	VFIO_REGION_INFO_CAP_NVLINK2_SSATGT = 4
	VFIO_REGION_INFO_CAP_NVLINK2_LNKSPD = 5
)

// Fixed vfio-pci region indices.
const (
	VFIO_PCI_BAR0_REGION_INDEX   = 0
	VFIO_PCI_BAR1_REGION_INDEX   = 1
	VFIO_PCI_BAR2_REGION_INDEX   = 2
	VFIO_PCI_BAR3_REGION_INDEX   = 3
	VFIO_PCI_BAR4_REGION_INDEX   = 4
	VFIO_PCI_BAR5_REGION_INDEX   = 5
	VFIO_PCI_ROM_REGION_INDEX    = 6
	VFIO_PCI_CONFIG_REGION_INDEX = 7
	VFIO_PCI_VGA_REGION_INDEX    = 8
)

// Fixed vfio-pci interrupt indices.
const (
	VFIO_PCI_INTX_IRQ_INDEX = 0
	VFIO_PCI_MSI_IRQ_INDEX  = 1
	VFIO_PCI_MSIX_IRQ_INDEX = 2
	VFIO_PCI_ERR_IRQ_INDEX  = 3
	VFIO_PCI_REQ_IRQ_INDEX  = 4
)

// IRQ info flags.
const (
	VFIO_IRQ_INFO_EVENTFD    = 1 << 0
	VFIO_IRQ_INFO_MASKABLE   = 1 << 1
	VFIO_IRQ_INFO_AUTOMASKED = 1 << 2
	VFIO_IRQ_INFO_NORESIZE   = 1 << 3
)

// VFIO_DEVICE_SET_IRQS flags. Exactly one data type and one action are
// combined per request.
const (
	VFIO_IRQ_SET_DATA_NONE      = 1 << 0
	VFIO_IRQ_SET_DATA_BOOL      = 1 << 1
	VFIO_IRQ_SET_DATA_EVENTFD   = 1 << 2
	VFIO_IRQ_SET_ACTION_MASK    = 1 << 3
	VFIO_IRQ_SET_ACTION_UNMASK  = 1 << 4
	VFIO_IRQ_SET_ACTION_TRIGGER = 1 << 5

	VFIO_IRQ_SET_DATA_TYPE_MASK = VFIO_IRQ_SET_DATA_NONE |
		VFIO_IRQ_SET_DATA_BOOL | VFIO_IRQ_SET_DATA_EVENTFD
	VFIO_IRQ_SET_ACTION_TYPE_MASK = VFIO_IRQ_SET_ACTION_MASK |
		VFIO_IRQ_SET_ACTION_UNMASK | VFIO_IRQ_SET_ACTION_TRIGGER
)

// DMA map flags.
const (
	VFIO_DMA_MAP_FLAG_READ  = 1 << 0
	VFIO_DMA_MAP_FLAG_WRITE = 1 << 1
)
