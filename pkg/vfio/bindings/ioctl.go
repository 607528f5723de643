// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package bindings

// Ioctl request number construction, from the kernel's
// include/uapi/asm-generic/ioctl.h.
const (
	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

// IOC computes an ioctl request number from its direction, type, number
// and argument size, like the kernel's _IOC macro.
func IOC(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

// IO computes an _IO request number (no argument size encoded).
func IO(typ, nr uintptr) uintptr {
	return IOC(iocNone, typ, nr, 0)
}

// IOR computes an _IOR request number.
func IOR(typ, nr, size uintptr) uintptr {
	return IOC(iocRead, typ, nr, size)
}

// IOW computes an _IOW request number.
func IOW(typ, nr, size uintptr) uintptr {
	return IOC(iocWrite, typ, nr, size)
}
