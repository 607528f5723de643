// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"encoding/binary"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The two ioctl entry points are package variables so tests can stand in a
// fake kernel. Every kernel call in this package funnels through one of them:
// ioctlValFunc for requests whose argument is a plain value, ioctlBufFunc for
// requests whose argument is a pointer to a caller-sized buffer.
var (
	ioctlValFunc = ioctlVal
	ioctlBufFunc = ioctlBuf
)

func ioctlVal(fd uintptr, request uintptr, val uintptr) (int, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, val)
	if errno != 0 {
		return -1, errno
	}
	return int(ret), nil
}

// putNativeUint32 writes v into buf in the host's byte order, the layout the
// kernel expects for fd arguments passed by pointer.
func putNativeUint32(buf []byte, v uint32) {
	binary.NativeEndian.PutUint32(buf, v)
}

func ioctlBuf(fd uintptr, request uintptr, buf []byte) (int, error) {
	var arg uintptr
	if len(buf) != 0 {
		arg = uintptr(unsafe.Pointer(&buf[0]))
	}
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, arg)
	runtime.KeepAlive(buf)
	if errno != 0 {
		return -1, errno
	}
	return int(ret), nil
}
