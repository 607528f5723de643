// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package kvm attaches VFIO groups to a KVM virtual machine through the
// kvm-vfio pseudo device, so KVM can account for the IOMMU state of assigned
// devices (coherency, in-kernel interrupt delivery).
package kvm

import (
	"encoding/binary"
	"os"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/kata-containers/govfio/pkg/vfio/bindings"
)

// kvm-vfio device attribute encoding, from the KVM uapi.
const (
	kvmDevVfioGroup    = 1
	kvmDevVfioGroupAdd = 1
	kvmDevVfioGroupDel = 2

	// struct kvm_device_attr: u32 flags, u32 group, u64 attr, u64 addr.
	kvmDeviceAttrSize = 24
)

var kvmSetDeviceAttr = bindings.IOW(0xAE, 0xe1, kvmDeviceAttrSize)

var ioctlFunc = ioctl

func ioctl(fd uintptr, request uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, request, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// Attacher notifies a KVM virtual machine of VFIO group membership. It
// implements the hypervisor attacher interface of the vfio package.
type Attacher struct {
	device *os.File
}

// NewAttacher wraps an open kvm-vfio pseudo device, created on the VM file
// descriptor with KVM_CREATE_DEVICE(KVM_DEV_TYPE_VFIO). The caller keeps
// ownership of the file.
func NewAttacher(device *os.File) *Attacher {
	return &Attacher{device: device}
}

// AttachGroup registers a VFIO group file descriptor with the VM.
func (a *Attacher) AttachGroup(groupFd int) error {
	return a.setGroup(kvmDevVfioGroupAdd, groupFd)
}

// DetachGroup removes a VFIO group file descriptor from the VM.
func (a *Attacher) DetachGroup(groupFd int) error {
	return a.setGroup(kvmDevVfioGroupDel, groupFd)
}

func (a *Attacher) setGroup(op uint64, groupFd int) error {
	fd := int32(groupFd)

	buf := make([]byte, kvmDeviceAttrSize)
	binary.NativeEndian.PutUint32(buf[4:], kvmDevVfioGroup)
	binary.NativeEndian.PutUint64(buf[8:], op)
	binary.NativeEndian.PutUint64(buf[16:], uint64(uintptr(unsafe.Pointer(&fd))))

	err := ioctlFunc(a.device.Fd(), kvmSetDeviceAttr, uintptr(unsafe.Pointer(&buf[0])))
	runtime.KeepAlive(&fd)
	runtime.KeepAlive(buf)
	if err != nil {
		return errors.Wrapf(err, "kvm-vfio group op %d on fd %d", op, groupFd)
	}
	return nil
}
