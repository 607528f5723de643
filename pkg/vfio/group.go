// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kata-containers/govfio/pkg/vfio/bindings"
)

// Group wraps one kernel isolation group, the smallest unit of devices the
// IOMMU can assign as a whole. A Group is shared by every open Device that
// belongs to it and by the owning Container; it is created lazily on the
// first device open for its id and torn down when the last device goes away.
type Group struct {
	id   uint32
	file *os.File

	// users counts the open devices holding this group. Guarded by the
	// owning container's lock; teardown of kernel state triggers when it
	// drops to zero.
	users uint
}

// newGroup opens the group control node for id and verifies the group is
// viable, i.e. every device in it is bound to a VFIO driver. A group that is
// not viable cannot be used at all, so this fails construction.
func newGroup(id uint32) (*Group, error) {
	groupPath := filepath.Join(vfioDevDir, strconv.FormatUint(uint64(id), 10))
	file, err := os.OpenFile(groupPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: group %d: %w", ErrOpenFailed, id, err)
	}

	status := bindings.GroupStatus{Argsz: bindings.GroupStatusSize}
	buf := make([]byte, bindings.GroupStatusSize)
	status.MarshalBytes(buf)

	ret, err := ioctlBufFunc(file.Fd(), bindings.VFIO_GROUP_GET_STATUS, buf)
	if err != nil || ret < 0 {
		file.Close()
		return nil, fmt.Errorf("%w: group %d status query: %v", ErrGroupNotViable, id, err)
	}

	status.UnmarshalBytes(buf)
	if status.Flags&bindings.VFIO_GROUP_FLAGS_VIABLE == 0 {
		file.Close()
		return nil, fmt.Errorf("%w: group %d", ErrGroupNotViable, id)
	}

	return &Group{id: id, file: file}, nil
}

// ID returns the kernel identifier of the group.
func (g *Group) ID() uint32 {
	return g.id
}

// setContainer binds the group to the container's IOMMU domain.
func (g *Group) setContainer(c *Container) error {
	buf := make([]byte, 4)
	putNativeUint32(buf, uint32(c.file.Fd()))

	ret, err := ioctlBufFunc(g.file.Fd(), bindings.VFIO_GROUP_SET_CONTAINER, buf)
	if err != nil || ret < 0 {
		return fmt.Errorf("%w: group %d: %v", ErrGroupBind, g.id, err)
	}
	return nil
}

// unsetContainer removes the group from the container's IOMMU domain.
func (g *Group) unsetContainer(c *Container) error {
	buf := make([]byte, 4)
	putNativeUint32(buf, uint32(c.file.Fd()))

	ret, err := ioctlBufFunc(g.file.Fd(), bindings.VFIO_GROUP_UNSET_CONTAINER, buf)
	if err != nil || ret < 0 {
		return fmt.Errorf("%w: unbinding group %d: %v", ErrGroupBind, g.id, err)
	}
	return nil
}

// getDevice resolves the device named by the last component of sysfsPath to
// an open device handle and checks it exposes the surface the rest of the
// package depends on: a PCI device with at least the configuration-space
// region and the MSI-X interrupt index.
func (g *Group) getDevice(sysfsPath string) (*deviceInfo, error) {
	name := filepath.Base(filepath.Clean(sysfsPath))
	if name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, sysfsPath)
	}

	// The kernel wants the device name as a NUL-terminated string.
	nameBuf := append([]byte(name), 0)
	fd, err := ioctlBufFunc(g.file.Fd(), bindings.VFIO_GROUP_GET_DEVICE_FD, nameBuf)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("%w: %s in group %d: %v", ErrPathNotFound, name, g.id, err)
	}
	device := os.NewFile(uintptr(fd), name)

	info := bindings.DeviceInfo{Argsz: bindings.DeviceInfoSize}
	buf := make([]byte, bindings.DeviceInfoSize)
	info.MarshalBytes(buf)

	ret, err := ioctlBufFunc(device.Fd(), bindings.VFIO_DEVICE_GET_INFO, buf)
	if err != nil || ret < 0 {
		device.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceInfo, name, err)
	}
	info.UnmarshalBytes(buf)

	if info.Flags&bindings.VFIO_DEVICE_FLAGS_PCI == 0 ||
		info.NumRegions < bindings.VFIO_PCI_CONFIG_REGION_INDEX+1 ||
		info.NumIrqs < bindings.VFIO_PCI_MSIX_IRQ_INDEX+1 {
		device.Close()
		return nil, fmt.Errorf("%w: %s is not a PCI device with config space and MSI-X", ErrDeviceInfo, name)
	}

	return &deviceInfo{
		device:     device,
		flags:      info.Flags,
		numRegions: info.NumRegions,
		numIrqs:    info.NumIrqs,
	}, nil
}
