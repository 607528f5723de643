// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/kata-containers/govfio/pkg/vfio/bindings"
)

// fakeKernel stands in for the VFIO side of the kernel. Tests register a
// handler per ioctl request number; unhandled requests fail the test so a
// codepath cannot silently talk to an ioctl the test did not model.
type fakeKernel struct {
	t *testing.T

	valHandlers map[uintptr]func(fd uintptr, val uintptr) (int, error)
	bufHandlers map[uintptr]func(fd uintptr, buf []byte) (int, error)
}

func newFakeKernel(t *testing.T) *fakeKernel {
	k := &fakeKernel{
		t:           t,
		valHandlers: make(map[uintptr]func(fd uintptr, val uintptr) (int, error)),
		bufHandlers: make(map[uintptr]func(fd uintptr, buf []byte) (int, error)),
	}

	oldVal, oldBuf := ioctlValFunc, ioctlBufFunc
	ioctlValFunc = func(fd uintptr, request uintptr, val uintptr) (int, error) {
		handler, ok := k.valHandlers[request]
		if !ok {
			t.Fatalf("unexpected value ioctl 0x%x", request)
		}
		return handler(fd, val)
	}
	ioctlBufFunc = func(fd uintptr, request uintptr, buf []byte) (int, error) {
		handler, ok := k.bufHandlers[request]
		if !ok {
			t.Fatalf("unexpected buffer ioctl 0x%x", request)
		}
		return handler(fd, buf)
	}
	t.Cleanup(func() {
		ioctlValFunc, ioctlBufFunc = oldVal, oldBuf
	})

	return k
}

func (k *fakeKernel) onVal(request uintptr, handler func(fd uintptr, val uintptr) (int, error)) {
	k.valHandlers[request] = handler
}

func (k *fakeKernel) onBuf(request uintptr, handler func(fd uintptr, buf []byte) (int, error)) {
	k.bufHandlers[request] = handler
}

// handleContainer installs the handlers NewContainer needs for the happy
// path: matching API version and Type1 v2 support.
func (k *fakeKernel) handleContainer() {
	k.onVal(bindings.VFIO_GET_API_VERSION, func(fd, val uintptr) (int, error) {
		return bindings.VFIO_API_VERSION, nil
	})
	k.onVal(bindings.VFIO_CHECK_EXTENSION, func(fd, val uintptr) (int, error) {
		if val == bindings.VFIO_TYPE1v2_IOMMU {
			return 1, nil
		}
		return 0, nil
	})
	k.onVal(bindings.VFIO_SET_IOMMU, func(fd, val uintptr) (int, error) {
		return 0, nil
	})
}

// handleViableGroups installs group bind handlers reporting every group as
// viable.
func (k *fakeKernel) handleViableGroups() {
	k.onBuf(bindings.VFIO_GROUP_GET_STATUS, func(fd uintptr, buf []byte) (int, error) {
		status := bindings.GroupStatus{
			Argsz: bindings.GroupStatusSize,
			Flags: bindings.VFIO_GROUP_FLAGS_VIABLE,
		}
		status.MarshalBytes(buf)
		return 0, nil
	})
	k.onBuf(bindings.VFIO_GROUP_SET_CONTAINER, func(fd uintptr, buf []byte) (int, error) {
		return 0, nil
	})
	k.onBuf(bindings.VFIO_GROUP_UNSET_CONTAINER, func(fd uintptr, buf []byte) (int, error) {
		return 0, nil
	})
}

// fakeVfioDev points the package at a scratch /dev/vfio with the container
// node and the given group nodes present, restoring the real paths when the
// test ends.
func fakeVfioDev(t *testing.T, groupIDs ...uint32) {
	dir := t.TempDir()

	for _, name := range append([]string{"vfio"}, groupNames(groupIDs)...) {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	oldContainer, oldDir := vfioContainerPath, vfioDevDir
	vfioContainerPath = filepath.Join(dir, "vfio")
	vfioDevDir = dir
	t.Cleanup(func() {
		vfioContainerPath, vfioDevDir = oldContainer, oldDir
	})
}

func groupNames(ids []uint32) []string {
	var names []string
	for _, id := range ids {
		names = append(names, fmt.Sprintf("%d", id))
	}
	return names
}

// dupFile hands out a fresh descriptor for the given file, the way the
// kernel mints device fds from VFIO_GROUP_GET_DEVICE_FD.
func dupFile(t *testing.T, file *os.File) int {
	fd, err := unix.Dup(int(file.Fd()))
	if err != nil {
		t.Fatal(err)
	}
	return fd
}

// stubAttacher records the group fds it saw and can be told to reject
// attaches.
type stubAttacher struct {
	attached   []int
	detached   []int
	failAttach bool
}

func (s *stubAttacher) AttachGroup(groupFd int) error {
	if s.failAttach {
		return fmt.Errorf("vm rejected group fd %d", groupFd)
	}
	s.attached = append(s.attached, groupFd)
	return nil
}

func (s *stubAttacher) DetachGroup(groupFd int) error {
	s.detached = append(s.detached, groupFd)
	return nil
}
