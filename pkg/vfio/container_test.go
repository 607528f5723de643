// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kata-containers/govfio/pkg/vfio/bindings"
)

func newTestContainer(t *testing.T, k *fakeKernel, attacher HypervisorAttacher) *Container {
	k.handleContainer()

	container, err := NewContainer(context.Background(), attacher)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Close() })

	return container
}

func TestNewContainerMissingNode(t *testing.T) {
	fakeVfioDev(t)
	newFakeKernel(t)

	old := vfioContainerPath
	vfioContainerPath = old + "-none"
	defer func() { vfioContainerPath = old }()

	_, err := NewContainer(context.Background(), nil)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestNewContainerVersionMismatch(t *testing.T) {
	fakeVfioDev(t)
	k := newFakeKernel(t)
	k.onVal(bindings.VFIO_GET_API_VERSION, func(fd, val uintptr) (int, error) {
		return bindings.VFIO_API_VERSION + 1, nil
	})

	_, err := NewContainer(context.Background(), nil)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestNewContainerNoType1v2(t *testing.T) {
	fakeVfioDev(t)
	k := newFakeKernel(t)
	k.onVal(bindings.VFIO_GET_API_VERSION, func(fd, val uintptr) (int, error) {
		return bindings.VFIO_API_VERSION, nil
	})
	k.onVal(bindings.VFIO_CHECK_EXTENSION, func(fd, val uintptr) (int, error) {
		return 0, nil
	})

	_, err := NewContainer(context.Background(), nil)
	assert.ErrorIs(t, err, ErrExtensionUnsupported)
}

func TestGetGroupShared(t *testing.T) {
	fakeVfioDev(t, 7)
	k := newFakeKernel(t)
	k.handleViableGroups()

	attacher := &stubAttacher{}
	container := newTestContainer(t, k, attacher)

	first, err := container.getGroup(7)
	assert.NoError(t, err)
	second, err := container.getGroup(7)
	assert.NoError(t, err)

	// Same group id means the same group object, attached exactly once.
	assert.Same(t, first, second)
	assert.Equal(t, uint(2), first.users)
	assert.Len(t, attacher.attached, 1)

	container.putGroup(first)
	assert.Empty(t, attacher.detached)
	assert.Contains(t, container.groups, uint32(7))

	container.putGroup(second)
	assert.Len(t, attacher.detached, 1)
	assert.NotContains(t, container.groups, uint32(7))
}

func TestGetGroupConcurrent(t *testing.T) {
	fakeVfioDev(t, 9)
	k := newFakeKernel(t)
	k.handleViableGroups()

	attacher := &stubAttacher{}
	container := newTestContainer(t, k, attacher)

	const callers = 16
	groups := make([]*Group, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			group, err := container.getGroup(9)
			assert.NoError(t, err)
			groups[i] = group
		}(i)
	}
	wg.Wait()

	// However the callers raced, one group exists and each holds one
	// reference on it.
	for _, group := range groups {
		assert.Same(t, groups[0], group)
	}
	assert.Equal(t, uint(callers), groups[0].users)
	assert.Len(t, attacher.attached, 1)
}

func TestGetGroupNotViable(t *testing.T) {
	fakeVfioDev(t, 3)
	k := newFakeKernel(t)
	k.handleViableGroups()
	k.onBuf(bindings.VFIO_GROUP_GET_STATUS, func(fd uintptr, buf []byte) (int, error) {
		status := bindings.GroupStatus{Argsz: bindings.GroupStatusSize}
		status.MarshalBytes(buf)
		return 0, nil
	})

	container := newTestContainer(t, k, nil)

	_, err := container.getGroup(3)
	assert.ErrorIs(t, err, ErrGroupNotViable)
	assert.Empty(t, container.groups)
}

func TestGetGroupAttachRollback(t *testing.T) {
	fakeVfioDev(t, 5)
	k := newFakeKernel(t)
	k.handleViableGroups()

	var unbinds int
	k.onBuf(bindings.VFIO_GROUP_UNSET_CONTAINER, func(fd uintptr, buf []byte) (int, error) {
		unbinds++
		return 0, nil
	})

	attacher := &stubAttacher{failAttach: true}
	container := newTestContainer(t, k, attacher)

	_, err := container.getGroup(5)
	assert.ErrorIs(t, err, ErrAttach)
	assert.Empty(t, container.groups)
	assert.Equal(t, 1, unbinds)

	// A failed bind leaves nothing behind; retrying works once the VM
	// accepts the group again.
	attacher.failAttach = false
	group, err := container.getGroup(5)
	assert.NoError(t, err)
	assert.Equal(t, uint(1), group.users)
	assert.Len(t, attacher.attached, 1)
}

func TestGetGroupIommuRollback(t *testing.T) {
	fakeVfioDev(t, 5)
	k := newFakeKernel(t)
	k.handleViableGroups()

	container := newTestContainer(t, k, nil)

	var unbinds int
	k.onBuf(bindings.VFIO_GROUP_UNSET_CONTAINER, func(fd uintptr, buf []byte) (int, error) {
		unbinds++
		return 0, nil
	})

	failIommu := true
	k.onVal(bindings.VFIO_SET_IOMMU, func(fd, val uintptr) (int, error) {
		if failIommu {
			return -1, assert.AnError
		}
		return 0, nil
	})

	_, err := container.getGroup(5)
	assert.ErrorIs(t, err, ErrIommuSet)
	assert.Empty(t, container.groups)
	assert.Equal(t, 1, unbinds)

	failIommu = false
	group, err := container.getGroup(5)
	assert.NoError(t, err)
	assert.Equal(t, uint(1), group.users)
}

func TestGetGroupIommuSetOncePerContainer(t *testing.T) {
	fakeVfioDev(t, 1, 2)
	k := newFakeKernel(t)
	k.handleViableGroups()

	container := newTestContainer(t, k, nil)

	var iommuSets int
	k.onVal(bindings.VFIO_SET_IOMMU, func(fd, val uintptr) (int, error) {
		iommuSets++
		assert.Equal(t, uintptr(bindings.VFIO_TYPE1v2_IOMMU), val)
		return 0, nil
	})

	_, err := container.getGroup(1)
	assert.NoError(t, err)
	_, err = container.getGroup(2)
	assert.NoError(t, err)

	assert.Equal(t, 1, iommuSets)
}

func TestMapUnmapDMA(t *testing.T) {
	fakeVfioDev(t)
	k := newFakeKernel(t)
	container := newTestContainer(t, k, nil)

	var mapped bindings.DMAMap
	k.onBuf(bindings.VFIO_IOMMU_MAP_DMA, func(fd uintptr, buf []byte) (int, error) {
		mapped.UnmarshalBytes(buf)
		return 0, nil
	})
	k.onBuf(bindings.VFIO_IOMMU_UNMAP_DMA, func(fd uintptr, buf []byte) (int, error) {
		// Echo the requested size back, as the kernel does on success.
		return 0, nil
	})

	err := container.MapDMA(0x100000, 0x7f0000000000, 0x10000)
	assert.NoError(t, err)
	assert.Equal(t, bindings.DMAMap{
		Argsz: bindings.DMAMapSize,
		Flags: bindings.VFIO_DMA_MAP_FLAG_READ | bindings.VFIO_DMA_MAP_FLAG_WRITE,
		Vaddr: 0x7f0000000000,
		IOVA:  0x100000,
		Size:  0x10000,
	}, mapped)

	err = container.UnmapDMA(0x100000, 0x10000)
	assert.NoError(t, err)
}

func TestUnmapDMAShortUnmap(t *testing.T) {
	fakeVfioDev(t)
	k := newFakeKernel(t)
	container := newTestContainer(t, k, nil)

	k.onBuf(bindings.VFIO_IOMMU_UNMAP_DMA, func(fd uintptr, buf []byte) (int, error) {
		var unmap bindings.DMAUnmap
		unmap.UnmarshalBytes(buf)
		unmap.Size /= 2
		unmap.MarshalBytes(buf)
		return 0, nil
	})

	err := container.UnmapDMA(0x100000, 0x10000)
	assert.ErrorIs(t, err, ErrDMAUnmap)
}

// sliceMemory is a GuestMemory over a fixed region list.
type sliceMemory []MemoryRegion

func (m sliceMemory) IterateRegions(f func(MemoryRegion) error) error {
	for _, region := range m {
		if err := f(region); err != nil {
			return err
		}
	}
	return nil
}

func TestMapGuestMemory(t *testing.T) {
	fakeVfioDev(t)
	k := newFakeKernel(t)
	container := newTestContainer(t, k, nil)

	var iovas []uint64
	k.onBuf(bindings.VFIO_IOMMU_MAP_DMA, func(fd uintptr, buf []byte) (int, error) {
		var dmaMap bindings.DMAMap
		dmaMap.UnmarshalBytes(buf)
		iovas = append(iovas, dmaMap.IOVA)
		return 0, nil
	})

	mem := sliceMemory{
		{GuestAddr: 0x0, Size: 0x80000000, HostAddr: 0x7f0000000000},
		{GuestAddr: 0x100000000, Size: 0x80000000, HostAddr: 0x7f0080000000},
	}
	err := container.MapGuestMemory(context.Background(), mem)
	assert.NoError(t, err)
	assert.Equal(t, []uint64{0x0, 0x100000000}, iovas)
}

func TestMapGuestMemoryStopsOnFailure(t *testing.T) {
	fakeVfioDev(t)
	k := newFakeKernel(t)
	container := newTestContainer(t, k, nil)

	var calls int
	k.onBuf(bindings.VFIO_IOMMU_MAP_DMA, func(fd uintptr, buf []byte) (int, error) {
		calls++
		if calls == 2 {
			return -1, assert.AnError
		}
		return 0, nil
	})

	mem := sliceMemory{
		{GuestAddr: 0x0, Size: 0x1000, HostAddr: 0x1000},
		{GuestAddr: 0x2000, Size: 0x1000, HostAddr: 0x2000},
		{GuestAddr: 0x4000, Size: 0x1000, HostAddr: 0x3000},
	}
	err := container.MapGuestMemory(context.Background(), mem)
	assert.ErrorIs(t, err, ErrDMAMap)
	// The walk stops at the failed region, the third is never attempted.
	assert.Equal(t, 2, calls)
}

func TestContainerCloseSweepsGroups(t *testing.T) {
	fakeVfioDev(t, 11)
	k := newFakeKernel(t)
	k.handleViableGroups()

	attacher := &stubAttacher{}
	container := newTestContainer(t, k, attacher)

	_, err := container.getGroup(11)
	assert.NoError(t, err)

	err = container.Close()
	assert.NoError(t, err)
	assert.Len(t, attacher.detached, 1)
	assert.Empty(t, container.groups)
}
