// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package vfio drives the Linux VFIO framework from userspace: it manages
// IOMMU containers and isolation groups, opens passthrough devices, describes
// their regions and interrupts, wires interrupts to eventfds and installs DMA
// translations for guest memory.
package vfio

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kata-containers/govfio/pkg/vfio/bindings"
)

// Container owns one IOMMU domain. Groups join it as their devices are
// opened, every DMA mapping installed through it is visible to all of them,
// and the hypervisor attacher is kept in step with the group membership.
//
// A Container is safe for concurrent use.
type Container struct {
	mu       sync.Mutex
	file     *os.File
	attacher HypervisorAttacher

	// groups tracks the groups currently bound to this container, keyed by
	// group id. Guarded by mu, as are the users counters of its members.
	groups map[uint32]*Group
}

// NewContainer opens the VFIO container device and verifies the kernel side
// speaks the API revision and the Type1 v2 IOMMU backend this package is
// written for. The attacher is notified as groups come and go; pass nil for a
// VMM that needs no notification.
func NewContainer(ctx context.Context, attacher HypervisorAttacher) (*Container, error) {
	span, _ := trace(ctx, "NewContainer")
	defer span.End()

	file, err := os.OpenFile(vfioContainerPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, vfioContainerPath, err)
	}

	c := &Container{
		file:     file,
		attacher: attacher,
		groups:   make(map[uint32]*Group),
	}

	if err := c.checkAPIVersion(); err != nil {
		file.Close()
		return nil, err
	}
	if err := c.checkExtension(bindings.VFIO_TYPE1v2_IOMMU); err != nil {
		file.Close()
		return nil, err
	}

	return c, nil
}

func (c *Container) checkAPIVersion() error {
	version, err := ioctlValFunc(c.file.Fd(), bindings.VFIO_GET_API_VERSION, 0)
	if err != nil {
		return fmt.Errorf("%w: version query: %w", ErrVersionMismatch, err)
	}
	if version != bindings.VFIO_API_VERSION {
		return fmt.Errorf("%w: kernel reports %d, want %d", ErrVersionMismatch, version, bindings.VFIO_API_VERSION)
	}
	return nil
}

func (c *Container) checkExtension(extension uintptr) error {
	ret, err := ioctlValFunc(c.file.Fd(), bindings.VFIO_CHECK_EXTENSION, extension)
	if err != nil || ret != 1 {
		return fmt.Errorf("%w: extension %d: %v", ErrExtensionUnsupported, extension, err)
	}
	return nil
}

// setIOMMU selects the IOMMU backend for the container. The kernel only
// accepts this once at least one group is bound, so it runs as part of the
// first group bind rather than construction.
func (c *Container) setIOMMU() error {
	ret, err := ioctlValFunc(c.file.Fd(), bindings.VFIO_SET_IOMMU, bindings.VFIO_TYPE1v2_IOMMU)
	if err != nil || ret < 0 {
		return fmt.Errorf("%w: %v", ErrIommuSet, err)
	}
	return nil
}

// getGroup returns the group with the given id, opening and binding it on
// first use. Each call takes one reference on the group; the caller owns it
// until the matching putGroup.
//
// A fresh group walks bind, IOMMU selection on the container's first group,
// then hypervisor attach. Any failure unwinds the steps already taken, so a
// failed getGroup leaves the container exactly as it was and a later retry
// starts from scratch.
func (c *Container) getGroup(id uint32) (*Group, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if group, ok := c.groups[id]; ok {
		group.users++
		return group, nil
	}

	group, err := newGroup(id)
	if err != nil {
		return nil, err
	}

	if err := group.setContainer(c); err != nil {
		group.file.Close()
		return nil, err
	}

	// The backend can only be selected once a group is bound, and switches
	// the whole container, so only the first group does it.
	if len(c.groups) == 0 {
		if err := c.setIOMMU(); err != nil {
			if uerr := group.unsetContainer(c); uerr != nil {
				deviceLogger().WithField("group-id", id).WithError(uerr).Warn("Could not unbind group during rollback")
			}
			group.file.Close()
			return nil, err
		}
	}

	if c.attacher != nil {
		if err := c.attacher.AttachGroup(int(group.file.Fd())); err != nil {
			if uerr := group.unsetContainer(c); uerr != nil {
				deviceLogger().WithField("group-id", id).WithError(uerr).Warn("Could not unbind group during rollback")
			}
			group.file.Close()
			return nil, fmt.Errorf("%w: group %d: %w", ErrAttach, id, err)
		}
	}

	group.users = 1
	c.groups[id] = group

	return group, nil
}

// putGroup drops one reference on the group. When the last reference goes,
// the group is detached from the hypervisor, unbound from the container and
// closed. Teardown failures are logged rather than returned: the caller is
// releasing a device and there is nothing it could do differently.
func (c *Container) putGroup(group *Group) {
	c.mu.Lock()
	defer c.mu.Unlock()

	group.users--
	if group.users > 0 {
		return
	}

	if c.attacher != nil {
		if err := c.attacher.DetachGroup(int(group.file.Fd())); err != nil {
			deviceLogger().WithField("group-id", group.id).WithError(err).Warn("Could not detach group from hypervisor")
		}
	}

	if err := group.unsetContainer(c); err != nil {
		// The kernel still considers the group bound; keep our record of
		// it rather than pretend otherwise.
		deviceLogger().WithField("group-id", group.id).WithError(err).Warn("Could not unbind group from container")
		return
	}

	group.file.Close()
	delete(c.groups, group.id)
}

// MapDMA installs an IOMMU translation from iova to size bytes of process
// memory at hostAddr, readable and writable by every device in the container.
func (c *Container) MapDMA(iova, hostAddr, size uint64) error {
	dmaMap := bindings.DMAMap{
		Argsz: bindings.DMAMapSize,
		Flags: bindings.VFIO_DMA_MAP_FLAG_READ | bindings.VFIO_DMA_MAP_FLAG_WRITE,
		Vaddr: hostAddr,
		IOVA:  iova,
		Size:  size,
	}
	buf := make([]byte, bindings.DMAMapSize)
	dmaMap.MarshalBytes(buf)

	ret, err := ioctlBufFunc(c.file.Fd(), bindings.VFIO_IOMMU_MAP_DMA, buf)
	if err != nil || ret < 0 {
		return fmt.Errorf("%w: iova 0x%x size 0x%x: %v", ErrDMAMap, iova, size, err)
	}
	return nil
}

// UnmapDMA removes the translation for size bytes at iova. The kernel echoes
// back the size it actually unmapped; anything other than the full request
// means the domain is no longer in the state the caller believes, and is an
// error.
func (c *Container) UnmapDMA(iova, size uint64) error {
	dmaUnmap := bindings.DMAUnmap{
		Argsz: bindings.DMAUnmapSize,
		IOVA:  iova,
		Size:  size,
	}
	buf := make([]byte, bindings.DMAUnmapSize)
	dmaUnmap.MarshalBytes(buf)

	ret, err := ioctlBufFunc(c.file.Fd(), bindings.VFIO_IOMMU_UNMAP_DMA, buf)
	if err != nil || ret < 0 {
		return fmt.Errorf("%w: iova 0x%x size 0x%x: %v", ErrDMAUnmap, iova, size, err)
	}

	dmaUnmap.UnmarshalBytes(buf)
	if dmaUnmap.Size != size {
		return fmt.Errorf("%w: iova 0x%x: unmapped 0x%x of 0x%x bytes", ErrDMAUnmap, iova, dmaUnmap.Size, size)
	}
	return nil
}

// MapGuestMemory installs DMA translations for every region of the guest's
// memory, giving assigned devices the same view of guest RAM the vCPUs have.
// The first region that fails to map aborts the walk with its error; mappings
// already installed are left in place for the caller to unwind.
func (c *Container) MapGuestMemory(ctx context.Context, mem GuestMemory) error {
	span, _ := trace(ctx, "MapGuestMemory")
	defer span.End()

	return mem.IterateRegions(func(region MemoryRegion) error {
		span.SetAttributes(attribute.Int64("guest-addr", int64(region.GuestAddr)))
		return c.MapDMA(region.GuestAddr, region.HostAddr, region.Size)
	})
}

// UnmapGuestMemory removes the translations MapGuestMemory installed. The
// first region that fails to unmap aborts the walk with its error.
func (c *Container) UnmapGuestMemory(ctx context.Context, mem GuestMemory) error {
	span, _ := trace(ctx, "UnmapGuestMemory")
	defer span.End()

	return mem.IterateRegions(func(region MemoryRegion) error {
		return c.UnmapDMA(region.GuestAddr, region.Size)
	})
}

// Close tears down the groups still bound to the container, then the
// container itself. Well-behaved callers close their devices first, which
// empties the group map; Close sweeps up whatever remains so a container can
// always be abandoned in one call. All teardown errors are collected and
// returned together.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs *multierror.Error

	for id, group := range c.groups {
		if c.attacher != nil {
			if err := c.attacher.DetachGroup(int(group.file.Fd())); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("detaching group %d: %w", id, err))
			}
		}
		if err := group.unsetContainer(c); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := group.file.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing group %d: %w", id, err))
		}
		delete(c.groups, id)
	}

	if err := c.file.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}
