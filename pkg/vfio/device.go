// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kata-containers/govfio/pkg/vfio/api"
	"github.com/kata-containers/govfio/pkg/vfio/bindings"
)

func deviceLogger() *logrus.Entry {
	return api.DeviceLogger()
}

// Irq describes one interrupt index of a device: its kernel flags and how
// many vectors it carries.
type Irq struct {
	Flags uint32
	Index uint32
	Count uint32
}

// Region describes one device region. Size, Offset and Flags come from the
// kernel's region info; Caps holds the decoded capability chain, if the
// region carries one.
type Region struct {
	Index  uint32
	Flags  uint32
	Size   uint64
	Offset uint64
	Caps   []RegionCap
}

// Device is an open VFIO device: the device descriptor, the group it was
// opened through and the descriptions of its regions and interrupts,
// discovered once at open time.
//
// A Device pins its group in the owning container for as long as it is open;
// Close releases the pin.
type Device struct {
	sysfsPath string
	device    *os.File
	flags     uint32
	group     *Group
	container *Container

	regions []*Region
	irqs    map[uint32]*Irq

	// Region and interrupt indices the kernel reported but whose
	// descriptions could not be read. The device works without them;
	// callers that care can ask.
	skippedRegions []uint32
	skippedIrqs    []uint32
}

// NewDevice opens the device at sysfsPath, e.g.
// /sys/bus/pci/devices/0000:03:00.0, through the given container. The
// device's IOMMU group is resolved from sysfs and bound to the container if
// this is the first device of the group.
func NewDevice(ctx context.Context, sysfsPath string, container *Container) (*Device, error) {
	span, _ := trace(ctx, "NewDevice", attribute.String("sysfs-path", sysfsPath))
	defer span.End()

	groupID, err := resolveIOMMUGroup(sysfsPath)
	if err != nil {
		return nil, err
	}

	group, err := container.getGroup(groupID)
	if err != nil {
		return nil, err
	}

	info, err := group.getDevice(sysfsPath)
	if err != nil {
		container.putGroup(group)
		return nil, err
	}

	irqs, skippedIrqs := info.discoverIrqs()
	regions, skippedRegions := info.discoverRegions()

	return &Device{
		sysfsPath:      sysfsPath,
		device:         info.device,
		flags:          info.flags,
		group:          group,
		container:      container,
		regions:        regions,
		irqs:           irqs,
		skippedRegions: skippedRegions,
		skippedIrqs:    skippedIrqs,
	}, nil
}

// resolveIOMMUGroup reads the device's iommu_group sysfs link and parses the
// group id out of its target, e.g. ../../../kernel/iommu_groups/42.
func resolveIOMMUGroup(sysfsPath string) (uint32, error) {
	link, err := os.Readlink(filepath.Join(sysfsPath, "iommu_group"))
	if err != nil {
		return 0, fmt.Errorf("%w: %s has no iommu_group link: %v", ErrInvalidPath, sysfsPath, err)
	}

	id, err := strconv.ParseUint(filepath.Base(link), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: iommu_group target %q is not a group id", ErrInvalidPath, sysfsPath, link)
	}

	return uint32(id), nil
}

// SysfsPath returns the sysfs path the device was opened from.
func (d *Device) SysfsPath() string {
	return d.sysfsPath
}

// GroupID returns the id of the IOMMU group the device belongs to.
func (d *Device) GroupID() uint32 {
	return d.group.ID()
}

// Regions returns the device's regions in discovery order. Indices the
// kernel reported but could not describe are absent; see SkippedRegions.
func (d *Device) Regions() []*Region {
	return d.regions
}

// SkippedRegions returns the region indices whose descriptions could not be
// read at open time, in ascending order.
func (d *Device) SkippedRegions() []uint32 {
	return d.skippedRegions
}

// SkippedIrqs returns the interrupt indices whose descriptions could not be
// read at open time, in ascending order.
func (d *Device) SkippedIrqs() []uint32 {
	return d.skippedIrqs
}

func (d *Device) region(index uint32) *Region {
	for _, region := range d.regions {
		if region.Index == index {
			return region
		}
	}
	return nil
}

// GetRegionFlags returns the flags of the given region, or 0 if the region
// is unknown.
func (d *Device) GetRegionFlags(index uint32) uint32 {
	region := d.region(index)
	if region == nil {
		deviceLogger().WithField("region-index", index).Warn("Region not found")
		return 0
	}
	return region.Flags
}

// GetRegionOffset returns the device file offset of the given region, or 0
// if the region is unknown.
func (d *Device) GetRegionOffset(index uint32) uint64 {
	region := d.region(index)
	if region == nil {
		deviceLogger().WithField("region-index", index).Warn("Region not found")
		return 0
	}
	return region.Offset
}

// GetRegionSize returns the size of the given region in bytes, or 0 if the
// region is unknown.
func (d *Device) GetRegionSize(index uint32) uint64 {
	region := d.region(index)
	if region == nil {
		deviceLogger().WithField("region-index", index).Warn("Region not found")
		return 0
	}
	return region.Size
}

// GetRegionCaps returns the decoded capability chain of the given region, or
// nil if the region is unknown or carries none.
func (d *Device) GetRegionCaps(index uint32) []RegionCap {
	region := d.region(index)
	if region == nil {
		deviceLogger().WithField("region-index", index).Warn("Region not found")
		return nil
	}
	return region.Caps
}

// RegionRead reads len(data) bytes at offset within the given region.
// Requests naming an unknown region or reaching past its end are logged and
// dropped rather than failing: device I/O is on datapaths that have nowhere
// to report an error to, matching how hardware swallows bad accesses.
func (d *Device) RegionRead(index uint32, data []byte, offset uint64) {
	region := d.region(index)
	if region == nil {
		deviceLogger().WithField("region-index", index).Warn("Region not found, dropping read")
		return
	}

	size := uint64(len(data))
	if size > region.Size || offset > region.Size-size {
		deviceLogger().WithFields(logrus.Fields{
			"region-index": index,
			"offset":       offset,
			"size":         size,
		}).Warn("Out of range region read, dropping")
		return
	}

	if _, err := d.device.ReadAt(data, int64(region.Offset+offset)); err != nil {
		deviceLogger().WithField("region-index", index).WithError(err).Warn("Region read failed")
	}
}

// RegionWrite writes data at offset within the given region. As with
// RegionRead, requests naming an unknown region, reaching past its end or
// targeting a region without write support are logged and dropped.
func (d *Device) RegionWrite(index uint32, data []byte, offset uint64) {
	region := d.region(index)
	if region == nil {
		deviceLogger().WithField("region-index", index).Warn("Region not found, dropping write")
		return
	}

	size := uint64(len(data))
	if size > region.Size || offset > region.Size-size {
		deviceLogger().WithFields(logrus.Fields{
			"region-index": index,
			"offset":       offset,
			"size":         size,
		}).Warn("Out of range region write, dropping")
		return
	}

	if region.Flags&bindings.VFIO_REGION_INFO_FLAG_WRITE == 0 {
		deviceLogger().WithField("region-index", index).Warn("Region does not support write, dropping")
		return
	}

	if _, err := d.device.WriteAt(data, int64(region.Offset+offset)); err != nil {
		deviceLogger().WithField("region-index", index).WithError(err).Warn("Region write failed")
	}
}

// GetIrqInfo returns the description of the given interrupt index, or nil if
// the device does not have it.
func (d *Device) GetIrqInfo(index uint32) *Irq {
	return d.irqs[index]
}

// MaxInterrupts returns the largest vector count among the INTx, MSI and
// MSI-X interrupt indices, the number of eventfds a caller needs at most to
// wire the device's interrupts.
func (d *Device) MaxInterrupts() uint32 {
	var max uint32
	for _, index := range []uint32{
		bindings.VFIO_PCI_INTX_IRQ_INDEX,
		bindings.VFIO_PCI_MSI_IRQ_INDEX,
		bindings.VFIO_PCI_MSIX_IRQ_INDEX,
	} {
		if irq, ok := d.irqs[index]; ok && irq.Count > max {
			max = irq.Count
		}
	}
	return max
}

// TriggerIrq fires one vector of the given interrupt index from software,
// as if the hardware had raised it.
func (d *Device) TriggerIrq(index, vector uint32) error {
	irq, ok := d.irqs[index]
	if !ok {
		return fmt.Errorf("%w: index %d", ErrNoSuchIrq, index)
	}
	if vector >= irq.Count {
		return fmt.Errorf("%w: vector %d of %d on index %d", ErrNoSuchIrq, vector, irq.Count, index)
	}

	irqSet := bindings.IrqSet{
		Argsz: bindings.IrqSetSize,
		Flags: bindings.VFIO_IRQ_SET_DATA_NONE | bindings.VFIO_IRQ_SET_ACTION_TRIGGER,
		Index: index,
		Start: vector,
		Count: 1,
	}
	buf := make([]byte, bindings.IrqSetSize)
	irqSet.MarshalBytes(buf)

	ret, err := ioctlBufFunc(d.device.Fd(), bindings.VFIO_DEVICE_SET_IRQS, buf)
	if err != nil || ret < 0 {
		return fmt.Errorf("%w: triggering index %d vector %d: %v", ErrIrqSet, index, vector, err)
	}
	return nil
}

// EnableIrq wires the vectors of the given interrupt index to the supplied
// eventfds, one per vector starting at vector 0. Fewer eventfds than vectors
// leaves the remaining vectors unwired; more is an error.
func (d *Device) EnableIrq(index uint32, eventFds []*os.File) error {
	irq, ok := d.irqs[index]
	if !ok {
		return fmt.Errorf("%w: index %d", ErrNoSuchIrq, index)
	}
	if irq.Count == 0 || len(eventFds) > int(irq.Count) {
		return fmt.Errorf("%w: %d eventfds for %d vectors on index %d", ErrNoSuchIrq, len(eventFds), irq.Count, index)
	}

	// The eventfd descriptors trail the header as a packed array of
	// 32-bit values.
	irqSet := bindings.IrqSet{
		Argsz: bindings.IrqSetSize + 4*uint32(len(eventFds)),
		Flags: bindings.VFIO_IRQ_SET_DATA_EVENTFD | bindings.VFIO_IRQ_SET_ACTION_TRIGGER,
		Index: index,
		Start: 0,
		Count: uint32(len(eventFds)),
	}
	buf := make([]byte, irqSet.Argsz)
	irqSet.MarshalBytes(buf)
	for i, eventFd := range eventFds {
		putNativeUint32(buf[bindings.IrqSetSize+4*i:], uint32(eventFd.Fd()))
	}

	ret, err := ioctlBufFunc(d.device.Fd(), bindings.VFIO_DEVICE_SET_IRQS, buf)
	if err != nil || ret < 0 {
		return fmt.Errorf("%w: enabling index %d: %v", ErrIrqSet, index, err)
	}
	return nil
}

// DisableIrq tears down all vectors of the given interrupt index.
func (d *Device) DisableIrq(index uint32) error {
	irq, ok := d.irqs[index]
	if !ok || irq.Count == 0 {
		return fmt.Errorf("%w: index %d", ErrNoSuchIrq, index)
	}

	irqSet := bindings.IrqSet{
		Argsz: bindings.IrqSetSize,
		Flags: bindings.VFIO_IRQ_SET_DATA_NONE | bindings.VFIO_IRQ_SET_ACTION_TRIGGER,
		Index: index,
		Start: 0,
		Count: 0,
	}
	buf := make([]byte, bindings.IrqSetSize)
	irqSet.MarshalBytes(buf)

	ret, err := ioctlBufFunc(d.device.Fd(), bindings.VFIO_DEVICE_SET_IRQS, buf)
	if err != nil || ret < 0 {
		return fmt.Errorf("%w: disabling index %d: %v", ErrIrqSet, index, err)
	}
	return nil
}

// UnmaskIrq unmasks vector 0 of the given interrupt index. Level-triggered
// INTx interrupts automask on delivery and need this after each one is
// handled.
func (d *Device) UnmaskIrq(index uint32) error {
	irq, ok := d.irqs[index]
	if !ok || irq.Count == 0 {
		return fmt.Errorf("%w: index %d", ErrNoSuchIrq, index)
	}

	irqSet := bindings.IrqSet{
		Argsz: bindings.IrqSetSize,
		Flags: bindings.VFIO_IRQ_SET_DATA_NONE | bindings.VFIO_IRQ_SET_ACTION_UNMASK,
		Index: index,
		Start: 0,
		Count: 1,
	}
	buf := make([]byte, bindings.IrqSetSize)
	irqSet.MarshalBytes(buf)

	ret, err := ioctlBufFunc(d.device.Fd(), bindings.VFIO_DEVICE_SET_IRQS, buf)
	if err != nil || ret < 0 {
		return fmt.Errorf("%w: unmasking index %d: %v", ErrIrqSet, index, err)
	}
	return nil
}

// EnableMSI wires the device's MSI vectors to the supplied eventfds.
func (d *Device) EnableMSI(eventFds []*os.File) error {
	return d.EnableIrq(bindings.VFIO_PCI_MSI_IRQ_INDEX, eventFds)
}

// DisableMSI tears down the device's MSI vectors.
func (d *Device) DisableMSI() error {
	return d.DisableIrq(bindings.VFIO_PCI_MSI_IRQ_INDEX)
}

// EnableMSIX wires the device's MSI-X vectors to the supplied eventfds.
func (d *Device) EnableMSIX(eventFds []*os.File) error {
	return d.EnableIrq(bindings.VFIO_PCI_MSIX_IRQ_INDEX, eventFds)
}

// DisableMSIX tears down the device's MSI-X vectors.
func (d *Device) DisableMSIX() error {
	return d.DisableIrq(bindings.VFIO_PCI_MSIX_IRQ_INDEX)
}

// Reset resets the device if it supports function level reset. Devices that
// cannot reset, and resets the kernel rejects, are logged and ignored: reset
// is best effort on teardown paths.
func (d *Device) Reset() {
	if d.flags&bindings.VFIO_DEVICE_FLAGS_RESET == 0 {
		deviceLogger().WithField("sysfs-path", d.sysfsPath).Debug("Device does not support reset")
		return
	}

	if _, err := ioctlValFunc(d.device.Fd(), bindings.VFIO_DEVICE_RESET, 0); err != nil {
		deviceLogger().WithField("sysfs-path", d.sysfsPath).WithError(err).Warn("Device reset failed")
	}
}

// Close releases the device descriptor and drops the device's pin on its
// group. The last device of a group triggers the group's detach from the
// hypervisor and the container.
func (d *Device) Close() error {
	err := d.device.Close()
	d.container.putGroup(d.group)
	return err
}
