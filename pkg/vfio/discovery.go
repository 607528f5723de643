// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kata-containers/govfio/pkg/vfio/bindings"
)

// deviceInfo is an opened device handle before its descriptors are known.
// Discovery turns it into the immutable region and interrupt sets a Device
// carries for its lifetime.
type deviceInfo struct {
	device     *os.File
	flags      uint32
	numRegions uint32
	numIrqs    uint32
}

// discoverIrqs queries every interrupt index the device reports. An index
// whose query fails is logged and skipped rather than failing the device:
// absence from the map is how callers learn an interrupt type is unusable.
// The skipped indices are returned alongside the map, in ascending order.
func (di *deviceInfo) discoverIrqs() (map[uint32]*Irq, []uint32) {
	irqs := make(map[uint32]*Irq)
	var skipped []uint32

	for index := uint32(0); index < di.numIrqs; index++ {
		info := bindings.IrqInfo{Argsz: bindings.IrqInfoSize, Index: index}
		buf := make([]byte, bindings.IrqInfoSize)
		info.MarshalBytes(buf)

		ret, err := ioctlBufFunc(di.device.Fd(), bindings.VFIO_DEVICE_GET_IRQ_INFO, buf)
		if err != nil || ret < 0 {
			deviceLogger().WithField("irq-index", index).WithError(err).Warn("Could not get IRQ info")
			skipped = append(skipped, index)
			continue
		}
		info.UnmarshalBytes(buf)

		irqs[index] = &Irq{
			Flags: info.Flags,
			Index: index,
			Count: info.Count,
		}

		deviceLogger().WithFields(logrus.Fields{
			"irq-index": index,
			"irq-flags": fmt.Sprintf("0x%x", info.Flags),
			"irq-count": info.Count,
		}).Debug("Discovered IRQ")
	}

	return irqs, skipped
}

// discoverRegions queries every region index the device reports, following
// the capability re-query protocol for regions that carry one. As with IRQs,
// a region whose description cannot be read is logged and skipped; the device
// stays usable for its remaining regions.
func (di *deviceInfo) discoverRegions() ([]*Region, []uint32) {
	var regions []*Region
	var skipped []uint32

	for index := uint32(0); index < di.numRegions; index++ {
		info := bindings.RegionInfo{Argsz: bindings.RegionInfoSize, Index: index}
		buf := make([]byte, bindings.RegionInfoSize)
		info.MarshalBytes(buf)

		ret, err := ioctlBufFunc(di.device.Fd(), bindings.VFIO_DEVICE_GET_REGION_INFO, buf)
		if err != nil || ret < 0 {
			deviceLogger().WithField("region-index", index).WithError(err).Warn("Could not get region info")
			skipped = append(skipped, index)
			continue
		}
		info.UnmarshalBytes(buf)

		caps, err := di.regionCaps(&info)
		if err != nil {
			deviceLogger().WithField("region-index", index).WithError(err).Warn("Could not get region capabilities")
			skipped = append(skipped, index)
			continue
		}

		region := &Region{
			Index:  index,
			Flags:  info.Flags,
			Size:   info.Size,
			Offset: info.Offset,
			Caps:   caps,
		}
		regions = append(regions, region)

		deviceLogger().WithFields(logrus.Fields{
			"region-index":  index,
			"region-flags":  fmt.Sprintf("0x%x", region.Flags),
			"region-size":   fmt.Sprintf("0x%x", region.Size),
			"region-offset": fmt.Sprintf("0x%x", region.Offset),
		}).Debug("Discovered region")
	}

	return regions, skipped
}

// regionCaps fetches and decodes the capability chain of a region, if the
// first query announced one. The kernel hints the total reply size through
// argsz; the query is reissued with a buffer of exactly that size and the
// chain is decoded out of the trailing bytes.
func (di *deviceInfo) regionCaps(info *bindings.RegionInfo) ([]RegionCap, error) {
	if info.Flags&bindings.VFIO_REGION_INFO_FLAG_CAPS == 0 || info.Argsz <= bindings.RegionInfoSize {
		return nil, nil
	}

	buf := make([]byte, info.Argsz)
	query := bindings.RegionInfo{Argsz: info.Argsz, Index: info.Index}
	query.MarshalBytes(buf)

	ret, err := ioctlBufFunc(di.device.Fd(), bindings.VFIO_DEVICE_GET_REGION_INFO, buf)
	if err != nil || ret < 0 {
		return nil, fmt.Errorf("%w: region %d capability requery: %v", ErrDeviceInfo, info.Index, err)
	}

	var full bindings.RegionInfo
	full.UnmarshalBytes(buf)

	return decodeCapChain(buf, full.CapOffset)
}
