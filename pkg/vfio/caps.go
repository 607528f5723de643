// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"encoding/binary"
	"fmt"

	"github.com/kata-containers/govfio/pkg/vfio/bindings"
)

// vfioMaxCaps bounds the capability chain walk. The kernel never emits more
// than a handful of entries per region; a chain longer than this is a
// corrupted reply and must not loop the walker.
const vfioMaxCaps = 32

// RegionCap is one decoded capability record of a region. The concrete type
// is one of CapSparseMmap, CapType, CapMsixMappable, CapNvlink2Ssatgt or
// CapNvlink2Lnkspd.
type RegionCap interface {
	isRegionCap()
}

// SparseMmapArea is one sub-range of a region that is safe to memory-map.
type SparseMmapArea struct {
	// Offset of the area within the region.
	Offset uint64
	// Size of the area in bytes.
	Size uint64
}

// CapSparseMmap lists the mmap'able areas of a region whose full range
// cannot be mapped.
type CapSparseMmap struct {
	Areas []SparseMmapArea
}

// CapType identifies a specialized region by type and subtype, e.g. a
// vendor-specific region.
type CapType struct {
	Type    uint32
	Subtype uint32
}

// CapMsixMappable marks a region as mmap'able even though it overlaps the
// MSI-X table.
type CapMsixMappable struct{}

// CapNvlink2Ssatgt carries the NVLink2 SSA TGT value of a region.
type CapNvlink2Ssatgt struct {
	Tgt uint64
}

// CapNvlink2Lnkspd carries the NVLink2 link speed of a region.
type CapNvlink2Lnkspd struct {
	LinkSpeed uint32
}

func (CapSparseMmap) isRegionCap()    {}
func (CapType) isRegionCap()          {}
func (CapMsixMappable) isRegionCap()  {}
func (CapNvlink2Ssatgt) isRegionCap() {}
func (CapNvlink2Lnkspd) isRegionCap() {}

// decodeCapChain walks the capability chain the kernel appended to a region
// info reply. buf is the whole reply buffer, sized to the kernel's advertised
// argsz; capOffset is the offset of the first capability header. A capOffset
// below the fixed header means the chain is empty. Records with unknown
// identifiers are skipped. Every offset is checked against the buffer before
// it is read, and the walk gives up with ErrCapChainCorrupt rather than
// follow a chain that cycles or points outside the reply.
func decodeCapChain(buf []byte, capOffset uint32) ([]RegionCap, error) {
	const base = bindings.RegionInfoSize

	var caps []RegionCap
	next := capOffset
	for steps := 0; next >= base; steps++ {
		if steps >= vfioMaxCaps {
			return nil, fmt.Errorf("%w: more than %d entries", ErrCapChainCorrupt, vfioMaxCaps)
		}
		if uint64(next)+bindings.CapHeaderSize > uint64(len(buf)) {
			return nil, fmt.Errorf("%w: header at offset %d past buffer of %d bytes", ErrCapChainCorrupt, next, len(buf))
		}

		var hdr bindings.CapHeader
		hdr.UnmarshalBytes(buf[next:])

		switch hdr.ID {
		case bindings.VFIO_REGION_INFO_CAP_SPARSE_MMAP:
			sparse, err := decodeSparseMmap(buf, next)
			if err != nil {
				return nil, err
			}
			caps = append(caps, sparse)
		case bindings.VFIO_REGION_INFO_CAP_TYPE:
			typ, ok := capUint32(buf, next, 8)
			subtype, ok2 := capUint32(buf, next, 12)
			if !ok || !ok2 {
				return nil, truncatedCap(hdr.ID, next, len(buf))
			}
			caps = append(caps, CapType{Type: typ, Subtype: subtype})
		case bindings.VFIO_REGION_INFO_CAP_MSIX_MAPPABLE:
			caps = append(caps, CapMsixMappable{})
		case bindings.VFIO_REGION_INFO_CAP_NVLINK2_SSATGT:
			tgt, ok := capUint64(buf, next, 8)
			if !ok {
				return nil, truncatedCap(hdr.ID, next, len(buf))
			}
			caps = append(caps, CapNvlink2Ssatgt{Tgt: tgt})
		case bindings.VFIO_REGION_INFO_CAP_NVLINK2_LNKSPD:
			speed, ok := capUint32(buf, next, 8)
			if !ok {
				return nil, truncatedCap(hdr.ID, next, len(buf))
			}
			caps = append(caps, CapNvlink2Lnkspd{LinkSpeed: speed})
		default:
			// Unknown capability, skip it. Newer kernels may append
			// record types this package does not know about.
		}

		next = hdr.Next
	}

	return caps, nil
}

func decodeSparseMmap(buf []byte, off uint32) (CapSparseMmap, error) {
	nrAreas, ok := capUint32(buf, off, 8)
	if !ok {
		return CapSparseMmap{}, truncatedCap(bindings.VFIO_REGION_INFO_CAP_SPARSE_MMAP, off, len(buf))
	}

	// Areas start after the header, nr_areas and a reserved word.
	const areasOffset = 16
	const areaSize = 16
	end := uint64(off) + areasOffset + uint64(nrAreas)*areaSize
	if end > uint64(len(buf)) {
		return CapSparseMmap{}, truncatedCap(bindings.VFIO_REGION_INFO_CAP_SPARSE_MMAP, off, len(buf))
	}

	areas := make([]SparseMmapArea, 0, nrAreas)
	for i := uint32(0); i < nrAreas; i++ {
		p := uint64(off) + areasOffset + uint64(i)*areaSize
		areas = append(areas, SparseMmapArea{
			Offset: binary.NativeEndian.Uint64(buf[p:]),
			Size:   binary.NativeEndian.Uint64(buf[p+8:]),
		})
	}
	return CapSparseMmap{Areas: areas}, nil
}

func capUint32(buf []byte, off uint32, rel uint64) (uint32, bool) {
	p := uint64(off) + rel
	if p+4 > uint64(len(buf)) {
		return 0, false
	}
	return binary.NativeEndian.Uint32(buf[p:]), true
}

func capUint64(buf []byte, off uint32, rel uint64) (uint64, bool) {
	p := uint64(off) + rel
	if p+8 > uint64(len(buf)) {
		return 0, false
	}
	return binary.NativeEndian.Uint64(buf[p:]), true
}

func truncatedCap(id uint16, off uint32, buflen int) error {
	return fmt.Errorf("%w: capability %d at offset %d truncated in buffer of %d bytes", ErrCapChainCorrupt, id, off, buflen)
}
