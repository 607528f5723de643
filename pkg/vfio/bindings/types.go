// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package bindings

import "encoding/binary"

// The structures below mirror their struct vfio_* counterparts field for
// field. They are exchanged with the kernel through flat byte buffers in the
// host's native byte order: the fixed header is marshaled into the front of
// the buffer and any variable-length payload trails it, sized exactly to the
// argsz the kernel advertises.

// Byte sizes of the fixed structures.
const (
	GroupStatusSize = 8
	DeviceInfoSize  = 16
	RegionInfoSize  = 32
	IrqInfoSize     = 16
	IrqSetSize      = 20
	DMAMapSize      = 32
	DMAUnmapSize    = 24
	CapHeaderSize   = 8
)

// GroupStatus mirrors struct vfio_group_status.
type GroupStatus struct {
	Argsz uint32
	Flags uint32
}

func (s *GroupStatus) MarshalBytes(b []byte) {
	binary.NativeEndian.PutUint32(b[0:], s.Argsz)
	binary.NativeEndian.PutUint32(b[4:], s.Flags)
}

func (s *GroupStatus) UnmarshalBytes(b []byte) {
	s.Argsz = binary.NativeEndian.Uint32(b[0:])
	s.Flags = binary.NativeEndian.Uint32(b[4:])
}

// DeviceInfo mirrors struct vfio_device_info.
type DeviceInfo struct {
	Argsz      uint32
	Flags      uint32
	NumRegions uint32
	NumIrqs    uint32
}

func (i *DeviceInfo) MarshalBytes(b []byte) {
	binary.NativeEndian.PutUint32(b[0:], i.Argsz)
	binary.NativeEndian.PutUint32(b[4:], i.Flags)
	binary.NativeEndian.PutUint32(b[8:], i.NumRegions)
	binary.NativeEndian.PutUint32(b[12:], i.NumIrqs)
}

func (i *DeviceInfo) UnmarshalBytes(b []byte) {
	i.Argsz = binary.NativeEndian.Uint32(b[0:])
	i.Flags = binary.NativeEndian.Uint32(b[4:])
	i.NumRegions = binary.NativeEndian.Uint32(b[8:])
	i.NumIrqs = binary.NativeEndian.Uint32(b[12:])
}

// RegionInfo mirrors struct vfio_region_info. When the kernel sets
// VFIO_REGION_INFO_FLAG_CAPS and reports an Argsz larger than RegionInfoSize,
// the same request must be reissued with a buffer of that size; the kernel
// appends the capability chain after the fixed header and points CapOffset at
// its first entry.
type RegionInfo struct {
	Argsz     uint32
	Flags     uint32
	Index     uint32
	CapOffset uint32
	Size      uint64
	Offset    uint64
}

func (r *RegionInfo) MarshalBytes(b []byte) {
	binary.NativeEndian.PutUint32(b[0:], r.Argsz)
	binary.NativeEndian.PutUint32(b[4:], r.Flags)
	binary.NativeEndian.PutUint32(b[8:], r.Index)
	binary.NativeEndian.PutUint32(b[12:], r.CapOffset)
	binary.NativeEndian.PutUint64(b[16:], r.Size)
	binary.NativeEndian.PutUint64(b[24:], r.Offset)
}

func (r *RegionInfo) UnmarshalBytes(b []byte) {
	r.Argsz = binary.NativeEndian.Uint32(b[0:])
	r.Flags = binary.NativeEndian.Uint32(b[4:])
	r.Index = binary.NativeEndian.Uint32(b[8:])
	r.CapOffset = binary.NativeEndian.Uint32(b[12:])
	r.Size = binary.NativeEndian.Uint64(b[16:])
	r.Offset = binary.NativeEndian.Uint64(b[24:])
}

// IrqInfo mirrors struct vfio_irq_info.
type IrqInfo struct {
	Argsz uint32
	Flags uint32
	Index uint32
	Count uint32
}

func (i *IrqInfo) MarshalBytes(b []byte) {
	binary.NativeEndian.PutUint32(b[0:], i.Argsz)
	binary.NativeEndian.PutUint32(b[4:], i.Flags)
	binary.NativeEndian.PutUint32(b[8:], i.Index)
	binary.NativeEndian.PutUint32(b[12:], i.Count)
}

func (i *IrqInfo) UnmarshalBytes(b []byte) {
	i.Argsz = binary.NativeEndian.Uint32(b[0:])
	i.Flags = binary.NativeEndian.Uint32(b[4:])
	i.Index = binary.NativeEndian.Uint32(b[8:])
	i.Count = binary.NativeEndian.Uint32(b[12:])
}

// IrqSet mirrors the fixed header of struct vfio_irq_set. The data payload,
// when the flags call for one, trails the header in the request buffer.
type IrqSet struct {
	Argsz uint32
	Flags uint32
	Index uint32
	Start uint32
	Count uint32
}

func (s *IrqSet) MarshalBytes(b []byte) {
	binary.NativeEndian.PutUint32(b[0:], s.Argsz)
	binary.NativeEndian.PutUint32(b[4:], s.Flags)
	binary.NativeEndian.PutUint32(b[8:], s.Index)
	binary.NativeEndian.PutUint32(b[12:], s.Start)
	binary.NativeEndian.PutUint32(b[16:], s.Count)
}

func (s *IrqSet) UnmarshalBytes(b []byte) {
	s.Argsz = binary.NativeEndian.Uint32(b[0:])
	s.Flags = binary.NativeEndian.Uint32(b[4:])
	s.Index = binary.NativeEndian.Uint32(b[8:])
	s.Start = binary.NativeEndian.Uint32(b[12:])
	s.Count = binary.NativeEndian.Uint32(b[16:])
}

// DMAMap mirrors struct vfio_iommu_type1_dma_map.
type DMAMap struct {
	Argsz uint32
	Flags uint32
	Vaddr uint64
	IOVA  uint64
	Size  uint64
}

func (m *DMAMap) MarshalBytes(b []byte) {
	binary.NativeEndian.PutUint32(b[0:], m.Argsz)
	binary.NativeEndian.PutUint32(b[4:], m.Flags)
	binary.NativeEndian.PutUint64(b[8:], m.Vaddr)
	binary.NativeEndian.PutUint64(b[16:], m.IOVA)
	binary.NativeEndian.PutUint64(b[24:], m.Size)
}

func (m *DMAMap) UnmarshalBytes(b []byte) {
	m.Argsz = binary.NativeEndian.Uint32(b[0:])
	m.Flags = binary.NativeEndian.Uint32(b[4:])
	m.Vaddr = binary.NativeEndian.Uint64(b[8:])
	m.IOVA = binary.NativeEndian.Uint64(b[16:])
	m.Size = binary.NativeEndian.Uint64(b[24:])
}

// DMAUnmap mirrors struct vfio_iommu_type1_dma_unmap. The kernel writes the
// size it actually unmapped back into Size.
type DMAUnmap struct {
	Argsz uint32
	Flags uint32
	IOVA  uint64
	Size  uint64
}

func (u *DMAUnmap) MarshalBytes(b []byte) {
	binary.NativeEndian.PutUint32(b[0:], u.Argsz)
	binary.NativeEndian.PutUint32(b[4:], u.Flags)
	binary.NativeEndian.PutUint64(b[8:], u.IOVA)
	binary.NativeEndian.PutUint64(b[16:], u.Size)
}

func (u *DMAUnmap) UnmarshalBytes(b []byte) {
	u.Argsz = binary.NativeEndian.Uint32(b[0:])
	u.Flags = binary.NativeEndian.Uint32(b[4:])
	u.IOVA = binary.NativeEndian.Uint64(b[8:])
	u.Size = binary.NativeEndian.Uint64(b[16:])
}

// CapHeader mirrors struct vfio_info_cap_header, the front of every entry in
// a capability chain. Next is the byte offset of the following entry within
// the reply buffer, or a value below the fixed header size to terminate.
type CapHeader struct {
	ID      uint16
	Version uint16
	Next    uint32
}

func (h *CapHeader) MarshalBytes(b []byte) {
	binary.NativeEndian.PutUint16(b[0:], h.ID)
	binary.NativeEndian.PutUint16(b[2:], h.Version)
	binary.NativeEndian.PutUint32(b[4:], h.Next)
}

func (h *CapHeader) UnmarshalBytes(b []byte) {
	h.ID = binary.NativeEndian.Uint16(b[0:])
	h.Version = binary.NativeEndian.Uint16(b[2:])
	h.Next = binary.NativeEndian.Uint32(b[4:])
}
