// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

// HypervisorAttacher tells the virtual machine monitor which VFIO groups are
// bound, so it can wire the IOMMU state into the guest. The kvm subpackage
// provides the KVM implementation; VMMs with their own notion of device
// assignment supply their own.
//
// AttachGroup is called after a group is bound to the container and before
// any device in it is handed out; DetachGroup is called after the last device
// of the group is released and before the group is unbound.
type HypervisorAttacher interface {
	AttachGroup(groupFd int) error
	DetachGroup(groupFd int) error
}
