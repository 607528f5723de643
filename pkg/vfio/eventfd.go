// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"os"

	"golang.org/x/sys/unix"
)

// NewEventFd creates an eventfd suitable as an interrupt delivery target for
// Device.EnableIrq. The descriptor is nonblocking and close-on-exec; closing
// the returned file releases it.
func NewEventFd() (*os.File, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), "eventfd"), nil
}
