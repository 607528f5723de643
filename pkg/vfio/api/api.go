// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package api holds the pieces shared between the vfio packages and their
// embedders, currently the subsystem logger.
package api

import "github.com/sirupsen/logrus"

var devLogger = logrus.WithField("subsystem", "vfio")

// DeviceLogger returns the logger used by the vfio packages.
func DeviceLogger() *logrus.Entry {
	return devLogger
}

// SetLogger rebases the vfio logger on the logger of the embedding
// application, preserving the subsystem field.
func SetLogger(logger *logrus.Entry) {
	devLogger = logger.WithField("subsystem", "vfio")
}
