// SPDX-License-Identifier: AGPL-3.0-or-later

// Package volume defines the external volume-probing interface named in
// spec.md §1's non-goals: "volume/removable-media probing (the external
// interface is named, not implemented)." This module carries the record
// shape and the Prober contract plus a static/test implementation; any
// real platform probing (diskutil, udev, Win32 volume APIs) is left to
// callers outside this module.
package volume

import "context"

// Volume is a mounted filesystem volume a Location's device can see.
type Volume struct {
	ID             string
	MountPoint     string
	TotalBytes     int64
	AvailableBytes int64
	IsRemovable    bool
	FilesystemType string
}

// Prober lists the volumes currently visible on a device. Platform-specific
// code implements this; Static below is the only implementation this
// module ships, for tests and for hosts with no real prober wired.
type Prober interface {
	Probe(ctx context.Context) ([]Volume, error)
}

// Static is a Prober that always returns a fixed set of Volumes, useful
// for tests and for non-interactive environments where real volume
// enumeration isn't available.
type Static struct {
	Volumes []Volume
}

// Probe returns the fixed Volumes verbatim.
func (s Static) Probe(context.Context) ([]Volume, error) {
	return s.Volumes, nil
}
