// SPDX-License-Identifier: AGPL-3.0-or-later
package volume

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticProberReturnsFixedVolumes(t *testing.T) {
	want := []Volume{
		{ID: "disk1", MountPoint: "/", TotalBytes: 1 << 40, AvailableBytes: 1 << 30, FilesystemType: "apfs"},
		{ID: "disk2", MountPoint: "/Volumes/usb", IsRemovable: true, FilesystemType: "exfat"},
	}
	prober := Static{Volumes: want}

	got, err := prober.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)
}
