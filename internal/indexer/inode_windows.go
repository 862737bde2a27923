// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package indexer

import "os"

func inodeOf(info os.FileInfo) uint64 {
	return 0 // no portable inode on Windows; moves degrade to remove+create
}
