// SPDX-License-Identifier: AGPL-3.0-or-later
package cas

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(b).ReadAt(p, off)
}

func TestKeySmallFileUsesFullHash(t *testing.T) {
	data := []byte("hello, world")
	want := sha256.Sum256(data)

	key, err := NewKeyer().Key(byteReaderAt(data), int64(len(data)))
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("v%d_full:%s", KeyVersion, hex.EncodeToString(want[:])), key)
}

func TestKeyAtExactThresholdUsesFullHash(t *testing.T) {
	data := make([]byte, FullHashThreshold)
	key, err := NewKeyer().Key(byteReaderAt(data), int64(len(data)))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, fmt.Sprintf("v%d_full:", KeyVersion)))
}

func TestKeyLargeFileUsesSampledHash(t *testing.T) {
	size := int64(FullHashThreshold + 1)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}

	key, err := NewKeyer().Key(byteReaderAt(data), size)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, fmt.Sprintf("v%d_sampled:", KeyVersion)))

	// Recompute by hand to confirm the exact sampling layout.
	h := sha256.New()
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Write(sizeBuf[:])
	h.Write(data[0:sampleSpan])
	mid := size/2 - sampleSpan/2
	h.Write(data[mid : mid+sampleSpan])
	h.Write(data[size-sampleSpan : size])
	want := fmt.Sprintf("v%d_sampled:%s", KeyVersion, hex.EncodeToString(h.Sum(nil)))

	require.Equal(t, want, key)
}

func TestKeySampledSkipsMidTailWhenTooSmall(t *testing.T) {
	// Larger than the full-hash threshold is required to exercise sampling
	// at all, so fabricate a small "large" file by testing hashSampled
	// directly against a size smaller than 3*sampleSpan.
	size := int64(2 * sampleSpan)
	data := make([]byte, size)

	got, err := hashSampled(byteReaderAt(data), size)
	require.NoError(t, err)

	h := sha256.New()
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Write(sizeBuf[:])
	h.Write(data[0:sampleSpan])
	want := hex.EncodeToString(h.Sum(nil))

	require.Equal(t, want, got)
}

func TestKeyIsDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 1024)
	k := NewKeyer()

	first, err := k.Key(byteReaderAt(data), int64(len(data)))
	require.NoError(t, err)
	second, err := k.Key(byteReaderAt(data), int64(len(data)))
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestResolveKindByExtension(t *testing.T) {
	require.Equal(t, models.ContentKindImage, ResolveKind("photo.JPG", nil))
	require.Equal(t, models.ContentKindVideo, ResolveKind("clip.mkv", nil))
	require.Equal(t, models.ContentKindDocument, ResolveKind("notes.md", nil))
	require.Equal(t, models.ContentKindArchive, ResolveKind("bundle.zip", nil))
}

func TestResolveKindByMagicBytesWhenExtensionUnknown(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}
	require.Equal(t, models.ContentKindImage, ResolveKind("mystery.bin", png))

	pdf := []byte("%PDF-1.7 rest of file")
	require.Equal(t, models.ContentKindDocument, ResolveKind("noext", pdf))
}

func TestResolveKindFallsBackToOther(t *testing.T) {
	require.Equal(t, models.ContentKindOther, ResolveKind("data.xyz", []byte{0x01, 0x02}))
}

func TestResolveKindIsoBmffRequiresFtypBox(t *testing.T) {
	ftyp := append([]byte{0, 0, 0, 0x18}, []byte("ftypisom")...)
	require.Equal(t, models.ContentKindVideo, ResolveKind("clip.unknown", ftyp))

	notFtyp := []byte{0, 0, 0, 0, 'x', 'x', 'x', 'x'}
	require.Equal(t, models.ContentKindOther, ResolveKind("data.unknown", notFtyp))
}
