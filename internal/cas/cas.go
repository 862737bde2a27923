// SPDX-License-Identifier: AGPL-3.0-or-later
// Package cas computes content-addressed storage keys for file bytes and
// resolves a coarse content kind from extension and magic bytes, per
// spec.md §4.D. Two devices that observe the same bytes arrive at the same
// key without coordination, which is what lets ContentIdentity rows be
// shared across entries and across devices.
package cas

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spacedriveapp/spacedrive-core/internal/models"
)

// KeyVersion is the CAS algorithm generation embedded in every key's
// prefix, letting future generations coexist with keys already on disk.
const KeyVersion = 1

// FullHashThreshold is the largest file size, in bytes, that is hashed in
// full. Anything larger is sampled.
const FullHashThreshold = 10 * 1024 * 1024 // 10 MiB

// sampleSpan is the size of each of the three samples taken from a large
// file (head, middle, tail).
const sampleSpan = 8 * 1024 // 8 KiB

// Keyer computes CAS keys by reading from a ReaderAt, so callers can pass
// an *os.File without holding the whole file in memory.
type Keyer struct{}

// NewKeyer constructs a Keyer. It holds no state; the type exists so the
// computation has a stable place to grow options later (e.g. a future key
// version) without changing every call site.
func NewKeyer() Keyer { return Keyer{} }

// Key computes the CAS key for a file of the given size, readable through
// r. size must be the file's actual current size; a mismatch between size
// and r's real length produces an incorrect key, not an error, since
// detecting that mismatch is the caller's race to avoid (read size and r
// from one os.File under one fstat).
func (Keyer) Key(r io.ReaderAt, size int64) (string, error) {
	if size <= FullHashThreshold {
		h, err := hashFull(r, size)
		if err != nil {
			return "", fmt.Errorf("cas: hash full contents: %w", err)
		}
		return fmt.Sprintf("v%d_full:%s", KeyVersion, h), nil
	}

	h, err := hashSampled(r, size)
	if err != nil {
		return "", fmt.Errorf("cas: hash sampled contents: %w", err)
	}
	return fmt.Sprintf("v%d_sampled:%s", KeyVersion, h), nil
}

func hashFull(r io.ReaderAt, size int64) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, 0, size)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashSampled hashes size_le_bytes || head_8KiB || mid_8KiB || tail_8KiB,
// skipping the middle/tail samples when the file is smaller than the
// combined span they'd occupy (spec.md §4.D).
func hashSampled(r io.ReaderAt, size int64) (string, error) {
	h := sha256.New()

	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Write(sizeBuf[:])

	head, err := readSample(r, 0, size)
	if err != nil {
		return "", err
	}
	h.Write(head)

	if size >= 3*sampleSpan {
		mid, err := readSample(r, size/2-sampleSpan/2, size)
		if err != nil {
			return "", err
		}
		h.Write(mid)

		tail, err := readSample(r, size-sampleSpan, size)
		if err != nil {
			return "", err
		}
		h.Write(tail)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// readSample reads up to sampleSpan bytes starting at offset, clamped to
// [0, size).
func readSample(r io.ReaderAt, offset, size int64) ([]byte, error) {
	if offset < 0 {
		offset = 0
	}
	n := sampleSpan
	if offset+int64(n) > size {
		n = int(size - offset)
	}
	if n <= 0 {
		return nil, nil
	}

	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// extensionKind maps lowercased, dot-stripped extensions to a ContentKind.
// Not exhaustive: anything unrecognized falls back to magic-byte sniffing,
// then to ContentKindOther.
var extensionKind = map[string]models.ContentKind{
	"jpg": models.ContentKindImage, "jpeg": models.ContentKindImage,
	"png": models.ContentKindImage, "gif": models.ContentKindImage,
	"webp": models.ContentKindImage, "bmp": models.ContentKindImage,
	"heic": models.ContentKindImage, "tiff": models.ContentKindImage,
	"mp4": models.ContentKindVideo, "mov": models.ContentKindVideo,
	"mkv": models.ContentKindVideo, "avi": models.ContentKindVideo,
	"webm": models.ContentKindVideo,
	"mp3":  models.ContentKindAudio, "flac": models.ContentKindAudio,
	"wav": models.ContentKindAudio, "ogg": models.ContentKindAudio,
	"m4a": models.ContentKindAudio,
	"pdf": models.ContentKindDocument, "doc": models.ContentKindDocument,
	"docx": models.ContentKindDocument, "txt": models.ContentKindDocument,
	"md": models.ContentKindDocument, "odt": models.ContentKindDocument,
	"zip": models.ContentKindArchive, "tar": models.ContentKindArchive,
	"gz": models.ContentKindArchive, "7z": models.ContentKindArchive,
	"rar": models.ContentKindArchive, "xz": models.ContentKindArchive,
}

// magicSignatures are checked in order against the file's leading bytes
// when the extension is unrecognized or absent.
var magicSignatures = []struct {
	prefix []byte
	kind   models.ContentKind
}{
	{[]byte{0xFF, 0xD8, 0xFF}, models.ContentKindImage},             // JPEG
	{[]byte{0x89, 'P', 'N', 'G'}, models.ContentKindImage},          // PNG
	{[]byte{'G', 'I', 'F', '8'}, models.ContentKindImage},           // GIF87a/89a
	{[]byte{'%', 'P', 'D', 'F'}, models.ContentKindDocument},        // PDF
	{[]byte{'P', 'K', 0x03, 0x04}, models.ContentKindArchive},       // ZIP-based
	{[]byte{0x1F, 0x8B}, models.ContentKindArchive},                 // gzip
	{[]byte{'I', 'D', '3'}, models.ContentKindAudio},                // MP3 w/ ID3
	{[]byte{'R', 'I', 'F', 'F'}, models.ContentKindAudio},           // WAV container
	{[]byte{0x00, 0x00, 0x00}, models.ContentKindVideo},             // loose ISO-BMFF guard, refined below
}

// ResolveKind classifies a file's content kind from its extension and,
// when that's inconclusive, the first bytes of its contents. Resolution
// happens once at registration time and the result is stored on the
// ContentIdentity row, not recomputed from the CAS key.
func ResolveKind(name string, head []byte) models.ContentKind {
	if ext := strings.TrimPrefix(strings.ToLower(extOf(name)), "."); ext != "" {
		if kind, ok := extensionKind[ext]; ok {
			return kind
		}
	}

	for _, sig := range magicSignatures {
		if len(head) >= len(sig.prefix) && string(head[:len(sig.prefix)]) == string(sig.prefix) {
			// ISO-BMFF (mp4/mov) puts its box type at offset 4, not the
			// start; the loose zero-prefix guard above is refined here so
			// it doesn't misclassify arbitrary zero-led binaries as video.
			if sig.kind == models.ContentKindVideo {
				if len(head) >= 12 && string(head[4:8]) == "ftyp" {
					return models.ContentKindVideo
				}
				continue
			}
			return sig.kind
		}
	}

	return models.ContentKindOther
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
