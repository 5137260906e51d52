package diskimg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Format is a disk image format.
type Format string

const (
	FormatQCOW2 Format = "qcow2"
	FormatRaw   Format = "raw"
)

// Magic bytes and signatures for disk image format detection
var (
	// qcow2Magic is "QFI" followed by 0xfb at offset 0.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// mbrSignature is the boot sector signature at offset 510. GPT disks carry
	// it too, in their protective MBR.
	mbrSignature = []byte{0x55, 0xaa}
)

// qcow2 header layout (big-endian).
const (
	qcow2BackingOffsetAt = 8
	qcow2BackingSizeAt   = 16
	qcow2HeaderMin       = 20
	// The qcow2 spec caps backing file names at 1023 bytes.
	qcow2MaxBackingName = 1023
)

// ErrUnknownFormat is returned for files that are neither qcow2 nor a
// bootable raw image.
var ErrUnknownFormat = errors.New("unsupported or invalid image: not qcow2 and missing boot sector signature")

// DetectFormat detects the image format from magic bytes.
//
// Validation rules:
//   - QCOW2: magic "QFI\xfb" at offset 0
//   - RAW: MBR signature 0x55 0xaa at offset 510
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", fmt.Errorf("file too small to be valid image (< 4 bytes): %w", err)
	}
	if bytes.Equal(magic, qcow2Magic) {
		return FormatQCOW2, nil
	}

	sig := make([]byte, 2)
	if _, err := f.ReadAt(sig, 510); err != nil {
		return "", fmt.Errorf("file too small for boot sector (< 512 bytes): %w", err)
	}
	if bytes.Equal(sig, mbrSignature) {
		return FormatRaw, nil
	}
	return "", ErrUnknownFormat
}

// BackingFile returns the backing file name recorded in a qcow2 header, or
// "" when the image has none or is not qcow2. The name is returned as stored
// and may be relative to the image's directory.
func BackingFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	hdr := make([]byte, qcow2HeaderMin)
	if _, err := io.ReadFull(f, hdr); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read image header: %w", err)
	}
	if !bytes.Equal(hdr[:4], qcow2Magic) {
		return "", nil
	}

	offset := binary.BigEndian.Uint64(hdr[qcow2BackingOffsetAt:])
	size := binary.BigEndian.Uint32(hdr[qcow2BackingSizeAt:])
	if offset == 0 || size == 0 {
		return "", nil
	}
	if size > qcow2MaxBackingName {
		return "", fmt.Errorf("qcow2 backing file name too long (%d bytes) in %s", size, path)
	}

	name := make([]byte, size)
	if _, err := f.ReadAt(name, int64(offset)); err != nil {
		return "", fmt.Errorf("failed to read backing file name: %w", err)
	}
	return string(name), nil
}
