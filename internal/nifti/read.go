package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ReadHeader decodes a nifti1 header, trying little endian first and
// falling back to big endian when the dimension count is implausible.
func ReadHeader(r io.ReadSeeker) (Header, binary.ByteOrder, error) {
	var h Header
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(r, order, &h); err != nil {
		return h, order, fmt.Errorf("decode header: %w", err)
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		log.WithField("dim0", h.Dim[0]).Debug("retrying header decode as big endian")
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return h, order, err
		}
		order = binary.BigEndian
		if err := binary.Read(r, order, &h); err != nil {
			return h, order, fmt.Errorf("decode header: %w", err)
		}
	}
	if err := validateHeader(h); err != nil {
		return h, order, err
	}
	return h, order, nil
}

func validateHeader(h Header) error {
	if h.SizeOfHdr != minHeaderSize {
		return fmt.Errorf("header size is %d, want %d", h.SizeOfHdr, minHeaderSize)
	}
	if h.Magic != magicN1 {
		return fmt.Errorf("bad magic %q", strings.TrimRight(string(h.Magic[:]), "\x00"))
	}
	return nil
}

// ReadFile loads a nifti1 image from disk, transparently decompressing
// .nii.gz files.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", path, err)
		}
		defer gz.Close()
		src = gz
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(raw)
}

// Decode parses an in-memory uncompressed nifti1 file.
func Decode(raw []byte) (*Image, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("file is %d bytes, smaller than the nifti1 header", len(raw))
	}
	h, _, err := ReadHeader(bytes.NewReader(raw[:minHeaderSize]))
	if err != nil {
		return nil, err
	}
	off := int(h.VoxOffset)
	if off < headerSize || off > len(raw) {
		return nil, fmt.Errorf("voxel offset %d outside file of %d bytes", off, len(raw))
	}
	return &Image{Header: h, Data: raw[off:]}, nil
}
