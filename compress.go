package bootinfo

import (
	"bytes"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// NewDecoder wraps r in a streaming decoder for format t.
func NewDecoder(t FileFormat, r io.Reader) (io.ReadCloser, error) {
	switch t {
	case GZIP, ZOPFLI:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		// kernels are often followed by an appended dtb
		zr.Multistream(false)
		return zr, nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case LZMA:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(lr), nil
	case BZIP2:
		return bzip2.NewReader(r, nil)
	case LZ4, LZ4_LEGACY, LZ4_LG:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, errors.Errorf("unsupported format: %s", Fmt2Name(t))
	}
}

// Decompress expands the whole of r, which must be in format t.
func Decompress(t FileFormat, r io.Reader) ([]byte, error) {
	decoder, err := NewDecoder(t, r)
	if err != nil {
		return nil, decompressionFailed(err, Fmt2Name(t))
	}
	defer decoder.Close()

	d, err := io.ReadAll(decoder)
	if err != nil {
		return nil, decompressionFailed(err, Fmt2Name(t))
	}
	return d, nil
}

// Unxz decompresses a single xz stream held in memory.
func Unxz(data []byte) ([]byte, error) {
	if t := CheckFmt(data); t != XZ {
		return nil, decompressionFailed(errors.New("input is not in xz format"), "xz")
	}
	return Decompress(XZ, bytes.NewReader(data))
}
