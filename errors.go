package bootinfo

import (
	"bootinfo/cpio"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedHeader is returned when a buffer is too short for a fixed structure.
	ErrMalformedHeader = errors.New("malformed header")
	// ErrBadMagic is returned when a magic signature does not match.
	ErrBadMagic = errors.New("bad magic")
	// ErrCorruptArchive is returned when cpio entry framing is inconsistent.
	ErrCorruptArchive = cpio.ErrCorruptArchive
	// ErrDecompressionFailed is returned when a codec rejects its input.
	ErrDecompressionFailed = errors.New("decompression failed")
	// ErrPatternNotFound is returned when a banner or version pattern has no match.
	ErrPatternNotFound = errors.New("pattern not found")
)

func decompressionFailed(err error, what string) error {
	return errors.Wrapf(ErrDecompressionFailed, "%s: %v", what, err)
}
