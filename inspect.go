package bootinfo

import (
	"bytes"
	"io"

	"bootinfo/logging"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type KernelReport struct {
	Section Section
	// Compression the kernel was stored with, UNKNOWN for a raw Image.
	Format FileFormat
	// Err is set when the kernel could not be read or decompressed; the
	// header and banner are not attempted then.
	Err error

	Header    *KernelHeader
	HeaderErr error

	Banner    *KernelBanner
	BannerErr error
}

type RamdiskReport struct {
	Section Section
	Format  FileFormat
	Size    int
	// Err is set when the ramdisk could not be read or decompressed.
	Err error

	Info    *RamdiskInfo
	InfoErr error

	// MagiskPath is empty when no payload entry exists.
	MagiskPath    string
	MagiskVersion string
	MagiskErr     error
}

type Report struct {
	HeaderVersion uint32
	Vendor        bool
	Cmdline       string
	OsVersion     string
	PatchLevel    string

	// Kernel is nil for images without a kernel (vendor_boot).
	Kernel   *KernelReport
	Ramdisks []*RamdiskReport
}

type Options struct {
	PayloadPaths []string
}

func DefaultOptions() Options {
	return Options{PayloadPaths: MAGISK_PATHS}
}

// Inspect runs every phase over the image in r. A phase that fails records
// its error in the report and does not stop later phases.
func Inspect(r io.ReaderAt, img Container, opts Options) *Report {
	if len(opts.PayloadPaths) == 0 {
		opts.PayloadPaths = MAGISK_PATHS
	}

	rep := &Report{
		HeaderVersion: img.HeaderVersion(),
		Vendor:        img.IsVendor(),
		Cmdline:       img.Cmdline(),
	}
	rep.OsVersion, rep.PatchLevel = img.OsVersion()

	if k := img.Kernel(); k.Size > 0 {
		rep.Kernel = inspectKernel(r, k)
	}
	for _, s := range img.Ramdisks() {
		if s.Size == 0 {
			continue
		}
		rep.Ramdisks = append(rep.Ramdisks, inspectRamdisk(r, s, opts))
	}
	return rep
}

func readSection(r io.ReaderAt, s Section) ([]byte, error) {
	buf := make([]byte, s.Size)
	if _, err := io.ReadFull(io.NewSectionReader(r, int64(s.Offset), int64(s.Size)), buf); err != nil {
		return nil, errors.Wrapf(err, "read %s", s.Name)
	}
	return buf, nil
}

// LoadSection reads a section and expands it when it is compressed. The
// returned format is UNKNOWN for uncompressed data.
func LoadSection(r io.ReaderAt, s Section) ([]byte, FileFormat, error) {
	head := make([]byte, min(s.Size, 64))
	if _, err := r.ReadAt(head, int64(s.Offset)); err != nil && err != io.EOF {
		return nil, UNKNOWN, errors.Wrapf(err, "read %s", s.Name)
	}

	f := CheckFmt(head)
	switch {
	case COMPRESSED(f):
		data, err := Decompress(f, io.NewSectionReader(r, int64(s.Offset), int64(s.Size)))
		if err != nil {
			return nil, f, errors.Wrap(err, s.Name)
		}
		return data, f, nil
	case f == LZOP:
		return nil, f, errors.Wrapf(ErrDecompressionFailed, "%s: unsupported format %s", s.Name, Fmt2Name(f))
	default:
		data, err := readSection(r, s)
		return data, UNKNOWN, err
	}
}

func inspectKernel(r io.ReaderAt, s Section) *KernelReport {
	rep := &KernelReport{Section: s}

	kernel, f, err := LoadSection(r, s)
	rep.Format = f
	if err != nil {
		rep.Err = err
		logging.LogPhase("kernel", err)
		return rep
	}

	rep.Header, rep.HeaderErr = ParseKernelHeader(kernel)
	if rep.HeaderErr != nil {
		rep.HeaderErr = errors.Wrap(rep.HeaderErr, "parse ARM64 Linux kernel image header")
	}
	logging.LogPhase("kernel_header", rep.HeaderErr,
		zap.Uint64("offset", s.Offset),
		zap.Int("size", len(kernel)),
		zap.Stringer("format", f),
	)

	if b, ok := FindKernelBanner(kernel); ok {
		rep.Banner = b
	} else {
		rep.BannerErr = errors.Wrap(ErrPatternNotFound, "kernel banner")
	}
	logging.LogPhase("kernel_banner", rep.BannerErr)
	return rep
}

func inspectRamdisk(r io.ReaderAt, s Section, opts Options) *RamdiskReport {
	rep := &RamdiskReport{Section: s}

	data, f, err := LoadSection(r, s)
	rep.Format = f
	rep.Size = len(data)
	logging.LogPhase("ramdisk", err,
		zap.String("name", s.Name),
		zap.Uint64("offset", s.Offset),
		zap.Uint64("compressed_size", s.Size),
		zap.Stringer("format", f),
		zap.Int("size", len(data)),
	)
	if err != nil {
		rep.Err = err
		return rep
	}

	payload, err := LocatePayload(bytes.NewReader(data), opts.PayloadPaths)
	switch {
	case err != nil:
		rep.MagiskErr = errors.Wrap(err, "locate magisk payload")
	case payload != nil:
		rep.MagiskPath = payload.Path
		rep.MagiskVersion, rep.MagiskErr = FindMagiskVersion(payload.Data)
	}
	logging.LogPhase("payload", rep.MagiskErr, zap.String("path", rep.MagiskPath))

	rep.Info, rep.InfoErr = ScanRamdisk(bytes.NewReader(data))
	logging.LogPhase("ramdisk_scan", rep.InfoErr)
	return rep
}
