package bootinfo

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"bootinfo/logging"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type MtkHdr struct {
	Magic   uint32
	Size    uint32
	Name    [32]byte
	Padding [472]byte
}

const BOOT_MAGIC_SIZE = 8
const BOOT_NAME_SIZE = 16
const BOOT_ID_SIZE = 32
const BOOT_ARGS_SIZE = 512
const BOOT_EXTRA_ARGS_SIZE = 1024
const VENDOR_BOOT_ARGS_SIZE = 2048
const VENDOR_RAMDISK_NAME_SIZE = 32
const VENDOR_RAMDISK_TABLE_ENTRY_BOARD_ID_SIZE = 16

const VENDOR_RAMDISK_TYPE_NONE = 0
const VENDOR_RAMDISK_TYPE_PLATFORM = 1
const VENDOR_RAMDISK_TYPE_RECOVERY = 2
const VENDOR_RAMDISK_TYPE_DLKM = 3

// Images with a pre-header (Nook HD) carry the boot header this far in.
const MAX_HEADER_SEARCH = 1048576 + 4096

type BootImgHdrV0Common struct {
	Magic       [BOOT_MAGIC_SIZE]byte
	KernelSize  uint32 // size in bytes
	KernelAddr  uint32 // physical load addr
	RamdiskSize uint32 // size in bytes
	RamdiskAddr uint32 // physical load addr
	SecondSize  uint32 // size in bytes
	SecondAddr  uint32 // physical load addr
}

type BootImgHdrV0 struct {
	BootImgHdrV0Common
	TagsAddr      uint32
	PageSize      uint32 // or Unknown for Samsung
	HeaderVersion uint32 // or ExtraSize for Samsung
	OsVersion     uint32
	Name          [BOOT_NAME_SIZE]byte
	Cmdline       [BOOT_ARGS_SIZE]byte
	Id            [BOOT_ID_SIZE]byte
	ExtraCmdline  [BOOT_EXTRA_ARGS_SIZE]byte
}

type BootImgHdrV1 struct {
	BootImgHdrV0
	RecoveryDtboSize   uint32
	RecoveryDtboOffset uint64
	HeaderSize         uint32
}

type BootImgHdrV2 struct {
	BootImgHdrV1
	DtbSize uint32
	DtbAddr uint64
}

type BootImgHdrPxa struct {
	BootImgHdrV0Common
	ExtraSize    uint32
	Unknown      uint32
	TagsAddr     uint32
	PageSize     uint32
	Name         [24]byte
	Cmdline      [BOOT_ARGS_SIZE]byte
	Id           [BOOT_ID_SIZE]byte
	ExtraCmdline [BOOT_EXTRA_ARGS_SIZE]byte
}

/*
 * When the boot image header has a version of 3 - 4, the structure of the boot
 * image is as follows:
 *
 * +---------------------+
 * | boot header         | 4096 bytes
 * +---------------------+
 * | kernel              | m pages
 * +---------------------+
 * | ramdisk             | n pages
 * +---------------------+
 * | boot signature      | g pages
 * +---------------------+
 *
 * m = (kernel_size + 4096 - 1) / 4096
 * n = (ramdisk_size + 4096 - 1) / 4096
 * g = (signature_size + 4096 - 1) / 4096
 *
 * The structure of the vendor boot image is as follows:
 *
 * +------------------------+
 * | vendor boot header     | o pages
 * +------------------------+
 * | vendor ramdisk section | p pages
 * +------------------------+
 * | dtb                    | q pages
 * +------------------------+
 * | vendor ramdisk table   | r pages
 * +------------------------+
 * | bootconfig             | s pages
 * +------------------------+
 *
 * o = (2128 + page_size - 1) / page_size
 * p = (vendor_ramdisk_size + page_size - 1) / page_size
 * q = (dtb_size + page_size - 1) / page_size
 * r = (vendor_ramdisk_table_size + page_size - 1) / page_size
 * s = (vendor_bootconfig_size + page_size - 1) / page_size
 *
 * In version 4 the vendor ramdisk section holds several ramdisks back to
 * back; the vendor ramdisk table gives the size, offset, type and name of
 * each of them.
 */

type BootImgHdrV3 struct {
	Magic         [BOOT_MAGIC_SIZE]byte
	KernelSize    uint32
	RamdiskSize   uint32
	OsVersion     uint32
	HeaderSize    uint32
	Reserved      [4]uint32
	HeaderVersion uint32
	Cmdline       [BOOT_ARGS_SIZE + BOOT_EXTRA_ARGS_SIZE]byte
}

type BootImgHdrVndV3 struct {
	Magic         [BOOT_MAGIC_SIZE]byte
	HeaderVersion uint32
	PageSize      uint32
	KernelAddr    uint32
	RamdiskAddr   uint32
	RamdiskSize   uint32
	Cmdline       [VENDOR_BOOT_ARGS_SIZE]byte
	TagsAddr      uint32
	Name          [BOOT_NAME_SIZE]byte
	HeaderSize    uint32
	DtbSize       uint32
	DtbAddr       uint64
}

type BootImgHdrV4 struct {
	BootImgHdrV3
	SignatureSize uint32
}

type BootImgHdrVndV4 struct {
	BootImgHdrVndV3
	VendorRamdiskTableSize      uint32
	VendorRamdiskTableEntryNum  uint32
	VendorRamdiskTableEntrySize uint32
	BootconfigSize              uint32
}

type VendorRamdiskTableEntryV4 struct {
	RamdiskSize   uint32
	RamdiskOffset uint32
	RamdiskType   uint32
	RamdiskName   [VENDOR_RAMDISK_NAME_SIZE]byte
	BoardId       [VENDOR_RAMDISK_TABLE_ENTRY_BOARD_ID_SIZE]uint32
}

// Section is a byte range of the image, relative to the start of the image
// data handed to ParseBootImg.
type Section struct {
	Name   string
	Offset uint64
	Size   uint64
}

func (s Section) End() uint64 { return s.Offset + s.Size }

// Container is the view of a boot image the inspection pipeline needs.
type Container interface {
	HeaderVersion() uint32
	IsVendor() bool
	Kernel() Section
	Ramdisks() []Section
	Cmdline() string
	OsVersion() (version, patchLevel string)
}

type BootImg struct {
	Format  FileFormat
	Version uint32
	Vendor  bool
	Pxa     bool
	// Offset of the boot header in the image, non-zero with DHTB or other
	// pre-headers.
	HdrOffset uint64
	HdrSize   uint32
	PageSize  uint32

	RawOsVersion uint32
	RawCmdline   string
	Name         string

	KernelSection   Section
	RamdiskSections []Section
	// MTK headers in front of the kernel or ramdisk, already skipped in the
	// sections above
	KernelMtk  *MtkHdr
	RamdiskMtk *MtkHdr
}

func (b *BootImg) HeaderVersion() uint32 { return b.Version }
func (b *BootImg) IsVendor() bool        { return b.Vendor }
func (b *BootImg) Kernel() Section       { return b.KernelSection }
func (b *BootImg) Ramdisks() []Section   { return b.RamdiskSections }
func (b *BootImg) Cmdline() string       { return b.RawCmdline }

// OsVersion decodes the packed os_version field:
//
//	os_version = ver << 11 | lvl
//	ver = A << 14 | B << 7 | C         (7 bits for each of A, B, C)
//	lvl = ((Y - 2000) & 127) << 4 | M  (7 bits for Y, 4 bits for M)
func (b *BootImg) OsVersion() (string, string) {
	return DecodeOsVersion(b.RawOsVersion)
}

func DecodeOsVersion(v uint32) (string, string) {
	if v == 0 {
		return "", ""
	}
	ver := v >> 11
	lvl := v & 0x7ff
	version := fmt.Sprintf("%d.%d.%d", (ver>>14)&0x7f, (ver>>7)&0x7f, ver&0x7f)
	patch := ""
	if lvl != 0 {
		patch = fmt.Sprintf("%d-%02d", (lvl>>4)+2000, lvl&0xf)
	}
	return version, patch
}

func align_to(v, a uint64) uint64 {
	if a == 0 {
		return v
	}
	return (v + a - 1) / a * a
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func readHdr(data []byte, hdr any) error {
	if len(data) < binary.Size(hdr) {
		return errors.Wrapf(ErrMalformedHeader, "%T needs %d bytes, got %d", hdr, binary.Size(hdr), len(data))
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, hdr)
}

// findHeader locates the boot or vendor boot magic, allowing for DHTB,
// ChromeOS and vendor pre-headers.
func findHeader(data []byte) (int, FileFormat) {
	window := data[:min(len(data), MAX_HEADER_SEARCH)]
	boot := bytes.Index(window, []byte(BOOT_MAGIC))
	vnd := bytes.Index(window, []byte(VENDOR_BOOT_MAGIC))
	switch {
	case boot < 0 && vnd < 0:
		return -1, UNKNOWN
	case vnd < 0 || (boot >= 0 && boot < vnd):
		return boot, AOSP
	default:
		return vnd, AOSP_VENDOR
	}
}

// ParseBootImg parses the boot, recovery or vendor_boot image held in data.
func ParseBootImg(data []byte) (*BootImg, error) {
	off, f := findHeader(data)
	if off < 0 {
		return nil, errors.Wrap(ErrBadMagic, "no boot image header found")
	}
	b := &BootImg{Format: f, HdrOffset: uint64(off)}
	hdr := data[off:]

	var err error
	if f == AOSP_VENDOR {
		err = b.parseVendor(hdr)
	} else {
		err = b.parseBoot(hdr)
	}
	if err != nil {
		return nil, err
	}

	b.KernelSection.Offset += b.HdrOffset
	for i := range b.RamdiskSections {
		b.RamdiskSections[i].Offset += b.HdrOffset
	}

	if err := b.checkBounds(uint64(len(data))); err != nil {
		return nil, err
	}
	b.KernelMtk = skipMtk(data, &b.KernelSection)
	if len(b.RamdiskSections) == 1 {
		b.RamdiskMtk = skipMtk(data, &b.RamdiskSections[0])
	}

	logging.Debug("Parsed boot image header",
		zap.Stringer("format", b.Format),
		zap.Uint32("version", b.Version),
		zap.Uint64("header_offset", b.HdrOffset),
		zap.Uint32("page_size", b.PageSize),
		zap.Bool("pxa", b.Pxa),
		zap.Bool("mtk", b.KernelMtk != nil || b.RamdiskMtk != nil),
	)
	return b, nil
}

func (b *BootImg) parseBoot(hdr []byte) error {
	if len(hdr) < 44 {
		return errors.Wrap(ErrMalformedHeader, "boot image header truncated")
	}
	b.Version = binary.LittleEndian.Uint32(hdr[40:])

	switch b.Version {
	case 3, 4:
		v4 := BootImgHdrV4{}
		var v3 *BootImgHdrV3 = &v4.BootImgHdrV3
		if b.Version == 4 {
			if err := readHdr(hdr, &v4); err != nil {
				return err
			}
		} else if err := readHdr(hdr, v3); err != nil {
			return err
		}
		b.PageSize = 4096
		b.HdrSize = v3.HeaderSize
		b.RawOsVersion = v3.OsVersion
		b.RawCmdline = cstr(v3.Cmdline[:])
		b.KernelSection = Section{Name: "kernel", Offset: 4096, Size: uint64(v3.KernelSize)}
		b.RamdiskSections = []Section{{
			Name:   "ramdisk",
			Offset: 4096 + align_to(uint64(v3.KernelSize), 4096),
			Size:   uint64(v3.RamdiskSize),
		}}
		return nil
	}

	v0 := BootImgHdrV0{}
	if err := readHdr(hdr, &v0); err != nil {
		return err
	}
	common := v0.BootImgHdrV0Common
	if v0.PageSize >= 0x02000000 {
		pxa := BootImgHdrPxa{}
		if err := readHdr(hdr, &pxa); err != nil {
			return err
		}
		b.Pxa = true
		b.Version = 0
		b.PageSize = pxa.PageSize
		b.HdrSize = uint32(binary.Size(pxa))
		b.Name = cstr(pxa.Name[:])
		b.RawCmdline = cstr(pxa.Cmdline[:]) + cstr(pxa.ExtraCmdline[:])
	} else {
		b.HdrSize = uint32(binary.Size(v0))
		switch b.Version {
		case 1:
			v1 := BootImgHdrV1{}
			if err := readHdr(hdr, &v1); err != nil {
				return err
			}
			b.HdrSize = v1.HeaderSize
		case 2:
			v2 := BootImgHdrV2{}
			if err := readHdr(hdr, &v2); err != nil {
				return err
			}
			b.HdrSize = v2.HeaderSize
		case 0:
		default:
			// Samsung stores the extra size here
			logging.Warn("Unknown boot header version, assuming v0", zap.Uint32("version", b.Version))
			b.Version = 0
		}
		b.PageSize = v0.PageSize
		b.Name = cstr(v0.Name[:])
		b.RawOsVersion = v0.OsVersion
		b.RawCmdline = cstr(v0.Cmdline[:]) + cstr(v0.ExtraCmdline[:])
	}
	if b.PageSize == 0 || b.PageSize&(b.PageSize-1) != 0 {
		return errors.Wrapf(ErrMalformedHeader, "invalid page size %d", b.PageSize)
	}

	page := uint64(b.PageSize)
	kernel := page
	ramdisk := kernel + align_to(uint64(common.KernelSize), page)
	b.KernelSection = Section{Name: "kernel", Offset: kernel, Size: uint64(common.KernelSize)}
	b.RamdiskSections = []Section{{Name: "ramdisk", Offset: ramdisk, Size: uint64(common.RamdiskSize)}}
	return nil
}

func (b *BootImg) parseVendor(hdr []byte) error {
	if len(hdr) < 12 {
		return errors.Wrap(ErrMalformedHeader, "vendor boot header truncated")
	}
	b.Vendor = true
	b.Version = binary.LittleEndian.Uint32(hdr[8:])

	v4 := BootImgHdrVndV4{}
	v3 := &v4.BootImgHdrVndV3
	switch b.Version {
	case 3:
		if err := readHdr(hdr, v3); err != nil {
			return err
		}
	case 4:
		if err := readHdr(hdr, &v4); err != nil {
			return err
		}
	default:
		return errors.Wrapf(ErrMalformedHeader, "unsupported vendor boot header version %d", b.Version)
	}
	if v3.PageSize == 0 {
		return errors.Wrap(ErrMalformedHeader, "vendor boot page size is zero")
	}

	b.PageSize = v3.PageSize
	b.HdrSize = v3.HeaderSize
	b.Name = cstr(v3.Name[:])
	b.RawCmdline = cstr(v3.Cmdline[:])

	page := uint64(v3.PageSize)
	section := align_to(uint64(v3.HeaderSize), page)
	b.KernelSection = Section{Name: "kernel", Offset: section}

	if b.Version == 4 && v4.VendorRamdiskTableEntryNum > 0 {
		table := section + align_to(uint64(v3.RamdiskSize), page) + align_to(uint64(v3.DtbSize), page)
		entrySize := uint64(v4.VendorRamdiskTableEntrySize)
		if entrySize < uint64(binary.Size(VendorRamdiskTableEntryV4{})) {
			return errors.Wrapf(ErrMalformedHeader, "vendor ramdisk table entry size %d", entrySize)
		}
		for i := uint64(0); i < uint64(v4.VendorRamdiskTableEntryNum); i++ {
			pos := table + i*entrySize
			if pos+entrySize > uint64(len(hdr)) {
				return errors.Wrap(ErrMalformedHeader, "vendor ramdisk table exceeds image")
			}
			entry := VendorRamdiskTableEntryV4{}
			if err := readHdr(hdr[pos:], &entry); err != nil {
				return err
			}
			name := cstr(entry.RamdiskName[:])
			if name == "" {
				name = fmt.Sprintf("ramdisk%d", i)
			}
			b.RamdiskSections = append(b.RamdiskSections, Section{
				Name:   name,
				Offset: section + uint64(entry.RamdiskOffset),
				Size:   uint64(entry.RamdiskSize),
			})
		}
		return nil
	}

	b.RamdiskSections = []Section{{Name: "ramdisk", Offset: section, Size: uint64(v3.RamdiskSize)}}
	return nil
}

func (b *BootImg) checkBounds(size uint64) error {
	sections := append([]Section{b.KernelSection}, b.RamdiskSections...)
	for _, s := range sections {
		if s.End() < s.Offset || s.End() > size {
			return errors.Wrapf(ErrMalformedHeader, "%s [0x%x, +0x%x) exceeds image size 0x%x", s.Name, s.Offset, s.Size, size)
		}
	}
	return nil
}

func skipMtk(data []byte, s *Section) *MtkHdr {
	sz := uint64(binary.Size(MtkHdr{}))
	if s.Size < sz || CheckFmt(data[s.Offset:s.End()]) != MTK {
		return nil
	}
	hdr := &MtkHdr{}
	if err := readHdr(data[s.Offset:], hdr); err != nil {
		return nil
	}
	s.Offset += sz
	s.Size -= sz
	return hdr
}
