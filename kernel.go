package bootinfo

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ARM64 Linux kernel image header.
//
// https://docs.kernel.org/arch/arm64/booting.html
//
//	u32 code0;              /* Executable code */
//	u32 code1;              /* Executable code */
//	u64 text_offset;        /* Image load offset, little endian */
//	u64 image_size;         /* Effective Image size, little endian */
//	u64 flags;              /* kernel flags, little endian */
//	u64 res2 = 0;           /* reserved */
//	u64 res3 = 0;           /* reserved */
//	u64 res4 = 0;           /* reserved */
//	u32 magic = 0x644d5241; /* Magic number, little endian, "ARM\x64" */
//	u32 res5;               /* reserved (used for PE COFF offset) */
type Arm64ImageHdr struct {
	Code       [8]byte
	TextOffset uint64
	ImageSize  uint64
	Flags      uint64
	Res2       uint64
	Res3       uint64
	Res4       uint64
	Magic      [4]byte
	Res5       [4]byte
}

var ARM64_HDR_SIZE = binary.Size(Arm64ImageHdr{})

type Endianness uint8

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "Big"
	}
	return "Little"
}

type PageSize uint8

const (
	PageSizeUnspecified PageSize = iota
	PageSize4K
	PageSize16K
	PageSize64K
)

func (p PageSize) String() string {
	switch p {
	case PageSize4K:
		return "4K"
	case PageSize16K:
		return "16K"
	case PageSize64K:
		return "64K"
	default:
		return "Unspecified"
	}
}

type PhysicalPlacement uint8

const (
	// 2MB aligned base should be as close as possible to the base of DRAM,
	// since memory below it is not accessible via the linear mapping.
	PlacementNearDramBase PhysicalPlacement = iota
	// 2MB aligned base such that all image_size bytes counted from the start
	// of the image are within the 48-bit addressable range of physical memory.
	PlacementWithin48BitRange
)

func (p PhysicalPlacement) String() string {
	if p == PlacementWithin48BitRange {
		return "Within48BitRange"
	}
	return "NearDramBase"
}

// Flags is the decoded kernel flags word. Fields are listed from the least
// significant bit up.
type Flags struct {
	Endianness        Endianness        // bit 0
	PageSize          PageSize          // bits 1-2
	PhysicalPlacement PhysicalPlacement // bit 3
	Reserved          uint64            // bits 4-63
}

const (
	flagEndianShift    = 0
	flagPageSizeShift  = 1
	flagPlacementShift = 3
	flagReservedShift  = 4

	flagEndianMask    = 0x1
	flagPageSizeMask  = 0x3
	flagPlacementMask = 0x1
	flagReservedMask  = (1 << 60) - 1
)

func DecodeFlags(v uint64) Flags {
	return Flags{
		Endianness:        Endianness((v >> flagEndianShift) & flagEndianMask),
		PageSize:          PageSize((v >> flagPageSizeShift) & flagPageSizeMask),
		PhysicalPlacement: PhysicalPlacement((v >> flagPlacementShift) & flagPlacementMask),
		Reserved:          (v >> flagReservedShift) & flagReservedMask,
	}
}

// Uint64 packs the flags back into the header word.
func (f Flags) Uint64() uint64 {
	return (uint64(f.Endianness)&flagEndianMask)<<flagEndianShift |
		(uint64(f.PageSize)&flagPageSizeMask)<<flagPageSizeShift |
		(uint64(f.PhysicalPlacement)&flagPlacementMask)<<flagPlacementShift |
		(f.Reserved&flagReservedMask)<<flagReservedShift
}

func (f Flags) String() string {
	return fmt.Sprintf("Flags { endianness: %v, page_size: %v, physical_placement: %v, reserved: %#x }",
		f.Endianness, f.PageSize, f.PhysicalPlacement, f.Reserved)
}

type KernelHeader struct {
	Code       [8]byte
	TextOffset uint64
	ImageSize  uint64
	Flags      Flags
	Res5       [4]byte
}

// ParseKernelHeader decodes the header at the start of an uncompressed ARM64
// kernel Image.
func ParseKernelHeader(data []byte) (*KernelHeader, error) {
	if len(data) < ARM64_HDR_SIZE {
		return nil, errors.Wrapf(ErrMalformedHeader, "arm64 image header needs %d bytes, got %d", ARM64_HDR_SIZE, len(data))
	}

	raw := Arm64ImageHdr{}
	if err := binary.Read(bytes.NewReader(data[:ARM64_HDR_SIZE]), binary.LittleEndian, &raw); err != nil {
		return nil, errors.Wrap(ErrMalformedHeader, err.Error())
	}
	if !bytes.Equal(raw.Magic[:], []byte(ARM64_MAGIC)) {
		return nil, errors.Wrapf(ErrBadMagic, "arm64 image magic %q", raw.Magic[:])
	}

	return &KernelHeader{
		Code:       raw.Code,
		TextOffset: raw.TextOffset,
		ImageSize:  raw.ImageSize,
		Flags:      DecodeFlags(raw.Flags),
		Res5:       raw.Res5,
	}, nil
}

// MarshalBinary encodes the header with zeroed res2-res4.
func (h *KernelHeader) MarshalBinary() ([]byte, error) {
	raw := Arm64ImageHdr{
		Code:       h.Code,
		TextOffset: h.TextOffset,
		ImageSize:  h.ImageSize,
		Flags:      h.Flags.Uint64(),
		Res5:       h.Res5,
	}
	copy(raw.Magic[:], ARM64_MAGIC)

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
