package bootinfo

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/bits"
	"strconv"

	"bootinfo/logging"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"
)

const PAYLOAD_MAGIC string = "CrAU"

// Boot partitions are tens of MiB; anything past this is a corrupt manifest.
const MAX_PARTITION_SIZE = 1 << 30

// InstallOperation types from update_metadata.proto
const (
	OP_REPLACE    = 0
	OP_REPLACE_BZ = 1
	OP_ZERO       = 6
	OP_DISCARD    = 7
	OP_REPLACE_XZ = 8
)

func badPayload(msg string) error {
	return errors.Wrap(ErrMalformedHeader, "invalid payload: "+msg)
}

type Extent struct {
	StartBlock uint64
	NumBlocks  uint64
}

type InstallOperation struct {
	Type       uint64
	DataOffset uint64
	DataLength uint64
	DstExtents []Extent
}

type PartitionUpdate struct {
	PartitionName string
	Size          uint64
	Operations    []InstallOperation
}

// DeltaArchiveManifest holds the subset of the OTA manifest needed to
// rebuild a full partition image.
type DeltaArchiveManifest struct {
	BlockSize    uint32
	MinorVersion uint32
	Partitions   []PartitionUpdate
}

// walkFields calls fn for every field of the protobuf message in b. fn
// returns the number of bytes it consumed, or 0 to have the field skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if m := fn(num, typ, b); m > 0 {
			b = b[m:]
			continue
		} else if m < 0 {
			return protowire.ParseError(m)
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func varintField(typ protowire.Type, b []byte, v *uint64) int {
	if typ != protowire.VarintType {
		return 0
	}
	x, n := protowire.ConsumeVarint(b)
	if n > 0 {
		*v = x
	}
	return n
}

func messageField(typ protowire.Type, b []byte, fn func([]byte) error) int {
	if typ != protowire.BytesType {
		return 0
	}
	msg, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	if err := fn(msg); err != nil {
		return -1
	}
	return n
}

func parseExtent(b []byte) (Extent, error) {
	e := Extent{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return varintField(typ, b, &e.StartBlock)
		case 2:
			return varintField(typ, b, &e.NumBlocks)
		}
		return 0
	})
	return e, err
}

func parseOperation(b []byte) (InstallOperation, error) {
	op := InstallOperation{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return varintField(typ, b, &op.Type)
		case 2:
			return varintField(typ, b, &op.DataOffset)
		case 3:
			return varintField(typ, b, &op.DataLength)
		case 6:
			return messageField(typ, b, func(msg []byte) error {
				e, err := parseExtent(msg)
				op.DstExtents = append(op.DstExtents, e)
				return err
			})
		}
		return 0
	})
	return op, err
}

func parsePartition(b []byte) (PartitionUpdate, error) {
	p := PartitionUpdate{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			if typ != protowire.BytesType {
				return 0
			}
			name, n := protowire.ConsumeBytes(b)
			if n > 0 {
				p.PartitionName = string(name)
			}
			return n
		case 7: // new_partition_info
			return messageField(typ, b, func(msg []byte) error {
				return walkFields(msg, func(num protowire.Number, typ protowire.Type, b []byte) int {
					if num == 1 {
						return varintField(typ, b, &p.Size)
					}
					return 0
				})
			})
		case 8:
			return messageField(typ, b, func(msg []byte) error {
				op, err := parseOperation(msg)
				p.Operations = append(p.Operations, op)
				return err
			})
		}
		return 0
	})
	return p, err
}

func ParseManifest(b []byte) (*DeltaArchiveManifest, error) {
	m := &DeltaArchiveManifest{BlockSize: 4096}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		switch num {
		case 3:
			n := varintField(typ, b, &v)
			if n > 0 {
				m.BlockSize = uint32(v)
			}
			return n
		case 12:
			n := varintField(typ, b, &v)
			if n > 0 {
				m.MinorVersion = uint32(v)
			}
			return n
		case 13:
			return messageField(typ, b, func(msg []byte) error {
				p, err := parsePartition(msg)
				m.Partitions = append(m.Partitions, p)
				return err
			})
		}
		return 0
	})
	if err != nil {
		return nil, badPayload(err.Error())
	}
	return m, nil
}

// findPartition returns the named partition, or init_boot then boot when
// name is empty.
func (m *DeltaArchiveManifest) findPartition(name string) (*PartitionUpdate, error) {
	candidates := []string{name}
	if name == "" {
		candidates = []string{"init_boot", "boot"}
	}
	for _, c := range candidates {
		for i := range m.Partitions {
			if m.Partitions[i].PartitionName == c {
				return &m.Partitions[i], nil
			}
		}
	}
	if name == "" {
		return nil, badPayload("boot partition not found")
	}
	return nil, badPayload("partition " + name + " not found")
}

// ExtractPartitionFromPayload rebuilds one partition of a full OTA
// payload.bin in memory. An empty name selects init_boot, then boot.
func ExtractPartitionFromPayload(r io.ReadSeeker, name string) (string, []byte, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", nil, err
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return "", nil, err
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return "", nil, err
	}
	src_size := uint64(end - start)

	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", nil, errors.Wrap(err, "read payload magic")
	}
	if !bytes.Equal(buf, []byte(PAYLOAD_MAGIC)) {
		return "", nil, errors.Wrap(ErrBadMagic, "invalid payload magic")
	}

	var hdr struct {
		Version        uint64
		ManifestLen    uint64
		ManifestSigLen uint32
	}
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return "", nil, errors.Wrap(err, "read payload header")
	}
	if hdr.Version != 2 {
		return "", nil, badPayload("unsupported version: " + strconv.FormatUint(hdr.Version, 10))
	}
	if hdr.ManifestLen == 0 {
		return "", nil, badPayload("manifest length is zero")
	}
	// magic, version, manifest and signature lengths
	const hdr_size = 4 + 8 + 8 + 4
	if hdr.ManifestLen > src_size-hdr_size {
		return "", nil, badPayload("manifest length " + strconv.FormatUint(hdr.ManifestLen, 10) + " exceeds file")
	}

	buf = make([]byte, hdr.ManifestLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", nil, errors.Wrap(err, "read payload manifest")
	}
	manifest, err := ParseManifest(buf)
	if err != nil {
		return "", nil, err
	}
	if manifest.MinorVersion != 0 {
		return "", nil, badPayload("delta payloads are not supported, please use a full payload file")
	}

	partition, err := manifest.findPartition(name)
	if err != nil {
		return "", nil, err
	}

	// data offsets are relative to the end of the manifest signature
	base, err := r.Seek(int64(hdr.ManifestSigLen), io.SeekCurrent)
	if err != nil {
		return "", nil, err
	}

	if base < start || uint64(base-start) > src_size {
		return "", nil, badPayload("manifest signature exceeds file")
	}
	data_size := src_size - uint64(base-start)

	block_size := uint64(manifest.BlockSize)
	if block_size == 0 {
		return "", nil, badPayload("block size is zero")
	}
	size := partition.Size
	for _, op := range partition.Operations {
		if op.DataOffset > data_size || op.DataLength > data_size-op.DataOffset {
			return "", nil, badPayload("operation data exceeds file")
		}
		for _, ext := range op.DstExtents {
			blocks, carry := bits.Add64(ext.StartBlock, ext.NumBlocks, 0)
			hi, ext_end := bits.Mul64(blocks, block_size)
			if carry != 0 || hi != 0 || ext_end > MAX_PARTITION_SIZE {
				return "", nil, badPayload("extent exceeds partition size limit")
			}
			size = max(size, ext_end)
		}
	}
	if size > MAX_PARTITION_SIZE {
		return "", nil, badPayload("partition size " + strconv.FormatUint(size, 10) + " exceeds limit")
	}
	out := make([]byte, size)

	logging.Debug("Extracting partition from payload",
		zap.String("partition", partition.PartitionName),
		zap.Uint64("size", size),
		zap.Int("operations", len(partition.Operations)),
	)

	for _, op := range partition.Operations {
		if len(op.DstExtents) == 0 {
			return "", nil, badPayload("operation without destination extents")
		}
		var data []byte
		if op.DataLength > 0 {
			data = make([]byte, op.DataLength)
			if _, err := r.Seek(base+int64(op.DataOffset), io.SeekStart); err != nil {
				return "", nil, err
			}
			if _, err := io.ReadFull(r, data); err != nil {
				return "", nil, errors.Wrap(err, "read operation data")
			}
		}

		out_offset := op.DstExtents[0].StartBlock * block_size
		switch op.Type {
		case OP_REPLACE:
			copy(out[out_offset:], data)
		case OP_ZERO, OP_DISCARD:
			// out is already zeroed
		case OP_REPLACE_BZ, OP_REPLACE_XZ:
			f := BZIP2
			if op.Type == OP_REPLACE_XZ {
				f = XZ
			}
			d, err := Decompress(f, bytes.NewReader(data))
			if err != nil {
				return "", nil, err
			}
			copy(out[out_offset:], d)
		default:
			return "", nil, badPayload("unsupported operation type " + strconv.FormatUint(op.Type, 10))
		}
	}

	if partition.Size > 0 && partition.Size < uint64(len(out)) {
		out = out[:partition.Size]
	}
	return partition.PartitionName, out, nil
}
