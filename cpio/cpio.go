// Package cpio walks newc ("070701") cpio archives as found in Android ramdisks.
//
// Entries are produced one at a time by Reader.Next. The body of an entry is
// never buffered by the reader: the caller either reads it through the Entry
// or skips it, and only then may ask for the next entry.
package cpio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bootinfo/stub"

	"github.com/pkg/errors"
)

// Define this to avoid missing in different platform
const (
	S_IFBLK = 0060000
	S_IFCHR = 0020000
	S_IFDIR = 0040000
	S_IFLNK = 0120000
	S_IFMT  = 0170000
	S_IFREG = 0100000
)

const (
	TRAILER_NAME = "TRAILER!!!"

	NEWC_MAGIC = "070701"
	CRC_MAGIC  = "070702"
)

var (
	ErrCorruptArchive = errors.New("corrupt cpio archive")
	// ErrBodyPending is returned by Next while the previous entry body has
	// been neither fully read nor skipped.
	ErrBodyPending = errors.New("cpio entry body not consumed")
)

type CpioHeader struct {
	Magic     [6]byte
	Ino       [8]byte
	Mode      [8]byte
	Uid       [8]byte
	Gid       [8]byte
	Nlink     [8]byte
	Mtime     [8]byte
	Filesize  [8]byte
	Devmajor  [8]byte
	Devminor  [8]byte
	Rdevmajor [8]byte
	Rdevminor [8]byte
	Namesize  [8]byte
	Check     [8]byte
}

var headerSize = int64(binary.Size(CpioHeader{}))

type state int

const (
	beforeEntry state = iota
	inEntryBody
	atTrailer
)

func (s state) String() string {
	switch s {
	case beforeEntry:
		return "before-entry"
	case inEntryBody:
		return "in-entry-body"
	case atTrailer:
		return "at-trailer"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

type Entry struct {
	Name      string
	Ino       uint32
	Mode      uint32
	Uid       uint32
	Gid       uint32
	Nlink     uint32
	Mtime     uint32
	DevMajor  uint32
	DevMinor  uint32
	RDevMajor uint32
	RDevMinor uint32
	Size      int64
	// Offset of the body relative to the start of the archive.
	Offset int64

	r *Reader
}

func (e *Entry) IsTrailer() bool { return e.Name == TRAILER_NAME }

func (e *Entry) IsDir() bool     { return e.Mode&S_IFMT == S_IFDIR }
func (e *Entry) IsRegular() bool { return e.Mode&S_IFMT == S_IFREG }
func (e *Entry) IsSymlink() bool { return e.Mode&S_IFMT == S_IFLNK }
func (e *Entry) IsDevice() bool {
	t := e.Mode & S_IFMT
	return t == S_IFBLK || t == S_IFCHR
}

// Rdev packs the special-file device numbers the way the host stat(2) does.
func (e *Entry) Rdev() uint64 {
	return stub.Mkdev(e.RDevMajor, e.RDevMinor)
}

func (e *Entry) current() bool {
	return e.r != nil && e.r.entry == e && e.r.state == inEntryBody
}

// Read reads from the entry body. It returns io.EOF once the body is
// consumed or after the reader has moved past this entry.
func (e *Entry) Read(p []byte) (int, error) {
	if !e.current() {
		return 0, io.EOF
	}
	r := e.r
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.r.Read(p)
	r.remaining -= int64(n)
	r.off += int64(n)
	if r.remaining == 0 {
		r.state = beforeEntry
	}
	if err == io.EOF && r.remaining > 0 {
		err = io.ErrUnexpectedEOF
	} else if err == io.EOF {
		err = nil
	}
	return n, err
}

// ReadAll reads the remainder of the entry body.
func (e *Entry) ReadAll() ([]byte, error) {
	if !e.current() {
		return []byte{}, nil
	}
	buf := make([]byte, e.r.remaining)
	if _, err := io.ReadFull(e, buf); err != nil {
		return nil, errors.Wrapf(err, "read entry [%s]", e.Name)
	}
	return buf, nil
}

// Skip advances the reader past the unread part of the body.
func (e *Entry) Skip() error {
	if !e.current() {
		return nil
	}
	r := e.r
	if _, err := r.r.Seek(r.remaining, io.SeekCurrent); err != nil {
		return errors.Wrapf(err, "skip entry [%s]", e.Name)
	}
	r.off += r.remaining
	r.remaining = 0
	r.state = beforeEntry
	return nil
}

// Reader iterates over the entries of a single cpio archive.
type Reader struct {
	r io.ReadSeeker

	// offsets are relative to the position r had when the Reader was created
	off  int64
	size int64

	state     state
	entry     *Entry
	remaining int64
}

func NewReader(r io.ReadSeeker) (*Reader, error) {
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	return &Reader{r: r, size: end - start}, nil
}

func align_4(x int64) int64 {
	return (x + 3) &^ 3
}

func x8u(x []byte) (uint32, error) {
	if len(x) != 8 {
		return 0, errors.New("bad cpio header")
	}

	ret, err := strconv.ParseUint(string(x), 16, 32)
	if err != nil {
		return 0, err
	}

	return uint32(ret), nil
}

func corrupt(off int64, format string, args ...any) error {
	return errors.Wrapf(ErrCorruptArchive, "at 0x%x: %s", off, fmt.Sprintf(format, args...))
}

func (r *Reader) seekTo(off int64) error {
	if off == r.off {
		return nil
	}
	if _, err := r.r.Seek(off-r.off, io.SeekCurrent); err != nil {
		return err
	}
	r.off = off
	return nil
}

// Next returns the next entry header. The returned entry's body must be
// read to the end or skipped before Next is called again. After the
// trailer entry has been returned, Next returns io.EOF.
func (r *Reader) Next() (*Entry, error) {
	switch r.state {
	case inEntryBody:
		return nil, errors.Wrapf(ErrBodyPending, "entry [%s] has %d unread bytes", r.entry.Name, r.remaining)
	case atTrailer:
		return nil, io.EOF
	}

	hdr_off := align_4(r.off)
	if hdr_off+headerSize > r.size {
		return nil, corrupt(hdr_off, "truncated header, %d bytes left", r.size-min(hdr_off, r.size))
	}
	if err := r.seekTo(hdr_off); err != nil {
		return nil, err
	}

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, errors.Wrap(err, "read cpio header")
	}
	r.off += headerSize

	hdr := CpioHeader{}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &hdr); err != nil {
		return nil, corrupt(hdr_off, "bad header: %v", err)
	}
	if magic := string(hdr.Magic[:]); magic != NEWC_MAGIC && magic != CRC_MAGIC {
		return nil, corrupt(hdr_off, "invalid magic %q", magic)
	}

	var fields [13]uint32
	raw := [13][8]byte{
		hdr.Ino, hdr.Mode, hdr.Uid, hdr.Gid, hdr.Nlink, hdr.Mtime, hdr.Filesize,
		hdr.Devmajor, hdr.Devminor, hdr.Rdevmajor, hdr.Rdevminor, hdr.Namesize, hdr.Check,
	}
	for i := range raw {
		v, err := x8u(raw[i][:])
		if err != nil {
			return nil, corrupt(hdr_off, "bad header field %q", raw[i][:])
		}
		fields[i] = v
	}

	name_sz := int64(fields[11])
	file_sz := int64(fields[6])
	if name_sz == 0 {
		return nil, corrupt(hdr_off, "zero name size")
	}
	if r.off+name_sz > r.size {
		return nil, corrupt(hdr_off, "name size %d exceeds archive", name_sz)
	}
	name := make([]byte, name_sz)
	if _, err := io.ReadFull(r.r, name); err != nil {
		return nil, errors.Wrap(err, "read cpio entry name")
	}
	r.off += name_sz
	if name[name_sz-1] != 0 {
		return nil, corrupt(hdr_off, "entry name is not NUL terminated")
	}

	body_off := align_4(r.off)
	if body_off+file_sz > r.size {
		return nil, corrupt(hdr_off, "entry declares %d bytes, %d available", file_sz, r.size-min(body_off, r.size))
	}
	if err := r.seekTo(body_off); err != nil {
		return nil, err
	}

	entry := &Entry{
		Name:      strings.TrimRight(string(name), "\x00"),
		Ino:       fields[0],
		Mode:      fields[1],
		Uid:       fields[2],
		Gid:       fields[3],
		Nlink:     fields[4],
		Mtime:     fields[5],
		Size:      file_sz,
		DevMajor:  fields[7],
		DevMinor:  fields[8],
		RDevMajor: fields[9],
		RDevMinor: fields[10],
		Offset:    body_off,
		r:         r,
	}
	r.entry = entry
	r.remaining = file_sz

	switch {
	case entry.IsTrailer():
		r.state = atTrailer
		r.remaining = 0
	case file_sz > 0:
		r.state = inEntryBody
	default:
		r.state = beforeEntry
	}
	return entry, nil
}

// Walk calls fn for every entry before the trailer. Bodies left unread by fn
// are skipped. Returning io.EOF from fn stops the walk without error.
func Walk(rs io.ReadSeeker, fn func(e *Entry) error) error {
	r, err := NewReader(rs)
	if err != nil {
		return err
	}
	for {
		e, err := r.Next()
		if err != nil {
			return err
		}
		if e.IsTrailer() {
			return nil
		}
		if err := fn(e); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := e.Skip(); err != nil {
			return err
		}
	}
}
