// Package cpiotest builds newc archives for tests.
package cpiotest

import (
	"bytes"
	"fmt"
	"io"
)

type File struct {
	Name      string
	Mode      uint32
	RDevMajor uint32
	RDevMinor uint32
	Data      []byte
}

func writeZeros(w io.Writer, pos int) int {
	pad := ((pos + 3) &^ 3) - pos
	w.Write(make([]byte, pad))
	return pad
}

func writeEntry(buf *bytes.Buffer, inode int, name string, mode uint32, rmaj, rmin uint32, data []byte) {
	header := fmt.Sprintf(
		"070701%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x",
		inode,
		mode,
		0, // uid
		0, // gid
		1, // nlink
		0, // mtime
		len(data),
		0, // major
		0, // minor
		rmaj,
		rmin,
		len(name)+1, // namesize (including null terminator)
		0,           // chksum
	)
	buf.WriteString(header)
	buf.WriteString(name)
	buf.WriteByte(0)
	writeZeros(buf, buf.Len())
	buf.Write(data)
	writeZeros(buf, buf.Len())
}

// Archive returns a complete archive holding files in order, followed by the trailer.
func Archive(files ...File) []byte {
	buf := new(bytes.Buffer)
	inode := 300000
	for _, f := range files {
		writeEntry(buf, inode, f.Name, f.Mode, f.RDevMajor, f.RDevMinor, f.Data)
		inode++
	}
	writeEntry(buf, inode, "TRAILER!!!", 0o755, 0, 0, nil)
	return buf.Bytes()
}

// Regular is a shorthand for a 0644 regular file.
func Regular(name string, data []byte) File {
	return File{Name: name, Mode: 0o100644, Data: data}
}
