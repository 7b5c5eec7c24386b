package bootinfo

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// Image is a read-only mapping of an image file.
type Image struct {
	fd *os.File
	mm mmap.MMap
}

func OpenImage(path string) (*Image, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, err
	}
	if st.Size() == 0 {
		fd.Close()
		return nil, errors.Wrapf(ErrMalformedHeader, "%s is empty", path)
	}
	m, err := mmap.Map(fd, mmap.RDONLY, 0)
	if err != nil {
		fd.Close()
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	return &Image{fd: fd, mm: m}, nil
}

func (i *Image) Bytes() []byte {
	return i.mm
}

func (i *Image) Close() error {
	err := i.mm.Unmap()
	if cerr := i.fd.Close(); err == nil {
		err = cerr
	}
	return err
}
