package bootinfo

import (
	"io"
	"slices"
	"strings"

	"bootinfo/cpio"
	"bootinfo/logging"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Locations of the compressed magisk binary in a patched ramdisk.
var MAGISK_PATHS = []string{
	"overlay.d/sbin/magisk.xz",
	"overlay.d/sbin/magisk32.xz",
	"overlay.d/sbin/magisk64.xz",
}

var magiskVersionRe = regexp.MustCompile(`[0-9]+\.[0-9]+\([0-9]{5}\)`)

type Payload struct {
	Path string
	Data []byte
}

// LocatePayload walks the cpio archive in r and decompresses the first entry
// whose name is in paths. A nil Payload with a nil error means the archive
// holds none of them.
func LocatePayload(r io.ReadSeeker, paths []string) (*Payload, error) {
	reader, err := cpio.NewReader(r)
	if err != nil {
		return nil, err
	}
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if entry.IsTrailer() {
			return nil, nil
		}
		if !slices.Contains(paths, entry.Name) {
			if err := entry.Skip(); err != nil {
				return nil, err
			}
			continue
		}

		logging.Debug("Found payload entry",
			zap.String("name", entry.Name),
			zap.Int64("size", entry.Size),
			zap.Int64("offset", entry.Offset),
		)
		compressed, err := entry.ReadAll()
		if err != nil {
			return nil, err
		}
		data, err := Unxz(compressed)
		if err != nil {
			return nil, errors.Wrapf(err, "entry [%s]", entry.Name)
		}
		return &Payload{Path: entry.Name, Data: data}, nil
	}
}

// FindMagiskVersion returns the first "MAJOR.MINOR(CODE)" token in data.
func FindMagiskVersion(data []byte) (string, error) {
	loc := magiskVersionRe.FindIndex(data)
	if loc == nil {
		return "", errors.Wrap(ErrPatternNotFound, "magisk version")
	}
	return string(data[loc[0]:loc[1]]), nil
}

type RamdiskStatus int

const (
	STOCK RamdiskStatus = iota
	MAGISK
	UNSUPPORTED
)

func (s RamdiskStatus) String() string {
	switch s {
	case MAGISK:
		return "Magisk"
	case UNSUPPORTED:
		return "Unsupported"
	default:
		return "Stock"
	}
}

var (
	unsupportedEntries = []string{
		"sbin/launch_daemonsu.sh",
		"sbin/su",
		"init.xposed.rc",
		"boot/sbin/launch_daemonsu.sh",
	}
	magiskEntries = []string{
		".backup/.magisk",
		"init.magisk.rc",
		"overlay/init.magisk.rc",
	}
)

type RamdiskInfo struct {
	Entries int
	Status  RamdiskStatus
	Fstabs  []FstabInfo
}

func isFstab(name string) bool {
	base := name[strings.LastIndex(name, "/")+1:]
	return strings.HasPrefix(base, "fstab.") || base == "fstab"
}

// ScanRamdisk classifies the ramdisk the way "magiskboot cpio test" does and
// collects the verity and encryption flags of every fstab it carries.
func ScanRamdisk(r io.ReadSeeker) (*RamdiskInfo, error) {
	info := &RamdiskInfo{}
	magisk := false
	err := cpio.Walk(r, func(e *cpio.Entry) error {
		info.Entries++
		name := strings.TrimPrefix(e.Name, "/")
		switch {
		case slices.Contains(unsupportedEntries, name):
			info.Status = UNSUPPORTED
		case slices.Contains(magiskEntries, name), slices.Contains(MAGISK_PATHS, name):
			magisk = true
		case e.IsRegular() && isFstab(name):
			content, err := e.ReadAll()
			if err != nil {
				return err
			}
			fstab := ScanFstab(content)
			fstab.Path = name
			info.Fstabs = append(info.Fstabs, fstab)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if magisk && info.Status != UNSUPPORTED {
		info.Status = MAGISK
	}
	return info, nil
}
