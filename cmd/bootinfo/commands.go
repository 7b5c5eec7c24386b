package main

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"

	"bootinfo"
	"bootinfo/cpio"
	"bootinfo/logging"
	"bootinfo/stub"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var lsCmd = &cobra.Command{
	Use:   "ls FILE",
	Short: "List the entries of every ramdisk in the image",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,
}

// loadImage maps path and, for OTA payloads, replaces it with the extracted
// partition. The returned func releases the mapping.
func loadImage(path string) ([]byte, func(), error) {
	img, err := bootinfo.OpenImage(path)
	if err != nil {
		return nil, nil, err
	}
	data := img.Bytes()
	if !forcePayload && !bytes.HasPrefix(data, []byte(bootinfo.PAYLOAD_MAGIC)) {
		return data, func() { img.Close() }, nil
	}
	defer img.Close()

	name, part, err := bootinfo.ExtractPartitionFromPayload(bytes.NewReader(data), partition)
	if err != nil {
		return nil, nil, err
	}
	logging.Info("Extracted partition from payload", zap.String("partition", name), zap.Int("size", len(part)))
	return part, func() {}, nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, release, err := loadImage(args[0])
	if err != nil {
		return err
	}
	defer release()

	img, err := bootinfo.ParseBootImg(data)
	logging.LogPhase("image", err, zap.String("file", args[0]), zap.Int("size", len(data)))
	if err != nil {
		return err
	}

	rep := bootinfo.Inspect(bytes.NewReader(data), img, bootinfo.Options{PayloadPaths: cfg.PayloadPaths})
	rep.Print(cmd.OutOrStdout())
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	data, release, err := loadImage(args[0])
	if err != nil {
		return err
	}
	defer release()

	img, err := bootinfo.ParseBootImg(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, s := range img.Ramdisks() {
		if s.Size == 0 {
			continue
		}
		ramdisk, _, err := bootinfo.LoadSection(bytes.NewReader(data), s)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s:\n", s.Name)
		if err := listEntries(out, bytes.NewReader(ramdisk)); err != nil {
			return err
		}
	}
	return nil
}

func listEntries(w io.Writer, r io.ReadSeeker) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	err := cpio.Walk(r, func(e *cpio.Entry) error {
		size := humanize.IBytes(uint64(e.Size))
		if e.IsDevice() {
			rdev := e.Rdev()
			size = fmt.Sprintf("%d, %d", stub.Major(rdev), stub.Minor(rdev))
		}
		name := e.Name
		if e.IsSymlink() {
			target, err := e.ReadAll()
			if err != nil {
				return err
			}
			name += " -> " + string(target)
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%s\t%s\n", modeString(e.Mode), e.Uid, e.Gid, size, name)
		return nil
	})
	if err != nil {
		return err
	}
	return tw.Flush()
}

func modeString(mode uint32) string {
	t := byte('-')
	switch mode & cpio.S_IFMT {
	case cpio.S_IFDIR:
		t = 'd'
	case cpio.S_IFLNK:
		t = 'l'
	case cpio.S_IFBLK:
		t = 'b'
	case cpio.S_IFCHR:
		t = 'c'
	}
	const rwx = "rwxrwxrwx"
	buf := []byte{t}
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			buf = append(buf, rwx[i])
		} else {
			buf = append(buf, '-')
		}
	}
	return string(buf)
}
