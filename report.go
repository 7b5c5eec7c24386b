package bootinfo

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

var (
	hashes  = color.New(color.FgHiBlack).SprintFunc()
	heading = color.New(color.FgCyan).SprintFunc()
	label   = color.New(color.FgBlue).SprintFunc()
	warn    = color.New(color.FgYellow).SprintFunc()
	failed  = color.New(color.FgRed).SprintFunc()
)

func sizeString(n uint64) string {
	return fmt.Sprintf("%d (%s)", n, humanize.IBytes(n))
}

func printErr(w io.Writer, what string, err error) {
	fmt.Fprintf(w, "%s %v\n", failed(what+":"), err)
}

// Print writes the human-readable report.
func (rep *Report) Print(w io.Writer) {
	fmt.Fprintln(w, hashes("###"), heading("Boot image header info:"))
	kind := "boot"
	if rep.Vendor {
		kind = "vendor_boot"
	}
	fmt.Fprintln(w, label("Header version:"), rep.HeaderVersion, "("+kind+")")
	if rep.OsVersion != "" {
		fmt.Fprintln(w, label("OS version:"), rep.OsVersion)
	}
	if rep.PatchLevel != "" {
		fmt.Fprintln(w, label("OS patch level:"), rep.PatchLevel)
	}
	fmt.Fprintln(w, label("Cmdline:"), rep.Cmdline)
	if rep.Kernel != nil {
		fmt.Fprintln(w, label("Kernel size:"), sizeString(rep.Kernel.Section.Size))
	}
	fmt.Fprintln(w)

	if k := rep.Kernel; k != nil {
		fmt.Fprintln(w, hashes("###"), heading("Kernel image info:"))
		if k.Format != UNKNOWN {
			fmt.Fprintln(w, label("Compression:"), Fmt2Name(k.Format))
		}
		if k.Err != nil {
			printErr(w, "Kernel", k.Err)
		} else {
			if k.HeaderErr != nil {
				printErr(w, "Header", k.HeaderErr)
			} else {
				fmt.Fprintf(w, "%s %#x\n", label("Text offset:"), k.Header.TextOffset)
				fmt.Fprintln(w, label("Effective Image size:"), sizeString(k.Header.ImageSize))
				fmt.Fprintln(w, label("Flags:"), k.Header.Flags)
			}
			if k.BannerErr != nil {
				printErr(w, "Banner", k.BannerErr)
			} else {
				fmt.Fprintln(w, label("Banner:"), strings.TrimRight(string(k.Banner.Banner), "\r\n"))
			}
		}
		fmt.Fprintln(w)
	}

	for _, rd := range rep.Ramdisks {
		fmt.Fprintln(w, hashes("###"), heading("Ramdisk ["+rd.Section.Name+"] info:"))
		if rd.Format != UNKNOWN {
			fmt.Fprintln(w, label("Compression:"), Fmt2Name(rd.Format))
		}
		if rd.Err != nil {
			printErr(w, "Ramdisk", rd.Err)
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintln(w, label("Size:"), sizeString(uint64(rd.Size)))
		if rd.InfoErr != nil {
			printErr(w, "Scan", rd.InfoErr)
		} else {
			fmt.Fprintln(w, label("Entries:"), rd.Info.Entries)
			fmt.Fprintln(w, label("Status:"), rd.Info.Status)
			for _, f := range rd.Info.Fstabs {
				if f.Empty() {
					continue
				}
				fmt.Fprintf(w, "%s %s verity=[%s] encryption=[%s]\n", label("Fstab:"), f.Path,
					strings.Join(f.Verity, ","), strings.Join(f.Encryption, ","))
			}
		}

		switch {
		case rd.MagiskErr != nil:
			printErr(w, "Magisk", rd.MagiskErr)
		case rd.MagiskPath == "":
			fmt.Fprintln(w, warn("Magisk not found"))
		default:
			fmt.Fprintln(w, label("Magisk version:"), rd.MagiskVersion)
		}
		fmt.Fprintln(w)
	}
}
