package bootinfo_test

import (
	"bootinfo"
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAlign(t *testing.T) {
	t.Log("Test structure align size")

	tests := map[interface{}]int{
		bootinfo.MtkHdr{}:                    512,
		bootinfo.BootImgHdrV0{}:              1632,
		bootinfo.BootImgHdrV1{}:              1648,
		bootinfo.BootImgHdrV2{}:              1660,
		bootinfo.BootImgHdrPxa{}:             1640,
		bootinfo.BootImgHdrV3{}:              1580,
		bootinfo.BootImgHdrV4{}:              1584,
		bootinfo.BootImgHdrVndV3{}:           2112,
		bootinfo.BootImgHdrVndV4{}:           2128,
		bootinfo.VendorRamdiskTableEntryV4{}: 108,
	}

	for v, s := range tests {
		rt := reflect.TypeOf(v)
		t.Logf("Check align of: %v", rt.Name())
		if ret := binary.Size(v); ret != s {
			t.Fatalf("Align mismatch at: %v, Except: %v, But: %v", rt.Name(), s, ret)
		}
	}
}

func pad(buf *bytes.Buffer, page int) {
	if r := buf.Len() % page; r != 0 {
		buf.Write(make([]byte, page-r))
	}
}

// osVersion packs 11.0.0 with a 2021-05 patch level.
const osVersion = (11<<14)<<11 | (21<<4 | 5)

func bootV3(t *testing.T, kernel, ramdisk []byte) []byte {
	t.Helper()
	hdr := bootinfo.BootImgHdrV3{
		KernelSize:    uint32(len(kernel)),
		RamdiskSize:   uint32(len(ramdisk)),
		OsVersion:     osVersion,
		HeaderSize:    uint32(binary.Size(bootinfo.BootImgHdrV3{})),
		HeaderVersion: 3,
	}
	copy(hdr.Magic[:], bootinfo.BOOT_MAGIC)
	copy(hdr.Cmdline[:], "console=ttyMSM0 androidboot.hardware=qcom")

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	pad(buf, 4096)
	buf.Write(kernel)
	pad(buf, 4096)
	buf.Write(ramdisk)
	pad(buf, 4096)
	return buf.Bytes()
}

func bootV0(t *testing.T, pageSize uint32, kernel, ramdisk []byte) []byte {
	t.Helper()
	hdr := bootinfo.BootImgHdrV0{}
	copy(hdr.Magic[:], bootinfo.BOOT_MAGIC)
	hdr.KernelSize = uint32(len(kernel))
	hdr.RamdiskSize = uint32(len(ramdisk))
	hdr.PageSize = pageSize
	hdr.OsVersion = osVersion
	copy(hdr.Name[:], "legacy")
	copy(hdr.Cmdline[:], "console=ttyHSL0")
	copy(hdr.ExtraCmdline[:], " buildvariant=user")

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	p := int(pageSize)
	pad(buf, p)
	buf.Write(kernel)
	pad(buf, p)
	buf.Write(ramdisk)
	pad(buf, p)
	return buf.Bytes()
}

func vendorV4(t *testing.T, ramdisks map[string][]byte, order []string) []byte {
	t.Helper()
	const page = 4096

	section := new(bytes.Buffer)
	var entries []bootinfo.VendorRamdiskTableEntryV4
	for i, name := range order {
		e := bootinfo.VendorRamdiskTableEntryV4{
			RamdiskSize:   uint32(len(ramdisks[name])),
			RamdiskOffset: uint32(section.Len()),
			RamdiskType:   bootinfo.VENDOR_RAMDISK_TYPE_PLATFORM,
		}
		if i > 0 {
			e.RamdiskType = bootinfo.VENDOR_RAMDISK_TYPE_DLKM
		}
		copy(e.RamdiskName[:], name)
		entries = append(entries, e)
		section.Write(ramdisks[name])
	}
	entrySize := binary.Size(bootinfo.VendorRamdiskTableEntryV4{})

	hdr := bootinfo.BootImgHdrVndV4{}
	copy(hdr.Magic[:], bootinfo.VENDOR_BOOT_MAGIC)
	hdr.HeaderVersion = 4
	hdr.PageSize = page
	hdr.RamdiskSize = uint32(section.Len())
	hdr.HeaderSize = uint32(binary.Size(hdr))
	copy(hdr.Cmdline[:], "androidboot.console=ttyMSM0")
	copy(hdr.Name[:], "vendor")
	hdr.VendorRamdiskTableSize = uint32(entrySize * len(entries))
	hdr.VendorRamdiskTableEntryNum = uint32(len(entries))
	hdr.VendorRamdiskTableEntrySize = uint32(entrySize)

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	pad(buf, page)
	buf.Write(section.Bytes())
	pad(buf, page)
	for i := range entries {
		if err := binary.Write(buf, binary.LittleEndian, &entries[i]); err != nil {
			t.Fatal(err)
		}
	}
	pad(buf, page)
	return buf.Bytes()
}

func TestParseBootImgV3(t *testing.T) {
	kernel := bytes.Repeat([]byte{0xaa}, 5000)
	ramdisk := bytes.Repeat([]byte{0xbb}, 300)
	data := bootV3(t, kernel, ramdisk)

	img, err := bootinfo.ParseBootImg(data)
	if err != nil {
		t.Fatal(err)
	}
	if img.HeaderVersion() != 3 || img.IsVendor() {
		t.Fatalf("Except: boot v3, But: version %d vendor %v", img.HeaderVersion(), img.IsVendor())
	}
	if img.Cmdline() != "console=ttyMSM0 androidboot.hardware=qcom" {
		t.Fatalf("Cmdline mismatch: %q", img.Cmdline())
	}

	if diff := cmp.Diff(bootinfo.Section{Name: "kernel", Offset: 4096, Size: 5000}, img.Kernel()); diff != "" {
		t.Fatalf("kernel section mismatch (-want +got):\n%s", diff)
	}
	want := []bootinfo.Section{{Name: "ramdisk", Offset: 4096 + 8192, Size: 300}}
	if diff := cmp.Diff(want, img.Ramdisks()); diff != "" {
		t.Fatalf("ramdisk sections mismatch (-want +got):\n%s", diff)
	}

	k := img.Kernel()
	if !bytes.Equal(data[k.Offset:k.End()], kernel) {
		t.Fatal("kernel section does not cover the kernel")
	}

	version, patch := img.OsVersion()
	if version != "11.0.0" || patch != "2021-05" {
		t.Fatalf("OsVersion Except: 11.0.0 2021-05, But: %s %s", version, patch)
	}
}

func TestParseBootImgV0(t *testing.T) {
	kernel := []byte("kernel")
	ramdisk := []byte("ramdisk")
	data := bootV0(t, 2048, kernel, ramdisk)

	// pre-header before the real one
	data = append(make([]byte, 512), data...)

	img, err := bootinfo.ParseBootImg(data)
	if err != nil {
		t.Fatal(err)
	}
	if img.HdrOffset != 512 || img.PageSize != 2048 || img.Name != "legacy" {
		t.Fatalf("unexpected header: offset %d page %d name %q", img.HdrOffset, img.PageSize, img.Name)
	}
	if img.Cmdline() != "console=ttyHSL0 buildvariant=user" {
		t.Fatalf("Cmdline mismatch: %q", img.Cmdline())
	}

	k := img.Kernel()
	if got := data[k.Offset:k.End()]; !bytes.Equal(got, kernel) {
		t.Fatalf("kernel Except: %q, But: %q", kernel, got)
	}
	r := img.Ramdisks()[0]
	if got := data[r.Offset:r.End()]; !bytes.Equal(got, ramdisk) {
		t.Fatalf("ramdisk Except: %q, But: %q", ramdisk, got)
	}
}

func TestParseBootImgSkipsMtk(t *testing.T) {
	mtk := bootinfo.MtkHdr{Size: 6}
	copy(mtk.Name[:], "KERNEL")
	mtk.Magic = binary.LittleEndian.Uint32([]byte(bootinfo.MTK_MAGIC))
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &mtk)
	buf.WriteString("kernel")

	data := bootV0(t, 2048, buf.Bytes(), []byte("ramdisk"))
	img, err := bootinfo.ParseBootImg(data)
	if err != nil {
		t.Fatal(err)
	}
	if img.KernelMtk == nil || img.RamdiskMtk != nil {
		t.Fatalf("Except MTK header on kernel only, But: kernel %v ramdisk %v", img.KernelMtk, img.RamdiskMtk)
	}
	k := img.Kernel()
	if got := string(data[k.Offset:k.End()]); got != "kernel" {
		t.Fatalf("kernel Except: %q, But: %q", "kernel", got)
	}
}

func TestParseVendorBootV4(t *testing.T) {
	ramdisks := map[string][]byte{
		"platform": bytes.Repeat([]byte{1}, 1000),
		"dlkm":     bytes.Repeat([]byte{2}, 77),
	}
	data := vendorV4(t, ramdisks, []string{"platform", "dlkm"})

	img, err := bootinfo.ParseBootImg(data)
	if err != nil {
		t.Fatal(err)
	}
	if !img.IsVendor() || img.HeaderVersion() != 4 {
		t.Fatalf("Except: vendor v4, But: version %d vendor %v", img.HeaderVersion(), img.IsVendor())
	}
	if img.Kernel().Size != 0 {
		t.Fatalf("vendor boot has no kernel, But: %+v", img.Kernel())
	}

	want := []bootinfo.Section{
		{Name: "platform", Offset: 4096, Size: 1000},
		{Name: "dlkm", Offset: 4096 + 1000, Size: 77},
	}
	if diff := cmp.Diff(want, img.Ramdisks()); diff != "" {
		t.Fatalf("ramdisk sections mismatch (-want +got):\n%s", diff)
	}
	for _, s := range img.Ramdisks() {
		if !bytes.Equal(data[s.Offset:s.End()], ramdisks[s.Name]) {
			t.Fatalf("%s section does not cover its ramdisk", s.Name)
		}
	}
}

func TestParseBootImgErrors(t *testing.T) {
	if _, err := bootinfo.ParseBootImg(make([]byte, 8192)); !errors.Is(err, bootinfo.ErrBadMagic) {
		t.Fatalf("no magic Except: ErrBadMagic, But: %v", err)
	}

	data := bootV3(t, make([]byte, 100), make([]byte, 100))
	if _, err := bootinfo.ParseBootImg(data[:4096+50]); !errors.Is(err, bootinfo.ErrMalformedHeader) {
		t.Fatalf("truncated Except: ErrMalformedHeader, But: %v", err)
	}
	if _, err := bootinfo.ParseBootImg(data[:100]); !errors.Is(err, bootinfo.ErrMalformedHeader) {
		t.Fatalf("short header Except: ErrMalformedHeader, But: %v", err)
	}

	bad := bootV0(t, 2048, []byte("k"), []byte("r"))
	binary.LittleEndian.PutUint32(bad[36:], 3000)
	if _, err := bootinfo.ParseBootImg(bad); !errors.Is(err, bootinfo.ErrMalformedHeader) {
		t.Fatalf("page size Except: ErrMalformedHeader, But: %v", err)
	}
}

func TestDecodeOsVersion(t *testing.T) {
	tests := []struct {
		raw            uint32
		version, patch string
	}{
		{0, "", ""},
		{osVersion, "11.0.0", "2021-05"},
		{(14<<14|1<<7|2)<<11 | (24<<4 | 12), "14.1.2", "2024-12"},
		{(9 << 14) << 11, "9.0.0", ""},
	}
	for _, tt := range tests {
		version, patch := bootinfo.DecodeOsVersion(tt.raw)
		if version != tt.version || patch != tt.patch {
			t.Errorf("DecodeOsVersion(%#x) = %q, %q, Except: %q, %q", tt.raw, version, patch, tt.version, tt.patch)
		}
	}
}
