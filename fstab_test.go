package bootinfo_test

import (
	"bootinfo"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScanFstab(t *testing.T) {
	t.Log("Test fstab flag scan")

	tdata := []byte(`
# 123456
aa      aaaa          aaaaa
bb      bbbb          bbbbb  defaults  misc,forceencrypt=footer,whatever,blabla
/dev/block/by-name/system /system ext4 ro,barrier=1 wait,slotselect,avb=vbmeta_system,logical,first_stage_mount
/dev/block/by-name/userdata /data f2fs noatime latemount,wait,check,fileencryption=aes-256-xts:aes-256-cts,quota
#/dev/block/by-name/vendor /vendor ext4 ro wait,verify
`)

	want := bootinfo.FstabInfo{
		Verity:     []string{"avb=vbmeta_system"},
		Encryption: []string{"forceencrypt=footer", "fileencryption=aes-256-xts:aes-256-cts"},
	}
	got := bootinfo.ScanFstab(tdata)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if got.Empty() {
		t.Fatal("Except non-empty result")
	}
}
