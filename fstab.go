package bootinfo

import (
	"bytes"
)

var (
	verityPatterns = [][]byte{
		[]byte("verifyatboot"),
		[]byte("verify"),
		[]byte("avb_keys"),
		[]byte("avb"),
		[]byte("support_scfs"),
		[]byte("fsverity"),
	}

	encryptionPatterns = [][]byte{
		[]byte("forceencrypt"),
		[]byte("forcefdeorfbe"),
		[]byte("fileencryption"),
	}
)

// FstabInfo lists the fs_mgr flags of one fstab that KEEPVERITY and
// KEEPFORCEENCRYPT patching would act on.
type FstabInfo struct {
	Path       string
	Verity     []string
	Encryption []string
}

func (f *FstabInfo) Empty() bool {
	return len(f.Verity) == 0 && len(f.Encryption) == 0
}

func ScanFstab(fstabContent []byte) FstabInfo {
	info := FstabInfo{}
	for _, line := range bytes.Split(fstabContent, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		// <src> <mnt_point> <type> <mnt_flags> <fs_mgr_flags>
		fields := bytes.Fields(line)
		if len(fields) < 5 {
			continue
		}

		for _, flag := range bytes.Split(fields[4], []byte{','}) {
			if matchAny(flag, verityPatterns) {
				info.Verity = append(info.Verity, string(flag))
			} else if matchAny(flag, encryptionPatterns) {
				info.Encryption = append(info.Encryption, string(flag))
			}
		}
	}
	return info
}

func matchAny(flag []byte, patterns [][]byte) bool {
	for _, pattern := range patterns {
		if bytes.HasPrefix(flag, pattern) {
			return true
		}
	}
	return false
}
