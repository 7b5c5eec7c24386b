//go:build windows

package stub

// Stub functions, always return 0

func Major(dev uint64) uint32 {
	return 0
}

func Minor(dev uint64) uint32 {
	return 0
}

func Mkdev(major, minor uint32) uint64 {
	return 0
}
