package cpio_test

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"testing"

	"bootinfo/cpio"
	"bootinfo/cpio/cpiotest"
	"bootinfo/stub"

	"github.com/google/go-cmp/cmp"
)

func TestWalkSkipsUnwantedEntries(t *testing.T) {
	t.Log("Test target entry in the middle of the archive")

	want := bytes.Repeat([]byte("magisk"), 101) // odd length to exercise padding
	data := cpiotest.Archive(
		cpiotest.Regular("init", []byte("first entry body")),
		cpiotest.Regular("overlay.d/sbin/magisk.xz", want),
		cpiotest.Regular("system/bin/sh", []byte("third")),
	)

	r, err := cpio.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	var got []byte
	for {
		e, err := r.Next()
		if err != nil {
			t.Fatalf("Failed with %v", err)
		}
		if e.IsTrailer() {
			break
		}
		names = append(names, e.Name)
		if e.Name == "overlay.d/sbin/magisk.xz" {
			if got, err = e.ReadAll(); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := e.Skip(); err != nil {
			t.Fatal(err)
		}
	}

	if diff := cmp.Diff([]string{"init", "overlay.d/sbin/magisk.xz", "system/bin/sh"}, names); diff != "" {
		t.Fatalf("entry names mismatch (-want +got):\n%s", diff)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Except: %d bytes\nBut: %d bytes", len(want), len(got))
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("Except: io.EOF after trailer, But: %v", err)
	}
}

func TestEmptyArchive(t *testing.T) {
	r, err := cpio.NewReader(bytes.NewReader(cpiotest.Archive()))
	if err != nil {
		t.Fatal(err)
	}
	e, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !e.IsTrailer() {
		t.Fatalf("Except trailer, But: %q", e.Name)
	}
}

func TestNextWithPendingBody(t *testing.T) {
	data := cpiotest.Archive(
		cpiotest.Regular("a", []byte("0123456789")),
		cpiotest.Regular("b", []byte("xyz")),
	)
	r, _ := cpio.NewReader(bytes.NewReader(data))

	a, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); !errors.Is(err, cpio.ErrBodyPending) {
		t.Fatalf("Except: ErrBodyPending, But: %v", err)
	}

	// partially read, then skip the rest
	head := make([]byte, 4)
	if _, err := io.ReadFull(a, head); err != nil {
		t.Fatal(err)
	}
	if string(head) != "0123" {
		t.Fatalf("Except: 0123, But: %q", head)
	}
	if err := a.Skip(); err != nil {
		t.Fatal(err)
	}

	b, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "xyz" {
		t.Fatalf("Except: xyz, But: %q", body)
	}

	// a stale entry yields nothing
	if n, err := a.Read(head); n != 0 || err != io.EOF {
		t.Fatalf("stale entry read returned %d, %v", n, err)
	}
}

func TestCorruptArchive(t *testing.T) {
	valid := cpiotest.Archive(cpiotest.Regular("init", []byte("hello world")))

	badMagic := bytes.Clone(valid)
	copy(badMagic, "070707")

	// Filesize field lives at 6 + 6*8
	oversized := bytes.Clone(valid)
	copy(oversized[54:62], "7fffffff")

	badHex := bytes.Clone(valid)
	copy(badHex[6:14], "zzzzzzzz")

	zeroName := bytes.Clone(valid)
	copy(zeroName[94:102], "00000000")

	tests := map[string][]byte{
		"bad magic":       badMagic,
		"oversized body":  oversized,
		"bad hex":         badHex,
		"zero name size":  zeroName,
		"truncated":       valid[:60],
		"no trailer left": valid[:112+len("init")+12],
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			err := cpio.Walk(bytes.NewReader(data), func(e *cpio.Entry) error { return nil })
			if !errors.Is(err, cpio.ErrCorruptArchive) {
				t.Fatalf("Except: ErrCorruptArchive, But: %v", err)
			}
		})
	}
}

func TestWalkStop(t *testing.T) {
	data := cpiotest.Archive(
		cpiotest.Regular("a", []byte("1")),
		cpiotest.Regular("b", []byte("2")),
	)
	var seen []string
	err := cpio.Walk(bytes.NewReader(data), func(e *cpio.Entry) error {
		seen = append(seen, e.Name)
		return io.EOF
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, seen); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestEntryKinds(t *testing.T) {
	data := cpiotest.Archive(
		cpiotest.File{Name: "dev", Mode: cpio.S_IFDIR | 0o755},
		cpiotest.File{Name: "dev/null", Mode: cpio.S_IFCHR | 0o666, RDevMajor: 1, RDevMinor: 3},
		cpiotest.File{Name: "init", Mode: cpio.S_IFLNK | 0o777, Data: []byte("/system/bin/init")},
	)

	var entries []*cpio.Entry
	cpio.Walk(bytes.NewReader(data), func(e *cpio.Entry) error {
		entries = append(entries, e)
		return nil
	})
	if len(entries) != 3 {
		t.Fatalf("Except: 3 entries, But: %d", len(entries))
	}
	if !entries[0].IsDir() || !entries[1].IsDevice() || !entries[2].IsSymlink() {
		t.Fatalf("wrong entry types: %o %o %o", entries[0].Mode, entries[1].Mode, entries[2].Mode)
	}
	if entries[2].Size != int64(len("/system/bin/init")) {
		t.Fatalf("Except: symlink size %d, But: %d", len("/system/bin/init"), entries[2].Size)
	}

	if runtime.GOOS == "windows" {
		return
	}
	rdev := entries[1].Rdev()
	if stub.Major(rdev) != 1 || stub.Minor(rdev) != 3 {
		t.Fatalf("Except: 1:3, But: %d:%d", stub.Major(rdev), stub.Minor(rdev))
	}
}
