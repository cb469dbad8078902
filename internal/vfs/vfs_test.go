package vfs_test

import (
	"bytes"
	"testing"

	"github.com/cottonos/kernel/internal/cottonfs"
	"github.com/cottonos/kernel/internal/devfs"
	"github.com/cottonos/kernel/internal/errno"
	"github.com/cottonos/kernel/internal/vfs"
)

// memDevice is the same minimal block-device stand-in cottonfs's own
// tests use (spec §3's block-device contract).
type memDevice struct{ sectors []byte }

func newMemDevice(totalBlocks uint64) *memDevice {
	return &memDevice{sectors: make([]byte, totalBlocks*cottonfs.BlockSize)}
}

func (m *memDevice) Name() string        { return "memdisk" }
func (m *memDevice) BlockSize() uint32   { return 512 }
func (m *memDevice) TotalBlocks() uint64 { return uint64(len(m.sectors)) / 512 }
func (m *memDevice) Read(startBlock uint64, count uint16, buf []byte) errno.Errno {
	off := startBlock * 512
	copy(buf, m.sectors[off:off+uint64(count)*512])
	return errno.OK
}
func (m *memDevice) Write(startBlock uint64, count uint16, buf []byte) errno.Errno {
	off := startBlock * 512
	copy(m.sectors[off:off+uint64(count)*512], buf)
	return errno.OK
}
func (m *memDevice) Flush() errno.Errno { return errno.OK }

func mustMountTable(t *testing.T) *vfs.Table {
	t.Helper()
	fs, e := cottonfs.Mount(newMemDevice(256))
	if e != errno.OK {
		t.Fatalf("cottonfs.Mount: %v", e)
	}
	mounts := vfs.NewTable()
	if e := mounts.Mount("/", cottonfs.AsVFS(fs)); e != errno.OK {
		t.Fatalf("mount /: %v", e)
	}
	if e := mounts.Mount("/dev", devfs.New(nil)); e != errno.OK {
		t.Fatalf("mount /dev: %v", e)
	}
	return mounts
}

func TestLongestPrefixWins(t *testing.T) {
	mounts := mustMountTable(t)

	root, e := mounts.Resolve("/")
	if e != errno.OK {
		t.Fatalf("resolve /: %v", e)
	}
	if root.FileType() != vfs.FileTypeDir {
		t.Fatalf("root should be a directory, got %d", root.FileType())
	}

	dev, e := mounts.Resolve("/dev")
	if e != errno.OK {
		t.Fatalf("resolve /dev: %v", e)
	}
	if dev.FileType() != vfs.FileTypeDir {
		t.Fatalf("/dev should be a directory, got %d", dev.FileType())
	}

	null, e := mounts.Resolve("/dev/null")
	if e != errno.OK {
		t.Fatalf("resolve /dev/null: %v", e)
	}
	if null.FileType() == vfs.FileTypeDir {
		t.Fatal("/dev/null should resolve through the devfs mount, not the root mount")
	}
}

func TestWriteFileThenReadFileRoundTrips(t *testing.T) {
	mounts := mustMountTable(t)
	want := []byte("Hello, Cotton!")

	if e := mounts.WriteFile("/hello.txt", want); e != errno.OK {
		t.Fatalf("WriteFile: %v", e)
	}
	got, e := mounts.ReadFile("/hello.txt")
	if e != errno.OK {
		t.Fatalf("ReadFile: %v", e)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch: got %q want %q", got, want)
	}

	// WriteFile on an existing path truncates before rewriting.
	if e := mounts.WriteFile("/hello.txt", []byte("hi")); e != errno.OK {
		t.Fatalf("WriteFile overwrite: %v", e)
	}
	got, e = mounts.ReadFile("/hello.txt")
	if e != errno.OK || string(got) != "hi" {
		t.Fatalf("overwrite round trip: got %q e=%v", got, e)
	}
}

func TestResolveParentSplitsDirAndName(t *testing.T) {
	mounts := mustMountTable(t)

	root, e := mounts.Resolve("/")
	if e != errno.OK {
		t.Fatalf("resolve /: %v", e)
	}
	if _, e := root.Mkdir("home", 0755); e != errno.OK {
		t.Fatalf("mkdir /home: %v", e)
	}

	dir, name, e := mounts.ResolveParent("/home/user.txt")
	if e != errno.OK {
		t.Fatalf("ResolveParent: %v", e)
	}
	if name != "user.txt" {
		t.Fatalf("name = %q, want user.txt", name)
	}
	if dir.FileType() != vfs.FileTypeDir {
		t.Fatal("parent should be the /home directory inode")
	}
}

func TestResolveMissingPathReturnsENOENT(t *testing.T) {
	mounts := mustMountTable(t)
	if _, e := mounts.Resolve("/does/not/exist"); e != errno.ENOENT {
		t.Fatalf("expected ENOENT, got %v", e)
	}
}

func TestUnmountRemovesMostRecentMatch(t *testing.T) {
	mounts := mustMountTable(t)
	if e := mounts.Unmount("/dev"); e != errno.OK {
		t.Fatalf("Unmount: %v", e)
	}
	if _, e := mounts.Resolve("/dev/null"); e == errno.OK {
		t.Fatal("expected /dev/null to be unresolvable once /dev is unmounted")
	}
}
