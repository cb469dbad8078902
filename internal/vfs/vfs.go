// Package vfs provides the virtual filesystem layer: a filesystem-agnostic
// Inode capability set, a mount table keyed by path prefix, and path
// resolution across mounts (spec §4.H). CottonFS, devfs, or any other
// backing filesystem satisfies Inode/FileSystem without adapters.
package vfs

import (
	"strings"
	"sync"

	"github.com/cottonos/kernel/internal/errno"
)

// DirEntry is a name/inode-number/type tuple, the shape every backing
// filesystem's Readdir returns.
type DirEntry struct {
	Name     string
	Ino      uint32
	FileType uint8
}

// Stat is the subset of inode metadata every backing filesystem exposes
// uniformly, regardless of its own on-disk inode layout.
type Stat struct {
	Ino        uint32
	Mode       uint32
	FileType   uint8
	Size       uint64
	Uid, Gid   uint32
	LinkCount  uint16
	Atime, Mtime, Ctime int64
}

// File types, shared across backing filesystems.
const (
	FileTypeRegular = 1
	FileTypeDir     = 2
	FileTypeSymlink = 3
	FileTypeDevice  = 4
)

// Inode is the capability set every node in the tree implements (spec
// §4.H). Operations that don't apply to the node's kind return ENOTDIR or
// an analogous error rather than panicking.
type Inode interface {
	Ino() uint32
	FileType() uint8
	Stat() Stat
	Read(offset uint64, buf []byte) (int, errno.Errno)
	Write(offset uint64, buf []byte) (int, errno.Errno)
	Readdir() ([]DirEntry, errno.Errno)
	Lookup(name string) (Inode, errno.Errno)
	Create(name string, mode uint32) (Inode, errno.Errno)
	Mkdir(name string, mode uint32) (Inode, errno.Errno)
	Unlink(name string) errno.Errno
	Rmdir(name string) errno.Errno
	Rename(oldName string, newDir Inode, newName string) errno.Errno
	Truncate(size uint64) errno.Errno
	Chmod(mode uint32) errno.Errno
	Chown(uid, gid uint32) errno.Errno
	Sync() errno.Errno
	Ioctl(cmd uint32, arg uint64) (uint64, errno.Errno)
}

// FileSystem is the capability set a mountable backing store implements.
type FileSystem interface {
	Name() string
	Root() (Inode, errno.Errno)
	Sync() errno.Errno
	Statfs() (totalBlocks, freeBlocks uint64, totalInodes, freeInodes uint32)
}

type mountEntry struct {
	prefix string
	fs     FileSystem
	root   Inode
}

// Table is the kernel's mount table: an ordered list of (prefix,
// filesystem, root inode) searched in reverse insertion order so the most
// recently mounted filesystem wins a prefix match (spec §4.H).
type Table struct {
	mu      sync.RWMutex
	mounts  []mountEntry
}

// NewTable returns an empty mount table.
func NewTable() *Table { return &Table{} }

// Mount adds fs at prefix, which must start with "/". Mounting the same
// prefix twice shadows the earlier mount: resolution walks entries newest
// first.
func (t *Table) Mount(prefix string, fs FileSystem) errno.Errno {
	root, e := fs.Root()
	if e != errno.OK {
		return e
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mounts = append(t.mounts, mountEntry{prefix: prefix, fs: fs, root: root})
	return errno.OK
}

// Unmount removes the most recently mounted filesystem at prefix, if any.
func (t *Table) Unmount(prefix string) errno.Errno {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.mounts) - 1; i >= 0; i-- {
		if t.mounts[i].prefix == prefix {
			t.mounts = append(t.mounts[:i], t.mounts[i+1:]...)
			return errno.OK
		}
	}
	return errno.ENOENT
}

// findMount returns the longest-prefix-matching mount for path, searching
// newest-mounted first (spec §4.H).
func (t *Table) findMount(path string) (mountEntry, string, errno.Errno) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := -1
	bestLen := -1
	for i := len(t.mounts) - 1; i >= 0; i-- {
		p := t.mounts[i].prefix
		if strings.HasPrefix(path, p) && len(p) > bestLen {
			best = i
			bestLen = len(p)
		}
	}
	if best < 0 {
		return mountEntry{}, "", errno.ENOENT
	}
	rest := strings.TrimPrefix(path, t.mounts[best].prefix)
	return t.mounts[best], rest, errno.OK
}

// Resolve walks an absolute path to its inode, descending from the
// owning mount's root. Empty components and "." are skipped; ".." defers
// to the current inode's own Lookup(".."), which filesystems that keep no
// parent pointer (CottonFS) resolve to themselves (spec §4.H, §9).
func (t *Table) Resolve(path string) (Inode, errno.Errno) {
	mount, rest, e := t.findMount(path)
	if e != errno.OK {
		return nil, e
	}
	cur := mount.root
	for _, part := range strings.Split(rest, "/") {
		if part == "" || part == "." {
			continue
		}
		next, e := cur.Lookup(part)
		if e != errno.OK {
			return nil, e
		}
		cur = next
	}
	return cur, errno.OK
}

// ResolveParent splits path into (parent directory inode, final
// component), used by operations that create or remove an entry.
func (t *Table) ResolveParent(path string) (Inode, string, errno.Errno) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return nil, "", errno.EINVAL
	}
	parent := path[:idx]
	if parent == "" {
		parent = "/"
	}
	name := path[idx+1:]
	if name == "" {
		return nil, "", errno.EINVAL
	}
	dir, e := t.Resolve(parent)
	if e != errno.OK {
		return nil, "", e
	}
	return dir, name, errno.OK
}

// ReadFile reads an entire file's contents in one call.
func (t *Table) ReadFile(path string) ([]byte, errno.Errno) {
	in, e := t.Resolve(path)
	if e != errno.OK {
		return nil, e
	}
	if in.FileType() != FileTypeRegular {
		return nil, errno.EISDIR
	}
	size := in.Stat().Size
	buf := make([]byte, size)
	n, e := in.Read(0, buf)
	if e != errno.OK {
		return nil, e
	}
	return buf[:n], errno.OK
}

// WriteFile truncates-or-creates path and writes data from offset 0, then
// syncs the inode (spec §4.H).
func (t *Table) WriteFile(path string, data []byte) errno.Errno {
	in, e := t.Resolve(path)
	if e == errno.ENOENT {
		dir, name, e := t.ResolveParent(path)
		if e != errno.OK {
			return e
		}
		created, e := dir.Create(name, 0644)
		if e != errno.OK {
			return e
		}
		in = created
	} else if e != errno.OK {
		return e
	}
	if in.FileType() != FileTypeRegular {
		return errno.EISDIR
	}
	if e := in.Truncate(0); e != errno.OK {
		return e
	}
	if _, e := in.Write(0, data); e != errno.OK {
		return e
	}
	return in.Sync()
}
