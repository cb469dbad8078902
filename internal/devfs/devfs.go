// Package devfs implements the spec §4.J in-memory device filesystem: a
// flat root directory of fixed device inodes (null, zero, random,
// console, tty), mounted at /dev after CottonFS mounts at /.
package devfs

import (
	"sync"

	"github.com/cottonos/kernel/internal/errno"
	"github.com/cottonos/kernel/internal/vfs"
)

// Printer is the kernel's console print routine; console and tty writes
// forward to it (spec §4.J).
type Printer interface {
	Print(s string)
}

const (
	rootIno = 1
	firstDeviceIno = 2
)

// FileSystem is the /dev tree: one directory inode holding a fixed set of
// device inodes, none of which ever change after mount.
type FileSystem struct {
	root *dirInode
}

// New constructs DevFS with null, zero, random, console and tty
// preinstalled, the console/tty devices forwarding writes to printer.
func New(printer Printer) *FileSystem {
	root := &dirInode{ino: rootIno, entries: make(map[string]vfs.Inode)}
	next := uint32(firstDeviceIno)
	add := func(name string, in vfs.Inode) {
		root.entries[name] = in
	}
	add("null", &nullDevice{ino: next})
	next++
	add("zero", &zeroDevice{ino: next})
	next++
	add("random", newRandomDevice(next))
	next++
	add("console", &consoleDevice{ino: next, printer: printer})
	next++
	add("tty", &consoleDevice{ino: next, printer: printer})
	return &FileSystem{root: root}
}

func (fs *FileSystem) Name() string { return "devfs" }

func (fs *FileSystem) Root() (vfs.Inode, errno.Errno) { return fs.root, errno.OK }

func (fs *FileSystem) Sync() errno.Errno { return errno.OK }

func (fs *FileSystem) Statfs() (totalBlocks, freeBlocks uint64, totalInodes, freeInodes uint32) {
	return 0, 0, uint32(len(fs.root.entries) + 1), 0
}

// dirInode is DevFS's single directory: a fixed, never-mutated name→inode
// map (spec §4.J: "a mutable name→inode map", but nothing in the spec
// mounts new devices after boot, so mutation support is unexercised and
// left out).
type dirInode struct {
	ino     uint32
	mu      sync.RWMutex
	entries map[string]vfs.Inode
}

func (d *dirInode) Ino() uint32     { return d.ino }
func (d *dirInode) FileType() uint8 { return vfs.FileTypeDir }

func (d *dirInode) Stat() vfs.Stat {
	return vfs.Stat{Ino: d.ino, Mode: 0755, FileType: vfs.FileTypeDir, LinkCount: 2}
}

func (d *dirInode) Read(offset uint64, buf []byte) (int, errno.Errno)  { return 0, errno.EISDIR }
func (d *dirInode) Write(offset uint64, buf []byte) (int, errno.Errno) { return 0, errno.EISDIR }

func (d *dirInode) Readdir() ([]vfs.DirEntry, errno.Errno) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := []vfs.DirEntry{
		{Name: ".", Ino: d.ino, FileType: vfs.FileTypeDir},
		{Name: "..", Ino: d.ino, FileType: vfs.FileTypeDir},
	}
	for name, in := range d.entries {
		out = append(out, vfs.DirEntry{Name: name, Ino: in.Ino(), FileType: in.FileType()})
	}
	return out, errno.OK
}

func (d *dirInode) Lookup(name string) (vfs.Inode, errno.Errno) {
	if name == "." || name == ".." {
		return d, errno.OK
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if in, ok := d.entries[name]; ok {
		return in, errno.OK
	}
	return nil, errno.ENOENT
}

func (d *dirInode) Create(name string, mode uint32) (vfs.Inode, errno.Errno) { return nil, errno.EROFS }
func (d *dirInode) Mkdir(name string, mode uint32) (vfs.Inode, errno.Errno)  { return nil, errno.EROFS }
func (d *dirInode) Unlink(name string) errno.Errno                          { return errno.EROFS }
func (d *dirInode) Rmdir(name string) errno.Errno                           { return errno.EROFS }
func (d *dirInode) Rename(oldName string, newDir vfs.Inode, newName string) errno.Errno {
	return errno.EROFS
}
func (d *dirInode) Truncate(size uint64) errno.Errno     { return errno.EISDIR }
func (d *dirInode) Chmod(mode uint32) errno.Errno        { return errno.OK }
func (d *dirInode) Chown(uid, gid uint32) errno.Errno    { return errno.OK }
func (d *dirInode) Sync() errno.Errno                    { return errno.OK }
func (d *dirInode) Ioctl(cmd uint32, arg uint64) (uint64, errno.Errno) { return 0, errno.ENOSYS }

// deviceStat is shared by every device inode below: character-device mode
// bits, no size, a single link.
func deviceStat(ino uint32) vfs.Stat {
	return vfs.Stat{Ino: ino, Mode: 0666, FileType: vfs.FileTypeDevice, LinkCount: 1}
}

// nullDevice discards writes and reads as EOF.
type nullDevice struct{ ino uint32 }

func (n *nullDevice) Ino() uint32     { return n.ino }
func (n *nullDevice) FileType() uint8 { return vfs.FileTypeDevice }
func (n *nullDevice) Stat() vfs.Stat  { return deviceStat(n.ino) }
func (n *nullDevice) Read(offset uint64, buf []byte) (int, errno.Errno)  { return 0, errno.OK }
func (n *nullDevice) Write(offset uint64, buf []byte) (int, errno.Errno) { return len(buf), errno.OK }
func (n *nullDevice) Readdir() ([]vfs.DirEntry, errno.Errno)             { return nil, errno.ENOTDIR }
func (n *nullDevice) Lookup(name string) (vfs.Inode, errno.Errno)        { return nil, errno.ENOTDIR }
func (n *nullDevice) Create(name string, mode uint32) (vfs.Inode, errno.Errno) {
	return nil, errno.ENOTDIR
}
func (n *nullDevice) Mkdir(name string, mode uint32) (vfs.Inode, errno.Errno) { return nil, errno.ENOTDIR }
func (n *nullDevice) Unlink(name string) errno.Errno                         { return errno.ENOTDIR }
func (n *nullDevice) Rmdir(name string) errno.Errno                          { return errno.ENOTDIR }
func (n *nullDevice) Rename(oldName string, newDir vfs.Inode, newName string) errno.Errno {
	return errno.ENOTDIR
}
func (n *nullDevice) Truncate(size uint64) errno.Errno     { return errno.OK }
func (n *nullDevice) Chmod(mode uint32) errno.Errno        { return errno.OK }
func (n *nullDevice) Chown(uid, gid uint32) errno.Errno    { return errno.OK }
func (n *nullDevice) Sync() errno.Errno                    { return errno.OK }
func (n *nullDevice) Ioctl(cmd uint32, arg uint64) (uint64, errno.Errno) { return 0, errno.ENOSYS }

// zeroDevice reads as an infinite stream of zero bytes and discards
// writes.
type zeroDevice struct{ ino uint32 }

func (z *zeroDevice) Ino() uint32     { return z.ino }
func (z *zeroDevice) FileType() uint8 { return vfs.FileTypeDevice }
func (z *zeroDevice) Stat() vfs.Stat  { return deviceStat(z.ino) }
func (z *zeroDevice) Read(offset uint64, buf []byte) (int, errno.Errno) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), errno.OK
}
func (z *zeroDevice) Write(offset uint64, buf []byte) (int, errno.Errno) { return len(buf), errno.OK }
func (z *zeroDevice) Readdir() ([]vfs.DirEntry, errno.Errno)             { return nil, errno.ENOTDIR }
func (z *zeroDevice) Lookup(name string) (vfs.Inode, errno.Errno)        { return nil, errno.ENOTDIR }
func (z *zeroDevice) Create(name string, mode uint32) (vfs.Inode, errno.Errno) {
	return nil, errno.ENOTDIR
}
func (z *zeroDevice) Mkdir(name string, mode uint32) (vfs.Inode, errno.Errno) { return nil, errno.ENOTDIR }
func (z *zeroDevice) Unlink(name string) errno.Errno                         { return errno.ENOTDIR }
func (z *zeroDevice) Rmdir(name string) errno.Errno                          { return errno.ENOTDIR }
func (z *zeroDevice) Rename(oldName string, newDir vfs.Inode, newName string) errno.Errno {
	return errno.ENOTDIR
}
func (z *zeroDevice) Truncate(size uint64) errno.Errno     { return errno.OK }
func (z *zeroDevice) Chmod(mode uint32) errno.Errno        { return errno.OK }
func (z *zeroDevice) Chown(uid, gid uint32) errno.Errno    { return errno.OK }
func (z *zeroDevice) Sync() errno.Errno                    { return errno.OK }
func (z *zeroDevice) Ioctl(cmd uint32, arg uint64) (uint64, errno.Errno) { return 0, errno.ENOSYS }

// randomSeed is the constant seed for the process-wide xor-shift
// generator (spec §4.J: "seeded from a constant").
const randomSeed = 0x2545F4914F6CDD1D

// randomDevice produces deterministic pseudo-random bytes via a 64-bit
// xorshift generator, matching the spec's emphasis on determinism over
// cryptographic quality.
type randomDevice struct {
	ino   uint32
	mu    sync.Mutex
	state uint64
}

func newRandomDevice(ino uint32) *randomDevice {
	return &randomDevice{ino: ino, state: randomSeed}
}

func (r *randomDevice) next() uint64 {
	r.state ^= r.state << 13
	r.state ^= r.state >> 7
	r.state ^= r.state << 17
	return r.state
}

func (r *randomDevice) Ino() uint32     { return r.ino }
func (r *randomDevice) FileType() uint8 { return vfs.FileTypeDevice }
func (r *randomDevice) Stat() vfs.Stat  { return deviceStat(r.ino) }

func (r *randomDevice) Read(offset uint64, buf []byte) (int, errno.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := 0
	for i < len(buf) {
		v := r.next()
		for b := 0; b < 8 && i < len(buf); b++ {
			buf[i] = byte(v >> (8 * b))
			i++
		}
	}
	return len(buf), errno.OK
}
func (r *randomDevice) Write(offset uint64, buf []byte) (int, errno.Errno) { return len(buf), errno.OK }
func (r *randomDevice) Readdir() ([]vfs.DirEntry, errno.Errno)             { return nil, errno.ENOTDIR }
func (r *randomDevice) Lookup(name string) (vfs.Inode, errno.Errno)        { return nil, errno.ENOTDIR }
func (r *randomDevice) Create(name string, mode uint32) (vfs.Inode, errno.Errno) {
	return nil, errno.ENOTDIR
}
func (r *randomDevice) Mkdir(name string, mode uint32) (vfs.Inode, errno.Errno) {
	return nil, errno.ENOTDIR
}
func (r *randomDevice) Unlink(name string) errno.Errno { return errno.ENOTDIR }
func (r *randomDevice) Rmdir(name string) errno.Errno  { return errno.ENOTDIR }
func (r *randomDevice) Rename(oldName string, newDir vfs.Inode, newName string) errno.Errno {
	return errno.ENOTDIR
}
func (r *randomDevice) Truncate(size uint64) errno.Errno     { return errno.OK }
func (r *randomDevice) Chmod(mode uint32) errno.Errno        { return errno.OK }
func (r *randomDevice) Chown(uid, gid uint32) errno.Errno    { return errno.OK }
func (r *randomDevice) Sync() errno.Errno                    { return errno.OK }
func (r *randomDevice) Ioctl(cmd uint32, arg uint64) (uint64, errno.Errno) { return 0, errno.ENOSYS }

// consoleDevice backs both /dev/console and /dev/tty: writes forward to
// the kernel's console print routine, reads return 0 (spec §4.J: "not yet
// wired to the keyboard buffer").
type consoleDevice struct {
	ino     uint32
	printer Printer
}

func (c *consoleDevice) Ino() uint32     { return c.ino }
func (c *consoleDevice) FileType() uint8 { return vfs.FileTypeDevice }
func (c *consoleDevice) Stat() vfs.Stat  { return deviceStat(c.ino) }
func (c *consoleDevice) Read(offset uint64, buf []byte) (int, errno.Errno) { return 0, errno.OK }
func (c *consoleDevice) Write(offset uint64, buf []byte) (int, errno.Errno) {
	if c.printer != nil {
		c.printer.Print(string(buf))
	}
	return len(buf), errno.OK
}
func (c *consoleDevice) Readdir() ([]vfs.DirEntry, errno.Errno)      { return nil, errno.ENOTDIR }
func (c *consoleDevice) Lookup(name string) (vfs.Inode, errno.Errno) { return nil, errno.ENOTDIR }
func (c *consoleDevice) Create(name string, mode uint32) (vfs.Inode, errno.Errno) {
	return nil, errno.ENOTDIR
}
func (c *consoleDevice) Mkdir(name string, mode uint32) (vfs.Inode, errno.Errno) {
	return nil, errno.ENOTDIR
}
func (c *consoleDevice) Unlink(name string) errno.Errno { return errno.ENOTDIR }
func (c *consoleDevice) Rmdir(name string) errno.Errno  { return errno.ENOTDIR }
func (c *consoleDevice) Rename(oldName string, newDir vfs.Inode, newName string) errno.Errno {
	return errno.ENOTDIR
}
func (c *consoleDevice) Truncate(size uint64) errno.Errno     { return errno.OK }
func (c *consoleDevice) Chmod(mode uint32) errno.Errno        { return errno.OK }
func (c *consoleDevice) Chown(uid, gid uint32) errno.Errno    { return errno.OK }
func (c *consoleDevice) Sync() errno.Errno                    { return errno.OK }
func (c *consoleDevice) Ioctl(cmd uint32, arg uint64) (uint64, errno.Errno) { return 0, errno.ENOSYS }
