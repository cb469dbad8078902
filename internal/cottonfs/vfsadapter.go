package cottonfs

import (
	"github.com/cottonos/kernel/internal/errno"
	"github.com/cottonos/kernel/internal/vfs"
)

// asVFS adapts a *FileSystem to vfs.FileSystem. CottonFS's own API
// returns concrete *Inode/*FileSystem types so cottonfs can be used and
// tested standalone; this adapter is the only place that knows about vfs.
type asVFS struct{ fs *FileSystem }

// AsVFS wraps fs for mounting into a vfs.Table.
func AsVFS(fs *FileSystem) vfs.FileSystem { return asVFS{fs} }

func (a asVFS) Name() string { return a.fs.Name() }

func (a asVFS) Root() (vfs.Inode, errno.Errno) {
	root, e := a.fs.Root()
	if e != errno.OK {
		return nil, e
	}
	return inodeAdapter{root}, errno.OK
}

func (a asVFS) Sync() errno.Errno { return a.fs.Sync() }

func (a asVFS) Statfs() (totalBlocks, freeBlocks uint64, totalInodes, freeInodes uint32) {
	s := a.fs.Statfs()
	return s.TotalBlocks, s.FreeBlocks, s.TotalInodes, s.FreeInodes
}

type inodeAdapter struct{ in *Inode }

func (a inodeAdapter) Ino() uint32    { return a.in.Ino() }
func (a inodeAdapter) FileType() uint8 { return a.in.FileType() }

func (a inodeAdapter) Stat() vfs.Stat {
	d := a.in.Stat()
	return vfs.Stat{
		Ino: a.in.Ino(), Mode: d.Mode, FileType: d.FileType, Size: d.Size,
		Uid: d.Uid, Gid: d.Gid, LinkCount: d.LinkCount,
		Atime: d.Atime, Mtime: d.Mtime, Ctime: d.Ctime,
	}
}

func (a inodeAdapter) Read(offset uint64, buf []byte) (int, errno.Errno) {
	return a.in.Read(offset, buf)
}
func (a inodeAdapter) Write(offset uint64, buf []byte) (int, errno.Errno) {
	return a.in.Write(offset, buf)
}

func (a inodeAdapter) Readdir() ([]vfs.DirEntry, errno.Errno) {
	entries, e := a.in.Readdir()
	if e != errno.OK {
		return nil, e
	}
	out := make([]vfs.DirEntry, len(entries))
	for i, ent := range entries {
		out[i] = vfs.DirEntry{Name: ent.Name, Ino: ent.Inode, FileType: ent.TypeCache}
	}
	return out, errno.OK
}

func (a inodeAdapter) Lookup(name string) (vfs.Inode, errno.Errno) {
	child, e := a.in.Lookup(name)
	if e != errno.OK {
		return nil, e
	}
	return inodeAdapter{child}, errno.OK
}

func (a inodeAdapter) Create(name string, mode uint32) (vfs.Inode, errno.Errno) {
	child, e := a.in.Create(name, mode)
	if e != errno.OK {
		return nil, e
	}
	return inodeAdapter{child}, errno.OK
}

func (a inodeAdapter) Mkdir(name string, mode uint32) (vfs.Inode, errno.Errno) {
	child, e := a.in.Mkdir(name, mode)
	if e != errno.OK {
		return nil, e
	}
	return inodeAdapter{child}, errno.OK
}

func (a inodeAdapter) Unlink(name string) errno.Errno { return a.in.Unlink(name) }
func (a inodeAdapter) Rmdir(name string) errno.Errno  { return a.in.Rmdir(name) }

func (a inodeAdapter) Rename(oldName string, newDir vfs.Inode, newName string) errno.Errno {
	target, ok := newDir.(inodeAdapter)
	if !ok {
		return errno.EINVAL
	}
	return a.in.Rename(oldName, target.in, newName)
}

func (a inodeAdapter) Truncate(size uint64) errno.Errno { return a.in.Truncate(size) }
func (a inodeAdapter) Chmod(mode uint32) errno.Errno    { return a.in.Chmod(mode) }
func (a inodeAdapter) Chown(uid, gid uint32) errno.Errno { return a.in.Chown(uid, gid) }
func (a inodeAdapter) Sync() errno.Errno                { return a.in.Sync() }

func (a inodeAdapter) Ioctl(cmd uint32, arg uint64) (uint64, errno.Errno) {
	return a.in.Ioctl(cmd, arg)
}
