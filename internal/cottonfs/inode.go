package cottonfs

import (
	"sync"
	"sync/atomic"

	"github.com/cottonos/kernel/internal/errno"
)

// Inode is the in-memory representation of one CottonFS inode: a mutex
// guarding the on-disk fields plus a lazily-materialized content cache
// (spec §4.I). Directories cache their decoded entries; regular files
// cache their raw bytes. Every mutation is persisted to disk immediately
// rather than left dirty; Read does not update the access time.
type Inode struct {
	fs   *FileSystem
	ino  uint32

	mu   sync.RWMutex
	disk DiskInode

	dirty atomic.Bool

	contentMu sync.Mutex
	bytes     []byte     // materialized regular-file content, nil until touched
	entries   []DirEntry // materialized directory content, nil until touched
	loaded    bool
}

func (in *Inode) Ino() uint32 { return in.ino }

func (in *Inode) isDirty() bool { return in.dirty.Load() }

// Stat returns a snapshot of the on-disk inode fields.
func (in *Inode) Stat() DiskInode {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.disk
}

// Chmod updates the inode's permission bits.
func (in *Inode) Chmod(mode uint32) errno.Errno {
	in.mu.Lock()
	in.disk.Mode = (in.disk.Mode &^ 0777) | (mode & 0777)
	in.mu.Unlock()
	in.markDirty()
	return in.persist()
}

// Chown updates the inode's owning uid/gid.
func (in *Inode) Chown(uid, gid uint32) errno.Errno {
	in.mu.Lock()
	in.disk.Uid = uid
	in.disk.Gid = gid
	in.mu.Unlock()
	in.markDirty()
	return in.persist()
}

// Sync flushes this inode's dirty state to disk.
func (in *Inode) Sync() errno.Errno {
	if !in.isDirty() {
		return errno.OK
	}
	return in.persist()
}

// Ioctl is unimplemented for CottonFS inodes: no device-specific control
// operations apply to a plain file or directory.
func (in *Inode) Ioctl(cmd uint32, arg uint64) (uint64, errno.Errno) {
	return 0, errno.ENOSYS
}

func (in *Inode) FileType() uint8 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.disk.FileType
}

func (in *Inode) Size() uint64 {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.disk.Size
}

// persist writes the in-memory disk inode back to the inode table and
// clears the dirty flag.
func (in *Inode) persist() errno.Errno {
	in.mu.Lock()
	d := in.disk
	in.mu.Unlock()
	if e := in.fs.writeDiskInode(in.ino, d); e != errno.OK {
		return e
	}
	in.dirty.Store(false)
	return errno.OK
}

func (in *Inode) markDirty() { in.dirty.Store(true) }

// ensureContentLoaded materializes the byte or directory-entry cache from
// the inode's direct data blocks on first access. The Indirect pointer is
// never consulted: this implementation's max file size is
// DirectPointers*BlockSize (~48 KiB), same ceiling as the reference.
func (in *Inode) ensureContentLoaded() errno.Errno {
	in.contentMu.Lock()
	defer in.contentMu.Unlock()
	if in.loaded {
		return errno.OK
	}

	in.mu.RLock()
	size := in.disk.Size
	blockCount := in.disk.BlockCount
	direct := in.disk.Direct
	fileType := in.disk.FileType
	in.mu.RUnlock()

	buf := make([]byte, 0, blockCount*BlockSize)
	for i := uint32(0); i < blockCount && i < DirectPointers; i++ {
		slot := direct[i]
		block, e := in.fs.readBlock(DataBlocksStart + uint64(slot))
		if e != errno.OK {
			return e
		}
		buf = append(buf, block...)
	}
	if uint64(len(buf)) > size {
		buf = buf[:size]
	}

	if fileType == FileTypeDir {
		in.entries = decodeDirEntries(buf)
	} else {
		in.bytes = buf
	}
	in.loaded = true
	return errno.OK
}

func decodeDirEntries(buf []byte) []DirEntry {
	var entries []DirEntry
	for off := 0; off+DirEntrySize <= len(buf); off += DirEntrySize {
		e := unmarshalDirEntry(buf[off : off+DirEntrySize])
		if e.Inode != 0 {
			entries = append(entries, e)
		}
	}
	return entries
}

// blocksNeeded returns how many BlockSize-sized blocks are required to
// hold n bytes.
func blocksNeeded(n uint64) uint32 {
	return uint32((n + BlockSize - 1) / BlockSize)
}

// resizeBlocks grows or shrinks the direct block list to match wantBlocks,
// allocating or freeing data blocks as needed. Caller holds in.mu.
func (in *Inode) resizeBlocks(wantBlocks uint32) errno.Errno {
	if wantBlocks > DirectPointers {
		return errno.EFBIG
	}
	cur := in.disk.BlockCount
	for cur < wantBlocks {
		slot, e := in.fs.allocDataBlock()
		if e != errno.OK {
			return e
		}
		in.disk.Direct[cur] = uint32(slot)
		cur++
	}
	for cur > wantBlocks {
		cur--
		if e := in.fs.freeDataBlock(uint64(in.disk.Direct[cur])); e != errno.OK {
			return e
		}
		in.disk.Direct[cur] = 0
	}
	in.disk.BlockCount = wantBlocks
	return errno.OK
}

// flushContent writes the materialized byte or directory-entry cache back
// to the inode's data blocks, resizing the block list first.
func (in *Inode) flushContent() errno.Errno {
	in.contentMu.Lock()
	defer in.contentMu.Unlock()

	var raw []byte
	in.mu.RLock()
	fileType := in.disk.FileType
	in.mu.RUnlock()
	if fileType == FileTypeDir {
		raw = make([]byte, 0, len(in.entries)*DirEntrySize)
		for _, e := range in.entries {
			raw = append(raw, e.marshal()...)
		}
	} else {
		raw = in.bytes
	}

	in.mu.Lock()
	wantBlocks := blocksNeeded(uint64(len(raw)))
	if e := in.resizeBlocks(wantBlocks); e != errno.OK {
		in.mu.Unlock()
		return e
	}
	in.disk.Size = uint64(len(raw))
	direct := in.disk.Direct
	in.mu.Unlock()

	for i := uint32(0); i < wantBlocks; i++ {
		block := make([]byte, BlockSize)
		start := int(i) * BlockSize
		end := start + BlockSize
		if end > len(raw) {
			end = len(raw)
		}
		copy(block, raw[start:end])
		if e := in.fs.writeBlock(DataBlocksStart+uint64(direct[i]), block); e != errno.OK {
			return e
		}
	}
	in.markDirty()
	return in.persist()
}

// Read copies up to len(buf) bytes starting at offset into buf, returning
// the number of bytes actually copied (0 at or past EOF, never an error).
func (in *Inode) Read(offset uint64, buf []byte) (int, errno.Errno) {
	if in.FileType() == FileTypeDir {
		return 0, errno.EISDIR
	}
	if e := in.ensureContentLoaded(); e != errno.OK {
		return 0, e
	}
	in.contentMu.Lock()
	defer in.contentMu.Unlock()
	if offset >= uint64(len(in.bytes)) {
		return 0, errno.OK
	}
	n := copy(buf, in.bytes[offset:])
	return n, errno.OK
}

// Write copies data into the file starting at offset, growing the file
// (zero-filling any gap) if necessary, and persists the result
// immediately (spec §4.I).
func (in *Inode) Write(offset uint64, data []byte) (int, errno.Errno) {
	if in.FileType() == FileTypeDir {
		return 0, errno.EISDIR
	}
	if e := in.ensureContentLoaded(); e != errno.OK {
		return 0, e
	}
	end := offset + uint64(len(data))
	if blocksNeeded(end) > DirectPointers {
		return 0, errno.EFBIG
	}

	in.contentMu.Lock()
	if uint64(len(in.bytes)) < end {
		grown := make([]byte, end)
		copy(grown, in.bytes)
		in.bytes = grown
	}
	copy(in.bytes[offset:end], data)
	in.contentMu.Unlock()

	if e := in.flushContent(); e != errno.OK {
		return 0, e
	}
	return len(data), errno.OK
}

// Truncate resizes the file to exactly size bytes.
func (in *Inode) Truncate(size uint64) errno.Errno {
	if in.FileType() == FileTypeDir {
		return errno.EISDIR
	}
	if blocksNeeded(size) > DirectPointers {
		return errno.EFBIG
	}
	if e := in.ensureContentLoaded(); e != errno.OK {
		return e
	}
	in.contentMu.Lock()
	if uint64(len(in.bytes)) < size {
		grown := make([]byte, size)
		copy(grown, in.bytes)
		in.bytes = grown
	} else {
		in.bytes = in.bytes[:size]
	}
	in.contentMu.Unlock()
	return in.flushContent()
}

// Readdir returns a snapshot of the directory's entries, synthesizing `.`
// and `..`. `..` always resolves to the directory itself: CottonFS stores
// no parent pointer, a known limitation carried from the reference (spec
// §9).
func (in *Inode) Readdir() ([]DirEntry, errno.Errno) {
	if in.FileType() != FileTypeDir {
		return nil, errno.ENOTDIR
	}
	if e := in.ensureContentLoaded(); e != errno.OK {
		return nil, e
	}
	in.contentMu.Lock()
	defer in.contentMu.Unlock()
	out := make([]DirEntry, 0, len(in.entries)+2)
	out = append(out,
		DirEntry{Inode: in.ino, NameLen: 1, TypeCache: FileTypeDir, Name: "."},
		DirEntry{Inode: in.ino, NameLen: 2, TypeCache: FileTypeDir, Name: ".."},
	)
	out = append(out, in.entries...)
	return out, errno.OK
}

func (in *Inode) findEntry(name string) (DirEntry, bool) {
	in.contentMu.Lock()
	defer in.contentMu.Unlock()
	for _, e := range in.entries {
		if e.Name == name {
			return e, true
		}
	}
	return DirEntry{}, false
}

// Lookup resolves name within this directory to its inode.
func (in *Inode) Lookup(name string) (*Inode, errno.Errno) {
	if in.FileType() != FileTypeDir {
		return nil, errno.ENOTDIR
	}
	if name == "." {
		return in, errno.OK
	}
	if name == ".." {
		return in, errno.OK
	}
	if e := in.ensureContentLoaded(); e != errno.OK {
		return nil, e
	}
	entry, ok := in.findEntry(name)
	if !ok {
		return nil, errno.ENOENT
	}
	return in.fs.getInode(entry.Inode)
}

func validName(name string) errno.Errno {
	if name == "" {
		return errno.EINVAL
	}
	if len(name) > NameMax {
		return errno.ENAMETOOLONG
	}
	return errno.OK
}

func (in *Inode) addEntry(name string, ino uint32, fileType uint8) errno.Errno {
	if e := validName(name); e != errno.OK {
		return e
	}
	if e := in.ensureContentLoaded(); e != errno.OK {
		return e
	}
	if _, ok := in.findEntry(name); ok {
		return errno.EEXIST
	}
	in.contentMu.Lock()
	in.entries = append(in.entries, DirEntry{
		Inode: ino, NameLen: uint8(len(name)), TypeCache: fileType, Name: name,
	})
	in.contentMu.Unlock()
	return in.flushContent()
}

func (in *Inode) removeEntry(name string) errno.Errno {
	if e := in.ensureContentLoaded(); e != errno.OK {
		return e
	}
	in.contentMu.Lock()
	idx := -1
	for i, e := range in.entries {
		if e.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		in.contentMu.Unlock()
		return errno.ENOENT
	}
	in.entries = append(in.entries[:idx], in.entries[idx+1:]...)
	in.contentMu.Unlock()
	return in.flushContent()
}

func (in *Inode) newChild(fileType uint8, mode uint32) (*Inode, errno.Errno) {
	ino, e := in.fs.allocInode()
	if e != errno.OK {
		return nil, e
	}
	now := nowUnix()
	linkCount := uint16(1)
	if fileType == FileTypeDir {
		linkCount = 2
	}
	d := DiskInode{
		Mode: mode, FileType: fileType, LinkCount: linkCount,
		Atime: now, Mtime: now, Ctime: now,
	}
	if e := in.fs.writeDiskInode(ino, d); e != errno.OK {
		return nil, e
	}
	return in.fs.getInode(ino)
}

// Create makes a new regular file named name in this directory.
func (in *Inode) Create(name string, mode uint32) (*Inode, errno.Errno) {
	if in.FileType() != FileTypeDir {
		return nil, errno.ENOTDIR
	}
	child, e := in.newChild(FileTypeRegular, mode)
	if e != errno.OK {
		return nil, e
	}
	if e := in.addEntry(name, child.ino, FileTypeRegular); e != errno.OK {
		in.fs.freeInode(child.ino)
		return nil, e
	}
	return child, errno.OK
}

// Mkdir makes a new empty subdirectory named name in this directory.
func (in *Inode) Mkdir(name string, mode uint32) (*Inode, errno.Errno) {
	if in.FileType() != FileTypeDir {
		return nil, errno.ENOTDIR
	}
	child, e := in.newChild(FileTypeDir, mode)
	if e != errno.OK {
		return nil, e
	}
	if e := in.addEntry(name, child.ino, FileTypeDir); e != errno.OK {
		in.fs.freeInode(child.ino)
		return nil, e
	}
	return child, errno.OK
}

// Unlink removes a directory entry and frees the target inode's bitmap
// slot once its link count reaches zero. Per spec §9, this reference does
// not reclaim the unlinked file's data blocks; they remain marked
// allocated until the volume is reformatted, a known limitation carried
// from the original.
func (in *Inode) Unlink(name string) errno.Errno {
	if in.FileType() != FileTypeDir {
		return errno.ENOTDIR
	}
	entry, ok := in.findEntry(name)
	if !ok {
		return errno.ENOENT
	}
	target, e := in.fs.getInode(entry.Inode)
	if e != errno.OK {
		return e
	}
	if target.FileType() == FileTypeDir {
		return errno.EISDIR
	}
	if e := in.removeEntry(name); e != errno.OK {
		return e
	}
	target.mu.Lock()
	target.disk.LinkCount--
	remaining := target.disk.LinkCount
	target.mu.Unlock()
	if remaining == 0 {
		return in.fs.freeInode(target.ino)
	}
	target.markDirty()
	return target.persist()
}

// Rmdir removes an empty subdirectory named name.
func (in *Inode) Rmdir(name string) errno.Errno {
	if in.FileType() != FileTypeDir {
		return errno.ENOTDIR
	}
	entry, ok := in.findEntry(name)
	if !ok {
		return errno.ENOENT
	}
	target, e := in.fs.getInode(entry.Inode)
	if e != errno.OK {
		return e
	}
	if target.FileType() != FileTypeDir {
		return errno.ENOTDIR
	}
	if e := target.ensureContentLoaded(); e != errno.OK {
		return e
	}
	target.contentMu.Lock()
	empty := len(target.entries) == 0
	target.contentMu.Unlock()
	if !empty {
		return errno.ENOTEMPTY
	}
	if e := in.removeEntry(name); e != errno.OK {
		return e
	}
	return in.fs.freeInode(target.ino)
}

// Rename moves this directory's entry named oldName to newDir under
// newName, failing with EEXIST if newName is already taken.
func (in *Inode) Rename(oldName string, newDir *Inode, newName string) errno.Errno {
	if in.FileType() != FileTypeDir || newDir.FileType() != FileTypeDir {
		return errno.ENOTDIR
	}
	entry, ok := in.findEntry(oldName)
	if !ok {
		return errno.ENOENT
	}
	if _, exists := newDir.findEntry(newName); exists {
		return errno.EEXIST
	}
	if e := in.removeEntry(oldName); e != errno.OK {
		return e
	}
	return newDir.addEntry(newName, entry.Inode, entry.TypeCache)
}
