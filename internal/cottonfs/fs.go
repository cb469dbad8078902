package cottonfs

import (
	"sync"
	"time"

	"github.com/cottonos/kernel/internal/errno"
)

// BlockDevice is the spec §3 block-device contract: named, fixed block
// size, read/write of whole sectors, optional flush. ata.Device satisfies
// this without any adapter.
type BlockDevice interface {
	Name() string
	BlockSize() uint32
	TotalBlocks() uint64
	Read(startBlock uint64, count uint16, buf []byte) errno.Errno
	Write(startBlock uint64, count uint16, buf []byte) errno.Errno
	Flush() errno.Errno
}

// FileSystem is one mounted CottonFS volume.
type FileSystem struct {
	device BlockDevice

	metaMu sync.Mutex // guards sb, inodeBitmap, dataBitmap together (spec §5)
	sb     Superblock
	inodeBitmap *bitmap
	dataBitmap  *bitmap

	cacheMu sync.Mutex
	cache   map[uint32]*Inode
}

func totalBlocks(dev BlockDevice) uint64 {
	return dev.TotalBlocks() / SectorsPerBlock
}

// Mount reads block 0 and interprets it as a superblock. If the magic and
// version match, the inode and data bitmaps are loaded from their fixed
// block ranges; otherwise the volume is formatted fresh (spec §4.I).
func Mount(dev BlockDevice) (*FileSystem, errno.Errno) {
	fs := &FileSystem{device: dev, cache: make(map[uint32]*Inode)}

	raw, e := fs.readBlock(SuperblockBlock)
	if e != errno.OK {
		return nil, e
	}
	sb := unmarshalSuperblock(raw)
	if sb.MagicValid() {
		fs.sb = sb
		if e := fs.loadBitmaps(); e != errno.OK {
			return nil, e
		}
		fs.sb.MountCount++
		if e := fs.writeSuperblock(); e != errno.OK {
			return nil, e
		}
		return fs, errno.OK
	}
	return fs, fs.format()
}

func (fs *FileSystem) loadBitmaps() errno.Errno {
	inodeBits := newBitmap(uint64(fs.sb.TotalInodes))
	if e := fs.readBitmapRegion(InodeBitmapStart, InodeBitmapEnd, inodeBits); e != errno.OK {
		return e
	}
	fs.inodeBitmap = inodeBits

	dataBits := newBitmap(fs.sb.TotalDataBlocks)
	if e := fs.readBitmapRegion(DataBitmapStart, DataBitmapEnd, dataBits); e != errno.OK {
		return e
	}
	fs.dataBitmap = dataBits
	return errno.OK
}

func (fs *FileSystem) readBitmapRegion(startBlock, endBlock uint64, bm *bitmap) errno.Errno {
	off := 0
	for b := startBlock; b < endBlock && off < len(bm.bits); b++ {
		data, e := fs.readBlock(b)
		if e != errno.OK {
			return e
		}
		n := copy(bm.bits[off:], data)
		off += n
	}
	return errno.OK
}

func (fs *FileSystem) writeBitmapRegion(startBlock, endBlock uint64, bm *bitmap) errno.Errno {
	off := 0
	for b := startBlock; b < endBlock; b++ {
		buf := make([]byte, BlockSize)
		if off < len(bm.bits) {
			off += copy(buf, bm.bits[off:])
		}
		if e := fs.writeBlock(b, buf); e != errno.OK {
			return e
		}
	}
	return errno.OK
}

// format initializes a fresh superblock sized to the device, a root
// directory inode at slot 1, and writes all metadata blocks back.
func (fs *FileSystem) format() errno.Errno {
	total := totalBlocks(fs.device)
	dataBlocks := uint64(0)
	if total > DataBlocksStart {
		dataBlocks = total - DataBlocksStart
	}

	fs.sb = Superblock{
		Magic:           Magic,
		Version:         CurrentVersion,
		BlockSize:       BlockSize,
		TotalBlocks:     total,
		TotalInodes:     (InodeTableEnd - InodeTableStart) * InodesPerBlock,
		TotalDataBlocks: dataBlocks,
		RootInode:       RootInodeNum,
		MountCount:      1,
	}
	fs.inodeBitmap = newBitmap(uint64(fs.sb.TotalInodes))
	fs.dataBitmap = newBitmap(fs.sb.TotalDataBlocks)

	// Inode 0 is never allocated (0 means "empty slot" in directory
	// entries); reserve it permanently.
	fs.inodeBitmap.set(0)
	fs.inodeBitmap.set(RootInodeNum)
	fs.sb.FreeInodes = uint32(fs.inodeBitmap.countFree())
	fs.sb.FreeDataBlocks = fs.dataBitmap.countFree()

	now := nowUnix()
	root := DiskInode{
		Mode:      0755,
		FileType:  FileTypeDir,
		LinkCount: 2,
		Atime:     now, Mtime: now, Ctime: now,
	}
	if e := fs.writeDiskInode(RootInodeNum, root); e != errno.OK {
		return e
	}

	if e := fs.writeSuperblock(); e != errno.OK {
		return e
	}
	if e := fs.writeBitmapRegion(InodeBitmapStart, InodeBitmapEnd, fs.inodeBitmap); e != errno.OK {
		return e
	}
	if e := fs.writeBitmapRegion(DataBitmapStart, DataBitmapEnd, fs.dataBitmap); e != errno.OK {
		return e
	}
	return errno.OK
}

// clock is the timestamp source for inode atime/mtime/ctime, kept as a
// variable so it can be replaced; it reads the host wall clock in Unix
// nanoseconds. nowUnix returns its current value.
var clock = func() int64 { return time.Now().UnixNano() }

func nowUnix() int64 { return clock() }

func (fs *FileSystem) writeSuperblock() errno.Errno {
	return fs.writeBlock(SuperblockBlock, fs.sb.marshal())
}

func (fs *FileSystem) readBlock(n uint64) ([]byte, errno.Errno) {
	buf := make([]byte, BlockSize)
	if e := fs.device.Read(n*SectorsPerBlock, SectorsPerBlock, buf); e != errno.OK {
		return nil, e
	}
	return buf, errno.OK
}

func (fs *FileSystem) writeBlock(n uint64, data []byte) errno.Errno {
	return fs.device.Write(n*SectorsPerBlock, SectorsPerBlock, data)
}

// allocInode scans the inode bitmap for the lowest free slot above 0,
// marks it, persists the bitmap and superblock immediately, and returns
// the new inode number (spec §4.I).
func (fs *FileSystem) allocInode() (uint32, errno.Errno) {
	fs.metaMu.Lock()
	slot, ok := fs.inodeBitmap.firstFree(1)
	if !ok {
		fs.metaMu.Unlock()
		return 0, errno.ENOSPC
	}
	fs.inodeBitmap.set(slot)
	fs.sb.FreeInodes--
	fs.metaMu.Unlock()

	if e := fs.writeBitmapRegion(InodeBitmapStart, InodeBitmapEnd, fs.inodeBitmap); e != errno.OK {
		return 0, e
	}
	if e := fs.writeSuperblock(); e != errno.OK {
		return 0, e
	}
	return uint32(slot), errno.OK
}

func (fs *FileSystem) freeInode(ino uint32) errno.Errno {
	fs.metaMu.Lock()
	fs.inodeBitmap.clear(uint64(ino))
	fs.sb.FreeInodes++
	fs.metaMu.Unlock()

	if e := fs.writeBitmapRegion(InodeBitmapStart, InodeBitmapEnd, fs.inodeBitmap); e != errno.OK {
		return e
	}
	return fs.writeSuperblock()
}

// allocDataBlock is symmetric to allocInode over the data bitmap,
// returning a block NUMBER relative to DataBlocksStart (i.e. the bitmap
// index, not the absolute on-disk block number).
func (fs *FileSystem) allocDataBlock() (uint64, errno.Errno) {
	fs.metaMu.Lock()
	slot, ok := fs.dataBitmap.firstFree(0)
	if !ok {
		fs.metaMu.Unlock()
		return 0, errno.ENOSPC
	}
	fs.dataBitmap.set(slot)
	fs.sb.FreeDataBlocks--
	fs.metaMu.Unlock()

	if e := fs.writeBitmapRegion(DataBitmapStart, DataBitmapEnd, fs.dataBitmap); e != errno.OK {
		return 0, e
	}
	if e := fs.writeSuperblock(); e != errno.OK {
		return 0, e
	}
	return slot, errno.OK
}

func (fs *FileSystem) freeDataBlock(slot uint64) errno.Errno {
	fs.metaMu.Lock()
	fs.dataBitmap.clear(slot)
	fs.sb.FreeDataBlocks++
	fs.metaMu.Unlock()

	if e := fs.writeBitmapRegion(DataBitmapStart, DataBitmapEnd, fs.dataBitmap); e != errno.OK {
		return e
	}
	return fs.writeSuperblock()
}

func (fs *FileSystem) readDiskInode(ino uint32) (DiskInode, errno.Errno) {
	block := InodeTableStart + uint64(ino)/InodesPerBlock
	off := (uint64(ino) % InodesPerBlock) * InodeSize
	data, e := fs.readBlock(block)
	if e != errno.OK {
		return DiskInode{}, e
	}
	return unmarshalDiskInode(data[off : off+InodeSize]), errno.OK
}

func (fs *FileSystem) writeDiskInode(ino uint32, d DiskInode) errno.Errno {
	block := InodeTableStart + uint64(ino)/InodesPerBlock
	off := (uint64(ino) % InodesPerBlock) * InodeSize
	data, e := fs.readBlock(block)
	if e != errno.OK {
		return e
	}
	copy(data[off:off+InodeSize], d.marshal())
	return fs.writeBlock(block, data)
}

// getInode returns the cached in-memory Inode for ino, loading it from
// disk on first reference. Inodes are pinned in the cache until unmount
// (spec §3: "the reference caches indefinitely").
func (fs *FileSystem) getInode(ino uint32) (*Inode, errno.Errno) {
	fs.cacheMu.Lock()
	if in, ok := fs.cache[ino]; ok {
		fs.cacheMu.Unlock()
		return in, errno.OK
	}
	fs.cacheMu.Unlock()

	d, e := fs.readDiskInode(ino)
	if e != errno.OK {
		return nil, e
	}
	in := &Inode{fs: fs, ino: ino, disk: d}

	fs.cacheMu.Lock()
	if existing, ok := fs.cache[ino]; ok {
		fs.cacheMu.Unlock()
		return existing, errno.OK
	}
	fs.cache[ino] = in
	fs.cacheMu.Unlock()
	return in, errno.OK
}

// Root returns the filesystem's root directory inode.
func (fs *FileSystem) Root() (*Inode, errno.Errno) {
	return fs.getInode(fs.sb.RootInode)
}

// Name identifies this filesystem for VFS mount-table display.
func (fs *FileSystem) Name() string { return "cottonfs" }

// Statfs reports free/used counts (spec §8 invariant 7).
type Statfs struct {
	TotalBlocks, FreeBlocks uint64
	TotalInodes, FreeInodes uint32
}

func (fs *FileSystem) Statfs() Statfs {
	fs.metaMu.Lock()
	defer fs.metaMu.Unlock()
	return Statfs{
		TotalBlocks: fs.sb.TotalDataBlocks,
		FreeBlocks:  fs.sb.FreeDataBlocks,
		TotalInodes: fs.sb.TotalInodes,
		FreeInodes:  fs.sb.FreeInodes,
	}
}

// Sync walks the inode cache, persists each dirty inode, then writes the
// superblock and both bitmaps (spec §4.I).
func (fs *FileSystem) Sync() errno.Errno {
	fs.cacheMu.Lock()
	dirty := make([]*Inode, 0, len(fs.cache))
	for _, in := range fs.cache {
		if in.isDirty() {
			dirty = append(dirty, in)
		}
	}
	fs.cacheMu.Unlock()

	for _, in := range dirty {
		if e := in.persist(); e != errno.OK {
			return e
		}
	}
	if e := fs.writeSuperblock(); e != errno.OK {
		return e
	}
	if e := fs.writeBitmapRegion(InodeBitmapStart, InodeBitmapEnd, fs.inodeBitmap); e != errno.OK {
		return e
	}
	return fs.writeBitmapRegion(DataBitmapStart, DataBitmapEnd, fs.dataBitmap)
}
