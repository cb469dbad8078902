// Package ata implements the ATA/IDE PIO block driver of spec §4.G: drive
// detection via IDENTIFY, LBA28/LBA48 sector reads and writes over the
// legacy command-block ports, and the spec §3 "block device" contract
// (named, fixed block size, read/write/flush).
package ata

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/cottonos/kernel/internal/cpu"
	"github.com/cottonos/kernel/internal/errno"
)

// SectorSize is the fixed unit of ATA I/O (spec §3).
const SectorSize = 512

// Register offsets within a channel's command-block port range.
const (
	regData       = 0
	regError      = 1 // also "features" on write
	regSectorCnt  = 2
	regLBALow     = 3
	regLBAMid     = 4
	regLBAHigh    = 5
	regDriveHead  = 6
	regStatus     = 7 // also "command" on write
)

// Status register bits.
const (
	statusERR = 0x01
	statusDRQ = 0x08
	statusBSY = 0x80
)

// Commands.
const (
	cmdReadPIO    = 0x20
	cmdReadPIOExt = 0x24
	cmdWritePIO   = 0x30
	cmdWritePIOExt = 0x34
	cmdCacheFlush = 0xE7
	cmdIdentify   = 0xEC
)

const maxPollRetries = 100000

// Backing is the persisted content of one drive: a flat array of
// SectorSize-byte sectors. A real deployment backs this with a file; an
// in-memory Backing is used for tests and for disks the harness doesn't
// want to persist.
type Backing interface {
	ReadSector(lba uint64, dst []byte) error
	WriteSector(lba uint64, src []byte) error
	SectorCount() uint64
}

// MemBacking is an in-memory Backing, handy for tests and ephemeral
// disks.
type MemBacking struct {
	data []byte
}

// NewMemBacking allocates a zeroed disk of the given size in bytes,
// rounded down to a whole number of sectors.
func NewMemBacking(sizeBytes uint64) *MemBacking {
	sectors := sizeBytes / SectorSize
	return &MemBacking{data: make([]byte, sectors*SectorSize)}
}

func (m *MemBacking) SectorCount() uint64 { return uint64(len(m.data)) / SectorSize }

func (m *MemBacking) ReadSector(lba uint64, dst []byte) error {
	off := lba * SectorSize
	copy(dst, m.data[off:off+SectorSize])
	return nil
}

func (m *MemBacking) WriteSector(lba uint64, src []byte) error {
	off := lba * SectorSize
	copy(m.data[off:off+SectorSize], src)
	return nil
}

// FileBacking persists a drive in a flat host file, one sector after
// another. The file is held under an exclusive advisory lock for the
// backing's lifetime so two simulations can't mount the same disk image.
type FileBacking struct {
	fd      int
	sectors uint64
}

// OpenFileBacking opens (creating and sizing if needed) a disk image of
// sizeBytes, rounded down to whole sectors.
func OpenFileBacking(path string, sizeBytes uint64) (*FileBacking, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return nil, err
	}
	sectors := sizeBytes / SectorSize
	if err := unix.Ftruncate(fd, int64(sectors*SectorSize)); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &FileBacking{fd: fd, sectors: sectors}, nil
}

// Close releases the lock and the file descriptor.
func (f *FileBacking) Close() error { return unix.Close(f.fd) }

func (f *FileBacking) SectorCount() uint64 { return f.sectors }

func (f *FileBacking) ReadSector(lba uint64, dst []byte) error {
	_, err := unix.Pread(f.fd, dst[:SectorSize], int64(lba*SectorSize))
	return err
}

func (f *FileBacking) WriteSector(lba uint64, src []byte) error {
	_, err := unix.Pwrite(f.fd, src[:SectorSize], int64(lba*SectorSize))
	return err
}

// Drive is one physical/simulated ATA drive attached to a channel.
type Drive struct {
	present bool
	atapi   bool
	model   string
	serial  string
	lba48   bool
	sectors uint64
	backing Backing
}

// Present reports whether IDENTIFY found a drive in this slot.
func (d *Drive) Present() bool { return d != nil && d.present }

// Model, Serial, LBA48Capable and SectorCount expose the decoded
// IDENTIFY fields (spec §4.G step 5).
func (d *Drive) Model() string        { return d.model }
func (d *Drive) Serial() string       { return d.serial }
func (d *Drive) LBA48Capable() bool   { return d.lba48 }
func (d *Drive) SectorCount() uint64  { return d.sectors }

// Channel models one of the two ATA channels (primary/secondary), each
// with up to two drives (master/slave), registered on the bus at the
// legacy command-block ports.
type Channel struct {
	bus  *cpu.Bus
	base uint16

	drives  [2]*Drive
	selected int

	// in-flight PIO transfer state
	pioBuf    []byte
	pioOffset int
	status    uint8
	errReg    uint8
	sectorCnt uint8
	lbaLow, lbaMid, lbaHigh uint8
	driveHead uint8
	lba48mode bool

	// Each of the sector-count/LBA registers is a two-deep FIFO: an
	// LBA48 command writes the high byte first, then the low byte, and
	// the chip keeps both. The "prev" slots hold the first write.
	prevSectorCnt uint8
	prevLBALow, prevLBAMid, prevLBAHigh uint8
}

// NewChannel registers a channel at the given base port (0x1F0 primary,
// 0x170 secondary) and attaches up to two drives. A nil backing in a slot
// means "no drive present".
func NewChannel(bus *cpu.Bus, base uint16, master, slave Backing) *Channel {
	c := &Channel{bus: bus, base: base}
	c.drives[0] = identify(master)
	c.drives[1] = identify(slave)
	for p := uint16(0); p < 8; p++ {
		bus.RegisterPort(base+p, c)
	}
	return c
}

func identify(b Backing) *Drive {
	if b == nil {
		return &Drive{present: false}
	}
	sectors := b.SectorCount()
	return &Drive{
		present: true,
		model:   "CottonOS Virtual Disk",
		serial:  "COTTON0001",
		lba48:   sectors > (1 << 28),
		sectors: sectors,
		backing: b,
	}
}

// Drive returns the drive object in the given slot (0=master, 1=slave)
// for tests and DevFS registration; nil if absent.
func (c *Channel) Drive(slot int) *Drive { return c.drives[slot] }

// In/Out implement cpu.PortDevice, modeling the PIO command-block
// protocol (spec §4.G).
func (c *Channel) In(port uint16, w cpu.Width) uint32 {
	reg := port - c.base
	switch reg {
	case regData:
		return uint32(c.readData(w))
	case regError:
		return uint32(c.errReg)
	case regSectorCnt:
		return uint32(c.sectorCnt)
	case regLBALow:
		return uint32(c.lbaLow)
	case regLBAMid:
		return uint32(c.lbaMid)
	case regLBAHigh:
		return uint32(c.lbaHigh)
	case regDriveHead:
		return uint32(c.driveHead)
	case regStatus:
		return uint32(c.status)
	}
	return 0xFF
}

func (c *Channel) readData(w cpu.Width) uint16 {
	if c.pioOffset+2 > len(c.pioBuf) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.pioBuf[c.pioOffset:])
	c.pioOffset += 2
	if c.pioOffset >= len(c.pioBuf) {
		c.status &^= statusDRQ
	}
	return v
}

func (c *Channel) Out(port uint16, w cpu.Width, val uint32) {
	reg := port - c.base
	switch reg {
	case regData:
		c.writeData(uint16(val))
	case regError: // "features" register, unused by this driver
	case regSectorCnt:
		c.prevSectorCnt, c.sectorCnt = c.sectorCnt, uint8(val)
	case regLBALow:
		c.prevLBALow, c.lbaLow = c.lbaLow, uint8(val)
	case regLBAMid:
		c.prevLBAMid, c.lbaMid = c.lbaMid, uint8(val)
	case regLBAHigh:
		c.prevLBAHigh, c.lbaHigh = c.lbaHigh, uint8(val)
	case regDriveHead:
		c.driveHead = uint8(val)
		c.selected = int((val >> 4) & 1)
	case regStatus: // "command" register
		c.execute(uint8(val))
	}
}

func (c *Channel) writeData(v uint16) {
	if c.pioOffset+2 > len(c.pioBuf) {
		return
	}
	binary.LittleEndian.PutUint16(c.pioBuf[c.pioOffset:], v)
	c.pioOffset += 2
	if c.pioOffset >= len(c.pioBuf) {
		c.status &^= statusDRQ
		c.flushWriteBuffer()
	}
}

func (c *Channel) execute(cmd uint8) {
	drive := c.drives[c.selected]
	switch cmd {
	case cmdIdentify:
		c.doIdentify(drive)
	case cmdReadPIO, cmdReadPIOExt:
		c.lba48mode = cmd == cmdReadPIOExt
		c.doRead(drive)
	case cmdWritePIO, cmdWritePIOExt:
		c.lba48mode = cmd == cmdWritePIOExt
		c.beginWrite(drive)
	case cmdCacheFlush:
		c.status = 0
	default:
		c.status = statusERR
		c.errReg = 0x04 // ABRT
	}
}

func (c *Channel) currentLBA() uint64 {
	if c.lba48mode {
		return uint64(c.lbaLow) | uint64(c.lbaMid)<<8 | uint64(c.lbaHigh)<<16 |
			uint64(c.prevLBALow)<<24 | uint64(c.prevLBAMid)<<32 | uint64(c.prevLBAHigh)<<40
	}
	return uint64(c.lbaLow) | uint64(c.lbaMid)<<8 | uint64(c.lbaHigh)<<16 | uint64(c.driveHead&0x0F)<<24
}

func (c *Channel) doIdentify(d *Drive) {
	if !d.Present() {
		c.status = 0
		return
	}
	if d.atapi {
		c.status = statusERR
		return
	}
	words := make([]uint16, 256)
	putModel(words, 27, d.model)
	putModel(words, 10, d.serial)
	if d.lba48 {
		words[83] = 1 << 10
		words[100] = uint16(d.sectors)
		words[101] = uint16(d.sectors >> 16)
		words[102] = uint16(d.sectors >> 32)
		words[103] = uint16(d.sectors >> 48)
	} else {
		words[60] = uint16(d.sectors)
		words[61] = uint16(d.sectors >> 16)
	}
	buf := make([]byte, 512)
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[i*2:], w)
	}
	c.pioBuf = buf
	c.pioOffset = 0
	c.status = statusDRQ
}

func putModel(words []uint16, start int, s string) {
	// ATA strings are byte-swapped within each 16-bit word.
	b := []byte(s)
	for i := 0; i < 20 && i < len(b); i += 2 {
		hi := byte(0)
		if i+1 < len(b) {
			hi = b[i+1]
		}
		words[start+i/2] = uint16(b[i])<<8 | uint16(hi)
	}
}

func (c *Channel) doRead(d *Drive) {
	if !d.Present() {
		c.status = statusERR
		return
	}
	lba := c.currentLBA()
	count := int(c.sectorCnt)
	if count == 0 {
		count = 256
	}
	buf := make([]byte, count*SectorSize)
	for i := 0; i < count; i++ {
		if err := d.backing.ReadSector(lba+uint64(i), buf[i*SectorSize:(i+1)*SectorSize]); err != nil {
			c.status = statusERR
			c.errReg = 0x04
			return
		}
	}
	c.pioBuf = buf
	c.pioOffset = 0
	c.status = statusDRQ
}

func (c *Channel) beginWrite(d *Drive) {
	if !d.Present() {
		c.status = statusERR
		return
	}
	count := int(c.sectorCnt)
	if count == 0 {
		count = 256
	}
	c.pioBuf = make([]byte, count*SectorSize)
	c.pioOffset = 0
	c.status = statusDRQ
}

func (c *Channel) flushWriteBuffer() {
	d := c.drives[c.selected]
	if !d.Present() {
		return
	}
	lba := c.currentLBA()
	count := len(c.pioBuf) / SectorSize
	for i := 0; i < count; i++ {
		if err := d.backing.WriteSector(lba+uint64(i), c.pioBuf[i*SectorSize:(i+1)*SectorSize]); err != nil {
			c.status = statusERR
			c.errReg = 0x04
			return
		}
	}
	c.status = 0
}

// waitDRQ polls the status register, bounded by maxPollRetries, per spec
// §4.G's "bounded-retry poll for DRQ=1".
func (c *Channel) waitDRQ() errno.Errno {
	for i := 0; i < maxPollRetries; i++ {
		if c.status&statusERR != 0 {
			return errno.EIO
		}
		if c.status&statusBSY == 0 && c.status&statusDRQ != 0 {
			return errno.OK
		}
	}
	return errno.ETIMEDOUT
}

// Device is the high-level block-device contract of spec §3/§4.G, driving
// a Channel/Drive pair through the PIO port protocol above.
type Device struct {
	name    string
	channel *Channel
	slot    int
}

// NewDevice wraps a detected drive as a named block device.
func NewDevice(name string, channel *Channel, slot int) *Device {
	return &Device{name: name, channel: channel, slot: slot}
}

func (dev *Device) Name() string      { return dev.name }
func (dev *Device) BlockSize() uint32 { return SectorSize }
func (dev *Device) TotalBlocks() uint64 {
	return dev.channel.drives[dev.slot].sectors
}

// Read reads count sectors starting at startBlock into buf (sized
// count*SectorSize). count==0 is a no-op; count>255 is rejected (spec
// §8 boundary behaviors).
func (dev *Device) Read(startBlock uint64, count uint16, buf []byte) errno.Errno {
	if count == 0 {
		return errno.OK
	}
	if count > 255 {
		return errno.EINVAL
	}
	if len(buf) < int(count)*SectorSize {
		return errno.EINVAL
	}
	d := dev.channel.drives[dev.slot]
	if !d.Present() {
		return errno.ENXIO
	}
	lba48 := d.lba48 && (startBlock+uint64(count) > (1 << 28))
	dev.programLBA(startBlock, count, lba48)
	cmd := uint8(cmdReadPIO)
	if lba48 {
		cmd = cmdReadPIOExt
	}
	dev.channel.bus.Out8(dev.channel.base+regStatus, cmd)
	if e := dev.channel.waitDRQ(); e != errno.OK {
		return e
	}
	words := int(count) * SectorSize / 2
	for i := 0; i < words; i++ {
		v := dev.channel.bus.In16(dev.channel.base + regData)
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return errno.OK
}

// Write writes count sectors from buf to startBlock, then issues
// CACHE_FLUSH and polls for completion (spec §4.G).
func (dev *Device) Write(startBlock uint64, count uint16, buf []byte) errno.Errno {
	if count == 0 {
		return errno.OK
	}
	if count > 255 {
		return errno.EINVAL
	}
	if len(buf) < int(count)*SectorSize {
		return errno.EINVAL
	}
	d := dev.channel.drives[dev.slot]
	if !d.Present() {
		return errno.ENXIO
	}
	lba48 := d.lba48 && (startBlock+uint64(count) > (1 << 28))
	dev.programLBA(startBlock, count, lba48)
	cmd := uint8(cmdWritePIO)
	if lba48 {
		cmd = cmdWritePIOExt
	}
	dev.channel.bus.Out8(dev.channel.base+regStatus, cmd)
	if e := dev.channel.waitDRQ(); e != errno.OK {
		return e
	}
	words := int(count) * SectorSize / 2
	for i := 0; i < words; i++ {
		v := binary.LittleEndian.Uint16(buf[i*2:])
		dev.channel.bus.Out16(dev.channel.base+regData, v)
	}
	return dev.Flush()
}

// Flush issues CACHE_FLUSH and polls BSY=0 (bounded).
func (dev *Device) Flush() errno.Errno {
	dev.channel.bus.Out8(dev.channel.base+regStatus, cmdCacheFlush)
	for i := 0; i < maxPollRetries; i++ {
		if dev.channel.status&statusBSY == 0 {
			return errno.OK
		}
	}
	return errno.ETIMEDOUT
}

func (dev *Device) programLBA(lba uint64, count uint16, lba48 bool) {
	base := dev.channel.base
	b := dev.channel.bus
	if lba48 {
		b.Out8(base+regSectorCnt, uint8(count>>8))
		b.Out8(base+regLBALow, uint8(lba>>24))
		b.Out8(base+regLBAMid, uint8(lba>>32))
		b.Out8(base+regLBAHigh, uint8(lba>>40))
		b.Out8(base+regSectorCnt, uint8(count))
		b.Out8(base+regLBALow, uint8(lba))
		b.Out8(base+regLBAMid, uint8(lba>>8))
		b.Out8(base+regLBAHigh, uint8(lba>>16))
		b.Out8(base+regDriveHead, uint8(0x40|(dev.slot<<4)))
	} else {
		b.Out8(base+regSectorCnt, uint8(count))
		b.Out8(base+regLBALow, uint8(lba))
		b.Out8(base+regLBAMid, uint8(lba>>8))
		b.Out8(base+regLBAHigh, uint8(lba>>16))
		b.Out8(base+regDriveHead, 0xE0|uint8(dev.slot<<4)|uint8((lba>>24)&0x0F))
	}
}
