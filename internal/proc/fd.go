package proc

import (
	"github.com/cottonos/kernel/internal/errno"
	"github.com/cottonos/kernel/internal/vfs"
)

// MaxFDs is the per-process file-descriptor table size (spec §3: "256
// slots").
const MaxFDs = 256

// Reserved low file descriptors, matching the userspace convention the
// syscall table assumes (spec §4.O: fd 1/2 print directly to console).
const (
	FDStdin  = 0
	FDStdout = 1
	FDStderr = 2
)

// OpenFile is an inode handle plus a byte offset and open flags (spec
// §3 "Open file"). Forked children share the same *OpenFile as their
// parent, so writes from either advance a common offset, matching POSIX
// fork/dup semantics.
type OpenFile struct {
	Inode vfs.Inode
	Offset uint64
	Flags  uint32
}

// AllocFD installs f at the lowest free slot starting above the
// reserved stdio descriptors, returning ENFILE-equivalent (ENOMEM, the
// closest code in this kernel's taxonomy) if the table is full.
func (p *Process) AllocFD(f *OpenFile) (int, errno.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := FDStderr + 1; i < MaxFDs; i++ {
		if p.fdTable[i] == nil {
			p.fdTable[i] = f
			return i, errno.OK
		}
	}
	return -1, errno.ENOMEM
}

// GetFD returns the open file installed at fd.
func (p *Process) GetFD(fd int) (*OpenFile, errno.Errno) {
	if fd < 0 || fd >= MaxFDs {
		return nil, errno.EINVAL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.fdTable[fd]
	if f == nil {
		return nil, errno.EINVAL
	}
	return f, errno.OK
}

// CloseFD clears fd, if it was open.
func (p *Process) CloseFD(fd int) errno.Errno {
	if fd < 0 || fd >= MaxFDs {
		return errno.EINVAL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fdTable[fd] == nil {
		return errno.EINVAL
	}
	p.fdTable[fd] = nil
	return errno.OK
}

// Cwd returns the process's current working directory.
func (p *Process) Cwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// SetCwd updates the process's current working directory.
func (p *Process) SetCwd(path string) {
	p.mu.Lock()
	p.cwd = path
	p.mu.Unlock()
}
