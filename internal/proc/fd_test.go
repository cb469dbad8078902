package proc

import (
	"testing"

	"github.com/cottonos/kernel/internal/errno"
)

func TestAllocFDStartsAboveStdio(t *testing.T) {
	table := newTestTable(t)
	p, _ := table.NewKernel("worker")

	fd, e := p.AllocFD(&OpenFile{})
	if e != errno.OK {
		t.Fatalf("AllocFD: %v", e)
	}
	if fd <= FDStderr {
		t.Fatalf("expected fd above reserved stdio range, got %d", fd)
	}
}

func TestCloseFDThenReuse(t *testing.T) {
	table := newTestTable(t)
	p, _ := table.NewKernel("worker")

	fd, _ := p.AllocFD(&OpenFile{})
	if e := p.CloseFD(fd); e != errno.OK {
		t.Fatalf("CloseFD: %v", e)
	}
	if _, e := p.GetFD(fd); e == errno.OK {
		t.Fatal("expected closed fd to be unavailable")
	}
	fd2, e := p.AllocFD(&OpenFile{})
	if e != errno.OK {
		t.Fatalf("AllocFD after close: %v", e)
	}
	if fd2 != fd {
		t.Fatalf("expected closed slot %d reused, got %d", fd, fd2)
	}
}

func TestForkSharesOpenFileDescriptions(t *testing.T) {
	table := newTestTable(t)
	parent, _ := table.NewKernel("parent")
	of := &OpenFile{}
	fd, _ := parent.AllocFD(of)

	child, e := table.Fork(parent)
	if e != errno.OK {
		t.Fatalf("Fork: %v", e)
	}
	got, e := child.GetFD(fd)
	if e != errno.OK {
		t.Fatalf("expected child to inherit fd %d: %v", fd, e)
	}
	if got != of {
		t.Fatal("expected child's fd to share the same OpenFile as the parent")
	}
}
