package proc_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/memscout/memscout/pkg/proc"
	"github.com/memscout/memscout/pkg/proc/proctest"
)

func testHandle(t *testing.T) (*proc.Handle, *proctest.Target) {
	t.Helper()
	target := proctest.NewTarget(1, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionHeap, "")
	h, err := proc.OpenHandle(proctest.NewAccessor(target), 1)
	assertNoError(err, t, "OpenHandle()")
	return h, target
}

func TestOpenHandleUnknownPid(t *testing.T) {
	acc := proctest.NewAccessor()
	if _, err := proc.OpenHandle(acc, 42); !errors.Is(err, proc.ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
}

func TestSuspendResumeTransitions(t *testing.T) {
	h, _ := testHandle(t)

	if h.Status() != proc.StatusAttached {
		t.Fatalf("fresh handle should be attached, got %v", h.Status())
	}
	// Resuming a running target is not a valid transition.
	if err := h.Resume(); !errors.Is(err, proc.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	assertNoError(h.Suspend(), t, "Suspend()")
	if h.Status() != proc.StatusSuspended {
		t.Fatalf("want suspended, got %v", h.Status())
	}
	if err := h.Suspend(); !errors.Is(err, proc.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	assertNoError(h.Resume(), t, "Resume()")
	if h.Status() != proc.StatusAttached {
		t.Fatalf("want attached, got %v", h.Status())
	}
}

func TestWriteThenRead(t *testing.T) {
	h, _ := testHandle(t)

	data := []byte{0xde, 0xad, 0xbe, 0xef}
	n, err := h.WriteMemory(0x1010, data)
	assertNoError(err, t, "WriteMemory()")
	if n != len(data) {
		t.Fatalf("short write: %d", n)
	}

	buf := make([]byte, len(data))
	_, err = h.ReadMemory(buf, 0x1010)
	assertNoError(err, t, "ReadMemory()")
	if !bytes.Equal(buf, data) {
		t.Fatalf("read back %x, want %x", buf, data)
	}
}

func TestDetachIdempotent(t *testing.T) {
	h, _ := testHandle(t)

	assertNoError(h.Detach(), t, "Detach()")
	assertNoError(h.Detach(), t, "second Detach()")
	if h.Status() != proc.StatusDetached {
		t.Fatalf("want detached, got %v", h.Status())
	}

	buf := make([]byte, 4)
	if _, err := h.ReadMemory(buf, 0x1000); !errors.Is(err, proc.ErrProcessDetached) {
		t.Fatalf("read after detach: expected ErrProcessDetached, got %v", err)
	}
	if _, err := h.WriteMemory(0x1000, buf); !errors.Is(err, proc.ErrProcessDetached) {
		t.Fatalf("write after detach: expected ErrProcessDetached, got %v", err)
	}
	if err := h.Suspend(); !errors.Is(err, proc.ErrProcessDetached) {
		t.Fatalf("suspend after detach: expected ErrProcessDetached, got %v", err)
	}
}
