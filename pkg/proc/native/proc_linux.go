//go:build linux

package native

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/memscout/memscout/pkg/logflags"
	"github.com/memscout/memscout/pkg/proc"
)

// New returns the Linux process accessor.
func New() (proc.Accessor, error) {
	return &linuxAccessor{log: logflags.NativeLogger()}, nil
}

type linuxHandle struct {
	pid     int
	ptrSize int
}

// linuxAccessor reads and writes target memory with process_vm_readv /
// process_vm_writev and programs debug registers over ptrace. Debug
// register writes are applied to the target's main thread.
type linuxAccessor struct {
	log *logrus.Entry
}

func (a *linuxAccessor) Open(pid int) (proc.RawHandle, error) {
	if _, err := os.Stat(procdir(pid)); err != nil {
		return nil, proc.ErrProcessNotFound
	}
	h := &linuxHandle{pid: pid, ptrSize: exePointerSize(pid)}
	a.log.Debugf("opened pid %d (pointer size %d)", pid, h.ptrSize)
	return h, nil
}

func (a *linuxAccessor) Close(h proc.RawHandle) error {
	a.log.Debugf("closed pid %d", h.(*linuxHandle).pid)
	return nil
}

func (a *linuxAccessor) Suspend(h proc.RawHandle) error {
	return translateErr(unix.Kill(h.(*linuxHandle).pid, unix.SIGSTOP))
}

func (a *linuxAccessor) Resume(h proc.RawHandle) error {
	return translateErr(unix.Kill(h.(*linuxHandle).pid, unix.SIGCONT))
}

func (a *linuxAccessor) ReadMemory(h proc.RawHandle, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	pid := h.(*linuxHandle).pid
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(pid, local, remote, 0)
	if err != nil {
		return 0, translateErr(err)
	}
	return n, nil
}

func (a *linuxAccessor) WriteMemory(h proc.RawHandle, addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	pid := h.(*linuxHandle).pid
	local := []unix.Iovec{{Base: &data[0]}}
	local[0].SetLen(len(data))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(data)}}
	n, err := unix.ProcessVMWritev(pid, local, remote, 0)
	if err != nil {
		return 0, translateErr(err)
	}
	return n, nil
}

func (a *linuxAccessor) Regions(h proc.RawHandle) ([]proc.MemRegion, error) {
	return readMaps(h.(*linuxHandle).pid)
}

func (a *linuxAccessor) Modules(h proc.RawHandle) ([]proc.Module, error) {
	regions, err := readMaps(h.(*linuxHandle).pid)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int)
	var mods []proc.Module
	for _, r := range regions {
		if r.Kind != proc.RegionModule {
			continue
		}
		i, ok := idx[r.Module]
		if !ok {
			idx[r.Module] = len(mods)
			mods = append(mods, proc.Module{Name: r.Module, Base: r.Base, Size: r.Size})
			continue
		}
		if end := r.End(); end > mods[i].Base+mods[i].Size {
			mods[i].Size = end - mods[i].Base
		}
	}
	return mods, nil
}

func (a *linuxAccessor) Processes() ([]proc.ProcessInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	var infos []proc.ProcessInfo
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
		if err != nil {
			// Process went away between ReadDir and ReadFile.
			continue
		}
		infos = append(infos, proc.ProcessInfo{Pid: pid, Name: strings.TrimSpace(string(comm))})
	}
	return infos, nil
}

func (a *linuxAccessor) HardwareSlots() int { return hwSlotCount }

func (a *linuxAccessor) PointerSize(h proc.RawHandle) int {
	return h.(*linuxHandle).ptrSize
}

func procdir(pid int) string {
	return filepath.Join("/proc", strconv.Itoa(pid))
}

// exePointerSize reads the ELF class of the target executable. Defaults to
// the host pointer size when /proc/<pid>/exe is unreadable.
func exePointerSize(pid int) int {
	f, err := os.Open(filepath.Join(procdir(pid), "exe"))
	if err != nil {
		return 8
	}
	defer f.Close()
	var ident [5]byte
	if _, err := f.Read(ident[:]); err != nil {
		return 8
	}
	if ident[0] == 0x7f && ident[1] == 'E' && ident[2] == 'L' && ident[3] == 'F' && ident[4] == 1 {
		return 4
	}
	return 8
}

// readMaps parses /proc/<pid>/maps into memory regions.
func readMaps(pid int) ([]proc.MemRegion, error) {
	data, err := os.ReadFile(filepath.Join(procdir(pid), "maps"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, proc.ErrProcessDetached
		}
		return nil, err
	}
	var regions []proc.MemRegion
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		r, err := parseMapsLine(line)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, nil
}

func parseMapsLine(line string) (proc.MemRegion, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return proc.MemRegion{}, fmt.Errorf("malformed maps line %q", line)
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return proc.MemRegion{}, fmt.Errorf("malformed maps range %q", fields[0])
	}
	base, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return proc.MemRegion{}, err
	}
	end, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return proc.MemRegion{}, err
	}
	perms := fields[1]
	r := proc.MemRegion{
		Base:  base,
		Size:  end - base,
		Read:  strings.Contains(perms, "r"),
		Write: strings.Contains(perms, "w"),
		Exec:  strings.Contains(perms, "x"),
	}
	if len(fields) >= 6 {
		switch path := fields[5]; {
		case path == "[heap]":
			r.Kind = proc.RegionHeap
		case path == "[stack]" || strings.HasPrefix(path, "[stack:"):
			r.Kind = proc.RegionStack
		case strings.HasPrefix(path, "/"):
			r.Kind = proc.RegionModule
			r.Module = filepath.Base(path)
		}
	}
	return r, nil
}

// translateErr maps syscall failures onto the engine error taxonomy.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return proc.ErrProcessDetached
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return proc.ErrCapabilityLost
	}
	return err
}
