package api

import (
	"github.com/memscout/memscout/pkg/pathfind"
	"github.com/memscout/memscout/pkg/proc"
	"github.com/memscout/memscout/pkg/scan"
)

// ConvertProcessInfo converts an internal ProcessInfo to an API ProcessInfo.
func ConvertProcessInfo(info proc.ProcessInfo) ProcessInfo {
	return ProcessInfo{Pid: info.Pid, Name: info.Name}
}

// ConvertRegion converts an internal MemRegion to an API Region.
func ConvertRegion(r proc.MemRegion) Region {
	prot := []byte("---")
	if r.Read {
		prot[0] = 'r'
	}
	if r.Write {
		prot[1] = 'w'
	}
	if r.Exec {
		prot[2] = 'x'
	}
	return Region{
		Start:      r.Base,
		End:        r.End(),
		Protection: string(prot),
		Kind:       r.Kind.String(),
		Module:     r.Module,
	}
}

// ConvertModule converts an internal Module to an API Module.
func ConvertModule(m proc.Module) Module {
	return Module{Name: m.Name, Base: m.Base, Size: m.Size}
}

// ConvertBreakpoint converts an internal Breakpoint to an API Breakpoint.
func ConvertBreakpoint(bp *proc.Breakpoint) Breakpoint {
	return Breakpoint{
		Address:     bp.Addr,
		Slot:        bp.Slot,
		State:       bp.State.String(),
		Instruction: bp.Instr,
	}
}

// ConvertWatchpoint converts an internal Watchpoint to an API Watchpoint.
func ConvertWatchpoint(wp *proc.Watchpoint) Watchpoint {
	return Watchpoint{
		Address:   wp.Addr,
		Size:      wp.Size,
		Condition: wp.Cond.String(),
		Slot:      wp.Slot,
		State:     wp.State.String(),
	}
}

// ConvertCandidate converts an internal scan candidate to an API Candidate.
func ConvertCandidate(c scan.Candidate) Candidate {
	return Candidate{Address: c.Addr, Value: c.Value}
}

// ConvertPointerPath converts an internal path to an API PointerPath.
func ConvertPointerPath(p pathfind.Path) PointerPath {
	return PointerPath{
		Module:  p.Module,
		Base:    p.Base,
		Offsets: p.Offsets,
		Static:  p.Static,
	}
}

// ParseWatchCondition parses an API watchpoint condition string.
func ParseWatchCondition(s string) (proc.WatchType, bool) {
	switch s {
	case "read":
		return proc.WatchRead, true
	case "write":
		return proc.WatchWrite, true
	case "read-write", "readwrite":
		return proc.WatchRead | proc.WatchWrite, true
	case "execute":
		return proc.WatchExec, true
	}
	return 0, false
}
