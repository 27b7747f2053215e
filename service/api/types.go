// Package api holds the JSON types exchanged with clients. Every type maps
// one-to-one onto an engine operation; no engine internals leak through
// this package.
package api

// Error is the structured kind+message form every engine failure is
// reported as.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e Error) Error() string { return e.Message }

// Error kinds reported to clients.
const (
	ErrKindProcessNotFound         = "ProcessNotFound"
	ErrKindAlreadyOpen             = "AlreadyOpen"
	ErrKindProcessDetached         = "ProcessDetached"
	ErrKindInvalidTransition       = "InvalidTransition"
	ErrKindRegionEnumerationFailed = "RegionEnumerationFailed"
	ErrKindReadFailed              = "ReadFailed"
	ErrKindWriteFailed             = "WriteFailed"
	ErrKindScanTooLarge            = "ScanTooLarge"
	ErrKindNoFreeSlot              = "NoFreeSlot"
	ErrKindInvalidAlignment        = "InvalidAlignment"
	ErrKindAddressInUse            = "AddressInUse"
	ErrKindNotFound                = "NotFound"
	ErrKindInvalidRequest          = "InvalidRequest"
	ErrKindInternal                = "Internal"
)

// ProcessInfo describes one host process.
type ProcessInfo struct {
	Pid  int    `json:"pid"`
	Name string `json:"name"`
}

// OpenProcessRequest asks the session to attach to a process.
type OpenProcessRequest struct {
	Pid int `json:"pid"`
}

// OpenProcessResponse reports the attached process.
type OpenProcessResponse struct {
	Pid         int    `json:"pid"`
	PointerSize int    `json:"pointerSize"`
	Status      string `json:"status"`
}

// ChangeStateRequest switches the target between running and suspended, or
// detaches it.
type ChangeStateRequest struct {
	// State is one of "suspend", "resume", "detach".
	State string `json:"state"`
}

// ReadMemoryRequest reads one memory window.
type ReadMemoryRequest struct {
	Address uint64 `json:"address"`
	Size    int    `json:"size"`
}

// ReadMemoryResponse carries one read window; Data is base64 over JSON.
type ReadMemoryResponse struct {
	Address uint64 `json:"address"`
	Data    []byte `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// WriteMemoryRequest writes Data at Address.
type WriteMemoryRequest struct {
	Address uint64 `json:"address"`
	Data    []byte `json:"data"`
}

// WriteMemoryResponse reports the number of bytes written.
type WriteMemoryResponse struct {
	Written int `json:"written"`
}

// Region describes one span of the target's memory map.
type Region struct {
	Start      uint64 `json:"start"`
	End        uint64 `json:"end"`
	Protection string `json:"protection"`
	Kind       string `json:"kind"`
	Module     string `json:"module,omitempty"`
}

// Module describes one loaded image.
type Module struct {
	Name string `json:"name"`
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

// MemoryScanRequest starts a new scan domain.
type MemoryScanRequest struct {
	ValueType string `json:"valueType"`
	// Comparison is one of exact, inrange, changed, unchanged, increased,
	// decreased.
	Comparison  string `json:"comparison"`
	Value       string `json:"value,omitempty"`
	ValueHigh   string `json:"valueHigh,omitempty"`
	Alignment   int    `json:"alignment,omitempty"`
	ModulesOnly bool   `json:"modulesOnly,omitempty"`
}

// MemoryFilterRequest narrows the active scan with one more round.
type MemoryFilterRequest struct {
	Comparison string `json:"comparison"`
	Value      string `json:"value,omitempty"`
	ValueHigh  string `json:"valueHigh,omitempty"`
}

// Candidate is one matching address of the active scan.
type Candidate struct {
	Address uint64 `json:"address"`
	Value   []byte `json:"value"`
}

// ScanResponse reports one scan round. DroppedReads counts addresses
// skipped because they were unreadable.
type ScanResponse struct {
	MatchCount   int         `json:"matchCount"`
	DroppedReads uint64      `json:"droppedReads"`
	Candidates   []Candidate `json:"candidates,omitempty"`
}

// SetBreakpointRequest installs an execution breakpoint.
type SetBreakpointRequest struct {
	Address uint64 `json:"address"`
}

// Breakpoint reports one installed breakpoint.
type Breakpoint struct {
	Address     uint64 `json:"address"`
	Slot        int    `json:"slot"`
	State       string `json:"state"`
	Instruction string `json:"instruction,omitempty"`
}

// SetWatchpointRequest installs a data watchpoint.
type SetWatchpointRequest struct {
	Address uint64 `json:"address"`
	Size    int    `json:"size"`
	// Condition is one of read, write, read-write, execute.
	Condition string `json:"condition"`
}

// Watchpoint reports one installed watchpoint.
type Watchpoint struct {
	Address   uint64 `json:"address"`
	Size      int    `json:"size"`
	Condition string `json:"condition"`
	Slot      int    `json:"slot"`
	State     string `json:"state"`
}

// RemoveRequest removes the breakpoint or watchpoint at Address.
type RemoveRequest struct {
	Address uint64 `json:"address"`
}

// ResolveAddrResponse reports a resolved module+offset address.
type ResolveAddrResponse struct {
	Address uint64 `json:"address"`
}

// PointerMapRequest generates pointer paths for Address.
type PointerMapRequest struct {
	Address    uint64 `json:"address"`
	MaxDepth   int    `json:"maxDepth,omitempty"`
	MaxOffset  uint64 `json:"maxOffset,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// PointerPath is a static-anchor-to-target chain of offset hops.
type PointerPath struct {
	Module  string   `json:"module,omitempty"`
	Base    uint64   `json:"base"`
	Offsets []uint64 `json:"offsets"`
	Static  bool     `json:"static"`
}

// PointerMapResponse reports discovered paths. Timeout true means the
// search hit its deadline and the list is a partial result.
type PointerMapResponse struct {
	Paths   []PointerPath `json:"paths"`
	Timeout bool          `json:"timeout"`
}

// ExceptionInfo reports the hardware debug condition that fired in the
// target, if any. The entry occupying the slot is included when it is still
// installed.
type ExceptionInfo struct {
	Fired      bool        `json:"fired"`
	Slot       int         `json:"slot"`
	Breakpoint *Breakpoint `json:"breakpoint,omitempty"`
	Watchpoint *Watchpoint `json:"watchpoint,omitempty"`
}

// ServerInfo describes the running engine.
type ServerInfo struct {
	Version     string `json:"version"`
	GoVersion   string `json:"goVersion"`
	AttachedPid int    `json:"attachedPid,omitempty"`
	Status      string `json:"status"`
}
