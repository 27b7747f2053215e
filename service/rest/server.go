// Package rest exposes the process session over an HTTP JSON API. Every
// route maps one-to-one onto a session operation; the transport adds no
// semantics of its own.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/memscout/memscout/pkg/logflags"
	"github.com/memscout/memscout/pkg/pathfind"
	"github.com/memscout/memscout/pkg/proc"
	"github.com/memscout/memscout/pkg/scan"
	"github.com/memscout/memscout/pkg/version"
	"github.com/memscout/memscout/service/api"
	"github.com/memscout/memscout/service/debugger"
)

const (
	// maxBatchBody caps the body of batched memory read requests.
	maxBatchBody = 10 << 20
	// scanPreviewLimit is the number of candidates included inline in scan
	// responses.
	scanPreviewLimit = 1000
	// defaultPathTimeout bounds pointer path generation per request.
	defaultPathTimeout = 30 * time.Second
)

// Config provides the configuration to expose a Debugger with a Server.
type Config struct {
	// Listener is used to serve HTTP.
	Listener net.Listener
	// Debugger is the session served by this server.
	Debugger *debugger.Debugger
	// PathTimeout overrides the per-request pointer path deadline.
	PathTimeout time.Duration
}

// Server exposes a Debugger via an HTTP JSON API.
type Server struct {
	config     *Config
	debugger   *debugger.Debugger
	log        *logrus.Entry
	httpServer *http.Server
}

// NewServer creates a new Server.
func NewServer(config *Config) *Server {
	if config.PathTimeout <= 0 {
		config.PathTimeout = defaultPathTimeout
	}
	s := &Server{
		config:   config,
		debugger: config.Debugger,
		log:      logflags.RESTLogger(),
	}
	s.httpServer = &http.Server{Handler: s.router()}
	return s
}

// Run serves the API. It blocks until the listener is closed.
func (s *Server) Run() error {
	s.log.Debugf("server listening on %s", s.config.Listener.Addr())
	err := s.httpServer.Serve(s.config.Listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down and detaches the session.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if derr := s.debugger.Detach(); err == nil {
		err = derr
	}
	return err
}

func (s *Server) router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /processes", s.listProcesses)
	mux.HandleFunc("POST /process", s.openProcess)
	mux.HandleFunc("PUT /process", s.changeProcessState)
	mux.HandleFunc("GET /modules", s.listModules)
	mux.HandleFunc("GET /regions", s.listRegions)

	mux.HandleFunc("GET /memory", s.readMemory)
	mux.HandleFunc("POST /memory", s.writeMemory)
	mux.HandleFunc("POST /memories", s.readMemoryBatch)

	mux.HandleFunc("POST /memoryscan", s.memoryScan)
	mux.HandleFunc("POST /memoryfilter", s.memoryFilter)

	mux.HandleFunc("POST /breakpoint", s.setBreakpoint)
	mux.HandleFunc("DELETE /breakpoint", s.removeBreakpoint)
	mux.HandleFunc("POST /watchpoint", s.setWatchpoint)
	mux.HandleFunc("DELETE /watchpoint", s.removeWatchpoint)

	mux.HandleFunc("GET /exceptioninfo", s.exceptionInfo)
	mux.HandleFunc("GET /resolveaddr", s.resolveAddr)
	mux.HandleFunc("POST /pointermap", s.pointerMap)
	mux.HandleFunc("GET /serverinfo", s.serverInfo)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debugf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind, code := errorKind(err)
	writeJSON(w, code, api.Error{Kind: kind, Message: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, api.Error{Kind: api.ErrKindInvalidRequest, Message: msg})
}

// errorKind maps engine errors onto the API error taxonomy.
func errorKind(err error) (string, int) {
	var inUse proc.AddressInUseError
	var regionErr proc.RegionEnumerationError
	switch {
	case errors.Is(err, proc.ErrProcessNotFound):
		return api.ErrKindProcessNotFound, http.StatusNotFound
	case errors.Is(err, debugger.ErrAlreadyOpen):
		return api.ErrKindAlreadyOpen, http.StatusConflict
	case errors.Is(err, proc.ErrProcessDetached):
		return api.ErrKindProcessDetached, http.StatusConflict
	case errors.Is(err, proc.ErrInvalidTransition):
		return api.ErrKindInvalidTransition, http.StatusConflict
	case errors.As(err, &regionErr):
		return api.ErrKindRegionEnumerationFailed, http.StatusInternalServerError
	case errors.Is(err, scan.ErrScanTooLarge):
		return api.ErrKindScanTooLarge, http.StatusRequestEntityTooLarge
	case errors.Is(err, scan.ErrNoActiveScan):
		return api.ErrKindInvalidRequest, http.StatusBadRequest
	case errors.Is(err, proc.ErrNoFreeSlot):
		return api.ErrKindNoFreeSlot, http.StatusConflict
	case errors.Is(err, proc.ErrInvalidAlignment):
		return api.ErrKindInvalidAlignment, http.StatusBadRequest
	case errors.As(err, &inUse):
		return api.ErrKindAddressInUse, http.StatusConflict
	case errors.Is(err, proc.ErrNotFound), errors.Is(err, debugger.ErrModuleNotFound):
		return api.ErrKindNotFound, http.StatusNotFound
	}
	return api.ErrKindInternal, http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func queryUint(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(r.URL.Query().Get(name), 0, 64)
}

func (s *Server) listProcesses(w http.ResponseWriter, r *http.Request) {
	infos, err := s.debugger.Processes(r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]api.ProcessInfo, len(infos))
	for i, info := range infos {
		out[i] = api.ConvertProcessInfo(info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) openProcess(w http.ResponseWriter, r *http.Request) {
	var req api.OpenProcessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h, err := s.debugger.Attach(req.Pid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.OpenProcessResponse{
		Pid:         h.Pid(),
		PointerSize: h.PointerSize(),
		Status:      h.Status().String(),
	})
}

func (s *Server) changeProcessState(w http.ResponseWriter, r *http.Request) {
	var req api.ChangeStateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var err error
	switch req.State {
	case "suspend":
		err = s.debugger.Suspend()
	case "resume":
		err = s.debugger.Resume()
	case "detach":
		err = s.debugger.Detach()
	default:
		badRequest(w, "unknown state "+strconv.Quote(req.State))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": s.debugger.Status().String()})
}

func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	mods, err := s.debugger.Modules()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]api.Module, len(mods))
	for i, m := range mods {
		out[i] = api.ConvertModule(m)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listRegions(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.debugger.Regions()
	if err != nil {
		writeError(w, err)
		return
	}
	regions := catalog.Regions()
	out := make([]api.Region, len(regions))
	for i, region := range regions {
		out[i] = api.ConvertRegion(region)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) readMemory(w http.ResponseWriter, r *http.Request) {
	addr, err := queryUint(r, "address")
	if err != nil {
		badRequest(w, "bad address")
		return
	}
	size, err := queryUint(r, "size")
	if err != nil || size == 0 || size > maxBatchBody {
		badRequest(w, "bad size")
		return
	}
	data, err := s.debugger.ReadMemory(addr, int(size))
	if err != nil {
		if kind, _ := errorKind(err); kind == api.ErrKindInternal {
			writeJSON(w, http.StatusInternalServerError, api.Error{Kind: api.ErrKindReadFailed, Message: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ReadMemoryResponse{Address: addr, Data: data})
}

func (s *Server) writeMemory(w http.ResponseWriter, r *http.Request) {
	var req api.WriteMemoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := s.debugger.WriteMemory(req.Address, req.Data)
	if err != nil {
		if kind, _ := errorKind(err); kind == api.ErrKindInternal {
			writeJSON(w, http.StatusInternalServerError, api.Error{Kind: api.ErrKindWriteFailed, Message: err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.WriteMemoryResponse{Written: n})
}

func (s *Server) readMemoryBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBody)
	var reqs []api.ReadMemoryRequest
	if !decodeBody(w, r, &reqs) {
		return
	}
	batch := make([]debugger.BatchRead, len(reqs))
	for i, req := range reqs {
		batch[i] = debugger.BatchRead{Addr: req.Address, Size: req.Size}
	}
	results, err := s.debugger.ReadMemoryBatch(batch)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]api.ReadMemoryResponse, len(results))
	for i, res := range results {
		out[i] = api.ReadMemoryResponse{Address: reqs[i].Address, Data: res.Data}
		if res.Err != nil {
			out[i].Error = &api.Error{Kind: api.ErrKindReadFailed, Message: res.Err.Error()}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) memoryScan(w http.ResponseWriter, r *http.Request) {
	var req api.MemoryScanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	vt, err := scan.ParseValueType(req.ValueType)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	kind, err := scan.ParseCompareKind(req.Comparison)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	cmp, err := scan.ParseComparison(vt, kind, req.Value, req.ValueHigh)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.debugger.StartScan(r.Context(), debugger.ScanParams{
		ValueType:   vt,
		Alignment:   req.Alignment,
		ModulesOnly: req.ModulesOnly,
	}, cmp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanResponse(res))
}

func (s *Server) memoryFilter(w http.ResponseWriter, r *http.Request) {
	var req api.MemoryFilterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := scan.ParseCompareKind(req.Comparison)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	vt, err := s.debugger.ScanValueType()
	if err != nil {
		writeError(w, err)
		return
	}
	cmp, err := scan.ParseComparison(vt, kind, req.Value, req.ValueHigh)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.debugger.FilterScan(r.Context(), cmp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanResponse(res))
}

func (s *Server) scanResponse(res scan.Result) api.ScanResponse {
	out := api.ScanResponse{MatchCount: res.MatchCount, DroppedReads: res.DroppedReads}
	if res.MatchCount <= scanPreviewLimit {
		if cands, err := s.debugger.ScanCandidates(scanPreviewLimit); err == nil {
			out.Candidates = make([]api.Candidate, len(cands))
			for i, c := range cands {
				out.Candidates[i] = api.ConvertCandidate(c)
			}
		}
	}
	return out
}

func (s *Server) setBreakpoint(w http.ResponseWriter, r *http.Request) {
	var req api.SetBreakpointRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bp, err := s.debugger.CreateBreakpoint(req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ConvertBreakpoint(bp))
}

func (s *Server) removeBreakpoint(w http.ResponseWriter, r *http.Request) {
	var req api.RemoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.debugger.ClearBreakpoint(req.Address); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setWatchpoint(w http.ResponseWriter, r *http.Request) {
	var req api.SetWatchpointRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cond, ok := api.ParseWatchCondition(req.Condition)
	if !ok {
		badRequest(w, "unknown condition "+strconv.Quote(req.Condition))
		return
	}
	wp, err := s.debugger.CreateWatchpoint(req.Address, req.Size, cond)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ConvertWatchpoint(wp))
}

func (s *Server) removeWatchpoint(w http.ResponseWriter, r *http.Request) {
	var req api.RemoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.debugger.ClearWatchpoint(req.Address); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exceptionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.debugger.HardwareException()
	if err != nil {
		writeError(w, err)
		return
	}
	out := api.ExceptionInfo{Slot: -1}
	if info != nil {
		out.Fired = true
		out.Slot = info.Slot
		if info.Breakpoint != nil {
			bp := api.ConvertBreakpoint(info.Breakpoint)
			out.Breakpoint = &bp
		}
		if info.Watchpoint != nil {
			wp := api.ConvertWatchpoint(info.Watchpoint)
			out.Watchpoint = &wp
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) resolveAddr(w http.ResponseWriter, r *http.Request) {
	module := r.URL.Query().Get("module")
	if module == "" {
		badRequest(w, "missing module")
		return
	}
	offset, err := queryUint(r, "offset")
	if err != nil && r.URL.Query().Get("offset") != "" {
		badRequest(w, "bad offset")
		return
	}
	addr, err := s.debugger.ResolveModuleOffset(module, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ResolveAddrResponse{Address: addr})
}

func (s *Server) pointerMap(w http.ResponseWriter, r *http.Request) {
	var req api.PointerMapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.config.PathTimeout)
	defer cancel()
	res, err := s.debugger.PointerPaths(ctx, req.Address, pathfind.Options{
		MaxDepth:   req.MaxDepth,
		MaxOffset:  req.MaxOffset,
		MaxResults: req.MaxResults,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := api.PointerMapResponse{Timeout: res.Timeout, Paths: make([]api.PointerPath, len(res.Paths))}
	for i, p := range res.Paths {
		out.Paths[i] = api.ConvertPointerPath(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) serverInfo(w http.ResponseWriter, r *http.Request) {
	info := api.ServerInfo{
		Version:   version.MemscoutVersion.String(),
		GoVersion: version.BuildInfo(),
		Status:    s.debugger.Status().String(),
	}
	if pid, ok := s.debugger.AttachedPid(); ok {
		info.AttachedPid = pid
	}
	writeJSON(w, http.StatusOK, info)
}
