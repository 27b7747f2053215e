package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memscout/memscout/pkg/proc"
	"github.com/memscout/memscout/pkg/proc/proctest"
	"github.com/memscout/memscout/service/api"
	"github.com/memscout/memscout/service/debugger"
)

func testServer(t *testing.T) (*httptest.Server, *proctest.Target) {
	t.Helper()
	target := proctest.NewTarget(100, "victim", 8, 4)
	target.Map(0x1000, 0x1000, proc.RegionModule, "app")
	target.Map(0x10000, 0x1000, proc.RegionHeap, "")

	d := debugger.New(&debugger.Config{Accessor: proctest.NewAccessor(target)})
	s := NewServer(&Config{Debugger: d})
	ts := httptest.NewServer(s.router())
	t.Cleanup(ts.Close)
	return ts, target
}

func doJSON(t *testing.T, method, url string, body, out interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func attach(t *testing.T, ts *httptest.Server, pid int) {
	t.Helper()
	var out api.OpenProcessResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/process", api.OpenProcessRequest{Pid: pid}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, pid, out.Pid)
}

func TestOpenProcess(t *testing.T) {
	ts, _ := testServer(t)

	var out api.OpenProcessResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/process", api.OpenProcessRequest{Pid: 100}, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 100, out.Pid)
	assert.Equal(t, 8, out.PointerSize)
	assert.Equal(t, "attached", out.Status)
}

func TestOpenProcessErrors(t *testing.T) {
	ts, _ := testServer(t)

	var apiErr api.Error
	resp := doJSON(t, http.MethodPost, ts.URL+"/process", api.OpenProcessRequest{Pid: 999}, &apiErr)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, api.ErrKindProcessNotFound, apiErr.Kind)

	attach(t, ts, 100)
	resp = doJSON(t, http.MethodPost, ts.URL+"/process", api.OpenProcessRequest{Pid: 100}, &apiErr)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, api.ErrKindAlreadyOpen, apiErr.Kind)
}

func TestProcessStateTransitions(t *testing.T) {
	ts, _ := testServer(t)
	attach(t, ts, 100)

	var out map[string]string
	resp := doJSON(t, http.MethodPut, ts.URL+"/process", api.ChangeStateRequest{State: "suspend"}, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "suspended", out["status"])

	var apiErr api.Error
	resp = doJSON(t, http.MethodPut, ts.URL+"/process", api.ChangeStateRequest{State: "suspend"}, &apiErr)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, api.ErrKindInvalidTransition, apiErr.Kind)

	resp = doJSON(t, http.MethodPut, ts.URL+"/process", api.ChangeStateRequest{State: "detach"}, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "detached", out["status"])
}

func TestMemoryReadWrite(t *testing.T) {
	ts, _ := testServer(t)
	attach(t, ts, 100)

	var wrote api.WriteMemoryResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/memory", api.WriteMemoryRequest{
		Address: 0x10010,
		Data:    []byte{0xca, 0xfe},
	}, &wrote)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, wrote.Written)

	var read api.ReadMemoryResponse
	resp = doJSON(t, http.MethodGet, ts.URL+"/memory?address=0x10010&size=2", nil, &read)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte{0xca, 0xfe}, read.Data)
}

func TestMemoryBatch(t *testing.T) {
	ts, target := testServer(t)
	attach(t, ts, 100)
	target.PutUint32(0x10020, 7)

	var out []api.ReadMemoryResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/memories", []api.ReadMemoryRequest{
		{Address: 0x10020, Size: 4},
		{Address: 0xdead0000, Size: 4},
	}, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out, 2)
	assert.Len(t, out[0].Data, 4)
	assert.Nil(t, out[0].Error)
	require.NotNil(t, out[1].Error)
	assert.Equal(t, api.ErrKindReadFailed, out[1].Error.Kind)
}

func TestScanAndFilter(t *testing.T) {
	ts, target := testServer(t)
	attach(t, ts, 100)
	target.PutUint32(0x10010, 42)
	target.PutUint32(0x10050, 42)

	var scanOut api.ScanResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/memoryscan", api.MemoryScanRequest{
		ValueType:  "int32",
		Comparison: "exact",
		Value:      "42",
	}, &scanOut)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, scanOut.MatchCount)
	require.Len(t, scanOut.Candidates, 2)

	target.PutUint32(0x10010, 43)
	var filterOut api.ScanResponse
	resp = doJSON(t, http.MethodPost, ts.URL+"/memoryfilter", api.MemoryFilterRequest{
		Comparison: "increased",
	}, &filterOut)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, filterOut.MatchCount)
	require.Len(t, filterOut.Candidates, 1)
	assert.Equal(t, uint64(0x10010), filterOut.Candidates[0].Address)
}

func TestFilterWithoutScan(t *testing.T) {
	ts, _ := testServer(t)
	attach(t, ts, 100)

	var apiErr api.Error
	resp := doJSON(t, http.MethodPost, ts.URL+"/memoryfilter", api.MemoryFilterRequest{
		Comparison: "changed",
	}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, api.ErrKindInvalidRequest, apiErr.Kind)
}

func TestBreakpointLifecycle(t *testing.T) {
	ts, target := testServer(t)
	attach(t, ts, 100)

	var bp api.Breakpoint
	resp := doJSON(t, http.MethodPost, ts.URL+"/breakpoint", api.SetBreakpointRequest{Address: 0x1040}, &bp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(0x1040), bp.Address)
	assert.Equal(t, "active", bp.State)
	assert.Len(t, target.ProgrammedSlots(), 1)

	var apiErr api.Error
	resp = doJSON(t, http.MethodPost, ts.URL+"/breakpoint", api.SetBreakpointRequest{Address: 0x1040}, &apiErr)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, api.ErrKindAddressInUse, apiErr.Kind)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/breakpoint", api.RemoveRequest{Address: 0x1040}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, target.ProgrammedSlots())

	resp = doJSON(t, http.MethodDelete, ts.URL+"/breakpoint", api.RemoveRequest{Address: 0x1040}, &apiErr)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, api.ErrKindNotFound, apiErr.Kind)
}

func TestWatchpointValidation(t *testing.T) {
	ts, _ := testServer(t)
	attach(t, ts, 100)

	var apiErr api.Error
	resp := doJSON(t, http.MethodPost, ts.URL+"/watchpoint", api.SetWatchpointRequest{
		Address: 0x10001, Size: 4, Condition: "write",
	}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, api.ErrKindInvalidAlignment, apiErr.Kind)

	resp = doJSON(t, http.MethodPost, ts.URL+"/watchpoint", api.SetWatchpointRequest{
		Address: 0x10000, Size: 4, Condition: "sideways",
	}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, api.ErrKindInvalidRequest, apiErr.Kind)

	var wp api.Watchpoint
	resp = doJSON(t, http.MethodPost, ts.URL+"/watchpoint", api.SetWatchpointRequest{
		Address: 0x10000, Size: 4, Condition: "read-write",
	}, &wp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", wp.State)
}

func TestExceptionInfo(t *testing.T) {
	ts, target := testServer(t)
	attach(t, ts, 100)

	var wp api.Watchpoint
	resp := doJSON(t, http.MethodPost, ts.URL+"/watchpoint", api.SetWatchpointRequest{
		Address: 0x10020, Size: 4, Condition: "write",
	}, &wp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info api.ExceptionInfo
	resp = doJSON(t, http.MethodGet, ts.URL+"/exceptioninfo", nil, &info)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, info.Fired)

	target.Trigger(wp.Slot)
	resp = doJSON(t, http.MethodGet, ts.URL+"/exceptioninfo", nil, &info)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, info.Fired)
	assert.Equal(t, wp.Slot, info.Slot)
	require.NotNil(t, info.Watchpoint)
	assert.Equal(t, uint64(0x10020), info.Watchpoint.Address)
	assert.Nil(t, info.Breakpoint)
}

func TestResolveAddr(t *testing.T) {
	ts, _ := testServer(t)
	attach(t, ts, 100)

	var out api.ResolveAddrResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/resolveaddr?module=app&offset=0x40", nil, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(0x1040), out.Address)

	var apiErr api.Error
	resp = doJSON(t, http.MethodGet, ts.URL+"/resolveaddr?module=nosuch&offset=0", nil, &apiErr)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, api.ErrKindNotFound, apiErr.Kind)
}

func TestPointerMap(t *testing.T) {
	ts, target := testServer(t)
	attach(t, ts, 100)
	target.PutUint64(0x1020, 0x10000)

	var out api.PointerMapResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/pointermap", api.PointerMapRequest{Address: 0x10008}, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Paths, 1)
	assert.True(t, out.Paths[0].Static)
	assert.Equal(t, "app", out.Paths[0].Module)
	assert.Equal(t, []uint64{0x20, 0x8}, out.Paths[0].Offsets)
}

func TestServerInfo(t *testing.T) {
	ts, _ := testServer(t)

	var info api.ServerInfo
	resp := doJSON(t, http.MethodGet, ts.URL+"/serverinfo", nil, &info)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "detached", info.Status)
	assert.NotEmpty(t, info.Version)

	attach(t, ts, 100)
	resp = doJSON(t, http.MethodGet, ts.URL+"/serverinfo", nil, &info)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "attached", info.Status)
	assert.Equal(t, 100, info.AttachedPid)
}

func TestOperationsWithoutSession(t *testing.T) {
	ts, _ := testServer(t)

	var apiErr api.Error
	resp := doJSON(t, http.MethodGet, ts.URL+"/memory?address=0x1000&size=4", nil, &apiErr)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, api.ErrKindProcessDetached, apiErr.Kind)
}

func TestMalformedBody(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Post(ts.URL+"/process", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
