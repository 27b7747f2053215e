package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memscout/memscout/pkg/proc"
)

func TestConvertRegionProtection(t *testing.T) {
	for _, tc := range []struct {
		r    proc.MemRegion
		want string
	}{
		{proc.MemRegion{}, "---"},
		{proc.MemRegion{Read: true}, "r--"},
		{proc.MemRegion{Read: true, Write: true}, "rw-"},
		{proc.MemRegion{Read: true, Exec: true}, "r-x"},
		{proc.MemRegion{Read: true, Write: true, Exec: true}, "rwx"},
	} {
		assert.Equal(t, tc.want, ConvertRegion(tc.r).Protection)
	}
}

func TestConvertRegion(t *testing.T) {
	out := ConvertRegion(proc.MemRegion{
		Base: 0x1000, Size: 0x2000,
		Read: true, Kind: proc.RegionModule, Module: "libc.so.6",
	})
	assert.Equal(t, uint64(0x1000), out.Start)
	assert.Equal(t, uint64(0x3000), out.End)
	assert.Equal(t, "module", out.Kind)
	assert.Equal(t, "libc.so.6", out.Module)
}

func TestParseWatchCondition(t *testing.T) {
	for s, want := range map[string]proc.WatchType{
		"read":       proc.WatchRead,
		"write":      proc.WatchWrite,
		"read-write": proc.WatchRead | proc.WatchWrite,
		"readwrite":  proc.WatchRead | proc.WatchWrite,
		"execute":    proc.WatchExec,
	} {
		got, ok := ParseWatchCondition(s)
		assert.True(t, ok, s)
		assert.Equal(t, want, got, s)
	}
	_, ok := ParseWatchCondition("sideways")
	assert.False(t, ok)
}
