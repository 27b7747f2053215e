package scan

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// ValueType is the declared type of the value being scanned for. It fixes
// the width of every read and how literals are coerced; the type is chosen
// when the scan starts and never inferred afterwards.
type ValueType uint8

const (
	Int8 ValueType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
)

var valueTypeNames = map[ValueType]string{
	Int8: "int8", Int16: "int16", Int32: "int32", Int64: "int64",
	Uint8: "uint8", Uint16: "uint16", Uint32: "uint32", Uint64: "uint64",
	Float32: "float32", Float64: "float64",
}

func (t ValueType) String() string {
	if s, ok := valueTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ValueType(%d)", t)
}

// Size returns the width in bytes of a value of this type.
func (t ValueType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	}
	return 8
}

func (t ValueType) signed() bool {
	return t == Int8 || t == Int16 || t == Int32 || t == Int64
}

func (t ValueType) float() bool {
	return t == Float32 || t == Float64
}

// ParseValueType parses a wire name such as "int32" into a ValueType.
func ParseValueType(s string) (ValueType, error) {
	for t, name := range valueTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}

// CompareKind selects the predicate a scan round evaluates.
type CompareKind uint8

const (
	// Exact matches values equal to the literal.
	Exact CompareKind = iota
	// InRange matches values in [lo, hi].
	InRange
	// Changed matches values that differ from the previously stored value.
	Changed
	// Unchanged matches values equal to the previously stored value.
	Unchanged
	// Increased matches values greater than the previously stored value.
	Increased
	// Decreased matches values smaller than the previously stored value.
	Decreased
)

var compareKindNames = map[CompareKind]string{
	Exact: "exact", InRange: "inrange", Changed: "changed",
	Unchanged: "unchanged", Increased: "increased", Decreased: "decreased",
}

func (k CompareKind) String() string {
	if s, ok := compareKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("CompareKind(%d)", k)
}

// Trend returns true for kinds that compare against each candidate's
// previously stored value instead of a literal.
func (k CompareKind) Trend() bool {
	return k == Changed || k == Unchanged || k == Increased || k == Decreased
}

// ParseCompareKind parses a wire name such as "exact" into a CompareKind.
func ParseCompareKind(s string) (CompareKind, error) {
	for k, name := range compareKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown comparison %q", s)
}

// Floating point equality uses a fixed absolute epsilon per width.
const (
	Epsilon32 = 1e-5
	Epsilon64 = 1e-9
)

// Comparison is a fully coerced predicate: literals have been parsed
// against the scan's declared value type.
type Comparison struct {
	Kind CompareKind

	loI, hiI int64
	loU, hiU uint64
	loF, hiF float64
}

// ParseComparison coerces the string literals lo (and hi, for InRange)
// against the declared value type. Trend kinds take no literal.
func ParseComparison(t ValueType, kind CompareKind, lo, hi string) (Comparison, error) {
	cmp := Comparison{Kind: kind}
	if kind.Trend() {
		return cmp, nil
	}
	var err error
	parse := func(s string) (i int64, u uint64, f float64, err error) {
		switch {
		case t.float():
			f, err = strconv.ParseFloat(s, 64)
		case t.signed():
			i, err = strconv.ParseInt(s, 0, t.Size()*8)
		default:
			u, err = strconv.ParseUint(s, 0, t.Size()*8)
		}
		return
	}
	if cmp.loI, cmp.loU, cmp.loF, err = parse(lo); err != nil {
		return cmp, fmt.Errorf("bad literal %q for %s: %v", lo, t, err)
	}
	if kind == InRange {
		if cmp.hiI, cmp.hiU, cmp.hiF, err = parse(hi); err != nil {
			return cmp, fmt.Errorf("bad literal %q for %s: %v", hi, t, err)
		}
	}
	return cmp, nil
}

func decodeInt(t ValueType, b []byte) int64 {
	switch t {
	case Int8:
		return int64(int8(b[0]))
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func decodeUint(t ValueType, b []byte) uint64 {
	switch t {
	case Uint8:
		return uint64(b[0])
	case Uint16:
		return uint64(binary.LittleEndian.Uint16(b))
	case Uint32:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

func decodeFloat(t ValueType, b []byte) float64 {
	if t == Float32 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (t ValueType) epsilon() float64 {
	if t == Float32 {
		return Epsilon32
	}
	return Epsilon64
}

// eval evaluates cmp over the current window cur. prev is the candidate's
// previously stored value; it is nil on a first scan, where trend kinds
// match unconditionally and record a baseline.
func eval(t ValueType, cmp Comparison, cur, prev []byte) bool {
	if cmp.Kind.Trend() && prev == nil {
		return true
	}
	switch {
	case t.float():
		v := decodeFloat(t, cur)
		eps := t.epsilon()
		switch cmp.Kind {
		case Exact:
			return math.Abs(v-cmp.loF) < eps
		case InRange:
			return v >= cmp.loF && v <= cmp.hiF
		}
		p := decodeFloat(t, prev)
		switch cmp.Kind {
		case Changed:
			return math.Abs(v-p) >= eps
		case Unchanged:
			return math.Abs(v-p) < eps
		case Increased:
			return v > p
		case Decreased:
			return v < p
		}
	case t.signed():
		v := decodeInt(t, cur)
		switch cmp.Kind {
		case Exact:
			return v == cmp.loI
		case InRange:
			return v >= cmp.loI && v <= cmp.hiI
		}
		p := decodeInt(t, prev)
		switch cmp.Kind {
		case Changed:
			return v != p
		case Unchanged:
			return v == p
		case Increased:
			return v > p
		case Decreased:
			return v < p
		}
	default:
		v := decodeUint(t, cur)
		switch cmp.Kind {
		case Exact:
			return v == cmp.loU
		case InRange:
			return v >= cmp.loU && v <= cmp.hiU
		}
		p := decodeUint(t, prev)
		switch cmp.Kind {
		case Changed:
			return v != p
		case Unchanged:
			return v == p
		case Increased:
			return v > p
		case Decreased:
			return v < p
		}
	}
	return false
}
