// Package problem describes a convolution problem instance and derives the
// canonical fingerprint used as a performance database key.
package problem

import (
	"fmt"
	"strings"
)

type DataType uint8

const (
	F32 DataType = iota
	F16
	BF16
	I8
)

func (d DataType) String() string {
	switch d {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case BF16:
		return "BF16"
	case I8:
		return "I8"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(d))
	}
}

// Size returns the element size in bytes.
func (d DataType) Size() int {
	switch d {
	case F32:
		return 4
	case F16, BF16:
		return 2
	case I8:
		return 1
	default:
		return 0
	}
}

// ParseDataType maps a user-facing type name to a DataType. Common aliases
// are accepted; matching is case-insensitive.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "F32", "FP32", "FLOAT":
		return F32, nil
	case "F16", "FP16", "HALF":
		return F16, nil
	case "BF16", "BFP16":
		return BF16, nil
	case "I8", "INT8":
		return I8, nil
	default:
		return 0, fmt.Errorf("problem: unknown data type %q", s)
	}
}

type Layout uint8

const (
	NCHW Layout = iota
	NHWC
)

func (l Layout) String() string {
	switch l {
	case NCHW:
		return "NCHW"
	case NHWC:
		return "NHWC"
	default:
		return fmt.Sprintf("Layout(%d)", uint8(l))
	}
}

func ParseLayout(s string) (Layout, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NCHW":
		return NCHW, nil
	case "NHWC":
		return NHWC, nil
	default:
		return 0, fmt.Errorf("problem: unknown layout %q", s)
	}
}

type Direction uint8

const (
	Forward Direction = iota
	BackwardData
	BackwardWeights
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "F"
	case BackwardData:
		return "BD"
	case BackwardWeights:
		return "BW"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "F", "FWD", "FORWARD":
		return Forward, nil
	case "BD", "BWD-DATA", "BACKWARD-DATA":
		return BackwardData, nil
	case "BW", "BWD-WEIGHTS", "BACKWARD-WEIGHTS":
		return BackwardWeights, nil
	default:
		return 0, fmt.Errorf("problem: unknown direction %q", s)
	}
}

// Description is an immutable 2D convolution problem: shapes, types, layout
// and direction. All fields are comparable, so two descriptions are equal
// iff every field matches.
type Description struct {
	Batch       int
	InChannels  int
	InHeight    int
	InWidth     int
	OutChannels int
	FilterH     int
	FilterW     int
	PadH        int
	PadW        int
	StrideH     int
	StrideW     int
	DilationH   int
	DilationW   int
	Groups      int

	InType      DataType
	WeightsType DataType
	OutType     DataType

	Layout    Layout
	Direction Direction
}

// Validate reports whether the description is internally consistent.
func (d *Description) Validate() error {
	switch {
	case d.Batch <= 0 || d.InChannels <= 0 || d.OutChannels <= 0:
		return fmt.Errorf("problem: non-positive tensor dimension")
	case d.InHeight <= 0 || d.InWidth <= 0 || d.FilterH <= 0 || d.FilterW <= 0:
		return fmt.Errorf("problem: non-positive spatial dimension")
	case d.StrideH <= 0 || d.StrideW <= 0 || d.DilationH <= 0 || d.DilationW <= 0:
		return fmt.Errorf("problem: non-positive stride or dilation")
	case d.PadH < 0 || d.PadW < 0:
		return fmt.Errorf("problem: negative padding")
	case d.Groups <= 0:
		return fmt.Errorf("problem: non-positive group count")
	case d.InChannels%d.Groups != 0 || d.OutChannels%d.Groups != 0:
		return fmt.Errorf("problem: channels not divisible by group count %d", d.Groups)
	}
	if d.OutHeight() <= 0 || d.OutWidth() <= 0 {
		return fmt.Errorf("problem: filter does not fit input")
	}
	return nil
}

func (d *Description) OutHeight() int {
	return (d.InHeight+2*d.PadH-d.DilationH*(d.FilterH-1)-1)/d.StrideH + 1
}

func (d *Description) OutWidth() int {
	return (d.InWidth+2*d.PadW-d.DilationW*(d.FilterW-1)-1)/d.StrideW + 1
}

// OutputElements is the total element count of the output tensor, used by
// cost-model gates.
func (d *Description) OutputElements() int64 {
	return int64(d.Batch) * int64(d.OutChannels) * int64(d.OutHeight()) * int64(d.OutWidth())
}

// IsSameType reports whether input, weights and output share one data type.
func (d *Description) IsSameType() bool {
	return d.InType == d.WeightsType && d.WeightsType == d.OutType
}

func (d *Description) IsUnitStride() bool {
	return d.StrideH == 1 && d.StrideW == 1
}

func (d *Description) IsUnitDilation() bool {
	return d.DilationH == 1 && d.DilationW == 1
}

// Fingerprint is the canonical database key for one problem on one device.
type Fingerprint struct {
	Arch string
	Desc Description
}

// Key renders the fingerprint in its canonical text form. The encoding is
// stable across releases: database files depend on it.
func (f Fingerprint) Key() string {
	d := &f.Desc
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:%dx%dx%dx%d-%dx%dx%d", f.Arch,
		d.Batch, d.InChannels, d.InHeight, d.InWidth,
		d.OutChannels, d.FilterH, d.FilterW)
	fmt.Fprintf(&sb, "-p%dx%d-s%dx%d-d%dx%d-g%d",
		d.PadH, d.PadW, d.StrideH, d.StrideW, d.DilationH, d.DilationW, d.Groups)
	fmt.Fprintf(&sb, "-%s%s%s-%s-%s",
		d.InType, d.WeightsType, d.OutType, d.Layout, d.Direction)
	return sb.String()
}

func (f Fingerprint) String() string { return f.Key() }
