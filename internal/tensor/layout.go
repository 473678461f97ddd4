package tensor

import "fmt"

// Layout is the axis order of a 4D image or activation tensor.
type Layout int

const (
	// NCHW is channels-first: [batch, channels, height, width].
	NCHW Layout = iota
	// NHWC is channels-last: [batch, height, width, channels].
	NHWC
)

// ParseLayout accepts "nchw"/"channels_first" and "nhwc"/"channels_last".
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "nchw", "NCHW", "channels_first":
		return NCHW, nil
	case "nhwc", "NHWC", "channels_last":
		return NHWC, nil
	}
	return NCHW, fmt.Errorf("unknown layout %q", s)
}

func (l Layout) String() string {
	if l == NHWC {
		return "NHWC"
	}
	return "NCHW"
}

// ChannelAxis returns the index of the channel axis in a 4D tensor.
func (l Layout) ChannelAxis() int {
	if l == NHWC {
		return 3
	}
	return 1
}

// Dims splits a 4D shape into batch, channels, height and width.
func (l Layout) Dims(s Shape) (n, c, h, w int, err error) {
	if len(s) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("expected a 4D %s tensor, got shape %v", l, s)
	}
	if l == NHWC {
		return s[0], s[3], s[1], s[2], nil
	}
	return s[0], s[1], s[2], s[3], nil
}

// Index returns the flat offset of (n, c, y, x) in a contiguous tensor of
// shape s.
func (l Layout) Index(s Shape, n, c, y, x int) int {
	if l == NHWC {
		return ((n*s[1]+y)*s[2]+x)*s[3] + c
	}
	return ((n*s[1]+c)*s[2]+y)*s[3] + x
}
