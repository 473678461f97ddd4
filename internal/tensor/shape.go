package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements. A scalar (empty shape)
// has one element.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal reports whether two shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides: stride[i] is the product of
// all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// Squeeze drops every leading dimension of size 1, keeping at least one axis.
//
//	[1, 1, 224, 224, 3] -> [224, 224, 3]
func (s Shape) Squeeze() Shape {
	i := 0
	for i < len(s)-1 && s[i] == 1 {
		i++
	}
	return s[i:].Clone()
}

// NormalizeAxis maps a possibly negative axis into [0, rank).
func NormalizeAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, fmt.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return axis, nil
}

// BroadcastShapes implements NumPy broadcasting: shapes are aligned from the
// right and a dimension of 1 stretches to match the other operand.
//
// It returns the result shape and whether any stretching was needed.
//
//	(3, 1) + (3, 5) -> (3, 5), true
//	(1, C, 1, 1) + (N, C, H, W) -> (N, C, H, W), true
//	(3, 4) + (3, 5) -> error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	rank := max(len(a), len(b))
	result := make(Shape, rank)
	stretched := len(a) != len(b)

	for i := 0; i < rank; i++ {
		aDim := dimFromRight(a, i)
		bDim := dimFromRight(b, i)

		switch {
		case aDim == bDim:
			result[rank-1-i] = aDim
		case aDim == 1:
			result[rank-1-i] = bDim
			stretched = true
		case bDim == 1:
			result[rank-1-i] = aDim
			stretched = true
		default:
			return nil, false, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, rank-1-i, aDim, bDim)
		}
	}

	return result, stretched, nil
}

// BroadcastStrides returns strides that read a tensor of shape s as if it had
// shape out: broadcast dimensions get stride 0.
func BroadcastStrides(s, out Shape) []int {
	strides := make([]int, len(out))
	src := s.ComputeStrides()
	offset := len(out) - len(s)
	for i := range out {
		j := i - offset
		if j < 0 || s[j] == 1 {
			continue
		}
		strides[i] = src[j]
	}
	return strides
}

func dimFromRight(s Shape, i int) int {
	idx := len(s) - 1 - i
	if idx < 0 {
		return 1
	}
	return s[idx]
}
