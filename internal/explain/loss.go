package explain

import (
	"fmt"

	"github.com/born-ml/saliency/internal/tensor"
)

// ClassLoss builds the class-selective scalar sum(output * onehot(class)).
// The multiply and sum run on b, so on a recording autodiff backend the
// loss is differentiable back through the network.
func ClassLoss(b tensor.Backend, output *tensor.RawTensor, class int) (*tensor.RawTensor, error) {
	shape := output.Shape()
	if len(shape) == 0 {
		return nil, fmt.Errorf("class loss: output is a scalar")
	}
	classes := shape[len(shape)-1]
	if class < 0 || class >= classes {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrClassOutOfRange, class, classes)
	}

	mask, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	m := mask.AsFloat32()
	for i := class; i < len(m); i += classes {
		m[i] = 1
	}
	return b.Sum(b.Mul(output, mask)), nil
}
