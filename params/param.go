package params

import "gonum.org/v1/gonum/mat"

// Param is one trainable tensor together with its gradient buffer.
//
// Rank is the logical rank of the tensor in the layer that owns it: 1 for
// biases and peepholes, 2 for weight matrices and the (1 x hidden) learned
// initial states, 4 for convolution filters (stored flattened). Optimizers use it to decide which
// parameters get column-norm clipping.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
	Rank  int
}

func NewParam(name string, value *mat.Dense, rank int) *Param {
	r, c := value.Dims()
	return &Param{Name: name, Value: value, Grad: mat.NewDense(r, c, nil), Rank: rank}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// Size is the number of scalars in the parameter.
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// CountParams sums Size over ps.
func CountParams(ps []*Param) int {
	n := 0
	for _, p := range ps {
		n += p.Size()
	}
	return n
}
