package utils

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix functions used by the encoder and the optimizers.
// Activations are batch-major: rows are examples, columns are features.

func Dot(m, n mat.Matrix) *mat.Dense {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Mul(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func Multiply(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func Add(m, n mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

// AddRowVector adds the (1 x c) bias to every row of m in place.
func AddRowVector(m, bias *mat.Dense) {
	r, c := m.Dims()
	if br, bc := bias.Dims(); br != 1 || bc != c {
		panic("AddRowVector: bias must be (1 x c)")
	}
	b := bias.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), b)
	}
}

// SumRows accumulates the column sums of m into the (1 x c) dst.
func SumRows(dst, m *mat.Dense) {
	r, c := m.Dims()
	if dr, dc := dst.Dims(); dr != 1 || dc != c {
		panic("SumRows: dst must be (1 x c)")
	}
	d := dst.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(d, m.RawRowView(i))
	}
}

// ---------- Activations ----------

func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1.0 / (1.0 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1.0 + e)
}

func TanhApply(i, j int, x float64) float64 { return math.Tanh(x) }

// TanhPrimeFromOutput returns 1 - y^2 elementwise, y = tanh(x).
func TanhPrimeFromOutput(y mat.Matrix) *mat.Dense {
	return Apply(func(i, j int, v float64) float64 { return 1 - v*v }, y)
}

// ---------- Norms ----------

// ColumnNorms returns the L2 norm of every column of m.
func ColumnNorms(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, m)
		out[j] = floats.Norm(col, 2)
	}
	return out
}

// HasNaN reports whether any element of m is NaN.
func HasNaN(m *mat.Dense) bool {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		if floats.HasNaN(m.RawRowView(i)) {
			return true
		}
	}
	return false
}
