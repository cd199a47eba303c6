package utils

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

func UniformArray(size int, min, max float64, rng *rand.Rand) []float64 {
	d := distuv.Uniform{Min: min, Max: max, Src: rng}
	out := make([]float64, size)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}

// GlorotUniform draws a (r x c) matrix with the Glorot/Xavier uniform bound.
func GlorotUniform(r, c int, rng *rand.Rand) *mat.Dense {
	lim := math.Sqrt(6.0 / float64(r+c))
	return mat.NewDense(r, c, UniformArray(r*c, -lim, lim, rng))
}

// Orthogonal returns a (r x c) matrix with orthonormal rows or columns,
// taken from the QR decomposition of a Gaussian matrix.
func Orthogonal(r, c int, rng *rand.Rand) *mat.Dense {
	n, k := r, c
	if n < k {
		n, k = k, n
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	a := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			a.Set(i, j, norm.Rand())
		}
	}
	var qr mat.QR
	qr.Factorize(a)
	var q mat.Dense
	qr.QTo(&q)
	var rr mat.Dense
	qr.RTo(&rr)

	// sign-correct so the distribution is uniform over orthogonal matrices
	out := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		s := 1.0
		if rr.At(j, j) < 0 {
			s = -1.0
		}
		for i := 0; i < n; i++ {
			out.Set(i, j, s*q.At(i, j))
		}
	}
	if r < c {
		return mat.DenseCopyOf(out.T())
	}
	return out
}

func Identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func ZerosLike(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}
