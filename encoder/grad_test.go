package encoder

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/params"
)

const (
	fdEps = 1e-6
	fdTol = 1e-5
)

func randDense(r, c int, scale float64, rng *rand.Rand) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] = scale * (2*rng.Float64() - 1)
		}
	}
	return m
}

func randSeq(T, B, d int, rng *rand.Rand) []*mat.Dense {
	xs := make([]*mat.Dense, T)
	for t := range xs {
		xs[t] = randDense(B, d, 1, rng)
	}
	return xs
}

// lengthMask has lens[b] leading ones in row b.
func lengthMask(T int, lens []int) *mat.Dense {
	m := mat.NewDense(len(lens), T, nil)
	for b, n := range lens {
		for t := 0; t < n; t++ {
			m.Set(b, t, 1)
		}
	}
	return m
}

// project is sum(a ⊙ w), a scalar loss with dL/da = w.
func project(a, w *mat.Dense) float64 {
	var p mat.Dense
	p.MulElem(a, w)
	return mat.Sum(&p)
}

func seqLoss(hs, ws []*mat.Dense) float64 {
	s := 0.0
	for t := range hs {
		s += project(hs[t], ws[t])
	}
	return s
}

func zeroAll(ps []*params.Param) {
	for _, p := range ps {
		p.ZeroGrad()
	}
}

// checkGrad compares every element of grad against a central difference of
// loss taken by perturbing value in place.
func checkGrad(t *testing.T, name string, value, grad *mat.Dense, loss func() float64) {
	t.Helper()
	r, c := value.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			w0 := value.At(i, j)
			value.Set(i, j, w0+fdEps)
			lp := loss()
			value.Set(i, j, w0-fdEps)
			lm := loss()
			value.Set(i, j, w0)

			num := (lp - lm) / (2 * fdEps)
			ana := grad.At(i, j)
			if math.Abs(num-ana) > fdTol*math.Max(1, math.Abs(num)) {
				t.Fatalf("%s[%d,%d] grad mismatch: num=%.8g ana=%.8g", name, i, j, num, ana)
			}
		}
	}
}

func checkParams(t *testing.T, ps []*params.Param, loss func() float64) {
	t.Helper()
	for _, p := range ps {
		checkGrad(t, p.Name, p.Value, p.Grad, loss)
	}
}

func checkInputs(t *testing.T, xs, dX []*mat.Dense, loss func() float64) {
	t.Helper()
	for s := range xs {
		checkGrad(t, fmt.Sprintf("x[%d]", s), xs[s], dX[s], loss)
	}
}
