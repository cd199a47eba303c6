package encoder

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/params"
	"github.com/manningwu07/dualencoder/utils"
)

// ConvPool extracts n-gram features from a (time x features) sequence:
// for each window width w, NumFilters ReLU filters spanning the full feature
// width slide over time, are max-pooled over every valid position, and the
// pooled vectors of all widths feed one dense tanh layer.
type ConvPool struct {
	Features, NumFilters, Out int
	Widths                    []int

	Filters []*params.Param // per width, (NumFilters x w*Features)
	Biases  []*params.Param // per width, (1 x NumFilters)
	Dense   *params.Param   // (len(Widths)*NumFilters x Out)
	DenseB  *params.Param   // (1 x Out)
}

type convTrace struct {
	zs     []*mat.Dense // masked input steps
	argmax [][]int      // per width, B*NumFilters window starts
	pooled *mat.Dense   // (B x len(Widths)*NumFilters)
	out    *mat.Dense
}

func NewConvPool(features, numFilters, out int, widths []int, rng *rand.Rand) *ConvPool {
	cp := &ConvPool{
		Features:   features,
		NumFilters: numFilters,
		Out:        out,
		Widths:     append([]int(nil), widths...),
	}
	for _, w := range widths {
		fanIn := w * features
		fanOut := numFilters * w * features
		lim := math.Sqrt(6.0 / float64(fanIn+fanOut))
		f := mat.NewDense(numFilters, fanIn, utils.UniformArray(numFilters*fanIn, -lim, lim, rng))
		cp.Filters = append(cp.Filters, params.NewParam(convName(w, "W"), f, 4))
		cp.Biases = append(cp.Biases, params.NewParam(convName(w, "b"), mat.NewDense(1, numFilters, nil), 1))
	}
	cp.Dense = params.NewParam("dense.W", utils.GlorotUniform(len(widths)*numFilters, out, rng), 2)
	cp.DenseB = params.NewParam("dense.b", mat.NewDense(1, out, nil), 1)
	return cp
}

func convName(w int, what string) string {
	return fmt.Sprintf("conv%d.%s", w, what)
}

func (cp *ConvPool) Params() []*params.Param {
	out := make([]*params.Param, 0, 2*len(cp.Widths)+2)
	for i := range cp.Widths {
		out = append(out, cp.Filters[i], cp.Biases[i])
	}
	return append(out, cp.Dense, cp.DenseB)
}

// window copies steps [s, s+w) of row b into dst.
func window(dst []float64, zs []*mat.Dense, b, s, w, features int) {
	for k := 0; k < w; k++ {
		copy(dst[k*features:(k+1)*features], zs[s+k].RawRowView(b))
	}
}

func (cp *ConvPool) Forward(zs []*mat.Dense) (*mat.Dense, *convTrace) {
	T := len(zs)
	B, _ := zs[0].Dims()
	nf := cp.NumFilters
	tr := &convTrace{
		zs:     zs,
		argmax: make([][]int, len(cp.Widths)),
		pooled: mat.NewDense(B, len(cp.Widths)*nf, nil),
	}
	for wi, w := range cp.Widths {
		filt := cp.Filters[wi].Value
		bias := cp.Biases[wi].Value.RawRowView(0)
		arg := make([]int, B*nf)
		best := make([]float64, B*nf)
		for i := range best {
			best[i] = math.Inf(-1)
		}
		win := mat.NewDense(B, w*cp.Features, nil)
		for s := 0; s+w <= T; s++ {
			for b := 0; b < B; b++ {
				window(win.RawRowView(b), zs, b, s, w, cp.Features)
			}
			y := utils.Dot(win, filt.T()) // (B x nf)
			for b := 0; b < B; b++ {
				yr := y.RawRowView(b)
				for f := 0; f < nf; f++ {
					v := math.Max(0, yr[f]+bias[f])
					if v > best[b*nf+f] {
						best[b*nf+f] = v
						arg[b*nf+f] = s
					}
				}
			}
		}
		for b := 0; b < B; b++ {
			copy(tr.pooled.RawRowView(b)[wi*nf:(wi+1)*nf], best[b*nf:(b+1)*nf])
		}
		tr.argmax[wi] = arg
	}

	a := utils.Dot(tr.pooled, cp.Dense.Value)
	utils.AddRowVector(a, cp.DenseB.Value)
	tr.out = utils.Apply(utils.TanhApply, a)
	return tr.out, tr
}

// Backward returns dL/dz per step.
func (cp *ConvPool) Backward(tr *convTrace, dOut *mat.Dense) []*mat.Dense {
	T := len(tr.zs)
	B, _ := tr.zs[0].Dims()
	nf := cp.NumFilters
	F := cp.Features

	da := utils.Multiply(dOut, utils.TanhPrimeFromOutput(tr.out))
	cp.Dense.Grad.Add(cp.Dense.Grad, utils.Dot(tr.pooled.T(), da))
	utils.SumRows(cp.DenseB.Grad, da)
	dPooled := utils.Dot(da, cp.Dense.Value.T())

	dZ := make([]*mat.Dense, T)
	for t := range dZ {
		dZ[t] = mat.NewDense(B, F, nil)
	}
	for wi, w := range cp.Widths {
		filt := cp.Filters[wi]
		bg := cp.Biases[wi].Grad.RawRowView(0)
		win := make([]float64, w*F)
		for b := 0; b < B; b++ {
			pr := tr.pooled.RawRowView(b)
			dr := dPooled.RawRowView(b)
			for f := 0; f < nf; f++ {
				g := dr[wi*nf+f]
				// pooled value 0 means the ReLU was closed at every position
				if g == 0 || pr[wi*nf+f] <= 0 {
					continue
				}
				s := tr.argmax[wi][b*nf+f]
				window(win, tr.zs, b, s, w, F)
				floats.AddScaled(filt.Grad.RawRowView(f), g, win)
				bg[f] += g
				wr := filt.Value.RawRowView(f)
				for k := 0; k < w; k++ {
					floats.AddScaled(dZ[s+k].RawRowView(b), g, wr[k*F:(k+1)*F])
				}
			}
		}
	}
	return dZ
}
