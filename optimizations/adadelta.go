package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/params"
	"github.com/manningwu07/dualencoder/utils"
)

// Adadelta keeps running averages of squared gradients and squared updates.
// After each step every rank-2 parameter except the embedding table has its
// columns rescaled to an L2 norm of at most sqrt(NormLim).
type Adadelta struct {
	Rho, Eps, NormLim float64

	params       []*params.Param
	expSG, expSU []*mat.Dense
	steps        int
}

func NewAdadelta(ps []*params.Param, cfg params.TrainingConfig) *Adadelta {
	a := &Adadelta{
		Rho:     cfg.LearningRateDecay,
		Eps:     cfg.AdadeltaEps,
		NormLim: cfg.SquaredNormLimit,
		params:  ps,
	}
	for _, p := range ps {
		a.expSG = append(a.expSG, utils.ZerosLike(p.Value))
		a.expSU = append(a.expSU, utils.ZerosLike(p.Value))
	}
	return a
}

func (a *Adadelta) Name() string { return "adadelta" }
func (a *Adadelta) Params() []*params.Param { return a.params }
func (a *Adadelta) StepCount() int { return a.steps }

func (a *Adadelta) Step() {
	for i, p := range a.params {
		AdadeltaUpdateInPlace(p.Value, p.Grad, a.expSG[i], a.expSU[i], a.Rho, a.Eps)
		if p.Rank == 2 && p.Name != params.EmbeddingName {
			ClipColumnNorms(p.Value, math.Sqrt(a.NormLim))
		}
	}
	a.steps++
}

// AdadeltaUpdateInPlace applies
//
//	sg = rho*sg + (1-rho)*g^2
//	step = -sqrt(su+eps)/sqrt(sg+eps) * g
//	su = rho*su + (1-rho)*step^2
//	p += step
func AdadeltaUpdateInPlace(p, g, sg, su *mat.Dense, rho, eps float64) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("AdadeltaUpdateInPlace: grad shape mismatch")
	}
	for i := 0; i < pr; i++ {
		prow, grow := p.RawRowView(i), g.RawRowView(i)
		sgrow, surow := sg.RawRowView(i), su.RawRowView(i)
		for j := 0; j < pc; j++ {
			gij := grow[j]
			sgrow[j] = rho*sgrow[j] + (1-rho)*gij*gij
			step := -(math.Sqrt(surow[j]+eps) / math.Sqrt(sgrow[j]+eps)) * gij
			surow[j] = rho*surow[j] + (1-rho)*step*step
			prow[j] += step
		}
	}
}

// ClipColumnNorms scales each column of p by min(n, maxNorm)/(1e-7+n), n the
// column's L2 norm.
func ClipColumnNorms(p *mat.Dense, maxNorm float64) {
	norms := utils.ColumnNorms(p)
	r, _ := p.Dims()
	for j, n := range norms {
		scale := math.Min(n, maxNorm) / (1e-7 + n)
		for i := 0; i < r; i++ {
			p.Set(i, j, p.At(i, j)*scale)
		}
	}
}
