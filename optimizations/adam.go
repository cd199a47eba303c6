package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/params"
	"github.com/manningwu07/dualencoder/utils"
)

// Adam keeps first/second moment estimates per parameter. The first-moment
// coefficient decays as beta1_t = beta1 * gamma^(t-1). Gradients go through
// Clip before the moment update.
type Adam struct {
	LR, Beta1, Beta2, Eps, Gamma float64
	Clip                         GradClip

	t      int // next step number, starts at 1
	params []*params.Param
	m, v   []*mat.Dense
}

func NewAdam(ps []*params.Param, cfg params.TrainingConfig) *Adam {
	a := &Adam{
		LR:     cfg.LearningRate,
		Beta1:  cfg.AdamBeta1,
		Beta2:  cfg.AdamBeta2,
		Eps:    cfg.AdamEps,
		Gamma:  cfg.AdamGamma,
		Clip:   GradClip{Bound: cfg.GradClip, Fill: cfg.NaNFill},
		t:      1,
		params: ps,
	}
	for _, p := range ps {
		a.m = append(a.m, utils.ZerosLike(p.Value))
		a.v = append(a.v, utils.ZerosLike(p.Value))
	}
	return a
}

func (a *Adam) Name() string { return "adam" }
func (a *Adam) Params() []*params.Param { return a.params }
func (a *Adam) StepCount() int { return a.t - 1 }

// Step applies one update to every owned parameter from its Grad.
func (a *Adam) Step() {
	b1t := a.Beta1 * math.Pow(a.Gamma, float64(a.t-1))
	for i, p := range a.params {
		a.Clip.Apply(p.Grad)
		AdamUpdateInPlace(p.Value, p.Grad, a.m[i], a.v[i], a.t, a.LR, b1t, a.Beta1, a.Beta2, a.Eps)
	}
	a.t++
}

// AdamUpdateInPlace applies
//
//	m = b1t*m + (1-b1t)*g
//	v = beta2*v + (1-beta2)*g^2
//	p -= lr * (m/(1-beta1^t)) / (sqrt(v/(1-beta2^t)) + eps)
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, b1t, beta1, beta2, eps float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("AdamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("AdamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("AdamUpdateInPlace: v shape mismatch")
	}
	c1 := 1.0 / (1.0 - math.Pow(beta1, float64(t)))
	c2 := 1.0 / (1.0 - math.Pow(beta2, float64(t)))
	for i := 0; i < pr; i++ {
		prow, grow := p.RawRowView(i), g.RawRowView(i)
		mrow, vrow := m.RawRowView(i), v.RawRowView(i)
		for j := 0; j < pc; j++ {
			gij := grow[j]
			mrow[j] = b1t*mrow[j] + (1.0-b1t)*gij
			vrow[j] = beta2*vrow[j] + (1.0-beta2)*gij*gij
			mhat := mrow[j] * c1
			vhat := vrow[j] * c2
			prow[j] -= lr * mhat / (math.Sqrt(vhat) + eps)
		}
	}
}
