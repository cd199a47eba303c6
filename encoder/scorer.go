package encoder

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/params"
	"github.com/manningwu07/dualencoder/utils"
)

// Probabilities are kept inside [ProbFloor, 1-ProbFloor] so the
// cross-entropy stays finite.
const ProbFloor = 1e-7

// BilinearScorer computes sigmoid(c · M · r) per example.
type BilinearScorer struct {
	M *params.Param
}

// NewBilinearScorer starts M at the identity.
func NewBilinearScorer(n int) *BilinearScorer {
	return &BilinearScorer{M: params.NewParam("M", utils.Identity(n), 2)}
}

// ScoreTrace caches one Forward call.
type ScoreTrace struct {
	c, r   *mat.Dense
	cm     *mat.Dense // c M
	raw    []float64  // sigmoid before clipping
	Probas []float64  // clipped match probabilities
}

func (s *BilinearScorer) Forward(c, r *mat.Dense) *ScoreTrace {
	B, _ := c.Dims()
	tr := &ScoreTrace{c: c, r: r, cm: utils.Dot(c, s.M.Value), raw: make([]float64, B), Probas: make([]float64, B)}
	for b := 0; b < B; b++ {
		dp := floats.Dot(tr.cm.RawRowView(b), r.RawRowView(b))
		tr.raw[b] = utils.Sigmoid(dp)
		tr.Probas[b] = clipProb(tr.raw[b])
	}
	return tr
}

// Score returns only the clipped probabilities.
func (s *BilinearScorer) Score(c, r *mat.Dense) []float64 {
	return s.Forward(c, r).Probas
}

func clipProb(p float64) float64 {
	return math.Min(math.Max(p, ProbFloor), 1-ProbFloor)
}

// Loss is the binary cross-entropy averaged over the rows where valid is
// true (all rows when valid is nil).
func Loss(probas []float64, labels []int, valid []bool) float64 {
	sum, n := 0.0, 0
	for b, o := range probas {
		if valid != nil && !valid[b] {
			continue
		}
		y := float64(labels[b])
		sum += -(y*math.Log(o) + (1-y)*math.Log(1-o))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Predict is 1 when the match probability beats the mismatch probability.
func Predict(p float64) int {
	if p > 1-p {
		return 1
	}
	return 0
}

// Errors counts misclassified valid rows.
func Errors(probas []float64, labels []int, valid []bool) int {
	n := 0
	for b, o := range probas {
		if valid != nil && !valid[b] {
			continue
		}
		if Predict(o) != labels[b] {
			n++
		}
	}
	return n
}

// Backward takes the gradient of Loss, accumulates dL/dM and returns dL/dc
// and dL/dr. The clip passes gradient only inside the band.
func (s *BilinearScorer) Backward(tr *ScoreTrace, labels []int, valid []bool) (dc, dr *mat.Dense) {
	B, n := tr.c.Dims()
	nValid := 0
	for b := 0; b < B; b++ {
		if valid == nil || valid[b] {
			nValid++
		}
	}
	g := make([]float64, B) // dL/d(c M r)
	for b := 0; b < B; b++ {
		if nValid == 0 || (valid != nil && !valid[b]) {
			continue
		}
		if tr.raw[b] < ProbFloor || tr.raw[b] > 1-ProbFloor {
			continue
		}
		g[b] = (tr.Probas[b] - float64(labels[b])) / float64(nValid)
	}

	rmT := utils.Dot(tr.r, s.M.Value.T()) // rows are M r_b
	dc = mat.NewDense(B, n, nil)
	dr = mat.NewDense(B, n, nil)
	for b := 0; b < B; b++ {
		if g[b] == 0 {
			continue
		}
		floats.AddScaled(dc.RawRowView(b), g[b], rmT.RawRowView(b))
		floats.AddScaled(dr.RawRowView(b), g[b], tr.cm.RawRowView(b))
	}
	// dM = cᵀ diag(g) r
	gr := mat.NewDense(B, n, nil)
	for b := 0; b < B; b++ {
		if g[b] != 0 {
			floats.AddScaled(gr.RawRowView(b), g[b], tr.r.RawRowView(b))
		}
	}
	s.M.Grad.Add(s.M.Grad, utils.Dot(tr.c.T(), gr))
	return dc, dr
}
