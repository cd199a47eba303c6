package encoder

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/IO"
	"github.com/manningwu07/dualencoder/params"
)

// DualEncoder scores (context, response) pairs with one shared encoder and a
// bilinear head.
type DualEncoder struct {
	Cfg    params.TrainingConfig
	Emb    *IO.EmbeddingTable
	Enc    *SequenceEncoder
	Scorer *BilinearScorer
}

// Pass is one forward pass over a batch.
type Pass struct {
	Batch  IO.Batch
	Valid  []bool
	Probas []float64
	Loss   float64

	cx, rx []*mat.Dense
	ctr    *EncodeTrace
	rtr    *EncodeTrace
	str    *ScoreTrace
}

// NewDualEncoder takes ownership of U, the (|V| x dim) embedding matrix.
func NewDualEncoder(cfg params.TrainingConfig, U *mat.Dense, rng *rand.Rand) (*DualEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r, c := U.Dims(); r == 0 || c == 0 {
		return nil, fmt.Errorf("empty embedding matrix (%dx%d)", r, c)
	}
	emb := IO.NewEmbeddingTable(U)
	enc := NewSequenceEncoder(cfg, emb.Dim(), rng)
	return &DualEncoder{
		Cfg:    cfg,
		Emb:    emb,
		Enc:    enc,
		Scorer: NewBilinearScorer(enc.OutputSize()),
	}, nil
}

// Params enumerates every parameter, trainable or not, in a stable order.
// Checkpoints are keyed on the names.
func (m *DualEncoder) Params() []*params.Param {
	out := append([]*params.Param(nil), m.Enc.Params()...)
	return append(out, m.Emb.W, m.Scorer.M)
}

// Trainable is the encoder weights plus the embeddings and M when enabled.
func (m *DualEncoder) Trainable(fineTuneEmbeddings, fineTuneM bool) []*params.Param {
	out := append([]*params.Param(nil), m.Enc.Params()...)
	if fineTuneEmbeddings {
		out = append(out, m.Emb.W)
	}
	if fineTuneM {
		out = append(out, m.Scorer.M)
	}
	return out
}

// Forward encodes both towers and scores the batch.
func (m *DualEncoder) Forward(b IO.Batch) *Pass {
	p := &Pass{Batch: b, Valid: b.Valid()}
	p.cx = m.Emb.Lookup(b.Context.IDs)
	p.rx = m.Emb.Lookup(b.Response.IDs)
	c, ctr := m.Enc.Forward(p.cx, b.Context.SeqLens, b.Context.Mask)
	r, rtr := m.Enc.Forward(p.rx, b.Response.SeqLens, b.Response.Mask)
	p.ctr, p.rtr = ctr, rtr
	p.str = m.Scorer.Forward(c, r)
	p.Probas = p.str.Probas
	p.Loss = Loss(p.Probas, b.Labels, p.Valid)
	return p
}

// Backward accumulates gradients of p.Loss into every parameter; the
// embedding gradient is only filled when withEmbeddings is set.
func (m *DualEncoder) Backward(p *Pass, withEmbeddings bool) {
	dc, dr := m.Scorer.Backward(p.str, p.Batch.Labels, p.Valid)
	dcx := m.Enc.Backward(p.ctr, dc)
	drx := m.Enc.Backward(p.rtr, dr)
	if withEmbeddings {
		m.Emb.Backward(p.Batch.Context.IDs, dcx)
		m.Emb.Backward(p.Batch.Response.IDs, drx)
	}
}

// ZeroGrad clears the gradients of ps.
func ZeroGrad(ps []*params.Param) {
	for _, p := range ps {
		p.ZeroGrad()
	}
}
