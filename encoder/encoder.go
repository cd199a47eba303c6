package encoder

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/params"
)

// SequenceEncoder maps a padded, masked embedding sequence to one vector per
// example. Both towers of the dual encoder share a single instance.
type SequenceEncoder struct {
	Fwd  Recurrent
	Bwd  Recurrent // nil unless bidirectional
	Conv *ConvPool // nil unless convolution is enabled
}

// EncodeTrace caches one Forward call for Backward.
type EncodeTrace struct {
	fwd, bwd *Trace
	conv     *convTrace
	seqlens  []int
	mask     *mat.Dense
}

func NewSequenceEncoder(cfg params.TrainingConfig, in int, rng *rand.Rand) *SequenceEncoder {
	mk := func(name string, backwards bool) Recurrent {
		if cfg.UseLSTM {
			return NewLSTM(name, in, cfg.HiddenSize, backwards, rng)
		}
		return NewRNN(name, in, cfg.HiddenSize, backwards, rng)
	}
	e := &SequenceEncoder{}
	if cfg.IsBidirectional {
		e.Fwd = mk("fwd", false)
		e.Bwd = mk("bwd", true)
	} else {
		e.Fwd = mk("rec", false)
	}
	if cfg.UseConv {
		e.Conv = NewConvPool(e.RecurrentSize(), cfg.NumFilters, cfg.HiddenSize, cfg.FilterSizes, rng)
	}
	return e
}

// RecurrentSize is the width of the per-step recurrent output.
func (e *SequenceEncoder) RecurrentSize() int {
	if e.Bwd != nil {
		return e.Fwd.HiddenSize() + e.Bwd.HiddenSize()
	}
	return e.Fwd.HiddenSize()
}

// OutputSize is the width of the final representation.
func (e *SequenceEncoder) OutputSize() int {
	if e.Conv != nil {
		return e.Conv.Out
	}
	return e.RecurrentSize()
}

// Params lists the convolution/dense weights first, then the recurrent ones.
func (e *SequenceEncoder) Params() []*params.Param {
	var out []*params.Param
	if e.Conv != nil {
		out = append(out, e.Conv.Params()...)
	}
	out = append(out, e.Fwd.Params()...)
	if e.Bwd != nil {
		out = append(out, e.Bwd.Params()...)
	}
	return out
}

// Forward encodes xs (time-major, each batch x dim). seqlens[i] is the index
// of the last real token of row i.
func (e *SequenceEncoder) Forward(xs []*mat.Dense, seqlens []int, mask *mat.Dense) (*mat.Dense, *EncodeTrace) {
	tr := &EncodeTrace{seqlens: seqlens, mask: mask}
	tr.fwd = e.Fwd.Forward(xs, mask)
	if e.Bwd != nil {
		tr.bwd = e.Bwd.Forward(xs, mask)
	}

	if e.Conv != nil {
		zs := make([]*mat.Dense, len(xs))
		for t := range zs {
			zs[t] = e.maskedStep(tr, t)
		}
		out, ct := e.Conv.Forward(zs)
		tr.conv = ct
		return out, tr
	}
	return e.gatherFinal(tr), tr
}

// maskedStep concatenates the directions at step t and zeroes padded rows.
func (e *SequenceEncoder) maskedStep(tr *EncodeTrace, t int) *mat.Dense {
	B, _ := tr.mask.Dims()
	hf := e.Fwd.HiddenSize()
	z := mat.NewDense(B, e.RecurrentSize(), nil)
	for b := 0; b < B; b++ {
		if tr.mask.At(b, t) == 0 {
			continue
		}
		row := z.RawRowView(b)
		copy(row[:hf], tr.fwd.H[t].RawRowView(b))
		if tr.bwd != nil {
			copy(row[hf:], tr.bwd.H[t].RawRowView(b))
		}
	}
	return z
}

// gatherFinal picks the forward state at seqlens[b] and, when bidirectional,
// the backward state at position 0, which is where the right-to-left pass
// has consumed the whole sequence.
func (e *SequenceEncoder) gatherFinal(tr *EncodeTrace) *mat.Dense {
	B, _ := tr.mask.Dims()
	hf := e.Fwd.HiddenSize()
	out := mat.NewDense(B, e.RecurrentSize(), nil)
	for b := 0; b < B; b++ {
		row := out.RawRowView(b)
		copy(row[:hf], tr.fwd.H[lastIndex(tr.seqlens[b])].RawRowView(b))
		if tr.bwd != nil {
			copy(row[hf:], tr.bwd.H[0].RawRowView(b))
		}
	}
	return out
}

// An empty row has seqlen -1; its state is the carried initial state, which
// every position holds, so position 0 is used.
func lastIndex(seqlen int) int {
	if seqlen < 0 {
		return 0
	}
	return seqlen
}

// Backward accumulates parameter gradients and returns dL/dxs.
func (e *SequenceEncoder) Backward(tr *EncodeTrace, dRep *mat.Dense) []*mat.Dense {
	T := len(tr.fwd.H)
	B, _ := tr.mask.Dims()
	hf := e.Fwd.HiddenSize()
	dHf := make([]*mat.Dense, T)
	var dHb []*mat.Dense
	if tr.bwd != nil {
		dHb = make([]*mat.Dense, T)
	}

	if e.Conv != nil {
		dZ := e.Conv.Backward(tr.conv, dRep)
		for t := 0; t < T; t++ {
			df := mat.NewDense(B, hf, nil)
			var db *mat.Dense
			if dHb != nil {
				db = mat.NewDense(B, e.Bwd.HiddenSize(), nil)
			}
			for b := 0; b < B; b++ {
				if tr.mask.At(b, t) == 0 {
					continue
				}
				row := dZ[t].RawRowView(b)
				copy(df.RawRowView(b), row[:hf])
				if db != nil {
					copy(db.RawRowView(b), row[hf:])
				}
			}
			dHf[t] = df
			if dHb != nil {
				dHb[t] = db
			}
		}
	} else {
		for b := 0; b < B; b++ {
			row := dRep.RawRowView(b)
			t := lastIndex(tr.seqlens[b])
			if dHf[t] == nil {
				dHf[t] = mat.NewDense(B, hf, nil)
			}
			copy(dHf[t].RawRowView(b), row[:hf])
			if dHb != nil {
				if dHb[0] == nil {
					dHb[0] = mat.NewDense(B, e.Bwd.HiddenSize(), nil)
				}
				copy(dHb[0].RawRowView(b), row[hf:])
			}
		}
	}

	dX := e.Fwd.Backward(tr.fwd, dHf)
	if tr.bwd != nil {
		dXb := e.Bwd.Backward(tr.bwd, dHb)
		for t := range dX {
			dX[t].Add(dX[t], dXb[t])
		}
	}
	return dX
}
