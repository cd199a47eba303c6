package encoder

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/manningwu07/dualencoder/params"
	"github.com/manningwu07/dualencoder/utils"
)

// Recurrent runs over a time-major sequence of (batch x in) steps and returns
// the per-step hidden states. Masked steps carry the previous state forward
// unchanged. Forward returns a Trace so the same weights can serve several
// sequences before Backward is called on each.
type Recurrent interface {
	Forward(xs []*mat.Dense, mask *mat.Dense) *Trace
	// Backward takes dL/dH per step (nil entries mean zero), accumulates
	// parameter gradients and returns dL/dX per step.
	Backward(tr *Trace, dH []*mat.Dense) []*mat.Dense
	Params() []*params.Param
	HiddenSize() int
}

// Trace is the backprop cache of one Recurrent.Forward call.
type Trace struct {
	H     []*mat.Dense // output state after each step, in time order
	xs    []*mat.Dense
	mask  *mat.Dense
	steps []stepCache // indexed by time, not processing order
}

type stepCache struct {
	hPrev, cPrev *mat.Dense
	hNew         *mat.Dense // candidate state before masking
	// LSTM only
	i, f, g, o, cNew, tc *mat.Dense
}

// order lists time indices in processing order.
func order(T int, backwards bool) []int {
	out := make([]int, T)
	for k := range out {
		if backwards {
			out[k] = T - 1 - k
		} else {
			out[k] = k
		}
	}
	return out
}

// broadcastRow repeats the (1 x n) row B times.
func broadcastRow(row *mat.Dense, B int) *mat.Dense {
	_, n := row.Dims()
	out := mat.NewDense(B, n, nil)
	for b := 0; b < B; b++ {
		copy(out.RawRowView(b), row.RawRowView(0))
	}
	return out
}

// blend returns m*a + (1-m)*b row by row, m taken from column t of mask.
func blend(mask *mat.Dense, t int, a, b *mat.Dense) *mat.Dense {
	B, n := a.Dims()
	out := mat.NewDense(B, n, nil)
	for r := 0; r < B; r++ {
		if mask.At(r, t) != 0 {
			copy(out.RawRowView(r), a.RawRowView(r))
		} else {
			copy(out.RawRowView(r), b.RawRowView(r))
		}
	}
	return out
}

// splitByMask routes each row of d to the "new" or "carried" gradient.
func splitByMask(mask *mat.Dense, t int, d *mat.Dense) (dNew, dCarry *mat.Dense) {
	B, n := d.Dims()
	dNew = mat.NewDense(B, n, nil)
	dCarry = mat.NewDense(B, n, nil)
	for r := 0; r < B; r++ {
		if mask.At(r, t) != 0 {
			copy(dNew.RawRowView(r), d.RawRowView(r))
		} else {
			copy(dCarry.RawRowView(r), d.RawRowView(r))
		}
	}
	return dNew, dCarry
}

// ------- tanh RNN --------

// RNN is h_t = tanh(x_t W_in + h_{t-1} W_hid + b) with a learned h_0.
type RNN struct {
	In, Hidden int
	Backwards  bool

	WIn, WHid, B, H0 *params.Param
}

func NewRNN(name string, in, hidden int, backwards bool, rng *rand.Rand) *RNN {
	return &RNN{
		In:        in,
		Hidden:    hidden,
		Backwards: backwards,
		WIn:       params.NewParam(name+".W_in_to_hid", utils.Orthogonal(in, hidden, rng), 2),
		WHid:      params.NewParam(name+".W_hid_to_hid", utils.Orthogonal(hidden, hidden, rng), 2),
		B:         params.NewParam(name+".b", mat.NewDense(1, hidden, nil), 1),
		H0:        params.NewParam(name+".hid_init", mat.NewDense(1, hidden, nil), 2),
	}
}

func (l *RNN) Params() []*params.Param {
	return []*params.Param{l.WIn, l.WHid, l.B, l.H0}
}

func (l *RNN) HiddenSize() int { return l.Hidden }

func (l *RNN) Forward(xs []*mat.Dense, mask *mat.Dense) *Trace {
	T := len(xs)
	B, _ := mask.Dims()
	tr := &Trace{H: make([]*mat.Dense, T), xs: xs, mask: mask, steps: make([]stepCache, T)}
	h := broadcastRow(l.H0.Value, B)
	for _, t := range order(T, l.Backwards) {
		a := utils.Dot(xs[t], l.WIn.Value)
		a.Add(a, utils.Dot(h, l.WHid.Value))
		utils.AddRowVector(a, l.B.Value)
		hNew := utils.Apply(utils.TanhApply, a)
		tr.steps[t] = stepCache{hPrev: h, hNew: hNew}
		h = blend(mask, t, hNew, h)
		tr.H[t] = h
	}
	return tr
}

func (l *RNN) Backward(tr *Trace, dH []*mat.Dense) []*mat.Dense {
	T := len(tr.xs)
	B, _ := tr.mask.Dims()
	dX := make([]*mat.Dense, T)
	carry := mat.NewDense(B, l.Hidden, nil)
	steps := order(T, l.Backwards)
	for k := T - 1; k >= 0; k-- {
		t := steps[k]
		sc := tr.steps[t]
		dh := carry
		if dH[t] != nil {
			dh = utils.Add(carry, dH[t])
		}
		dNew, dPrev := splitByMask(tr.mask, t, dh)

		da := utils.Multiply(dNew, utils.TanhPrimeFromOutput(sc.hNew))
		l.WIn.Grad.Add(l.WIn.Grad, utils.Dot(tr.xs[t].T(), da))
		l.WHid.Grad.Add(l.WHid.Grad, utils.Dot(sc.hPrev.T(), da))
		utils.SumRows(l.B.Grad, da)

		dX[t] = utils.Dot(da, l.WIn.Value.T())
		dPrev.Add(dPrev, utils.Dot(da, l.WHid.Value.T()))
		carry = dPrev
	}
	utils.SumRows(l.H0.Grad, carry)
	return dX
}

// ------- LSTM with peepholes --------

// LSTM gates are stacked in the order input, forget, cell, output.
//
//	i = σ(x W_xi + h W_hi + c_{t-1} ⊙ w_ci + b_i)
//	f = σ(x W_xf + h W_hf + c_{t-1} ⊙ w_cf + b_f)
//	g = tanh(x W_xc + h W_hc + b_c)
//	c_t = f ⊙ c_{t-1} + i ⊙ g
//	o = σ(x W_xo + h W_ho + c_t ⊙ w_co + b_o)
//	h_t = o ⊙ tanh(c_t)
type LSTM struct {
	In, Hidden int
	Backwards  bool

	WX, WH, B     *params.Param // (in x 4h), (h x 4h), (1 x 4h)
	WCI, WCF, WCO *params.Param // peepholes, (1 x h)
	H0, C0        *params.Param
}

func NewLSTM(name string, in, hidden int, backwards bool, rng *rand.Rand) *LSTM {
	norm := distuv.Normal{Mu: 0, Sigma: 0.1, Src: rng}
	draw := func(r, c int) *mat.Dense {
		m := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			row := m.RawRowView(i)
			for j := range row {
				row[j] = norm.Rand()
			}
		}
		return m
	}
	return &LSTM{
		In:        in,
		Hidden:    hidden,
		Backwards: backwards,
		WX:        params.NewParam(name+".W_in", draw(in, 4*hidden), 2),
		WH:        params.NewParam(name+".W_hid", draw(hidden, 4*hidden), 2),
		B:         params.NewParam(name+".b", mat.NewDense(1, 4*hidden, nil), 1),
		WCI:       params.NewParam(name+".W_cell_to_ingate", draw(1, hidden), 1),
		WCF:       params.NewParam(name+".W_cell_to_forgetgate", draw(1, hidden), 1),
		WCO:       params.NewParam(name+".W_cell_to_outgate", draw(1, hidden), 1),
		H0:        params.NewParam(name+".hid_init", mat.NewDense(1, hidden, nil), 2),
		C0:        params.NewParam(name+".cell_init", mat.NewDense(1, hidden, nil), 2),
	}
}

func (l *LSTM) Params() []*params.Param {
	return []*params.Param{l.WX, l.WH, l.B, l.WCI, l.WCF, l.WCO, l.H0, l.C0}
}

func (l *LSTM) HiddenSize() int { return l.Hidden }

func (l *LSTM) Forward(xs []*mat.Dense, mask *mat.Dense) *Trace {
	T := len(xs)
	B, _ := mask.Dims()
	H := l.Hidden
	tr := &Trace{H: make([]*mat.Dense, T), xs: xs, mask: mask, steps: make([]stepCache, T)}
	h := broadcastRow(l.H0.Value, B)
	c := broadcastRow(l.C0.Value, B)
	wci, wcf, wco := l.WCI.Value.RawRowView(0), l.WCF.Value.RawRowView(0), l.WCO.Value.RawRowView(0)

	for _, t := range order(T, l.Backwards) {
		z := utils.Dot(xs[t], l.WX.Value)
		z.Add(z, utils.Dot(h, l.WH.Value))
		utils.AddRowVector(z, l.B.Value)

		ig := mat.NewDense(B, H, nil)
		fg := mat.NewDense(B, H, nil)
		gg := mat.NewDense(B, H, nil)
		og := mat.NewDense(B, H, nil)
		cNew := mat.NewDense(B, H, nil)
		tc := mat.NewDense(B, H, nil)
		hNew := mat.NewDense(B, H, nil)
		for b := 0; b < B; b++ {
			zr := z.RawRowView(b)
			cp := c.RawRowView(b)
			ir, fr, gr, or := ig.RawRowView(b), fg.RawRowView(b), gg.RawRowView(b), og.RawRowView(b)
			cr, tcr, hr := cNew.RawRowView(b), tc.RawRowView(b), hNew.RawRowView(b)
			for j := 0; j < H; j++ {
				ir[j] = utils.Sigmoid(zr[j] + cp[j]*wci[j])
				fr[j] = utils.Sigmoid(zr[H+j] + cp[j]*wcf[j])
				gr[j] = math.Tanh(zr[2*H+j])
				cr[j] = fr[j]*cp[j] + ir[j]*gr[j]
				or[j] = utils.Sigmoid(zr[3*H+j] + cr[j]*wco[j])
				tcr[j] = math.Tanh(cr[j])
				hr[j] = or[j] * tcr[j]
			}
		}
		tr.steps[t] = stepCache{hPrev: h, cPrev: c, hNew: hNew, i: ig, f: fg, g: gg, o: og, cNew: cNew, tc: tc}
		h = blend(mask, t, hNew, h)
		c = blend(mask, t, cNew, c)
		tr.H[t] = h
	}
	return tr
}

func (l *LSTM) Backward(tr *Trace, dH []*mat.Dense) []*mat.Dense {
	T := len(tr.xs)
	B, _ := tr.mask.Dims()
	H := l.Hidden
	dX := make([]*mat.Dense, T)
	dhCarry := mat.NewDense(B, H, nil)
	dcCarry := mat.NewDense(B, H, nil)
	wci, wcf, wco := l.WCI.Value.RawRowView(0), l.WCF.Value.RawRowView(0), l.WCO.Value.RawRowView(0)
	gci, gcf, gco := l.WCI.Grad.RawRowView(0), l.WCF.Grad.RawRowView(0), l.WCO.Grad.RawRowView(0)

	steps := order(T, l.Backwards)
	for k := T - 1; k >= 0; k-- {
		t := steps[k]
		sc := tr.steps[t]
		dh := dhCarry
		if dH[t] != nil {
			dh = utils.Add(dhCarry, dH[t])
		}
		dhNew, dhPrev := splitByMask(tr.mask, t, dh)
		dcNew, dcPrev := splitByMask(tr.mask, t, dcCarry)

		dz := mat.NewDense(B, 4*H, nil)
		for b := 0; b < B; b++ {
			dhn, dcn, dcp := dhNew.RawRowView(b), dcNew.RawRowView(b), dcPrev.RawRowView(b)
			ir, fr, gr, or := sc.i.RawRowView(b), sc.f.RawRowView(b), sc.g.RawRowView(b), sc.o.RawRowView(b)
			cp, cr, tcr := sc.cPrev.RawRowView(b), sc.cNew.RawRowView(b), sc.tc.RawRowView(b)
			dzr := dz.RawRowView(b)
			for j := 0; j < H; j++ {
				do := dhn[j] * tcr[j]
				dc := dcn[j] + dhn[j]*or[j]*(1-tcr[j]*tcr[j])
				dzo := do * or[j] * (1 - or[j])
				dc += dzo * wco[j]
				gco[j] += dzo * cr[j]

				dzi := dc * gr[j] * ir[j] * (1 - ir[j])
				dzf := dc * cp[j] * fr[j] * (1 - fr[j])
				dzg := dc * ir[j] * (1 - gr[j]*gr[j])
				dcp[j] += dc*fr[j] + dzi*wci[j] + dzf*wcf[j]
				gci[j] += dzi * cp[j]
				gcf[j] += dzf * cp[j]

				dzr[j] = dzi
				dzr[H+j] = dzf
				dzr[2*H+j] = dzg
				dzr[3*H+j] = dzo
			}
		}
		l.WX.Grad.Add(l.WX.Grad, utils.Dot(tr.xs[t].T(), dz))
		l.WH.Grad.Add(l.WH.Grad, utils.Dot(sc.hPrev.T(), dz))
		utils.SumRows(l.B.Grad, dz)

		dX[t] = utils.Dot(dz, l.WX.Value.T())
		dhPrev.Add(dhPrev, utils.Dot(dz, l.WH.Value.T()))
		dhCarry, dcCarry = dhPrev, dcPrev
	}
	utils.SumRows(l.H0.Grad, dhCarry)
	utils.SumRows(l.C0.Grad, dcCarry)
	return dX
}
