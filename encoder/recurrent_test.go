package encoder

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/optimizations"
	"github.com/manningwu07/dualencoder/params"
	"github.com/manningwu07/dualencoder/utils"
)

func newRecurrent(lstm bool, backwards bool, rng *rand.Rand) Recurrent {
	if lstm {
		l := NewLSTM("lstm", 3, 4, backwards, rng)
		// nonzero init states so their gradients are exercised
		l.B.Value.Copy(randDense(1, 16, 0.5, rng))
		l.H0.Value.Copy(randDense(1, 4, 0.5, rng))
		l.C0.Value.Copy(randDense(1, 4, 0.5, rng))
		return l
	}
	l := NewRNN("rnn", 3, 4, backwards, rng)
	l.B.Value.Copy(randDense(1, 4, 0.5, rng))
	l.H0.Value.Copy(randDense(1, 4, 0.5, rng))
	return l
}

func TestRecurrentGradFiniteDiff(t *testing.T) {
	for _, tc := range []struct {
		name            string
		lstm, backwards bool
	}{
		{"rnn", false, false},
		{"rnn_backwards", false, true},
		{"lstm", true, false},
		{"lstm_backwards", true, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			l := newRecurrent(tc.lstm, tc.backwards, rng)
			const T = 5
			xs := randSeq(T, 3, 3, rng)
			mask := lengthMask(T, []int{5, 3, 0})
			ws := randSeq(T, 3, 4, rng)

			loss := func() float64 { return seqLoss(l.Forward(xs, mask).H, ws) }

			zeroAll(l.Params())
			dX := l.Backward(l.Forward(xs, mask), ws)
			checkParams(t, l.Params(), loss)
			checkInputs(t, xs, dX, loss)
		})
	}
}

func TestRecurrentSparseUpstreamGrad(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	l := newRecurrent(true, false, rng)
	const T = 4
	xs := randSeq(T, 2, 3, rng)
	mask := lengthMask(T, []int{4, 2})
	w := randDense(2, 4, 1, rng)
	dH := make([]*mat.Dense, T)
	dH[T-1] = w

	loss := func() float64 { return project(l.Forward(xs, mask).H[T-1], w) }

	zeroAll(l.Params())
	dX := l.Backward(l.Forward(xs, mask), dH)
	checkParams(t, l.Params(), loss)
	checkInputs(t, xs, dX, loss)
}

func TestMaskedStepsCarryState(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, lstm := range []bool{false, true} {
		l := newRecurrent(lstm, false, rng)
		const T = 5
		xs := randSeq(T, 2, 3, rng)
		tr := l.Forward(xs, lengthMask(T, []int{3, 0}))

		for s := 3; s < T; s++ {
			if !mat.Equal(tr.H[s].Slice(0, 1, 0, 4), tr.H[2].Slice(0, 1, 0, 4)) {
				t.Fatalf("lstm=%v: step %d of a length-3 row changed the state", lstm, s)
			}
		}
		var h0 mat.Matrix
		switch r := l.(type) {
		case *RNN:
			h0 = r.H0.Value
		case *LSTM:
			h0 = r.H0.Value
		}
		for s := 0; s < T; s++ {
			if !mat.Equal(tr.H[s].Slice(1, 2, 0, 4), h0) {
				t.Fatalf("lstm=%v: empty row left the initial state at step %d", lstm, s)
			}
		}
	}
}

func TestBackwardsReadsRightToLeft(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	fwd := NewRNN("f", 3, 4, false, rng)
	bwd := NewRNN("b", 3, 4, true, rng)
	bwd.WIn.Value.Copy(fwd.WIn.Value)
	bwd.WHid.Value.Copy(fwd.WHid.Value)

	const T = 4
	xs := randSeq(T, 1, 3, rng)
	rev := make([]*mat.Dense, T)
	for s := range xs {
		rev[T-1-s] = xs[s]
	}
	mask := lengthMask(T, []int{T})
	hf := fwd.Forward(rev, mask).H[T-1]
	hb := bwd.Forward(xs, mask).H[0]
	if !mat.EqualApprox(hf, hb, 1e-12) {
		t.Fatalf("backwards pass over xs should equal forward pass over reversed xs")
	}
}

func TestRNNOrthogonalInit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewRNN("rnn", 6, 4, false, rng)

	var g mat.Dense
	g.Mul(l.WHid.Value.T(), l.WHid.Value)
	if !mat.EqualApprox(&g, utils.Identity(4), 1e-9) {
		t.Fatalf("W_hid_to_hid is not orthogonal")
	}
	// (6 x 4) has orthonormal columns
	g.Reset()
	g.Mul(l.WIn.Value.T(), l.WIn.Value)
	if !mat.EqualApprox(&g, utils.Identity(4), 1e-9) {
		t.Fatalf("W_in_to_hid columns are not orthonormal")
	}
}

func TestAdadeltaCapsInitialStates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	rnn := NewRNN("rnn", 3, 4, false, rng)
	lstm := NewLSTM("lstm", 3, 4, false, rng)
	inits := []*params.Param{rnn.H0, lstm.H0, lstm.C0}
	for _, p := range inits {
		if p.Rank != 2 {
			t.Fatalf("%s has rank %d, want 2", p.Name, p.Rank)
		}
		p.Value.Copy(mat.NewDense(1, 4, []float64{5, -5, 5, 0.5}))
	}

	cfg := smallConfig()
	cfg.Optimizer = "adadelta"
	cfg.SquaredNormLimit = 1
	ps := append(rnn.Params(), lstm.Params()...)
	opt, err := optimizations.Build(cfg.Optimizer, ps, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	zeroAll(ps)
	opt.Step()

	// each column of a 1 x h state is a single element
	want := []float64{1, -1, 1, 0.5}
	for _, p := range inits {
		for j, w := range want {
			if got := p.Value.At(0, j); math.Abs(got-w) > 1e-6 {
				t.Fatalf("%s[%d] = %v after step, want %v", p.Name, j, got, w)
			}
		}
	}
}
