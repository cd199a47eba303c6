package trainer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/IO"
	"github.com/manningwu07/dualencoder/encoder"
	"github.com/manningwu07/dualencoder/optimizations"
	"github.com/manningwu07/dualencoder/params"
)

func TestModeEscalation(t *testing.T) {
	m := Mode{}
	if m.State() != FixedEmbeddingsAndM {
		t.Fatalf("start state %v", m.State())
	}
	want := []State{TuneEmbeddings, TuneM}
	for _, w := range want {
		var done bool
		m, done = m.Escalate()
		if done || m.State() != w {
			t.Fatalf("got %v (converged=%v), want %v", m.State(), done, w)
		}
	}
	next, done := m.Escalate()
	if !done || next != m {
		t.Fatalf("escalating with both flags set must converge and keep the mode")
	}
}

func tinyConfig() params.TrainingConfig {
	cfg := params.DefaultConfig()
	cfg.HiddenSize = 4
	cfg.BatchSize = 2
	cfg.MaxLen = 4
	cfg.UseConv = false
	cfg.LearningRate = 0.01
	cfg.NumEpochs = 10
	return cfg
}

// tinyData repeats one positive and one negative pair so both batches match.
func tinyData() IO.Dataset {
	s := IO.Split{
		Contexts:  [][]int{{1, 2, 3}, {4, 5}, {1, 2, 3}, {4, 5}},
		Responses: [][]int{{1, 2}, {3, 1, 1}, {1, 2}, {3, 1, 1}},
		Labels:    []int{1, 0, 1, 0},
	}
	return IO.Dataset{Train: s, Val: IO.Split{}, Test: s}
}

func newTrainer(t *testing.T, cfg params.TrainingConfig, data IO.Dataset) *Trainer {
	t.Helper()
	rng := rand.New(rand.NewSource(cfg.Seed))
	U := mat.NewDense(6, 3, nil)
	for i := 0; i < 6; i++ {
		for j := 0; j < 3; j++ {
			U.Set(i, j, rng.NormFloat64()*0.5)
		}
	}
	m, err := encoder.NewDualEncoder(cfg, U, rng)
	if err != nil {
		t.Fatalf("NewDualEncoder: %v", err)
	}
	tr, err := New(m, data, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func TestTrainingReducesLoss(t *testing.T) {
	tr := newTrainer(t, tinyConfig(), tinyData())
	first := tr.RunEpoch()
	second := tr.RunEpoch()
	if !(second < first) {
		t.Fatalf("epoch 2 cost %v not below epoch 1 cost %v", second, first)
	}
	last := second
	for i := 0; i < 10; i++ {
		last = tr.RunEpoch()
	}
	if !(last < second) {
		t.Fatalf("cost went from %v to %v", second, last)
	}
}

func TestTrainEscalatesThenStops(t *testing.T) {
	// an empty validation split never improves
	tr := newTrainer(t, tinyConfig(), tinyData())
	base := len(tr.Model.Enc.Params())

	res, err := tr.Train()
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if res.Epochs != 3 || res.FinalState != Converged {
		t.Fatalf("stopped after %d epochs in %v, want 3 and converged", res.Epochs, res.FinalState)
	}
	want := []State{FixedEmbeddingsAndM, TuneEmbeddings, TuneM}
	for i, st := range res.History {
		if st.State != want[i] || st.Improved {
			t.Fatalf("epoch %d ran in %v (improved=%v), want %v", st.Epoch, st.State, st.Improved, want[i])
		}
	}
	opt := tr.Optimizer()
	if len(opt.Params()) != base+2 {
		t.Fatalf("final trainable set has %d params, want %d", len(opt.Params()), base+2)
	}
	if opt.StepCount() != tr.Data.Train.NumBatches(tr.Cfg.BatchSize) {
		t.Fatalf("optimizer state survived a rebuild: %d steps", opt.StepCount())
	}
}

func TestTrainEscalatesWithAdadelta(t *testing.T) {
	cfg := tinyConfig()
	cfg.Optimizer = "adadelta"
	tr := newTrainer(t, cfg, tinyData())
	emb := mat.DenseCopyOf(tr.Model.Emb.W.Value)
	M := mat.DenseCopyOf(tr.Model.Scorer.M.Value)

	res, err := tr.Train()
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if res.Epochs != 3 || res.FinalState != Converged {
		t.Fatalf("stopped after %d epochs in %v, want 3 and converged", res.Epochs, res.FinalState)
	}
	opt := tr.Optimizer()
	if opt.Name() != "adadelta" {
		t.Fatalf("rebuilt optimizer is %q", opt.Name())
	}
	if opt.StepCount() != tr.Data.Train.NumBatches(cfg.BatchSize) {
		t.Fatalf("optimizer state survived a rebuild: %d steps", opt.StepCount())
	}
	if mat.Equal(emb, tr.Model.Emb.W.Value) || mat.Equal(M, tr.Model.Scorer.M.Value) {
		t.Fatalf("escalated blocks were never updated")
	}
	for j := 0; j < 3; j++ {
		if tr.Model.Emb.W.Value.At(params.PadID, j) != 0 {
			t.Fatalf("padding row moved: %v", tr.Model.Emb.W.Value.RawRowView(params.PadID))
		}
	}
}

func TestTrainRespectsEpochLimit(t *testing.T) {
	cfg := tinyConfig()
	cfg.NumEpochs = 2
	tr := newTrainer(t, cfg, tinyData())
	res, err := tr.Train()
	if err != nil {
		t.Fatal(err)
	}
	if res.Epochs != 2 || res.FinalState != TuneM {
		t.Fatalf("got %d epochs ending in %v", res.Epochs, res.FinalState)
	}
}

func TestStepKeepsPaddingRowZero(t *testing.T) {
	cfg := tinyConfig()
	cfg.FineTuneEmbeddings = true
	cfg.LearningRate = 0.5
	tr := newTrainer(t, cfg, tinyData())
	before := mat.DenseCopyOf(tr.Model.Emb.W.Value)
	tr.Step(0)

	w := tr.Model.Emb.W.Value
	for j := 0; j < 3; j++ {
		if w.At(params.PadID, j) != 0 {
			t.Fatalf("padding row moved: %v", w.RawRowView(params.PadID))
		}
	}
	if mat.Equal(before, w) {
		t.Fatalf("embeddings did not change although fine-tuned")
	}
}

func TestFrozenBlocksStayFixed(t *testing.T) {
	tr := newTrainer(t, tinyConfig(), tinyData())
	emb := mat.DenseCopyOf(tr.Model.Emb.W.Value)
	M := mat.DenseCopyOf(tr.Model.Scorer.M.Value)
	tr.RunEpoch()
	if !mat.Equal(emb, tr.Model.Emb.W.Value) || !mat.Equal(M, tr.Model.Scorer.M.Value) {
		t.Fatalf("frozen embeddings or M were updated")
	}
}

func TestShuffleIsSeeded(t *testing.T) {
	cfg := tinyConfig()
	cfg.ShuffleBatch = true
	a := newTrainer(t, cfg, tinyData())
	b := newTrainer(t, cfg, tinyData())
	for i := 0; i < 3; i++ {
		if ca, cb := a.RunEpoch(), b.RunEpoch(); ca != cb {
			t.Fatalf("epoch %d: costs %v and %v differ under the same seed", i, ca, cb)
		}
	}
}

func TestEvaluate(t *testing.T) {
	tr := newTrainer(t, tinyConfig(), tinyData())
	perf, probas := tr.Evaluate(tr.Data.Test)
	if len(probas) != 4 {
		t.Fatalf("got %d probabilities, want 4", len(probas))
	}
	errs := encoder.Errors(probas, tr.Data.Test.Labels, nil)
	if want := 1 - float64(errs)/4; perf != want {
		t.Fatalf("perf %v, want %v from %d errors", perf, want, errs)
	}
}

func TestNewRejectsBadSetup(t *testing.T) {
	cfg := tinyConfig()
	rng := rand.New(rand.NewSource(1))
	m, err := encoder.NewDualEncoder(cfg, mat.NewDense(6, 3, nil), rng)
	if err != nil {
		t.Fatal(err)
	}

	bad := tinyData()
	bad.Val = IO.Split{Contexts: [][]int{{1}}, Labels: []int{1}}
	if _, err := New(m, bad, cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for ragged split")
	}

	big := cfg
	big.BatchSize = 5
	if _, err := New(m, tinyData(), big, zerolog.Nop()); err == nil {
		t.Fatalf("expected error when train has no full batch")
	}

	sgd := cfg
	sgd.Optimizer = "sgd"
	if _, err := New(m, tinyData(), sgd, zerolog.Nop()); !errors.Is(err, optimizations.ErrUnknownOptimizer) {
		t.Fatalf("want ErrUnknownOptimizer, got %v", err)
	}
}

func TestImprovementRunsTestAndHook(t *testing.T) {
	cfg := tinyConfig()
	cfg.LearningRate = 0 // weights stay put, so epoch 2 cannot beat epoch 1
	cfg.NumEpochs = 2
	data := tinyData()
	val := IO.Split{Labels: make([]int, 10)}
	for i := 0; i < 10; i++ {
		val.Contexts = append(val.Contexts, []int{1 + i%5, 2})
		val.Responses = append(val.Responses, []int{5 - i%5})
	}
	data.Val = val
	tr := newTrainer(t, cfg, data)

	// label every val row with the model's own prediction: val_perf = 1
	_, probas := tr.Evaluate(tr.Data.Val)
	for i, p := range probas {
		tr.Data.Val.Labels[i] = encoder.Predict(p)
	}

	var calls []int
	tr.OnImprove = func(epoch int) { calls = append(calls, epoch) }
	res, err := tr.Train()
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != 1 {
		t.Fatalf("OnImprove calls %v, want [1]", calls)
	}
	first := res.History[0]
	if !first.Improved || first.ValPerf != 1 || first.TestRecall == nil {
		t.Fatalf("epoch 1 stats %+v", first)
	}
	if res.History[1].Improved || res.FinalState != TuneEmbeddings {
		t.Fatalf("epoch 2 should escalate, got improved=%v state=%v", res.History[1].Improved, res.FinalState)
	}
	if res.BestValPerf != 1 {
		t.Fatalf("best val perf %v, want 1", res.BestValPerf)
	}
}
