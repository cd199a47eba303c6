package trainer

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/manningwu07/dualencoder/IO"
	"github.com/manningwu07/dualencoder/encoder"
	"github.com/manningwu07/dualencoder/metrics"
	"github.com/manningwu07/dualencoder/optimizations"
	"github.com/manningwu07/dualencoder/params"
)

// EpochStats is one line of training history.
type EpochStats struct {
	Epoch     int
	Cost      float64
	Took      time.Duration
	TrainPerf float64
	ValPerf   float64
	Recall    map[int]map[int]float64
	// TestPerf and TestRecall are only set on improving epochs.
	TestPerf   float64
	TestRecall map[int]map[int]float64
	State      State
	Improved   bool
}

type Result struct {
	TestPerf      float64
	BestValPerf   float64
	BestValR10at1 float64
	Epochs        int
	FinalState    State
	History       []EpochStats
}

// Trainer runs the epoch loop over one model and dataset. The trainable set
// grows through Mode and every change rebuilds the optimizer from scratch.
type Trainer struct {
	Model *encoder.DualEncoder
	Data  IO.Dataset
	Cfg   params.TrainingConfig
	Log   zerolog.Logger

	// OnImprove runs after an epoch that beats the best validation numbers.
	OnImprove func(epoch int)

	mode Mode
	opt  optimizations.Optimizer
	rng  *rand.Rand
}

func New(model *encoder.DualEncoder, data IO.Dataset, cfg params.TrainingConfig, log zerolog.Logger) (*Trainer, error) {
	for name, s := range map[string]IO.Split{"train": data.Train, "val": data.Val, "test": data.Test} {
		if err := s.Check(); err != nil {
			return nil, fmt.Errorf("%s split: %w", name, err)
		}
	}
	if data.Train.NumBatches(cfg.BatchSize) == 0 {
		return nil, fmt.Errorf("train split has %d examples, fewer than one batch of %d",
			data.Train.Len(), cfg.BatchSize)
	}
	t := &Trainer{
		Model: model,
		Data:  data,
		Cfg:   cfg,
		Log:   log,
		mode:  Mode{FineTuneEmbeddings: cfg.FineTuneEmbeddings, FineTuneM: cfg.FineTuneM},
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	if err := t.rebuild(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trainer) Mode() Mode                         { return t.mode }
func (t *Trainer) Optimizer() optimizations.Optimizer { return t.opt }

// rebuild discards the optimizer state and starts over on the current
// trainable set.
func (t *Trainer) rebuild() error {
	trainable := t.Model.Trainable(t.mode.FineTuneEmbeddings, t.mode.FineTuneM)
	opt, err := optimizations.Build(t.Cfg.Optimizer, trainable, t.Cfg)
	if err != nil {
		return err
	}
	t.opt = opt
	t.Log.Info().
		Str("optimizer", opt.Name()).
		Str("mode", t.mode.State().String()).
		Int("total_params", params.CountParams(t.Model.Params())).
		Int("trainable_params", params.CountParams(trainable)).
		Msg("optimizer built")
	return nil
}

// Step runs forward, backward and one update on batch index of the train
// split and returns the batch loss.
func (t *Trainer) Step(index int) float64 {
	b := IO.BuildBatch(t.Data.Train, index, t.Cfg.BatchSize, t.Cfg.MaxLen)
	// M collects a gradient even while frozen
	encoder.ZeroGrad(t.Model.Trainable(t.mode.FineTuneEmbeddings, true))
	p := t.Model.Forward(b)
	t.Model.Backward(p, t.mode.FineTuneEmbeddings)
	t.opt.Step()
	t.Model.Emb.ZeroPaddingRow()
	return p.Loss
}

// RunEpoch makes one pass over the train batches and returns the mean loss.
func (t *Trainer) RunEpoch() float64 {
	n := t.Data.Train.NumBatches(t.Cfg.BatchSize)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if t.Cfg.ShuffleBatch {
		t.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	total := 0.0
	for _, idx := range order {
		total += t.Step(idx)
	}
	return total / float64(n)
}

// Evaluate returns 1 - errors/N over the complete batches of s along with the
// probabilities in input order.
func (t *Trainer) Evaluate(s IO.Split) (float64, []float64) {
	n := s.NumBatches(t.Cfg.BatchSize)
	errs, total := 0, 0
	probas := make([]float64, 0, n*t.Cfg.BatchSize)
	for i := 0; i < n; i++ {
		b := IO.BuildBatch(s, i, t.Cfg.BatchSize, t.Cfg.MaxLen)
		p := t.Model.Forward(b)
		errs += encoder.Errors(p.Probas, b.Labels, p.Valid)
		for _, v := range p.Valid {
			if v {
				total++
			}
		}
		probas = append(probas, p.Probas...)
	}
	return metrics.Perf(errs, total), probas
}

// Train runs until NumEpochs or until every block is tuned and another
// epoch fails to improve.
func (t *Trainer) Train() (Result, error) {
	var res Result
	bestVal, bestR := 0.0, 0.0
	for epoch := 1; epoch <= t.Cfg.NumEpochs; epoch++ {
		start := time.Now()
		cost := t.RunEpoch()
		trainPerf, _ := t.Evaluate(t.Data.Train)
		valPerf, valProbas := t.Evaluate(t.Data.Val)
		recall := metrics.RecallKs(valProbas)
		r10at1 := recall[10][1]

		st := EpochStats{
			Epoch:     epoch,
			Cost:      cost,
			TrainPerf: trainPerf,
			ValPerf:   valPerf,
			Recall:    recall,
			State:     t.mode.State(),
		}
		res.Epochs = epoch

		if valPerf > bestVal || r10at1 > bestR {
			// both bests follow the improving epoch, even if one got worse
			bestVal, bestR = valPerf, r10at1
			var testProbas []float64
			st.TestPerf, testProbas = t.Evaluate(t.Data.Test)
			st.TestRecall = metrics.RecallKs(testProbas)
			st.Improved = true
			res.TestPerf = st.TestPerf
		}
		st.Took = time.Since(start)
		t.logEpoch(st)
		res.History = append(res.History, st)

		if st.Improved {
			if t.OnImprove != nil {
				t.OnImprove(epoch)
			}
			continue
		}
		next, converged := t.mode.Escalate()
		if converged {
			t.Log.Info().Int("epoch", epoch).Msg("no improvement with every block tuned, stopping")
			res.FinalState = Converged
			res.BestValPerf, res.BestValR10at1 = bestVal, bestR
			return res, nil
		}
		t.mode = next
		if err := t.rebuild(); err != nil {
			return res, err
		}
	}
	res.FinalState = t.mode.State()
	res.BestValPerf, res.BestValR10at1 = bestVal, bestR
	return res, nil
}

func (t *Trainer) logEpoch(st EpochStats) {
	ev := t.Log.Info().
		Int("epoch", st.Epoch).
		Float64("cost", st.Cost).
		Dur("took", st.Took).
		Float64("train_perf", st.TrainPerf).
		Float64("val_perf", st.ValPerf).
		Str("mode", st.State.String())
	if st.Improved {
		ev = ev.Float64("test_perf", st.TestPerf)
	}
	ev.Msg("epoch done")

	t.logRecall(st.Epoch, "val", st.Recall)
	if st.Improved {
		t.logRecall(st.Epoch, "test", st.TestRecall)
	}
}

func (t *Trainer) logRecall(epoch int, split string, recall map[int]map[int]float64) {
	for _, gs := range metrics.GroupSizes {
		for _, k := range metrics.Ks {
			r, ok := recall[gs][k]
			if !ok {
				continue
			}
			t.Log.Debug().
				Int("epoch", epoch).
				Str("split", split).
				Int("group_size", gs).
				Int("k", k).
				Float64("recall", r).
				Msg("recall")
		}
	}
}
