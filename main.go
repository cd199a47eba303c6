package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/dualencoder/IO"
	"github.com/manningwu07/dualencoder/encoder"
	"github.com/manningwu07/dualencoder/metrics"
	"github.com/manningwu07/dualencoder/params"
	"github.com/manningwu07/dualencoder/trainer"
)

func main() {
	configPath := flag.String("config", "", "JSON training config; defaults are used when empty")
	dataDir := flag.String("data", "data", "directory holding {train,val,test}-{context,response}.bin/.idx and .lbl files")
	embPath := flag.String("embeddings", "data/embeddings.txt", "pretrained embeddings, one 'word v1 v2 ...' per line")
	ckpt := flag.String("checkpoint", "models/dual_encoder.gob", "where parameters are saved on improvement")
	plotPath := flag.String("plot", "", "write a PNG of the per-epoch curves here")
	eval := flag.Bool("eval", false, "restore -checkpoint and evaluate on the test split instead of training")
	exportDir := flag.String("export", "", "write the loaded splits and embeddings to this directory and exit")
	verbose := flag.Bool("v", false, "log per-k recall lines")

	hidden := flag.Int("hidden", 0, "hidden_size override")
	batch := flag.Int("batch", 0, "batch_size override")
	lr := flag.Float64("lr", 0, "learning_rate override")
	decay := flag.Float64("lr-decay", 0, "learning_rate_decay override")
	normLim := flag.Float64("sqr-norm-lim", 0, "squared_norm_limit override")
	opt := flag.String("optimizer", "", "adam or adadelta")
	epochs := flag.Int("epochs", 0, "num_epochs override")
	lstm := flag.Bool("lstm", false, "use an LSTM instead of a tanh RNN")
	bidir := flag.Bool("bidir", false, "bidirectional encoder")
	conv := flag.Bool("conv", true, "convolution + max-pool head on the recurrent outputs")
	shuffle := flag.Bool("shuffle", false, "shuffle batch order every epoch")
	tuneW := flag.Bool("fine-tune-W", false, "fine-tune embeddings from the start")
	tuneM := flag.Bool("fine-tune-M", false, "fine-tune M from the start")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	cfg := params.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = params.LoadConfig(*configPath); err != nil {
			log.Fatal().Err(err).Msg("config")
		}
	}
	// only flags given on the command line override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hidden":
			cfg.HiddenSize = *hidden
		case "batch":
			cfg.BatchSize = *batch
		case "lr":
			cfg.LearningRate = *lr
		case "lr-decay":
			cfg.LearningRateDecay = *decay
		case "sqr-norm-lim":
			cfg.SquaredNormLimit = *normLim
		case "optimizer":
			cfg.Optimizer = *opt
		case "epochs":
			cfg.NumEpochs = *epochs
		case "lstm":
			cfg.UseLSTM = *lstm
		case "bidir":
			cfg.IsBidirectional = *bidir
		case "conv":
			cfg.UseConv = *conv
		case "shuffle":
			cfg.ShuffleBatch = *shuffle
		case "fine-tune-W":
			cfg.FineTuneEmbeddings = *tuneW
		case "fine-tune-M":
			cfg.FineTuneM = *tuneM
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	data, err := IO.ImportDataset(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("dataset")
	}
	U, vocab, err := IO.LoadEmbeddings(*embPath)
	if err != nil {
		log.Fatal().Err(err).Msg("embeddings")
	}
	log.Info().
		Int("vocab", len(vocab)).
		Int("train", data.Train.Len()).
		Int("val", data.Val.Len()).
		Int("test", data.Test.Len()).
		Msg("data loaded")

	if *exportDir != "" {
		if err := exportDataset(*exportDir, data, U, vocab); err != nil {
			log.Fatal().Err(err).Msg("export")
		}
		log.Info().Str("dir", *exportDir).Msg("dataset exported")
		return
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	model, err := encoder.NewDualEncoder(cfg, U, rng)
	if err != nil {
		log.Fatal().Err(err).Msg("model")
	}

	tr, err := trainer.New(model, data, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("trainer")
	}

	if *eval {
		if err := encoder.LoadModel(model, *ckpt); err != nil {
			log.Fatal().Err(err).Msg("restore")
		}
		perf, probas := tr.Evaluate(data.Test)
		fmt.Printf("test perf %.4f\n", perf)
		printRecall(metrics.RecallKs(probas))
		return
	}

	tr.OnImprove = func(epoch int) {
		if err := encoder.SaveModel(model, *ckpt); err != nil {
			log.Error().Err(err).Int("epoch", epoch).Msg("checkpoint")
			return
		}
		log.Info().Int("epoch", epoch).Str("path", *ckpt).Msg("checkpoint saved")
	}

	t1 := time.Now()
	res, err := tr.Train()
	if err != nil {
		log.Fatal().Err(err).Msg("train")
	}
	log.Info().
		Int("epochs", res.Epochs).
		Str("final_state", res.FinalState.String()).
		Float64("best_val_perf", res.BestValPerf).
		Float64("best_val_r10@1", res.BestValR10at1).
		Float64("test_perf", res.TestPerf).
		Dur("took", time.Since(t1)).
		Msg("training done")

	asciiPlot(valCurve(res.History))
	if *plotPath != "" {
		if err := savePlot(res.History, *plotPath); err != nil {
			log.Error().Err(err).Msg("plot")
		}
	}
}

// exportDataset writes data and the embedding table under dir in the layout
// -data and -embeddings read back.
func exportDataset(dir string, data IO.Dataset, U *mat.Dense, vocab []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, s := range map[string]IO.Split{"train": data.Train, "val": data.Val, "test": data.Test} {
		if err := IO.ExportSplit(dir, name, s); err != nil {
			return fmt.Errorf("export %s: %w", name, err)
		}
	}
	f, err := os.Create(filepath.Join(dir, "embeddings.txt"))
	if err != nil {
		return err
	}
	if err := IO.WriteEmbeddings(f, U, vocab); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
