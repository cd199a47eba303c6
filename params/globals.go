package params

// Token id 0 is reserved for padding and its embedding row is kept at zero.
const PadID = 0

// EmbeddingName names the word-vector table. Adadelta never column-clips it.
const EmbeddingName = "embeddings"

type TrainingConfig struct {
	// Core model parameters
	HiddenSize      int   `json:"hidden_size"`
	BatchSize       int   `json:"batch_size"`
	MaxLen          int   `json:"max_len"` // longer rows are truncated
	FilterSizes     []int `json:"filter_sizes"`
	NumFilters      int   `json:"num_filters"`
	UseConv         bool  `json:"use_convolution"`
	UseLSTM         bool  `json:"use_lstm"`
	IsBidirectional bool  `json:"is_bidirectional"`

	// Optimization parameters
	Optimizer          string  `json:"optimizer"` // adam | adadelta
	LearningRate       float64 `json:"learning_rate"`
	LearningRateDecay  float64 `json:"learning_rate_decay"` // Adadelta rho
	SquaredNormLimit   float64 `json:"squared_norm_limit"`
	FineTuneEmbeddings bool    `json:"fine_tune_embeddings"`
	FineTuneM          bool    `json:"fine_tune_M"`

	AdamBeta1   float64 `json:"adam_beta1"`
	AdamBeta2   float64 `json:"adam_beta2"`
	AdamEps     float64 `json:"adam_eps"`
	AdamGamma   float64 `json:"adam_gamma"` // per-step decay of beta1
	AdadeltaEps float64 `json:"adadelta_eps"`

	// Stability parameters
	GradClip float64 `json:"grad_clip"` // elementwise bound
	NaNFill  float64 `json:"nan_fill"`  // value for a gradient that went NaN

	NumEpochs    int   `json:"num_epochs"`
	ShuffleBatch bool  `json:"shuffle_batches_each_epoch"`
	Seed         int64 `json:"seed"`
}

// DefaultConfig returns the stock hyperparameters.
func DefaultConfig() TrainingConfig {
	return TrainingConfig{
		HiddenSize:      200,
		BatchSize:       256,
		MaxLen:          160,
		FilterSizes:     []int{3, 4, 5},
		NumFilters:      100,
		UseConv:         true,
		UseLSTM:         false,
		IsBidirectional: false,

		Optimizer:          "adam",
		LearningRate:       0.001,
		LearningRateDecay:  0.95,
		SquaredNormLimit:   1,
		FineTuneEmbeddings: false,
		FineTuneM:          false,

		AdamBeta1:   0.9,
		AdamBeta2:   0.999,
		AdamEps:     1e-8,
		AdamGamma:   1 - 1e-8,
		AdadeltaEps: 1e-6,

		GradClip: 10,
		NaNFill:  1e-5,

		NumEpochs:    100,
		ShuffleBatch: false,
		Seed:         1234,
	}
}
