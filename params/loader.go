package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// LoadConfig overlays the JSON file at path onto DefaultConfig and validates
// the result. Fields missing from the file keep their defaults.
func LoadConfig(path string) (TrainingConfig, error) {
	cfg := DefaultConfig()
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every inconsistency in cfg. The optimizer name is checked
// again when the optimizer is built.
func (cfg TrainingConfig) Validate() error {
	var errs []error
	if cfg.HiddenSize <= 0 {
		errs = append(errs, fmt.Errorf("hidden_size must be positive, got %d", cfg.HiddenSize))
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", cfg.BatchSize))
	}
	if cfg.MaxLen <= 0 {
		errs = append(errs, fmt.Errorf("max_len must be positive, got %d", cfg.MaxLen))
	}
	if cfg.NumEpochs < 0 {
		errs = append(errs, fmt.Errorf("num_epochs must not be negative, got %d", cfg.NumEpochs))
	}
	if cfg.UseConv {
		if cfg.NumFilters <= 0 {
			errs = append(errs, fmt.Errorf("num_filters must be positive, got %d", cfg.NumFilters))
		}
		if len(cfg.FilterSizes) == 0 {
			errs = append(errs, errors.New("filter_sizes must not be empty when use_convolution is set"))
		}
		for _, fs := range cfg.FilterSizes {
			if fs <= 0 || fs > cfg.MaxLen {
				errs = append(errs, fmt.Errorf("filter size %d outside [1, %d]", fs, cfg.MaxLen))
			}
		}
	}
	switch cfg.Optimizer {
	case "adam", "adadelta":
	default:
		errs = append(errs, fmt.Errorf("unsupported optimizer %q", cfg.Optimizer))
	}
	if cfg.SquaredNormLimit <= 0 {
		errs = append(errs, fmt.Errorf("squared_norm_limit must be positive, got %g", cfg.SquaredNormLimit))
	}
	return errors.Join(errs...)
}
