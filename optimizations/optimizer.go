package optimizations

import (
	"errors"
	"fmt"

	"github.com/manningwu07/dualencoder/params"
)

var ErrUnknownOptimizer = errors.New("unsupported optimizer")

// Optimizer owns the accumulator state of one trainable set. It is rebuilt,
// never migrated, when the set changes.
type Optimizer interface {
	Name() string
	// Step updates every owned parameter from its Grad.
	Step()
	Params() []*params.Param
	StepCount() int
}

// Build returns a fresh optimizer over trainable.
func Build(name string, trainable []*params.Param, cfg params.TrainingConfig) (Optimizer, error) {
	switch name {
	case "adam":
		return NewAdam(trainable, cfg), nil
	case "adadelta":
		return NewAdadelta(trainable, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, name)
	}
}
