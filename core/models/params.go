package models

import "fmt"

// ModelType selects the network architecture a job trains.
type ModelType string

const (
	ModelTypeMLP ModelType = "mlp"
	ModelTypeCNN ModelType = "cnn"
	ModelTypeRNN ModelType = "rnn"
)

// Parameters is the closed parameter variant for a job, keyed by ModelType.
// MLP and RNN require NumLayers, CNN requires KernelSize. Parameters are
// immutable after job creation.
type Parameters struct {
	ModelType    ModelType `json:"model_type"`
	Optimizer    string    `json:"optimizer"`
	LearningRate float64   `json:"learning_rate"`
	BatchSize    int       `json:"batch_size"`
	Epochs       int       `json:"epochs"`
	DropoutRate  *float64  `json:"dropout_rate,omitempty"`
	HiddenSize   *int      `json:"hidden_size,omitempty"`
	UseScheduler bool      `json:"use_scheduler,omitempty"`
	NumLayers    *int      `json:"num_layers,omitempty"`
	KernelSize   *int      `json:"kernel_size,omitempty"`
}

// Validate checks shared and variant-specific ranges.
func (p Parameters) Validate() error {
	switch p.ModelType {
	case ModelTypeMLP, ModelTypeRNN:
		if p.NumLayers == nil {
			return fmt.Errorf("num_layers is required for model_type %q", p.ModelType)
		}
		if *p.NumLayers < 1 || *p.NumLayers > 16 {
			return fmt.Errorf("num_layers must be in [1,16], got %d", *p.NumLayers)
		}
	case ModelTypeCNN:
		if p.KernelSize == nil {
			return fmt.Errorf("kernel_size is required for model_type %q", p.ModelType)
		}
		if *p.KernelSize < 1 || *p.KernelSize%2 == 0 {
			return fmt.Errorf("kernel_size must be a positive odd number, got %d", *p.KernelSize)
		}
	default:
		return fmt.Errorf("unknown model_type %q", p.ModelType)
	}

	if p.Optimizer == "" {
		return fmt.Errorf("optimizer is required")
	}
	if p.LearningRate <= 0 || p.LearningRate > 1 {
		return fmt.Errorf("learning_rate must be in (0,1], got %g", p.LearningRate)
	}
	if p.BatchSize < 1 || p.BatchSize > 1024 {
		return fmt.Errorf("batch_size must be in [1,1024], got %d", p.BatchSize)
	}
	if p.Epochs < 1 || p.Epochs > 100 {
		return fmt.Errorf("epochs must be in [1,100], got %d", p.Epochs)
	}
	if p.DropoutRate != nil && (*p.DropoutRate < 0 || *p.DropoutRate >= 1) {
		return fmt.Errorf("dropout_rate must be in [0,1), got %g", *p.DropoutRate)
	}
	if p.HiddenSize != nil && *p.HiddenSize < 1 {
		return fmt.Errorf("hidden_size must be positive, got %d", *p.HiddenSize)
	}
	return nil
}

// Equal reports deep equality, the fingerprint used for idempotent creation.
func (p Parameters) Equal(o Parameters) bool {
	return p.ModelType == o.ModelType &&
		p.Optimizer == o.Optimizer &&
		p.LearningRate == o.LearningRate &&
		p.BatchSize == o.BatchSize &&
		p.Epochs == o.Epochs &&
		p.UseScheduler == o.UseScheduler &&
		eqFloatPtr(p.DropoutRate, o.DropoutRate) &&
		eqIntPtr(p.HiddenSize, o.HiddenSize) &&
		eqIntPtr(p.NumLayers, o.NumLayers) &&
		eqIntPtr(p.KernelSize, o.KernelSize)
}

func (p Parameters) clone() Parameters {
	c := p
	if p.DropoutRate != nil {
		v := *p.DropoutRate
		c.DropoutRate = &v
	}
	if p.HiddenSize != nil {
		v := *p.HiddenSize
		c.HiddenSize = &v
	}
	if p.NumLayers != nil {
		v := *p.NumLayers
		c.NumLayers = &v
	}
	if p.KernelSize != nil {
		v := *p.KernelSize
		c.KernelSize = &v
	}
	return c
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
