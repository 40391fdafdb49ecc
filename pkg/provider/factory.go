package provider

import (
	"fmt"
	"time"
)

// Provider kinds understood by New.
const (
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
	KindLocal     = "local"
	KindBedrock   = "bedrock"
	KindStatic    = "static"
)

// Spec is the configuration of one provider.
type Spec struct {
	ID             string
	Kind           string
	Model          string
	APIKey         string
	BaseURL        string
	Region         string
	MaxTokens      int
	Timeout        time.Duration
	Temperature    float64
	CapabilityTags []string
	// Responses are the canned replies of a static provider.
	Responses []string
}

// Descriptor returns the descriptor of the provider spec describes.
func (s Spec) Descriptor() Descriptor {
	return Descriptor{
		ID:             s.ID,
		Kind:           s.Kind,
		Model:          s.Model,
		CapabilityTags: s.CapabilityTags,
		MaxTokens:      s.MaxTokens,
		Timeout:        s.Timeout,
		Temperature:    s.Temperature,
	}
}

// New creates an adapter for spec.
func New(spec Spec) (Adapter, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("provider id is required")
	}

	switch spec.Kind {
	case KindAnthropic:
		if spec.APIKey == "" {
			return nil, fmt.Errorf("provider %s: api key is required", spec.ID)
		}
		return NewAnthropic(spec), nil
	case KindOpenAI:
		if spec.APIKey == "" {
			return nil, fmt.Errorf("provider %s: api key is required", spec.ID)
		}
		return NewOpenAI(spec), nil
	case KindLocal:
		if spec.BaseURL == "" {
			return nil, fmt.Errorf("provider %s: base url is required", spec.ID)
		}
		return NewLocal(spec), nil
	case KindBedrock:
		return NewBedrock(spec)
	case KindStatic:
		return NewStatic(spec.ID, spec.Responses...), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", spec.Kind)
	}
}

// Build creates and registers an adapter for every spec.
func Build(specs []Spec) (*Registry, error) {
	reg := NewRegistry()
	for _, spec := range specs {
		adapter, err := New(spec)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(spec.Descriptor(), adapter); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
