package embedding

import (
	"fmt"
)

// Encoder provider names.
const (
	ProviderHashing   = "hashing"
	ProviderONNX      = "onnx"
	ProviderFastEmbed = "fastembed"
	ProviderOpenAI    = "openai"
	ProviderNone      = "none"
)

// EncoderOptions selects and configures one encoder.
type EncoderOptions struct {
	Provider   string
	Dimensions int
	ModelPath  string
	Model      string
	MaxTokens  int
	CacheDir   string
	BaseURL    string
	APIKey     string
}

// NewTextEncoder creates the text encoder named by opts.Provider.
func NewTextEncoder(opts EncoderOptions) (TextEncoder, error) {
	switch opts.Provider {
	case ProviderHashing, "":
		return NewHashingEncoder(opts.Dimensions), nil
	case ProviderONNX:
		enc, err := NewONNXEncoder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
		return enc, nil
	case ProviderFastEmbed:
		enc, err := NewFastEmbedEncoder(opts.Model, opts.CacheDir, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
		return enc, nil
	case ProviderOpenAI:
		return NewOpenAIEncoder(OpenAIOptions{
			APIKey:     opts.APIKey,
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown text encoder provider %q", opts.Provider)
	}
}

// NewVisionEncoder creates the vision encoder named by opts.Provider. The
// "none" provider returns a nil encoder, which disables visual embedding.
func NewVisionEncoder(opts EncoderOptions) (VisionEncoder, error) {
	switch opts.Provider {
	case ProviderNone:
		return nil, nil
	case ProviderHashing, "":
		return NewHashingVisionEncoder(opts.Dimensions), nil
	case ProviderONNX:
		enc, err := NewONNXVisionEncoder(opts.ModelPath, opts.Dimensions)
		if err != nil {
			return nil, err
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown vision encoder provider %q", opts.Provider)
	}
}
