package ranking

import "github.com/hyperjump/shiori/internal/models"

// CueConfig is one row of the boost table. A cue fires when Pattern matches
// the lowercased query or any query word equals one of Words (a trailing
// plural "s" is ignored). A firing cue adds Bonus once.
type CueConfig struct {
	Name     string          `yaml:"name"`
	Pattern  string          `yaml:"pattern,omitempty"`
	Words    []string        `yaml:"words,omitempty"`
	Modality models.Modality `yaml:"modality"`
	Bonus    float64         `yaml:"bonus"`
}

// DefaultCues returns the built-in boost table.
func DefaultCues() []CueConfig {
	return []CueConfig{
		{
			Name:     "timestamp",
			Pattern:  `\b\d{1,2}:\d{2}(:\d{2})?\b`,
			Modality: models.ModalityAudio,
			Bonus:    0.05,
		},
		{
			Name:     "audio words",
			Words:    []string{"recording", "audio", "call", "meeting", "said", "podcast", "transcript"},
			Modality: models.ModalityAudio,
			Bonus:    0.03,
		},
		{
			Name:     "image words",
			Words:    []string{"screenshot", "image", "photo", "picture", "diagram", "screen"},
			Modality: models.ModalityImage,
			Bonus:    0.05,
		},
		{
			Name:     "page words",
			Pattern:  `\bpage\s+\d+\b`,
			Words:    []string{"pdf", "document", "slide"},
			Modality: models.ModalityDocument,
			Bonus:    0.03,
		},
	}
}
