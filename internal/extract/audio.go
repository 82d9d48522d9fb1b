package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/hyperjump/shiori/internal/models"
)

// whisperTranscript is the subset of whisper.cpp's -oj output that carries timing.
type whisperTranscript struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []whisperSegment `json:"transcription"`
}

type whisperSegment struct {
	Offsets struct {
		From int64 `json:"from"`
		To   int64 `json:"to"`
	} `json:"offsets"`
	Text string `json:"text"`
}

// extractAudio reads the whisper.cpp JSON transcript next to path. Segment
// times are in milliseconds; words inside a segment are spread evenly over it.
// A plain-text transcript has no timings and is rejected.
func extractAudio(path string) (*models.Content, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat audio: %w", err)
	}
	sidecar := path + ".json"
	data, err := os.ReadFile(sidecar)
	if errors.Is(err, fs.ErrNotExist) {
		if _, txtErr := os.Stat(path + ".txt"); txtErr == nil {
			return nil, fmt.Errorf("%w: transcript %s.txt has no word timings", models.ErrExtractionInconsistency, path)
		}
		return nil, fmt.Errorf("%w for %s", ErrNoTranscript, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var tr whisperTranscript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("%w: transcript %s: %v", models.ErrExtractionInconsistency, sidecar, err)
	}
	var words []models.TimedWord
	for _, seg := range tr.Transcription {
		words = append(words, segmentWords(seg)...)
	}
	meta := map[string]string{"transcript": sidecar}
	if tr.Result.Language != "" {
		meta["language"] = tr.Result.Language
	}
	return &models.Content{Modality: models.ModalityAudio, Words: words, Metadata: meta}, nil
}

func segmentWords(seg whisperSegment) []models.TimedWord {
	fields := strings.Fields(seg.Text)
	if len(fields) == 0 {
		return nil
	}
	from := float64(seg.Offsets.From) / 1000
	to := float64(seg.Offsets.To) / 1000
	step := (to - from) / float64(len(fields))
	words := make([]models.TimedWord, len(fields))
	for i, w := range fields {
		words[i] = models.TimedWord{
			Word:  w,
			Start: from + step*float64(i),
			End:   from + step*float64(i+1),
		}
	}
	words[len(words)-1].End = to
	return words
}
