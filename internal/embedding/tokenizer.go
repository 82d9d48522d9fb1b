package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// BERT special token ids and the range fallback ids are folded into.
const (
	clsTokenID    = 101
	sepTokenID    = 102
	firstWordID   = 1000
	fallbackVocab = 30000
)

// Tokenizer produces the three BERT input tensors, each padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer maps whole words to hashed vocabulary ids. It is only
// suitable when no vocabulary file ships with the model.
type SimpleTokenizer struct{}

// Tokenize wraps the words of text in [CLS] ... [SEP], truncating so the
// sequence fits in maxTokens (256 when unset).
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	words := Tokens(text)
	if len(words) > maxTokens-2 {
		words = words[:maxTokens-2]
	}
	inputIDs[0] = clsTokenID
	for i, w := range words {
		inputIDs[i+1] = wordID(w)
	}
	inputIDs[len(words)+1] = sepTokenID
	for i := 0; i < len(words)+2; i++ {
		attentionMask[i] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// Tokens lowercases text and splits it on anything that is not a letter or
// digit. Empty tokens are dropped.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordID(word string) int64 {
	h := fnv.New32a()
	h.Write([]byte(word))
	return int64(h.Sum32()%fallbackVocab) + firstWordID
}
