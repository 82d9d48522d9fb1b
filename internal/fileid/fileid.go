// Package fileid derives stable identifiers for documents and fragments.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	prefix    = "doc:"
	separator = "#"
	seqDigits = 5
)

// ContentHash returns the hex sha256 of everything read from r.
func ContentHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the content hash of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return ContentHash(f)
}

// DocumentID returns a stable document ID for an absolute path and content
// hash. The same file with the same bytes always yields the same ID; editing
// the file yields a new one.
func DocumentID(absolutePath, contentHash string) string {
	normalized := filepath.Clean(absolutePath)
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	sum := h.Sum(nil)
	return prefix + hex.EncodeToString(sum[:16])
}

// FragmentID returns the ID of fragment seq of a document. Sequence numbers
// are zero padded so IDs of one document sort in sequence order.
func FragmentID(documentID string, seq int) string {
	return fmt.Sprintf("%s%s%0*d", documentID, separator, seqDigits, seq)
}

// SplitFragmentID returns the document ID and sequence number encoded in a fragment ID.
func SplitFragmentID(fragmentID string) (string, int, error) {
	i := strings.LastIndex(fragmentID, separator)
	if i < 0 {
		return "", 0, fmt.Errorf("invalid fragment id %q", fragmentID)
	}
	seq, err := strconv.Atoi(fragmentID[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid fragment id %q: %w", fragmentID, err)
	}
	return fragmentID[:i], seq, nil
}
