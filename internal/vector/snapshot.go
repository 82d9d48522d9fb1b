package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/hyperjump/shiori/internal/models"
)

// SnapshotVersion is the on-disk format version. Files with another version
// cannot be read and require a rebuild.
const SnapshotVersion uint32 = 1

var snapshotMagic = [8]byte{'S', 'H', 'I', 'O', 'R', 'I', 'V', 'X'}

// ErrNoSnapshot is returned by ReadSnapshot when the file does not exist.
var ErrNoSnapshot = errors.New("no vector snapshot")

// Snapshot is the persisted content of a vector index: every fragment ID and
// its vector, the database generation it was taken at, and the fingerprint
// of the embedder that produced the vectors.
type Snapshot struct {
	Dimensions  int
	Generation  uint64
	Fingerprint string
	IDs         []string
	Vectors     [][]float32
}

// Layout, little endian:
//
//	magic[8] version u32 dims u32 generation u64 fpLen u32 fp count u32
//	count * (idLen u32, id, dims * f32)
//	crc32(IEEE) u32 over all preceding bytes

// WriteSnapshot writes snap to path atomically: the data goes to a temporary
// file in the same directory, is synced, then renamed over path.
func WriteSnapshot(path string, snap *Snapshot) error {
	if len(snap.IDs) != len(snap.Vectors) {
		return fmt.Errorf("snapshot ids and vectors length mismatch")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	crc := crc32.NewIEEE()
	w := bufio.NewWriter(io.MultiWriter(tmp, crc))
	if err := encodeSnapshot(w, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := binary.Write(tmp, binary.LittleEndian, crc.Sum32()); err != nil {
		tmp.Close()
		return fmt.Errorf("write checksum: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install snapshot: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func encodeSnapshot(w io.Writer, snap *Snapshot) error {
	le := binary.LittleEndian
	header := []any{
		snapshotMagic,
		SnapshotVersion,
		uint32(snap.Dimensions),
		snap.Generation,
		uint32(len(snap.Fingerprint)),
	}
	for _, v := range header {
		if err := binary.Write(w, le, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if _, err := io.WriteString(w, snap.Fingerprint); err != nil {
		return fmt.Errorf("write fingerprint: %w", err)
	}
	if err := binary.Write(w, le, uint32(len(snap.IDs))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range snap.IDs {
		if err := checkDims(snap.Vectors[i], snap.Dimensions); err != nil {
			return fmt.Errorf("snapshot entry %s: %w", id, err)
		}
		if err := binary.Write(w, le, uint32(len(id))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := io.WriteString(w, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(snap.Vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// ReadSnapshot reads and verifies a snapshot. A missing file yields
// ErrNoSnapshot, a damaged one ErrIndexUnavailable, and a file written by
// another format version ErrRebuildRequired.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("%w: read snapshot: %v", models.ErrIndexUnavailable, err)
	}
	if len(data) < len(snapshotMagic)+8 || !bytes.Equal(data[:len(snapshotMagic)], snapshotMagic[:]) {
		return nil, fmt.Errorf("%w: %s is not a vector snapshot", models.ErrIndexUnavailable, path)
	}
	version := binary.LittleEndian.Uint32(data[len(snapshotMagic):])
	if version != SnapshotVersion {
		return nil, fmt.Errorf("%w: snapshot format v%d, this build reads v%d", models.ErrRebuildRequired, version, SnapshotVersion)
	}
	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: snapshot checksum mismatch", models.ErrIndexUnavailable)
	}
	snap, err := decodeSnapshot(bytes.NewReader(body[len(snapshotMagic)+4:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndexUnavailable, err)
	}
	return snap, nil
}

func decodeSnapshot(r *bytes.Reader) (*Snapshot, error) {
	le := binary.LittleEndian
	var dims, fpLen, count uint32
	snap := &Snapshot{}
	if err := binary.Read(r, le, &dims); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(r, le, &snap.Generation); err != nil {
		return nil, fmt.Errorf("read generation: %w", err)
	}
	if err := binary.Read(r, le, &fpLen); err != nil {
		return nil, fmt.Errorf("read fingerprint length: %w", err)
	}
	if int64(fpLen) > int64(r.Len()) {
		return nil, fmt.Errorf("fingerprint length %d exceeds file", fpLen)
	}
	fp := make([]byte, fpLen)
	if _, err := io.ReadFull(r, fp); err != nil {
		return nil, fmt.Errorf("read fingerprint: %w", err)
	}
	if err := binary.Read(r, le, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	snap.Dimensions = int(dims)
	snap.Fingerprint = string(fp)
	if int64(count)*int64(4+4*int64(dims)) > int64(r.Len()) {
		return nil, fmt.Errorf("entry count %d exceeds file", count)
	}
	snap.IDs = make([]string, 0, count)
	snap.Vectors = make([][]float32, 0, count)
	buf := make([]byte, int(dims)*4)
	for i := uint32(0); i < count; i++ {
		var idLen uint32
		if err := binary.Read(r, le, &idLen); err != nil {
			return nil, fmt.Errorf("read id len: %w", err)
		}
		if int64(idLen) > int64(r.Len()) {
			return nil, fmt.Errorf("id length %d exceeds file", idLen)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		snap.IDs = append(snap.IDs, string(idBytes))
		snap.Vectors = append(snap.Vectors, bytesToFloat32Slice(buf))
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", r.Len())
	}
	return snap, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// EncodeVector converts a vector to the
// little-endian float32 bytes used in snapshots and the metadata store.
func EncodeVector(v []float32) []byte {
	return float32SliceToBytes(v)
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: vector blob of %d bytes", models.ErrIndexUnavailable, len(b))
	}
	return bytesToFloat32Slice(b), nil
}
