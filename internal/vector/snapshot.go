package vector

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bits-and-blooms/bitset"

	"github.com/hyperjump/kura/internal/codec"
)

// snapshotEnvelope is the gob payload stored inside the snapshot
// container. Exactly one of Flat or HNSW is set, matching Kind.
type snapshotEnvelope struct {
	Kind Kind
	Flat *flatSnapshot
	HNSW *hnswSnapshot
}

type flatSnapshot struct {
	MaxSeq uint64
	IDs    []string
	Seqs   []uint64
	Vecs   [][]float32
}

type hnswSnapshot struct {
	MaxSeq   uint64
	Opts     HNSWOptions
	EP       uint32
	MaxLevel int
	Deleted  []uint32
	Nodes    []hnswNodeSnapshot
}

type hnswNodeSnapshot struct {
	ID    string
	Seq   uint64
	Vec   []float32
	Layer int
	Conns [][]uint32
}

// WriteSnapshot serializes the index into w using the snapshot container
// format. version is the record store's mutation counter at save time; it
// lands in the header so loaders can detect stale snapshots without
// decoding the payload.
func WriteSnapshot(w io.Writer, idx Index, comp codec.Compression, version uint64) error {
	env, err := capture(idx)
	if err != nil {
		return err
	}
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(env); err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	header := codec.Header{
		Compression: comp,
		Metric:      uint8(idx.Metric()),
		Dimension:   uint32(idx.Dimension()),
		Count:       uint64(idx.Size()),
		Version:     version,
	}
	return codec.WriteSnapshot(w, header, payload.Bytes())
}

// ReadSnapshot reconstructs an index from a snapshot written by
// WriteSnapshot and returns the store version recorded at save time.
// Magnitudes are recomputed rather than persisted.
func ReadSnapshot(r io.Reader) (Index, uint64, error) {
	header, payload, err := codec.ReadSnapshot(r)
	if err != nil {
		return nil, 0, err
	}
	var env snapshotEnvelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return nil, 0, fmt.Errorf("decode index snapshot: %w", err)
	}

	dim := int(header.Dimension)
	metric := Metric(header.Metric)

	var idx Index
	switch env.Kind {
	case KindFlat:
		if env.Flat == nil {
			return nil, 0, fmt.Errorf("flat snapshot missing payload")
		}
		idx, err = restoreFlat(dim, metric, env.Flat)
	case KindHNSW:
		if env.HNSW == nil {
			return nil, 0, fmt.Errorf("hnsw snapshot missing payload")
		}
		idx, err = restoreHNSW(dim, metric, env.HNSW)
	default:
		return nil, 0, fmt.Errorf("unknown index kind %q in snapshot", env.Kind)
	}
	if err != nil {
		return nil, 0, err
	}
	return idx, header.Version, nil
}

// SaveFile writes the snapshot to path atomically via a temp file and
// rename, so a crash mid-save leaves the previous snapshot intact.
func SaveFile(path string, idx Index, comp codec.Compression, version uint64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteSnapshot(tmp, idx, comp, version); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// LoadFile reads a snapshot from path. The caller is expected to fall
// back to a rebuild when the file does not exist or fails to load.
func LoadFile(path string) (Index, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ReadSnapshot(f)
}

func capture(idx Index) (*snapshotEnvelope, error) {
	switch v := idx.(type) {
	case *Flat:
		v.mu.RLock()
		defer v.mu.RUnlock()
		snap := &flatSnapshot{
			MaxSeq: v.maxSeq,
			IDs:    append([]string(nil), v.ids...),
			Seqs:   append([]uint64(nil), v.seqs...),
			Vecs:   make([][]float32, len(v.vecs)),
		}
		for i, vec := range v.vecs {
			snap.Vecs[i] = append([]float32(nil), vec...)
		}
		return &snapshotEnvelope{Kind: KindFlat, Flat: snap}, nil
	case *HNSW:
		v.mu.RLock()
		defer v.mu.RUnlock()
		snap := &hnswSnapshot{
			MaxSeq:   v.maxSeq,
			Opts:     v.opts,
			EP:       v.ep,
			MaxLevel: v.maxLevel,
			Nodes:    make([]hnswNodeSnapshot, len(v.nodes)),
		}
		for slot, n := range v.nodes {
			conns := make([][]uint32, len(n.conns))
			for i, c := range n.conns {
				conns[i] = append([]uint32(nil), c...)
			}
			snap.Nodes[slot] = hnswNodeSnapshot{
				ID:    n.id,
				Seq:   n.seq,
				Vec:   append([]float32(nil), n.vec...),
				Layer: n.layer,
				Conns: conns,
			}
			if v.deleted.Test(uint(slot)) {
				snap.Deleted = append(snap.Deleted, uint32(slot))
			}
		}
		return &snapshotEnvelope{Kind: KindHNSW, HNSW: snap}, nil
	default:
		return nil, fmt.Errorf("unsupported index type %T", idx)
	}
}

func restoreFlat(dim int, metric Metric, snap *flatSnapshot) (*Flat, error) {
	if len(snap.IDs) != len(snap.Vecs) || len(snap.IDs) != len(snap.Seqs) {
		return nil, fmt.Errorf("flat snapshot is inconsistent: %d ids, %d seqs, %d vectors",
			len(snap.IDs), len(snap.Seqs), len(snap.Vecs))
	}
	f, err := NewFlat(dim, metric)
	if err != nil {
		return nil, err
	}
	f.ids = snap.IDs
	f.seqs = snap.Seqs
	f.vecs = snap.Vecs
	f.mags = make([]float32, len(snap.Vecs))
	for i, vec := range snap.Vecs {
		if len(vec) != dim {
			return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(vec)}
		}
		f.mags[i] = Magnitude(vec)
		f.pos[snap.IDs[i]] = i
	}
	f.maxSeq = snap.MaxSeq
	return f, nil
}

func restoreHNSW(dim int, metric Metric, snap *hnswSnapshot) (*HNSW, error) {
	if len(snap.Nodes) == 0 {
		return nil, fmt.Errorf("hnsw snapshot has no nodes")
	}
	h, err := NewHNSW(dim, metric, snap.Opts)
	if err != nil {
		return nil, err
	}
	h.nodes = make([]*hnswNode, len(snap.Nodes))
	for slot, ns := range snap.Nodes {
		if len(ns.Vec) != dim {
			return nil, &ErrDimensionMismatch{Expected: dim, Actual: len(ns.Vec)}
		}
		h.nodes[slot] = &hnswNode{
			id:    ns.ID,
			seq:   ns.Seq,
			vec:   ns.Vec,
			mag:   Magnitude(ns.Vec),
			layer: ns.Layer,
			conns: ns.Conns,
		}
	}
	h.deleted = bitsetFromSlots(snap.Deleted, uint(len(snap.Nodes)))
	h.byID = make(map[string]uint32, len(snap.Nodes))
	for slot, n := range h.nodes {
		if !h.deleted.Test(uint(slot)) {
			h.byID[n.id] = uint32(slot)
		}
	}
	h.liveCount = len(h.byID)
	h.ep = snap.EP
	h.maxLevel = snap.MaxLevel
	h.maxSeq = snap.MaxSeq
	return h, nil
}

func bitsetFromSlots(slots []uint32, n uint) *bitset.BitSet {
	bs := bitset.New(n)
	for _, s := range slots {
		bs.Set(uint(s))
	}
	return bs
}
