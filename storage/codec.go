package storage

import (
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/medfuse/core"
)

// MUS serializers for the persisted records. Fields are written in
// declaration order; timestamps are stored as Unix microseconds.
var (
	IDMUS         = idMUS{}
	DocumentMUS   = documentMUS{}
	CheckpointMUS = checkpointMUS{}
)

type idMUS struct{}

func (idMUS) Marshal(v core.ID, bs []byte) (n int) {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (idMUS) Unmarshal(bs []byte) (v core.ID, n int, err error) {
	u, n, err := varint.Uint64.Unmarshal(bs)
	return core.ID(u), n, err
}

func (idMUS) Size(v core.ID) (size int) {
	return varint.Uint64.Size(uint64(v))
}

type documentMUS struct{}

func (documentMUS) Marshal(v core.Document, bs []byte) (n int) {
	w := writer{bs: bs}
	w.uint64(uint64(v.Id))
	w.string(v.Corpus)
	w.string(v.Title)
	w.string(v.Content)
	w.stringMap(v.Metadata)
	w.vector(v.Vector)
	w.time(v.InsertedAt)
	w.time(v.UpdatedAt)
	return w.n
}

func (documentMUS) Unmarshal(bs []byte) (v core.Document, n int, err error) {
	r := reader{bs: bs}
	v.Id = core.ID(r.uint64())
	v.Corpus = r.string()
	v.Title = r.string()
	v.Content = r.string()
	v.Metadata = r.stringMap()
	v.Vector = r.vector()
	v.InsertedAt = r.time()
	v.UpdatedAt = r.time()
	return v, r.n, r.err
}

func (documentMUS) Size(v core.Document) (size int) {
	var s sizer
	s.uint64(uint64(v.Id))
	s.string(v.Corpus)
	s.string(v.Title)
	s.string(v.Content)
	s.stringMap(v.Metadata)
	s.vector(v.Vector)
	s.time(v.InsertedAt)
	s.time(v.UpdatedAt)
	return s.n
}

type checkpointMUS struct{}

func (checkpointMUS) Marshal(v core.Checkpoint, bs []byte) (n int) {
	w := writer{bs: bs}
	w.string(v.ProcessorType)
	w.uint64(uint64(v.LastProcessedID))
	w.uint64(uint64(v.Processed))
	w.time(v.UpdatedAt)
	return w.n
}

func (checkpointMUS) Unmarshal(bs []byte) (v core.Checkpoint, n int, err error) {
	r := reader{bs: bs}
	v.ProcessorType = r.string()
	v.LastProcessedID = core.ID(r.uint64())
	v.Processed = int(r.uint64())
	v.UpdatedAt = r.time()
	return v, r.n, r.err
}

func (checkpointMUS) Size(v core.Checkpoint) (size int) {
	var s sizer
	s.string(v.ProcessorType)
	s.uint64(uint64(v.LastProcessedID))
	s.uint64(uint64(v.Processed))
	s.time(v.UpdatedAt)
	return s.n
}

// writer appends MUS-encoded values to a buffer sized by sizer.
type writer struct {
	bs []byte
	n  int
}

func (w *writer) uint64(v uint64) { w.n += varint.Uint64.Marshal(v, w.bs[w.n:]) }
func (w *writer) string(v string) { w.n += ord.String.Marshal(v, w.bs[w.n:]) }
func (w *writer) time(v time.Time) {
	w.n += varint.Int64.Marshal(unixMicro(v), w.bs[w.n:])
}

func (w *writer) vector(v []float32) {
	w.uint64(uint64(len(v)))
	for _, f := range v {
		w.n += raw.Float32.Marshal(f, w.bs[w.n:])
	}
}

// stringMap writes keys in sorted order so equal maps encode identically.
func (w *writer) stringMap(m map[string]string) {
	w.uint64(uint64(len(m)))
	for _, k := range sortedKeys(m) {
		w.string(k)
		w.string(m[k])
	}
}

type sizer struct {
	n int
}

func (s *sizer) uint64(v uint64) { s.n += varint.Uint64.Size(v) }
func (s *sizer) string(v string) { s.n += ord.String.Size(v) }
func (s *sizer) time(v time.Time) {
	s.n += varint.Int64.Size(unixMicro(v))
}

func (s *sizer) vector(v []float32) {
	s.uint64(uint64(len(v)))
	for _, f := range v {
		s.n += raw.Float32.Size(f)
	}
}

func (s *sizer) stringMap(m map[string]string) {
	s.uint64(uint64(len(m)))
	for k, val := range m {
		s.string(k)
		s.string(val)
	}
}

// reader decodes MUS values in sequence. After the first error every
// further read is a no-op returning the zero value.
type reader struct {
	bs  []byte
	n   int
	err error
}

func (r *reader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) time() time.Time {
	if r.err != nil {
		return time.Time{}
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func (r *reader) vector() []float32 {
	count := r.length()
	if r.err != nil || count == 0 {
		return nil
	}
	out := make([]float32, count)
	for i := range out {
		v, n, err := raw.Float32.Unmarshal(r.bs[r.n:])
		r.n += n
		if err != nil {
			r.err = err
			return nil
		}
		out[i] = v
	}
	return out
}

func (r *reader) stringMap() map[string]string {
	count := r.length()
	if r.err != nil || count == 0 {
		return nil
	}
	out := make(map[string]string, count)
	for range count {
		k := r.string()
		v := r.string()
		if r.err != nil {
			return nil
		}
		out[k] = v
	}
	return out
}

// length reads a collection length and rejects values that cannot fit in
// the remaining input.
func (r *reader) length() int {
	count := r.uint64()
	if r.err == nil && count > uint64(len(r.bs)-r.n) {
		r.err = ErrTruncatedData
		return 0
	}
	return int(count)
}

func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
