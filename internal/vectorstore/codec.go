package vectorstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"docqa/internal/domain"
)

// Binary artifact layout, all integers little-endian:
//
//	magic "DQAIDX" | version u16 | metric u8 | dim u32 | count u64
//	count x entry:
//	  srcLen u32 | src | page u32 | index u32 | start u64 | end u64 | textLen u32 | text | dim x f32
//	xxhash64 of everything above, u64
const (
	binaryMagic   = "DQAIDX"
	binaryVersion = 1
	headerSize    = len(binaryMagic) + 2 + 1 + 4 + 8
	checksumSize  = 8
)

// MarshalBinary serializes the index into a self-describing artifact.
func (ix *Index) MarshalBinary() ([]byte, error) {
	if len(ix.entries) == 0 {
		return nil, domain.ErrEmptyIndex
	}
	size := headerSize + checksumSize
	for _, e := range ix.entries {
		size += 4 + len(e.Chunk.SourceID) + 4 + 4 + 8 + 8 + 4 + len(e.Chunk.Text) + 4*ix.dim
	}
	out := make([]byte, 0, size)
	out = append(out, binaryMagic...)
	out = binary.LittleEndian.AppendUint16(out, binaryVersion)
	out = append(out, byte(ix.metric))
	out = binary.LittleEndian.AppendUint32(out, uint32(ix.dim))
	out = binary.LittleEndian.AppendUint64(out, uint64(len(ix.entries)))
	for _, e := range ix.entries {
		out = appendEntry(out, e)
	}
	return appendChecksum(out), nil
}

func appendEntry(out []byte, e domain.Entry) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(e.Chunk.SourceID)))
	out = append(out, e.Chunk.SourceID...)
	out = binary.LittleEndian.AppendUint32(out, uint32(e.Chunk.Page))
	out = binary.LittleEndian.AppendUint32(out, uint32(e.Chunk.Index))
	out = binary.LittleEndian.AppendUint64(out, uint64(e.Chunk.Start))
	out = binary.LittleEndian.AppendUint64(out, uint64(e.Chunk.End))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(e.Chunk.Text)))
	out = append(out, e.Chunk.Text...)
	return append(out, encodeVector(e.Vector)...)
}

func appendChecksum(payload []byte) []byte {
	return binary.LittleEndian.AppendUint64(payload, xxhash.Sum64(payload))
}

// decodeBinary reverses MarshalBinary. Any inconsistency is reported as an
// error describing the problem; the caller attaches the artifact path.
func decodeBinary(data []byte) (*Index, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("artifact too short (%d bytes)", len(data))
	}
	if string(data[:len(binaryMagic)]) != binaryMagic {
		return nil, errors.New("unrecognized artifact header")
	}
	payload, sum := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(sum) {
		return nil, errors.New("checksum mismatch (truncated or corrupted)")
	}

	r := &cursor{data: payload, off: len(binaryMagic)}
	if v := r.u16(); v != binaryVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", v)
	}
	metric := Metric(r.u8())
	if !metric.valid() {
		return nil, fmt.Errorf("unknown metric identifier %d", uint8(metric))
	}
	dim := int(r.u32())
	if dim == 0 {
		return nil, errors.New("declared dimension is zero")
	}
	count := r.u64()
	if count == 0 {
		return nil, errors.New("declared entry count is zero")
	}

	var entries []domain.Entry
	for r.remaining() > 0 {
		e, ok := r.entry(dim)
		if !ok {
			return nil, fmt.Errorf("truncated record %d", len(entries))
		}
		entries = append(entries, e)
	}
	if uint64(len(entries)) != count {
		return nil, fmt.Errorf("declared %d entries, artifact holds %d", count, len(entries))
	}
	return Build(metric, entries)
}

type cursor struct {
	data []byte
	off  int
	bad  bool
}

func (c *cursor) remaining() int { return len(c.data) - c.off }

func (c *cursor) take(n int) []byte {
	if c.bad || n < 0 || c.remaining() < n {
		c.bad = true
		return nil
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (c *cursor) str() string {
	n := c.u32()
	if c.bad || uint64(n) > uint64(c.remaining()) {
		c.bad = true
		return ""
	}
	return string(c.take(int(n)))
}

func (c *cursor) entry(dim int) (domain.Entry, bool) {
	var e domain.Entry
	e.Chunk.SourceID = c.str()
	e.Chunk.Page = int(c.u32())
	e.Chunk.Index = int(c.u32())
	e.Chunk.Start = int(c.u64())
	e.Chunk.End = int(c.u64())
	e.Chunk.Text = c.str()
	raw := c.take(4 * dim)
	if c.bad {
		return domain.Entry{}, false
	}
	vec, err := decodeVector(raw)
	if err != nil {
		return domain.Entry{}, false
	}
	e.Vector = vec
	return e, true
}

// encodeVector stores float32 values as a little-endian IEEE 754 sequence.
func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte) (domain.Vector, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d (not multiple of 4)", len(b))
	}
	vec := make(domain.Vector, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
