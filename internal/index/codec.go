package index

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
)

const (
	magic         = "MRIX"
	formatVersion = uint32(1)
	maxModelLen   = 1 << 12
	// maxValues caps dim*n read from a header (1 GiB of float32).
	maxValues = 1 << 28
)

// Header is the metadata stored in front of the vectors. Fingerprint binds
// the file to the exact sentence sequence it was built from.
type Header struct {
	Model       string
	Fingerprint uint64
}

// Encode writes idx in the little-endian layout:
// magic, version, dim, n, model length, model, fingerprint, n*dim float32.
func Encode(w io.Writer, idx *Index, h Header) error {
	if len(h.Model) > maxModelLen {
		return goerr.Wrap(domain.ErrInvalidArgument, "model identifier too long", goerr.V("len", len(h.Model)))
	}
	bw := bufio.NewWriter(w)
	var u32 [4]byte
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		_, _ = bw.Write(u32[:])
	}

	_, _ = bw.WriteString(magic)
	put32(formatVersion)
	put32(uint32(idx.dim))
	put32(uint32(idx.n))
	put32(uint32(len(h.Model)))
	_, _ = bw.WriteString(h.Model)
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], h.Fingerprint)
	_, _ = bw.Write(u64[:])
	for _, f := range idx.data {
		put32(math.Float32bits(f))
	}
	if err := bw.Flush(); err != nil {
		return goerr.Wrap(err, "failed to write index")
	}
	return nil
}

// Decode reads an index written by Encode. Any structural problem is
// reported as domain.ErrIndexUnavailable.
func Decode(r io.Reader) (*Index, Header, error) {
	br := bufio.NewReader(r)
	fail := func(msg string, cause error) (*Index, Header, error) {
		opts := []goerr.Option{}
		if cause != nil {
			opts = append(opts, goerr.V("cause", cause.Error()))
		}
		return nil, Header{}, goerr.Wrap(domain.ErrIndexUnavailable, msg, opts...)
	}

	var m [4]byte
	if _, err := io.ReadFull(br, m[:]); err != nil {
		return fail("failed to read index magic", err)
	}
	if string(m[:]) != magic {
		return fail("not an index file", nil)
	}
	var fixed [16]byte
	if _, err := io.ReadFull(br, fixed[:]); err != nil {
		return fail("failed to read index header", err)
	}
	version := binary.LittleEndian.Uint32(fixed[0:])
	dim32 := binary.LittleEndian.Uint32(fixed[4:])
	n32 := binary.LittleEndian.Uint32(fixed[8:])
	modelLen := int(binary.LittleEndian.Uint32(fixed[12:]))
	if version != formatVersion {
		return fail("unsupported index version", nil)
	}
	if n32 > 0 && dim32 == 0 {
		return fail("corrupt index header: vectors without dimension", nil)
	}
	if total := uint64(dim32) * uint64(n32); total > maxValues {
		return fail("corrupt index header: vector data too large", nil)
	}
	dim, n := int(dim32), int(n32)
	if modelLen > maxModelLen {
		return fail("corrupt model identifier length", nil)
	}
	model := make([]byte, modelLen)
	if _, err := io.ReadFull(br, model); err != nil {
		return fail("failed to read model identifier", err)
	}
	var u64 [8]byte
	if _, err := io.ReadFull(br, u64[:]); err != nil {
		return fail("failed to read fingerprint", err)
	}

	data := make([]float32, 0, min(dim*n, 1<<20))
	var u32 [4]byte
	for i := 0; i < dim*n; i++ {
		if _, err := io.ReadFull(br, u32[:]); err != nil {
			return fail("index file truncated", err)
		}
		data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(u32[:])))
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return fail("trailing data after index", nil)
	}

	return &Index{dim: dim, n: n, data: data}, Header{
		Model:       string(model),
		Fingerprint: binary.LittleEndian.Uint64(u64[:]),
	}, nil
}
