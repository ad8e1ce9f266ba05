package index

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/domain"
)

// Generation is one built (index, sentence sequence) pair. The two halves are
// always published, persisted and loaded together.
type Generation struct {
	ID        string
	Model     string
	BuiltAt   time.Time
	Index     *Index
	Sentences []domain.Sentence
}

// Fingerprint hashes the ordered sentence texts.
func Fingerprint(sentences []domain.Sentence) uint64 {
	d := xxhash.New()
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(sentences)))
	_, _ = d.Write(n[:])
	for _, s := range sentences {
		binary.LittleEndian.PutUint64(n[:], uint64(len(s.Text)))
		_, _ = d.Write(n[:])
		_, _ = d.WriteString(s.Text)
	}
	return d.Sum64()
}

// Header returns the file header describing g.
func (g *Generation) Header() Header {
	return Header{Model: g.Model, Fingerprint: Fingerprint(g.Sentences)}
}

// Validate checks the alignment of vectors and sentences. A nil generation is
// unavailable.
func (g *Generation) Validate() error {
	if g == nil || g.Index == nil {
		return goerr.Wrap(domain.ErrIndexUnavailable, "no index generation loaded")
	}
	if g.Index.Len() != len(g.Sentences) {
		return goerr.Wrap(domain.ErrIndexUnavailable, "vector and sentence counts differ",
			goerr.V("generation", g.ID), goerr.V("vectors", g.Index.Len()), goerr.V("sentences", len(g.Sentences)))
	}
	for i, s := range g.Sentences {
		if s.ID != i {
			return goerr.Wrap(domain.ErrIndexUnavailable, "sentence id does not match its position",
				goerr.V("generation", g.ID), goerr.V("position", i), goerr.V("id", s.ID))
		}
	}
	return nil
}

// Restore joins a decoded index with its sentence sequence, checking that
// both were written by the same build.
func Restore(id string, builtAt time.Time, idx *Index, h Header, sentences []domain.Sentence) (*Generation, error) {
	g := &Generation{ID: id, Model: h.Model, BuiltAt: builtAt, Index: idx, Sentences: sentences}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if fp := Fingerprint(sentences); fp != h.Fingerprint {
		return nil, goerr.Wrap(domain.ErrIndexUnavailable, "sentence sequence does not match index fingerprint",
			goerr.V("generation", id), goerr.V("want", h.Fingerprint), goerr.V("got", fp))
	}
	return g, nil
}

// Sentence returns the sentence with the given id.
func (g *Generation) Sentence(id int) (domain.Sentence, bool) {
	if id < 0 || id >= len(g.Sentences) {
		return domain.Sentence{}, false
	}
	return g.Sentences[id], true
}

// Handle publishes the live generation. Readers take one generation with
// Current and use it for the whole query.
type Handle struct {
	current atomic.Pointer[Generation]
}

// Current returns the live generation or nil.
func (h *Handle) Current() *Generation {
	return h.current.Load()
}

// Swap publishes g and returns the generation it replaced.
func (h *Handle) Swap(g *Generation) *Generation {
	return h.current.Swap(g)
}
