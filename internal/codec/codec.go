// Package codec contains the geometry compression codecs a tile payload can reference.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownCodec  = errors.New("unknown geometry codec")
	ErrCorruptStream = errors.New("corrupt compressed geometry")
)

// Attribute of a decompressed mesh, values are stored flat with Components values per vertex
type Attribute struct {
	Name       string
	Components int
	Values     []float64
	// Number of quantization bits used by the encoder, 0 keeps the values as float32.
	// Ignored by decoders.
	QuantizationBits int
}

func (a *Attribute) Count() int {
	if a.Components == 0 {
		return 0
	}
	return len(a.Values) / a.Components
}

type Mesh struct {
	VertexCount int
	Indices     []uint32
	Attributes  []*Attribute
}

func (m *Mesh) Attribute(name string) *Attribute {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

type GeometryCodec interface {
	Name() string
	Encode(mesh *Mesh) ([]byte, error)
	Decode(data []byte) (*Mesh, error)
}

// Registry of the codecs available to the decoders, keyed by name
type Registry struct {
	sync.RWMutex
	codecs map[string]GeometryCodec
}

func NewRegistry(codecs ...GeometryCodec) *Registry {
	r := &Registry{codecs: make(map[string]GeometryCodec)}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Returns a registry holding the codecs built into the module
func NewDefaultRegistry() *Registry {
	return NewRegistry(NewQDeflateCodec())
}

func (r *Registry) Register(c GeometryCodec) {
	r.Lock()
	defer r.Unlock()
	r.codecs[c.Name()] = c
}

func (r *Registry) Lookup(name string) (GeometryCodec, error) {
	r.RLock()
	defer r.RUnlock()
	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

func (r *Registry) Names() []string {
	r.RLock()
	defer r.RUnlock()
	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
