package analysis

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// ErrUnsupportedType is matched by every UnsupportedTypeError.
var ErrUnsupportedType = errors.New("unsupported analysis type")

// UnsupportedTypeError reports an unknown analysis type together with the
// types the registry does support.
type UnsupportedTypeError struct {
	Type      string
	Supported []string
}

// Error implements the error interface.
func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported analysis type %q: supported types are %s",
		e.Type, strings.Join(e.Supported, ", "))
}

// Is lets errors.Is match ErrUnsupportedType.
func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

// Constructor builds an analyzer. It runs at most once per registry entry.
type Constructor func() (Analyzer, error)

type entry struct {
	once     sync.Once
	build    Constructor
	analyzer Analyzer
	err      error
}

func (e *entry) get() (Analyzer, error) {
	e.once.Do(func() {
		e.analyzer, e.err = e.build()
	})
	return e.analyzer, e.err
}

// Registry maps analysis types to lazily constructed analyzers. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an analyzer constructor under analysisType. Registering the
// same type twice is a programming error and panics.
func (r *Registry) Register(analysisType string, build Constructor) {
	if analysisType == "" || build == nil {
		panic("analysis: Register requires a type and a constructor")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[analysisType]; exists {
		panic(fmt.Sprintf("analysis: type %q registered twice", analysisType))
	}
	r.entries[analysisType] = &entry{build: build}
}

// Resolve returns the analyzer registered for analysisType. Unknown types
// yield an *UnsupportedTypeError listing the valid ones.
func (r *Registry) Resolve(analysisType string) (Analyzer, error) {
	r.mu.RLock()
	e, ok := r.entries[analysisType]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnsupportedTypeError{Type: analysisType, Supported: r.Types()}
	}

	a, err := e.get()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s analyzer: %w", analysisType, err)
	}
	return a, nil
}

// Supports reports whether analysisType is registered.
func (r *Registry) Supports(analysisType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[analysisType]
	return ok
}

// Types returns the registered analysis types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	types := lo.Keys(r.entries)
	r.mu.RUnlock()

	slices.Sort(types)
	return types
}

// NewDefaultRegistry registers the built-in analyzers. The detector shares a
// single lazily loaded handle across all jobs.
func NewDefaultRegistry(detector DetectorConfig) *Registry {
	r := NewRegistry()
	r.Register(TypeColor, func() (Analyzer, error) {
		return ColorAnalyzer{}, nil
	})
	r.Register(TypeVegetation, func() (Analyzer, error) {
		return VegetationAnalyzer{}, nil
	})
	r.Register(TypeDetection, func() (Analyzer, error) {
		return NewDetector(detector), nil
	})
	return r
}
