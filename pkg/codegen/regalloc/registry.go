package regalloc

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/segmentio/encoding/json"
)

// ErrDuplicateFunction is returned when a function is registered twice
var ErrDuplicateFunction = errors.New("function already allocated")

// Registry keeps the color map of every function allocated in a program
type Registry struct {
	maps  map[string]ColorMap
	order []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{maps: make(map[string]ColorMap)}
}

// Put records the color map of fn
func (r *Registry) Put(fn string, cm ColorMap) error {
	if _, ok := r.maps[fn]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, fn)
	}
	cp := make(ColorMap, len(cm))
	for k, v := range cm {
		cp[k] = v
	}
	r.maps[fn] = cp
	r.order = append(r.order, fn)
	return nil
}

// Lookup returns the color map of fn
func (r *Registry) Lookup(fn string) (ColorMap, bool) {
	cm, ok := r.maps[fn]
	return cm, ok
}

// Functions returns the registered function names in allocation order
func (r *Registry) Functions() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered functions
func (r *Registry) Len() int {
	return len(r.order)
}

// registryEntry is the serialized form of one function's assignment
type registryEntry struct {
	Function string            `json:"function"`
	Colors   map[string]string `json:"colors"`
	Physical []string          `json:"physical"`
}

// WriteJSON serializes the registry as an array of functions in allocation
// order
func (r *Registry) WriteJSON(w io.Writer) error {
	entries := make([]registryEntry, 0, len(r.order))
	for _, fn := range r.order {
		cm := r.maps[fn]
		used := make(map[string]bool)
		for _, p := range cm {
			used[p] = true
		}
		phys := make([]string, 0, len(used))
		for p := range used {
			phys = append(phys, p)
		}
		sort.Strings(phys)
		entries = append(entries, registryEntry{Function: fn, Colors: cm, Physical: phys})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	return nil
}
