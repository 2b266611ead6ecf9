package genfunc

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/upkeep/internal/record"
)

// View gives generators read access to the record graph inside the
// executing transaction. Implementations serve maintained fields with
// their current stored values.
type View interface {
	// Record returns one record by reference. ok is false when the record
	// does not exist.
	Record(ctx context.Context, ref record.Ref) (record.Record, bool, error)
	// Related returns the records linked through the named relation, seen
	// from ref's side, ordered by id ascending.
	Related(ctx context.Context, ref record.Ref, rel string) ([]record.Record, error)
}

// Func computes a maintained field value for one record.
type Func func(ctx context.Context, view View, rec record.Record, args record.Object) (record.Value, error)

// Catalog maps generator names to implementations. Populate it before
// building the engine; it is read-only afterwards.
type Catalog struct {
	funcs map[string]Func
}

// NewCatalog returns an empty catalogue.
func NewCatalog() *Catalog {
	return &Catalog{funcs: make(map[string]Func)}
}

// Register adds a generator under a name. Names are flat and unique.
func (c *Catalog) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("generator name is empty")
	}
	if fn == nil {
		return fmt.Errorf("generator %q has no implementation", name)
	}
	if _, dup := c.funcs[name]; dup {
		return fmt.Errorf("generator %q already registered", name)
	}
	c.funcs[name] = fn
	return nil
}

// Has reports whether a generator is registered. Satisfies the registry's
// catalogue interface.
func (c *Catalog) Has(name string) bool {
	_, ok := c.funcs[name]
	return ok
}

// Get returns the generator registered under name.
func (c *Catalog) Get(name string) (Func, bool) {
	fn, ok := c.funcs[name]
	return fn, ok
}

// Names returns all registered names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.funcs))
	for name := range c.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
