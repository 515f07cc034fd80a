// Package datatree mirrors the builder's evaluated entities as typed value
// trees, replacing untyped dotted-path lookups with explicit traversal over
// cty values.
package datatree

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/formloop/formloop/internal/domain/evaluation"
	"github.com/formloop/formloop/internal/ports"
)

// Tree holds the evaluated entities by name.
type Tree struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// Entity is one named node with its evaluated-values subtree.
type Entity struct {
	name   string
	values cty.Value
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{entities: make(map[string]*Entity)}
}

// Upsert stores or replaces the evaluated values for an entity.
func (t *Tree) Upsert(name string, values cty.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entities[name] = &Entity{name: name, values: values}
}

// UpsertJSON decodes a JSON document into a typed value tree and stores it
// under name.
func (t *Tree) UpsertJSON(name string, data []byte) error {
	impliedType, err := ctyjson.ImpliedType(data)
	if err != nil {
		return evaluation.NewValidationError("invalid entity document", map[string]any{
			"entity": name,
			"cause":  err.Error(),
		})
	}
	value, err := ctyjson.Unmarshal(data, impliedType)
	if err != nil {
		return evaluation.NewValidationError("undecodable entity document", map[string]any{
			"entity": name,
			"cause":  err.Error(),
		})
	}
	t.Upsert(name, value)
	return nil
}

// Remove drops an entity.
func (t *Tree) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entities, name)
}

// Lookup returns the entity stored under name.
func (t *Tree) Lookup(name string) (ports.Entity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entity, ok := t.entities[name]
	if !ok {
		return nil, false
	}
	return entity, true
}

// Name implements ports.Entity.
func (e *Entity) Name() string { return e.name }

// ValueAt resolves a dotted path against the entity's evaluated values.
// Object and map steps are attribute or key names; list and tuple steps are
// numeric indices. The boolean result is the explicit found/not-found signal:
// null values, unknown values, and paths off the tree all report false.
func (e *Entity) ValueAt(path string) (cty.Value, bool) {
	if e == nil || path == "" {
		return cty.NilVal, false
	}

	current := e.values
	for _, step := range strings.Split(path, ".") {
		next, ok := descend(current, step)
		if !ok {
			return cty.NilVal, false
		}
		current = next
	}

	if current == cty.NilVal || current.IsNull() || !current.IsKnown() {
		return cty.NilVal, false
	}
	return current, true
}

func descend(value cty.Value, step string) (cty.Value, bool) {
	if value == cty.NilVal || value.IsNull() || !value.IsKnown() {
		return cty.NilVal, false
	}

	ty := value.Type()
	switch {
	case ty.IsObjectType():
		if !ty.HasAttribute(step) {
			return cty.NilVal, false
		}
		return value.GetAttr(step), true

	case ty.IsMapType():
		key := cty.StringVal(step)
		if !value.HasIndex(key).True() {
			return cty.NilVal, false
		}
		return value.Index(key), true

	case ty.IsTupleType(), ty.IsListType():
		index, err := strconv.Atoi(step)
		if err != nil || index < 0 || index >= value.LengthInt() {
			return cty.NilVal, false
		}
		return value.Index(cty.NumberIntVal(int64(index))), true

	default:
		return cty.NilVal, false
	}
}

// Native converts a cty value into the closest Go representation for use as
// a backend call parameter. Composite values round-trip through JSON.
func Native(value cty.Value) (any, error) {
	if value == cty.NilVal || value.IsNull() || !value.IsKnown() {
		return nil, evaluation.NewValidationError("value is not materialised", nil)
	}

	switch value.Type() {
	case cty.String:
		return value.AsString(), nil
	case cty.Bool:
		return value.True(), nil
	case cty.Number:
		bf := value.AsBigFloat()
		if i, accuracy := bf.Int64(); accuracy == 0 {
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	}

	encoded, err := ctyjson.Marshal(value, value.Type())
	if err != nil {
		return nil, evaluation.NewInternalError("encode composite value", err)
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, evaluation.NewInternalError("decode composite value", err)
	}
	return out, nil
}
