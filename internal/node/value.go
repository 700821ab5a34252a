package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/roach88/treesync/internal/tree"
)

// MaxDepth is the deepest nesting FromValue accepts.
const MaxDepth = 1000

// FromValue converts a Go value into a Node. It accepts nil, bool, every
// numeric kind, json.Number, string, slices (keyed "0", "1", ...) and
// string-keyed maps. Maps may carry ".priority" and, for primitives,
// ".value". A map holding only ".sv" becomes a ServerValue placeholder.
// A Node is returned unchanged.
func FromValue(v any) (Node, error) {
	return fromValue(v, tree.Root())
}

// MustFromValue is FromValue for values known to be valid. It panics on
// error.
func MustFromValue(v any) Node {
	n, err := FromValue(v)
	if err != nil {
		panic(err)
	}
	return n
}

// FromJSON decodes JSON text into a Node. Numbers keep full float64
// precision.
func FromJSON(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &tree.ValidationError{
			Code:    tree.ErrCodeInvalidValue,
			Message: fmt.Sprintf("invalid JSON: %v", err),
		}
	}
	return FromValue(v)
}

// PriorityFromValue converts a priority. Only nil, strings and numbers
// are priorities.
func PriorityFromValue(v any) (Node, error) {
	return priorityFromValue(v, tree.Root())
}

func fromValue(v any, at tree.Path) (Node, error) {
	if at.Len() > MaxDepth {
		return nil, &tree.ValidationError{
			Code:    tree.ErrCodeMaxDepth,
			Message: fmt.Sprintf("value is nested deeper than %d levels", MaxDepth),
			Path:    at.String(),
		}
	}
	switch val := v.(type) {
	case nil:
		return Empty, nil
	case Node:
		return val, nil
	case ServerValue:
		return NewLeaf(val), nil
	case map[string]any:
		return fromMap(val, at)
	case []any:
		return fromSlice(val, at)
	}
	if leaf, ok, err := primitive(v, at); ok {
		if err != nil {
			return nil, err
		}
		return NewLeaf(leaf), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return fromSlice(items, at)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return fromMap(m, at)
	case reflect.Pointer:
		if rv.IsNil() {
			return Empty, nil
		}
		return fromValue(rv.Elem().Interface(), at)
	}
	return nil, &tree.ValidationError{
		Code:    tree.ErrCodeInvalidValue,
		Message: fmt.Sprintf("unsupported value type %T", v),
		Path:    at.String(),
	}
}

// primitive converts scalar values. ok is false when v is not a scalar.
func primitive(v any, at tree.Path) (any, bool, error) {
	if n, isNumber := v.(json.Number); isNumber {
		f, perr := strconv.ParseFloat(string(n), 64)
		if perr != nil {
			return nil, true, invalidValue(at, fmt.Sprintf("invalid number %q", n))
		}
		v = f
	}
	lv, isLeaf := leafValue(v)
	if !isLeaf {
		return nil, false, nil
	}
	if f, isFloat := lv.(float64); isFloat && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil, true, invalidValue(at, "NaN and Infinity are not valid values")
	}
	return lv, true, nil
}

func fromMap(m map[string]any, at tree.Path) (Node, error) {
	priority := Empty
	if p, ok := m[tree.PriorityKey]; ok {
		var err error
		priority, err = priorityFromValue(p, at.Child(tree.PriorityKey))
		if err != nil {
			return nil, err
		}
	}

	if inner, ok := m[tree.ValueKey]; ok {
		for k := range m {
			if k != tree.ValueKey && k != tree.PriorityKey {
				return nil, invalidValue(at, "\".value\" may only be combined with \".priority\"")
			}
		}
		if m, ok := inner.(map[string]any); ok {
			if _, deferred := m[ServerValueKey]; deferred {
				sv, err := serverValueFromMap(m, at)
				if err != nil {
					return nil, err
				}
				return NewLeafWithPriority(sv, priority), nil
			}
		}
		if inner != nil {
			leaf, isScalar, err := primitive(inner, at)
			if !isScalar {
				return nil, invalidValue(at, "\".value\" must be a primitive")
			}
			if err != nil {
				return nil, err
			}
			return NewLeafWithPriority(leaf, priority), nil
		}
		return Empty, nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if k == tree.PriorityKey {
			continue
		}
		if k == ServerValueKey {
			sv, err := serverValueFromMap(m, at)
			if err != nil {
				return nil, err
			}
			return NewLeaf(sv), nil
		}
		if err := tree.ValidateKey(k); err != nil {
			return nil, &tree.ValidationError{
				Code:    tree.ErrCodeInvalidKey,
				Message: fmt.Sprintf("invalid key %q", k),
				Path:    at.String(),
			}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := emptyChildMap()
	for _, k := range keys {
		child, err := fromValue(m[k], at.Child(k))
		if err != nil {
			return nil, err
		}
		if !child.IsEmpty() {
			children = children.Insert(k, child)
		}
	}
	return newChildren(children, priority), nil
}

func fromSlice(items []any, at tree.Path) (Node, error) {
	children := emptyChildMap()
	for i, item := range items {
		key := strconv.Itoa(i)
		child, err := fromValue(item, at.Child(key))
		if err != nil {
			return nil, err
		}
		if !child.IsEmpty() {
			children = children.Insert(key, child)
		}
	}
	return newChildren(children, Empty), nil
}

func priorityFromValue(v any, at tree.Path) (Node, error) {
	if v == nil {
		return Empty, nil
	}
	if n, ok := v.(Node); ok {
		if n.IsEmpty() {
			return Empty, nil
		}
		if l, isLeaf := n.(*Leaf); isLeaf {
			if _, isBool := l.value.(bool); !isBool && l.priority.IsEmpty() {
				return l, nil
			}
		}
		return nil, invalidPriority(at)
	}
	if m, isMap := v.(map[string]any); isMap {
		if _, deferred := m[ServerValueKey]; deferred {
			sv, err := serverValueFromMap(m, at)
			if err != nil {
				return nil, err
			}
			return NewLeaf(sv), nil
		}
	}
	lv, ok, err := primitive(v, at)
	if !ok {
		return nil, invalidPriority(at)
	}
	if err != nil {
		return nil, err
	}
	if _, isBool := lv.(bool); isBool {
		return nil, invalidPriority(at)
	}
	return NewLeaf(lv), nil
}

func invalidValue(at tree.Path, msg string) error {
	return &tree.ValidationError{Code: tree.ErrCodeInvalidValue, Message: msg, Path: at.String()}
}

func invalidPriority(at tree.Path) error {
	return &tree.ValidationError{
		Code:    tree.ErrCodeInvalidPriority,
		Message: "priority must be a string, a number or null",
		Path:    at.String(),
	}
}
