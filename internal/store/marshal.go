package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/treesync/internal/node"
	"github.com/roach88/treesync/internal/tree"
	"github.com/roach88/treesync/internal/write"
)

const (
	kindOverwrite = "overwrite"
	kindMerge     = "merge"
)

// marshalNode converts a node to canonical export JSON TEXT, priorities
// included, so equal data always stores identical bytes.
func marshalNode(n node.Node) string {
	return string(node.MarshalCanonical(n, true))
}

func unmarshalNode(data string) (node.Node, error) {
	n, err := node.FromJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal node: %w", err)
	}
	return n, nil
}

// marshalMerge encodes a merge as an object keyed by relative path
// without the leading slash, e.g. {"a/b":1,"c":null}.
func marshalMerge(cw write.CompoundWrite) (string, error) {
	entries := map[string]json.RawMessage{}
	cw.Foreach(func(p tree.Path, n node.Node) {
		entries[strings.TrimPrefix(p.String(), "/")] = node.MarshalCanonical(n, true)
	})
	// encoding/json sorts map keys.
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal merge: %w", err)
	}
	return string(data), nil
}

func unmarshalMerge(data string) (write.CompoundWrite, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return write.CompoundWrite{}, fmt.Errorf("unmarshal merge: %w", err)
	}
	updates := make(map[string]node.Node, len(entries))
	for k, raw := range entries {
		n, err := node.FromJSON(raw)
		if err != nil {
			return write.CompoundWrite{}, fmt.Errorf("unmarshal merge %q: %w", k, err)
		}
		updates[k] = n
	}
	return write.CompoundWriteFromMap(updates), nil
}

func marshalRecord(rec write.Record) (kind, payload string, err error) {
	if rec.IsOverwrite() {
		return kindOverwrite, marshalNode(rec.Overwrite), nil
	}
	payload, err = marshalMerge(rec.Merge)
	return kindMerge, payload, err
}

func unmarshalRecord(id int64, path, kind, payload string, visible bool) (write.Record, error) {
	rec := write.Record{ID: id, Path: tree.ParsePath(path), Visible: visible}
	switch kind {
	case kindOverwrite:
		n, err := unmarshalNode(payload)
		if err != nil {
			return write.Record{}, err
		}
		rec.Overwrite = n
	case kindMerge:
		cw, err := unmarshalMerge(payload)
		if err != nil {
			return write.Record{}, err
		}
		rec.Merge = cw
	default:
		return write.Record{}, fmt.Errorf("unknown write kind %q", kind)
	}
	return rec, nil
}
