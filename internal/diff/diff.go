package diff

// Package diff computes the set of changed leaf paths between two tree-shaped
// configuration documents.
//
// Paths are dotted key sequences ("checkout.resources.limits.memory"). Sequences
// are compared atomically: a list that differs in any element is reported once,
// at the list's own path. A difference at the document root is reported as
// RootPath.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RootPath is reported when the two documents differ at the top level.
const RootPath = "<root>"

// ParseDocument parses configuration text into a generic tree of
// map[string]interface{}, []interface{} and scalars. Empty input yields nil.
func ParseDocument(text string) (interface{}, error) {
	var doc interface{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(text)))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return Normalize(doc), nil
}

// Normalize rewrites maps with non-string keys into map[string]interface{} so
// documents decoded by different means compare equal.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	default:
		return v
	}
}

// Diff returns the sorted, de-duplicated set of paths at which original and
// modified disagree. Diff(x, x) is empty and Diff(x, y) equals Diff(y, x).
func Diff(original, modified interface{}) []string {
	set := make(map[string]struct{})
	walk(Normalize(original), Normalize(modified), "", set)

	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Equal reports whether two documents are structurally identical.
func Equal(a, b interface{}) bool {
	return len(Diff(a, b)) == 0
}

func walk(a, b interface{}, prefix string, out map[string]struct{}) {
	am, aIsMap := a.(map[string]interface{})
	bm, bIsMap := b.(map[string]interface{})
	if aIsMap && bIsMap {
		for k, av := range am {
			bv, ok := bm[k]
			if !ok {
				out[join(prefix, k)] = struct{}{}
				continue
			}
			walk(av, bv, join(prefix, k), out)
		}
		for k := range bm {
			if _, ok := am[k]; !ok {
				out[join(prefix, k)] = struct{}{}
			}
		}
		return
	}

	// Sequences, scalars and mismatched container types are all compared whole.
	if !reflect.DeepEqual(a, b) {
		out[pathOrRoot(prefix)] = struct{}{}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func pathOrRoot(p string) string {
	if p == "" {
		return RootPath
	}
	return p
}

// TopLevelSections returns the distinct first segments of the given paths.
func TopLevelSections(paths []string) []string {
	seen := make(map[string]struct{})
	var sections []string
	for _, p := range paths {
		head := p
		if i := strings.IndexByte(p, '.'); i >= 0 {
			head = p[:i]
		}
		if _, ok := seen[head]; ok {
			continue
		}
		seen[head] = struct{}{}
		sections = append(sections, head)
	}
	return sections
}
