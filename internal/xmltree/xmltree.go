// NFeProc - NFe XML Ingestion and Archival Daemon
// Copyright 2026 FiscalForge
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fiscalforge/nfeproc

// Package xmltree converts raw XML documents into a generic, attribute-aware
// nested tree and provides total (default-producing) typed field lookups.
//
// The tree shape follows mxj conventions:
//   - elements become map[string]interface{} entries keyed by tag name
//   - repeated sibling elements become []interface{}
//   - attributes are keyed with the "@" prefix ("@Id")
//   - text content of an element that also carries attributes is keyed "#text"
//
// Lookups never fail on absent nodes; they only fail when a node is present
// with an unexpected shape (e.g. scalar text where a block was required).
// This mirrors the extraction contract: defaults for missing data, a hard
// error for structurally broken documents.
package xmltree

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/clbanning/mxj/v2"
)

// AttrPrefix marks attribute keys in the parsed tree.
const AttrPrefix = "@"

// textKey holds element text content when the element also has attributes.
const textKey = "#text"

// ErrMalformed is returned by Parse for documents that are not well-formed XML.
var ErrMalformed = errors.New("malformed XML document")

//nolint:gochecknoinits // mxj attribute prefix is package-global state
func init() {
	mxj.SetAttrPrefix(AttrPrefix)
}

// Tree is a parsed document: a nested map of element names to attribute
// values, text content, child maps, and child slices.
type Tree = map[string]interface{}

// ShapeError reports a node that exists but does not have the expected shape.
type ShapeError struct {
	Key  string
	Want string
	Got  interface{}
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("node %q: expected %s, got %T", e.Key, e.Want, e.Got)
}

// Parse converts raw document bytes into a Tree.
// Malformed markup yields an error wrapping ErrMalformed.
func Parse(data []byte) (Tree, error) {
	m, err := mxj.NewMapXml(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Tree(m), nil
}

// ChildMap returns the named child as a map. An absent, nil, or empty child
// yields an empty map so that chained lookups stay total; a present non-map
// child with content is a shape error. Self-closing elements parse as empty
// strings and count as absent.
func ChildMap(node Tree, key string) (Tree, error) {
	v, ok := node[key]
	if !ok || v == nil || v == "" {
		return Tree{}, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, &ShapeError{Key: key, Want: "element block", Got: v}
	}
	return m, nil
}

// ChildList returns the named child as a list of maps. A lone child block is
// normalized to a one-element list; an absent child yields an empty list.
// Scalar entries inside the list are a shape error; a self-closing element
// parses as an empty string and counts as absent.
func ChildList(node Tree, key string) ([]Tree, error) {
	v, ok := node[key]
	if !ok || v == nil || v == "" {
		return nil, nil
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return []Tree{t}, nil
	case []interface{}:
		list := make([]Tree, 0, len(t))
		for _, entry := range t {
			m, ok := entry.(map[string]interface{})
			if !ok {
				return nil, &ShapeError{Key: key, Want: "element block", Got: entry}
			}
			list = append(list, m)
		}
		return list, nil
	default:
		return nil, &ShapeError{Key: key, Want: "element block or list", Got: v}
	}
}

// Str returns the named child's text content, or "" when absent.
// For elements carrying attributes the "#text" entry is used.
func Str(node Tree, key string) string {
	return scalarString(node[key])
}

// Float returns the named child parsed as a float, defaulting to 0 when the
// child is absent or empty. A present non-numeric value is a ShapeError: a
// document carrying garbage where a number belongs must be rejected, not
// committed with silent zeros.
func Float(node Tree, key string) (float64, error) {
	switch t := node[key].(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	default:
		s := scalarString(node[key])
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, &ShapeError{Key: key, Want: "numeric value", Got: s}
		}
		return f, nil
	}
}

// Int returns the named child parsed as an integer, defaulting to 0 when
// absent or empty. A present non-numeric value is a ShapeError.
func Int(node Tree, key string) (int, error) {
	s := scalarString(node[key])
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ShapeError{Key: key, Want: "integer value", Got: s}
	}
	return n, nil
}

// scalarString extracts the text form of a leaf value. Blocks and lists have
// no scalar form and yield "".
func scalarString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]interface{}:
		if text, ok := t[textKey].(string); ok {
			return text
		}
		return ""
	default:
		return ""
	}
}
