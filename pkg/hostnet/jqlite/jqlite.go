// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package jqlite is a minimal jq-subset expression evaluator over
// encoding/json-decoded values: identity, field/index access, pipes
// ("|"), array iteration (".foo[]") and "select(.field == value)". It
// covers exactly the subset of jq the neigh/routing config expressions
// exercise.
package jqlite

import (
	"fmt"
	"strconv"
	"strings"
)

// Eval parses and runs expr against doc (the result of json.Unmarshal into
// an `any`), returning every value the pipeline produces.
func Eval(expr string, doc any) ([]any, error) {
	stages, err := compile(expr)
	if err != nil {
		return nil, err
	}

	values := []any{doc}
	for _, stage := range stages {
		var next []any
		for _, v := range values {
			out, err := stage.run(v)
			if err != nil {
				return nil, err
			}
			next = append(next, out...)
		}
		values = next
	}
	return values, nil
}

// stage is one pipeline segment between "|" separators.
type stage interface {
	run(v any) ([]any, error)
}

// compile splits expr on top-level "|" and parses each segment.
func compile(expr string) ([]stage, error) {
	parts := splitPipes(expr)
	stages := make([]stage, 0, len(parts))
	for _, p := range parts {
		s, err := compileOne(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}

// splitPipes splits on "|" outside of parentheses, so select(a == "|")
// style literals (not otherwise used here) wouldn't break, and so a
// future select(...) with nested pipes stays well-formed.
func splitPipes(expr string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range expr {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case '|':
			if depth == 0 {
				parts = append(parts, expr[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, expr[start:])
	return parts
}

func compileOne(seg string) (stage, error) {
	switch {
	case seg == "" || seg == ".":
		return identityStage{}, nil
	case strings.HasPrefix(seg, "select(") && strings.HasSuffix(seg, ")"):
		return compileSelect(seg[len("select(") : len(seg)-1])
	case strings.HasPrefix(seg, "."):
		return compilePath(seg)
	default:
		return nil, fmt.Errorf("jqlite: unsupported expression %q", seg)
	}
}

type identityStage struct{}

func (identityStage) run(v any) ([]any, error) { return []any{v}, nil }

// pathStage walks a dotted/bracketed path, e.g. ".ipam.nomad_servers[0]",
// optionally ending in "[]" to iterate every element of the final array.
type pathStage struct {
	segments []pathSeg
	iterate  bool
}

type pathSeg struct {
	field string // "" if this segment is a pure index
	index *int   // non-nil for ".foo[3]"
}

func compilePath(seg string) (stage, error) {
	iterate := false
	if strings.HasSuffix(seg, "[]") {
		iterate = true
		seg = seg[:len(seg)-2]
	}

	raw := strings.Split(strings.TrimPrefix(seg, "."), ".")
	segments := make([]pathSeg, 0, len(raw))
	for _, r := range raw {
		if r == "" {
			continue
		}
		field := r
		var idx *int
		if i := strings.IndexByte(r, '['); i >= 0 && strings.HasSuffix(r, "]") {
			field = r[:i]
			n, err := strconv.Atoi(r[i+1 : len(r)-1])
			if err != nil {
				return nil, fmt.Errorf("jqlite: bad index in %q: %w", r, err)
			}
			idx = &n
		}
		if field != "" {
			segments = append(segments, pathSeg{field: field})
		}
		if idx != nil {
			segments = append(segments, pathSeg{index: idx})
		}
	}
	return pathStage{segments: segments, iterate: iterate}, nil
}

func (p pathStage) run(v any) ([]any, error) {
	cur := v
	for _, seg := range p.segments {
		var err error
		cur, err = descend(cur, seg)
		if err != nil {
			return nil, err
		}
	}
	if !p.iterate {
		return []any{cur}, nil
	}

	arr, ok := cur.([]any)
	if !ok {
		return nil, fmt.Errorf("jqlite: cannot iterate non-array value")
	}
	return arr, nil
}

func descend(v any, seg pathSeg) (any, error) {
	if seg.field != "" {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("jqlite: cannot index field %q into non-object", seg.field)
		}
		return m[seg.field], nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("jqlite: cannot index by position into non-array")
	}
	if *seg.index < 0 || *seg.index >= len(arr) {
		return nil, nil
	}
	return arr[*seg.index], nil
}

// selectStage is "select(<path> == <literal>)": passes v through
// unchanged if the comparison holds, else drops it from the pipeline.
type selectStage struct {
	path    pathStage
	literal any
}

func compileSelect(cond string) (stage, error) {
	cond = strings.TrimSpace(cond)
	idx := strings.Index(cond, "==")
	if idx < 0 {
		return nil, fmt.Errorf("jqlite: select() only supports equality, got %q", cond)
	}
	lhs := strings.TrimSpace(cond[:idx])
	rhs := strings.TrimSpace(cond[idx+2:])

	lhsStage, err := compilePath(lhs)
	if err != nil {
		return nil, err
	}
	p, ok := lhsStage.(pathStage)
	if !ok {
		return nil, fmt.Errorf("jqlite: select() left-hand side must be a path")
	}

	return selectStage{path: p, literal: parseLiteral(rhs)}, nil
}

func parseLiteral(s string) any {
	if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	return s
}

func (s selectStage) run(v any) ([]any, error) {
	results, err := s.path.run(v)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r == s.literal {
			return []any{v}, nil
		}
	}
	return nil, nil
}
