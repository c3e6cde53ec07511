// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package base holds the value types shared by the row cache: the schema
// handle, clustering tombstones, partition keys and row payloads.
//
// Two key orderings are in play throughout the cache. The table schema
// orders clustering keys the way they are stored; the query schema orders
// them the way the caller wants them streamed, which for reverse reads is
// the inverse. A schema and its Reversed() counterpart form the bijection
// applied at the storage/query boundary.
package base

import "bytes"

// CompareFn is a total order over encoded clustering keys.
type CompareFn func(a, b []byte) int

// Schema describes the clustering key order and static column presence of a
// table, under either the table or the query key ordering.
type Schema struct {
	keyspace  string
	table     string
	cmp       CompareFn
	hasStatic bool
	reversed  bool
	// inverse is the schema with the opposite key ordering. Set up once at
	// construction so Reversed() is allocation-free.
	inverse *Schema
}

// NewSchema constructs a schema in table key order. A nil cmp defaults to
// bytes.Compare.
func NewSchema(keyspace, table string, cmp CompareFn, hasStaticColumns bool) *Schema {
	if cmp == nil {
		cmp = bytes.Compare
	}
	s := &Schema{keyspace: keyspace, table: table, cmp: cmp, hasStatic: hasStaticColumns}
	s.inverse = &Schema{
		keyspace:  keyspace,
		table:     table,
		cmp:       func(a, b []byte) int { return cmp(b, a) },
		hasStatic: hasStaticColumns,
		reversed:  true,
		inverse:   s,
	}
	return s
}

// Keyspace returns the keyspace name.
func (s *Schema) Keyspace() string { return s.keyspace }

// Table returns the table name.
func (s *Schema) Table() string { return s.table }

// Compare compares two clustering keys in this schema's order.
func (s *Schema) Compare(a, b []byte) int { return s.cmp(a, b) }

// HasStaticColumns reports whether the table carries static columns.
func (s *Schema) HasStaticColumns() bool { return s.hasStatic }

// IsReversed reports whether this schema orders keys in reverse of the
// table order.
func (s *Schema) IsReversed() bool { return s.reversed }

// Reversed returns the schema with the opposite key ordering.
func (s *Schema) Reversed() *Schema { return s.inverse }
