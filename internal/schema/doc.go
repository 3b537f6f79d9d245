// Package schema declares the baseline table set for the primary database
// and provides idempotent creation plus read-only introspection.
//
// Every table is created with CREATE TABLE IF NOT EXISTS, so CreateAllTables
// is safe to run on every connect. Column-level evolution beyond the
// baseline belongs to the migrate package.
package schema
