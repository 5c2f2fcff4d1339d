// Package reconcile corrects sensed per-region, per-category acreage so that
// it agrees with survey ground truth.
//
// Responsibilities: aggregation of sensed and survey tables to
// region×category records, the zeroing and surplus-to-deficit passes, and
// the cascading top-up from a fixed list of broad donor categories.
// Key types: Record, Result, TopUpRow.
//
// Everything here is a pure table transform. No file or database access is
// allowed in this package.
package reconcile
