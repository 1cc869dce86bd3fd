// Package incident provides the business boundary for repute's reputation incident
// engine. It defines the Engine facade (ingest, recompute, analyst actions), the
// pure building blocks it orchestrates (Normalizer, Clusterer, Scorer, Lifecycle,
// Ledger), the Store interface (persistence) and the domain models.
package incident
