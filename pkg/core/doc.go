// Package core provides the fundamental types and interfaces for the chunkorch module.
//
// This package contains:
//   - Job and Chunk data models with GORM annotations
//   - Storage interface defining the persistence contract
//   - Outcome and ErrorKind types for chunk result classification
//   - Snapshot, the progress wire shape published per job room
//
// Most users should import the root package github.com/mdresser/chunkorch
// instead of this package directly.
package core
