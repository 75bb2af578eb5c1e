// Package chunker computes the chunk plan for a document: an ordered set of
// page ranges sized so each chunk fits within the processing payload budget.
package chunker
