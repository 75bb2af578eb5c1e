// Package storage provides storage implementations for the chunkorch module.
package storage
