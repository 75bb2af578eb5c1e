// Package security provides validation, sanitization, and limits for the chunkorch module.
package security
