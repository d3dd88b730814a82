package domain

import (
	"context"
	"time"
)

// BlobWriter writes an object to blob storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

// Archiver exports terminal markets and their bets to blob storage as
// newline-delimited JSON for long-term settlement audit.
type Archiver interface {
	ArchiveResolved(ctx context.Context, before time.Time) (int, error)
}
