package scraper

import (
	"context"
	"io"
	"time"
)

// Provider fetches a page's markup and optionally a full-page screenshot.
// Implementations must treat a payload below their configured minimum
// size as an error equivalent to a block/challenge page.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Extractor turns cleaned page markup into structured product fields.
// Extra fields are ignored and missing fields omitted.
type Extractor interface {
	Extract(ctx context.Context, html string, sourceURL string) (map[string]any, error)
}

// ArtifactProcessor recompresses and persists a screenshot, returning
// its public URL.
type ArtifactProcessor interface {
	Process(ctx context.Context, taskID string, screenshot []byte) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes terminal job events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and task IDs.
type IDGenerator interface {
	NewID() string
}
