// Package artifact recompresses provider screenshots and uploads them
// to blob storage.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/elberrd/pricewatch/internal/hash/sha256"
	"github.com/elberrd/pricewatch/internal/scraper"
)

const jpegQuality = 85

// Processor converts screenshots to JPEG and stores them under a
// date-partitioned path. Encoding is CPU bound, so concurrent encodes
// are gated.
type Processor struct {
	store  scraper.BlobStore
	clock  scraper.Clock
	hasher *sha256.Hasher
	gate   chan struct{}
	logger *zap.Logger
}

// NewProcessor builds a Processor allowing maxEncodes concurrent
// JPEG encodes.
func NewProcessor(store scraper.BlobStore, clock scraper.Clock, maxEncodes int, logger *zap.Logger) *Processor {
	if maxEncodes < 1 {
		maxEncodes = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:  store,
		clock:  clock,
		hasher: sha256.New(),
		gate:   make(chan struct{}, maxEncodes),
		logger: logger,
	}
}

// Process recompresses the screenshot and uploads it, returning the
// stored object's URL.
func (p *Processor) Process(ctx context.Context, taskID string, screenshot []byte) (string, error) {
	if len(screenshot) == 0 {
		return "", fmt.Errorf("empty screenshot")
	}

	data, err := p.recompress(ctx, screenshot)
	if err != nil {
		return "", err
	}

	now := p.clock.Now().UTC()
	path := fmt.Sprintf("screenshots/%04d/%02d/%02d/%s_%s.jpg",
		now.Year(), now.Month(), now.Day(), taskID, p.hasher.ShortDigest(data, 8))

	url, err := p.store.PutObject(ctx, path, "image/jpeg", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("uploading screenshot: %w", err)
	}

	p.logger.Debug("screenshot stored",
		zap.String("task_id", taskID),
		zap.String("path", path),
		zap.Int("bytes", len(data)),
	)
	return url, nil
}

// recompress decodes the image and re-encodes it as JPEG. Input that is
// not a decodable image is passed through unchanged so an unexpected
// provider format never loses the artifact.
func (p *Processor) recompress(ctx context.Context, screenshot []byte) ([]byte, error) {
	select {
	case p.gate <- struct{}{}:
		defer func() { <-p.gate }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return screenshot, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
