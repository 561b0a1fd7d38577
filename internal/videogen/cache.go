package videogen

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"server/internal/storage"
)

const (
	artifactSuffix = ".mp4"
	metaSuffix     = ".json"

	defaultContentType = "video/mp4"
)

// ArtifactMeta travels alongside cached video bytes.
type ArtifactMeta struct {
	ContentType string    `json:"content_type"`
	Style       string    `json:"style,omitempty"`
	Seconds     int       `json:"seconds,omitempty"`
	Size        string    `json:"size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArtifactCache is a content-addressed store of finished videos keyed by
// fingerprint. It holds no business logic beyond the legacy-key fallback.
type ArtifactCache struct {
	store  *storage.FileStore
	logger zerolog.Logger
}

func NewArtifactCache(store *storage.FileStore, logger zerolog.Logger) *ArtifactCache {
	return &ArtifactCache{store: store, logger: logger}
}

// ArtifactKey maps a fingerprint onto its storage key.
func ArtifactKey(key string) string {
	return key + artifactSuffix
}

// Get returns the cached artifact for a fingerprint. Entries written before
// the suffix scheme are tried under the bare key; that fallback is not an
// error.
func (c *ArtifactCache) Get(ctx context.Context, key string) ([]byte, ArtifactMeta, bool) {
	meta := ArtifactMeta{ContentType: defaultContentType}
	data, err := c.store.Read(ctx, ArtifactKey(key))
	if errors.Is(err, storage.ErrNotExist) {
		data, err = c.store.Read(ctx, key)
	}
	if err != nil {
		if !errors.Is(err, storage.ErrNotExist) {
			c.logger.Error().Err(err).Str("key", key).Msg("artifact cache read failed")
		}
		return nil, meta, false
	}
	if raw, merr := c.store.Read(ctx, key+metaSuffix); merr == nil {
		if uerr := json.Unmarshal(raw, &meta); uerr != nil {
			c.logger.Warn().Err(uerr).Str("key", key).Msg("artifact metadata unreadable, using defaults")
			meta = ArtifactMeta{ContentType: defaultContentType}
		}
	}
	return data, meta, true
}

// Put stores artifact bytes and metadata, returning the storage key of the
// video. A metadata write failure is logged but does not fail the put.
func (c *ArtifactCache) Put(ctx context.Context, key string, data []byte, meta ArtifactMeta) (string, error) {
	if meta.ContentType == "" {
		meta.ContentType = defaultContentType
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	storedKey, err := c.store.Write(ctx, ArtifactKey(key), data)
	if err != nil {
		return "", err
	}
	if raw, merr := json.Marshal(meta); merr == nil {
		if _, werr := c.store.Write(ctx, key+metaSuffix, raw); werr != nil {
			c.logger.Warn().Err(werr).Str("key", key).Msg("artifact metadata write failed")
		}
	}
	return storedKey, nil
}
