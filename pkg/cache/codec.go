package cache

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Cached windows hold whole base64 images, so entries are stored as
// zstd-compressed JSON. EncodeAll and DecodeAll are safe for concurrent use.
var (
	entryEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	entryDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// encodeEntry serializes entry for Redis.
func encodeEntry(entry *CacheEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return entryEncoder.EncodeAll(data, nil), nil
}

// decodeEntry reverses encodeEntry. Any failure is ErrInvalidEntry.
func decodeEntry(raw []byte) (*CacheEntry, error) {
	data, err := entryDecoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrInvalidEntry, err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}
