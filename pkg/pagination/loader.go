package pagination

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/gallery-pager/pkg/logging"
)

var (
	errNoImage      = errors.New("decoder returned no image")
	errDecoderPanic = errors.New("decoder panicked")
)

// Config holds loader configuration
type Config struct {
	// MaxConcurrency is the maximum number of items decoded in parallel
	// Default: number of CPUs
	MaxConcurrency int
	// DecodeTimeout bounds a single item decode (0 disables the timeout)
	DecodeTimeout time.Duration
}

// DefaultConfig returns the default loader configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: runtime.NumCPU(),
		DecodeTimeout:  10 * time.Second,
	}
}

// Fetcher returns the raw gallery records of an offset/limit window
type Fetcher interface {
	FetchPage(ctx context.Context, limit, offset int) ([]RawRecord, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, limit, offset int) ([]RawRecord, error)

// FetchPage calls f(ctx, limit, offset).
func (f FetcherFunc) FetchPage(ctx context.Context, limit, offset int) ([]RawRecord, error) {
	return f(ctx, limit, offset)
}

// Decoder turns one encoded image payload into a bitmap
type Decoder interface {
	Decode(ctx context.Context, encoded string) (image.Image, error)
}

// DecoderFunc adapts a function to the Decoder interface
type DecoderFunc func(ctx context.Context, encoded string) (image.Image, error)

// Decode calls f(ctx, encoded).
func (f DecoderFunc) Decode(ctx context.Context, encoded string) (image.Image, error) {
	return f(ctx, encoded)
}

// Loader loads gallery pages: one fetch followed by a concurrent decode of
// every returned record. A Loader keeps no state between calls and may be
// used from multiple goroutines.
type Loader struct {
	fetcher Fetcher
	decoder Decoder
	config  Config
	logger  zerolog.Logger
}

// NewLoader creates a new gallery page loader
func NewLoader(fetcher Fetcher, decoder Decoder, config Config) *Loader {
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	if decoder == nil {
		panic("decoder cannot be nil")
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = runtime.NumCPU()
	}
	if config.DecodeTimeout < 0 {
		config.DecodeTimeout = 0
	}

	return &Loader{
		fetcher: fetcher,
		decoder: decoder,
		config:  config,
		logger:  logging.NewLogger("gallery-loader"),
	}
}

// RefreshKey returns the key to reload from after an invalidation.
// Refresh always restarts from the first page.
func (l *Loader) RefreshKey() PageKey {
	return FirstKey
}

// Load loads the page described by req.
//
// Fetch and decode failures are reported through the returned LoadOutcome.
// The error return is non-nil only when ctx is cancelled or its deadline
// expires, in which case the outcome is the zero value and must be ignored.
func (l *Loader) Load(ctx context.Context, req LoadRequest) (LoadOutcome, error) {
	start := time.Now()
	defer func() {
		galleryPageLoadDuration.Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		galleryPageLoadsTotal.WithLabelValues(outcomeCancelled).Inc()
		return LoadOutcome{}, err
	}

	key := req.resolveKey()
	if key < FirstKey || key > MaxKey {
		galleryPageLoadsTotal.WithLabelValues(outcomeInvalid).Inc()
		return Failure(fmt.Errorf("%w: %d", ErrInvalidKey, key)), nil
	}
	if req.Size <= 0 {
		galleryPageLoadsTotal.WithLabelValues(outcomeInvalid).Inc()
		return Failure(fmt.Errorf("%w: %d", ErrInvalidSize, req.Size)), nil
	}

	outcome := l.load(ctx, key, req.Size)

	// A cancelled request yields no outcome, even if the pipeline finished.
	if err := ctx.Err(); err != nil {
		l.logger.Debug().
			Int("key", int(key)).
			Dur("duration", time.Since(start)).
			Msg("Page load cancelled")
		galleryPageLoadsTotal.WithLabelValues(outcomeCancelled).Inc()
		return LoadOutcome{}, err
	}

	galleryPageLoadsTotal.WithLabelValues(outcomeLabel(outcome)).Inc()
	if outcome.IsSuccess() {
		galleryPageItems.Observe(float64(len(outcome.Page.Items)))
		l.logger.Debug().
			Int("key", int(key)).
			Int("items", len(outcome.Page.Items)).
			Dur("duration", time.Since(start)).
			Msg("Page loaded")
	}

	return outcome, nil
}

// load runs fetch -> decode -> assemble and folds every failure into the outcome.
func (l *Loader) load(ctx context.Context, key PageKey, size int) LoadOutcome {
	offset := key.Offset()

	l.logger.Debug().
		Int("key", int(key)).
		Int("offset", offset).
		Int("limit", size).
		Msg("Loading page")

	records, err := l.fetcher.FetchPage(ctx, size, offset)
	if err != nil {
		l.logger.Warn().
			Err(err).
			Int("key", int(key)).
			Int("offset", offset).
			Int("limit", size).
			Msg("Gallery fetch failed")
		return Failure(&FetchError{Limit: size, Offset: offset, Err: err})
	}

	items, err := l.decodeAll(ctx, records)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			l.logger.Warn().
				Err(decodeErr.Err).
				Int("key", int(key)).
				Int64("item_id", decodeErr.ID).
				Int("position", decodeErr.Index).
				Int("batch", len(records)).
				Msg("Gallery item decode failed, dropping page")
		}
		return Failure(err)
	}

	return Success(newPage(key, items))
}

// decodeAll decodes records with bounded concurrency. Items keep the order of
// records. The first failure cancels the remaining decodes.
func (l *Loader) decodeAll(ctx context.Context, records []RawRecord) ([]DecodedItem, error) {
	items := make([]DecodedItem, len(records))
	if len(records) == 0 {
		return items, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.config.MaxConcurrency)

	for i, record := range records {
		g.Go(func() error {
			img, err := l.decodeOne(gctx, record.Image)
			if err != nil {
				return &DecodeError{ID: record.ID, Index: i, Err: err}
			}
			items[i] = DecodedItem{ID: record.ID, Image: img}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// decodeOne decodes a single payload, applying the per-item timeout.
func (l *Loader) decodeOne(ctx context.Context, encoded string) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("%w: %v", errDecoderPanic, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.config.DecodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.DecodeTimeout)
		defer cancel()
	}

	start := time.Now()
	img, err = l.decoder.Decode(ctx, encoded)
	galleryDecodeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errNoImage
	}
	return img, nil
}

// outcomeLabel maps an outcome to its metric label.
func outcomeLabel(outcome LoadOutcome) string {
	var fetchErr *FetchError
	var decodeErr *DecodeError
	switch {
	case outcome.IsSuccess():
		return outcomeSuccess
	case errors.As(outcome.Err, &fetchErr):
		return outcomeFetchError
	case errors.As(outcome.Err, &decodeErr):
		return outcomeDecodeError
	default:
		return outcomeInvalid
	}
}
