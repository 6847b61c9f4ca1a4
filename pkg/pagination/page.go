package pagination

import (
	"image"
	"math"
)

const (
	// FirstKey is the key of the first gallery page.
	FirstKey PageKey = 0

	// PagePayloadSize is the fixed number of records per logical page used to
	// turn a page key into a storage offset. It does not depend on the load
	// size requested by the caller.
	PagePayloadSize = 20

	// MaxKey is the largest key whose offset fits in an int.
	MaxKey PageKey = math.MaxInt / PagePayloadSize
)

// PageKey is a logical page index. Keys are never negative.
type PageKey int

// Offset returns the storage offset of the page.
func (k PageKey) Offset() int {
	return int(k) * PagePayloadSize
}

// Key returns a pointer to k, for use in LoadRequest and in test expectations.
func Key(k int) *PageKey {
	key := PageKey(k)
	return &key
}

// LoadRequest asks the loader for one page.
type LoadRequest struct {
	// Key is the page to load. A nil key loads the first page.
	Key *PageKey

	// Size is the fetch limit. Must be > 0.
	Size int
}

// resolveKey returns the requested key, defaulting to FirstKey.
func (r LoadRequest) resolveKey() PageKey {
	if r.Key == nil {
		return FirstKey
	}
	return *r.Key
}

// RawRecord is a stored gallery item as returned by a Fetcher.
type RawRecord struct {
	ID    int64  `json:"id"`
	Image string `json:"image"`
}

// DecodedItem is a gallery item whose payload has been decoded to a bitmap.
type DecodedItem struct {
	ID    int64
	Image image.Image
}

// Page is one window of decoded gallery items plus navigation keys.
type Page struct {
	Items []DecodedItem

	// PrevKey is nil on the first page.
	PrevKey *PageKey

	// NextKey is nil once the end of the gallery has been reached.
	NextKey *PageKey
}

// newPage assembles a page for key, applying the navigation key rules.
func newPage(key PageKey, items []DecodedItem) *Page {
	page := &Page{Items: items}
	if key != FirstKey {
		prev := key - 1
		page.PrevKey = &prev
	}
	if len(items) > 0 {
		next := key + 1
		page.NextKey = &next
	}
	return page
}

// LoadOutcome is the result of a single page load. Exactly one of Page and
// Err is set.
type LoadOutcome struct {
	Page *Page
	Err  error
}

// Success wraps a loaded page.
func Success(page *Page) LoadOutcome {
	return LoadOutcome{Page: page}
}

// Failure wraps a page load error.
func Failure(err error) LoadOutcome {
	return LoadOutcome{Err: err}
}

// IsSuccess reports whether the outcome carries a page.
func (o LoadOutcome) IsSuccess() bool {
	return o.Err == nil && o.Page != nil
}
