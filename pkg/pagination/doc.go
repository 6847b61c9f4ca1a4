// Package pagination provides key-based paging over the stored image gallery.
//
// Each gallery record carries a base64 encoded image. A page load fetches one
// offset/limit window from a Fetcher and decodes every record through a
// Decoder in parallel before the page is handed to the caller.
//
// Example usage:
//
//	loader := pagination.NewLoader(store, decode.NewBase64Decoder(), pagination.DefaultConfig())
//	outcome, err := loader.Load(ctx, pagination.LoadRequest{Key: pagination.Key(1), Size: 20})
//	if err != nil {
//		return err // ctx cancelled, no outcome
//	}
//	if !outcome.IsSuccess() {
//		showError(outcome.Err)
//	}
//
// Key arithmetic:
//   - offset = key * PagePayloadSize, limit = requested size
//   - PrevKey is nil on the first page, key-1 otherwise
//   - NextKey is nil when the page is empty, key+1 otherwise
//   - RefreshKey always returns FirstKey
//
// Pages are all-or-nothing: if any single record fails to decode the whole
// load fails with a *DecodeError. Fetch failures are reported as *FetchError
// wrapping the fetcher's error.
package pagination
