// Package pagination provides parallel batch fetching for paginated upstream
// list endpoints.
//
// The upstream reports the total page count in the X-Pages header and takes
// the page number as a "page" query parameter. The first page is fetched
// alone to learn the page count; the remaining pages are fetched by a
// bounded pool of workers.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	fetcher := pagination.NewBatchFetcher(pageSource, config)
//	pages, err := fetcher.FetchAllPages(ctx, "/customers", url.Values{"status": {"A"}})
//
// The batch fetcher:
//   - Fetches first page to determine total pages
//   - Fetches remaining pages with at most MaxConcurrency workers
//   - Applies a timeout to every page
//   - Fails the whole call on the first page error (no partial results)
package pagination
