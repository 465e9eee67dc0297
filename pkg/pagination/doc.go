// Package pagination reads whole offset/limit collections with a pool of
// concurrent page requests.
//
// The API reports the collection size in every page ("meta.total") but has
// no page count, so workers do not get pages assigned up front. Each worker
// claims the next offset from a shared atomic cursor, fetches that page and
// copies its elements into a result buffer at the page's offset. A worker
// stops once it receives a page shorter than the page size.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	config.Resource = "contacts"
//	fetcher := pagination.NewBatchFetcher[Contact](source, config)
//	contacts, err := fetcher.FetchAll(ctx, "&tagid=4")
//
// The batch fetcher:
//   - Sizes the result buffer exactly once, from the first non-empty page
//   - Returns elements in ascending offset order
//   - Aborts all workers on the first failure or on cancellation
//   - Never returns partial data
//   - Reports ErrCollectionChanged when pages disagree with the total
package pagination
