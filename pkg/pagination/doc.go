// Package pagination retrieves every record of a layer query through
// offset-based pages fetched in parallel.
//
// A query first asks the layer for its record count, then splits
// [0, count) into windows of the layer's maxRecordCount (or a configured
// fallback) and fetches them with a bounded worker pool. Every page is an
// independent request with its own retry budget.
//
// Example usage:
//
//	engine := pagination.NewEngine(arcgisClient, pagination.DefaultConfig())
//	result, err := engine.RunQuery(ctx, layer, query.DefaultParams())
//
// The engine:
//   - Writes each page into a slot by page index, so records come back in
//     page order whatever order pages complete in
//   - Cancels outstanding pages once one page has definitively failed
//   - Returns a pagination_abort error listing every failed offset; fetched
//     pages are discarded and no partial result is ever returned
//   - Fails the query when the merged record count differs from the count
//
// Each query walks init → count_pending → paging → merging → complete, or
// ends in failed. Config.OnState observes the transitions.
package pagination
