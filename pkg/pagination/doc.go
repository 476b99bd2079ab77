// Package pagination walks the jobs API collection page by page.
//
// The number of pages is fixed up front from the caller's target count:
// ceil(target / pageSize). Pages are requested strictly one after another with
// limit=pageSize and offset=i*pageSize, and their records are concatenated in
// page order.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	paginator := pagination.New(jobsClient, config,
//		pagination.WithProgress(func(p pagination.Progress) {
//			fmt.Printf("page %d/%d\n", p.Page, p.TotalPages)
//		}))
//	records, err := paginator.Fetch(ctx, 250)
//
// The paginator:
//   - issues no requests for a target of 0
//   - stops at the first failing page and returns no records (*PageError)
//   - reports progress after every page (callback, log line, metrics)
//   - leaves throttling and retries to the PageFetcher
package pagination
