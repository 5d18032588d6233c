package pagination

import "fmt"

// PageSpec is one window of a paginated query.
type PageSpec struct {
	Index  int
	Offset int
	Limit  int
}

// PlanPages partitions [0, total) into contiguous windows of at most
// pageSize records. total == 0 yields no pages.
func PlanPages(total, pageSize int) ([]PageSpec, error) {
	if total < 0 {
		return nil, fmt.Errorf("total must not be negative (got %d)", total)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive (got %d)", pageSize)
	}

	count := (total + pageSize - 1) / pageSize
	pages := make([]PageSpec, count)
	for i := range pages {
		offset := i * pageSize
		pages[i] = PageSpec{
			Index:  i,
			Offset: offset,
			Limit:  min(pageSize, total-offset),
		}
	}
	return pages, nil
}
