package search

// Page describes one page of ranked results
type Page struct {
	Number       int  `json:"number"`
	Size         int  `json:"size"`
	TotalResults int  `json:"totalResults"`
	TotalPages   int  `json:"totalPages"`
	HasNext      bool `json:"hasNext"`
	HasPrev      bool `json:"hasPrev"`
}

// Paginate returns the 1-indexed page of results of the given size. A page
// past the end is empty.
func Paginate(results []SearchResult, page, size int) ([]SearchResult, Page) {
	if size < 1 {
		size = 1
	}

	if page < 1 {
		page = 1
	}

	total := len(results)
	totalPages := (total + size - 1) / size

	info := Page{
		Number:       page,
		Size:         size,
		TotalResults: total,
		TotalPages:   totalPages,
		HasNext:      page < totalPages,
		HasPrev:      page > 1,
	}

	start := (page - 1) * size
	if start >= total {
		return []SearchResult{}, info
	}

	end := min(start+size, total)

	return results[start:end], info
}
