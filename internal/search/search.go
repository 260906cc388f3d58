package search

import (
	"hash/api/internal/entity"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPage  ResultType = "page"
	ResultBlock ResultType = "block"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	PageID    string     `json:"pageId"`
	AccountID string     `json:"accountId"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterAccountID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// PageRecord is the data we index for a page.
type PageRecord struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Title     string `json:"title"`
}

// BlockRecord is the data we index for a text block.
type BlockRecord struct {
	ID          string `json:"id"`
	PageID      string `json:"pageId"`
	AccountID   string `json:"accountId"`
	ComponentID string `json:"componentId"`
	Text        string `json:"text"`
}

// BlockRecords extracts the text of every block of page that has some.
func BlockRecords(page entity.Page, snapshot entity.Store) []BlockRecord {
	records := make([]BlockRecord, 0, len(page.Contents))
	for _, block := range page.Contents {
		saved, ok := snapshot.Lookup(block.EntityID)
		if !ok {
			continue
		}
		text, ok, err := entity.TextEntityFromBlock(saved, snapshot)
		if err != nil || !ok {
			continue
		}
		props, err := text.AsText()
		if err != nil {
			continue
		}
		plain := props.PlainText()
		if plain == "" {
			continue
		}
		records = append(records, BlockRecord{
			ID:          block.EntityID,
			PageID:      page.EntityID,
			AccountID:   page.AccountID,
			ComponentID: block.ComponentID,
			Text:        plain,
		})
	}
	return records
}
