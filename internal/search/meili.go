package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxPages  = "hash_pages"
	idxBlocks = "hash_blocks"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *log.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is reported as unhealthy and retried in the background.
func NewMeili(url, apiKey string, logger *log.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", "url", url, "err", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxPages,
			filterable: []string{"accountId"},
			searchable: []string{"title"},
		},
		{
			uid:        idxBlocks,
			filterable: []string{"accountId", "pageId", "componentId"},
			searchable: []string{"text"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			m.logger.Debug("create index (may already exist)", "index", idx.uid, "err", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("update filterable attributes", "index", idx.uid, "err", err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.logger.Warn("update searchable attributes", "index", idx.uid, "err", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the page and block indexes (or one of them) and merges
// the hits.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, ti := range []struct {
		uid  string
		rtyp ResultType
	}{
		{idxPages, ResultPage},
		{idxBlocks, ResultBlock},
	} {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}
		if q.FilterAccountID != "" {
			sr.Filter = []string{fmt.Sprintf("accountId = %q", q.FilterAccountID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxPages:
		return ResultPage
	case idxBlocks:
		return ResultBlock
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.AccountID = decodeString(hit, "accountId")

	switch rtyp {
	case ResultPage:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.PageID = r.ID
	case ResultBlock:
		r.PageID = decodeString(hit, "pageId")
		r.Title = decodeString(hit, "componentId")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "text"), decodeString(hit, "text"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexPages(pages []PageRecord) error {
	if len(pages) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPages).AddDocuments(pages, nil)
	return err
}

func (m *Meili) IndexBlocks(blocks []BlockRecord) error {
	if len(blocks) == 0 {
		return nil
	}
	_, err := m.client.Index(idxBlocks).AddDocuments(blocks, nil)
	return err
}

func (m *Meili) DeleteBlock(id string) error {
	_, err := m.client.Index(idxBlocks).DeleteDocument(id, nil)
	return err
}
