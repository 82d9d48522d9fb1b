package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/shiori/internal/models"
)

const deleteBatchSize = 500

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path creates
// an in-memory index.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := fragmentMapping()
	if path == "" {
		index, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create keyword index directory: %w", err)
	}
	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func fragmentMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) so "bayes" matches
	// the exact word and not a stem of "Bayesian".
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", text)
	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", title)

	for _, field := range []string{"document_id", "modality", "path"} {
		docMapping.AddFieldMappingsAt(field, bleve.NewKeywordFieldMapping())
	}
	im.DefaultMapping = docMapping
	return im
}

// fragmentDoc is the Bleve document for one fragment. Underscores in the file
// name become spaces so "company_profile_2021.pptx" is searchable as words.
func fragmentDoc(e models.IndexEntry) map[string]interface{} {
	return map[string]interface{}{
		"document_id": e.Fragment.DocumentID,
		"modality":    string(e.Fragment.Modality),
		"path":        e.Path,
		"title":       strings.ReplaceAll(filepath.Base(e.Path), "_", " "),
		"text":        e.Fragment.Text,
	}
}

// IndexFragments adds or replaces fragments in one batch.
func (b *BleveIndex) IndexFragments(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, e := range entries {
		if err := batch.Index(e.Fragment.ID, fragmentDoc(e)); err != nil {
			return fmt.Errorf("keyword index fragment %s: %w", e.Fragment.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("keyword index batch: %w", err)
	}
	return nil
}

// Search runs a match query over fragment text and returns up to limit hits
// ordered by score, ties broken by fragment id.
// When opts.TitleBoost > 1, file name matches are added with that boost.
// When opts.FuzzyEnabled is true, each term is matched within opts.Fuzziness edits.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*KeywordResult{}, nil
	}
	var o SearchOptions
	if opts != nil {
		o = *opts
	}
	if o.Fuzziness <= 0 {
		o.Fuzziness = 2
	}

	q := fieldQuery(query, "text", 1, o)
	if o.TitleBoost > 1 {
		q = bleve.NewDisjunctionQuery(q, fieldQuery(query, "title", o.TitleBoost, o))
	}
	if len(o.Modalities) > 0 {
		mods := make([]blevequery.Query, 0, len(o.Modalities))
		for _, m := range o.Modalities {
			tq := bleve.NewTermQuery(string(m))
			tq.SetField("modality")
			mods = append(mods, tq)
		}
		q = bleve.NewConjunctionQuery(q, bleve.NewDisjunctionQuery(mods...))
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"document_id", "modality", "path", "text"}
	req.SortBy([]string{"-_score", "_id"})
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{
			ID:         hit.ID,
			DocumentID: fieldString(hit.Fields, "document_id"),
			Path:       fieldString(hit.Fields, "path"),
			Modality:   models.Modality(fieldString(hit.Fields, "modality")),
			Text:       fieldString(hit.Fields, "text"),
			Score:      hit.Score,
		}
	}
	return out, nil
}

func fieldString(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

// fieldQuery builds a match query on field, or a disjunction of per-term
// fuzzy queries when fuzzy matching is enabled.
func fieldQuery(query, field string, boost float64, o SearchOptions) blevequery.Query {
	terms := tokenizeQuery(query)
	if !o.FuzzyEnabled || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(o.Fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, `"'.,;:!?()[]{}`)
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// Delete removes fragments by id.
func (b *BleveIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// DeleteDocument removes every fragment whose document_id is documentID.
func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID string) error {
	for {
		tq := bleve.NewTermQuery(documentID)
		tq.SetField("document_id")
		res, err := b.index.SearchInContext(ctx, bleve.NewSearchRequestOptions(tq, deleteBatchSize, 0, false))
		if err != nil {
			return fmt.Errorf("keyword lookup of document %s: %w", documentID, err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		ids := make([]string, len(res.Hits))
		for i, hit := range res.Hits {
			ids[i] = hit.ID
		}
		if err := b.Delete(ctx, ids...); err != nil {
			return err
		}
	}
}

// DocCount returns the number of fragments in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
