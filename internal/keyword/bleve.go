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

	"github.com/hyperjump/manabu/internal/models"
)

const (
	fieldUserID  = "userId"
	fieldTitle   = "title"
	fieldContent = "content"
)

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

var _ Index = (*BleveIndex)(nil)

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemIndex returns an in-memory index.
func NewMemIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so a query matches the exact word.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldContent, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldTitle, textFieldMapping)
	docMapping.AddFieldMappingsAt(fieldUserID, bleve.NewKeywordFieldMapping())
	im.AddDocumentMapping("document", docMapping)
	im.DefaultType = "document"
	im.DefaultMapping = docMapping
	return im
}

// Index stores the document's filename and canonical text under its id.
func (b *BleveIndex) Index(ctx context.Context, doc *models.Document) error {
	return b.index.Index(doc.ID, map[string]interface{}{
		fieldUserID:  doc.UserID,
		fieldTitle:   titleForSearch(doc.OriginalFilename),
		fieldContent: doc.CanonicalText,
	})
}

// titleForSearch splits a filename into words: "cell_biology.md" becomes "cell biology md".
// The standard analyzer keeps "biology.md" and underscored names as single tokens.
func titleForSearch(title string) string {
	if ext := filepath.Ext(title); ext != "" && ext != title {
		title = strings.TrimSuffix(title, ext) + " " + strings.TrimPrefix(ext, ".")
	}
	return strings.ReplaceAll(title, "_", " ")
}

// Search returns up to limit of userID's documents matching query in the title or content.
func (b *BleveIndex) Search(ctx context.Context, userID, query string, limit int, opts *SearchOptions) ([]*Hit, error) {
	page, err := b.SearchPage(ctx, userID, query, 0, limit, opts)
	if err != nil {
		return nil, err
	}
	return page.Hits, nil
}

// SearchPage returns size hits starting at from, with the total match count.
func (b *BleveIndex) SearchPage(ctx context.Context, userID, query string, from, size int, opts *SearchOptions) (*Page, error) {
	titleBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 2
	if opts != nil {
		if opts.TitleBoost > 1 {
			titleBoost = opts.TitleBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var titleQuery, contentQuery blevequery.Query
	if fuzzyEnabled {
		titleQuery = buildFuzzyQuery(query, fuzziness, fieldTitle, titleBoost)
		contentQuery = buildFuzzyQuery(query, fuzziness, fieldContent, 1)
	} else {
		tq := bleve.NewMatchQuery(query)
		tq.SetField(fieldTitle)
		tq.SetBoost(titleBoost)
		titleQuery = tq
		cq := bleve.NewMatchQuery(query)
		cq.SetField(fieldContent)
		contentQuery = cq
	}

	owner := bleve.NewTermQuery(userID)
	owner.SetField(fieldUserID)
	q := bleve.NewConjunctionQuery(owner, bleve.NewDisjunctionQuery(titleQuery, contentQuery))

	req := bleve.NewSearchRequestOptions(q, size, from, false)
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(fieldContent)
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	out := make([]*Hit, len(results.Hits))
	for i, hit := range results.Hits {
		h := &Hit{ID: hit.ID, Score: hit.Score}
		if frags := hit.Fragments[fieldContent]; len(frags) > 0 {
			h.Snippet = frags[0]
		}
		out[i] = h
	}
	return &Page{Hits: out, Total: results.Total}, nil
}

// tokenizeQuery splits query into lowercase terms.
func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries, one per query term, on field.
func buildFuzzyQuery(queryStr string, fuzziness int, field string, boost float64) blevequery.Query {
	terms := tokenizeQuery(queryStr)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(queryStr)
		mq.SetField(field)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a document from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
