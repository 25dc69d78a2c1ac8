package knowledge

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// IndexHit is a raw keyword search hit.
type IndexHit struct {
	NodeID int64
	Score  float64
}

// Index provides BM25 keyword search over document nodes.
type Index struct {
	index bleve.Index
	path  string
	fresh bool
}

// OpenIndex creates or opens the node index stored beside dbPath.
// A corrupted index is deleted and recreated; Fresh reports either case.
func OpenIndex(dbPath string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	indexPath := dbPath + ".bleve"

	fresh := false
	index, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create node index: %w", err)
		}
		fresh = true
		logger.Info("node index created", "path", indexPath)
	} else if err != nil {
		logger.Warn("node index appears corrupted, recreating", "path", indexPath, "error", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(indexPath); err != nil {
			logger.Warn("failed to remove corrupted index directory", "error", err)
			if err := os.RemoveAll(filepath.Join(indexPath, "store")); err != nil {
				logger.Warn("failed to remove store directory", "error", err)
			}
		}
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate node index: %w", err)
		}
		fresh = true
		logger.Info("node index recreated", "path", indexPath)
	}

	return &Index{index: index, path: indexPath, fresh: fresh}, nil
}

// buildIndexMapping keeps ids as keywords and analyzes title and content.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	nodeMapping := bleve.NewDocumentMapping()

	for _, name := range []string{"doc_id", "path"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		f.Index = true
		nodeMapping.AddFieldMappingsAt(name, f)
	}

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = false
	title.Index = true
	nodeMapping.AddFieldMappingsAt("title", title)

	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	content.Store = false
	content.Index = true
	nodeMapping.AddFieldMappingsAt("content", content)

	indexMapping.DefaultMapping = nodeMapping
	return indexMapping
}

// IndexNodes indexes nodes and drops stale ids in one batch.
func (x *Index) IndexNodes(path string, nodes []Node, stale []int64) error {
	batch := x.index.NewBatch()
	for _, id := range stale {
		batch.Delete(strconv.FormatInt(id, 10))
	}
	for _, n := range nodes {
		doc := map[string]interface{}{
			"doc_id":  strconv.FormatInt(n.DocID, 10),
			"path":    path,
			"title":   n.Title,
			"content": n.Content,
		}
		if err := batch.Index(strconv.FormatInt(n.NodeID, 10), doc); err != nil {
			return fmt.Errorf("failed to add node %d to batch: %w", n.NodeID, err)
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to apply index batch: %w", err)
	}
	return nil
}

// Delete removes nodes from the index.
func (x *Index) Delete(ids []int64) error {
	return x.IndexNodes("", nil, ids)
}

// Search returns the top k node ids for the query.
func (x *Index) Search(query string, k int) ([]IndexHit, error) {
	if k <= 0 {
		return nil, nil
	}

	titleQuery := bleve.NewMatchQuery(query)
	titleQuery.SetField("title")
	titleQuery.SetBoost(2)
	contentQuery := bleve.NewMatchQuery(query)
	contentQuery.SetField("content")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(titleQuery, contentQuery))
	req.Size = k

	res, err := x.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("node search failed: %w", err)
	}

	hits := make([]IndexHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, IndexHit{NodeID: id, Score: hit.Score})
	}
	return hits, nil
}

// Fresh reports whether OpenIndex started from an empty index.
func (x *Index) Fresh() bool { return x.fresh }

// Count returns the number of indexed nodes.
func (x *Index) Count() (uint64, error) {
	return x.index.DocCount()
}

// Close closes the index.
func (x *Index) Close() error {
	return x.index.Close()
}
