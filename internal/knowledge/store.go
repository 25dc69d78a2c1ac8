package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Store combines the SQLite database with the node index.
type Store struct {
	db     *DB
	index  *Index
	logger *slog.Logger
}

// IngestStats summarizes an ingestion run.
type IngestStats struct {
	Scanned   int
	Updated   int
	Unchanged int
	Removed   int
	Nodes     int
	Errors    []WalkError
}

// Open opens (creating if needed) the database at dbPath and its index.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := NewDB(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(dbPath, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, index: index, logger: logger}
	if err := s.resetIfIndexEmpty(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// resetIfIndexEmpty clears the stored hashes when the index holds nothing,
// so documents recorded in the database are written again on next ingest.
func (s *Store) resetIfIndexEmpty(ctx context.Context) error {
	if !s.index.Fresh() {
		n, err := s.index.Count()
		if err != nil {
			return fmt.Errorf("failed to count indexed nodes: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
	reset, err := s.db.ResetDocumentHashes(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		s.logger.Info("node index empty, documents will be re-ingested", "documents", reset)
	}
	return nil
}

// DB exposes the underlying database.
func (s *Store) DB() *DB { return s.db }

// Close releases the index and the database.
func (s *Store) Close() error {
	return errors.Join(s.index.Close(), s.db.Close())
}

// Ingest walks dir and stores every new or changed document.
// Documents previously ingested from dir that no longer exist are removed.
func (s *Store) Ingest(ctx context.Context, dir string) (IngestStats, error) {
	walker, err := NewWalker(dir)
	if err != nil {
		return IngestStats{}, err
	}
	res, err := walker.Walk(ctx)
	if err != nil {
		return IngestStats{}, fmt.Errorf("walk %s: %w", walker.Root(), err)
	}

	stats := IngestStats{Scanned: len(res.Files), Errors: res.Errors}
	seen := make(map[string]bool, len(res.Files))

	for _, f := range res.Files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		seen[f.Path] = true

		title, nodes := SplitDocument(f.RelPath, string(f.Content))
		docID, changed, err := s.db.UpsertDocument(ctx, f.Path, title, f.Hash)
		if err != nil {
			return stats, err
		}
		if !changed {
			stats.Unchanged++
			continue
		}
		if err := s.writeNodes(ctx, docID, f.Path, nodes); err != nil {
			return stats, err
		}
		if err := s.db.SetDocumentHash(ctx, docID, f.Hash); err != nil {
			return stats, err
		}
		stats.Updated++
		stats.Nodes += len(nodes)
		s.logger.Debug("document ingested", "path", f.RelPath, "nodes", len(nodes))
	}

	docs, err := s.db.ListDocuments(ctx)
	if err != nil {
		return stats, err
	}
	prefix := walker.Root() + string(filepath.Separator)
	for _, doc := range docs {
		if !strings.HasPrefix(doc.Path, prefix) || seen[doc.Path] {
			continue
		}
		ids, err := s.db.DeleteDocument(ctx, doc.DocID)
		if err != nil {
			return stats, err
		}
		if err := s.index.Delete(ids); err != nil {
			return stats, err
		}
		stats.Removed++
	}

	s.logger.Info("ingestion complete",
		"root", walker.Root(),
		"scanned", stats.Scanned,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"removed", stats.Removed,
		"errors", len(stats.Errors))
	return stats, nil
}

// writeNodes replaces a document's nodes in the database and the index.
// On failure the document's hash is cleared so the next run retries it.
func (s *Store) writeNodes(ctx context.Context, docID int64, path string, nodes []Node) error {
	stale, err := s.db.ReplaceNodes(ctx, docID, nodes)
	if err == nil {
		err = s.index.IndexNodes(path, nodes, stale)
	}
	if err == nil {
		return nil
	}
	if clearErr := s.db.SetDocumentHash(context.WithoutCancel(ctx), docID, ""); clearErr != nil {
		s.logger.Warn("failed to clear document hash", "path", path, "error", clearErr)
	}
	return err
}

// Search returns the k best matching nodes for the query.
func (s *Store) Search(ctx context.Context, query string, k int) ([]NodeHit, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}

	hits, err := s.index.Search(query, k)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(hits))
	scores := make(map[int64]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.NodeID
		scores[h.NodeID] = h.Score
	}

	nodes, err := s.db.GetNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Score = scores[nodes[i].NodeID]
	}
	return nodes, nil
}
