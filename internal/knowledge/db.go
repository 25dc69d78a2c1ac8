package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrTenderNotFound is returned when a tender id has no row.
var ErrTenderNotFound = errors.New("tender not found")

// DB provides database operations for documents, tenders and contracts.
type DB struct {
	db *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	// WAL allows readers while a writer is active
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{db: db}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id     INTEGER PRIMARY KEY AUTOINCREMENT,
		path       TEXT NOT NULL UNIQUE,
		title      TEXT NOT NULL,
		hash       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS nodes (
		node_id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id  INTEGER NOT NULL,
		ord     INTEGER NOT NULL,
		title   TEXT NOT NULL,
		content TEXT NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(doc_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tenders (
		tender_id   INTEGER PRIMARY KEY AUTOINCREMENT,
		title       TEXT NOT NULL DEFAULT '',
		raw_text    TEXT NOT NULL,
		constraints TEXT NOT NULL DEFAULT '{}',
		created_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contracts (
		contract_id      INTEGER PRIMARY KEY,
		contract_name    TEXT NOT NULL DEFAULT '',
		party_a          TEXT NOT NULL DEFAULT '',
		party_a_industry TEXT NOT NULL DEFAULT '',
		is_state_owned   INTEGER NOT NULL DEFAULT 0,
		amount           REAL,
		sign_date        TEXT NOT NULL DEFAULT '',
		project_type     TEXT NOT NULL DEFAULT '',
		project_detail   TEXT NOT NULL DEFAULT '',
		subject_amount   REAL,
		summary          TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS contract_matches (
		match_id    INTEGER PRIMARY KEY AUTOINCREMENT,
		tender_id   INTEGER NOT NULL,
		contract_id INTEGER NOT NULL,
		score       REAL NOT NULL,
		reasons     TEXT NOT NULL DEFAULT '[]',
		created_at  INTEGER NOT NULL,
		FOREIGN KEY (tender_id) REFERENCES tenders(tender_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_doc ON nodes(doc_id);
	CREATE INDEX IF NOT EXISTS idx_contracts_type ON contracts(project_type);
	CREATE INDEX IF NOT EXISTS idx_matches_tender ON contract_matches(tender_id);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// UpsertDocument inserts or updates a document by path and reports whether
// hash differs from the stored one. The stored hash is left alone; callers
// record it with SetDocumentHash once the document's nodes are indexed.
func (d *DB) UpsertDocument(ctx context.Context, path, title, hash string) (int64, bool, error) {
	var docID int64
	var existingHash string
	err := d.db.QueryRowContext(ctx,
		`SELECT doc_id, hash FROM documents WHERE path = ?`, path).Scan(&docID, &existingHash)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := d.db.ExecContext(ctx,
			`INSERT INTO documents (path, title, hash, created_at) VALUES (?, ?, '', ?)`,
			path, title, time.Now().Unix())
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert document: %w", err)
		}
		docID, err = res.LastInsertId()
		if err != nil {
			return 0, false, err
		}
		return docID, true, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to check existing document: %w", err)
	case existingHash == hash:
		return docID, false, nil
	}

	if _, err := d.db.ExecContext(ctx,
		`UPDATE documents SET title = ? WHERE doc_id = ?`, title, docID); err != nil {
		return 0, false, fmt.Errorf("failed to update document: %w", err)
	}
	return docID, true, nil
}

// SetDocumentHash records the content hash of an indexed document.
// An empty hash marks the document for re-ingestion.
func (d *DB) SetDocumentHash(ctx context.Context, docID int64, hash string) error {
	if _, err := d.db.ExecContext(ctx,
		`UPDATE documents SET hash = ? WHERE doc_id = ?`, hash, docID); err != nil {
		return fmt.Errorf("failed to set document hash: %w", err)
	}
	return nil
}

// ResetDocumentHashes clears every stored hash so the next ingestion
// rewrites all documents. Returns the number of documents reset.
func (d *DB) ResetDocumentHashes(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `UPDATE documents SET hash = '' WHERE hash != ''`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset document hashes: %w", err)
	}
	return res.RowsAffected()
}

// ListDocuments returns every document ordered by path.
func (d *DB) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT doc_id, path, title, hash, created_at FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var created int64
		if err := rows.Scan(&doc.DocID, &doc.Path, &doc.Title, &doc.Hash, &created); err != nil {
			return nil, err
		}
		doc.CreatedAt = time.Unix(created, 0)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document and returns the ids of its nodes.
func (d *DB) DeleteDocument(ctx context.Context, docID int64) ([]int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids, err := nodeIDs(ctx, tx, docID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE doc_id = ?`, docID); err != nil {
		return nil, fmt.Errorf("failed to delete nodes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID); err != nil {
		return nil, fmt.Errorf("failed to delete document: %w", err)
	}
	return ids, tx.Commit()
}

// ReplaceNodes swaps the nodes of a document.
// Returns the removed node ids and assigns ids to the new nodes in place.
func (d *DB) ReplaceNodes(ctx context.Context, docID int64, nodes []Node) ([]int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	removed, err := nodeIDs(ctx, tx, docID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE doc_id = ?`, docID); err != nil {
		return nil, fmt.Errorf("failed to delete nodes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (doc_id, ord, title, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for i := range nodes {
		nodes[i].DocID = docID
		nodes[i].Ord = i
		res, err := stmt.ExecContext(ctx, docID, i, nodes[i].Title, nodes[i].Content)
		if err != nil {
			return nil, fmt.Errorf("failed to insert node: %w", err)
		}
		if nodes[i].NodeID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	}

	return removed, tx.Commit()
}

func nodeIDs(ctx context.Context, tx *sql.Tx, docID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT node_id FROM nodes WHERE doc_id = ?`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetNodes loads nodes by id, joined with their document path.
// The result follows the order of ids; unknown ids are skipped.
func (d *DB) GetNodes(ctx context.Context, ids []int64) ([]NodeHit, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `
	SELECT n.node_id, n.doc_id, n.ord, n.title, n.content, d.path
	FROM nodes n JOIN documents d ON d.doc_id = n.doc_id
	WHERE n.node_id IN (` + placeholders(len(ids)) + `)`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]NodeHit, len(ids))
	for rows.Next() {
		var h NodeHit
		if err := rows.Scan(&h.NodeID, &h.DocID, &h.Ord, &h.Title, &h.Content, &h.Path); err != nil {
			return nil, err
		}
		byID[h.NodeID] = h
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := make([]NodeHit, 0, len(byID))
	for _, id := range ids {
		if h, ok := byID[id]; ok {
			hits = append(hits, h)
		}
	}
	return hits, nil
}

// InsertTender stores a tender and returns its id.
func (d *DB) InsertTender(ctx context.Context, t Tender) (int64, error) {
	constraints, err := json.MarshalToString(t.Constraints)
	if err != nil {
		return 0, fmt.Errorf("failed to encode constraints: %w", err)
	}

	var res sql.Result
	if t.TenderID > 0 {
		res, err = d.db.ExecContext(ctx, `
		INSERT INTO tenders (tender_id, title, raw_text, constraints, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tender_id) DO UPDATE SET
			title = excluded.title,
			raw_text = excluded.raw_text,
			constraints = excluded.constraints`,
			t.TenderID, t.Title, t.RawText, constraints, time.Now().Unix())
	} else {
		res, err = d.db.ExecContext(ctx,
			`INSERT INTO tenders (title, raw_text, constraints, created_at) VALUES (?, ?, ?, ?)`,
			t.Title, t.RawText, constraints, time.Now().Unix())
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert tender: %w", err)
	}
	if t.TenderID > 0 {
		return t.TenderID, nil
	}
	return res.LastInsertId()
}

// GetTender loads a tender. Returns ErrTenderNotFound for unknown ids.
func (d *DB) GetTender(ctx context.Context, tenderID int64) (*Tender, error) {
	var t Tender
	var constraints string
	var created int64
	err := d.db.QueryRowContext(ctx,
		`SELECT tender_id, title, raw_text, constraints, created_at FROM tenders WHERE tender_id = ?`,
		tenderID).Scan(&t.TenderID, &t.Title, &t.RawText, &constraints, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tender: %w", err)
	}
	if constraints != "" {
		if err := json.UnmarshalFromString(constraints, &t.Constraints); err != nil {
			return nil, fmt.Errorf("tender %d has invalid constraints: %w", tenderID, err)
		}
	}
	t.CreatedAt = time.Unix(created, 0)
	return &t, nil
}

// UpsertContract inserts or replaces a contract by id.
func (d *DB) UpsertContract(ctx context.Context, c Contract) error {
	_, err := d.db.ExecContext(ctx, `
	INSERT INTO contracts (
		contract_id, contract_name, party_a, party_a_industry, is_state_owned,
		amount, sign_date, project_type, project_detail, subject_amount, summary
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(contract_id) DO UPDATE SET
		contract_name = excluded.contract_name,
		party_a = excluded.party_a,
		party_a_industry = excluded.party_a_industry,
		is_state_owned = excluded.is_state_owned,
		amount = excluded.amount,
		sign_date = excluded.sign_date,
		project_type = excluded.project_type,
		project_detail = excluded.project_detail,
		subject_amount = excluded.subject_amount,
		summary = excluded.summary`,
		c.ContractID, c.ContractName, c.PartyA, c.PartyAIndustry, c.IsStateOwned,
		nullFloat(c.Amount), c.SignDate, c.ProjectType, c.ProjectDetail,
		nullFloat(c.SubjectAmount), c.Summary)
	if err != nil {
		return fmt.Errorf("failed to upsert contract %d: %w", c.ContractID, err)
	}
	return nil
}

// FilterCandidates returns contracts satisfying the constraints,
// largest amount first.
func (d *DB) FilterCandidates(ctx context.Context, c Constraints, limit int) ([]Contract, error) {
	where, args := filterSQL(c)
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, `
	SELECT contract_id, contract_name, party_a, party_a_industry, is_state_owned,
		amount, sign_date, project_type, project_detail, subject_amount, summary
	FROM contracts
	WHERE `+where+`
	ORDER BY amount DESC, contract_id
	LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to filter contracts: %w", err)
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		var c Contract
		var amount, subject sql.NullFloat64
		if err := rows.Scan(&c.ContractID, &c.ContractName, &c.PartyA, &c.PartyAIndustry,
			&c.IsStateOwned, &amount, &c.SignDate, &c.ProjectType, &c.ProjectDetail,
			&subject, &c.Summary); err != nil {
			return nil, err
		}
		c.Amount = floatPtr(amount)
		c.SubjectAmount = floatPtr(subject)
		out = append(out, c)
	}
	return out, rows.Err()
}

// filterSQL builds the WHERE clause for FilterCandidates.
func filterSQL(c Constraints) (string, []any) {
	var conds []string
	var args []any

	if len(c.ProjectTypes) > 0 {
		conds = append(conds, "project_type IN ("+placeholders(len(c.ProjectTypes))+")")
		for _, pt := range c.ProjectTypes {
			args = append(args, pt)
		}
	}
	bound := func(v *float64, cond string) {
		if v != nil {
			conds = append(conds, cond)
			args = append(args, *v)
		}
	}
	bound(c.MinAmount, "amount >= ?")
	bound(c.MaxAmount, "amount <= ?")
	bound(c.MinSubjectAmount, "subject_amount >= ?")
	bound(c.MaxSubjectAmount, "subject_amount <= ?")

	if c.DateAfter != "" {
		conds = append(conds, "sign_date != '' AND sign_date >= ?")
		args = append(args, c.DateAfter)
	}
	if c.DateBefore != "" {
		conds = append(conds, "sign_date != '' AND sign_date <= ?")
		args = append(args, c.DateBefore)
	}
	if c.RequireStateOwned {
		conds = append(conds, "is_state_owned = 1")
	}

	if len(conds) == 0 {
		return "1=1", args
	}
	return strings.Join(conds, " AND "), args
}

// SaveMatches persists scored matches for a tender and fills in their ids.
func (d *DB) SaveMatches(ctx context.Context, tenderID int64, matches []MatchResult) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO contract_matches (tender_id, contract_id, score, reasons, created_at)
	VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i := range matches {
		reasons := matches[i].Reasons
		if reasons == nil {
			reasons = []string{}
		}
		encoded, err := json.MarshalToString(reasons)
		if err != nil {
			return err
		}
		res, err := stmt.ExecContext(ctx, tenderID, matches[i].ContractID, matches[i].Score, encoded, now.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert match: %w", err)
		}
		if matches[i].MatchID, err = res.LastInsertId(); err != nil {
			return err
		}
		matches[i].TenderID = tenderID
		matches[i].CreatedAt = now
	}
	return tx.Commit()
}

// MatchesForTender returns stored matches for a tender, best score first.
func (d *DB) MatchesForTender(ctx context.Context, tenderID int64) ([]MatchResult, error) {
	rows, err := d.db.QueryContext(ctx, `
	SELECT m.match_id, m.tender_id, m.contract_id, COALESCE(c.party_a, ''), m.score, m.reasons, m.created_at
	FROM contract_matches m
	LEFT JOIN contracts c ON c.contract_id = m.contract_id
	WHERE m.tender_id = ?
	ORDER BY m.score DESC, m.match_id`, tenderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	var out []MatchResult
	for rows.Next() {
		var m MatchResult
		var reasons string
		var created int64
		if err := rows.Scan(&m.MatchID, &m.TenderID, &m.ContractID, &m.PartyA, &m.Score, &reasons, &created); err != nil {
			return nil, err
		}
		if err := json.UnmarshalFromString(reasons, &m.Reasons); err != nil {
			return nil, fmt.Errorf("match %d has invalid reasons: %w", m.MatchID, err)
		}
		m.CreatedAt = time.Unix(created, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
