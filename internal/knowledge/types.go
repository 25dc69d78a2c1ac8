// Package knowledge stores the documents and tender data the agent tools read.
//
// Documents are split into heading-scoped nodes, persisted in SQLite and
// indexed for keyword retrieval with bleve. Tenders and contracts live in the
// same database and back the tender matching workflow.
package knowledge

import "time"

// Document is an ingested source file.
type Document struct {
	DocID     int64
	Path      string
	Title     string
	Hash      string
	CreatedAt time.Time
}

// Node is one retrievable section of a document.
type Node struct {
	NodeID  int64
	DocID   int64
	Ord     int
	Title   string
	Content string
}

// NodeHit is a search result.
type NodeHit struct {
	Node
	Path  string
	Score float64
}

// Constraints narrow the contracts a tender can be matched against.
// Nil bounds and empty strings are ignored.
type Constraints struct {
	ProjectTypes      []string `json:"project_types,omitempty"`
	MinAmount         *float64 `json:"min_amount,omitempty"`
	MaxAmount         *float64 `json:"max_amount,omitempty"`
	MinSubjectAmount  *float64 `json:"min_subject_amount,omitempty"`
	MaxSubjectAmount  *float64 `json:"max_subject_amount,omitempty"`
	DateAfter         string   `json:"date_after,omitempty"`
	DateBefore        string   `json:"date_before,omitempty"`
	RequireStateOwned bool     `json:"require_state_owned,omitempty"`
}

// Tender is a bid requirement.
type Tender struct {
	TenderID    int64       `json:"tender_id"`
	Title       string      `json:"title"`
	RawText     string      `json:"raw_text"`
	Constraints Constraints `json:"constraints"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Contract is a past performance record that can satisfy a tender.
type Contract struct {
	ContractID     int64    `json:"contract_id"`
	ContractName   string   `json:"contract_name"`
	PartyA         string   `json:"party_a"`
	PartyAIndustry string   `json:"party_a_industry"`
	IsStateOwned   bool     `json:"is_state_owned"`
	Amount         *float64 `json:"amount"`
	SignDate       string   `json:"sign_date"`
	ProjectType    string   `json:"project_type"`
	ProjectDetail  string   `json:"project_detail"`
	SubjectAmount  *float64 `json:"subject_amount"`
	Summary        string   `json:"summary"`
}

// MatchResult is a persisted tender/contract match.
type MatchResult struct {
	MatchID    int64
	TenderID   int64
	ContractID int64
	PartyA     string
	Score      float64
	Reasons    []string
	CreatedAt  time.Time
}
