package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

// candidateFactor widens the candidate pool relative to topK before scoring.
const candidateFactor = 3

// Scorer rates how well a contract satisfies a tender.
// Scores are in [0, 1]; reasons explain the score to a human.
type Scorer interface {
	Score(ctx context.Context, tender *Tender, contract Contract) (float64, []string, error)
}

// Matcher runs filter, score, rank and persist for tenders.
type Matcher struct {
	db     *DB
	scorer Scorer
	logger *slog.Logger
}

// NewMatcher creates a matcher. A nil scorer uses RuleScorer.
func NewMatcher(db *DB, scorer Scorer, logger *slog.Logger) *Matcher {
	if scorer == nil {
		scorer = RuleScorer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{db: db, scorer: scorer, logger: logger}
}

// Match scores the candidates of a tender and persists the topK best.
// Returns ErrTenderNotFound for unknown tenders. Candidates whose scoring
// fails are skipped.
func (m *Matcher) Match(ctx context.Context, tenderID int64, topK int) ([]MatchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	tender, err := m.db.GetTender(ctx, tenderID)
	if err != nil {
		return nil, err
	}

	candidates, err := m.db.FilterCandidates(ctx, tender.Constraints, topK*candidateFactor)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scored := make([]MatchResult, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score, reasons, err := m.scorer.Score(ctx, tender, c)
		if err != nil {
			m.logger.Warn("contract scoring failed", "tender_id", tenderID, "contract_id", c.ContractID, "error", err)
			continue
		}
		scored = append(scored, MatchResult{
			ContractID: c.ContractID,
			PartyA:     c.PartyA,
			Score:      clampScore(score),
			Reasons:    reasons,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	if len(scored) == 0 {
		return nil, nil
	}

	if err := m.db.SaveMatches(ctx, tenderID, scored); err != nil {
		return nil, err
	}
	m.logger.Info("tender matched", "tender_id", tenderID, "candidates", len(candidates), "matches", len(scored))
	return scored, nil
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return math.Round(s*10000) / 10000
}

// RuleScorer scores contracts without a model: 60% from satisfied
// constraints, 40% from keyword overlap between tender and contract text.
type RuleScorer struct{}

// Score implements Scorer.
func (RuleScorer) Score(_ context.Context, tender *Tender, c Contract) (float64, []string, error) {
	var reasons []string
	checks, passed := 0, 0
	check := func(ok bool, reason string) {
		checks++
		if ok {
			passed++
			reasons = append(reasons, reason)
		}
	}

	cons := tender.Constraints
	if len(cons.ProjectTypes) > 0 {
		check(containsFold(cons.ProjectTypes, c.ProjectType), fmt.Sprintf("project type %s matches", c.ProjectType))
	}
	if cons.MinAmount != nil || cons.MaxAmount != nil {
		check(inRange(c.Amount, cons.MinAmount, cons.MaxAmount), fmt.Sprintf("amount %.2f within range", deref(c.Amount)))
	}
	if cons.MinSubjectAmount != nil || cons.MaxSubjectAmount != nil {
		check(inRange(c.SubjectAmount, cons.MinSubjectAmount, cons.MaxSubjectAmount),
			fmt.Sprintf("subject amount %.2f within range", deref(c.SubjectAmount)))
	}
	if cons.DateAfter != "" || cons.DateBefore != "" {
		ok := c.SignDate != "" &&
			(cons.DateAfter == "" || c.SignDate >= cons.DateAfter) &&
			(cons.DateBefore == "" || c.SignDate <= cons.DateBefore)
		check(ok, fmt.Sprintf("signed %s within date range", c.SignDate))
	}
	if cons.RequireStateOwned {
		check(c.IsStateOwned, "party A is state-owned")
	}

	constraintScore := 1.0
	if checks > 0 {
		constraintScore = float64(passed) / float64(checks)
	}

	tenderTerms := terms(tender.Title + " " + tender.RawText)
	contractTerms := terms(strings.Join([]string{c.ContractName, c.ProjectType, c.ProjectDetail, c.Summary, c.PartyAIndustry}, " "))
	shared := 0
	for t := range contractTerms {
		if tenderTerms[t] {
			shared++
		}
	}
	overlap := 0.0
	if denom := min(len(tenderTerms), len(contractTerms)); denom > 0 {
		overlap = float64(shared) / float64(denom)
	}
	if shared > 0 {
		reasons = append(reasons, fmt.Sprintf("shares %d keywords with tender", shared))
	}

	return clampScore(0.6*constraintScore + 0.4*overlap), reasons, nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func inRange(v, lo, hi *float64) bool {
	if v == nil {
		return false
	}
	return (lo == nil || *v >= *lo) && (hi == nil || *v <= *hi)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// terms extracts lowercase words of two or more runes; Han text
// contributes overlapping bigrams.
func terms(s string) map[string]bool {
	out := make(map[string]bool)
	var word []rune
	var han []rune

	flushWord := func() {
		if len(word) >= 2 {
			out[string(word)] = true
		}
		word = word[:0]
	}
	flushHan := func() {
		for i := 0; i+1 < len(han); i++ {
			out[string(han[i:i+2])] = true
		}
		han = han[:0]
	}

	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			word = append(word, r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return out
}

// DefaultScorePrompt asks a model for a JSON score. {constraints} and
// {contract} are replaced with indented JSON.
const DefaultScorePrompt = `You evaluate whether a past contract qualifies as reference performance for a tender.

Tender constraints:
{constraints}

Contract:
{contract}

Reply with JSON only: {"score": <number between 0 and 1>, "reasons": ["short reason", ...]}`

// ModelScorer asks a chat model to score each contract.
type ModelScorer struct {
	Client engine.ModelClient
	Prompt string
}

// Score implements Scorer.
func (s ModelScorer) Score(ctx context.Context, tender *Tender, c Contract) (float64, []string, error) {
	if s.Client == nil {
		return 0, nil, fmt.Errorf("model scorer has no client")
	}
	prompt := s.Prompt
	if prompt == "" {
		prompt = DefaultScorePrompt
	}
	constraints, err := json.MarshalIndent(tender.Constraints, "", "  ")
	if err != nil {
		return 0, nil, err
	}
	contract, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return 0, nil, err
	}
	prompt = strings.NewReplacer("{constraints}", string(constraints), "{contract}", string(contract)).Replace(prompt)

	resp, err := s.Client.Chat(ctx, []engine.Message{engine.UserMessage(prompt)})
	if err != nil {
		return 0, nil, err
	}

	var result struct {
		Score   float64  `json:"score"`
		Reasons []string `json:"reasons"`
	}
	text := resp.Content
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return 0, nil, fmt.Errorf("model response has no JSON object")
	}
	if err := json.UnmarshalFromString(text[start:end+1], &result); err != nil {
		return 0, nil, fmt.Errorf("invalid score JSON: %w", err)
	}
	return result.Score, result.Reasons, nil
}
