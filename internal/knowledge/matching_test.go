package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/agentd/internal/engine"
)

func ptr(f float64) *float64 { return &f }

func seedContracts(t *testing.T, db *DB) {
	t.Helper()
	contracts := []Contract{
		{ContractID: 1, ContractName: "Highway bridge construction", PartyA: "Roads Bureau", IsStateOwned: true,
			Amount: ptr(5e6), SignDate: "2022-03-01", ProjectType: "construction"},
		{ContractID: 2, ContractName: "Office renovation", PartyA: "Acme Ltd",
			Amount: ptr(2e6), SignDate: "2023-06-15", ProjectType: "construction"},
		{ContractID: 3, ContractName: "ERP rollout", PartyA: "Soft Co",
			Amount: ptr(9e6), SignDate: "2023-01-10", ProjectType: "software"},
		{ContractID: 4, ContractName: "Unpriced works", PartyA: "Nobody", ProjectType: "construction"},
	}
	for _, c := range contracts {
		require.NoError(t, db.UpsertContract(context.Background(), c))
	}
}

func TestFilterCandidates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedContracts(t, s.DB())

	ids := func(cs []Contract) []int64 {
		var out []int64
		for _, c := range cs {
			out = append(out, c.ContractID)
		}
		return out
	}

	tests := []struct {
		name string
		c    Constraints
		want []int64
	}{
		{"no constraints orders by amount", Constraints{}, []int64{3, 1, 2, 4}},
		{"project types", Constraints{ProjectTypes: []string{"construction"}}, []int64{1, 2, 4}},
		{"amount range", Constraints{MinAmount: ptr(1e6), MaxAmount: ptr(6e6)}, []int64{1, 2}},
		{"date after", Constraints{DateAfter: "2023-01-01"}, []int64{3, 2}},
		{"date window", Constraints{DateAfter: "2022-01-01", DateBefore: "2022-12-31"}, []int64{1}},
		{"state owned", Constraints{RequireStateOwned: true}, []int64{1}},
		{"nothing matches", Constraints{ProjectTypes: []string{"mining"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.DB().FilterCandidates(ctx, tt.c, 50)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	limited, err := s.DB().FilterCandidates(ctx, Constraints{}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, ids(limited))
}

func TestMatchRanksAndPersists(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedContracts(t, s.DB())

	tenderID, err := s.DB().InsertTender(ctx, Tender{
		Title:   "Bridge tender",
		RawText: "Bridge construction project for highway",
		Constraints: Constraints{
			ProjectTypes: []string{"construction"},
			MinAmount:    ptr(1e6),
		},
	})
	require.NoError(t, err)

	m := NewMatcher(s.DB(), nil, nil)
	results, err := m.Match(ctx, tenderID, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.EqualValues(t, 1, results[0].ContractID)
	assert.Equal(t, "Roads Bureau", results[0].PartyA)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Contains(t, results[0].Reasons, "project type construction matches")
	assert.EqualValues(t, 2, results[1].ContractID)
	assert.Less(t, results[1].Score, results[0].Score)
	for _, r := range results {
		assert.Positive(t, r.MatchID)
		assert.Equal(t, tenderID, r.TenderID)
	}

	stored, err := s.DB().MatchesForTender(ctx, tenderID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, results[0].MatchID, stored[0].MatchID)
	assert.Equal(t, results[0].Reasons, stored[0].Reasons)
}

func TestMatchTopK(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedContracts(t, s.DB())
	tenderID, err := s.DB().InsertTender(ctx, Tender{RawText: "anything"})
	require.NoError(t, err)

	results, err := NewMatcher(s.DB(), nil, nil).Match(ctx, tenderID, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMatchUnknownTender(t *testing.T) {
	s := openTestStore(t)
	_, err := NewMatcher(s.DB(), nil, nil).Match(context.Background(), 42, 5)
	assert.True(t, errors.Is(err, ErrTenderNotFound))
}

func TestMatchNoCandidates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	tenderID, err := s.DB().InsertTender(ctx, Tender{RawText: "x"})
	require.NoError(t, err)

	results, err := NewMatcher(s.DB(), nil, nil).Match(ctx, tenderID, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestModelScorerSkipsFailures(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	seedContracts(t, s.DB())
	tenderID, err := s.DB().InsertTender(ctx, Tender{RawText: "x", Constraints: Constraints{ProjectTypes: []string{"construction"}}})
	require.NoError(t, err)

	model := engine.ModelFunc(func(_ context.Context, msgs []engine.Message) (engine.ModelResponse, error) {
		prompt := msgs[0].Content
		switch {
		case strings.Contains(prompt, "Roads Bureau"):
			return engine.ModelResponse{Content: "```json\n{\"score\": 0.42, \"reasons\": [\"close fit\"]}\n```"}, nil
		case strings.Contains(prompt, "Acme Ltd"):
			return engine.ModelResponse{Content: `{"score": 1.7, "reasons": []}`}, nil
		default:
			return engine.ModelResponse{Content: "no idea"}, nil
		}
	})

	results, err := NewMatcher(s.DB(), ModelScorer{Client: model}, nil).Match(ctx, tenderID, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.EqualValues(t, 2, results[0].ContractID)
	assert.Equal(t, 1.0, results[0].Score, "scores are clamped")
	assert.EqualValues(t, 1, results[1].ContractID)
	assert.Equal(t, 0.42, results[1].Score)
	assert.Equal(t, []string{"close fit"}, results[1].Reasons)
}

func TestImportFiles(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	dir := t.TempDir()

	contracts := filepath.Join(dir, "contracts.json")
	require.NoError(t, os.WriteFile(contracts, []byte(`[
		{"contract_id": 7, "party_a": "City Water", "amount": 1200000, "project_type": "pipeline", "is_state_owned": true}
	]`), 0o644))
	n, err := s.DB().ImportContracts(ctx, contracts)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tenders := filepath.Join(dir, "tenders.json")
	require.NoError(t, os.WriteFile(tenders, []byte(`[
		{"tender_id": 11, "title": "Pipes", "raw_text": "pipeline renewal", "constraints": {"project_types": ["pipeline"], "min_amount": 1000000}},
		{"raw_text": "second"}
	]`), 0o644))
	ids, err := s.DB().ImportTenders(ctx, tenders)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.EqualValues(t, 11, ids[0])
	assert.Greater(t, ids[1], int64(11))

	tender, err := s.DB().GetTender(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, []string{"pipeline"}, tender.Constraints.ProjectTypes)
	require.NotNil(t, tender.Constraints.MinAmount)
	assert.Equal(t, 1e6, *tender.Constraints.MinAmount)

	got, err := s.DB().FilterCandidates(ctx, tender.Constraints, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsStateOwned)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"title": "no text"}]`), 0o644))
	_, err = s.DB().ImportTenders(ctx, bad)
	assert.Error(t, err)
}
