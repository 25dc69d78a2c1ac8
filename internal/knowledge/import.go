package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ImportTenders loads a JSON array of tenders from path and stores them.
// Tenders with a tender_id replace the stored row; others get a new id.
func (d *DB) ImportTenders(ctx context.Context, path string) ([]int64, error) {
	var tenders []Tender
	if err := readJSONFile(path, &tenders); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(tenders))
	for i, t := range tenders {
		if strings.TrimSpace(t.RawText) == "" {
			return ids, fmt.Errorf("tender #%d: raw_text is required", i)
		}
		id, err := d.InsertTender(ctx, t)
		if err != nil {
			return ids, fmt.Errorf("tender #%d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ImportContracts loads a JSON array of contracts from path and upserts them.
func (d *DB) ImportContracts(ctx context.Context, path string) (int, error) {
	var contracts []Contract
	if err := readJSONFile(path, &contracts); err != nil {
		return 0, err
	}

	for i, c := range contracts {
		if c.ContractID <= 0 {
			return i, fmt.Errorf("contract #%d: contract_id must be positive", i)
		}
		if err := d.UpsertContract(ctx, c); err != nil {
			return i, err
		}
	}
	return len(contracts), nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
