package history

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/shamrock-bonds/lead-pipeline/internal/model"
)

// Bond-book column order: First Name | Last Name | DOB | Address |
// Bond Date | Power Number | Liability Amount | Premium Amount | Source File
const (
	colFirstName = iota
	colLastName
	colDOB
	colAddress
	colBondDate
	colPowerNumber
	colLiability
	colPremium
	colSourceFile
	bondBookCols
)

var bondDateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", "01-02-06"}

// LoadBondBook reads a historical bond-book workbook. Rows missing a last
// name are skipped; otherwise parsing is forgiving; these books were typed
// by hand between 2014 and 2017 and the ledger is advisory, not financial.
func LoadBondBook(path string) ([]model.HistoricalBondRecord, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "history: open bond book %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("history: bond book %s has no sheets", path)
	}

	var records []model.HistoricalBondRecord
	skipped := 0
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue // header
		}
		cells := rowToStrings(row)
		rec, ok := parseBondRow(cells)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	zap.L().Info("history: bond book loaded",
		zap.String("path", path),
		zap.Int("records", len(records)),
		zap.Int("skipped", skipped),
	)
	return records, nil
}

func parseBondRow(cells []string) (model.HistoricalBondRecord, bool) {
	if len(cells) < bondBookCols {
		padded := make([]string, bondBookCols)
		copy(padded, cells)
		cells = padded
	}

	last := strings.TrimSpace(cells[colLastName])
	if last == "" {
		return model.HistoricalBondRecord{}, false
	}
	first := strings.TrimSpace(cells[colFirstName])

	rec := model.HistoricalBondRecord{
		FirstName:      first,
		LastName:       last,
		FullName:       strings.TrimSpace(last + ", " + first),
		DOB:            strings.TrimSpace(cells[colDOB]),
		Address:        strings.TrimSpace(cells[colAddress]),
		PowerNumber:    strings.TrimSpace(cells[colPowerNumber]),
		LiabilityCents: parseCents(cells[colLiability]),
		PremiumCents:   parseCents(cells[colPremium]),
		SourceFile:     strings.TrimSpace(cells[colSourceFile]),
	}

	for _, layout := range bondDateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(cells[colBondDate])); err == nil {
			rec.BondDate = t
			break
		}
	}

	return rec, true
}

// parseCents parses a dollar string ("$5,000.00") into cents, 0 on failure.
func parseCents(s string) int64 {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return int64(f*100 + 0.5)
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
