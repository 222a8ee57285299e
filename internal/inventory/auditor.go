package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
)

// Discrepancy kinds reported by the auditor.
const (
	DiscrepancyNegativeStock    = "negative_stock"
	DiscrepancyNegativeReserved = "negative_reserved"
	DiscrepancySizeSum          = "size_sum_mismatch"
	DiscrepancyLedgerStock      = "ledger_stock_mismatch"
	DiscrepancyLedgerReserved   = "ledger_reserved_mismatch"
	DiscrepancyLedgerSize       = "ledger_size_mismatch"
	DiscrepancyOrphanLedger     = "ledger_without_record"
)

// Discrepancy is one broken invariant on one record.
type Discrepancy struct {
	Key      Key
	Kind     string
	Size     string
	Expected int
	Actual   int
}

func (d Discrepancy) String() string {
	if d.Size != "" {
		return fmt.Sprintf("%s size=%s %s expected=%d actual=%d", d.Key, d.Size, d.Kind, d.Expected, d.Actual)
	}
	return fmt.Sprintf("%s %s expected=%d actual=%d", d.Key, d.Kind, d.Expected, d.Actual)
}

// AuditReport summarizes one audit pass.
type AuditReport struct {
	Records       int
	Discrepancies []Discrepancy
}

// OK reports whether the audit found nothing.
func (r AuditReport) OK() bool {
	return len(r.Discrepancies) == 0
}

// Auditor reconciles inventory records against the stock ledger.
type Auditor struct {
	records   Repository
	ledger    LedgerRepository
	logg      *logger.Logger
	batchSize int
}

func NewAuditor(records Repository, ledger LedgerRepository, logg *logger.Logger) (*Auditor, error) {
	if records == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Auditor{records: records, ledger: ledger, logg: logg, batchSize: 500}, nil
}

// Audit checks every record for negative counts, a size map that does not
// add up to stock, and stock or reserved values the ledger does not explain.
func (a *Auditor) Audit(ctx context.Context) (*AuditReport, error) {
	totals, err := a.ledger.TotalsByRecord(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate ledger: %w", err)
	}

	report := &AuditReport{}
	err = a.records.Each(ctx, a.batchSize, func(batch []models.InventoryRecord) error {
		for i := range batch {
			rec := &batch[i]
			key := KeyOf(rec)
			report.Records++
			expected, ok := totals[key.String()]
			if !ok {
				expected = &RecordTotals{Key: key, Sizes: map[string]int{}}
			}
			delete(totals, key.String())
			report.Discrepancies = append(report.Discrepancies, checkRecord(rec, expected)...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan inventory: %w", err)
	}

	orphans := make([]string, 0, len(totals))
	for k := range totals {
		orphans = append(orphans, k)
	}
	sort.Strings(orphans)
	for _, k := range orphans {
		t := totals[k]
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Key: t.Key, Kind: DiscrepancyOrphanLedger, Expected: t.Stock,
		})
	}

	logCtx := a.logg.WithFields(ctx, map[string]any{
		"records":       report.Records,
		"discrepancies": len(report.Discrepancies),
	})
	if report.OK() {
		a.logg.Info(logCtx, "inventory audit clean")
	} else {
		a.logg.Warn(logCtx, "inventory audit found discrepancies")
	}
	return report, nil
}

func checkRecord(rec *models.InventoryRecord, expected *RecordTotals) []Discrepancy {
	key := KeyOf(rec)
	var out []Discrepancy
	if rec.Stock < 0 {
		out = append(out, Discrepancy{Key: key, Kind: DiscrepancyNegativeStock, Actual: rec.Stock})
	}
	if rec.ReservedQuantity < 0 {
		out = append(out, Discrepancy{Key: key, Kind: DiscrepancyNegativeReserved, Actual: rec.ReservedQuantity})
	}
	if rec.SizeStock.Sized() && rec.SizeStock.Total() != rec.Stock {
		out = append(out, Discrepancy{Key: key, Kind: DiscrepancySizeSum, Expected: rec.SizeStock.Total(), Actual: rec.Stock})
	}
	if expected.Stock != rec.Stock {
		out = append(out, Discrepancy{Key: key, Kind: DiscrepancyLedgerStock, Expected: expected.Stock, Actual: rec.Stock})
	}
	if expected.Reserved != rec.ReservedQuantity {
		out = append(out, Discrepancy{Key: key, Kind: DiscrepancyLedgerReserved, Expected: expected.Reserved, Actual: rec.ReservedQuantity})
	}

	sizes := map[string]struct{}{}
	for size := range rec.SizeStock {
		sizes[size] = struct{}{}
	}
	for size, qty := range expected.Sizes {
		if qty != 0 {
			sizes[size] = struct{}{}
		}
	}
	labels := make([]string, 0, len(sizes))
	for size := range sizes {
		labels = append(labels, size)
	}
	sort.Strings(labels)
	for _, size := range labels {
		if want, got := expected.Sizes[size], rec.SizeStock[size]; want != got {
			out = append(out, Discrepancy{Key: key, Kind: DiscrepancyLedgerSize, Size: size, Expected: want, Actual: got})
		}
	}
	return out
}
