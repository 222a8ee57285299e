package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopcore-backend/pkg/db"
	"github.com/angelmondragon/shopcore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/outbox"
	"github.com/angelmondragon/shopcore-backend/pkg/pagination"
)

type recordingEvictor struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (r *recordingEvictor) Evict(_ context.Context, lines ...LineKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range lines {
		r.lines = append(r.lines, line.String())
	}
	return r.err
}

type fixture struct {
	client  *db.Client
	svc     *Service
	records Repository
	ledger  LedgerRepository
	outbox  *outbox.Repository
	evictor *recordingEvictor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	records := NewRepository(client.DB())
	ledger := NewLedgerRepository(client.DB())
	outboxRepo := outbox.NewRepository(client.DB())
	evictor := &recordingEvictor{}
	svc, err := NewService(ServiceParams{
		DB:      client,
		Records: records,
		Ledger:  ledger,
		Outbox:  outbox.NewService(outboxRepo, logger.Nop()),
		Cache:   evictor,
	})
	require.NoError(t, err)
	return &fixture{client: client, svc: svc, records: records, ledger: ledger, outbox: outboxRepo, evictor: evictor}
}

func TestCreateUnsizedRecordWritesOpeningStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, CreateInput{ProductID: uuid.New(), SellerID: uuid.New(), Stock: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Stock)
	assert.False(t, rec.SizeStock.Sized())

	totals, err := f.ledger.TotalsByRecord(ctx)
	require.NoError(t, err)
	require.Contains(t, totals, KeyOf(rec).String())
	assert.Equal(t, 7, totals[KeyOf(rec).String()].Stock)

	events, err := f.outbox.ListByAggregate(nil, rec.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventInventoryAdjusted, events[0].EventType)

	assert.Equal(t, []string{KeyOf(rec).Line(nil).String()}, f.evictor.lines)
}

func TestCreateSizedRecordDerivesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	variant := uuid.New()

	rec, err := f.svc.Create(ctx, CreateInput{
		ProductID: uuid.New(),
		SellerID:  uuid.New(),
		VariantID: &variant,
		SizeStock: map[string]int{"M": 5, "L": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Stock)

	stored, err := f.records.Find(ctx, KeyOf(rec))
	require.NoError(t, err)
	assert.Equal(t, 5, stored.SizeStock["M"])
	assert.Equal(t, 2, stored.SizeStock["L"])
	require.NotNil(t, stored.VariantID)
	assert.Equal(t, variant, *stored.VariantID)

	_, err = f.svc.Create(ctx, CreateInput{
		ProductID: uuid.New(),
		SellerID:  uuid.New(),
		Stock:     3,
		SizeStock: map[string]int{"M": 5},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateRejectsInvalidAndDuplicateRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{SellerID: uuid.New(), Stock: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Create(ctx, CreateInput{ProductID: uuid.New(), SellerID: uuid.New(), Stock: -1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Create(ctx, CreateInput{ProductID: uuid.New(), SellerID: uuid.New(), SizeStock: map[string]int{"S": -2}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	input := CreateInput{ProductID: uuid.New(), SellerID: uuid.New(), Stock: 2}
	_, err = f.svc.Create(ctx, input)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestSetStockAdjustsSizesAndEvictsOldAndNewKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, CreateInput{
		ProductID: uuid.New(),
		SellerID:  uuid.New(),
		SizeStock: map[string]int{"M": 5, "S": 1},
	})
	require.NoError(t, err)
	f.evictor.lines = nil

	updated, err := f.svc.SetStock(ctx, SetStockInput{
		ProductID: rec.ProductID,
		SellerID:  rec.SellerID,
		SizeStock: map[string]int{"M": 3, "L": 4},
		RequestID: "adjust-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, updated.Stock)
	assert.Equal(t, updated.SizeStock.Total(), updated.Stock)

	key := KeyOf(rec)
	m, l, s := "M", "L", "S"
	assert.ElementsMatch(t, []string{
		key.Line(nil).String(),
		key.Line(&m).String(),
		key.Line(&l).String(),
		key.Line(&s).String(),
	}, f.evictor.lines)

	rows, err := f.ledger.FindByRequest(ctx, "adjust-1", enums.StockActionAdjusted)
	require.NoError(t, err)
	net := 0
	for _, row := range rows {
		net += row.Quantity
	}
	assert.Equal(t, 1, net)

	again, err := f.svc.SetStock(ctx, SetStockInput{
		ProductID: rec.ProductID,
		SellerID:  rec.SellerID,
		Stock:     100,
		RequestID: "adjust-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, again.Stock)

	events, err := f.outbox.ListByAggregate(nil, rec.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSetStockUnknownRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetStock(context.Background(), SetStockInput{ProductID: uuid.New(), SellerID: uuid.New(), Stock: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSetStockKeepsWriteWhenEvictionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, CreateInput{ProductID: uuid.New(), SellerID: uuid.New(), Stock: 2})
	require.NoError(t, err)

	f.evictor.err = errors.New("redis down")
	updated, err := f.svc.SetStock(ctx, SetStockInput{ProductID: rec.ProductID, SellerID: rec.SellerID, Stock: 9})
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Stock)

	stored, err := f.svc.Get(ctx, KeyOf(rec))
	require.NoError(t, err)
	assert.Equal(t, 9, stored.Stock)
}

func TestAuditCleanAfterAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sized, err := f.svc.Create(ctx, CreateInput{ProductID: uuid.New(), SellerID: uuid.New(), SizeStock: map[string]int{"M": 5}})
	require.NoError(t, err)
	plain, err := f.svc.Create(ctx, CreateInput{ProductID: uuid.New(), SellerID: uuid.New(), Stock: 4})
	require.NoError(t, err)

	_, err = f.svc.SetStock(ctx, SetStockInput{ProductID: sized.ProductID, SellerID: sized.SellerID, SizeStock: map[string]int{"M": 2, "XL": 6}})
	require.NoError(t, err)
	_, err = f.svc.SetStock(ctx, SetStockInput{ProductID: plain.ProductID, SellerID: plain.SellerID, SizeStock: map[string]int{"S": 1}})
	require.NoError(t, err)

	auditor, err := NewAuditor(f.records, f.ledger, logger.Nop())
	require.NoError(t, err)
	report, err := auditor.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records)
	assert.True(t, report.OK(), "unexpected discrepancies: %v", report.Discrepancies)
}

func TestAuditReportsTamperedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, CreateInput{ProductID: uuid.New(), SellerID: uuid.New(), SizeStock: map[string]int{"M": 5}})
	require.NoError(t, err)

	require.NoError(t, f.client.DB().Model(&models.InventoryRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{"stock": 9, "reserved_quantity": 2}).Error)

	auditor, err := NewAuditor(f.records, f.ledger, nil)
	require.NoError(t, err)
	report, err := auditor.Audit(ctx)
	require.NoError(t, err)
	require.False(t, report.OK())

	kinds := map[string]Discrepancy{}
	for _, d := range report.Discrepancies {
		kinds[d.Kind] = d
	}
	assert.Contains(t, kinds, DiscrepancySizeSum)
	assert.Contains(t, kinds, DiscrepancyLedgerReserved)
	require.Contains(t, kinds, DiscrepancyLedgerStock)
	assert.Equal(t, 5, kinds[DiscrepancyLedgerStock].Expected)
	assert.Equal(t, 9, kinds[DiscrepancyLedgerStock].Actual)
}

func TestSortKeysIsDeterministic(t *testing.T) {
	a := Key{ProductID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), SellerID: uuid.New()}
	b := Key{ProductID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), SellerID: uuid.New()}
	keys := []Key{a, b}
	SortKeys(keys)
	assert.Equal(t, b, keys[0])

	size := "M"
	assert.Equal(t, b.String()+":M", b.Line(&size).String())
	assert.Equal(t, b.String()+":null", b.Line(&size).Total().String())
	assert.Contains(t, b.String(), ":null")
}

func TestHistoryPagesNewestFirstWithoutGaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, CreateInput{
		ProductID: uuid.New(),
		SellerID:  uuid.New(),
		SizeStock: map[string]int{"S": 1, "M": 2, "L": 3},
	})
	require.NoError(t, err)
	_, err = f.svc.SetStock(ctx, SetStockInput{
		ProductID: rec.ProductID,
		SellerID:  rec.SellerID,
		SizeStock: map[string]int{"S": 4, "M": 0, "XL": 1},
		RequestID: "history-1",
	})
	require.NoError(t, err)
	// Same product under another seller must not leak into the page.
	_, err = f.svc.Create(ctx, CreateInput{ProductID: rec.ProductID, SellerID: uuid.New(), Stock: 9})
	require.NoError(t, err)

	var want int64
	require.NoError(t, f.client.DB().Model(&models.StockTransaction{}).
		Where("product_id = ? AND seller_id = ?", rec.ProductID, rec.SellerID).
		Count(&want).Error)
	require.Greater(t, want, int64(2))

	seen := map[uuid.UUID]struct{}{}
	cursor := ""
	for pages := 0; pages < 10; pages++ {
		page, err := f.svc.History(ctx, KeyOf(rec), pagination.Params{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Items), 2)
		for i, row := range page.Items {
			assert.Equal(t, rec.SellerID, row.SellerID)
			if i > 0 {
				assert.False(t, row.CreatedAt.After(page.Items[i-1].CreatedAt))
			}
			_, dup := seen[row.ID]
			assert.False(t, dup, "row %s returned twice", row.ID)
			seen[row.ID] = struct{}{}
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}
	assert.Len(t, seen, int(want))
}

func TestHistoryRejectsBadCursorAndUnknownRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, CreateInput{ProductID: uuid.New(), SellerID: uuid.New(), Stock: 1})
	require.NoError(t, err)

	_, err = f.svc.History(ctx, KeyOf(rec), pagination.Params{Cursor: "%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.History(ctx, Key{ProductID: uuid.New(), SellerID: uuid.New()}, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	page, err := f.svc.History(ctx, KeyOf(rec), pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Items[0].Quantity)
	assert.Empty(t, page.Next)
}
