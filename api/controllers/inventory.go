package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore-backend/api/responses"
	"github.com/angelmondragon/shopcore-backend/api/validators"
	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
	"github.com/angelmondragon/shopcore-backend/pkg/logger"
	"github.com/angelmondragon/shopcore-backend/pkg/pagination"
)

const maxSizeLength = 32

// StockReader serves effective stock, normally through the cache mirror.
type StockReader interface {
	Get(ctx context.Context, line inventory.LineKey) (int, error)
}

// StockAdmin applies administrative stock changes.
type StockAdmin interface {
	Create(ctx context.Context, input inventory.CreateInput) (*models.InventoryRecord, error)
	SetStock(ctx context.Context, input inventory.SetStockInput) (*models.InventoryRecord, error)
	History(ctx context.Context, key inventory.Key, params pagination.Params) (pagination.Page[models.StockTransaction], error)
}

// StockAuditor compares records against the ledger.
type StockAuditor interface {
	Audit(ctx context.Context) (*inventory.AuditReport, error)
}

type stockResponse struct {
	ProductID uuid.UUID  `json:"product_id"`
	SellerID  uuid.UUID  `json:"seller_id"`
	VariantID *uuid.UUID `json:"variant_id"`
	Size      *string    `json:"size"`
	Available int        `json:"available"`
}

// InventoryStock handles GET /api/v1/inventory/stock.
func InventoryStock(reader StockReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stock reader unavailable"))
			return
		}

		key, err := parseRecordKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		size, err := validators.ParseOptionalQueryString(r, "size", maxSizeLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		available, err := reader.Get(r.Context(), key.Line(size))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, stockResponse{
			ProductID: key.ProductID,
			SellerID:  key.SellerID,
			VariantID: key.VariantID,
			Size:      size,
			Available: available,
		})
	}
}

// AdminInventoryHistory handles GET /api/v1/admin/inventory/transactions.
func AdminInventoryHistory(admin StockAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		key, err := parseRecordKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := admin.History(r.Context(), key, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func parseRecordKey(r *http.Request) (inventory.Key, error) {
	productID, err := validators.ParseQueryUUID(r, "product_id")
	if err != nil {
		return inventory.Key{}, err
	}
	sellerID, err := validators.ParseQueryUUID(r, "seller_id")
	if err != nil {
		return inventory.Key{}, err
	}
	variantID, err := validators.ParseOptionalQueryUUID(r, "variant_id")
	if err != nil {
		return inventory.Key{}, err
	}
	return inventory.Key{ProductID: productID, SellerID: sellerID, VariantID: variantID}, nil
}

// AdminCreateInventory handles POST /api/v1/admin/inventory.
func AdminCreateInventory(admin StockAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		var payload inventory.CreateInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rec, err := admin.Create(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, rec)
	}
}

// AdminSetStock handles PUT /api/v1/admin/inventory/stock. The
// Idempotency-Key header is used as request id when the body has none.
func AdminSetStock(admin StockAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		var payload inventory.SetStockInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payload.RequestID == "" {
			payload.RequestID = r.Header.Get("Idempotency-Key")
		}
		rec, err := admin.SetStock(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rec)
	}
}

// AdminAuditInventory handles GET /api/v1/admin/inventory/audit.
func AdminAuditInventory(auditor StockAuditor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auditor == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auditor unavailable"))
			return
		}
		report, err := auditor.Audit(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		discrepancies := make([]string, 0, len(report.Discrepancies))
		for _, d := range report.Discrepancies {
			discrepancies = append(discrepancies, d.String())
		}
		responses.WriteSuccess(w, map[string]any{
			"ok":            report.OK(),
			"records":       report.Records,
			"discrepancies": discrepancies,
		})
	}
}
