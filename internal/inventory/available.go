package inventory

import (
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopcore-backend/pkg/errors"
)

// Available returns the effective stock of one line of rec: the size count
// for a sized record, the total otherwise. A nil size on a sized record
// addresses the total.
func Available(rec *models.InventoryRecord, size *string) (int, error) {
	if size == nil {
		return rec.Stock, nil
	}
	if !rec.SizeStock.Sized() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "record is not sized").
			WithDetails(map[string]any{"size": *size})
	}
	return rec.SizeStock[*size], nil
}
