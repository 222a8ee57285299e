package inventory

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
)

const nullPart = "null"

// Key identifies one InventoryRecord.
type Key struct {
	ProductID uuid.UUID
	SellerID  uuid.UUID
	VariantID *uuid.UUID
}

// KeyOf returns the identity of rec.
func KeyOf(rec *models.InventoryRecord) Key {
	return Key{ProductID: rec.ProductID, SellerID: rec.SellerID, VariantID: rec.VariantID}
}

func (k Key) String() string {
	return strings.Join([]string{k.ProductID.String(), k.SellerID.String(), VariantPart(k.VariantID)}, ":")
}

// Line narrows a Key to one size. A nil size addresses the record total.
func (k Key) Line(size *string) LineKey {
	return LineKey{Record: k, Size: size}
}

// LineKey identifies the stock of one size of a record, or the record total
// when Size is nil.
type LineKey struct {
	Record Key
	Size   *string
}

func (l LineKey) String() string {
	return l.Record.String() + ":" + SizePart(l.Size)
}

// Total returns the size-less line of the same record.
func (l LineKey) Total() LineKey {
	return LineKey{Record: l.Record}
}

// VariantPart renders an optional variant the way keys carry it.
func VariantPart(id *uuid.UUID) string {
	if id == nil {
		return nullPart
	}
	return id.String()
}

// SizePart renders an optional size the way keys carry it.
func SizePart(size *string) string {
	if size == nil {
		return nullPart
	}
	return *size
}

// SortKeys orders keys deterministically. Callers lock records in this
// order so two transactions never wait on each other's rows.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
