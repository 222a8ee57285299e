package dbtypes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeStockValueRejectsInvalidMaps(t *testing.T) {
	_, err := SizeStock{"M": -1}.Value()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSizeStock))

	_, err = SizeStock{" ": 2}.Value()
	assert.True(t, errors.Is(err, ErrInvalidSizeStock))
}

func TestSizeStockValueNilForUnsized(t *testing.T) {
	v, err := SizeStock(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = SizeStock{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSizeStockScan(t *testing.T) {
	var s SizeStock
	require.NoError(t, s.Scan([]byte(`{"M":5,"L":2}`)))
	assert.Equal(t, SizeStock{"M": 5, "L": 2}, s)
	assert.Equal(t, 7, s.Total())
	assert.True(t, s.Sized())
	assert.Equal(t, []string{"L", "M"}, s.Sizes())

	require.NoError(t, s.Scan(nil))
	assert.Nil(t, s)
	assert.False(t, s.Sized())

	require.NoError(t, s.Scan("null"))
	assert.Nil(t, s)

	err := s.Scan(`{"M":-4}`)
	assert.True(t, errors.Is(err, ErrInvalidSizeStock))

	assert.Error(t, s.Scan(42))
	assert.Error(t, s.Scan(`{"M":`))
}

func TestSizeStockClone(t *testing.T) {
	orig := SizeStock{"S": 1}
	cp := orig.Clone()
	cp["S"] = 9
	assert.Equal(t, 1, orig["S"])
	assert.Nil(t, SizeStock(nil).Clone())
	assert.True(t, orig.Has("S"))
	assert.False(t, orig.Has("XL"))
}
