package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInventoryRecord(t *testing.T) {
	record, err := NewInventoryRecord("prod-1", 100)

	require.NoError(t, err)
	assert.Equal(t, "prod-1", record.ProductID)
	assert.Equal(t, 100, record.Quantity)
	assert.Equal(t, 0, record.Reserved)
	assert.Equal(t, 100, record.Available())
	assert.Equal(t, 1, record.Version)
	assert.False(t, record.CreatedAt.IsZero())
	assert.False(t, record.UpdatedAt.IsZero())
}

func TestNewInventoryRecord_Error_NegativeQuantity(t *testing.T) {
	record, err := NewInventoryRecord("prod-1", -5)

	assert.Nil(t, record)
	assert.Equal(t, ErrInvalidQuantity, err)
}

func TestReserve_Success(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 100)
	originalVersion := record.Version

	err := record.Reserve(30)

	assert.NoError(t, err)
	assert.Equal(t, 30, record.Reserved)
	assert.Equal(t, 70, record.Available())
	assert.Equal(t, originalVersion+1, record.Version)
}

func TestReserve_Error_InsufficientStock(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 10)

	err := record.Reserve(11)

	assert.Equal(t, ErrInsufficientStock, err)
	assert.Equal(t, 0, record.Reserved)
}

func TestReserve_Error_ZeroQuantity(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 10)

	err := record.Reserve(0)

	assert.Equal(t, ErrInvalidQuantity, err)
}

func TestReserve_SecondHoldExceedingAvailable(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 20)

	require.NoError(t, record.Reserve(15))
	assert.Equal(t, 5, record.Available())

	err := record.Reserve(10)

	assert.Equal(t, ErrInsufficientStock, err)
	assert.Equal(t, 15, record.Reserved)

	require.NoError(t, record.Release(15))
	assert.Equal(t, 0, record.Reserved)
	assert.Equal(t, 20, record.Available())
	assert.NoError(t, record.Reserve(10))
}

func TestRelease_Success(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 100)
	require.NoError(t, record.Reserve(40))

	err := record.Release(15)

	assert.NoError(t, err)
	assert.Equal(t, 25, record.Reserved)
	assert.Equal(t, 100, record.Quantity)
}

func TestRelease_Error_MoreThanReserved(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 100)
	require.NoError(t, record.Reserve(10))

	err := record.Release(11)

	assert.Equal(t, ErrInvalidReleaseQuantity, err)
	assert.Equal(t, 10, record.Reserved)
}

func TestConfirm_Success(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 100)
	require.NoError(t, record.Reserve(30))

	err := record.Confirm(30)

	assert.NoError(t, err)
	assert.Equal(t, 70, record.Quantity)
	assert.Equal(t, 0, record.Reserved)
	assert.Equal(t, 70, record.Available())
}

func TestConfirm_Error_MoreThanReserved(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 100)
	require.NoError(t, record.Reserve(5))

	err := record.Confirm(6)

	assert.Equal(t, ErrInvalidReleaseQuantity, err)
	assert.Equal(t, 100, record.Quantity)
	assert.Equal(t, 5, record.Reserved)
}

func TestAdjust_Success_Restock(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 100)

	err := record.Adjust(50)

	assert.NoError(t, err)
	assert.Equal(t, 150, record.Quantity)
}

func TestAdjust_Success_WriteOff(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 100)
	require.NoError(t, record.Reserve(30))

	err := record.Adjust(-70)

	assert.NoError(t, err)
	assert.Equal(t, 30, record.Quantity)
	assert.Equal(t, 0, record.Available())
}

func TestAdjust_Error_BelowReserved(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 100)
	require.NoError(t, record.Reserve(30))

	err := record.Adjust(-71)

	assert.Equal(t, ErrQuantityBelowReserved, err)
	assert.Equal(t, 100, record.Quantity)
	assert.Equal(t, 30, record.Reserved)
}

func TestCanReserve(t *testing.T) {
	record, _ := NewInventoryRecord("prod-1", 20)
	require.NoError(t, record.Reserve(15))

	assert.True(t, record.CanReserve(5))
	assert.False(t, record.CanReserve(6))
}
