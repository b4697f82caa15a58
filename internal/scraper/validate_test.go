package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

func testStores() []models.Store {
	return []models.Store{
		{ID: 1, ChainName: "ATB", ExternalStoreID: "atb-test-1", Address: "вул. Хрещатик, 1", IsActive: true},
		{ID: 2, ChainName: "Silpo", ExternalStoreID: "silpo-204", Address: "вул. Липська, 5", IsActive: true},
	}
}

func validRecord() models.RawRecord {
	return models.RawRecord{
		ChainName:       "ATB",
		ExternalStoreID: "atb-test-1",
		Name:            "Молоко 2.5% 1л",
		Price:           39.90,
		InStock:         true,
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator(testStores())

	t.Run("accepts a well formed record", func(t *testing.T) {
		_, reason := v.Validate(validRecord())
		assert.Empty(t, reason)
	})

	t.Run("trims the name before checking", func(t *testing.T) {
		rec := validRecord()
		rec.Name = "  Хліб житній  "
		cleaned, reason := v.Validate(rec)
		require.Empty(t, reason)
		assert.Equal(t, "Хліб житній", cleaned.Name)
	})

	t.Run("rejects zero price", func(t *testing.T) {
		rec := validRecord()
		rec.Price = 0
		_, reason := v.Validate(rec)
		assert.Contains(t, reason, "price")
	})

	t.Run("rejects negative price", func(t *testing.T) {
		rec := validRecord()
		rec.Price = -5
		_, reason := v.Validate(rec)
		assert.Contains(t, reason, "price")
	})

	t.Run("rejects short name", func(t *testing.T) {
		rec := validRecord()
		rec.Name = "ok"
		_, reason := v.Validate(rec)
		assert.Contains(t, reason, "name")
	})

	t.Run("rejects name that trims to nothing", func(t *testing.T) {
		rec := validRecord()
		rec.Name = "   "
		_, reason := v.Validate(rec)
		assert.NotEmpty(t, reason)
	})

	t.Run("rejects unknown store", func(t *testing.T) {
		rec := validRecord()
		rec.ExternalStoreID = "atb-missing"
		_, reason := v.Validate(rec)
		assert.Contains(t, reason, "unknown store")
	})

	t.Run("rejects chain mismatch", func(t *testing.T) {
		rec := validRecord()
		rec.ChainName = "Silpo"
		_, reason := v.Validate(rec)
		assert.Contains(t, reason, "chain mismatch")
	})
}

func TestValidator_ValidateBatch(t *testing.T) {
	v := NewValidator(testStores())

	bad := validRecord()
	bad.Price = 0

	result := v.ValidateBatch([]models.RawRecord{validRecord(), bad, validRecord()})

	assert.Len(t, result.Accepted, 2)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, 0.0, result.Rejected[0].Record.Price)
	assert.NotEmpty(t, result.Rejected[0].Reason)
}

func TestValidator_StoreFor(t *testing.T) {
	v := NewValidator(testStores())

	s, ok := v.StoreFor(validRecord())
	require.True(t, ok)
	assert.Equal(t, int64(1), s.ID)

	_, ok = v.StoreFor(models.RawRecord{ExternalStoreID: "nope"})
	assert.False(t, ok)
}
