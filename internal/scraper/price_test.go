package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
	}{
		{"hryvnia suffix with comma", "39,90 грн", 39.90},
		{"thousands with space", "1 234,56", 1234.56},
		{"currency symbol with dot", "42.00 ₴", 42.00},
		{"bare integer", "1234", 1234.00},
		{"uppercase currency code", "89,99 UAH", 89.99},
		{"leading whitespace", "  12,50", 12.50},
		{"non-breaking space separator", "1 099,00 грн", 1099.00},
		{"dot thousands with comma decimal", "1.234,56", 1234.56},
		{"comma thousands with dot decimal", "1,234.56", 1234.56},
		{"rounds to two decimals", "10,999", 11.00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanPrice(tt.input)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 0.001)
		})
	}
}

func TestCleanPrice_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"no digits", "грн"},
		{"text only", "ціну уточнюйте"},
		{"zero", "0"},
		{"zero with currency", "0,00 грн"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CleanPrice(tt.input)
			assert.ErrorIs(t, err, ErrMalformedPrice)
		})
	}
}

func TestCleanImageURL(t *testing.T) {
	t.Run("first usable candidate wins", func(t *testing.T) {
		got := CleanImageURL("", "https://cdn.example.com/p/1.jpg", "https://cdn.example.com/p/2.jpg")
		assert.Equal(t, "https://cdn.example.com/p/1.jpg", got)
	})

	t.Run("protocol relative url gets https", func(t *testing.T) {
		got := CleanImageURL("//cdn.example.com/p/1.jpg")
		assert.Equal(t, "https://cdn.example.com/p/1.jpg", got)
	})

	t.Run("data uri falls through to placeholder", func(t *testing.T) {
		got := CleanImageURL("data:image/gif;base64,R0lGOD")
		assert.Equal(t, placeholderImage, got)
	})

	t.Run("placeholder markers are skipped", func(t *testing.T) {
		got := CleanImageURL("https://cdn.example.com/placeholder.png", "https://cdn.example.com/no-photo.png")
		assert.Equal(t, placeholderImage, got)
	})

	t.Run("no candidates", func(t *testing.T) {
		assert.Equal(t, placeholderImage, CleanImageURL())
	})
}

func TestAbsoluteURL(t *testing.T) {
	assert.Equal(t, "https://example.com/product/1", AbsoluteURL("https://example.com", "/product/1"))
	assert.Equal(t, "https://example.com/product/1", AbsoluteURL("https://example.com/", "product/1"))
	assert.Equal(t, "https://other.com/p", AbsoluteURL("https://example.com", "https://other.com/p"))
	assert.Equal(t, "", AbsoluteURL("https://example.com", ""))
}
