package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Matches one digit group with optional decimal part, after whitespace
// and currency markers have been stripped.
var priceRe = regexp.MustCompile(`(\d[\d]*(?:[.,]\d+)?)`)

var currencyMarkers = strings.NewReplacer(
	"₴", "",
	"грн", "",
	"ГРН", "",
	"uah", "",
	"UAH", "",
	" ", "",
	" ", "",
	" ", "",
	"\t", "",
)

// CleanPrice normalizes a locale-formatted price string to a positive
// value rounded to two decimals.
//
//	"39,90 грн"  -> 39.90
//	"1 234,56"   -> 1234.56
//	"42.00 ₴"    -> 42.00
//	"1234"       -> 1234.00
//
// Returns ErrMalformedPrice for empty, unparsable or non-positive input.
func CleanPrice(raw string) (float64, error) {
	text := currencyMarkers.Replace(strings.TrimSpace(raw))
	if text == "" {
		return 0, ErrMalformedPrice
	}

	// With both separators present the last one is the decimal mark and
	// the other groups thousands ("1.234,56" and "1,234.56").
	if strings.Contains(text, ".") && strings.Contains(text, ",") {
		if strings.LastIndex(text, ",") > strings.LastIndex(text, ".") {
			text = strings.ReplaceAll(text, ".", "")
		} else {
			text = strings.ReplaceAll(text, ",", "")
		}
	}

	match := priceRe.FindStringSubmatch(text)
	if match == nil {
		return 0, ErrMalformedPrice
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil {
		return 0, ErrMalformedPrice
	}

	value = math.Round(value*100) / 100
	if value <= 0 {
		return 0, ErrMalformedPrice
	}

	return value, nil
}

const placeholderImage = "https://placehold.co/400x400/1a1a2e/4ecca3?text=No+Image"

// CleanImageURL resolves lazy-load attributes and protocol-relative URLs,
// falling back to a placeholder for data URIs and broken values.
func CleanImageURL(candidates ...string) string {
	for _, url := range candidates {
		url = strings.TrimSpace(url)
		if url == "" || strings.HasPrefix(url, "data:") ||
			strings.Contains(url, "placeholder") || strings.Contains(url, "no-photo") {
			continue
		}
		if strings.HasPrefix(url, "//") {
			return "https:" + url
		}
		if strings.HasPrefix(url, "http") {
			return url
		}
	}
	return placeholderImage
}

// AbsoluteURL prefixes relative hrefs with the chain's base URL.
func AbsoluteURL(base, href string) string {
	if href == "" || strings.HasPrefix(href, "http") {
		return href
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(href, "/")
}
