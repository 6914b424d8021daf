package domain

import (
	"path/filepath"
	"strings"
)

// ImageExtensions are the file suffixes treated as product photos.
var ImageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".bmp":  {},
}

// IsImageFile reports whether name has a recognized image extension.
func IsImageFile(name string) bool {
	_, ok := ImageExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ItemSpecifics maps an aspect name (Brand, Model, ...) to its values.
type ItemSpecifics map[string][]string

// Analysis is the structured description returned by the image analysis service.
type Analysis struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	PriceHint   string        `json:"price_hint"`
	Condition   string        `json:"condition"`
	Specifics   ItemSpecifics `json:"item_specifics"`
	// Error is set when the service answered with an explicit failure payload.
	Error string `json:"error,omitempty"`
}

// Comparable is one market price data point.
type Comparable struct {
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency,omitempty"`
	Condition string  `json:"condition,omitempty"`
	EndDate   string  `json:"end_date,omitempty"`
	URL       string  `json:"url,omitempty"`
}

// DescriptionInput carries everything the description template needs.
type DescriptionInput struct {
	Title       string
	Description string
	Images      []string
	Specifics   ItemSpecifics
	Condition   string
}

// CatalogItem is the inventory record registered under a SKU.
type CatalogItem struct {
	Title       string
	Description string
	Specifics   ItemSpecifics
	ImageURLs   []string
	Condition   string
	Quantity    int
}

// ListingPolicies are the seller policy identifiers attached to an offer.
type ListingPolicies struct {
	FulfillmentPolicyID string
	PaymentPolicyID     string
	ReturnPolicyID      string
}

// Offer is a sellable offer referencing a catalog SKU.
type Offer struct {
	SKU                 string
	MarketplaceID       string
	Format              string
	Quantity            int
	CategoryID          string
	Description         string
	Price               string
	Currency            string
	MerchantLocationKey string
	Policies            ListingPolicies
}
