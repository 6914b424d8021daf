// Package marketplace is a REST client for the catalog, taxonomy, browse and
// media endpoints the listing pipeline calls.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

const (
	defaultBaseURL  = "https://api.ebay.com"
	defaultMediaURL = "https://apim.ebay.com"
	maxErrorBody    = 2048
)

// APIError is a non-success response from the marketplace.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// Unwrap maps auth and missing-resource responses to domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	MediaURL string
	// UserClient carries the seller's user token; AppClient an application
	// token for the public browse endpoint. AppClient defaults to UserClient.
	UserClient     *http.Client
	AppClient      *http.Client
	MarketplaceID  string
	CategoryTreeID string
	ContentLang    string
	RequestsPerSec float64
}

// Client talks to the marketplace REST API.
type Client struct {
	base    string
	media   string
	user    *http.Client
	app     *http.Client
	market  string
	treeID  string
	lang    string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Client. UserClient is required.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.UserClient == nil {
		return nil, fmt.Errorf("%w: marketplace client needs an authenticated http client", domain.ErrInvalidInput)
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid marketplace base url: %w", err)
	}
	media := strings.TrimRight(strings.TrimSpace(opts.MediaURL), "/")
	if media == "" {
		media = defaultMediaURL
	}
	app := opts.AppClient
	if app == nil {
		app = opts.UserClient
	}
	if opts.MarketplaceID == "" {
		opts.MarketplaceID = "EBAY_US"
	}
	if opts.CategoryTreeID == "" {
		opts.CategoryTreeID = "0"
	}
	if opts.ContentLang == "" {
		opts.ContentLang = "en-US"
	}
	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:    base,
		media:   media,
		user:    opts.UserClient,
		app:     app,
		market:  opts.MarketplaceID,
		treeID:  opts.CategoryTreeID,
		lang:    opts.ContentLang,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "marketplace"),
	}, nil
}

// SuggestCategory returns the top category suggestion for title, or "" when there is none.
func (c *Client) SuggestCategory(ctx context.Context, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		return "", nil
	}
	q := url.Values{"q": {title}}
	u := fmt.Sprintf("%s/commerce/taxonomy/v1/category_tree/%s/get_category_suggestions?%s",
		c.base, url.PathEscape(c.treeID), q.Encode())

	var out struct {
		CategorySuggestions []struct {
			Category struct {
				CategoryID   string `json:"categoryId"`
				CategoryName string `json:"categoryName"`
			} `json:"category"`
		} `json:"categorySuggestions"`
	}
	if err := c.doJSON(ctx, c.app, "suggest category", http.MethodGet, u, nil, &out, http.StatusOK); err != nil {
		return "", err
	}
	if len(out.CategorySuggestions) == 0 {
		return "", nil
	}
	cat := out.CategorySuggestions[0].Category
	c.logger.Debug("category suggested", "title", title, "category_id", cat.CategoryID, "name", cat.CategoryName)
	return cat.CategoryID, nil
}

// SearchComparables returns fixed-price listings matching query.
func (c *Client) SearchComparables(ctx context.Context, query string, limit int) ([]domain.Comparable, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	q := url.Values{
		"q":      {query},
		"limit":  {fmt.Sprint(limit)},
		"filter": {"buyingOptions:{FIXED_PRICE}"},
	}
	u := c.base + "/buy/browse/v1/item_summary/search?" + q.Encode()

	var out struct {
		ItemSummaries []struct {
			Title string `json:"title"`
			Price struct {
				Value    string `json:"value"`
				Currency string `json:"currency"`
			} `json:"price"`
			Condition   string `json:"condition"`
			ItemWebURL  string `json:"itemWebUrl"`
			ItemEndDate string `json:"itemEndDate"`
		} `json:"itemSummaries"`
	}
	if err := c.doJSON(ctx, c.app, "search comparables", http.MethodGet, u, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}

	comps := make([]domain.Comparable, 0, len(out.ItemSummaries))
	for _, s := range out.ItemSummaries {
		price, err := strconv.ParseFloat(s.Price.Value, 64)
		if err != nil || price <= 0 || price > 100000 {
			continue
		}
		comps = append(comps, domain.Comparable{
			Title:     s.Title,
			Price:     price,
			Currency:  s.Price.Currency,
			Condition: s.Condition,
			EndDate:   s.ItemEndDate,
			URL:       s.ItemWebURL,
		})
	}
	return comps, nil
}

type inventoryItem struct {
	Product      inventoryProduct `json:"product"`
	Condition    string           `json:"condition"`
	Availability struct {
		ShipToLocationAvailability struct {
			Quantity int `json:"quantity"`
		} `json:"shipToLocationAvailability"`
	} `json:"availability"`
}

type inventoryProduct struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Aspects     domain.ItemSpecifics `json:"aspects,omitempty"`
	ImageURLs   []string             `json:"imageUrls"`
}

// CreateCatalogItem creates or replaces the inventory item for sku.
func (c *Client) CreateCatalogItem(ctx context.Context, sku string, item domain.CatalogItem) error {
	body := inventoryItem{
		Product: inventoryProduct{
			Title:       item.Title,
			Description: item.Description,
			Aspects:     item.Specifics,
			ImageURLs:   item.ImageURLs,
		},
		Condition: ConditionEnum(item.Condition),
	}
	body.Availability.ShipToLocationAvailability.Quantity = max(item.Quantity, 1)

	u := c.base + "/sell/inventory/v1/inventory_item/" + url.PathEscape(sku)
	return c.doJSON(ctx, c.user, "create inventory item", http.MethodPut, u, body, nil,
		http.StatusOK, http.StatusCreated, http.StatusNoContent)
}

type offerRequest struct {
	SKU                 string `json:"sku"`
	MarketplaceID       string `json:"marketplaceId"`
	Format              string `json:"format"`
	AvailableQuantity   int    `json:"availableQuantity"`
	CategoryID          string `json:"categoryId"`
	ListingDescription  string `json:"listingDescription"`
	MerchantLocationKey string `json:"merchantLocationKey,omitempty"`
	ListingPolicies     struct {
		FulfillmentPolicyID string `json:"fulfillmentPolicyId,omitempty"`
		PaymentPolicyID     string `json:"paymentPolicyId,omitempty"`
		ReturnPolicyID      string `json:"returnPolicyId,omitempty"`
	} `json:"listingPolicies"`
	PricingSummary struct {
		Price struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"price"`
	} `json:"pricingSummary"`
}

// CreateOffer creates an unpublished offer and returns its id.
func (c *Client) CreateOffer(ctx context.Context, offer domain.Offer) (string, error) {
	req := offerRequest{
		SKU:                 offer.SKU,
		MarketplaceID:       offer.MarketplaceID,
		Format:              offer.Format,
		AvailableQuantity:   max(offer.Quantity, 1),
		CategoryID:          offer.CategoryID,
		ListingDescription:  offer.Description,
		MerchantLocationKey: offer.MerchantLocationKey,
	}
	if req.MarketplaceID == "" {
		req.MarketplaceID = c.market
	}
	req.ListingPolicies.FulfillmentPolicyID = offer.Policies.FulfillmentPolicyID
	req.ListingPolicies.PaymentPolicyID = offer.Policies.PaymentPolicyID
	req.ListingPolicies.ReturnPolicyID = offer.Policies.ReturnPolicyID
	req.PricingSummary.Price.Value = offer.Price
	req.PricingSummary.Price.Currency = offer.Currency

	var out struct {
		OfferID string `json:"offerId"`
	}
	err := c.doJSON(ctx, c.user, "create offer", http.MethodPost, c.base+"/sell/inventory/v1/offer", req, &out,
		http.StatusOK, http.StatusCreated)
	if err != nil {
		return "", err
	}
	return out.OfferID, nil
}

// PublishOffer publishes an offer and returns the listing id.
func (c *Client) PublishOffer(ctx context.Context, offerID string) (string, error) {
	var out struct {
		ListingID string `json:"listingId"`
	}
	u := c.base + "/sell/inventory/v1/offer/" + url.PathEscape(offerID) + "/publish"
	if err := c.doJSON(ctx, c.user, "publish offer", http.MethodPost, u, nil, &out, http.StatusOK); err != nil {
		return "", err
	}
	if out.ListingID == "" {
		return "", fmt.Errorf("publish offer %s: empty listing id", offerID)
	}
	return out.ListingID, nil
}

func (c *Client) doJSON(ctx context.Context, hc *http.Client, op, method, u string, in, out any, okStatus ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.market)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Language", c.lang)
	}

	resp, err := c.do(hc, req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if !statusIn(resp.StatusCode, okStatus) {
		return readAPIError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

// do waits for the rate limiter and logs the round trip.
func (c *Client) do(hc *http.Client, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		c.logger.Warn("marketplace request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return nil, err
	}
	c.logger.Debug("marketplace request", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "latency", time.Since(start))
	return resp, nil
}

func readAPIError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}

func statusIn(code int, ok []int) bool {
	for _, s := range ok {
		if code == s {
			return true
		}
	}
	return false
}

// ConditionEnum maps a human condition label to the inventory condition enum.
func ConditionEnum(condition string) string {
	if isEnum(condition) {
		return condition
	}
	key := strings.ToLower(condition)
	switch {
	case strings.Contains(key, "part"):
		return "FOR_PARTS_OR_NOT_WORKING"
	case strings.Contains(key, "open box"), strings.Contains(key, "old stock"), strings.Contains(key, "new other"):
		return "NEW_OTHER"
	case strings.Contains(key, "like new"):
		return "LIKE_NEW"
	case strings.Contains(key, "acceptable"):
		return "USED_ACCEPTABLE"
	case strings.Contains(key, "very good"):
		return "USED_VERY_GOOD"
	case strings.Contains(key, "excellent"):
		return "USED_EXCELLENT"
	case strings.Contains(key, "good"), strings.Contains(key, "used"):
		return "USED_GOOD"
	case strings.Contains(key, "new"):
		return "NEW"
	}
	return "USED_GOOD"
}

func isEnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r == '_') {
			return false
		}
	}
	return true
}
