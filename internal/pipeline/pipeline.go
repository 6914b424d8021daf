// Package pipeline runs one job folder through the ordered listing stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/pricing"
)

// Stage names double as keys in the timing map.
const (
	StageDiscover    = "discover"
	StageAnalysis    = "ai_analysis"
	StageTaxonomy    = "taxonomy"
	StagePricing     = "pricing"
	StageUpload      = "image_upload"
	StageTemplating  = "templating"
	StageCatalogItem = "catalog_item"
	StageOffer       = "offer"
	StagePublish     = "publish"
	StageTotal       = "total"
)

// Listing status reported on success.
const (
	StatusError         = "error"
	StatusDraft         = "draft"
	StatusActive        = "active"
	StatusPublishFailed = "draft (publish_failed)"
)

const (
	defaultCondition = "Used - Good"
	maxTitleRunes    = 80
)

// Analyzer extracts listing data from product photos.
type Analyzer interface {
	Analyze(ctx context.Context, images []string) (*domain.Analysis, error)
}

// CategoryResolver maps a title to a catalog category id. An empty id means no suggestion.
type CategoryResolver interface {
	SuggestCategory(ctx context.Context, title string) (string, error)
}

// Pricer produces a price recommendation.
type Pricer interface {
	Suggest(ctx context.Context, req pricing.Request) pricing.Result
}

// MediaUploader hosts the folder's images and returns their public URLs.
type MediaUploader interface {
	UploadImages(ctx context.Context, folder string, max int) ([]string, error)
}

// DescriptionRenderer renders the final listing description.
type DescriptionRenderer interface {
	RenderDescription(ctx context.Context, in domain.DescriptionInput) (string, error)
}

// Catalog registers items and offers with the marketplace.
type Catalog interface {
	CreateCatalogItem(ctx context.Context, sku string, item domain.CatalogItem) error
	CreateOffer(ctx context.Context, offer domain.Offer) (string, error)
	PublishOffer(ctx context.Context, offerID string) (string, error)
}

// Narrator receives incremental status lines for the job being processed.
type Narrator func(level slog.Level, msg string)

// Deps are the collaborators a pipeline calls.
type Deps struct {
	Analyzer   Analyzer
	Categories CategoryResolver
	Pricer     Pricer
	Media      MediaUploader
	Renderer   DescriptionRenderer
	Catalog    Catalog
}

// Options configures fallbacks and offer fields.
type Options struct {
	DefaultCategoryID   string
	PlaceholderImageURL string
	MaxImages           int
	AutoPublish         bool
	AcquisitionCost     float64
	MarketplaceID       string
	Currency            string
	MerchantLocationKey string
	Policies            domain.ListingPolicies
}

// Result is the outcome of one pipeline run.
type Result struct {
	Success      bool             `json:"success"`
	ListingID    string           `json:"listing_id,omitempty"`
	OfferID      string           `json:"offer_id,omitempty"`
	SKU          string           `json:"sku,omitempty"`
	Price        string           `json:"price,omitempty"`
	Status       string           `json:"status"`
	ErrorType    domain.ErrorKind `json:"error_type,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Timing       domain.Timing    `json:"timing"`
	Pricing      *pricing.Result  `json:"pricing,omitempty"`
}

// Pipeline executes the stages for one folder at a time.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	newSKU func() string
}

// New creates a Pipeline. Analyzer, Pricer and Catalog are required.
func New(deps Deps, opts Options, logger *slog.Logger) (*Pipeline, error) {
	if deps.Analyzer == nil || deps.Pricer == nil || deps.Catalog == nil {
		return nil, fmt.Errorf("%w: pipeline needs an analyzer, a pricer and a catalog", domain.ErrInvalidInput)
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = 12
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.MarketplaceID == "" {
		opts.MarketplaceID = "EBAY_US"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "pipeline"),
		newSKU: NewSKU,
	}, nil
}

// NewSKU generates a catalog SKU such as DC-1A2B3C4D.
func NewSKU() string {
	return "DC-" + strings.ToUpper(uuid.New().String()[:8])
}

// Run processes one folder. It never panics and never returns an error:
// every failure is folded into the Result.
func (p *Pipeline) Run(ctx context.Context, folder string, narrate Narrator) (res Result) {
	if narrate == nil {
		narrate = func(slog.Level, string) {}
	}
	res = Result{Status: StatusError, Timing: domain.Timing{}}
	start := time.Now()
	t := &stageTimer{timing: res.Timing}

	defer func() {
		if r := recover(); r != nil {
			t.closeOpen()
			p.logger.Error("pipeline panic", "folder", folder, "panic", r, "stack", string(debug.Stack()))
			res.Success = false
			res.Status = StatusError
			res.ErrorType = domain.ErrorKindPanic
			res.ErrorMessage = fmt.Sprint(r)
		}
	}()

	if err := p.run(ctx, folder, narrate, &res, t); err != nil {
		var se *domain.StageError
		if errors.As(err, &se) {
			res.ErrorType = se.Kind
		} else {
			res.ErrorType = domain.ErrorKindUnexpected
		}
		res.ErrorMessage = err.Error()
		res.Success = false
		res.Status = StatusError
		narrate(slog.LevelError, err.Error())
		return res
	}

	res.Timing[StageTotal] = time.Since(start).Seconds()
	return res
}

func (p *Pipeline) run(ctx context.Context, folder string, narrate Narrator, res *Result, t *stageTimer) error {
	done := t.start(StageDiscover)
	images, err := DiscoverImages(folder)
	done()
	if err != nil {
		return err
	}
	narrate(slog.LevelInfo, fmt.Sprintf("Found %d images", len(images)))

	narrate(slog.LevelInfo, "Analyzing images with AI...")
	done = t.start(StageAnalysis)
	analysis, err := p.analyze(ctx, images)
	done()
	if err != nil {
		return err
	}
	condition := analysis.Condition
	if strings.TrimSpace(condition) == "" {
		condition = defaultCondition
	}
	narrate(slog.LevelInfo, "Identified: "+analysis.Title)

	done = t.start(StageTaxonomy)
	categoryID := p.resolveCategory(ctx, analysis.Title, narrate)
	done()

	narrate(slog.LevelInfo, "Researching price...")
	done = t.start(StagePricing)
	price := p.deps.Pricer.Suggest(ctx, pricing.Request{
		Title:           analysis.Title,
		Condition:       condition,
		AcquisitionCost: p.opts.AcquisitionCost,
		Hint:            analysis.PriceHint,
	})
	done()
	if !price.Found() {
		return domain.NewStageError(StagePricing, domain.ErrorKindPricingFailed,
			fmt.Errorf("no valid price found: %s", price.Reasoning))
	}
	res.Pricing = &price
	narrate(slog.LevelInfo, fmt.Sprintf("Price $%s (%s)", price.PriceString(), price.Reasoning))

	done = t.start(StageUpload)
	imageURLs := p.upload(ctx, folder, narrate)
	done()

	done = t.start(StageTemplating)
	description := p.render(ctx, analysis, imageURLs, condition, narrate)
	done()

	sku := p.newSKU()
	narrate(slog.LevelInfo, "Creating inventory item "+sku)
	done = t.start(StageCatalogItem)
	err = p.deps.Catalog.CreateCatalogItem(ctx, sku, domain.CatalogItem{
		Title:       truncateRunes(analysis.Title, maxTitleRunes),
		Description: fmt.Sprintf("Product: %s - %s", analysis.Title, condition),
		Specifics:   analysis.Specifics,
		ImageURLs:   imageURLs,
		Condition:   condition,
		Quantity:    1,
	})
	done()
	if err != nil {
		return domain.NewStageError(StageCatalogItem, domain.ErrorKindAPI, fmt.Errorf("create inventory item: %w", err))
	}

	done = t.start(StageOffer)
	offerID, err := p.deps.Catalog.CreateOffer(ctx, domain.Offer{
		SKU:                 sku,
		MarketplaceID:       p.opts.MarketplaceID,
		Format:              "FIXED_PRICE",
		Quantity:            1,
		CategoryID:          categoryID,
		Description:         description,
		Price:               price.PriceString(),
		Currency:            p.opts.Currency,
		MerchantLocationKey: p.opts.MerchantLocationKey,
		Policies:            p.opts.Policies,
	})
	done()
	if err != nil {
		return domain.NewStageError(StageOffer, domain.ErrorKindAPI, fmt.Errorf("create offer: %w", err))
	}
	if offerID == "" {
		return domain.NewStageError(StageOffer, domain.ErrorKindNullResult, errors.New("create offer: empty offer id"))
	}

	res.SKU = sku
	res.OfferID = offerID
	res.Price = price.PriceString()
	res.Status = StatusDraft
	res.Success = true

	if p.opts.AutoPublish {
		done = t.start(StagePublish)
		listingID, err := p.deps.Catalog.PublishOffer(ctx, offerID)
		done()
		switch {
		case err != nil:
			p.logger.Warn("auto-publish failed", "offer_id", offerID, "error", err)
			narrate(slog.LevelWarn, "Publish failed, kept as draft: "+err.Error())
			res.Status = StatusPublishFailed
		default:
			res.ListingID = listingID
			res.Status = StatusActive
			narrate(slog.LevelInfo, "Published listing "+listingID)
		}
	}

	return nil
}

func (p *Pipeline) analyze(ctx context.Context, images []string) (*domain.Analysis, error) {
	analysis, err := p.deps.Analyzer.Analyze(ctx, images)
	if err != nil {
		return nil, domain.NewStageError(StageAnalysis, domain.ErrorKindAnalysisFailed,
			fmt.Errorf("strict mode: AI analysis failed: %w", err))
	}
	if analysis == nil {
		return nil, domain.NewStageError(StageAnalysis, domain.ErrorKindAnalysisFailed,
			errors.New("strict mode: AI analysis returned no data"))
	}
	if analysis.Error != "" {
		return nil, domain.NewStageError(StageAnalysis, domain.ErrorKindAnalysisFailed,
			fmt.Errorf("strict mode: AI analysis failed: %s", analysis.Error))
	}
	if strings.TrimSpace(analysis.Title) == "" {
		return nil, domain.NewStageError(StageAnalysis, domain.ErrorKindAnalysisFailed,
			errors.New("strict mode: AI analysis returned no title"))
	}
	return analysis, nil
}

func (p *Pipeline) resolveCategory(ctx context.Context, title string, narrate Narrator) string {
	if p.deps.Categories == nil {
		return p.opts.DefaultCategoryID
	}
	id, err := p.deps.Categories.SuggestCategory(ctx, title)
	if err != nil {
		p.logger.Warn("category lookup failed", "title", title, "error", err)
		narrate(slog.LevelWarn, "Category lookup failed, using default category")
		return p.opts.DefaultCategoryID
	}
	if id == "" {
		return p.opts.DefaultCategoryID
	}
	return id
}

func (p *Pipeline) upload(ctx context.Context, folder string, narrate Narrator) []string {
	placeholder := []string{p.opts.PlaceholderImageURL}
	if p.deps.Media == nil {
		return placeholder
	}

	narrate(slog.LevelInfo, "Uploading images...")
	urls, err := p.deps.Media.UploadImages(ctx, folder, p.opts.MaxImages)
	if err != nil {
		p.logger.Warn("image upload failed", "folder", folder, "error", err)
		narrate(slog.LevelWarn, "Image upload failed, using placeholder image")
		return placeholder
	}
	if len(urls) == 0 {
		return placeholder
	}
	return urls
}

func (p *Pipeline) render(ctx context.Context, a *domain.Analysis, images []string, condition string, narrate Narrator) string {
	fallback := FallbackDescription(a.Title, a.Description)
	if p.deps.Renderer == nil {
		return fallback
	}

	out, err := p.deps.Renderer.RenderDescription(ctx, domain.DescriptionInput{
		Title:       a.Title,
		Description: a.Description,
		Images:      images,
		Specifics:   a.Specifics,
		Condition:   condition,
	})
	if err != nil {
		p.logger.Warn("description rendering failed", "error", err)
		narrate(slog.LevelWarn, "Template rendering failed, using plain description")
		return fallback
	}
	return out
}

// DiscoverImages lists the image files of a folder sorted by name.
func DiscoverImages(folder string) ([]string, error) {
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return nil, domain.NewStageError(StageDiscover, domain.ErrorKindFolderNotFound,
			fmt.Errorf("folder not found: %s", folder))
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, domain.NewStageError(StageDiscover, domain.ErrorKindFolderNotFound,
			fmt.Errorf("read folder %s: %w", folder, err))
	}

	var images []string
	for _, e := range entries {
		if e.Type().IsRegular() && domain.IsImageFile(e.Name()) {
			images = append(images, filepath.Join(folder, e.Name()))
		}
	}
	if len(images) == 0 {
		return nil, domain.NewStageError(StageDiscover, domain.ErrorKindNoImages,
			errors.New("no images found in folder"))
	}
	return images, nil
}

// FallbackDescription wraps plain text when the template renderer is unavailable.
func FallbackDescription(title, description string) string {
	return "<h1>" + html.EscapeString(title) + "</h1><p>" + html.EscapeString(description) + "</p>"
}

// stageTimer records per-stage durations. The stage in progress is kept so a
// panic can still be charged to it.
type stageTimer struct {
	timing domain.Timing
	open   string
	began  time.Time
}

func (t *stageTimer) start(stage string) func() {
	t.open, t.began = stage, time.Now()
	return t.closeOpen
}

func (t *stageTimer) closeOpen() {
	if t.open == "" {
		return
	}
	t.timing[t.open] += time.Since(t.began).Seconds()
	t.open = ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
