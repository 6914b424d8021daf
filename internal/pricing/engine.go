// Package pricing turns a title, condition and acquisition cost into a sale price.
//
// Candidate prices come from a fallback chain (market comparables, a
// search-grounded AI estimate, then the caller's own hint). The candidate is
// smart-rounded and, when an acquisition cost is known, raised to protect a
// minimum profit after marketplace fees.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

// ComparableSource searches sold or active listings for market prices.
type ComparableSource interface {
	SearchComparables(ctx context.Context, query string, limit int) ([]domain.Comparable, error)
}

// Estimator asks a search-grounded model for a single price estimate.
type Estimator interface {
	EstimateWithSearch(ctx context.Context, title, condition string) (float64, error)
}

// Source identifies which fallback tier produced the price.
type Source string

const (
	SourceMarketData Source = "market_data"
	SourceAIGrounded Source = "ai_grounded_research"
	SourceAIEstimate Source = "ai_estimate"
	SourceNone       Source = "none"
)

const (
	maxReportedComps  = 5
	searchQueryWords  = 8
	researchLinkWords = 6
)

// Options configures the engine.
type Options struct {
	Multipliers       map[string]float64
	DefaultMultiplier float64
	FeeRate           float64
	FixedFee          float64
	MinMargin         float64
	RoundingThreshold float64
	ComparableLimit   int
}

// DefaultMultipliers is the condition table applied to the comparable median.
func DefaultMultipliers() map[string]float64 {
	return map[string]float64{
		"New":                      1.0,
		"New - Open Box":           0.90,
		"New Old Stock":            0.90,
		"Used - Like New":          0.85,
		"Like New":                 0.85,
		"Used - Good":              0.75,
		"Good":                     0.75,
		"Used - Acceptable":        0.60,
		"Acceptable":               0.60,
		"For Parts":                0.40,
		"For Parts or Not Working": 0.40,
	}
}

// DefaultOptions returns the fee model and thresholds used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Multipliers:       DefaultMultipliers(),
		DefaultMultiplier: 0.75,
		FeeRate:           0.1325,
		FixedFee:          0.30,
		MinMargin:         10.0,
		RoundingThreshold: 10.0,
		ComparableLimit:   15,
	}
}

// Request is the input to Suggest.
type Request struct {
	Title           string
	Condition       string
	AcquisitionCost float64
	// Hint is the price suggested by image analysis, used as the last fallback.
	Hint string
}

// Result is a price recommendation with the reasoning behind it.
type Result struct {
	Price           float64             `json:"price"`
	Source          Source              `json:"source"`
	Reasoning       string              `json:"reasoning"`
	Comparables     []domain.Comparable `json:"comparables,omitempty"`
	CompCount       int                 `json:"comp_count"`
	Median          float64             `json:"median,omitempty"`
	Multiplier      float64             `json:"multiplier,omitempty"`
	ProjectedProfit *float64            `json:"projected_profit,omitempty"`
	Boosted         bool                `json:"boosted"`
	ResearchLink    string              `json:"research_link"`
}

// Found reports whether any tier produced a price.
func (r Result) Found() bool {
	return r.Price > 0
}

// PriceString formats the price with two decimals.
func (r Result) PriceString() string {
	return strconv.FormatFloat(r.Price, 'f', 2, 64)
}

// Engine runs the fallback chain. Either source may be nil, which skips its tier.
type Engine struct {
	comps     ComparableSource
	estimator Estimator
	opts      Options
	mult      map[string]float64
	logger    *slog.Logger
}

// New creates an Engine.
func New(comps ComparableSource, estimator Estimator, opts Options, logger *slog.Logger) *Engine {
	if opts.Multipliers == nil {
		opts.Multipliers = DefaultMultipliers()
	}
	if opts.DefaultMultiplier <= 0 {
		opts.DefaultMultiplier = 0.75
	}
	if opts.ComparableLimit <= 0 {
		opts.ComparableLimit = 15
	}
	if logger == nil {
		logger = slog.Default()
	}

	mult := make(map[string]float64, len(opts.Multipliers))
	for name, m := range opts.Multipliers {
		mult[conditionKey(name)] = m
	}

	return &Engine{
		comps:     comps,
		estimator: estimator,
		opts:      opts,
		mult:      mult,
		logger:    logger.With("component", "pricing"),
	}
}

// Multiplier returns the condition multiplier, falling back to the default.
func (e *Engine) Multiplier(condition string) float64 {
	if m, ok := e.mult[conditionKey(condition)]; ok {
		return m
	}
	return e.opts.DefaultMultiplier
}

// Suggest walks the fallback tiers. A result with Found() == false means no tier produced a price.
func (e *Engine) Suggest(ctx context.Context, req Request) Result {
	res := Result{ResearchLink: ResearchLink(req.Title)}

	if !e.fromComparables(ctx, req, &res) &&
		!e.fromEstimator(ctx, req, &res) &&
		!e.fromHint(req, &res) {
		res.Source = SourceNone
		res.Reasoning = "No comparable sales found and AI research failed"
		e.logger.Warn("no pricing data available", "title", req.Title)
		return res
	}

	res.Price = SmartRound(res.Price, e.opts.RoundingThreshold)
	e.protectMargin(req.AcquisitionCost, &res)
	return res
}

func (e *Engine) fromComparables(ctx context.Context, req Request, res *Result) bool {
	if e.comps == nil {
		return false
	}

	query := firstWords(req.Title, searchQueryWords)
	comps, err := e.comps.SearchComparables(ctx, query, e.opts.ComparableLimit)
	if err != nil {
		e.logger.Warn("comparable search failed", "query", query, "error", err)
		return false
	}

	valid := make([]domain.Comparable, 0, len(comps))
	prices := make([]float64, 0, len(comps))
	for _, c := range comps {
		if c.Price > 0 {
			valid = append(valid, c)
			prices = append(prices, c.Price)
		}
	}
	if len(prices) == 0 {
		return false
	}

	median := Median(prices)
	multiplier := e.Multiplier(req.Condition)

	res.Price = roundCents(median * multiplier)
	res.Source = SourceMarketData
	res.CompCount = len(prices)
	res.Median = roundCents(median)
	res.Multiplier = multiplier
	res.Comparables = valid[:min(len(valid), maxReportedComps)]
	res.Reasoning = fmt.Sprintf("Median of %d sales ($%.2f) × %.0f%% condition adjustment",
		len(prices), median, multiplier*100)

	e.logger.Info("market price found", "comps", len(prices), "median", median, "multiplier", multiplier)
	return true
}

func (e *Engine) fromEstimator(ctx context.Context, req Request, res *Result) bool {
	if e.estimator == nil {
		return false
	}

	price, err := e.estimator.EstimateWithSearch(ctx, req.Title, req.Condition)
	if err != nil {
		e.logger.Warn("grounded estimate failed", "title", req.Title, "error", err)
		return false
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return false
	}

	res.Price = roundCents(price)
	res.Source = SourceAIGrounded
	res.Reasoning = "Researched via search-grounded AI estimate"
	return true
}

func (e *Engine) fromHint(req Request, res *Result) bool {
	price, ok := ParsePrice(req.Hint)
	if !ok {
		return false
	}

	res.Price = roundCents(price)
	res.Source = SourceAIEstimate
	res.Reasoning = "Based on AI image analysis (no market data found)"
	return true
}

// protectMargin raises the price to the exact break-even of the minimum margin when needed.
func (e *Engine) protectMargin(cost float64, res *Result) {
	if cost <= 0 {
		return
	}

	profit := e.ProjectedProfit(res.Price, cost)
	if profit < e.opts.MinMargin {
		target := ceilCents((cost + e.opts.MinMargin + e.opts.FixedFee) / (1 - e.opts.FeeRate))
		res.Reasoning += fmt.Sprintf(" | Boosted from $%.2f to $%.2f for margin protection (min profit $%.2f)",
			res.Price, target, e.opts.MinMargin)
		res.Price = target
		res.Boosted = true
		profit = e.ProjectedProfit(target, cost)
	}

	p := roundCents(profit)
	res.ProjectedProfit = &p
}

// ProjectedProfit is price after fees minus acquisition cost.
func (e *Engine) ProjectedProfit(price, cost float64) float64 {
	return price*(1-e.opts.FeeRate) - e.opts.FixedFee - cost
}

// Median returns the median of prices; it does not modify the input.
func Median(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// SmartRound turns prices above threshold into whole-dollar-minus-a-cent values (45.00 -> 44.99).
func SmartRound(price, threshold float64) float64 {
	if price <= threshold {
		return roundCents(price)
	}
	return roundCents(math.Floor(price+1e-9) - 0.01)
}

// ResearchLink builds a sold-listings search URL a human can use to audit the price.
func ResearchLink(title string) string {
	q := url.Values{}
	q.Set("_nkw", firstWords(title, researchLinkWords))
	q.Set("LH_Complete", "1")
	q.Set("LH_Sold", "1")
	return "https://www.ebay.com/sch/i.html?" + q.Encode()
}

var priceNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ParsePrice extracts the first positive number from free text such as "$1,299.00".
func ParsePrice(s string) (float64, bool) {
	cleaned := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	m := priceNumber.FindString(cleaned)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func conditionKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func ceilCents(v float64) float64 {
	return math.Ceil(v*100-1e-6) / 100
}
