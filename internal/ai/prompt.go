package ai

import (
	"fmt"
	"strings"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

const analysisPrompt = `Analyze these product photos for a marketplace listing.

You know broadcast and video equipment, server hardware, industrial printing,
networking and test equipment, and New Old Stock (factory sealed but old) items.

Rules:
1. Read all visible text: part numbers, model numbers, FCC IDs, labels.
2. For industrial equipment the exact part number matters more than a generic name.
3. If the item looks factory sealed or unused, use the condition "New Old Stock".
4. Do not invent specs or accessories that are not visible.

Return one JSON object:
{
  "identification": {"brand": "", "model": "", "mpn": "", "product_type": "", "compatible_systems": []},
  "condition": {"state": "New|New - Open Box|New Old Stock|Used - Like New|Used - Good|Used - Acceptable|For Parts or Not Working", "notes": ""},
  "specifications": {"color": "", "other_specs": {"key": "value"}},
  "origin": {"country_of_manufacture": ""},
  "listing": {"suggested_title": "at most 80 characters: Brand Model PartNumber Keywords", "description": "plain text summary", "suggested_price": "XX.XX"}
}
If the photos show no sellable item, return {"error": "reason"}.`

const estimatePrompt = `You are a pricing specialist. Search for current and sold marketplace
prices and estimate a fair selling price.

ITEM: %s
CONDITION: %s

Respond with JSON only:
{"estimate": {"low": 0.00, "mid": 0.00, "high": 0.00, "currency": "USD"}, "confidence": "low|medium|high", "reasoning": ""}`

type analysisPayload struct {
	Error          string `json:"error"`
	Identification struct {
		Brand             string   `json:"brand"`
		Model             string   `json:"model"`
		MPN               string   `json:"mpn"`
		ProductType       string   `json:"product_type"`
		CompatibleSystems []string `json:"compatible_systems"`
	} `json:"identification"`
	Condition struct {
		State string `json:"state"`
		Notes string `json:"notes"`
	} `json:"condition"`
	Specifications struct {
		Color      string            `json:"color"`
		OtherSpecs map[string]string `json:"other_specs"`
	} `json:"specifications"`
	Origin struct {
		Country string `json:"country_of_manufacture"`
	} `json:"origin"`
	Listing struct {
		Title       string `json:"suggested_title"`
		Description string `json:"description"`
		Price       any    `json:"suggested_price"`
	} `json:"listing"`
}

func (p analysisPayload) toAnalysis() *domain.Analysis {
	a := &domain.Analysis{
		Title:       strings.TrimSpace(p.Listing.Title),
		Description: strings.TrimSpace(p.Listing.Description),
		Condition:   strings.TrimSpace(p.Condition.State),
		Error:       p.Error,
		Specifics:   domain.ItemSpecifics{},
	}

	switch v := p.Listing.Price.(type) {
	case string:
		a.PriceHint = strings.TrimSpace(v)
	case float64:
		a.PriceHint = fmt.Sprintf("%.2f", v)
	}

	add := func(name, value string) {
		value = strings.TrimSpace(value)
		if value == "" || strings.EqualFold(value, "null") {
			return
		}
		a.Specifics[name] = append(a.Specifics[name], value)
	}
	add("Brand", p.Identification.Brand)
	add("Model", p.Identification.Model)
	add("MPN", p.Identification.MPN)
	add("Type", p.Identification.ProductType)
	add("Color", p.Specifications.Color)
	add("Country of Manufacture", p.Origin.Country)
	for _, s := range p.Identification.CompatibleSystems {
		add("Compatible Model", s)
	}
	for k, v := range p.Specifications.OtherSpecs {
		if k == "key" {
			continue
		}
		add(k, v)
	}

	if a.Title == "" && a.Error == "" {
		id := p.Identification
		a.Title = strings.Join(strings.Fields(id.Brand+" "+id.Model+" "+id.MPN), " ")
	}
	return a
}
