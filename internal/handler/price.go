package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/pricing"
)

// Pricer suggests a price for an item description.
type Pricer interface {
	Suggest(ctx context.Context, req pricing.Request) pricing.Result
}

// PriceHandler runs the pricing engine outside of a job.
type PriceHandler struct {
	pricer Pricer
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(p Pricer) *PriceHandler {
	return &PriceHandler{pricer: p}
}

type priceRequest struct {
	Title           string  `json:"title" validate:"required,max=200"`
	Condition       string  `json:"condition"`
	AcquisitionCost float64 `json:"acquisition_cost" validate:"gte=0"`
	Hint            string  `json:"hint"`
}

// Suggest returns the recommendation. A result with no price is still a 200.
func (h *PriceHandler) Suggest(c echo.Context) error {
	var req priceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res := h.pricer.Suggest(c.Request().Context(), pricing.Request{
		Title:           req.Title,
		Condition:       req.Condition,
		AcquisitionCost: req.AcquisitionCost,
		Hint:            req.Hint,
	})
	return JSON(c, http.StatusOK, res)
}
