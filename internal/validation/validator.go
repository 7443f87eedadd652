package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-flow-scheduler/internal/partner"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// the total recorded on the order must match the sum of (price * quantity)
	v.RegisterStructValidation(orderRequestStructValidation, partner.OrderRequest{})

	return v
}

// Cents rounds an amount to whole cents.
func Cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// orderRequestStructValidation verifies the aggregated total of line items equals Total (within cents)
func orderRequestStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(partner.OrderRequest)

	var sum float64
	for _, it := range req.LineItems {
		sum += float64(it.Quantity) * it.Price
	}

	if Cents(sum) != Cents(req.Total) {
		sl.ReportError(req.Total, "total", "Total", "total_match_items", fmt.Sprintf("items sum %.2f != total %.2f", sum, req.Total))
	}
}
