package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-flow-scheduler/internal/catalog"
	"github.com/imrishuroy/go-flow-scheduler/internal/customers"
	"github.com/imrishuroy/go-flow-scheduler/internal/flows"
	"github.com/imrishuroy/go-flow-scheduler/internal/partner"
	"github.com/sirupsen/logrus"
)

// ErrNoValidProducts means none of a flow's items could be resolved.
var ErrNoValidProducts = errors.New("no valid products")

// ProductSource resolves product references.
type ProductSource interface {
	GetProduct(ctx context.Context, productID string) (*catalog.Product, error)
}

// AddressSource resolves a flow's delivery address.
type AddressSource interface {
	GetAddress(ctx context.Context, addressID string) (*customers.Address, error)
}

// PayloadOptions holds the fallbacks used when a flow lacks data.
type PayloadOptions struct {
	DefaultWindow  string
	DefaultAddress string
}

// PayloadBuilder turns a flow into the partner's order request.
type PayloadBuilder struct {
	products  ProductSource
	addresses AddressSource
	validate  *validatorv10.Validate
	opts      PayloadOptions
}

// NewPayloadBuilder returns a PayloadBuilder; empty options fall back to the
// default window and address placeholder.
func NewPayloadBuilder(products ProductSource, addresses AddressSource, v *validatorv10.Validate, opts PayloadOptions) *PayloadBuilder {
	if opts.DefaultWindow == "" {
		opts.DefaultWindow = "09:00-13:00"
	}
	if opts.DefaultAddress == "" {
		opts.DefaultAddress = "Address not specified"
	}
	if v == nil {
		v = validatorv10.New()
	}
	return &PayloadBuilder{products: products, addresses: addresses, validate: v, opts: opts}
}

// Build resolves every item of f against the catalog. Lines that cannot be
// resolved are skipped; if none remain ErrNoValidProducts is returned.
func (b *PayloadBuilder) Build(ctx context.Context, f flows.Flow) (partner.OrderRequest, error) {
	log := logrus.WithField("flow_id", f.FlowID)

	lines := make([]partner.LineItem, 0, len(f.Items))
	var total float64
	for _, it := range f.Items {
		ilog := log.WithField("product_id", it.ProductID)
		if it.Quantity <= 0 {
			ilog.WithField("quantity", it.Quantity).Warn("skipping item: non-positive quantity")
			continue
		}
		p, err := b.products.GetProduct(ctx, it.ProductID)
		if err != nil {
			ilog.WithError(err).Warn("skipping item: product lookup failed")
			continue
		}
		if p == nil {
			ilog.Warn("skipping item: product not found")
			continue
		}
		if !p.Available || p.Price <= 0 || strings.TrimSpace(p.Name) == "" {
			ilog.WithFields(logrus.Fields{
				"available": p.Available,
				"price":     p.Price,
				"name":      p.Name,
			}).Warn("skipping item: product not orderable")
			continue
		}
		lines = append(lines, partner.LineItem{
			ProductID: p.ProductID,
			Quantity:  it.Quantity,
			Name:      p.Name,
			Price:     p.Price,
		})
		total += float64(it.Quantity) * p.Price
	}
	if len(lines) == 0 {
		return partner.OrderRequest{}, ErrNoValidProducts
	}

	window := f.DeliveryWindow
	if window == "" {
		window = b.opts.DefaultWindow
	}

	req := partner.OrderRequest{
		UserID:          f.UserID,
		FlowID:          f.FlowID,
		LineItems:       lines,
		DeliveryAddress: b.resolveAddress(ctx, f),
		DeliveryTime:    window,
		Total:           math.Round(total*100) / 100,
	}
	if err := b.validate.Struct(req); err != nil {
		return partner.OrderRequest{}, fmt.Errorf("invalid order payload: %w", err)
	}
	return req, nil
}

func (b *PayloadBuilder) resolveAddress(ctx context.Context, f flows.Flow) string {
	if f.AddressID == "" || b.addresses == nil {
		return b.opts.DefaultAddress
	}
	addr, err := b.addresses.GetAddress(ctx, f.AddressID)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"flow_id":    f.FlowID,
			"address_id": f.AddressID,
		}).Warn("address lookup failed, using placeholder")
		return b.opts.DefaultAddress
	}
	if addr == nil {
		return b.opts.DefaultAddress
	}
	if s := addr.String(); s != "" {
		return s
	}
	return b.opts.DefaultAddress
}
