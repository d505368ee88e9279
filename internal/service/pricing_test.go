package service

import (
	"errors"
	"testing"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/queue"
)

func TestPricingQuote(t *testing.T) {
	pricing, err := NewPricing(config.OrderConfig{ShippingFee: "5", FreeShippingThreshold: "100"})
	if err != nil {
		t.Fatalf("new pricing failed: %v", err)
	}
	lines := func(price int64, qty int) []queue.PricedLine {
		return []queue.PricedLine{{ProductID: 1, Quantity: qty, UnitPrice: models.MoneyFromInt(price)}}
	}

	cases := []struct {
		name     string
		lines    []queue.PricedLine
		coupon   *models.Coupon
		points   int64
		shipping string
		discount string
		final    string
		wantErr  error
	}{
		{name: "shipping charged", lines: lines(30, 2), shipping: "5.00", discount: "0.00", final: "65.00"},
		{name: "free shipping at threshold", lines: lines(50, 2), shipping: "0.00", discount: "0.00", final: "100.00"},
		{
			name:     "fixed coupon",
			lines:    lines(30, 2),
			coupon:   &models.Coupon{Type: "fixed", Value: models.MoneyFromInt(10), PerUserLimit: 1},
			shipping: "5.00", discount: "10.00", final: "55.00",
		},
		{
			name:     "percent coupon capped by max discount",
			lines:    lines(30, 2),
			coupon:   &models.Coupon{Type: "percent", Value: models.MoneyFromInt(15), MaxDiscount: models.MoneyFromInt(5), PerUserLimit: 1},
			shipping: "5.00", discount: "5.00", final: "60.00",
		},
		{
			name:     "fixed coupon capped by subtotal",
			lines:    lines(30, 2),
			coupon:   &models.Coupon{Type: "fixed", Value: models.MoneyFromInt(100), PerUserLimit: 1},
			shipping: "5.00", discount: "60.00", final: "5.00",
		},
		{
			name:    "coupon below minimum amount",
			lines:   lines(30, 2),
			coupon:  &models.Coupon{Type: "fixed", Value: models.MoneyFromInt(10), MinOrderAmount: models.MoneyFromInt(100)},
			wantErr: ErrCouponMinAmount,
		},
		{name: "points cover payable", lines: lines(30, 2), points: 65, shipping: "5.00", discount: "0.00", final: "0.00"},
		{name: "points exceed payable", lines: lines(30, 2), points: 66, wantErr: ErrPointExceedsPayable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := pricing.Quote(tc.lines, tc.coupon, models.MoneyFromInt(tc.points))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("quote failed: %v", err)
			}
			if got.ShippingFee.String() != tc.shipping {
				t.Errorf("shipping want %s got %s", tc.shipping, got.ShippingFee.String())
			}
			if got.DiscountAmount.String() != tc.discount {
				t.Errorf("discount want %s got %s", tc.discount, got.DiscountAmount.String())
			}
			if got.FinalAmount.String() != tc.final {
				t.Errorf("final want %s got %s", tc.final, got.FinalAmount.String())
			}
		})
	}
}

func TestPricingRejectsNegativePoints(t *testing.T) {
	pricing, err := NewPricing(config.OrderConfig{ShippingFee: "0"})
	if err != nil {
		t.Fatalf("new pricing failed: %v", err)
	}
	_, err = pricing.Quote([]queue.PricedLine{{ProductID: 1, Quantity: 1, UnitPrice: models.MoneyFromInt(10)}}, nil, models.MoneyFromInt(-1))
	if !errors.Is(err, ErrInvalidPoint) || !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid point argument error, got %v", err)
	}
}

func TestNewPricingRejectsMalformedFee(t *testing.T) {
	if _, err := NewPricing(config.OrderConfig{ShippingFee: "abc"}); err == nil {
		t.Fatalf("expected parse error for malformed shipping fee")
	}
}
