package service

import (
	"fmt"
	"strings"

	"github.com/dujiao-next/flashsale/internal/config"
	"github.com/dujiao-next/flashsale/internal/constants"
	"github.com/dujiao-next/flashsale/internal/models"
	"github.com/dujiao-next/flashsale/internal/queue"

	"github.com/shopspring/decimal"
)

// Pricing 订单金额计算
type Pricing struct {
	shippingFee           models.Money
	freeShippingThreshold models.Money
}

// NewPricing 根据订单配置创建金额计算器
func NewPricing(cfg config.OrderConfig) (*Pricing, error) {
	fee, err := models.ParseMoney(strings.TrimSpace(cfg.ShippingFee))
	if err != nil {
		return nil, fmt.Errorf("parse shipping fee: %w", err)
	}
	threshold, err := models.ParseMoney(strings.TrimSpace(cfg.FreeShippingThreshold))
	if err != nil {
		return nil, fmt.Errorf("parse free shipping threshold: %w", err)
	}
	return &Pricing{shippingFee: fee, freeShippingThreshold: threshold}, nil
}

// Quote 计算订单金额
// finalAmount = total + shipping - discount - points，points 不得超过应付金额。
func (p *Pricing) Quote(lines []queue.PricedLine, coupon *models.Coupon, pointAmount models.Money) (queue.ValidatedOrder, error) {
	result := queue.ValidatedOrder{Lines: lines}
	total := models.Money{}
	for _, line := range lines {
		total = total.Add(line.UnitPrice.MulInt(line.Quantity))
	}
	result.TotalAmount = total
	result.ShippingFee = p.shippingFeeFor(total)

	if coupon != nil {
		discount, err := calculateDiscount(coupon, total)
		if err != nil {
			return queue.ValidatedOrder{}, err
		}
		result.DiscountAmount = discount
		result.CouponLimit = coupon.PerUserLimit
	}

	if pointAmount.Decimal.LessThan(decimal.Zero) {
		return queue.ValidatedOrder{}, ErrInvalidPoint
	}
	payable := total.Add(result.ShippingFee).Sub(result.DiscountAmount)
	if pointAmount.Decimal.GreaterThan(payable.Decimal) {
		return queue.ValidatedOrder{}, ErrPointExceedsPayable
	}
	result.PointAmount = pointAmount
	result.FinalAmount = models.NewMoney(normalizeOrderAmount(payable.Sub(pointAmount).Decimal))
	return result, nil
}

func (p *Pricing) shippingFeeFor(total models.Money) models.Money {
	if p.freeShippingThreshold.Decimal.GreaterThan(decimal.Zero) && total.Decimal.GreaterThanOrEqual(p.freeShippingThreshold.Decimal) {
		return models.Money{}
	}
	return p.shippingFee
}

func calculateDiscount(coupon *models.Coupon, subtotal models.Money) (models.Money, error) {
	if subtotal.Decimal.LessThan(coupon.MinOrderAmount.Decimal) {
		return models.Money{}, ErrCouponMinAmount
	}
	var discount decimal.Decimal
	switch strings.ToLower(strings.TrimSpace(coupon.Type)) {
	case constants.CouponTypeFixed:
		discount = coupon.Value.Decimal
	case constants.CouponTypePercent:
		discount = subtotal.Decimal.Mul(coupon.Value.Decimal).Div(decimal.NewFromInt(100))
	default:
		return models.Money{}, ErrCouponInvalid
	}
	if coupon.MaxDiscount.Decimal.GreaterThan(decimal.Zero) && discount.GreaterThan(coupon.MaxDiscount.Decimal) {
		discount = coupon.MaxDiscount.Decimal
	}
	if discount.GreaterThan(subtotal.Decimal) {
		discount = subtotal.Decimal
	}
	return models.NewMoney(normalizeOrderAmount(discount)), nil
}

// normalizeOrderAmount 归一化金额精度与下限
func normalizeOrderAmount(amount decimal.Decimal) decimal.Decimal {
	normalized := amount.Round(2)
	if normalized.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return normalized
}
