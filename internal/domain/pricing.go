package domain

import (
	"errors"
	"math"
)

var (
	// ErrInvalidDimensions is returned when meter-priced products lack a positive area.
	ErrInvalidDimensions = errors.New("pricing: width and height must be positive")
	// ErrFixedPriceRequired is returned when fixed-priced products omit the price.
	ErrFixedPriceRequired = errors.New("pricing: fixed price is required")
)

const squareMillimetresPerSquareMetre = 1_000_000

// AreaCost prices a width x height (millimetres) piece at pricePerM2 centavos.
func AreaCost(widthMM, heightMM float64, pricePerM2 int64) (int64, error) {
	if widthMM <= 0 || heightMM <= 0 {
		return 0, ErrInvalidDimensions
	}
	area := widthMM * heightMM / squareMillimetresPerSquareMetre
	return int64(math.Round(area * float64(pricePerM2))), nil
}

// ProductPricing is the derived cost and final price of a product.
type ProductPricing struct {
	CalculatedCost int64
	FinalPrice     int64
}

// PriceProduct derives the product's final price from its price type.
func PriceProduct(priceType PriceType, widthMM, heightMM float64, material Material, fixed *int64) (ProductPricing, error) {
	var pricing ProductPricing
	if widthMM > 0 && heightMM > 0 && material.PricePerM2 > 0 {
		cost, err := AreaCost(widthMM, heightMM, material.PricePerM2)
		if err != nil {
			return ProductPricing{}, err
		}
		pricing.CalculatedCost = cost
	}
	switch priceType {
	case PriceTypeFixed:
		if fixed == nil || *fixed <= 0 {
			return ProductPricing{}, ErrFixedPriceRequired
		}
		pricing.FinalPrice = *fixed
	default:
		if pricing.CalculatedCost <= 0 {
			return ProductPricing{}, ErrInvalidDimensions
		}
		pricing.FinalPrice = pricing.CalculatedCost
	}
	return pricing, nil
}
