package domain

// PercentageScale is the denominator of percentage discount values (10 means 10%)
const PercentageScale = 100

// CalculateDiscount computes the discount a promotion gives on total.
// The result is capped at total and never negative.
func CalculateDiscount(discountType DiscountType, value, total int64) int64 {
	if total <= 0 || value <= 0 {
		return 0
	}

	var discount int64
	switch discountType {
	case DiscountTypePercentage:
		discount = total * value / PercentageScale
	case DiscountTypeFixedAmount:
		discount = value
	}
	return CapDiscount(discount, total)
}

// RankDiscount computes a user-rank discount given as a whole percentage
func RankDiscount(percent int64, total int64) int64 {
	return CalculateDiscount(DiscountTypePercentage, percent, total)
}

// CapDiscount clamps discount into [0, total]
func CapDiscount(discount, total int64) int64 {
	if discount < 0 {
		return 0
	}
	if discount > total {
		return total
	}
	return discount
}

// FinalPrice is max(0, total - discount)
func FinalPrice(total, discount int64) int64 {
	if p := total - discount; p > 0 {
		return p
	}
	return 0
}
