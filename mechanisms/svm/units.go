package svm

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ParseAmount converts a decimal string into atomic units.
func ParseAmount(amount string, decimals int) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") {
		return 0, fmt.Errorf("invalid amount: %q", amount)
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > decimals {
		return 0, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	value, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount: %q", amount)
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows uint64", amount)
	}
	return value.Uint64(), nil
}

// FormatAmount converts atomic units into a decimal string without trailing zeros.
func FormatAmount(amount uint64, decimals int) string {
	s := strconv.FormatUint(amount, 10)
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// ToAtomic converts a USD amount into USDC atomic units, e.g. 0.03 to "30000".
func ToAtomic(usd float64) string {
	if usd <= 0 {
		return "0"
	}
	return strconv.FormatUint(uint64(math.Round(usd*math.Pow10(USDCDecimals))), 10)
}

// FromAtomic converts USDC atomic units into USD, e.g. "30000" to 0.03.
func FromAtomic(atomic string) (float64, error) {
	value, err := strconv.ParseUint(atomic, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid atomic amount %q: %w", atomic, err)
	}
	return float64(value) / math.Pow10(USDCDecimals), nil
}

// FormatUSDC renders atomic units for display, e.g. "30000" as "$0.03".
func FormatUSDC(atomic string) string {
	usd, err := FromAtomic(atomic)
	if err != nil {
		return "$?"
	}
	return fmt.Sprintf("$%.2f", usd)
}

// IsValidAtomic reports whether s is a non-negative integer amount.
func IsValidAtomic(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

// AddAtomic returns a+b.
func AddAtomic(a, b string) (string, error) {
	x, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid atomic amount %q: %w", a, err)
	}
	y, err := strconv.ParseUint(b, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid atomic amount %q: %w", b, err)
	}
	if x > math.MaxUint64-y {
		return "", fmt.Errorf("atomic sum overflows: %s + %s", a, b)
	}
	return strconv.FormatUint(x+y, 10), nil
}

// CompareAtomic returns -1, 0 or 1. Invalid amounts are an error.
func CompareAtomic(a, b string) (int, error) {
	x, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid atomic amount %q: %w", a, err)
	}
	y, err := strconv.ParseUint(b, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid atomic amount %q: %w", b, err)
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	default:
		return 0, nil
	}
}
