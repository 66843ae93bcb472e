package feed

import (
	"strconv"
	"strings"

	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// ParseScaled converts an exchange decimal string (e.g. "123.45") to an
// integer scaled by 10^scale, without going through float64. Extra
// fractional digits are truncated.
func ParseScaled(s string, scale schema.Scale) (int64, error) {
	if s == "" {
		return 0, nil
	}

	intPart, fracPart, found := strings.Cut(s, ".")
	if found && strings.Contains(fracPart, ".") {
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "decimal %q has multiple dots", s)
	}

	sign := int64(1)
	if strings.HasPrefix(intPart, "-") {
		sign = -1
		intPart = intPart[1:]
	}

	var intVal int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse integer part").With("input", s)
		}
		intVal = v
	}

	decimals := int(scale)
	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	} else {
		fracPart += strings.Repeat("0", decimals-len(fracPart))
	}

	var fracVal int64
	if fracPart != "" {
		v, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse fractional part").With("input", s)
		}
		fracVal = v
	}

	mult := scale.Pow10()
	if intVal > (maxInt64-fracVal)/mult {
		return 0, errors.Errorf("decimal %q overflows scale %d", s, scale)
	}
	return sign * (intVal*mult + fracVal), nil
}

// ParsePrice converts a decimal string with the symbol's price scale.
func ParsePrice(s string, spec schema.ScaleSpec) (schema.Price, error) {
	v, err := ParseScaled(s, spec.PriceScale)
	return schema.Price(v), err
}

// ParseQuantity converts a decimal string with the symbol's quantity scale.
func ParseQuantity(s string, spec schema.ScaleSpec) (schema.Quantity, error) {
	v, err := ParseScaled(s, spec.QuantityScale)
	return schema.Quantity(v), err
}

const maxInt64 = int64(^uint64(0) >> 1)
