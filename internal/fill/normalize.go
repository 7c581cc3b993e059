package fill

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Raw 是交易所/ccxt 风格的原始成交记录。
type Raw map[string]any

// Normalize 把原始记录转换为 Fill。
// side/amount/price/timestamp 为必填；fee 可以是 {cost,currency} 或标量配合 fee_currency。
func Normalize(raw Raw) (Fill, error) {
	sideVal, ok := raw["side"]
	if !ok || sideVal == nil {
		return Fill{}, &MalformedFillError{Field: "side", Reason: "is missing", Raw: raw}
	}
	sideStr, ok := sideVal.(string)
	if !ok {
		return Fill{}, &UnknownSideError{Side: fmt.Sprint(sideVal), Raw: raw}
	}
	side, err := ParseSide(sideStr)
	if err != nil {
		return Fill{}, &UnknownSideError{Side: sideStr, Raw: raw}
	}

	amount, err := requiredDecimal(raw, "amount")
	if err != nil {
		return Fill{}, err
	}
	if !amount.IsPositive() {
		return Fill{}, &MalformedFillError{Field: "amount", Reason: "must be positive", Raw: raw}
	}
	price, err := requiredDecimal(raw, "price")
	if err != nil {
		return Fill{}, err
	}
	if !price.IsPositive() {
		return Fill{}, &MalformedFillError{Field: "price", Reason: "must be positive", Raw: raw}
	}

	tsVal, ok := raw["timestamp"]
	if !ok || tsVal == nil {
		return Fill{}, &MalformedFillError{Field: "timestamp", Reason: "is missing", Raw: raw}
	}
	tsDec, err := toDecimal(tsVal)
	if err != nil || !tsDec.IsInteger() || tsDec.IsNegative() || tsDec.GreaterThan(maxTimestamp) {
		return Fill{}, &MalformedFillError{Field: "timestamp", Reason: "is not a millisecond epoch", Raw: raw}
	}

	fee, err := normalizeFee(raw)
	if err != nil {
		return Fill{}, err
	}

	return Fill{
		ID:        idString(raw["id"]),
		OrderID:   idString(raw["order"]),
		Symbol:    stringField(raw, "symbol"),
		Side:      side,
		Amount:    amount,
		Price:     price,
		Fee:       fee,
		Timestamp: tsDec.IntPart(),
	}, nil
}

// NormalizeAll 保留所有合法记录，并返回每条被拒记录对应的错误。
func NormalizeAll(raws []Raw) ([]Fill, []error) {
	fills := make([]Fill, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		f, err := Normalize(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fills = append(fills, f)
	}
	return fills, errs
}

func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Buy):
		return Buy, nil
	case string(Sell):
		return Sell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSide, s)
	}
}

func normalizeFee(raw Raw) (Fee, error) {
	val, ok := raw["fee"]
	if !ok || val == nil {
		return Fee{Cost: decimal.Zero}, nil
	}
	var fee Fee
	switch v := val.(type) {
	case map[string]any:
		if c, ok := v["cost"]; ok && c != nil {
			cost, err := toDecimal(c)
			if err != nil {
				return Fee{}, &MalformedFillError{Field: "fee.cost", Reason: "is not numeric", Raw: raw}
			}
			fee.Cost = cost
		}
		if cur, ok := v["currency"].(string); ok {
			fee.Currency = cur
		}
	case Raw:
		return normalizeFee(Raw{"fee": map[string]any(v)})
	default:
		cost, err := toDecimal(v)
		if err != nil {
			return Fee{}, &MalformedFillError{Field: "fee", Reason: "is not numeric", Raw: raw}
		}
		fee.Cost = cost
		fee.Currency = stringField(raw, "fee_currency")
	}
	if fee.Cost.IsNegative() {
		return Fee{}, &MalformedFillError{Field: "fee.cost", Reason: "must not be negative", Raw: raw}
	}
	fee.Currency = strings.ToUpper(strings.TrimSpace(fee.Currency))
	return fee, nil
}

var maxTimestamp = decimal.NewFromInt(math.MaxInt64)

func requiredDecimal(raw Raw, field string) (decimal.Decimal, error) {
	val, ok := raw[field]
	if !ok || val == nil {
		return decimal.Zero, &MalformedFillError{Field: field, Reason: "is missing", Raw: raw}
	}
	d, err := toDecimal(val)
	if err != nil {
		return decimal.Zero, &MalformedFillError{Field: field, Reason: "is not numeric", Raw: raw}
	}
	return d, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case json.Number:
		return decimal.NewFromString(val.String())
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return decimal.Zero, fmt.Errorf("empty number")
		}
		return decimal.NewFromString(s)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return decimal.Zero, fmt.Errorf("non-finite number %v", val)
		}
		return decimal.NewFromFloat(val), nil
	case float32:
		if f := float64(val); math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, fmt.Errorf("non-finite number %v", val)
		}
		return decimal.NewFromFloat32(val), nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case int32:
		return decimal.NewFromInt32(val), nil
	case uint64:
		return decimal.NewFromUint64(val), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func idString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case json.Number:
		return val.String()
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		return decimal.NewFromFloat(val).String()
	default:
		return fmt.Sprint(val)
	}
}

func stringField(raw Raw, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}
