package position

import (
	"fmt"
	"strings"

	"tradelens/internal/fill"

	"github.com/shopspring/decimal"
)

// CostBasis 决定加仓时均价的计算口径。
type CostBasis string

const (
	// CostBasisTotal：均价 = 全部开仓成本 / 开仓总量，部分平仓不影响均价。
	CostBasisTotal CostBasis = "total"
	// CostBasisRunning：部分平仓后再加仓，按剩余持仓重新加权平均。
	CostBasisRunning CostBasis = "running"
)

// FeeMode 决定哪些手续费计入 RealizedPnl。
type FeeMode string

const (
	FeesNone    FeeMode = "none"
	FeesOpening FeeMode = "opening"
	FeesClosing FeeMode = "closing"
	FeesBoth    FeeMode = "both"
)

type Policy struct {
	CostBasis CostBasis `json:"cost_basis" yaml:"cost_basis"`
	Fees      FeeMode   `json:"fees" yaml:"fees"`
	// QuoteAsset 非空时，其他币种计价的手续费只记入 ForeignFees。
	QuoteAsset string `json:"quote_asset,omitempty" yaml:"quote_asset,omitempty"`
}

func DefaultPolicy() Policy {
	return Policy{CostBasis: CostBasisTotal, Fees: FeesBoth}
}

func ParseCostBasis(s string) (CostBasis, error) {
	switch CostBasis(strings.ToLower(strings.TrimSpace(s))) {
	case CostBasisTotal, "":
		return CostBasisTotal, nil
	case CostBasisRunning:
		return CostBasisRunning, nil
	}
	return "", fmt.Errorf("unknown cost basis %q", s)
}

func ParseFeeMode(s string) (FeeMode, error) {
	switch FeeMode(strings.ToLower(strings.TrimSpace(s))) {
	case FeesBoth, "":
		return FeesBoth, nil
	case FeesNone:
		return FeesNone, nil
	case FeesOpening:
		return FeesOpening, nil
	case FeesClosing:
		return FeesClosing, nil
	}
	return "", fmt.Errorf("unknown fee mode %q", s)
}

func (p Policy) Validate() error {
	if _, err := ParseCostBasis(string(p.CostBasis)); err != nil {
		return err
	}
	if _, err := ParseFeeMode(string(p.Fees)); err != nil {
		return err
	}
	return nil
}

func (p Policy) normalized() Policy {
	out := p
	out.CostBasis, _ = ParseCostBasis(string(p.CostBasis))
	out.Fees, _ = ParseFeeMode(string(p.Fees))
	out.QuoteAsset = strings.ToUpper(strings.TrimSpace(p.QuoteAsset))
	return out
}

func (p Policy) isForeign(fee fill.Fee) bool {
	if p.QuoteAsset == "" || fee.Currency == "" {
		return false
	}
	return !strings.EqualFold(fee.Currency, p.QuoteAsset)
}

func (p Policy) attributed(openFees, closeFees decimal.Decimal) decimal.Decimal {
	switch p.Fees {
	case FeesNone:
		return decimal.Zero
	case FeesOpening:
		return openFees
	case FeesClosing:
		return closeFees
	default:
		return openFees.Add(closeFees)
	}
}
