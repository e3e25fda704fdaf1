package math

import "github.com/shopspring/decimal"

var (
	// feeScale turns a 1e10-scaled fee into a percentage.
	feeScale = decimal.New(1, 8)
	// adminFeeScale is the 1e10 denominator of the admin share.
	adminFeeScale = decimal.New(1, 10)
)

// FeePercentages is the split of a pool's swap fee, in percent.
type FeePercentages struct {
	Trading  decimal.Decimal `json:"trading"`
	Protocol decimal.Decimal `json:"protocol"`
	LP       decimal.Decimal `json:"lp"`
}

// ComputeFeePercentages derives the fee split from the raw pool
// parameters: trading = fee / 1e8, protocol = trading × admin_fee / 1e10,
// lp = trading − protocol.
func ComputeFeePercentages(rawFee, rawAdminFee string) (FeePercentages, error) {
	fee, err := ParseRaw(rawFee)
	if err != nil {
		return FeePercentages{}, err
	}

	admin := decimal.Zero
	if rawAdminFee != "" {
		if admin, err = ParseRaw(rawAdminFee); err != nil {
			return FeePercentages{}, err
		}
	}

	trading := fee.Div(feeScale)
	protocol := trading.Mul(admin).Div(adminFeeScale)
	return FeePercentages{
		Trading:  trading,
		Protocol: protocol,
		LP:       trading.Sub(protocol),
	}, nil
}

// AdminShare is the protocol's fraction of the trading fee, in [0, 1].
func (f FeePercentages) AdminShare() decimal.Decimal {
	return Div(f.Protocol, f.Trading)
}

// Revenue splits the fee earned on a USD volume into protocol-side and
// supply-side revenue.
func (f FeePercentages) Revenue(volumeUSD decimal.Decimal) (protocol, supply decimal.Decimal) {
	total := volumeUSD.Mul(f.Trading).Div(Hundred)
	protocol = volumeUSD.Mul(f.Protocol).Div(Hundred)
	return protocol, total.Sub(protocol)
}
