package snapshot

import (
	"fmt"

	"DexMetrics/internal/timeframe"

	"github.com/shopspring/decimal"
)

// PoolSnapshot is the immutable state of one pool at a bucket's close.
type PoolSnapshot struct {
	ID          string                `json:"id"`
	Pool        string                `json:"pool"`
	Granularity timeframe.Granularity `json:"granularity"`
	Bucket      int64                 `json:"bucket"`
	Timestamp   int64                 `json:"timestamp"`
	BlockNumber uint64                `json:"block_number"`

	TVLUSD              decimal.Decimal `json:"tvl_usd"`
	VolumeUSD           decimal.Decimal `json:"volume_usd"`
	CumulativeVolumeUSD decimal.Decimal `json:"cumulative_volume_usd"`

	InputTokens           []string          `json:"input_tokens"`
	InputTokenBalances    []decimal.Decimal `json:"input_token_balances"`
	InputTokenBalancesUSD []decimal.Decimal `json:"input_token_balances_usd"`
	InputTokenWeights     []decimal.Decimal `json:"input_token_weights"`
	InputTokenVolumes     []decimal.Decimal `json:"input_token_volumes"`
	InputTokenVolumesUSD  []decimal.Decimal `json:"input_token_volumes_usd"`

	OutputTokenSupply       decimal.Decimal `json:"output_token_supply"`
	OutputTokenPriceUSD     decimal.Decimal `json:"output_token_price_usd"`
	StakedOutputTokenAmount decimal.Decimal `json:"staked_output_token_amount"`

	RewardTokens            []string          `json:"reward_tokens"`
	RewardTokenEmissions    []decimal.Decimal `json:"reward_token_emissions"`
	RewardTokenEmissionsUSD []decimal.Decimal `json:"reward_token_emissions_usd"`

	SupplySideRevenueUSD             decimal.Decimal `json:"supply_side_revenue_usd"`
	ProtocolSideRevenueUSD           decimal.Decimal `json:"protocol_side_revenue_usd"`
	CumulativeSupplySideRevenueUSD   decimal.Decimal `json:"cumulative_supply_side_revenue_usd"`
	CumulativeProtocolSideRevenueUSD decimal.Decimal `json:"cumulative_protocol_side_revenue_usd"`
}

// FinancialsSnapshot is the protocol's financial state at a bucket's close.
type FinancialsSnapshot struct {
	ID          string                `json:"id"`
	Granularity timeframe.Granularity `json:"granularity"`
	Bucket      int64                 `json:"bucket"`
	Timestamp   int64                 `json:"timestamp"`
	BlockNumber uint64                `json:"block_number"`

	TVLUSD              decimal.Decimal `json:"tvl_usd"`
	VolumeUSD           decimal.Decimal `json:"volume_usd"`
	CumulativeVolumeUSD decimal.Decimal `json:"cumulative_volume_usd"`

	SupplySideRevenueUSD             decimal.Decimal `json:"supply_side_revenue_usd"`
	ProtocolSideRevenueUSD           decimal.Decimal `json:"protocol_side_revenue_usd"`
	TotalRevenueUSD                  decimal.Decimal `json:"total_revenue_usd"`
	CumulativeSupplySideRevenueUSD   decimal.Decimal `json:"cumulative_supply_side_revenue_usd"`
	CumulativeProtocolSideRevenueUSD decimal.Decimal `json:"cumulative_protocol_side_revenue_usd"`
	CumulativeTotalRevenueUSD        decimal.Decimal `json:"cumulative_total_revenue_usd"`
}

// UsageSnapshot is the protocol's usage at a bucket's close.
type UsageSnapshot struct {
	ID          string                `json:"id"`
	Granularity timeframe.Granularity `json:"granularity"`
	Bucket      int64                 `json:"bucket"`
	Timestamp   int64                 `json:"timestamp"`
	BlockNumber uint64                `json:"block_number"`

	ActiveUsers           int64 `json:"active_users"`
	CumulativeUniqueUsers int64 `json:"cumulative_unique_users"`
	TransactionCount      int64 `json:"transaction_count"`
	DepositCount          int64 `json:"deposit_count"`
	WithdrawCount         int64 `json:"withdraw_count"`
	SwapCount             int64 `json:"swap_count"`
	TotalPoolCount        int64 `json:"total_pool_count"`
}

// Batch is every snapshot materialized during one unit.
type Batch struct {
	Pools      []PoolSnapshot
	Financials []FinancialsSnapshot
	Usage      []UsageSnapshot
}

// Empty reports whether the batch holds no rows.
func (b Batch) Empty() bool {
	return len(b.Pools) == 0 && len(b.Financials) == 0 && len(b.Usage) == 0
}

// Len returns the number of rows.
func (b Batch) Len() int {
	return len(b.Pools) + len(b.Financials) + len(b.Usage)
}

// PoolSnapshotID is the row id of a pool snapshot.
func PoolSnapshotID(pool string, bucket int64) string {
	return fmt.Sprintf("%s-%d", pool, bucket)
}

// ProtocolSnapshotID is the row id of a protocol-level snapshot.
func ProtocolSnapshotID(bucket int64) string {
	return fmt.Sprintf("%d", bucket)
}
