package ingestion

import (
	"encoding/json"
	"fmt"

	"DexMetrics/internal/event"
	"DexMetrics/internal/reference"
)

// ParseUnit converts a JSON unit payload into a typed event.Unit.
// Event headers inherit the unit's block number and timestamp unless set.
func ParseUnit(data []byte) (*event.Unit, error) {
	var j unitJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse unit: %w", err)
	}
	if j.Hash == "" {
		return nil, fmt.Errorf("parse unit %d: missing hash", j.Number)
	}

	u := &event.Unit{
		Number:     j.Number,
		Hash:       j.Hash,
		ParentHash: j.ParentHash,
		Timestamp:  j.Timestamp,
		Events:     make([]event.Event, 0, len(j.Events)),
		Raw:        data,
	}

	for i, ej := range j.Events {
		evt, err := parseEvent(u, ej)
		if err != nil {
			return nil, fmt.Errorf("parse unit %d event %d: %w", j.Number, i, err)
		}
		u.Events = append(u.Events, evt)
	}
	return u, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Token amounts
// are raw integer strings.

type unitJSON struct {
	Number     uint64      `json:"number"`
	Hash       string      `json:"hash"`
	ParentHash string      `json:"parent_hash"`
	Timestamp  int64       `json:"timestamp"`
	Events     []eventJSON `json:"events"`
}

type eventJSON struct {
	Kind        string          `json:"kind"`
	Ordinal     uint64          `json:"ordinal"`
	TxHash      string          `json:"tx_hash"`
	TxIndex     uint32          `json:"tx_index"`
	LogIndex    uint32          `json:"log_index"`
	BlockNumber uint64          `json:"block_number,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	Pool        string          `json:"pool"`
	Data        json.RawMessage `json:"data"`
}

func parseEvent(u *event.Unit, j eventJSON) (event.Event, error) {
	kind, err := event.ParseKind(j.Kind)
	if err != nil {
		return nil, err
	}

	h := event.Header{
		Ord:         j.Ordinal,
		TxHash:      j.TxHash,
		TxIndex:     j.TxIndex,
		LogIndex:    j.LogIndex,
		BlockNumber: j.BlockNumber,
		Timestamp:   j.Timestamp,
		Pool:        reference.NormalizeAddress(j.Pool),
	}
	if h.BlockNumber == 0 {
		h.BlockNumber = u.Number
	}
	if h.Timestamp == 0 {
		h.Timestamp = u.Timestamp
	}

	switch kind {
	case event.KindDeposit:
		return parseDeposit(h, j.Data)
	case event.KindWithdraw:
		return parseWithdraw(h, j.Data)
	case event.KindSwap:
		return parseSwap(h, j.Data)
	case event.KindSwapUnderlying:
		return parseSwapUnderlying(h, j.Data)
	case event.KindPoolRegistered:
		return parsePoolRegistered(h, j.Data)
	case event.KindFeeChanged:
		return parseFeeChanged(h, j.Data)
	case event.KindGaugeUpdate:
		return parseGaugeUpdate(h, j.Data)
	case event.KindRewardUpdate:
		return parseRewardUpdate(h, j.Data)
	case event.KindStake:
		return parseStake(h, j.Data)
	case event.KindPriceUpdate:
		return parsePriceUpdate(h, j.Data)
	default:
		return nil, fmt.Errorf("unhandled event kind: %s", kind)
	}
}

func decode(kind string, data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("parse %s: missing data", kind)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", kind, err)
	}
	return nil
}

type liquidityJSON struct {
	Provider     string   `json:"provider"`
	Amounts      []string `json:"token_amounts"`
	OutputAmount string   `json:"output_amount"`
}

func parseDeposit(h event.Header, data []byte) (*event.Deposit, error) {
	var j liquidityJSON
	if err := decode("Deposit", data, &j); err != nil {
		return nil, err
	}
	return &event.Deposit{Header: h, Provider: j.Provider, Amounts: j.Amounts, OutputAmount: j.OutputAmount}, nil
}

func parseWithdraw(h event.Header, data []byte) (*event.Withdraw, error) {
	var j liquidityJSON
	if err := decode("Withdraw", data, &j); err != nil {
		return nil, err
	}
	return &event.Withdraw{Header: h, Provider: j.Provider, Amounts: j.Amounts, OutputAmount: j.OutputAmount}, nil
}

type swapJSON struct {
	Buyer        string `json:"buyer"`
	TokenSold    string `json:"token_sold"`
	AmountSold   string `json:"amount_sold"`
	TokenBought  string `json:"token_bought"`
	AmountBought string `json:"amount_bought"`
	Variant      string `json:"variant,omitempty"`
	SoldID       *int   `json:"sold_id,omitempty"`
	BoughtID     *int   `json:"bought_id,omitempty"`
}

func (j swapJSON) swap(h event.Header) event.Swap {
	return event.Swap{
		Header:       h,
		Buyer:        j.Buyer,
		TokenSold:    reference.NormalizeAddress(j.TokenSold),
		AmountSold:   j.AmountSold,
		TokenBought:  reference.NormalizeAddress(j.TokenBought),
		AmountBought: j.AmountBought,
	}
}

func parseSwap(h event.Header, data []byte) (*event.Swap, error) {
	var j swapJSON
	if err := decode("Swap", data, &j); err != nil {
		return nil, err
	}
	s := j.swap(h)
	return &s, nil
}

func parseSwapUnderlying(h event.Header, data []byte) (*event.SwapUnderlying, error) {
	var j swapJSON
	if err := decode("SwapUnderlying", data, &j); err != nil {
		return nil, err
	}
	su := &event.SwapUnderlying{Swap: j.swap(h)}
	switch j.Variant {
	case "meta":
		su.Variant = event.UnderlyingMeta
	case "lending":
		if j.SoldID == nil || j.BoughtID == nil {
			return nil, fmt.Errorf("parse SwapUnderlying: lending swap needs sold_id and bought_id")
		}
		if *j.SoldID < 0 || *j.BoughtID < 0 {
			return nil, fmt.Errorf("parse SwapUnderlying: negative coin index %d/%d", *j.SoldID, *j.BoughtID)
		}
		su.Variant = event.UnderlyingLending
		su.SoldID, su.BoughtID = *j.SoldID, *j.BoughtID
	default:
		return nil, fmt.Errorf("parse SwapUnderlying: unknown variant %q", j.Variant)
	}
	return su, nil
}

type tokenJSON struct {
	Address      string `json:"address"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Decimals     *int32 `json:"decimals"`
	IsBasePoolLP bool   `json:"is_base_pool_lp"`
	Gauge        string `json:"gauge"`
}

func (j tokenJSON) token() reference.Token {
	decimals := reference.DefaultDecimals
	if j.Decimals != nil {
		decimals = *j.Decimals
	}
	return reference.Token{
		Address:      reference.NormalizeAddress(j.Address),
		Name:         j.Name,
		Symbol:       j.Symbol,
		Decimals:     decimals,
		IsBasePoolLP: j.IsBasePoolLP,
		Gauge:        reference.NormalizeAddress(j.Gauge),
	}
}

type poolRegisteredJSON struct {
	Name        string      `json:"name"`
	Symbol      string      `json:"symbol"`
	InputTokens []string    `json:"input_tokens"`
	OutputToken string      `json:"output_token"`
	PoolType    string      `json:"pool_type"`
	Registry    string      `json:"registry"`
	BasePool    string      `json:"base_pool"`
	Tokens      []tokenJSON `json:"tokens"`
	Fee         string      `json:"fee"`
	AdminFee    string      `json:"admin_fee"`
}

func parsePoolRegistered(h event.Header, data []byte) (*event.PoolRegistered, error) {
	var j poolRegisteredJSON
	if err := decode("PoolRegistered", data, &j); err != nil {
		return nil, err
	}
	if len(j.InputTokens) == 0 {
		return nil, fmt.Errorf("parse PoolRegistered: pool %s has no input tokens", h.Pool)
	}

	inputs := make([]string, len(j.InputTokens))
	for i, t := range j.InputTokens {
		inputs[i] = reference.NormalizeAddress(t)
	}
	tokens := make([]reference.Token, len(j.Tokens))
	for i, t := range j.Tokens {
		tokens[i] = t.token()
	}

	return &event.PoolRegistered{
		Header: h,
		Record: reference.Pool{
			Address:      h.Pool,
			Name:         j.Name,
			Symbol:       j.Symbol,
			InputTokens:  inputs,
			OutputToken:  reference.NormalizeAddress(j.OutputToken),
			Type:         reference.ParsePoolType(j.PoolType),
			Registry:     reference.NormalizeAddress(j.Registry),
			BasePool:     reference.NormalizeAddress(j.BasePool),
			CreatedBlock: h.BlockNumber,
			CreatedAt:    h.Timestamp,
		},
		Tokens:   tokens,
		Fee:      j.Fee,
		AdminFee: j.AdminFee,
	}, nil
}

type feeJSON struct {
	Fee      string `json:"fee"`
	AdminFee string `json:"admin_fee"`
}

func parseFeeChanged(h event.Header, data []byte) (*event.FeeChanged, error) {
	var j feeJSON
	if err := decode("FeeChanged", data, &j); err != nil {
		return nil, err
	}
	return &event.FeeChanged{Header: h, Fee: j.Fee, AdminFee: j.AdminFee}, nil
}

type gaugeJSON struct {
	Gauge          string    `json:"gauge"`
	Registered     bool      `json:"registered"`
	RelativeWeight string    `json:"relative_weight"`
	InflationRate  string    `json:"inflation_rate"`
	RewardToken    tokenJSON `json:"reward_token"`
}

func parseGaugeUpdate(h event.Header, data []byte) (*event.GaugeUpdate, error) {
	var j gaugeJSON
	if err := decode("GaugeUpdate", data, &j); err != nil {
		return nil, err
	}
	return &event.GaugeUpdate{
		Header:         h,
		Gauge:          reference.NormalizeAddress(j.Gauge),
		Registered:     j.Registered,
		RelativeWeight: j.RelativeWeight,
		InflationRate:  j.InflationRate,
		RewardToken:    j.RewardToken.token(),
	}, nil
}

type rewardJSON struct {
	Gauge        string    `json:"gauge"`
	RewardToken  tokenJSON `json:"reward_token"`
	Rate         string    `json:"rate"`
	PeriodFinish int64     `json:"period_finish"`
}

func parseRewardUpdate(h event.Header, data []byte) (*event.RewardUpdate, error) {
	var j rewardJSON
	if err := decode("RewardUpdate", data, &j); err != nil {
		return nil, err
	}
	return &event.RewardUpdate{
		Header:       h,
		Gauge:        reference.NormalizeAddress(j.Gauge),
		RewardToken:  j.RewardToken.token(),
		Rate:         j.Rate,
		PeriodFinish: j.PeriodFinish,
	}, nil
}

type stakeJSON struct {
	Gauge    string `json:"gauge"`
	Provider string `json:"provider"`
	Amount   string `json:"amount"`
	Unstake  bool   `json:"unstake"`
}

func parseStake(h event.Header, data []byte) (*event.Stake, error) {
	var j stakeJSON
	if err := decode("Stake", data, &j); err != nil {
		return nil, err
	}
	return &event.Stake{
		Header:   h,
		Gauge:    reference.NormalizeAddress(j.Gauge),
		Provider: j.Provider,
		Amount:   j.Amount,
		Unstake:  j.Unstake,
	}, nil
}

type priceJSON struct {
	Source   string `json:"source"`
	Token    string `json:"token"`
	Symbol   string `json:"symbol"`
	PriceUSD string `json:"price_usd"`
}

func parsePriceUpdate(h event.Header, data []byte) (*event.PriceUpdate, error) {
	var j priceJSON
	if err := decode("PriceUpdate", data, &j); err != nil {
		return nil, err
	}
	src := event.ParsePriceSource(j.Source)
	if src == event.PriceSourceUnknown {
		return nil, fmt.Errorf("parse PriceUpdate: unknown source %q", j.Source)
	}
	if j.Token == "" && j.Symbol == "" {
		return nil, fmt.Errorf("parse PriceUpdate: token or symbol required")
	}
	return &event.PriceUpdate{
		Header:   h,
		Source:   src,
		Token:    reference.NormalizeAddress(j.Token),
		Symbol:   j.Symbol,
		PriceUSD: j.PriceUSD,
	}, nil
}
