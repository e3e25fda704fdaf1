package testutil

import (
	"fmt"

	"DexMetrics/internal/event"
	"DexMetrics/internal/reference"
)

// Fixture addresses.
const (
	PoolA   = "0xpool_a"
	PoolB   = "0xpool_b"
	LPA     = "0xlp_a"
	LPB     = "0xlp_b"
	GaugeA  = "0xgauge_a"
	USDC    = "0xusdc"
	WBTC    = "0xwbtc"
	DAI     = "0xdai"
	USDT    = "0xusdt"
	CRV     = "0xcrv"
	Alice   = "0xalice"
	Bob     = "0xbob"
	Day0    = int64(100)
	Day1    = int64(86500)
	Day2    = int64(172900)
	OneHour = int64(3600)
)

// Fixture tokens.
var (
	TokenUSDC = reference.Token{Address: USDC, Name: "USD Coin", Symbol: "USDC", Decimals: 6}
	TokenWBTC = reference.Token{Address: WBTC, Name: "Wrapped BTC", Symbol: "WBTC", Decimals: 8}
	TokenDAI  = reference.Token{Address: DAI, Name: "Dai", Symbol: "DAI", Decimals: 18}
	TokenUSDT = reference.Token{Address: USDT, Name: "Tether", Symbol: "USDT", Decimals: 6}
	TokenCRV  = reference.Token{Address: CRV, Name: "Curve DAO", Symbol: "CRV", Decimals: 18}
	TokenLPA  = reference.Token{Address: LPA, Name: "Pool A LP", Symbol: "A-LP", Decimals: 18}
	TokenLPB  = reference.Token{Address: LPB, Name: "Pool B LP", Symbol: "B-LP", Decimals: 18}
)

// PoolUSDCWBTC is a two-token crypto pool.
func PoolUSDCWBTC() reference.Pool {
	return reference.Pool{
		Address:     PoolA,
		Name:        "usdc-wbtc",
		Symbol:      "A-LP",
		InputTokens: []string{USDC, WBTC},
		OutputToken: LPA,
		Type:        reference.PoolTypeCrypto,
		Registry:    "0xfactory",
	}
}

// PoolStables is a three-token plain pool.
func PoolStables() reference.Pool {
	return reference.Pool{
		Address:     PoolB,
		Name:        "3pool",
		Symbol:      "B-LP",
		InputTokens: []string{DAI, USDC, USDT},
		OutputToken: LPB,
		Type:        reference.PoolTypePlain,
		Registry:    "0xregistry",
	}
}

// UnitBuilder assembles a processing unit with increasing ordinals.
type UnitBuilder struct {
	unit  event.Unit
	ord   uint64
	evtTS int64
}

// NewUnit starts a unit for block number at timestamp ts.
func NewUnit(number uint64, ts int64) *UnitBuilder {
	return &UnitBuilder{unit: event.Unit{
		Number:     number,
		Hash:       fmt.Sprintf("0xblock%d", number),
		ParentHash: fmt.Sprintf("0xblock%d", number-1),
		Timestamp:  ts,
	}}
}

func (b *UnitBuilder) header(pool string) event.Header {
	b.ord++
	return event.Header{
		Ord:         b.ord,
		TxHash:      fmt.Sprintf("0xtx%d", b.unit.Number),
		TxIndex:     0,
		LogIndex:    uint32(b.ord),
		BlockNumber: b.unit.Number,
		Timestamp:   b.eventTime(),
		Pool:        pool,
	}
}

// At stamps the events added after it with ts instead of the unit time.
func (b *UnitBuilder) At(ts int64) *UnitBuilder {
	b.evtTS = ts
	return b
}

func (b *UnitBuilder) eventTime() int64 {
	if b.evtTS != 0 {
		return b.evtTS
	}
	return b.unit.Timestamp
}

func (b *UnitBuilder) add(e event.Event) *UnitBuilder {
	b.unit.Events = append(b.unit.Events, e)
	return b
}

// RegisterPool adds a PoolRegistered event. Tokens default to the fixture
// records of the pool's input and output tokens.
func (b *UnitBuilder) RegisterPool(p reference.Pool, fee, adminFee string, tokens ...reference.Token) *UnitBuilder {
	return b.add(&event.PoolRegistered{
		Header:   b.header(p.Address),
		Record:   p,
		Tokens:   tokens,
		Fee:      fee,
		AdminFee: adminFee,
	})
}

func (b *UnitBuilder) FeeChange(pool, fee, adminFee string) *UnitBuilder {
	return b.add(&event.FeeChanged{Header: b.header(pool), Fee: fee, AdminFee: adminFee})
}

// Price adds a primary-by-address oracle row.
func (b *UnitBuilder) Price(token, price string) *UnitBuilder {
	return b.PriceFrom(event.PriceSourcePrimary, token, "", price)
}

func (b *UnitBuilder) PriceFrom(src event.PriceSource, token, symbol, price string) *UnitBuilder {
	return b.add(&event.PriceUpdate{Header: b.header(""), Source: src, Token: token, Symbol: symbol, PriceUSD: price})
}

func (b *UnitBuilder) Deposit(pool, provider string, amounts []string, minted string) *UnitBuilder {
	return b.add(&event.Deposit{Header: b.header(pool), Provider: provider, Amounts: amounts, OutputAmount: minted})
}

func (b *UnitBuilder) Withdraw(pool, provider string, amounts []string, burned string) *UnitBuilder {
	return b.add(&event.Withdraw{Header: b.header(pool), Provider: provider, Amounts: amounts, OutputAmount: burned})
}

func (b *UnitBuilder) Swap(pool, buyer, sold, amountSold, bought, amountBought string) *UnitBuilder {
	return b.add(&event.Swap{
		Header:       b.header(pool),
		Buyer:        buyer,
		TokenSold:    sold,
		AmountSold:   amountSold,
		TokenBought:  bought,
		AmountBought: amountBought,
	})
}

func (b *UnitBuilder) SwapUnderlying(v event.UnderlyingVariant, pool, buyer, sold, amountSold, bought, amountBought string) *UnitBuilder {
	return b.add(&event.SwapUnderlying{
		Swap: event.Swap{
			Header:       b.header(pool),
			Buyer:        buyer,
			TokenSold:    sold,
			AmountSold:   amountSold,
			TokenBought:  bought,
			AmountBought: amountBought,
		},
		Variant: v,
	})
}

// LendingSwap adds a lending-pool underlying swap of unwrapped tokens
// settling in the coins at soldID and boughtID.
func (b *UnitBuilder) LendingSwap(pool, buyer string, soldID int, sold, amountSold string, boughtID int, bought, amountBought string) *UnitBuilder {
	return b.add(&event.SwapUnderlying{
		Swap: event.Swap{
			Header:       b.header(pool),
			Buyer:        buyer,
			TokenSold:    sold,
			AmountSold:   amountSold,
			TokenBought:  bought,
			AmountBought: amountBought,
		},
		Variant:  event.UnderlyingLending,
		SoldID:   soldID,
		BoughtID: boughtID,
	})
}

func (b *UnitBuilder) Gauge(pool, gauge string, registered bool, weight, inflation string, token reference.Token) *UnitBuilder {
	return b.add(&event.GaugeUpdate{
		Header:         b.header(pool),
		Gauge:          gauge,
		Registered:     registered,
		RelativeWeight: weight,
		InflationRate:  inflation,
		RewardToken:    token,
	})
}

func (b *UnitBuilder) Reward(pool, gauge string, token reference.Token, rate string, periodFinish int64) *UnitBuilder {
	return b.add(&event.RewardUpdate{
		Header:       b.header(pool),
		Gauge:        gauge,
		RewardToken:  token,
		Rate:         rate,
		PeriodFinish: periodFinish,
	})
}

func (b *UnitBuilder) Stake(pool, gauge, provider, amount string, unstake bool) *UnitBuilder {
	return b.add(&event.Stake{Header: b.header(pool), Gauge: gauge, Provider: provider, Amount: amount, Unstake: unstake})
}

// Build returns the unit.
func (b *UnitBuilder) Build() *event.Unit {
	u := b.unit
	return &u
}
