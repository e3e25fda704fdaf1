package changeset

import (
	"fmt"
	"sort"

	"DexMetrics/internal/aggregate"
	"DexMetrics/internal/event"
	dexmath "DexMetrics/internal/math"
	"DexMetrics/internal/reference"
	"DexMetrics/internal/snapshot"
	"DexMetrics/internal/store"
	"DexMetrics/internal/timeframe"

	"github.com/shopspring/decimal"
)

// Protocol is the identity of the singleton protocol row.
type Protocol struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	Slug          string `yaml:"slug" json:"slug"`
	Network       string `yaml:"network" json:"network"`
	SchemaVersion string `yaml:"schema_version" json:"schema_version"`
	// GenesisBlock is the first block at which the earliest known pool was
	// active. The protocol row is created at the first unit at or after it.
	GenesisBlock uint64 `yaml:"genesis_block" json:"genesis_block"`
}

// SnapshotSource exposes the snapshots materialized during a unit.
type SnapshotSource interface {
	Pending() snapshot.Batch
}

const familyProtocolCreated store.Family = "protocol_created"

// Emitter folds a unit's events, store deltas and snapshots into one
// changeset.
type Emitter struct {
	r         aggregate.Readers
	dir       reference.Directory
	snapshots SnapshotSource
	protocol  Protocol
	created   *store.Store[int64]
}

func NewEmitter(reg *store.Registry, r aggregate.Readers, dir reference.Directory, snapshots SnapshotSource, protocol Protocol) *Emitter {
	return &Emitter{
		r:         r,
		dir:       dir,
		snapshots: snapshots,
		protocol:  protocol,
		created:   store.Register(reg, store.NewSetIfAbsent[int64]("protocol_created")),
	}
}

func (e *Emitter) Name() string { return "changeset" }

// Outputs returns the stores written by the emitter.
func (e *Emitter) Outputs() []store.Unit {
	return []store.Unit{e.created}
}

func (e *Emitter) createdKey() store.Key {
	return store.NewKey(familyProtocolCreated, e.protocol.ID)
}

// ProtocolCreated reports whether the protocol row has been emitted.
func (e *Emitter) ProtocolCreated() bool {
	_, ok := e.created.GetLast(e.createdKey())
	return ok
}

// Emit builds the changeset of u. It runs after every stage of the unit.
func (e *Emitter) Emit(u *event.Unit) (*Changeset, error) {
	cs := &Changeset{
		ID:         IDFor(u.Key()),
		UnitNumber: u.Number,
		UnitHash:   u.Hash,
		Timestamp:  u.Timestamp,
	}

	protocolNew := false
	if !e.ProtocolCreated() && u.Number >= e.protocol.GenesisBlock {
		e.created.SetIfNotExists(0, e.createdKey(), int64(u.Number))
		cs.Rows = append(cs.Rows, Row{
			Entity:    EntityProtocol,
			ID:        e.protocol.ID,
			Operation: OpCreate,
			Fields:    e.protocolIdentity(),
		})
		protocolNew = true
	}

	cs.Rows = append(cs.Rows, e.tokenCreates()...)
	cs.Rows = append(cs.Rows, e.poolCreates()...)
	cs.Rows = append(cs.Rows, e.feeRows()...)

	for _, evt := range u.Events {
		if row, ok := eventRow(evt); ok {
			cs.Rows = append(cs.Rows, row)
		}
	}

	cs.Rows = append(cs.Rows, e.poolUpdates()...)

	snaps, err := snapshotRows(e.snapshots.Pending())
	if err != nil {
		return nil, fmt.Errorf("unit %d: %w", u.Number, err)
	}
	cs.Rows = append(cs.Rows, snaps...)

	if e.ProtocolCreated() && (protocolNew || e.protocolChanged()) {
		cs.Rows = append(cs.Rows, Row{
			Entity:    EntityProtocol,
			ID:        e.protocol.ID,
			Operation: OpUpdate,
			Fields:    e.protocolMetrics(),
		})
	}

	return cs, nil
}

func (e *Emitter) protocolIdentity() map[string]any {
	return map[string]any{
		"name":           e.protocol.Name,
		"slug":           e.protocol.Slug,
		"network":        e.protocol.Network,
		"schema_version": e.protocol.SchemaVersion,
		"type":           "EXCHANGE",
	}
}

func (e *Emitter) protocolMetrics() map[string]any {
	tvl, _ := e.r.ProtocolTVL.GetLast(aggregate.ProtocolTVLKey())
	volume, _ := e.r.ProtocolVolume.GetLast(aggregate.ProtocolVolumeKey())
	supply, _ := e.r.Revenue.GetLast(aggregate.ProtocolRevenueKey(aggregate.SideSupply))
	protocol, _ := e.r.Revenue.GetLast(aggregate.ProtocolRevenueKey(aggregate.SideProtocol))
	users, _ := e.r.UsageCounts.GetLast(aggregate.UniqueUsersKey())
	pools, _ := e.r.PoolCount.GetLast(aggregate.PoolCountKey())

	return map[string]any{
		"total_value_locked_usd":               tvl,
		"cumulative_volume_usd":                volume,
		"cumulative_supply_side_revenue_usd":   supply,
		"cumulative_protocol_side_revenue_usd": protocol,
		"cumulative_total_revenue_usd":         supply.Add(protocol),
		"cumulative_unique_users":              users,
		"total_pool_count":                     pools,
	}
}

func (e *Emitter) protocolChanged() bool {
	return len(e.r.ProtocolTVL.Deltas()) > 0 ||
		len(store.FilterFamily(e.r.ProtocolVolume.Deltas(), aggregate.FamilyProtocolVolume)) > 0 ||
		len(store.FilterFamily(e.r.Revenue.Deltas(), aggregate.FamilyProtocolRevenue)) > 0 ||
		len(store.FilterFamily(e.r.UsageCounts.Deltas(), aggregate.FamilyUniqueUsers)) > 0 ||
		len(e.r.PoolCount.Deltas()) > 0
}

// tokenCreates emits a token row when its reference count first reaches
// one. A token shared by several pools is created once.
func (e *Emitter) tokenCreates() []Row {
	var rows []Row
	for _, d := range e.r.TokenRefs.Deltas() {
		if d.Operation != store.OpCreate || d.NewValue != 1 {
			continue
		}
		addr := d.Key.Primary
		tok, ok := e.r.Tokens.GetLast(aggregate.TokenKey(addr))
		if !ok {
			tok = reference.Token{Address: addr, Decimals: reference.DefaultDecimals}
		}
		rows = append(rows, Row{
			Entity:    EntityToken,
			ID:        addr,
			Operation: OpCreate,
			Fields: map[string]any{
				"name":            tok.Name,
				"symbol":          tok.Symbol,
				"decimals":        tok.Decimals,
				"is_base_pool_lp": tok.IsBasePoolLP,
				"gauge":           tok.Gauge,
			},
		})
	}
	return rows
}

func (e *Emitter) poolCreates() []Row {
	var rows []Row
	for _, d := range e.r.Pools.Deltas() {
		if d.Operation != store.OpCreate {
			continue
		}
		p := d.NewValue
		rows = append(rows, Row{
			Entity:    EntityPool,
			ID:        p.Address,
			Operation: OpCreate,
			Fields: map[string]any{
				"protocol":      e.protocol.ID,
				"name":          p.Name,
				"symbol":        p.Symbol,
				"input_tokens":  p.InputTokens,
				"output_token":  p.OutputToken,
				"pool_type":     p.Type.String(),
				"registry":      p.Registry,
				"base_pool":     p.BasePool,
				"created_block": p.CreatedBlock,
				"created_at":    p.CreatedAt,
			},
		})
	}
	return rows
}

var feeTypes = map[store.Family]string{
	aggregate.FamilyFeeTrading:  "FIXED_TRADING_FEE",
	aggregate.FamilyFeeProtocol: "FIXED_PROTOCOL_FEE",
	aggregate.FamilyFeeLP:       "FIXED_LP_FEE",
}

// FeeID is the row id of a pool's fee of one type.
func FeeID(feeType, pool string) string {
	return feeType + "-" + pool
}

// feeRows emits one row per fee key whose value was written this unit.
func (e *Emitter) feeRows() []Row {
	latest := make(map[string]Row)
	var order []string
	for _, d := range e.r.Fees.Deltas() {
		feeType, ok := feeTypes[d.Key.Family]
		if !ok {
			continue
		}
		id := FeeID(feeType, d.Key.Primary)
		row, seen := latest[id]
		if !seen {
			order = append(order, id)
			op := OpUpdate
			if d.Operation == store.OpCreate {
				op = OpCreate
			}
			row = Row{Entity: EntityLiquidityPoolFee, ID: id, Operation: op}
		}
		row.Fields = map[string]any{
			"pool":           d.Key.Primary,
			"fee_type":       feeType,
			"fee_percentage": d.NewValue,
		}
		latest[id] = row
	}

	rows := make([]Row, 0, len(order))
	for _, id := range order {
		rows = append(rows, latest[id])
	}
	return rows
}

func eventRow(evt event.Event) (Row, bool) {
	base := map[string]any{
		"hash":         txHash(evt),
		"log_index":    logIndex(evt),
		"block_number": evt.Block(),
		"timestamp":    evt.Time(),
		"pool":         reference.NormalizeAddress(evt.PoolAddress()),
	}

	switch e := evt.(type) {
	case *event.Deposit:
		base["account"] = reference.NormalizeAddress(e.Provider)
		base["input_token_amounts"] = e.Amounts
		base["output_token_amount"] = e.OutputAmount
		return Row{Entity: EntityDeposit, ID: evt.ID(), Operation: OpCreate, Fields: base}, true
	case *event.Withdraw:
		base["account"] = reference.NormalizeAddress(e.Provider)
		base["input_token_amounts"] = e.Amounts
		base["output_token_amount"] = e.OutputAmount
		return Row{Entity: EntityWithdraw, ID: evt.ID(), Operation: OpCreate, Fields: base}, true
	case *event.Swap:
		swapFields(base, e)
		return Row{Entity: EntitySwap, ID: evt.ID(), Operation: OpCreate, Fields: base}, true
	case *event.SwapUnderlying:
		swapFields(base, &e.Swap)
		base["underlying"] = e.Variant.String()
		return Row{Entity: EntitySwap, ID: evt.ID(), Operation: OpCreate, Fields: base}, true
	default:
		return Row{}, false
	}
}

func swapFields(f map[string]any, s *event.Swap) {
	f["account"] = reference.NormalizeAddress(s.Buyer)
	f["token_in"] = reference.NormalizeAddress(s.TokenSold)
	f["amount_in"] = s.AmountSold
	f["token_out"] = reference.NormalizeAddress(s.TokenBought)
	f["amount_out"] = s.AmountBought
}

func txHash(evt event.Event) string {
	if h := headerOf(evt); h != nil {
		return h.TxHash
	}
	return ""
}

func logIndex(evt event.Event) uint32 {
	if h := headerOf(evt); h != nil {
		return h.LogIndex
	}
	return 0
}

func headerOf(evt event.Event) *event.Header {
	switch e := evt.(type) {
	case *event.Deposit:
		return &e.Header
	case *event.Withdraw:
		return &e.Header
	case *event.Swap:
		return &e.Header
	case *event.SwapUnderlying:
		return &e.Header
	default:
		return nil
	}
}

// poolUpdates emits one update per pool whose metrics changed this unit,
// in address order.
func (e *Emitter) poolUpdates() []Row {
	touched := make(map[string]struct{})
	mark := func(keys []store.Key) {
		for _, k := range keys {
			touched[k.Primary] = struct{}{}
		}
	}
	mark(deltaKeys(e.r.TVL.Deltas(), aggregate.FamilyPoolTVL))
	mark(deltaKeys(e.r.Volume.Deltas(), aggregate.FamilyPoolVolume))
	mark(deltaKeys(e.r.Balances.Deltas(), aggregate.FamilyInputBalance))
	mark(deltaKeys(e.r.Supply.Deltas(), aggregate.FamilyOutputSupply))
	mark(deltaKeys(e.r.Staked.Deltas(), aggregate.FamilyStaked))
	mark(deltaKeys(e.r.Rewards.Deltas(), aggregate.FamilyRewardNative))
	mark(deltaKeys(e.r.Revenue.Deltas(), aggregate.FamilyPoolRevenue))

	pools := make([]string, 0, len(touched))
	for p := range touched {
		pools = append(pools, p)
	}
	sort.Strings(pools)

	emissions := aggregate.EmissionsByPool(e.r.Rewards)
	rows := make([]Row, 0, len(pools))
	for _, addr := range pools {
		pool, ok := e.dir.Pool(addr)
		if !ok {
			continue
		}
		rows = append(rows, Row{
			Entity:    EntityPool,
			ID:        addr,
			Operation: OpUpdate,
			Fields:    e.poolMetrics(pool, emissions[addr]),
		})
	}
	return rows
}

func deltaKeys[V any](deltas []store.Delta[V], family store.Family) []store.Key {
	var out []store.Key
	for _, d := range store.FilterFamily(deltas, family) {
		if d.Operation == store.OpDelete {
			continue
		}
		out = append(out, d.Key)
	}
	return out
}

func (e *Emitter) poolMetrics(pool reference.Pool, rewards []aggregate.RewardEmission) map[string]any {
	get := func(r store.Reader[decimal.Decimal], k store.Key) decimal.Decimal {
		v, _ := r.GetLast(k)
		return v
	}

	tvl := get(e.r.TVL, aggregate.PoolTVLKey(pool.Address))
	supply := get(e.r.Supply, aggregate.SupplyKey(pool.Address))

	balances := make([]decimal.Decimal, len(pool.InputTokens))
	weights := make([]decimal.Decimal, len(pool.InputTokens))
	for i, tok := range pool.InputTokens {
		balances[i] = get(e.r.Balances, aggregate.BalanceKey(pool.Address, tok))
		weights[i] = dexmath.Percent(get(e.r.TVL, aggregate.TokenTVLKey(pool.Address, tok)), tvl)
	}

	var (
		rewardTokens []string
		emissions    []decimal.Decimal
		emissionsUSD []decimal.Decimal
	)
	for _, em := range rewards {
		rewardTokens = append(rewardTokens, em.Token)
		emissions = append(emissions, em.Native)
		emissionsUSD = append(emissionsUSD, em.USD)
	}

	supplyRev := get(e.r.Revenue, aggregate.PoolRevenueKey(pool.Address, aggregate.SideSupply))
	protocolRev := get(e.r.Revenue, aggregate.PoolRevenueKey(pool.Address, aggregate.SideProtocol))

	return map[string]any{
		"total_value_locked_usd":               tvl,
		"cumulative_volume_usd":                get(e.r.Volume, aggregate.PoolVolumeKey(pool.Address)),
		"input_token_balances":                 balances,
		"input_token_weights":                  weights,
		"output_token_supply":                  supply,
		"output_token_price_usd":               dexmath.Div(tvl, supply),
		"staked_output_token_amount":           get(e.r.Staked, aggregate.StakedKey(pool.Address)),
		"reward_tokens":                        rewardTokens,
		"reward_token_emissions_amount":        emissions,
		"reward_token_emissions_usd":           emissionsUSD,
		"cumulative_supply_side_revenue_usd":   supplyRev,
		"cumulative_protocol_side_revenue_usd": protocolRev,
		"cumulative_total_revenue_usd":         supplyRev.Add(protocolRev),
	}
}

func snapshotRows(b snapshot.Batch) ([]Row, error) {
	rows := make([]Row, 0, b.Len())
	for _, s := range b.Pools {
		entity := EntityPoolDailySnapshot
		if s.Granularity == timeframe.Hourly {
			entity = EntityPoolHourlySnapshot
		}
		fields, err := structFields(s)
		if err != nil {
			return nil, fmt.Errorf("pool snapshot %s: %w", s.ID, err)
		}
		rows = append(rows, Row{Entity: entity, ID: s.ID, Operation: OpCreate, Fields: fields})
	}
	for _, s := range b.Financials {
		fields, err := structFields(s)
		if err != nil {
			return nil, fmt.Errorf("financials snapshot %s: %w", s.ID, err)
		}
		rows = append(rows, Row{Entity: EntityFinancialsSnapshot, ID: s.Granularity.String() + "-" + s.ID, Operation: OpCreate, Fields: fields})
	}
	for _, s := range b.Usage {
		fields, err := structFields(s)
		if err != nil {
			return nil, fmt.Errorf("usage snapshot %s: %w", s.ID, err)
		}
		rows = append(rows, Row{Entity: EntityUsageMetricsSnapshot, ID: s.Granularity.String() + "-" + s.ID, Operation: OpCreate, Fields: fields})
	}
	return rows, nil
}
