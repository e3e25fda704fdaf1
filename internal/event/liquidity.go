package event

// Deposit adds liquidity. Amounts are raw integer strings in input-token
// order; OutputAmount is the LP amount minted.
type Deposit struct {
	Header
	Provider     string
	Amounts      []string
	OutputAmount string
}

func (e *Deposit) Kind() Kind      { return KindDeposit }
func (e *Deposit) Account() string { return e.Provider }

// Withdraw removes liquidity. OutputAmount is the LP amount burned.
type Withdraw struct {
	Header
	Provider     string
	Amounts      []string
	OutputAmount string
}

func (e *Withdraw) Kind() Kind      { return KindWithdraw }
func (e *Withdraw) Account() string { return e.Provider }

// Stake moves LP tokens in (or out, when Unstake) of a pool's gauge.
type Stake struct {
	Header
	Gauge    string
	Provider string
	Amount   string
	Unstake  bool
}

func (e *Stake) Kind() Kind { return KindStake }
