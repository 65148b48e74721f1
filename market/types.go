/*
Package market implements liquidity subsidies for prediction markets.

PURPOSE:
  A user can subsidize a market (a "contract") by moving mana from their
  balance into the contract's subsidy pool. The deposit, the pool
  increment, the liquidity provision record and the ledger entry all
  commit in one document-store transaction.

KEY CONCEPTS:
  - Contract: A market with a mechanism, an optional close time and pools
  - Mechanism: Pricing mechanism tag; only CPMM variants accept subsidies
  - LiquidityProvision: Immutable record of one subsidy deposit
  - Tx: generic.Tx extended with contract reads and pool writes

SEE ALSO:
  - service.go: AddLiquidity
  - store/sqlite: Document store implementing Tx
*/
package market

import (
	"context"
	"time"

	"github.com/warp/market-engine/generic"
)

// =============================================================================
// CONTRACT
// =============================================================================

type Mechanism string

const (
	MechanismCPMM      Mechanism = "cpmm-1"
	MechanismCPMMMulti Mechanism = "cpmm-multi-1"
	MechanismDPM       Mechanism = "dpm-2"
	MechanismQF        Mechanism = "qf-1"
)

// AcceptsSubsidy reports whether markets of this mechanism have a
// subsidy pool.
func (m Mechanism) AcceptsSubsidy() bool {
	return m == MechanismCPMM || m == MechanismCPMMMulti
}

type Contract struct {
	ID              string
	Slug            string
	Question        string
	CreatorID       generic.AccountID
	CreatorUsername string
	Mechanism       Mechanism

	// CloseTime is nil for markets that never close.
	CloseTime *time.Time

	SubsidyPool    generic.Amount
	TotalLiquidity generic.Amount
	CreatedAt      time.Time
}

// IsClosed reports whether trading stopped before now.
func (c Contract) IsClosed(now time.Time) bool {
	return c.CloseTime != nil && now.After(*c.CloseTime)
}

// URL returns the public link to the contract page.
func (c Contract) URL(domain string) string {
	return "https://" + domain + "/" + c.CreatorUsername + "/" + c.Slug
}

// =============================================================================
// LIQUIDITY PROVISION
// =============================================================================

// LiquidityProvision records one subsidy. Amount is what reached the pool;
// SubsidyPool and TotalLiquidity are the contract totals after the deposit.
type LiquidityProvision struct {
	ID             string
	ContractID     string
	UserID         generic.AccountID
	Amount         generic.Amount
	SubsidyPool    generic.Amount
	TotalLiquidity generic.Amount
	CreatedAt      time.Time
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Tx is the transaction surface the subsidy flow needs. Document stores
// hand one out from WithTx; the service type-asserts generic.Tx to it.
type Tx interface {
	generic.Tx

	// Contract returns generic.ErrNotFound for unknown ids.
	Contract(ctx context.Context, id string) (Contract, error)

	// IncrementPool atomically adds delta to both subsidy pool and total
	// liquidity.
	IncrementPool(ctx context.Context, id string, delta generic.Amount) error

	InsertProvision(ctx context.Context, p LiquidityProvision) error
}

// ContractReader reads contracts outside a transaction.
type ContractReader interface {
	GetContract(ctx context.Context, id string) (Contract, error)
}
