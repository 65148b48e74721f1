/*
Package generic provides the core balance and ledger engine.

PURPOSE:
  This package contains market-agnostic types and algorithms for moving
  value between accounts. Whether a user subsidizes a market or the bank
  pays out a quest reward, the same engine validates the transfer, mutates
  balances atomically and records exactly one immutable ledger entry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a token tag (e.g., 100 M$)
  - Account: A user, a market/contract, or the system bank
  - LedgerEntry: An immutable record of one value transfer
  - EntryFilter: Audit/history query over the ledger

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified or deleted
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Atomicity: Balances change only through store-side increments
  4. Auditability: Every balance change has a matching ledger entry

USAGE:
  amount, err := generic.AmountFromFloat(25, generic.TokenMana)
  entry, err := ledger.Transfer(ctx, tx, generic.Transfer{
      FromID:   "user-1",
      FromType: generic.AccountUser,
      ToID:     "contract-9",
      ToType:   generic.AccountContract,
      Amount:   amount,
      Category: generic.CategoryAddSubsidy,
  })

SEE ALSO:
  - ledger.go: Ledger entry writer
  - balance.go: Balance mutator
  - coordinator.go: Transaction retry/timeout wrapper
  - idempotency.go: Duplicate-grant guard
*/
package generic

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with token
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Token Token
}

type Token string

const (
	TokenMana Token = "M$"
)

// AmountScale is the number of decimal places stores persist. Amounts are
// truncated to this scale before they touch a balance.
const AmountScale int32 = 6

func NewAmount(value float64, token Token) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Token: token}
}

// AmountFromFloat converts a caller-supplied number, rejecting NaN and ±Inf.
func AmountFromFloat(value float64, token Token) (Amount, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, value)
	}
	return Amount{Value: decimal.NewFromFloat(value).Truncate(AmountScale), Token: token}, nil
}

// AmountFromUnits rebuilds an Amount from its fixed-point storage form.
func AmountFromUnits(units int64, token Token) Amount {
	return Amount{Value: decimal.New(units, -AmountScale), Token: token}
}

// Units returns the fixed-point integer form used for atomic increments.
func (a Amount) Units() int64 { return a.Value.Shift(AmountScale).Truncate(0).IntPart() }

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Token: a.Token} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Token: a.Token} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Token: a.Token} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Token: a.Token} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Token: a.Token} }
func (a Amount) Truncate() Amount             { return Amount{Value: a.Value.Truncate(AmountScale), Token: a.Token} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Float64() float64             { f, _ := a.Value.Float64(); return f }
func (a Amount) String() string               { return a.Value.String() + " " + string(a.Token) }

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountID string
type EntryID string

type AccountType string

const (
	AccountUser     AccountType = "USER"
	AccountContract AccountType = "CONTRACT"
	AccountBank     AccountType = "BANK"
)

// BankID is the source account for platform-funded payouts.
const BankID AccountID = "BANK"

// Account is a user balance row. Contracts and the bank appear in the
// ledger as counterparties but carry no row of this shape.
type Account struct {
	ID            AccountID
	Type          AccountType
	Username      string
	Name          string
	Balance       Amount
	TotalDeposits Amount
	CreatedAt     time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable record of one transfer
// =============================================================================

type Category string

const (
	CategoryAddSubsidy  Category = "ADD_SUBSIDY"
	CategoryQuestReward Category = "QUEST_REWARD"
)

type LedgerEntry struct {
	ID       EntryID
	FromID   AccountID
	FromType AccountType
	ToID     AccountID
	ToType   AccountType

	// Amount is the gross value debited from the source.
	Amount Amount
	// Fee is the part of Amount the destination did not receive.
	Fee Amount

	Token    Token
	Category Category
	Metadata map[string]string

	CreatedAt time.Time
}

// Net is what the destination was credited.
func (e LedgerEntry) Net() Amount { return e.Amount.Sub(e.Fee) }

// EntryFilter selects ledger entries for audit and duplicate checks.
// Zero-valued fields do not constrain the query.
type EntryFilter struct {
	FromID   AccountID
	ToID     AccountID
	Category Category
	Since    time.Time
	Metadata map[string]string
	Limit    int
}

// Matches reports whether e satisfies every set field of f. Stores that
// cannot push metadata predicates into their query language use this.
func (f EntryFilter) Matches(e LedgerEntry) bool {
	if f.FromID != "" && e.FromID != f.FromID {
		return false
	}
	if f.ToID != "" && e.ToID != f.ToID {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	for k, v := range f.Metadata {
		if e.Metadata[k] != v {
			return false
		}
	}
	return true
}
