/*
dto.go - Request and response bodies

PURPOSE:
  JSON shapes of the HTTP API. Amounts are sent as numbers in mana;
  the domain keeps them as fixed-point decimals.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Conversions from domain types
*/
package api

import (
	"time"

	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/market"
	"github.com/warp/market-engine/quests"
)

// =============================================================================
// REQUESTS
// =============================================================================

type AddLiquidityRequest struct {
	Amount float64 `json:"amount"`
}

// QuestRequest is the body of the quest completion endpoints. Fields are
// only read by markets-created.
type QuestRequest struct {
	ContractID     string `json:"contractId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type LiquidityProvisionDTO struct {
	ID             string  `json:"id"`
	ContractID     string  `json:"contractId"`
	UserID         string  `json:"userId"`
	Amount         float64 `json:"amount"`
	SubsidyPool    float64 `json:"subsidyPool"`
	TotalLiquidity float64 `json:"totalLiquidity"`
	CreatedTime    int64   `json:"createdTime"`
}

func toProvisionDTO(p market.LiquidityProvision) LiquidityProvisionDTO {
	return LiquidityProvisionDTO{
		ID:             p.ID,
		ContractID:     p.ContractID,
		UserID:         string(p.UserID),
		Amount:         p.Amount.Float64(),
		SubsidyPool:    p.SubsidyPool.Float64(),
		TotalLiquidity: p.TotalLiquidity.Float64(),
		CreatedTime:    p.CreatedAt.UnixMilli(),
	}
}

type LedgerEntryDTO struct {
	ID          string            `json:"id"`
	FromID      string            `json:"fromId"`
	FromType    string            `json:"fromType"`
	ToID        string            `json:"toId"`
	ToType      string            `json:"toType"`
	Amount      float64           `json:"amount"`
	Fee         float64           `json:"fee"`
	Token       string            `json:"token"`
	Category    string            `json:"category"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedTime int64             `json:"createdTime"`
}

func toEntryDTO(e generic.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:          string(e.ID),
		FromID:      string(e.FromID),
		FromType:    string(e.FromType),
		ToID:        string(e.ToID),
		ToType:      string(e.ToType),
		Amount:      e.Amount.Float64(),
		Fee:         e.Fee.Float64(),
		Token:       string(e.Token),
		Category:    string(e.Category),
		Data:        e.Metadata,
		CreatedTime: e.CreatedAt.UnixMilli(),
	}
}

// QuestResultDTO carries txn and bonusAmount only when a reward was paid.
type QuestResultDTO struct {
	Count       int             `json:"count"`
	Txn         *LedgerEntryDTO `json:"txn,omitempty"`
	BonusAmount *float64        `json:"bonusAmount,omitempty"`
}

func toQuestResultDTO(r quests.Result) QuestResultDTO {
	dto := QuestResultDTO{Count: r.Count}
	if r.Txn != nil {
		txn := toEntryDTO(*r.Txn)
		bonus := r.BonusAmount.Float64()
		dto.Txn = &txn
		dto.BonusAmount = &bonus
	}
	return dto
}

// FormatDTO shows every display form of one amount.
type FormatDTO struct {
	Amount            float64 `json:"amount"`
	Money             string  `json:"money"`
	MoneyWithDecimals string  `json:"moneyWithDecimals"`
	WithCommas        string  `json:"withCommas"`
	ManaToUSD         string  `json:"manaToUsd"`
	Percent           string  `json:"percent"`
	LargeNumber       string  `json:"largeNumber"`
}

type HealthDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Time   string            `json:"time"`
}

func newHealthDTO(checks map[string]string, now time.Time) HealthDTO {
	status := "ok"
	for _, v := range checks {
		if v != "ok" {
			status = "degraded"
		}
	}
	return HealthDTO{Status: status, Checks: checks, Time: now.UTC().Format(time.RFC3339)}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
