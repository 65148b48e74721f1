package market

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/market-engine/generic"
)

// =============================================================================
// SERVICE
// =============================================================================

// Recorder receives committed subsidies. Implemented by the metrics package.
type Recorder interface {
	SubsidyAdded(net generic.Amount)
}

type nopRecorder struct{}

func (nopRecorder) SubsidyAdded(generic.Amount) {}

type Service struct {
	coord    *generic.Coordinator
	ledger   generic.Ledger
	fee      decimal.Decimal
	logger   *zap.Logger
	recorder Recorder

	Now   func() time.Time
	NewID func() string
}

// NewService creates a subsidy service. fee is the fraction of every
// subsidy kept by the platform, in [0, 1).
func NewService(coord *generic.Coordinator, ledger generic.Ledger, fee decimal.Decimal, logger *zap.Logger, recorder Recorder) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		coord:    coord,
		ledger:   ledger,
		fee:      fee,
		logger:   logger.Named("market"),
		recorder: recorder,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// AddLiquidity moves amount from userID into the subsidy pool of
// contractID. Preconditions are checked in this order, each with its own
// error kind: caller account, contract, mechanism, close time, amount,
// balance.
func (s *Service) AddLiquidity(ctx context.Context, contractID string, amount float64, userID generic.AccountID) (LiquidityProvision, error) {
	prov, err := generic.RunValue(ctx, s.coord, "add_liquidity", func(ctx context.Context, gtx generic.Tx) (LiquidityProvision, error) {
		tx, ok := gtx.(Tx)
		if !ok {
			return LiquidityProvision{}, generic.ErrStoreRequired
		}
		return s.addLiquidity(ctx, tx, contractID, amount, userID)
	})
	if err != nil {
		s.logger.Info("add liquidity rejected",
			zap.String("contract_id", contractID),
			zap.String("user_id", string(userID)),
			zap.Float64("amount", amount),
			zap.Error(err),
		)
		return LiquidityProvision{}, err
	}

	s.recorder.SubsidyAdded(prov.Amount)
	s.logger.Info("liquidity added",
		zap.String("contract_id", contractID),
		zap.String("user_id", string(userID)),
		zap.Stringer("net", prov.Amount),
		zap.Stringer("subsidy_pool", prov.SubsidyPool),
	)
	return prov, nil
}

func (s *Service) addLiquidity(ctx context.Context, tx Tx, contractID string, amount float64, userID generic.AccountID) (LiquidityProvision, error) {
	user, err := tx.Account(ctx, userID)
	if err != nil {
		if generic.IsNotFound(err) {
			return LiquidityProvision{}, generic.Wrap(generic.ErrUnauthorized, err, "Your account was not found")
		}
		return LiquidityProvision{}, err
	}

	contract, err := tx.Contract(ctx, contractID)
	if err != nil {
		if generic.IsNotFound(err) {
			return LiquidityProvision{}, generic.Wrap(generic.ErrNotFound, err, "Contract not found")
		}
		return LiquidityProvision{}, err
	}
	if !contract.Mechanism.AcceptsSubsidy() {
		return LiquidityProvision{}, generic.Errorf(generic.ErrUnsupportedKind,
			"Invalid contract, only %s and %s are supported", MechanismCPMM, MechanismCPMMMulti)
	}

	now := s.Now().UTC()
	if contract.IsClosed(now) {
		return LiquidityProvision{}, generic.Errorf(generic.ErrClosed, "Trading is closed")
	}

	gross, err := generic.AmountFromFloat(amount, generic.TokenMana)
	if err != nil || !gross.IsPositive() {
		return LiquidityProvision{}, generic.Wrap(generic.ErrInvalidAmount, err, "Invalid amount")
	}

	if user.Balance.LessThan(gross) {
		return LiquidityProvision{}, generic.Wrap(generic.ErrInsufficientBalance,
			&generic.InsufficientBalanceError{AccountID: userID, Available: user.Balance, Requested: gross},
			"Insufficient balance")
	}

	entry, err := s.ledger.Transfer(ctx, tx, generic.Transfer{
		FromID:         userID,
		FromType:       generic.AccountUser,
		ToID:           generic.AccountID(contractID),
		ToType:         generic.AccountContract,
		Amount:         gross,
		Category:       generic.CategoryAddSubsidy,
		FeeRate:        s.fee,
		CountAsDeposit: true,
	})
	if err != nil {
		return LiquidityProvision{}, err
	}

	net := entry.Net()
	if err := tx.IncrementPool(ctx, contractID, net); err != nil {
		return LiquidityProvision{}, err
	}

	prov := LiquidityProvision{
		ID:             s.NewID(),
		ContractID:     contractID,
		UserID:         userID,
		Amount:         net,
		SubsidyPool:    contract.SubsidyPool.Add(net),
		TotalLiquidity: contract.TotalLiquidity.Add(net),
		CreatedAt:      now,
	}
	if err := tx.InsertProvision(ctx, prov); err != nil {
		return LiquidityProvision{}, err
	}
	return prov, nil
}
