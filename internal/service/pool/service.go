package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"pokervault/internal/model"
	"pokervault/internal/service/escrow"
	appErr "pokervault/pkg/errors"
	"pokervault/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service runs the side-wagering market for a hand. It escrows stakes
// in its own pool account and settles on an externally supplied
// winning-player signal, independent of the hand's own pot.
type Service struct {
	db     *gorm.DB
	escrow *escrow.Service
}

func NewService(db *gorm.DB, escrowSvc *escrow.Service) *Service {
	return &Service{db: db, escrow: escrowSvc}
}

func (s *Service) CreatePool(ctx context.Context, gameID uint64) (*model.BettingPool, error) {
	now := time.Now()
	pool := model.BettingPool{
		GameID:    gameID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.BettingPool
		err := tx.Where("game_id = ?", gameID).First(&existing).Error
		if err == nil {
			return appErr.ErrPoolExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&pool).Error
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Info("betting pool created", zap.Uint64("gameID", gameID))
	return &pool, nil
}

// PlaceBet escrows the stake and records one bet per bettor. A second
// bet from the same bettor is rejected rather than accumulated.
func (s *Service) PlaceBet(ctx context.Context, bettor string, gameID uint64, onPlayer int, amount int64) (*model.Bet, error) {
	if onPlayer != 1 && onPlayer != 2 {
		return nil, appErr.ErrInvalidPlayer
	}
	if amount <= 0 {
		return nil, appErr.ErrBetTooSmall
	}

	var bet model.Bet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pool model.BettingPool
		if err := lockPool(tx, gameID, &pool); err != nil {
			return err
		}
		if pool.IsSettled {
			return appErr.ErrBettingClosed
		}

		var existing model.Bet
		err := tx.Where("game_id = ? AND bettor = ?", gameID, bettor).First(&existing).Error
		if err == nil {
			return appErr.ErrBetExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := s.escrow.Transfer(tx, &gameID, "bet", bettor, escrow.PoolAddress(gameID), amount); err != nil {
			return err
		}

		if onPlayer == 1 {
			pool.TotalPoolPlayer1 += amount
		} else {
			pool.TotalPoolPlayer2 += amount
		}
		pool.TotalBettors++
		pool.UpdatedAt = time.Now()
		if err := tx.Save(&pool).Error; err != nil {
			return err
		}

		bet = model.Bet{
			GameID:      gameID,
			Bettor:      bettor,
			BetOnPlayer: onPlayer,
			Amount:      amount,
			CreatedAt:   pool.UpdatedAt,
			UpdatedAt:   pool.UpdatedAt,
		}
		return tx.Create(&bet).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("bet placed",
		zap.Uint64("gameID", gameID),
		zap.String("bettor", bettor),
		zap.Int("onPlayer", onPlayer),
		zap.Int64("amount", amount),
	)
	return &bet, nil
}

// SettlePool records the winning player once. No funds move here;
// bettors pull their share through ClaimWinnings.
func (s *Service) SettlePool(ctx context.Context, gameID uint64, winningPlayer int) error {
	if winningPlayer != 1 && winningPlayer != 2 {
		return appErr.ErrInvalidPlayer
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pool model.BettingPool
		if err := lockPool(tx, gameID, &pool); err != nil {
			return err
		}
		if pool.IsSettled {
			return appErr.ErrAlreadySettled
		}
		pool.IsSettled = true
		pool.WinningPlayer = winningPlayer
		pool.UpdatedAt = time.Now()
		return tx.Save(&pool).Error
	})
}

// ClaimWinnings pays a winning bettor their proportional share:
// amount * totalPool / winningPool, wide intermediate product,
// truncated toward zero. Losing bets receive nothing.
func (s *Service) ClaimWinnings(ctx context.Context, bettor string, gameID uint64) (int64, error) {
	var payout int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pool model.BettingPool
		if err := lockPool(tx, gameID, &pool); err != nil {
			return err
		}
		if !pool.IsSettled {
			return appErr.ErrNotSettled
		}

		bet, err := lockBet(tx, gameID, bettor)
		if err != nil {
			return err
		}
		if bet.IsClaimed {
			return appErr.ErrAlreadyClaimed
		}
		if bet.BetOnPlayer != pool.WinningPlayer {
			return appErr.ErrLostBet
		}

		totalPool := pool.TotalPoolPlayer1 + pool.TotalPoolPlayer2
		winningPool := pool.TotalPoolPlayer1
		if pool.WinningPlayer == 2 {
			winningPool = pool.TotalPoolPlayer2
		}
		if winningPool <= 0 {
			return appErr.ErrEmptyWinningPool
		}

		payout = proportionalPayout(bet.Amount, totalPool, winningPool)

		bet.IsClaimed = true
		bet.UpdatedAt = time.Now()
		if err := tx.Save(bet).Error; err != nil {
			return err
		}

		return s.escrow.Transfer(tx, &gameID, "claim", escrow.PoolAddress(gameID), bettor, payout)
	})
	if err != nil {
		return 0, err
	}

	logger.Log.Info("bet winnings claimed",
		zap.Uint64("gameID", gameID),
		zap.String("bettor", bettor),
		zap.Int64("payout", payout),
	)
	return payout, nil
}

// RefundBet returns the full stake while the pool is still unsettled,
// covering hands abandoned before any outcome existed. Pool aggregates
// keep their original totals: if the market settles anyway, claims are
// computed against them and are paid first come first served until the
// pool escrow runs dry.
func (s *Service) RefundBet(ctx context.Context, bettor string, gameID uint64) (int64, error) {
	var refund int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pool model.BettingPool
		if err := lockPool(tx, gameID, &pool); err != nil {
			return err
		}
		if pool.IsSettled {
			return appErr.ErrBettingClosed
		}

		bet, err := lockBet(tx, gameID, bettor)
		if err != nil {
			return err
		}
		if bet.IsClaimed {
			return appErr.ErrAlreadyClaimed
		}

		refund = bet.Amount
		bet.IsClaimed = true // blocks a second refund
		bet.UpdatedAt = time.Now()
		if err := tx.Save(bet).Error; err != nil {
			return err
		}

		return s.escrow.Transfer(tx, &gameID, "bet_refund", escrow.PoolAddress(gameID), bettor, refund)
	})
	if err != nil {
		return 0, err
	}

	logger.Log.Info("bet refunded",
		zap.Uint64("gameID", gameID),
		zap.String("bettor", bettor),
		zap.Int64("amount", refund),
	)
	return refund, nil
}

func (s *Service) GetPool(ctx context.Context, gameID uint64) (*model.BettingPool, error) {
	var pool model.BettingPool
	err := s.db.WithContext(ctx).Where("game_id = ?", gameID).First(&pool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrPoolNotFound
		}
		return nil, err
	}
	return &pool, nil
}

// proportionalPayout computes amount * total / winning with a wide
// intermediate so the product cannot overflow int64.
func proportionalPayout(amount, totalPool, winningPool int64) int64 {
	product := new(big.Int).Mul(big.NewInt(amount), big.NewInt(totalPool))
	return new(big.Int).Quo(product, big.NewInt(winningPool)).Int64()
}

func lockPool(tx *gorm.DB, gameID uint64, pool *model.BettingPool) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("game_id = ?", gameID).First(pool).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return appErr.ErrPoolNotFound
	}
	return err
}

func lockBet(tx *gorm.DB, gameID uint64, bettor string) (*model.Bet, error) {
	var bet model.Bet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("game_id = ? AND bettor = ?", gameID, bettor).First(&bet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", appErr.ErrBetNotFound, bettor)
	}
	if err != nil {
		return nil, err
	}
	return &bet, nil
}
