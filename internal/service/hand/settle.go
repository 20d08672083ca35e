package hand

import (
	"context"
	"time"

	"pokervault/internal/model"
	"pokervault/internal/service/delegation"
	"pokervault/internal/service/escrow"
	appErr "pokervault/pkg/errors"
	"pokervault/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Two settlement paths share the phase guard and the structural rule
// that the recorded pot is zeroed in the same transaction that issues
// the payout, before the transfer runs. Both refuse to touch a hand
// whose records are still delegated: the ledger copy would be stale.

// SettlePot pays the recorded pot to the stored winner after the
// showdown result has been relocated back to the ledger.
func (s *Service) SettlePot(ctx context.Context, gameID uint64, winnerAddr string) error {
	var paid int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hand model.Hand
		if err := lockHand(tx, gameID, &hand); err != nil {
			return err
		}
		active, err := delegation.ActiveForGameTx(tx, gameID)
		if err != nil {
			return err
		}
		if active {
			return appErr.ErrDelegationActive
		}
		if hand.Phase != model.PhaseSettled {
			return appErr.ErrInvalidPhase
		}
		if hand.Pot == 0 {
			return appErr.ErrAlreadyClaimed
		}
		if hand.ResultKind != model.ResultWinner || hand.WinnerAddr != winnerAddr {
			return appErr.ErrInvalidPlayer
		}

		paid = hand.Pot
		hand.Pot = 0
		hand.UpdatedAt = time.Now()
		if err := tx.Save(&hand).Error; err != nil {
			return err
		}

		return s.escrow.Transfer(tx, &gameID, "payout", escrow.GameAddress(gameID), winnerAddr, paid)
	})
	if err != nil {
		return err
	}

	logger.Log.Info("pot settled",
		zap.Uint64("gameID", gameID),
		zap.String("winner", winnerAddr),
		zap.Int64("amount", paid),
	)
	return nil
}

// SettleGameDirect settles in one call from an externally computed
// winner index. The winner receives actualPot capped at the escrowed
// total; the loser is refunded the remainder. A zero or oversized
// actualPot falls back to winner-take-all.
func (s *Service) SettleGameDirect(ctx context.Context, gameID uint64, winnerIndex int, actualPot int64, winnerAddr, loserAddr string) error {
	var hand model.Hand
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockHand(tx, gameID, &hand); err != nil {
			return err
		}
		active, err := delegation.ActiveForGameTx(tx, gameID)
		if err != nil {
			return err
		}
		if active {
			return appErr.ErrDelegationActive
		}
		if hand.Phase == model.PhaseSettled {
			return appErr.ErrAlreadySettled
		}
		if hand.Player1 == "" || hand.Player2 == "" {
			return appErr.ErrMissingOpponent
		}

		var wantWinner, wantLoser string
		switch winnerIndex {
		case 0:
			wantWinner, wantLoser = hand.Player1, hand.Player2
		case 1:
			wantWinner, wantLoser = hand.Player2, hand.Player1
		default:
			return appErr.ErrInvalidPlayer
		}
		if winnerAddr != wantWinner || loserAddr != wantLoser {
			return appErr.ErrInvalidPlayer
		}

		totalEscrowed := hand.Pot
		cappedPot := totalEscrowed // winner-take-all fallback
		if actualPot > 0 && actualPot <= totalEscrowed {
			cappedPot = actualPot
		}
		loserRefund := totalEscrowed - cappedPot

		hand.ResultKind = model.ResultWinner
		hand.WinnerAddr = wantWinner
		hand.Phase = model.PhaseSettled
		hand.Pot = 0
		hand.UpdatedAt = time.Now()
		if err := tx.Save(&hand).Error; err != nil {
			return err
		}

		if cappedPot > 0 {
			if err := s.escrow.Transfer(tx, &gameID, "payout", escrow.GameAddress(gameID), wantWinner, cappedPot); err != nil {
				return err
			}
		}
		if loserRefund > 0 {
			if err := s.escrow.Transfer(tx, &gameID, "refund", escrow.GameAddress(gameID), wantLoser, loserRefund); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Log.Info("game settled directly",
		zap.Uint64("gameID", gameID),
		zap.String("winner", winnerAddr),
	)
	s.publish(&hand)
	return nil
}
