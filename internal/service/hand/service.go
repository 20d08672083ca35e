package hand

import (
	"context"
	"errors"
	"time"

	"pokervault/internal/model"
	"pokervault/internal/service/delegation"
	"pokervault/internal/service/escrow"
	appErr "pokervault/pkg/errors"
	"pokervault/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Notifier receives the public view of a hand after ledger-side
// mutations. Nil disables the stream.
type Notifier interface {
	PublishHand(gameID uint64, state State)
}

// State is the public projection of a hand: community cards only up
// to the revealed count, never hole cards.
type State struct {
	GameID         uint64 `json:"gameId"`
	Player1        string `json:"player1"`
	Player2        string `json:"player2,omitempty"`
	BuyIn          int64  `json:"buyIn"`
	Pot            int64  `json:"pot"`
	Phase          string `json:"phase"`
	CurrentBet     int64  `json:"currentBet"`
	CommunityCards []int  `json:"communityCards"`
	Dealer         int    `json:"dealer"`
	Turn           int    `json:"turn"`
	ResultKind     string `json:"resultKind"`
	WinnerAddr     string `json:"winnerAddr,omitempty"`
}

type Service struct {
	db       *gorm.DB
	escrow   *escrow.Service
	deleg    *delegation.Service
	notifier Notifier
}

func NewService(db *gorm.DB, escrowSvc *escrow.Service, delegSvc *delegation.Service, notifier Notifier) *Service {
	return &Service{db: db, escrow: escrowSvc, deleg: delegSvc, notifier: notifier}
}

// CreateHand opens a game room. The caller becomes player1 and their
// buy-in moves into the game's escrow account immediately. An existing
// game id is reusable only once fully settled with a zero pot.
func (s *Service) CreateHand(ctx context.Context, caller string, gameID uint64, buyIn int64) (*model.Hand, error) {
	if buyIn <= 0 {
		return nil, appErr.ErrInvalidBuyIn
	}

	var hand model.Hand
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Hand
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("game_id = ?", gameID).First(&existing).Error
		switch {
		case err == nil:
			active, err := delegation.ActiveForGameTx(tx, gameID)
			if err != nil {
				return err
			}
			if active {
				return appErr.ErrDelegationActive
			}
			if existing.Phase != model.PhaseSettled || existing.Pot != 0 {
				return appErr.ErrGameExists
			}
			if err := tx.Where("game_id = ?", gameID).Delete(&model.PlayerHand{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := s.escrow.Transfer(tx, &gameID, "buy_in", caller, escrow.GameAddress(gameID), buyIn); err != nil {
			return err
		}

		now := time.Now()
		hand = model.Hand{
			GameID:         gameID,
			Player1:        caller,
			BuyIn:          buyIn,
			Pot:            buyIn,
			Phase:          model.PhaseWaitingForPlayer,
			CommunityCards: make([]byte, model.MaxCommunityCards),
			Dealer:         0, // player1 deals, acts second
			Turn:           0, // unset until player2 joins
			ResultKind:     model.ResultNone,
			DeckSeed:       gameID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&hand).Error; err != nil {
			return err
		}

		return tx.Create(&model.PlayerHand{
			GameID:    gameID,
			Player:    caller,
			Cards:     make([]byte, model.MaxHandCards),
			TotalBet:  buyIn,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("hand created",
		zap.Uint64("gameID", gameID),
		zap.String("player1", caller),
		zap.Int64("buyIn", buyIn),
	)
	s.publish(&hand)
	return &hand, nil
}

// JoinHand seats the caller as player2, funds their buy-in and opens
// the pre-flop betting round with the non-dealer to act.
func (s *Service) JoinHand(ctx context.Context, caller string, gameID uint64) (*model.Hand, error) {
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
		if hand.Player1 == caller {
			return appErr.ErrCannotJoinOwnGame
		}
		if hand.Player2 != "" {
			return appErr.ErrGameFull
		}
		if hand.Phase != model.PhaseWaitingForPlayer {
			return appErr.ErrInvalidPhase
		}

		if err := s.escrow.Transfer(tx, &gameID, "buy_in", caller, escrow.GameAddress(gameID), hand.BuyIn); err != nil {
			return err
		}

		now := time.Now()
		hand.Player2 = caller
		hand.Pot += hand.BuyIn
		hand.Phase = model.PhasePreFlop
		hand.Turn = nonDealerTurn(hand.Dealer)
		hand.UpdatedAt = now
		if err := tx.Save(&hand).Error; err != nil {
			return err
		}

		return tx.Create(&model.PlayerHand{
			GameID:    gameID,
			Player:    caller,
			Cards:     make([]byte, model.MaxHandCards),
			TotalBet:  hand.BuyIn,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("player joined hand",
		zap.Uint64("gameID", gameID),
		zap.String("player2", caller),
	)
	s.publish(&hand)
	return &hand, nil
}

// CancelHand refunds player1 while the hand is still waiting for an
// opponent. The hand is marked settled so the id cannot be replayed.
func (s *Service) CancelHand(ctx context.Context, caller string, gameID uint64) error {
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
		if hand.Phase != model.PhaseWaitingForPlayer {
			return appErr.ErrInvalidPhase
		}
		if hand.Player1 != caller {
			return appErr.ErrNotInGame
		}

		refund := hand.Pot
		hand.Pot = 0
		hand.Phase = model.PhaseSettled
		hand.UpdatedAt = time.Now()
		if err := tx.Save(&hand).Error; err != nil {
			return err
		}

		if refund > 0 {
			return s.escrow.Transfer(tx, &gameID, "refund", escrow.GameAddress(gameID), caller, refund)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Log.Info("hand cancelled", zap.Uint64("gameID", gameID))
	return nil
}

// GetHand returns the public ledger view of a hand.
func (s *Service) GetHand(ctx context.Context, gameID uint64) (*State, error) {
	var hand model.Hand
	err := s.db.WithContext(ctx).Where("game_id = ?", gameID).First(&hand).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrGameNotFound
		}
		return nil, err
	}
	state := PublicState(&hand)
	return &state, nil
}

// PublicState projects a hand record into its spectator view.
func PublicState(hand *model.Hand) State {
	revealed := make([]int, 0, hand.CommunityCardCount)
	for i := 0; i < hand.CommunityCardCount && i < len(hand.CommunityCards); i++ {
		revealed = append(revealed, int(hand.CommunityCards[i]))
	}
	return State{
		GameID:         hand.GameID,
		Player1:        hand.Player1,
		Player2:        hand.Player2,
		BuyIn:          hand.BuyIn,
		Pot:            hand.Pot,
		Phase:          hand.Phase,
		CurrentBet:     hand.CurrentBet,
		CommunityCards: revealed,
		Dealer:         hand.Dealer,
		Turn:           hand.Turn,
		ResultKind:     hand.ResultKind,
		WinnerAddr:     hand.WinnerAddr,
	}
}

func (s *Service) publish(hand *model.Hand) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishHand(hand.GameID, PublicState(hand))
}

func lockHand(tx *gorm.DB, gameID uint64, hand *model.Hand) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("game_id = ?", gameID).First(hand).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return appErr.ErrGameNotFound
	}
	return err
}

func nonDealerTurn(dealer int) int {
	if dealer == 0 {
		return 2
	}
	return 1
}

func otherTurn(playerNum int) int {
	return 3 - playerNum
}

func saturatingSub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}
