package hand

import (
	"context"
	"fmt"

	"pokervault/internal/model"
	"pokervault/internal/service/delegation"
	appErr "pokervault/pkg/errors"
	"pokervault/pkg/logger"

	"go.uber.org/zap"
)

// The operations in this file run against the private compute context:
// they mutate the delegated snapshots, never the public ledger rows.
// Calling them for a hand that was not delegated fails with
// ErrNotDelegated from the snapshot load.

type ActionType string

const (
	ActionFold  ActionType = "fold"
	ActionCheck ActionType = "check"
	ActionCall  ActionType = "call"
	ActionRaise ActionType = "raise"
	ActionAllIn ActionType = "all_in"
)

type Action struct {
	Type   ActionType `json:"type"`
	Amount int64      `json:"amount,omitempty"` // raise only
}

// DealCards writes both players' hole cards and the concealed
// community board. Pre-flop only.
func (s *Service) DealCards(ctx context.Context, gameID uint64, player1Cards, player2Cards, communityCards []byte) error {
	if len(player1Cards) != model.MaxHandCards || len(player2Cards) != model.MaxHandCards {
		return fmt.Errorf("each player takes exactly %d cards", model.MaxHandCards)
	}
	if len(communityCards) != model.MaxCommunityCards {
		return fmt.Errorf("community board takes exactly %d cards", model.MaxCommunityCards)
	}

	hand, err := s.deleg.LoadHand(ctx, gameID)
	if err != nil {
		return err
	}
	if hand.Phase != model.PhasePreFlop {
		return appErr.ErrInvalidPhase
	}
	if hand.Player2 == "" {
		return appErr.ErrMissingOpponent
	}

	hand.CommunityCards = append([]byte(nil), communityCards...)
	if err := s.deleg.SaveHand(ctx, hand); err != nil {
		return err
	}

	for player, cards := range map[string][]byte{
		hand.Player1: player1Cards,
		hand.Player2: player2Cards,
	} {
		ph, err := s.deleg.LoadPlayerHand(ctx, gameID, player)
		if err != nil {
			return err
		}
		ph.Cards = append([]byte(nil), cards...)
		if err := s.deleg.SavePlayerHand(ctx, ph); err != nil {
			return err
		}
	}

	logger.Log.Info("cards dealt", zap.Uint64("gameID", gameID))
	return nil
}

// PlayerAction applies one betting action for the caller. Phase never
// advances here except for the fold short-circuit to showdown.
func (s *Service) PlayerAction(ctx context.Context, caller string, gameID uint64, action Action) error {
	hand, err := s.deleg.LoadHand(ctx, gameID)
	if err != nil {
		return err
	}

	var playerNum int
	switch {
	case caller != "" && caller == hand.Player1:
		playerNum = 1
	case caller != "" && caller == hand.Player2:
		playerNum = 2
	default:
		return appErr.ErrNotInGame
	}
	if hand.Turn != playerNum {
		return appErr.ErrNotYourTurn
	}

	ph, err := s.deleg.LoadPlayerHand(ctx, gameID, caller)
	if err != nil {
		return err
	}
	if ph.HasFolded {
		return appErr.ErrAlreadyFolded
	}

	switch action.Type {
	case ActionFold:
		ph.HasFolded = true
		hand.ResultKind = model.ResultWinner
		if playerNum == 1 {
			hand.WinnerAddr = hand.Player2
		} else {
			hand.WinnerAddr = hand.Player1
		}
		hand.Phase = model.PhaseShowdown

	case ActionCheck:
		if hand.CurrentBet != ph.CurrentBet {
			return appErr.ErrMustCallOrRaise
		}
		hand.Turn = otherTurn(playerNum)

	case ActionCall:
		callAmount := saturatingSub(hand.CurrentBet, ph.CurrentBet)
		ph.CurrentBet = hand.CurrentBet
		ph.TotalBet += callAmount
		hand.Pot += callAmount
		hand.Turn = otherTurn(playerNum)

	case ActionRaise:
		if action.Amount <= hand.CurrentBet {
			return appErr.ErrRaiseTooSmall
		}
		raiseDiff := saturatingSub(action.Amount, ph.CurrentBet)
		ph.CurrentBet = action.Amount
		ph.TotalBet += raiseDiff
		hand.CurrentBet = action.Amount
		hand.Pot += raiseDiff
		hand.Turn = otherTurn(playerNum)

	case ActionAllIn:
		// Both-in convention: the pot is forced to the full escrowed
		// stake of both players, no partial side-pot math.
		ph.IsAllIn = true
		ph.CurrentBet = hand.CurrentBet
		ph.TotalBet += saturatingSub(hand.BuyIn, ph.TotalBet)
		hand.Pot = hand.BuyIn * 2
		hand.Turn = otherTurn(playerNum)

	default:
		return fmt.Errorf("unsupported action %q", action.Type)
	}

	if err := s.deleg.SavePlayerHand(ctx, ph); err != nil {
		return err
	}
	return s.deleg.SaveHand(ctx, hand)
}

// AdvancePhase reveals the next tranche of community cards and opens
// a fresh betting round with the non-dealer to act.
func (s *Service) AdvancePhase(ctx context.Context, gameID uint64) error {
	hand, err := s.deleg.LoadHand(ctx, gameID)
	if err != nil {
		return err
	}

	switch hand.Phase {
	case model.PhasePreFlop:
		hand.Phase = model.PhaseFlop
		hand.CommunityCardCount = 3
	case model.PhaseFlop:
		hand.Phase = model.PhaseTurn
		hand.CommunityCardCount = 4
	case model.PhaseTurn:
		hand.Phase = model.PhaseRiver
		hand.CommunityCardCount = 5
	case model.PhaseRiver:
		hand.Phase = model.PhaseShowdown
	default:
		return appErr.ErrInvalidPhase
	}

	hand.CurrentBet = 0
	hand.Turn = nonDealerTurn(hand.Dealer)
	if err := s.deleg.SaveHand(ctx, hand); err != nil {
		return err
	}

	for _, player := range []string{hand.Player1, hand.Player2} {
		if player == "" {
			continue
		}
		ph, err := s.deleg.LoadPlayerHand(ctx, gameID, player)
		if err != nil {
			return err
		}
		ph.CurrentBet = 0
		if err := s.deleg.SavePlayerHand(ctx, ph); err != nil {
			return err
		}
	}
	return nil
}

// RevealWinner finalizes the outcome in the private context, then
// flushes hand and both player hands and commits them back to the
// public ledger in one batch. This is the only relocation trigger:
// until it succeeds the ledger copy stays stale and unsettleable.
func (s *Service) RevealWinner(ctx context.Context, gameID uint64, winnerIndex int) error {
	hand, err := s.deleg.LoadHand(ctx, gameID)
	if err != nil {
		return err
	}
	if hand.Phase != model.PhaseShowdown {
		return appErr.ErrInvalidPhase
	}
	if hand.Player2 == "" {
		return appErr.ErrMissingOpponent
	}

	switch winnerIndex {
	case 0:
		hand.ResultKind = model.ResultWinner
		hand.WinnerAddr = hand.Player1
	case 1:
		hand.ResultKind = model.ResultWinner
		hand.WinnerAddr = hand.Player2
	default:
		hand.ResultKind = model.ResultTie
		hand.WinnerAddr = ""
	}
	hand.Phase = model.PhaseSettled

	if err := s.deleg.SaveHand(ctx, hand); err != nil {
		return err
	}

	sels := []delegation.Selector{
		delegation.HandSelector(gameID),
		delegation.PlayerHandSelector(gameID, hand.Player1),
		delegation.PlayerHandSelector(gameID, hand.Player2),
	}
	if err := s.deleg.Flush(ctx, sels...); err != nil {
		return err
	}
	if err := s.deleg.CommitAndUndelegate(ctx, sels); err != nil {
		return err
	}

	logger.Log.Info("winner revealed and state relocated",
		zap.Uint64("gameID", gameID),
		zap.String("result", hand.ResultKind),
		zap.String("winner", hand.WinnerAddr),
	)
	s.publish(hand)
	return nil
}
