package hand_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pokervault/internal/model"
	"pokervault/internal/service/delegation"
	"pokervault/internal/service/escrow"
	"pokervault/internal/service/hand"
	appErr "pokervault/pkg/errors"
	"pokervault/pkg/logger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type env struct {
	db    *gorm.DB
	esc   *escrow.Service
	deleg *delegation.Service
	svc   *hand.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger.InitLogger("debug")

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&model.Hand{}, &model.PlayerHand{}, &model.BettingPool{},
		&model.Delegation{}, &model.EscrowAccount{}, &model.LedgerLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate models: %v", err)
	}

	esc := escrow.NewService(db)
	deleg := delegation.NewService(db, delegation.NewMemoryStore())
	return &env{
		db:    db,
		esc:   esc,
		deleg: deleg,
		svc:   hand.NewService(db, esc, deleg, nil),
	}
}

func (e *env) fund(t *testing.T, address string, amount int64) {
	t.Helper()
	if err := e.esc.Deposit(context.Background(), address, amount); err != nil {
		t.Fatalf("failed to fund %s: %v", address, err)
	}
}

func (e *env) balance(t *testing.T, address string) int64 {
	t.Helper()
	balance, err := e.esc.Balance(context.Background(), address)
	if err != nil {
		t.Fatalf("failed to read balance of %s: %v", address, err)
	}
	return balance
}

// delegate hands the game record and every listed player hand to the
// private context.
func (e *env) delegate(t *testing.T, gameID uint64, players ...string) {
	t.Helper()
	ctx := context.Background()
	if err := e.deleg.Delegate(ctx, delegation.HandSelector(gameID), "validator-1"); err != nil {
		t.Fatalf("failed to delegate hand: %v", err)
	}
	for _, player := range players {
		if err := e.deleg.Delegate(ctx, delegation.PlayerHandSelector(gameID, player), "validator-1"); err != nil {
			t.Fatalf("failed to delegate player hand %s: %v", player, err)
		}
	}
}

// startedHand funds both players, creates and joins a hand with
// buyIn=100 and returns its id. Pot is 200, pre-flop, player2 to act.
func (e *env) startedHand(t *testing.T) uint64 {
	t.Helper()
	ctx := context.Background()
	e.fund(t, "alice", 1000)
	e.fund(t, "bob", 1000)
	if _, err := e.svc.CreateHand(ctx, "alice", 1, 100); err != nil {
		t.Fatalf("failed to create hand: %v", err)
	}
	if _, err := e.svc.JoinHand(ctx, "bob", 1); err != nil {
		t.Fatalf("failed to join hand: %v", err)
	}
	return 1
}

func (e *env) deal(t *testing.T, gameID uint64) {
	t.Helper()
	err := e.svc.DealCards(context.Background(), gameID,
		[]byte{10, 11}, []byte{20, 21}, []byte{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("failed to deal cards: %v", err)
	}
}

func TestCreateAndJoinHand(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, "alice", 1000)
	e.fund(t, "bob", 1000)
	e.fund(t, "carol", 1000)

	created, err := e.svc.CreateHand(ctx, "alice", 1, 100)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.Phase != model.PhaseWaitingForPlayer || created.Pot != 100 || created.Turn != 0 {
		t.Fatalf("unexpected created hand: %+v", created)
	}

	if _, err := e.svc.CreateHand(ctx, "carol", 1, 100); !errors.Is(err, appErr.ErrGameExists) {
		t.Fatalf("expected ErrGameExists, got %v", err)
	}
	if _, err := e.svc.JoinHand(ctx, "alice", 1); !errors.Is(err, appErr.ErrCannotJoinOwnGame) {
		t.Fatalf("expected ErrCannotJoinOwnGame, got %v", err)
	}

	joined, err := e.svc.JoinHand(ctx, "bob", 1)
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if joined.Phase != model.PhasePreFlop || joined.Pot != 200 || joined.Turn != 2 {
		t.Fatalf("unexpected joined hand: %+v", joined)
	}

	if _, err := e.svc.JoinHand(ctx, "carol", 1); !errors.Is(err, appErr.ErrGameFull) {
		t.Fatalf("expected ErrGameFull, got %v", err)
	}

	if got := e.balance(t, "alice"); got != 900 {
		t.Fatalf("expected alice balance 900, got %d", got)
	}
	if got := e.balance(t, escrow.GameAddress(1)); got != 200 {
		t.Fatalf("expected game escrow 200, got %d", got)
	}
}

func TestCreateHandValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, "alice", 1000)

	if _, err := e.svc.CreateHand(ctx, "alice", 1, 0); !errors.Is(err, appErr.ErrInvalidBuyIn) {
		t.Fatalf("expected ErrInvalidBuyIn, got %v", err)
	}
	if _, err := e.svc.CreateHand(ctx, "alice", 1, 5000); !errors.Is(err, appErr.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := e.svc.JoinHand(ctx, "alice", 99); !errors.Is(err, appErr.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}
}

func TestCancelHandRefunds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, "alice", 1000)
	e.fund(t, "bob", 1000)

	if _, err := e.svc.CreateHand(ctx, "alice", 1, 100); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := e.svc.CancelHand(ctx, "bob", 1); !errors.Is(err, appErr.ErrNotInGame) {
		t.Fatalf("expected ErrNotInGame, got %v", err)
	}
	if err := e.svc.CancelHand(ctx, "alice", 1); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if got := e.balance(t, "alice"); got != 1000 {
		t.Fatalf("expected refund back to 1000, got %d", got)
	}
	if got := e.balance(t, escrow.GameAddress(1)); got != 0 {
		t.Fatalf("expected empty game escrow, got %d", got)
	}

	state, err := e.svc.GetHand(ctx, 1)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.Phase != model.PhaseSettled {
		t.Fatalf("expected settled phase, got %s", state.Phase)
	}
	if _, err := e.svc.JoinHand(ctx, "bob", 1); !errors.Is(err, appErr.ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestJoinBlockedWhileDelegated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, "alice", 1000)
	e.fund(t, "bob", 1000)

	if _, err := e.svc.CreateHand(ctx, "alice", 1, 100); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	e.delegate(t, 1)

	if _, err := e.svc.JoinHand(ctx, "bob", 1); !errors.Is(err, appErr.ErrDelegationActive) {
		t.Fatalf("expected ErrDelegationActive, got %v", err)
	}
	if got := e.balance(t, "bob"); got != 1000 {
		t.Fatalf("bob charged by rejected join: %d", got)
	}
}

func TestCancelBlockedWhileDelegated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.fund(t, "alice", 1000)

	if _, err := e.svc.CreateHand(ctx, "alice", 1, 100); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	e.delegate(t, 1)

	if err := e.svc.CancelHand(ctx, "alice", 1); !errors.Is(err, appErr.ErrDelegationActive) {
		t.Fatalf("expected ErrDelegationActive, got %v", err)
	}
	if got := e.balance(t, escrow.GameAddress(1)); got != 100 {
		t.Fatalf("escrow drained by rejected cancel: %d", got)
	}
}

func TestCancelAfterJoinRejected(t *testing.T) {
	e := newEnv(t)
	gameID := e.startedHand(t)

	err := e.svc.CancelHand(context.Background(), "alice", gameID)
	if !errors.Is(err, appErr.ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestActionsRequireDelegation(t *testing.T) {
	e := newEnv(t)
	gameID := e.startedHand(t)

	err := e.svc.PlayerAction(context.Background(), "bob", gameID, hand.Action{Type: hand.ActionCheck})
	if !errors.Is(err, appErr.ErrNotDelegated) {
		t.Fatalf("expected ErrNotDelegated, got %v", err)
	}
}

func TestBettingRound(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	gameID := e.startedHand(t)
	e.delegate(t, gameID, "alice", "bob")
	e.deal(t, gameID)

	// Non-dealer acts first.
	err := e.svc.PlayerAction(ctx, "alice", gameID, hand.Action{Type: hand.ActionCheck})
	if !errors.Is(err, appErr.ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if err := e.svc.PlayerAction(ctx, "bob", gameID, hand.Action{Type: hand.ActionCheck}); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	if err := e.svc.PlayerAction(ctx, "alice", gameID, hand.Action{Type: hand.ActionRaise, Amount: 50}); err != nil {
		t.Fatalf("raise failed: %v", err)
	}
	h, err := e.deleg.LoadHand(ctx, gameID)
	if err != nil {
		t.Fatalf("load hand failed: %v", err)
	}
	if h.CurrentBet != 50 || h.Pot != 250 || h.Turn != 2 {
		t.Fatalf("unexpected state after raise: bet=%d pot=%d turn=%d", h.CurrentBet, h.Pot, h.Turn)
	}

	// A matching raise is not a raise, and checking into a bet is not
	// allowed either.
	err = e.svc.PlayerAction(ctx, "bob", gameID, hand.Action{Type: hand.ActionRaise, Amount: 50})
	if !errors.Is(err, appErr.ErrRaiseTooSmall) {
		t.Fatalf("expected ErrRaiseTooSmall, got %v", err)
	}
	err = e.svc.PlayerAction(ctx, "bob", gameID, hand.Action{Type: hand.ActionCheck})
	if !errors.Is(err, appErr.ErrMustCallOrRaise) {
		t.Fatalf("expected ErrMustCallOrRaise, got %v", err)
	}

	if err := e.svc.PlayerAction(ctx, "bob", gameID, hand.Action{Type: hand.ActionCall}); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	h, _ = e.deleg.LoadHand(ctx, gameID)
	if h.Pot != 300 {
		t.Fatalf("expected pot 300 after call, got %d", h.Pot)
	}

	// Pot always equals the sum of both players' total contributions.
	ph1, err := e.deleg.LoadPlayerHand(ctx, gameID, "alice")
	if err != nil {
		t.Fatalf("load player hand failed: %v", err)
	}
	ph2, err := e.deleg.LoadPlayerHand(ctx, gameID, "bob")
	if err != nil {
		t.Fatalf("load player hand failed: %v", err)
	}
	if ph1.TotalBet+ph2.TotalBet != h.Pot {
		t.Fatalf("pot %d does not match contributions %d+%d", h.Pot, ph1.TotalBet, ph2.TotalBet)
	}

	if err := e.svc.AdvancePhase(ctx, gameID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	h, _ = e.deleg.LoadHand(ctx, gameID)
	if h.Phase != model.PhaseFlop || h.CommunityCardCount != 3 || h.CurrentBet != 0 || h.Turn != 2 {
		t.Fatalf("unexpected state after advance: %+v", h)
	}
	ph1, _ = e.deleg.LoadPlayerHand(ctx, gameID, "alice")
	ph2, _ = e.deleg.LoadPlayerHand(ctx, gameID, "bob")
	if ph1.CurrentBet != 0 || ph2.CurrentBet != 0 {
		t.Fatalf("round bets not reset: %d %d", ph1.CurrentBet, ph2.CurrentBet)
	}
}

func TestPhaseLadder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	gameID := e.startedHand(t)
	e.delegate(t, gameID, "alice", "bob")
	e.deal(t, gameID)

	want := []struct {
		phase string
		cards int
	}{
		{model.PhaseFlop, 3},
		{model.PhaseTurn, 4},
		{model.PhaseRiver, 5},
		{model.PhaseShowdown, 5},
	}
	for _, step := range want {
		if err := e.svc.AdvancePhase(ctx, gameID); err != nil {
			t.Fatalf("advance to %s failed: %v", step.phase, err)
		}
		h, err := e.deleg.LoadHand(ctx, gameID)
		if err != nil {
			t.Fatalf("load hand failed: %v", err)
		}
		if h.Phase != step.phase || h.CommunityCardCount != step.cards {
			t.Fatalf("expected %s with %d cards, got %s with %d", step.phase, step.cards, h.Phase, h.CommunityCardCount)
		}
	}

	if err := e.svc.AdvancePhase(ctx, gameID); !errors.Is(err, appErr.ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase past showdown, got %v", err)
	}
}

func TestFoldShortCircuitsToShowdown(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	gameID := e.startedHand(t)
	e.delegate(t, gameID, "alice", "bob")
	e.deal(t, gameID)

	if err := e.svc.PlayerAction(ctx, "bob", gameID, hand.Action{Type: hand.ActionFold}); err != nil {
		t.Fatalf("fold failed: %v", err)
	}

	h, err := e.deleg.LoadHand(ctx, gameID)
	if err != nil {
		t.Fatalf("load hand failed: %v", err)
	}
	if h.Phase != model.PhaseShowdown || h.ResultKind != model.ResultWinner || h.WinnerAddr != "alice" {
		t.Fatalf("unexpected state after fold: %+v", h)
	}

	err = e.svc.PlayerAction(ctx, "bob", gameID, hand.Action{Type: hand.ActionCheck})
	if !errors.Is(err, appErr.ErrAlreadyFolded) {
		t.Fatalf("expected ErrAlreadyFolded, got %v", err)
	}
}

func TestAllInForcesFullPot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	gameID := e.startedHand(t)
	e.delegate(t, gameID, "alice", "bob")
	e.deal(t, gameID)

	if err := e.svc.PlayerAction(ctx, "bob", gameID, hand.Action{Type: hand.ActionAllIn}); err != nil {
		t.Fatalf("all-in failed: %v", err)
	}

	h, _ := e.deleg.LoadHand(ctx, gameID)
	if h.Pot != 200 {
		t.Fatalf("expected pot forced to 200, got %d", h.Pot)
	}
	ph, err := e.deleg.LoadPlayerHand(ctx, gameID, "bob")
	if err != nil {
		t.Fatalf("load player hand failed: %v", err)
	}
	if !ph.IsAllIn || ph.TotalBet != 100 {
		t.Fatalf("unexpected player state after all-in: %+v", ph)
	}
}

func TestDealCardsValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	gameID := e.startedHand(t)
	e.delegate(t, gameID, "alice", "bob")

	if err := e.svc.DealCards(ctx, gameID, []byte{1}, []byte{2, 3}, []byte{1, 2, 3, 4, 5}); err == nil {
		t.Fatal("expected error for short hole cards")
	}
	if err := e.svc.DealCards(ctx, gameID, []byte{1, 2}, []byte{3, 4}, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short board")
	}
	e.deal(t, gameID)

	// Dealing twice only works pre-flop.
	if err := e.svc.AdvancePhase(ctx, gameID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	err := e.svc.DealCards(ctx, gameID, []byte{1, 2}, []byte{3, 4}, []byte{1, 2, 3, 4, 5})
	if !errors.Is(err, appErr.ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
}
