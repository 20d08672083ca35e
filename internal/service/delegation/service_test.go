package delegation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pokervault/internal/model"
	"pokervault/internal/service/delegation"
	appErr "pokervault/pkg/errors"
	"pokervault/pkg/logger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*gorm.DB, *delegation.Service) {
	t.Helper()
	logger.InitLogger("debug")

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&model.Hand{}, &model.PlayerHand{},
		&model.BettingPool{}, &model.Delegation{},
	)
	if err != nil {
		t.Fatalf("failed to migrate models: %v", err)
	}
	return db, delegation.NewService(db, delegation.NewMemoryStore())
}

func seedHand(t *testing.T, db *gorm.DB, gameID uint64) {
	t.Helper()
	now := time.Now()
	err := db.Create(&model.Hand{
		GameID:         gameID,
		Player1:        "alice",
		Player2:        "bob",
		BuyIn:          100,
		Pot:            200,
		Phase:          model.PhasePreFlop,
		CommunityCards: make([]byte, model.MaxCommunityCards),
		Turn:           2,
		ResultKind:     model.ResultNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}).Error
	if err != nil {
		t.Fatalf("failed to seed hand: %v", err)
	}
}

func TestDelegateFailsFast(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)
	seedHand(t, db, 1)

	sel := delegation.HandSelector(1)
	if err := svc.Delegate(ctx, sel, "validator-1"); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}
	if err := svc.Delegate(ctx, sel, "validator-1"); !errors.Is(err, appErr.ErrAlreadyDelegated) {
		t.Fatalf("expected ErrAlreadyDelegated, got %v", err)
	}

	if err := svc.Delegate(ctx, delegation.HandSelector(99), "validator-1"); !errors.Is(err, appErr.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound for missing record, got %v", err)
	}

	active, err := svc.ActiveForGame(ctx, 1)
	if err != nil {
		t.Fatalf("active check failed: %v", err)
	}
	if !active {
		t.Fatal("expected delegation active")
	}
}

func TestActiveForGameIgnoresPoolDelegations(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)
	seedHand(t, db, 1)
	if err := db.Create(&model.BettingPool{GameID: 1}).Error; err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}

	if err := svc.Delegate(ctx, delegation.PoolSelector(1), "validator-1"); err != nil {
		t.Fatalf("pool delegate failed: %v", err)
	}
	active, err := svc.ActiveForGame(ctx, 1)
	if err != nil {
		t.Fatalf("active check failed: %v", err)
	}
	if active {
		t.Fatal("pool delegation must not count against the hand")
	}

	if err := svc.Delegate(ctx, delegation.HandSelector(1), "validator-1"); err != nil {
		t.Fatalf("hand delegate failed: %v", err)
	}
	active, err = svc.ActiveForGame(ctx, 1)
	if err != nil {
		t.Fatalf("active check failed: %v", err)
	}
	if !active {
		t.Fatal("hand delegation must count")
	}
}

func TestLoadRequiresDelegation(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)
	seedHand(t, db, 1)

	if _, err := svc.LoadHand(ctx, 1); !errors.Is(err, appErr.ErrNotDelegated) {
		t.Fatalf("expected ErrNotDelegated, got %v", err)
	}
}

func TestCommitRequiresFlush(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)
	seedHand(t, db, 1)

	sel := delegation.HandSelector(1)
	if err := svc.Delegate(ctx, sel, "validator-1"); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}

	h, err := svc.LoadHand(ctx, 1)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	h.Pot = 300
	if err := svc.SaveHand(ctx, h); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	err = svc.CommitAndUndelegate(ctx, []delegation.Selector{sel})
	if !errors.Is(err, appErr.ErrNotFlushed) {
		t.Fatalf("expected ErrNotFlushed, got %v", err)
	}

	// The rejected commit is a no-op on both sides.
	var ledger model.Hand
	if err := db.Where("game_id = ?", 1).First(&ledger).Error; err != nil {
		t.Fatalf("failed to read ledger row: %v", err)
	}
	if ledger.Pot != 200 {
		t.Fatalf("ledger row changed by rejected commit: pot=%d", ledger.Pot)
	}
	active, _ := svc.ActiveForGame(ctx, 1)
	if !active {
		t.Fatal("expected delegation still active after rejected commit")
	}
}

func TestCommitPublishesAndReleases(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)
	seedHand(t, db, 1)

	sel := delegation.HandSelector(1)
	if err := svc.Delegate(ctx, sel, "validator-1"); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}

	h, err := svc.LoadHand(ctx, 1)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	h.Pot = 300
	h.Phase = model.PhaseSettled
	if err := svc.SaveHand(ctx, h); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := svc.Flush(ctx, sel); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if err := svc.CommitAndUndelegate(ctx, []delegation.Selector{sel}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	var ledger model.Hand
	if err := db.Where("game_id = ?", 1).First(&ledger).Error; err != nil {
		t.Fatalf("failed to read ledger row: %v", err)
	}
	if ledger.Pot != 300 || ledger.Phase != model.PhaseSettled {
		t.Fatalf("ledger row not published: %+v", ledger)
	}

	active, _ := svc.ActiveForGame(ctx, 1)
	if active {
		t.Fatal("expected delegation released after commit")
	}
	if _, err := svc.LoadHand(ctx, 1); !errors.Is(err, appErr.ErrNotDelegated) {
		t.Fatalf("expected snapshot dropped after commit, got %v", err)
	}

	err = svc.CommitAndUndelegate(ctx, []delegation.Selector{sel})
	if !errors.Is(err, appErr.ErrNotDelegated) {
		t.Fatalf("expected ErrNotDelegated on second commit, got %v", err)
	}

	// A released record can be delegated again.
	if err := svc.Delegate(ctx, sel, "validator-2"); err != nil {
		t.Fatalf("redelegate failed: %v", err)
	}
	h, err = svc.LoadHand(ctx, 1)
	if err != nil {
		t.Fatalf("load after redelegate failed: %v", err)
	}
	if h.Pot != 300 {
		t.Fatalf("redelegated snapshot stale: pot=%d", h.Pot)
	}
}

func TestMutationClearsFlush(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)
	seedHand(t, db, 1)

	sel := delegation.HandSelector(1)
	if err := svc.Delegate(ctx, sel, "validator-1"); err != nil {
		t.Fatalf("delegate failed: %v", err)
	}
	if err := svc.Flush(ctx, sel); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	h, err := svc.LoadHand(ctx, 1)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	h.Pot = 999
	if err := svc.SaveHand(ctx, h); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	err = svc.CommitAndUndelegate(ctx, []delegation.Selector{sel})
	if !errors.Is(err, appErr.ErrNotFlushed) {
		t.Fatalf("expected ErrNotFlushed after post-flush write, got %v", err)
	}
}

func TestSelectorValidation(t *testing.T) {
	ctx := context.Background()
	_, svc := newService(t)

	bad := delegation.Selector{Kind: model.KindHand, GameID: 1, Player: "alice"}
	if err := svc.Delegate(ctx, bad, ""); err == nil {
		t.Fatal("expected error for player on a hand selector")
	}
	bad = delegation.Selector{Kind: model.KindPlayerHand, GameID: 1}
	if err := svc.Delegate(ctx, bad, ""); err == nil {
		t.Fatal("expected error for missing player on a player-hand selector")
	}
	bad = delegation.Selector{Kind: "bogus", GameID: 1}
	if err := svc.Delegate(ctx, bad, ""); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestSelectorKeys(t *testing.T) {
	handKey := delegation.HandSelector(7).Key()
	playerKey := delegation.PlayerHandSelector(7, "alice").Key()
	poolKey := delegation.PoolSelector(7).Key()
	if handKey == playerKey || handKey == poolKey || playerKey == poolKey {
		t.Fatalf("selector keys collide: %s %s %s", handKey, playerKey, poolKey)
	}
}
