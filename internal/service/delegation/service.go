package delegation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pokervault/internal/model"
	appErr "pokervault/pkg/errors"
	"pokervault/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Selector names one delegable record. Player is set only for
// player-hand records.
type Selector struct {
	Kind   string `json:"kind"`
	GameID uint64 `json:"gameId"`
	Player string `json:"player,omitempty"`
}

func HandSelector(gameID uint64) Selector {
	return Selector{Kind: model.KindHand, GameID: gameID}
}

func PlayerHandSelector(gameID uint64, player string) Selector {
	return Selector{Kind: model.KindPlayerHand, GameID: gameID, Player: player}
}

func PoolSelector(gameID uint64) Selector {
	return Selector{Kind: model.KindBettingPool, GameID: gameID}
}

func (sel Selector) Key() string {
	if sel.Kind == model.KindPlayerHand {
		return fmt.Sprintf("%s:%s:%d:%s", keyPrefix, sel.Kind, sel.GameID, sel.Player)
	}
	return fmt.Sprintf("%s:%s:%d", keyPrefix, sel.Kind, sel.GameID)
}

func (sel Selector) validate() error {
	switch sel.Kind {
	case model.KindHand, model.KindBettingPool:
		if sel.Player != "" {
			return fmt.Errorf("%w: unexpected player in selector", appErr.ErrNotDelegated)
		}
	case model.KindPlayerHand:
		if sel.Player == "" {
			return fmt.Errorf("%w: player required in selector", appErr.ErrNotDelegated)
		}
	default:
		return fmt.Errorf("%w: unknown record kind %q", appErr.ErrNotDelegated, sel.Kind)
	}
	return nil
}

// Service moves record authority between the public ledger (postgres)
// and the private compute context (Store). While delegated, the store
// copy is the only one that may be mutated; the commit step publishes
// it back and releases authority in a single ledger transaction.
type Service struct {
	db    *gorm.DB
	store Store
}

func NewService(db *gorm.DB, store Store) *Service {
	return &Service{db: db, store: store}
}

// Delegate hands authority for sel to the private context, optionally
// pinned to a validator identity. Re-delegating an already-delegated
// record fails fast.
func (s *Service) Delegate(ctx context.Context, sel Selector, validator string) error {
	if err := sel.validate(); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Delegation
		err := tx.Where("kind = ? AND game_id = ? AND player = ? AND status = ?",
			sel.Kind, sel.GameID, sel.Player, model.DelegationDelegated).
			First(&existing).Error
		if err == nil {
			return appErr.ErrAlreadyDelegated
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		raw, err := loadRecord(tx, sel)
		if err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Create(&model.Delegation{
			Kind:      sel.Kind,
			GameID:    sel.GameID,
			Player:    sel.Player,
			Validator: validator,
			Status:    model.DelegationDelegated,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error; err != nil {
			return err
		}

		// Snapshot write is part of the same logical step: a failure
		// here rolls the delegation row back.
		return s.store.Put(ctx, sel.Key(), Snapshot{Kind: sel.Kind, Data: raw})
	})
}

// ActiveForGame reports whether the hand or a player hand of the game
// is still delegated. Public hand mutations must refuse to run while
// this holds, otherwise they would act on stale ledger data. A
// delegated betting pool does not count: the side market settles
// independently of the hand's records.
func (s *Service) ActiveForGame(ctx context.Context, gameID uint64) (bool, error) {
	return ActiveForGameTx(s.db.WithContext(ctx), gameID)
}

// ActiveForGameTx is the same check inside an existing transaction,
// so callers can re-validate it under their row locks.
func ActiveForGameTx(tx *gorm.DB, gameID uint64) (bool, error) {
	var count int64
	err := tx.Model(&model.Delegation{}).
		Where("game_id = ? AND status = ? AND kind IN ?",
			gameID, model.DelegationDelegated, []string{model.KindHand, model.KindPlayerHand}).
		Count(&count).Error
	return count > 0, err
}

// Flush marks each snapshot as fully serialized. Commit refuses any
// batch containing an unflushed record.
func (s *Service) Flush(ctx context.Context, sels ...Selector) error {
	for _, sel := range sels {
		snap, err := s.store.Get(ctx, sel.Key())
		if err != nil {
			return err
		}
		snap.Flushed = true
		if err := s.store.Put(ctx, sel.Key(), snap); err != nil {
			return err
		}
	}
	return nil
}

// CommitAndUndelegate publishes every snapshot in the batch to the
// public ledger and releases the delegations, atomically. If any
// snapshot is missing or unflushed the whole commit is a no-op and
// the private context stays authoritative.
func (s *Service) CommitAndUndelegate(ctx context.Context, sels []Selector) error {
	snaps := make([]Snapshot, 0, len(sels))
	for _, sel := range sels {
		if err := sel.validate(); err != nil {
			return err
		}
		snap, err := s.store.Get(ctx, sel.Key())
		if err != nil {
			return err
		}
		if !snap.Flushed {
			return fmt.Errorf("%w: %s", appErr.ErrNotFlushed, sel.Key())
		}
		snaps = append(snaps, snap)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for i, sel := range sels {
			if err := publishRecord(tx, sel, snaps[i].Data); err != nil {
				return err
			}
			res := tx.Model(&model.Delegation{}).
				Where("kind = ? AND game_id = ? AND player = ? AND status = ?",
					sel.Kind, sel.GameID, sel.Player, model.DelegationDelegated).
				Updates(map[string]interface{}{"status": model.DelegationReleased, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", appErr.ErrNotDelegated, sel.Key())
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Authority has already moved back to the ledger; a leftover
	// snapshot is unreachable garbage, not a correctness problem.
	keys := make([]string, len(sels))
	for i, sel := range sels {
		keys[i] = sel.Key()
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		logger.Log.Warn("failed to drop committed snapshots", zap.Error(err))
	}
	return nil
}

// LoadHand reads the authoritative private copy of a delegated hand.
func (s *Service) LoadHand(ctx context.Context, gameID uint64) (*model.Hand, error) {
	snap, err := s.store.Get(ctx, HandSelector(gameID).Key())
	if err != nil {
		return nil, err
	}
	var hand model.Hand
	if err := json.Unmarshal(snap.Data, &hand); err != nil {
		return nil, err
	}
	return &hand, nil
}

// SaveHand writes back a mutated private copy, clearing the flushed tag.
func (s *Service) SaveHand(ctx context.Context, hand *model.Hand) error {
	return s.saveSnapshot(ctx, HandSelector(hand.GameID), hand)
}

func (s *Service) LoadPlayerHand(ctx context.Context, gameID uint64, player string) (*model.PlayerHand, error) {
	snap, err := s.store.Get(ctx, PlayerHandSelector(gameID, player).Key())
	if err != nil {
		return nil, err
	}
	var ph model.PlayerHand
	if err := json.Unmarshal(snap.Data, &ph); err != nil {
		return nil, err
	}
	return &ph, nil
}

func (s *Service) SavePlayerHand(ctx context.Context, ph *model.PlayerHand) error {
	return s.saveSnapshot(ctx, PlayerHandSelector(ph.GameID, ph.Player), ph)
}

func (s *Service) saveSnapshot(ctx context.Context, sel Selector, record interface{}) error {
	// Guards against writes to records that were never delegated or
	// have already been committed back.
	if _, err := s.store.Get(ctx, sel.Key()); err != nil {
		return err
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, sel.Key(), Snapshot{Kind: sel.Kind, Data: raw})
}

func loadRecord(tx *gorm.DB, sel Selector) (json.RawMessage, error) {
	var (
		record interface{}
		err    error
	)
	switch sel.Kind {
	case model.KindHand:
		var hand model.Hand
		err = tx.Where("game_id = ?", sel.GameID).First(&hand).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrGameNotFound
		}
		record = &hand
	case model.KindPlayerHand:
		var ph model.PlayerHand
		err = tx.Where("game_id = ? AND player = ?", sel.GameID, sel.Player).First(&ph).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrNotInGame
		}
		record = &ph
	case model.KindBettingPool:
		var pool model.BettingPool
		err = tx.Where("game_id = ?", sel.GameID).First(&pool).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrPoolNotFound
		}
		record = &pool
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(record)
}

func publishRecord(tx *gorm.DB, sel Selector, data json.RawMessage) error {
	switch sel.Kind {
	case model.KindHand:
		var hand model.Hand
		if err := json.Unmarshal(data, &hand); err != nil {
			return err
		}
		return tx.Save(&hand).Error
	case model.KindPlayerHand:
		var ph model.PlayerHand
		if err := json.Unmarshal(data, &ph); err != nil {
			return err
		}
		return tx.Save(&ph).Error
	case model.KindBettingPool:
		var pool model.BettingPool
		if err := json.Unmarshal(data, &pool); err != nil {
			return err
		}
		return tx.Save(&pool).Error
	}
	return fmt.Errorf("%w: unknown record kind %q", appErr.ErrNotDelegated, sel.Kind)
}
