package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pokervault/internal/model"
	appErr "pokervault/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service is the fund-custody leaf every other component moves money
// through. All transfers run inside the caller's transaction so that
// the state change that authorizes a payout (pot zeroed, bet flagged
// claimed) commits atomically with the payout itself.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GameAddress derives the escrow account holding a hand's pot.
func GameAddress(gameID uint64) string {
	return fmt.Sprintf("%s:%d", model.KindHand, gameID)
}

// PoolAddress derives the escrow account holding a betting pool's stakes.
func PoolAddress(gameID uint64) string {
	return fmt.Sprintf("%s:%d", model.KindBettingPool, gameID)
}

func (s *Service) Balance(ctx context.Context, address string) (int64, error) {
	var acct model.EscrowAccount
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&acct).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return acct.Balance, nil
}

// Deposit credits an account from outside the system. Account funding
// is an external collaborator concern; this exists for dev and tests.
func (s *Service) Deposit(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return appErr.ErrInvalidAmount
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, address)
		if err != nil {
			return err
		}
		acct.Balance += amount
		acct.UpdatedAt = time.Now()
		return tx.Save(acct).Error
	})
}

// Transfer moves amount between two escrow accounts inside tx. Both
// rows are locked in address order. Fails whole if the source cannot
// cover the amount; an audit row is appended on success.
func (s *Service) Transfer(tx *gorm.DB, gameID *uint64, transferType, from, to string, amount int64) error {
	if amount <= 0 {
		return appErr.ErrInvalidAmount
	}
	if from == to {
		return fmt.Errorf("%w: self transfer", appErr.ErrInvalidAmount)
	}

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	accts := make(map[string]*model.EscrowAccount, 2)
	for _, addr := range []string{first, second} {
		acct, err := lockAccount(tx, addr)
		if err != nil {
			return err
		}
		accts[addr] = acct
	}

	src, dst := accts[from], accts[to]
	if src.Balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", appErr.ErrInsufficientFunds, from, src.Balance, amount)
	}

	now := time.Now()
	src.Balance -= amount
	dst.Balance += amount
	src.UpdatedAt = now
	dst.UpdatedAt = now
	if err := tx.Save(src).Error; err != nil {
		return err
	}
	if err := tx.Save(dst).Error; err != nil {
		return err
	}

	return tx.Create(&model.LedgerLog{
		GameID:    gameID,
		Type:      transferType,
		FromAddr:  from,
		ToAddr:    to,
		Amount:    amount,
		MetaJSON:  mustJSON(map[string]interface{}{"balanceAfter": src.Balance}),
		CreatedAt: now,
	}).Error
}

func lockAccount(tx *gorm.DB, address string) (*model.EscrowAccount, error) {
	var acct model.EscrowAccount
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", address).
		First(&acct).Error
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	acct = model.EscrowAccount{Address: address, UpdatedAt: time.Now()}
	if err := tx.Create(&acct).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

func mustJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
