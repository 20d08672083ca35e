package service

import (
	"pokervault/internal/service/delegation"
	"pokervault/internal/service/escrow"
	"pokervault/internal/service/hand"
	"pokervault/internal/service/pool"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Escrow     *escrow.Service
	Delegation *delegation.Service
	Hand       *hand.Service
	Pool       *pool.Service
}

func NewContainer(db *gorm.DB, rdb *redis.Client, notifier hand.Notifier) *Container {
	escrowSvc := escrow.NewService(db)
	delegSvc := delegation.NewService(db, delegation.NewRedisStore(rdb))
	return &Container{
		Escrow:     escrowSvc,
		Delegation: delegSvc,
		Hand:       hand.NewService(db, escrowSvc, delegSvc, notifier),
		Pool:       pool.NewService(db, escrowSvc),
	}
}
