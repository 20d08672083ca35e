package model

import (
	"time"

	"gorm.io/datatypes"
)

// Record kinds used for deterministic escrow addressing and delegation.
const (
	KindHand        = "poker_game"
	KindPlayerHand  = "player_hand"
	KindBettingPool = "betting_pool"
)

const (
	MaxCommunityCards = 5
	MaxHandCards      = 2
)

// Hand phases, forward-only.
const (
	PhaseWaitingForPlayer = "waiting_for_player"
	PhasePreFlop          = "pre_flop"
	PhaseFlop             = "flop"
	PhaseTurn             = "turn"
	PhaseRiver            = "river"
	PhaseShowdown         = "showdown"
	PhaseSettled          = "settled"
)

// Outcome kinds for Hand.ResultKind.
const (
	ResultNone   = "none"
	ResultWinner = "winner"
	ResultTie    = "tie"
)

type Hand struct {
	GameID             uint64 `gorm:"primaryKey;autoIncrement:false"`
	Player1            string `gorm:"size:64;not null"`
	Player2            string `gorm:"size:64"` // empty until joined
	BuyIn              int64
	Pot                int64
	Phase              string `gorm:"size:24;not null"`
	CommunityCards     []byte `gorm:"size:8"` // 5 card slots
	CommunityCardCount int
	CurrentBet         int64
	Dealer             int    // 0 = player1, 1 = player2
	Turn               int    // 0 = unset, 1 = player1, 2 = player2
	ResultKind         string `gorm:"size:8;default:none;not null"`
	WinnerAddr         string `gorm:"size:64"`
	DeckSeed           uint64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type PlayerHand struct {
	GameID     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Player     string `gorm:"primaryKey;size:64"`
	Cards      []byte `gorm:"size:4"` // 2 card slots
	HasFolded  bool
	CurrentBet int64 // this betting round
	TotalBet   int64 // cumulative across the hand
	IsAllIn    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type BettingPool struct {
	GameID           uint64 `gorm:"primaryKey;autoIncrement:false"`
	TotalPoolPlayer1 int64
	TotalPoolPlayer2 int64
	TotalBettors     int
	IsSettled        bool
	WinningPlayer    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Bet struct {
	GameID      uint64 `gorm:"primaryKey;autoIncrement:false"`
	Bettor      string `gorm:"primaryKey;size:64"`
	BetOnPlayer int
	Amount      int64
	IsClaimed   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type EscrowAccount struct {
	Address   string `gorm:"primaryKey;size:80"`
	Balance   int64
	UpdatedAt time.Time
}

type LedgerLog struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	GameID    *uint64
	Type      string `gorm:"size:32;not null"` // buy_in/payout/refund/bet/claim
	FromAddr  string `gorm:"size:80"`
	ToAddr    string `gorm:"size:80"`
	Amount    int64
	MetaJSON  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time
}

const (
	DelegationDelegated = "delegated"
	DelegationReleased  = "released"
)

type Delegation struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Kind      string `gorm:"size:24;not null;index:idx_delegation_target"`
	GameID    uint64 `gorm:"index:idx_delegation_target"`
	Player    string `gorm:"size:64;index:idx_delegation_target"`
	Validator string `gorm:"size:64"`
	Status    string `gorm:"size:16;default:delegated;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
