package errors

import "errors"

// Game lifecycle
var (
	ErrGameNotFound      = errors.New("game not found")
	ErrGameExists        = errors.New("game already exists")
	ErrInvalidBuyIn      = errors.New("invalid buy-in amount")
	ErrCannotJoinOwnGame = errors.New("cannot join your own game")
	ErrGameFull          = errors.New("game is already full")
	ErrInvalidPhase      = errors.New("invalid game phase for this action")
	ErrNotInGame         = errors.New("caller is not in this game")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrAlreadyFolded     = errors.New("player has already folded")
	ErrMustCallOrRaise   = errors.New("must call or raise")
	ErrRaiseTooSmall     = errors.New("raise amount too small")
	ErrMissingOpponent   = errors.New("missing opponent")
)

// Settlement
var (
	ErrInvalidPlayer  = errors.New("invalid player")
	ErrAlreadySettled = errors.New("already settled")
	ErrNotSettled     = errors.New("not settled yet")
	ErrAlreadyClaimed = errors.New("already claimed")
)

// Betting pool
var (
	ErrPoolNotFound     = errors.New("betting pool not found")
	ErrPoolExists       = errors.New("betting pool already exists")
	ErrBettingClosed    = errors.New("betting is closed")
	ErrBetTooSmall      = errors.New("bet amount too small")
	ErrBetNotFound      = errors.New("bet not found")
	ErrBetExists        = errors.New("bet already placed")
	ErrLostBet          = errors.New("bet lost")
	ErrEmptyWinningPool = errors.New("winning pool is empty")
)

// Escrow
var (
	ErrInsufficientFunds = errors.New("insufficient escrow balance")
	ErrInvalidAmount     = errors.New("transfer amount must be positive")
)

// Delegation / relocation
var (
	ErrAlreadyDelegated = errors.New("account already delegated")
	ErrNotDelegated     = errors.New("account not delegated")
	ErrNotFlushed       = errors.New("delegated snapshot not flushed")
	ErrDelegationActive = errors.New("delegation still active")
)

// Auth / transport
var (
	ErrUnauthorized = errors.New("unauthorized")
)
