package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"pokervault/internal/config"
	"pokervault/internal/middleware"
	"pokervault/internal/service"
	"pokervault/internal/service/delegation"
	"pokervault/internal/service/hand"
	"pokervault/internal/ws"
	pkgAuth "pokervault/pkg/auth"
	appErr "pokervault/pkg/errors"
	"pokervault/pkg/response"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	services *service.Container
}

func RegisterRoutes(r *gin.Engine, services *service.Container, hub *ws.Hub) {
	handler := &Handler{services: services}
	wsHandler := ws.NewHandler(hub, services.Hand)

	r.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"message": "pong"})
	})

	v1 := r.Group("/poker/v1")
	{
		v1.POST("/auth/token", handler.IssueToken)
		v1.GET("/games/:gameId", handler.GetHand)
		v1.GET("/pools/:gameId", handler.GetPool)
		v1.GET("/escrow/:address", handler.GetEscrowBalance)

		authed := v1.Group("/")
		authed.Use(middleware.AuthRequired())
		{
			authed.POST("/games", handler.CreateHand)
			authed.POST("/games/:gameId/join", handler.JoinHand)
			authed.POST("/games/:gameId/cancel", handler.CancelHand)
			authed.POST("/games/:gameId/deal", handler.DealCards)
			authed.POST("/games/:gameId/action", handler.PlayerAction)
			authed.POST("/games/:gameId/advance", handler.AdvancePhase)
			authed.POST("/games/:gameId/reveal", handler.RevealWinner)
			authed.POST("/games/:gameId/settle", handler.SettlePot)
			authed.POST("/games/:gameId/settle_direct", handler.SettleGameDirect)
			authed.POST("/games/:gameId/delegate", handler.Delegate)

			authed.POST("/pools", handler.CreatePool)
			authed.POST("/pools/:gameId/bets", handler.PlaceBet)
			authed.POST("/pools/:gameId/settle", handler.SettlePool)
			authed.POST("/pools/:gameId/claim", handler.ClaimWinnings)
			authed.POST("/pools/:gameId/refund", handler.RefundBet)

			authed.POST("/escrow/deposit", handler.EscrowDeposit)
		}
	}

	r.GET("/ws/hand/:gameId", wsHandler.HandleHandWS)
}

type issueTokenBody struct {
	Address string `json:"address" binding:"required"`
}

func (h *Handler) IssueToken(c *gin.Context) {
	var body issueTokenBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	token, err := pkgAuth.GenerateToken(body.Address)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to issue token")
		return
	}
	response.Success(c, gin.H{"token": token})
}

type createHandBody struct {
	GameID uint64 `json:"gameId" binding:"required"`
	BuyIn  int64  `json:"buyIn" binding:"required,min=1"`
}

func (h *Handler) CreateHand(c *gin.Context) {
	caller, ok := getCallerAddress(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, appErr.ErrUnauthorized.Error())
		return
	}
	var body createHandBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.services.Hand.CreateHand(c.Request.Context(), caller, body.GameID, body.BuyIn)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, hand.PublicState(created))
}

func (h *Handler) JoinHand(c *gin.Context) {
	caller, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	joined, err := h.services.Hand.JoinHand(c.Request.Context(), caller, gameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, hand.PublicState(joined))
}

func (h *Handler) CancelHand(c *gin.Context) {
	caller, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	if err := h.services.Hand.CancelHand(c.Request.Context(), caller, gameID); err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"gameId": strconv.FormatUint(gameID, 10)})
}

type dealCardsBody struct {
	Player1Cards   []int `json:"player1Cards" binding:"required"`
	Player2Cards   []int `json:"player2Cards" binding:"required"`
	CommunityCards []int `json:"communityCards" binding:"required"`
}

func (h *Handler) DealCards(c *gin.Context) {
	_, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	var body dealCardsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	err := h.services.Hand.DealCards(c.Request.Context(), gameID,
		toCards(body.Player1Cards), toCards(body.Player2Cards), toCards(body.CommunityCards))
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"gameId": strconv.FormatUint(gameID, 10)})
}

type playerActionBody struct {
	Type   string `json:"type" binding:"required"`
	Amount int64  `json:"amount"`
}

func (h *Handler) PlayerAction(c *gin.Context) {
	caller, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	var body playerActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	action := hand.Action{Type: hand.ActionType(body.Type), Amount: body.Amount}
	if err := h.services.Hand.PlayerAction(c.Request.Context(), caller, gameID, action); err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"gameId": strconv.FormatUint(gameID, 10)})
}

func (h *Handler) AdvancePhase(c *gin.Context) {
	_, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	if err := h.services.Hand.AdvancePhase(c.Request.Context(), gameID); err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"gameId": strconv.FormatUint(gameID, 10)})
}

type revealWinnerBody struct {
	WinnerIndex *int `json:"winnerIndex" binding:"required"`
}

func (h *Handler) RevealWinner(c *gin.Context) {
	_, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	var body revealWinnerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.Hand.RevealWinner(c.Request.Context(), gameID, *body.WinnerIndex); err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"gameId": strconv.FormatUint(gameID, 10)})
}

type settlePotBody struct {
	Winner string `json:"winner" binding:"required"`
}

func (h *Handler) SettlePot(c *gin.Context) {
	_, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	var body settlePotBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.Hand.SettlePot(c.Request.Context(), gameID, body.Winner); err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"gameId": strconv.FormatUint(gameID, 10)})
}

type settleDirectBody struct {
	WinnerIndex *int   `json:"winnerIndex" binding:"required"`
	ActualPot   int64  `json:"actualPot"`
	Winner      string `json:"winner" binding:"required"`
	Loser       string `json:"loser" binding:"required"`
}

func (h *Handler) SettleGameDirect(c *gin.Context) {
	_, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	var body settleDirectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	err := h.services.Hand.SettleGameDirect(c.Request.Context(), gameID,
		*body.WinnerIndex, body.ActualPot, body.Winner, body.Loser)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"gameId": strconv.FormatUint(gameID, 10)})
}

type delegateBody struct {
	Kind      string `json:"kind" binding:"required"`
	Player    string `json:"player"`
	Validator string `json:"validator"`
}

func (h *Handler) Delegate(c *gin.Context) {
	_, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	var body delegateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	validator := body.Validator
	if validator == "" {
		validator = config.GlobalConfig.Poker.DefaultValidator
	}
	sel := delegation.Selector{Kind: body.Kind, GameID: gameID, Player: body.Player}
	if err := h.services.Delegation.Delegate(c.Request.Context(), sel, validator); err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"gameId": strconv.FormatUint(gameID, 10), "kind": body.Kind})
}

func (h *Handler) GetHand(c *gin.Context) {
	gameID, ok := parseGameID(c)
	if !ok {
		return
	}
	state, err := h.services.Hand.GetHand(c.Request.Context(), gameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, state)
}

type createPoolBody struct {
	GameID uint64 `json:"gameId" binding:"required"`
}

func (h *Handler) CreatePool(c *gin.Context) {
	var body createPoolBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.services.Pool.CreatePool(c.Request.Context(), body.GameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, created)
}

func (h *Handler) GetPool(c *gin.Context) {
	gameID, ok := parseGameID(c)
	if !ok {
		return
	}
	found, err := h.services.Pool.GetPool(c.Request.Context(), gameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, found)
}

type placeBetBody struct {
	OnPlayer int   `json:"onPlayer" binding:"required"`
	Amount   int64 `json:"amount"`
}

func (h *Handler) PlaceBet(c *gin.Context) {
	caller, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	var body placeBetBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	bet, err := h.services.Pool.PlaceBet(c.Request.Context(), caller, gameID, body.OnPlayer, body.Amount)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, bet)
}

type settlePoolBody struct {
	WinningPlayer int `json:"winningPlayer" binding:"required"`
}

func (h *Handler) SettlePool(c *gin.Context) {
	_, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	var body settlePoolBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.Pool.SettlePool(c.Request.Context(), gameID, body.WinningPlayer); err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"gameId": strconv.FormatUint(gameID, 10)})
}

func (h *Handler) ClaimWinnings(c *gin.Context) {
	caller, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	payout, err := h.services.Pool.ClaimWinnings(c.Request.Context(), caller, gameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"payout": payout})
}

func (h *Handler) RefundBet(c *gin.Context) {
	caller, gameID, ok := callerAndGame(c)
	if !ok {
		return
	}
	refund, err := h.services.Pool.RefundBet(c.Request.Context(), caller, gameID)
	if err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"refund": refund})
}

type escrowDepositBody struct {
	Address string `json:"address" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,min=1"`
}

func (h *Handler) EscrowDeposit(c *gin.Context) {
	var body escrowDepositBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.services.Escrow.Deposit(c.Request.Context(), body.Address, body.Amount); err != nil {
		h.handleGameError(c, err)
		return
	}
	response.Success(c, gin.H{"address": body.Address})
}

func (h *Handler) GetEscrowBalance(c *gin.Context) {
	address := c.Param("address")
	balance, err := h.services.Escrow.Balance(c.Request.Context(), address)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	response.Success(c, gin.H{"address": address, "balance": balance})
}

func (h *Handler) handleGameError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appErr.ErrGameNotFound),
		errors.Is(err, appErr.ErrPoolNotFound),
		errors.Is(err, appErr.ErrBetNotFound):
		response.Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, appErr.ErrGameExists),
		errors.Is(err, appErr.ErrPoolExists),
		errors.Is(err, appErr.ErrBetExists),
		errors.Is(err, appErr.ErrGameFull),
		errors.Is(err, appErr.ErrAlreadySettled),
		errors.Is(err, appErr.ErrAlreadyClaimed),
		errors.Is(err, appErr.ErrAlreadyDelegated),
		errors.Is(err, appErr.ErrDelegationActive),
		errors.Is(err, appErr.ErrNotDelegated),
		errors.Is(err, appErr.ErrNotFlushed):
		response.Error(c, http.StatusConflict, err.Error())
	case errors.Is(err, appErr.ErrNotInGame),
		errors.Is(err, appErr.ErrNotYourTurn),
		errors.Is(err, appErr.ErrAlreadyFolded),
		errors.Is(err, appErr.ErrInvalidPlayer),
		errors.Is(err, appErr.ErrLostBet):
		response.Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, appErr.ErrInvalidPhase),
		errors.Is(err, appErr.ErrInvalidBuyIn),
		errors.Is(err, appErr.ErrCannotJoinOwnGame),
		errors.Is(err, appErr.ErrMustCallOrRaise),
		errors.Is(err, appErr.ErrRaiseTooSmall),
		errors.Is(err, appErr.ErrBettingClosed),
		errors.Is(err, appErr.ErrBetTooSmall),
		errors.Is(err, appErr.ErrNotSettled),
		errors.Is(err, appErr.ErrMissingOpponent),
		errors.Is(err, appErr.ErrEmptyWinningPool),
		errors.Is(err, appErr.ErrInsufficientFunds),
		errors.Is(err, appErr.ErrInvalidAmount):
		response.Error(c, http.StatusBadRequest, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, err.Error())
	}
}

func callerAndGame(c *gin.Context) (string, uint64, bool) {
	caller, ok := getCallerAddress(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, appErr.ErrUnauthorized.Error())
		return "", 0, false
	}
	gameID, ok := parseGameID(c)
	if !ok {
		return "", 0, false
	}
	return caller, gameID, true
}

func parseGameID(c *gin.Context) (uint64, bool) {
	gameID, err := strconv.ParseUint(c.Param("gameId"), 10, 64)
	if err != nil || gameID == 0 {
		response.Error(c, http.StatusBadRequest, fmt.Sprintf("invalid game id %q", c.Param("gameId")))
		return 0, false
	}
	return gameID, true
}

func getCallerAddress(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.ContextAddressKey)
	if !ok {
		return "", false
	}
	addr, ok := v.(string)
	return addr, ok && addr != ""
}

func toCards(vals []int) []byte {
	cards := make([]byte, len(vals))
	for i, v := range vals {
		cards[i] = byte(v)
	}
	return cards
}
