package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"economy/internal/ledger"
	"economy/internal/model"
	"economy/internal/service"
	"economy/pkg/response"
)

// Handler 统一处理器
type Handler struct {
	economyService *service.EconomyService
}

func NewHandler(economyService *service.EconomyService) *Handler {
	return &Handler{economyService: economyService}
}

// AccountView 账户返回结构
type AccountView struct {
	EntityID    uuid.UUID       `json:"entity_id"`
	DisplayName string          `json:"display_name"`
	Balance     decimal.Decimal `json:"balance"`
}

func accountView(a model.Account) AccountView {
	return AccountView{EntityID: a.EntityID, DisplayName: a.DisplayName, Balance: a.Balance.Decimal}
}

// writeError 业务错误映射为响应码，其他错误按服务器错误返回
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrAmountNotPositive):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Error(c, response.CodeForbidden, err.Error())
	case errors.Is(err, service.ErrBalanceNotEnough):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrCooldown):
		response.BusinessError(c, response.CodeCooldown, err.Error())
	case errors.Is(err, service.ErrVetoed):
		response.BusinessError(c, response.CodeVetoed, err.Error())
	case errors.Is(err, service.ErrSelfTransfer):
		response.BusinessError(c, response.CodeSelfTransfer, err.Error())
	case errors.Is(err, ledger.ErrEntityNotLoaded):
		response.BusinessError(c, response.CodeEntityNotLoaded, "实体未加载，请先登录")
	case errors.Is(err, ledger.ErrQueueClosed), errors.Is(err, ledger.ErrQueueFull):
		response.BusinessError(c, response.CodeQueueUnavailable, "系统繁忙，请稍后重试")
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 会话相关接口
// ============================================================

// LoginRequest 会话开始
type LoginRequest struct {
	EntityID    uuid.UUID `json:"entity_id" binding:"required"`
	DisplayName string    `json:"display_name" binding:"required,max=64"`
}

// Login 加载实体
// POST /api/v1/session/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.economyService.Login(c.Request.Context(), req.EntityID, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, accountView(account))
}

// Logout 卸载实体
// POST /api/v1/session/logout
func (h *Handler) Logout(c *gin.Context) {
	var req struct {
		EntityID uuid.UUID `json:"entity_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	response.Success(c, gin.H{
		"unloaded": h.economyService.Logout(req.EntityID),
	})
}

// ============================================================
// 余额相关接口
// ============================================================

// GetBalance 查询余额
// GET /api/v1/account/balance?entity_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	entityID, err := uuid.Parse(c.Query("entity_id"))
	if err != nil {
		response.ParamError(c, "entity_id 参数错误")
		return
	}

	account, err := h.economyService.Balance(entityID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, accountView(account))
}

// Earn 领取奖励
// POST /api/v1/account/earn
func (h *Handler) Earn(c *gin.Context) {
	var req struct {
		EntityID uuid.UUID `json:"entity_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.economyService.Earn(c.Request.Context(), req.EntityID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// GiveRequest 转账请求，金额用字符串传递避免精度丢失
type GiveRequest struct {
	From   uuid.UUID `json:"from" binding:"required"`
	To     uuid.UUID `json:"to" binding:"required"`
	Amount string    `json:"amount" binding:"required"`
}

// Give 转账
// POST /api/v1/account/give
func (h *Handler) Give(c *gin.Context) {
	var req GiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.economyService.Give(req.From, req.To, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// SetBalanceRequest 管理员设置余额
type SetBalanceRequest struct {
	ActorID  uuid.UUID `json:"actor_id" binding:"required"`
	EntityID uuid.UUID `json:"entity_id" binding:"required"`
	Amount   string    `json:"amount" binding:"required"`
}

// SetBalance 设置余额
// POST /api/v1/account/balance/set
func (h *Handler) SetBalance(c *gin.Context) {
	var req SetBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	balance, err := h.economyService.SetBalance(req.ActorID, req.EntityID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"entity_id": req.EntityID,
		"balance":   balance,
	})
}

// ============================================================
// 诊断接口
// ============================================================

// ListPending 查看待落库队列
// GET /api/v1/queue?page=0&page_size=48
func (h *Handler) ListPending(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "48"))
	if page < 0 || pageSize <= 0 || pageSize > 1000 {
		response.ParamError(c, "page/page_size 参数错误")
		return
	}

	list, total := h.economyService.PendingMutations(page, pageSize)
	if list == nil {
		list = []model.PendingMutation{}
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListDeadLetters 最近的死信
// GET /api/v1/dead-letters?limit=20
func (h *Handler) ListDeadLetters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 500 {
		response.ParamError(c, "limit 参数错误")
		return
	}

	letters, err := h.economyService.RecentDeadLetters(c.Request.Context(), limit)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if letters == nil {
		letters = []model.DeadLetter{}
	}

	response.Success(c, gin.H{"list": letters})
}
