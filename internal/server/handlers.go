package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"autohedge/internal/service"
)

// apiKeyHeader 为所有需要鉴权的接口使用的请求头。
const apiKeyHeader = "X-API-Key"

const userContextKey = "current_user"

// Handler 把服务层操作暴露为 HTTP 接口。
type Handler struct {
	svc      *service.Service
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler 创建 HTTP 处理器。
func NewHandler(svc *service.Service, logger *zap.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("server: service 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger,
	}, nil
}

// RegisterRoutes 注册全部路由，除用户注册外均需要 API Key。
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/users", h.CreateUser)

	authed := e.Group("", h.requireAPIKey)
	authed.GET("/users/me", h.CurrentUser)
	authed.PUT("/users/me", h.UpdateUser)
	authed.POST("/trades", h.CreateTrade)
	authed.GET("/trades", h.ListTrades)
	authed.GET("/trades/:id", h.GetTrade)
	authed.DELETE("/trades/:id", h.DeleteTrade)
	authed.GET("/analytics/history", h.History)
}

func (h *Handler) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := h.svc.Authenticate(c.Request().Context(), c.Request().Header.Get(apiKeyHeader))
		if err != nil {
			return h.writeError(c, err)
		}
		c.Set(userContextKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) service.User {
	user, _ := c.Get(userContextKey).(service.User)
	return user
}

type createUserRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=50"`
	Email           string `json:"email" validate:"required,email"`
	FundName        string `json:"fund_name" validate:"required,min=3,max=100"`
	FundDescription string `json:"fund_description" validate:"max=500"`
}

type createUserResponse struct {
	service.User
	APIKey string `json:"api_key"`
}

// CreateUser 注册新用户并一次性返回 API Key。
func (h *Handler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := h.bind(c, &req); err != nil {
		return h.writeError(c, err)
	}

	user, apiKey, err := h.svc.Register(c.Request().Context(), service.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		FundName:        req.FundName,
		FundDescription: req.FundDescription,
	})
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, createUserResponse{User: user, APIKey: apiKey})
}

// CurrentUser 返回 API Key 对应的用户。
func (h *Handler) CurrentUser(c echo.Context) error {
	return c.JSON(http.StatusOK, currentUser(c))
}

type updateUserRequest struct {
	Email           *string `json:"email" validate:"omitempty,email"`
	FundName        *string `json:"fund_name" validate:"omitempty,min=3,max=100"`
	FundDescription *string `json:"fund_description" validate:"omitempty,max=500"`
}

// UpdateUser 部分更新当前用户资料。
func (h *Handler) UpdateUser(c echo.Context) error {
	var req updateUserRequest
	if err := h.bind(c, &req); err != nil {
		return h.writeError(c, err)
	}

	user, err := h.svc.UpdateUser(c.Request().Context(), currentUser(c), service.UpdateInput{
		Email:           req.Email,
		FundName:        req.FundName,
		FundDescription: req.FundDescription,
	})
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, user)
}

type createTradeRequest struct {
	Stocks       []string `json:"stocks" validate:"required,min=1,dive,required"`
	Task         string   `json:"task" validate:"required,min=10"`
	Allocation   float64  `json:"allocation" validate:"required,gt=0"`
	StrategyType string   `json:"strategy_type"`
	RiskLevel    int      `json:"risk_level" validate:"omitempty,min=1,max=10"`
}

// CreateTrade 提交交易任务，立即返回 pending 状态的交易记录。
func (h *Handler) CreateTrade(c echo.Context) error {
	var req createTradeRequest
	if err := h.bind(c, &req); err != nil {
		return h.writeError(c, err)
	}

	trade, err := h.svc.SubmitTrade(c.Request().Context(), currentUser(c), service.SubmitInput{
		Stocks:       req.Stocks,
		Task:         req.Task,
		Allocation:   req.Allocation,
		StrategyType: req.StrategyType,
		RiskLevel:    req.RiskLevel,
	})
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusAccepted, trade)
}

// ListTrades 返回当前用户的交易列表。
func (h *Handler) ListTrades(c echo.Context) error {
	filter := service.ListFilter{
		Status: service.TradeStatus(c.QueryParam("status")),
	}

	var err error
	if filter.Limit, err = queryInt(c, "limit", 0); err != nil {
		return h.writeError(c, err)
	}
	if filter.Skip, err = queryInt(c, "skip", 0); err != nil {
		return h.writeError(c, err)
	}

	trades, err := h.svc.ListTrades(c.Request().Context(), currentUser(c).ID, filter)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, trades)
}

// GetTrade 返回当前用户的单笔交易。
func (h *Handler) GetTrade(c echo.Context) error {
	trade, err := h.svc.GetTrade(c.Request().Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, trade)
}

// DeleteTrade 删除当前用户的单笔交易。
func (h *Handler) DeleteTrade(c echo.Context) error {
	if err := h.svc.DeleteTrade(c.Request().Context(), currentUser(c).ID, c.Param("id")); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "trade deleted"})
}

// History 返回当前用户最近 N 天的交易统计。
func (h *Handler) History(c echo.Context) error {
	days, err := queryInt(c, "days", 0)
	if err != nil {
		return h.writeError(c, err)
	}

	analytics, err := h.svc.History(c.Request().Context(), currentUser(c).ID, days)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, analytics)
}

// bind 解析并校验请求体，任何失败都归入校验错误。
func (h *Handler) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrAuth):
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrDuplicateUser):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		h.logger.Error("处理请求失败",
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s 必须为整数", service.ErrValidation, name)
	}
	return value, nil
}
