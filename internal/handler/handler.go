// Package handler содержит HTTP-обработчики API сервиса столовой.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/cafeteria-system/internal/loyalty"
	"github.com/mmeshcher/cafeteria-system/internal/middleware"
	"github.com/mmeshcher/cafeteria-system/internal/model"
	"github.com/mmeshcher/cafeteria-system/internal/money"
	"github.com/mmeshcher/cafeteria-system/internal/order"
	"github.com/mmeshcher/cafeteria-system/internal/payment"
	"github.com/mmeshcher/cafeteria-system/internal/repository"
	"github.com/mmeshcher/cafeteria-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterStudent(ctx context.Context, code, password string) (int64, error)
	AuthenticateStudent(ctx context.Context, code, password string) (int64, error)
	ListMenu(ctx context.Context) ([]model.CatalogItem, error)
	PlaceOrder(ctx context.Context, studentCode string, selections []order.Selection) (*order.Order, error)
	GetOrdersByStudent(ctx context.Context, studentCode string) ([]order.Order, error)
	GetBalance(ctx context.Context, studentCode string) (int64, error)
	RedeemPoints(ctx context.Context, studentCode string, points int64) (*loyalty.Discount, error)
	CompleteOrderWithLoyalty(ctx context.Context, orderCode string, method payment.Method, amount money.Money) (payment.Result, error)
	AdvanceStatus(ctx context.Context, orderCode string, newStatus order.Status) error
	TrackPendingOrders(ctx context.Context) ([]order.Order, error)
}

// Handler реализует HTTP-обработчики API сервиса столовой.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	StudentCode string `json:"student_code"`
	Password    string `json:"password"`
}

// Register обрабатывает регистрацию нового студента.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.StudentCode == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, err := h.service.RegisterStudent(r.Context(), req.StudentCode, req.Password); err != nil {
		if errors.Is(err, repository.ErrStudentExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register student error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, req.StudentCode)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию студента и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.StudentCode == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, err := h.service.AuthenticateStudent(r.Context(), req.StudentCode, req.Password); err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login student error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, req.StudentCode)
	w.WriteHeader(http.StatusOK)
}

type menuItemResponse struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	// FreeWithPoints — сколько баллов покрывает позицию целиком,
	// по общему курсу бонусной программы.
	FreeWithPoints int64 `json:"free_with_points"`
}

// GetMenu возвращает доступные позиции меню.
func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListMenu(r.Context())
	if err != nil {
		h.logger.Error("get menu error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]menuItemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, menuItemResponse{
			ID:             it.ID,
			Name:           it.Name,
			Price:          it.Price.Float64(),
			FreeWithPoints: it.Price.Amount().Div(loyalty.PointValue).Ceil().IntPart(),
		})
	}

	writeJSON(w, h.logger, resp)
}

type placeOrderRequest struct {
	Items []struct {
		ID       int64 `json:"id"`
		Quantity int   `json:"quantity"`
	} `json:"items"`
}

type orderResponse struct {
	Code      string              `json:"code"`
	Status    string              `json:"status"`
	Total     float64             `json:"total"`
	Items     []orderItemResponse `json:"items"`
	CreatedAt string              `json:"created_at"`
}

type orderItemResponse struct {
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

func toOrderResponse(o order.Order, logger *zap.Logger) orderResponse {
	resp := orderResponse{
		Code:      o.Code,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
	}
	total, err := o.Total()
	if err != nil {
		logger.Error("compute order total error", zap.String("order", o.Code), zap.Error(err))
	} else {
		resp.Total = total.Float64()
	}
	for _, li := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			Name:      li.Name,
			UnitPrice: li.UnitPrice.Float64(),
			Quantity:  li.Quantity,
		})
	}
	return resp
}

// PlaceOrder оформляет заказ текущего студента.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	studentCode, ok := middleware.GetStudentCodeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	selections := make([]order.Selection, 0, len(req.Items))
	for _, it := range req.Items {
		selections = append(selections, order.Selection{CatalogItemID: it.ID, Quantity: it.Quantity})
	}

	o, err := h.service.PlaceOrder(r.Context(), studentCode, selections)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, order.ErrEmptySelection):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("place order error", zap.Error(err), zap.String("studentCode", studentCode))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toOrderResponse(*o, h.logger)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// GetOrders возвращает список заказов текущего студента.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	studentCode, ok := middleware.GetStudentCodeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByStudent(r.Context(), studentCode)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.String("studentCode", studentCode))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o, h.logger))
	}

	writeJSON(w, h.logger, resp)
}

type balanceResponse struct {
	Points int64   `json:"points"`
	Value  float64 `json:"value"`
}

// GetBalance возвращает баланс баллов текущего студента.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	studentCode, ok := middleware.GetStudentCodeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	points, err := h.service.GetBalance(r.Context(), studentCode)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.String("studentCode", studentCode))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	value, err := loyalty.DiscountFor(points, money.RUB)
	if err != nil {
		h.logger.Error("balance value error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, balanceResponse{Points: points, Value: value.Float64()})
}

type redeemRequest struct {
	Points int64 `json:"points"`
}

type redeemResponse struct {
	Discount    float64 `json:"discount"`
	Description string  `json:"description"`
}

// Redeem списывает баллы текущего студента в обмен на скидку.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	studentCode, ok := middleware.GetStudentCodeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	d, err := h.service.RedeemPoints(r.Context(), studentCode, req.Points)
	if err != nil {
		switch {
		case errors.Is(err, loyalty.ErrInvalidPoints):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, loyalty.ErrInsufficientPoints):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("redeem error", zap.Error(err), zap.String("studentCode", studentCode))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, redeemResponse{Discount: d.Amount.Float64(), Description: d.Description})
}

type payRequest struct {
	Method string  `json:"method"`
	Sum    float64 `json:"sum"`
}

type payResponse struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference,omitempty"`
}

// Pay завершает оплату заказа и начисление баллов.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	studentCode, ok := middleware.GetStudentCodeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderCode := chi.URLParam(r, "code")

	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	method, ok := payment.ParseMethod(req.Method)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	amount, err := money.FromFloat(req.Sum, money.RUB)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.CompleteOrderWithLoyalty(r.Context(), orderCode, method, amount)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("complete order error", zap.Error(err),
			zap.String("order", orderCode), zap.String("studentCode", studentCode))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if !res.Success {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		if err := json.NewEncoder(w).Encode(payResponse{Success: false}); err != nil {
			h.logger.Error("encode response error", zap.Error(err))
		}
		return
	}

	writeJSON(w, h.logger, payResponse{Success: true, Reference: res.Reference})
}

type advanceStatusRequest struct {
	Status string `json:"status"`
}

// AdvanceOrderStatus переводит заказ в следующий статус (интерфейс персонала).
func (h *Handler) AdvanceOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderCode := chi.URLParam(r, "code")

	var req advanceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	newStatus, ok := order.ParseStatus(req.Status)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AdvanceStatus(r.Context(), orderCode, newStatus); err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, repository.ErrStatusConflict):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("advance status error", zap.Error(err), zap.String("order", orderCode))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetPendingOrders возвращает заказы в работе (интерфейс персонала).
func (h *Handler) GetPendingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.TrackPendingOrders(r.Context())
	if err != nil {
		h.logger.Error("get pending orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o, h.logger))
	}

	writeJSON(w, h.logger, resp)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
