package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/cafeteria-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса столовой.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/menu", h.GetMenu)

	r.Route("/api/student", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.GetOrders)
			r.Post("/orders/{code}/pay", h.Pay)

			r.Get("/loyalty", h.GetBalance)
			r.Post("/loyalty/redeem", h.Redeem)
		})
	})

	r.Route("/api/staff", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/orders/pending", h.GetPendingOrders)
		r.Post("/orders/{code}/status", h.AdvanceOrderStatus)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
