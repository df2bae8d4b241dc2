package server

import (
	"context"
	"net/http"
	"time"

	"github.com/and161185/workmarket/internal/config"
	"github.com/and161185/workmarket/internal/deps"
	"github.com/and161185/workmarket/internal/matching"
	"github.com/and161185/workmarket/internal/middleware"
	"github.com/and161185/workmarket/internal/model"
	"github.com/and161185/workmarket/internal/pricing"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Storage interface {
	CreateUser(ctx context.Context, login, passwordHash string, role model.Role) error
	GetUserByLogin(ctx context.Context, login string) (model.User, string, error)
	GetUserByID(ctx context.Context, id int) (model.User, error)

	GetOrder(ctx context.Context, orderID int) (model.Order, error)
	GetClientOrders(ctx context.Context, clientID int) ([]model.Order, error)
	GetExpertOrders(ctx context.Context, expertID int) ([]model.Order, error)
	ListAvailableOrders(ctx context.Context) ([]model.Order, error)
	ListOrderBids(ctx context.Context, orderID int) ([]model.Bid, error)

	GetWorkType(ctx context.Context, workTypeID int) (model.WorkType, error)
	GetComplexity(ctx context.Context, complexityID int) (model.Complexity, error)
	ListWorkTypes(ctx context.Context) ([]model.WorkType, error)

	ListDiscountRules(ctx context.Context) ([]model.DiscountRule, error)
	GetClientStats(ctx context.Context, userID int) (model.ClientStats, error)
	ListClientIDs(ctx context.Context) ([]int, error)

	GetExpertStatistics(ctx context.Context, expertID int) (model.ExpertStatistics, error)
}

type Pricer interface {
	Quote(ctx context.Context, wt model.WorkType, cx model.Complexity, deadline time.Time, user *model.User, reqs map[string]string) (decimal.Decimal, error)
	Breakdown(ctx context.Context, wt model.WorkType, cx model.Complexity, deadline time.Time, user *model.User, reqs map[string]string) (pricing.Breakdown, error)
}

// Orders — машина состояний заказа.
type Orders interface {
	Create(ctx context.Context, actor *model.User, req model.CreateOrderRequest) (model.Order, error)
	Take(ctx context.Context, actor *model.User, orderID int) (model.Order, error)
	PlaceBid(ctx context.Context, actor *model.User, orderID int, req model.BidRequest) (model.Bid, error)
	AcceptBid(ctx context.Context, actor *model.User, orderID, bidID int) (model.Order, error)
	Submit(ctx context.Context, actor *model.User, orderID int) (model.Order, error)
	Approve(ctx context.Context, actor *model.User, orderID int) (model.Order, error)
	Revision(ctx context.Context, actor *model.User, orderID int) (model.Order, error)
	Complete(ctx context.Context, actor *model.User, orderID int) (model.Order, error)
	Cancel(ctx context.Context, actor *model.User, orderID int) (model.Order, error)
	OpenDispute(ctx context.Context, actor *model.User, orderID int, reason string) (model.Order, error)
	ResolveDispute(ctx context.Context, actor *model.User, orderID int, req model.ResolveDisputeRequest) (model.Order, error)
	ApplyDiscount(ctx context.Context, actor *model.User, orderID, discountID int) (model.Order, error)
	RemoveDiscount(ctx context.Context, actor *model.User, orderID int) (model.Order, error)
	LeaveReview(ctx context.Context, actor *model.User, orderID int, req model.ReviewRequest) (model.Review, error)
}

type Matcher interface {
	FindMatches(ctx context.Context, order model.Order, limit int) ([]matching.Match, error)
	Availability(ctx context.Context, expertID int) (matching.Availability, error)
}

type Stats interface {
	Recompute(ctx context.Context, expertID int) (model.ExpertStatistics, error)
	RecomputeAll(ctx context.Context) (int, error)
}

type Notifier interface {
	Notify(ctx context.Context, event string, payload any)
}

type Server struct {
	storage  Storage
	pricer   Pricer
	orders   Orders
	matcher  Matcher
	stats    Stats
	notifier Notifier
	config   *config.Config
	deps     *deps.Deps
}

func NewServer(storage Storage, pricer Pricer, orders Orders, matcher Matcher, stats Stats, notifier Notifier, config *config.Config, deps *deps.Deps) *Server {
	return &Server{
		storage:  storage,
		pricer:   pricer,
		orders:   orders,
		matcher:  matcher,
		stats:    stats,
		notifier: notifier,
		config:   config,
		deps:     deps,
	}
}

func (srv *Server) buildRouter() http.Handler {
	router := chi.NewRouter()
	router.Use(chiMiddleware.StripSlashes)
	router.Use(middleware.LogMiddleware(srv.deps.Logger))
	router.Use(middleware.DecompressMiddleware)
	router.Use(middleware.CompressMiddleware(srv.deps.Logger))

	router.Post("/api/user/register", srv.RegisterHandler)
	router.Post("/api/user/login", srv.LoginHandler)
	router.Get("/api/catalog/work-types", srv.WorkTypesHandler)

	// расчет цены доступен анонимно, авторизованным учитываются скидки
	router.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuthMiddleware(srv.storage, srv.deps.TokenManager))
		r.Post("/api/price/quote", srv.QuoteHandler)
	})

	// авторизованные ручки
	router.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(srv.storage, srv.deps.TokenManager))

		r.Post("/api/orders", srv.CreateOrderHandler)
		r.Get("/api/orders", srv.GetOrdersHandler)
		r.Get("/api/orders/available", srv.AvailableOrdersHandler)
		r.Get("/api/orders/{id}", srv.GetOrderHandler)
		r.Post("/api/orders/{id}/take", srv.TakeOrderHandler)
		r.Post("/api/orders/{id}/bids", srv.PlaceBidHandler)
		r.Get("/api/orders/{id}/bids", srv.OrderBidsHandler)
		r.Post("/api/orders/{id}/accept-bid", srv.AcceptBidHandler)
		r.Post("/api/orders/{id}/submit", srv.SubmitHandler)
		r.Post("/api/orders/{id}/approve", srv.ApproveHandler)
		r.Post("/api/orders/{id}/revision", srv.RevisionHandler)
		r.Post("/api/orders/{id}/complete", srv.CompleteHandler)
		r.Post("/api/orders/{id}/cancel", srv.CancelHandler)
		r.Post("/api/orders/{id}/dispute", srv.DisputeHandler)
		r.Post("/api/orders/{id}/discount", srv.ApplyDiscountHandler)
		r.Delete("/api/orders/{id}/discount", srv.RemoveDiscountHandler)
		r.Post("/api/orders/{id}/review", srv.ReviewHandler)
		r.Get("/api/orders/{id}/matches", srv.MatchesHandler)

		r.Get("/api/experts/{id}/availability", srv.AvailabilityHandler)
		r.Get("/api/experts/{id}/statistics", srv.ExpertStatsHandler)

		r.Get("/api/discounts/available", srv.AvailableDiscountsHandler)
		r.Get("/api/discounts/upcoming", srv.UpcomingDiscountsHandler)

		r.Group(func(admin chi.Router) {
			admin.Use(middleware.RequireRole(model.RoleAdmin))
			admin.Post("/api/orders/{id}/resolve", srv.ResolveDisputeHandler)
			admin.Post("/api/admin/recompute", srv.RecomputeHandler)
		})
	})

	return router
}

func (srv *Server) Run(ctx context.Context) error {
	router := srv.buildRouter()

	server := &http.Server{
		Addr:    srv.config.RunAddress,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.deps.Logger.Fatalf("server error: %v", err)
		}
	}()

	go srv.RunBackgroundJobs(ctx)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
