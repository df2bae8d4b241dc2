package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/and161185/workmarket/internal/discount"
	"github.com/and161185/workmarket/internal/errs"
	"github.com/and161185/workmarket/internal/middleware"
	"github.com/and161185/workmarket/internal/model"
	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

const defaultMatchLimit = 10

func (srv *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if creds.Login == "" || creds.Password == "" {
		http.Error(w, "login and password required", http.StatusBadRequest)
		return
	}

	role := creds.Role
	if role == "" {
		role = model.RoleClient
	}
	// админов через API не регистрируем
	if role != model.RoleClient && role != model.RoleExpert {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "hash error", http.StatusInternalServerError)
		return
	}

	if err := srv.storage.CreateUser(r.Context(), creds.Login, string(hash), role); err != nil {
		srv.writeError(w, err)
		return
	}

	user, _, err := srv.storage.GetUserByLogin(r.Context(), creds.Login)
	if err != nil {
		srv.writeError(w, err)
		return
	}

	srv.issueToken(w, user)
}

func (srv *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	user, hash, err := srv.storage.GetUserByLogin(r.Context(), creds.Login)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		srv.writeError(w, err)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)) != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	srv.issueToken(w, user)
}

func (srv *Server) issueToken(w http.ResponseWriter, user model.User) {
	token, err := srv.deps.TokenManager.GenerateToken(user.ID)
	if err != nil {
		http.Error(w, "token error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Authorization", "Bearer "+token)
	srv.writeJSON(w, http.StatusOK, user)
}

func (srv *Server) WorkTypesHandler(w http.ResponseWriter, r *http.Request) {
	workTypes, err := srv.storage.ListWorkTypes(r.Context())
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, workTypes)
}

func (srv *Server) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req model.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	wt, err := srv.storage.GetWorkType(r.Context(), req.WorkTypeID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	cx, err := srv.storage.GetComplexity(r.Context(), req.ComplexityID)
	if err != nil {
		srv.writeError(w, err)
		return
	}

	var user *model.User
	if u, ok := middleware.UserFromContext(r.Context()); ok {
		user = &u
	}

	bd, err := srv.pricer.Breakdown(r.Context(), wt, cx, req.Deadline, user, req.Requirements)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, bd)
}

func (srv *Server) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "title required", http.StatusBadRequest)
		return
	}

	order, err := srv.orders.Create(r.Context(), actor, req)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusCreated, order)
}

func (srv *Server) GetOrdersHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var orders []model.Order
	var err error
	if actor.Role == model.RoleExpert {
		orders, err = srv.storage.GetExpertOrders(r.Context(), actor.ID)
	} else {
		orders, err = srv.storage.GetClientOrders(r.Context(), actor.ID)
	}
	if err != nil {
		srv.writeError(w, err)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	srv.writeJSON(w, http.StatusOK, orders)
}

func (srv *Server) AvailableOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := srv.storage.ListAvailableOrders(r.Context())
	if err != nil {
		srv.writeError(w, err)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	srv.writeJSON(w, http.StatusOK, orders)
}

func (srv *Server) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	order, err := srv.storage.GetOrder(r.Context(), orderID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	if order.ClientID != actor.ID && !isAssignedExpert(order, actor) && actor.Role != model.RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	srv.writeJSON(w, http.StatusOK, order)
}

func (srv *Server) TakeOrderHandler(w http.ResponseWriter, r *http.Request) {
	srv.transitionHandler(w, r, srv.orders.Take)
}

func (srv *Server) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	srv.transitionHandler(w, r, srv.orders.Submit)
}

func (srv *Server) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	srv.transitionHandler(w, r, srv.orders.Approve)
}

func (srv *Server) RevisionHandler(w http.ResponseWriter, r *http.Request) {
	srv.transitionHandler(w, r, srv.orders.Revision)
}

func (srv *Server) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	srv.transitionHandler(w, r, srv.orders.Complete)
}

func (srv *Server) CancelHandler(w http.ResponseWriter, r *http.Request) {
	srv.transitionHandler(w, r, srv.orders.Cancel)
}

func (srv *Server) transitionHandler(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor *model.User, orderID int) (model.Order, error)) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	order, err := op(r.Context(), actor, orderID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, order)
}

func (srv *Server) PlaceBidHandler(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	var req model.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	bid, err := srv.orders.PlaceBid(r.Context(), actor, orderID, req)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusCreated, bid)
}

func (srv *Server) OrderBidsHandler(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	order, err := srv.storage.GetOrder(r.Context(), orderID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	if order.ClientID != actor.ID && actor.Role != model.RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	bids, err := srv.storage.ListOrderBids(r.Context(), orderID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, bids)
}

func (srv *Server) AcceptBidHandler(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	var req model.AcceptBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	order, err := srv.orders.AcceptBid(r.Context(), actor, orderID, req.BidID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, order)
}

func (srv *Server) DisputeHandler(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	var req model.DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "reason required", http.StatusBadRequest)
		return
	}

	order, err := srv.orders.OpenDispute(r.Context(), actor, orderID, req.Reason)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, order)
}

func (srv *Server) ResolveDisputeHandler(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	var req model.ResolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	order, err := srv.orders.ResolveDispute(r.Context(), actor, orderID, req)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, order)
}

func (srv *Server) ApplyDiscountHandler(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	var req model.ApplyDiscountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	order, err := srv.orders.ApplyDiscount(r.Context(), actor, orderID, req.DiscountID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, order)
}

func (srv *Server) RemoveDiscountHandler(w http.ResponseWriter, r *http.Request) {
	srv.transitionHandler(w, r, srv.orders.RemoveDiscount)
}

func (srv *Server) ReviewHandler(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	var req model.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	review, err := srv.orders.LeaveReview(r.Context(), actor, orderID, req)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusCreated, review)
}

func (srv *Server) MatchesHandler(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := srv.actorAndOrderID(w, r)
	if !ok {
		return
	}

	order, err := srv.storage.GetOrder(r.Context(), orderID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	if order.ClientID != actor.ID && actor.Role != model.RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	limit := defaultMatchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	matches, err := srv.matcher.FindMatches(r.Context(), order, limit)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, matches)
}

func (srv *Server) AvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	expertID, err := idFromURL(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	availability, err := srv.matcher.Availability(r.Context(), expertID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, availability)
}

func (srv *Server) ExpertStatsHandler(w http.ResponseWriter, r *http.Request) {
	expertID, err := idFromURL(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	stats, err := srv.storage.GetExpertStatistics(r.Context(), expertID)
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, stats)
}

func (srv *Server) AvailableDiscountsHandler(w http.ResponseWriter, r *http.Request) {
	rules, stats, ok := srv.discountContext(w, r)
	if !ok {
		return
	}
	srv.writeJSON(w, http.StatusOK, discount.Available(rules, stats, time.Now()))
}

func (srv *Server) UpcomingDiscountsHandler(w http.ResponseWriter, r *http.Request) {
	rules, stats, ok := srv.discountContext(w, r)
	if !ok {
		return
	}
	srv.writeJSON(w, http.StatusOK, discount.NearlyAvailable(rules, stats, time.Now()))
}

func (srv *Server) discountContext(w http.ResponseWriter, r *http.Request) ([]model.DiscountRule, model.ClientStats, bool) {
	actor, ok := actorFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, model.ClientStats{}, false
	}

	rules, err := srv.storage.ListDiscountRules(r.Context())
	if err != nil {
		srv.writeError(w, err)
		return nil, model.ClientStats{}, false
	}
	stats, err := srv.storage.GetClientStats(r.Context(), actor.ID)
	if err != nil {
		srv.writeError(w, err)
		return nil, model.ClientStats{}, false
	}
	return rules, stats, true
}

func (srv *Server) RecomputeHandler(w http.ResponseWriter, r *http.Request) {
	updated, err := srv.stats.RecomputeAll(r.Context())
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// ---- вспомогательное ----

func actorFromContext(r *http.Request) (*model.User, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return &user, true
}

func (srv *Server) actorAndOrderID(w http.ResponseWriter, r *http.Request) (*model.User, int, bool) {
	actor, ok := actorFromContext(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, 0, false
	}
	orderID, err := idFromURL(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, 0, false
	}
	return actor, orderID, true
}

func idFromURL(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

func isAssignedExpert(order model.Order, actor *model.User) bool {
	return order.ExpertID != nil && *order.ExpertID == actor.ID
}

func (srv *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		srv.deps.Logger.Errorf("write response: %v", err)
	}
}

func (srv *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrUserNotFound),
		errors.Is(err, errs.ErrOrderNotFound),
		errors.Is(err, errs.ErrBidNotFound),
		errors.Is(err, errs.ErrDiscountNotFound),
		errors.Is(err, errs.ErrExpertNotFound),
		errors.Is(err, errs.ErrWorkTypeNotFound),
		errors.Is(err, errs.ErrComplexityNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errs.ErrPastDeadline),
		errors.Is(err, errs.ErrInvalidAmount),
		errors.Is(err, errs.ErrInvalidRating),
		errors.Is(err, errs.ErrDiscountNotApplicable):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errs.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, errs.ErrPreconditionFailed),
		errors.Is(err, errs.ErrNoDiscountApplied),
		errors.Is(err, errs.ErrLoginAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, errs.ErrInvalidToken):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		srv.deps.Logger.Errorf("internal error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
