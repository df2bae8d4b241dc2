package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/workmarket/internal/discount"
	"github.com/and161185/workmarket/internal/errs"
	"github.com/and161185/workmarket/internal/model"
	"github.com/and161185/workmarket/internal/notify"
	"github.com/and161185/workmarket/internal/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Storage — хранилище заказов. Условные обновления атомарны: если заказ
// не в ожидаемом статусе, возвращается errs.ErrPreconditionFailed и
// состояние не меняется.
type Storage interface {
	CreateOrder(ctx context.Context, order model.Order) (model.Order, error)
	GetOrder(ctx context.Context, orderID int) (model.Order, error)
	// TakeOrder назначает эксперта только на новый заказ без исполнителя.
	TakeOrder(ctx context.Context, orderID, expertID int) (model.Order, error)
	// SetOrderStatus переводит заказ в to, если текущий статус в from.
	SetOrderStatus(ctx context.Context, orderID int, from []model.OrderStatus, to model.OrderStatus) (model.Order, error)
	GetBid(ctx context.Context, bidID int) (model.Bid, error)
	UpsertBid(ctx context.Context, bid model.Bid) (model.Bid, error)
	// AcceptBid в одной транзакции назначает эксперта и ставит бюджет из
	// ставки; заказ переходит в работу только из статусов from. Возвращает
	// старый статус.
	AcceptBid(ctx context.Context, bid model.Bid, from []model.OrderStatus) (model.Order, model.OrderStatus, error)
	GetDiscountRule(ctx context.Context, discountID int) (model.DiscountRule, error)
	// ApplyOrderDiscount применяет скидку, только если другая еще не применена.
	ApplyOrderDiscount(ctx context.Context, orderID, discountID int, amount decimal.Decimal) (model.Order, error)
	// ClearOrderDiscount снимает скидку; без примененной скидки —
	// errs.ErrNoDiscountApplied.
	ClearOrderDiscount(ctx context.Context, orderID int) (model.Order, error)
	// OpenDispute переводит нетерминальный заказ в спор и создает запись
	// спора в одной транзакции. Возвращает старый статус.
	OpenDispute(ctx context.Context, orderID, authorID int, reason string, from []model.OrderStatus) (model.Order, model.OrderStatus, error)
	// ResolveDispute закрывает спор и переводит заказ в to.
	ResolveDispute(ctx context.Context, orderID, arbitratorID int, result string, to model.OrderStatus) (model.Order, error)
	SaveReview(ctx context.Context, review model.Review) (model.Review, error)
	GetWorkType(ctx context.Context, workTypeID int) (model.WorkType, error)
	GetComplexity(ctx context.Context, complexityID int) (model.Complexity, error)
	ListDiscountRules(ctx context.Context) ([]model.DiscountRule, error)
	GetClientStats(ctx context.Context, userID int) (model.ClientStats, error)
}

type Pricer interface {
	Breakdown(ctx context.Context, wt model.WorkType, cx model.Complexity, deadline time.Time, user *model.User, reqs map[string]string) (pricing.Breakdown, error)
}

type Notifier interface {
	Notify(ctx context.Context, event string, payload any)
}

type Recomputer interface {
	Schedule(expertID int)
}

// disputable — статусы, из которых можно открыть спор.
var disputable = []model.OrderStatus{
	model.StatusNew,
	model.StatusWaitingPayment,
	model.StatusInProgress,
	model.StatusReview,
	model.StatusRevision,
}

// acceptable — статусы, из которых принятие ставки переводит заказ в работу.
var acceptable = []model.OrderStatus{
	model.StatusNew,
	model.StatusWaitingPayment,
	model.StatusReview,
	model.StatusRevision,
}

// Service — машина состояний заказа. Каждая операция принимает явного
// актора и проверяет его права до условного обновления.
type Service struct {
	storage   Storage
	pricer    Pricer
	notifier  Notifier
	recompute Recomputer
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewService(storage Storage, pricer Pricer, notifier Notifier, recompute Recomputer, logger *zap.SugaredLogger) *Service {
	return &Service{
		storage:   storage,
		pricer:    pricer,
		notifier:  notifier,
		recompute: recompute,
		logger:    logger,
		now:       time.Now,
	}
}

// Create создает заказ в статусе NEW. Цена считается без учета скидок,
// затем лучшая доступная скидка применяется обычным путем.
func (s *Service) Create(ctx context.Context, actor *model.User, req model.CreateOrderRequest) (model.Order, error) {
	if actor.Role != model.RoleClient {
		return model.Order{}, errs.ErrForbidden
	}
	if !req.Deadline.After(s.now()) {
		return model.Order{}, errs.ErrPastDeadline
	}

	wt, err := s.storage.GetWorkType(ctx, req.WorkTypeID)
	if err != nil {
		return model.Order{}, err
	}
	if !wt.IsActive {
		return model.Order{}, errs.ErrWorkTypeNotFound
	}
	cx, err := s.storage.GetComplexity(ctx, req.ComplexityID)
	if err != nil {
		return model.Order{}, err
	}
	if !cx.IsActive {
		return model.Order{}, errs.ErrComplexityNotFound
	}

	bd, err := s.pricer.Breakdown(ctx, wt, cx, req.Deadline, nil, req.Requirements)
	if err != nil {
		return model.Order{}, fmt.Errorf("price order: %w", err)
	}

	order, err := s.storage.CreateOrder(ctx, model.Order{
		ClientID:     actor.ID,
		SubjectID:    req.SubjectID,
		TopicID:      req.TopicID,
		WorkTypeID:   req.WorkTypeID,
		ComplexityID: req.ComplexityID,
		Title:        req.Title,
		Description:  req.Description,
		Requirements: req.Requirements,
		Deadline:     req.Deadline,
		Budget:       bd.FinalPrice,
		Status:       model.StatusNew,
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}

	order = s.applyBestDiscount(ctx, actor, order)
	s.notifier.Notify(ctx, notify.EventOrderCreated, order)
	return order, nil
}

// Take — эксперт берет новый заказ. Гонку двух экспертов разрешает
// условное обновление: побеждает ровно один.
func (s *Service) Take(ctx context.Context, actor *model.User, orderID int) (model.Order, error) {
	if actor.Role != model.RoleExpert {
		return model.Order{}, errs.ErrForbidden
	}
	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.ClientID == actor.ID {
		return model.Order{}, errs.ErrForbidden
	}

	updated, err := s.storage.TakeOrder(ctx, orderID, actor.ID)
	if err != nil {
		return model.Order{}, err
	}
	s.notifyStatus(ctx, updated, model.StatusNew)
	return updated, nil
}

// PlaceBid — эксперт предлагает цену. Повторная ставка того же эксперта
// заменяет предыдущую.
func (s *Service) PlaceBid(ctx context.Context, actor *model.User, orderID int, req model.BidRequest) (model.Bid, error) {
	if actor.Role != model.RoleExpert {
		return model.Bid{}, errs.ErrForbidden
	}
	if !req.Amount.IsPositive() {
		return model.Bid{}, errs.ErrInvalidAmount
	}

	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return model.Bid{}, err
	}
	if order.ClientID == actor.ID {
		return model.Bid{}, errs.ErrForbidden
	}
	if order.Status.Terminal() || order.Status == model.StatusDisputed {
		return model.Bid{}, errs.ErrPreconditionFailed
	}
	// на заказ с другим исполнителем ставки больше не принимаются
	if order.ExpertID != nil && *order.ExpertID != actor.ID {
		return model.Bid{}, errs.ErrPreconditionFailed
	}

	bid, err := s.storage.UpsertBid(ctx, model.Bid{
		OrderID:  orderID,
		ExpertID: actor.ID,
		Amount:   req.Amount,
		Comment:  req.Comment,
	})
	if err != nil {
		return model.Bid{}, fmt.Errorf("upsert bid: %w", err)
	}
	s.notifier.Notify(ctx, notify.EventBidPlaced, bid)
	return bid, nil
}

// AcceptBid — клиент принимает ставку: эксперт назначается, бюджет
// берется из ставки. Из new/waiting_payment/review/revision заказ уходит
// в работу, из остальных статусов происходит только переназначение.
func (s *Service) AcceptBid(ctx context.Context, actor *model.User, orderID, bidID int) (model.Order, error) {
	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.ClientID != actor.ID {
		return model.Order{}, errs.ErrForbidden
	}

	bid, err := s.storage.GetBid(ctx, bidID)
	if err != nil {
		return model.Order{}, err
	}
	if bid.OrderID != orderID {
		return model.Order{}, errs.ErrBidNotFound
	}

	updated, oldStatus, err := s.storage.AcceptBid(ctx, bid, acceptable)
	if err != nil {
		return model.Order{}, err
	}
	if updated.Status != oldStatus {
		s.notifyStatus(ctx, updated, oldStatus)
	}
	return updated, nil
}

// Submit — назначенный эксперт сдает работу на проверку.
func (s *Service) Submit(ctx context.Context, actor *model.User, orderID int) (model.Order, error) {
	return s.expertTransition(ctx, actor, orderID,
		[]model.OrderStatus{model.StatusInProgress, model.StatusRevision}, model.StatusReview)
}

// Complete — назначенный эксперт закрывает заказ напрямую, без проверки.
func (s *Service) Complete(ctx context.Context, actor *model.User, orderID int) (model.Order, error) {
	return s.expertTransition(ctx, actor, orderID,
		[]model.OrderStatus{model.StatusInProgress, model.StatusRevision}, model.StatusCompleted)
}

// Approve — клиент принимает работу.
func (s *Service) Approve(ctx context.Context, actor *model.User, orderID int) (model.Order, error) {
	return s.clientTransition(ctx, actor, orderID,
		[]model.OrderStatus{model.StatusReview}, model.StatusCompleted)
}

// Revision — клиент возвращает работу на доработку.
func (s *Service) Revision(ctx context.Context, actor *model.User, orderID int) (model.Order, error) {
	return s.clientTransition(ctx, actor, orderID,
		[]model.OrderStatus{model.StatusReview}, model.StatusRevision)
}

// Cancel — клиент отменяет еще не взятый заказ.
func (s *Service) Cancel(ctx context.Context, actor *model.User, orderID int) (model.Order, error) {
	return s.clientTransition(ctx, actor, orderID,
		[]model.OrderStatus{model.StatusNew}, model.StatusCancelled)
}

// OpenDispute — участник заказа открывает спор.
func (s *Service) OpenDispute(ctx context.Context, actor *model.User, orderID int, reason string) (model.Order, error) {
	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if !isParticipant(order, actor) {
		return model.Order{}, errs.ErrForbidden
	}

	updated, oldStatus, err := s.storage.OpenDispute(ctx, orderID, actor.ID, reason, disputable)
	if err != nil {
		return model.Order{}, err
	}
	s.notifyStatus(ctx, updated, oldStatus)
	return updated, nil
}

// ResolveDispute — арбитр (админ) закрывает спор: заказ возвращается
// в работу или отменяется.
func (s *Service) ResolveDispute(ctx context.Context, actor *model.User, orderID int, req model.ResolveDisputeRequest) (model.Order, error) {
	if actor.Role != model.RoleAdmin {
		return model.Order{}, errs.ErrForbidden
	}
	if req.Status != model.StatusInProgress && req.Status != model.StatusCancelled {
		return model.Order{}, errs.ErrPreconditionFailed
	}

	updated, err := s.storage.ResolveDispute(ctx, orderID, actor.ID, req.Result, req.Status)
	if err != nil {
		return model.Order{}, err
	}
	s.notifyStatus(ctx, updated, model.StatusDisputed)
	return updated, nil
}

// ApplyDiscount применяет скидку к заказу. Уже примененная скидка не
// заменяется: сначала remove_discount.
func (s *Service) ApplyDiscount(ctx context.Context, actor *model.User, orderID, discountID int) (model.Order, error) {
	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.ClientID != actor.ID {
		return model.Order{}, errs.ErrForbidden
	}

	rule, err := s.storage.GetDiscountRule(ctx, discountID)
	if err != nil {
		return model.Order{}, err
	}
	// пороги по заказам и тратам проверяются только при автоподборе;
	// явной скидке достаточно действовать сейчас и покрывать тип работы
	if !rule.AppliesTo(order.WorkTypeID) || !discount.Valid(rule, s.now()) {
		return model.Order{}, errs.ErrDiscountNotApplicable
	}

	amount := discount.Amount(rule, order.Budget)
	updated, err := s.storage.ApplyOrderDiscount(ctx, orderID, discountID, amount)
	if err != nil {
		return model.Order{}, err
	}
	return updated, nil
}

// RemoveDiscount снимает скидку и возвращает исходный бюджет.
func (s *Service) RemoveDiscount(ctx context.Context, actor *model.User, orderID int) (model.Order, error) {
	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.ClientID != actor.ID {
		return model.Order{}, errs.ErrForbidden
	}
	return s.storage.ClearOrderDiscount(ctx, orderID)
}

// LeaveReview — клиент оценивает выполненный заказ. Отзыв меняет
// статистику эксперта, пересчет уходит в очередь.
func (s *Service) LeaveReview(ctx context.Context, actor *model.User, orderID int, req model.ReviewRequest) (model.Review, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return model.Review{}, errs.ErrInvalidRating
	}

	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return model.Review{}, err
	}
	if order.ClientID != actor.ID {
		return model.Review{}, errs.ErrForbidden
	}
	if order.Status != model.StatusCompleted || order.ExpertID == nil {
		return model.Review{}, errs.ErrPreconditionFailed
	}

	review, err := s.storage.SaveReview(ctx, model.Review{
		OrderID:     orderID,
		ExpertID:    *order.ExpertID,
		ClientID:    actor.ID,
		Rating:      req.Rating,
		Comment:     req.Comment,
		IsPublished: true,
	})
	if err != nil {
		return model.Review{}, fmt.Errorf("save review: %w", err)
	}
	s.recompute.Schedule(*order.ExpertID)
	return review, nil
}

func (s *Service) expertTransition(ctx context.Context, actor *model.User, orderID int, from []model.OrderStatus, to model.OrderStatus) (model.Order, error) {
	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.ExpertID == nil || *order.ExpertID != actor.ID {
		return model.Order{}, errs.ErrForbidden
	}
	return s.transition(ctx, order, from, to)
}

func (s *Service) clientTransition(ctx context.Context, actor *model.User, orderID int, from []model.OrderStatus, to model.OrderStatus) (model.Order, error) {
	order, err := s.storage.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if order.ClientID != actor.ID {
		return model.Order{}, errs.ErrForbidden
	}
	return s.transition(ctx, order, from, to)
}

func (s *Service) transition(ctx context.Context, order model.Order, from []model.OrderStatus, to model.OrderStatus) (model.Order, error) {
	updated, err := s.storage.SetOrderStatus(ctx, order.ID, from, to)
	if err != nil {
		return model.Order{}, err
	}
	s.notifyStatus(ctx, updated, order.Status)
	return updated, nil
}

// notifyStatus уведомляет о смене статуса и на терминальных переходах
// ставит пересчет статистики эксперта в очередь.
func (s *Service) notifyStatus(ctx context.Context, order model.Order, oldStatus model.OrderStatus) {
	s.notifier.Notify(ctx, notify.EventStatusChanged, notify.StatusChange{
		Order:     order,
		OldStatus: oldStatus,
	})
	if order.Status.Terminal() && order.ExpertID != nil {
		s.recompute.Schedule(*order.ExpertID)
	}
}

func (s *Service) applyBestDiscount(ctx context.Context, actor *model.User, order model.Order) model.Order {
	stats, err := s.storage.GetClientStats(ctx, actor.ID)
	if err != nil {
		s.logger.Warnw("get client stats", "order_id", order.ID, "error", err)
		return order
	}
	rules, err := s.storage.ListDiscountRules(ctx)
	if err != nil {
		s.logger.Warnw("list discount rules", "order_id", order.ID, "error", err)
		return order
	}

	best, ok := discount.Best(rules, order.WorkTypeID, stats, order.Budget, s.now())
	if !ok {
		return order
	}
	updated, err := s.storage.ApplyOrderDiscount(ctx, order.ID, best.Rule.ID, best.Amount)
	if err != nil {
		s.logger.Warnw("apply discount", "order_id", order.ID, "discount_id", best.Rule.ID, "error", err)
		return order
	}
	return updated
}

func isParticipant(order model.Order, actor *model.User) bool {
	if order.ClientID == actor.ID {
		return true
	}
	return order.ExpertID != nil && *order.ExpertID == actor.ID
}
