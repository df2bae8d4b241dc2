package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/workmarket/internal/errs"
	"github.com/and161185/workmarket/internal/matching"
	"github.com/and161185/workmarket/internal/model"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PostgresStorage struct {
	db *pgxpool.Pool
}

func (store *PostgresStorage) initSchema(ctx context.Context) error {
	const initSchemaQuery = `
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		login TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'client',
		last_activity TIMESTAMPTZ DEFAULT NOW(),
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS work_types (
		id SERIAL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		base_price NUMERIC NOT NULL,
		estimated_hours INT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE TABLE IF NOT EXISTS complexities (
		id SERIAL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		multiplier NUMERIC NOT NULL CHECK (multiplier >= 0.1 AND multiplier <= 5.0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE TABLE IF NOT EXISTS discount_rules (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		value NUMERIC NOT NULL,
		min_orders INT NOT NULL DEFAULT 0,
		min_total_spent NUMERIC NOT NULL DEFAULT 0,
		valid_from TIMESTAMPTZ NOT NULL,
		valid_until TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE TABLE IF NOT EXISTS discount_rule_work_types (
		discount_id INT NOT NULL REFERENCES discount_rules(id),
		work_type_id INT NOT NULL REFERENCES work_types(id),
		PRIMARY KEY (discount_id, work_type_id)
	);
	CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		client_id INT NOT NULL REFERENCES users(id),
		expert_id INT REFERENCES users(id),
		subject_id INT NOT NULL DEFAULT 0,
		topic_id INT NOT NULL DEFAULT 0,
		work_type_id INT NOT NULL REFERENCES work_types(id),
		complexity_id INT NOT NULL REFERENCES complexities(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		requirements JSONB NOT NULL DEFAULT '{}',
		deadline TIMESTAMPTZ NOT NULL,
		budget NUMERIC NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		discount_id INT REFERENCES discount_rules(id),
		original_price NUMERIC,
		discount_amount NUMERIC NOT NULL DEFAULT 0,
		final_price NUMERIC,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS bids (
		id SERIAL PRIMARY KEY,
		order_id INT NOT NULL REFERENCES orders(id),
		expert_id INT NOT NULL REFERENCES users(id),
		amount NUMERIC NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE (order_id, expert_id)
	);
	CREATE TABLE IF NOT EXISTS specializations (
		id SERIAL PRIMARY KEY,
		expert_id INT NOT NULL REFERENCES users(id),
		subject_id INT NOT NULL,
		experience_years INT NOT NULL DEFAULT 0,
		hourly_rate NUMERIC NOT NULL DEFAULT 0,
		is_verified BOOLEAN NOT NULL DEFAULT FALSE,
		verified_by INT REFERENCES users(id),
		UNIQUE (expert_id, subject_id)
	);
	CREATE TABLE IF NOT EXISTS expert_statistics (
		expert_id INT PRIMARY KEY REFERENCES users(id),
		total_orders INT NOT NULL DEFAULT 0,
		completed_orders INT NOT NULL DEFAULT 0,
		cancelled_orders INT NOT NULL DEFAULT 0,
		in_progress INT NOT NULL DEFAULT 0,
		average_rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_earnings NUMERIC NOT NULL DEFAULT 0,
		avg_response_seconds BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS reviews (
		id SERIAL PRIMARY KEY,
		order_id INT UNIQUE NOT NULL REFERENCES orders(id),
		expert_id INT NOT NULL REFERENCES users(id),
		client_id INT NOT NULL REFERENCES users(id),
		rating INT NOT NULL CHECK (rating BETWEEN 1 AND 5),
		comment TEXT NOT NULL DEFAULT '',
		is_published BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id SERIAL PRIMARY KEY,
		user_id INT NOT NULL REFERENCES users(id),
		order_id INT NOT NULL REFERENCES orders(id),
		amount NUMERIC NOT NULL,
		type TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS disputes (
		id SERIAL PRIMARY KEY,
		order_id INT NOT NULL REFERENCES orders(id),
		author_id INT NOT NULL REFERENCES users(id),
		reason TEXT NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		result TEXT NOT NULL DEFAULT '',
		arbitrator_id INT REFERENCES users(id),
		created_at TIMESTAMPTZ DEFAULT NOW()
	);`

	_, err := store.db.Exec(ctx, initSchemaQuery)
	return err
}

func NewPostgresStorage(ctx context.Context, databaseURI string) (*PostgresStorage, error) {
	cfg, err := pgxpool.ParseConfig(databaseURI)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	storage := &PostgresStorage{db: db}

	if err := storage.Ping(ctx); err != nil {
		return nil, err
	}

	if err := storage.initSchema(ctx); err != nil {
		return nil, err
	}

	return storage, nil
}

func (store *PostgresStorage) Ping(ctx context.Context) error {
	return store.db.Ping(ctx)
}

func (store *PostgresStorage) Close() {
	store.db.Close()
}

// ---- пользователи ----

func (s *PostgresStorage) CreateUser(ctx context.Context, login, passwordHash string, role model.Role) error {
	const query = `INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3)`

	_, err := s.db.Exec(ctx, query, login, passwordHash, string(role))
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			// 23505 — уникальное ограничение нарушено
			return errs.ErrLoginAlreadyExists
		}
		return err
	}

	return nil
}

func (s *PostgresStorage) GetUserByLogin(ctx context.Context, login string) (model.User, string, error) {
	const query = `SELECT id, login, role, password_hash FROM users WHERE login = $1`

	var user model.User
	var hash string

	err := s.db.QueryRow(ctx, query, login).Scan(&user.ID, &user.Login, &user.Role, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, "", errs.ErrUserNotFound
		}
		return model.User{}, "", fmt.Errorf("get user by login: %w", err)
	}

	return user, hash, nil
}

func (s *PostgresStorage) GetUserByID(ctx context.Context, id int) (model.User, error) {
	const query = `SELECT id, login, role FROM users WHERE id = $1`

	var user model.User

	err := s.db.QueryRow(ctx, query, id).Scan(&user.ID, &user.Login, &user.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, errs.ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("get user by id: %w", err)
	}

	return user, nil
}

func (s *PostgresStorage) touchActivity(ctx context.Context, userID int) {
	const query = `UPDATE users SET last_activity = NOW() WHERE id = $1`
	// активность — вспомогательный сигнал, ошибку глотаем
	_, _ = s.db.Exec(ctx, query, userID)
}

// ---- каталог ----

func (s *PostgresStorage) GetWorkType(ctx context.Context, workTypeID int) (model.WorkType, error) {
	const query = `SELECT id, name, base_price, estimated_hours, is_active FROM work_types WHERE id = $1`

	var wt model.WorkType
	err := s.db.QueryRow(ctx, query, workTypeID).Scan(&wt.ID, &wt.Name, &wt.BasePrice, &wt.EstimatedHours, &wt.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WorkType{}, errs.ErrWorkTypeNotFound
		}
		return model.WorkType{}, fmt.Errorf("get work type: %w", err)
	}
	return wt, nil
}

func (s *PostgresStorage) GetComplexity(ctx context.Context, complexityID int) (model.Complexity, error) {
	const query = `SELECT id, name, multiplier, is_active FROM complexities WHERE id = $1`

	var cx model.Complexity
	err := s.db.QueryRow(ctx, query, complexityID).Scan(&cx.ID, &cx.Name, &cx.Multiplier, &cx.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Complexity{}, errs.ErrComplexityNotFound
		}
		return model.Complexity{}, fmt.Errorf("get complexity: %w", err)
	}
	return cx, nil
}

func (s *PostgresStorage) ListWorkTypes(ctx context.Context) ([]model.WorkType, error) {
	const query = `SELECT id, name, base_price, estimated_hours, is_active FROM work_types WHERE is_active ORDER BY id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list work types: %w", err)
	}
	defer rows.Close()

	var out []model.WorkType
	for rows.Next() {
		var wt model.WorkType
		if err := rows.Scan(&wt.ID, &wt.Name, &wt.BasePrice, &wt.EstimatedHours, &wt.IsActive); err != nil {
			return nil, fmt.Errorf("scan work type: %w", err)
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

// ---- скидки ----

func (s *PostgresStorage) ListDiscountRules(ctx context.Context) ([]model.DiscountRule, error) {
	const query = `
		SELECT r.id, r.name, r.kind, r.value, r.min_orders, r.min_total_spent,
			r.valid_from, r.valid_until, r.is_active,
			COALESCE(array_agg(w.work_type_id) FILTER (WHERE w.work_type_id IS NOT NULL), '{}')
		FROM discount_rules r
		LEFT JOIN discount_rule_work_types w ON w.discount_id = r.id
		GROUP BY r.id
		ORDER BY r.id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list discount rules: %w", err)
	}
	defer rows.Close()

	var out []model.DiscountRule
	for rows.Next() {
		var r model.DiscountRule
		err := rows.Scan(&r.ID, &r.Name, &r.Kind, &r.Value, &r.MinOrders, &r.MinTotalSpent,
			&r.ValidFrom, &r.ValidUntil, &r.IsActive, &r.WorkTypeIDs)
		if err != nil {
			return nil, fmt.Errorf("scan discount rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) GetDiscountRule(ctx context.Context, discountID int) (model.DiscountRule, error) {
	const query = `
		SELECT r.id, r.name, r.kind, r.value, r.min_orders, r.min_total_spent,
			r.valid_from, r.valid_until, r.is_active,
			COALESCE(array_agg(w.work_type_id) FILTER (WHERE w.work_type_id IS NOT NULL), '{}')
		FROM discount_rules r
		LEFT JOIN discount_rule_work_types w ON w.discount_id = r.id
		WHERE r.id = $1
		GROUP BY r.id`

	var r model.DiscountRule
	err := s.db.QueryRow(ctx, query, discountID).Scan(&r.ID, &r.Name, &r.Kind, &r.Value,
		&r.MinOrders, &r.MinTotalSpent, &r.ValidFrom, &r.ValidUntil, &r.IsActive, &r.WorkTypeIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DiscountRule{}, errs.ErrDiscountNotFound
		}
		return model.DiscountRule{}, fmt.Errorf("get discount rule: %w", err)
	}
	return r, nil
}

func (s *PostgresStorage) GetClientStats(ctx context.Context, userID int) (model.ClientStats, error) {
	const query = `
		SELECT COUNT(*), COALESCE(SUM(COALESCE(final_price, budget)), 0)
		FROM orders
		WHERE client_id = $1 AND status = 'completed'`

	var stats model.ClientStats
	err := s.db.QueryRow(ctx, query, userID).Scan(&stats.CompletedOrders, &stats.TotalSpent)
	if err != nil {
		return model.ClientStats{}, fmt.Errorf("get client stats: %w", err)
	}
	return stats, nil
}

// ---- заказы ----

const orderColumns = `id, client_id, expert_id, subject_id, topic_id, work_type_id, complexity_id,
	title, description, requirements, deadline, budget, status,
	discount_id, original_price, discount_amount, final_price, created_at, updated_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.ClientID, &o.ExpertID, &o.SubjectID, &o.TopicID, &o.WorkTypeID,
		&o.ComplexityID, &o.Title, &o.Description, &o.Requirements, &o.Deadline, &o.Budget,
		&o.Status, &o.DiscountID, &o.OriginalPrice, &o.DiscountAmount, &o.FinalPrice,
		&o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *PostgresStorage) CreateOrder(ctx context.Context, order model.Order) (model.Order, error) {
	const query = `
		INSERT INTO orders (client_id, subject_id, topic_id, work_type_id, complexity_id,
			title, description, requirements, deadline, budget, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + orderColumns

	reqs := order.Requirements
	if reqs == nil {
		reqs = map[string]string{}
	}

	created, err := scanOrder(s.db.QueryRow(ctx, query,
		order.ClientID, order.SubjectID, order.TopicID, order.WorkTypeID, order.ComplexityID,
		order.Title, order.Description, reqs, order.Deadline, order.Budget, string(order.Status)))
	if err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}
	return created, nil
}

func (s *PostgresStorage) GetOrder(ctx context.Context, orderID int) (model.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(s.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, errs.ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (s *PostgresStorage) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *PostgresStorage) GetClientOrders(ctx context.Context, clientID int) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE client_id = $1 ORDER BY created_at DESC`, clientID)
}

func (s *PostgresStorage) GetExpertOrders(ctx context.Context, expertID int) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE expert_id = $1 ORDER BY created_at DESC`, expertID)
}

func (s *PostgresStorage) ListAvailableOrders(ctx context.Context) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = 'new' AND expert_id IS NULL ORDER BY created_at`)
}

// TakeOrder назначает эксперта атомарно: конкурирующие вызовы различит
// условие в WHERE, выиграет ровно один.
func (s *PostgresStorage) TakeOrder(ctx context.Context, orderID, expertID int) (model.Order, error) {
	const query = `
		UPDATE orders SET expert_id = $2, status = 'in_progress', updated_at = NOW()
		WHERE id = $1 AND status = 'new' AND expert_id IS NULL
		RETURNING ` + orderColumns

	order, err := scanOrder(s.db.QueryRow(ctx, query, orderID, expertID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, s.orderPreconditionErr(ctx, orderID)
		}
		return model.Order{}, fmt.Errorf("take order: %w", err)
	}

	s.touchActivity(ctx, expertID)
	return order, nil
}

func (s *PostgresStorage) SetOrderStatus(ctx context.Context, orderID int, from []model.OrderStatus, to model.OrderStatus) (model.Order, error) {
	const query = `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + orderColumns

	order, err := scanOrder(s.db.QueryRow(ctx, query, orderID, statusStrings(from), string(to)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, s.orderPreconditionErr(ctx, orderID)
		}
		return model.Order{}, fmt.Errorf("set order status: %w", err)
	}
	return order, nil
}

// orderPreconditionErr различает отсутствующий заказ и заказ в неподходящем
// статусе: условный UPDATE в обоих случаях не находит строку.
func (s *PostgresStorage) orderPreconditionErr(ctx context.Context, orderID int) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return errs.ErrOrderNotFound
	}
	return errs.ErrPreconditionFailed
}

// ---- ставки ----

func (s *PostgresStorage) GetBid(ctx context.Context, bidID int) (model.Bid, error) {
	const query = `SELECT id, order_id, expert_id, amount, comment, created_at FROM bids WHERE id = $1`

	var bid model.Bid
	err := s.db.QueryRow(ctx, query, bidID).Scan(&bid.ID, &bid.OrderID, &bid.ExpertID, &bid.Amount, &bid.Comment, &bid.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Bid{}, errs.ErrBidNotFound
		}
		return model.Bid{}, fmt.Errorf("get bid: %w", err)
	}
	return bid, nil
}

func (s *PostgresStorage) UpsertBid(ctx context.Context, bid model.Bid) (model.Bid, error) {
	const query = `
		INSERT INTO bids (order_id, expert_id, amount, comment)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id, expert_id)
		DO UPDATE SET amount = EXCLUDED.amount, comment = EXCLUDED.comment, created_at = NOW()
		RETURNING id, order_id, expert_id, amount, comment, created_at`

	var saved model.Bid
	err := s.db.QueryRow(ctx, query, bid.OrderID, bid.ExpertID, bid.Amount, bid.Comment).
		Scan(&saved.ID, &saved.OrderID, &saved.ExpertID, &saved.Amount, &saved.Comment, &saved.CreatedAt)
	if err != nil {
		return model.Bid{}, fmt.Errorf("upsert bid: %w", err)
	}

	s.touchActivity(ctx, bid.ExpertID)
	return saved, nil
}

func (s *PostgresStorage) ListOrderBids(ctx context.Context, orderID int) ([]model.Bid, error) {
	const query = `SELECT id, order_id, expert_id, amount, comment, created_at FROM bids WHERE order_id = $1 ORDER BY amount`

	rows, err := s.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		var bid model.Bid
		if err := rows.Scan(&bid.ID, &bid.OrderID, &bid.ExpertID, &bid.Amount, &bid.Comment, &bid.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// AcceptBid в одной транзакции назначает эксперта из ставки и ставит бюджет.
// В работу заказ переходит только из перечисленных статусов, из остальных
// статус не меняется — назначение при этом все равно происходит.
func (s *PostgresStorage) AcceptBid(ctx context.Context, bid model.Bid, from []model.OrderStatus) (model.Order, model.OrderStatus, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Order{}, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldStatus model.OrderStatus
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, bid.OrderID).Scan(&oldStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, "", errs.ErrOrderNotFound
		}
		return model.Order{}, "", fmt.Errorf("lock order: %w", err)
	}

	const query = `
		UPDATE orders SET
			expert_id = $2,
			budget = $3,
			status = CASE WHEN status = ANY($4) THEN 'in_progress' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRow(ctx, query, bid.OrderID, bid.ExpertID, bid.Amount, statusStrings(from)))
	if err != nil {
		return model.Order{}, "", fmt.Errorf("accept bid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Order{}, "", fmt.Errorf("commit: %w", err)
	}
	return order, oldStatus, nil
}

// ---- скидка на заказе ----

func (s *PostgresStorage) ApplyOrderDiscount(ctx context.Context, orderID, discountID int, amount decimal.Decimal) (model.Order, error) {
	const query = `
		UPDATE orders SET
			discount_id = $2,
			original_price = budget,
			discount_amount = $3,
			final_price = budget - $3,
			budget = budget - $3,
			updated_at = NOW()
		WHERE id = $1 AND discount_id IS NULL
		RETURNING ` + orderColumns

	order, err := scanOrder(s.db.QueryRow(ctx, query, orderID, discountID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, s.orderPreconditionErr(ctx, orderID)
		}
		return model.Order{}, fmt.Errorf("apply discount: %w", err)
	}
	return order, nil
}

func (s *PostgresStorage) ClearOrderDiscount(ctx context.Context, orderID int) (model.Order, error) {
	const query = `
		UPDATE orders SET
			budget = original_price,
			discount_id = NULL,
			original_price = NULL,
			discount_amount = 0,
			final_price = NULL,
			updated_at = NOW()
		WHERE id = $1 AND discount_id IS NOT NULL
		RETURNING ` + orderColumns

	order, err := scanOrder(s.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if preErr := s.orderPreconditionErr(ctx, orderID); errors.Is(preErr, errs.ErrOrderNotFound) {
				return model.Order{}, preErr
			}
			return model.Order{}, errs.ErrNoDiscountApplied
		}
		return model.Order{}, fmt.Errorf("clear discount: %w", err)
	}
	return order, nil
}

// ---- споры ----

func (s *PostgresStorage) OpenDispute(ctx context.Context, orderID, authorID int, reason string, from []model.OrderStatus) (model.Order, model.OrderStatus, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Order{}, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldStatus model.OrderStatus
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&oldStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, "", errs.ErrOrderNotFound
		}
		return model.Order{}, "", fmt.Errorf("lock order: %w", err)
	}

	const query = `
		UPDATE orders SET status = 'disputed', updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRow(ctx, query, orderID, statusStrings(from)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, "", errs.ErrPreconditionFailed
		}
		return model.Order{}, "", fmt.Errorf("open dispute: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO disputes (order_id, author_id, reason) VALUES ($1, $2, $3)`,
		orderID, authorID, reason)
	if err != nil {
		return model.Order{}, "", fmt.Errorf("insert dispute: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Order{}, "", fmt.Errorf("commit: %w", err)
	}
	return order, oldStatus, nil
}

func (s *PostgresStorage) ResolveDispute(ctx context.Context, orderID, arbitratorID int, result string, to model.OrderStatus) (model.Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'disputed'
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRow(ctx, query, orderID, string(to)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, s.orderPreconditionErr(ctx, orderID)
		}
		return model.Order{}, fmt.Errorf("resolve dispute: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE disputes SET resolved = TRUE, result = $2, arbitrator_id = $3
		WHERE order_id = $1 AND NOT resolved`,
		orderID, result, arbitratorID)
	if err != nil {
		return model.Order{}, fmt.Errorf("close dispute: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Order{}, fmt.Errorf("commit: %w", err)
	}
	return order, nil
}

// ---- отзывы ----

func (s *PostgresStorage) SaveReview(ctx context.Context, review model.Review) (model.Review, error) {
	const query = `
		INSERT INTO reviews (order_id, expert_id, client_id, rating, comment, is_published)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id)
		DO UPDATE SET rating = EXCLUDED.rating, comment = EXCLUDED.comment
		RETURNING id, order_id, expert_id, client_id, rating, comment, is_published, created_at`

	var saved model.Review
	err := s.db.QueryRow(ctx, query, review.OrderID, review.ExpertID, review.ClientID,
		review.Rating, review.Comment, review.IsPublished).
		Scan(&saved.ID, &saved.OrderID, &saved.ExpertID, &saved.ClientID, &saved.Rating,
			&saved.Comment, &saved.IsPublished, &saved.CreatedAt)
	if err != nil {
		return model.Review{}, fmt.Errorf("save review: %w", err)
	}
	return saved, nil
}

// ---- подбор экспертов ----

func (s *PostgresStorage) ListCandidates(ctx context.Context, subjectID int) ([]matching.Candidate, error) {
	const query = `
		SELECT sp.id, sp.expert_id, sp.subject_id, sp.experience_years, sp.hourly_rate,
			sp.is_verified, sp.verified_by,
			COALESCE(st.average_rating, 0), COALESCE(st.success_rate, 0),
			(SELECT COUNT(*) FROM orders o
				WHERE o.expert_id = sp.expert_id AND o.status IN ('in_progress', 'revision'))
		FROM specializations sp
		LEFT JOIN expert_statistics st ON st.expert_id = sp.expert_id
		WHERE sp.subject_id = $1 AND sp.is_verified
		ORDER BY sp.expert_id`

	rows, err := s.db.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []matching.Candidate
	for rows.Next() {
		var c matching.Candidate
		err := rows.Scan(&c.Specialization.ID, &c.Specialization.ExpertID, &c.Specialization.SubjectID,
			&c.Specialization.ExperienceYears, &c.Specialization.HourlyRate,
			&c.Specialization.IsVerified, &c.Specialization.VerifiedBy,
			&c.Stats.AverageRating, &c.Stats.SuccessRate, &c.Workload)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Stats.ExpertID = c.Specialization.ExpertID
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) CountActiveOrders(ctx context.Context, expertID int) (int, error) {
	const query = `SELECT COUNT(*) FROM orders WHERE expert_id = $1 AND status IN ('in_progress', 'revision')`

	var count int
	if err := s.db.QueryRow(ctx, query, expertID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active orders: %w", err)
	}
	return count, nil
}

func (s *PostgresStorage) GetLastActivity(ctx context.Context, expertID int) (time.Time, error) {
	const query = `SELECT COALESCE(last_activity, created_at) FROM users WHERE id = $1`

	var lastActivity time.Time
	err := s.db.QueryRow(ctx, query, expertID).Scan(&lastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, errs.ErrExpertNotFound
		}
		return time.Time{}, fmt.Errorf("get last activity: %w", err)
	}
	return lastActivity, nil
}

// ---- статистика экспертов ----

func (s *PostgresStorage) GetExpertStatistics(ctx context.Context, expertID int) (model.ExpertStatistics, error) {
	const query = `
		SELECT expert_id, total_orders, completed_orders, cancelled_orders, in_progress,
			average_rating, success_rate, total_earnings, avg_response_seconds, updated_at
		FROM expert_statistics WHERE expert_id = $1`

	var st model.ExpertStatistics
	var responseSeconds int64
	err := s.db.QueryRow(ctx, query, expertID).Scan(&st.ExpertID, &st.TotalOrders,
		&st.CompletedOrders, &st.CancelledOrders, &st.InProgress, &st.AverageRating,
		&st.SuccessRate, &st.TotalEarnings, &responseSeconds, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// эксперт без истории: нулевая статистика
			return model.ExpertStatistics{ExpertID: expertID, TotalEarnings: decimal.Zero}, nil
		}
		return model.ExpertStatistics{}, fmt.Errorf("get expert statistics: %w", err)
	}
	st.AvgResponse = time.Duration(responseSeconds) * time.Second
	return st, nil
}

func (s *PostgresStorage) SaveExpertStatistics(ctx context.Context, stats model.ExpertStatistics) error {
	const query = `
		INSERT INTO expert_statistics (expert_id, total_orders, completed_orders, cancelled_orders,
			in_progress, average_rating, success_rate, total_earnings, avg_response_seconds, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (expert_id) DO UPDATE SET
			total_orders = EXCLUDED.total_orders,
			completed_orders = EXCLUDED.completed_orders,
			cancelled_orders = EXCLUDED.cancelled_orders,
			in_progress = EXCLUDED.in_progress,
			average_rating = EXCLUDED.average_rating,
			success_rate = EXCLUDED.success_rate,
			total_earnings = EXCLUDED.total_earnings,
			avg_response_seconds = EXCLUDED.avg_response_seconds,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(ctx, query, stats.ExpertID, stats.TotalOrders, stats.CompletedOrders,
		stats.CancelledOrders, stats.InProgress, stats.AverageRating, stats.SuccessRate,
		stats.TotalEarnings, int64(stats.AvgResponse/time.Second), stats.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save expert statistics: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListExpertIDs(ctx context.Context) ([]int, error) {
	const query = `SELECT id FROM users WHERE role = 'expert' ORDER BY id`
	return s.queryIDs(ctx, query)
}

func (s *PostgresStorage) ListClientIDs(ctx context.Context) ([]int, error) {
	const query = `SELECT id FROM users WHERE role = 'client' ORDER BY id`
	return s.queryIDs(ctx, query)
}

func (s *PostgresStorage) queryIDs(ctx context.Context, query string) ([]int, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStorage) ExpertOrderCounts(ctx context.Context, expertID int) (model.OrderCounts, error) {
	const query = `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status IN ('in_progress', 'revision'))
		FROM orders WHERE expert_id = $1`

	var counts model.OrderCounts
	err := s.db.QueryRow(ctx, query, expertID).Scan(&counts.Total, &counts.Completed,
		&counts.Cancelled, &counts.InProgress)
	if err != nil {
		return model.OrderCounts{}, fmt.Errorf("expert order counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStorage) ExpertAverageRating(ctx context.Context, expertID int) (float64, error) {
	const query = `SELECT COALESCE(AVG(rating), 0) FROM reviews WHERE expert_id = $1 AND is_published`

	var rating float64
	if err := s.db.QueryRow(ctx, query, expertID).Scan(&rating); err != nil {
		return 0, fmt.Errorf("expert average rating: %w", err)
	}
	return rating, nil
}

func (s *PostgresStorage) ExpertEarnings(ctx context.Context, expertID int) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1 AND type = 'payout'`

	var earnings decimal.Decimal
	if err := s.db.QueryRow(ctx, query, expertID).Scan(&earnings); err != nil {
		return decimal.Decimal{}, fmt.Errorf("expert earnings: %w", err)
	}
	return earnings, nil
}

// ExpertAvgResponse — средняя задержка между публикацией заказа и ставкой
// эксперта на него.
func (s *PostgresStorage) ExpertAvgResponse(ctx context.Context, expertID int) (time.Duration, error) {
	const query = `
		SELECT COALESCE(EXTRACT(EPOCH FROM AVG(b.created_at - o.created_at)), 0)
		FROM bids b
		JOIN orders o ON o.id = b.order_id
		WHERE b.expert_id = $1`

	var seconds float64
	if err := s.db.QueryRow(ctx, query, expertID).Scan(&seconds); err != nil {
		return 0, fmt.Errorf("expert avg response: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ---- транзакции ----

func (s *PostgresStorage) AddTransaction(ctx context.Context, tr model.Transaction) error {
	const query = `INSERT INTO transactions (user_id, order_id, amount, type) VALUES ($1, $2, $3, $4)`

	if _, err := s.db.Exec(ctx, query, tr.UserID, tr.OrderID, tr.Amount, string(tr.Type)); err != nil {
		return fmt.Errorf("add transaction: %w", err)
	}
	return nil
}

func statusStrings(statuses []model.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
