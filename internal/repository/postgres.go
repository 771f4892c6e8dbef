// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/cafeteria-system/internal/loyalty"
	"github.com/mmeshcher/cafeteria-system/internal/model"
	"github.com/mmeshcher/cafeteria-system/internal/money"
	"github.com/mmeshcher/cafeteria-system/internal/order"
	"github.com/mmeshcher/cafeteria-system/internal/payment"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrStudentExists возвращается при попытке зарегистрировать студента с занятым кодом.
var (
	ErrStudentExists = errors.New("student already exists")
	// ErrStudentNotFound возвращается, если студент не найден.
	ErrStudentNotFound = errors.New("student not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict возвращается, если текущий статус заказа не совпал с ожидаемым.
	ErrStatusConflict = errors.New("order status conflict")
	// ErrItemNotFound возвращается, если позиция меню не найдена.
	ErrItemNotFound = errors.New("catalog item not found")
	// ErrRecordNotFound возвращается, если программная запись не найдена.
	ErrRecordNotFound = errors.New("program record not found")
	// ErrPaymentExists возвращается при повторной записи платежа по уже
	// оплаченному заказу.
	ErrPaymentExists = errors.New("payment already recorded")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраим только ошибки сериализации и дедлоки, остальным pgxpool занимается сам.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateStudent регистрирует студента и создаёт ему программную запись
// бонусной программы в одной транзакции.
func (r *PostgresRepository) CreateStudent(ctx context.Context, code string, passwordHash []byte) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO students (code, password_hash) VALUES ($1, $2) RETURNING id`,
		code, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrStudentExists, code)
		}
		return 0, fmt.Errorf("create student: %w", err)
	}

	if _, err := r.upsertProgramRecordTx(ctx, tx, code, 0); err != nil {
		return 0, fmt.Errorf("create program record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

// GetStudentByCode возвращает студента по его коду.
func (r *PostgresRepository) GetStudentByCode(ctx context.Context, code string) (*model.Student, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, code, password_hash, COALESCE(program_code, ''), created_at FROM students WHERE code = $1`,
		code,
	)

	var s model.Student
	err := row.Scan(&s.ID, &s.Code, &s.PasswordHash, &s.ProgramCode, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}

	return &s, nil
}

// FindCatalogItem возвращает позицию меню по идентификатору.
func (r *PostgresRepository) FindCatalogItem(ctx context.Context, id int64) (*model.CatalogItem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, price_cents, available FROM catalog_items WHERE id = $1`,
		id,
	)

	var (
		item       model.CatalogItem
		priceCents int64
	)
	err := row.Scan(&item.ID, &item.Name, &priceCents, &item.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("find catalog item: %w", err)
	}
	item.Price = money.FromCents(priceCents, money.RUB)

	return &item, nil
}

// ListAvailableItems возвращает доступные позиции меню.
func (r *PostgresRepository) ListAvailableItems(ctx context.Context) ([]model.CatalogItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price_cents, available
		 FROM catalog_items
		 WHERE available
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select catalog items: %w", err)
	}
	defer rows.Close()

	var items []model.CatalogItem
	for rows.Next() {
		var (
			item       model.CatalogItem
			priceCents int64
		)
		if err := rows.Scan(&item.ID, &item.Name, &priceCents, &item.Available); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		item.Price = money.FromCents(priceCents, money.RUB)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// SaveOrder сохраняет заказ с позициями и присваивает ему код.
// Суточный счётчик инкрементируется атомарно одним запросом; при сбое
// счётчика используется заведомо уникальный резервный код.
func (r *PostgresRepository) SaveOrder(ctx context.Context, o *order.Order) (string, error) {
	now := time.Now()
	day := order.DayKey(now)

	// Суточный счётчик инкрементируется отдельной атомарной командой,
	// чтобы его сбой не ронял транзакцию сохранения заказа.
	var (
		code string
		seq  int64
	)
	err := r.pool.QueryRow(ctx,
		`INSERT INTO order_day_seq (day, seq) VALUES ($1, 1)
		 ON CONFLICT (day) DO UPDATE SET seq = order_day_seq.seq + 1
		 RETURNING seq`,
		day,
	).Scan(&seq)
	if err != nil {
		code = order.FallbackCode(now)
	} else {
		code = order.FormatCode(day, seq)
	}

	err = r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var orderID int64
		err = tx.QueryRow(ctx,
			`INSERT INTO orders (code, student_code, status) VALUES ($1, $2, $3) RETURNING id`,
			code, o.StudentCode, string(o.Status),
		).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, li := range o.Items {
			_, err = tx.Exec(ctx,
				`INSERT INTO order_items (order_id, catalog_item_id, name, unit_price_cents, quantity)
				 VALUES ($1, $2, $3, $4, $5)`,
				orderID, li.CatalogItemID, li.Name, li.UnitPrice.Cents(), li.Quantity,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		o.ID = orderID
		o.Code = code
		return nil
	})
	if err != nil {
		return "", err
	}

	return code, nil
}

func (r *PostgresRepository) loadOrderItems(ctx context.Context, orderID int64) ([]order.LineItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT catalog_item_id, name, unit_price_cents, quantity
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var items []order.LineItem
	for rows.Next() {
		var (
			li         order.LineItem
			priceCents int64
		)
		if err := rows.Scan(&li.CatalogItemID, &li.Name, &priceCents, &li.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		li.UnitPrice = money.FromCents(priceCents, money.RUB)
		items = append(items, li)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// GetOrderByCode возвращает заказ с позициями по его коду.
func (r *PostgresRepository) GetOrderByCode(ctx context.Context, code string) (*order.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, code, student_code, status, created_at FROM orders WHERE code = $1`,
		code,
	)

	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.Code, &o.StudentCode, &status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = order.Status(status)

	o.Items, err = r.loadOrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}

	return &o, nil
}

// GetOrdersByStudent возвращает заказы студента, новые сверху.
func (r *PostgresRepository) GetOrdersByStudent(ctx context.Context, studentCode string) ([]order.Order, error) {
	return r.selectOrders(ctx,
		`SELECT id, code, student_code, status, created_at
		 FROM orders
		 WHERE student_code = $1
		 ORDER BY created_at DESC`,
		studentCode,
	)
}

// GetPendingOrders возвращает заказы в статусах NEW и PREPARING.
func (r *PostgresRepository) GetPendingOrders(ctx context.Context) ([]order.Order, error) {
	return r.selectOrders(ctx,
		`SELECT id, code, student_code, status, created_at
		 FROM orders
		 WHERE status IN ($1, $2)
		 ORDER BY created_at`,
		string(order.StatusNew), string(order.StatusPreparing),
	)
}

func (r *PostgresRepository) selectOrders(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		var (
			o      order.Order
			status string
		)
		if err := rows.Scan(&o.ID, &o.Code, &o.StudentCode, &status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = order.Status(status)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range orders {
		orders[i].Items, err = r.loadOrderItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}

	return orders, nil
}

// UpdateOrderStatus переводит заказ из ожидаемого статуса в новый.
// Оптимистическая проверка: если текущий статус уже не тот, обновления не будет.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, code string, from, to order.Status) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE code = $1 AND status = $2`,
		code, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE code = $1)`, code,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return fmt.Errorf("%w: %s is not in %s", ErrStatusConflict, code, from)
	}

	return nil
}

// upsertProgramRecordTx изменяет баланс программной записи внутри транзакции.
// Если записи нет, создаёт её, генерирует программный код из идентификатора
// и сохраняет связь у студента. Возвращает программный код.
func (r *PostgresRepository) upsertProgramRecordTx(ctx context.Context, tx pgx.Tx, studentCode string, delta int64) (string, error) {
	var (
		id   int64
		code string
	)
	err := tx.QueryRow(ctx,
		`UPDATE program_records SET points = points + $2, updated_at = now()
		 WHERE student_code = $1
		 RETURNING id, code`,
		studentCode, delta,
	).Scan(&id, &code)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("update program record: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO program_records (student_code, points) VALUES ($1, $2) RETURNING id`,
		studentCode, delta,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert program record: %w", err)
	}

	code = loyalty.ProgramCode(id)
	if _, err := tx.Exec(ctx,
		`UPDATE program_records SET code = $2 WHERE id = $1`, id, code,
	); err != nil {
		return "", fmt.Errorf("set program code: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE students SET program_code = $2 WHERE code = $1`, studentCode, code,
	); err != nil {
		return "", fmt.Errorf("link program code: %w", err)
	}

	return code, nil
}

// AwardPoints атомарно начисляет баллы студенту и синхронизирует программную запись.
func (r *PostgresRepository) AwardPoints(ctx context.Context, studentCode string, points int64) (*model.ProgramRecord, error) {
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := r.upsertProgramRecordTx(ctx, tx, studentCode, points); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.GetProgramRecord(ctx, studentCode)
}

// DeductPoints списывает баллы условным обновлением одной командой:
// при нехватке баланса строка не меняется и возвращается ErrInsufficientPoints.
func (r *PostgresRepository) DeductPoints(ctx context.Context, studentCode string, points int64) (*model.ProgramRecord, error) {
	var rec model.ProgramRecord

	err := r.pool.QueryRow(ctx,
		`UPDATE program_records SET points = points - $2, updated_at = now()
		 WHERE student_code = $1 AND points >= $2
		 RETURNING id, code, student_code, points, updated_at`,
		studentCode, points,
	).Scan(&rec.ID, &rec.Code, &rec.StudentCode, &rec.Points, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrInsufficientPoints
		}
		return nil, fmt.Errorf("deduct points: %w", err)
	}

	return &rec, nil
}

// GetProgramRecord возвращает программную запись студента.
func (r *PostgresRepository) GetProgramRecord(ctx context.Context, studentCode string) (*model.ProgramRecord, error) {
	return r.scanProgramRecord(ctx,
		`SELECT id, code, student_code, points, updated_at FROM program_records WHERE student_code = $1`,
		studentCode,
	)
}

// FindProgramRecordByCode ищет программную запись по программному коду.
// Используется только для поиска унаследованных записей.
func (r *PostgresRepository) FindProgramRecordByCode(ctx context.Context, programCode string) (*model.ProgramRecord, error) {
	return r.scanProgramRecord(ctx,
		`SELECT id, code, student_code, points, updated_at FROM program_records WHERE code = $1`,
		programCode,
	)
}

func (r *PostgresRepository) scanProgramRecord(ctx context.Context, query string, arg any) (*model.ProgramRecord, error) {
	var rec model.ProgramRecord
	err := r.pool.QueryRow(ctx, query, arg).
		Scan(&rec.ID, &rec.Code, &rec.StudentCode, &rec.Points, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get program record: %w", err)
	}
	return &rec, nil
}

// RecordPayment сохраняет итог платежа. Неуспешный платёж по заказу можно
// перезаписать повторной попыткой; если по заказу уже есть состоявшийся
// платёж, возвращается ErrPaymentExists.
func (r *PostgresRepository) RecordPayment(ctx context.Context, p *payment.Payment) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO payments (order_code, method, amount_cents, status, reference)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (order_code) DO UPDATE
		     SET method = EXCLUDED.method, amount_cents = EXCLUDED.amount_cents,
		         status = EXCLUDED.status, reference = EXCLUDED.reference
		     WHERE payments.status = 'FAILED'`,
		p.OrderCode, string(p.Method), p.Amount.Cents(), string(p.Status), p.Reference,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentExists
	}
	return nil
}

// RecordHistory добавляет запись истории заказа.
func (r *PostgresRepository) RecordHistory(ctx context.Context, rec model.HistoryRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO order_history (order_code, student_code, payment_method, amount_cents, status, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.OrderCode, rec.StudentCode, rec.PaymentMethod, rec.Amount.Cents(), rec.Status, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}
	return nil
}

// UpdateHistoryStatus зеркалирует новый статус заказа в записях истории.
func (r *PostgresRepository) UpdateHistoryStatus(ctx context.Context, orderCode, status string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE order_history SET status = $2 WHERE order_code = $1`,
		orderCode, status,
	)
	if err != nil {
		return fmt.Errorf("update history status: %w", err)
	}
	return nil
}

// CreateNotification добавляет отложенное уведомление студенту.
func (r *PostgresRepository) CreateNotification(ctx context.Context, studentCode, message string, typ model.NotificationType) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (student_code, message, type) VALUES ($1, $2, $3)`,
		studentCode, message, string(typ),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetUnsentNotifications возвращает неотправленные уведомления.
func (r *PostgresRepository) GetUnsentNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_code, message, type, sent, created_at
		 FROM notifications
		 WHERE NOT sent
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var (
			n   model.Notification
			typ string
		)
		if err := rows.Scan(&n.ID, &n.StudentCode, &n.Message, &typ, &n.Sent, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkNotificationSent помечает уведомление доставленным.
func (r *PostgresRepository) MarkNotificationSent(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET sent = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}
