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
	"github.com/sethvargo/go-retry"

	"github.com/ndmitriev/offerwall-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrPartnerNotFound возвращается, если партнёр с указанным кодом не найден.
	ErrPartnerNotFound = errors.New("partner not found")
	// ErrOfferNotFound возвращается, если оффер не найден в пространстве имён партнёра.
	ErrOfferNotFound = errors.New("offer not found")
	// ErrCompletionNotFound возвращается, если запись о конверсии не найдена.
	ErrCompletionNotFound = errors.New("completion not found")
	// ErrDuplicateCompletion возвращается при повторной вставке конверсии с тем же
	// идентификатором постбэка партнёра.
	ErrDuplicateCompletion = errors.New("completion already recorded")
	// ErrAlreadyReversed возвращается при попытке повторного реверсала конверсии.
	ErrAlreadyReversed = errors.New("completion already reversed")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNegativeBalance возвращается при попытке вывода средств при отрицательном балансе.
	ErrNegativeBalance = errors.New("balance is negative")
	// ErrPayoutNotFound возвращается, если заявка на вывод не найдена.
	ErrPayoutNotFound = errors.New("payout not found")
	// ErrInvalidPayoutStatus возвращается при недопустимом переходе статуса заявки.
	ErrInvalidPayoutStatus = errors.New("invalid payout status transition")
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

// withRetry повторяет операцию при временных сбоях хранилища: сериализационных
// конфликтах, дедлоках и сетевых ошибках. Ошибки бизнес-логики не ретраятся.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
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

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, points_balance, level_points, wallet_address, is_admin, is_banned, created_at
		 FROM users WHERE login = $1`,
		login,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, points_balance, level_points, wallet_address, is_admin, is_banned, created_at
		 FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.PointsBalance, &u.LevelPoints,
		&u.WalletAddress, &u.IsAdmin, &u.IsBanned, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// SetWalletAddress сохраняет адрес криптокошелька пользователя.
func (r *PostgresRepository) SetWalletAddress(ctx context.Context, userID int64, address string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET wallet_address = $2 WHERE id = $1`,
		userID, address,
	)
	if err != nil {
		return fmt.Errorf("set wallet address: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetPartnerByCode возвращает партнёра по его стабильному коду.
func (r *PostgresRepository) GetPartnerByCode(ctx context.Context, code string) (*model.Partner, error) {
	var p model.Partner
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, name, is_enabled FROM partners WHERE code = $1`,
		code,
	).Scan(&p.ID, &p.Code, &p.Name, &p.IsEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPartnerNotFound, code)
		}
		return nil, fmt.Errorf("get partner: %w", err)
	}
	return &p, nil
}

// GetEnabledPartners возвращает список включённых партнёрских интеграций.
func (r *PostgresRepository) GetEnabledPartners(ctx context.Context) ([]model.Partner, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, code, name, is_enabled FROM partners WHERE is_enabled ORDER BY code`,
	)
	if err != nil {
		return nil, fmt.Errorf("select partners: %w", err)
	}
	defer rows.Close()

	var res []model.Partner
	for rows.Next() {
		var p model.Partner
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.IsEnabled); err != nil {
			return nil, fmt.Errorf("scan partner: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetOffer возвращает оффер по идентификатору в пространстве имён партнёра.
func (r *PostgresRepository) GetOffer(ctx context.Context, partnerID int64, offerIDPartner string) (*model.Offer, error) {
	var o model.Offer
	err := r.pool.QueryRow(ctx,
		`SELECT id, partner_id, offer_id_partner, name, country, is_active, payout_points
		 FROM offers WHERE partner_id = $1 AND offer_id_partner = $2`,
		partnerID, offerIDPartner,
	).Scan(&o.ID, &o.PartnerID, &o.OfferIDPartner, &o.Name, &o.Country, &o.IsActive, &o.PayoutPoints)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return &o, nil
}

// EnsureOffer лениво создаёт минимальный активный оффер при первом постбэке
// и возвращает существующую либо созданную запись.
func (r *PostgresRepository) EnsureOffer(ctx context.Context, partnerID int64, offerIDPartner, name string) (*model.Offer, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO offers (partner_id, offer_id_partner, name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (partner_id, offer_id_partner) DO NOTHING`,
		partnerID, offerIDPartner, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert offer: %w", err)
	}

	return r.GetOffer(ctx, partnerID, offerIDPartner)
}

// UpsertOffer создаёт или обновляет оффер из партнёрского каталога.
func (r *PostgresRepository) UpsertOffer(ctx context.Context, o model.Offer) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO offers (partner_id, offer_id_partner, name, country, is_active, payout_points)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (partner_id, offer_id_partner)
		 DO UPDATE SET name = EXCLUDED.name, country = EXCLUDED.country,
		               is_active = EXCLUDED.is_active, payout_points = EXCLUDED.payout_points`,
		o.PartnerID, o.OfferIDPartner, o.Name, o.Country, o.IsActive, o.PayoutPoints,
	)
	if err != nil {
		return fmt.Errorf("upsert offer: %w", err)
	}
	return nil
}

const completionColumns = `id, user_id, partner_id, offer_id, offer_id_partner, partner_callback_id,
	credited_points, money_value, status, ip, country, device_info, created_at, reversed_at`

func scanCompletion(row pgx.Row) (*model.Completion, error) {
	var c model.Completion
	err := row.Scan(&c.ID, &c.UserID, &c.PartnerID, &c.OfferID, &c.OfferIDPartner, &c.PartnerCallbackID,
		&c.CreditedPoints, &c.MoneyValue, &c.Status, &c.IP, &c.Country, &c.DeviceInfo, &c.CreatedAt, &c.ReversedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCompletionNotFound
		}
		return nil, fmt.Errorf("scan completion: %w", err)
	}
	return &c, nil
}

// GetCompletionByCallbackID возвращает конверсию по ключу идемпотентности
// (партнёр, идентификатор постбэка партнёра).
func (r *PostgresRepository) GetCompletionByCallbackID(ctx context.Context, partnerID int64, callbackID string) (*model.Completion, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+completionColumns+` FROM completions
		 WHERE partner_id = $1 AND partner_callback_id = $2`,
		partnerID, callbackID,
	)
	return scanCompletion(row)
}

// GetCompletionsByUser возвращает историю конверсий пользователя.
func (r *PostgresRepository) GetCompletionsByUser(ctx context.Context, userID int64) ([]model.Completion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+completionColumns+` FROM completions
		 WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select completions: %w", err)
	}
	defer rows.Close()

	var res []model.Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreditCompletion атомарно записывает конверсию, увеличивает баланс и очки уровня
// пользователя и добавляет запись журнала. Повторная вставка с тем же идентификатором
// постбэка партнёра превращается уникальным ограничением в ErrDuplicateCompletion —
// это штатная ветка при конкурентной доставке дубликатов, а не исключение.
func (r *PostgresRepository) CreditCompletion(ctx context.Context, c *model.Completion) (int64, int64, error) {
	var completionID, newBalance int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`INSERT INTO completions (user_id, partner_id, offer_id, offer_id_partner, partner_callback_id,
			                          credited_points, money_value, status, ip, country, device_info)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING id`,
			c.UserID, c.PartnerID, c.OfferID, c.OfferIDPartner, c.PartnerCallbackID,
			c.CreditedPoints, c.MoneyValue, string(model.CompletionStatusCredited),
			c.IP, c.Country, c.DeviceInfo,
		).Scan(&completionID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: callback %s", ErrDuplicateCompletion, c.PartnerCallbackID)
			}
			return fmt.Errorf("insert completion: %w", err)
		}

		err = tx.QueryRow(ctx,
			`UPDATE users
			 SET points_balance = points_balance + $2, level_points = level_points + $2
			 WHERE id = $1
			 RETURNING points_balance`,
			c.UserID, c.CreditedPoints,
		).Scan(&newBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("credit balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, amount, balance_after, source, reference_kind, reference_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			c.UserID, c.CreditedPoints, newBalance,
			string(model.LedgerSourceCredit), string(model.ReferenceKindCompletion), completionID,
		)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, 0, err
	}

	return completionID, newBalance, nil
}

// ReverseCompletion атомарно переводит конверсию в статус reversed и списывает
// ранее начисленные баллы компенсирующей записью журнала. Списание безусловное:
// баланс может уйти в минус, заявки на вывод при этом блокируются.
func (r *PostgresRepository) ReverseCompletion(ctx context.Context, partnerID int64, callbackID string) (*model.Completion, int64, error) {
	var reversed *model.Completion
	var newBalance int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx,
			`SELECT `+completionColumns+` FROM completions
			 WHERE partner_id = $1 AND partner_callback_id = $2
			 FOR UPDATE`,
			partnerID, callbackID,
		)
		c, err := scanCompletion(row)
		if err != nil {
			return err
		}

		if c.Status == model.CompletionStatusReversed {
			return fmt.Errorf("%w: completion %d", ErrAlreadyReversed, c.ID)
		}

		now := time.Now()
		_, err = tx.Exec(ctx,
			`UPDATE completions SET status = $2, reversed_at = $3 WHERE id = $1`,
			c.ID, string(model.CompletionStatusReversed), now,
		)
		if err != nil {
			return fmt.Errorf("update completion status: %w", err)
		}

		err = tx.QueryRow(ctx,
			`UPDATE users SET points_balance = points_balance - $2
			 WHERE id = $1
			 RETURNING points_balance`,
			c.UserID, c.CreditedPoints,
		).Scan(&newBalance)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, amount, balance_after, source, reference_kind, reference_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			c.UserID, -c.CreditedPoints, newBalance,
			string(model.LedgerSourceDebit), string(model.ReferenceKindCompletion), c.ID,
		)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		c.Status = model.CompletionStatusReversed
		c.ReversedAt = &now
		reversed = c
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return reversed, newBalance, nil
}

// GetBalance возвращает текущий баланс и накопленные очки уровня пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, int64, error) {
	var points, levelPoints int64
	err := r.pool.QueryRow(ctx,
		`SELECT points_balance, level_points FROM users WHERE id = $1`,
		userID,
	).Scan(&points, &levelPoints)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, fmt.Errorf("get balance: %w", err)
	}
	return points, levelPoints, nil
}

// GetLedgerByUser возвращает журнал изменений баланса пользователя.
func (r *PostgresRepository) GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, balance_after, source, reference_kind, reference_id, created_at
		 FROM ledger_entries
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.BalanceAfter, &e.Source,
			&e.ReferenceKind, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreatePayout атомарно списывает баллы и создаёт заявку на вывод средств.
// Проверка достаточности баланса выполняется под блокировкой строки пользователя,
// внутри той же транзакции, что и списание.
func (r *PostgresRepository) CreatePayout(ctx context.Context, p *model.Payout) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance int64
		err = tx.QueryRow(ctx,
			`SELECT points_balance FROM users WHERE id = $1 FOR UPDATE`,
			p.UserID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		if balance < 0 {
			return ErrNegativeBalance
		}

		total := p.PointsAmount + p.FeePoints
		if total > balance {
			return ErrInsufficientBalance
		}

		_, err = tx.Exec(ctx,
			`UPDATE users SET points_balance = points_balance - $2 WHERE id = $1`,
			p.UserID, total,
		)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO payouts (external_id, user_id, points_amount, fee_points, wallet_address, crypto_currency, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, requested_at`,
			p.ExternalID, p.UserID, p.PointsAmount, p.FeePoints, p.WalletAddress, p.CryptoCurrency,
			string(model.PayoutStatusPending),
		).Scan(&p.ID, &p.RequestedAt)
		if err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (user_id, amount, balance_after, source, reference_kind, reference_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			p.UserID, -p.PointsAmount, balance-p.PointsAmount,
			string(model.LedgerSourcePayout), string(model.ReferenceKindPayout), p.ID,
		)
		if err != nil {
			return fmt.Errorf("insert payout ledger entry: %w", err)
		}

		if p.FeePoints > 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO ledger_entries (user_id, amount, balance_after, source, reference_kind, reference_id)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				p.UserID, -p.FeePoints, balance-total,
				string(model.LedgerSourcePayoutFee), string(model.ReferenceKindPayout), p.ID,
			)
			if err != nil {
				return fmt.Errorf("insert fee ledger entry: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		p.Status = model.PayoutStatusPending
		return nil
	})
}

const payoutColumns = `id, external_id, user_id, points_amount, fee_points, wallet_address,
	crypto_currency, status, requested_at, processed_at, completed_at`

func scanPayouts(rows pgx.Rows) ([]model.Payout, error) {
	defer rows.Close()

	var res []model.Payout
	for rows.Next() {
		var p model.Payout
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.UserID, &p.PointsAmount, &p.FeePoints,
			&p.WalletAddress, &p.CryptoCurrency, &p.Status, &p.RequestedAt, &p.ProcessedAt, &p.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPayoutsByUser возвращает историю заявок пользователя на вывод средств.
func (r *PostgresRepository) GetPayoutsByUser(ctx context.Context, userID int64) ([]model.Payout, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE user_id = $1 ORDER BY requested_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payouts: %w", err)
	}
	return scanPayouts(rows)
}

// GetPayoutsByStatus возвращает заявки на вывод в указанном статусе.
func (r *PostgresRepository) GetPayoutsByStatus(ctx context.Context, status model.PayoutStatus) ([]model.Payout, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE status = $1 ORDER BY requested_at`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select payouts: %w", err)
	}
	return scanPayouts(rows)
}

// UpdatePayoutStatus переводит заявку из статуса from в статус to.
// Условие по исходному статусу в самом UPDATE исключает гонку двух админов.
func (r *PostgresRepository) UpdatePayoutStatus(ctx context.Context, id int64, from, to model.PayoutStatus) error {
	column := "processed_at"
	if to == model.PayoutStatusPaid {
		column = "completed_at"
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payouts SET status = $3, `+column+` = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update payout status: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM payouts WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrPayoutNotFound
		}
		return fmt.Errorf("get payout status: %w", err)
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidPayoutStatus, current, to)
}

// LogCallback записывает сырой входящий постбэк в журнал аудита.
// Вызывающий код игнорирует ошибку: сбой аудита не должен влиять на начисление.
func (r *PostgresRepository) LogCallback(ctx context.Context, partnerCode, rawQuery, outcome string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO callback_log (partner_code, raw_query, outcome) VALUES ($1, $2, $3)`,
		partnerCode, rawQuery, outcome,
	)
	if err != nil {
		return fmt.Errorf("insert callback log: %w", err)
	}
	return nil
}
