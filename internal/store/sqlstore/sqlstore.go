package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"petshop/backend/internal/domain"
	"petshop/backend/internal/store"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

//go:embed migrations
var migrations embed.FS

// Store implements store.Repository on database/sql. Queries are written with
// "?" placeholders and rebound for PostgreSQL.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	return open(ctx, db, DialectPostgres)
}

// OpenSQLite opens (creating if needed) a database file. SQLite allows a single
// writer, so the pool is capped at one connection.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}

	return open(ctx, db, DialectSQLite)
}

func open(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	dir, dialect := "migrations/postgres", goose.DialectPostgres
	if s.dialect == DialectSQLite {
		dir, dialect = "migrations/sqlite", goose.DialectSQLite3
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &sqlTx{s: s, q: tx, now: time.Now().UTC()}); err != nil {
		return err
	}
	return tx.Commit()
}

const inventoryColumns = `id, product_name, brand, category, price, unit_of_measurement, stock_quantity, expire_date, created_at, updated_at`

const saleColumns = `id, pet_food_id, product_name, brand, category, unit_of_measurement, quantity_sold, revenue, sale_date, created_at, updated_at`

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		ORDER BY category, product_name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateInventoryItems(ctx context.Context, items []domain.InventoryItem) ([]domain.InventoryItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	created := make([]domain.InventoryItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.CreatedAt = now
		item.UpdatedAt = now

		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO inventory_items (`+inventoryColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?)
		`), item.ID, item.ProductName, item.Brand, item.Category, item.Price, item.UnitOfMeasurement,
			item.StockQuantity, dayArg(item.ExpireDate), s.timeArg(now), s.timeArg(now))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("inventory item %s: %w", item.ID, store.ErrDuplicate)
			}
			return nil, err
		}
		created = append(created, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) QuerySales(ctx context.Context, query domain.SaleQuery) ([]domain.SaleAggregate, error) {
	conds := make([]string, 0, 6)
	args := make([]any, 0, 6)
	if query.PetFoodID != "" {
		conds = append(conds, "pet_food_id = ?")
		args = append(args, query.PetFoodID)
	}
	if query.From != nil {
		conds = append(conds, "sale_date >= ?")
		args = append(args, dayArg(*query.From))
	}
	if query.To != nil {
		conds = append(conds, "sale_date <= ?")
		args = append(args, dayArg(*query.To))
	}
	for column, value := range map[string]string{
		"brand":        query.Brand,
		"category":     query.Category,
		"product_name": query.ProductName,
	} {
		if value == "" {
			continue
		}
		conds = append(conds, "LOWER("+column+`) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(value))
	}

	stmt := `SELECT ` + saleColumns + ` FROM sale_aggregates`
	if len(conds) > 0 {
		stmt += ` WHERE ` + strings.Join(conds, " AND ")
	}
	stmt += ` ORDER BY sale_date DESC, product_name, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(stmt), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleAggregate, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Collation differs between databases; keep the order identical to the other stores.
	store.SortSales(sales)
	return sales, nil
}

func (s *Store) DeleteAllSales(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sale_aggregates`)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (username, name, role, password_hash, created_at)
		VALUES (?,?,?,?,?)
	`), strings.ToLower(strings.TrimSpace(user.Username)), user.Name, user.Role, user.Password, s.timeArg(user.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT username, name, role, password_hash, created_at
		FROM users
		WHERE username = ?
	`), strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.Name, &user.Role, &user.Password, timeValue{&user.CreatedAt})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, name, role, password_hash, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Name, &user.Role, &user.Password, timeValue{&user.CreatedAt}); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) DeleteUsers(ctx context.Context, usernames []string) (int, error) {
	names := make([]string, 0, len(usernames))
	for _, name := range store.UniqueIDs(usernames) {
		names = append(names, strings.ToLower(name))
	}
	if len(names) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE username IN (`+placeholders(len(names))+`)`), anySlice(names)...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// rebind turns "?" placeholders into PostgreSQL's "$n" form.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg encodes timestamps; SQLite columns hold RFC 3339 text.
func (s *Store) timeArg(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

func dayArg(t time.Time) string {
	return t.Format(domain.DayLayout)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func likePattern(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(value))
	return "%" + escaped + "%"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInventoryItem(row rowScanner) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(&item.ID, &item.ProductName, &item.Brand, &item.Category, &item.Price, &item.UnitOfMeasurement,
		&item.StockQuantity, dayValue{&item.ExpireDate}, timeValue{&item.CreatedAt}, timeValue{&item.UpdatedAt})
	return item, err
}

func scanSale(row rowScanner) (domain.SaleAggregate, error) {
	var sale domain.SaleAggregate
	err := row.Scan(&sale.ID, &sale.PetFoodID, &sale.ProductName, &sale.Brand, &sale.Category, &sale.UnitOfMeasurement,
		&sale.QuantitySold, &sale.Revenue, dayValue{&sale.SaleDate}, timeValue{&sale.CreatedAt}, timeValue{&sale.UpdatedAt})
	return sale, err
}

// dayValue scans a DATE (PostgreSQL) or 'YYYY-MM-DD' text (SQLite) into
// midnight UTC.
type dayValue struct{ dst *time.Time }

func (d dayValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d.dst = time.Time{}
	case time.Time:
		*d.dst = time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("unsupported date value %T", src)
	}
	return nil
}

func (d dayValue) parse(v string) error {
	if len(v) > len(domain.DayLayout) {
		v = v[:len(domain.DayLayout)]
	}
	t, err := time.Parse(domain.DayLayout, v)
	if err != nil {
		return err
	}
	*d.dst = t
	return nil
}

type timeValue struct{ dst *time.Time }

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"}

func (t timeValue) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*t.dst = time.Time{}
		return nil
	case time.Time:
		*t.dst = v.UTC()
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			*t.dst = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised time %q", raw)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
