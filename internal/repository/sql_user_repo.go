package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/usergate/internal/database"
	"github.com/hitoshi/usergate/internal/model"
)

const userColumns = `id, name, email, created_at, updated_at`

// SQLUserRepo はPostgreSQLまたはSQLiteを使用したユーザーリポジトリ。
// usersテーブルの1行を1ドキュメントとして扱う。
type SQLUserRepo struct {
	db      *sql.DB
	dialect database.Dialect
	timeout time.Duration
	now     func() time.Time
	newID   func(time.Time) (string, error)
}

// NewSQLUserRepo はSQLUserRepoを生成する。
// timeoutは1回のクエリに許容する時間で、0以下の場合は制限しない。
func NewSQLUserRepo(db *sql.DB, dialect database.Dialect, timeout time.Duration) *SQLUserRepo {
	return &SQLUserRepo{
		db:      db,
		dialect: dialect,
		timeout: timeout,
		now:     time.Now,
		newID:   model.NewObjectID,
	}
}

// FindAll は全ユーザーを作成順で返す。
func (r *SQLUserRepo) FindAll(ctx context.Context) ([]model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT `+userColumns+` FROM users ORDER BY created_at, id`),
	)
	if err != nil {
		return nil, wrapStoreError("list users", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapStoreError("scan user", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("iterate users", err)
	}

	return users, nil
}

// FindByID は指定IDのユーザーを取得する。
func (r *SQLUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	key, err := checkID(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`),
		key,
	)
	return r.scanOne(row, id, "find user")
}

// Insert はユーザーを作成する。
func (r *SQLUserRepo) Insert(ctx context.Context, in model.UserInput) (*model.User, error) {
	now := r.timestamp()
	id, err := r.newID(now)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:        id,
		Name:      in.Name,
		Email:     in.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err = r.db.ExecContext(ctx,
		r.rebind(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)`),
		user.ID, user.Name, user.Email, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return nil, wrapStoreError("insert user", err)
	}

	return user, nil
}

// Update はnameとemailを全置換する。
func (r *SQLUserRepo) Update(ctx context.Context, id string, in model.UserInput) (*model.User, error) {
	key, err := checkID(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		r.rebind(`UPDATE users SET name = ?, email = ?, updated_at = ? WHERE id = ? RETURNING `+userColumns),
		in.Name, in.Email, r.timestamp(), key,
	)
	return r.scanOne(row, id, "update user")
}

// Delete は指定IDのユーザーを削除する。
func (r *SQLUserRepo) Delete(ctx context.Context, id string) (*model.User, error) {
	key, err := checkID(id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		r.rebind(`DELETE FROM users WHERE id = ? RETURNING `+userColumns),
		key,
	)
	return r.scanOne(row, id, "delete user")
}

// Ping はストアへの疎通を確認する。
func (r *SQLUserRepo) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return wrapStoreError("ping store", err)
	}
	return nil
}

func (r *SQLUserRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// timestamp はPostgreSQLの精度に合わせてマイクロ秒で切り捨てたUTC時刻を返す。
func (r *SQLUserRepo) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// rebind は?プレースホルダーをPostgreSQLの$n形式に変換する。
func (r *SQLUserRepo) rebind(query string) string {
	if r.dialect != database.DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (r *SQLUserRepo) scanOne(row *sql.Row, id, op string) (*model.User, error) {
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NewUserNotFoundError(id)
	}
	if err != nil {
		return nil, wrapStoreError(op, err)
	}
	return user, nil
}

// checkID はIDの形式を検証し、検索用に小文字化したIDを返す。
func checkID(id string) (string, error) {
	if !model.IsValidObjectID(id) {
		return "", model.NewInvalidIDError(id)
	}
	return model.NormalizeObjectID(id), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*model.User, error) {
	u := &model.User{}
	err := s.Scan(&u.ID, &u.Name, &u.Email, timeScanner{&u.CreatedAt}, timeScanner{&u.UpdatedAt})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// sqliteTimeLayouts はSQLiteがTEXTとして返す時刻の書式。
var sqliteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// timeScanner はドライバや列の宣言型によって異なる時刻表現をtime.Timeに変換する。
// SQLiteのRETURNING句は宣言型を失うため文字列で返ることがある。
type timeScanner struct {
	dst *time.Time
}

func (s timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.dst = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case int64:
		*s.dst = time.Unix(v, 0).UTC()
		return nil
	case nil:
		*s.dst = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported time value type %T", src)
	}
}

func (s timeScanner) parse(v string) error {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			*s.dst = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse time value %q", v)
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
