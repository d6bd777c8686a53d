package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/portcullis/internal/model"
)

// pqUniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const pqUniqueViolation = "23505"

// constraintFields は一意制約名と対象フィールドの対応。
// 制約名はマイグレーションで明示的に命名している。
var constraintFields = map[string]string{
	"users_username_key":              FieldUsername,
	"users_email_key":                 FieldEmail,
	"users_provider_external_uid_key": FieldProviderIdentity,
}

const userColumns = `id, username, email, password_hash, provider, external_uid, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByUsername はユーザー名の完全一致でユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`,
		username,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	return user, nil
}

// FindByProviderIdentity はproviderとexternal_uidでユーザーを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderIdentity(ctx context.Context, provider, externalUID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE provider = $1 AND external_uid = $2`,
		provider, externalUID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider identity: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// 一意制約に違反した場合は*DuplicateErrorを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, provider, external_uid, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID,
		nullString(user.Username),
		nullString(user.Email),
		user.PasswordHash,
		nullString(user.Provider),
		nullString(user.ExternalUID),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if dup := classifyUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsを抽象化する。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser は1行をUserに変換する。行が存在しない場合はnilを返す。
func scanUser(row rowScanner) (*model.User, error) {
	var (
		user                                   model.User
		username, email, provider, externalUID sql.NullString
	)
	err := row.Scan(
		&user.ID, &username, &email, &user.PasswordHash,
		&provider, &externalUID, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.Username = username.String
	user.Email = email.String
	user.Provider = provider.String
	user.ExternalUID = externalUID.String
	return &user, nil
}

// classifyUniqueViolation はドライバのエラーが一意制約違反であれば*DuplicateErrorに変換する。
// それ以外のエラーにはnilを返す。
func classifyUniqueViolation(err error) *DuplicateError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pqUniqueViolation {
		return nil
	}
	if field, ok := constraintFields[pqErr.Constraint]; ok {
		return &DuplicateError{Field: field}
	}
	return &DuplicateError{Field: pqErr.Constraint}
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
