package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tradeguard/internal/models"
)

const connectionColumns = `id, user_id, exchange_id, account_id, is_active, is_testnet, last_sync_at,
		connection_status, error_message, api_key_encrypted, api_secret_encrypted,
		passphrase_encrypted, iv, salt, created_at, updated_at`

// ConnectionRepository - работа с таблицей exchange_connections
type ConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository создает новый экземпляр репозитория
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create сохраняет подключение; ключи должны быть уже зашифрованы
func (r *ConnectionRepository) Create(ctx context.Context, c *models.ExchangeConnection) error {
	query := `
		INSERT INTO exchange_connections (user_id, exchange_id, account_id, is_active, is_testnet,
			connection_status, error_message, api_key_encrypted, api_secret_encrypted,
			passphrase_encrypted, iv, salt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.ConnectionStatus == "" {
		c.ConnectionStatus = models.ConnectionStatusDisconnected
	}

	err := r.db.QueryRowContext(ctx, query,
		c.UserID,
		c.ExchangeID,
		c.AccountID,
		c.IsActive,
		c.IsTestnet,
		c.ConnectionStatus,
		c.ErrorMessage,
		c.Credential.APIKeyEncrypted,
		c.Credential.APISecretEncrypted,
		c.Credential.PassphraseEncrypted,
		c.Credential.IV,
		c.Credential.Salt,
		c.CreatedAt,
		c.UpdatedAt,
	).Scan(&c.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrConnectionExists
		}
		return err
	}
	return nil
}

// GetByID возвращает подключение по ID
func (r *ConnectionRepository) GetByID(ctx context.Context, id int64) (*models.ExchangeConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM exchange_connections WHERE id = $1`

	c, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListActive возвращает активные подключения всех пользователей
func (r *ConnectionRepository) ListActive(ctx context.Context) ([]*models.ExchangeConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM exchange_connections WHERE is_active = true ORDER BY id`
	return r.list(ctx, query)
}

// ListByUser возвращает подключения пользователя
func (r *ConnectionRepository) ListByUser(ctx context.Context, userID int64) ([]*models.ExchangeConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM exchange_connections WHERE user_id = $1 ORDER BY id`
	return r.list(ctx, query, userID)
}

func (r *ConnectionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.ExchangeConnection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*models.ExchangeConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return conns, nil
}

// UpdateSyncStatus сохраняет статус, сообщение об ошибке и время синхронизации.
// Статус error без сообщения не записывается.
func (r *ConnectionRepository) UpdateSyncStatus(ctx context.Context, c *models.ExchangeConnection) error {
	if c.ConnectionStatus == models.ConnectionStatusError && c.ErrorMessage == "" {
		c.MarkError("")
	}

	query := `
		UPDATE exchange_connections
		SET connection_status = $1, error_message = $2, last_sync_at = $3, updated_at = $4
		WHERE id = $5`

	c.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query, c.ConnectionStatus, c.ErrorMessage, c.LastSyncAt, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrConnectionNotFound)
}

// SetActive включает или выключает подключение
func (r *ConnectionRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE exchange_connections SET is_active = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, active, time.Now(), id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrConnectionNotFound)
}

// Delete удаляет подключение
func (r *ConnectionRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM exchange_connections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrConnectionNotFound)
}

func scanConnection(row rowScanner) (*models.ExchangeConnection, error) {
	c := &models.ExchangeConnection{}
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ExchangeID,
		&c.AccountID,
		&c.IsActive,
		&c.IsTestnet,
		&c.LastSyncAt,
		&c.ConnectionStatus,
		&c.ErrorMessage,
		&c.Credential.APIKeyEncrypted,
		&c.Credential.APISecretEncrypted,
		&c.Credential.PassphraseEncrypted,
		&c.Credential.IV,
		&c.Credential.Salt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// expectAffected возвращает notFound, если запрос не изменил ни одной строки
func expectAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
