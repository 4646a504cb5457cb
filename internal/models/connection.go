package models

import "time"

// Статусы подключения к бирже
const (
	ConnectionStatusConnected    = "connected"
	ConnectionStatusError        = "error"
	ConnectionStatusDisconnected = "disconnected"
)

// Credential - зашифрованные ключи API в формате хранения (все поля base64).
// Открытый текст здесь никогда не хранится.
type Credential struct {
	APIKeyEncrypted     string `json:"-" db:"api_key_encrypted"`
	APISecretEncrypted  string `json:"-" db:"api_secret_encrypted"`
	PassphraseEncrypted string `json:"-" db:"passphrase_encrypted"` // KuCoin, OKX
	IV                  string `json:"-" db:"iv"`
	Salt                string `json:"-" db:"salt"`
}

// ExchangeConnection - привязка аккаунта пользователя к бирже
type ExchangeConnection struct {
	ID               int64      `json:"id" db:"id"`
	UserID           int64      `json:"user_id" db:"user_id"`
	ExchangeID       string     `json:"exchange_id" db:"exchange_id"` // binance, deribit, kraken, kucoin, okx, bybit
	AccountID        int64      `json:"account_id" db:"account_id"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	IsTestnet        bool       `json:"is_testnet" db:"is_testnet"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	ConnectionStatus string     `json:"connection_status" db:"connection_status"`
	ErrorMessage     string     `json:"error_message,omitempty" db:"error_message"`
	Credential       Credential `json:"-"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// MarkConnected фиксирует успешную синхронизацию
func (c *ExchangeConnection) MarkConnected(at time.Time) {
	c.ConnectionStatus = ConnectionStatusConnected
	c.ErrorMessage = ""
	c.LastSyncAt = &at
}

// MarkError переводит подключение в статус error.
// Статус error всегда сопровождается непустым сообщением.
func (c *ExchangeConnection) MarkError(msg string) {
	if msg == "" {
		msg = "unknown error"
	}
	c.ConnectionStatus = ConnectionStatusError
	c.ErrorMessage = msg
}

// SyncedWithin сообщает, была ли синхронизация не раньше чем cooldown назад
func (c *ExchangeConnection) SyncedWithin(cooldown time.Duration, now time.Time) bool {
	if c.LastSyncAt == nil || cooldown <= 0 {
		return false
	}
	return now.Sub(*c.LastSyncAt) < cooldown
}
