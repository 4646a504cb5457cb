package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/models"
	"tradeguard/internal/repository"
	"tradeguard/pkg/crypto"
	"tradeguard/pkg/errs"
	"tradeguard/pkg/utils"
)

// Ошибки сервиса
var (
	ErrConnectionInactive  = errors.New("exchange connection is inactive")
	ErrHasOpenPositions    = errors.New("cannot disconnect: connection has open positions")
	ErrCredentialsRejected = errors.New("exchange rejected API credentials")
)

// биржи, требующие passphrase
var passphraseExchanges = map[string]bool{
	exchange.ExchangeKuCoin: true,
	exchange.ExchangeOKX:    true,
}

// ConnectRequest - запрос на подключение биржи
type ConnectRequest struct {
	UserID     int64  `json:"user_id"`
	AccountID  int64  `json:"account_id"`
	ExchangeID string `json:"exchange_id"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase,omitempty"`
	Testnet    bool   `json:"testnet"`
}

// ConnectionService - управление подключениями к биржам и кэш адаптеров
type ConnectionService struct {
	repo      ConnectionRepositoryInterface
	positions PositionRepositoryInterface
	vault     CredentialSealer
	factory   AdapterFactory
	opts      exchange.Options

	verifyTimeout time.Duration

	// Кэш адаптеров по ID подключения
	adapters   map[int64]exchange.Adapter
	adaptersMu sync.RWMutex

	log *utils.Logger
}

// NewConnectionService создает сервис. opts - общие параметры адаптеров
// (режим, лимитер, HTTP клиент); Testnet задается для каждого подключения.
func NewConnectionService(
	repo ConnectionRepositoryInterface,
	positions PositionRepositoryInterface,
	vault CredentialSealer,
	factory AdapterFactory,
	opts exchange.Options,
	logger *utils.Logger,
) *ConnectionService {
	if factory == nil {
		factory = exchange.NewAdapter
	}
	if logger == nil {
		logger = utils.L()
	}
	return &ConnectionService{
		repo:          repo,
		positions:     positions,
		vault:         vault,
		factory:       factory,
		opts:          opts,
		verifyTimeout: 15 * time.Second,
		adapters:      make(map[int64]exchange.Adapter),
		log:           logger.WithComponent("connections"),
	}
}

// Connect подключает биржу.
// Выполняет:
// 1. Проверку биржи и ключей
// 2. Тестовый запрос балансов с этими ключами
// 3. Шифрование ключей
// 4. Сохранение подключения
func (s *ConnectionService) Connect(ctx context.Context, req ConnectRequest) (*models.ExchangeConnection, error) {
	req.ExchangeID = strings.ToLower(strings.TrimSpace(req.ExchangeID))

	// 1. Проверка входных данных
	if !exchange.IsSupported(req.ExchangeID) {
		return nil, errs.Validation("exchange_id", "unsupported exchange %q", req.ExchangeID)
	}
	if req.AccountID <= 0 {
		return nil, errs.Validation("account_id", "must be positive")
	}
	if req.APIKey == "" || req.APISecret == "" {
		return nil, errs.Validation("api_key", "api key and secret are required")
	}
	if passphraseExchanges[req.ExchangeID] && req.Passphrase == "" {
		return nil, errs.Validation("passphrase", "%s requires a passphrase", req.ExchangeID)
	}

	// 2. Тестовый запрос
	adapter, err := s.newAdapter(req.ExchangeID, req.Testnet)
	if err != nil {
		return nil, err
	}
	creds := exchange.Credentials{APIKey: req.APIKey, APISecret: req.APISecret, Passphrase: req.Passphrase}
	vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()
	if _, err := adapter.GetBalances(vctx, creds); err != nil {
		var authErr *errs.AuthenticationError
		if errors.As(err, &authErr) {
			return nil, errors.Join(ErrCredentialsRejected, err)
		}
		return nil, fmt.Errorf("verify %s connection: %w", req.ExchangeID, err)
	}

	// 3. Шифруем ключи перед сохранением
	sealed, err := s.vault.EncryptCredentials(crypto.CredentialSet{
		APIKey:     req.APIKey,
		APISecret:  req.APISecret,
		Passphrase: req.Passphrase,
	})
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}

	// 4. Сохраняем
	conn := &models.ExchangeConnection{
		UserID:     req.UserID,
		ExchangeID: req.ExchangeID,
		AccountID:  req.AccountID,
		IsActive:   true,
		IsTestnet:  req.Testnet,
		Credential: models.Credential{
			APIKeyEncrypted:     sealed.APIKeyEncrypted,
			APISecretEncrypted:  sealed.APISecretEncrypted,
			PassphraseEncrypted: sealed.PassphraseEncrypted,
			IV:                  sealed.IV,
			Salt:                sealed.Salt,
		},
	}
	conn.MarkConnected(time.Now().UTC())
	if err := s.repo.Create(ctx, conn); err != nil {
		return nil, err
	}

	s.adaptersMu.Lock()
	s.adapters[conn.ID] = adapter
	s.adaptersMu.Unlock()

	s.log.Info("exchange connected",
		utils.ConnectionID(conn.ID), utils.Exchange(conn.ExchangeID),
		utils.AccountID(conn.AccountID), utils.Bool("testnet", conn.IsTestnet))
	return conn, nil
}

// Disconnect удаляет подключение, если по нему нет открытых позиций
func (s *ConnectionService) Disconnect(ctx context.Context, id int64) error {
	open, err := s.positions.CountOpenByConnection(ctx, id)
	if err != nil {
		return fmt.Errorf("count open positions: %w", err)
	}
	if open > 0 {
		return ErrHasOpenPositions
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.adaptersMu.Lock()
	delete(s.adapters, id)
	s.adaptersMu.Unlock()

	s.log.Info("exchange disconnected", utils.ConnectionID(id))
	return nil
}

// ListConnections возвращает подключения пользователя (без ключей в JSON)
func (s *ConnectionService) ListConnections(ctx context.Context, userID int64) ([]*models.ExchangeConnection, error) {
	return s.repo.ListByUser(ctx, userID)
}

// GetConnection возвращает подключение по ID
func (s *ConnectionService) GetConnection(ctx context.Context, id int64) (*models.ExchangeConnection, error) {
	return s.repo.GetByID(ctx, id)
}

// Adapter возвращает адаптер подключения из кэша или создает новый
func (s *ConnectionService) Adapter(conn *models.ExchangeConnection) (exchange.Adapter, error) {
	s.adaptersMu.RLock()
	adapter, ok := s.adapters[conn.ID]
	s.adaptersMu.RUnlock()
	if ok {
		return adapter, nil
	}

	adapter, err := s.newAdapter(conn.ExchangeID, conn.IsTestnet)
	if err != nil {
		return nil, err
	}

	s.adaptersMu.Lock()
	defer s.adaptersMu.Unlock()
	// другой вызов мог успеть создать адаптер
	if existing, ok := s.adapters[conn.ID]; ok {
		return existing, nil
	}
	s.adapters[conn.ID] = adapter
	return adapter, nil
}

// Credentials расшифровывает ключи подключения на время одного вызова
func (s *ConnectionService) Credentials(conn *models.ExchangeConnection) (exchange.Credentials, error) {
	plain, err := s.vault.DecryptCredentials(&crypto.SealedCredentials{
		APIKeyEncrypted:     conn.Credential.APIKeyEncrypted,
		APISecretEncrypted:  conn.Credential.APISecretEncrypted,
		PassphraseEncrypted: conn.Credential.PassphraseEncrypted,
		IV:                  conn.Credential.IV,
		Salt:                conn.Credential.Salt,
	})
	if err != nil {
		return exchange.Credentials{}, err
	}
	return exchange.Credentials{APIKey: plain.APIKey, APISecret: plain.APISecret, Passphrase: plain.Passphrase}, nil
}

// Resolve загружает активное подключение вместе с адаптером и ключами
func (s *ConnectionService) Resolve(ctx context.Context, id int64) (*models.ExchangeConnection, exchange.Adapter, exchange.Credentials, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, exchange.Credentials{}, err
	}
	if !conn.IsActive {
		return nil, nil, exchange.Credentials{}, ErrConnectionInactive
	}
	adapter, err := s.Adapter(conn)
	if err != nil {
		return nil, nil, exchange.Credentials{}, err
	}
	creds, err := s.Credentials(conn)
	if err != nil {
		return nil, nil, exchange.Credentials{}, err
	}
	return conn, adapter, creds, nil
}

func (s *ConnectionService) newAdapter(id string, testnet bool) (exchange.Adapter, error) {
	opts := s.opts
	opts.Testnet = testnet
	return s.factory(id, opts)
}

// isNotFound - запись не найдена в любом из репозиториев
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrConnectionNotFound) ||
		errors.Is(err, repository.ErrHoldingNotFound) ||
		errors.Is(err, repository.ErrTradeNotFound)
}
