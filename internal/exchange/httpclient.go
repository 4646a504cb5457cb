// Package exchange содержит REST-адаптеры бирж: подпись запросов, маппинг символов
// и нормализацию ответов к единым OrderResult и Balance.
package exchange

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig содержит таймауты и пул соединений для запросов к биржам.
// Любой запрос ограничен TotalTimeout, медленная биржа не может заблокировать сверку.
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration // установка TCP соединения (default: 5s)
	ResponseTimeout     time.Duration // ожидание заголовков ответа (default: 10s)
	TotalTimeout        time.Duration // вся операция (default: 30s)
	TLSHandshakeTimeout time.Duration // default: 5s

	MaxIdleConns        int           // default: 100
	MaxIdleConnsPerHost int           // default: 10
	MaxConnsPerHost     int           // default: 20
	IdleConnTimeout     time.Duration // default: 90s
	KeepAliveInterval   time.Duration // default: 30s
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ResponseTimeout:     10 * time.Second,
		TotalTimeout:        30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient - HTTP клиент с ограниченными таймаутами и keep-alive пулом
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

var (
	globalClient     *HTTPClient
	globalClientOnce sync.Once
)

// GetGlobalHTTPClient возвращает общий клиент с настройками по умолчанию.
// Пул соединений переиспользуется всеми адаптерами, которым не передан свой клиент.
func GetGlobalHTTPClient() *HTTPClient {
	globalClientOnce.Do(func() {
		globalClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return globalClient
}

// NewHTTPClient создаёт клиент с заданной конфигурацией; нулевые поля заменяются значениями по умолчанию
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	config = withDefaults(config)

	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: config.ResponseTimeout,
	}

	return &HTTPClient{
		client: &http.Client{Transport: transport, Timeout: config.TotalTimeout},
		config: config,
	}
}

// WrapHTTPClient использует готовый http.Client (httptest, прокси).
// Клиент без таймаута получает TotalTimeout по умолчанию.
func WrapHTTPClient(c *http.Client) *HTTPClient {
	cfg := DefaultHTTPClientConfig()
	if c.Timeout == 0 {
		c.Timeout = cfg.TotalTimeout
	}
	cfg.TotalTimeout = c.Timeout
	return &HTTPClient{client: c, config: cfg}
}

func withDefaults(c HTTPClientConfig) HTTPClientConfig {
	d := DefaultHTTPClientConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = d.TotalTimeout
	}
	if c.TLSHandshakeTimeout <= 0 {
		c.TLSHandshakeTimeout = d.TLSHandshakeTimeout
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = d.MaxConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = d.IdleConnTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = d.KeepAliveInterval
	}
	return c
}

// Do выполняет HTTP запрос
func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// Config возвращает текущую конфигурацию клиента
func (hc *HTTPClient) Config() HTTPClientConfig {
	return hc.config
}

// Close закрывает все idle соединения
func (hc *HTTPClient) Close() {
	hc.client.CloseIdleConnections()
}

// CloseGlobalClient закрывает общий клиент при graceful shutdown
func CloseGlobalClient() {
	if globalClient != nil {
		globalClient.Close()
	}
}
