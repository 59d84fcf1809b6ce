package database

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultDatabaseName = "bookcars"

// Manager owns the process-wide MongoDB client. Connect and Close are
// idempotent; every store built on the Manager fails fast with
// ErrNotConnected while it is closed.
type Manager struct {
	mu     sync.Mutex
	client *mongo.Client
	db     *mongo.Database
	opts   managerOptions
}

// Option configures the Manager.
type Option func(*managerOptions)

type managerOptions struct {
	certFile               string
	caFile                 string
	databaseName           string
	serverSelectionTimeout time.Duration
}

// WithTLSFiles sets the client certificate/key PEM file and the CA file used
// when connecting with TLS.
func WithTLSFiles(certFile, caFile string) Option {
	return func(o *managerOptions) {
		o.certFile = certFile
		o.caFile = caFile
	}
}

// WithDatabaseName overrides the database name taken from the URI path.
func WithDatabaseName(name string) Option {
	return func(o *managerOptions) {
		o.databaseName = name
	}
}

// WithServerSelectionTimeout bounds how long Connect waits for a reachable server.
func WithServerSelectionTimeout(d time.Duration) Option {
	return func(o *managerOptions) {
		o.serverSelectionTimeout = d
	}
}

// NewManager creates a disconnected Manager.
func NewManager(opts ...Option) *Manager {
	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{opts: o}
}

// Connect opens the client and waits until the primary answers a ping.
// It returns true when connected, including when it already was, and false
// on any failure.
func (m *Manager) Connect(ctx context.Context, uri string, useTLS, debug bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return true
	}

	client, err := m.open(ctx, uri, useTLS, debug)
	if err != nil {
		slog.Error("database connection failed", "tls", useTLS, "error", err)
		return false
	}

	name := m.opts.databaseName
	if name == "" {
		name = databaseNameFromURI(uri)
	}

	m.client = client
	m.db = client.Database(name)
	slog.Info("database connected", "database", name, "tls", useTLS, "debug", debug)
	return true
}

func (m *Manager) open(ctx context.Context, uri string, useTLS, debug bool) (*mongo.Client, error) {
	clientOpts := options.Client().ApplyURI(uri)

	if m.opts.serverSelectionTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(m.opts.serverSelectionTimeout)
	}

	if useTLS {
		tlsConfig, err := buildTLSConfig(m.opts.certFile, m.opts.caFile)
		if err != nil {
			return nil, err
		}
		clientOpts.SetTLSConfig(tlsConfig)
	}

	if debug {
		clientOpts.SetLoggerOptions(options.Logger().
			SetSink(driverLogSink{logger: slog.Default().With("component", "mongo-driver")}).
			SetComponentLevel(options.LogComponentCommand, options.LogLevelDebug))
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return client, nil
}

// Close disconnects the client. With force, in-flight operations are not
// waited for. Calling Close on a closed Manager does nothing.
func (m *Manager) Close(ctx context.Context, force bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return
	}

	if force {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 0)
		defer cancel()
	}

	if err := m.client.Disconnect(ctx); err != nil {
		slog.Warn("database disconnect returned an error", "force", force, "error", err)
	}

	m.client = nil
	m.db = nil
	slog.Info("database connection closed", "force", force)
}

// IsConnected reports whether Connect succeeded and Close has not been called since.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

// Database returns the connected database handle.
func (m *Manager) Database() (*mongo.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil, ErrNotConnected
	}
	return m.db, nil
}

// Ping verifies the connection is alive.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil {
		return ErrNotConnected
	}
	return client.Ping(ctx, readpref.Primary())
}

func buildTLSConfig(certFile, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile != "" {
		ca, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("parsing CA file %s: no certificates found", caFile)
		}
		cfg.RootCAs = roots
	}

	if certFile != "" {
		// The file holds both the certificate and its key.
		pem, err := os.ReadFile(certFile)
		if err != nil {
			return nil, fmt.Errorf("reading certificate file: %w", err)
		}
		cert, err := tls.X509KeyPair(pem, pem)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate file: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func databaseNameFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultDatabaseName
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return defaultDatabaseName
	}
	return name
}

// driverLogSink forwards driver log messages to slog.
type driverLogSink struct {
	logger *slog.Logger
}

func (s driverLogSink) Info(_ int, message string, keysAndValues ...any) {
	s.logger.Debug(message, keysAndValues...)
}

func (s driverLogSink) Error(err error, message string, keysAndValues ...any) {
	s.logger.Error(message, append(keysAndValues, "error", err)...)
}
