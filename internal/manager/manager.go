package manager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sqlagent/internal/connector"
	"github.com/vitebski/sqlagent/internal/resolver"
	"github.com/vitebski/sqlagent/pkg/models"
)

// State is the lifecycle state of a kind's connection record
type State int

const (
	NoRecord State = iota
	Active
	Stale
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Stale:
		return "stale"
	}
	return "no record"
}

// ErrNotConnected is returned by Query when the kind has no active record
var ErrNotConnected = errors.New("no active connection")

// Record is the single cached connection for one kind
type Record struct {
	State  State
	Handle *connector.Connection
	Params models.ConnectionParams
	Tier   models.Tier
}

// Manager owns the per-kind connection records and schema mappings
type Manager struct {
	Client   connector.DBClient
	Resolver *resolver.Resolver
	Logger   *logrus.Logger

	mu       sync.Mutex
	records  map[models.Kind]*Record
	mappings map[models.Kind]*models.SchemaMap
}

// NewManager creates a connection manager
func NewManager(client connector.DBClient, res *resolver.Resolver, logger *logrus.Logger) *Manager {
	return &Manager{
		Client:   client,
		Resolver: res,
		Logger:   logger,
		records:  make(map[models.Kind]*Record),
		mappings: make(map[models.Kind]*models.SchemaMap),
	}
}

// Connect makes sure kind has an active record, reusing a live one when possible.
// On success the returned message describes how the connection was obtained.
func (m *Manager) Connect(ctx context.Context, kind models.Kind, explicit *models.ConnectionParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connect(ctx, kind, explicit)
}

func (m *Manager) connect(ctx context.Context, kind models.Kind, explicit *models.ConnectionParams) (string, error) {
	if !kind.Connectable() {
		return "", &models.ValidationError{Field: "connection.type", Message: fmt.Sprintf("%s is not a queryable database type", kind)}
	}
	logger := m.Logger.WithField("kind", kind)

	if record, ok := m.records[kind]; ok && record.State == Active {
		alive, err := m.Client.IsAlive(ctx, record.Handle)
		if err == nil && alive {
			logger.Debugf("Reusing active connection %s", record.Params)
			return fmt.Sprintf("Reusing active %s connection %s", kind, record.Params), nil
		}
		if err != nil {
			logger.Warningf("Liveness check failed: %s", m.redact(err.Error(), record.Params))
		} else {
			logger.Warning("Connection is no longer alive")
		}
		if closeErr := m.Client.Close(record.Handle); closeErr != nil {
			logger.Debugf("Error closing stale handle: %v", closeErr)
		}
		record.State = Stale
		record.Handle = nil
	}

	var candidates []models.Candidate
	if m.Resolver != nil {
		candidates = m.Resolver.Candidates(kind, explicit)
	}

	secrets := make([]models.ConnectionParams, 0, len(candidates))
	for _, candidate := range candidates {
		secrets = append(secrets, candidate.Params)
	}

	var attempts []models.Attempt
	for _, candidate := range candidates {
		logger.Debugf("Trying %s: %s", candidate.Tier, candidate.Params)

		handle, err := m.Client.Connect(ctx, kind, candidate.Params)
		if err != nil {
			msg := m.redact(err.Error(), secrets...)
			logger.Infof("Connection using %s failed: %s", candidate.Tier, msg)
			attempts = append(attempts, models.Attempt{Tier: candidate.Tier, Params: candidate.Params, Err: msg})
			continue
		}

		m.store(kind, candidate, handle)
		logger.Infof("Connected using %s", candidate.Tier)
		return fmt.Sprintf("Connected to %s using %s %s", kind, candidate.Tier, candidate.Params), nil
	}

	exhausted := m.exhausted(kind, attempts)
	logger.Warning(exhausted.Message)
	return "", exhausted
}

func (m *Manager) store(kind models.Kind, candidate models.Candidate, handle *connector.Connection) {
	if previous, ok := m.records[kind]; ok {
		if !previous.Params.SameTarget(candidate.Params) {
			delete(m.mappings, kind)
		}
	}
	m.records[kind] = &Record{State: Active, Handle: handle, Params: candidate.Params, Tier: candidate.Tier}
}

// redact strips passwords from driver error text, leaving user, host and database names readable
func (m *Manager) redact(msg string, params ...models.ConnectionParams) string {
	var keep []string
	for _, p := range params {
		keep = append(keep, p.User, p.Host, p.Database)
	}
	for _, p := range params {
		msg = models.Redact(msg, p.PasswordValue(), keep...)
	}
	return msg
}

var envHints = map[models.Kind]string{
	models.MySQL:      "MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD",
	models.PostgreSQL: "POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD",
	models.SQLite:     "SQLITE_DATABASE",
}

func (m *Manager) exhausted(kind models.Kind, attempts []models.Attempt) *models.ConnectionExhaustedError {
	err := &models.ConnectionExhaustedError{Kind: kind, Attempts: attempts}

	var capability *models.KindCapability
	if m.Resolver != nil {
		if c, ok := m.Resolver.Report[kind]; ok {
			capability = &c
		}
	}
	err.Capability = capability

	var b strings.Builder
	fmt.Fprintf(&b, "could not connect to %s", kind)
	if len(attempts) == 0 {
		b.WriteString(": no connection parameters were available")
	} else {
		fmt.Fprintf(&b, " (tried %s)", strings.Join(err.TiersTried(), ", "))
		for _, attempt := range attempts {
			b.WriteString("\n  - ")
			b.WriteString(attempt.String())
		}
	}

	if capability != nil && len(capability.PortsDetected) > 0 {
		ports := make([]string, 0, len(capability.PortsDetected))
		for _, port := range capability.PortsDetected {
			ports = append(ports, strconv.Itoa(port))
		}
		fmt.Fprintf(&b, "\ndetected ports for %s: %s", kind, strings.Join(ports, ", "))
	} else if kind != models.SQLite {
		fmt.Fprintf(&b, "\nno open ports detected for %s", kind)
	}
	if capability != nil && capability.Status == models.ClientOnly && kind != models.SQLite {
		fmt.Fprintf(&b, "\nnote: a %s client is installed but no server was detected", kind)
	}
	err.Message = b.String()

	hint := fmt.Sprintf("verify that the %s server is running and listening on the expected port, and that the credentials are correct", kind)
	if kind == models.SQLite {
		hint = "verify that the sqlite database path exists and is readable"
	}
	err.Hint = fmt.Sprintf("%s (explicit parameters or %s in .env)", hint, envHints[kind])
	return err
}

// ExecuteQuery runs query against kind, connecting first when no active record exists.
// On failure it returns an empty slice together with a typed error.
func (m *Manager) ExecuteQuery(ctx context.Context, kind models.Kind, query string, args ...interface{}) ([]models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[kind]
	if !ok || record.State != Active {
		if _, err := m.connect(ctx, kind, nil); err != nil {
			return []models.Row{}, err
		}
		record = m.records[kind]
	}

	rows, err := m.Client.Execute(ctx, record.Handle, query, args...)
	if err != nil {
		m.Logger.WithField("kind", kind).Warningf("Query failed: %s", m.redact(err.Error(), record.Params))
		return []models.Row{}, &models.ExecutionError{Kind: kind, SQL: query, Err: redactError(err, record.Params)}
	}
	if rows == nil {
		rows = []models.Row{}
	}
	return rows, nil
}

func redactError(err error, params models.ConnectionParams) error {
	msg := models.Redact(err.Error(), params.PasswordValue(), params.User, params.Host, params.Database)
	if msg == err.Error() {
		return err
	}
	return errors.New(msg)
}

// Query runs query on an already active record and never connects
func (m *Manager) Query(ctx context.Context, kind models.Kind, query string, args ...interface{}) ([]models.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[kind]
	if !ok || record.State != Active {
		return nil, fmt.Errorf("%s: %w", kind, ErrNotConnected)
	}
	rows, err := m.Client.Execute(ctx, record.Handle, query, args...)
	if err != nil {
		return nil, redactError(err, record.Params)
	}
	return rows, nil
}

// Close closes and discards the record for kind. Closing a kind without a record is a no-op.
func (m *Manager) Close(kind models.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.close(kind)
}

func (m *Manager) close(kind models.Kind) error {
	record, ok := m.records[kind]
	delete(m.mappings, kind)
	if !ok {
		return nil
	}
	delete(m.records, kind)

	if record.Handle == nil {
		return nil
	}
	if err := m.Client.Close(record.Handle); err != nil {
		return fmt.Errorf("failed to close %s connection: %w", kind, err)
	}
	m.Logger.WithField("kind", kind).Info("Connection closed")
	return nil
}

// CloseAll closes every record
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for kind := range m.records {
		if err := m.close(kind); err != nil {
			errs = append(errs, err)
		}
	}
	m.mappings = make(map[models.Kind]*models.SchemaMap)
	return errors.Join(errs...)
}

// State returns the lifecycle state for kind
func (m *Manager) State(kind models.Kind) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record, ok := m.records[kind]; ok {
		return record.State
	}
	return NoRecord
}

// Params returns the parameters of the current record for kind
func (m *Manager) Params(kind models.Kind) (models.ConnectionParams, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record, ok := m.records[kind]; ok {
		return record.Params, true
	}
	return models.ConnectionParams{}, false
}

// Mapping returns the cached schema for kind, only while its record is active
func (m *Manager) Mapping(kind models.Kind) *models.SchemaMap {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record, ok := m.records[kind]; !ok || record.State != Active {
		return nil
	}
	return m.mappings[kind]
}

// StoreMapping replaces the cached schema for kind
func (m *Manager) StoreMapping(kind models.Kind, mapping *models.SchemaMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record, ok := m.records[kind]; !ok || record.State != Active {
		return fmt.Errorf("cannot cache schema for %s: %w", kind, ErrNotConnected)
	}
	m.mappings[kind] = mapping
	return nil
}

// ClearMappings drops the cached schemas for the given kinds, or all of them
func (m *Manager) ClearMappings(kinds ...models.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(kinds) == 0 {
		m.mappings = make(map[models.Kind]*models.SchemaMap)
		return
	}
	for _, kind := range kinds {
		delete(m.mappings, kind)
	}
}

// Report returns the capability report used for system candidates
func (m *Manager) Report() models.CapabilityReport {
	if m.Resolver == nil {
		return nil
	}
	return m.Resolver.Report
}
