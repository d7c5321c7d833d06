package manager

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/sqlagent/internal/connector"
	"github.com/vitebski/sqlagent/internal/resolver"
	"github.com/vitebski/sqlagent/pkg/models"
)

// fakeClient records every call and accepts only the listed hosts
type fakeClient struct {
	acceptHosts map[string]bool
	connectErr  string
	aliveErr    error
	dead        bool
	executeErr  error
	rows        []models.Row

	connectCalls []models.ConnectionParams
	aliveCalls   int
	executeCalls int
	closeCalls   int
}

func (f *fakeClient) Connect(ctx context.Context, kind models.Kind, params models.ConnectionParams) (*connector.Connection, error) {
	f.connectCalls = append(f.connectCalls, params)
	if !f.acceptHosts[params.Host] {
		msg := f.connectErr
		if msg == "" {
			msg = "connection refused"
		}
		return nil, errors.New(msg)
	}
	return &connector.Connection{Kind: kind, Params: params}, nil
}

func (f *fakeClient) Execute(ctx context.Context, conn *connector.Connection, query string, args ...interface{}) ([]models.Row, error) {
	f.executeCalls++
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return f.rows, nil
}

func (f *fakeClient) IsAlive(ctx context.Context, conn *connector.Connection) (bool, error) {
	f.aliveCalls++
	if f.aliveErr != nil {
		return false, f.aliveErr
	}
	return !f.dead, nil
}

func (f *fakeClient) Close(conn *connector.Connection) error {
	f.closeCalls++
	return nil
}

func newTestManager(client *fakeClient, env map[string]string, report models.CapabilityReport) *Manager {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewManager(client, resolver.NewResolver(env, report), logger)
}

var mysqlEnv = map[string]string{
	"MYSQL_HOST":     "env-host",
	"MYSQL_USER":     "app",
	"MYSQL_PASSWORD": "env-secret",
}

func TestConnectThenReuse(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"env-host": true}}
	m := newTestManager(client, mysqlEnv, nil)
	ctx := context.Background()

	_, err := m.Connect(ctx, models.MySQL, nil)
	require.NoError(t, err)
	assert.Equal(t, Active, m.State(models.MySQL))
	require.Len(t, client.connectCalls, 1)

	msg, err := m.Connect(ctx, models.MySQL, nil)
	require.NoError(t, err)
	assert.Contains(t, msg, "Reusing")
	assert.Len(t, client.connectCalls, 1, "reuse must not attempt a new connection")
	assert.Equal(t, 1, client.aliveCalls)
}

func TestHigherTierSuccessSkipsLowerTiers(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"explicit-host": true, "env-host": true, "127.0.0.1": true}}
	report := models.CapabilityReport{models.MySQL: {ClientAvailable: true, PortsDetected: []int{3306}, Status: models.FullyAvailable}}
	m := newTestManager(client, mysqlEnv, report)

	explicit := &models.ConnectionParams{Type: "mysql", Host: "explicit-host", User: "me"}
	_, err := m.Connect(context.Background(), models.MySQL, explicit)
	require.NoError(t, err)

	require.Len(t, client.connectCalls, 1)
	assert.Equal(t, "explicit-host", client.connectCalls[0].Host)
}

func TestFallsThroughTiersInOrder(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"127.0.0.1": true}}
	report := models.CapabilityReport{models.MySQL: {ClientAvailable: true, PortsDetected: []int{3307}, Status: models.FullyAvailable}}
	m := newTestManager(client, mysqlEnv, report)

	explicit := &models.ConnectionParams{Type: "mysql", Host: "explicit-host", User: "me"}
	msg, err := m.Connect(context.Background(), models.MySQL, explicit)
	require.NoError(t, err)
	assert.Contains(t, msg, "detected system defaults")

	require.Len(t, client.connectCalls, 3)
	assert.Equal(t, "explicit-host", client.connectCalls[0].Host)
	assert.Equal(t, "env-host", client.connectCalls[1].Host)
	assert.Equal(t, "127.0.0.1", client.connectCalls[2].Host)
	assert.Equal(t, 3307, client.connectCalls[2].Port)
}

func TestSystemCandidateIsOnlyAttempt(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"127.0.0.1": true}}
	report := models.CapabilityReport{models.MySQL: {ClientAvailable: true, PortsDetected: []int{3306}, Status: models.FullyAvailable}}
	m := newTestManager(client, map[string]string{}, report)

	_, err := m.Connect(context.Background(), models.MySQL, nil)
	require.NoError(t, err)

	require.Len(t, client.connectCalls, 1)
	assert.Equal(t, models.ConnectionParams{
		Type: "mysql", Host: "127.0.0.1", User: "root", Password: models.StringPtr(""), Port: 3306,
	}, client.connectCalls[0])

	params, ok := m.Params(models.MySQL)
	require.True(t, ok)
	assert.Equal(t, "root", params.User)
}

func TestFailedLivenessFallsThrough(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"env-host": true}}
	m := newTestManager(client, mysqlEnv, nil)
	ctx := context.Background()

	_, err := m.Connect(ctx, models.MySQL, nil)
	require.NoError(t, err)

	client.aliveErr = errors.New("broken pipe")
	_, err = m.Connect(ctx, models.MySQL, nil)
	require.NoError(t, err)
	assert.Len(t, client.connectCalls, 2, "a failed liveness check must reconnect in the same call")
	assert.Equal(t, 1, client.closeCalls, "the stale handle is closed")
	assert.Equal(t, Active, m.State(models.MySQL))
}

func TestDeadConnectionBecomesStaleWhenNothingElseWorks(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"env-host": true}}
	m := newTestManager(client, mysqlEnv, nil)
	ctx := context.Background()

	_, err := m.Connect(ctx, models.MySQL, nil)
	require.NoError(t, err)

	client.dead = true
	client.acceptHosts = map[string]bool{}
	_, err = m.Connect(ctx, models.MySQL, nil)
	require.Error(t, err)
	assert.Equal(t, Stale, m.State(models.MySQL))
	assert.Nil(t, m.Mapping(models.MySQL))
}

func TestExhaustedDiagnosticKeepsUserWhenPasswordEqualsUser(t *testing.T) {
	client := &fakeClient{connectErr: "Error 1045: Access denied for user 'root'@'127.0.0.1' (using password: YES) dsn root:root@tcp(127.0.0.1:3306)/"}
	m := newTestManager(client, nil, nil)

	explicit := &models.ConnectionParams{Type: "mysql", Host: "127.0.0.1", Port: 3306, User: "root", Password: models.StringPtr("root")}
	_, err := m.Connect(context.Background(), models.MySQL, explicit)

	var exhausted *models.ConnectionExhaustedError
	require.True(t, errors.As(err, &exhausted))
	msg := exhausted.Error()
	assert.Contains(t, msg, "user 'root'@'127.0.0.1'")
	assert.Contains(t, msg, "127.0.0.1:3306")
	assert.Contains(t, msg, "root:********@tcp")
	assert.NotContains(t, msg, "root:root@")
}

func TestExhaustedDiagnostic(t *testing.T) {
	client := &fakeClient{connectErr: "Access denied for user 'app' using password env-secret"}
	report := models.CapabilityReport{models.MySQL: {ClientAvailable: true, PortsDetected: []int{}, Status: models.ClientOnly}}
	m := newTestManager(client, mysqlEnv, report)

	explicit := &models.ConnectionParams{Type: "mysql", Host: "x", User: "y", Password: models.StringPtr("explicit-secret")}
	_, err := m.Connect(context.Background(), models.MySQL, explicit)

	var exhausted *models.ConnectionExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Len(t, exhausted.Attempts, 3)
	assert.Equal(t, []string{"explicit parameters", "environment variables", "detected system defaults"}, exhausted.TiersTried())
	require.NotNil(t, exhausted.Capability)

	msg := exhausted.Error()
	assert.Contains(t, msg, "explicit parameters failed:")
	assert.Contains(t, msg, "client is installed but no server was detected")
	assert.NotContains(t, msg, "env-secret")
	assert.NotContains(t, msg, "explicit-secret")
	assert.Contains(t, exhausted.Suggestion(), "credentials")
	assert.Equal(t, NoRecord, m.State(models.MySQL))
}

func TestConnectRejectsDetectionOnlyKind(t *testing.T) {
	m := newTestManager(&fakeClient{}, nil, nil)
	_, err := m.Connect(context.Background(), models.Redis, nil)

	var validationErr *models.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestExecuteQueryConnectsWhenNeeded(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"env-host": true}, rows: []models.Row{{"id": int64(1)}}}
	m := newTestManager(client, mysqlEnv, nil)

	rows, err := m.ExecuteQuery(context.Background(), models.MySQL, "SELECT id FROM users")
	require.NoError(t, err)
	assert.Equal(t, []models.Row{{"id": int64(1)}}, rows)
	assert.Len(t, client.connectCalls, 1)
}

func TestExecuteQueryFailuresReturnEmptyRows(t *testing.T) {
	t.Run("connection", func(t *testing.T) {
		m := newTestManager(&fakeClient{}, nil, nil)
		rows, err := m.ExecuteQuery(context.Background(), models.MySQL, "SELECT 1")
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
		var exhausted *models.ConnectionExhaustedError
		assert.True(t, errors.As(err, &exhausted))
	})

	t.Run("execution", func(t *testing.T) {
		client := &fakeClient{acceptHosts: map[string]bool{"env-host": true}, executeErr: errors.New("syntax error near FROM")}
		m := newTestManager(client, mysqlEnv, nil)
		rows, err := m.ExecuteQuery(context.Background(), models.MySQL, "SELEC * FROM t")
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
		var execErr *models.ExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, "SELEC * FROM t", execErr.SQL)
		assert.Contains(t, execErr.Error(), "syntax error")
	})
}

func TestQueryNeverConnects(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"env-host": true}}
	m := newTestManager(client, mysqlEnv, nil)

	_, err := m.Query(context.Background(), models.MySQL, "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, client.connectCalls)
}

func TestCloseIsIdempotent(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"env-host": true}}
	m := newTestManager(client, mysqlEnv, nil)

	_, err := m.Connect(context.Background(), models.MySQL, nil)
	require.NoError(t, err)

	assert.NoError(t, m.Close(models.MySQL))
	assert.NoError(t, m.Close(models.MySQL))
	assert.NoError(t, m.Close(models.PostgreSQL), "closing a never-opened kind is a no-op")
	assert.Equal(t, NoRecord, m.State(models.MySQL))
	assert.Equal(t, 1, client.closeCalls)
}

func TestKindsAreIsolated(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"env-host": true, "pg-host": true}}
	env := map[string]string{
		"MYSQL_HOST": "env-host", "MYSQL_USER": "app",
		"POSTGRES_HOST": "pg-host", "POSTGRES_USER": "postgres",
	}
	m := newTestManager(client, env, nil)
	ctx := context.Background()

	_, err := m.Connect(ctx, models.MySQL, nil)
	require.NoError(t, err)
	_, err = m.Connect(ctx, models.PostgreSQL, nil)
	require.NoError(t, err)

	require.NoError(t, m.Close(models.MySQL))
	assert.Equal(t, NoRecord, m.State(models.MySQL))
	assert.Equal(t, Active, m.State(models.PostgreSQL))

	require.NoError(t, m.CloseAll())
	assert.Equal(t, NoRecord, m.State(models.PostgreSQL))
}

func TestMappingCache(t *testing.T) {
	client := &fakeClient{acceptHosts: map[string]bool{"env-host": true, "other-host": true}}
	m := newTestManager(client, mysqlEnv, nil)
	ctx := context.Background()
	mapping := &models.SchemaMap{Tables: []models.TableSchema{{Name: "users", Columns: []string{"id"}}}}

	assert.Error(t, m.StoreMapping(models.MySQL, mapping), "no record yet")

	_, err := m.Connect(ctx, models.MySQL, nil)
	require.NoError(t, err)
	require.NoError(t, m.StoreMapping(models.MySQL, mapping))
	assert.Same(t, mapping, m.Mapping(models.MySQL))

	// Reconnecting to the same target keeps the mapping
	client.dead = true
	_, err = m.Connect(ctx, models.MySQL, nil)
	require.NoError(t, err)
	client.dead = false
	assert.Same(t, mapping, m.Mapping(models.MySQL))

	// A different target drops it
	client.dead = true
	_, err = m.Connect(ctx, models.MySQL, &models.ConnectionParams{Type: "mysql", Host: "other-host", User: "app"})
	require.NoError(t, err)
	client.dead = false
	assert.Nil(t, m.Mapping(models.MySQL))

	require.NoError(t, m.StoreMapping(models.MySQL, mapping))
	m.ClearMappings(models.MySQL)
	assert.Nil(t, m.Mapping(models.MySQL))
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{NoRecord: "no record", Active: "active", Stale: "stale"} {
		assert.Equal(t, want, fmt.Sprint(state))
	}
}
