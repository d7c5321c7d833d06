package connector

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sqlagent/pkg/models"
)

// Connection is a live handle to one database
type Connection struct {
	Kind   models.Kind
	Params models.ConnectionParams
	DB     *sql.DB
}

// DBClient opens, uses, checks and closes database handles
type DBClient interface {
	Connect(ctx context.Context, kind models.Kind, params models.ConnectionParams) (*Connection, error)
	Execute(ctx context.Context, conn *Connection, query string, args ...interface{}) ([]models.Row, error)
	IsAlive(ctx context.Context, conn *Connection) (bool, error)
	Close(conn *Connection) error
}

// DefaultDialTimeout bounds establishing a network connection
const DefaultDialTimeout = 5 * time.Second

// DatabaseConnector handles database connection and query execution over database/sql
type DatabaseConnector struct {
	DialTimeout time.Duration
	Open        func(driverName, dsn string) (*sql.DB, error)
	Logger      *logrus.Logger
}

// NewDatabaseConnector creates a new database connector
func NewDatabaseConnector(logger *logrus.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		DialTimeout: DefaultDialTimeout,
		Open:        sql.Open,
		Logger:      logger,
	}
}

// DriverName returns the database/sql driver registered for kind
func DriverName(kind models.Kind) (string, error) {
	switch kind {
	case models.MySQL:
		return "mysql", nil
	case models.PostgreSQL:
		return "pgx", nil
	case models.SQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("unsupported database type: %s", kind)
}

// BuildDSN renders connection parameters as a driver data source name
func (dc *DatabaseConnector) BuildDSN(kind models.Kind, params models.ConnectionParams) (string, error) {
	switch kind {
	case models.MySQL:
		cfg := mysql.NewConfig()
		cfg.User = params.User
		cfg.Passwd = params.PasswordValue()
		cfg.Net = "tcp"
		cfg.Addr = hostPort(params, 3306)
		cfg.DBName = params.Database
		cfg.ParseTime = true
		if dc.DialTimeout > 0 {
			cfg.Timeout = dc.DialTimeout
		}
		return cfg.FormatDSN(), nil

	case models.PostgreSQL:
		u := url.URL{Scheme: "postgres", Host: hostPort(params, 5432)}
		if params.User != "" {
			if params.Password != nil {
				u.User = url.UserPassword(params.User, *params.Password)
			} else {
				u.User = url.User(params.User)
			}
		}
		if params.Database != "" {
			u.Path = "/" + params.Database
		}
		if dc.DialTimeout > 0 {
			q := url.Values{}
			q.Set("connect_timeout", strconv.Itoa(int(dc.DialTimeout.Seconds())))
			u.RawQuery = q.Encode()
		}
		return u.String(), nil

	case models.SQLite:
		if params.Database == "" {
			return "", fmt.Errorf("sqlite requires a database path")
		}
		return params.Database, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", kind)
}

func hostPort(params models.ConnectionParams, defaultPort int) string {
	host := params.Host
	if host == "" {
		host = "localhost"
	}
	port := params.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Connect opens and pings a handle for kind
func (dc *DatabaseConnector) Connect(ctx context.Context, kind models.Kind, params models.ConnectionParams) (*Connection, error) {
	driverName, err := DriverName(kind)
	if err != nil {
		return nil, err
	}
	dsn, err := dc.BuildDSN(kind, params)
	if err != nil {
		return nil, err
	}

	open := dc.Open
	if open == nil {
		open = sql.Open
	}
	db, err := open(driverName, dsn)
	if err != nil {
		dc.Logger.Errorf("Error opening %s connection %s: %v", kind, params, err)
		return nil, fmt.Errorf("failed to open %s connection: %w", kind, err)
	}

	// An in-memory sqlite database lives only as long as its connection
	if kind == models.SQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		dc.Logger.Debugf("Error pinging %s database %s: %v", kind, params, err)
		return nil, fmt.Errorf("failed to reach %s database: %w", kind, err)
	}

	dc.Logger.Infof("Connected to %s database %s", kind, params)
	return &Connection{Kind: kind, Params: params, DB: db}, nil
}

// Close closes the connection handle
func (dc *DatabaseConnector) Close(conn *Connection) error {
	if conn == nil || conn.DB == nil {
		return nil
	}
	if err := conn.DB.Close(); err != nil {
		dc.Logger.Errorf("Error closing %s connection: %v", conn.Kind, err)
		return err
	}
	dc.Logger.Debugf("%s connection closed", conn.Kind)
	return nil
}

// IsAlive pings the handle
func (dc *DatabaseConnector) IsAlive(ctx context.Context, conn *Connection) (bool, error) {
	if conn == nil || conn.DB == nil {
		return false, nil
	}
	if err := conn.DB.PingContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// rowReturningStatements start statements that produce a result set
var rowReturningStatements = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"WITH":     true,
	"PRAGMA":   true,
	"VALUES":   true,
}

// ReturnsRows reports whether a statement produces a result set
func ReturnsRows(query string) bool {
	fields := strings.Fields(strings.TrimLeft(query, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	return rowReturningStatements[strings.ToUpper(fields[0])]
}

// Execute runs query and returns its rows, or a single affected_rows row for other statements
func (dc *DatabaseConnector) Execute(ctx context.Context, conn *Connection, query string, args ...interface{}) ([]models.Row, error) {
	if conn == nil || conn.DB == nil {
		return nil, fmt.Errorf("no open connection")
	}

	if ReturnsRows(query) {
		return dc.executeQuery(ctx, conn.DB, query, args...)
	}

	affected, err := dc.executeStatement(ctx, conn.DB, query, args...)
	if err != nil {
		return nil, err
	}
	return []models.Row{{"affected_rows": affected}}, nil
}

func (dc *DatabaseConnector) executeQuery(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]models.Row, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		dc.Logger.Errorf("Error executing query: %v", err)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		dc.Logger.Errorf("Error getting columns: %v", err)
		return nil, err
	}

	results := []models.Row{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			dc.Logger.Errorf("Error scanning row: %v", err)
			return nil, err
		}

		row := make(models.Row, len(columns))
		for i, col := range columns {
			// Text columns arrive as []byte from several drivers
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		dc.Logger.Errorf("Error iterating rows: %v", err)
		return nil, err
	}

	return results, nil
}

func (dc *DatabaseConnector) executeStatement(ctx context.Context, db *sql.DB, query string, args ...interface{}) (int64, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		dc.Logger.Errorf("Error executing statement: %v", err)
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		dc.Logger.Errorf("Error getting affected rows: %v", err)
		return 0, err
	}

	return affected, nil
}
