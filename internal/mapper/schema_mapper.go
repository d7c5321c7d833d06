package mapper

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sqlagent/pkg/models"
)

// SchemaStore runs introspection queries on active connections and caches mappings
type SchemaStore interface {
	Query(ctx context.Context, kind models.Kind, query string, args ...interface{}) ([]models.Row, error)
	Mapping(kind models.Kind) *models.SchemaMap
	StoreMapping(kind models.Kind, mapping *models.SchemaMap) error
}

// introspection holds the table and column listing queries for a kind.
// Both return a single "name" column.
type introspection struct {
	tables  string
	columns string
}

var introspectionQueries = map[models.Kind]introspection{
	models.MySQL: {
		tables: `
			SELECT table_name AS name
			FROM information_schema.tables
			WHERE table_schema = DATABASE()
			AND table_type = 'BASE TABLE'
			ORDER BY table_name`,
		columns: `
			SELECT column_name AS name
			FROM information_schema.columns
			WHERE table_schema = DATABASE()
			AND table_name = ?
			ORDER BY ordinal_position`,
	},
	models.PostgreSQL: {
		tables: `
			SELECT table_name AS name
			FROM information_schema.tables
			WHERE table_schema = current_schema()
			AND table_type = 'BASE TABLE'
			ORDER BY table_name`,
		columns: `
			SELECT column_name AS name
			FROM information_schema.columns
			WHERE table_schema = current_schema()
			AND table_name = $1
			ORDER BY ordinal_position`,
	},
	models.SQLite: {
		tables: `
			SELECT name
			FROM sqlite_master
			WHERE type = 'table'
			AND name NOT LIKE 'sqlite_%'
			ORDER BY name`,
		columns: `SELECT name FROM pragma_table_info(?) ORDER BY cid`,
	},
}

// SchemaMapper builds table/column maps from live connections
type SchemaMapper struct {
	Store  SchemaStore
	Logger *logrus.Logger
}

// NewSchemaMapper creates a new schema mapper
func NewSchemaMapper(store SchemaStore, logger *logrus.Logger) *SchemaMapper {
	return &SchemaMapper{
		Store:  store,
		Logger: logger,
	}
}

// EnsureMapping reports whether a mapping for kind is cached or could be built now
func (sm *SchemaMapper) EnsureMapping(ctx context.Context, kind models.Kind) bool {
	if sm.Store.Mapping(kind) != nil {
		return true
	}
	if _, err := sm.Generate(ctx, kind); err != nil {
		sm.Logger.Warningf("Schema mapping unavailable: %v", err)
		return false
	}
	return true
}

// GetMapping returns the cached mapping for kind, if any
func (sm *SchemaMapper) GetMapping(kind models.Kind) *models.SchemaMap {
	return sm.Store.Mapping(kind)
}

// Generate rebuilds the mapping for kind. Nothing is cached unless every query succeeds.
func (sm *SchemaMapper) Generate(ctx context.Context, kind models.Kind) (*models.SchemaMap, error) {
	queries, ok := introspectionQueries[kind]
	if !ok {
		return nil, &models.SchemaUnavailableError{Kind: kind, Err: fmt.Errorf("introspection is not supported")}
	}

	tables, err := sm.names(ctx, kind, queries.tables)
	if err != nil {
		sm.Logger.Errorf("Error getting %s tables: %v", kind, err)
		return nil, &models.SchemaUnavailableError{Kind: kind, Err: err}
	}

	mapping := &models.SchemaMap{Tables: make([]models.TableSchema, 0, len(tables))}
	for _, table := range tables {
		columns, err := sm.names(ctx, kind, queries.columns, table)
		if err != nil {
			sm.Logger.Errorf("Error getting columns for table %s: %v", table, err)
			return nil, &models.SchemaUnavailableError{Kind: kind, Err: fmt.Errorf("columns of %s: %w", table, err)}
		}
		mapping.Tables = append(mapping.Tables, models.TableSchema{Name: table, Columns: columns})
	}

	if err := sm.Store.StoreMapping(kind, mapping); err != nil {
		return nil, &models.SchemaUnavailableError{Kind: kind, Err: err}
	}

	sm.Logger.Infof("Mapped %d %s table(s)", len(mapping.Tables), kind)
	return mapping, nil
}

func (sm *SchemaMapper) names(ctx context.Context, kind models.Kind, query string, args ...interface{}) ([]string, error) {
	rows, err := sm.Store.Query(ctx, kind, query, args...)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		value, ok := row["name"]
		if !ok || value == nil {
			return nil, fmt.Errorf("introspection row without a name column")
		}
		names = append(names, fmt.Sprintf("%v", value))
	}
	return names, nil
}
