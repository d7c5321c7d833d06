package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind is a database backend category
type Kind string

const (
	MySQL         Kind = "mysql"
	PostgreSQL    Kind = "postgresql"
	SQLite        Kind = "sqlite"
	MongoDB       Kind = "mongodb"
	Redis         Kind = "redis"
	Cassandra     Kind = "cassandra"
	Elasticsearch Kind = "elasticsearch"
	MSSQL         Kind = "mssql"
	Oracle        Kind = "oracle"
)

var kindAliases = map[string]Kind{
	"mysql":         MySQL,
	"mariadb":       MySQL,
	"postgresql":    PostgreSQL,
	"postgres":      PostgreSQL,
	"pgsql":         PostgreSQL,
	"sqlite":        SQLite,
	"sqlite3":       SQLite,
	"mongodb":       MongoDB,
	"mongo":         MongoDB,
	"redis":         Redis,
	"cassandra":     Cassandra,
	"elasticsearch": Elasticsearch,
	"mssql":         MSSQL,
	"sqlserver":     MSSQL,
	"oracle":        Oracle,
}

// ParseKind resolves a kind name or alias, case-insensitively
func ParseKind(name string) (Kind, bool) {
	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	return kind, ok
}

// Connectable reports whether queries can be executed against this kind
func (k Kind) Connectable() bool {
	switch k {
	case MySQL, PostgreSQL, SQLite:
		return true
	}
	return false
}

// ConnectableKinds returns the kinds that can be connected to, in a stable order
func ConnectableKinds() []Kind {
	return []Kind{MySQL, PostgreSQL, SQLite}
}

// CapabilityStatus summarizes what was detected for a kind
type CapabilityStatus string

const (
	FullyAvailable CapabilityStatus = "fully_available"
	ClientOnly     CapabilityStatus = "client_only"
	PortsOnly      CapabilityStatus = "ports_only"
)

// KindCapability is the detection result for a single kind
type KindCapability struct {
	ClientAvailable bool             `json:"client_available"`
	PortsDetected   []int            `json:"ports_detected"`
	Status          CapabilityStatus `json:"status"`
}

// CapabilityReport maps each detected kind to its capability.
// Kinds with neither a client nor an open port are absent.
type CapabilityReport map[Kind]KindCapability

// Kinds returns the reported kinds sorted by name
func (r CapabilityReport) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r))
	for kind := range r {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// EnvironmentInfo describes the host the detector ran on
type EnvironmentInfo struct {
	System       string `json:"system"`
	Release      string `json:"release,omitempty"`
	Architecture string `json:"architecture"`
	Hostname     string `json:"hostname"`
	InDocker     bool   `json:"in_docker"`
}

// SystemReport is a timestamped capability report with host information
type SystemReport struct {
	Timestamp   time.Time        `json:"timestamp"`
	Environment EnvironmentInfo  `json:"environment"`
	Databases   CapabilityReport `json:"database_systems"`
}

// ConnectionParams holds a possibly partial set of connection parameters.
// A nil Password means the password was not supplied; a pointer to "" means
// it was supplied empty.
type ConnectionParams struct {
	Type     string  `json:"type"`
	Host     string  `json:"host,omitempty"`
	Port     int     `json:"port,omitempty"`
	User     string  `json:"user,omitempty"`
	Password *string `json:"password,omitempty"`
	Database string  `json:"database,omitempty"`
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// PasswordValue returns the password, or "" when absent
func (p ConnectionParams) PasswordValue() string {
	if p.Password == nil {
		return ""
	}
	return *p.Password
}

// IsTypeOnly reports whether nothing beyond the type was supplied
func (p ConnectionParams) IsTypeOnly() bool {
	return p.Host == "" && p.Port == 0 && p.User == "" && p.Password == nil && p.Database == ""
}

// SameTarget reports whether both parameter sets point at the same database as the same user
func (p ConnectionParams) SameTarget(other ConnectionParams) bool {
	return p.Type == other.Type && p.Host == other.Host && p.Port == other.Port &&
		p.User == other.User && p.Database == other.Database
}

// MaskedPassword returns the log-safe rendering of the password
func (p ConnectionParams) MaskedPassword() string {
	if p.Password == nil {
		return ""
	}
	if *p.Password == "" {
		return "[empty]"
	}
	return "********"
}

// String renders the parameters without ever exposing the password
func (p ConnectionParams) String() string {
	parts := []string{"type=" + p.Type}
	if p.Host != "" {
		parts = append(parts, "host="+p.Host)
	}
	if p.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%d", p.Port))
	}
	if p.User != "" {
		parts = append(parts, "user="+p.User)
	}
	if p.Password != nil {
		parts = append(parts, "password="+p.MaskedPassword())
	}
	if p.Database != "" {
		parts = append(parts, "database="+p.Database)
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Tier identifies where a candidate's parameters came from
type Tier int

const (
	TierExplicit Tier = iota
	TierEnvironment
	TierSystem
)

func (t Tier) String() string {
	switch t {
	case TierExplicit:
		return "explicit parameters"
	case TierEnvironment:
		return "environment variables"
	case TierSystem:
		return "detected system defaults"
	}
	return "unknown"
}

// Candidate is one parameter set proposed by a resolution tier
type Candidate struct {
	Tier   Tier
	Params ConnectionParams
}

// TableSchema lists a table's column names in ordinal order
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// SchemaMap is the table/column structure of a connected database,
// kept in table-listing order
type SchemaMap struct {
	Tables []TableSchema `json:"tables"`
}

// Table looks up a table by name
func (m *SchemaMap) Table(name string) (TableSchema, bool) {
	if m == nil {
		return TableSchema{}, false
	}
	for _, table := range m.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return TableSchema{}, false
}

// TableNames returns the table names in listing order
func (m *SchemaMap) TableNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Tables))
	for _, table := range m.Tables {
		names = append(names, table.Name)
	}
	return names
}

// Row is a single result row keyed by column name
type Row map[string]interface{}

// GeneratedQuery is a SQL statement produced for a natural-language request
type GeneratedQuery struct {
	SQL         string
	Request     string
	RawResponse string
}
