package resolver

import (
	"strconv"

	"github.com/vitebski/sqlagent/pkg/models"
)

// envPrefixes maps connectable kinds to their environment variable family
var envPrefixes = map[models.Kind]string{
	models.MySQL:      "MYSQL_",
	models.PostgreSQL: "POSTGRES_",
	models.SQLite:     "SQLITE_",
}

// Default system users and ports per kind
var (
	systemUsers = map[models.Kind]string{
		models.MySQL:      "root",
		models.PostgreSQL: "postgres",
	}
	systemPorts = map[models.Kind]int{
		models.MySQL:      3306,
		models.PostgreSQL: 5432,
	}
)

// SQLiteDefaultDatabase is used when a sqlite client is available but nothing is configured
const SQLiteDefaultDatabase = ":memory:"

// Resolver proposes connection parameter candidates from explicit input,
// an environment snapshot and a capability report
type Resolver struct {
	Env    map[string]string
	Report models.CapabilityReport
}

// NewResolver creates a resolver over the given snapshot and report
func NewResolver(env map[string]string, report models.CapabilityReport) *Resolver {
	if env == nil {
		env = map[string]string{}
	}
	return &Resolver{Env: env, Report: report}
}

// Candidates returns the parameter sets to try for kind, strongest tier first
func (r *Resolver) Candidates(kind models.Kind, explicit *models.ConnectionParams) []models.Candidate {
	var candidates []models.Candidate

	if explicit != nil {
		params := *explicit
		params.Type = string(kind)
		candidates = append(candidates, models.Candidate{Tier: models.TierExplicit, Params: params})
	}

	if params, ok := r.fromEnvironment(kind); ok {
		candidates = append(candidates, models.Candidate{Tier: models.TierEnvironment, Params: params})
	}

	if params, ok := r.fromSystem(kind); ok {
		candidates = append(candidates, models.Candidate{Tier: models.TierSystem, Params: params})
	}

	return candidates
}

// EnvironmentCandidate returns the environment tier candidate alone
func (r *Resolver) EnvironmentCandidate(kind models.Kind) (models.ConnectionParams, bool) {
	return r.fromEnvironment(kind)
}

// SystemCandidate returns the system tier candidate alone
func (r *Resolver) SystemCandidate(kind models.Kind) (models.ConnectionParams, bool) {
	return r.fromSystem(kind)
}

func (r *Resolver) fromEnvironment(kind models.Kind) (models.ConnectionParams, bool) {
	prefix, ok := envPrefixes[kind]
	if !ok {
		return models.ConnectionParams{}, false
	}
	params := models.ConnectionParams{Type: string(kind)}

	if kind == models.SQLite {
		params.Database = r.Env[prefix+"DATABASE"]
		return params, params.Database != ""
	}

	params.Host = r.Env[prefix+"HOST"]
	params.User = r.Env[prefix+"USER"]
	params.Database = r.Env[prefix+"DATABASE"]
	if password, present := r.Env[prefix+"PASSWORD"]; present {
		params.Password = models.StringPtr(password)
	}
	if port, err := strconv.Atoi(r.Env[prefix+"PORT"]); err == nil && port > 0 && port <= 65535 {
		params.Port = port
	}

	if params.Host == "" || params.User == "" {
		return models.ConnectionParams{}, false
	}
	return params, true
}

func (r *Resolver) fromSystem(kind models.Kind) (models.ConnectionParams, bool) {
	capability, ok := r.Report[kind]
	if !ok || !kind.Connectable() {
		return models.ConnectionParams{}, false
	}

	if kind == models.SQLite {
		return models.ConnectionParams{Type: string(kind), Database: SQLiteDefaultDatabase}, true
	}

	port := systemPorts[kind]
	if len(capability.PortsDetected) > 0 {
		port = capability.PortsDetected[0]
	}

	return models.ConnectionParams{
		Type:     string(kind),
		Host:     "127.0.0.1",
		Port:     port,
		User:     systemUsers[kind],
		Password: models.StringPtr(""),
	}, true
}
