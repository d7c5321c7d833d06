package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/sqlagent/internal/manager"
	"github.com/vitebski/sqlagent/internal/mapper"
	"github.com/vitebski/sqlagent/internal/querybuilder"
	"github.com/vitebski/sqlagent/internal/utils"
	"github.com/vitebski/sqlagent/pkg/models"
)

// Request is the canonical form every input is resolved to
type Request struct {
	Prompt     string
	Connection models.ConnectionParams
}

// Input is either a Structured request or BareText
type Input interface {
	Canonical() Request
}

// Structured is a prompt with explicit connection parameters
type Structured struct {
	Prompt     string                  `json:"prompt"`
	Connection models.ConnectionParams `json:"connection"`
}

// Canonical returns the request as-is
func (s Structured) Canonical() Request {
	return Request{Prompt: s.Prompt, Connection: s.Connection}
}

// BareText is a prompt alone, run against the default database kind
type BareText string

// DefaultKind is used for bare-text requests
const DefaultKind = models.MySQL

// Canonical returns the prompt with a type-only connection
func (t BareText) Canonical() Request {
	return Request{Prompt: string(t), Connection: models.ConnectionParams{Type: string(DefaultKind)}}
}

// Result is the outcome of one run. Error is set only when no query could be executed.
type Result struct {
	RequestID      string
	Query          string
	Results        []models.Row
	Explanation    string
	ExecutionError string
	Error          string
	Suggestion     string
}

// OK reports whether the run produced a query result
func (r Result) OK() bool {
	return r.Error == ""
}

// MarshalJSON renders either the success or the error shape
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.OK() {
		return json.Marshal(struct {
			RequestID  string `json:"request_id"`
			Error      string `json:"error"`
			Suggestion string `json:"suggestion,omitempty"`
		}{r.RequestID, r.Error, r.Suggestion})
	}

	results := r.Results
	if results == nil {
		results = []models.Row{}
	}
	return json.Marshal(struct {
		RequestID      string       `json:"request_id"`
		Query          string       `json:"query"`
		Results        []models.Row `json:"results"`
		Explanation    string       `json:"explanation"`
		ExecutionError string       `json:"execution_error,omitempty"`
	}{r.RequestID, r.Query, results, r.Explanation, r.ExecutionError})
}

// Agent runs natural-language requests end to end
type Agent struct {
	Manager *manager.Manager
	Mapper  *mapper.SchemaMapper
	Builder *querybuilder.QueryBuilder
	Logger  *logrus.Logger

	mu sync.Mutex
}

// NewAgent creates a new agent
func NewAgent(m *manager.Manager, sm *mapper.SchemaMapper, qb *querybuilder.QueryBuilder, logger *logrus.Logger) *Agent {
	return &Agent{
		Manager: m,
		Mapper:  sm,
		Builder: qb,
		Logger:  logger,
	}
}

type suggester interface {
	Suggestion() string
}

func errorResult(id string, err error) Result {
	res := Result{RequestID: id, Error: err.Error()}
	var s suggester
	if errors.As(err, &s) {
		res.Suggestion = s.Suggestion()
	}
	return res
}

// Run connects, maps the schema, generates and executes SQL, and explains the outcome.
// Failures come back as an error Result; Run never panics.
func (a *Agent) Run(ctx context.Context, input Input) (res Result) {
	id := uuid.NewString()
	logger := a.Logger.WithField("request_id", id)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Recovered from panic: %v", r)
			res = Result{
				RequestID:  id,
				Error:      fmt.Sprintf("internal error: %v", r),
				Suggestion: "retry the request; if it keeps failing, reset the cache",
			}
		}
	}()

	a.mu.Lock()
	defer a.mu.Unlock()

	if input == nil {
		return errorResult(id, &models.ValidationError{Field: "prompt", Message: "request is empty"})
	}
	req := input.Canonical()
	if strings.TrimSpace(req.Prompt) == "" {
		return errorResult(id, &models.ValidationError{Field: "prompt", Message: "must not be empty"})
	}
	if err := utils.ValidateConnectionParams(req.Connection); err != nil {
		return errorResult(id, err)
	}
	kind, _ := models.ParseKind(req.Connection.Type)

	var explicit *models.ConnectionParams
	if !req.Connection.IsTypeOnly() {
		params := req.Connection
		explicit = &params
	}

	msg, err := a.Manager.Connect(ctx, kind, explicit)
	if err != nil {
		logger.Warningf("Connection failed: %v", err)
		return errorResult(id, err)
	}
	logger.Info(msg)

	var schema *models.SchemaMap
	if a.Mapper.EnsureMapping(ctx, kind) {
		schema = a.Mapper.GetMapping(kind)
	} else {
		logger.Warning("Proceeding without schema grounding")
	}

	descriptor, _ := a.Manager.Params(kind)
	descriptor.Type = string(kind)

	query, err := a.Builder.BuildQuery(ctx, req.Prompt, descriptor, schema)
	if err != nil {
		logger.Errorf("SQL generation failed: %v", err)
		return errorResult(id, err)
	}

	rows, execErr := a.Manager.ExecuteQuery(ctx, kind, query.SQL)
	res = Result{RequestID: id, Query: query.SQL, Results: rows}
	if execErr != nil {
		logger.Warningf("Execution failed: %v", execErr)
		res.ExecutionError = execErr.Error()
	}

	explanation, err := a.Builder.ExplainResult(ctx, query.SQL, req.Prompt, rows, execErr)
	if err != nil {
		logger.Warningf("Explanation failed: %v", err)
		explanation = fallbackExplanation(rows, execErr)
	}
	res.Explanation = explanation

	logger.Infof("Request completed with %d row(s)", len(rows))
	return res
}

func fallbackExplanation(rows []models.Row, execErr error) string {
	if execErr != nil {
		return fmt.Sprintf("The query could not be executed: %v", execErr)
	}
	if len(rows) == 0 {
		return "The query ran successfully but returned no rows."
	}
	return fmt.Sprintf("The query returned %d row(s).", len(rows))
}

// RunText runs a bare-text prompt and returns a single text block
func (a *Agent) RunText(ctx context.Context, prompt string) string {
	return FormatText(a.Run(ctx, BareText(prompt)))
}

// FormatText renders a result for callers that only accept plain text
func FormatText(res Result) string {
	if !res.OK() {
		suggestion := res.Suggestion
		if suggestion == "" {
			suggestion = "check the request and try again"
		}
		return fmt.Sprintf("ERROR: %s\nSugerencia: %s", res.Error, suggestion)
	}

	rows := res.Results
	if rows == nil {
		rows = []models.Row{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%v", rows))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SQL:\n%s\n\n", res.Query)
	if res.ExecutionError != "" {
		fmt.Fprintf(&b, "Execution error:\n%s\n\n", res.ExecutionError)
	}
	fmt.Fprintf(&b, "Results:\n%s\n\n", data)
	fmt.Fprintf(&b, "Explanation:\n%s", strings.TrimSpace(res.Explanation))
	return b.String()
}

// ResetCache closes the records and drops the mappings for the given kinds, or all kinds
func (a *Agent) ResetCache(kinds ...models.Kind) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(kinds) == 0 {
		a.Logger.Info("Resetting all cached connections and schema mappings")
		return a.Manager.CloseAll()
	}

	var errs []error
	for _, kind := range kinds {
		a.Logger.Infof("Resetting cached %s connection and schema mapping", kind)
		if err := a.Manager.Close(kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Capabilities returns the capability report the agent resolves system candidates from
func (a *Agent) Capabilities() models.CapabilityReport {
	return a.Manager.Report()
}
