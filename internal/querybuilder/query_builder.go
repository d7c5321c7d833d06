package querybuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/sqlagent/internal/provider"
	"github.com/vitebski/sqlagent/pkg/models"
)

// statementKeywords start the lines kept when a response has no fenced block
var statementKeywords = []string{"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER", "DROP", "SHOW"}

var sqlFence = regexp.MustCompile("(?s)```[sS][qQ][lL][ \t]*\\r?\\n?(.*?)```")

// maxResultRowsInPrompt caps how many rows are shown to the model when explaining
const maxResultRowsInPrompt = 50

var dialectNames = map[models.Kind]string{
	models.MySQL:      "MySQL",
	models.PostgreSQL: "PostgreSQL",
	models.SQLite:     "SQLite",
}

// QueryBuilder turns natural-language requests into SQL and explains results
type QueryBuilder struct {
	Provider provider.Provider
	Logger   *logrus.Logger
}

// NewQueryBuilder creates a new query builder
func NewQueryBuilder(p provider.Provider, logger *logrus.Logger) *QueryBuilder {
	return &QueryBuilder{
		Provider: p,
		Logger:   logger,
	}
}

// BuildPrompt renders the generation prompt for a request
func BuildPrompt(request string, conn models.ConnectionParams, schema *models.SchemaMap) string {
	dialect := conn.Type
	if kind, ok := models.ParseKind(conn.Type); ok {
		if name, ok := dialectNames[kind]; ok {
			dialect = name
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert in %s. Translate the following request into a single %s SQL query.\n\n", dialect, dialect)
	fmt.Fprintf(&b, "Request: %s\n\n", request)

	if schema != nil && len(schema.Tables) > 0 {
		b.WriteString("Database schema:\n")
		for _, table := range schema.Tables {
			fmt.Fprintf(&b, "- %s (%s)\n", table.Name, strings.Join(table.Columns, ", "))
		}
		b.WriteString("\nUse only the tables and columns listed above.\n")
	} else {
		b.WriteString("The database schema is not available; use the most likely table and column names.\n")
	}

	b.WriteString("Return only the SQL query inside a ```sql code block, with no explanation or other text.")
	return b.String()
}

// BuildQuery asks the model for SQL and extracts the statement from its response
func (qb *QueryBuilder) BuildQuery(ctx context.Context, request string, conn models.ConnectionParams, schema *models.SchemaMap) (models.GeneratedQuery, error) {
	prompt := BuildPrompt(request, conn, schema)
	qb.Logger.Debugf("Generation prompt:\n%s", prompt)

	response, err := qb.Provider.GenerateText(ctx, prompt)
	if err != nil {
		qb.Logger.Errorf("Error generating SQL with %s: %v", qb.Provider.Name(), err)
		return models.GeneratedQuery{}, &models.GenerationError{Request: request, Err: err}
	}

	query := ExtractSQL(response)
	if query == "" {
		return models.GeneratedQuery{}, &models.GenerationError{Request: request}
	}

	qb.Logger.Infof("Generated SQL: %s", query)
	return models.GeneratedQuery{SQL: query, Request: request, RawResponse: response}, nil
}

// ExtractSQL pulls the statement out of a model response. A fenced sql block wins,
// then lines starting with a statement keyword, then the whole trimmed response.
func ExtractSQL(response string) string {
	if match := sqlFence.FindStringSubmatch(response); match != nil {
		return strings.TrimSpace(match[1])
	}

	var kept []string
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, keyword := range statementKeywords {
			if strings.HasPrefix(trimmed, keyword) {
				kept = append(kept, trimmed)
				break
			}
		}
	}
	if len(kept) > 0 {
		return strings.Join(kept, " ")
	}

	return strings.TrimSpace(response)
}

// ExplainQuery asks the model to explain query in light of request and returns its answer verbatim
func (qb *QueryBuilder) ExplainQuery(ctx context.Context, query, request string) (string, error) {
	prompt := fmt.Sprintf(
		"Explain in plain language what the following SQL query does and how it answers the request.\n\n"+
			"Request: %s\n\nSQL:\n%s\n", request, query)

	explanation, err := qb.Provider.GenerateText(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to explain query: %w", err)
	}
	return explanation, nil
}

// ExplainResult explains query together with what actually happened when it ran
func (qb *QueryBuilder) ExplainResult(ctx context.Context, query, request string, rows []models.Row, execErr error) (string, error) {
	var b strings.Builder
	b.WriteString("Explain in plain language what the following SQL query does, how it answers the request, ")
	b.WriteString("and what the outcome means. Describe only the outcome shown below.\n\n")
	fmt.Fprintf(&b, "Request: %s\n\nSQL:\n%s\n\n", request, query)

	switch {
	case execErr != nil:
		fmt.Fprintf(&b, "The query failed with this error:\n%s\n", execErr.Error())
	case len(rows) == 0:
		b.WriteString("The query ran successfully and returned no rows.\n")
	default:
		shown := rows
		if len(shown) > maxResultRowsInPrompt {
			shown = shown[:maxResultRowsInPrompt]
		}
		data, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode results: %w", err)
		}
		fmt.Fprintf(&b, "The query returned %d row(s):\n%s\n", len(rows), data)
		if len(rows) > len(shown) {
			fmt.Fprintf(&b, "(only the first %d rows are shown)\n", len(shown))
		}
	}

	explanation, err := qb.Provider.GenerateText(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("failed to explain result: %w", err)
	}
	return explanation, nil
}
