package querybuilder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/sqlagent/internal/provider"
	"github.com/vitebski/sqlagent/pkg/models"
)

type fakeProvider struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeProvider) GenerateText(ctx context.Context, prompt string, opts ...provider.Option) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

func newTestBuilder(p provider.Provider) *QueryBuilder {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewQueryBuilder(p, logger)
}

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "fenced block with prose",
			response: "Here is your query:\n```sql\n  SELECT * FROM clients;\n```\nIt lists every client.",
			want:     "SELECT * FROM clients;",
		},
		{
			name:     "first of several fenced blocks",
			response: "```sql\nSELECT 1;\n```\nor\n```sql\nSELECT 2;\n```",
			want:     "SELECT 1;",
		},
		{
			name:     "uppercase fence tag",
			response: "```SQL\nSELECT id FROM t\n```",
			want:     "SELECT id FROM t",
		},
		{
			name:     "keyword lines joined",
			response: "Sure.\n  SELECT name, email\nFROM users\n   SELECT count(*) FROM orders;\nDone.",
			want:     "SELECT name, email SELECT count(*) FROM orders;",
		},
		{
			name:     "keyword match is case sensitive",
			response: "select * from users",
			want:     "select * from users",
		},
		{
			name:     "pure prose",
			response: "  I cannot answer that without more context.  \n",
			want:     "I cannot answer that without more context.",
		},
		{
			name:     "untagged fence is not a sql block",
			response: "```\nSHOW TABLES\n```",
			want:     "SHOW TABLES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSQL(tt.response))
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	schema := &models.SchemaMap{Tables: []models.TableSchema{
		{Name: "clients", Columns: []string{"id", "name"}},
		{Name: "orders", Columns: []string{"id", "client_id", "total"}},
	}}

	prompt := BuildPrompt("total spent per client", models.ConnectionParams{Type: "postgresql"}, schema)
	assert.Contains(t, prompt, "PostgreSQL")
	assert.Contains(t, prompt, "Request: total spent per client")
	assert.Contains(t, prompt, "- clients (id, name)")
	assert.Contains(t, prompt, "- orders (id, client_id, total)")
	assert.Contains(t, prompt, "Return only the SQL query")

	ungrounded := BuildPrompt("list all clients", models.ConnectionParams{Type: "sqlite"}, nil)
	assert.Contains(t, ungrounded, "SQLite")
	assert.Contains(t, ungrounded, "schema is not available")
}

func TestBuildQuery(t *testing.T) {
	p := &fakeProvider{response: "```sql\nSELECT * FROM clients\n```"}
	qb := newTestBuilder(p)

	query, err := qb.BuildQuery(context.Background(), "list all clients", models.ConnectionParams{Type: "mysql"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM clients", query.SQL)
	assert.Equal(t, "list all clients", query.Request)
	assert.Equal(t, p.response, query.RawResponse)
	require.Len(t, p.prompts, 1)
}

func TestBuildQueryFailures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		cause := errors.New("rate limited")
		qb := newTestBuilder(&fakeProvider{err: cause})
		_, err := qb.BuildQuery(context.Background(), "x", models.ConnectionParams{Type: "mysql"}, nil)

		var genErr *models.GenerationError
		require.True(t, errors.As(err, &genErr))
		assert.ErrorIs(t, err, cause)
	})

	t.Run("blank response", func(t *testing.T) {
		qb := newTestBuilder(&fakeProvider{response: "   \n "})
		_, err := qb.BuildQuery(context.Background(), "x", models.ConnectionParams{Type: "mysql"}, nil)

		var genErr *models.GenerationError
		assert.True(t, errors.As(err, &genErr))
	})
}

func TestExplainQueryReturnsVerbatim(t *testing.T) {
	p := &fakeProvider{response: "  It selects everything.\n"}
	qb := newTestBuilder(p)

	explanation, err := qb.ExplainQuery(context.Background(), "SELECT * FROM t", "show t")
	require.NoError(t, err)
	assert.Equal(t, "  It selects everything.\n", explanation)
	assert.Contains(t, p.prompts[0], "SELECT * FROM t")
	assert.Contains(t, p.prompts[0], "show t")
}

func TestExplainResultDescribesOutcome(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		p := &fakeProvider{response: "No clients exist yet."}
		_, err := newTestBuilder(p).ExplainResult(ctx, "SELECT * FROM clients", "list all clients", []models.Row{}, nil)
		require.NoError(t, err)
		assert.Contains(t, p.prompts[0], "returned no rows")
	})

	t.Run("rows", func(t *testing.T) {
		p := &fakeProvider{response: "ok"}
		rows := []models.Row{{"name": "Ada"}, {"name": "Linus"}}
		_, err := newTestBuilder(p).ExplainResult(ctx, "SELECT name FROM clients", "names", rows, nil)
		require.NoError(t, err)
		assert.Contains(t, p.prompts[0], "returned 2 row(s)")
		assert.Contains(t, p.prompts[0], `"name": "Ada"`)
	})

	t.Run("execution error", func(t *testing.T) {
		p := &fakeProvider{response: "ok"}
		execErr := &models.ExecutionError{Kind: models.MySQL, Err: errors.New("no such table: clients")}
		_, err := newTestBuilder(p).ExplainResult(ctx, "SELECT * FROM clients", "x", []models.Row{}, execErr)
		require.NoError(t, err)
		assert.Contains(t, p.prompts[0], "no such table: clients")
		assert.False(t, strings.Contains(p.prompts[0], "returned no rows"))
	})
}
