//go:build integration
// +build integration

// Package integration exercises the generated surface end to end against a
// real MySQL-compatible database. Set RELGRAPHQL_TEST_DSN to a scratch
// database the suite may create and drop it_* tables in, e.g.
//
//	RELGRAPHQL_TEST_DSN='root:secret@tcp(localhost:3306)/test' go test -tags integration ./tests/integration/
package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"rel-graphql/internal/assemble"
	"rel-graphql/internal/dbexec"
	"rel-graphql/internal/schemadsl"
	"rel-graphql/internal/storage/mysqlstore"

	_ "github.com/go-sql-driver/mysql"
	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/require"
)

// libraryDSL is the schema declaration the whole suite runs against. Storage
// names carry an it_ prefix so the fixture tables cannot collide with
// anything else living in the test database.
const libraryDSL = `
table authors @db("it_authors") {
	id     Int     @id @default
	name   String
	email  String?
	rating Float?
}

table books @db("it_books") {
	id        Int     @id @default
	authorId  Int     @db("author_id")
	title     String
	published Boolean @default
}

table reviews @db("it_reviews") {
	id     Int     @id @default
	bookId Int     @db("book_id")
	stars  Int
	body   String?
}

relations authors {
	books many(books, fields: [id], references: [authorId])
}

relations books {
	author  one(authors, fields: [authorId], references: [id])
	reviews many(reviews, fields: [id], references: [bookId])
}

relations reviews {
	book one(books, fields: [bookId], references: [id])
}
`

var fixtureStatements = []string{
	"DROP TABLE IF EXISTS it_reviews",
	"DROP TABLE IF EXISTS it_books",
	"DROP TABLE IF EXISTS it_authors",
	`CREATE TABLE it_authors (
		id     INT          NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name   VARCHAR(255) NOT NULL,
		email  VARCHAR(255) NULL,
		rating DOUBLE       NULL
	)`,
	`CREATE TABLE it_books (
		id        INT          NOT NULL AUTO_INCREMENT PRIMARY KEY,
		author_id INT          NOT NULL,
		title     VARCHAR(255) NOT NULL,
		published TINYINT(1)   NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE it_reviews (
		id      INT          NOT NULL AUTO_INCREMENT PRIMARY KEY,
		book_id INT          NOT NULL,
		stars   INT          NOT NULL,
		body    VARCHAR(255) NULL
	)`,
	`INSERT INTO it_authors (id, name, email, rating) VALUES
		(1, 'Ann Patchett', 'ann@example.com', 4.5),
		(2, 'Bob Woodward', NULL, 3.0),
		(3, 'Carla Diaz', 'carla@example.com', NULL)`,
	`INSERT INTO it_books (id, author_id, title, published) VALUES
		(1, 1, 'Bel Canto', 1),
		(2, 1, 'Tom Lake', 0),
		(3, 2, 'Fear', 1)`,
	`INSERT INTO it_reviews (id, book_id, stars, body) VALUES
		(1, 1, 5, 'great'),
		(2, 1, 3, NULL),
		(3, 3, 4, 'solid')`,
}

func requireIntegrationEnv(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("RELGRAPHQL_TEST_DSN") == "" {
		t.Skip("RELGRAPHQL_TEST_DSN not set")
	}
}

func testDSN() string {
	return os.Getenv("RELGRAPHQL_TEST_DSN")
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("mysql", testDSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "test database should be reachable")
	return db
}

// setupFixture recreates and reseeds the it_* tables so every test starts
// from the same rows regardless of what earlier mutations did.
func setupFixture(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range fixtureStatements {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, "fixture statement failed: %s", stmt)
	}
}

// countingExecutor wraps the standard executor and counts issued statements,
// so tests can assert how many round trips an operation cost.
type countingExecutor struct {
	inner   dbexec.QueryExecutor
	queries int64
	execs   int64
}

func (c *countingExecutor) QueryContext(ctx context.Context, query string, args ...any) (dbexec.Rows, error) {
	atomic.AddInt64(&c.queries, 1)
	return c.inner.QueryContext(ctx, query, args...)
}

func (c *countingExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	atomic.AddInt64(&c.execs, 1)
	return c.inner.ExecContext(ctx, query, args...)
}

func (c *countingExecutor) reset() {
	atomic.StoreInt64(&c.queries, 0)
	atomic.StoreInt64(&c.execs, 0)
}

func (c *countingExecutor) queryCount() int64 {
	return atomic.LoadInt64(&c.queries)
}

// buildSurface parses the suite schema and builds the full surface over db.
func buildSurface(t *testing.T, db *sql.DB) (*assemble.Result, *countingExecutor) {
	t.Helper()

	s, err := schemadsl.Parse("library.rgql", libraryDSL)
	require.NoError(t, err)

	exec := &countingExecutor{inner: dbexec.NewStandardExecutor(db)}
	result, err := assemble.Build(s, mysqlstore.New(exec), assemble.Options{
		Mutations: true,
		MaxDepth:  5,
	})
	require.NoError(t, err)
	return result, exec
}

// execQuery runs one GraphQL operation and requires it to succeed.
func execQuery(t *testing.T, result *assemble.Result, query string) map[string]interface{} {
	t.Helper()
	r := graphql.Do(graphql.Params{
		Schema:        result.Schema,
		RequestString: query,
		Context:       context.Background(),
	})
	require.Empty(t, r.Errors, "query failed: %s", query)
	data, ok := r.Data.(map[string]interface{})
	require.True(t, ok, "unexpected data shape %T", r.Data)
	return data
}

// execQueryErr runs one GraphQL operation expected to fail and returns the
// combined error text.
func execQueryErr(t *testing.T, result *assemble.Result, query string) string {
	t.Helper()
	r := graphql.Do(graphql.Params{
		Schema:        result.Schema,
		RequestString: query,
		Context:       context.Background(),
	})
	require.NotEmpty(t, r.Errors, "expected errors for query: %s", query)
	combined := ""
	for _, e := range r.Errors {
		combined += e.Message + "\n"
	}
	return combined
}

// rows unwraps a list-valued root field.
func rows(t *testing.T, data map[string]interface{}, field string) []map[string]interface{} {
	t.Helper()
	list, ok := data[field].([]interface{})
	require.True(t, ok, "field %q is %T, want a list", field, data[field])
	out := make([]map[string]interface{}, len(list))
	for i, entry := range list {
		row, ok := entry.(map[string]interface{})
		require.True(t, ok, "row %d is %T, want an object", i, entry)
		out[i] = row
	}
	return out
}

// fieldStrings projects one string field out of a row list, preserving order.
func fieldStrings(t *testing.T, list []map[string]interface{}, field string) []string {
	t.Helper()
	out := make([]string, len(list))
	for i, row := range list {
		out[i] = fmt.Sprintf("%v", row[field])
	}
	return out
}

// mustJSON renders a value for failure messages.
func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
