package resolver

import (
	"context"
	"errors"
	"testing"

	"rel-graphql/internal/filter"
	"rel-graphql/internal/planner"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/storage"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records every storage call and replays queued results, so tests
// can assert the one-round-trip property directly.
type fakeStore struct {
	ops []string

	finds    []*planner.FetchPlan
	findRows [][]map[string]interface{}
	findErr  error

	insertValues [][]map[string]interface{}
	insertKeys   []interface{}
	insertErr    error

	updateSets   []map[string]interface{}
	updateWheres []*filter.Where
	updateKeys   []interface{}

	deleteWheres []*filter.Where
	deleteCount  int64
}

var _ storage.Client = (*fakeStore)(nil)

func (f *fakeStore) FindMany(ctx context.Context, plan *planner.FetchPlan) ([]map[string]interface{}, error) {
	f.ops = append(f.ops, "find")
	f.finds = append(f.finds, plan)
	if f.findErr != nil {
		return nil, f.findErr
	}
	if len(f.findRows) == 0 {
		return []map[string]interface{}{}, nil
	}
	rows := f.findRows[0]
	f.findRows = f.findRows[1:]
	return rows, nil
}

func (f *fakeStore) InsertMany(ctx context.Context, table *schema.Table, values []map[string]interface{}) ([]interface{}, error) {
	f.ops = append(f.ops, "insert")
	f.insertValues = append(f.insertValues, values)
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	return f.insertKeys, nil
}

func (f *fakeStore) UpdateMany(ctx context.Context, table *schema.Table, set map[string]interface{}, where *filter.Where) ([]interface{}, error) {
	f.ops = append(f.ops, "update")
	f.updateSets = append(f.updateSets, set)
	f.updateWheres = append(f.updateWheres, where)
	return f.updateKeys, nil
}

func (f *fakeStore) DeleteMany(ctx context.Context, table *schema.Table, where *filter.Where) (int64, error) {
	f.ops = append(f.ops, "delete")
	f.deleteWheres = append(f.deleteWheres, where)
	return f.deleteCount, nil
}

func testSchema() *schema.Schema {
	users := &schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindNumeric, Numeric: schema.NumericInt, PrimaryKey: true},
			{Name: "name", Kind: schema.KindString},
		},
	}
	posts := &schema.Table{
		Name: "posts",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindNumeric, Numeric: schema.NumericInt, PrimaryKey: true},
			{Name: "authorId", Kind: schema.KindNumeric, Numeric: schema.NumericInt, StorageName: "author_id"},
			{Name: "title", Kind: schema.KindString},
		},
	}
	users.Relations = []*schema.Relation{
		{Name: "posts", Cardinality: schema.Many, Table: "users", Target: "posts", Pairs: []schema.ColumnPair{{Field: "id", Reference: "authorId"}}},
	}
	posts.Relations = []*schema.Relation{
		{Name: "author", Cardinality: schema.One, Table: "posts", Target: "users", Pairs: []schema.ColumnPair{{Field: "authorId", Reference: "id"}}},
	}
	return &schema.Schema{Tables: []*schema.Table{users, posts}}
}

func newResolver(t *testing.T, s *schema.Schema, store *fakeStore, cfg Config) *Resolver {
	t.Helper()
	pl, err := planner.New(s, 4)
	require.NoError(t, err)
	r, err := New(s, pl, store, cfg)
	require.NoError(t, err)
	return r
}

func fieldSel(name string, selections ...ast.Selection) *ast.Field {
	field := &ast.Field{Name: &ast.Name{Value: name}}
	if len(selections) > 0 {
		field.SelectionSet = &ast.SelectionSet{Selections: selections}
	}
	return field
}

func params(args map[string]interface{}, selections ...ast.Selection) graphql.ResolveParams {
	root := &ast.Field{Name: &ast.Name{Value: "root"}}
	if len(selections) > 0 {
		root.SelectionSet = &ast.SelectionSet{Selections: selections}
	}
	return graphql.ResolveParams{
		Context: context.Background(),
		Args:    args,
		Info:    graphql.ResolveInfo{FieldASTs: []*ast.Field{root}},
	}
}

func TestNewValidatesInputs(t *testing.T) {
	s := testSchema()
	pl, err := planner.New(s, 2)
	require.NoError(t, err)
	store := &fakeStore{}

	_, err = New(nil, pl, store, Config{})
	require.Error(t, err)

	_, err = New(s, nil, store, Config{})
	require.Error(t, err)

	_, err = New(s, pl, nil, Config{})
	require.Error(t, err)

	_, err = New(s, pl, store, Config{DefaultLimit: 200, MaxLimit: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default limit 200 exceeds max limit 100")
}

func TestFindManySubmitsOnePlan(t *testing.T) {
	s := testSchema()
	store := &fakeStore{findRows: [][]map[string]interface{}{{{"id": int64(1), "name": "alice"}}}}
	r := newResolver(t, s, store, Config{})

	resolve := r.FindMany(s.Table("users"))
	result, err := resolve(params(
		map[string]interface{}{"where": map[string]interface{}{"name": map[string]interface{}{"eq": "alice"}}},
		fieldSel("id"), fieldSel("posts", fieldSel("title")),
	))
	require.NoError(t, err)

	// One storage call for the whole tree; the relation rides inside the
	// plan, never as another invocation.
	require.Equal(t, []string{"find"}, store.ops)
	plan := store.finds[0]
	assert.Equal(t, "users", plan.Root.Table.Name)
	require.Len(t, plan.Root.Relations, 1)
	assert.Equal(t, "posts", plan.Root.Relations[0].Relation.Name)
	require.NotNil(t, plan.Root.Where)

	rows, ok := result.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])
}

func TestFindManyAppliesListLimits(t *testing.T) {
	s := testSchema()
	store := &fakeStore{}
	r := newResolver(t, s, store, Config{DefaultLimit: 50, MaxLimit: 100})
	resolve := r.FindMany(s.Table("users"))

	t.Run("default limit", func(t *testing.T) {
		_, err := resolve(params(nil, fieldSel("id")))
		require.NoError(t, err)
		require.NotNil(t, store.finds[0].Root.Limit)
		assert.Equal(t, 50, *store.finds[0].Root.Limit)
	})

	t.Run("max limit", func(t *testing.T) {
		_, err := resolve(params(map[string]interface{}{"limit": 500}, fieldSel("id")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds the maximum")
	})
}

func TestFindManyToleratesNilContext(t *testing.T) {
	s := testSchema()
	store := &fakeStore{findRows: [][]map[string]interface{}{{{"id": int64(1), "name": "alice"}}}}
	r := newResolver(t, s, store, Config{})

	// graphql.Do leaves Context nil when the caller sets none; the resolver
	// must not fail on span creation.
	p := params(nil, fieldSel("id"))
	p.Context = nil
	result, err := r.FindMany(s.Table("users"))(p)
	require.NoError(t, err)

	rows, ok := result.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
}

func TestFindManyPropagatesStorageErrors(t *testing.T) {
	s := testSchema()
	store := &fakeStore{findErr: errors.New("connection refused")}
	r := newResolver(t, s, store, Config{})

	_, err := r.FindMany(s.Table("users"))(params(nil, fieldSel("id")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFindFirst(t *testing.T) {
	s := testSchema()

	t.Run("returns first row", func(t *testing.T) {
		store := &fakeStore{findRows: [][]map[string]interface{}{{{"id": int64(1)}, {"id": int64(2)}}}}
		r := newResolver(t, s, store, Config{})

		result, err := r.FindFirst(s.Table("users"))(params(nil, fieldSel("id")))
		require.NoError(t, err)

		require.NotNil(t, store.finds[0].Root.Limit)
		assert.Equal(t, 1, *store.finds[0].Root.Limit)
		row, ok := result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, int64(1), row["id"])
	})

	t.Run("no match resolves to null", func(t *testing.T) {
		store := &fakeStore{}
		r := newResolver(t, s, store, Config{})

		result, err := r.FindFirst(s.Table("users"))(params(nil, fieldSel("id")))
		require.NoError(t, err)
		assert.Nil(t, result)
	})
}

func TestInsertManyWritesThenRefetches(t *testing.T) {
	s := testSchema()
	store := &fakeStore{
		insertKeys: []interface{}{int64(7)},
		findRows:   [][]map[string]interface{}{{{"id": int64(7), "name": "X"}}},
	}
	r := newResolver(t, s, store, Config{DefaultLimit: 50})

	result, err := r.InsertMany(s.Table("users"))(params(
		map[string]interface{}{"values": []interface{}{map[string]interface{}{"name": "X"}}},
		fieldSel("id"), fieldSel("name"),
	))
	require.NoError(t, err)

	require.Equal(t, []string{"insert", "find"}, store.ops)
	require.Len(t, store.insertValues, 1)
	assert.Equal(t, []map[string]interface{}{{"name": "X"}}, store.insertValues[0])

	// The re-fetch filters by the written keys and ignores the read-side
	// default limit.
	plan := store.finds[0]
	require.NotNil(t, plan.Root.Where)
	sql, args, err := plan.Root.Where.Condition.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "`id` IN (?)", sql)
	assert.Equal(t, []interface{}{int64(7)}, args)
	assert.Nil(t, plan.Root.Limit)

	rows, ok := result.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "X", rows[0]["name"])
}

func TestInsertManyValidatesValues(t *testing.T) {
	s := testSchema()
	store := &fakeStore{}
	r := newResolver(t, s, store, Config{})
	resolve := r.InsertMany(s.Table("users"))

	t.Run("empty list", func(t *testing.T) {
		_, err := resolve(params(map[string]interface{}{"values": []interface{}{}}))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "users", verr.Table)
		assert.Equal(t, "values", verr.Argument)
	})

	t.Run("entry not an object", func(t *testing.T) {
		_, err := resolve(params(map[string]interface{}{"values": []interface{}{"nope"}}))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	assert.Empty(t, store.ops, "storage must not be touched on invalid input")
}

func TestUpdateManyRefetchesByKey(t *testing.T) {
	s := testSchema()
	store := &fakeStore{
		updateKeys: []interface{}{int64(1), int64(3)},
		findRows:   [][]map[string]interface{}{{{"id": int64(1), "name": "Zed"}, {"id": int64(3), "name": "Zed"}}},
	}
	r := newResolver(t, s, store, Config{})

	result, err := r.UpdateMany(s.Table("users"))(params(
		map[string]interface{}{
			"set":   map[string]interface{}{"name": "Zed"},
			"where": map[string]interface{}{"name": map[string]interface{}{"eq": "Bob"}},
		},
		fieldSel("id"), fieldSel("name"),
	))
	require.NoError(t, err)

	require.Equal(t, []string{"update", "find"}, store.ops)
	assert.Equal(t, map[string]interface{}{"name": "Zed"}, store.updateSets[0])
	require.NotNil(t, store.updateWheres[0])

	sql, args, err := store.finds[0].Root.Where.Condition.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "`id` IN (?,?)", sql)
	assert.Equal(t, []interface{}{int64(1), int64(3)}, args)

	rows, ok := result.([]map[string]interface{})
	require.True(t, ok)
	assert.Len(t, rows, 2)
}

func TestUpdateManyZeroMatches(t *testing.T) {
	s := testSchema()
	store := &fakeStore{updateKeys: []interface{}{}}
	r := newResolver(t, s, store, Config{})

	result, err := r.UpdateMany(s.Table("users"))(params(
		map[string]interface{}{"set": map[string]interface{}{"name": "Zed"}},
		fieldSel("id"),
	))
	require.NoError(t, err)

	// No keys, no re-fetch.
	assert.Equal(t, []string{"update"}, store.ops)
	assert.Equal(t, []map[string]interface{}{}, result)
}

func TestUpdateManyRequiresSet(t *testing.T) {
	s := testSchema()
	store := &fakeStore{}
	r := newResolver(t, s, store, Config{})

	_, err := r.UpdateMany(s.Table("users"))(params(map[string]interface{}{}))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "set", verr.Argument)
	assert.Empty(t, store.ops)
}

func TestDeleteManyCapturesBeforeDelete(t *testing.T) {
	s := testSchema()
	store := &fakeStore{
		findRows:    [][]map[string]interface{}{{{"id": int64(1), "name": "Bob"}}},
		deleteCount: 1,
	}
	r := newResolver(t, s, store, Config{})

	result, err := r.DeleteMany(s.Table("users"))(params(
		map[string]interface{}{"where": map[string]interface{}{"name": map[string]interface{}{"eq": "Bob"}}},
		fieldSel("id"), fieldSel("name"),
	))
	require.NoError(t, err)

	require.Equal(t, []string{"find", "delete"}, store.ops)
	require.NotNil(t, store.deleteWheres[0])

	rows, ok := result.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bob", rows[0]["name"])
}

func TestBuildMapFieldNames(t *testing.T) {
	s := testSchema()
	r := newResolver(t, s, &fakeStore{}, Config{})

	m := r.BuildMap(true)
	for _, name := range []string{"usersFindMany", "usersFindFirst", "postsFindMany", "postsFindFirst"} {
		assert.Contains(t, m.Query, name)
	}
	for _, name := range []string{"usersInsertMany", "usersUpdateMany", "usersDeleteMany", "postsInsertMany", "postsUpdateMany", "postsDeleteMany"} {
		assert.Contains(t, m.Mutation, name)
	}

	readOnly := r.BuildMap(false)
	assert.Len(t, readOnly.Query, 4)
	assert.Empty(t, readOnly.Mutation)
}
