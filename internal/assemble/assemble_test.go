package assemble

import (
	"context"
	"strings"
	"testing"

	"rel-graphql/internal/filter"
	"rel-graphql/internal/opvalues"
	"rel-graphql/internal/order"
	"rel-graphql/internal/planner"
	"rel-graphql/internal/schema"
	"rel-graphql/internal/storage"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	ops      []string
	finds    []*planner.FetchPlan
	findRows [][]map[string]interface{}

	insertKeys []interface{}
	updateKeys []interface{}
}

var _ storage.Client = (*fakeStore)(nil)

func (f *fakeStore) FindMany(ctx context.Context, plan *planner.FetchPlan) ([]map[string]interface{}, error) {
	f.ops = append(f.ops, "find")
	f.finds = append(f.finds, plan)
	if len(f.findRows) == 0 {
		return []map[string]interface{}{}, nil
	}
	rows := f.findRows[0]
	f.findRows = f.findRows[1:]
	return rows, nil
}

func (f *fakeStore) InsertMany(ctx context.Context, table *schema.Table, values []map[string]interface{}) ([]interface{}, error) {
	f.ops = append(f.ops, "insert")
	return f.insertKeys, nil
}

func (f *fakeStore) UpdateMany(ctx context.Context, table *schema.Table, set map[string]interface{}, where *filter.Where) ([]interface{}, error) {
	f.ops = append(f.ops, "update")
	return f.updateKeys, nil
}

func (f *fakeStore) DeleteMany(ctx context.Context, table *schema.Table, where *filter.Where) (int64, error) {
	f.ops = append(f.ops, "delete")
	return 0, nil
}

func blogSchema() *schema.Schema {
	users := &schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindNumeric, Numeric: schema.NumericInt, PrimaryKey: true},
			{Name: "name", Kind: schema.KindString},
			{Name: "email", Kind: schema.KindString, Nullable: true},
		},
	}
	posts := &schema.Table{
		Name: "posts",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindNumeric, Numeric: schema.NumericInt, PrimaryKey: true},
			{Name: "authorId", Kind: schema.KindNumeric, Numeric: schema.NumericInt, StorageName: "author_id"},
			{Name: "title", Kind: schema.KindString},
			{Name: "score", Kind: schema.KindNumeric, Numeric: schema.NumericFloat, Nullable: true},
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

func TestBuildValidatesInputs(t *testing.T) {
	store := &fakeStore{}

	_, err := Build(nil, store, Options{MaxDepth: 3})
	require.Error(t, err)

	_, err = Build(blogSchema(), nil, Options{MaxDepth: 3})
	require.Error(t, err)

	_, err = Build(blogSchema(), store, Options{MaxDepth: 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max depth")

	_, err = Build(&schema.Schema{}, store, Options{MaxDepth: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tables")
}

func TestBuildRequiresPrimaryKeysForMutations(t *testing.T) {
	s := &schema.Schema{Tables: []*schema.Table{{
		Name:    "notes",
		Columns: []*schema.Column{{Name: "body", Kind: schema.KindString}},
	}}}

	_, err := Build(s, &fakeStore{}, Options{MaxDepth: 2, Mutations: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `table "notes" has no primary key`)

	// Read-only builds accept key-less tables.
	res, err := Build(s, &fakeStore{}, Options{MaxDepth: 2})
	require.NoError(t, err)
	assert.Empty(t, res.Resolvers.Mutation)
}

func TestBuildRejectsBrokenSchemas(t *testing.T) {
	t.Run("unknown relation target", func(t *testing.T) {
		s := blogSchema()
		s.Tables[0].Relations[0].Target = "ghosts"
		_, err := Build(s, &fakeStore{}, Options{MaxDepth: 2})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown table "ghosts"`)
	})

	t.Run("relation shadows column", func(t *testing.T) {
		s := blogSchema()
		s.Tables[0].Relations[0].Name = "email"
		_, err := Build(s, &fakeStore{}, Options{MaxDepth: 2})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "shadows a column")
	})

	t.Run("reserved type name", func(t *testing.T) {
		s := &schema.Schema{Tables: []*schema.Table{{
			Name:    "queries",
			Columns: []*schema.Column{{Name: "id", Kind: schema.KindNumeric, PrimaryKey: true}},
		}}}
		_, err := Build(s, &fakeStore{}, Options{MaxDepth: 2})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reserved type name")
	})

	t.Run("colliding type names", func(t *testing.T) {
		s := &schema.Schema{Tables: []*schema.Table{
			{Name: "user", Columns: []*schema.Column{{Name: "id", Kind: schema.KindNumeric, PrimaryKey: true}}},
			{Name: "users", Columns: []*schema.Column{{Name: "id", Kind: schema.KindNumeric, PrimaryKey: true}}},
		}}
		_, err := Build(s, &fakeStore{}, Options{MaxDepth: 2})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "generated twice")
	})
}

func TestBuildSDL(t *testing.T) {
	res, err := Build(blogSchema(), &fakeStore{}, Options{MaxDepth: 3, Mutations: true})
	require.NoError(t, err)
	sdl := res.SDL

	assert.Contains(t, sdl, "enum Direction {\n  asc\n  desc\n}")
	assert.Contains(t, sdl, "input OrderByEntry {\n  direction: Direction!\n  priority: Int!\n}")

	// One shared filter input per base type, carrying the operator set.
	assert.Contains(t, sdl, "input IntFilters {")
	assert.Contains(t, sdl, "input StringFilters {")
	assert.Contains(t, sdl, "input FloatFilters {")
	assert.Equal(t, 1, strings.Count(sdl, "input StringFilters {"))
	assert.Contains(t, sdl, "  inArray: [Int!]\n")
	assert.Contains(t, sdl, "  OR: [IntFilters!]\n")

	assert.Contains(t, sdl, "type User {\n  id: Int!\n  name: String!\n  email: String\n  posts(where: PostFilters, orderBy: PostOrderBy, limit: Int, offset: Int): [Post!]!\n}")
	assert.Contains(t, sdl, "  author(where: UserFilters): User\n")

	// Insert inputs keep declared required-ness; update inputs relax all.
	assert.Contains(t, sdl, "input UserInsertInput {\n  id: Int!\n  name: String!\n  email: String\n}")
	assert.Contains(t, sdl, "input UserUpdateInput {\n  id: Int\n  name: String\n  email: String\n}")
	assert.Contains(t, sdl, "input UserFilters {\n  id: IntFilters\n  name: StringFilters\n  email: StringFilters\n  OR: [UserFilters!]\n}")
	assert.Contains(t, sdl, "input UserOrderBy {\n  id: OrderByEntry\n  name: OrderByEntry\n  email: OrderByEntry\n}")

	assert.Contains(t, sdl, "  usersFindMany(where: UserFilters, orderBy: UserOrderBy, limit: Int, offset: Int): [User!]!\n")
	assert.Contains(t, sdl, "  usersFindFirst(where: UserFilters, orderBy: UserOrderBy, offset: Int): User\n")
	assert.Contains(t, sdl, "  postsInsertMany(values: [PostInsertInput!]!): [Post!]!\n")
	assert.Contains(t, sdl, "  postsUpdateMany(set: PostUpdateInput!, where: PostFilters): [Post!]!\n")
	assert.Contains(t, sdl, "  postsDeleteMany(where: PostFilters): [Post!]!\n")
}

func TestBuildSDLScalarsAndEnums(t *testing.T) {
	s := &schema.Schema{Tables: []*schema.Table{{
		Name: "events",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindBuffer, PrimaryKey: true},
			{Name: "day", Kind: schema.KindDate},
			{Name: "views", Kind: schema.KindBigInt, Nullable: true},
			{Name: "status", Kind: schema.KindString, EnumValues: []string{"draft", "live"}},
			{Name: "location", Kind: schema.KindArray, Array: schema.ArrayPoint, Nullable: true},
			{Name: "tags", Kind: schema.KindArray, Nullable: true},
		},
	}}}

	res, err := Build(s, &fakeStore{}, Options{MaxDepth: 2})
	require.NoError(t, err)
	sdl := res.SDL

	assert.Contains(t, sdl, "scalar Bytes\n")
	assert.Contains(t, sdl, "scalar Date\n")
	assert.Contains(t, sdl, "scalar BigInt\n")
	assert.Contains(t, sdl, "scalar EventTagsArray\n")
	assert.Contains(t, sdl, "enum EventStatusEnum {\n  draft\n  live\n}")

	// Geometric arrays use the list-of-float shape, and its filter name
	// takes the List infix.
	assert.Contains(t, sdl, "  location: [Float!]\n")
	assert.Contains(t, sdl, "input FloatListFilters {")
	assert.Contains(t, sdl, "  inArray: [[Float!]!]\n")
}

func TestBuildExecutableQuery(t *testing.T) {
	store := &fakeStore{findRows: [][]map[string]interface{}{{
		{
			"id":   int64(1),
			"name": "alice",
			"posts": []interface{}{
				map[string]interface{}{"id": int64(7), "title": "intro", "authorId": int64(1)},
			},
		},
	}}}

	res, err := Build(blogSchema(), store, Options{MaxDepth: 3, DefaultLimit: 50, MaxLimit: 100})
	require.NoError(t, err)

	result := graphql.Do(graphql.Params{
		Schema:  res.Schema,
		Context: context.Background(),
		RequestString: `{
			usersFindMany(where: {name: {eq: "alice"}}, orderBy: {name: {direction: desc, priority: 1}}, limit: 5) {
				id
				name
				posts(limit: 2) { title }
			}
		}`,
	})
	require.Empty(t, result.Errors)

	// The whole tree cost one storage call, and every argument level landed
	// on the compiled plan.
	require.Equal(t, []string{"find"}, store.ops)
	plan := store.finds[0]
	assert.Equal(t, "users", plan.Root.Table.Name)
	require.NotNil(t, plan.Root.Where)
	require.Len(t, plan.Root.Order, 1)
	assert.Equal(t, order.Desc, plan.Root.Order[0].Direction)
	require.NotNil(t, plan.Root.Limit)
	assert.Equal(t, 5, *plan.Root.Limit)
	require.Len(t, plan.Root.Relations, 1)
	require.NotNil(t, plan.Root.Relations[0].Node.Limit)
	assert.Equal(t, 2, *plan.Root.Relations[0].Node.Limit)

	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	rows, ok := data["usersFindMany"].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "alice", row["name"])
	posts := row["posts"].([]interface{})
	require.Len(t, posts, 1)
	assert.Equal(t, "intro", posts[0].(map[string]interface{})["title"])
}

func TestBuildExecutableAliasedRelationBranches(t *testing.T) {
	store := &fakeStore{findRows: [][]map[string]interface{}{{
		{
			"id":   int64(1),
			"name": "alice",
			"drafts": []interface{}{
				map[string]interface{}{"id": int64(7), "title": "wip"},
			},
			"published": []interface{}{
				map[string]interface{}{"id": int64(8), "title": "intro"},
				map[string]interface{}{"id": int64(9), "title": "outro"},
			},
		},
	}}}

	res, err := Build(blogSchema(), store, Options{MaxDepth: 3})
	require.NoError(t, err)

	result := graphql.Do(graphql.Params{
		Schema:  res.Schema,
		Context: context.Background(),
		RequestString: `{
			usersFindMany {
				name
				drafts: posts(where: {title: {eq: "wip"}}) { title }
				published: posts(where: {title: {ne: "wip"}}) { title }
			}
		}`,
	})
	require.Empty(t, result.Errors)

	// Each alias compiles to its own child plan carrying its own filter.
	plan := store.finds[0]
	require.Len(t, plan.Root.Relations, 2)
	assert.Equal(t, "drafts", plan.Root.Relations[0].Key)
	assert.Equal(t, "published", plan.Root.Relations[1].Key)
	require.NotNil(t, plan.Root.Relations[0].Node.Where)
	sql, sqlArgs, err := plan.Root.Relations[0].Node.Where.Condition.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "`title` = ?", sql)
	assert.Equal(t, []interface{}{"wip"}, sqlArgs)
	require.NotNil(t, plan.Root.Relations[1].Node.Where)
	sql, _, err = plan.Root.Relations[1].Node.Where.Condition.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "`title` <> ?", sql)

	// And each alias resolves its own rows out of the parent.
	data := result.Data.(map[string]interface{})
	rows := data["usersFindMany"].([]interface{})
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	drafts := row["drafts"].([]interface{})
	require.Len(t, drafts, 1)
	assert.Equal(t, "wip", drafts[0].(map[string]interface{})["title"])
	published := row["published"].([]interface{})
	require.Len(t, published, 2)
}

func TestBuildExecutableDepthTruncation(t *testing.T) {
	t.Run("many-relation completes empty", func(t *testing.T) {
		store := &fakeStore{findRows: [][]map[string]interface{}{{
			{"id": int64(1), "name": "alice"},
		}}}
		res, err := Build(blogSchema(), store, Options{MaxDepth: 1})
		require.NoError(t, err)

		result := graphql.Do(graphql.Params{
			Schema:        res.Schema,
			Context:       context.Background(),
			RequestString: `{ usersFindMany { name posts { id } } }`,
		})
		require.Empty(t, result.Errors)

		// The branch was cut from the plan, and the field still completes
		// with an empty list instead of failing the non-null shape.
		assert.Empty(t, store.finds[0].Root.Relations)
		data := result.Data.(map[string]interface{})
		rows := data["usersFindMany"].([]interface{})
		require.Len(t, rows, 1)
		assert.Equal(t, []interface{}{}, rows[0].(map[string]interface{})["posts"])
	})

	t.Run("one-relation completes null", func(t *testing.T) {
		store := &fakeStore{findRows: [][]map[string]interface{}{{
			{"id": int64(7), "title": "intro"},
		}}}
		res, err := Build(blogSchema(), store, Options{MaxDepth: 1})
		require.NoError(t, err)

		result := graphql.Do(graphql.Params{
			Schema:        res.Schema,
			Context:       context.Background(),
			RequestString: `{ postsFindMany { title author { name } } }`,
		})
		require.Empty(t, result.Errors)

		data := result.Data.(map[string]interface{})
		rows := data["postsFindMany"].([]interface{})
		require.Len(t, rows, 1)
		assert.Nil(t, rows[0].(map[string]interface{})["author"])
	})
}

func TestBuildExecutableFindFirstNull(t *testing.T) {
	store := &fakeStore{}
	res, err := Build(blogSchema(), store, Options{MaxDepth: 2})
	require.NoError(t, err)

	result := graphql.Do(graphql.Params{
		Schema:        res.Schema,
		Context:       context.Background(),
		RequestString: `{ usersFindFirst(where: {name: {eq: "nobody"}}) { id } }`,
	})
	require.Empty(t, result.Errors)

	data := result.Data.(map[string]interface{})
	assert.Nil(t, data["usersFindFirst"])
}

func TestBuildExecutableMutation(t *testing.T) {
	store := &fakeStore{
		insertKeys: []interface{}{int64(3)},
		findRows: [][]map[string]interface{}{{
			{"id": int64(3), "name": "X"},
		}},
	}
	res, err := Build(blogSchema(), store, Options{MaxDepth: 2, Mutations: true})
	require.NoError(t, err)

	result := graphql.Do(graphql.Params{
		Schema:        res.Schema,
		Context:       context.Background(),
		RequestString: `mutation { usersInsertMany(values: [{id: 3, name: "X"}]) { id name } }`,
	})
	require.Empty(t, result.Errors)

	// Write first, then one re-select by key.
	assert.Equal(t, []string{"insert", "find"}, store.ops)
	data := result.Data.(map[string]interface{})
	rows := data["usersInsertMany"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "X", rows[0].(map[string]interface{})["name"])
}

func TestBuildResolverMap(t *testing.T) {
	res, err := Build(blogSchema(), &fakeStore{}, Options{MaxDepth: 2, Mutations: true})
	require.NoError(t, err)

	for _, name := range []string{"usersFindMany", "usersFindFirst", "postsFindMany", "postsFindFirst"} {
		assert.Contains(t, res.Resolvers.Query, name)
	}
	for _, name := range []string{"usersInsertMany", "usersUpdateMany", "usersDeleteMany"} {
		assert.Contains(t, res.Resolvers.Mutation, name)
	}
}

func TestBuildInterceptWrapsRootFields(t *testing.T) {
	store := &fakeStore{findRows: [][]map[string]interface{}{{
		{"id": int64(1), "name": "alice"},
	}}}

	var wrapped, invoked []string
	res, err := Build(blogSchema(), store, Options{
		MaxDepth:  2,
		Mutations: true,
		Intercept: func(field string, resolve graphql.FieldResolveFn) graphql.FieldResolveFn {
			wrapped = append(wrapped, field)
			return func(p graphql.ResolveParams) (interface{}, error) {
				invoked = append(invoked, field)
				return resolve(p)
			}
		},
	})
	require.NoError(t, err)

	assert.Contains(t, wrapped, "usersFindMany")
	assert.Contains(t, wrapped, "usersInsertMany")
	assert.Len(t, wrapped, 10)

	result := graphql.Do(graphql.Params{
		Schema:        res.Schema,
		Context:       context.Background(),
		RequestString: `{ usersFindMany { id } }`,
	})
	require.Empty(t, result.Errors)
	assert.Equal(t, []string{"usersFindMany"}, invoked)
}

func TestBuildInterceptPublishesOperationValues(t *testing.T) {
	store := &fakeStore{findRows: [][]map[string]interface{}{{
		{"id": int64(1), "name": "alice"},
	}}}
	res, err := Build(blogSchema(), store, Options{MaxDepth: 2, Intercept: opvalues.Publish})
	require.NoError(t, err)

	opStore := opvalues.New()
	result := graphql.Do(graphql.Params{
		Schema:        res.Schema,
		Context:       opvalues.With(context.Background(), opStore),
		RequestString: `{ usersFindMany { name } }`,
	})
	require.Empty(t, result.Errors)

	published, err := opStore.Get(context.Background(), "usersFindMany")
	require.NoError(t, err)
	rows, ok := published.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])
}
