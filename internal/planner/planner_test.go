package planner

import (
	"errors"
	"testing"

	"rel-graphql/internal/filter"
	"rel-graphql/internal/order"
	"rel-graphql/internal/schema"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *schema.Schema {
	users := &schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindString, PrimaryKey: true},
			{Name: "name", Kind: schema.KindString},
			{Name: "email", Kind: schema.KindString, Nullable: true},
		},
	}
	posts := &schema.Table{
		Name: "posts",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindString, PrimaryKey: true},
			{Name: "authorId", Kind: schema.KindString, StorageName: "author_id"},
			{Name: "title", Kind: schema.KindString},
			{Name: "body", Kind: schema.KindString, Nullable: true},
		},
	}
	comments := &schema.Table{
		Name: "comments",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindString, PrimaryKey: true},
			{Name: "postId", Kind: schema.KindString, StorageName: "post_id"},
			{Name: "text", Kind: schema.KindString},
		},
	}

	users.Relations = []*schema.Relation{
		{Name: "posts", Cardinality: schema.Many, Table: "users", Target: "posts", Pairs: []schema.ColumnPair{{Field: "id", Reference: "authorId"}}},
	}
	posts.Relations = []*schema.Relation{
		{Name: "author", Cardinality: schema.One, Table: "posts", Target: "users", Pairs: []schema.ColumnPair{{Field: "authorId", Reference: "id"}}},
		{Name: "comments", Cardinality: schema.Many, Table: "posts", Target: "comments", Pairs: []schema.ColumnPair{{Field: "id", Reference: "postId"}}},
	}

	return &schema.Schema{Tables: []*schema.Table{users, posts, comments}}
}

func columnNames(columns []*schema.Column) []string {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	return names
}

func fieldSel(name string, selections ...ast.Selection) *ast.Field {
	field := &ast.Field{Name: &ast.Name{Value: name}}
	if len(selections) > 0 {
		field.SelectionSet = &ast.SelectionSet{Selections: selections}
	}
	return field
}

func TestNewValidatesInputs(t *testing.T) {
	s := testSchema()

	_, err := New(nil, 3)
	require.Error(t, err)

	_, err = New(s, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max depth")

	p, err := New(s, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.MaxDepth())
}

func TestBuildProjectsRequestedColumns(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	plan, err := p.Build(s.Table("users"), nil, []ast.Selection{
		fieldSel("id"),
		fieldSel("name"),
		fieldSel("__typename"),
		fieldSel("notAColumn"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, columnNames(plan.Root.Columns))
	assert.Empty(t, plan.Root.Relations)
	assert.Nil(t, plan.Root.Where)
	assert.Nil(t, plan.Root.Limit)
}

func TestBuildForcesPrimaryKey(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	plan, err := p.Build(s.Table("users"), nil, []ast.Selection{
		fieldSel("name"),
	})
	require.NoError(t, err)

	// Declaration order, with the primary key forced in.
	assert.Equal(t, []string{"id", "name"}, columnNames(plan.Root.Columns))
}

func TestBuildForcesRelationJoinColumns(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	plan, err := p.Build(s.Table("posts"), nil, []ast.Selection{
		fieldSel("title"),
		fieldSel("author", fieldSel("name")),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "authorId", "title"}, columnNames(plan.Root.Columns))
	require.Len(t, plan.Root.Relations, 1)

	child := plan.Root.Relations[0]
	assert.Equal(t, "author", child.Relation.Name)
	assert.Equal(t, schema.One, child.Relation.Cardinality)
	assert.Equal(t, []string{"id", "name"}, columnNames(child.Node.Columns))
}

func TestBuildCompilesRootArguments(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	args := map[string]interface{}{
		"where": map[string]interface{}{
			"name": map[string]interface{}{"eq": "Bob"},
		},
		"orderBy": map[string]interface{}{
			"name": map[string]interface{}{"direction": "desc", "priority": 1},
			"id":   map[string]interface{}{"direction": "asc", "priority": 2},
		},
		"limit":  10,
		"offset": 5,
	}

	plan, err := p.Build(s.Table("users"), args, []ast.Selection{fieldSel("name")})
	require.NoError(t, err)

	root := plan.Root
	require.NotNil(t, root.Where)
	sql, sqlArgs, err := root.Where.Condition.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "`name` = ?", sql)
	assert.Equal(t, []interface{}{"Bob"}, sqlArgs)

	require.Len(t, root.Order, 2)
	assert.Equal(t, "name", root.Order[0].Column.Name)
	assert.Equal(t, order.Desc, root.Order[0].Direction)
	assert.Equal(t, "id", root.Order[1].Column.Name)

	require.NotNil(t, root.Limit)
	assert.Equal(t, 10, *root.Limit)
	require.NotNil(t, root.Offset)
	assert.Equal(t, 5, *root.Offset)
}

func TestBuildRejectsNegativePagination(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	_, err = p.Build(s.Table("users"), map[string]interface{}{"limit": -1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")

	_, err = p.Build(s.Table("users"), map[string]interface{}{"offset": "nope"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset")
}

func TestBuildPropagatesFilterErrors(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	args := map[string]interface{}{
		"where": map[string]interface{}{
			"name": map[string]interface{}{"eq": "Bob"},
			"OR": []interface{}{
				map[string]interface{}{"name": map[string]interface{}{"eq": "Ann"}},
			},
		},
	}
	_, err = p.Build(s.Table("users"), args, nil)
	require.Error(t, err)

	var conflict *filter.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "users", conflict.Table)
}

func TestBuildRelationArguments(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	postsField := fieldSel("posts", fieldSel("title"))
	postsField.Arguments = []*ast.Argument{
		{
			Name: &ast.Name{Value: "where"},
			Value: &ast.ObjectValue{Fields: []*ast.ObjectField{
				{
					Name: &ast.Name{Value: "title"},
					Value: &ast.ObjectValue{Fields: []*ast.ObjectField{
						{Name: &ast.Name{Value: "like"}, Value: &ast.StringValue{Value: "intro%"}},
					}},
				},
			}},
		},
		{Name: &ast.Name{Value: "limit"}, Value: &ast.IntValue{Value: "3"}},
		{
			Name: &ast.Name{Value: "orderBy"},
			Value: &ast.ObjectValue{Fields: []*ast.ObjectField{
				{
					Name: &ast.Name{Value: "title"},
					Value: &ast.ObjectValue{Fields: []*ast.ObjectField{
						{Name: &ast.Name{Value: "direction"}, Value: &ast.EnumValue{Value: "desc"}},
						{Name: &ast.Name{Value: "priority"}, Value: &ast.IntValue{Value: "1"}},
					}},
				},
			}},
		},
	}

	plan, err := p.Build(s.Table("users"), nil, []ast.Selection{fieldSel("name"), postsField})
	require.NoError(t, err)
	require.Len(t, plan.Root.Relations, 1)

	child := plan.Root.Relations[0].Node
	require.NotNil(t, child.Where)
	sql, sqlArgs, err := child.Where.Condition.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "`title` LIKE ?", sql)
	assert.Equal(t, []interface{}{"intro%"}, sqlArgs)

	require.NotNil(t, child.Limit)
	assert.Equal(t, 3, *child.Limit)
	require.Len(t, child.Order, 1)
	assert.Equal(t, "title", child.Order[0].Column.Name)
	assert.Equal(t, order.Desc, child.Order[0].Direction)
}

func TestBuildRelationArgumentVariables(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	postsField := fieldSel("posts", fieldSel("title"))
	postsField.Arguments = []*ast.Argument{
		{Name: &ast.Name{Value: "limit"}, Value: &ast.Variable{Name: &ast.Name{Value: "n"}}},
	}

	plan, err := p.Build(s.Table("users"), nil,
		[]ast.Selection{postsField},
		WithVariables(map[string]interface{}{"n": 7}),
	)
	require.NoError(t, err)
	require.Len(t, plan.Root.Relations, 1)

	child := plan.Root.Relations[0].Node
	require.NotNil(t, child.Limit)
	assert.Equal(t, 7, *child.Limit)
}

func TestBuildNestedRelations(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	selections := []ast.Selection{
		fieldSel("name"),
		fieldSel("posts",
			fieldSel("title"),
			fieldSel("comments", fieldSel("text")),
		),
	}

	plan, err := p.Build(s.Table("users"), nil, selections)
	require.NoError(t, err)

	require.Len(t, plan.Root.Relations, 1)
	posts := plan.Root.Relations[0]
	assert.Equal(t, "posts", posts.Relation.Name)
	// Join columns for the nested comments relation are forced in.
	assert.Equal(t, []string{"id", "title"}, columnNames(posts.Node.Columns))

	require.Len(t, posts.Node.Relations, 1)
	comments := posts.Node.Relations[0]
	assert.Equal(t, "comments", comments.Relation.Name)
	assert.Equal(t, []string{"id", "text"}, columnNames(comments.Node.Columns))
	assert.Empty(t, comments.Node.Relations)
}

func TestBuildTruncatesAtMaxDepth(t *testing.T) {
	s := testSchema()

	selections := []ast.Selection{
		fieldSel("name"),
		fieldSel("posts",
			fieldSel("title"),
			fieldSel("comments", fieldSel("text")),
		),
	}

	t.Run("depth 2 drops the grandchild", func(t *testing.T) {
		p, err := New(s, 2)
		require.NoError(t, err)

		plan, err := p.Build(s.Table("users"), nil, selections)
		require.NoError(t, err)
		require.Len(t, plan.Root.Relations, 1)
		assert.Empty(t, plan.Root.Relations[0].Node.Relations)
	})

	t.Run("depth 1 drops all children", func(t *testing.T) {
		p, err := New(s, 1)
		require.NoError(t, err)

		plan, err := p.Build(s.Table("users"), nil, selections)
		require.NoError(t, err)
		assert.Empty(t, plan.Root.Relations)
		assert.Equal(t, []string{"id", "name"}, columnNames(plan.Root.Columns))
	})
}

func TestFetchPlanDepth(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	flat, err := p.Build(s.Table("users"), nil, []ast.Selection{fieldSel("name")})
	require.NoError(t, err)
	assert.Equal(t, 1, flat.Depth())

	nested, err := p.Build(s.Table("users"), nil, []ast.Selection{
		fieldSel("posts", fieldSel("comments", fieldSel("text"))),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, nested.Depth())
}

func TestBuildMergesDuplicateRelationFields(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	first := fieldSel("posts", fieldSel("title"))
	first.Arguments = []*ast.Argument{
		{Name: &ast.Name{Value: "limit"}, Value: &ast.IntValue{Value: "2"}},
	}
	second := fieldSel("posts", fieldSel("body"))

	plan, err := p.Build(s.Table("users"), nil, []ast.Selection{first, second})
	require.NoError(t, err)
	require.Len(t, plan.Root.Relations, 1)

	child := plan.Root.Relations[0].Node
	assert.Equal(t, []string{"id", "title", "body"}, columnNames(child.Columns))
	require.NotNil(t, child.Limit)
	assert.Equal(t, 2, *child.Limit)
}

func whereEqArg(column, value string) *ast.Argument {
	return &ast.Argument{
		Name: &ast.Name{Value: "where"},
		Value: &ast.ObjectValue{Fields: []*ast.ObjectField{{
			Name: &ast.Name{Value: column},
			Value: &ast.ObjectValue{Fields: []*ast.ObjectField{
				{Name: &ast.Name{Value: "eq"}, Value: &ast.StringValue{Value: value}},
			}},
		}}},
	}
}

func TestBuildAliasedRelationBranches(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	drafts := fieldSel("posts", fieldSel("title"))
	drafts.Alias = &ast.Name{Value: "drafts"}
	drafts.Arguments = []*ast.Argument{whereEqArg("title", "draft")}

	published := fieldSel("posts", fieldSel("body"))
	published.Alias = &ast.Name{Value: "published"}
	published.Arguments = []*ast.Argument{whereEqArg("title", "published")}

	plan, err := p.Build(s.Table("users"), nil, []ast.Selection{drafts, published})
	require.NoError(t, err)
	require.Len(t, plan.Root.Relations, 2)

	first, second := plan.Root.Relations[0], plan.Root.Relations[1]
	assert.Equal(t, "drafts", first.Key)
	assert.Equal(t, "published", second.Key)
	assert.Equal(t, "posts", first.Relation.Name)
	assert.Equal(t, "posts", second.Relation.Name)

	// Each branch keeps its own filter and its own projection.
	require.NotNil(t, first.Node.Where)
	sql, sqlArgs, err := first.Node.Where.Condition.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "`title` = ?", sql)
	assert.Equal(t, []interface{}{"draft"}, sqlArgs)

	require.NotNil(t, second.Node.Where)
	sql, sqlArgs, err = second.Node.Where.Condition.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "`title` = ?", sql)
	assert.Equal(t, []interface{}{"published"}, sqlArgs)

	assert.Equal(t, []string{"id", "title"}, columnNames(first.Node.Columns))
	assert.Equal(t, []string{"id", "body"}, columnNames(second.Node.Columns))
}

func TestBuildRejectsConflictingResponseKeys(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	t.Run("two relations under one key", func(t *testing.T) {
		author := fieldSel("author", fieldSel("name"))
		author.Alias = &ast.Name{Value: "linked"}
		comments := fieldSel("comments", fieldSel("text"))
		comments.Alias = &ast.Name{Value: "linked"}

		_, err := p.Build(s.Table("posts"), nil, []ast.Selection{author, comments})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `share the response key "linked"`)
	})

	t.Run("alias shadows a projected column", func(t *testing.T) {
		posts := fieldSel("posts", fieldSel("title"))
		posts.Alias = &ast.Name{Value: "name"}

		_, err := p.Build(s.Table("users"), nil, []ast.Selection{fieldSel("name"), posts})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `collides with projected column "name"`)
	})
}

func TestBuildExpandsFragments(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(`
				query {
					usersFindMany {
						...userParts
						posts {
							... on Post { title }
						}
					}
				}
				fragment userParts on User {
					name
					...moreUserParts
				}
				fragment moreUserParts on User {
					email
					...userParts
				}
			`),
			Name: "planner-test",
		}),
	})
	require.NoError(t, err)

	fragments := map[string]ast.Definition{}
	var rootField *ast.Field
	for _, def := range doc.Definitions {
		switch node := def.(type) {
		case *ast.FragmentDefinition:
			fragments[node.Name.Value] = node
		case *ast.OperationDefinition:
			rootField = node.SelectionSet.Selections[0].(*ast.Field)
		}
	}
	require.NotNil(t, rootField)

	plan, err := p.Build(s.Table("users"), nil, rootField.SelectionSet.Selections, WithFragments(fragments))
	require.NoError(t, err)

	// The mutually recursive fragments terminate and contribute their columns.
	assert.Equal(t, []string{"id", "name", "email"}, columnNames(plan.Root.Columns))
	require.Len(t, plan.Root.Relations, 1)
	assert.Equal(t, []string{"id", "title"}, columnNames(plan.Root.Relations[0].Node.Columns))
}

func TestBuildUnknownRelationTarget(t *testing.T) {
	users := &schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindString, PrimaryKey: true},
		},
		Relations: []*schema.Relation{
			{Name: "ghosts", Cardinality: schema.Many, Table: "users", Target: "ghosts", Pairs: []schema.ColumnPair{{Field: "id", Reference: "userId"}}},
		},
	}
	s := &schema.Schema{Tables: []*schema.Table{users}}

	p, err := New(s, 3)
	require.NoError(t, err)

	_, err = p.Build(users, nil, []ast.Selection{
		fieldSel("ghosts", fieldSel("id")),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ghosts"`)
	assert.Contains(t, err.Error(), `"users"`)
}

func TestBuildAppliesListLimits(t *testing.T) {
	s := testSchema()
	p, err := New(s, 3)
	require.NoError(t, err)

	t.Run("default fills absent limits", func(t *testing.T) {
		selections := []ast.Selection{fieldSel("id"), fieldSel("posts", fieldSel("id"))}
		plan, err := p.Build(s.Table("users"), nil, selections, WithDefaultLimit(25))
		require.NoError(t, err)

		require.NotNil(t, plan.Root.Limit)
		assert.Equal(t, 25, *plan.Root.Limit)
		require.Len(t, plan.Root.Relations, 1)
		child := plan.Root.Relations[0].Node
		require.NotNil(t, child.Limit)
		assert.Equal(t, 25, *child.Limit)
	})

	t.Run("requested limit wins over default", func(t *testing.T) {
		plan, err := p.Build(s.Table("users"), map[string]interface{}{"limit": 3}, nil, WithDefaultLimit(25))
		require.NoError(t, err)
		require.NotNil(t, plan.Root.Limit)
		assert.Equal(t, 3, *plan.Root.Limit)
	})

	t.Run("one-relation child takes no default", func(t *testing.T) {
		selections := []ast.Selection{fieldSel("author", fieldSel("id"))}
		plan, err := p.Build(s.Table("posts"), nil, selections, WithDefaultLimit(25))
		require.NoError(t, err)
		require.Len(t, plan.Root.Relations, 1)
		assert.Nil(t, plan.Root.Relations[0].Node.Limit)
	})

	t.Run("max rejects oversized limit", func(t *testing.T) {
		_, err := p.Build(s.Table("users"), map[string]interface{}{"limit": 5000}, nil, WithMaxLimit(1000))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds the maximum of 1000")
	})
}

func TestBuildNoSelectionsProjectsEverything(t *testing.T) {
	// A table without a primary key and no recognizable selection keeps the
	// full column set.
	logs := &schema.Table{
		Name: "logs",
		Columns: []*schema.Column{
			{Name: "at", Kind: schema.KindDate},
			{Name: "line", Kind: schema.KindString},
		},
	}
	s := &schema.Schema{Tables: []*schema.Table{logs}}

	p, err := New(s, 1)
	require.NoError(t, err)

	plan, err := p.Build(logs, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"at", "line"}, columnNames(plan.Root.Columns))
}
