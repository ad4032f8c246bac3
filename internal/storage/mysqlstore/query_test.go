package mysqlstore

import (
	"testing"

	"rel-graphql/internal/filter"
	"rel-graphql/internal/order"
	"rel-graphql/internal/planner"
	"rel-graphql/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeSchema() *schema.Schema {
	users := &schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindNumeric, Numeric: schema.NumericInt, PrimaryKey: true},
			{Name: "name", Kind: schema.KindString},
			{Name: "email", Kind: schema.KindString, Nullable: true},
			{Name: "tags", Kind: schema.KindArray, Array: schema.ArrayPlain, Nullable: true},
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

func pick(t *testing.T, table *schema.Table, names ...string) []*schema.Column {
	t.Helper()
	columns := make([]*schema.Column, len(names))
	for i, name := range names {
		columns[i] = table.Column(name)
		require.NotNil(t, columns[i], "column %s", name)
	}
	return columns
}

func mustWhere(t *testing.T, table *schema.Table, input map[string]interface{}) *filter.Where {
	t.Helper()
	where, err := filter.Compile(table, input)
	require.NoError(t, err)
	require.NotNil(t, where)
	return where
}

func intp(n int) *int {
	return &n
}

func documentsTable() *schema.Table {
	return &schema.Table{
		Name: "documents",
		Columns: []*schema.Column{
			{Name: "id", Kind: schema.KindBuffer, PrimaryKey: true},
			{Name: "title", Kind: schema.KindString},
		},
	}
}

func TestCompileFindFlat(t *testing.T) {
	s := storeSchema()
	users := s.Table("users")

	node := &planner.SelectionNode{Table: users, Columns: pick(t, users, "id", "name")}
	query, args, err := compileFind(node)
	require.NoError(t, err)

	assert.Equal(t, "SELECT `t0`.`id` AS `id`, `t0`.`name` AS `name` FROM `users` AS `t0`", query)
	assert.Empty(t, args)
}

func TestCompileFindFilterOrderPagination(t *testing.T) {
	s := storeSchema()
	users := s.Table("users")

	node := &planner.SelectionNode{
		Table:   users,
		Columns: pick(t, users, "id", "name"),
		Where:   mustWhere(t, users, map[string]interface{}{"name": map[string]interface{}{"eq": "Bob"}}),
		Order:   []order.Entry{{Column: users.Column("name"), Direction: order.Desc}},
		Limit:   intp(10),
		Offset:  intp(5),
	}
	query, args, err := compileFind(node)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `t0`.`id` AS `id`, `t0`.`name` AS `name` FROM `users` AS `t0` "+
			"WHERE `name` = ? ORDER BY `name` DESC LIMIT 10 OFFSET 5",
		query)
	assert.Equal(t, []interface{}{"Bob"}, args)
}

func TestCompileFindOneRelation(t *testing.T) {
	s := storeSchema()
	users, posts := s.Table("users"), s.Table("posts")

	node := &planner.SelectionNode{
		Table:   posts,
		Columns: pick(t, posts, "id", "authorId", "title"),
		Relations: []*planner.RelationPlan{{
			Key:      "author",
			Relation: posts.Relation("author"),
			Node:     &planner.SelectionNode{Table: users, Columns: pick(t, users, "id", "name")},
		}},
	}
	query, args, err := compileFind(node)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `t0`.`id` AS `id`, `t0`.`author_id` AS `authorId`, `t0`.`title` AS `title`, "+
			"(SELECT JSON_OBJECT('id', `t1`.`id`, 'name', `t1`.`name`) FROM `users` AS `t1` "+
			"WHERE `t1`.`id` = `t0`.`author_id` LIMIT 1) AS `author` "+
			"FROM `posts` AS `t0`",
		query)
	assert.Empty(t, args)
}

func TestCompileFindManyRelation(t *testing.T) {
	s := storeSchema()
	users, posts := s.Table("users"), s.Table("posts")

	node := &planner.SelectionNode{
		Table:   users,
		Columns: pick(t, users, "id", "name"),
		Where:   mustWhere(t, users, map[string]interface{}{"name": map[string]interface{}{"eq": "Bob"}}),
		Relations: []*planner.RelationPlan{{
			Key:      "posts",
			Relation: users.Relation("posts"),
			Node: &planner.SelectionNode{
				Table:   posts,
				Columns: pick(t, posts, "id", "title"),
				Where:   mustWhere(t, posts, map[string]interface{}{"title": map[string]interface{}{"like": "intro%"}}),
			},
		}},
	}
	query, args, err := compileFind(node)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `t0`.`id` AS `id`, `t0`.`name` AS `name`, "+
			"COALESCE((SELECT JSON_ARRAYAGG(JSON_OBJECT('id', `t1`.`id`, 'title', `t1`.`title`)) "+
			"FROM `posts` AS `t1` WHERE `t1`.`author_id` = `t0`.`id` AND `title` LIKE ?), JSON_ARRAY()) AS `posts` "+
			"FROM `users` AS `t0` WHERE `name` = ?",
		query)
	// Child filter values bind before root filter values: the subquery sits
	// in the projection, ahead of the outer WHERE.
	assert.Equal(t, []interface{}{"intro%", "Bob"}, args)
}

func TestCompileFindManyRelationDerived(t *testing.T) {
	s := storeSchema()
	users, posts := s.Table("users"), s.Table("posts")

	node := &planner.SelectionNode{
		Table:   users,
		Columns: pick(t, users, "id"),
		Relations: []*planner.RelationPlan{{
			Key:      "posts",
			Relation: users.Relation("posts"),
			Node: &planner.SelectionNode{
				Table:   posts,
				Columns: pick(t, posts, "id", "title"),
				Order:   []order.Entry{{Column: posts.Column("title"), Direction: order.Desc}},
				Limit:   intp(3),
			},
		}},
	}
	query, args, err := compileFind(node)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `t0`.`id` AS `id`, "+
			"COALESCE((SELECT JSON_ARRAYAGG(JSON_OBJECT('id', `d1`.`id`, 'title', `d1`.`title`)) "+
			"FROM (SELECT `t1`.`id` AS `id`, `t1`.`title` AS `title` FROM `posts` AS `t1` "+
			"WHERE `t1`.`author_id` = `t0`.`id` ORDER BY `title` DESC LIMIT 3) AS `d1`), JSON_ARRAY()) AS `posts` "+
			"FROM `users` AS `t0`",
		query)
	assert.Empty(t, args)
}

func TestCompileFindAliasedRelationBranches(t *testing.T) {
	s := storeSchema()
	users, posts := s.Table("users"), s.Table("posts")

	node := &planner.SelectionNode{
		Table:   users,
		Columns: pick(t, users, "id"),
		Relations: []*planner.RelationPlan{
			{
				Key:      "drafts",
				Relation: users.Relation("posts"),
				Node: &planner.SelectionNode{
					Table:   posts,
					Columns: pick(t, posts, "id", "title"),
					Where:   mustWhere(t, posts, map[string]interface{}{"title": map[string]interface{}{"eq": "draft"}}),
				},
			},
			{
				Key:      "published",
				Relation: users.Relation("posts"),
				Node: &planner.SelectionNode{
					Table:   posts,
					Columns: pick(t, posts, "id", "title"),
					Where:   mustWhere(t, posts, map[string]interface{}{"title": map[string]interface{}{"eq": "published"}}),
				},
			},
		},
	}
	query, args, err := compileFind(node)
	require.NoError(t, err)

	// Two branches of the same relation aggregate under their own response
	// keys, each with its own filter.
	assert.Equal(t,
		"SELECT `t0`.`id` AS `id`, "+
			"COALESCE((SELECT JSON_ARRAYAGG(JSON_OBJECT('id', `t1`.`id`, 'title', `t1`.`title`)) "+
			"FROM `posts` AS `t1` WHERE `t1`.`author_id` = `t0`.`id` AND `title` = ?), JSON_ARRAY()) AS `drafts`, "+
			"COALESCE((SELECT JSON_ARRAYAGG(JSON_OBJECT('id', `t2`.`id`, 'title', `t2`.`title`)) "+
			"FROM `posts` AS `t2` WHERE `t2`.`author_id` = `t0`.`id` AND `title` = ?), JSON_ARRAY()) AS `published` "+
			"FROM `users` AS `t0`",
		query)
	assert.Equal(t, []interface{}{"draft", "published"}, args)
}

func TestCompileFindDerivedOrderWithoutLimit(t *testing.T) {
	s := storeSchema()
	users, posts := s.Table("users"), s.Table("posts")

	node := &planner.SelectionNode{
		Table:   users,
		Columns: pick(t, users, "id"),
		Relations: []*planner.RelationPlan{{
			Key:      "posts",
			Relation: users.Relation("posts"),
			Node: &planner.SelectionNode{
				Table:   posts,
				Columns: pick(t, posts, "id"),
				Order:   []order.Entry{{Column: posts.Column("id"), Direction: order.Asc}},
			},
		}},
	}
	query, _, err := compileFind(node)
	require.NoError(t, err)

	// The derived table needs a LIMIT for its ORDER BY to survive
	// materialization.
	assert.Contains(t, query, "ORDER BY `id` ASC LIMIT 18446744073709551615")
}

func TestCompileFindNestedRelations(t *testing.T) {
	s := storeSchema()
	users, posts := s.Table("users"), s.Table("posts")

	node := &planner.SelectionNode{
		Table:   users,
		Columns: pick(t, users, "id"),
		Relations: []*planner.RelationPlan{{
			Key:      "posts",
			Relation: users.Relation("posts"),
			Node: &planner.SelectionNode{
				Table:   posts,
				Columns: pick(t, posts, "id", "authorId"),
				Relations: []*planner.RelationPlan{{
					Key:      "author",
					Relation: posts.Relation("author"),
					Node:     &planner.SelectionNode{Table: users, Columns: pick(t, users, "name")},
				}},
			},
		}},
	}
	query, args, err := compileFind(node)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT `t0`.`id` AS `id`, "+
			"COALESCE((SELECT JSON_ARRAYAGG(JSON_OBJECT('id', `t1`.`id`, 'authorId', `t1`.`author_id`, "+
			"'author', (SELECT JSON_OBJECT('name', `t2`.`name`) FROM `users` AS `t2` "+
			"WHERE `t2`.`id` = `t1`.`author_id` LIMIT 1))) "+
			"FROM `posts` AS `t1` WHERE `t1`.`author_id` = `t0`.`id`), JSON_ARRAY()) AS `posts` "+
			"FROM `users` AS `t0`",
		query)
	assert.Empty(t, args)
}

func TestCompileFindBufferKeyRendersUUID(t *testing.T) {
	docs := documentsTable()

	node := &planner.SelectionNode{Table: docs, Columns: docs.Columns}
	query, _, err := compileFind(node)
	require.NoError(t, err)

	assert.Equal(t, "SELECT BIN_TO_UUID(`t0`.`id`) AS `id`, `t0`.`title` AS `title` FROM `documents` AS `t0`", query)
}

func TestCompileFindRejectsBrokenRelations(t *testing.T) {
	s := storeSchema()
	users, posts := s.Table("users"), s.Table("posts")

	t.Run("no column pairs", func(t *testing.T) {
		node := &planner.SelectionNode{
			Table:   users,
			Columns: pick(t, users, "id"),
			Relations: []*planner.RelationPlan{{
				Key:      "posts",
				Relation: &schema.Relation{Name: "posts", Cardinality: schema.Many, Table: "users", Target: "posts"},
				Node:     &planner.SelectionNode{Table: posts, Columns: pick(t, posts, "id")},
			}},
		}
		_, _, err := compileFind(node)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no column pairs")
	})

	t.Run("unknown pair column", func(t *testing.T) {
		node := &planner.SelectionNode{
			Table:   users,
			Columns: pick(t, users, "id"),
			Relations: []*planner.RelationPlan{{
				Key: "posts",
				Relation: &schema.Relation{
					Name: "posts", Cardinality: schema.Many, Table: "users", Target: "posts",
					Pairs: []schema.ColumnPair{{Field: "nope", Reference: "authorId"}},
				},
				Node: &planner.SelectionNode{Table: posts, Columns: pick(t, posts, "id")},
			}},
		}
		_, _, err := compileFind(node)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"nope"`)
	})
}
