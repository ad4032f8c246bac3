// Package schemadsl parses the declarative relational schema language and
// loads it into the typed schema model. A schema file is a sequence of
// `table` blocks (columns with kinds and attributes) and `relations` blocks
// (one/many entries with field/reference column pairs):
//
//	table users {
//		/// Account id.
//		id        BigInt  @id @default
//		name      String
//		email     String? @db("email_address")
//		role      String  @enum("admin", "viewer")
//	}
//
//	relations users {
//		posts many(posts, fields: [id], references: [authorId])
//	}
//
// The loader classifies every declaration once into tables and relation
// sets and hands downstream components only the typed collections.
package schemadsl

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

type fileNode struct {
	Pos   lexer.Position
	Decls []*declNode `parser:"@@*"`
}

type declNode struct {
	Pos       lexer.Position
	Docs      []string       `parser:"@DocComment*"`
	Table     *tableNode     `parser:"( @@"`
	Relations *relationsNode `parser:"| @@ )"`
}

type tableNode struct {
	Pos     lexer.Position
	Name    string        `parser:"\"table\" @Ident"`
	Attrs   []*attrNode   `parser:"@@*"`
	Columns []*columnNode `parser:"\"{\" @@* \"}\""`
}

type columnNode struct {
	Pos   lexer.Position
	Docs  []string    `parser:"@DocComment*"`
	Name  string      `parser:"@Ident"`
	Type  *typeNode   `parser:"@@"`
	Attrs []*attrNode `parser:"@@*"`
}

type typeNode struct {
	Pos      lexer.Position
	Name     string `parser:"@Ident"`
	List     bool   `parser:"@(LBracket RBracket)?"`
	Optional bool   `parser:"@Question?"`
}

type attrNode struct {
	Pos  lexer.Position
	Name string     `parser:"Attr @Ident"`
	Args []*argNode `parser:"(LParen (@@ (Comma @@)*)? RParen)?"`
}

type argNode struct {
	Pos   lexer.Position
	Str   *string  `parser:"  @String"`
	Num   *float64 `parser:"| @Number"`
	Ident *string  `parser:"| @Ident"`
}

type relationsNode struct {
	Pos     lexer.Position
	Table   string          `parser:"\"relations\" @Ident"`
	Entries []*relEntryNode `parser:"\"{\" @@* \"}\""`
}

type relEntryNode struct {
	Pos    lexer.Position
	Docs   []string `parser:"@DocComment*"`
	Name   string   `parser:"@Ident"`
	Card   string   `parser:"@(\"one\" | \"many\")"`
	Target string   `parser:"LParen @Ident"`
	Fields []string `parser:"Comma \"fields\" Colon LBracket @Ident (Comma @Ident)* RBracket"`
	Refs   []string `parser:"Comma \"references\" Colon LBracket @Ident (Comma @Ident)* RBracket RParen"`
}

var parser = participle.MustBuild[fileNode](
	participle.Lexer(dslLexer),
	participle.Elide("Whitespace", "Newline", "Comment"),
	participle.Unquote("String"),
	participle.UseLookahead(4),
)
