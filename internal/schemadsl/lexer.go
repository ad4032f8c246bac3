package schemadsl

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// dslLexer tokenizes the schema declaration language.
var dslLexer = lexer.MustSimple([]lexer.SimpleRule{
	// Declaration keywords. Reserved: columns and relations cannot use
	// these as names.
	{Name: "Keyword", Pattern: `\b(table|relations)\b`},

	// Attribute prefix.
	{Name: "Attr", Pattern: `@`},

	// Punctuation.
	{Name: "LBrace", Pattern: `\{`},
	{Name: "RBrace", Pattern: `\}`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "LBracket", Pattern: `\[`},
	{Name: "RBracket", Pattern: `\]`},
	{Name: "Colon", Pattern: `:`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Question", Pattern: `\?`},

	// Literals.
	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},

	// Identifiers.
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},

	// Doc comments bind to the following declaration; plain comments are
	// discarded.
	{Name: "DocComment", Pattern: `///[^\n]*`},
	{Name: "Comment", Pattern: `//[^\n]*`},

	{Name: "Newline", Pattern: `[\r\n]+`},
	{Name: "Whitespace", Pattern: `[ \t]+`},
})
