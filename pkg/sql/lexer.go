package sql

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ekaya-inc/dashboard-gateway/pkg/models"
)

var (
	ErrUnterminatedString  = errors.New("unterminated string literal")
	ErrUnterminatedComment = errors.New("unterminated block comment")
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenWord        TokenKind = iota // bare identifier or keyword
	TokenQuotedIdent                  // `x`, "x" or [x]; Text holds the unquoted name
	TokenString                       // string literal; Text holds the raw literal
	TokenNumber
	TokenParam // @name, @@var, $1, ?, :name
	TokenPunct // any other single character
)

// Token is one lexical unit. Pos and End are byte offsets into the query.
type Token struct {
	Kind  TokenKind
	Text  string
	Quote byte // opening quote of a TokenQuotedIdent
	Pos   int
	End   int
}

// Is reports whether the token is the given bare keyword (case-insensitive)
// or punctuation character.
func (t Token) Is(s string) bool {
	switch t.Kind {
	case TokenWord:
		return strings.EqualFold(t.Text, s)
	case TokenPunct:
		return t.Text == s
	}
	return false
}

// Upper returns the token text in upper case.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

type lexer struct {
	src     string
	pos     int
	dialect models.Dialect
	tokens  []Token
}

// Tokenize splits a query into tokens, dropping whitespace and comments.
// Literal rules follow the dialect: BigQuery has backslash escapes, '#'
// comments, backtick identifiers and triple-quoted strings; Postgres has
// dollar-quoted strings and E-prefixed escapes; SQL Server has [bracketed]
// identifiers. Anything left open at end of input is an error.
func Tokenize(query string, dialect models.Dialect) ([]Token, error) {
	l := &lexer{src: query, dialect: dialect}
	for l.pos < len(l.src) {
		if err := l.next(); err != nil {
			return nil, err
		}
	}
	return l.tokens, nil
}

func (l *lexer) emit(kind TokenKind, text string, start int) {
	l.tokens = append(l.tokens, Token{Kind: kind, Text: text, Pos: start, End: l.pos})
}

func (l *lexer) peek(offset int) byte {
	if l.pos+offset < len(l.src) {
		return l.src[l.pos+offset]
	}
	return 0
}

func (l *lexer) next() error {
	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
		l.pos++
		return nil

	case c == '-' && l.peek(1) == '-':
		l.skipLine()
		return nil

	case c == '#' && l.dialect == models.DialectBigQuery:
		l.skipLine()
		return nil

	case c == '/' && l.peek(1) == '*':
		end := strings.Index(l.src[l.pos+2:], "*/")
		if end < 0 {
			return ErrUnterminatedComment
		}
		l.pos += 2 + end + 2
		return nil

	case c == '\'':
		return l.quoted('\'', TokenString, l.dialect == models.DialectBigQuery)

	case c == '"':
		if l.dialect == models.DialectBigQuery {
			return l.quoted('"', TokenString, true)
		}
		return l.quoted('"', TokenQuotedIdent, false)

	case c == '`':
		return l.quoted('`', TokenQuotedIdent, l.dialect == models.DialectBigQuery)

	case c == '[' && l.dialect == models.DialectSQLServer:
		end := strings.IndexByte(l.src[l.pos+1:], ']')
		if end < 0 {
			return ErrUnterminatedString
		}
		l.pos += 1 + end + 1
		l.emit(TokenQuotedIdent, l.src[start+1:l.pos-1], start)
		l.tokens[len(l.tokens)-1].Quote = '['
		return nil

	case c == '$' && l.dialect == models.DialectPostgres && !isDigit(l.peek(1)):
		if ok, err := l.dollarQuoted(); ok || err != nil {
			return err
		}
		l.pos++
		l.emit(TokenPunct, "$", start)
		return nil

	case c == '@' || c == '$' || c == '?' || (c == ':' && isWordStart(l.peek(1))):
		l.pos++
		for l.pos < len(l.src) && (l.src[l.pos] == '@' || isWordPart(l.src[l.pos])) {
			l.pos++
		}
		l.emit(TokenParam, l.src[start:l.pos], start)
		return nil

	case isDigit(c):
		for l.pos < len(l.src) && (isWordPart(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		l.emit(TokenNumber, l.src[start:l.pos], start)
		return nil

	case isWordStart(c):
		for l.pos < len(l.src) && isWordPart(l.src[l.pos]) {
			l.pos++
		}
		word := l.src[start:l.pos]
		// String prefixes: r'..', b'..', rb'..' (BigQuery), E'..' (Postgres), N'..' (SQL Server).
		if l.pos < len(l.src) && isStringPrefix(word, l.dialect) &&
			(l.src[l.pos] == '\'' || (l.dialect == models.DialectBigQuery && l.src[l.pos] == '"')) {
			escapes := l.dialect == models.DialectBigQuery || strings.EqualFold(word, "e")
			if err := l.quoted(l.src[l.pos], TokenString, escapes); err != nil {
				return err
			}
			l.tokens[len(l.tokens)-1].Pos = start
			return nil
		}
		l.emit(TokenWord, word, start)
		return nil

	case c >= utf8.RuneSelf:
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if unicode.IsLetter(r) {
			for l.pos < len(l.src) {
				r, size = utf8.DecodeRuneInString(l.src[l.pos:])
				if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
					break
				}
				l.pos += size
			}
			l.emit(TokenWord, l.src[start:l.pos], start)
			return nil
		}
		l.pos += size
		l.emit(TokenPunct, l.src[start:l.pos], start)
		return nil
	}

	l.pos++
	l.emit(TokenPunct, string(c), start)
	return nil
}

func (l *lexer) skipLine() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
}

// quoted consumes a literal delimited by quote, starting at l.pos.
// A doubled quote is always an escaped quote; a backslash escapes the next
// byte only when escapes is set. BigQuery triple-quoted literals are handled
// when the opening quote is tripled.
func (l *lexer) quoted(quote byte, kind TokenKind, escapes bool) error {
	start := l.pos
	triple := l.dialect == models.DialectBigQuery && quote != '`' &&
		l.peek(1) == quote && l.peek(2) == quote
	if triple {
		delim := strings.Repeat(string(quote), 3)
		i := l.pos + 3
		for i < len(l.src) {
			if escapes && l.src[i] == '\\' {
				i += 2
				continue
			}
			if strings.HasPrefix(l.src[i:], delim) {
				l.pos = i + 3
				l.emit(kind, l.src[start:l.pos], start)
				return nil
			}
			i++
		}
		return ErrUnterminatedString
	}

	i := l.pos + 1
	for i < len(l.src) {
		ch := l.src[i]
		if escapes && ch == '\\' {
			i += 2
			continue
		}
		if ch == quote {
			if i+1 < len(l.src) && l.src[i+1] == quote {
				i += 2
				continue
			}
			l.pos = i + 1
			text := l.src[start:l.pos]
			if kind == TokenQuotedIdent {
				inner := text[1 : len(text)-1]
				text = strings.ReplaceAll(inner, string([]byte{quote, quote}), string(quote))
			}
			l.emit(kind, text, start)
			if kind == TokenQuotedIdent {
				l.tokens[len(l.tokens)-1].Quote = quote
			}
			return nil
		}
		i++
	}
	return ErrUnterminatedString
}

// dollarQuoted consumes a Postgres $tag$...$tag$ literal. It returns false
// without consuming anything when the input at l.pos is not a dollar quote.
func (l *lexer) dollarQuoted() (bool, error) {
	start := l.pos
	i := l.pos + 1
	for i < len(l.src) && isWordPart(l.src[i]) && l.src[i] != '$' {
		i++
	}
	if i >= len(l.src) || l.src[i] != '$' {
		return false, nil
	}
	tag := l.src[start : i+1]
	end := strings.Index(l.src[i+1:], tag)
	if end < 0 {
		return true, ErrUnterminatedString
	}
	l.pos = i + 1 + end + len(tag)
	l.emit(TokenString, l.src[start:l.pos], start)
	return true, nil
}

func isStringPrefix(word string, dialect models.Dialect) bool {
	switch dialect {
	case models.DialectBigQuery:
		switch strings.ToLower(word) {
		case "r", "b", "rb", "br":
			return true
		}
	case models.DialectPostgres:
		return strings.EqualFold(word, "e")
	case models.DialectSQLServer:
		return strings.EqualFold(word, "n")
	}
	return false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isWordPart allows '$' inside identifiers, which Postgres accepts.
func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}
