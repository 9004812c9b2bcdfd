package parser

import (
	"fmt"
	"strings"
)

// TokenType is the kind of a lexical token.
type TokenType int

// Token types of the shell language.
const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenWord
	TokenPipe        // |
	TokenAnd         // &&
	TokenOr          // ||
	TokenBackground  // &
	TokenSemicolon   // ;
	TokenRedirectIn  // <
	TokenRedirectOut // >
	TokenAppend      // >>
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of input"
	case TokenNewline:
		return "newline"
	case TokenWord:
		return "word"
	case TokenPipe:
		return "|"
	case TokenAnd:
		return "&&"
	case TokenOr:
		return "||"
	case TokenBackground:
		return "&"
	case TokenSemicolon:
		return ";"
	case TokenRedirectIn:
		return "<"
	case TokenRedirectOut:
		return ">"
	case TokenAppend:
		return ">>"
	default:
		return "unknown"
	}
}

// Token is one lexical token. Text of a word has its quotes removed.
type Token struct {
	Type TokenType
	Text string
	Pos  int
}

// Lexer splits shell input into tokens.
type Lexer struct {
	input string
	pos   int
}

// NewLexer returns a lexer over input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

var operators = []struct {
	text string
	typ  TokenType
}{
	// Longest first.
	{">>", TokenAppend},
	{"&&", TokenAnd},
	{"||", TokenOr},
	{"|", TokenPipe},
	{"&", TokenBackground},
	{";", TokenSemicolon},
	{"<", TokenRedirectIn},
	{">", TokenRedirectOut},
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' || c == '\r' }

func isMeta(c byte) bool { return strings.IndexByte("|&;<>\n", c) >= 0 || isBlank(c) }

// Next returns the next token. A comment runs from a # at the start of a
// word to the end of the line.
func (l *Lexer) Next() (Token, error) {
	for l.pos < len(l.input) && isBlank(l.input[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.input) && l.input[l.pos] == '#' {
		for l.pos < len(l.input) && l.input[l.pos] != '\n' {
			l.pos++
		}
	}
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	if l.input[l.pos] == '\n' {
		l.pos++
		return Token{Type: TokenNewline, Pos: start}, nil
	}
	for _, op := range operators {
		if strings.HasPrefix(l.input[l.pos:], op.text) {
			l.pos += len(op.text)
			return Token{Type: op.typ, Text: op.text, Pos: start}, nil
		}
	}
	return l.word(start)
}

// word scans a word, joining quoted and unquoted parts: a'b c'"d" is the
// single word "ab cd". Backslash escapes the next character outside single
// quotes.
func (l *Lexer) word(start int) (Token, error) {
	var sb strings.Builder
	for l.pos < len(l.input) && !isMeta(l.input[l.pos]) {
		switch c := l.input[l.pos]; c {
		case '\'':
			end := strings.IndexByte(l.input[l.pos+1:], '\'')
			if end < 0 {
				return Token{}, fmt.Errorf("unterminated ' at %d", l.pos)
			}
			sb.WriteString(l.input[l.pos+1 : l.pos+1+end])
			l.pos += end + 2
		case '"':
			l.pos++
			for {
				if l.pos >= len(l.input) {
					return Token{}, fmt.Errorf("unterminated \" at %d", start)
				}
				c := l.input[l.pos]
				if c == '"' {
					l.pos++
					break
				}
				if c == '\\' && l.pos+1 < len(l.input) && strings.IndexByte(`"\`, l.input[l.pos+1]) >= 0 {
					l.pos++
					c = l.input[l.pos]
				}
				sb.WriteByte(c)
				l.pos++
			}
		case '\\':
			if l.pos+1 < len(l.input) {
				l.pos++
				sb.WriteByte(l.input[l.pos])
			}
			l.pos++
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return Token{Type: TokenWord, Text: sb.String(), Pos: start}, nil
}

// Tokens returns every token up to and including TokenEOF.
func (l *Lexer) Tokens() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}
