package parser

import (
	"fmt"
)

// Parser is a recursive descent parser over a Lexer.
type Parser struct {
	lexer *Lexer
	tok   Token
}

// NewParser returns a parser for input.
func NewParser(input string) *Parser {
	return &Parser{lexer: NewLexer(input)}
}

// ParseString parses input into a list.
func ParseString(input string) (*List, error) {
	return NewParser(input).Parse()
}

// Parse parses the whole input. Blank input gives an empty list.
func (p *Parser) Parse() (*List, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	list := &List{}
	for {
		for p.tok.Type == TokenNewline || p.tok.Type == TokenSemicolon && len(list.Pipelines) == 0 {
			if p.tok.Type == TokenSemicolon {
				return nil, p.unexpected()
			}
			if err := p.next(); err != nil {
				return nil, err
			}
		}
		if p.tok.Type == TokenEOF {
			return list, nil
		}

		pipeline, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		list.Pipelines = append(list.Pipelines, pipeline)

		switch p.tok.Type {
		case TokenEOF:
			return list, nil
		case TokenNewline, TokenSemicolon:
		case TokenBackground:
			pipeline.Background = true
		case TokenAnd:
			pipeline.And = true
		case TokenOr:
			pipeline.Or = true
		default:
			return nil, p.unexpected()
		}
		op := p.tok.Type
		if err := p.next(); err != nil {
			return nil, err
		}
		if op == TokenAnd || op == TokenOr {
			// The right-hand side may start on the next line.
			for p.tok.Type == TokenNewline {
				if err := p.next(); err != nil {
					return nil, err
				}
			}
			if p.tok.Type == TokenEOF {
				return nil, p.unexpected()
			}
		}
	}
}

func (p *Parser) next() error {
	tok, err := p.lexer.Next()
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	p.tok = tok
	return nil
}

func (p *Parser) unexpected() error {
	return fmt.Errorf("syntax error near %s at %d", p.tok.Type, p.tok.Pos)
}

func (p *Parser) parsePipeline() (*Pipeline, error) {
	pipeline := &Pipeline{}
	for {
		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		pipeline.Commands = append(pipeline.Commands, cmd)
		if p.tok.Type != TokenPipe {
			return pipeline, nil
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
}

// parseCommand reads words and redirections in any order. The first word
// is the command name.
func (p *Parser) parseCommand() (*Command, error) {
	cmd := &Command{}
	named := false
	for {
		switch p.tok.Type {
		case TokenWord:
			if named {
				cmd.Args = append(cmd.Args, p.tok.Text)
			} else {
				cmd.Name, named = p.tok.Text, true
			}
			if err := p.next(); err != nil {
				return nil, err
			}
		case TokenRedirectIn, TokenRedirectOut, TokenAppend:
			r, err := p.parseRedirection()
			if err != nil {
				return nil, err
			}
			cmd.Redirections = append(cmd.Redirections, r)
		default:
			if !named {
				return nil, p.unexpected()
			}
			return cmd, nil
		}
	}
}

func (p *Parser) parseRedirection() (*Redirect, error) {
	r := &Redirect{}
	switch p.tok.Type {
	case TokenRedirectIn:
		r.Type = RedirInput
	case TokenRedirectOut:
		r.Type = RedirOutput
	case TokenAppend:
		r.Type = RedirAppend
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.Type != TokenWord {
		return nil, p.unexpected()
	}
	r.File = p.tok.Text
	return r, p.next()
}
