/*
Package parser reads the command language of the built-in shell:

  - simple commands with arguments, quoted with '' or ""
  - pipelines joined by |
  - redirections <, > and >>
  - lists separated by ;, &, && and || or newlines
  - # comments
*/
package parser

import (
	"strings"

	"github.com/djmitche/shquote"
)

// List is a sequence of pipelines.
type List struct {
	Pipelines []*Pipeline
}

func (n *List) String() string {
	var sb strings.Builder
	for i, p := range n.Pipelines {
		sb.WriteString(p.String())
		switch {
		case p.Background:
			sb.WriteString(" &")
		case p.And:
			sb.WriteString(" &&")
		case p.Or:
			sb.WriteString(" ||")
		case i < len(n.Pipelines)-1:
			sb.WriteString(";")
		}
		if i < len(n.Pipelines)-1 {
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

// Pipeline is one or more commands joined by pipes. And and Or make the
// next pipeline run only when this one succeeded or failed.
type Pipeline struct {
	Commands   []*Command
	And        bool
	Or         bool
	Background bool
}

func (n *Pipeline) String() string {
	parts := make([]string, len(n.Commands))
	for i, c := range n.Commands {
		parts[i] = c.String()
	}
	return strings.Join(parts, " | ")
}

// Command is a program with its arguments and redirections.
type Command struct {
	Name         string
	Args         []string
	Redirections []*Redirect
}

// Argv returns the name followed by the arguments.
func (n *Command) Argv() []string {
	return append([]string{n.Name}, n.Args...)
}

func (n *Command) String() string {
	s := shquote.QuoteList(n.Argv())
	for _, r := range n.Redirections {
		s += " " + r.String()
	}
	return s
}

// RedirectType is the kind of a redirection.
type RedirectType int

const (
	RedirInput RedirectType = iota
	RedirOutput
	RedirAppend
)

// Redirect replaces standard input or output with a file.
type Redirect struct {
	Type RedirectType
	File string
}

func (n *Redirect) String() string {
	op := "<"
	switch n.Type {
	case RedirOutput:
		op = ">"
	case RedirAppend:
		op = ">>"
	}
	return op + " " + shquote.Quote(n.File)
}
