package invoke

import (
	"strconv"
	"strings"

	"github.com/jbweber/vmtools/internal/validate"
)

// literal is unexported so that only untyped string constants convert to it.
// A string variable holding user input does not compile as a literal.
type literal string

type argKind int

const (
	argLiteral argKind = iota
	argName
	argPath
	argURI
	argNumber
)

// Arg is one process argument. The zero value is invalid and never produced
// by a constructor.
type Arg struct {
	s    string
	kind argKind
}

func (a Arg) String() string {
	return a.s
}

// Literal is a flag or subcommand written in the program text.
func Literal(s literal) Arg {
	return Arg{s: string(s), kind: argLiteral}
}

// NameArg passes a validated identifier.
func NameArg(n validate.Name) Arg {
	return Arg{s: n.String(), kind: argName}
}

// PathArg passes a validated path.
func PathArg(p validate.Path) Arg {
	return Arg{s: p.String(), kind: argPath}
}

// URIArg passes a validated connection URI.
func URIArg(u validate.URI) Arg {
	return Arg{s: u.String(), kind: argURI}
}

// Uint passes a decimal number.
func Uint(n uint64) Arg {
	return Arg{s: strconv.FormatUint(n, 10), kind: argNumber}
}

// Size passes a number with a unit suffix, as in "20G".
func Size(n uint64, unit literal) Arg {
	return Arg{s: strconv.FormatUint(n, 10) + string(unit), kind: argNumber}
}

// Command is a tool and its arguments. Tool is the executable name or path
// from configuration.
type Command struct {
	Tool string
	Args []Arg
}

// Argv returns the arguments as strings.
func (c Command) Argv() []string {
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = a.s
	}
	return out
}

// Verb is the first literal argument that is not a flag, such as "dominfo".
func (c Command) Verb() string {
	for _, a := range c.Args {
		if a.kind == argLiteral && !strings.HasPrefix(a.s, "-") {
			return a.s
		}
	}
	return ""
}

// ToolName is the base name of Tool.
func (c Command) ToolName() string {
	if i := strings.LastIndexByte(c.Tool, '/'); i >= 0 {
		return c.Tool[i+1:]
	}
	return c.Tool
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Tool}, c.Argv()...), " ")
}
