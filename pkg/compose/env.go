package compose

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Env resolves variables used in compose files
type Env map[string]string

// LoadEnv reads <dir>/.env and overlays the process environment on top
func LoadEnv(dir string) (Env, error) {
	env := Env{}

	dotenv := filepath.Join(dir, ".env")
	if _, err := os.Stat(dotenv); err == nil {
		values, err := godotenv.Read(dotenv)
		if err != nil {
			return nil, err
		}
		for k, v := range values {
			env[k] = v
		}
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}

// Interpolate expands $VAR, ${VAR}, the :- - :+ + :? ? modifiers and $$
func (e Env) Interpolate(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, e.lookup)
}

func (e Env) lookup(expr string) string {
	if expr == "$" {
		return "$"
	}
	name := expr
	if i := strings.IndexFunc(expr, func(r rune) bool { return !isNameRune(r) }); i >= 0 {
		name = expr[:i]
	}
	value, set := e[name]
	op := expr[len(name):]

	switch {
	case op == "":
		return value
	case strings.HasPrefix(op, ":-"):
		if value != "" {
			return value
		}
		return op[2:]
	case strings.HasPrefix(op, "-"):
		if set {
			return value
		}
		return op[1:]
	case strings.HasPrefix(op, ":+"):
		if value != "" {
			return op[2:]
		}
		return ""
	case strings.HasPrefix(op, "+"):
		if set {
			return op[1:]
		}
		return ""
	}
	// ${VAR:?err} and ${VAR?err} only differ when unset, which compose reports itself
	return value
}

func isNameRune(r rune) bool {
	return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
