package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/andrej220/storops/internal/errs"
)

// Escape selects how substituted values are made safe for the shell.
type Escape string

const (
	// EscapeStrict single-quotes any value containing shell metacharacters.
	EscapeStrict Escape = "strict"
	// EscapeNone substitutes values verbatim.
	EscapeNone Escape = "none"
)

func ParseEscape(s string) (Escape, error) {
	switch Escape(s) {
	case "", EscapeStrict:
		return EscapeStrict, nil
	case EscapeNone:
		return EscapeNone, nil
	}
	return "", fmt.Errorf("unknown escape mode %q (want strict or none)", s)
}

// CheckArguments rejects unknown keys and missing required parameters.
// Offending names are reported in sorted order so the first error is
// stable across runs.
func CheckArguments(w *Workflow, args map[string]string) error {
	unknown := make([]string, 0)
	for name := range args {
		if _, ok := w.Param(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &errs.ParameterError{Param: unknown[0], Reason: "unknown parameter"}
	}
	for _, p := range w.Params {
		if _, ok := args[p.Name]; p.Required && !ok {
			return &errs.ParameterError{Param: p.Name, Reason: "missing required parameter"}
		}
	}
	return nil
}

// Bind returns the final command sequence. Each placeholder is replaced in
// one pass over the template, so a value that itself looks like a
// placeholder is never expanded again. Optional parameters that were not
// supplied bind to the empty string, quoted as an empty word under strict
// escaping.
func Bind(w *Workflow, args map[string]string, mode Escape) ([]string, error) {
	if err := CheckArguments(w, args); err != nil {
		return nil, err
	}

	params := append([]Param(nil), w.Params...)
	// Longer names first so $dir never matches inside $dir_name.
	sort.SliceStable(params, func(i, j int) bool {
		if len(params[i].Name) != len(params[j].Name) {
			return len(params[i].Name) > len(params[j].Name)
		}
		return params[i].Name < params[j].Name
	})

	pairs := make([]string, 0, 2*len(params))
	for _, p := range params {
		pairs = append(pairs, Sigil+p.Name, quote(args[p.Name], mode))
	}
	replacer := strings.NewReplacer(pairs...)

	commands := make([]string, len(w.Commands))
	for i, tmpl := range w.Commands {
		commands[i] = replacer.Replace(tmpl)
	}
	return commands, nil
}

func quote(value string, mode Escape) string {
	if mode == EscapeNone {
		return value
	}
	return shellescape.Quote(value)
}
