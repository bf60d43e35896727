package workflow

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/andrej220/storops/internal/errs"
)

// Sigil prefixes a parameter name to form its placeholder token.
const Sigil = "$"

var (
	identifierRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	placeholderRe = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("identifier", validateIdentifier)
	_ = validate.RegisterValidation("abspath", validateAbsPath)
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierRe.MatchString(fl.Field().String())
}

func validateAbsPath(fl validator.FieldLevel) bool {
	return path.IsAbs(fl.Field().String())
}

// Placeholders returns the distinct parameter names referenced by tmpl.
// Shell variables written as ${VAR} are not placeholders.
func Placeholders(tmpl string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Validate checks a definition: struct rules first, then that every
// placeholder in the command templates is a declared parameter.
func Validate(w *Workflow) error {
	if err := validate.Struct(w); err != nil {
		return &errs.DefinitionError{Workflow: w.Name, Reason: describe(err)}
	}

	var undeclared []string
	for _, cmd := range w.Commands {
		for _, name := range Placeholders(cmd) {
			if _, ok := w.Param(name); !ok {
				undeclared = append(undeclared, Sigil+name)
			}
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return &errs.DefinitionError{
			Workflow: w.Name,
			Reason:   "undeclared placeholder " + strings.Join(undeclared, ", "),
		}
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Workflow.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s fails %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
