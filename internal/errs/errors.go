// Package errs holds the error taxonomy shared by every storops layer.
// Each typed error names the offending item and matches its sentinel
// through errors.Is, so callers can branch on the kind without parsing text.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrUnknownWorkflow     = errors.New("unknown workflow")
	ErrRequirement         = errors.New("requirement not met")
	ErrParameter           = errors.New("parameter error")
	ErrTransport           = errors.New("transport failure")
	ErrExecution           = errors.New("execution error")
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrDefinition          = errors.New("invalid workflow definition")
	ErrServiceNotInstalled = errors.New("service not installed")
)

// ConfigurationError reports an incomplete or contradictory Configuration.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing %s", ErrConfiguration, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

type UnknownWorkflowError struct {
	Name    string
	Service string
}

func (e *UnknownWorkflowError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("%s: %q", ErrUnknownWorkflow, e.Name)
	}
	return fmt.Sprintf("%s: %q is not registered for %s", ErrUnknownWorkflow, e.Name, e.Service)
}

func (e *UnknownWorkflowError) Unwrap() error { return ErrUnknownWorkflow }

// RequirementError names the requirement axis that failed.
type RequirementError struct {
	Axis   string
	Detail string
}

func (e *RequirementError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", ErrRequirement, e.Axis)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrRequirement, e.Axis, e.Detail)
}

func (e *RequirementError) Unwrap() error { return ErrRequirement }

type ParameterError struct {
	Param  string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrParameter, e.Reason, e.Param)
}

func (e *ParameterError) Unwrap() error { return ErrParameter }

// TransportError means the remote shell could not be reached or refused us.
// It is fatal for the invocation and never retried by the core.
type TransportError struct {
	Node   string
	Stderr string
	Err    error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrTransport, e.Node)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

// ExecutionError is the heuristic fault raised when a session left no
// evidence of running.
type ExecutionError struct {
	Node   string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s on %s: %s", ErrExecution, e.Node, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return ErrExecution }

// RegistryError means registry storage exists but could not be read or parsed.
type RegistryError struct {
	Source string
	Err    error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrRegistryUnavailable, e.Source, e.Err)
}

func (e *RegistryError) Unwrap() []error { return []error{ErrRegistryUnavailable, e.Err} }

type DefinitionError struct {
	Workflow string
	Reason   string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s %q: %s", ErrDefinition, e.Workflow, e.Reason)
}

func (e *DefinitionError) Unwrap() error { return ErrDefinition }

type ServiceNotInstalledError struct {
	Node string
}

func (e *ServiceNotInstalledError) Error() string {
	return fmt.Sprintf("neither cta nor enstore is installed on %s", e.Node)
}

func (e *ServiceNotInstalledError) Unwrap() error { return ErrServiceNotInstalled }

// Kind returns the short name of the taxonomy entry err belongs to.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrUnknownWorkflow):
		return "unknown-workflow"
	case errors.Is(err, ErrRequirement):
		return "requirement"
	case errors.Is(err, ErrParameter):
		return "parameter"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrExecution):
		return "execution"
	case errors.Is(err, ErrRegistryUnavailable):
		return "registry"
	case errors.Is(err, ErrDefinition):
		return "definition"
	case errors.Is(err, ErrServiceNotInstalled):
		return "not-installed"
	default:
		return "internal"
	}
}

// ExitCode maps err onto the process exit status used by the CLI.
func ExitCode(err error) int {
	switch Kind(err) {
	case "":
		return 0
	case "configuration", "not-installed":
		return 2
	case "unknown-workflow":
		return 3
	case "requirement":
		return 4
	case "parameter":
		return 5
	case "transport":
		return 6
	case "execution":
		return 7
	case "registry", "definition":
		return 8
	default:
		return 1
	}
}
