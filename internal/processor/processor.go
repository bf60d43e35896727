// Package processor parses command session output with configurable
// processor chains.
package processor

import (
	"fmt"
	"strings"
)

const (
	ProcessorTypeTrim      string = "trim"
	ProcessorTypeDropEmpty string = "drop_empty"
	ProcessorTypeKeyValue  string = "key_value"
	ProcessorTypeSqueeze   string = "squeeze"
)

// Processor defines the interface for processing output lines.
type Processor interface {
	// Process applies the processor's logic to the input lines.
	Process([]string) ([]string, error)
	Name() string
}

// ProcessorChain manages a collection of processors and applies them in sequence.
type ProcessorChain struct {
	processors map[string]Processor
}

func NewProcessorChain() *ProcessorChain {
	pc := &ProcessorChain{
		processors: make(map[string]Processor),
	}
	pc.registerDefaults()
	return pc
}

func (pc *ProcessorChain) registerDefaults() {
	pc.Register(&TrimProcessor{})
	pc.Register(&DropEmptyProcessor{})
	pc.Register(&KeyValueProcessor{})
	pc.Register(&SqueezeProcessor{})
}

// Register adds a processor to the chain, replacing one with the same name.
func (pc *ProcessorChain) Register(p Processor) {
	pc.processors[p.Name()] = p
}

// Process applies the named processors to lines in the order given.
func (pc *ProcessorChain) Process(lines []string, processorNames ...string) ([]string, error) {
	for _, name := range processorNames {
		if _, exists := pc.processors[name]; !exists {
			return nil, fmt.Errorf("processor %q not registered", name)
		}
	}
	if len(lines) == 0 {
		return lines, nil
	}
	result := lines
	for _, name := range processorNames {
		var err error
		result, err = pc.processors[name].Process(result)
		if err != nil {
			return nil, fmt.Errorf("%s processor failed: %w", name, err)
		}
		if len(result) == 0 {
			break
		}
	}
	return result, nil
}

// Lines splits raw session output into lines, tolerating CRLF endings.
func Lines(output string) []string {
	output = strings.TrimRight(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if output == "" {
		return nil
	}
	return strings.Split(output, "\n")
}

// TrimProcessor trims whitespace from each line in the input.
type TrimProcessor struct{}

func (p *TrimProcessor) Name() string { return ProcessorTypeTrim }
func (p *TrimProcessor) Process(lines []string) ([]string, error) {
	trimmed := make([]string, len(lines))
	for i, line := range lines {
		trimmed[i] = strings.TrimSpace(line)
	}
	return trimmed, nil
}

type DropEmptyProcessor struct{}

func (p *DropEmptyProcessor) Name() string { return ProcessorTypeDropEmpty }
func (p *DropEmptyProcessor) Process(lines []string) ([]string, error) {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return kept, nil
}

// SqueezeProcessor collapses whitespace runs so lines can be split on a
// single space.
type SqueezeProcessor struct{}

func (p *SqueezeProcessor) Name() string { return ProcessorTypeSqueeze }
func (p *SqueezeProcessor) Process(lines []string) ([]string, error) {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = strings.Join(strings.Fields(line), " ")
	}
	return out, nil
}

// PrefixProcessor keeps only sentinel lines that start with Prefix and
// strips the prefix from them.
type PrefixProcessor struct {
	Label  string
	Prefix string
}

func (p *PrefixProcessor) Name() string { return p.Label }
func (p *PrefixProcessor) Process(lines []string) ([]string, error) {
	if p.Prefix == "" {
		return nil, fmt.Errorf("empty prefix for %q", p.Label)
	}
	var out []string
	for _, line := range lines {
		if rest, ok := strings.CutPrefix(line, p.Prefix); ok {
			out = append(out, rest)
		}
	}
	return out, nil
}

// ParseKeyValue reads "key: value" lines. Lines without a colon are skipped.
func ParseKeyValue(lines []string) (map[string]string, error) {
	kv := make(map[string]string)
	for _, line := range lines {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty key in line: %q", line)
		}
		kv[key] = strings.TrimSpace(value)
	}
	return kv, nil
}

// KeyValueProcessor normalizes "key:value" lines to "key: value" and drops
// everything else.
type KeyValueProcessor struct{}

func (p *KeyValueProcessor) Name() string { return ProcessorTypeKeyValue }

func (p *KeyValueProcessor) Process(lines []string) ([]string, error) {
	var result []string
	for _, line := range lines {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty key in line: %q", line)
		}
		result = append(result, fmt.Sprintf("%s: %s", key, strings.TrimSpace(value)))
	}
	return result, nil
}
