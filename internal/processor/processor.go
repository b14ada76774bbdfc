// Package processor shapes captured task output through configurable chains
// of named processors before it lands in a result payload.
package processor

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	TypeTrim         string = "trim"
	TypeSplitLines   string = "split_lines"
	TypeKeyValueJSON string = "key_value_json"
)

// Processor transforms a slice of output lines.
type Processor interface {
	Process([]string) ([]string, error)
	Name() string
}

// Chain applies registered processors by name, in the order requested.
type Chain struct {
	processors map[string]Processor
}

func NewChain() *Chain {
	c := &Chain{processors: make(map[string]Processor)}
	c.Register(&TrimProcessor{})
	c.Register(&SplitLinesProcessor{})
	c.Register(&KeyValueJSONProcessor{})
	return c
}

// Register adds a processor to the chain.
func (c *Chain) Register(p Processor) {
	c.processors[p.Name()] = p
}

func (c *Chain) Process(lines []string, names ...string) ([]string, error) {
	for _, name := range names {
		if _, exists := c.processors[name]; !exists {
			return nil, fmt.Errorf("processor %q not registered", name)
		}
	}
	if len(lines) == 0 {
		return lines, nil
	}
	result := lines
	for _, name := range names {
		var err error
		result, err = c.processors[name].Process(result)
		if err != nil {
			return nil, fmt.Errorf("%s processor failed: %w", name, err)
		}
	}
	return result, nil
}

// TrimProcessor trims whitespace from each line.
type TrimProcessor struct{}

func (p *TrimProcessor) Name() string { return TypeTrim }
func (p *TrimProcessor) Process(lines []string) ([]string, error) {
	trimmed := make([]string, len(lines))
	for i, line := range lines {
		trimmed[i] = strings.TrimSpace(line)
	}
	return trimmed, nil
}

// SplitLinesProcessor splits every line into its whitespace-separated fields.
type SplitLinesProcessor struct{}

func (p *SplitLinesProcessor) Name() string { return TypeSplitLines }
func (p *SplitLinesProcessor) Process(lines []string) ([]string, error) {
	result := make([]string, 0, len(lines)*3)
	for _, line := range lines {
		result = append(result, strings.Fields(line)...)
	}
	return result, nil
}

// KeyValueJSONProcessor folds "key: value" lines into a single JSON object line.
type KeyValueJSONProcessor struct{}

func (p *KeyValueJSONProcessor) Name() string { return TypeKeyValueJSON }

func (p *KeyValueJSONProcessor) Process(lines []string) ([]string, error) {
	kv, err := parseKeyValueLines(lines)
	if err != nil {
		return nil, err
	}
	result, err := json.Marshal(kv)
	if err != nil {
		return nil, fmt.Errorf("key_value marshal error: %w", err)
	}
	return []string{string(result)}, nil
}

func parseKeyValueLines(lines []string) (map[string]string, error) {
	kv := make(map[string]string)

	// a single string with embedded newlines counts as multiple lines
	if len(lines) == 1 {
		inputLines := strings.Split(strings.TrimSpace(lines[0]), "\n")
		if len(inputLines) > 1 {
			lines = inputLines
		}
	}

	for _, line := range lines {
		parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			return nil, fmt.Errorf("empty key in line: %q", line)
		}
		kv[key] = value
	}
	return kv, nil
}
