// Package recorder persists run reports to pluggable destinations.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

// FileWriter writes report files, creating parent directories as needed.
type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); err == nil && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// WriteReport persists a run report through the provided Serializer and Writer.
func WriteReport(report any, filename string, serializer Serializer, writer Writer) error {
	if serializer == nil || writer == nil {
		return fmt.Errorf("serializer and writer must not be nil")
	}
	data, err := serializer.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to serialize report: %w", err)
	}
	if err := writer.Write(filename, data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// WriteReportFile persists a report as indented JSON with default settings.
func WriteReportFile(report any, filename string) error {
	return WriteReport(report, filename, JSONSerializer{Indent: "    "}, FileWriter{Overwrite: true})
}
