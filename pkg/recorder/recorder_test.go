package recorder

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSerializer struct {
	data []byte
	err  error
}

func (m mockSerializer) Marshal(any) ([]byte, error) { return m.data, m.err }

type mockWriter struct {
	filename string
	data     []byte
	err      error
}

func (m *mockWriter) Write(filename string, data []byte) error {
	m.filename = filename
	m.data = data
	return m.err
}

func TestWriteReport(t *testing.T) {
	tests := []struct {
		name       string
		serializer Serializer
		writer     Writer
		wantErr    string
	}{
		{
			name:       "success",
			serializer: mockSerializer{data: []byte(`{"ok":true}`)},
			writer:     &mockWriter{},
		},
		{
			name:    "nil serializer",
			writer:  &mockWriter{},
			wantErr: "must not be nil",
		},
		{
			name:       "nil writer",
			serializer: mockSerializer{},
			wantErr:    "must not be nil",
		},
		{
			name:       "serializer failure",
			serializer: mockSerializer{err: errors.New("boom")},
			writer:     &mockWriter{},
			wantErr:    "failed to serialize report",
		},
		{
			name:       "writer failure",
			serializer: mockSerializer{data: []byte("{}")},
			writer:     &mockWriter{err: errors.New("disk full")},
			wantErr:    "failed to write report",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WriteReport(struct{}{}, "out.json", tt.serializer, tt.writer)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			w := tt.writer.(*mockWriter)
			assert.Equal(t, "out.json", w.filename)
			assert.Equal(t, []byte(`{"ok":true}`), w.data)
		})
	}
}

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()

	t.Run("creates parent directories", func(t *testing.T) {
		path := filepath.Join(dir, "nested", "deep", "report.json")
		require.NoError(t, FileWriter{}.Write(path, []byte("data")))
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte("data"), got)
	})

	t.Run("refuses overwrite by default", func(t *testing.T) {
		path := filepath.Join(dir, "once.json")
		require.NoError(t, FileWriter{}.Write(path, []byte("first")))
		err := FileWriter{}.Write(path, []byte("second"))
		assert.ErrorIs(t, err, os.ErrExist)
	})

	t.Run("overwrites when asked", func(t *testing.T) {
		path := filepath.Join(dir, "twice.json")
		require.NoError(t, FileWriter{Overwrite: true}.Write(path, []byte("first")))
		require.NoError(t, FileWriter{Overwrite: true}.Write(path, []byte("second")))
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), got)
	})

	t.Run("empty filename", func(t *testing.T) {
		assert.ErrorIs(t, FileWriter{}.Write("", []byte("x")), os.ErrInvalid)
	})
}

func TestWriteReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	report := map[string]any{"play": "site", "ok": 2}

	require.NoError(t, WriteReportFile(report, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "site", got["play"])
	assert.Equal(t, float64(2), got["ok"])
}
