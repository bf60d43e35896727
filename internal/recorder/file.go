package recorder

import (
	"context"
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

// FileWriter refuses to replace an existing file unless Overwrite is set.
type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

// FileSink writes each record as <Dir>/<id>.json.
type FileSink struct {
	Dir        string
	Serializer Serializer
	Writer     Writer
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{
		Dir:        dir,
		Serializer: JSONSerializer{Indent: "    "},
		Writer:     FileWriter{},
	}
}

func (s *FileSink) Name() string { return "file" }

// Path is the file a record is written to.
func (s *FileSink) Path(r Record) string {
	return filepath.Join(s.Dir, r.ID.String()+".json")
}

func (s *FileSink) Record(_ context.Context, r Record) error {
	data, err := s.Serializer.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}
	if err := s.Writer.Write(s.Path(r), data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

func (s *FileSink) Close(context.Context) error { return nil }
