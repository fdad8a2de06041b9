// Package structure renders the file layout description and output filename
// sent to the file writer with each start command.
package structure

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"text/template"
	"time"
)

// Metadata describes the dataset a file is written for.
type Metadata map[string]any

// Provider renders the structure description for a new file.
type Provider interface {
	Structure(meta Metadata, startTime time.Time) (string, error)
}

// Namer chooses the output filename for a new file.
type Namer interface {
	Filename(meta Metadata, counter int) (string, error)
}

// Noop renders an empty structure. Used when no template is configured.
type Noop struct{}

func (Noop) Structure(Metadata, time.Time) (string, error) { return "{}", nil }

// templateData is what templates see.
type templateData struct {
	Meta      Metadata
	Proposal  string
	Counter   int
	StartTime time.Time
}

func newData(meta Metadata, counter int, start time.Time) templateData {
	proposal, _ := meta["proposal"].(string)
	if proposal == "" {
		proposal = "data"
	}
	return templateData{Meta: meta, Proposal: proposal, Counter: counter, StartTime: start}
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}

// Template renders the structure from a text/template whose output must be JSON.
type Template struct {
	tmpl *template.Template
}

// ParseTemplate parses a structure template.
func ParseTemplate(name, text string) (*Template, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse structure template: %w", err)
	}
	return &Template{tmpl: t}, nil
}

// LoadTemplate reads and parses a structure template file.
func LoadTemplate(path string) (*Template, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read structure template: %w", err)
	}
	return ParseTemplate(path, string(b))
}

func (t *Template) Structure(meta Metadata, startTime time.Time) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, newData(meta, 0, startTime)); err != nil {
		return "", fmt.Errorf("render structure: %w", err)
	}
	if !json.Valid(buf.Bytes()) {
		return "", fmt.Errorf("render structure: template %s did not produce valid JSON", t.tmpl.Name())
	}
	return buf.String(), nil
}

// FilenameTemplate renders output filenames.
type FilenameTemplate struct {
	tmpl *template.Template
}

// ParseFilename parses a filename template.
func ParseFilename(text string) (*FilenameTemplate, error) {
	t, err := template.New("filename").Funcs(funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse filename template: %w", err)
	}
	return &FilenameTemplate{tmpl: t}, nil
}

func (f *FilenameTemplate) Filename(meta Metadata, counter int) (string, error) {
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, newData(meta, counter, time.Time{})); err != nil {
		return "", fmt.Errorf("render filename: %w", err)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("render filename: empty result")
	}
	return buf.String(), nil
}

var (
	_ Provider = Noop{}
	_ Provider = (*Template)(nil)
	_ Namer    = (*FilenameTemplate)(nil)
)
