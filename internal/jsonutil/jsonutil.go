// Package jsonutil provides the small JSON helpers shared by input coercion
// and loop result storage: strict decoding into native values and append-only
// JSONL files.
package jsonutil

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// maxLineBytes caps a single JSONL line on read. Lines larger than this are
// rejected rather than ballooning memory.
const maxLineBytes = 10 * 1024 * 1024 // 10 MB

// Decode parses text as JSON into v. A trailing newline or surrounding
// whitespace is tolerated; anything after the first value is an error.
func Decode(text string, v any) error {
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("jsonutil: trailing data after JSON value")
	}
	return nil
}

// Encode renders v as compact JSON.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("jsonutil: %w", err)
	}
	return string(data), nil
}

// AppendLine marshals v and appends it to path as a single JSONL line. The
// file is opened O_APPEND for every call; within a workflow run only the loop
// advance node writes, so there are no concurrent writers to interleave.
func AppendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsonutil: marshal JSONL record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("jsonutil: open %s: %w", path, err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("jsonutil: append to %s: %w", path, err)
	}
	return f.Close()
}

// ReadLines parses every JSONL line in path into a slice of native values.
// Blank lines are skipped; a malformed line aborts with its 1-based number.
func ReadLines(path string) ([]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jsonutil: open %s: %w", path, err)
	}
	defer f.Close()

	var out []any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return nil, fmt.Errorf("jsonutil: %s line %d: %w", path, lineNo, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("jsonutil: read %s: %w", path, err)
	}
	return out, nil
}
