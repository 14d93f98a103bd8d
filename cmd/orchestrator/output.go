package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// printResult renders v as JSON (when format=="json") or hands off to
// render for a human-readable rendering, matching cmd/ao's output-format
// switch convention.
func printResult(w io.Writer, format string, v any, render func(io.Writer, any)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	render(w, v)
	return nil
}

func printErr(w io.Writer, format string, err error) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(map[string]string{"error": err.Error()}); encErr != nil {
			return encErr
		}
		return err
	}
	if _, ferr := fmt.Fprintf(w, "error: %s\n", err.Error()); ferr != nil {
		return ferr
	}
	return err
}
