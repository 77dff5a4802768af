// Copyright 2025 Solentlabs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package subscribers

import (
	"fmt"
	"io"
	"sort"

	"github.com/solentlabs/cable-modem-monitor-sub003/pkg/output"
)

// DiagFormatter renders diagnostic events to stderr, gated by the verbosity
// level the user selected with repeated -v flags.
type DiagFormatter struct {
	stderr   io.Writer
	maxLevel output.OutputLevel
}

// NewDiagFormatter creates a DiagFormatter that shows diag events up to and
// including maxLevel.
func NewDiagFormatter(stderr io.Writer, maxLevel output.OutputLevel) *DiagFormatter {
	return &DiagFormatter{
		stderr:   stderr,
		maxLevel: maxLevel,
	}
}

// Name returns the subscriber identifier.
func (s *DiagFormatter) Name() string {
	return "diag-formatter"
}

// ShouldHandle accepts only diagnostic events at or below the configured level.
func (s *DiagFormatter) ShouldHandle(event output.OutputEvent) bool {
	return event.Type == output.EventDiag && event.Level <= s.maxLevel
}

// Handle renders the diagnostic message plus its metadata in key=value form.
func (s *DiagFormatter) Handle(event output.OutputEvent) {
	line := "[diag] " + event.Message
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			line += fmt.Sprintf(" %s=%v", k, event.Metadata[k])
		}
	}
	_, _ = fmt.Fprintln(s.stderr, line)
}
