// Package userscript describes the scripts injected into intercepted HTML documents
// and loads them from configuration.
package userscript

import (
	"encoding/json"
	"strings"
)

// InjectionTime tells a consuming runtime when a script is meant to run.
// The injector itself places every script in <head> regardless of this value.
type InjectionTime int

const (
	DocumentStart InjectionTime = iota
	DocumentEnd
)

// ParseInjectionTime maps configuration text to an InjectionTime.
// Only "end" (any case, surrounding space ignored) selects DocumentEnd.
func ParseInjectionTime(s string) InjectionTime {
	if strings.EqualFold(strings.TrimSpace(s), "end") {
		return DocumentEnd
	}
	return DocumentStart
}

// String returns the configuration spelling of t.
func (t InjectionTime) String() string {
	if t == DocumentEnd {
		return "end"
	}
	return "start"
}

// Script is one configured user script. The zero value is an empty
// DocumentStart script that runs in every frame.
type Script struct {
	source        string
	injectionTime InjectionTime
	mainFrameOnly bool
}

// New creates a Script.
func New(source string, injectionTime InjectionTime, mainFrameOnly bool) Script {
	return Script{
		source:        source,
		injectionTime: injectionTime,
		mainFrameOnly: mainFrameOnly,
	}
}

// Source returns the script text.
func (s Script) Source() string { return s.source }

// InjectionTime returns when the script should run.
func (s Script) InjectionTime() InjectionTime { return s.injectionTime }

// MainFrameOnly reports whether the script is restricted to top-level documents.
func (s Script) MainFrameOnly() bool { return s.mainFrameOnly }

// Record returns the configuration form of s.
func (s Script) Record() Record {
	mainFrameOnly := s.mainFrameOnly
	return Record{
		Source:        s.source,
		InjectionTime: s.injectionTime.String(),
		MainFrameOnly: &mainFrameOnly,
	}
}

// MarshalJSON encodes the script as its Record.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Record())
}

// Record is the configuration input for a script, as found in the scripts
// file or an API request.
type Record struct {
	Source        string `yaml:"source" json:"source"`
	InjectionTime string `yaml:"injectionTime,omitempty" json:"injectionTime,omitempty"`
	MainFrameOnly *bool  `yaml:"mainFrameOnly,omitempty" json:"mainFrameOnly,omitempty"`
}

// FromRecord builds a Script, applying defaults for absent fields.
func FromRecord(r Record) Script {
	mainFrameOnly := false
	if r.MainFrameOnly != nil {
		mainFrameOnly = *r.MainFrameOnly
	}
	return New(r.Source, ParseInjectionTime(r.InjectionTime), mainFrameOnly)
}

// FromRecords builds scripts in record order.
func FromRecords(records []Record) []Script {
	scripts := make([]Script, 0, len(records))
	for _, r := range records {
		scripts = append(scripts, FromRecord(r))
	}
	return scripts
}

// ForFrame returns the scripts eligible for a document, preserving order.
// Main-frame-only scripts are dropped for nested frames.
func ForFrame(scripts []Script, mainFrame bool) []Script {
	if mainFrame {
		return scripts
	}
	out := make([]Script, 0, len(scripts))
	for _, s := range scripts {
		if !s.mainFrameOnly {
			out = append(out, s)
		}
	}
	return out
}
