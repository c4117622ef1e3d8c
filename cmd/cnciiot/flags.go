package main

import "time"

// GlobalFlags are persistent flags shared by every command. Empty values
// defer to the config file.
type GlobalFlags struct {
	ConfigPath string
	DSN        string
	LogLevel   string
}

// IngestFlags Flag structs to decouple cobra from logic for testing.
type IngestFlags struct {
	Mode       string
	File       string
	Sleep      time.Duration
	SleepSet   bool
	Port       string
	Baud       int
	Source     string
	NoFinalize bool
	JSON       bool
}

type JobCreateFlags struct {
	Name     string
	Material string
	Notes    string
	Activate bool
	JSON     bool
}

type JobStopFlags struct {
	Status string
	JSON   bool
}

type OutputFlags struct {
	JSON bool
}

type ReportFlags struct {
	Latest bool
	JSON   bool
}

type SummaryFlags struct {
	Date   string
	From   string
	To     string
	Days   int
	Export string
	JSON   bool
}

type CompareFlags struct {
	Export string
	JSON   bool
}

type ExportFlags struct {
	Dir string
}

type ServeFlags struct {
	Listen   string
	BasePath string
	Ingest   bool
	IngestFlags
}

// RemoteFlags select a running daemon's API.
type RemoteFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

type StatusFlags struct {
	RemoteFlags
	JSON bool
}

type PushFlags struct {
	RemoteFlags
	File string
	JSON bool
}
