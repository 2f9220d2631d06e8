package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type RunFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
	// NonBlocking returns once the backend is ready; used by tests.
	NonBlocking bool
}

type ProbeFlags struct {
	Port int
}

type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}
