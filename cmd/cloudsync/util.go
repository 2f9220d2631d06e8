package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/loykin/cloudsync"
	"github.com/loykin/cloudsync/pkg/client"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// apiURL derives the control API URL from control.listen, falling back
// to the client default when the API is not configured.
func apiURL(cfg *cloudsync.Config) string {
	if cfg == nil || cfg.Control.Listen == "" {
		return client.DefaultBaseURL
	}
	host, port, err := net.SplitHostPort(cfg.Control.Listen)
	if err != nil {
		return client.DefaultBaseURL
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + strings.TrimRight(cfg.Control.BasePath, "/")
}
