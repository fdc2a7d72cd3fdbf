// Package config holds the runtime controls for the schedulerd daemon
// (spec.md §6.3): command-line/flag-bound options governing the remote
// manager's boot behavior.
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Defaults for the remote manager's runtime controls (spec.md §6.3).
const (
	DefaultRemoteManagerPort            = 30103
	DefaultRemoteManagerSocketTimeoutMs = 5000
)

// Runtime holds the scheduler daemon's runtime controls (spec.md §6.3).
type Runtime struct {
	StartRemoteManagerOnBoot    bool
	AutoHandover                bool
	RemoteManagerPort           int
	RemoteManagerSocketTimeoutMs int
	CommandFiles                []string
	Verbose                     bool
	MetricsAddr                 string
}

// SocketTimeout returns RemoteManagerSocketTimeoutMs as a time.Duration.
func (r Runtime) SocketTimeout() time.Duration {
	return time.Duration(r.RemoteManagerSocketTimeoutMs) * time.Millisecond
}

// BindFlags registers every runtime control on fs, matching the
// teacher's flag-per-setting convention (client/doublezerod/cmd/doublezerod/main.go).
func (r *Runtime) BindFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&r.StartRemoteManagerOnBoot, "start-remote-mgr-on-boot", true, "start the remote manager immediately on daemon boot")
	fs.BoolVar(&r.AutoHandover, "auto-handover", true, "on port conflict, request handover from the occupying process instead of failing")
	fs.IntVar(&r.RemoteManagerPort, "remote-mgr-port", DefaultRemoteManagerPort, "TCP port the remote manager binds")
	fs.IntVar(&r.RemoteManagerSocketTimeoutMs, "remote-mgr-socket-timeout-ms", DefaultRemoteManagerSocketTimeoutMs, "remote manager accept timeout in milliseconds (session reads have no timeout)")
	fs.StringSliceVar(&r.CommandFiles, "command-file", nil, "path to a command file to watch (repeatable)")
	fs.BoolVarP(&r.Verbose, "verbose", "v", false, "enable debug logging")
	fs.StringVar(&r.MetricsAddr, "metrics-addr", "localhost:9103", "address to serve Prometheus metrics on")
}
