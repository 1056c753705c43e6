// Package logging configures the process-wide go-logging backend and adapts
// it for gRPC's internal logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/op/go-logging"
	"google.golang.org/grpc/grpclog"
)

var (
	plainFormat = logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module} ▶ %{message}`,
	)
	colorFormat = logging.MustStringFormatter(
		`%{color}%{time:15:04:05.000} %{level:.4s} %{module} ▶%{color:reset} %{message}`,
	)
)

// DefaultLevel is the level of every module until Setup is called, so that
// importing packages stay quiet on stderr.
const DefaultLevel = logging.WARNING

func init() {
	logging.SetLevel(DefaultLevel, "")
}

// MustGetLogger returns the module logger for module.
func MustGetLogger(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}

// Setup installs a single formatted backend writing to w for every module
// logger and sets the level of all modules. Colour escapes are used only when
// color is set.
func Setup(level string, w io.Writer, color bool) (logging.LeveledBackend, error) {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q", level)
	}
	format := plainFormat
	if color {
		format = colorFormat
	}
	backend := logging.NewBackendFormatter(logging.NewLogBackend(w, "", 0), format)
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
	return leveled, nil
}

// GRPCLogger routes gRPC's own diagnostics to the "grpc" module logger.
// gRPC info messages are logged at DEBUG, since they are connection chatter.
type GRPCLogger struct {
	log       *logging.Logger
	verbosity int
}

var _ grpclog.LoggerV2 = (*GRPCLogger)(nil)

// NewGRPCLogger returns an adapter reporting verbosity to gRPC's V checks.
func NewGRPCLogger(verbosity int) *GRPCLogger {
	l := logging.MustGetLogger("grpc")
	l.ExtraCalldepth = 1
	return &GRPCLogger{log: l, verbosity: verbosity}
}

// InstallGRPCLogger makes g the logger used by the gRPC library. It must be
// called before any gRPC function is used.
func InstallGRPCLogger(g *GRPCLogger) { grpclog.SetLoggerV2(g) }

func (g *GRPCLogger) Info(args ...any)                    { g.log.Debug(fmt.Sprint(args...)) }
func (g *GRPCLogger) Infoln(args ...any)                  { g.log.Debug(sprintln(args...)) }
func (g *GRPCLogger) Infof(format string, args ...any)    { g.log.Debugf(format, args...) }
func (g *GRPCLogger) Warning(args ...any)                 { g.log.Warning(fmt.Sprint(args...)) }
func (g *GRPCLogger) Warningln(args ...any)               { g.log.Warning(sprintln(args...)) }
func (g *GRPCLogger) Warningf(format string, args ...any) { g.log.Warningf(format, args...) }
func (g *GRPCLogger) Error(args ...any)                   { g.log.Error(fmt.Sprint(args...)) }
func (g *GRPCLogger) Errorln(args ...any)                 { g.log.Error(sprintln(args...)) }
func (g *GRPCLogger) Errorf(format string, args ...any)   { g.log.Errorf(format, args...) }

func (g *GRPCLogger) Fatal(args ...any) {
	g.log.Critical(fmt.Sprint(args...))
	os.Exit(1)
}

func (g *GRPCLogger) Fatalln(args ...any) {
	g.log.Critical(sprintln(args...))
	os.Exit(1)
}

func (g *GRPCLogger) Fatalf(format string, args ...any) {
	g.log.Criticalf(format, args...)
	os.Exit(1)
}

// V reports whether verbosity level l is enabled.
func (g *GRPCLogger) V(l int) bool { return l <= g.verbosity }

// sprintln is fmt.Sprintln without the trailing newline.
func sprintln(args ...any) string {
	s := fmt.Sprintln(args...)
	return s[:len(s)-1]
}
