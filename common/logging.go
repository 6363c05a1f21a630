// Package common provides the centralized logging infrastructure for the
// HiveHub service. It implements output routing that directs error messages
// to stderr while sending other log levels to stdout, enabling proper stream
// separation for containerized and scripted environments.
//
// The logging system is built on logrus for structured logging. All hub
// subsystems log through the global Logger (or entries derived from it via
// WithFields) so that level and format configuration applies uniformly.
//
// Output Routing Strategy:
//
//	Error-level messages are directed to stderr for immediate attention
//	while info, debug, and warning messages go to stdout for general log
//	processing. Orchestration platforms and log aggregators can then apply
//	different handling per stream.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log output to stdout or stderr based on
// the rendered level. It examines each message for the "level=error" marker
// produced by the logrus formatters.
//
// Example:
//
//	logger := logrus.New()
//	logger.SetOutput(&OutputSplitter{})
//	logger.Info("goes to stdout")
//	logger.Error("goes to stderr")
type OutputSplitter struct{}

// Write implements io.Writer. Messages containing "level=error" are written
// to stderr; everything else goes to stdout. Safe for concurrent use since
// it only reads the input and writes to the OS streams.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance for the hub. It is pre-configured
// with the OutputSplitter; services derive structured entries from it with
// WithFields for consistent formatting across subsystems.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
