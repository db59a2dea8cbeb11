//go:build !windows && !plan9

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/syslog"
	"strings"
)

var facilities = map[string]syslog.Priority{
	"":         syslog.LOG_AUTH,
	"auth":     syslog.LOG_AUTH,
	"authpriv": syslog.LOG_AUTHPRIV,
	"daemon":   syslog.LOG_DAEMON,
	"user":     syslog.LOG_USER,
	"local0":   syslog.LOG_LOCAL0,
	"local1":   syslog.LOG_LOCAL1,
	"local2":   syslog.LOG_LOCAL2,
	"local3":   syslog.LOG_LOCAL3,
	"local4":   syslog.LOG_LOCAL4,
	"local5":   syslog.LOG_LOCAL5,
	"local6":   syslog.LOG_LOCAL6,
	"local7":   syslog.LOG_LOCAL7,
}

// SyslogShipper writes one JSON line per entry to a syslog daemon
type SyslogShipper struct {
	w *syslog.Writer
}

// NewSyslogShipper dials the configured syslog server. An empty network dials the
// local daemon.
func NewSyslogShipper(cfg *SyslogConfig) (*SyslogShipper, error) {
	facility, ok := facilities[strings.ToLower(cfg.Facility)]
	if !ok {
		return nil, fmt.Errorf("unknown syslog facility: %s", cfg.Facility)
	}
	tag := cfg.Tag
	if tag == "" {
		tag = "license-console"
	}
	w, err := syslog.Dial(cfg.Network, cfg.Address, facility|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to dial syslog: %w", err)
	}
	return &SyslogShipper{w: w}, nil
}

// Ship writes an entry at info severity
func (s *SyslogShipper) Ship(_ context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return s.w.Info(string(data))
}

// Close closes the syslog connection
func (s *SyslogShipper) Close() error {
	return s.w.Close()
}
