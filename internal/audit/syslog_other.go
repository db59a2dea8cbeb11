//go:build windows || plan9

package audit

import (
	"context"
	"errors"
)

// SyslogShipper is unavailable on this platform
type SyslogShipper struct{}

// NewSyslogShipper always fails on platforms without log/syslog
func NewSyslogShipper(*SyslogConfig) (*SyslogShipper, error) {
	return nil, errors.New("syslog shipper is not supported on this platform")
}

func (*SyslogShipper) Ship(context.Context, *LogEntry) error { return nil }
func (*SyslogShipper) Close() error                          { return nil }
