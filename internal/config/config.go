// Package config loads capture configuration from a JSON file. Fields are
// pointers so a partial file is safe: anything omitted falls back to the
// defaults the Get* accessors supply.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jesseheckman/erobot/internal/serialport"
	"github.com/jesseheckman/erobot/internal/session"
	"github.com/jesseheckman/erobot/internal/stats"
)

// Capture is the root configuration for one capture session. The JSON schema
// doubles as the flag surface of the CLI, so the same names appear in both.
type Capture struct {
	// Serial transport
	Port     *string `json:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`

	// Protocol
	HandshakeToken   *string `json:"handshake_token,omitempty"`
	AckToken         *string `json:"ack_token,omitempty"`
	FormatPrefix     *string `json:"format_prefix,omitempty"`
	StopToken        *string `json:"stop_token,omitempty"`
	HandshakeTimeout *string `json:"handshake_timeout,omitempty"` // duration string like "10s"
	FormatTimeout    *string `json:"format_timeout,omitempty"`    // duration string like "10s"

	// Ingestion
	BufferSize *int    `json:"buffer_size,omitempty"`
	Duration   *string `json:"duration,omitempty"` // capture duration; empty means until STOP

	// Statistics
	TimestampUnit *string `json:"timestamp_unit,omitempty"` // microseconds, milliseconds, seconds

	// Outputs
	DatabasePath *string `json:"database_path,omitempty"`
	CSVPath      *string `json:"csv_path,omitempty"`
	SummaryPath  *string `json:"summary_path,omitempty"`

	// Debug
	Listen *string `json:"listen,omitempty"` // metrics listen address, empty disables
}

const maxConfigFileSize = 1 * 1024 * 1024

// Load reads and validates a Capture config from a JSON file.
func Load(path string) (*Capture, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Capture{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every populated field.
func (c *Capture) Validate() error {
	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}
	if c.BufferSize != nil && *c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", *c.BufferSize)
	}
	for name, field := range map[string]*string{
		"handshake_timeout": c.HandshakeTimeout,
		"format_timeout":    c.FormatTimeout,
		"duration":          c.Duration,
	} {
		if field == nil || *field == "" {
			continue
		}
		d, err := time.ParseDuration(*field)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *field, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.TimestampUnit != nil {
		switch stats.TimestampUnit(*c.TimestampUnit) {
		case stats.Microseconds, stats.Milliseconds, stats.Seconds:
		default:
			return fmt.Errorf("unknown timestamp_unit %q", *c.TimestampUnit)
		}
	}
	return nil
}

// PortOptions assembles the serial options from the config.
func (c *Capture) PortOptions() serialport.Options {
	opts := serialport.Options{}
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// Tokens assembles the protocol tokens, defaulting to the firmware's.
func (c *Capture) Tokens() session.Tokens {
	tokens := session.DefaultTokens()
	if c.HandshakeToken != nil {
		tokens.Handshake = *c.HandshakeToken
	}
	if c.AckToken != nil {
		tokens.Ack = *c.AckToken
	}
	if c.FormatPrefix != nil {
		tokens.FormatPrefix = *c.FormatPrefix
	}
	if c.StopToken != nil {
		tokens.Stop = *c.StopToken
	}
	return tokens
}

// GetPort returns the configured port path; empty means discover a USB port.
func (c *Capture) GetPort() string {
	if c.Port != nil {
		return *c.Port
	}
	return ""
}

// GetBufferSize returns the ingestion buffer capacity.
func (c *Capture) GetBufferSize() int {
	if c.BufferSize != nil {
		return *c.BufferSize
	}
	return 100
}

// GetHandshakeTimeout returns the handshake deadline.
func (c *Capture) GetHandshakeTimeout() time.Duration {
	return c.duration(c.HandshakeTimeout, 10*time.Second)
}

// GetFormatTimeout returns the format announcement deadline.
func (c *Capture) GetFormatTimeout() time.Duration {
	return c.duration(c.FormatTimeout, 10*time.Second)
}

// GetDuration returns the capture duration; 0 means capture until the stop
// token arrives.
func (c *Capture) GetDuration() time.Duration {
	return c.duration(c.Duration, 0)
}

// GetTimestampUnit returns the unit of the device's timestamp column.
func (c *Capture) GetTimestampUnit() stats.TimestampUnit {
	if c.TimestampUnit != nil {
		return stats.TimestampUnit(*c.TimestampUnit)
	}
	return stats.Microseconds
}

// GetDatabasePath returns the SQLite path; empty selects the CSV store.
func (c *Capture) GetDatabasePath() string {
	if c.DatabasePath != nil {
		return *c.DatabasePath
	}
	return ""
}

// GetCSVPath returns the CSV output path.
func (c *Capture) GetCSVPath() string {
	if c.CSVPath != nil {
		return *c.CSVPath
	}
	return "data.csv"
}

// GetSummaryPath returns the summary JSON path.
func (c *Capture) GetSummaryPath() string {
	if c.SummaryPath != nil {
		return *c.SummaryPath
	}
	return "log.json"
}

// GetListen returns the metrics listen address; empty disables the listener.
func (c *Capture) GetListen() string {
	if c.Listen != nil {
		return *c.Listen
	}
	return ""
}

func (c *Capture) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}
