package common

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dDoc/lib/engine"
	"github.com/dustin/go-humanize"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type DatabaseType string

const (
	DatabaseTypeStore       DatabaseType = "store"
	DatabaseTypeLockManager DatabaseType = "lockmgr"
)

// ParseDatabaseType returns the database type for its name
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch t := DatabaseType(strings.ToLower(strings.TrimSpace(s))); t {
	case DatabaseTypeStore, DatabaseTypeLockManager:
		return t, nil
	default:
		return "", fmt.Errorf("invalid database type %q, must be one of %s, %s", s, DatabaseTypeStore, DatabaseTypeLockManager)
	}
}

type ServerDatabase struct {
	// ID is the id clients address the database with
	ID uint64
	// Type of the interface served for the database
	Type DatabaseType
}

// ServerConfig holds all configuration parameters of the server.
type ServerConfig struct {
	Databases []ServerDatabase

	// engine parameters
	DataDir            string
	CheckpointInterval time.Duration
	CheckpointEvery    uint64
	SegmentSizeMB      int64
	NumShards          int

	// transport parameters
	TimeoutSecond int64
	Endpoint      string

	// Logging configuration
	LogLevel string
}

// DatabaseDir returns the directory the engine of a database is stored in
func (c *ServerConfig) DatabaseDir(id uint64) string {
	return filepath.Join(c.DataDir, fmt.Sprintf("db-%d", id))
}

// EngineOptions returns the engine options for every database
func (c *ServerConfig) EngineOptions() *engine.Options {
	opts := engine.DefaultOptions()
	opts.CheckpointInterval = c.CheckpointInterval
	opts.CheckpointEvery = c.CheckpointEvery
	opts.MaxSegmentSize = c.SegmentSizeMB << 20
	opts.NumShards = c.NumShards
	return opts
}

// Validate checks the configuration for errors
func (c *ServerConfig) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("no databases configured")
	}
	if c.DataDir == "" {
		return fmt.Errorf("no data directory configured")
	}
	seen := make(map[uint64]bool, len(c.Databases))
	for _, d := range c.Databases {
		if seen[d.ID] {
			return fmt.Errorf("database %d is configured twice", d.ID)
		}
		seen[d.ID] = true
		if _, err := ParseDatabaseType(string(d.Type)); err != nil {
			return err
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Storage")
	addField("Data Directory", c.DataDir)
	if c.SegmentSizeMB > 0 {
		addField("Segment Size", humanize.IBytes(uint64(c.SegmentSizeMB)<<20))
	} else {
		addField("Segment Size", "default")
	}
	addField("Checkpoint Interval", c.CheckpointInterval.String())
	addField("Checkpoint Every", fmt.Sprintf("%d records", c.CheckpointEvery))

	addSection("Databases")
	for _, d := range c.Databases {
		addField(strconv.FormatUint(d.ID, 10), string(d.Type))
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
