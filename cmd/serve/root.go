package serve

import (
	"fmt"
	"strconv"
	"strings"

	cmdUtil "github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dDoc server",
		Long:    `Start the dDoc server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DDOC_<flag> (e.g. DDOC_DATA_DIR=/var/lib/ddoc)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "databases"
	ServeCmd.PersistentFlags().String(key, "100=store,200=lockmgr", cmdUtil.WrapString("Comma-separated list of databases to serve. Format: ID=TYPE where TYPE is one of: store, lockmgr. Every database is stored in <data-dir>/db-<ID>"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory holding the write-ahead log and the checkpoints of all databases"))

	key = "checkpoint-interval"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Write a checkpoint in this interval (e.g. 5m). 0 disables timed checkpoints"))

	key = "checkpoint-every"
	ServeCmd.PersistentFlags().Uint64(key, 0, cmdUtil.WrapString("Write a checkpoint after this many log records. 0 disables counted checkpoints"))

	key = "segment-size-mb"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Size in MB after which a log segment is rotated. 0 uses the default"))

	key = "num-shards"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Number of shards of the in memory document store. 0 uses the default"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for reading and writing requests"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/ddoc.sock, ...)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	databases, err := parseDatabases(viper.GetString("databases"))
	if err != nil {
		return err
	}
	serveCmdConfig.Databases = databases

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.CheckpointInterval = viper.GetDuration("checkpoint-interval")
	serveCmdConfig.CheckpointEvery = viper.GetUint64("checkpoint-every")
	serveCmdConfig.SegmentSizeMB = viper.GetInt64("segment-size-mb")
	serveCmdConfig.NumShards = viper.GetInt("num-shards")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return serveCmdConfig.Validate()
}

// parseDatabases parses a list of ID=TYPE pairs
func parseDatabases(s string) ([]common.ServerDatabase, error) {
	var databases []common.ServerDatabase
	for _, dbConfig := range strings.Split(s, ",") {
		if strings.TrimSpace(dbConfig) == "" {
			continue
		}
		parts := strings.Split(dbConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid database format: %s (expected ID=TYPE)", dbConfig)
		}

		id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid database ID %s: %v", parts[0], err)
		}

		dbType, err := common.ParseDatabaseType(parts[1])
		if err != nil {
			return nil, err
		}

		databases = append(databases, common.ServerDatabase{ID: id, Type: dbType})
	}
	return databases, nil
}

// run starts the dDoc server
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	return server.NewRPCServer(*serveCmdConfig, t, s).Serve()
}
