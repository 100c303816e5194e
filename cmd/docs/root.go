package docs

import (
	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// DocumentCommands represents the document command group
	DocumentCommands = &cobra.Command{
		Use:               "doc",
		Short:             "Perform document store operations",
		Long:              "Perform document store operations. Documents and ids are given as extended JSON, e.g. '{\"_id\": 1, \"name\": \"ada\"}' or '{\"$oid\": \"65f0c0ffee0000000000beef\"}'",
		PersistentPreRunE: setupDocClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the document command
	util.SetupRPCClientFlags(DocumentCommands)

	// Set default database ID for document operations (different from lock default)
	DocumentCommands.PersistentFlags().Uint64("db", 100, util.WrapString("ID of the database to connect to"))

	// Add subcommands
	DocumentCommands.AddCommand(insertCmd)
	DocumentCommands.AddCommand(updateCmd)
	DocumentCommands.AddCommand(getCmd)
	DocumentCommands.AddCommand(deleteCmd)
	DocumentCommands.AddCommand(countCmd)
	DocumentCommands.AddCommand(dropCmd)
	DocumentCommands.AddCommand(fsyncCmd)
	DocumentCommands.AddCommand(unlockCmd)
	DocumentCommands.AddCommand(infoCmd)
	DocumentCommands.AddCommand(perfTestCmd)

	fsyncCmd.Flags().Bool("lock", false, util.WrapString("Block writes until 'doc unlock' is called"))
}

// setupDocClient initializes the RPC store client
func setupDocClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	// Create the document store client
	rpcStore, err = client.NewRPCStore(
		util.GetDatabaseID(),
		*util.GetClientConfig(),
		t,
		s,
	)

	return err
}
