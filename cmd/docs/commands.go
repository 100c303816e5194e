package docs

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/spf13/cobra"
)

var (
	insertCmd = &cobra.Command{
		Use:   "insert [collection] [document...]",
		Short: "Inserts one or more documents, a missing _id is generated",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := parseDocuments(args[1:])
			if err != nil {
				return err
			}
			res, err := rpcStore.Insert(args[0], docs...)
			if err != nil {
				return err
			}
			for i, id := range res.InsertedIDs {
				if id != nil {
					fmt.Printf("inserted [%d] _id=%s\n", i, formatID(id))
				}
			}
			printWriteResult(res)
			return nil
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [collection] [document]",
		Short: "Replaces the document with the same _id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := doc.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid document: %w", err)
			}
			res, err := rpcStore.Update(args[0], d)
			if err != nil {
				return err
			}
			printWriteResult(res)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [collection] [id]",
		Short: "Reads the document with the given _id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := doc.ParseValue([]byte(args[1]))
			if err != nil {
				return fmt.Errorf("invalid _id: %w", err)
			}
			d, found, err := rpcStore.Get(args[0], id)
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("_id=%s, found=false\n", formatID(id))
				return nil
			}
			fmt.Println(d.String())
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [collection] [id]",
		Short: "Deletes the document with the given _id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := doc.ParseValue([]byte(args[1]))
			if err != nil {
				return fmt.Errorf("invalid _id: %w", err)
			}
			res, err := rpcStore.Delete(args[0], id)
			if err != nil {
				return err
			}
			printWriteResult(res)
			return nil
		},
	}
	countCmd = &cobra.Command{
		Use:   "count [collection]",
		Short: "Counts the documents of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := rpcStore.Count(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("collection=%s, count=%d\n", args[0], n)
			return nil
		},
	}
	dropCmd = &cobra.Command{
		Use:   "drop [collection]",
		Short: "Drops a collection with all its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dropped, err := rpcStore.Drop(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("collection=%s, dropped=%t\n", args[0], dropped)
			return nil
		},
	}
	fsyncCmd = &cobra.Command{
		Use:   "fsync",
		Short: "Flushes all writes to disk, optionally blocking further writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, _ := cmd.Flags().GetBool("lock")
			if err := rpcStore.Fsync(lock); err != nil {
				return err
			}
			fmt.Printf("fsync successfully, locked=%t\n", lock)
			return nil
		},
	}
	unlockCmd = &cobra.Command{
		Use:   "unlock",
		Short: "Releases the write lock taken by 'fsync --lock'",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.FsyncUnlock(); err != nil {
				return err
			}
			fmt.Println("unlock successfully")
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints metadata about the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcStore.GetDBInfo()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func parseDocuments(args []string) ([]doc.Document, error) {
	docs := make([]doc.Document, len(args))
	for i, arg := range args {
		d, err := doc.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid document %d: %w", i, err)
		}
		docs[i] = d
	}
	return docs, nil
}

func formatID(id any) string {
	b, err := doc.MarshalValue(id)
	if err != nil {
		return fmt.Sprint(id)
	}
	return string(b)
}

func printWriteResult(res store.WriteResult) {
	fmt.Printf("n=%d, ok=%t\n", res.N, res.Ok())
	for _, we := range res.Errors {
		fmt.Printf("rejected [%d] code=%s: %s\n", we.Index, we.Code, we.Msg)
	}
}
