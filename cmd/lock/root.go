package lock

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/spf13/cobra"
)

var (
	locks lockmgr.ILockManager

	lockTTL  time.Duration
	lockWait time.Duration

	// LockCommands groups the commands on the lock database
	LockCommands = &cobra.Command{
		Use:   "lock",
		Short: "Acquire and release locks",
		Long: `Acquire and release locks of a lock database. A lock is the document
{"_id": <key>, "owner": ..., "expires": ...} in the collection system.locks,
it survives a restart of the server. An expired lock is replaced by the next
acquire of the same key.`,
		PersistentPreRunE: connect,
	}

	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock and print its owner ID",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	releaseCmd = &cobra.Command{
		Use:   "release [key] [owner]",
		Short: "Release a lock held by owner",
		Long:  "Release a lock. The owner is the hex ID printed by acquire. Releasing a lock that does not exist succeeds.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	LockCommands.AddCommand(acquireCmd, releaseCmd, runCmd)

	util.SetupRPCClientFlags(LockCommands)
	LockCommands.PersistentFlags().Uint64("db", 200, util.WrapString("ID of the lock database"))

	for _, cmd := range []*cobra.Command{acquireCmd, runCmd} {
		cmd.Flags().DurationVar(&lockTTL, "ttl", 30*time.Second, util.WrapString("Time after which the lock expires, rounded up to whole seconds (0 never expires)"))
		cmd.Flags().DurationVar(&lockWait, "wait", 0, util.WrapString("Keep retrying a held lock for this long (0 tries once)"))
	}
}

func connect(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}
	locks, err = client.NewRPCLockMgr(util.GetDatabaseID(), *util.GetClientConfig(), t, s)
	return err
}

// ttlSeconds converts a ttl to the whole seconds stored in the lock
func ttlSeconds(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	return uint64((ttl + time.Second - 1) / time.Second)
}

// expiry formats the point in time a lock acquired at now expires
func expiry(now time.Time, seconds uint64) string {
	if seconds == 0 {
		return "never"
	}
	return now.Add(time.Duration(seconds) * time.Second).Format(time.RFC3339)
}

// acquire tries to get the lock until it is acquired or wait is over.
// The delay between two attempts doubles up to one second.
func acquire(key string, seconds uint64, wait time.Duration) (bool, []byte, error) {
	deadline := time.Now().Add(wait)
	delay := 50 * time.Millisecond
	for {
		ok, owner, err := locks.AcquireLock(key, seconds)
		if err != nil || ok {
			return ok, owner, err
		}
		if time.Now().Add(delay).After(deadline) {
			return false, nil, nil
		}
		time.Sleep(delay)
		delay = min(2*delay, time.Second)
	}
}

func runAcquire(_ *cobra.Command, args []string) error {
	key := args[0]
	seconds := ttlSeconds(lockTTL)

	ok, owner, err := acquire(key, seconds, lockWait)
	if err != nil {
		return fmt.Errorf("acquire %q: %w", key, err)
	}
	if !ok {
		fmt.Printf("key=%s acquired=false held by another owner\n", key)
		return nil
	}
	fmt.Printf("key=%s acquired=true owner=%s expires=%s\n", key, hex.EncodeToString(owner), expiry(time.Now(), seconds))
	return nil
}

func runRelease(_ *cobra.Command, args []string) error {
	key := args[0]
	owner, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("owner must be the hex ID printed by acquire: %w", err)
	}

	released, err := locks.ReleaseLock(key, owner)
	if err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}
	if !released {
		fmt.Printf("key=%s released=false held by another owner\n", key)
		return nil
	}
	fmt.Printf("key=%s released=true\n", key)
	return nil
}
