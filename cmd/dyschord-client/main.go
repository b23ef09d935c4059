// Command dyschord-client is a thin CLI over the convenience client
// package, grounded on
// sandeepkv93-network-programming/cmd/udp.go's subcommand layout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/afoglia/dyschord/client"
)

var peersFlag string
var minConnections int
var timeout time.Duration

var rootCmd = &cobra.Command{
	Use:   "dyschord-client",
	Short: "Talk to a dyschord cloud",
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <key>",
	Short: "Look up the value stored for a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		value, err := c.Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}

var storeCmd = &cobra.Command{
	Use:   "store <key> <json-value>",
	Short: "Store a JSON-encodable value for a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		var value any
		if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
			return fmt.Errorf("value must be valid JSON: %w", err)
		}
		return c.Store(cmd.Context(), args[0], value)
	},
}

func newClient(ctx context.Context) (*client.Client, error) {
	peers := strings.Split(peersFlag, ",")
	return client.New(ctx, peers, minConnections, timeout, nil)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&peersFlag, "peers", "localhost:10000", "Comma-separated list of known peer addresses")
	rootCmd.PersistentFlags().IntVar(&minConnections, "min-connections", 3, "Minimum peer pool size to try to maintain")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-call RPC timeout")
	rootCmd.AddCommand(lookupCmd, storeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
