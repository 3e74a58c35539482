package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Tell every watching process to reload the policy",
	Long:  `Emit a change notification, e.g. after editing the policy table by hand.`,
	Args:  cobra.NoArgs,
	RunE:  runNotify,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	w, err := rt.watcher()
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("no watcher backend configured (set watcher.backend or PK_WATCHER_BACKEND)")
	}
	return w.EmitChange(cmd.Context())
}
