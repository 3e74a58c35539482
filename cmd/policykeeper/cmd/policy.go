package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/policykeeper/internal/core/adapter"
	"github.com/solatis/policykeeper/internal/types"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and edit stored rules",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print stored rules, optionally filtered",
	Long: `Print stored rules one per line.

Each --filter takes PTYPE:V0,V1,... and constrains that rule type
positionally; an empty value leaves its position unconstrained. Rule types
without a filter are not printed once any filter is given.`,
	Example: `  policykeeper policy list --filter p:alice
  policykeeper policy list --filter 'p:,data1' --filter g:alice`,
	Args: cobra.NoArgs,
	RunE: runPolicyList,
}

var policyAddCmd = &cobra.Command{
	Use:   "add PTYPE VALUE...",
	Short: "Store a rule and notify watchers",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runPolicyAdd,
}

var policyRemoveCmd = &cobra.Command{
	Use:   "remove PTYPE VALUE...",
	Short: "Delete a rule and notify watchers",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runPolicyRemove,
}

var policyRemoveFilteredCmd = &cobra.Command{
	Use:   "remove-filtered PTYPE FIELD_INDEX VALUE...",
	Short: "Delete every rule matching values from FIELD_INDEX on and notify watchers",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runPolicyRemoveFiltered,
}

var policyUpdateCmd = &cobra.Command{
	Use:   "update PTYPE",
	Short: "Replace a rule and notify watchers",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyUpdate,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd, policyAddCmd, policyRemoveCmd, policyRemoveFilteredCmd, policyUpdateCmd)

	policyListCmd.Flags().StringArray("filter", nil, "filter as PTYPE:V0,V1,... (repeatable)")
	policyUpdateCmd.Flags().String("old", "", "comma-separated values of the rule to replace")
	policyUpdateCmd.Flags().String("new", "", "comma-separated values of the replacement")
	policyUpdateCmd.MarkFlagRequired("old")
	policyUpdateCmd.MarkFlagRequired("new")
}

// parseFilter turns PTYPE:V0,V1,... specs into a Filter. No specs means no
// filter.
func parseFilter(specs []string) (*types.Filter, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	f := types.Filter{}
	for _, spec := range specs {
		ptype, values, ok := strings.Cut(spec, ":")
		ptype = strings.TrimSpace(ptype)
		if !ok || ptype == "" {
			return nil, types.NewValidationError("filter", "%q must be PTYPE:V0,V1,...", spec)
		}
		f[ptype] = strings.Split(values, ",")
	}
	return &f, nil
}

func splitValues(s string) []string {
	return strings.Split(s, ",")
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	specs, _ := cmd.Flags().GetStringArray("filter")
	filter, err := parseFilter(specs)
	if err != nil {
		return err
	}

	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.adapter(false)
	if err != nil {
		return err
	}
	rules, err := a.Rules(cmd.Context(), filter)
	if err != nil {
		return err
	}
	for _, r := range rules {
		fmt.Fprintln(cmd.OutOrStdout(), r.String())
	}
	return nil
}

// mutate runs fn against the adapter and, when it succeeds, emits a change
// through the configured watcher.
func mutate(cmd *cobra.Command, fn func(ctx context.Context, a *adapter.Adapter) error) error {
	rt, err := setup(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.adapter(false)
	if err != nil {
		return err
	}
	w, err := rt.watcher()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := fn(ctx, a); err != nil {
		return err
	}
	if w == nil {
		return nil
	}
	return w.EmitChange(ctx)
}

func runPolicyAdd(cmd *cobra.Command, args []string) error {
	ptype, values := args[0], args[1:]
	return mutate(cmd, func(ctx context.Context, a *adapter.Adapter) error {
		return a.AddPolicy(ctx, types.Section(ptype), ptype, values)
	})
}

func runPolicyRemove(cmd *cobra.Command, args []string) error {
	ptype, values := args[0], args[1:]
	return mutate(cmd, func(ctx context.Context, a *adapter.Adapter) error {
		return a.RemovePolicy(ctx, types.Section(ptype), ptype, values)
	})
}

func runPolicyRemoveFiltered(cmd *cobra.Command, args []string) error {
	ptype := args[0]
	fieldIndex, err := strconv.Atoi(args[1])
	if err != nil {
		return types.NewValidationError("fieldIndex", "%q is not an integer", args[1])
	}
	values := args[2:]
	return mutate(cmd, func(ctx context.Context, a *adapter.Adapter) error {
		return a.RemoveFilteredPolicy(ctx, types.Section(ptype), ptype, fieldIndex, values...)
	})
}

func runPolicyUpdate(cmd *cobra.Command, args []string) error {
	ptype := args[0]
	oldRule, _ := cmd.Flags().GetString("old")
	newRule, _ := cmd.Flags().GetString("new")
	return mutate(cmd, func(ctx context.Context, a *adapter.Adapter) error {
		return a.UpdatePolicy(ctx, types.Section(ptype), ptype, splitValues(oldRule), splitValues(newRule))
	})
}
