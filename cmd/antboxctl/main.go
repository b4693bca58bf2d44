// Command antboxctl is the operator-facing admin CLI: it seeds builtin
// groups, mints API keys, and runs one-shot node queries against an
// in-process Antbox core, without going through the HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kindalus/antbox-sub000/core/auth"
	"github.com/kindalus/antbox-sub000/core/event"
	"github.com/kindalus/antbox-sub000/core/filter"
	"github.com/kindalus/antbox-sub000/core/identity"
	"github.com/kindalus/antbox-sub000/core/node"
	"github.com/kindalus/antbox-sub000/platform/config"
)

var tenantFlag string

func rootContext() (*node.Service, *identity.GroupService, *identity.APIKeyService, context.Context) {
	cfg := config.Default()
	tc := cfg.TenantByID(tenantFlag)

	bus := event.New(nil)
	nodeSvc := node.NewService(node.NewMemoryRepository(), node.NewMemoryStorage(), bus)
	groups := identity.NewGroupService(identity.NewMemoryConfigRepository[identity.Group]())
	apiKeys := identity.NewAPIKeyService(identity.NewMemoryConfigRepository[identity.APIKey]())

	ctx := auth.WithContext(context.Background(), auth.Elevated(tc.ID))
	return nodeSvc, groups, apiKeys, ctx
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "antboxctl",
		Short: "Administer an Antbox tenant: seed groups, mint API keys, run queries",
	}
	root.PersistentFlags().StringVar(&tenantFlag, "tenant", "default", "tenant id to operate against")

	root.AddCommand(newSeedCmd())
	root.AddCommand(newAPIKeyCmd())
	root.AddCommand(newFindCmd())
	return root
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Print the builtin principals and groups every tenant starts with",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, groups, _, ctx := rootContext()
			list, err := groups.List(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("builtin groups for tenant %q:\n", tenantFlag)
			for _, g := range list {
				fmt.Printf("  %-20s %s\n", g.UUID, g.Title)
			}
			fmt.Println()
			fmt.Println("builtin principals:")
			fmt.Printf("  %-30s root, bypasses all permission checks\n", auth.RootEmail)
			fmt.Printf("  %-30s unauthenticated requests\n", auth.AnonymousEmail)
			return nil
		},
	}
}

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	var group string
	create := &cobra.Command{
		Use:   "create",
		Short: "Mint a new API key bound to a group",
		RunE: func(cmd *cobra.Command, args []string) error {
			if group == "" {
				return fmt.Errorf("--group is required")
			}
			_, _, apiKeys, ctx := rootContext()
			key, err := apiKeys.Create(ctx, group)
			if err != nil {
				return err
			}
			fmt.Printf("uuid:   %s\n", key.UUID)
			fmt.Printf("group:  %s\n", key.Group)
			fmt.Printf("secret: %s\n", key.Secret)
			fmt.Println()
			fmt.Println("store the secret now, it is not retrievable again")
			return nil
		},
	}
	create.Flags().StringVar(&group, "group", "", "group uuid this key authenticates as (required)")
	cmd.AddCommand(create)

	return cmd
}

func newFindCmd() *cobra.Command {
	var parent string
	var pageSize, pageToken int

	cmd := &cobra.Command{
		Use:   "find [field op value ...]",
		Short: "Run a one-shot node query; each triple is ANDed together",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args)%3 != 0 {
				return fmt.Errorf("filters must be given in (field, op, value) triples")
			}

			if parent != "" {
				args = append(args, "parent", string(filter.OpEq), parent)
			}
			dnf, err := triplesToDNF(args)
			if err != nil {
				return err
			}

			nodeSvc, _, _, ctx := rootContext()
			page, err := nodeSvc.Find(ctx, dnf, pageSize, pageToken)
			if err != nil {
				return err
			}
			for _, n := range page.Nodes {
				fmt.Printf("%-36s %-10s %s\n", n.UUID, n.Mimetype, n.Title)
			}
			fmt.Printf("\n%d result(s)", len(page.Nodes))
			if page.NextPageToken != 0 {
				fmt.Printf(", next page token %d", page.NextPageToken)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "restrict results to children of this folder uuid")
	cmd.Flags().IntVar(&pageSize, "page-size", 25, "results per page")
	cmd.Flags().IntVar(&pageToken, "page", 0, "page token: number of matches to skip, as printed in a previous run's next page token")
	return cmd
}

func triplesToDNF(args []string) (filter.DNF, error) {
	if len(args) == 0 {
		return filter.DNF{}, nil
	}
	group := make(filter.Group, 0, len(args)/3)
	for i := 0; i < len(args); i += 3 {
		field, op, raw := args[i], args[i+1], args[i+2]
		group = append(group, filter.Filter{Field: field, Op: filter.Op(op), Value: coerce(raw)})
	}
	return filter.FromGroup(group), nil
}

// coerce turns a CLI string argument into a number or bool when it looks
// like one, so "size > 1024" compares numerically instead of lexically.
func coerce(raw string) any {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if strings.HasPrefix(raw, "[") {
		parts := strings.Split(strings.Trim(raw, "[]"), ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = coerce(strings.TrimSpace(p))
		}
		return out
	}
	return raw
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "antboxctl: %v\n", err)
		os.Exit(1)
	}
}
