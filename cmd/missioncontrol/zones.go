package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/adapter/postgres"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/middleware"
)

func (a *app) zonesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "zones", Short: "Inspect trust zones"}

	var orgID string
	tree := &cobra.Command{
		Use:   "tree",
		Short: "Print an organization's zone hierarchy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(orgID)
			if err != nil {
				return fmt.Errorf("--org must be a UUID: %w", err)
			}
			ctx := middleware.WithOrganizationID(cmd.Context(), id.String())

			pool, err := postgres.NewPool(ctx, a.cfg.Postgres)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pool.Close()

			zones, err := postgres.NewStore(pool).ListZones(ctx, zone.ListFilter{})
			if err != nil {
				return err
			}
			renderTree(cmd.OutOrStdout(), zones)
			return nil
		},
	}
	tree.Flags().StringVar(&orgID, "org", "", "organization ID (required)")
	_ = tree.MarkFlagRequired("org")
	cmd.AddCommand(tree)
	return cmd
}

// renderTree prints zones indented under their parents, siblings by name.
// Zones whose parent is not in the list are printed as roots.
func renderTree(w io.Writer, zones []zone.Zone) {
	known := make(map[string]bool, len(zones))
	for _, z := range zones {
		known[z.ID] = true
	}
	children := make(map[string][]zone.Zone)
	for _, z := range zones {
		parent := z.ParentZoneID
		if !known[parent] {
			parent = ""
		}
		children[parent] = append(children[parent], z)
	}
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}

	seen := make(map[string]bool, len(zones))
	var walk func(parent string, depth int)
	walk = func(parent string, depth int) {
		for _, z := range children[parent] {
			if seen[z.ID] {
				continue
			}
			seen[z.ID] = true
			fmt.Fprintf(w, "%s%s (%s) [%s] %s\n", strings.Repeat("  ", depth), z.Name, z.Slug, z.Status, z.ID)
			walk(z.ID, depth+1)
		}
	}
	walk("", 0)
}
