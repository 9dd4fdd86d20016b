package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacklok/inventory-mirror/internal/upstream/oci"
)

// kindInfo is the json rendering of a resource kind
type kindInfo struct {
	Name         string   `json:"name"`
	Table        string   `json:"table"`
	ParentScoped bool     `json:"parent_scoped"`
	Description  string   `json:"description"`
	Attributes   []string `json:"attributes"`
}

func newKindsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List the resource kinds that can be mirrored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			kinds := oci.Kinds()
			infos := make([]kindInfo, 0, len(kinds))
			for _, k := range kinds {
				attrs := make([]string, 0, len(k.Schema))
				for _, f := range k.Schema {
					attrs = append(attrs, f.Name)
				}
				infos = append(infos, kindInfo{
					Name:         k.Name,
					Table:        k.Table,
					ParentScoped: k.ParentScoped,
					Description:  k.Description,
					Attributes:   attrs,
				})
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			rows := make([][]string, 0, len(infos))
			for _, k := range infos {
				scope := "region"
				if k.ParentScoped {
					scope = "parent"
				}
				rows = append(rows, []string{k.Name, k.Table, scope, strings.Join(k.Attributes, ",")})
			}
			return renderTable(cmd.OutOrStdout(), []string{"NAME", "TABLE", "SCOPE", "ATTRIBUTES"}, rows)
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
