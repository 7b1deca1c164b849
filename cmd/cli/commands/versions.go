package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

func NewVersionsCmd() *cobra.Command {
	var model string
	var tags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List registered versions of a model",
		Example: `  # All versions, newest first
  modelctl versions --model spread-predictor

  # Only tagged candidates
  modelctl versions --model spread-predictor --tag candidate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			path := "/api/v1/models/" + model + "/versions"
			if len(tags) > 0 {
				params := make([]string, 0, len(tags))
				for _, tag := range tags {
					params = append(params, "tag="+tag)
				}
				path += "?" + strings.Join(params, "&")
			}

			var resp struct {
				Versions []*models.ModelVersion `json:"versions"`
				Count    int                    `json:"count"`
			}
			if err := client.do("GET", path, nil, &resp); err != nil {
				return err
			}

			if asJSON {
				return printJSON(resp.Versions)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tSTATUS\tTAGS\tCREATED\tARTIFACT")
			for _, v := range resp.Versions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					v.Version.String(),
					v.Status,
					strings.Join(v.Tags, ","),
					v.CreatedAt.Format("2006-01-02 15:04:05"),
					v.ArtifactRef,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name (required)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Filter to versions carrying any of these tags")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON instead of a table")
	cmd.MarkFlagRequired("model")

	return cmd
}
