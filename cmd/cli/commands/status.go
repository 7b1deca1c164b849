package commands

import (
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a model's deployment status and health",
		Long: `Show the active deployment, current metric window aggregates, firing
alerts, and the overall health verdict for a model.`,
		Example: `  modelctl status --model spread-predictor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var status map[string]interface{}
			if err := client.do("GET", "/api/v1/models/"+model+"/status", nil, &status); err != nil {
				return err
			}
			return printJSON(status)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name (required)")
	cmd.MarkFlagRequired("model")

	return cmd
}
