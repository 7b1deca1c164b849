package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

func NewRollbackCmd() *cobra.Command {
	var model, requestedBy string

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll a model back to its previous active version",
		Example: `  modelctl rollback --model spread-predictor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var record models.DeploymentRecord
			err := client.do("POST", "/api/v1/models/"+model+"/rollback", map[string]interface{}{
				"requested_by": requestedBy,
			}, &record)
			if err != nil {
				return err
			}

			fmt.Printf("Rolled %s back to %s (deployment %d)\n", model, record.Target.String(), record.ID)
			return printJSON(record)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name (required)")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "Requesting identity")
	cmd.MarkFlagRequired("model")

	return cmd
}
