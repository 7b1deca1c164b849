package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

type DeployOptions struct {
	Model       string
	Version     string
	Live        bool
	Description string
	RequestedBy string
}

func NewDeployCmd() *cobra.Command {
	opts := &DeployOptions{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a registered model version",
		Long: `Run a deployment of a registered version. The default is a dry run,
which exercises the full validation pipeline without touching the active
deployment; pass --live to promote the version.`,
		Example: `  # Dry-run a version
  modelctl deploy --model spread-predictor --version 1.2.0

  # Promote it
  modelctl deploy --model spread-predictor --version 1.2.0 --live`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Model name (required)")
	cmd.Flags().StringVarP(&opts.Version, "version", "V", "", "Version to deploy (required)")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "Perform a live deployment instead of a dry run")
	cmd.Flags().StringVar(&opts.Description, "description", "", "Deployment description")
	cmd.Flags().StringVar(&opts.RequestedBy, "requested-by", "", "Requesting identity")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("version")

	return cmd
}

func runDeploy(opts *DeployOptions) error {
	client := newAPIClient()

	mode := string(models.ModeDryRun)
	if opts.Live {
		mode = string(models.ModeLive)
	}

	var record models.DeploymentRecord
	err := client.do("POST", "/api/v1/models/"+opts.Model+"/deploy", map[string]interface{}{
		"version":      opts.Version,
		"mode":         mode,
		"description":  opts.Description,
		"requested_by": opts.RequestedBy,
	}, &record)
	if err != nil {
		return err
	}

	if opts.Live {
		fmt.Printf("Deployed %s %s (deployment %d)\n", opts.Model, opts.Version, record.ID)
	} else {
		fmt.Printf("Dry run passed for %s %s (deployment %d)\n", opts.Model, opts.Version, record.ID)
	}
	return printJSON(record)
}
