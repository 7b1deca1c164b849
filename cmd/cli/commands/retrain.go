package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

func NewRetrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Inspect and manage retrain requests",
	}

	cmd.AddCommand(newRetrainListCmd())
	cmd.AddCommand(newRetrainDispatchCmd())
	cmd.AddCommand(newRetrainCompleteCmd())
	cmd.AddCommand(newRetrainRejectCmd())

	return cmd
}

func newRetrainListCmd() *cobra.Command {
	var model string
	var openOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retrain requests for a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			path := "/api/v1/models/" + model + "/retrain"
			if openOnly {
				path += "?open=true"
			}

			var resp struct {
				Requests []*models.RetrainRequest `json:"requests"`
			}
			if err := client.do("GET", path, nil, &resp); err != nil {
				return err
			}
			return printJSON(resp.Requests)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name (required)")
	cmd.Flags().BoolVar(&openOnly, "open", false, "Only open requests")
	cmd.MarkFlagRequired("model")

	return cmd
}

func newRetrainDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <request-id>",
		Short: "Hand a pending retrain request to the training system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			if err := client.do("POST", "/api/v1/retrain/"+args[0]+"/dispatch", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Dispatched retrain request %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newRetrainCompleteCmd() *cobra.Command {
	var artifactRef, description string

	cmd := &cobra.Command{
		Use:   "complete <request-id>",
		Short: "Register the retrained artifact and dry-run it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one request id")
			}
			client := newAPIClient()

			var version models.ModelVersion
			err := client.do("POST", "/api/v1/retrain/"+args[0]+"/complete", map[string]interface{}{
				"artifact_ref": artifactRef,
				"description":  description,
			}, &version)
			if err != nil {
				return err
			}

			fmt.Printf("Retrain complete, registered %s %s\n", version.ModelName, version.Version.String())
			return printJSON(version)
		},
	}

	cmd.Flags().StringVarP(&artifactRef, "artifact", "a", "", "Retrained artifact reference (required)")
	cmd.Flags().StringVar(&description, "description", "", "Version description")
	cmd.MarkFlagRequired("artifact")

	return cmd
}

func newRetrainRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Close a retrain request without a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()
			if err := client.do("POST", "/api/v1/retrain/"+args[0]+"/reject", nil, nil); err != nil {
				return err
			}
			fmt.Printf("Rejected retrain request %s\n", args[0])
			return nil
		},
	}
	return cmd
}
