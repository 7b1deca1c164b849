package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Staysteady/ml-market-maker/pkg/models"
)

type RegisterOptions struct {
	Model       string
	ArtifactRef string
	Bump        string
	Tags        []string
	ModelKind   string
	Description string
	CreatedBy   string
}

func NewRegisterCmd() *cobra.Command {
	opts := &RegisterOptions{}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new model version",
		Long: `Register a trained model artifact as a new immutable version. The
version number is allocated automatically: the first version of a model is
1.0.0 and later registrations bump patch, minor, or major.`,
		Example: `  # Register a new patch version
  modelctl register --model spread-predictor --artifact s3://models/spread/v3.bin

  # Register a minor version with tags
  modelctl register --model spread-predictor --artifact run-42/model.bin --bump minor --tag candidate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "Model name (required)")
	cmd.Flags().StringVarP(&opts.ArtifactRef, "artifact", "a", "", "Artifact reference (required)")
	cmd.Flags().StringVar(&opts.Bump, "bump", "patch", "Version bump (patch, minor, major)")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "Tags to attach (repeatable)")
	cmd.Flags().StringVar(&opts.ModelKind, "kind", "", "Model kind label")
	cmd.Flags().StringVar(&opts.Description, "description", "", "Version description")
	cmd.Flags().StringVar(&opts.CreatedBy, "created-by", "", "Registering identity")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("artifact")

	return cmd
}

func runRegister(opts *RegisterOptions) error {
	client := newAPIClient()

	var version models.ModelVersion
	err := client.do("POST", "/api/v1/models/"+opts.Model+"/versions", map[string]interface{}{
		"artifact_ref": opts.ArtifactRef,
		"bump":         opts.Bump,
		"tags":         opts.Tags,
		"model_kind":   opts.ModelKind,
		"description":  opts.Description,
		"created_by":   opts.CreatedBy,
	}, &version)
	if err != nil {
		return err
	}

	fmt.Printf("Registered %s version %s\n", version.ModelName, version.Version.String())
	return printJSON(version)
}
