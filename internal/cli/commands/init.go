package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/internal/config"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new cardcalc workspace",
		Long: `Initialize a cardcalc workspace with a default configuration file.

This creates:
  - cardcalc.yaml configuration file
  - .gitignore excluding the state directory

Use --example to also write landscape.yaml, a fixture with entities,
relations and two calculations ready to load and run.`,
		Example: `  # Initialize in current directory
  cardcalc init

  # Initialize with an example landscape
  cardcalc init --example

  # Initialize in a new directory
  cardcalc init my-landscape --example`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			cfg := getConfig(cmd)
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

			template := "minimal"
			if example {
				template = "example"
			}
			return runInit(r, dir, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&example, "example", false, "Also create an example landscape fixture")

	return cmd
}

func runInit(r *output.Renderer, dir, template string, force bool) error {
	if dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configName := config.ConfigFileNames[0]
	if _, err := os.Stat(filepath.Join(dir, configName)); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", configName)
	}

	if err := copyTemplate(template, dir, force); err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}

	files, err := listTemplateFiles(template)
	if err != nil {
		return fmt.Errorf("failed to list template files: %w", err)
	}
	groups := groupTemplateFiles(files)

	r.Header(2, "Configuration")
	for _, f := range groups["config"] {
		r.StatusLine(f, "success", "")
	}
	if len(groups["fixtures"]) > 0 {
		r.Println("")
		r.Header(2, "Fixtures")
		for _, f := range groups["fixtures"] {
			r.StatusLine(f, "success", "")
		}
	}

	r.Println("")
	r.Success("cardcalc workspace initialized!")
	r.Println("")
	r.Println("Next steps:")
	if template == "example" {
		r.Println("  cardcalc load landscape.yaml     Load entities and calculations")
		r.Println("  cardcalc run --all               Run every active calculation")
		r.Println("  cardcalc graph                   Show calculation dependencies")
	} else {
		r.Println("  cardcalc load <fixtures.yaml>    Load entities and calculations")
		r.Println("  cardcalc calc list               List calculations")
	}
	return nil
}
