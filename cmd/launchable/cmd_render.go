package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

// renderCmd represents the render command
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the rendered remote scripts without connecting",
	Long: `Render the setup, scripts and run templates with the current
configuration and print them.

Nothing is sent to the cluster. Use this to check template overrides
before launching. Random tunnel and notebook ports are sampled exactly
as a real launch would sample them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRender(cmd)
	},
}

type renderedScript struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

type renderOutput struct {
	Host         string           `yaml:"host"`
	LocalPort    int              `yaml:"local_port"`
	TunnelPort   int              `yaml:"tunnel_port"`
	NotebookPort int              `yaml:"notebook_port"`
	Scripts      []renderedScript `yaml:"scripts"`
}

func init() {
	addLaunchFlags(renderCmd)
	renderCmd.Flags().Bool("raw", false, "Print the scripts as plain text instead of YAML")
}

func runRender(cmd *cobra.Command) error {
	lc, err := loadLaunchConfig(cmd)
	if err != nil {
		return err
	}

	scripts, err := renderScripts(lc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		for _, s := range scripts {
			fmt.Fprintf(out, "# ---- %s ----\n%s", s.Name, s.Text)
		}
		return nil
	}

	doc := renderOutput{
		Host:         lc.Host(),
		LocalPort:    lc.LocalPort(),
		TunnelPort:   lc.TunnelPort(),
		NotebookPort: lc.NotebookPort(),
	}
	for _, s := range scripts {
		doc.Scripts = append(doc.Scripts, renderedScript{Name: s.Name, Text: s.Text})
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode scripts: %w", err)
	}
	_, err = out.Write(data)
	return err
}
