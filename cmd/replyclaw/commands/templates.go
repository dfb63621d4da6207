package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/template"
)

// newTemplatesCmd groups the template inspection subcommands.
func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect reply templates",
	}
	cmd.AddCommand(newTemplatesListCmd(), newTemplatesShowCmd())
	return cmd
}

func newTemplatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			reg := template.NewRegistry(map[string]string{
				"form_link":   cfg.FormLink,
				"sender_name": cfg.SenderName,
			})
			active := cfg.ActiveTemplate
			for _, id := range reg.IDs() {
				marker := "  "
				if id == active {
					marker = "* "
				}
				fmt.Printf("%s%s\n", marker, id)
			}
			return nil
		},
	}
}

func newTemplatesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Render a template with the configured variables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			reg := template.NewRegistry(map[string]string{
				"form_link":   cfg.FormLink,
				"sender_name": cfg.SenderName,
			})
			if err := reg.Activate(args[0]); err != nil {
				return err
			}
			rendered, err := reg.RenderActive()
			if err != nil {
				return err
			}
			fmt.Println(rendered)
			return nil
		},
	}
}
