package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tillpoint/posadmin/internal/storage"
)

type preferencesView struct {
	Theme    string `json:"theme" yaml:"theme"`
	Language string `json:"language" yaml:"language"`
}

func (r *runner) prefsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show the stored display preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			theme, err := r.app.Preferences.Theme(storage.LightTheme)
			if err != nil {
				return err
			}

			return r.write(r.stdout, preferencesView{
				Theme:    theme,
				Language: r.app.Language,
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a preference (theme: light-theme|dark-theme, language: en|es)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := r.app.Preferences.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(r.stdout, "%s set to %s\n", args[0], args[1])
			return nil
		},
	})

	return cmd
}
