package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/sonido-tuner/algorithms/tonal"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage stored inharmonicity profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles ordered by key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, closeStore, err := openStore(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStore()

		all, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no profiles stored")
			return nil
		}
		return printProfileTable(cmd.OutOrStdout(), all)
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <note>",
	Short: "Print one profile, including its partials, as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := parseKey(args[0])
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStore()

		p, err := store.Get(cmd.Context(), idx)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <note>...",
	Short: "Delete the profiles of the given keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context(), cfg.Storage)
		if err != nil {
			return err
		}
		defer closeStore()

		for _, arg := range args {
			idx, err := parseKey(arg)
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), idx); err != nil {
				return fmt.Errorf("%s: %w", arg, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", arg)
		}
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesShowCmd, profilesDeleteCmd)
}

// parseKey accepts a note name such as "A4" or "Bb2", or a key number from
// 1 (A0) to 88 (C8), and returns the zero-based key index.
func parseKey(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > tonal.PianoKeys {
			return 0, fmt.Errorf("key number %d outside 1..%d", n, tonal.PianoKeys)
		}
		return n - 1, nil
	}
	note, ok := tonal.DefaultTuning().NoteByName(s)
	if !ok {
		return 0, fmt.Errorf("unknown note %q", s)
	}
	return note.Index, nil
}
