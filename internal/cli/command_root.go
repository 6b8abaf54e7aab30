package cli

import "github.com/spf13/cobra"

var CommandRoot = &cobra.Command{
	Use:   "dohping",
	Short: `dohping resolves a hostname via DoH providers and compares answer reachability`,
}
