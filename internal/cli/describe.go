package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newDescribeCmd creates the 'describe' command.
func newDescribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <name> [text]",
		Short: "Show or edit a file description",
		Long: `Show or replace the description of a stored file.

With text, the description is replaced. Without text and with input piped in,
the lines read up to end of input become the new description. Without text
on a terminal, the current description is printed.

Examples:
  tstore-client describe report.pdf
  tstore-client describe report.pdf "Q3 numbers, final"
  cat notes.txt | tstore-client describe report.pdf`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			out := cmd.OutOrStdout()

			engine, err := startEngine(GetContext())
			if err != nil {
				return err
			}
			defer stopEngine(engine)

			field, err := engine.EditDescription(name)
			if err != nil {
				return err
			}

			before := field.Value()
			var text string

			switch {
			case len(args) == 2:
				text = args[1]

			case stdinIsTerminal():
				if before != "" {
					fmt.Fprintln(out, before)
				} else {
					fmt.Fprintf(out, "%s has no description\n", name)
				}
				return nil

			default:
				var lines []string
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines = append(lines, scanner.Text())
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("failed to read description: %w", err)
				}
				if len(lines) == 0 {
					fmt.Fprintln(out, "No input; description unchanged")
					return nil
				}
				text = strings.Join(lines, "\n")
			}

			if text == before {
				fmt.Fprintln(out, "Description unchanged")
				return nil
			}
			field.OnChange(text)
			if err := field.OnBlur(); err != nil {
				return fmt.Errorf("failed to save description for %s: %w", name, err)
			}
			fmt.Fprintf(out, "✓ Description saved for %s\n", name)
			return nil
		},
	}
	return cmd
}

// stdinIsTerminal is a variable so tests can force the piped path.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
