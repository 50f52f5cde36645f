package setup

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewCommand builds the `setup` command tree.
func NewCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with a desktop MCP client",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "client config file (default: platform location)")

	resolve := func() (string, error) {
		if configPath != "" {
			return configPath, nil
		}
		return DesktopConfigPath()
	}

	cmd.AddCommand(newRegisterCmd(resolve), newStatusCmd(resolve))
	return cmd
}

func newRegisterCmd(resolve func() (string, error)) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Add or update the server entry in the client config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			if opts.BinaryPath == "" {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("cannot determine server binary, pass --binary: %w", err)
				}
				opts.BinaryPath = exe
			}
			if err := Register(path, opts); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Registered %s in %s\n", ServerName, path)
			fmt.Fprintln(out, "Restart the client to load the new configuration.")
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.BinaryPath, "binary", "", "server binary (default: this executable)")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "data directory for sessions and reports")
	cmd.Flags().StringVar(&opts.AIBaseURL, "ai-url", "", "base URL of the image model service")
	return cmd
}

func newStatusCmd(resolve func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			status, err := Inspect(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file: %s\n", status.ConfigPath)
			if !status.Registered {
				fmt.Fprintln(out, "Registered:  no")
			} else {
				fmt.Fprintln(out, "Registered:  yes")
				fmt.Fprintf(out, "Binary:      %s\n", status.Command)
				if status.DataDir != "" {
					fmt.Fprintf(out, "Data dir:    %s\n", status.DataDir)
				}
			}
			for _, issue := range status.Issues {
				fmt.Fprintf(out, "  ! %s\n", issue)
			}
			return nil
		},
	}
}
