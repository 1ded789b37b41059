package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-spool/pkg/buildinfo"
)

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return RunVersion(stdout, buildinfo.Name, buildinfo.Version)
		},
	}
}

// RunVersion prints the application version.
func RunVersion(w io.Writer, appName, appVersion string) error {
	_, err := fmt.Fprintf(w, "%s version %s\n", appName, appVersion)
	return err
}
