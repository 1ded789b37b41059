package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-spool/pkg/buildinfo"
	"github.com/paulschiretz/pgl-spool/pkg/config"
	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/util"
)

// DefaultSpoolRoot is the spool root written by init when --spool is not set.
const DefaultSpoolRoot = "/srv/spool"

func newInitCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return RunInit(cmd.InOrStdin(), cmd.OutOrStdout(), setFlags(cmd))
		},
	}
	c.Flags().String("config", "", "Path of the config file to write (.yaml, .yml or .json).")
	c.Flags().String("spool", DefaultSpoolRoot, "Spool root of the starter config.")
	c.Flags().Bool("force", false, "Overwrite an existing config file without asking.")
	_ = c.MarkFlagRequired("config")
	return c
}

// RunInit handles the logic for the 'init' command.
func RunInit(in io.Reader, out io.Writer, flagMap map[string]any) error {
	configPath, ok := flagMap["config"].(string)
	if !ok || configPath == "" {
		return fmt.Errorf("the --config flag is required for the init operation")
	}
	absConfigPath, err := util.AbsPath(configPath)
	if err != nil {
		return fmt.Errorf("could not determine absolute config path for %s: %w", configPath, err)
	}

	spoolRoot := DefaultSpoolRoot
	if s, ok := flagMap["spool"].(string); ok && s != "" {
		spoolRoot = s
	}
	spoolRoot, err = util.AbsPath(spoolRoot)
	if err != nil {
		return fmt.Errorf("invalid spool root: %w", err)
	}

	force, _ := flagMap["force"].(bool)
	if !force {
		if _, err := os.Stat(absConfigPath); err == nil {
			fmt.Fprintf(out, "WARNING: Configuration file already exists at %s.\n", absConfigPath)
			fmt.Fprintf(out, "Continuing will overwrite it with the starter config. All custom settings will be lost.\n")
			if !PromptForConfirmation(in, out, "Are you sure you want to continue?", false) {
				plog.Info(buildinfo.Name + " init operation canceled.")
				return nil
			}
		}
	}

	cfg := config.Example(spoolRoot)
	// The starter config must be loadable as written.
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := cfg.ResolveTargets(); err != nil {
		return err
	}

	if err := config.Generate(absConfigPath, cfg); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}
	plog.Info(buildinfo.Name+" config initialized.", "path", absConfigPath, "spool", spoolRoot)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(in io.Reader, out io.Writer, prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s: ", prompt, suffix)

	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
