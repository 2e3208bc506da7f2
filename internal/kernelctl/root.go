package kernelctl

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/agentkernel/pkg/config"
)

// RootOptions holds the flags shared by every kernelctl subcommand.
type RootOptions struct {
	EnvFile string
	JSON    bool
	cfg     *config.Config
}

// Config lazily loads and caches the kernel's configuration, so a
// subcommand's RunE only pays the env-parsing cost once even if it calls
// this more than once.
func (o *RootOptions) Config() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	_ = godotenv.Load(o.EnvFile)
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	o.cfg = cfg
	return cfg, nil
}

// NewRootCommand builds the kernelctl root command and wires every
// subcommand beneath it.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "kernelctl",
		Short:         "Operator CLI for the agent kernel's event store and projections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "path to a .env file to load before reading configuration")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "emit JSON instead of text output")

	cmd.AddCommand(newVerifyChainCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newInspectRunCommand(opts))

	return cmd
}
