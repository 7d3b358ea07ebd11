package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/BioHazard786/callrelay/internal/config"
	"github.com/BioHazard786/callrelay/internal/logging"
	"github.com/BioHazard786/callrelay/internal/ui"
	"github.com/BioHazard786/callrelay/internal/version"
)

var flagConfigFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "callrelay",
	Short: "Signaling relay for one-to-one WebRTC calls",
	Long: `callrelay is a signaling server for browser-to-browser WebRTC calls. It tracks
connected participants, pairs them into two-party rooms by invite code or at random,
and relays offers, answers, ICE candidates and chat between the two ends.

Running callrelay without a subcommand starts the server.`,
	Version: version.Version,
	RunE:    runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "path to a YAML config file")
	addServerFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd, statusCmd, probeCmd, configCmd)
}

// addServerFlags registers one flag per configuration key. Flags left unset
// fall through to env, config file and defaults.
func addServerFlags(fs *pflag.FlagSet) {
	fs.String(config.FlagName(config.KeyListenAddr), config.DefaultListenAddr, "address to listen on")
	fs.String(config.FlagName(config.KeyLogLevel), config.DefaultLogLevel, "log level ("+logging.LevelNames()+")")
	fs.String(config.FlagName(config.KeyLogFormat), config.DefaultLogFormat, "log format (text, json)")
	fs.StringSlice(config.FlagName(config.KeyAllowedOrigins), nil, "allowed browser origins for /ws (default: any)")
	fs.Int64(config.FlagName(config.KeyMaxMessageBytes), config.DefaultMaxMessageBytes, "maximum inbound frame size in bytes")
	fs.Int(config.FlagName(config.KeySendBuffer), config.DefaultSendBuffer, "outbound messages buffered per connection")
	fs.Float64(config.FlagName(config.KeyMessagesPerSecond), config.DefaultMessagesPerSecond, "inbound messages per second per connection (0 disables)")
	fs.Int(config.FlagName(config.KeyMessageBurst), config.DefaultMessageBurst, "inbound message burst per connection")
	fs.Duration(config.FlagName(config.KeyPendingCallTimeout), config.DefaultPendingCallTimeout, "how long a random call may ring unanswered (0 disables)")
	fs.Duration(config.FlagName(config.KeyShutdownTimeout), config.DefaultShutdownTimeout, "grace period for in-flight requests on shutdown")
	fs.String(config.FlagName(config.KeySTUNServer), config.DefaultSTUN, "STUN server URL handed to browsers")
	fs.String(config.FlagName(config.KeyTURNServer), "", "TURN server host or URL handed to browsers")
	fs.String(config.FlagName(config.KeyTURNUser), "", "TURN username")
	fs.String(config.FlagName(config.KeyTURNPass), "", "TURN password")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(flagConfigFile, cmd.Flags())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
