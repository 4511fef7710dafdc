package cmd

import (
	"fmt"
	"os"

	"saltboot/internal/bootstrap"
	"saltboot/internal/config"
	"saltboot/internal/logging"
	"saltboot/internal/provider"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// exitCodeCreated distinguishes "created a new instance" from "found an
// existing one" (exit 0) for calling scripts.
const exitCodeCreated = 15

var (
	showRootPass bool
	sshPubKey    string
	seedDir      string
	addSLCLI     bool
	debug        bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "saltboot <instance-name> <instance-domain>",
	Short: "Provision and locate a SoftLayer-hosted saltmaster VM",
	Long: `saltboot locates the SoftLayer virtual guest with the given hostname and
domain, creating and configuring one over SSH if it does not exist yet.

The final line on stdout reports the instance as
"<fqdn> <ip> <root-password> <id>", with the password redacted unless
--show-root-pass is given. Exit code 0 means the instance already
existed; 15 means this run created it.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runBootstrap(args[0], args[1])
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&showRootPass, "show-root-pass", false, "show the instance root password on stdout")
	rootCmd.Flags().StringVar(&sshPubKey, "ssh-pub-key", "", "path to a public SSH key to register with SoftLayer, or the label of an already-registered key")
	rootCmd.Flags().StringVar(&seedDir, "seed-dir", "", "salt seed directory; the tree is copied onto the instance filesystem root")
	rootCmd.Flags().BoolVar(&addSLCLI, "add-sl-cli", false, "install the SoftLayer CLI on the instance and copy the local credentials file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug output")
}

func runBootstrap(hostname, domain string) {
	if debug {
		logging.EnableDebug()
		logging.Logger().Debug("Enabling debug output")
	}

	logging.Logger().Info("Loading configuration")
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
	}

	client := provider.NewSoftLayer(cfg.Username, cfg.APIKey, cfg.Endpoint)

	res, err := bootstrap.New(client, cfg).Run(bootstrap.Options{
		Hostname:  hostname,
		Domain:    domain,
		SSHPubKey: sshPubKey,
		SeedDir:   seedDir,
		AddSLCLI:  addSLCLI,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "saltboot: %v\n", err)
		_ = logging.Sync()
		os.Exit(1)
	}

	fmt.Println(bootstrap.Report(res.Instance, showRootPass))

	if res.Created {
		_ = logging.Sync()
		os.Exit(exitCodeCreated)
	}
}
