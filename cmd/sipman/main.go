// sipman is a command line tool for working with submission packages:
// building and checking their manifests, and moving their files to and
// from object storage.
package main

import (
	"fmt"
	"os"

	raven "github.com/getsentry/raven-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edepot/sipkit/config"
)

var (
	cfg        config.Config
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sipman",
	Short: "Manage submission package manifests and storage",
	Long: `sipman operates on a package directory: a flat directory of files
indexed by a checksum manifest. It can build the manifest, verify the
directory against it, and push the listed files to object storage.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg = config.Default()
		}
		if err != nil {
			return err
		}
		if cfg.SentryDSN != "" {
			raven.SetDSN(cfg.SentryDSN)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		raven.CaptureErrorAndWait(err, nil)
		fmt.Fprintln(os.Stderr, "sipman:", err)
		os.Exit(1)
	}
}
