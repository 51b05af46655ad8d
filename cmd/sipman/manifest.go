package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/edepot/sipkit/manifest"
	"github.com/edepot/sipkit/sips"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Build and check package manifests",
}

var manifestCreateCmd = &cobra.Command{
	Use:   "create <dir>",
	Short: "Create a manifest covering every file in the directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		scheme, err := sips.InferScheme(cfg, dir)
		if err != nil {
			return err
		}
		m := manifest.New(dir, scheme.ManifestFilename(), scheme.EventlogFilename())
		if err := m.CreateFromDirectory(); err != nil {
			return err
		}
		if err := m.Save(); err != nil {
			return err
		}
		fmt.Printf("wrote %s with %d entries\n", m.Filename(), m.Len())
		return nil
	},
}

var manifestValidateCmd = &cobra.Command{
	Use:   "validate <dir>",
	Short: "Check every file in the directory against the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManifest(args[0])
		if err != nil {
			return err
		}
		err = m.Validate()
		if err == nil {
			fmt.Printf("%s: %d entries ok\n", m.Filename(), m.Len())
			return nil
		}
		report, ok := errors.Cause(err).(*manifest.ValidationError)
		if !ok {
			return err
		}
		for _, name := range report.Missing {
			fmt.Printf("missing     %s\n", name)
		}
		for _, mm := range report.Mismatched {
			fmt.Printf("mismatched  %s (expected %s, got %s)\n", mm.Filename, mm.Expected, mm.Actual)
		}
		for _, name := range report.Extra {
			fmt.Printf("extra       %s\n", name)
		}
		return report
	},
}

var manifestAppendCmd = &cobra.Command{
	Use:   "append <dir>",
	Short: "Add files not yet listed in the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManifest(args[0])
		if err != nil {
			return err
		}
		added, err := m.AppendFromDirectory()
		if err != nil {
			return err
		}
		if err := m.Save(); err != nil {
			return err
		}
		for _, name := range added {
			fmt.Printf("added  %s\n", name)
		}
		fmt.Printf("%s now holds %d entries\n", m.Filename(), m.Len())
		return nil
	},
}

// openManifest infers the package's naming scheme from the directory
// contents and loads its manifest.
func openManifest(dir string) (*manifest.Manifest, error) {
	scheme, err := sips.InferScheme(cfg, dir)
	if err != nil {
		return nil, err
	}
	return manifest.Load(dir, scheme.ManifestFilename(), scheme.EventlogFilename())
}

func init() {
	manifestCmd.AddCommand(manifestCreateCmd)
	manifestCmd.AddCommand(manifestValidateCmd)
	manifestCmd.AddCommand(manifestAppendCmd)
	rootCmd.AddCommand(manifestCmd)
}
