package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edepot/sipkit/concepts"
	"github.com/edepot/sipkit/edepot"
)

var aclFlag string

var uploadCmd = &cobra.Command{
	Use:   "upload <dir>",
	Short: "Upload every manifest-listed file to object storage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManifest(args[0])
		if err != nil {
			return err
		}
		d, err := newDepot()
		if err != nil {
			return err
		}
		if err := d.StoreFromManifest(m, args[0]); err != nil {
			return err
		}
		fmt.Printf("uploaded %d files\n", m.Len())
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <dir>",
	Short: "Check uploaded objects against the manifest digests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManifest(args[0])
		if err != nil {
			return err
		}
		d, err := newDepot()
		if err != nil {
			return err
		}
		if err := d.VerifyFromManifest(m); err != nil {
			return err
		}
		fmt.Printf("verified %d files\n", m.Len())
		return nil
	},
}

var aclCmd = &cobra.Command{
	Use:   "acl <dir>",
	Short: "Apply a canned ACL to every uploaded file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManifest(args[0])
		if err != nil {
			return err
		}
		d, err := newDepot()
		if err != nil {
			return err
		}
		if err := d.UpdateACLFromManifest(m, aclFlag); err != nil {
			return err
		}
		fmt.Printf("set %s on %d files\n", aclFlag, m.Len())
		return nil
	},
}

func newDepot() (*edepot.Depot, error) {
	return edepot.New(cfg, concepts.NewResolver(cfg, "actor"))
}

func init() {
	aclCmd.Flags().StringVar(&aclFlag, "acl", "public-read", "canned ACL to apply")
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(aclCmd)
}
