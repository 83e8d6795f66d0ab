package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flexiant/camanager/internal/util"
)

var (
	crlCA       string
	crlPassword string
	crlOut      string
)

var crlCmd = &cobra.Command{
	Use:   "crl",
	Short: "CRL tools",
}

var crlGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate, store and print a new CRL for a CA",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()

		var password []byte
		if crlPassword != "" {
			password = []byte(crlPassword)
			defer util.WipeBytes(password)
		}
		crlPEM, err := b.registry.GenerateCRL(cmd.Context(), crlCA, password)
		if err != nil {
			return err
		}
		if crlOut == "" || crlOut == "-" {
			_, err = cmd.OutOrStdout().Write(crlPEM)
			return err
		}
		if err := os.WriteFile(crlOut, crlPEM, 0o644); err != nil {
			return fmt.Errorf("writing CRL: %w", err)
		}
		b.logger.Info("CRL written", "ca", crlCA, "path", crlOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crlCmd)
	crlCmd.AddCommand(crlGenerateCmd)
	crlGenerateCmd.Flags().StringVar(&crlCA, "ca", "", "CA name")
	crlGenerateCmd.Flags().StringVarP(&crlPassword, "password", "P", "", "CA key password; defaults to the stored one")
	crlGenerateCmd.Flags().StringVarP(&crlOut, "out", "o", "", "Output file; stdout when empty")
	_ = crlGenerateCmd.MarkFlagRequired("ca")
}
