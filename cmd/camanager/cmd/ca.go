package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/flexiant/camanager/pki"
	"github.com/flexiant/camanager/registry"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Provision and inspect CAs",
	Long:  `Commands for creating root CAs, importing existing CAs and listing the stored CAs.`,
}

var (
	caName         string
	caSubject      string
	caValidityDays int
	caConfigFile   string
	caPathLen      int
	caPassword     string
	caStorePass    bool
	caCertFile     string
	caKeyFile      string
	caParent       string
)

// readConfigFile returns the JSON profile configuration, or "" without a
// file.
func readConfigFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading CA config: %w", err)
	}
	return string(data), nil
}

// lockedPassword copies the flag password into locked memory.
func lockedPassword() *memguard.LockedBuffer {
	if caPassword == "" {
		return memguard.NewBuffer(0)
	}
	return memguard.NewBufferFromBytes([]byte(caPassword))
}

var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate and store a self-signed root CA",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, err := pki.ParseSubject(caSubject)
		if err != nil {
			return err
		}
		configJSON, err := readConfigFile(caConfigFile)
		if err != nil {
			return err
		}

		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()

		password := lockedPassword()
		defer password.Destroy()

		req := &registry.InitRootRequest{
			Name:           caName,
			Subject:        subject,
			ValidityPeriod: int64(caValidityDays) * int64((24 * time.Hour).Seconds()),
			ConfigJSON:     configJSON,
			Password:       password.Bytes(),
			StorePassword:  caStorePass,
		}
		if caPathLen >= 0 {
			req.PathLength = &caPathLen
		}
		ca, cert, err := b.registry.InitRoot(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created root CA %q (id %s, serial %s)\n", ca.Name, ca.ID, pki.SerialOf(cert))
		cmd.OutOrStdout().Write(pki.EncodeCertificatePEM(cert))
		return nil
	},
}

var caImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an existing CA certificate and key",
	RunE: func(cmd *cobra.Command, args []string) error {
		certPEM, err := os.ReadFile(caCertFile)
		if err != nil {
			return fmt.Errorf("reading certificate: %w", err)
		}
		var keyPEM []byte
		if caKeyFile != "" {
			if keyPEM, err = os.ReadFile(caKeyFile); err != nil {
				return fmt.Errorf("reading private key: %w", err)
			}
		}
		configJSON, err := readConfigFile(caConfigFile)
		if err != nil {
			return err
		}

		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()

		password := lockedPassword()
		defer password.Destroy()

		req := &registry.ImportRequest{
			Name:           caName,
			CertificatePEM: certPEM,
			PrivateKeyPEM:  keyPEM,
			KeyPassword:    password.Bytes(),
			ConfigJSON:     configJSON,
			ParentName:     caParent,
		}
		if caStorePass {
			req.CertPassword = caPassword
		}
		ca, err := b.registry.ImportAuthority(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported CA %q (id %s)\n", ca.Name, ca.ID)
		return nil
	},
}

var caListJSON bool

var caListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored CAs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := openBackend(ctx)
		if err != nil {
			return err
		}
		defer b.close()

		store := b.registry.Store()
		cas, err := b.registry.Authorities(ctx)
		if err != nil {
			return err
		}

		type row struct {
			Name    string `json:"name"`
			ID      string `json:"id"`
			Revoked bool   `json:"revoked"`
			pki.CertificateInfo
		}
		rows := make([]row, 0, len(cas))
		for _, ca := range cas {
			r := row{Name: ca.Name, ID: ca.ID}
			if ca.CACertificateID != "" {
				rec, err := store.GetCertificate(ctx, ca.CACertificateID)
				if err != nil {
					return err
				}
				cert, err := rec.X509()
				if err != nil {
					return err
				}
				r.CertificateInfo = pki.Describe(cert)
			}
			if r.Revoked, err = store.IsAuthorityRevoked(ctx, ca); err != nil {
				return err
			}
			rows = append(rows, r)
		}

		if caListJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSERIAL\tSUBJECT\tNOT AFTER\tREVOKED")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", r.Name, r.SerialNumber, r.Subject, r.NotAfter, r.Revoked)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(caCmd)
	caCmd.AddCommand(caInitCmd, caImportCmd, caListCmd)

	for _, c := range []*cobra.Command{caInitCmd, caImportCmd} {
		c.Flags().StringVar(&caName, "name", "", "CA name")
		c.Flags().StringVar(&caConfigFile, "config", "", "Path to the JSON profile configuration")
		c.Flags().StringVar(&caPassword, "password", "", "Password protecting the CA private key")
		c.Flags().BoolVar(&caStorePass, "store-password", false, "Store the password with the certificate so requests need not send it")
		_ = c.MarkFlagRequired("name")
	}

	caInitCmd.Flags().StringVar(&caSubject, "subject", "", `Subject DN, e.g. "/CN=Example Root CA/O=Example"`)
	caInitCmd.Flags().IntVar(&caValidityDays, "validity-days", 3650, "Validity of the root certificate in days")
	caInitCmd.Flags().IntVar(&caPathLen, "path-length", -1, "Maximum subordinate CA depth; negative leaves it unlimited")
	_ = caInitCmd.MarkFlagRequired("subject")

	caImportCmd.Flags().StringVar(&caCertFile, "cert", "", "Path to the PEM certificate")
	caImportCmd.Flags().StringVar(&caKeyFile, "key", "", "Path to the PEM private key")
	caImportCmd.Flags().StringVar(&caParent, "parent", "", "Name of the signing CA; empty for a root")
	_ = caImportCmd.MarkFlagRequired("cert")

	caListCmd.Flags().BoolVar(&caListJSON, "json", false, "Output JSON")
}
