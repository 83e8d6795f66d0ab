package cmd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/flexiant/camanager/api"
	"github.com/flexiant/camanager/pki"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the CA HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()

		opts := []api.Option{
			api.WithLogger(b.logger),
			api.WithAuditRepository(b.repo, cfg.AuditMaxAge, cfg.AuditMaxEntries),
			api.WithAlertFunc(func(e api.AlertEvent) {
				b.logger.Warn("alert", "type", string(e.Type), "message", e.Message, "count", e.Count, "threshold", e.Threshold)
			}),
		}
		if cfg.AuditWebhookURL != "" {
			opts = append(opts, api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookHeader))
		}
		a := api.New(b.registry, opts...)
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(api.RequestLogger(b.logger))
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/", a.Router())

		tlsConfig, err := serverTLSConfig()
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		b.logger.Info("starting server", "port", cfg.Port, "storage", cfg.Storage, "data_dir", cfg.DataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			b.logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func serverTLSConfig() (*tls.Config, error) {
	if cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
	}
	cert, err := selfSignedServingCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	fmt.Println("Using self-signed runtime generated certificate for TLS")
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// selfSignedServingCert issues a short lived localhost certificate used when
// no TLS key pair is configured.
func selfSignedServingCert() (tls.Certificate, error) {
	subject, err := pki.ParseSubject("/CN=localhost/O=camanager")
	if err != nil {
		return tls.Certificate{}, err
	}
	csr, err := pki.NewCSRBuilder(nil).Build(subject, nil)
	if err != nil {
		return tls.Certificate{}, err
	}
	notBefore, notAfter, err := pki.ConvertValidityPeriod(int64((30 * 24 * time.Hour).Seconds()), time.Now())
	if err != nil {
		return tls.Certificate{}, err
	}
	cert, err := pki.SelfSign(&pki.EnforcedOptions{
		PublicKey: csr.Key.Public(),
		Subject:   subject,
		Extensions: []pki.Extension{
			pki.SubjectAlternativeName{Names: pki.ParseGeneralNames([]string{"localhost", "127.0.0.1", "::1"})},
			pki.KeyUsage{Usage: x509.KeyUsageDigitalSignature},
			pki.ExtendedKeyUsage{Usages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}},
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,
	}, csr.Key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: csr.Key, Leaf: cert}, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&cfg.Port, "port", "p", cfg.Port, "Port to listen on")
	serverCmd.Flags().StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "Path to TLS key file")
	serverCmd.Flags().StringVar(&cfg.AuditWebhookURL, "audit-webhook-url", cfg.AuditWebhookURL, "URL that receives audit events")
}
