package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meridianhealthlab/chartnotes/internal/access"
	"github.com/meridianhealthlab/chartnotes/internal/attachments"
	"github.com/meridianhealthlab/chartnotes/internal/auth"
	"github.com/meridianhealthlab/chartnotes/internal/config"
	"github.com/meridianhealthlab/chartnotes/internal/database"
	"github.com/meridianhealthlab/chartnotes/internal/logging"
	"github.com/meridianhealthlab/chartnotes/internal/notes"
	"github.com/meridianhealthlab/chartnotes/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chartnotes-api",
		Short: "Clinical note service for multi-clinic deployments",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("auth-issuer", defaults.GetString("auth.issuer"), "Expected issuer of gateway tokens")
	cmd.PersistentFlags().String("signing-secret", "", "Gateway token signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-endpoint", defaults.GetString("storage.endpoint"), "Object storage endpoint")
	cmd.PersistentFlags().String("storage-bucket", defaults.GetString("storage.bucket"), "Attachment bucket name")
	cmd.PersistentFlags().String("storage-access-key", "", "Object storage access key (overrides env)")
	cmd.PersistentFlags().String("storage-secret-key", "", "Object storage secret key (overrides env)")
	cmd.PersistentFlags().Bool("storage-use-ssl", defaults.GetBool("storage.use_ssl"), "Use TLS for object storage")
	cmd.PersistentFlags().Duration("presign-ttl", defaults.GetDuration("storage.presign_ttl"), "Lifetime of presigned upload URLs")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.issuer", "auth-issuer")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
	bindFlag(cmd, "storage.access_key", "storage-access-key")
	bindFlag(cmd, "storage.secret_key", "storage-secret-key")
	bindFlag(cmd, "storage.use_ssl", "storage-use-ssl")
	bindFlag(cmd, "storage.presign_ttl", "presign-ttl")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	gate := access.NewGate()

	validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
	})
	if err != nil {
		return err
	}

	repository, err := notes.NewRepository(notes.RepositoryConfig{
		Database:   db,
		Gate:       gate,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDSuffixProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	presigner, err := attachments.NewMinioPresigner(attachments.MinioPresignerConfig{
		Endpoint:  appConfig.StorageEndpoint,
		AccessKey: appConfig.StorageAccessKey,
		SecretKey: appConfig.StorageSecretKey,
		Bucket:    appConfig.StorageBucket,
		UseSSL:    appConfig.StorageUseSSL,
	})
	if err != nil {
		return err
	}

	broker, err := attachments.NewBroker(attachments.BrokerConfig{
		Presigner: presigner,
		Gate:      gate,
		Clock:     time.Now,
		GrantTTL:  appConfig.PresignTTL,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: validator,
		NoteRepository: repository,
		UploadBroker:   broker,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
