// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/javajoker/hotspot-billing/internal/cache"
	"github.com/javajoker/hotspot-billing/internal/config"
	"github.com/javajoker/hotspot-billing/internal/database"
	"github.com/javajoker/hotspot-billing/internal/gateway"
	"github.com/javajoker/hotspot-billing/internal/i18n"
	"github.com/javajoker/hotspot-billing/internal/router"
	"github.com/javajoker/hotspot-billing/internal/services"
	"github.com/javajoker/hotspot-billing/internal/sms"
	"github.com/javajoker/hotspot-billing/internal/utils"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hotspot-billing",
		Short:        "Hotspot voucher sales: payments, fulfillment and SMS delivery",
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(operatorCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the pending-payment sweeper",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer database.Close(db)

			seed, _ := cmd.Flags().GetBool("seed")
			if !seed {
				return nil
			}
			email, _ := cmd.Flags().GetString("operator-email")
			password, _ := cmd.Flags().GetString("operator-password")
			if cfg.IsProduction() {
				return errors.New("refusing to seed demo data in production")
			}
			return database.SeedInitialData(db, email, password)
		},
	}

	cmd.Flags().Bool("seed", false, "Seed a demo reseller, packages and vouchers")
	cmd.Flags().String("operator-email", "", "Create this operator while seeding")
	cmd.Flags().String("operator-password", "", "Password for the seeded operator")

	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale pending payments and retry failed SMS once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer database.Close(db)

			svc, err := buildServices(cfg, db)
			if err != nil {
				return err
			}

			report, err := svc.Sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("scanned=%d confirmed=%d failed=%d expired=%d notifications=%d\n",
				report.Scanned, report.Confirmed, report.Failed, report.Expired, report.Notifications)
			return nil
		},
	}
}

func operatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage operator accounts",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an operator or reset an existing operator's password",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			password, _ := cmd.Flags().GetString("password")
			if err := utils.ValidateStruct(&struct {
				Email    string `validate:"required,email"`
				Password string `validate:"required,strong_password"`
			}{email, password}); err != nil {
				return fmt.Errorf("invalid operator: %w", err)
			}

			cfg, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer database.Close(db)

			admin := services.NewAdminService(db, cfg, services.NewVoucherService(db, cfg), nil, nil)
			op, err := admin.CreateOperator(cmd.Context(), email, name, password)
			if err != nil {
				return err
			}
			fmt.Printf("operator %d (%s) ready\n", op.ID, op.Email)
			return nil
		},
	}
	create.Flags().String("email", "", "Operator e-mail address")
	create.Flags().String("name", "", "Display name")
	create.Flags().String("password", "", "Password (8+ chars, upper, lower and a digit)")

	cmd.AddCommand(create)
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a random secret for MPESA_CALLBACK_TOKEN",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := utils.GenerateCallbackToken()
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer database.Close(db)

	svc, err := buildServices(cfg, db)
	if err != nil {
		return err
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.Initialize(db, cfg, svc)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go svc.Sweeper.Run(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logrus.Info("Server exited")
	return nil
}

// bootstrap loads configuration, sets up logging and i18n, and opens a
// migrated database.
func bootstrap() (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogging(cfg)

	if err := i18n.Initialize(cfg.I18n.DefaultLocale, cfg.I18n.LocalesPath); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize i18n: %w", err)
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := database.RunMigrations(db); err != nil {
		database.Close(db)
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return cfg, db, nil
}

func buildServices(cfg *config.Config, db *gorm.DB) (*router.Services, error) {
	c, err := cache.New(cfg.Redis)
	if err != nil {
		return nil, err
	}

	var publisher sms.SNSPublisher
	snsClient, err := sms.NewSNSClient(cfg.AWS)
	if err != nil {
		return nil, err
	}
	if snsClient != nil {
		publisher = snsClient
	}

	var mailer services.AlertMailer
	if brevo := services.NewBrevoMailer(cfg.Alerts); brevo != nil {
		mailer = brevo
	} else {
		logrus.Warn("Alert e-mail not configured, voucher exhaustion alerts go to the log only")
	}

	return router.NewServices(db, cfg, gateway.NewResolver(db, cfg, c), c, publisher, mailer), nil
}

func setupLogging(cfg *config.Config) {
	if cfg.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
