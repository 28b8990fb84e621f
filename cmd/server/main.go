package main

import (
	"context"
	"fmt"
	"log/syslog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buzkaaclicker/nametag"
	"github.com/buzkaaclicker/nametag/config"
	"github.com/buzkaaclicker/nametag/inmem"
	"github.com/buzkaaclicker/nametag/persistent"
	"github.com/buzkaaclicker/nametag/transport/rest"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/sirupsen/logrus"
	logrusys "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tidwall/buntdb"
	"github.com/uptrace/bun/extra/bundebug"
)

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:           "nametag",
	Short:         "Username registry bound to wallet addresses",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		}
		cfg, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml)")
	flags.Bool("debug", false, "debug logging and verbose errors")
	flags.String("addr", ":2137", "http listen address")
	flags.String("store", config.BackendPostgres, "profile store backend (postgres, bunt, memory)")

	bindFlag(v, "debug", "debug")
	bindFlag(v, "server.addr", "addr")
	bindFlag(v, "store.backend", "store")
}

func bindFlag(v *viper.Viper, key string, flag string) {
	cobra.CheckErr(v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)))
}

type stores struct {
	profiles   nametag.ProfileStore
	activities nametag.ActivityStore
	close      func()
}

func openStores(ctx context.Context, cfg *config.Config, sessionBunt *buntdb.DB) (stores, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		logrus.Infoln("Opening database.")
		pg, err := persistent.PgOpen(ctx, cfg.Postgres.Dsn)
		if err != nil {
			return stores{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.Postgres.Verbose {
			pg.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
		}
		if err := persistent.CreateSchema(ctx, pg); err != nil {
			_ = pg.Close()
			return stores{}, fmt.Errorf("create schema: %w", err)
		}
		return stores{
			profiles:   &persistent.ProfileStore{DB: pg},
			activities: &persistent.ActivityStore{DB: pg},
			close:      func() { _ = pg.Close() },
		}, nil
	case config.BackendBunt:
		if cfg.Bunt.Path == cfg.Session.Path {
			return stores{
				profiles:   &persistent.BuntProfileStore{Buntdb: sessionBunt},
				activities: inmem.NewActivityStore(),
				close:      func() {},
			}, nil
		}
		bdb, err := buntdb.Open(cfg.Bunt.Path)
		if err != nil {
			return stores{}, fmt.Errorf("open profile buntdb: %w", err)
		}
		return stores{
			profiles:   &persistent.BuntProfileStore{Buntdb: bdb},
			activities: inmem.NewActivityStore(),
			close:      func() { _ = bdb.Close() },
		}, nil
	default:
		logrus.Warnln("Profiles are kept in memory and lost on shutdown.")
		return stores{
			profiles:   inmem.NewProfileStore(),
			activities: inmem.NewActivityStore(),
			close:      func() {},
		}, nil
	}
}

func listenAndServe(cfg *config.Config, bdb *buntdb.DB, st stores) (func() error, error) {
	sessionStore := &persistent.SessionStore{Buntdb: bdb, ActivityStore: st.activities}
	if err := sessionStore.CreateIndexes(); err != nil {
		return nil, err
	}
	registry := &nametag.Registry{Store: st.profiles}

	authController := rest.AuthController{
		ChallengeStore: &persistent.ChallengeStore{Buntdb: bdb},
		SessionStore:   sessionStore,
	}
	profileController := rest.ProfileController{Registry: registry}
	activityController := rest.ActivityController{Store: st.activities}
	sessionController := rest.SessionController{Store: sessionStore}

	server := fiber.New(fiber.Config{ErrorHandler: rest.ErrorHandler})
	server.Use(rest.LogHandler())

	api := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorHandler: rest.ErrorHandler,
	})
	api.Use(cors.New(cors.Config{AllowOrigins: cfg.Server.AllowOrigins}))

	requestAuthorizer := rest.RequestAuthorizer(sessionStore)
	api.Get("/status", monitor.New())
	authController.InstallTo(api)
	profileController.InstallTo(requestAuthorizer, api)
	activityController.InstallTo(requestAuthorizer, api)
	sessionController.InstallTo(requestAuthorizer, api)

	server.Mount("/api/", api)
	server.Use(rest.NotFoundHandler)

	go func() {
		if err := server.Listen(cfg.Server.Addr); err != nil {
			logrus.WithError(err).Errorln("Listen failed.")
		}
	}()
	return server.Shutdown, nil
}

func setupLogger(debug bool, syslogTag string) {
	logrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.Stamp,
		FullTimestamp:   true,
	})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if syslogTag == "" {
		return
	}

	syslogHook, err := logrusys.NewSyslogHook("", "", syslog.LOG_USER, syslogTag)
	if err != nil {
		logrus.WithError(err).Errorln("Could not create syslog hook.")
		return
	}
	logrus.AddHook(syslogHook)
}

func awaitInterruption(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func run(ctx context.Context, cfg *config.Config) error {
	setupLogger(cfg.Debug, cfg.Log.Syslog)
	logrus.WithField("store", cfg.Store.Backend).Infoln("Starting nametag.")

	bdb, err := buntdb.Open(cfg.Session.Path)
	if err != nil {
		return fmt.Errorf("open session buntdb: %w", err)
	}
	defer bdb.Close()

	st, err := openStores(ctx, cfg, bdb)
	if err != nil {
		return err
	}
	defer st.close()

	shutdown, err := listenAndServe(cfg, bdb, st)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logrus.WithField("addr", cfg.Server.Addr).Infoln("Listening... To shut down use ^C")

	awaitInterruption(ctx)

	logrus.Infoln("Shutting down...")
	if err := shutdown(); err != nil {
		logrus.WithError(err).Warningln("Fiber shutdown failed.")
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logrus.WithError(err).Fatalln("Server failed.")
	}
}
