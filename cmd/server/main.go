package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kiliankoe/casefile/internal/api"
	"github.com/kiliankoe/casefile/internal/config"
	"github.com/kiliankoe/casefile/internal/game"
	"github.com/kiliankoe/casefile/internal/store"
	"github.com/kiliankoe/casefile/internal/store/migrations"
	"github.com/kiliankoe/casefile/internal/ws"
	staticserver "github.com/kiliankoe/casefile/static"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev" // Set at build time via -ldflags

func main() {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "casefile",
		Short:         "Casefile - collaborative case file writing party game",
		Args:          cobra.ExactArgs(0),
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), *cfg)
		},
	}
	config.Register(cmd.Flags(), cfg)
	config.ApplyEnv(cmd.Flags(), viper.New())
	cmd.SetVersionTemplate("casefile {{.Version}}\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("casefile exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(cw)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	profiles, archive, stats, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		log.Info().Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	})
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	sock := ws.New(cfg.EventRate, cfg.EventBurst)
	rm := game.NewRoomManager(sock, game.Deps{
		Tiers:    store.Tiers{Profiles: profiles},
		Recorder: store.Recorder{Archive: archive, Stats: stats},
	}, game.WithMaxRooms(cfg.MaxRooms))
	sock.SetRoomManager(rm)
	io := sock.Mount(r)
	defer io.Close()

	h := &api.Handler{RM: rm, Profiles: profiles}
	h.Register(r)

	r.NoRoute(func(c *gin.Context) {
		staticserver.Handler().ServeHTTP(c.Writer, c.Request)
	})

	srv := &http.Server{Addr: cfg.Addr(), Handler: r}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("version", version).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// openStores picks PostgreSQL when a database url is configured and the
// in-memory stores otherwise. Without a database, finished documents also go
// to the text archive when one is configured.
func openStores(ctx context.Context, cfg config.Config) (store.ProfileStore, store.Archive, store.Stats, func(), error) {
	if cfg.DatabaseURL != "" {
		if err := migrations.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, nil, nil, err
		}
		repo, err := store.NewPostgresRepo(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		log.Info().Msg("using postgres stores")
		return repo, repo, repo, repo.Close, nil
	}

	mem := store.NewMemory(cfg.AdminIDs...)
	var archive store.Archive = mem
	if cfg.ExportFile != "" {
		archive = store.NewFileArchive(cfg.ExportFile)
		log.Info().Str("file", cfg.ExportFile).Msg("archiving finished documents to file")
	}
	log.Warn().Msg("no database configured, profiles and stats are kept in memory")
	return mem, archive, mem, func() {}, nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	c.AllowHeaders = append(c.AllowHeaders, api.UserHeader)
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}
