package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gosuda.org/portal/sdk"

	"github.com/gosuda/chatdesk/internal/chat"
	"github.com/gosuda/chatdesk/internal/config"
	"github.com/gosuda/chatdesk/internal/gateway"
	"github.com/gosuda/chatdesk/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "chatdesk",
	Short: "Live support chat backend (visitor widget + agent console over websockets)",
	RunE:  runServer,
}

var (
	flagPort       int
	flagName       string
	flagDataPath   string
	flagAdminToken string
	flagServerURLs []string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&flagPort, "port", 0, "local HTTP port (overrides CHATDESK_PORT)")
	flags.StringVar(&flagName, "name", "", "backend display name (overrides CHATDESK_NAME)")
	flags.StringVar(&flagDataPath, "data-path", "", "directory for the PebbleDB document store; in-memory when empty")
	flags.StringVar(&flagAdminToken, "admin-token", "", "admin console credential (overrides CHATDESK_ADMIN_TOKEN)")
	flags.StringSliceVar(&flagServerURLs, "server-url", nil, "optional relay server URL(s) to also serve through")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chatdesk command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if flagPort > 0 {
		cfg.Port = fmt.Sprintf("%d", flagPort)
	}
	if flagName != "" {
		cfg.Name = flagName
	}
	if flagDataPath != "" {
		cfg.DataPath = flagDataPath
	}
	if flagAdminToken != "" {
		cfg.AdminToken = flagAdminToken
	}
	if len(flagServerURLs) > 0 {
		cfg.RelayURLs = flagServerURLs
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// Document store: persistent when a data path is given, in-memory
	// otherwise.
	var st *store.Store
	var err error
	if cfg.DataPath != "" {
		st, err = store.Open(cfg.DataPath)
	} else {
		log.Warn().Msg("[chatdesk] no data path configured; sessions will not survive restarts")
		st, err = store.OpenMemory()
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	registry, err := chat.NewRegistry(st)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	gw := gateway.New(registry, gateway.TokenVerifier{Token: cfg.AdminToken})
	svc := chat.NewService(st, registry, gw, nil)
	gw.BindService(svc)
	defer svc.Shutdown()

	r := chi.NewRouter()
	gw.Routes(r)
	r.Get("/", statusPage(cfg.Name, svc, gw.Rooms()))

	// Optional: expose the backend through the portal relay as well.
	if len(cfg.RelayURLs) > 0 {
		cred := sdk.NewCredential()
		client, err := sdk.NewClient(func(c *sdk.RDClientConfig) { c.BootstrapServers = cfg.RelayURLs })
		if err != nil {
			return fmt.Errorf("new relay client: %w", err)
		}
		ln, err := client.Listen(cred, cfg.Name, []string{"http/1.1"})
		if err != nil {
			return fmt.Errorf("relay listen: %w", err)
		}
		go func() {
			if err := http.Serve(ln, r); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
				log.Error().Err(err).Msg("[chatdesk] relay http error")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = ln.Close()
			_ = client.Close()
		}()
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	log.Info().Msgf("[chatdesk] serving locally at http://127.0.0.1:%s", cfg.Port)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("[chatdesk] local http stopped")
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("[chatdesk] http server shutdown error")
	}
	log.Info().Msg("[chatdesk] shutdown complete")
	return nil
}
