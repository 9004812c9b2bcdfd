// webkernel boots the simulated kernel on the host terminal. Init is the
// built-in init unless the configuration names another program; host
// program directories are copied into /bin. The console can also be
// served over websockets next to a JSON process API.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webkernel/pkg/auth"
	"webkernel/pkg/config"
	"webkernel/pkg/exec"
	"webkernel/pkg/exec/luaunit"
	"webkernel/pkg/exec/remote"
	"webkernel/pkg/hostfs"
	"webkernel/pkg/kernel"
	"webkernel/pkg/logger"
	"webkernel/pkg/protocol"
	"webkernel/pkg/server"
	"webkernel/pkg/userland"
	"webkernel/pkg/vfs"
	"webkernel/pkg/webapi"
	"webkernel/pkg/wm"

	"github.com/orivej/e"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.NewConfig()
	e.Exit(err)
	if cfg == nil {
		return
	}
	logger.Configure(cfg.Logging)

	code, err := run(cfg)
	e.Exit(err)
	os.Exit(code)
}

// run boots the kernel and returns the process exit status: 0 when init
// exited with 0 or nothing, 1 otherwise.
func run(cfg *config.AppConfig) (int, error) {
	log := logger.NewLoggerWithContext("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := exec.NewMux()
	mux.Handle(luaunit.Interpreter, luaunit.NewFactory(cfg.Lua))
	mux.Handle(remote.Interpreter, remote.NewFactory())
	userland.Register(mux)

	policies, err := cfg.Sandbox.Policies()
	if err != nil {
		return 1, err
	}

	opts := []kernel.Option{
		kernel.WithLauncher(mux),
		kernel.WithRegisterer(reg),
		kernel.WithPolicies(policies),
	}
	if cfg.Display.Enabled {
		opts = append(opts, kernel.WithDisplay(wm.NewManager(wm.Config{
			ScreenWidth:     cfg.Display.ScreenWidth,
			ScreenHeight:    cfg.Display.ScreenHeight,
			InitialDesktops: cfg.Display.Desktops,
		})))
	}

	var (
		out     io.Writer
		in      io.Reader
		console *webapi.Console
	)
	if cfg.Console.Enabled {
		con, err := attachConsole(cfg.Console, &cfg.Kernel)
		if err != nil {
			return 1, err
		}
		defer con.restore()
		out, in = con.out, con.in
	}
	switch {
	case cfg.Web.Enabled && cfg.Web.Console:
		console = webapi.NewConsole(webapi.ConsoleConfig{
			MaxClients: cfg.Web.MaxClients,
			Scrollback: cfg.Web.Scrollback,
		}, logger.NewLoggerWithContext("console"), out, in)
		defer console.Close()
		opts = append(opts, kernel.WithConsole(console, console.Input()))
	case cfg.Console.Enabled:
		opts = append(opts, kernel.WithConsole(out, vfs.NewReaderInput(in)))
	}

	s := kernel.New(cfg.Kernel, opts...)
	if err := userland.Install(s); err != nil {
		return 1, err
	}

	loader := hostfs.NewLoader(s, cfg.Programs.Dirs)
	if len(cfg.Programs.Dirs) > 0 {
		if _, err := loader.Load(); err != nil {
			log.Warn().Err(err).Msg("some host programs were not loaded")
		}
		if cfg.Programs.Watch {
			go func() {
				if err := loader.Watch(ctx); err != nil {
					log.Error().Err(err).Msg("program watcher stopped")
				}
			}()
			defer loader.Close()
		}
	}

	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv, err := startServer(server.Config{
			Addr:    cfg.Metrics.ListenAddress,
			Handler: metricsMux,
			Logger:  logger.NewLoggerWithContext("metrics"),
		})
		if err != nil {
			return 1, err
		}
		defer shutdown(srv, log)
	}

	if cfg.Web.Enabled {
		token, err := webToken(cfg.Web, log)
		if err != nil {
			return 1, err
		}
		webCfg := server.Config{
			Addr: cfg.Web.ListenAddress,
			Handler: webapi.NewHandler(s, webapi.Config{
				Token:   token,
				Console: console,
				Logger:  logger.NewLoggerWithContext("web"),
			}),
			Logger: logger.NewLoggerWithContext("web"),
		}
		if cfg.Web.TLSCert != "" {
			webCfg.TLS = &server.TLSConfig{CertFile: cfg.Web.TLSCert, KeyFile: cfg.Web.TLSKey}
		}
		srv, err := startServer(webCfg)
		if err != nil {
			return 1, err
		}
		defer shutdown(srv, log)
	}

	if _, err := s.Boot(); err != nil {
		return 1, err
	}

	value, err := s.Wait(ctx)
	if err != nil {
		log.Info().Msg("received shutdown signal")
		s.Shutdown()
		return 1, nil
	}
	s.Shutdown()

	log.Info().Str("exit_value", protocol.FormatValue(value)).Msg("init exited")
	if n, ok := protocol.Int(value); value == nil || (ok && n == 0) {
		return 0, nil
	}
	return 1, nil
}

func startServer(cfg server.Config) (*server.Server, error) {
	srv, err := server.New(cfg)
	if err != nil {
		return nil, err
	}
	return srv, srv.Start()
}

func shutdown(srv *server.Server, log log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Str("address", srv.Addr()).Msg("error shutting down http server")
	}
}

// webToken returns the configured token, or generates one and logs it
// masked. The full token is written to stderr once so the operator can
// connect.
func webToken(cfg config.WebConfig, log log.Logger) (string, error) {
	switch cfg.Token {
	case "none":
		log.Warn().Msg("web console authentication disabled")
		return "", nil
	case "":
		token, err := auth.GenerateToken(0)
		if err != nil {
			return "", err
		}
		log.Info().Str("token", auth.MaskToken(token)).Msg("generated web token")
		os.Stderr.WriteString("web token: " + token + "\n")
		return token, nil
	default:
		log.Info().Str("token", auth.MaskToken(cfg.Token)).Msg("using configured web token")
		return cfg.Token, nil
	}
}
