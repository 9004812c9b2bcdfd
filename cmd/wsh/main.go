// wsh attaches the host terminal to a running webkernel's web console.
//
//	wsh -url ws://localhost:8420/console -token $TOKEN
//
// Lines typed locally are sent when Enter is pressed; with -raw every key
// goes to the kernel as typed.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webkernel/pkg/config"
	"webkernel/pkg/logger"
	"webkernel/pkg/server"
	"webkernel/pkg/websocket"

	"github.com/orivej/e"
	"golang.org/x/term"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8420/console", "Console websocket URL.")
		token    = flag.String("token", os.Getenv("WEBKERNEL_TOKEN"), "Web token (default $WEBKERNEL_TOKEN).")
		caFile   = flag.String("ca", "", "CA certificate for wss:// URLs.")
		insecure = flag.Bool("insecure", false, "Skip TLS certificate verification.")
		raw      = flag.Bool("raw", false, "Put the terminal in raw mode.")
		level    = flag.String("log-level", "warn", "Log level.")
	)
	flag.Parse()

	logCfg := config.DefaultConfig().Logging
	logCfg.Level = *level
	logger.Configure(logCfg)
	log := logger.NewLoggerWithContext("wsh")

	tlsCfg, err := server.ClientTLSConfig(*caFile, *insecure)
	e.Exit(err)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	header := http.Header{"Sec-WebSocket-Protocol": {"webkernel.console"}}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}
	conn, _, err := (&websocket.Dialer{TLSConfig: tlsCfg}).Dial(dialCtx, *url, header)
	cancel()
	e.Exit(err)
	log.Debug().Str("url", *url).Msg("connected")

	b := &bridge{conn: conn, in: os.Stdin, out: os.Stdout}
	fd := int(os.Stdin.Fd())
	if *raw && term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		e.Exit(err)
		defer term.Restore(fd, state)
		b.raw = true
	}

	err = b.run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("console connection lost")
	}
}
