package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rjantos/go-session-gate/cache"
	"github.com/rjantos/go-session-gate/directory"
	"github.com/rjantos/go-session-gate/directory/memdir"
	"github.com/rjantos/go-session-gate/internal/config"
	"github.com/rjantos/go-session-gate/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("error running server")
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	client := redis.NewClient(&redis.Options{Addr: c.GetRedisAddr()})
	defer client.Close()

	renderer, err := server.NewHTMLRenderer(os.DirFS(c.GetTemplatesDir()))
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	srv, err := server.New(c, seededDirectory(), cache.NewRedisStore(client), renderer)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	return shutdown(httpServer)
}

// seededDirectory builds the in-memory directory for standalone runs. Each
// DEMO_USERS entry is "login:password[:totp_secret]", comma separated. A
// production deployment replaces this with a real directory client.
func seededDirectory() directory.Directory {
	dir := memdir.New()
	for _, entry := range strings.Split(os.Getenv("DEMO_USERS"), ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		record := directory.User{"login": parts[0]}
		if len(parts) > 2 {
			record[directory.FieldTOTPSecret] = parts[2]
		}
		dir.Add(parts[0], parts[1], record)
	}
	return dir
}

func listenAndServe(httpServer *http.Server) {
	log.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
