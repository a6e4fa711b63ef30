// queuepeek reads queue messages from a configured source, decodes their
// base64 bodies and prints one line per message on stdout: the text itself,
// or the decoded object as JSON when decode.json is set.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-queuemessage/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	configPath := flag.String("c", "", "Path to the YAML config file. Settings can be overridden with QUEUEPEEK_* variables.")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("source", cfg.Source.Kind).Str("dead_letter", cfg.DeadLetter.Kind).Bool("json", cfg.Decode.JSON).Msg("Starting queuepeek")
	if err := run(ctx, cfg, os.Stdout, log.Logger); err != nil {
		log.Fatal().Err(err).Msg("queuepeek failed")
	}
	log.Info().Msg("queuepeek stopped")
}
