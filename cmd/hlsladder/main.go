// The hlsladder command relays HLS playlist segments as a single download.
//
// "hlsladder serve" runs the HTTP relay. "hlsladder fetch" extracts segment
// URLs and headers from pasted files, sends them to a running relay and saves
// the video.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/hashicorp/go-hclog"
)

const version = "1.0.0"

func main() {
	parser := argparse.NewParser("hlsladder", "Download every segment of an HLS playlist as one file")

	serveCmd := parser.NewCommand("serve", "Run the download relay")
	port := serveCmd.String("p", "port", &argparse.Options{
		Required: false,
		Default:  getenv("PORT", "8080"),
		Help:     "Port the webserver will listen on",
	})
	prefork := serveCmd.Flag("P", "prefork", &argparse.Options{
		Required: false,
		Help:     "This will spawn multiple Go processes listening on the same port",
	})
	ruleset := serveCmd.String("r", "ruleset", &argparse.Options{
		Required: false,
		Default:  os.Getenv("RULESET"),
		Help:     "File, directory or ';'-separated list of per-domain YAML rules",
	})

	fetchCmd := parser.NewCommand("fetch", "Send a playlist to a relay and save the video")
	server := fetchCmd.String("s", "server", &argparse.Options{
		Required: false,
		Default:  "http://localhost:8080",
		Help:     "Base URL of the relay",
	})
	playlistPath := fetchCmd.String("m", "playlist", &argparse.Options{
		Required: true,
		Help:     "File holding the .m3u8 content",
	})
	headersPath := fetchCmd.String("H", "headers", &argparse.Options{
		Required: true,
		Help:     "File holding request headers as 'Name:' and value on alternating lines",
	})
	output := fetchCmd.String("o", "output", &argparse.Options{
		Required: false,
		Default:  "video.mp4",
		Help:     "Where to write the video",
	})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(2)
	}

	logger := newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_JSON") == "true")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case serveCmd.Happened():
		err = serve(ctx, serverConfig{
			Port:        *port,
			Prefork:     *prefork,
			RulesetPath: *ruleset,
			UserPass:    os.Getenv("USERPASS"),
			NoLogs:      os.Getenv("NOLOGS") == "true",
		}, logger)
	case fetchCmd.Happened():
		err = fetch(ctx, *server, *playlistPath, *headersPath, *output, logger)
	}

	if err != nil {
		logger.Error("hlsladder failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string, json bool) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "hlsladder",
		Level:      lvl,
		JSONFormat: json,
		Output:     os.Stderr,
	})
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
