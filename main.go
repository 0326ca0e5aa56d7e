package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/dchest/uniuri"
	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/trim21/errgo"
	_ "go.uber.org/automaxprocs"

	"hermod/internal/config"
	"hermod/internal/core"
	"hermod/internal/meta"
	"hermod/internal/pkg/global"
	"hermod/internal/web"
)

func defaultSessionPath() string {
	h, err := os.UserHomeDir()
	if err != nil {
		panic(errgo.Wrap(err, "failed to get home directory, please set session path with --session-path manually"))
	}

	return filepath.Join(h, ".hermod")
}

func main() {
	var sessionPath = pflag.String("session-path", "", "client session path (default ~/.hermod/)")
	var configFilePath = pflag.String("config-file", "", "path to config file (default {session-path}/config.toml)")
	var address = pflag.String("address", "", "web interface address (default 127.0.0.1:8003)")
	var webSecret = pflag.String("web-secret", "", "token of web api Authorization header (default: random, printed on start)")
	var downloadDir = pflag.String("download-dir", "", "download directory (default ~/downloads/)")
	var torrents = pflag.StringArray("torrent", nil, "torrent file to add on start, can be repeated")
	var webSeeds = pflag.StringArray("webseed", nil, "extra webseed url for torrents added by --torrent, can be repeated")
	var logLevel = pflag.String("log-level", "info", "log level")
	var debug = pflag.Bool("debug", false, "enable pprof routes in web interface")

	var profiling = pflag.Bool("profile", false, "enable profiling for CPU and Memory")
	var profileCpu = pflag.Bool("profile-cpu", false, "enable CPU profiling only")
	var profileMem = pflag.Bool("profile-memory", false, "enable Memory profiling only")

	// this avoids 'pflag: help requested' error when calling for help message.
	if slices.Contains(os.Args[1:], "--help") || slices.Contains(os.Args[1:], "-h") {
		pflag.Usage()
		fmt.Println("\nNote: extra options will override config file, but won't change config file.")
		return
	}

	pflag.Parse()

	if *profileCpu || *profileMem || *profiling {
		var opt []func(*profile.Profile)
		if *profileCpu || *profiling {
			opt = append(opt, profile.CPUProfile)
		}
		if *profileMem || *profiling {
			opt = append(opt, profile.MemProfile)
		}
		defer profile.Start(opt...).Stop()
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		panic(errgo.Wrap(err, "invalid log level"))
	}
	zerolog.SetGlobalLevel(level)

	if *sessionPath == "" {
		*sessionPath = defaultSessionPath()
	}

	if *configFilePath == "" {
		*configFilePath = filepath.Join(*sessionPath, "config.toml")
	}

	if err := os.MkdirAll(*sessionPath, os.ModePerm); err != nil {
		panic(errgo.Wrap(err, "failed to create session path"))
	}

	cfg, err := config.LoadFromFile(*configFilePath)
	if err != nil {
		panic(errgo.Wrap(err, "failed to load config"))
	}

	if *address != "" {
		cfg.Web.Address = *address
	}

	if *downloadDir != "" {
		cfg.App.DownloadDir = *downloadDir
	}

	if *debug {
		cfg.Web.Debug = true
	}

	if *webSecret != "" {
		cfg.Web.Secret = *webSecret
	}

	if cfg.Web.Secret == "" {
		cfg.Web.Secret = uniuri.NewLen(32)
		log.Warn().Msgf("web secret is not set, generated one for this run: %s", cfg.Web.Secret)
	}

	log.Info().Msgf("hermod %s, user agent %q", global.Version, global.UserAgent)

	app := core.New(cfg, *sessionPath)

	if err := app.Start(); err != nil {
		panic(errgo.Wrap(err, "failed to start"))
	}

	for _, file := range *torrents {
		if err := addTorrentFile(app, cfg, file, *webSeeds); err != nil {
			log.Err(err).Str("file", file).Msg("failed to add torrent")
		}
	}

	server := &http.Server{
		Addr:              cfg.Web.Address,
		Handler:           web.New(app, cfg.Web.Secret, cfg.Web.Debug),
		ReadHeaderTimeout: time.Second * 10,
	}

	go func() {
		log.Info().Msgf("web interface listen on %s", cfg.Web.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start web interface")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	app.Shutdown()
}

func addTorrentFile(app *core.Client, cfg config.Config, file string, webSeeds []string) error {
	m, err := metainfo.LoadFromFile(file)
	if err != nil {
		return err
	}

	info, err := meta.FromTorrent(*m)
	if err != nil {
		return err
	}

	err = app.AddTorrent(m, info, filepath.Join(cfg.App.DownloadDir, info.Name), core.AddOption{WebSeeds: webSeeds})
	if errors.Is(err, core.ErrTorrentExists) {
		return nil
	}

	return err
}
