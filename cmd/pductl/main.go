package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/pdutools/pductl/internal/config"
	"github.com/pdutools/pductl/internal/dispatch"
	"github.com/pdutools/pductl/internal/jaws"
	"github.com/pdutools/pductl/internal/journal"
	"github.com/pdutools/pductl/internal/options"
	"github.com/pdutools/pductl/internal/pdu"
)

const version = "0.2.0"

func main() {
	var (
		on      = flag.Bool("on", false, "turn selected outlets/groups on")
		off     = flag.Bool("off", false, "turn selected outlets/groups off")
		reboot  = flag.Bool("reboot", false, "reboot selected outlets/groups")
		status  = flag.Bool("status", false, "get status of outlets or groups")
		pdus    = flag.String("pdus", "", "iPDU controller hostnames, IPv4 addrs, and/or IPv6 addrs (comma-separated)")
		outlets = flag.String("outlets", "", "target outlets (comma-separated)")
		groups  = flag.String("groups", "", "target groups (comma-separated)")
		user    = flag.String("user", "", "JAWS user name")
		passwd  = flag.String("passwd", "", "JAWS password")
		file    = flag.String("file", "", "power sequence file in JSON, command line overrides values in the file")
		threads = flag.Int("threads", 0, "number of worker threads to use")
		cfgPath = flag.String("config", "", "path to tool configuration file")
		verify  = flag.Bool("verify-tls", false, "verify controller TLS certificates")
		showVer = flag.Bool("version", false, "print version information and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("pductl %s\n", version)
		return
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load configuration")
		}
	}

	setupLogging(cfg.Log)

	// A power run is not drained on interrupt: in-flight requests are
	// abandoned and the process exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Exiting")
		os.Exit(0)
	}()

	// Credentials may also come from the environment or a .env file.
	_ = godotenv.Load()

	var fileOpts options.Options
	if *file != "" {
		var err error
		fileOpts, err = options.LoadFile(*file)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load power sequence file")
		}
	}

	cli := options.CLI{
		On:      *on,
		Off:     *off,
		Reboot:  *reboot,
		Status:  *status,
		PDUs:    *pdus,
		Outlets: *outlets,
		Groups:  *groups,
		User:    *user,
		Passwd:  *passwd,
		Threads: *threads,
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threads":
			cli.ThreadsSet = true
		case "verify-tls":
			cfg.Jaws.VerifyTLS = *verify
		}
	})

	opts, err := options.Merge(fileOpts, cli, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid arguments")
	}

	if opts.User == "" {
		opts.User = os.Getenv("PDUCTL_USER")
	}
	if opts.Passwd == "" {
		opts.Passwd = os.Getenv("PDUCTL_PASSWD")
	}
	if opts.User == "" {
		opts.User, err = promptUser()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read username")
		}
	}
	if opts.Passwd == "" {
		opts.Passwd, err = promptPassword(opts.User)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read password")
		}
	}

	if err := opts.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid arguments")
	}

	var jrnl *journal.Journal
	if cfg.Journal.Path != "" {
		jrnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open command journal")
		}
		defer jrnl.Close()
	}

	pool := dispatch.New(dispatch.Config{
		Workers: opts.Threads,
		Jaws: jaws.Config{
			Timeout:   cfg.Jaws.Timeout.Duration(),
			VerifyTLS: cfg.Jaws.VerifyTLS,
		},
		Retry: pdu.RetryPolicy{
			QueryAttempts:   cfg.Retry.QueryAttempts,
			CommandAttempts: cfg.Retry.CommandAttempts,
			Delay:           cfg.Retry.Delay.Duration(),
		},
		Journal: jrnl,
		Logger:  log.Logger,
	})

	pool.Run(context.Background(), opts)
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		})
	}

	switch cfg.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func promptUser() (string, error) {
	fmt.Fprint(os.Stderr, "Enter username for iPDU: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(user string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter password for %s: ", user)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
