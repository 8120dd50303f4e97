package main

import (
	"adslots/internal/api"
	"adslots/internal/backends"
	"adslots/internal/gpt"
	"adslots/internal/ledger"
	"adslots/internal/loop"
	"adslots/internal/metrics"
	"adslots/internal/page"
	"adslots/internal/types"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const usage = `usage:
  adslots serve    [-page page.yaml] [-port 8080] [-hidden]
  adslots simulate -scenario scenario.yaml [-record]
`

func main() {
	// Load environment variables
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Debug("The .env file not found.")
	}
	setupLogging()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(os.Args[2:])
	case "simulate":
		err = simulate(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Fatal(os.Args[1] + " failed")
	}
}

func setupLogging() {
	if lvl, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	pagePath := fs.String("page", "", "YAML page config whose units are mounted at start")
	port := fs.Int("port", 8080, "HTTP port")
	hidden := fs.Bool("hidden", false, "start with the page in the background")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg types.PageConfig
	if *pagePath != "" {
		var err error
		if cfg, err = page.LoadConfig(*pagePath); err != nil {
			return err
		}
	}

	sinks, err := backends.LedgerSinksFromEnv()
	if err != nil {
		return err
	}
	m := metrics.New()
	led := ledger.New(sinks, ledger.WithMetrics(m))
	log.WithFields(log.Fields{"pageViewId": led.PageViewID(), "sinks": led.Sinks()}).Info("ledger ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledgerDone := make(chan error, 1)
	go func() { ledgerDone <- led.Run(ctx) }()

	l := loop.New(loop.DefaultBacklog)
	go l.Run(ctx)

	rec := gpt.NewRecorder()
	p, err := page.New(l, rec, cfg, page.WithMetrics(m), page.WithRecorder(led), page.WithVisible(!*hidden))
	if err != nil {
		return err
	}
	loop.Await(l, func() { err = p.MountAll() })
	if err != nil {
		return err
	}

	store, _ := led.Store()
	stop, done := api.RunServerInterruptible(*port, api.NewHandler(p, l, rec, store, m))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		log.WithField("signal", sig.String()).Info("shutting down")
		close(stop)
		err = <-done
	case err = <-done:
	}

	loop.Await(l, p.Close)
	led.Close()
	select {
	case <-ledgerDone:
	case <-time.After(10 * time.Second):
		log.Warn("ledger did not drain in time")
	}
	return err
}

func simulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	scenarioPath := fs.String("scenario", "", "YAML scenario to replay")
	record := fs.Bool("record", false, "store the impressions in LEDGER_BACKENDS")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scenarioPath == "" {
		return types.Err(types.ErrInvalidScenario, nil, "-scenario is required")
	}

	sc, err := page.LoadScenario(*scenarioPath)
	if err != nil {
		return err
	}
	res, err := sc.Run()
	if err != nil {
		return err
	}

	if *record {
		if err := recordImpressions(res.Impressions); err != nil {
			return err
		}
	}

	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(b, '\n'))
	return err
}

func recordImpressions(imps []types.Impression) error {
	sinks, err := backends.LedgerSinksFromEnv()
	if err != nil {
		return err
	}
	led := ledger.New(sinks, ledger.WithBacklog(len(imps)+1))
	for _, imp := range imps {
		if err := led.Submit(imp); err != nil {
			return err
		}
	}
	led.Close()
	return led.Run(context.Background())
}
