package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/y3sh/copyfactory-sdk-go/client/copyfactory"
	"github.com/y3sh/copyfactory-sdk-go/internal/logging"
	"github.com/y3sh/copyfactory-sdk-go/metrics"
	"github.com/y3sh/copyfactory-sdk-go/relay"
)

const shutdownTimeout = 10 * time.Second

var (
	listens stringSlice

	configFilename = flag.String("config", "", "YAML config file; flags and COPYFACTORY_* env vars take precedence.")
	envFilename    = flag.String("env-file", ".env", "Env file to load before reading the environment.")
	credsFilename  = flag.String("creds", "", "JSON file with credentials: the file must contain an object with a \"token\" property.")
	printVersion   = flag.Bool("version", false, "Print the version and exit.")
)

func init() {
	flag.String("token", "", "API token. Consider using --creds instead.")
	flag.String("domain", "", "Service domain.")
	flag.String("log-level", "info", "Log level: debug, info, warn, error.")
	flag.String("relay-addr", "", "Address to serve listener events over WebSocket on, e.g. :8080.")
	flag.String("metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090.")
	flag.Duration("poll-interval", 0, "Wait between empty fetches of listeners.")
	flag.Var(&listens, "listen", "Listener to register, as kind:id. Kinds: stopout, strategy-transactions, "+
		"subscriber-transactions, strategy-log, subscriber-log. This flag can be given multiple times.")
}

func main() {
	flag.Parse()

	if *printVersion {
		fmt.Println(copyfactory.Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errors.ErrorStack(err))
		os.Exit(1)
	}
}

func run() error {
	v, err := loadConfig()
	if err != nil {
		return errors.Trace(err)
	}

	logger := logging.New("copyfactory-cli", &logging.Params{
		Level:   v.GetString("log-level"),
		Console: true,
	})

	token, err := getToken(v)
	if err != nil {
		return errors.Trace(err)
	}

	specs := []string(listens)
	if len(specs) == 0 {
		specs = v.GetStringSlice("listen")
	}
	if len(specs) == 0 {
		return errors.New("no listeners given, use --listen kind:id")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	cf, err := copyfactory.New(token, &copyfactory.Params{
		Domain:       v.GetString("domain"),
		PollInterval: v.GetDuration("poll-interval"),
		Logger:       &logger,
		Metrics:      m,
	})
	if err != nil {
		return errors.Trace(err)
	}

	targets := []interface{}{&printer{out: os.Stdout, err: os.Stderr}}

	var servers []*http.Server

	if addr := v.GetString("relay-addr"); addr != "" {
		hub := relay.NewHub(&relay.HubParams{Logger: &logger})
		defer hub.Close()
		targets = append(targets, hub)

		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		servers = append(servers, serve(addr, mux, "relay", logger))
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		servers = append(servers, serve(addr, mux, "metrics", logger))
	}

	out := &fanout{targets: targets}
	for _, s := range specs {
		target, err := parseListenTarget(s)
		if err != nil {
			return errors.Trace(err)
		}

		id, err := target.register(cf, out)
		if err != nil {
			return errors.Annotatef(err, "registering %s", s)
		}
		logger.Info().Str("kind", target.Kind).Str("subject", target.ID).Str("listener_id", id).Msg("listening")
	}

	// Wait until the OS signal is received, at which point we'll remove the
	// listeners and quit
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt

	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := cf.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("closing listeners")
	}

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", srv.Addr).Msg("shutting down server")
		}
	}

	return nil
}

// loadConfig merges the env file, the environment, the config file and the
// flags, flags taking precedence.
func loadConfig() (*viper.Viper, error) {
	if err := godotenv.Load(*envFilename); err != nil && !os.IsNotExist(err) {
		return nil, errors.Annotatef(err, "loading %q", *envFilename)
	}

	v := viper.New()
	v.SetEnvPrefix("COPYFACTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, errors.Trace(err)
	}

	if *configFilename != "" {
		v.SetConfigFile(*configFilename)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "reading config %q", *configFilename)
		}
	}

	return v, nil
}

// getToken reads the token from --creds if given, and from the config
// otherwise.
func getToken(v *viper.Viper) (string, error) {
	if *credsFilename != "" {
		cr, err := parseCreds(*credsFilename)
		if err != nil {
			return "", errors.Trace(err)
		}
		return cr.Token, nil
	}

	token := v.GetString("token")
	if token == "" {
		return "", errors.New("no token given, use --creds, --token or COPYFACTORY_TOKEN")
	}
	return token, nil
}

func serve(addr string, h http.Handler, name string, logger zerolog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msgf("serving %s", name)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("addr", addr).Msgf("%s server failed", name)
		}
	}()

	return srv
}
