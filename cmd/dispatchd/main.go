package main

import (
	"net/http"
	"os"

	"github.com/taskfleet/dispatch/internal/lg"
	"github.com/taskfleet/dispatch/internal/serverutil"
)

const (
	serviceName = "DISPATCHD"
	servicePort = "8084"
	httpPath    = "/runs"
)

func main() {
	logCfg := lg.NewConfigFromFlags(serviceName)
	logger := lg.New(logCfg)
	defer logger.Sync()

	cfgPath := os.Getenv("DISPATCHD_CONFIG")
	cfg, err := initConfig(cfgPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", lg.Err(err))
		os.Exit(1)
	}

	handler, err := newRunHandler(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize handler", lg.Err(err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Endpoint, serverutil.NewValidationHandler[runRequest](handler, validateRunRequest))

	srvCfg := serverutil.DefaultServerConfig()
	srvCfg.Port = cfg.Server.Port
	srvCfg.Logger = logger

	logger.Info("starting service",
		lg.String("service", serviceName),
		lg.String("port", srvCfg.Port),
		lg.String("endpoint", cfg.Server.Endpoint))

	err = serverutil.RunServer(mux, srvCfg)
	handler.Stop()
	if err != nil {
		logger.Error("failed to run server", lg.Err(err))
		os.Exit(1)
	}
}
