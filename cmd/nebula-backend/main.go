// Copyright (C) Nebula Feeds.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nebula-feeds/nebula-backend/internal/api"
	"github.com/nebula-feeds/nebula-backend/internal/appview"
	"github.com/nebula-feeds/nebula-backend/internal/auth"
	"github.com/nebula-feeds/nebula-backend/internal/config"
	"github.com/nebula-feeds/nebula-backend/internal/extern"
	"github.com/nebula-feeds/nebula-backend/internal/fusion"
	"github.com/nebula-feeds/nebula-backend/internal/graphsvc"
	"github.com/nebula-feeds/nebula-backend/internal/ingester"
	"github.com/nebula-feeds/nebula-backend/internal/keywords"
	"github.com/nebula-feeds/nebula-backend/internal/ranking"
	"github.com/nebula-feeds/nebula-backend/internal/repository"
	"github.com/nebula-feeds/nebula-backend/internal/semantic"
	"github.com/nebula-feeds/nebula-backend/internal/taskmanager"
	"github.com/nebula-feeds/nebula-backend/internal/taste"
	"github.com/nebula-feeds/nebula-backend/pkg/log"
)

const version = "1.2.0"

func main() {
	var flagVersion, flagLogDateTime, flagNoServer, flagNoIngester bool
	var flagConfigFile, flagLogLevel string
	flag.BoolVar(&flagVersion, "version", false, "Print version and exit")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.BoolVar(&flagNoServer, "no-server", false, "Run only the ingester process")
	flag.BoolVar(&flagNoIngester, "no-ingester", false, "Run only the server process")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the global config options by those specified in `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Sets the logging level: `[debug, info, warn, err, fatal, crit]`")
	flag.Parse()

	if flagVersion {
		fmt.Printf("nebula-backend %s\n", version)
		os.Exit(0)
	}

	log.Init(flagLogLevel, flagLogDateTime)

	if err := godotenv.Load("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	config.Init(flagConfigFile)
	whitelist := config.WhitelistedDids()
	if len(whitelist) == 0 {
		log.Warn("empty whitelist, no feeds will be served")
	}

	repository.Connect(config.Keys.DB)
	repo := repository.GetRepository()

	av := appview.New(config.Keys.AppViewURL)
	graph := graphsvc.New(repo, av)
	tasteEngine := taste.New(repo, graph, config.Keys.RestrictedKeywords)
	core := ranking.New(repo, graph)
	keywordEngine := keywords.New(repo, &extern.CLIExtractor{Bin: config.Keys.ExtractorBin})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	index := semantic.NewHTTPIndex(config.Keys.VectorIndexURL)
	if err := index.EnsureCollections(ctx); err != nil {
		log.Warnf("vector index unavailable: %s", err.Error())
	}

	pipeline := semantic.NewPipeline(repo, core, index,
		&extern.CLIEmbedder{Bin: config.Keys.EmbedderBin, ModelPath: config.Keys.ModelPath},
		&extern.CLIClusterer{Bin: config.Keys.ClustererBin},
		av)
	scheduler := semantic.NewScheduler(pipeline, config.WhitelistedDids)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	tracked := ingester.NewTrackedSets(repo, whitelist)
	trackedStop := make(chan struct{})
	go tracked.RunRefresh(trackedStop)

	var ing *ingester.Ingester
	if !flagNoIngester {
		ing = ingester.New(repo, tasteEngine, tracked, ingester.Options{
			Service:        "jetstream",
			Endpoint:       config.Keys.JetstreamURL,
			ReconnectDelay: config.ReconnectDelay(),
		})
		ing.Start(ctx)
	}

	taskmanager.Start(ctx, taskmanager.Deps{
		Repo:      repo,
		Graph:     graph,
		Keywords:  keywordEngine,
		Semantic:  scheduler,
		Whitelist: whitelist,
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	if flagNoServer {
		<-sigs
		shutdown(cancel, trackedStop, ing, &wg)
		return
	}

	authn := auth.New(config.Keys.ServiceDid, whitelist)
	restApi := &api.RestApi{
		Fusion:         fusion.New(repo, core, tasteEngine, scheduler),
		Authentication: authn,
		Repository:     repo,
		Taste:          tasteEngine,
		PublisherDid:   config.Keys.PublisherDid,
		ServiceDid:     config.Keys.ServiceDid,
		Hostname:       config.Keys.Hostname,
		FeedRkeys:      config.Keys.FeedRkeys,
	}

	r := mux.NewRouter()
	restApi.MountRoutes(r)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	handler := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		if strings.HasPrefix(params.Request.RequestURI, "/xrpc/") {
			log.Infof("%s %s (%d, %.02fkb, %dms)",
				params.Request.Method, params.URL.RequestURI(),
				params.StatusCode, float32(params.Size)/1024,
				time.Since(params.TimeStamp).Milliseconds())
		} else {
			log.Debugf("%s %s (%d, %.02fkb, %dms)",
				params.Request.Method, params.URL.RequestURI(),
				params.StatusCode, float32(params.Size)/1024,
				time.Since(params.TimeStamp).Milliseconds())
		}
	})

	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      handler,
		Addr:         config.Keys.Addr,
	}

	listener, err := net.Listen("tcp", config.Keys.Addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("HTTP server listening at %s...", config.Keys.Addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-sigs
	log.Info("shutdown signal received")

	// Drain ongoing requests first, then stop the background machinery.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	shutdown(cancel, trackedStop, ing, &wg)
	log.Print("Graceful shutdown completed!")
}

// shutdown stops the scheduler, the task manager and the ingester; the
// ingester performs a final flush before returning.
func shutdown(cancel context.CancelFunc, trackedStop chan struct{}, ing *ingester.Ingester, wg *sync.WaitGroup) {
	close(trackedStop)
	taskmanager.Shutdown()
	cancel()
	if ing != nil {
		ing.Wait()
	}
	wg.Wait()
}
