// SPDX-License-Identifier: MIT

// bgpinfo-api serves the data modules over HTTP. Modules are selected at
// startup with -modules; queries against modules that were not loaded
// answer 503 with the load method to enable them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"bgpinfo/pkg/commons"
	"bgpinfo/pkg/fetch"
	"bgpinfo/pkg/rpki"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	listen := flag.String("listen", ":8080", "Listen address")
	modulesFlag := flag.String("modules", "rpki", "Comma-separated modules to load: rpki,bogons,countries,asnames,as2rel,as2org,collectors,peers")
	dateStr := flag.String("date", "", "Load historical RPKI data for this date (YYYY-MM-DD); empty for live")
	sourceStr := flag.String("source", "ripe", "Historical source: ripe or an RPKIviews collector name")
	cacheDir := flag.String("cache", os.Getenv("BGPINFO_CACHE_DIR"), "Snapshot cache directory for historical loads")
	refresh := flag.Duration("refresh", 0, "Reload loaded modules at this interval; 0 disables")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("bgpinfo-api version %s\n", version)
		return
	}

	c, err := commons.New(commons.Config{
		Client:   fetch.NewClient(os.Getenv("BGPINFO_USER_AGENT"), 4),
		CacheDir: *cacheDir,
	})
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := loadModules(ctx, c, *modulesFlag, *dateStr, *sourceStr); err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	if *refresh > 0 {
		go refreshLoop(ctx, c, *refresh)
	}

	srv := newServer(c)
	r := mux.NewRouter()
	srv.registerHandlers(r)

	hServer := &http.Server{
		Addr:         *listen,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	log.Printf("INFO: Listening on %s", *listen)
	if err := hServer.ListenAndServe(); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

func loadModules(ctx context.Context, c *commons.Commons, modulesFlag, dateStr, sourceStr string) error {
	for _, module := range strings.Split(modulesFlag, ",") {
		module = strings.TrimSpace(module)
		if module == "" {
			continue
		}
		log.Printf("INFO: Loading module %s", module)
		var err error
		switch module {
		case "rpki":
			err = loadRpkiModule(ctx, c, dateStr, sourceStr)
		case "bogons":
			err = c.LoadBogons(ctx)
		case "countries":
			err = c.LoadCountries(ctx)
		case "asnames":
			err = c.LoadASNames(ctx)
		case "as2rel":
			err = c.LoadAS2Rel(ctx)
		case "as2org":
			err = c.LoadAS2Org(ctx)
		case "collectors":
			err = c.LoadCollectors(ctx)
		case "peers":
			err = c.LoadCollectorPeers(ctx)
		default:
			return fmt.Errorf("unknown module: %s", module)
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", module, err)
		}
	}
	return nil
}

func loadRpkiModule(ctx context.Context, c *commons.Commons, dateStr, sourceStr string) error {
	if dateStr == "" {
		return c.LoadRPKI(ctx)
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return fmt.Errorf("invalid date %q, want YYYY-MM-DD", dateStr)
	}
	source := rpki.RipeSource()
	if sourceStr != "" && sourceStr != "ripe" {
		collector, err := rpki.ParseCollector(sourceStr)
		if err != nil {
			return err
		}
		source = rpki.RpkiViewsSource(collector)
	}
	return c.LoadRPKIHistorical(ctx, source, date)
}

func refreshLoop(ctx context.Context, c *commons.Commons, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		log.Printf("INFO: Refreshing loaded modules")
		if err := c.ReloadAll(ctx); err != nil {
			log.Printf("WARN: Refresh failed: %v", err)
		}
	}
}
