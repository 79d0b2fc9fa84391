// Package main provides the cloudscraper command line client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/cloudscraper-go/internal/assets"
	"github.com/Rorqualx/cloudscraper-go/internal/config"
	"github.com/Rorqualx/cloudscraper-go/internal/metrics"
	"github.com/Rorqualx/cloudscraper-go/internal/scraper"
	"github.com/Rorqualx/cloudscraper-go/internal/types"
	"github.com/Rorqualx/cloudscraper-go/pkg/version"
)

// fetchConcurrency bounds how many URLs are fetched in parallel. The
// scraper itself paces per-domain traffic; this only caps process fan-out.
const fetchConcurrency = 4

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)

	method := flag.String("method", http.MethodGet, "HTTP method")
	data := flag.String("data", "", "request body; switches the method to POST unless -method overrides it")
	contentType := flag.String("content-type", "application/x-www-form-urlencoded", "Content-Type sent with -data")
	outDir := flag.String("out", "", "directory to write response bodies into; single-URL bodies go to stdout when empty")
	proxies := flag.String("proxies", "", "comma-separated proxy endpoints, overriding CLOUDSCRAPER_PROXIES")
	behavior := flag.String("behavior", "", "behavior profile: casual, focused, research or mobile")
	attempts := flag.Int("attempts", 0, "max challenge attempts per request (0 keeps the configured value)")
	watch := flag.Bool("watch", false, "render a live dashboard while fetching")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cloudscraper %s (%s)\n", version.Full(), version.GoVersion())
		return
	}

	urls := flag.Args()
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cloudscraper [flags] URL [URL...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// Flag overrides on top of the environment configuration
	if *proxies != "" {
		cfg.Proxies = splitList(*proxies)
	}
	if *behavior != "" {
		cfg.BehaviorProfile = *behavior
	}
	if *attempts > 0 {
		cfg.MaxChallengeAttempts = *attempts
	}

	// Validate configuration; out-of-range values are corrected in place
	cfg.Validate()

	if !*watch {
		printBanner()
	}

	body := []byte(nil)
	reqMethod := *method
	var headers map[string]string
	if *data != "" {
		body = []byte(*data)
		headers = map[string]string{"Content-Type": *contentType}
		if reqMethod == http.MethodGet {
			reqMethod = http.MethodPost
		}
	}

	s, err := scraper.New(scraper.WithConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scraper")
	}

	// Cancel in-flight requests on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Channel to signal shutdown to background tasks
	stopCh := make(chan struct{})

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		started := time.Now()
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			data := assets.StatusPageData{
				Version:    version.Full(),
				GoVersion:  version.GoVersion(),
				Uptime:     time.Since(started).Round(time.Second).String(),
				Challenges: uint64(len(s.DetectionHistory())),
			}
			if snap, ok := s.Metrics(); ok {
				data.Requests = snap.Global.TotalRequests
			}
			page, err := assets.RenderStatusPage(data)
			if err != nil {
				http.Error(w, "status page unavailable", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, page)
		})
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().
				Int("port", cfg.PrometheusPort).
				Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	exitCode := 0
	if *watch {
		err = runDashboard(ctx, s, cfg, urls, reqMethod, headers, body)
		if err != nil {
			log.Error().Err(err).Msg("Dashboard failed")
			exitCode = 1
		}
	} else {
		exitCode = fetchAll(ctx, s, urls, reqMethod, headers, body, *outDir)
	}

	close(stopCh)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
		cancel()
	}

	if err := s.Close(); err != nil && !errors.Is(err, types.ErrScraperClosed) {
		log.Error().Err(err).Msg("Scraper close error")
	}
	os.Exit(exitCode)
}

// fetchAll fetches every URL through the shared scraper, bounded to
// fetchConcurrency at a time. Failures are logged per URL; the worst
// outcome decides the exit code.
func fetchAll(ctx context.Context, s *scraper.Scraper, urls []string, method string, headers map[string]string, body []byte, outDir string) int {
	var failures atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, raw := range urls {
		raw := raw
		g.Go(func() error {
			started := time.Now()
			resp, err := s.Do(gctx, method, raw, headers, body)
			if err != nil {
				failures.Add(1)
				log.Error().
					Str("url", raw).
					Dur("elapsed", time.Since(started)).
					Err(err).
					Msg("Fetch failed")
				return nil
			}

			log.Info().
				Str("url", raw).
				Int("status", resp.StatusCode).
				Int("bytes", len(resp.Body)).
				Dur("elapsed", time.Since(started)).
				Msg("Fetch complete")

			if outDir != "" {
				path, err := writeBody(outDir, resp.URL.Hostname(), resp.URL.Path, resp.Body)
				if err != nil {
					failures.Add(1)
					log.Error().Str("url", raw).Err(err).Msg("Write failed")
					return nil
				}
				log.Info().Str("url", raw).Str("path", path).Msg("Body written")
			} else if len(urls) == 1 {
				fmt.Print(resp.Body)
			}
			return nil
		})
	}
	// Goroutines report failures through the counter instead of erroring,
	// so one bad URL never cancels the rest of the batch.
	_ = g.Wait()

	if failures.Load() > 0 {
		return 1
	}
	return 0
}

// writeBody stores a response body under dir, named after the request host
// and path.
func writeBody(dir, host, urlPath, body string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := host + strings.ReplaceAll(strings.TrimSuffix(urlPath, "/"), "/", "_")
	if name == "" {
		name = "response"
	}
	path := filepath.Join(dir, name+".html")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	// Use console writer for prettier output
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})

	switch level {
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

// printBanner prints the startup banner.
func printBanner() {
	banner := `
  ____ _                 _ ____
 / ___| | ___  _   _  __| / ___|  ___ _ __ __ _ _ __   ___ _ __
| |   | |/ _ \| | | |/ _' \___ \ / __| '__/ _' | '_ \ / _ \ '__|
| |___| | (_) | |_| | (_| |___) | (__| | | (_| | |_) |  __/ |
 \____|_|\___/ \__,_|\__,_|____/ \___|_|  \__,_| .__/ \___|_|
                                               |_|  Go Edition
`
	fmt.Fprintln(os.Stderr, banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting CloudScraper")
}
