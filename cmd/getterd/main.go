// Command getterd runs the application-release tracking daemon: a
// JSON-RPC server plus a small set of one-shot CLI operations that act
// directly on the local data directory, generalizing the ancestor
// daemon's cmd/splitvpnwebui bootstrap sequence (flags, directory setup,
// manager wiring, signal-driven graceful shutdown) to this project's
// registry/provider/download stack.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/appmanager"
	"github.com/dupdatesystem/getter-go/internal/auth"
	"github.com/dupdatesystem/getter-go/internal/buildinfo"
	"github.com/dupdatesystem/getter-go/internal/cache"
	"github.com/dupdatesystem/getter-go/internal/cliprint"
	"github.com/dupdatesystem/getter-go/internal/database"
	"github.com/dupdatesystem/getter-go/internal/diaglog"
	"github.com/dupdatesystem/getter-go/internal/download"
	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
	"github.com/dupdatesystem/getter-go/internal/provider/fdroid"
	"github.com/dupdatesystem/getter-go/internal/provider/github"
	"github.com/dupdatesystem/getter-go/internal/provider/gitlab"
	"github.com/dupdatesystem/getter-go/internal/provider/lsposed"
	"github.com/dupdatesystem/getter-go/internal/registry"
	"github.com/dupdatesystem/getter-go/internal/rpcserver"
	"github.com/dupdatesystem/getter-go/internal/settings"
	"github.com/dupdatesystem/getter-go/internal/statustracker"
	"github.com/dupdatesystem/getter-go/internal/version"
)

const defaultDataDir = "./data"
const defaultCacheDir = "./cache"

// keyValueFlags accumulates repeated "-a k=v" flags into a DataMap, the
// Go equivalent of the original CLI's clap value_parser for KEY=value pairs.
type keyValueFlags struct {
	values map[string]any
}

func (f *keyValueFlags) String() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%v", f.values)
}

func (f *keyValueFlags) Set(raw string) error {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	idx := strings.Index(raw, "=")
	if idx < 0 {
		return fmt.Errorf("invalid KEY=value: no '=' found in %q", raw)
	}
	f.values[raw[:idx]] = raw[idx+1:]
	return nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "server":
		runServer(os.Args[2:])
	case "add-app":
		runAddApp(os.Args[2:])
	case "renew-app":
		runRenewApp(os.Args[2:])
	case "mark-app-version":
		runMarkAppVersion(os.Args[2:])
	case "-version", "--version", "version":
		fmt.Println(buildinfo.Current().String())
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: getterd <server|add-app|renew-app|mark-app-version> [flags]")
}

type globalFlags struct {
	dataDir    string
	cacheDir   string
	expireTime int64
}

func bindGlobalFlags(fs *flag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVar(&g.dataDir, "data-dir", defaultDataDir, "persistent data directory")
	fs.StringVar(&g.cacheDir, "cache-dir", defaultCacheDir, "cache directory")
	fs.Int64Var(&g.expireTime, "expire-time", 3600, "cache expire time in seconds")
	return g
}

// bootstrap wires the read/write core (registry, providers, tracker,
// status tracker, application manager) shared by every subcommand.
// The RPC/HTTP/download-engine layers are server-only and built in
// runServer.
type bootstrap struct {
	tracked   *registry.Tracker
	apps      *appmanager.Manager
	tracker   *statustracker.Tracker
	configs   *registry.Manager
	providers *provider.Registry
	client    *httputil.Client
}

func bootstrapCore(g *globalFlags) (*bootstrap, error) {
	for _, sub := range []string{"config", "config/apps", "config/hubs", "repo/apps", "repo/hubs"} {
		if err := os.MkdirAll(filepath.Join(g.dataDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", sub, err)
		}
	}

	repos, err := registry.LoadRepositories(g.dataDir)
	if err != nil {
		return nil, err
	}
	configs := registry.New(g.dataDir, repos)
	tracked := registry.NewTracker(g.dataDir)
	tracker := statustracker.New()

	client := httputil.New(time.Duration(g.expireTime) * time.Second / 12)
	providers := provider.NewRegistry(
		github.New(client),
		gitlab.New(client),
		fdroid.New(client),
		lsposed.New(client),
		// androidlocal and magisk are omitted here: both need a live
		// device PackageQuerier/ModuleQuerier host callback this
		// headless binary has no way to supply.
	)

	apps := appmanager.New(providers, configs, tracker, tracked)
	return &bootstrap{tracked: tracked, apps: apps, tracker: tracker, configs: configs, providers: providers, client: client}, nil
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	g := bindGlobalFlags(fs)
	addr := fs.String("addr", "", "listen address (host:port); defaults to the configured bind address")
	fs.Parse(args)

	b, err := bootstrapCore(g)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	dbPath := filepath.Join(g.dataDir, "getterd.db")
	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", dbPath, err)
	}
	defer db.Close()
	if err := database.Cleanup(db); err != nil {
		log.Printf("warning: failed to prune stale task history: %v", err)
	}

	settingsManager := settings.NewManager(filepath.Join(g.dataDir, "settings.json"))
	storedSettings, err := settingsManager.Get()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	authManager := auth.NewManager(settingsManager)
	if err := authManager.EnsureDefaults(); err != nil {
		log.Fatalf("failed to initialize auth: %v", err)
	}
	token, _ := authManager.GetToken()
	log.Printf("rpc bearer token: %s", token)

	logger := diaglog.New(filepath.Join(g.dataDir, "getterd.log"))
	if err := logger.Configure(storedSettings.DebugLogEnabled, storedSettings.DebugLogLevel); err != nil {
		log.Printf("warning: failed to configure diagnostics log: %v", err)
	}
	defer logger.Close()
	b.apps.SetLogger(logger)

	cacheManager := cache.New(g.cacheDir, time.Duration(g.expireTime)*time.Second)

	backend := download.NewHTTPBackend(b.client.Doer)
	history := download.NewHistory(db)
	downloads := download.NewManager(backend, history)
	downloads.SetLogger(logger)

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = storedSettings.BindAddr
	}

	rpc := rpcserver.New(b.apps, downloads, history, cacheManager, g.dataDir, g.cacheDir, nil)
	defer rpc.Close()

	router := chi.NewRouter()
	router.With(authManager.Middleware).Post("/rpc", rpc.ServeHTTP)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
		// WriteTimeout is intentionally zero: wait_for_change long-polls.
		WriteTimeout: 0,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("getterd %s listening on %s (data: %s)", buildinfo.Current().String(), listenAddr, g.dataDir)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	cleanupStop := make(chan struct{})
	go runCleanupLoop(downloads, db, cleanupStop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down...")
	close(cleanupStop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}

// runCleanupLoop periodically evicts old terminal tasks into history and
// prunes expired history rows, mirroring the ancestor's StartBackground
// ticker idiom.
func runCleanupLoop(downloads *download.Manager, db *sql.DB, stop chan struct{}) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			downloads.CleanupOldTasks(24 * time.Hour)
			if err := database.Cleanup(db); err != nil {
				log.Printf("warning: task history cleanup failed: %v", err)
			}
		}
	}
}

func runAddApp(args []string) {
	fs := flag.NewFlagSet("add-app", flag.ExitOnError)
	g := bindGlobalFlags(fs)
	var appData, hubData keyValueFlags
	fs.Var(&appData, "a", "app_data key=value (repeatable)")
	fs.Var(&hubData, "H", "hub_data key=value (repeatable)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		cliprint.Fail("add-app requires a HUB argument")
		os.Exit(1)
	}
	hub := fs.Arg(0)

	b, err := bootstrapCore(g)
	if err != nil {
		cliprint.Fail("bootstrap failed: %v", err)
		os.Exit(1)
	}

	hubUUID := resolveHubUUID(b, hub)
	ctx := context.Background()

	available, err := b.apps.CheckAppAvailable(ctx, hubUUID, appData.values, hubData.values)
	if err != nil {
		cliprint.Fail("failed to check app availability: %v", err)
		os.Exit(1)
	}
	if !available {
		cliprint.Fail("app is not available in hub %s", hub)
		os.Exit(1)
	}
	cliprint.OK("app is available")

	release, err := b.apps.GetLatestRelease(ctx, hubUUID, appData.values, hubData.values)
	if err != nil {
		cliprint.Fail("failed to get latest release: %v", err)
		os.Exit(1)
	}
	cliprint.OK("latest version: %s", release.VersionNumber)

	appID := deriveAppID(appData.values)
	identifier := appID + "::" + hubUUID
	if err := b.apps.AddApp(ctx, identifier, appData.values, hubData.values); err != nil {
		if apperror.KindOf(err) == apperror.KindConflict {
			cliprint.Warn("app %s already exists", identifier)
			return
		}
		cliprint.Fail("failed to add app: %v", err)
		os.Exit(1)
	}
	cliprint.OK("app %s added successfully", identifier)
}

func runRenewApp(args []string) {
	fs := flag.NewFlagSet("renew-app", flag.ExitOnError)
	g := bindGlobalFlags(fs)
	var appData, hubData keyValueFlags
	fs.Var(&appData, "a", "app_data key=value (repeatable)")
	fs.Var(&hubData, "H", "hub_data key=value (repeatable)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		cliprint.Fail("renew-app requires a HUB argument")
		os.Exit(1)
	}
	hub := fs.Arg(0)

	b, err := bootstrapCore(g)
	if err != nil {
		cliprint.Fail("bootstrap failed: %v", err)
		os.Exit(1)
	}

	hubUUID := resolveHubUUID(b, hub)
	releases, err := b.apps.GetReleases(context.Background(), hubUUID, appData.values, hubData.values)
	if err != nil {
		cliprint.Fail("failed to get releases: %v", err)
		os.Exit(1)
	}
	if len(releases) == 0 {
		cliprint.Warn("no releases found")
		return
	}
	fmt.Printf("found %d releases:\n", len(releases))
	shown := releases
	if len(shown) > 5 {
		shown = shown[:5]
	}
	for i, r := range shown {
		changelog := r.Changelog
		if len(changelog) > 50 {
			changelog = changelog[:50] + "..."
		}
		fmt.Printf("  %d. %s - %s\n", i+1, r.VersionNumber, changelog)
	}
	if len(releases) > 5 {
		fmt.Printf("  ... and %d more\n", len(releases)-5)
	}
}

func runMarkAppVersion(args []string) {
	fs := flag.NewFlagSet("mark-app-version", flag.ExitOnError)
	g := bindGlobalFlags(fs)
	fs.Parse(args)

	if fs.NArg() < 2 {
		cliprint.Fail("mark-app-version requires APP_ID and VERSION arguments")
		os.Exit(1)
	}
	appID, raw := fs.Arg(0), fs.Arg(1)

	v := version.New(raw)
	clean, ok := v.Valid()
	if !ok {
		cliprint.Fail("invalid version format: %s", raw)
		os.Exit(1)
	}
	cliprint.OK("version %s is valid (normalized: %s)", raw, clean)

	b, err := bootstrapCore(g)
	if err != nil {
		cliprint.Fail("bootstrap failed: %v", err)
		os.Exit(1)
	}

	id, err := registry.ParseIdentifier(appID)
	if err != nil {
		cliprint.Fail("invalid identifier %q: %v", appID, err)
		os.Exit(1)
	}
	state, err := b.tracked.GetState(id)
	if err != nil {
		cliprint.Fail("failed to read tracking state: %v", err)
		os.Exit(1)
	}
	state.IgnoredVersion = clean
	if err := b.tracked.SetState(id, state); err != nil {
		cliprint.Fail("failed to persist tracking state: %v", err)
		os.Exit(1)
	}
	cliprint.OK("version marked successfully")
}

// resolveHubUUID resolves a friendly hub name (e.g. "github") to its
// canonical provider UUID, passing the input through unchanged if it is
// already a UUID the registry doesn't recognise by name.
func resolveHubUUID(b *bootstrap, hub string) string {
	if p, ok := b.providers.ByFriendlyName(hub); ok {
		return p.UUID()
	}
	return hub
}

// deriveAppID mirrors the original CLI's owner/repo-derived app id,
// falling back to a small stable synthetic id when neither is present.
func deriveAppID(appData map[string]any) string {
	repo, hasRepo := appData["repo"]
	owner, hasOwner := appData["owner"]
	switch {
	case hasRepo && hasOwner:
		return fmt.Sprintf("%v_%v", owner, repo)
	case hasRepo:
		return fmt.Sprintf("%v", repo)
	default:
		return "app_" + strconv.Itoa(len(appData))
	}
}
