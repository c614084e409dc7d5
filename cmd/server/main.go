package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	iofs "io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/driftworks/conduit/internal/agent"
	"github.com/driftworks/conduit/internal/agent/acp"
	"github.com/driftworks/conduit/internal/agent/mock"
	"github.com/driftworks/conduit/internal/agent/opencode"
	"github.com/driftworks/conduit/internal/agent/sharedserver"
	"github.com/driftworks/conduit/internal/agent/subprocess"
	"github.com/driftworks/conduit/internal/cleanup"
	"github.com/driftworks/conduit/internal/clock"
	"github.com/driftworks/conduit/internal/config"
	"github.com/driftworks/conduit/internal/container"
	"github.com/driftworks/conduit/internal/container/docker"
	"github.com/driftworks/conduit/internal/logger"
	"github.com/driftworks/conduit/internal/metrics"
	"github.com/driftworks/conduit/internal/pty"
	"github.com/driftworks/conduit/internal/session"
	"github.com/driftworks/conduit/internal/supervisor"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			cmdInit()
			return
		case "upgrade":
			cmdUpgrade(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("conduit %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}

	runServer()
}

func printUsage() {
	fmt.Printf(`Conduit %s - headless agent session runtime

Usage: conduit [command] [options]

Commands:
  (default)    Start the daemon
  init         Initialize the Conduit home directory
  upgrade      Upgrade to the latest release
  version      Print version and exit
  help         Show this help

Server Options:
  --dir <path>   Conduit home directory
  --version      Print version and exit

Config Precedence:
  1. --dir flag
  2. CONDUIT_HOME env var
  3. . or ./.conduit (if initialized in current directory)
  4. ~/.conduit (default)

Examples:
  conduit                       Start the daemon (auto-detect config)
  conduit --dir /path/to/home   Start with a specific home directory
  conduit init                  Set up ~/.conduit
  conduit init --dir .          Set up in the current directory
`, Version)
}

func runServer() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	dirFlag := flag.String("dir", "", "Conduit home directory (default: ~/.conduit)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("conduit %s\n", Version)
		os.Exit(0)
	}

	conduitDir := resolveConduitDir(*dirFlag)
	configDir := filepath.Join(conduitDir, "config")

	if _, err := os.Stat(filepath.Join(configDir, "conduit.jsonc")); errors.Is(err, iofs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Conduit not initialized. Run 'conduit init' first.")
		os.Exit(1)
	}

	cfg, err := config.LoadAll(configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logDir := resolveUnder(conduitDir, cfg.Daemon.LogDir)
	if err := logger.Init(logDir, cfg.Daemon.LogJSON); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Info("conduit daemon starting (version=%s home=%s)", Version, conduitDir)

	processLogDir := resolveUnder(conduitDir, cfg.Daemon.ProcessLogDir)
	if err := os.MkdirAll(processLogDir, 0o755); err != nil {
		logger.Error("failed to create process log directory: %v", err)
		os.Exit(1)
	}

	backend, containerRuntime := buildSupervisorBackend(cfg)
	if containerRuntime != nil {
		defer func() { _ = containerRuntime.Close() }()
	}

	registry := buildAgentRegistry(cfg, backend)
	logger.Info("agent adapters registered (kinds=%v)", registry.Kinds())

	sessionMgr := session.NewManager(
		registry,
		cfg.Daemon.EventBufferSize,
		cfg.Daemon.UnparsedEventRatePerSec,
		cfg.Daemon.UnparsedEventBurst,
		time.Duration(cfg.Daemon.IdleSessionTimeoutMinutes)*time.Minute,
	)

	processMgr := pty.NewManager(processLogDir, cfg.Daemon.PTYSubscriberCap)

	cleanCfg := cleanup.DefaultConfig(processLogDir)
	cleanCfg.LogRetention = time.Duration(cfg.Daemon.LogRetentionDays) * 24 * time.Hour
	cleaner := cleanup.New(cleanCfg)
	cleaner.Start()

	sched := clock.NewScheduler()
	if err := sched.Every("idle-session-sweep", "@every 1m", sessionMgr.SweepIdleSessionsOnce); err != nil {
		logger.Error("failed to register idle session sweep: %v", err)
	}
	sched.Start()

	opsAddr := cfg.Daemon.ListenAddress
	if opsAddr == "" {
		opsAddr = ":8080"
	}
	opsServer := newOpsServer(opsAddr, processMgr, sessionMgr)
	opsErr := make(chan error, 1)
	go func() { opsErr <- opsServer.ListenAndServe() }()
	logger.Info("ops endpoints listening (address=%s, paths=/health,/ready,/metrics)", opsAddr)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-opsErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error: %v", err)
		}
	case sig := <-shutdownChan:
		logger.Info("received signal, shutting down (signal=%s)", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_ = opsServer.Shutdown(shutdownCtx)
		sched.Stop()
		cleaner.Stop()

		for _, s := range sessionMgr.List() {
			if s.Status == session.StatusActive {
				_ = sessionMgr.Terminate(shutdownCtx, s.SessionID, "daemon shutting down")
			}
		}
		for _, p := range processMgr.List() {
			if p.Status == pty.StatusRunning || p.Status == pty.StatusStarting {
				_ = processMgr.Stop(p.ID)
			}
		}

		logger.Info("shutdown complete")
	}
}

// buildSupervisorBackend picks the host or container-backed supervisor
// backend per the configured ContainerBackend default, falling back to the
// host backend if the container runtime can't be reached.
func buildSupervisorBackend(cfg *config.LoadedConfig) (supervisor.Backend, *container.CachedRuntime) {
	if cfg.Defaults.ContainerBackend != "docker" {
		return supervisor.NewHostBackend(), nil
	}

	rt, err := docker.NewRuntime()
	if err != nil {
		logger.Warn("docker runtime unavailable, falling back to host backend: %v", err)
		return supervisor.NewHostBackend(), nil
	}
	cached := container.NewCachedRuntime(rt, 5*time.Second)
	if err := cached.Ping(context.Background()); err != nil {
		logger.Warn("docker runtime ping failed, falling back to host backend: %v", err)
		_ = cached.Close()
		return supervisor.NewHostBackend(), nil
	}
	logger.Info("container-backed process supervisor active")
	sandboxImage := cfg.Containers["base"]
	return supervisor.NewContainerBackend(cached, sandboxImage), cached
}

// buildAgentRegistry wires every adapter family this daemon ships: the
// deterministic mock, the subprocess-per-session family, the ACP/JSON-RPC
// Droid adapter, and the shared-server OpenCode adapter.
func buildAgentRegistry(cfg *config.LoadedConfig, backend supervisor.Backend) *agent.Registry {
	registry := agent.NewRegistry()

	mock.Register(registry, clock.New())
	subprocess.Register(registry, backend)
	acp.RegisterDroid(registry, backend)

	ocDefaults := cfg.AdapterConfig("opencode")
	startupTimeout := time.Duration(ocDefaults.StartupTimeoutSeconds) * time.Second
	ssMgr := sharedserver.New(
		string(agent.KindOpenCode),
		cfg.Defaults.SharedServer.PortRangeStart,
		cfg.Defaults.SharedServer.PortRangeEnd,
		opencode.NewSpawner(backend, "", startupTimeout),
		opencode.HealthCheck,
		time.Duration(cfg.Defaults.SharedServer.HealthIntervalMillis)*time.Millisecond,
		time.Duration(cfg.Defaults.SharedServer.HealthTimeoutSeconds)*time.Second,
	)
	opencode.Register(registry, ssMgr)

	if cred, ok := cfg.Credentials.GetDefaultProviderCredential(); !ok || cred.APIKey == "" {
		logger.Warn("no default provider credential configured; sessions will fail until credentials.providers is set")
	}

	return registry
}

// newOpsServer mounts the daemon's ambient ops endpoints (metrics, health)
// the way the teacher mounts them on its own transport mux, minus the
// session/tool RPC surface that belongs to the out-of-scope transport.
func newOpsServer(addr string, processMgr *pty.Manager, sessionMgr *session.Manager) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		metrics.SetProcessesRunning(float64(processMgr.Count()))
		var openPTYs int
		for _, p := range processMgr.List() {
			if p.TTY && (p.Status == pty.StatusRunning || p.Status == pty.StatusStarting) {
				openPTYs++
			}
		}
		metrics.SetPTYsActive(float64(openPTYs))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		_ = sessionMgr.Count()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

// resolveUnder joins a relative path under base, leaving absolute paths
// untouched.
func resolveUnder(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "Directory to initialize (default: ~/.conduit)")
	_ = fs.Parse(os.Args[2:])

	var conduitDir string
	if *dirFlag != "" {
		absDir, err := filepath.Abs(*dirFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid directory: %v\n", err)
			os.Exit(1)
		}
		conduitDir = absDir
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not determine home directory: %v\n", err)
			os.Exit(1)
		}
		conduitDir = filepath.Join(homeDir, ".conduit")
	}

	configDir := filepath.Join(conduitDir, "config")
	dataDir := filepath.Join(conduitDir, "data")
	configFile := filepath.Join(configDir, "conduit.jsonc")

	if _, err := os.Stat(configFile); err == nil {
		fmt.Printf("%s is already initialized.\n", conduitDir)
		fmt.Print("Overwrite? [y/N]: ")
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	fmt.Println("Initializing Conduit")
	fmt.Println("")

	dirs := []string{
		configDir,
		filepath.Join(dataDir, "logs"),
		filepath.Join(dataDir, "process-logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", dir, err)
			os.Exit(1)
		}
		fmt.Printf("   Created %s\n", dir)
	}

	unifiedConfig := `{
  // Conduit daemon configuration

  "daemon": {
    "listen_address": ":8080",
    "log_dir": "data/logs",
    "log_json": false,
    "event_buffer_size": 1024,
    "idle_session_timeout_minutes": 60,
    "unparsed_event_rate_per_sec": 1,
    "unparsed_event_burst": 5,
    "pty_subscriber_cap": 256,
    "process_log_dir": "data/process-logs",
    "log_retention_days": 7
  },

  "credentials": {
    "providers": {
      "credentials": {},
      "default": ""
    }
  },

  "defaults": {
    "adapters": {},
    "shared_server": {
      "port_range_start": 41000,
      "port_range_end": 41999,
      "health_timeout_seconds": 30,
      "health_interval_millis": 250
    },
    "container_backend": "host"
  },

  "models": {
    "models": {}
  },

  "containers": {}
}
`
	if err := os.WriteFile(configFile, []byte(unifiedConfig), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating conduit.jsonc: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   Created %s\n", configFile)

	fmt.Println("")
	fmt.Println("Conduit initialized!")
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Printf("   1. Edit %s with your provider credentials\n", configFile)
	fmt.Println("   2. Run 'conduit' to start the daemon")
}

func cmdUpgrade(args []string) {
	checkOnly := false
	for _, arg := range args {
		if arg == "--check" || arg == "-c" {
			checkOnly = true
		}
	}

	fmt.Printf("Current version: %s\n", Version)
	fmt.Println("Checking for updates...")

	resp, err := http.Get("https://api.github.com/repos/driftworks/conduit/releases/latest")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking for updates: %v\n", err)
		os.Exit(1)
	}

	if resp.StatusCode == 404 {
		_ = resp.Body.Close()
		fmt.Println("No releases found yet.")
		return
	}
	if resp.StatusCode != 200 {
		_ = resp.Body.Close()
		fmt.Fprintf(os.Stderr, "Error: GitHub API returned status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	var release struct {
		TagName string `json:"tag_name"`
		Assets  []struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		_ = resp.Body.Close()
		fmt.Fprintf(os.Stderr, "Error parsing release info: %v\n", err)
		os.Exit(1)
	}
	_ = resp.Body.Close()

	latestVersion := release.TagName
	fmt.Printf("Latest version: %s\n", latestVersion)

	currentVersion := Version
	if !strings.HasPrefix(currentVersion, "v") {
		currentVersion = "v" + currentVersion
	}
	if currentVersion == latestVersion {
		fmt.Println("")
		fmt.Println("Already on the latest version.")
		return
	}
	if checkOnly {
		fmt.Println("")
		fmt.Printf("Upgrade available: %s -> %s\n", Version, latestVersion)
		fmt.Println("Run 'conduit upgrade' to install.")
		return
	}

	goos := runtime.GOOS
	goarch := runtime.GOARCH
	binaryName := fmt.Sprintf("conduit-%s-%s", goos, goarch)

	var binaryURL, checksumsURL string
	for _, asset := range release.Assets {
		if asset.Name == binaryName {
			binaryURL = asset.BrowserDownloadURL
		}
		if asset.Name == "checksums.txt" {
			checksumsURL = asset.BrowserDownloadURL
		}
	}
	if binaryURL == "" {
		fmt.Fprintf(os.Stderr, "Error: no binary found for %s/%s\n", goos, goarch)
		os.Exit(1)
	}

	fmt.Println("")
	fmt.Printf("Downloading %s...\n", binaryName)

	tmpFile, err := os.CreateTemp("", "conduit-upgrade-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating temp file: %v\n", err)
		os.Exit(1)
	}

	binaryResp, err := http.Get(binaryURL)
	if err != nil {
		_ = os.Remove(tmpFile.Name())
		fmt.Fprintf(os.Stderr, "Error downloading binary: %v\n", err)
		os.Exit(1)
	}
	if _, err := io.Copy(tmpFile, binaryResp.Body); err != nil {
		_ = binaryResp.Body.Close()
		_ = os.Remove(tmpFile.Name())
		fmt.Fprintf(os.Stderr, "Error saving binary: %v\n", err)
		os.Exit(1)
	}
	_ = binaryResp.Body.Close()
	_ = tmpFile.Close()

	if checksumsURL != "" {
		fmt.Println("Verifying checksum...")
		checksumsResp, err := http.Get(checksumsURL)
		if err == nil {
			checksumsData, _ := io.ReadAll(checksumsResp.Body)
			_ = checksumsResp.Body.Close()

			var expectedChecksum string
			for _, line := range strings.Split(string(checksumsData), "\n") {
				if strings.Contains(line, binaryName) {
					parts := strings.Fields(line)
					if len(parts) >= 1 {
						expectedChecksum = parts[0]
						break
					}
				}
			}

			if expectedChecksum != "" {
				f, _ := os.Open(tmpFile.Name())
				h := sha256.New()
				_, _ = io.Copy(h, f)
				_ = f.Close()
				actualChecksum := fmt.Sprintf("%x", h.Sum(nil))

				if actualChecksum != expectedChecksum {
					_ = os.Remove(tmpFile.Name())
					fmt.Fprintf(os.Stderr, "Error: checksum mismatch!\n")
					fmt.Fprintf(os.Stderr, "  Expected: %s\n", expectedChecksum)
					fmt.Fprintf(os.Stderr, "  Actual:   %s\n", actualChecksum)
					os.Exit(1)
				}
				fmt.Println("Checksum verified")
			}
		}
	}

	currentBinary, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding current binary: %v\n", err)
		os.Exit(1)
	}
	currentBinary, _ = filepath.EvalSymlinks(currentBinary)

	fmt.Printf("Replacing %s...\n", currentBinary)
	_ = os.Chmod(tmpFile.Name(), 0o755)

	if err := os.Rename(tmpFile.Name(), currentBinary); err != nil {
		src, err := os.Open(tmpFile.Name())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening temp file: %v\n", err)
			os.Exit(1)
		}
		dst, err := os.OpenFile(currentBinary, os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			_ = src.Close()
			fmt.Fprintf(os.Stderr, "Error opening binary for writing: %v\n", err)
			fmt.Fprintf(os.Stderr, "You may need to run with sudo or adjust permissions.\n")
			os.Exit(1)
		}
		if _, err := io.Copy(dst, src); err != nil {
			_ = src.Close()
			_ = dst.Close()
			fmt.Fprintf(os.Stderr, "Error writing binary: %v\n", err)
			os.Exit(1)
		}
		_ = src.Close()
		_ = dst.Close()
	}

	fmt.Println("")
	fmt.Printf("Upgraded from %s to %s\n", Version, latestVersion)
}

// resolveConduitDir determines the conduit home directory with precedence:
// 1. Explicit flag (if provided)
// 2. CONDUIT_HOME env var
// 3. the current directory itself, if it holds config/conduit.jsonc,
//    otherwise ./.conduit (if initialized)
// 4. ~/.conduit (default)
func resolveConduitDir(flagDir string) string {
	if flagDir != "" {
		absDir, err := filepath.Abs(flagDir)
		if err != nil {
			log.Fatalf("Invalid directory: %v", err)
		}
		return absDir
	}

	if envDir := os.Getenv("CONDUIT_HOME"); envDir != "" {
		absDir, err := filepath.Abs(envDir)
		if err != nil {
			log.Fatalf("Invalid CONDUIT_HOME: %v", err)
		}
		return absDir
	}

	cwd, err := os.Getwd()
	if err == nil {
		directConfig := filepath.Join(cwd, "config", "conduit.jsonc")
		if _, err := os.Stat(directConfig); err == nil {
			return cwd
		}
		localDir := filepath.Join(cwd, ".conduit")
		configFile := filepath.Join(localDir, "config", "conduit.jsonc")
		if _, err := os.Stat(configFile); err == nil {
			return localDir
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get home directory: %v", err)
	}
	return filepath.Join(homeDir, ".conduit")
}
