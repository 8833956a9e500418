// Command orchestratord is the orchestration-core daemon: it loads
// config.yaml, opens the Store, wires the Context Manager, Runtime,
// Workflow Engine, External Coordinator, and Verifier, and serves the
// programmatic API until a shutdown signal arrives. Grounded on
// cmd/cliaimonitor/main.go's flag parsing, base-path resolution, and
// graceful-shutdown select loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/orchestrator-core/orchestrator/internal/api"
	"github.com/orchestrator-core/orchestrator/internal/auth"
	"github.com/orchestrator-core/orchestrator/internal/containerrt"
	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/events"
	"github.com/orchestrator-core/orchestrator/internal/external"
	"github.com/orchestrator-core/orchestrator/internal/natsbridge"
	"github.com/orchestrator-core/orchestrator/internal/roles/code"
	"github.com/orchestrator-core/orchestrator/internal/roles/communication"
	"github.com/orchestrator-core/orchestrator/internal/roles/deploy"
	"github.com/orchestrator-core/orchestrator/internal/roles/identity"
	"github.com/orchestrator-core/orchestrator/internal/roles/security"
	"github.com/orchestrator-core/orchestrator/internal/roles/sourcecontrol"
	"github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
	"github.com/orchestrator-core/orchestrator/internal/verify"
	"github.com/orchestrator-core/orchestrator/internal/workflow"
	"gopkg.in/yaml.v3"
)

func main() {
	configPath := flag.String("config", "config.yaml", "orchestrator configuration file")
	addr := flag.String("addr", "", "override the api_addr from config")
	flag.Parse()

	basePath, err := getBasePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to determine base path: %v\n", err)
		os.Exit(1)
	}
	resolvedConfigPath := *configPath
	if !filepath.IsAbs(resolvedConfigPath) {
		resolvedConfigPath = filepath.Join(basePath, resolvedConfigPath)
	}

	cfg, err := loadConfig(resolvedConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.APIAddr = *addr
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = "127.0.0.1:7070"
	}
	if !filepath.IsAbs(cfg.StorePath) {
		cfg.StorePath = filepath.Join(basePath, cfg.StorePath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create store directory: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	cm := contextmgr.New(st, cfg.Compression)
	bus := events.NewBus()
	cm.SetBus(bus)
	identityRole := identity.New(cfg.ProjectsDir)
	cm.SetIdentityWriter(identityRole)
	rt := runtime.New(st, cm)

	if cfg.NATSURL != "" {
		bridgeCfg := natsbridge.Config{}
		if cfg.NATSURL == "embedded" {
			bridgeCfg.Embedded = true
			bridgeCfg.Port = 4222
		} else {
			bridgeCfg.URL = cfg.NATSURL
		}
		bridge, err := natsbridge.New(bridgeCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start nats bridge: %v\n", err)
			os.Exit(1)
		}
		defer bridge.Close()
		stopBridging := bridge.BridgeBus(bus)
		defer stopBridging()
	}

	creds := auth.New(nil)
	sc := sourcecontrol.NewGitHubHost("")
	chat := communication.NewSlackPlatform("")

	registry := buildRegistry(sc, chat, creds, basePath, identityRole)
	wf := workflow.New(st, cm, rt, registry)
	coord := external.New(cfg.ExternalCoordinator, sc, chat, creds, st, cm)
	verifier := verify.New(st, cm, cfg.ProbeTimeout)

	apiServer := api.New(cfg.APIAddr, st, cm, bus, wf, verifier, cfg.Workflows)

	// Bridge the External Coordinator off the Bus: contextmgr emits a
	// "context-created" milestone on every new context, and the Workflow
	// Engine emits "workflow-completed"/"workflow-failed" on every
	// terminal session — together these stand in for spec.md §4.6's
	// "on context creation/completion" trigger without a separate hook
	// registration mechanism.
	coordCh := bus.Subscribe("all", []types.EventKind{types.EventKindMilestone})
	go runCoordinatorBridge(coordCh, st, coord)

	serverErr := make(chan error, 1)
	go func() { serverErr <- apiServer.Start() }()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("orchestratord listening on %s\n", cfg.APIAddr)

	select {
	case err := <-serverErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "api server error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println("shutdown signal received, stopping gracefully")
	case <-apiServer.ShutdownChan:
		fmt.Println("shutdown requested via api, stopping gracefully")
	}

	if err := apiServer.Stop(10 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "graceful shutdown error: %v\n", err)
	}
}

// runCoordinatorBridge dispatches milestone events to the External
// Coordinator. It runs for the daemon's lifetime; ch closes when the Bus
// itself is torn down (process exit).
func runCoordinatorBridge(ch <-chan events.StreamEvent, st *store.Store, coord *external.Coordinator) {
	for se := range ch {
		if se.Event == nil {
			continue
		}
		name, _ := se.Event.Payload["event"].(string)
		switch name {
		case "context-created":
			ctxObj, err := st.GetContext(se.Event.ContextID)
			if err != nil {
				continue
			}
			coord.OnContextCreated(context.Background(), ctxObj)
		case "workflow-completed", "workflow-failed":
			ctxObj, err := st.GetContext(se.Event.ContextID)
			if err != nil {
				continue
			}
			summary := fmt.Sprintf("workflow %v finished with status %s", se.Event.Payload["workflow"], name)
			coord.OnContextCompleted(context.Background(), ctxObj, summary)
		}
	}
}

func buildRegistry(sc sourcecontrol.Host, chat communication.Platform, creds *auth.Store, basePath string, identityRole *identity.Role) workflow.Registry {
	scRole := sourcecontrol.New(sc, creds)
	commRole := communication.New(chat, creds, nil)
	secRole := security.New(walkFiles, os.ReadFile, 0)
	codeRole := code.New(code.NewCLIGenerator("", ""), code.NewGofmtValidator(), code.NewGoTestTester(basePath))
	deployRole := deploy.New(containerrt.NewExecRuntime("docker"), creds, 0)

	return workflow.Registry{
		types.RoleSourceControl:   func() []runtime.Step { return scRole.StepPlan() },
		types.RoleCommunication:   func() []runtime.Step { return commRole.StepPlan() },
		types.RoleSecurity:        func() []runtime.Step { return secRole.StepPlan() },
		types.RoleCode:            func() []runtime.Step { return codeRole.StepPlan() },
		types.RoleDeploy:          func() []runtime.Step { return deployRole.StepPlan() },
		types.RoleProjectIdentity: func() []runtime.Step { return identityRole.StepPlan() },
	}
}

func loadConfig(path string) (*types.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &types.Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// walkFiles is the security role's FileLister: every regular file under
// root, skipping version-control metadata directories.
func walkFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" || info.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func getBasePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}
	dir := filepath.Dir(exe)
	if filepath.Base(dir) == "exe" || filepath.Base(filepath.Dir(dir)) == "go-build" {
		return os.Getwd()
	}
	if filepath.Base(dir) == "bin" {
		return filepath.Dir(dir), nil
	}
	return dir, nil
}
