package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/agentick/adw/internal/agent"
	"github.com/agentick/adw/internal/config"
	"github.com/agentick/adw/internal/console"
	"github.com/agentick/adw/internal/discovery"
	"github.com/agentick/adw/internal/events"
	"github.com/agentick/adw/internal/gitops"
	"github.com/agentick/adw/internal/logger"
	"github.com/agentick/adw/internal/monitor"
	"github.com/agentick/adw/internal/orchestrator"
	"github.com/agentick/adw/internal/scaffold"
	"github.com/agentick/adw/internal/server"
	"github.com/agentick/adw/internal/stages"
	"github.com/agentick/adw/internal/state"
	"github.com/agentick/adw/internal/store"
	"github.com/agentick/adw/internal/terminal"
	"github.com/agentick/adw/internal/worktree"
	"github.com/agentick/adw/internal/ws"
)

func main() {
	app := &cli.Command{
		Name:  "adw",
		Usage: "Agent-driven workflow orchestrator",
		Commands: []*cli.Command{
			runCmd(),
			serveCmd(),
			statusCmd(),
			initCmd(),
			migrateCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", console.Red, console.Reset, err)
		os.Exit(1)
	}
}

func projectRoot() (string, error) {
	return os.Getwd()
}

func openStore(root string, log *logger.Logger) (*store.Store, error) {
	return store.New(filepath.Join(root, store.DefaultDBPath), log,
		store.WithProjectRoot(root))
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a workflow for an issue",
		ArgsUsage: "<issue-number> [adw-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "stages", Usage: "Comma-separated stage list (e.g. plan,build,test)"},
			&cli.StringFlag{Name: "workflow", Usage: "Named workflow configuration (e.g. sdlc)"},
			&cli.StringFlag{Name: "config", Usage: "JSON orchestrator configuration"},
			&cli.StringFlag{Name: "backend", Value: "http://localhost:8000", Usage: "Backend URL for stage-event forwarding"},
			&cli.StringFlag{Name: "data-source", Value: state.SourceGitHub, Usage: "Issue source: github or kanban"},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	issueArg := cmd.Args().First()
	if issueArg == "" {
		return fmt.Errorf("issue-number argument is required")
	}
	if cmd.String("stages") == "" && cmd.String("workflow") == "" && cmd.String("config") == "" {
		return fmt.Errorf("must specify --stages, --workflow, or --config")
	}

	adwID := cmd.Args().Get(1)
	if adwID == "" {
		adwID = state.NewID()
		fmt.Printf("Using ADW ID: %s\n", adwID)
	} else if !state.ValidID(adwID) {
		return fmt.Errorf("adw-id must be 8 alphanumeric characters, got %q", adwID)
	}

	root, err := projectRoot()
	if err != nil {
		return err
	}

	log, err := logger.New(os.Getenv("ADW_LOG_MODE"))
	if err != nil {
		return err
	}
	defer log.Sync()

	loader := config.NewLoader(root)
	var orchCfg *config.OrchestratorConfig
	var workflowCfg *config.WorkflowConfig

	switch {
	case cmd.String("config") != "":
		orchCfg, err = config.ParseOrchestratorConfig([]byte(cmd.String("config")))
		if err != nil {
			return err
		}
		if invalid := config.ValidateStages(orchCfg.Stages); len(invalid) > 0 {
			return fmt.Errorf("invalid stages %v (valid: %v)", invalid, config.StageNames())
		}
		workflowCfg = loader.FromOrchestratorConfig(orchCfg)
	case cmd.String("workflow") != "":
		workflowCfg, err = loader.Load(cmd.String("workflow"))
		if err != nil {
			return err
		}
	default:
		stageList := config.SplitStageList(cmd.String("stages"))
		if invalid := config.ValidateStages(stageList); len(invalid) > 0 {
			return fmt.Errorf("invalid stages %v (valid: %v)", invalid, config.StageNames())
		}
		workflowCfg = loader.FromStages(stageList)
	}

	stageNames := make([]string, 0, len(workflowCfg.Stages))
	for _, sc := range workflowCfg.Stages {
		stageNames = append(stageNames, sc.Name)
	}
	if err := agent.Preflight(stageNames); err != nil {
		return err
	}

	st, err := openStore(root, log)
	if err != nil {
		return err
	}

	git := gitops.New(root)
	emitter := events.NewEmitter()
	emitter.OnAll(console.Handler())
	notifier := events.NewNotifier(cmd.String("backend"), log)
	emitter.OnAll(notifier.Notify)

	engine := &orchestrator.Engine{
		ADWID:       adwID,
		Config:      workflowCfg,
		OrchConfig:  orchCfg,
		ProjectRoot: root,
		Store:       st,
		Registry:    stages.DefaultRegistry(),
		Emitter:     emitter,
		Git:         git,
		Worktrees:   worktree.NewManager(root, git, log),
		Log:         log.With("adw_id", adwID),
	}

	if n, err := strconv.Atoi(issueArg); err == nil {
		engine.IssueNumber = &n
		if cmd.String("data-source") == state.SourceGitHub {
			if err := seedIssue(ctx, st, git, adwID, n, log); err != nil {
				log.Warn("could not fetch issue", "issue", n, "error", err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := engine.Run(ctx); err != nil {
		console.ResumeHint(issueArg, adwID)
		return err
	}
	return nil
}

// seedIssue populates issue fields from gh before the first stage runs.
// Already-populated state (resume) is left alone.
func seedIssue(ctx context.Context, st *store.Store, git *gitops.Git, adwID string, number int, log *logger.Logger) error {
	existing, err := st.Load(adwID)
	if err != nil {
		return err
	}
	if existing != nil && existing.IssueTitle != "" {
		return nil
	}
	issue, err := git.IssueView(ctx, number)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = state.New(adwID)
	}
	existing.IssueNumber = &number
	existing.IssueTitle = issue.Title
	existing.IssueBody = issue.Body
	existing.IssueClass = issue.Classify()
	existing.IssueJSON = issue.AsMap()
	existing.DataSource = state.SourceGitHub
	return st.Save(existing)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the backend HTTP/WebSocket server",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Value: 8000, Usage: "Listen port"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			log, err := logger.New(os.Getenv("ADW_LOG_MODE"))
			if err != nil {
				return err
			}
			defer log.Sync()

			st, err := openStore(root, log)
			if err != nil {
				return err
			}

			git := gitops.New(root)
			wsman := ws.NewManager(log)
			srv := server.New(st, discovery.New(st), wsman,
				worktree.NewManager(root, git, log),
				terminal.NewLauncher(log), root, log)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Agent log monitors feed the broadcast fan-out.
			sup := monitor.NewSupervisor(root, func(ev monitor.Event) {
				wsman.Broadcast(ev.Type, ev.Data)
			}, log)
			go sup.Run(ctx)

			heartbeatStop := make(chan struct{})
			go wsman.HeartbeatLoop(30*time.Second, heartbeatStop)
			defer close(heartbeatStop)

			addr := fmt.Sprintf(":%d", cmd.Int("port"))
			httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			log.Info("backend listening", "addr", addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show workflow status",
		ArgsUsage: "<adw-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			adwID := cmd.Args().First()
			if !state.ValidID(adwID) {
				return fmt.Errorf("adw-id must be 8 alphanumeric characters")
			}
			root, err := projectRoot()
			if err != nil {
				return err
			}
			log := logger.Nop()
			st, err := openStore(root, log)
			if err != nil {
				return err
			}
			loaded, err := st.Load(adwID)
			if err != nil {
				return err
			}
			if loaded == nil {
				return fmt.Errorf("no workflow found for %s", adwID)
			}

			var exec *orchestrator.WorkflowExecution
			if raw, ok := loaded.OrchestratorState["execution"].(map[string]any); ok {
				exec, _ = orchestrator.ExecutionFromMap(raw)
			}
			console.RenderStatus(loaded, exec)
			return nil
		},
	}
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Scaffold the adws/, agents/, and trees/ directory layout",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			if err := scaffold.Init(root); err != nil {
				return err
			}
			fmt.Println("Initialized ADW project layout.")
			return nil
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Import legacy agents/*/adw_state.json mirrors into the database",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := projectRoot()
			if err != nil {
				return err
			}
			log, err := logger.New(os.Getenv("ADW_LOG_MODE"))
			if err != nil {
				return err
			}
			defer log.Sync()

			// The store's own mirror fallback is bypassed here; migration
			// reads mirrors explicitly and writes rows.
			st, err := store.New(filepath.Join(root, store.DefaultDBPath), log)
			if err != nil {
				return err
			}

			ids, err := state.ListMirrors(root)
			if err != nil {
				return err
			}
			migrated, skipped := 0, 0
			for _, adwID := range ids {
				existing, err := st.Load(adwID)
				if err != nil {
					return err
				}
				if existing != nil {
					skipped++
					continue
				}
				mirror, err := state.ReadMirror(root, adwID)
				if err != nil || mirror == nil {
					log.Warn("skipping unreadable mirror", "adw_id", adwID, "error", err)
					skipped++
					continue
				}
				if err := st.Save(mirror); err != nil {
					return err
				}
				migrated++
			}
			fmt.Printf("Migrated %d workflow(s), skipped %d.\n", migrated, skipped)
			return nil
		},
	}
}
