// Command backupsvc is the process entry point: it resolves the job
// indices named on the command line, wires the scheduler's
// collaborators, and runs Scheduler.Execute to completion.
//
// The flag/runtime wiring resolves the executable's directory for
// default config/log paths, builds one shared ambient Logger, and exits
// non-zero only on catastrophic startup failure. Flags are parsed with
// github.com/spf13/cobra + pflag.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theweak1/backupsvc/internal/config"
	"github.com/theweak1/backupsvc/internal/control"
	"github.com/theweak1/backupsvc/internal/encryption"
	"github.com/theweak1/backupsvc/internal/gate"
	"github.com/theweak1/backupsvc/internal/jobstate"
	"github.com/theweak1/backupsvc/internal/jobstore"
	"github.com/theweak1/backupsvc/internal/logging"
	"github.com/theweak1/backupsvc/internal/queue"
	"github.com/theweak1/backupsvc/internal/scheduler"
	"github.com/theweak1/backupsvc/internal/staterepo"
	"github.com/theweak1/backupsvc/internal/types"
	"github.com/theweak1/backupsvc/internal/utils"
)

func main() {
	root, err := utils.ExeDir()
	if err != nil {
		root, _ = os.Getwd()
	}

	var (
		configDir     string
		logDir        string
		noLogs        bool
		stateFile     string
		jobsFile      string
		maxJobs       int
		sizeThreshold int64
		priorityExts  []string
		encryptExts   []string
	)

	rootCmd := &cobra.Command{
		Use:   "backupsvc [job-indices...]",
		Short: "Runs the concurrent multi-job backup scheduler",
		Long: "backupsvc resolves the given job indices against config.ini and executes\n" +
			"the three-phase backup scheduler: parallel per-job analysis, a shared\n" +
			"priority queue, and a worker pool that copies, logs, and tracks state\n" +
			"for every file.\n\n" +
			"Job indices accept an inclusive range (1-3), a semicolon-separated\n" +
			"union (1;3;5), or multiple positional arguments; invalid or\n" +
			"out-of-range tokens are silently skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := configOverrides{
				maxJobsSet:       cmd.Flags().Changed("max-jobs"),
				maxJobs:          maxJobs,
				sizeThresholdSet: cmd.Flags().Changed("size-threshold-mb"),
				sizeThresholdMB:  sizeThreshold,
				priorityExts:     priorityExts,
				encryptExts:      encryptExts,
			}
			return run(root, configDir, logDir, stateFile, jobsFile, noLogs, args, overrides)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configDir, "config-dir", filepath.Join(root, "config"), "Config directory (config.ini lives here)")
	flags.StringVar(&logDir, "log-dir", filepath.Join(root, "logs"), "Ambient process log directory")
	flags.StringVar(&stateFile, "state-file", filepath.Join(root, "state", "jobstate.json"), "Job state snapshot file")
	flags.StringVar(&jobsFile, "jobs-file", "", "Job store JSON file (default: jobs defined in config.ini)")
	flags.BoolVar(&noLogs, "no-logs", false, "Disable ambient process file logging (stdout only)")
	flags.IntVar(&maxJobs, "max-jobs", 0, "Override max simultaneous jobs (clamped to 1-10)")
	flags.Int64Var(&sizeThreshold, "size-threshold-mb", 0, "Override the heavy-file size threshold, in MB")
	flags.StringSliceVar(&priorityExts, "priority-ext", nil, "Extra priority-lane file extensions (repeatable)")
	flags.StringSliceVar(&encryptExts, "encrypt-ext", nil, "Extra encryption-required file extensions (repeatable)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configOverrides carries the CLI flags that narrow the scheduler's
// configuration surface loaded from config.ini. Only fields the operator
// actually set on the command line take effect.
type configOverrides struct {
	maxJobsSet       bool
	maxJobs          int
	sizeThresholdSet bool
	sizeThresholdMB  int64
	priorityExts     []string
	encryptExts      []string
}

func (o configOverrides) apply(cfg *types.SchedulerConfig) {
	if o.maxJobsSet {
		cfg.MaxSimultaneousJobs = o.maxJobs
	}
	if o.sizeThresholdSet {
		cfg.SizeThresholdBytes = o.sizeThresholdMB * 1024 * 1024
	}
	for _, ext := range o.priorityExts {
		if cfg.PriorityExtensions == nil {
			cfg.PriorityExtensions = map[string]struct{}{}
		}
		cfg.PriorityExtensions[types.NormalizeExt(ext)] = struct{}{}
	}
	for _, ext := range o.encryptExts {
		if cfg.EncryptionExtensions == nil {
			cfg.EncryptionExtensions = map[string]struct{}{}
		}
		cfg.EncryptionExtensions[types.NormalizeExt(ext)] = struct{}{}
	}
	cfg.Clamp()
}

func run(root, configDir, logDir, stateFile, jobsFile string, noLogs bool, args []string, overrides configOverrides) error {
	log, err := logging.New(configDir, logging.LogSettings{NoLogs: noLogs, LogDir: logDir})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()
	if err := log.PruneOldLogs(30); err != nil {
		log.Warnf("log housekeeping failed: %v", err)
	}

	loaded, err := config.Load(configDir, log)
	if err != nil {
		log.Fatal(fmt.Sprintf("load config.ini: %v", err))
	}
	overrides.apply(&loaded.Config)

	cfgStore := config.NewStore(loaded.Config)

	var jobStore jobstore.Store
	if jobsFile != "" {
		fileStore, err := jobstore.NewFileStore(jobsFile)
		if err != nil {
			log.Fatal(fmt.Sprintf("open job store: %v", err))
		}
		for _, job := range loaded.Jobs {
			if _, err := fileStore.Put(job); err != nil {
				log.Fatal(fmt.Sprintf("seed job store: %v", err))
			}
		}
		jobStore = fileStore
	} else {
		jobStore = jobstore.NewMemoryStore(loaded.Jobs)
	}

	repo, err := staterepo.NewFileRepository(stateFile)
	if err != nil {
		log.Fatal(fmt.Sprintf("open state repository: %v", err))
	}
	tracker := jobstate.New(repo)

	logManager := logging.NewLogManager(loaded.Config.LogTarget, loaded.Config.LogFormat, loaded.Config.LogDirectory, loaded.Config.ServerURL)
	defer logManager.Close()

	if loaded.Config.EncryptionKey != "" {
		encryption.Configure(nil, loaded.Config.EncryptionKey)
	}

	businessGate := gate.New(gate.GopsutilDetector, loaded.Config.WatchedProcesses, nil)

	sched := scheduler.New(
		jobStore,
		cfgStore,
		tracker,
		queue.New(),
		control.New(),
		businessGate,
		logManager,
		log,
	)
	// The gate's notifications funnel through the scheduler's own
	// Tracker/Logger, so it plugs in as the gate.Notifier only once both
	// exist.
	businessGate.Notify = sched

	indices := parseJobIndices(args)
	if len(indices) == 0 {
		log.Warn("no valid job indices given; nothing to run")
		return nil
	}

	errString, err := sched.Execute(context.Background(), indices)
	if err != nil {
		log.Errorf("scheduler exited with error: %v", err)
		return err
	}
	if errString != "" {
		log.Warn(errString)
	}
	return nil
}

// parseJobIndices implements the CLI argument grammar: each argument is
// either an inclusive range "<start>-<end>" or a semicolon-separated
// union of 1-based indices; multiple positional arguments union
// together. Invalid or out-of-range (non-positive) tokens are silently
// skipped. Order of first appearance is preserved; duplicates collapse.
func parseJobIndices(args []string) []int {
	seen := make(map[int]struct{})
	var out []int

	add := func(n int) {
		if n < 1 {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	for _, arg := range args {
		for _, token := range strings.Split(arg, ";") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}

			if dash := strings.Index(token, "-"); dash > 0 {
				startRaw, endRaw := token[:dash], token[dash+1:]
				start, errStart := strconv.Atoi(strings.TrimSpace(startRaw))
				end, errEnd := strconv.Atoi(strings.TrimSpace(endRaw))
				if errStart != nil || errEnd != nil || start > end {
					continue
				}
				for n := start; n <= end; n++ {
					add(n)
				}
				continue
			}

			n, err := strconv.Atoi(token)
			if err != nil {
				continue
			}
			add(n)
		}
	}

	return out
}
