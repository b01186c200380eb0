package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"route-replay/internal/jobs"
	"route-replay/internal/loader"
	"route-replay/internal/platform/config"
	"route-replay/internal/platform/logger"
	"route-replay/internal/replay"
	"route-replay/internal/route"
	"route-replay/internal/segment"
)

const (
	flagDataDir  = "data-dir"
	flagIndexURL = "index-url"
	flagToken    = "token"
	flagTimeout  = "timeout"
	flagLogLevel = "log-level"
	flagLogFile  = "log-file"
)

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    flagDataDir,
		EnvVars: []string{"DATA_DIR"},
		Usage:   "load routes from a local directory instead of the route index",
	},
	&cli.StringFlag{
		Name:    flagIndexURL,
		EnvVars: []string{"ROUTE_INDEX_URL"},
		Value:   route.DefaultIndexURL,
		Usage:   "route index URL template",
	},
	&cli.StringFlag{
		Name:    flagToken,
		EnvVars: []string{"ROUTE_INDEX_TOKEN"},
		Usage:   "route index auth token",
	},
	&cli.DurationFlag{
		Name:    flagTimeout,
		EnvVars: []string{"ROUTE_INDEX_TIMEOUT"},
		Value:   route.DefaultIndexTimeout,
		Usage:   "route index request timeout",
	},
	&cli.StringFlag{
		Name:    flagLogLevel,
		EnvVars: []string{"LOG_LEVEL"},
		Value:   "warn",
		Usage:   "debug, info, warn or error",
	},
	&cli.StringFlag{
		Name:    flagLogFile,
		EnvVars: []string{"LOG_FILE"},
		Usage:   "also write logs to this rotated file",
	},
}

var manifestCmd = &cli.Command{
	Name:      "manifest",
	Usage:     "print the files of every segment of a route",
	ArgsUsage: "<route>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return cli.Exit("expected one route", 2)
		}
		env, err := newEnv(cctx, jobs.DefaultPoolSize)
		if err != nil {
			return err
		}
		defer env.close()

		st, err := env.svc.LoadRoute(cctx.Context, cctx.Args().First())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st.Route.Manifest())
	},
}

var loadCmd = &cli.Command{
	Name:      "load",
	Usage:     "load the segments of a route",
	ArgsUsage: "<route>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "dcam", Usage: "load the driver camera"},
		&cli.BoolFlag{Name: "ecam", Usage: "load the wide road camera"},
		&cli.BoolFlag{Name: "qcam", Usage: "load the low-res road camera"},
		&cli.BoolFlag{Name: "no-file-cache", Usage: "bypass the file cache"},
		&cli.IntFlag{
			Name:    "pool-size",
			EnvVars: []string{"WORKER_POOL_SIZE"},
			Value:   jobs.DefaultPoolSize,
			Usage:   "number of files loaded concurrently",
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return cli.Exit("expected one route", 2)
		}
		input := cctx.Args().First()
		id, err := route.Parse(input)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := newEnv(cctx, cctx.Int("pool-size"))
		if err != nil {
			return err
		}
		defer env.close()

		st, err := env.svc.LoadRoute(ctx, input)
		if err != nil {
			return err
		}
		numbers := st.Route.Segments()
		if n, ok := id.SegmentHint(); ok {
			numbers = []int{n}
		}

		flags := loadFlags(cctx)
		states := make([]*replay.SegmentState, 0, len(numbers))
		for _, n := range numbers {
			_, ss, err := env.svc.LoadSegment(ctx, input, n, flags)
			if err != nil {
				return err
			}
			states = append(states, ss)
		}

		results := make(chan replay.Status, len(states))
		for _, ss := range states {
			go func(ss *replay.SegmentState) {
				status, _ := ss.Wait(ctx)
				results <- status
			}(ss)
		}

		bar := progressbar.Default(int64(len(states)), "segments")
		var unavailable int
		for range states {
			if <-results != replay.StatusLoaded {
				unavailable++
			}
			bar.Add(1)
		}
		bar.Finish()

		if err := ctx.Err(); err != nil {
			return cli.Exit("interrupted", 130)
		}
		fmt.Printf("%s: %d segments loaded, %d unavailable\n", st.Key, len(states)-unavailable, unavailable)
		if unavailable > 0 {
			return cli.Exit("some segments are unavailable", 1)
		}
		return nil
	},
}

func loadFlags(cctx *cli.Context) segment.Flags {
	var f segment.Flags
	if cctx.Bool("dcam") {
		f |= segment.FlagDriverCam
	}
	if cctx.Bool("ecam") {
		f |= segment.FlagWideRoadCam
	}
	if cctx.Bool("qcam") {
		f |= segment.FlagQCamera
	}
	if cctx.Bool("no-file-cache") {
		f |= segment.FlagNoFileCache
	}
	return f
}

type env struct {
	svc     *replay.Service
	logFile io.Closer
}

func newEnv(cctx *cli.Context, poolSize int) (*env, error) {
	e := &env{}

	var out io.Writer = os.Stderr
	if p := config.ExpandPath(cctx.String(flagLogFile)); p != "" {
		fw := logger.FileWriter(p)
		e.logFile = fw
		out = io.MultiWriter(os.Stderr, fw)
	}
	log := logger.NewWithWriter(out, cctx.String(flagLogLevel), "text")

	resolver := route.NewResolver(
		route.WithIndexURL(cctx.String(flagIndexURL)),
		route.WithAuthToken(cctx.String(flagToken)),
		route.WithTimeout(cctx.Duration(flagTimeout)),
		route.WithLogger(log),
	)
	factory, err := loader.NewFactory(loader.WithLogger(log))
	if err != nil {
		e.close()
		return nil, err
	}
	repo, err := replay.NewInMemoryRepository(1)
	if err != nil {
		e.close()
		return nil, err
	}
	e.svc = replay.NewService(repo, resolver, factory, jobs.NewPool(poolSize),
		replay.WithDataDir(config.ExpandPath(cctx.String(flagDataDir))),
		replay.WithLogger(log.With(slog.String("cmd", cctx.Command.Name))),
	)
	return e, nil
}

func (e *env) close() {
	if e.svc != nil {
		e.svc.Close()
	}
	if e.logFile != nil {
		e.logFile.Close()
	}
}
