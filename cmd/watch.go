package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/dataset"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/proximity"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Replay an observer track and print the nearby antenna lists",
	Long: `Reads a CSV track of observer fixes (lat, lon and an optional t or timestamp
column), feeds it to a proximity resolver backed by the stored datasets, and
prints every list the resolver publishes. Timed tracks are replayed at --speed;
untimed tracks advance one fix per --interval.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		trackSrc, _ := cmd.Flags().GetString("track")
		format, _ := cmd.Flags().GetString("format")
		speed, _ := cmd.Flags().GetFloat64("speed")
		interval, _ := cmd.Flags().GetDuration("interval")
		linger, _ := cmd.Flags().GetDuration("linger")

		out, err := newPrinter(format, os.Stdout)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		track, err := dataset.ReadTrack(ctx, newFetcher(cfg), trackSrc)
		if err != nil {
			return eris.Wrap(err, "watch: read track")
		}
		if err := env.Catalog.Load(ctx, env.Store); err != nil {
			return eris.Wrap(err, "watch: load antennas")
		}

		r := proximity.New(env.Catalog, env.Oracle, env.resolverOptions()...)
		r.Start(ctx)
		defer r.Close()

		return replayTrack(ctx, r, track, replayOptions{
			Speed:    speed,
			Interval: interval,
			Linger:   linger,
		}, out)
	},
}

func init() {
	watchCmd.Flags().String("track", "", "CSV track path or URL (required)")
	watchCmd.Flags().String("format", "text", "output format: text, json or yaml")
	watchCmd.Flags().Float64("speed", 1, "replay speed multiplier for timed tracks (0 = no delays)")
	watchCmd.Flags().Duration("interval", time.Second, "delay between fixes of an untimed track")
	watchCmd.Flags().Duration("linger", 3*time.Second, "time to keep printing after the last fix")
	_ = watchCmd.MarkFlagRequired("track")
	rootCmd.AddCommand(watchCmd)
}

type replayOptions struct {
	Speed    float64
	Interval time.Duration
	Linger   time.Duration
}

// replayTrack feeds every fix to r on the track's schedule and prints each
// published list until Linger has passed after the last fix.
func replayTrack(ctx context.Context, r *proximity.Resolver, track dataset.Track, opts replayOptions, p printer) error {
	log := zap.L().With(zap.String("command", "watch"))

	var current atomic.Int64
	current.Store(-1)
	fixAt := func(i int64) model.Position {
		if i < 0 {
			return model.Position{}
		}
		return track.Fixes[i].Position
	}

	printed := make(chan error, 1)
	go func() {
		var perr error
		for list := range r.Subscribe() {
			if perr != nil {
				continue
			}
			i := current.Load()
			perr = p.Print(publication{Fix: int(i) + 1, Position: fixAt(i), Antennas: viewList(list)})
		}
		printed <- perr
	}()

	start := time.Now()
	for i, fix := range track.Fixes {
		if err := waitUntil(ctx, start.Add(scheduleOffset(track, i, opts))); err != nil {
			break
		}
		current.Store(int64(i))
		log.Debug("watch: fix", zap.Int("fix", i+1), zap.Stringer("position", fix.Position))
		r.SetObserverPosition(fix.Position)
	}

	if ctx.Err() == nil && opts.Linger > 0 {
		_ = waitUntil(ctx, time.Now().Add(opts.Linger))
	}

	r.Close()
	perr := <-printed
	if cerr := p.Close(); perr == nil {
		perr = cerr
	}
	if perr != nil {
		return eris.Wrap(perr, "watch: print")
	}
	return nil
}

func scheduleOffset(track dataset.Track, i int, opts replayOptions) time.Duration {
	if !track.Timed {
		return time.Duration(i) * opts.Interval
	}
	if opts.Speed <= 0 {
		return 0
	}
	return time.Duration(float64(track.Fixes[i].At) / opts.Speed)
}

func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
