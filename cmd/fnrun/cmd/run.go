// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/apache/beam-fnexec/pkg/beam/core/graph/mtime"
	"github.com/apache/beam-fnexec/pkg/beam/core/metrics"
	"github.com/apache/beam-fnexec/pkg/beam/core/runtime/exec"
	"github.com/apache/beam-fnexec/pkg/beam/core/sdf"
	"github.com/apache/beam-fnexec/pkg/beam/core/typex"
	"github.com/apache/beam-fnexec/pkg/beam/io/rtrackers/offsetrange"
	"github.com/apache/beam-fnexec/pkg/beam/log"
)

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a splittable range DoFn over the elements of a run file",
	Long: `Run processes the elements of a run file through a splittable DoFn that
emits every offset of [0, count). Outputs, splits, deferred residuals and
metrics are printed to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		_, err = run(cmd.Context(), cfg, cmd.OutOrStdout())
		return err
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "fnrun.yaml", "path of the run file")
}

var claimed = metrics.NewCounter("fnrun", "claimed")

// rangeEmitter emits the offsets of the restriction of its int64 element.
type rangeEmitter struct {
	splits    int64
	maxClaims int64
	delay     time.Duration
}

func (fn *rangeEmitter) CreateInitialRestriction(elm any) any {
	return offsetrange.Restriction{Start: 0, End: elm.(int64)}
}

func (fn *rangeEmitter) CreateTracker(rest any) sdf.RTracker {
	return offsetrange.NewTracker(rest.(offsetrange.Restriction))
}

func (fn *rangeEmitter) RestrictionSize(_, rest any) float64 {
	return rest.(offsetrange.Restriction).Size()
}

func (fn *rangeEmitter) SplitRestriction(_, rest any) []any {
	var ret []any
	for _, r := range rest.(offsetrange.Restriction).EvenSplits(fn.splits) {
		ret = append(ret, r)
	}
	return ret
}

func (fn *rangeEmitter) CreateWatermarkEstimator() sdf.WatermarkEstimator {
	return sdf.NewManualWatermarkEstimator(mtime.MinTimestamp)
}

func (fn *rangeEmitter) ProcessElement(ctx context.Context, ts typex.EventTime, rt sdf.RTracker, we *sdf.ManualWatermarkEstimator, n int64) ([]int64, error) {
	var out []int64
	rest := rt.GetRestriction().(offsetrange.Restriction)
	we.UpdateWatermark(ts)
	for i := rest.Start; rt.TryClaim(i); i++ {
		out = append(out, i)
		claimed.Inc(ctx, 1)
		if fn.delay > 0 {
			time.Sleep(fn.delay)
		}
		if fn.maxClaims > 0 && int64(len(out)) == fn.maxClaims && i+1 < rest.End {
			return out, sdf.DeferRemainder(rt, we.CurrentWatermark())
		}
	}
	return out, nil
}

type report struct {
	Outputs  []typex.WindowedValue
	Splits   []*exec.SplitResult
	Deferred []*exec.Residual
	Metrics  []metrics.Result
}

type runState struct {
	mu     sync.Mutex
	report report
	out    io.Writer
}

func (s *runState) Receive(ctx context.Context, wv typex.WindowedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Outputs = append(s.report.Outputs, wv)
	_, err := fmt.Fprintf(s.out, "output %v\n", wv)
	return err
}

func (s *runState) split(sr *exec.SplitResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Splits = append(s.report.Splits, sr)
	fmt.Fprintf(s.out, "split primary %v residual %v watermark %v\n", sr.Primary, sr.Residual, sr.ResidualWatermark)
}

func (s *runState) deferred(res *exec.Residual) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Deferred = append(s.report.Deferred, res)
	fmt.Fprintf(s.out, "deferred %v watermark %v\n", res.Elm, res.DeferredWatermark)
}

// run processes the configured elements as one bundle. A split, if
// configured, is requested by a second goroutine while an element is in
// flight; residuals of splits and deferrals are processed after the
// inputs.
func run(ctx context.Context, cfg *Config, out io.Writer) (*report, error) {
	wfn, err := cfg.WindowFn()
	if err != nil {
		return nil, err
	}
	store := metrics.NewStore()
	s := &runState{out: out}
	r, err := exec.NewDoFnRunner(&rangeEmitter{splits: cfg.InitialSplits, maxClaims: cfg.MaxClaimsPerCall, delay: cfg.ClaimDelay}, exec.RunnerConfig{
		WindowFn:  wfn,
		Receivers: exec.Receivers{Main: s},
		Step:      cfg.Step,
		Options:   cfg.RunOptions(),
		Metrics:   store,
	})
	if err != nil {
		return nil, err
	}
	if err := r.Setup(ctx); err != nil {
		return nil, err
	}
	defer r.Teardown(ctx)

	if err := r.StartBundle(ctx); err != nil {
		return nil, err
	}
	log.Infof(ctx, "processing %d elements in bundle %v", len(cfg.Elements), r.BundleID())

	var inputs []work
	for _, e := range cfg.Elements {
		ts := mtime.FromMilliseconds(e.Timestamp)
		wv := typex.WindowedValue{
			Elm:       e.Count,
			Timestamp: ts,
			Windows:   wfn.AssignWindows(ts, e.Count),
			Pane:      typex.NoFiringPane(),
		}
		if cfg.InitialSplits <= 1 {
			inputs = append(inputs, work{wv: wv})
			continue
		}
		parts, err := r.SplitAndSizeRestrictions(ctx, wv)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			inputs = append(inputs, work{wv: p, sized: true})
		}
	}

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		return drain(gctx, r, s, inputs)
	})
	if cfg.Split.Fraction > 0 {
		g.Go(func() error {
			return splitOnce(gctx, r, s, cfg.Split, done)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var residuals []work
	for _, sr := range s.report.Splits {
		residuals = append(residuals, work{wv: sr.Residual, sized: true})
	}
	if err := drain(ctx, r, s, residuals); err != nil {
		return nil, err
	}

	if err := r.FinishBundle(ctx); err != nil {
		return nil, err
	}
	if err := r.Finalize(); err != nil {
		return nil, err
	}
	if err := r.Teardown(ctx); err != nil {
		return nil, err
	}

	s.report.Metrics = store.Results()
	for _, m := range s.report.Metrics {
		fmt.Fprintf(out, "metric %v\n", m)
	}
	return &s.report, nil
}

type work struct {
	wv    typex.WindowedValue
	sized bool
}

// drain processes queue, and any work the DoFn defers while doing so.
func drain(ctx context.Context, r *exec.DoFnRunner, s *runState, queue []work) error {
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := queue[0]
		queue = queue[1:]

		var res *exec.Residual
		var err error
		if w.sized {
			res, err = r.ProcessSizedElementAndRestriction(ctx, w.wv)
		} else {
			res, err = r.Process(ctx, w.wv)
		}
		if err != nil {
			return err
		}
		if res != nil {
			s.deferred(res)
			queue = append(queue, work{wv: res.Elm, sized: true})
		}
	}
	return nil
}

// splitOnce polls the progress of the element in flight and splits it once
// at least cfg.After offsets are done.
func splitOnce(ctx context.Context, r *exec.DoFnRunner, s *runState, cfg SplitConfig, done <-chan struct{}) error {
	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			log.Debugf(ctx, "no split: processing finished first")
			return nil
		case <-ticker.C:
		}
		p, ok := r.CurrentElementProgress()
		if !ok || p.Done < float64(cfg.After) {
			continue
		}
		sr, err := r.TrySplit(cfg.Fraction)
		if err != nil {
			return err
		}
		if sr == nil {
			continue
		}
		s.split(sr)
		return nil
	}
}
