/*
Copyright 2022 The l7mp/stunner team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/yaml"

	"github.com/l7mp/dreduce/internal/buildinfo"
	"github.com/l7mp/dreduce/pkg/eval"
	"github.com/l7mp/dreduce/pkg/reduce"
	"github.com/l7mp/dreduce/pkg/row"
	"github.com/l7mp/dreduce/pkg/zset"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

// config is the on-disk description of one reduction: the key and value
// projection programs plus the reduce plan.
type config struct {
	Key  json.RawMessage    `json:"key"`
	Val  json.RawMessage    `json:"val,omitempty"`
	Plan *reduce.ReducePlan `json:"plan"`
}

// update is one input row change on stdin; a zero count means insert once.
type update struct {
	Row   []any `json:"row"`
	Count int64 `json:"count,omitempty"`
}

func main() {
	var configFile string
	var loglevel int
	flag.StringVar(&configFile, "config", "", "Reduction config file (projections and reduce plan).")
	flag.IntVar(&loglevel, "loglevel", 0, "Log verbosity, higher is chattier.")
	flag.Parse()

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		zapcore.Level(-loglevel),
	)
	logger := zapr.NewLogger(zap.New(core)).WithName("dreduce")
	setupLog := logger.WithName("setup")

	info := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	setupLog.Info(fmt.Sprintf("starting dreduce %s", info.String()))

	if configFile == "" {
		setupLog.Error(nil, "no config file given, use -config")
		os.Exit(1)
	}
	data, err := os.ReadFile(configFile)
	if err != nil {
		setupLog.Error(err, "unable to read config file", "path", configFile)
		os.Exit(1)
	}
	conf := config{}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		setupLog.Error(err, "unable to parse config file", "path", configFile)
		os.Exit(1)
	}
	if conf.Plan == nil {
		setupLog.Error(nil, "config carries no reduce plan")
		os.Exit(1)
	}

	keyProg, err := eval.ParseProgram(conf.Key)
	if err != nil {
		setupLog.Error(err, "unable to parse key projection")
		os.Exit(1)
	}
	valProg := eval.Program{}
	if len(conf.Val) > 0 {
		if valProg, err = eval.ParseProgram(conf.Val); err != nil {
			setupLog.Error(err, "unable to parse value projection")
			os.Exit(1)
		}
	}

	red, err := reduce.Render(eval.KeyValPlan{Key: keyProg, Val: valProg}, conf.Plan, logger)
	if err != nil {
		setupLog.Error(err, "unable to render reduction")
		os.Exit(1)
	}

	if err := run(red, os.Stdin, os.Stdout, logger); err != nil {
		setupLog.Error(err, "problem processing updates")
		os.Exit(1)
	}
}

// run feeds stdin updates into the reduction, one batch per blank line,
// and writes output deltas as JSON lines.
func run(red *reduce.Reduction, in io.Reader, out io.Writer, logger logr.Logger) error {
	w := bufio.NewWriter(out)
	defer w.Flush()

	batch := zset.New()
	flush := func() error {
		if batch.IsZero() {
			return nil
		}
		delta, errs, err := red.Process(batch)
		if err != nil {
			return err
		}
		batch = zset.New()
		for _, e := range delta.Entries() {
			line, err := json.Marshal(update{Row: rowToAny(e.Row), Count: e.Count})
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(line))
		}
		for _, e := range errs.Entries() {
			logger.Info("dataflow error", "kind", string(e.Err.Kind),
				"message", e.Err.Message, "count", e.Count)
		}
		return w.Flush()
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		var u update
		if err := json.Unmarshal(line, &u); err != nil {
			return fmt.Errorf("failed to parse update %q: %w", string(line), err)
		}
		if u.Count == 0 {
			u.Count = 1
		}
		batch.AddMutate(rowFromAny(u.Row), u.Count)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

func rowFromAny(vals []any) row.Row {
	out := make(row.Row, 0, len(vals))
	for _, v := range vals {
		switch x := v.(type) {
		case nil:
			out = append(out, row.Null())
		case bool:
			out = append(out, row.Bool(x))
		case float64:
			if x == float64(int64(x)) {
				out = append(out, row.Int64(int64(x)))
			} else {
				out = append(out, row.Float64(x))
			}
		case string:
			out = append(out, row.Str(x))
		default:
			out = append(out, row.Str(fmt.Sprintf("%v", x)))
		}
	}
	return out
}

func rowToAny(r row.Row) []any {
	out := make([]any, 0, len(r))
	for _, d := range r {
		switch d.Kind {
		case row.KindNull:
			out = append(out, nil)
		case row.KindBool:
			out = append(out, d.B)
		case row.KindInt64:
			out = append(out, d.I)
		case row.KindUInt64:
			out = append(out, d.U)
		case row.KindFloat64:
			out = append(out, d.F)
		case row.KindNumeric:
			out = append(out, d.N.String())
		case row.KindString:
			out = append(out, d.S)
		}
	}
	return out
}
