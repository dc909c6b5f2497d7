// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"text/template"
	"time"

	"github.com/nlpodyssey/nmtflow"
	"github.com/nlpodyssey/nmtflow/beamsearch"
	"github.com/nlpodyssey/nmtflow/data"
	"github.com/nlpodyssey/nmtflow/downloader"
	"github.com/nlpodyssey/nmtflow/model/tablemodel"
	"github.com/nlpodyssey/nmtflow/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "nmtflow",
		Usage: "Translate text with beam search over ensembles of translation models",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "set log level (trace, debug, info, warn, error, fatal, panic)",
				Action: func(c *cli.Context, s string) error {
					return setDebugLevel(s)
				},
				Value:   "info",
				EnvVars: []string{"NMTFLOW_LOGLEVEL"},
			},
		},
		Commands: []*cli.Command{
			downloadCommand(),
			convertCommand(),
			translateCommand(),
			runsCommand(),
		},
	}
}

func setDebugLevel(debugLevel string) error {
	level, err := zerolog.ParseLevel(debugLevel)
	if err != nil {
		return err
	}
	log.Logger = log.Level(level)
	return nil
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download a model from huggingface.co",
		ArgsUsage: "organization/model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "models-dir",
				Usage: "directory where the model directory is created",
				Value: "models",
			},
			&cli.StringFlag{
				Name:  "revision",
				Usage: "revision of the repository",
				Value: "main",
			},
			&cli.StringSliceFlag{
				Name:  "file",
				Usage: "file to download (repeatable, default: the files of a model directory)",
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "download files that already exist",
			},
			&cli.StringFlag{
				Name:    "access-token",
				Usage:   "huggingface.co access token",
				EnvVars: []string{"HF_TOKEN"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected one model name, actual %d arguments", c.NArg())
			}
			log.Debug().Msgf("Downloading model: %s", c.Args().First())
			dir, err := downloader.Download(c.Context, downloader.Config{
				ModelsDir:        c.String("models-dir"),
				ModelName:        c.Args().First(),
				Revision:         c.String("revision"),
				Files:            c.StringSlice("file"),
				OverwriteIfExist: c.Bool("overwrite"),
				AccessToken:      c.String("access-token"),
				ProgressOutput:   os.Stderr,
			})
			if err != nil {
				return err
			}
			log.Info().Str("dir", dir).Msg("model downloaded")
			return nil
		},
	}
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert the pickled models of a model directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "model-dir",
				Usage:    "directory of the model to convert",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "convert files that were already converted",
			},
		},
		Action: func(c *cli.Context) error {
			return convert(c.String("model-dir"), c.Bool("overwrite"))
		},
	}
}

func convert(modelDir string, overwrite bool) error {
	log.Debug().Msgf("Converting model in dir: %s", modelDir)
	conf, err := nmtflow.LoadConfig(modelDir)
	if err != nil {
		return err
	}
	for trg, file := range conf.Models {
		if ext := filepath.Ext(file); ext != ".pt" && ext != ".pth" && ext != ".ckpt" {
			continue
		}
		in := filepath.Join(modelDir, file)
		out := tablemodel.ConvertedFilename(in)
		if err = tablemodel.Convert(in, out, overwrite); err != nil {
			return fmt.Errorf("target %q: %w", trg, err)
		}
		log.Info().Str("target", trg).Str("file", out).Msg("model converted")
	}
	return nil
}

func translateCommand() *cli.Command {
	return &cli.Command{
		Name:  "translate",
		Usage: "Translate one sentence per line",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "model-dir",
				Usage:    "directory of a model to ensemble (repeatable)",
				Required: true,
			},
			&cli.StringFlag{Name: "input", Usage: "input file, - for stdin", Value: "-"},
			&cli.StringFlag{Name: "output", Usage: "output file, - for stdout", Value: "-"},
			&cli.IntFlag{Name: "beam-size", Usage: "number of hypotheses kept per sentence"},
			&cli.IntFlag{Name: "max-len", Usage: "maximum number of decoding steps"},
			&cli.Float64Flag{Name: "lp-alpha", Usage: "length penalty alpha, 0 to normalize by length"},
			&cli.BoolFlag{Name: "suppress-unk", Usage: "never generate the unknown token"},
			&cli.StringFlag{Name: "task-id", Usage: "task name or direction, for example \"en -> de\""},
			&cli.IntFlag{Name: "batch-size", Usage: "number of sentences decoded together"},
			&cli.StringFlag{Name: "format", Usage: "output template, for example \"{{.Score}}\\t{{.Text}}\""},
			&cli.StringFlag{Name: "db", Usage: "SQLite database where the run is recorded"},
			&cli.BoolFlag{Name: "progress", Usage: "show a progress bar", Value: true},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()
			return translate(ctx, c)
		},
	}
}

func translate(ctx context.Context, c *cli.Context) error {
	tpl, err := nmtflow.ParseOutputTemplate(c.String("format"))
	if err != nil {
		return err
	}

	dirs := c.StringSlice("model-dir")
	log.Debug().Strs("dirs", dirs).Msg("Loading models...")
	tr, err := nmtflow.LoadEnsemble(dirs...)
	if err != nil {
		return err
	}
	opts := decodingOptions(c, tr.Options())
	if c.IsSet("batch-size") {
		size := c.Int("batch-size")
		if size < 1 {
			return fmt.Errorf("batch size must be >= 1, actual %d", size)
		}
		tr.Config.BatchSize = size
	}

	lines, err := readInput(c.String("input"))
	if err != nil {
		return err
	}

	if c.Bool("progress") && len(lines) > 0 {
		batches := (len(lines) + tr.Config.BatchSize - 1) / tr.Config.BatchSize
		bar := progressbar.NewOptions(batches,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("translating"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionShowIts(),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
		opts.Progress = bar
	}

	start := time.Now()
	hyps, err := tr.Translate(ctx, lines, opts)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	log.Info().Int("sentences", len(lines)).Dur("elapsed", elapsed).Msg("translation done")

	if err = writeOutput(c.String("output"), tpl, lines, hyps); err != nil {
		return err
	}

	if filename := c.String("db"); filename != "" {
		db, err := store.Open(filename)
		if err != nil {
			return err
		}
		defer func() {
			if e := db.Close(); e != nil {
				log.Err(e).Msg("failed to close database")
			}
		}()
		run := store.NewRun(dirs, opts)
		run.Elapsed = elapsed
		if err = db.SaveRun(ctx, run, lines, hyps); err != nil {
			return err
		}
		log.Info().Uint("run", run.ID).Str("db", filename).Msg("run recorded")
	}
	return nil
}

func decodingOptions(c *cli.Context, opts beamsearch.Options) beamsearch.Options {
	if c.IsSet("beam-size") {
		opts.BeamSize = c.Int("beam-size")
	}
	if c.IsSet("max-len") {
		opts.MaxLen = c.Int("max-len")
	}
	if c.IsSet("lp-alpha") {
		opts.LPAlpha = c.Float64("lp-alpha")
	}
	if c.IsSet("suppress-unk") {
		opts.SuppressUnk = c.Bool("suppress-unk")
	}
	if c.IsSet("task-id") {
		opts.TaskID = c.String("task-id")
	}
	return opts
}

func readInput(filename string) (_ []string, err error) {
	var r io.Reader = os.Stdin
	if filename != "-" {
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer func() {
			if e := f.Close(); e != nil && err == nil {
				err = e
			}
		}()
		r = f
	}
	lines, err := data.ScanLines(r)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", filename, err)
	}
	return lines, nil
}

func writeOutput(filename string, tpl *template.Template, lines []string, hyps []beamsearch.Hypothesis) (err error) {
	var w io.Writer = os.Stdout
	if filename != "-" {
		f, err := os.Create(filename)
		if err != nil {
			return err
		}
		defer func() {
			if e := f.Close(); e != nil && err == nil {
				err = e
			}
		}()
		w = f
	}
	bw := bufio.NewWriter(w)
	for i, h := range hyps {
		line, err := nmtflow.FormatOutput(tpl, nmtflow.OutputLine{Index: i, Source: lines[i], Hypothesis: h})
		if err != nil {
			return err
		}
		if _, err = fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List the runs recorded in a database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite database", Required: true},
			&cli.UintFlag{Name: "show", Usage: "print the hypotheses of the given run"},
		},
		Action: func(c *cli.Context) error {
			db, err := store.Open(c.String("db"))
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if id := c.Uint("show"); id != 0 {
				hyps, err := db.Hypotheses(c.Context, id)
				if err != nil {
					return err
				}
				for _, h := range hyps {
					fmt.Printf("%d\t%.4f\t%s\n", h.Position, h.Score, h.Text)
				}
				return nil
			}

			runs, err := db.Runs(c.Context)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Printf("%d\t%s\t%s\tbeam=%d\t%s\n", r.ID, r.CreatedAt.Format(time.RFC3339), r.ModelDirs, r.BeamSize, r.Elapsed)
			}
			return nil
		},
	}
}
