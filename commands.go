package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfg "github.com/maastricht-university/emoface/config"
	"github.com/maastricht-university/emoface/expression"
	"github.com/maastricht-university/emoface/extractor"
	"github.com/maastricht-university/emoface/metrics"
	"github.com/maastricht-university/emoface/orchestrator"
	"github.com/maastricht-university/emoface/server"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the face page and stream turns over a websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, log, err := a.load()
			if err != nil {
				return err
			}
			if err := conf.Validate(); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"provider": conf.LLM.Provider, "model": conf.LLM.Model}).Info("emoface starting")

			src, err := orchestrator.NewSource(conf.LLM)
			if err != nil {
				return err
			}
			timing, err := orchestrator.NewTimingLog(conf.Paths.Outputs)
			if err != nil {
				return err
			}
			records, err := orchestrator.NewRecordLog(conf.Paths.Outputs)
			if err != nil {
				return err
			}
			p, err := orchestrator.NewPipeline(conf, src, timing, log.WithField("component", "pipeline"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			s := server.New(conf, p, records, metrics.NewRegistry(), log.WithField("component", "server"))
			return s.ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().String("provider", "", "llm provider (ollama, openai)")
	cmd.Flags().String("model", "", "llm model name")
	_ = a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = a.v.BindPFlag("llm.provider", cmd.Flags().Lookup("provider"))
	_ = a.v.BindPFlag("llm.model", cmd.Flags().Lookup("model"))
	return cmd
}

func buildEngine(conf *cfg.Root, preset string) (*expression.Engine, error) {
	if preset != "" {
		conf.Expression.Preset = preset
	}
	ec, err := conf.ExpressionConfig()
	if err != nil {
		return nil, err
	}
	return expression.New(ec)
}

func (a *app) interpolateCmd() *cobra.Command {
	var v, ar float64
	var preset string
	cmd := &cobra.Command{
		Use:   "interpolate",
		Short: "Print the expression vector and keyframe weights for a coordinate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, _, err := a.load()
			if err != nil {
				return err
			}
			e, err := buildEngine(conf, preset)
			if err != nil {
				return err
			}
			at := expression.Coordinate{V: v, A: ar}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Coordinate expression.Coordinate `json:"coordinate"`
				Expression expression.Vector     `json:"expression"`
				Weights    []expression.Weight   `json:"weights"`
			}{at, e.Interpolate(at), e.Weights(at)})
		},
	}
	cmd.Flags().Float64Var(&v, "v", 0, "valence on [-1, 1]")
	cmd.Flags().Float64Var(&ar, "a", 0, "arousal on [-1, 1]")
	cmd.Flags().StringVar(&preset, "preset", "", "expression preset ("+fmt.Sprint(expression.PresetNames())+")")
	return cmd
}

func (a *app) extractCmd() *cobra.Command {
	var size int
	var preset string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run stdin through an extractor session and print events as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, _, err := a.load()
			if err != nil {
				return err
			}
			e, err := buildEngine(conf, "")
			if err != nil {
				return err
			}
			if preset != "" {
				conf.Extractor.Preset = preset
			}
			gc, err := conf.GrammarConfig()
			if err != nil {
				return err
			}
			g, err := extractor.NewGrammar(gc)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			sess := extractor.NewSession(g, e, func(ev extractor.Event) error { return enc.Encode(ev) })
			if err := feed(bufio.NewReader(cmd.InOrStdin()), size, sess.Feed); err != nil {
				return err
			}
			return sess.Close()
		},
	}
	cmd.Flags().IntVar(&size, "chunk", 0, "runes per fragment (0 feeds the whole input at once)")
	cmd.Flags().StringVar(&preset, "grammar", "", "marker grammar preset (tag, line)")
	return cmd
}

// feed reads r and passes it to fn in fragments of n runes.
func feed(r *bufio.Reader, n int, fn func(string) error) error {
	if n <= 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return fn(string(b))
	}
	buf := make([]rune, 0, n)
	for {
		c, _, err := r.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		buf = append(buf, c)
		if len(buf) == n {
			if err := fn(string(buf)); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		return fn(string(buf))
	}
	return nil
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, _, err := a.load()
			if err != nil {
				return err
			}
			return cfg.Dump(cmd.OutOrStdout(), conf)
		},
	}
}
