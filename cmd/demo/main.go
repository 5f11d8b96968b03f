// Command demo wires the full statesync pipeline end to end: an update
// source (a live two-phase orchestration or a canned replay), the tool-result
// interception stage, the signal classifier and a client-side state model.
// Classified signals can optionally be mirrored to a Pulse stream backed by
// Redis.
//
// Usage:
//
//	demo -config demo.yaml [-debug]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"gopkg.in/yaml.v3"

	"goa.design/statesync/features/model/anthropic"
	"goa.design/statesync/features/model/openai"
	pulsesink "goa.design/statesync/features/stream/pulse"
	clientspulse "goa.design/statesync/features/stream/pulse/clients/pulse"
	"goa.design/statesync/runtime/intercept"
	"goa.design/statesync/runtime/model"
	"goa.design/statesync/runtime/orchestrate"
	"goa.design/statesync/runtime/signal"
	"goa.design/statesync/runtime/state"
	"goa.design/statesync/runtime/telemetry"
	"goa.design/statesync/runtime/update"
)

// config is the demo's YAML configuration.
type config struct {
	// Provider selects the update source: "replay", "anthropic" or "openai".
	Provider string `yaml:"provider"`
	// Model is the provider model identifier. Unused by replay.
	Model string `yaml:"model"`
	// Conversation identifies the session.
	Conversation string `yaml:"conversation"`
	// Text is the user request sent to the orchestrator.
	Text string `yaml:"text"`
	// State is the current state document as JSON.
	State string `yaml:"state"`
	// Rules maps tool names to snapshot/delta emission kinds.
	Rules map[string]string `yaml:"rules"`
	// RedisAddr, when set, mirrors classified signals to a Pulse stream.
	RedisAddr string `yaml:"redis_addr"`
}

func main() {
	var (
		configF = flag.String("config", "demo.yaml", "Path to YAML configuration")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if err := run(ctx, *configF); err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, rules, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	src, err := buildSource(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}

	// Interception first so synthetic data events are visible to the
	// classifier like any other event.
	stream := update.Chain(src, intercept.Stage(intercept.Options{
		Rules:   rules,
		Logger:  logger,
		Metrics: metrics,
	}))
	classified := signal.NewClassifier(stream)

	tracked := state.NewModel()
	var sink signal.Sink = &printSink{ctx: ctx, model: tracked}
	if cfg.RedisAddr != "" {
		remote, err := buildPulseSink(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = remote.Close(ctx) }()
		sink = teeSink{local: sink, remote: remote}
	}

	if err := signal.Pump(ctx, classified, sink); err != nil {
		return err
	}

	if tracked.HasState() {
		doc, err := json.MarshalIndent(tracked.Value(), "", "  ")
		if err != nil {
			return fmt.Errorf("marshal final state: %w", err)
		}
		fmt.Printf("final state:\n%s\n", doc)
	} else {
		fmt.Println("no state received")
	}
	return nil
}

func loadConfig(path string) (*config, intercept.Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}
	rulesYAML, err := yaml.Marshal(cfg.Rules)
	if err != nil {
		return nil, nil, fmt.Errorf("encode rules: %w", err)
	}
	rules, err := intercept.RulesFromYAML(rulesYAML)
	if err != nil {
		return nil, nil, err
	}
	return &cfg, rules, nil
}

// buildSource returns the update stream to pump through the pipeline.
func buildSource(ctx context.Context, cfg *config, logger telemetry.Logger, metrics telemetry.Metrics) (update.Stream, error) {
	if cfg.Provider == "replay" {
		return replaySource(cfg), nil
	}

	client, err := buildClient(cfg)
	if err != nil {
		return nil, err
	}
	orc, err := orchestrate.New(orchestrate.Options{
		Client:  client,
		Model:   cfg.Model,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}
	return orc.Run(ctx, orchestrate.Input{
		ConversationID: cfg.Conversation,
		Text:           cfg.Text,
		State:          json.RawMessage(cfg.State),
	})
}

func buildClient(cfg *config) (model.Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), cfg.Model)
	case "openai":
		return openai.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// replaySource produces a canned run that exercises interception: a tracked
// tool call followed by its result whose payload becomes a snapshot event.
func replaySource(cfg *config) update.Stream {
	return update.Replay(
		&update.Event{
			Role:           "assistant",
			ConversationID: cfg.Conversation,
			Contents: []update.ContentItem{
				update.TextContent{Text: "Updating the recipe."},
				update.ToolCallContent{
					CallID: "call-1",
					Name:   "update_state",
					Args:   map[string]any{"title": "Beef Stew"},
				},
			},
		},
		&update.Event{
			Role:           "tool",
			ConversationID: cfg.Conversation,
			Contents: []update.ContentItem{
				update.ToolResultContent{
					CallID: "call-1",
					Result: json.RawMessage(`{"title":"Beef Stew","ingredients":["beef","carrots"]}`),
				},
			},
		},
	)
}

func buildPulseSink(cfg *config) (signal.Sink, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	client, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		return nil, err
	}
	return pulsesink.NewSink(pulsesink.Options{
		Client:       client,
		Conversation: cfg.Conversation,
	})
}

// printSink applies snapshots and deltas to the local model and logs the
// other signal kinds.
type printSink struct {
	ctx   context.Context
	model *state.Model
}

func (p *printSink) Send(_ context.Context, sig signal.Signal) error {
	switch s := sig.(type) {
	case signal.Snapshot:
		if err := p.model.ApplySnapshot(s.Document); err != nil {
			log.Printf(p.ctx, "snapshot rejected: %v", err)
		}
	case signal.Delta:
		p.model.ApplyDelta(s.Document)
	case signal.Text:
		log.Print(p.ctx, log.KV{K: "text", V: s.Text})
	case signal.ToolCall:
		log.Print(p.ctx, log.KV{K: "tool_call", V: s.Name})
	}
	return nil
}

func (p *printSink) Close(context.Context) error { return nil }

// teeSink forwards each signal to the local sink and the Pulse sink.
type teeSink struct {
	local  signal.Sink
	remote signal.Sink
}

func (t teeSink) Send(ctx context.Context, sig signal.Signal) error {
	if err := t.local.Send(ctx, sig); err != nil {
		return err
	}
	return t.remote.Send(ctx, sig)
}

func (t teeSink) Close(ctx context.Context) error {
	if err := t.local.Close(ctx); err != nil {
		return err
	}
	return t.remote.Close(ctx)
}
