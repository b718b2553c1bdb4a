// Command relm is an interactive chat client for a local inference server.
// It wires the reconciliation loop to Ollama, registers a couple of demo
// tools, and optionally validates answers against a JSON Schema file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/relmkit/relm"
	"github.com/relmkit/relm/models"
	"github.com/relmkit/relm/schema"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
)

var flags struct {
	config      string
	endpoint    string
	model       string
	temperature float64
	maxTokens   int
	maxAttempts int
	schemaPath  string
	verbose     bool
}

func main() {
	root := &cobra.Command{
		Use:   "relm",
		Short: "Schema-reconciled chat with a local LLM",
	}
	root.PersistentFlags().StringVar(&flags.config, "config", "relm.yaml", "path to YAML config file")
	root.PersistentFlags().StringVar(&flags.endpoint, "endpoint", "", "inference server URL (default http://localhost:11434)")
	root.PersistentFlags().StringVar(&flags.model, "model", "", "model identifier")
	root.PersistentFlags().Float64Var(&flags.temperature, "temperature", 0, "sampling temperature")
	root.PersistentFlags().IntVar(&flags.maxTokens, "max-tokens", 0, "max output tokens per call")
	root.PersistentFlags().IntVar(&flags.maxAttempts, "attempts", 0, "generation attempt budget")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "print prompts and tool dispatches")

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd)
		},
	}
	chat.Flags().StringVar(&flags.schemaPath, "schema", "", "JSON Schema file to validate every answer against")
	root.AddCommand(chat)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%sError: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
}

func runChat(cmd *cobra.Command) error {
	agent, sch, err := buildAgent(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rl, err := readline.New(colorCyan + "you> " + colorReset)
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%sConnected. Type a prompt, or 'q' to quit.%s\n", colorDim, colorReset)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "q" || line == "quit" || line == "exit" {
			return nil
		}

		if err := oneTurn(ctx, agent, sch, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Printf("%sError: %v%s\n", colorRed, err, colorReset)
		}
	}
}

func oneTurn(ctx context.Context, agent *relm.Agent, sch *schema.Schema, prompt string) error {
	start := time.Now()

	var res *relm.Result
	var err error
	if sch != nil {
		res, err = agent.GenerateWithSchema(ctx, sch, relm.Request{Prompt: prompt})
	} else {
		res, err = agent.Generate(ctx, relm.Request{Prompt: prompt})
	}
	if err != nil {
		return err
	}

	for _, rec := range res.ToolCalls {
		status := colorGreen + "ok" + colorReset
		if !rec.Result.OK {
			status = colorRed + rec.Result.Err + colorReset
		}
		fmt.Printf("%s[tool] %s -> %s%s\n", colorDim, rec.Name, status, colorReset)
	}

	if res.ValidationErr != "" {
		fmt.Printf("%svalidation failed: %s%s\n", colorYellow, res.ValidationErr, colorReset)
		fmt.Printf("last response: %s\n", res.Text)
	} else {
		fmt.Println(res.Text)
	}

	fmt.Printf("%s(%.1fs, %d tokens)%s\n",
		colorDim, time.Since(start).Seconds(), res.Usage.TotalTokens, colorReset)
	return nil
}

func buildAgent(cmd *cobra.Command) (*relm.Agent, *schema.Schema, error) {
	cfg, err := loadConfig(flags.config, cmd.Root().PersistentFlags().Changed("config"))
	if err != nil {
		return nil, nil, err
	}
	if flags.endpoint != "" {
		cfg.Endpoint = flags.endpoint
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if flags.model != "" {
		cfg.Model = flags.model
	}
	if flags.temperature != 0 {
		cfg.Temperature = flags.temperature
	}
	if flags.maxTokens != 0 {
		cfg.MaxTokens = flags.maxTokens
	}
	if flags.maxAttempts != 0 {
		cfg.MaxAttempts = flags.maxAttempts
	}

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.Endpoint),
		ollama.WithModel(orDefault(cfg.Model, relm.DefaultModel)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	agent := relm.New(models.NewLCG(llm), relm.Config{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		MaxAttempts: cfg.MaxAttempts,
	})
	if err := agent.AddTools(demoTools()...); err != nil {
		return nil, nil, err
	}

	if flags.verbose {
		agent.WithHooks(&relm.Hooks{
			BeforeGenerate: func(attempt int, prompt string) {
				fmt.Printf("%s--- attempt %d prompt ---\n%s\n---%s\n", colorDim, attempt, prompt, colorReset)
			},
			AfterToolCall: func(call relm.ToolCall, result relm.ToolResult) {
				fmt.Printf("%s[dispatch] %s(%v)%s\n", colorDim, call.Name, call.Args, colorReset)
			},
		})
	}

	var sch *schema.Schema
	if flags.schemaPath != "" {
		data, err := os.ReadFile(flags.schemaPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("failed to parse schema file: %w", err)
		}
		sch, err = schema.Compile(raw)
		if err != nil {
			return nil, nil, err
		}
	}

	return agent, sch, nil
}

// demoTools gives the model something to call during a chat session.
func demoTools() []*relm.Tool {
	return []*relm.Tool{
		relm.NewTool(
			"current_time",
			"Get the current date and time",
			nil,
			func(ctx context.Context, args map[string]any) (any, error) {
				return time.Now().Format(time.RFC1123), nil
			},
		),
		relm.NewTool(
			"word_count",
			"Count the words in a text",
			[]relm.Parameter{
				{Name: "text", Type: relm.ParamString, Description: "The text to count", Required: true},
			},
			func(ctx context.Context, args map[string]any) (any, error) {
				text, _ := args["text"].(string)
				return len(strings.Fields(text)), nil
			},
		),
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
