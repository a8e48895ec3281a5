package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/howard-nolan/cardforge/internal/config"
	"github.com/howard-nolan/cardforge/internal/provider"
)

type chatOptions struct {
	provider    string
	model       string
	system      string
	temperature float64
	maxTokens   int
}

func newChatCmd(configPath *string) *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Stream a single chat completion to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runChat(cmd, cfg, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "provider to use (defaults to gateway.default_provider)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model to use (defaults to the provider's default model)")
	cmd.Flags().StringVar(&opts.system, "system", "", "optional system prompt")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", -1, "sampling temperature; negative leaves it to the provider")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "maximum tokens to generate; 0 leaves it to the provider")
	return cmd
}

func runChat(cmd *cobra.Command, cfg *config.Config, opts chatOptions, prompt string) error {
	logger := newLogger(cmd.ErrOrStderr(), cfg.SlogLevel(), false)

	name := opts.provider
	if name == "" {
		name = cfg.Gateway.DefaultProvider
	}
	id, err := provider.Parse(name)
	if err != nil {
		return err
	}
	pc, ok := cfg.Providers[name]
	if !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}
	clients, err := buildClients(&config.Config{Providers: map[string]config.ProviderConfig{name: pc}}, logger, nil)
	if err != nil {
		return err
	}
	client := clients[id]

	req := &provider.ChatRequest{Model: opts.model}
	if opts.system != "" {
		req.Messages = append(req.Messages, provider.Message{Role: provider.RoleSystem, Content: provider.TextContent(opts.system)})
	}
	req.Messages = append(req.Messages, provider.Message{Role: provider.RoleUser, Content: provider.TextContent(prompt)})
	if opts.temperature >= 0 {
		req.Temperature = &opts.temperature
	}
	if opts.maxTokens > 0 {
		req.MaxTokens = &opts.maxTokens
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	var usage *provider.Usage
	err = client.StreamChat(ctx, req, func(chunk provider.StreamChunk) error {
		for _, choice := range chunk.Choices {
			if _, err := io.WriteString(out, choice.Delta.Content); err != nil {
				return err
			}
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		return nil
	})
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	if usage != nil {
		logger.Debug("usage", "prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
	}
	return nil
}
