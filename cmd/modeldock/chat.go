package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flynn-ai/modeldock/internal/app"
	"github.com/flynn-ai/modeldock/internal/tui"
)

var chatModel string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the chat screen",
	Long: `Opens the interactive chat screen and starts loading a model.

Keys:
  enter    send the message
  ctrl+n   switch to the next model
  ctrl+r   retry loading the current model
  ctrl+x   clear the current model's cache
  ctrl+l   clear the chat
  ctrl+c   quit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model id to load first")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}()

	model := chatModel
	if model == "" {
		model = cfg.Engine.DefaultModel
	}

	logger.Info("Starting chat", zap.String("model", model))
	err = tui.Run(ctx, a, model)

	s := a.Stats.Collect()
	logger.Info("Chat finished",
		zap.Int64("load_attempts", s.LoadAttempts),
		zap.Int64("load_retries", s.LoadRetries),
		zap.Int64("chat_requests", s.ChatRequests))
	return err
}
