package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/chadiek/voice-session/internal/export"
)

const requestTimeout = 60 * time.Second

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show backend status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := a.backend()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			h, err := api.Health(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			status := okStyle.Render(h.Status)
			if !h.Healthy() {
				status = warnStyle.Render(h.Status)
			}
			fmt.Fprintf(out, "Status:          %s\n", status)
			fmt.Fprintf(out, "Active sessions: %d\n", h.ActiveSessions)
			fmt.Fprintf(out, "Conversations:   %d\n", h.Conversations)
			fmt.Fprintf(out, "Processors:      stt=%v tts=%v rag=%v template=%v\n",
				h.Processors.STT, h.Processors.TTS, h.Processors.RAG, h.Processors.Template)
			if h.RAG != nil {
				fmt.Fprintf(out, "Documents:       loaded=%v\n", h.RAG.DocumentsLoaded)
			}
			if h.Templates != nil {
				fmt.Fprintf(out, "Templates:       %d\n", h.Templates.TemplateCount)
			}
			if h.Timestamp != "" {
				fmt.Fprintln(out, dimStyle.Render("as of "+h.Timestamp))
			}
			return nil
		},
	}
}

func newUploadCmd(a *app, use, short, ext string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <file" + ext + ">",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.backend()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			upload := api.UploadTemplate
			if ext == ".pdf" {
				upload = api.UploadPDF
			}
			res, err := upload(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render(res.Message), dimStyle.Render(res.Filename))
			return nil
		},
	}
}

func newDownloadCmd(a *app) *cobra.Command {
	var (
		outDir string
		format string
	)
	cmd := &cobra.Command{
		Use:   "download <session-id>",
		Short: "Save a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := export.NewExporter(format)
			if err != nil {
				return err
			}
			api, err := a.backend()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			conv, _, err := api.DownloadConversation(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			path, err := export.WriteFile(outDir, conv, exp, time.Now())
			if err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			fmt.Fprintf(cmd.OutOrStdout(), "Conversation saved to %s (%d exchanges)\n", abs, conv.TotalExchanges)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "export format: json, yaml or md")
	return cmd
}
