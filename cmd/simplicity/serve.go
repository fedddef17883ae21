package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/simplicity-bridge/host"
	"github.com/wippyai/simplicity-bridge/host/page"
	"github.com/wippyai/simplicity-bridge/host/relay"
)

// watchDebounce lets a build finish writing both files before reloading.
const watchDebounce = 500 * time.Millisecond

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("addr", "", "listen address (SIMPLICITY_HTTP_ADDR)")
	cmd.Flags().Bool("watch", false, "reload when a new build lands in the dist directory")
}

func newPageCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Serve the compiler page, or write it to a file with --out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.newStack()
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(cmd.Context()))

			if out != "" {
				return a.writePage(s, out)
			}

			managed := host.NewManaged(s.provider, "page", s.normalizer, a.pipelineOptions(s)...)
			defer managed.Close(context.WithoutCancel(cmd.Context()))

			srv := page.NewServer(s.provider, managed, page.WithTitle(a.cfg.PageTitle), page.WithGatherer(s.gatherer))
			return a.serve(cmd.Context(), s, srv.Handler())
		},
	}
	addServeFlags(cmd)
	cmd.Flags().String("title", "", "page title")
	cmd.Flags().StringVar(&out, "out", "", "write a standalone page to this file instead of serving")
	return cmd
}

// writePage renders the standalone page for the current build to path.
func (a *app) writePage(s *stack, path string) error {
	p, err := s.provider.Payload()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	if err := page.Render(f, p, a.cfg.PageTitle, ""); err != nil {
		f.Close()
		return fmt.Errorf("render page: %w", err)
	}
	return f.Close()
}

func newRelayCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the compiler over HTTP (/api/compile, /api/health)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.newStack()
			if err != nil {
				return err
			}
			defer s.Close(context.WithoutCancel(cmd.Context()))

			managed := host.NewManaged(s.provider, "relay", s.normalizer, a.pipelineOptions(s)...)
			managed.ReplaceCorrupted = true
			defer managed.Close(context.WithoutCancel(cmd.Context()))

			srv := relay.NewServer(managed, relay.WithGatherer(s.gatherer))
			return a.serve(cmd.Context(), s, srv.Handler())
		},
	}
	addServeFlags(cmd)
	return cmd
}

// serve runs handler until ctx ends, reloading the build on change when
// watching is enabled. The build is checked once before listening.
func (a *app) serve(ctx context.Context, s *stack, handler http.Handler) error {
	if err := a.cfg.ValidateServe(); err != nil {
		return err
	}
	if _, err := s.provider.Payload(); err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return host.ListenAndServe(ctx, host.NewHTTPServer(a.cfg.HTTPAddr, handler), nil)
	})
	if a.cfg.Watch {
		g.Go(func() error {
			err := s.provider.Watch(ctx, a.cfg.DistDir, watchDebounce)
			if err != nil && ctx.Err() == nil {
				a.logger.Error("watch stopped", zap.String("dir", a.cfg.DistDir), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
