package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/chatcache/internal/api"
	"github.com/samcharles93/chatcache/internal/inference"
	"github.com/samcharles93/chatcache/internal/logger"
	"github.com/samcharles93/chatcache/internal/session"
	"github.com/samcharles93/chatcache/internal/webui"
)

func serveCmd() *cli.Command {
	var (
		settings    modelSettings
		addr        string
		readTimeout time.Duration
		withWebUI   bool
		mediaRoot   string
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve chat sessions over HTTP",
		Flags: append(settings.flags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.StringFlag{
				Name:        "media-root",
				Usage:       "directory that turns may read media_path files from (media disabled when empty)",
				Destination: &mediaRoot,
			},
			&cli.BoolFlag{
				Name:        "webui",
				Usage:       "serve the browser chat client at /",
				Value:       true,
				Destination: &withWebUI,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			fileConfig.applyServe(cmd, &addr, &readTimeout, &mediaRoot)

			base, err := settings.resolve(cmd, fileConfig)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			store := api.NewSessionStore(newOpener(base, log))
			defer func() {
				if err := store.Close(); err != nil {
					log.Warn("closing sessions", "error", err)
				}
			}()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			var opts []api.ServerOption
			if mediaRoot != "" {
				opts = append(opts, api.WithMediaRoot(expandPath(mediaRoot)))
			}
			api.NewServer(store, log, opts...).Register(e)
			if withWebUI {
				ui := webui.Handler()
				e.GET("/*", func(c *echo.Context) error {
					ui.ServeHTTP(c.Response(), c.Request())
					return nil
				})
			}

			log.Info("starting server", "address", addr, "style", base.Style, "context", base.ContextSize)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}

// newOpener loads a session per request, layering the request's options
// over base. Zero sizes keep the base values.
func newOpener(base inference.Config, log logger.Logger) api.Opener {
	return func(o api.SessionOptions) (*session.Session, error) {
		cfg := base
		if o.SystemPrompt != "" {
			cfg.SystemPrompt = o.SystemPrompt
		}
		if o.ContextSize > 0 {
			cfg.ContextSize = o.ContextSize
		}
		if o.MaxReplyUnits > 0 {
			cfg.MaxReplyUnits = o.MaxReplyUnits
		}
		cfg.ResetPolicy = o.ResetPolicy

		res, err := inference.Load(cfg, log)
		if err != nil {
			return nil, err
		}
		return res.Session, nil
	}
}
