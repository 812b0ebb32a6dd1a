/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mathsketch/internal/backend"
	"mathsketch/internal/config"
	"mathsketch/internal/crash"
	applog "mathsketch/internal/log"
	"mathsketch/internal/recognize"
	"mathsketch/internal/render"
	"mathsketch/internal/server"
	"mathsketch/internal/storage"
	"mathsketch/internal/ui"
	"mathsketch/internal/version"
)

// cacheMaxAge bounds how long recognition results are kept.
const cacheMaxAge = 30 * 24 * time.Hour

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "mathsketch: handwritten math to LaTeX")
	_, _ = fmt.Fprintf(w, "Version: %s\n", version.String())
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  mathsketch version|-v|--version                    Show version")
	_, _ = fmt.Fprintln(w, "  mathsketch ui                                      Launch desktop UI (build with -tags fyne)")
	_, _ = fmt.Fprintln(w, "  mathsketch serve [addr]                            Run the recognition server")
	_, _ = fmt.Fprintln(w, "  mathsketch convert <png> [macrosFile] [promptFile] Convert a PNG through the configured backend")
	_, _ = fmt.Fprintln(w, "  mathsketch init [apiKey]                           Write the config file and store the API key")
	_, _ = fmt.Fprintln(w, "  mathsketch init --forget-key                       Write the config file and remove the stored API key")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, key, cfgErr := config.Load()
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Writer:    stderr,
	})
	l := applog.WithComponent("cli")
	render.SetLogger(applog.WithComponent("render"))
	if cfgErr != nil {
		l.Warn("config not loaded, using defaults", slog.Any("err", cfgErr))
	}
	for _, k := range config.EnvOverrides() {
		name, _ := config.EnvOverrideFor(k)
		l.Debug("config overridden by environment", slog.String("key", k), slog.String("env", name))
	}
	defer crash.Recover(crashDir(), nil)

	l.Debug("start", slog.Int("args", len(args)))
	if len(args) == 0 {
		usage(stdout)
		return 0
	}

	var err error
	switch args[0] {
	case "version", "--version", "-v":
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	case "ui":
		err = ui.Run(cfg)
	case "serve":
		addr := cfg.Server.Addr
		if len(args) >= 2 {
			addr = args[1]
		}
		err = serve(cfg, key, addr)
	case "convert":
		if len(args) < 2 {
			_, _ = fmt.Fprintln(stderr, "convert requires <png>")
			usage(stderr)
			return 2
		}
		err = convert(cfg, args[1:], stdout)
	case "init":
		err = initConfig(args[1:], stdout)
	default:
		usage(stderr)
		return 2
	}
	if err != nil {
		l.Error("command failed", slog.String("cmd", args[0]), slog.Any("err", err))
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// initConfig rewrites the config file from its own contents and the defaults.
// Environment overrides are not written back.
func initConfig(args []string, stdout io.Writer) error {
	fileCfg, err := config.LoadFile()
	if err != nil {
		return err
	}
	newKey, forget := "", false
	if len(args) >= 1 {
		if args[0] == "--forget-key" {
			forget = true
		} else {
			newKey = args[0]
		}
	}
	if err := config.Save(fileCfg, newKey); err != nil {
		return err
	}
	p, _ := config.ConfigPath()
	_, _ = fmt.Fprintln(stdout, "Wrote", p)
	if forget {
		if err := config.DeleteAPIKey(); err != nil {
			return fmt.Errorf("remove api key: %w", err)
		}
		_, _ = fmt.Fprintln(stdout, "Removed stored API key")
	}
	return nil
}

func serve(cfg config.AppConfig, key, addr string) error {
	if key == "" {
		return fmt.Errorf("no recognizer API key: set %s or %s, or run 'mathsketch init <key>'", config.EnvAPIKey, config.EnvOpenAIKey)
	}
	l := applog.WithComponent("serve")
	rec := recognize.New(recognize.Options{
		BaseURL:   cfg.Recognizer.BaseURL,
		APIKey:    key,
		Model:     cfg.Recognizer.Model,
		MaxTokens: cfg.Recognizer.MaxTokens,
		Timeout:   cfg.Recognizer.Timeout(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cache *storage.Cache
	if cfg.Server.CachePath != "" {
		c, err := storage.OpenCache(cfg.Server.CachePath)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer c.Close()
		if v, err := c.SchemaVersion(ctx); err == nil {
			l.Info("cache opened", slog.String("path", c.Path()), slog.Int("schema", v))
		}
		if n, err := c.Prune(ctx, cacheMaxAge); err != nil {
			l.Warn("cache prune failed", slog.Any("err", err))
		} else if n > 0 {
			l.Info("cache pruned", slog.Int64("removed", n))
		}
		cache = c
	}

	srv, err := server.New(rec, cache, server.Options{
		Model:         rec.Model(),
		MaxImageWidth: cfg.Server.MaxImageWidth,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, addr)
}

// convert posts an existing PNG to the backend. Macro and prompt files
// default to the configured texts.
func convert(cfg config.AppConfig, args []string, stdout io.Writer) error {
	png, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	macros, prompt := cfg.Prompt.Macros, cfg.Prompt.Text
	if len(args) >= 2 {
		if macros, err = readText(args[1]); err != nil {
			return err
		}
	}
	if len(args) >= 3 {
		if prompt, err = readText(args[2]); err != nil {
			return err
		}
	}

	client := backend.NewClient(cfg.Backend.BaseURL, "", backend.Options{
		Timeout:     cfg.Backend.Timeout(),
		TLSInsecure: cfg.Backend.TLSInsecure,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout())
	defer cancel()
	if err := client.Health(ctx); err != nil {
		var apiErr *backend.APIError
		if !errors.As(err, &apiErr) {
			return fmt.Errorf("backend %s unreachable: %w", cfg.Backend.BaseURL, err)
		}
		// It answered; let the conversion report the real failure.
		applog.WithComponent("cli").Warn("backend health check failed", slog.Any("err", err))
	}
	res, err := client.Convert(ctx, png, macros, prompt)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("conversion failed (%d): %s", apiErr.Status, apiErr.Message)
		}
		return fmt.Errorf("conversion failed: %w", err)
	}
	_, _ = fmt.Fprintln(stdout, "latex:", res.Latex)
	_, _ = fmt.Fprintln(stdout, "full_latex:")
	_, _ = fmt.Fprintln(stdout, res.FullLatex)
	return nil
}

func readText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func crashDir() string {
	if p, err := config.ConfigPath(); err == nil {
		return filepath.Join(filepath.Dir(p), "crash")
	}
	return os.TempDir()
}
