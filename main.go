// SPDX-License-Identifier: AGPL-3.0-or-later
/*
 * Copyright (C) 2025 Damian Peckett <damian@pecke.tt>.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/gregjones/httpcache"
	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/config"
	"github.com/munpkg/munpkg/internal/constants"
	"github.com/munpkg/munpkg/internal/deploy"
	"github.com/munpkg/munpkg/internal/diskcache"
	"github.com/munpkg/munpkg/internal/download"
	"github.com/munpkg/munpkg/internal/extract"
	"github.com/munpkg/munpkg/internal/instance"
	"github.com/munpkg/munpkg/internal/resolver"
	"github.com/munpkg/munpkg/internal/util"
	"github.com/munpkg/munpkg/internal/version"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

func main() {
	defaultConfigPath, _ := xdg.ConfigFile("munpkg/config.yaml")
	defaultCacheDir, _ := xdg.CacheFile("munpkg")

	persistentFlags := []cli.Flag{
		&cli.GenericFlag{
			Name:  "log-level",
			Usage: "Set the log verbosity level",
			Value: util.FromSlogLevel(slog.LevelInfo),
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to the configuration file",
			Value: defaultConfigPath,
		},
		&cli.StringFlag{
			Name:   "cache-dir",
			Usage:  "Directory to store the HTTP cache",
			Value:  defaultCacheDir,
			Hidden: true,
		},
	}

	initLogger := func(c *cli.Context) error {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: (*slog.Level)(c.Generic("log-level").(*util.LevelFlag)),
		})))

		return nil
	}

	initHTTPCache := func(c *cli.Context) error {
		cache, err := diskcache.NewDiskCache(c.String("cache-dir"), "http")
		if err != nil {
			return fmt.Errorf("failed to create disk cache: %w", err)
		}

		// Cache all HTTP responses on disk.
		http.DefaultClient = &http.Client{
			Transport: httpcache.NewTransport(cache),
		}

		return nil
	}

	instanceFlag := &cli.StringFlag{
		Name:     "instance",
		Aliases:  []string{"i"},
		Usage:    "Name of the game instance to operate on",
		Required: true,
	}

	forceFlag := &cli.BoolFlag{
		Name:  "force",
		Usage: "Redownload and re-extract cached package content",
	}

	app := &cli.App{
		Name:    "munpkg",
		Usage:   "A mod manager for Kerbal Space Program",
		Version: constants.Version,
		Commands: []*cli.Command{
			{
				Name:  "update",
				Usage: "Fetch the latest package metadata and rebuild the catalog",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "Build the catalog from a local archive instead of downloading",
					},
				}, persistentFlags...),
				Before: util.BeforeAll(initLogger, initHTTPCache),
				Action: func(c *cli.Context) error {
					conf, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					cat, err := generateCatalog(c.Context, conf, c.String("file"))
					if err != nil {
						return err
					}

					if err := cat.Save(conf.CatalogPath()); err != nil {
						return err
					}

					slog.Info("Updated catalog", slog.Int("packages", cat.Len()))

					return nil
				},
			},
			{
				Name:  "instance",
				Usage: "Manage game instances",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "Register a game install as a named instance",
						ArgsUsage: "NAME GAME_ROOT",
						Flags: append([]cli.Flag{
							&cli.StringFlag{
								Name:  "deployment-dir",
								Usage: "Directory for extracted package content (must share a volume with the game root)",
							},
						}, persistentFlags...),
						Before: util.BeforeAll(initLogger, initHTTPCache),
						Action: func(c *cli.Context) error {
							if c.NArg() != 2 {
								return fmt.Errorf("expected NAME and GAME_ROOT arguments")
							}
							name, gameRoot := c.Args().Get(0), c.Args().Get(1)

							conf, err := config.Load(c.String("config"))
							if err != nil {
								return err
							}

							cat, err := loadCatalog(c.Context, conf)
							if err != nil {
								return err
							}

							deploymentDir := c.String("deployment-dir")
							if deploymentDir == "" {
								// Hard links require the same volume as the
								// game root.
								deploymentDir = filepath.Join(gameRoot, ".munpkg", "deploy")
							}

							inst, err := instance.New(conf, cat, name, gameRoot, deploymentDir)
							if err != nil {
								return err
							}

							return inst.Save(conf)
						},
					},
					{
						Name:   "list",
						Usage:  "List registered instances",
						Flags:  persistentFlags,
						Before: util.BeforeAll(initLogger),
						Action: func(c *cli.Context) error {
							conf, err := config.Load(c.String("config"))
							if err != nil {
								return err
							}

							names, err := instance.List(conf)
							if err != nil {
								return err
							}

							for _, name := range names {
								inst, err := instance.LoadByName(conf, name)
								if err != nil {
									slog.Warn("Skipping unreadable instance",
										slog.String("name", name), slog.Any("error", err))
									continue
								}

								fmt.Printf("%s\t%s\n", inst.Name, inst.GameRoot)
							}

							return nil
						},
					},
					{
						Name:      "remove",
						Usage:     "Forget a registered instance (deployed files are left in place)",
						ArgsUsage: "NAME",
						Flags:     persistentFlags,
						Before:    util.BeforeAll(initLogger),
						Action: func(c *cli.Context) error {
							if c.NArg() != 1 {
								return fmt.Errorf("expected NAME argument")
							}

							conf, err := config.Load(c.String("config"))
							if err != nil {
								return err
							}

							return instance.Remove(conf, c.Args().First())
						},
					},
				},
			},
			{
				Name:      "install",
				Usage:     "Install packages and their dependencies",
				ArgsUsage: "PACKAGE[=VERSION]...",
				Flags:     append([]cli.Flag{instanceFlag, forceFlag}, persistentFlags...),
				Before:    util.BeforeAll(initLogger, initHTTPCache),
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("no packages given")
					}

					targets, err := parseTargets(c.Args().Slice())
					if err != nil {
						return err
					}

					return withInstance(c, func(conf *config.Config, cat *catalog.Catalog, inst *instance.Instance) error {
						added, removed, err := inst.AlterPackageRequirements(cat, targets, nil, promptDecisions)
						if err != nil {
							return err
						}

						for _, id := range added {
							slog.Info("Installing package", slog.String("package", id.String()))
						}
						for _, id := range removed {
							slog.Info("Removing package", slog.String("package", id.String()))
						}

						if err := prepareContent(c.Context, conf, inst, cat, c.Bool("force")); err != nil {
							return err
						}

						if err := deploy.Redeploy(inst, cat); err != nil {
							return err
						}

						return inst.Save(conf)
					})
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove packages",
				ArgsUsage: "PACKAGE...",
				Flags:     append([]cli.Flag{instanceFlag}, persistentFlags...),
				Before:    util.BeforeAll(initLogger, initHTTPCache),
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("no packages given")
					}

					targets, err := parseTargets(c.Args().Slice())
					if err != nil {
						return err
					}

					return withInstance(c, func(conf *config.Config, cat *catalog.Catalog, inst *instance.Instance) error {
						_, removed, err := inst.AlterPackageRequirements(cat, nil, targets, promptDecisions)
						if err != nil {
							return err
						}

						for _, id := range removed {
							slog.Info("Removing package", slog.String("package", id.String()))
						}

						if err := deploy.Redeploy(inst, cat); err != nil {
							return err
						}

						return inst.Save(conf)
					})
				},
			},
			{
				Name:   "list",
				Usage:  "List the packages enabled on an instance",
				Flags:  append([]cli.Flag{instanceFlag}, persistentFlags...),
				Before: util.BeforeAll(initLogger),
				Action: func(c *cli.Context) error {
					conf, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					inst, err := instance.LoadByName(conf, c.String("instance"))
					if err != nil {
						return err
					}

					for _, id := range inst.EnabledPackages() {
						fmt.Printf("%s\t%s\n", id.Name, id.Version)
					}

					return nil
				},
			},
			{
				Name:   "deploy",
				Usage:  "Re-link all enabled packages into the game directory",
				Flags:  append([]cli.Flag{instanceFlag, forceFlag}, persistentFlags...),
				Before: util.BeforeAll(initLogger, initHTTPCache),
				Action: func(c *cli.Context) error {
					return withInstance(c, func(conf *config.Config, cat *catalog.Catalog, inst *instance.Instance) error {
						if err := prepareContent(c.Context, conf, inst, cat, c.Bool("force")); err != nil {
							return err
						}

						if err := deploy.Redeploy(inst, cat); err != nil {
							return err
						}

						return inst.Save(conf)
					})
				},
			},
			{
				Name:   "clean",
				Usage:  "Remove all deployed package files from the game directory",
				Flags:  append([]cli.Flag{instanceFlag}, persistentFlags...),
				Before: util.BeforeAll(initLogger),
				Action: func(c *cli.Context) error {
					conf, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					inst, err := instance.LoadByName(conf, c.String("instance"))
					if err != nil {
						return err
					}

					if err := deploy.Clean(inst); err != nil {
						return err
					}

					return inst.Save(conf)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Error", slog.Any("error", err))
		os.Exit(1)
	}
}

// withInstance loads the configuration, catalog and named instance for a
// command that needs all three.
func withInstance(c *cli.Context, fn func(*config.Config, *catalog.Catalog, *instance.Instance) error) error {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	cat, err := loadCatalog(c.Context, conf)
	if err != nil {
		return err
	}

	inst, err := instance.LoadByName(conf, c.String("instance"))
	if err != nil {
		return err
	}

	return fn(conf, cat, inst)
}

// loadCatalog loads the persisted catalog, regenerating it from the
// configured archive when it is absent or no longer decodable.
func loadCatalog(ctx context.Context, conf *config.Config) (*catalog.Catalog, error) {
	cat, err := catalog.Load(conf.CatalogPath())
	if err == nil {
		return cat, nil
	}

	switch {
	case errors.Is(err, catalog.ErrCorruptCatalog):
		slog.Warn("Regenerating corrupt catalog", slog.Any("error", err))
	case errors.Is(err, os.ErrNotExist):
		slog.Info("No catalog found, generating")
	default:
		return nil, err
	}

	cat, err = generateCatalog(ctx, conf, "")
	if err != nil {
		return nil, err
	}

	if err := cat.Save(conf.CatalogPath()); err != nil {
		return nil, err
	}

	return cat, nil
}

// generateCatalog builds a catalog from a local archive file, or from the
// configured URL when path is empty.
func generateCatalog(ctx context.Context, conf *config.Config, path string) (*catalog.Catalog, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		defer f.Close()

		return catalog.GenerateFromArchive(f)
	}

	slog.Info("Downloading package metadata", slog.String("url", conf.CatalogURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, conf.CatalogURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download metadata archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download metadata archive: unexpected status %s", resp.Status)
	}

	return catalog.GenerateFromArchive(resp.Body)
}

// parseTargets interprets PACKAGE[=VERSION] arguments.
func parseTargets(args []string) ([]resolver.Target, error) {
	var targets []resolver.Target
	for _, arg := range args {
		name, versionStr, found := strings.Cut(arg, "=")

		bounds := version.Unbounded[version.Version]()
		if found {
			v, err := version.Parse(versionStr)
			if err != nil {
				return nil, fmt.Errorf("invalid version %q: %w", versionStr, err)
			}
			bounds = version.Exactly(v)
		}

		targets = append(targets, resolver.Target{Name: name, Bounds: bounds})
	}
	return targets, nil
}

// promptDecisions asks the user to pick among a decision's options on
// stdin. Outside a terminal the resolve is cancelled instead.
func promptDecisions(tree *resolver.Tree, decisions []resolver.DecisionInfo) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive decisions required but stdin is not a terminal")
	}

	reader := bufio.NewReader(os.Stdin)

	for _, decision := range decisions {
		fmt.Fprintf(os.Stderr, "%s requires one of:\n", decision.Source)
		for i, option := range decision.Options {
			fmt.Fprintf(os.Stderr, "  %d) %s\n", i+1, option)
		}

		for {
			fmt.Fprintf(os.Stderr, "Selection [1-%d]: ", len(decision.Options))

			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read selection: %w", err)
			}

			n, err := strconv.Atoi(strings.TrimSpace(line))
			if err != nil || n < 1 || n > len(decision.Options) {
				continue
			}

			tree.AddDecision(decision.Options[n-1])
			break
		}
	}

	return nil
}

// prepareContent downloads and extracts the archives of every enabled
// installable package.
func prepareContent(ctx context.Context, conf *config.Config, inst *instance.Instance, cat *catalog.Catalog, force bool) error {
	var manifests []*catalog.Manifest
	for _, id := range inst.EnabledPackages() {
		m, ok := cat.ByID(id)
		if !ok {
			return fmt.Errorf("%w: %s", deploy.ErrMissingPackage, id)
		}

		if m.Kind.Installable() {
			manifests = append(manifests, m)
		}
	}

	var failed bool
	for _, result := range download.All(ctx, conf, manifests, force) {
		if result.Err != nil {
			slog.Error("Failed to download package",
				slog.String("package", result.Manifest.ID.String()), slog.Any("error", result.Err))
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("failed to download packages")
	}

	var progress *mpb.Progress
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		progress = mpb.NewWithContext(ctx)
		defer progress.Shutdown()
	}

	var bar *mpb.Bar
	if progress != nil {
		bar = progress.AddBar(int64(len(manifests)),
			mpb.PrependDecorators(
				decor.Name("Extracting: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
			),
		)
	}

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for _, m := range manifests {
		m := m

		g.Go(func() error {
			defer func() {
				if bar != nil {
					bar.Increment()
				}
			}()

			if err := extract.ContentToDeployment(conf, inst, m, force); err != nil {
				return fmt.Errorf("failed to extract package %s: %w", m.ID, err)
			}

			return nil
		})
	}

	err := g.Wait()

	if bar != nil {
		if err != nil {
			bar.Abort(true)
		} else {
			bar.SetTotal(bar.Current(), true)
		}
		bar.Wait()
	}

	return err
}
