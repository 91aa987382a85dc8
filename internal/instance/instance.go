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

// Package instance tracks a single install of the game: its resolved
// package tree, the files deployed into it, and the paths everything
// lives at.
package instance

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/config"
	"github.com/munpkg/munpkg/internal/constants"
	"github.com/munpkg/munpkg/internal/resolver"
	"github.com/munpkg/munpkg/internal/version"
)

var (
	// ErrAlreadyExists is returned when an instance name or game root
	// collides with a persisted instance.
	ErrAlreadyExists = errors.New("instance already exists")
	// ErrMissingFiles is returned when the game root lacks the files a
	// valid install carries.
	ErrMissingFiles = errors.New("instance is missing required files")
)

// ResolveError is returned when altering package requirements hits an
// unavoidable conflict. It carries the resolver's per-identifier failures.
type ResolveError struct {
	Failures []resolver.Failure
}

func (e *ResolveError) Error() string {
	var sb strings.Builder
	sb.WriteString("resolve failed")
	for _, f := range e.Failures {
		fmt.Fprintf(&sb, "; %s: %v", f.Name, f.Err)
	}
	return sb.String()
}

// DecisionHandler is called when the resolver needs the caller to choose
// among alternatives. Implementations record preferences with
// tree.AddDecision before returning; returning an error cancels the
// resolve between passes.
type DecisionHandler func(tree *resolver.Tree, decisions []resolver.DecisionInfo) error

// Instance is a named install of the game.
//
// Instances persist as binary blobs in the data directory and are loaded
// back by name. Mutating operations do not save automatically; call Save
// after each successful operation, otherwise on-disk state and tracking
// will need manual intervention to reconcile.
type Instance struct {
	Name     string
	GameRoot string
	// DeploymentDir holds extracted package content. Deployed files are
	// hard links into it, so it must live on the same filesystem volume
	// as the game root.
	DeploymentDir          string
	CompatibleGameVersions []version.GameVersion
	Tree                   *resolver.Tree
	// Tracked maps each deployed package to the game-root-relative files
	// it created, letting a clean reverse exactly what was deployed.
	Tracked map[catalog.PackageID][]string
}

// New registers a game install as an instance, inferring the compatible
// game version from the build id file in the game root. The name and game
// root must not collide with any persisted instance.
func New(conf *config.Config, cat *catalog.Catalog, name, gameRoot, deploymentDir string) (*Instance, error) {
	entries, err := os.ReadDir(conf.InstancesDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read instances directory: %w", err)
	}

	for _, entry := range entries {
		existing, err := LoadByFile(filepath.Join(conf.InstancesDir(), entry.Name()))
		if err != nil {
			slog.Warn("Skipping unreadable instance file",
				slog.String("path", entry.Name()), slog.Any("error", err))
			continue
		}

		if existing.Name == name || existing.GameRoot == gameRoot {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, existing.Name)
		}
	}

	if _, err := os.Stat(gameRoot); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingFiles, err)
	}

	buildID, err := readBuildID(filepath.Join(gameRoot, constants.BuildIDFile))
	if err != nil {
		return nil, err
	}

	gameVersion, ok := cat.GameVersionOf(buildID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown game build id %d, try updating the catalog", ErrMissingFiles, buildID)
	}

	slog.Info("Registered game instance",
		slog.String("name", name), slog.String("gameRoot", gameRoot),
		slog.String("gameVersion", gameVersion.String()))

	return &Instance{
		Name:                   name,
		GameRoot:               gameRoot,
		DeploymentDir:          deploymentDir,
		CompatibleGameVersions: []version.GameVersion{gameVersion},
		Tree:                   resolver.NewTree([]version.GameVersion{gameVersion}),
		Tracked:                map[catalog.PackageID][]string{},
	}, nil
}

// readBuildID extracts the integer from the first `build id = <n>` line.
func readBuildID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMissingFiles, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "build id =")
		if !ok {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return 0, fmt.Errorf("%w: cannot parse build id %q", ErrMissingFiles, strings.TrimSpace(rest))
		}
		return id, nil
	}

	return 0, fmt.Errorf("%w: no build id line in %s", ErrMissingFiles, filepath.Base(path))
}

// LoadByName loads a persisted instance from the data directory.
func LoadByName(conf *config.Config, name string) (*Instance, error) {
	return LoadByFile(filepath.Join(conf.InstancesDir(), name+".json"))
}

// LoadByFile loads a persisted instance from an arbitrary path.
func LoadByFile(path string) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open instance file: %w", err)
	}
	defer f.Close()

	var inst Instance
	if err := gob.NewDecoder(f).Decode(&inst); err != nil {
		return nil, fmt.Errorf("failed to decode instance: %w", err)
	}

	return &inst, nil
}

// Save persists the instance, including its resolved tree and tracked
// files, to the data directory.
func (i *Instance) Save(conf *config.Config) error {
	if err := os.MkdirAll(conf.InstancesDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create instances directory: %w", err)
	}

	f, err := os.Create(filepath.Join(conf.InstancesDir(), i.Name+".json"))
	if err != nil {
		return fmt.Errorf("failed to create instance file: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(i); err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	return nil
}

// Remove deletes the persisted instance file. Deployed files are left in
// place; clean first if they should go too.
func Remove(conf *config.Config, name string) error {
	if err := os.Remove(filepath.Join(conf.InstancesDir(), name+".json")); err != nil {
		return fmt.Errorf("failed to remove instance file: %w", err)
	}
	return nil
}

// List names every persisted instance.
func List(conf *config.Config) ([]string, error) {
	entries, err := os.ReadDir(conf.InstancesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read instances directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return names, nil
}

// EnabledPackages returns the concrete package versions of the instance's
// resolved tree, in graph order.
func (i *Instance) EnabledPackages() []catalog.PackageID {
	return i.Tree.Packages()
}

// DeploymentPathFor is the directory a package's archive extracts to.
func (i *Instance) DeploymentPathFor(id catalog.PackageID) string {
	return filepath.Join(i.DeploymentDir, id.Name+id.Version.String())
}

// AlterPackageRequirements adds and removes install targets, driving the
// resolver to completion. The instance's tree is replaced only when the
// resolve completes; on failure or cancellation the prior tree is kept.
// It returns the identifiers newly added to and removed from the enabled
// set.
func (i *Instance) AlterPackageRequirements(
	cat *catalog.Catalog,
	add, remove []resolver.Target,
	onDecisions DecisionHandler,
) (added, removed []catalog.PackageID, err error) {
	tree := i.Tree.Clone()
	tree.AlterRequirements(add, remove)

	for {
		status := tree.AttemptResolve(cat)

		switch status.Kind {
		case resolver.Complete:
			before := map[catalog.PackageID]bool{}
			for _, id := range i.Tree.Packages() {
				before[id] = true
			}

			after := map[catalog.PackageID]bool{}
			for _, id := range tree.Packages() {
				after[id] = true
				if !before[id] {
					added = append(added, id)
				}
			}
			for _, id := range i.Tree.Packages() {
				if !after[id] {
					removed = append(removed, id)
				}
			}

			i.Tree = tree

			return added, removed, nil

		case resolver.DecisionsRequired:
			if err := onDecisions(tree, status.Decisions); err != nil {
				return nil, nil, fmt.Errorf("resolve cancelled: %w", err)
			}

		case resolver.Failed:
			for _, f := range status.Failures {
				slog.Error("Resolver failed",
					slog.String("identifier", f.Name), slog.Any("error", f.Err))
			}
			return nil, nil, &ResolveError{Failures: status.Failures}
		}
	}
}

// ClearEnabledPackages disables every package so the next redeploy empties
// the game directory.
func (i *Instance) ClearEnabledPackages() {
	i.Tree.Graph.ClearAll()
}
