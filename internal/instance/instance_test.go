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

package instance_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/config"
	"github.com/munpkg/munpkg/internal/instance"
	"github.com/munpkg/munpkg/internal/resolver"
	"github.com/munpkg/munpkg/internal/testutil"
	"github.com/munpkg/munpkg/internal/version"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:     filepath.Join(dir, "data"),
		DownloadDir: filepath.Join(dir, "downloads"),
	}
}

func gameRootWithBuildID(t *testing.T, line string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "buildID.txt"), []byte(line), 0o644))
	return root
}

func testManifest(name, ver string) *catalog.Manifest {
	return &catalog.Manifest{
		SpecVersion: "v1.4",
		ID:          catalog.PackageID{Name: name, Version: version.MustParse(ver)},
		Name:        name,
		Abstract:    "a test package",
		Authors:     []string{"test"},
		Licenses:    []string{"MIT"},
		Download:    "https://example.invalid/" + name + ".zip",
		GameVersion: version.Unbounded[version.GameVersion](),
	}
}

func testCatalog(manifests ...*catalog.Manifest) *catalog.Catalog {
	return catalog.New(manifests, map[int]string{3173: "1.12.3"})
}

func TestNew(t *testing.T) {
	testutil.SetupGlobals(t)

	conf := testConfig(t)
	cat := testCatalog()

	t.Run("Reads Build ID", func(t *testing.T) {
		root := gameRootWithBuildID(t, "build id = 3173\nbuild date = 2021-06-24\n")

		inst, err := instance.New(conf, cat, "main", root, filepath.Join(root, "deploy"))
		require.NoError(t, err)

		require.Len(t, inst.CompatibleGameVersions, 1)
		require.Equal(t, "1.12.3", inst.CompatibleGameVersions[0].String())
		require.Empty(t, inst.EnabledPackages())
	})

	t.Run("Rejects Unknown Build", func(t *testing.T) {
		root := gameRootWithBuildID(t, "build id = 99999\n")

		_, err := instance.New(conf, cat, "other", root, filepath.Join(root, "deploy"))
		require.ErrorIs(t, err, instance.ErrMissingFiles)
	})

	t.Run("Rejects Missing Build ID File", func(t *testing.T) {
		_, err := instance.New(conf, cat, "other", t.TempDir(), t.TempDir())
		require.ErrorIs(t, err, instance.ErrMissingFiles)
	})

	t.Run("Rejects Missing Game Root", func(t *testing.T) {
		_, err := instance.New(conf, cat, "other", filepath.Join(t.TempDir(), "nope"), t.TempDir())
		require.ErrorIs(t, err, instance.ErrMissingFiles)
	})
}

func TestNewRejectsDuplicates(t *testing.T) {
	testutil.SetupGlobals(t)

	conf := testConfig(t)
	cat := testCatalog()
	root := gameRootWithBuildID(t, "build id = 3173\n")

	inst, err := instance.New(conf, cat, "main", root, filepath.Join(root, "deploy"))
	require.NoError(t, err)
	require.NoError(t, inst.Save(conf))

	t.Run("By Name", func(t *testing.T) {
		otherRoot := gameRootWithBuildID(t, "build id = 3173\n")
		_, err := instance.New(conf, cat, "main", otherRoot, filepath.Join(otherRoot, "deploy"))
		require.ErrorIs(t, err, instance.ErrAlreadyExists)
	})

	t.Run("By Game Root", func(t *testing.T) {
		_, err := instance.New(conf, cat, "second", root, filepath.Join(root, "deploy"))
		require.ErrorIs(t, err, instance.ErrAlreadyExists)
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	testutil.SetupGlobals(t)

	conf := testConfig(t)
	cat := testCatalog(testManifest("Probe", "1.0"))
	root := gameRootWithBuildID(t, "build id = 3173\n")

	inst, err := instance.New(conf, cat, "main", root, filepath.Join(root, "deploy"))
	require.NoError(t, err)

	_, _, err = inst.AlterPackageRequirements(cat, []resolver.Target{
		{Name: "Probe", Bounds: version.Unbounded[version.Version]()},
	}, nil, nil)
	require.NoError(t, err)

	id := catalog.PackageID{Name: "Probe", Version: version.MustParse("1.0")}
	inst.Tracked[id] = []string{filepath.Join("GameData", "Probe", "probe.dll")}

	require.NoError(t, inst.Save(conf))

	loaded, err := instance.LoadByName(conf, "main")
	require.NoError(t, err)

	require.Equal(t, inst.Name, loaded.Name)
	require.Equal(t, inst.GameRoot, loaded.GameRoot)
	require.Equal(t, inst.CompatibleGameVersions, loaded.CompatibleGameVersions)
	require.Equal(t, inst.Tracked, loaded.Tracked)
	require.Equal(t, []catalog.PackageID{id}, loaded.EnabledPackages())

	names, err := instance.List(conf)
	require.NoError(t, err)
	require.Equal(t, []string{"main"}, names)

	require.NoError(t, instance.Remove(conf, "main"))

	names, err = instance.List(conf)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestAlterPackageRequirements(t *testing.T) {
	testutil.SetupGlobals(t)

	conf := testConfig(t)

	rocket := testManifest("Rocket", "1.0")
	rocket.Depends = []catalog.Relationship{
		{Descriptors: []catalog.Descriptor{{Name: "Engine", Bounds: version.Unbounded[version.Version]()}}},
	}

	cat := testCatalog(rocket, testManifest("Engine", "1.0"), testManifest("Probe", "1.0"))

	root := gameRootWithBuildID(t, "build id = 3173\n")
	inst, err := instance.New(conf, cat, "main", root, filepath.Join(root, "deploy"))
	require.NoError(t, err)

	t.Run("Install Computes Diff", func(t *testing.T) {
		added, removed, err := inst.AlterPackageRequirements(cat, []resolver.Target{
			{Name: "Rocket", Bounds: version.Unbounded[version.Version]()},
		}, nil, nil)
		require.NoError(t, err)

		require.ElementsMatch(t, []string{"Rocket-1.0", "Engine-1.0"}, idStrings(added))
		require.Empty(t, removed)
	})

	t.Run("Remove Computes Diff", func(t *testing.T) {
		added, removed, err := inst.AlterPackageRequirements(cat, nil, []resolver.Target{
			{Name: "Rocket", Bounds: version.Unbounded[version.Version]()},
		}, nil)
		require.NoError(t, err)

		require.Empty(t, added)
		require.ElementsMatch(t, []string{"Rocket-1.0", "Engine-1.0"}, idStrings(removed))
		require.Empty(t, inst.EnabledPackages())
	})

	t.Run("Failure Keeps Prior Tree", func(t *testing.T) {
		_, _, err := inst.AlterPackageRequirements(cat, []resolver.Target{
			{Name: "Probe", Bounds: version.Unbounded[version.Version]()},
		}, nil, nil)
		require.NoError(t, err)

		_, _, err = inst.AlterPackageRequirements(cat, []resolver.Target{
			{Name: "DoesNotExist", Bounds: version.Unbounded[version.Version]()},
		}, nil, nil)

		var resolveErr *instance.ResolveError
		require.ErrorAs(t, err, &resolveErr)
		require.Len(t, resolveErr.Failures, 1)
		require.ErrorIs(t, resolveErr.Failures[0].Err, resolver.ErrIdentifierNotFound)

		// The instance still holds the last good resolve.
		require.ElementsMatch(t, []string{"Probe-1.0"}, idStrings(inst.EnabledPackages()))
	})
}

func TestAlterPackageRequirementsDecisions(t *testing.T) {
	testutil.SetupGlobals(t)

	conf := testConfig(t)

	uiA := testManifest("UiA", "1.0")
	uiA.Provides = []string{"UI"}
	uiB := testManifest("UiB", "1.0")
	uiB.Provides = []string{"UI"}
	alpha := testManifest("Alpha", "1.0")
	alpha.Depends = []catalog.Relationship{
		{Descriptors: []catalog.Descriptor{{Name: "UI", Bounds: version.Unbounded[version.Version]()}}},
	}

	cat := testCatalog(alpha, uiA, uiB)

	root := gameRootWithBuildID(t, "build id = 3173\n")
	inst, err := instance.New(conf, cat, "main", root, filepath.Join(root, "deploy"))
	require.NoError(t, err)

	t.Run("Handler Picks An Option", func(t *testing.T) {
		added, _, err := inst.AlterPackageRequirements(cat, []resolver.Target{
			{Name: "Alpha", Bounds: version.Unbounded[version.Version]()},
		}, nil, func(tree *resolver.Tree, decisions []resolver.DecisionInfo) error {
			require.Len(t, decisions, 1)
			require.Equal(t, "UI", decisions[0].Source)
			tree.AddDecision("UiB")
			return nil
		})
		require.NoError(t, err)

		require.ElementsMatch(t, []string{"Alpha-1.0", "UiB-1.0"}, idStrings(added))
	})

	t.Run("Handler Error Cancels", func(t *testing.T) {
		fresh, err := instance.New(conf, cat, "second", gameRootWithBuildID(t, "build id = 3173\n"), t.TempDir())
		require.NoError(t, err)

		_, _, err = fresh.AlterPackageRequirements(cat, []resolver.Target{
			{Name: "Alpha", Bounds: version.Unbounded[version.Version]()},
		}, nil, func(*resolver.Tree, []resolver.DecisionInfo) error {
			return errors.New("user declined")
		})
		require.Error(t, err)

		// Cancellation leaves the instance untouched.
		require.Empty(t, fresh.EnabledPackages())
	})
}

func idStrings(ids []catalog.PackageID) []string {
	var out []string
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
