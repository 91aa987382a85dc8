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

package deploy_test

import (
	"os"
	"path/filepath"
	"testing"

	cp "github.com/otiai10/copy"

	"github.com/munpkg/munpkg/internal/catalog"
	"github.com/munpkg/munpkg/internal/deploy"
	"github.com/munpkg/munpkg/internal/instance"
	"github.com/munpkg/munpkg/internal/resolver"
	"github.com/munpkg/munpkg/internal/testutil"
	"github.com/munpkg/munpkg/internal/version"
	"github.com/stretchr/testify/require"
)

// fixtureInstance builds an instance with PkgA resolved and its content
// staged in the deployment directory as GameData/A/plugin.dll.
func fixtureInstance(t *testing.T) (*instance.Instance, *catalog.Catalog) {
	t.Helper()

	m := planManifest("PkgA", catalog.InstallDirective{
		Source:    catalog.SourceFile,
		SourceArg: "GameData",
		InstallTo: "GameRoot",
	})

	cat := catalog.New([]*catalog.Manifest{m}, nil)

	gameVersions := []version.GameVersion{version.MustParseGame("1.12.3")}
	tree := resolver.NewTree(gameVersions)
	tree.AlterRequirements([]resolver.Target{{Name: "PkgA", Bounds: version.Unbounded[version.Version]()}}, nil)
	require.Equal(t, resolver.Complete, tree.AttemptResolve(cat).Kind)

	root := t.TempDir()
	inst := &instance.Instance{
		Name:                   "test",
		GameRoot:               filepath.Join(root, "game"),
		DeploymentDir:          filepath.Join(root, "deploy"),
		CompatibleGameVersions: gameVersions,
		Tree:                   tree,
		Tracked:                map[catalog.PackageID][]string{},
	}
	require.NoError(t, os.MkdirAll(inst.GameRoot, 0o755))

	content := t.TempDir()
	writeTree(t, content, "GameData/A/plugin.dll")
	require.NoError(t, cp.Copy(content, inst.DeploymentPathFor(m.ID)))

	return inst, cat
}

func TestRedeployAndClean(t *testing.T) {
	testutil.SetupGlobals(t)

	inst, cat := fixtureInstance(t)
	id := catalog.PackageID{Name: "PkgA", Version: version.MustParse("1.0")}

	require.NoError(t, deploy.Redeploy(inst, cat))

	deployed := filepath.Join(inst.GameRoot, "GameData", "A", "plugin.dll")

	t.Run("File Is Hard Linked", func(t *testing.T) {
		deployedInfo, err := os.Stat(deployed)
		require.NoError(t, err)

		sourceInfo, err := os.Stat(filepath.Join(inst.DeploymentPathFor(id), "GameData", "A", "plugin.dll"))
		require.NoError(t, err)

		require.True(t, os.SameFile(deployedInfo, sourceInfo))
	})

	t.Run("File Is Tracked", func(t *testing.T) {
		require.Equal(t, []string{filepath.Join("GameData", "A", "plugin.dll")}, inst.Tracked[id])
	})

	t.Run("Redeploy Is Idempotent", func(t *testing.T) {
		require.NoError(t, deploy.Redeploy(inst, cat))

		require.Equal(t, []string{filepath.Join("GameData", "A", "plugin.dll")}, inst.Tracked[id])

		_, err := os.Stat(deployed)
		require.NoError(t, err)
	})

	t.Run("Clean Reverses Deployment", func(t *testing.T) {
		require.NoError(t, deploy.Clean(inst))

		_, err := os.Stat(deployed)
		require.True(t, os.IsNotExist(err))
		require.Empty(t, inst.Tracked)
	})

	t.Run("Redeploy Restores State", func(t *testing.T) {
		require.NoError(t, deploy.Redeploy(inst, cat))

		_, err := os.Stat(deployed)
		require.NoError(t, err)
		require.Equal(t, []string{filepath.Join("GameData", "A", "plugin.dll")}, inst.Tracked[id])
	})
}

func TestCleanToleratesMissingFiles(t *testing.T) {
	testutil.SetupGlobals(t)

	inst, cat := fixtureInstance(t)
	require.NoError(t, deploy.Redeploy(inst, cat))

	// Someone deleted a deployed file out from under us.
	require.NoError(t, os.Remove(filepath.Join(inst.GameRoot, "GameData", "A", "plugin.dll")))

	require.NoError(t, deploy.Clean(inst))
	require.Empty(t, inst.Tracked)
}

func TestRedeployMissingContent(t *testing.T) {
	testutil.SetupGlobals(t)

	inst, cat := fixtureInstance(t)
	id := catalog.PackageID{Name: "PkgA", Version: version.MustParse("1.0")}
	require.NoError(t, os.RemoveAll(inst.DeploymentPathFor(id)))

	require.ErrorIs(t, deploy.Redeploy(inst, cat), deploy.ErrMissingContent)
}

func TestRedeployMissingPackage(t *testing.T) {
	testutil.SetupGlobals(t)

	inst, _ := fixtureInstance(t)

	// A catalog that no longer carries the resolved package.
	empty := catalog.New(nil, nil)

	require.ErrorIs(t, deploy.Redeploy(inst, empty), deploy.ErrMissingPackage)
}

func TestRedeploySkipsMetapackages(t *testing.T) {
	testutil.SetupGlobals(t)

	m := planManifest("Bundle")
	m.Kind = catalog.KindMetaPackage
	m.Download = ""

	cat := catalog.New([]*catalog.Manifest{m}, nil)

	gameVersions := []version.GameVersion{version.MustParseGame("1.12.3")}
	tree := resolver.NewTree(gameVersions)
	tree.AlterRequirements([]resolver.Target{{Name: "Bundle", Bounds: version.Unbounded[version.Version]()}}, nil)
	require.Equal(t, resolver.Complete, tree.AttemptResolve(cat).Kind)

	root := t.TempDir()
	inst := &instance.Instance{
		Name:                   "test",
		GameRoot:               filepath.Join(root, "game"),
		DeploymentDir:          filepath.Join(root, "deploy"),
		CompatibleGameVersions: gameVersions,
		Tree:                   tree,
		Tracked:                map[catalog.PackageID][]string{},
	}
	require.NoError(t, os.MkdirAll(inst.GameRoot, 0o755))

	// No content was ever extracted for it, and none is needed.
	require.NoError(t, deploy.Redeploy(inst, cat))
	require.Empty(t, inst.Tracked)
}
