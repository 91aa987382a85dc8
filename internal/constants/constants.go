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

package constants

// Version is the munpkg release version.
const Version = "0.1.0"

// DefaultCatalogURL is the upstream metadata repository archive.
const DefaultCatalogURL = "https://github.com/KSP-CKAN/CKAN-meta/archive/master.tar.gz"

// BuildIDFile is the file inside a game root identifying the installed
// game build.
const BuildIDFile = "buildID.txt"
