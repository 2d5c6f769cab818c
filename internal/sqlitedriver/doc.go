// Copyright 2026 Socratic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlitedriver registers a database/sql driver named "sqlite3".
//
// With CGO enabled the driver is go-sqlcipher, which supports encrypted
// databases via PRAGMA key. Without CGO the pure-Go modernc.org/sqlite
// driver is registered under the same name, so callers are unaffected by
// the build mode. Import this package for its side effect:
//
//	import _ "github.com/socratic-labs/socbench/internal/sqlitedriver"
package sqlitedriver
