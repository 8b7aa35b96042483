// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"database/sql"
	"fmt"

	"github.com/a2aproject/a2a-go/a2asrv"

	"github.com/kadirpekel/skycast/pkg/config"
)

// NewStoreFromConfig builds a TaskStore for the configured backend.
// The memory backend is the default; the sql backend opens a database
// connection owned by the returned SQLStore (closed via its Close).
func NewStoreFromConfig(cfg config.TaskStoreConfig) (a2asrv.TaskStore, error) {
	switch cfg.Backend {
	case "", config.TaskStoreMemory:
		return NewMemoryStore(), nil

	case config.TaskStoreSQL:
		driver := cfg.Driver
		if driver == "sqlite" {
			driver = "sqlite3"
		}

		db, err := sql.Open(driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		store, err := NewSQLStore(db, cfg.Driver)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported task store backend: %s", cfg.Backend)
	}
}
