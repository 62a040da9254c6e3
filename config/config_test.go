// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Admission.Default.Requests)
	assert.Equal(t, time.Minute, cfg.Admission.Default.Window)
	assert.Equal(t, 100, cfg.Batch.MaxBatchSize)
	assert.Equal(t, time.Hour, cfg.Batch.FlushInterval)
	assert.Equal(t, 50, cfg.Memory.SnapshotHistory)
	assert.Equal(t, 5, cfg.Memory.MinTrendSamples)
	assert.Equal(t, 500*time.Millisecond, cfg.Cache.SlowThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Warmup.Interval)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ADMINGUARD_BATCH_MAX_BATCH_SIZE", "7")
	t.Setenv("ADMINGUARD_MEMORY_COOLDOWN", "2m")
	t.Setenv("ADMINGUARD_DATABASE_URL", "postgres://localhost/adminguard")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Batch.MaxBatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Memory.Cooldown)
	assert.Equal(t, "postgres://localhost/adminguard", cfg.Database.URL)
}
