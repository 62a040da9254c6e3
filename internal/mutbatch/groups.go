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

package mutbatch

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/adminguard/internal/storagebackend"
)

// updateGroup collects structurally identical updates so they can share
// one bulk statement shape.
type updateGroup struct {
	signature string
	updates   []storagebackend.Update
}

// groupUpdates partitions updates by signature, preserving first-seen
// order of groups and insertion order within a group.
func groupUpdates(updates []storagebackend.Update) []updateGroup {
	index := make(map[string]int)
	var groups []updateGroup
	for _, u := range updates {
		sig := updateSignature(u)
		i, ok := index[sig]
		if !ok {
			i = len(groups)
			index[sig] = i
			groups = append(groups, updateGroup{signature: sig})
		}
		groups[i].updates = append(groups[i].updates, u)
	}
	return groups
}

// updateSignature hashes the sorted field-name sets of an update's data
// and match condition. Values play no part: two updates with the same
// shape are mergeable regardless of what they write.
func updateSignature(u storagebackend.Update) string {
	var sb strings.Builder
	writeSortedKeys(&sb, u.Data)
	sb.WriteString("|")
	writeSortedKeys(&sb, u.Where)
	return strconv.FormatUint(xxhash.Sum64String(sb.String()), 16)
}

func writeSortedKeys(sb *strings.Builder, row storagebackend.Row) {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(k)
	}
}
