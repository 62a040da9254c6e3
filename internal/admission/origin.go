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

package admission

import (
	"net/netip"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Prefix lengths kept before hashing. The trailing bits are discarded so
// the raw address cannot be recovered from stored keys or logs.
const (
	v4KeepBits = 24
	v6KeepBits = 48
)

// Origin is a network origin that only ever exposes its anonymized form.
// Construct one at the edge and pass it down; the raw address never leaves
// this struct.
type Origin struct {
	anonymized string
}

// OriginFromAddr masks the trailing bits of addr and hashes the remainder.
func OriginFromAddr(addr netip.Addr) Origin {
	return Origin{anonymized: anonymizeAddr(addr)}
}

// OriginFromString parses and anonymizes a textual address. Unparseable
// input collapses to a single shared bucket rather than failing admission.
func OriginFromString(s string) Origin {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return Origin{anonymized: "unparseable"}
	}
	return OriginFromAddr(addr)
}

// Anonymized returns the irreversible origin token used in counter keys
// and audit logs.
func (o Origin) Anonymized() string {
	return o.anonymized
}

func anonymizeAddr(addr netip.Addr) string {
	if !addr.IsValid() {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := v6KeepBits
	if addr.Is4() {
		bits = v4KeepBits
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return strconv.FormatUint(xxhash.Sum64String(prefix.Addr().String()), 16)
}
