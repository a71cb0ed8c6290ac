// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package region

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Domain identifies a kind of device memory region.
type Domain int

const (
	DomainVRAM   Domain = iota // device-local video memory
	DomainGTT                  // host-visible aperture aliasing system memory
	DomainOffset               // mmap offset space, not a placement domain
)

var (
	domainToString = map[Domain]string{
		DomainVRAM:   "VRAM",
		DomainGTT:    "GTT",
		DomainOffset: "OFFSET",
	}
	stringToDomain = map[string]Domain{
		"VRAM":   DomainVRAM,
		"GTT":    DomainGTT,
		"OFFSET": DomainOffset,
	}
)

// ParseDomain parses the given string into a Domain.
func ParseDomain(str string) (Domain, error) {
	if d, ok := stringToDomain[strings.ToUpper(strings.TrimSpace(str))]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDomain, str)
}

// MustParseDomain parses the given string into a Domain. It panics on failure.
func MustParseDomain(str string) Domain {
	d, err := ParseDomain(str)
	if err != nil {
		panic(err)
	}
	return d
}

// IsValid returns true if the domain is known.
func (d Domain) IsValid() bool {
	_, ok := domainToString[d]
	return ok
}

// IsPlacement returns true if buffers can be placed in the domain.
func (d Domain) IsPlacement() bool {
	return d == DomainVRAM || d == DomainGTT
}

// Mask returns the DomainMask for the domain.
func (d Domain) Mask() DomainMask {
	return DomainMask(1 << d)
}

// String returns a string representation of the domain.
func (d Domain) String() string {
	if str, ok := domainToString[d]; ok {
		return str
	}
	return fmt.Sprintf("%%!(region:Bad-Domain %d)", d)
}

// MarshalJSON is the json.Marshaller for Domain.
func (d Domain) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON is the json.Unmarshaller for Domain.
func (d *Domain) UnmarshalJSON(data []byte) error {
	str := ""
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDomain, err)
	}
	parsed, err := ParseDomain(str)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DomainMask is a set of placement domains.
type DomainMask int

const (
	DomainMaskVRAM DomainMask = 1 << DomainVRAM
	DomainMaskGTT  DomainMask = 1 << DomainGTT
	DomainMaskAll             = DomainMaskVRAM | DomainMaskGTT
)

// NewDomainMask returns a DomainMask with the given placement domains.
func NewDomainMask(domains ...Domain) DomainMask {
	m := DomainMask(0)
	for _, d := range domains {
		m |= d.Mask()
	}
	return m & DomainMaskAll
}

// Contains returns true if the domain is present in the mask.
func (m DomainMask) Contains(d Domain) bool {
	return m&d.Mask() != 0
}

// Slice returns the domains present in the mask, in placement order.
func (m DomainMask) Slice() []Domain {
	var domains []Domain
	for _, d := range []Domain{DomainVRAM, DomainGTT} {
		if m.Contains(d) {
			domains = append(domains, d)
		}
	}
	return domains
}

// String returns a string representation of the mask.
func (m DomainMask) String() string {
	names := []string{}
	for _, d := range m.Slice() {
		names = append(names, d.String())
	}
	return strings.Join(names, ",")
}

// PageRange is a contiguous range of pages within a region.
type PageRange struct {
	Start int64 `json:"start"`
	Count int64 `json:"count"`
}

// End returns the first page past the range.
func (r PageRange) End() int64 {
	return r.Start + r.Count
}

// IsEmpty returns true if the range has no pages.
func (r PageRange) IsEmpty() bool {
	return r.Count <= 0
}

// Overlaps returns true if the two ranges share any page.
func (r PageRange) Overlaps(o PageRange) bool {
	return r.Start < o.End() && o.Start < r.End()
}

// String returns a string representation of the range.
func (r PageRange) String() string {
	return fmt.Sprintf("[%d-%d)", r.Start, r.End())
}
