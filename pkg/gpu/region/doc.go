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

// Package region implements page-granular space management for a single
// fixed-size device memory region, such as VRAM or the GTT aperture.
//
// # Reservations
//
// A Region hands out contiguous page ranges using a first-fit search
// over a free list kept sorted by page offset. Released ranges are
// merged back into their free neighbors, so the free list is always
// fully coalesced. With coalescing, allocating and freeing ranges of
// a uniform size cannot fragment the region without bound.
//
// A Region never falls back to another region on exhaustion. Placement
// across regions is the business of the caller.
//
// # Accounting
//
// At every point in time the sum of free and reserved pages equals the
// capacity of the region and no two ranges overlap. Validate checks
// this, and a Region created with WithStrictChecks verifies it after
// every mutation, panicking on failure.
//
// All methods of a Region are safe for concurrent use. Each Region has
// its own lock, so independent regions never contend with each other.
package region
