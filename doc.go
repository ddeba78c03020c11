// Copyright (c) 2025 The bptree Authors
// SPDX-License-Identifier: MIT

// Package bptree implements a tiered, cache-backed, persistent ordered
// key-value index engine.
//
// It provides two tree shapes over the same node/cache/storage machinery:
//
//   - Tree:     a classic B+ tree — interior nodes carry only pivot keys,
//     all values live in leaves.
//   - BetaTree: a B-epsilon tree — interior nodes additionally buffer
//     pending insert/update/delete messages and flush them downward
//     lazily, amortizing the cost of writes against leaf I/O.
//
// Nodes are addressed by a small fixed-size identity (a UID), never by
// pointer, and are materialized on demand through a bounded replacement
// cache (LRU, CLOCK, or 2Q) backed by up to three storage tiers: DRAM,
// PMem, and a block device/file. Every node exists in one of two forms
// at any moment — a hot, owned representation used while mutating, and
// a cold, page-backed view used for cheap reads of recently-flushed
// data — with a small access-frequency heuristic promoting cold nodes to
// hot under sustained traffic.
//
// Store ties the pieces together as the package's single public entry
// point; the node, cache, and storage types are reachable for tests and
// for embedders who need direct access to cache statistics.
package bptree
