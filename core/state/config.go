// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sunyihoo/smtstate/smt"
)

// Config contains the settings of a state database.
type Config struct {
	KeyLength        int               // Length of every state key in bytes
	SubtreeHeight    smt.SubtreeHeight // Tree levels stored per node blob
	CleanCacheSize   int               // Maximum memory in bytes for caching tree nodes
	DiffRetention    uint64            // Number of recent diffs to keep, 0 keeps all
	MetricsNamespace string            `toml:",omitempty"` // Prefix of the database engine meters
}

// Defaults contains the default settings for a state database.
var Defaults = Config{
	KeyLength:        32,
	SubtreeHeight:    smt.DefaultSubtreeHeight,
	CleanCacheSize:   16 * 1024 * 1024,
	DiffRetention:    0,
	MetricsNamespace: "smtstate/db/",
}

// sanitize checks the provided user configuration and changes anything that's
// unreasonable or unworkable.
func (c *Config) sanitize() (*Config, error) {
	conf := *c
	if conf.SubtreeHeight == 0 {
		log.Warn("Sanitizing subtree height", "provided", conf.SubtreeHeight, "updated", smt.DefaultSubtreeHeight)
		conf.SubtreeHeight = smt.DefaultSubtreeHeight
	}
	if conf.CleanCacheSize < 0 {
		log.Warn("Sanitizing invalid node cache size", "provided", conf.CleanCacheSize, "updated", 0)
		conf.CleanCacheSize = 0
	}
	if err := conf.treeConfig().Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) treeConfig() smt.Config {
	return smt.Config{
		KeyLength:      c.KeyLength,
		SubtreeHeight:  c.SubtreeHeight,
		CleanCacheSize: c.CleanCacheSize,
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("keylength=%d subtree=%d cache=%d retention=%d", c.KeyLength, c.SubtreeHeight, c.CleanCacheSize, c.DiffRetention)
}
