// Copyright (c) 2026 John Earle
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

package mailgateway

import "fmt"

// SenderRegistry holds one Sender per configuration tag, for a host
// process that sends as more than one mailbox/application registration.
// It is a supplemented convenience over New — most deployments configure
// exactly one Sender directly and never touch this type.
type SenderRegistry struct {
	byTag map[string]*Sender
}

// NewRegistry builds a Sender for each AuthConfig, keyed by tag. Any
// construction failure tears down the Senders already built and returns
// the error.
func NewRegistry(configs map[string]AuthConfig, opts ...Option) (*SenderRegistry, error) {
	reg := &SenderRegistry{byTag: make(map[string]*Sender, len(configs))}
	for tag, cfg := range configs {
		s, err := New(cfg, opts...)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("build sender %q: %w", tag, err)
		}
		reg.byTag[tag] = s
	}
	return reg, nil
}

// Get returns the Sender registered under tag, or false if none matches.
func (r *SenderRegistry) Get(tag string) (*Sender, bool) {
	s, ok := r.byTag[tag]
	return s, ok
}

// Close closes every Sender in the registry, collecting the first error
// encountered but still attempting to close the rest.
func (r *SenderRegistry) Close() error {
	var first error
	for _, s := range r.byTag {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
