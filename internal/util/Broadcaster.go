// Copyright 2024 The Timsiem Authors
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

package util

import "sync"

// Broadcaster delivers a value to every subscriber. Each subscription buffers
// one value, and a value sent while the previous one is still unread is
// dropped, so a slow subscriber only learns that something happened.
type Broadcaster[T any] struct {
	mu       sync.Mutex
	channels []chan T
}

func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.channels {
		select {
		case c <- v:
		default:
		}
	}
}

func (b *Broadcaster[T]) Subscribe() <-chan T {
	ret := make(chan T, 1)
	b.mu.Lock()
	b.channels = append(b.channels, ret)
	b.mu.Unlock()
	return ret
}
