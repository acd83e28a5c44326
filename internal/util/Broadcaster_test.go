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

import "testing"

func TestBroadcasterDeliversToEverySubscriber(t *testing.T) {
	var b Broadcaster[int]
	a := b.Subscribe()
	c := b.Subscribe()
	b.Broadcast(1)
	if v := <-a; v != 1 {
		t.Errorf("expected 1 but got %v", v)
	}
	if v := <-c; v != 1 {
		t.Errorf("expected 1 but got %v", v)
	}
}

func TestBroadcasterDoesNotBlockOnSlowSubscriber(t *testing.T) {
	var b Broadcaster[int]
	a := b.Subscribe()
	b.Broadcast(1)
	b.Broadcast(2)
	if v := <-a; v != 1 {
		t.Errorf("expected first value to be kept but got %v", v)
	}
	select {
	case v := <-a:
		t.Errorf("expected second value to be dropped but got %v", v)
	default:
	}
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	var b Broadcaster[struct{}]
	b.Broadcast(struct{}{})
}
