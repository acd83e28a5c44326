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

package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/timsiem/timsiem/internal/query"
	"github.com/timsiem/timsiem/pkg/timsiem/config"
	"github.com/timsiem/timsiem/pkg/timsiem/indicators"
	"github.com/timsiem/timsiem/pkg/timsiem/playbooks"
)

const defaultLiteral = "(type:ip or type:file or type:Domain or type:URL) -tags:pending_review and (tags:approved_black or tags:approved_white or tags:approved_watchlist)"

type fakeDelegate struct {
	name string
	typ  indicators.Type
	err  error
	// block makes Run wait until its context is cancelled.
	block bool

	mu      sync.Mutex
	queries []string
	aborted bool
}

func (f *fakeDelegate) Name() string                   { return f.name }
func (f *fakeDelegate) IndicatorType() indicators.Type { return f.typ }

func (f *fakeDelegate) Run(ctx context.Context, q string) (*playbooks.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.block {
		<-ctx.Done()
		f.mu.Lock()
		f.aborted = true
		f.mu.Unlock()
		return nil, ctx.Err()
	}
	return &playbooks.Result{Matched: 1, Written: 1}, nil
}

func createDelegates() []*fakeDelegate {
	return []*fakeDelegate{
		{name: playbooks.NameAddBadHashIndicatorsToSiem, typ: indicators.TypeFile},
		{name: playbooks.NameAddIPIndicatorsToSiem, typ: indicators.TypeIP},
		{name: playbooks.NameAddUrlIndicatorsToSiem, typ: indicators.TypeURL},
		{name: playbooks.NameAddDomainIndicatorsToSiem, typ: indicators.TypeDomain},
	}
}

func createDispatcher(t *testing.T, fakes []*fakeDelegate, cfg *config.DispatcherConfig) *Dispatcher {
	delegates := make([]playbooks.SubPlaybook, len(fakes))
	for i, f := range fakes {
		delegates[i] = f
	}
	d, err := New(delegates, cfg, slog.Default())
	if err != nil {
		t.Fatalf("got error when creating dispatcher: %v", err)
	}
	return d
}

var allModes = []*config.DispatcherConfig{
	nil,
	{Mode: config.DispatchModeParallel, FailurePolicy: config.FailurePolicyContinue},
	{Mode: config.DispatchModeSequential, FailurePolicy: config.FailurePolicyContinue},
	{Mode: config.DispatchModeParallel, FailurePolicy: config.FailurePolicyHalt},
	{Mode: config.DispatchModeSequential, FailurePolicy: config.FailurePolicyHalt},
}

func TestRunWithoutQueryUsesDefault(t *testing.T) {
	for _, cfg := range allModes {
		fakes := createDelegates()
		d := createDispatcher(t, fakes, cfg)
		if err := d.Run(context.Background(), Inputs{}, nil); err != nil {
			t.Fatalf("got error when running dispatcher with cfg=%+v: %v", cfg, err)
		}
		for _, f := range fakes {
			if len(f.queries) != 1 || f.queries[0] != defaultLiteral {
				t.Errorf("expected delegate %v to get the default query once but got %v", f.name, f.queries)
			}
		}
	}
}

func TestRunWithBlankQueryUsesDefault(t *testing.T) {
	fakes := createDelegates()
	d := createDispatcher(t, fakes, nil)
	blank := "   "
	if err := d.Run(context.Background(), Inputs{FromIndicatorsQuery: &blank}, nil); err != nil {
		t.Fatalf("got error when running dispatcher: %v", err)
	}
	for _, f := range fakes {
		if f.queries[0] != defaultLiteral {
			t.Errorf("expected default query for delegate %v but got %q", f.name, f.queries[0])
		}
	}
}

func TestRunWithCustomQueryReplacesDefault(t *testing.T) {
	fakes := createDelegates()
	d := createDispatcher(t, fakes, nil)
	custom := "tags:approved_black"
	if err := d.Run(context.Background(), Inputs{FromIndicatorsQuery: &custom}, nil); err != nil {
		t.Fatalf("got error when running dispatcher: %v", err)
	}
	for _, f := range fakes {
		if len(f.queries) != 1 || f.queries[0] != custom {
			t.Errorf("expected delegate %v to get exactly the custom query but got %v", f.name, f.queries)
		}
		if strings.Contains(f.queries[0], "pending_review") {
			t.Errorf("custom query must not be combined with the default but got %q", f.queries[0])
		}
	}
}

func TestRunRejectsInvalidQuery(t *testing.T) {
	fakes := createDelegates()
	d := createDispatcher(t, fakes, nil)
	bad := "type:ip and ("
	if err := d.Run(context.Background(), Inputs{FromIndicatorsQuery: &bad}, nil); err == nil {
		t.Fatal("expected error for invalid query")
	}
	for _, f := range fakes {
		if len(f.queries) != 0 {
			t.Errorf("expected no delegate to run for an invalid query but %v ran", f.name)
		}
	}
}

func TestDelegatesAreEachReferencedOnce(t *testing.T) {
	d := createDispatcher(t, createDelegates(), nil)
	descs := d.Delegates()
	names := make([]string, 0, len(descs))
	for _, dd := range descs {
		names = append(names, dd.Name)
	}
	sort.Strings(names)
	expected := []string{
		"TIM - Add Bad Hash Indicators To SIEM",
		"TIM - Add Domain Indicators To SIEM",
		"TIM - Add IP Indicators To SIEM",
		"TIM - Add Url Indicators To SIEM",
	}
	if len(names) != len(expected) {
		t.Fatalf("expected %v delegates but got %v", len(expected), names)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("expected delegate %v but got %v", expected[i], names[i])
		}
	}
	queryTypes := map[string]string{}
	for _, dd := range descs {
		queryTypes[dd.Name] = dd.QueryType
	}
	if queryTypes[playbooks.NameAddBadHashIndicatorsToSiem] != "file" || queryTypes[playbooks.NameAddIPIndicatorsToSiem] != "ip" ||
		queryTypes[playbooks.NameAddUrlIndicatorsToSiem] != "URL" || queryTypes[playbooks.NameAddDomainIndicatorsToSiem] != "Domain" {
		t.Errorf("got unexpected query types %v", queryTypes)
	}
}

func TestNewRejectsInvalidDelegateSets(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func([]*fakeDelegate) []*fakeDelegate
	}{
		{"missing type", func(f []*fakeDelegate) []*fakeDelegate { return f[:3] }},
		{"duplicate type", func(f []*fakeDelegate) []*fakeDelegate {
			return append(f, &fakeDelegate{name: "Another IP playbook", typ: indicators.TypeIP})
		}},
		{"duplicate name", func(f []*fakeDelegate) []*fakeDelegate {
			f[1].name = f[0].name
			return f
		}},
		{"unknown type", func(f []*fakeDelegate) []*fakeDelegate {
			f[0].typ = "Email"
			return f
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fakes := tc.mutate(createDelegates())
			delegates := make([]playbooks.SubPlaybook, len(fakes))
			for i, f := range fakes {
				delegates[i] = f
			}
			if _, err := New(delegates, nil, slog.Default()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewRejectsUnknownConfig(t *testing.T) {
	delegates := make([]playbooks.SubPlaybook, 0)
	for _, f := range createDelegates() {
		delegates = append(delegates, f)
	}
	if _, err := New(delegates, &config.DispatcherConfig{Mode: "random"}, slog.Default()); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := New(delegates, &config.DispatcherConfig{FailurePolicy: "retry"}, slog.Default()); err == nil {
		t.Error("expected error for unknown failure policy")
	}
}

func TestOutputsAreEmpty(t *testing.T) {
	d := createDispatcher(t, createDelegates(), nil)
	if outputs := d.Outputs(); len(outputs) != 0 {
		t.Fatalf("expected zero outputs but got %v", outputs)
	}
}

func TestInputs(t *testing.T) {
	d := createDispatcher(t, createDelegates(), nil)
	inputs := d.Inputs()
	if len(inputs) != 1 {
		t.Fatalf("expected exactly one input but got %v", inputs)
	}
	if inputs[0].Name != "From indicators Query" || inputs[0].Required || inputs[0].Default != query.DefaultQuery {
		t.Fatalf("got unexpected input %+v", inputs[0])
	}
}

func TestFailureContinueRunsEveryDelegate(t *testing.T) {
	for _, mode := range []config.DispatchMode{config.DispatchModeParallel, config.DispatchModeSequential} {
		fakes := createDelegates()
		fakes[0].err = errors.New("hash feed broken")
		fakes[2].err = errors.New("url feed broken")
		d := createDispatcher(t, fakes, &config.DispatcherConfig{Mode: mode, FailurePolicy: config.FailurePolicyContinue})

		var mu sync.Mutex
		reported := map[string]error{}
		err := d.Run(context.Background(), Inputs{}, func(name string, res *playbooks.Result, err error) {
			mu.Lock()
			defer mu.Unlock()
			reported[name] = err
		})
		if err == nil {
			t.Fatalf("expected joined error in mode=%v", mode)
		}
		if !errors.Is(err, fakes[0].err) || !errors.Is(err, fakes[2].err) {
			t.Errorf("expected both delegate errors to be joined in mode=%v but got %v", mode, err)
		}
		for _, f := range fakes {
			if len(f.queries) != 1 {
				t.Errorf("expected delegate %v to run once in mode=%v but ran %v times", f.name, mode, len(f.queries))
			}
		}
		if len(reported) != 4 {
			t.Errorf("expected 4 reports in mode=%v but got %v", mode, reported)
		}
	}
}

func TestFailureHaltSequentialStopsAfterFirstError(t *testing.T) {
	fakes := createDelegates()
	fakes[1].err = errors.New("ip feed broken")
	d := createDispatcher(t, fakes, &config.DispatcherConfig{Mode: config.DispatchModeSequential, FailurePolicy: config.FailurePolicyHalt})
	err := d.Run(context.Background(), Inputs{}, nil)
	if !errors.Is(err, fakes[1].err) {
		t.Fatalf("expected ip error but got %v", err)
	}
	// Delegates run in the order of indicators.AllTypes: File, IP, URL, Domain
	if len(fakes[0].queries) != 1 || len(fakes[1].queries) != 1 {
		t.Errorf("expected the first two delegates to run")
	}
	if len(fakes[2].queries) != 0 || len(fakes[3].queries) != 0 {
		t.Errorf("expected the delegates after the failure to be skipped")
	}
}

func TestFailureHaltParallelCancelsOtherDelegates(t *testing.T) {
	fakes := createDelegates()
	for _, f := range fakes {
		f.block = true
	}
	fakes[2].block = false
	fakes[2].err = errors.New("url feed broken")
	d := createDispatcher(t, fakes, &config.DispatcherConfig{Mode: config.DispatchModeParallel, FailurePolicy: config.FailurePolicyHalt})

	err := d.Run(context.Background(), Inputs{}, nil)
	if !errors.Is(err, fakes[2].err) {
		t.Fatalf("expected url error but got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected the cancellation of the other delegates to be joined but got %v", err)
	}
	for i, f := range fakes {
		f.mu.Lock()
		ran, aborted := len(f.queries), f.aborted
		f.mu.Unlock()
		if ran != 1 {
			t.Errorf("expected delegate %v to be invoked once but was invoked %v times", f.name, ran)
		}
		if i != 2 && !aborted {
			t.Errorf("expected delegate %v to observe cancellation", f.name)
		}
	}
}
