package query_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/strata-search/strata/internal/query"
)

func TestRunBatchWithLabels(t *testing.T) {
	r := openToy(t)
	p := newProcessor(t, r, query.AlgDaatOr, 10)
	var out bytes.Buffer
	p.SetOutput(&out)

	in := strings.NewReader("1:alpha\n2:beta gamma\nalpha beta\n")
	if err := p.RunBatch(context.Background(), in, 0); err != nil {
		t.Fatal(err)
	}
	if got := p.Stats().TotalQueries; got != 3 {
		t.Fatalf("TotalQueries = %d, want 3", got)
	}
}

func TestBatchWarmUpExcludedFromStats(t *testing.T) {
	r := openToy(t)
	p := newProcessor(t, r, query.AlgDaatOr, 10)
	in := strings.NewReader("alpha\nbeta\ngamma\nalpha beta\n")
	if err := p.RunBatch(context.Background(), in, 0.5); err != nil {
		t.Fatal(err)
	}
	if got := p.Stats().TotalQueries; got != 2 {
		t.Fatalf("TotalQueries = %d, want 2 after warming up with the first half", got)
	}
}

func TestTrecFormat(t *testing.T) {
	r := openToy(t)
	cfg := testConfig(10)
	p, err := query.NewProcessor(r, cfg, query.AlgDaatAnd, query.ModeBatch, query.FormatTrec)
	if err != nil {
		t.Fatal(err)
	}
	var trec bytes.Buffer
	p.SetOutput(&trec)
	if _, err := p.ExecuteQuery(context.Background(), "alpha beta", 7); err != nil {
		t.Fatal(err)
	}
	line := trec.String()
	if !strings.HasPrefix(line, "7\tQ0\tdoc://1\t0\t") || !strings.Contains(line, "STANDARD") {
		t.Fatalf("trec output = %q", line)
	}
}

func TestEventSinkReceivesQueries(t *testing.T) {
	r := openToy(t)
	p := newProcessor(t, r, query.AlgDaatOr, 10)
	var events []query.QueryEvent
	p.SetEventSink(eventSinkFunc(func(e query.QueryEvent) {
		events = append(events, e)
	}))
	if _, err := p.ExecuteQuery(context.Background(), "alpha", 0); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Query != "alpha" || events[0].NumResults != 2 {
		t.Fatalf("event = %+v", events[0])
	}
}

type eventSinkFunc func(query.QueryEvent)

func (f eventSinkFunc) QueryExecuted(_ context.Context, e query.QueryEvent) { f(e) }
