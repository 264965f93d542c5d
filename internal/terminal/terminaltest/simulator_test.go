package terminaltest_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jpalmerr/turnstile/internal/terminal"
	"github.com/jpalmerr/turnstile/internal/terminal/terminaltest"
)

func TestSimulator_PaginatesWithClient(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	sim := terminaltest.NewSimulator()
	for i := 0; i < 7; i++ {
		p := terminaltest.RandomPunch(base.Add(time.Duration(i) * time.Second))
		sim.Add(p)
	}
	server := httptest.NewServer(sim)
	defer server.Close()

	client := terminal.NewClient(terminal.Config{BaseURL: server.URL, Major: 5})
	defer client.Close()

	w := terminal.Window{Start: base, End: base.Add(time.Minute), SearchID: "s1"}
	var got int
	cursor := 0
	for pages := 0; pages < 10; pages++ {
		page, err := client.FetchPage(context.Background(), w, cursor, 3)
		if err != nil {
			t.Fatalf("FetchPage() error = %v", err)
		}
		got += len(page.Records)
		if page.Next == nil {
			break
		}
		cursor = *page.Next
	}
	if got != 7 {
		t.Errorf("fetched %d records, want 7", got)
	}
	if sim.Searches() != 3 {
		t.Errorf("Searches() = %d, want 3", sim.Searches())
	}
}

func TestSimulator_WindowFilter(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	sim := terminaltest.NewSimulator(
		terminaltest.Punch{Time: base.Add(-time.Minute), EmployeeNo: "E0", Minor: 1},
		terminaltest.Punch{Time: base.Add(time.Second), EmployeeNo: "E1", Minor: 75},
	)
	server := httptest.NewServer(sim)
	defer server.Close()

	client := terminal.NewClient(terminal.Config{BaseURL: server.URL, Major: 5})
	page, err := client.FetchPage(context.Background(), terminal.Window{Start: base, End: base.Add(time.Hour)}, 0, 30)
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].EmployeeNo != "E1" {
		t.Errorf("Records = %+v, want only E1", page.Records)
	}
}

func TestSimulator_FailNext(t *testing.T) {
	sim := terminaltest.NewSimulator()
	sim.FailNext(1)
	server := httptest.NewServer(sim)
	defer server.Close()

	client := terminal.NewClient(terminal.Config{BaseURL: server.URL})
	now := time.Now()
	w := terminal.Window{Start: now.Add(-time.Minute), End: now}

	if _, err := client.FetchPage(context.Background(), w, 0, 30); !errors.Is(err, terminal.ErrUnreachable) {
		t.Fatalf("first FetchPage() error = %v, want ErrUnreachable", err)
	}
	page, err := client.FetchPage(context.Background(), w, 0, 30)
	if err != nil {
		t.Fatalf("second FetchPage() error = %v", err)
	}
	if len(page.Records) != 0 || page.Next != nil {
		t.Errorf("page = %+v, want empty", page)
	}
}
