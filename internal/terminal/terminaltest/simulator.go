// Package terminaltest provides an in-memory access-control terminal that
// answers the event-search API, for tests and demos.
package terminaltest

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// SearchPath is the path the simulator serves.
const SearchPath = "/ISAPI/AccessControl/AcsEvent"

const timeLayout = "2006-01-02T15:04:05-07:00"

// Punch is one stored authentication record.
type Punch struct {
	Time       time.Time
	EmployeeNo string
	Name       string
	Minor      int
	Status     string
	Label      string
}

// Simulator is an http.Handler holding a list of punches and serving them
// through paginated searches. It is safe for concurrent use.
type Simulator struct {
	mu      sync.Mutex
	punches []Punch
	fail    int
	searches int
}

// NewSimulator returns a Simulator pre-loaded with punches.
func NewSimulator(punches ...Punch) *Simulator {
	s := &Simulator{}
	s.Add(punches...)
	return s
}

// Add stores punches, keeping them in time order.
func (s *Simulator) Add(punches ...Punch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.punches = append(s.punches, punches...)
	sort.SliceStable(s.punches, func(i, j int) bool {
		return s.punches[i].Time.Before(s.punches[j].Time)
	})
}

// FailNext makes the next n searches answer 503.
func (s *Simulator) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = n
}

// Searches returns the number of search requests served, failed ones
// included.
func (s *Simulator) Searches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

var demoEmployees = []struct{ no, name string }{
	{"1001", "Ada Lovelace"},
	{"1002", "Grace Hopper"},
	{"1003", "Alan Turing"},
	{"1004", "Edsger Dijkstra"},
	{"1005", "Barbara Liskov"},
}

var demoMinors = []int{1, 38, 75}

// RandomPunch returns a punch by a random demo employee at now.
func RandomPunch(now time.Time) Punch {
	e := demoEmployees[rand.IntN(len(demoEmployees))]
	status, label := "checkIn", "Check In"
	if now.Hour() >= 12 {
		status, label = "checkOut", "Check Out"
	}
	return Punch{
		Time:       now.Truncate(time.Second),
		EmployeeNo: e.no,
		Name:       e.name,
		Minor:      demoMinors[rand.IntN(len(demoMinors))],
		Status:     status,
		Label:      label,
	}
}

type searchCond struct {
	SearchID   string `json:"searchID"`
	Position   int    `json:"searchResultPosition"`
	MaxResults int    `json:"maxResults"`
	Major      int    `json:"major"`
	Minor      int    `json:"minor"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
}

type info struct {
	Major            int    `json:"major"`
	Minor            int    `json:"minor"`
	Time             string `json:"time"`
	EmployeeNoString string `json:"employeeNoString"`
	Name             string `json:"name"`
	AttendanceStatus string `json:"attendanceStatus,omitempty"`
	LabelName        string `json:"labelName,omitempty"`
}

type result struct {
	SearchID     string `json:"searchID"`
	Status       string `json:"responseStatusStrg"`
	NumOfMatches int    `json:"numOfMatches"`
	TotalMatches int    `json:"totalMatches"`
	InfoList     []info `json:"InfoList,omitempty"`
}

func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != SearchPath {
		http.NotFound(w, r)
		return
	}

	var req struct {
		Cond searchCond `json:"AcsEventCond"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	start, err1 := time.Parse(timeLayout, req.Cond.StartTime)
	end, err2 := time.Parse(timeLayout, req.Cond.EndTime)
	if err1 != nil || err2 != nil || req.Cond.MaxResults < 1 {
		http.Error(w, "bad search condition", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.searches++
	if s.fail > 0 {
		s.fail--
		s.mu.Unlock()
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	var matches []Punch
	for _, p := range s.punches {
		if p.Time.Before(start) || p.Time.After(end) {
			continue
		}
		if req.Cond.Minor != 0 && p.Minor != req.Cond.Minor {
			continue
		}
		matches = append(matches, p)
	}
	s.mu.Unlock()

	res := result{SearchID: req.Cond.SearchID, TotalMatches: len(matches)}
	pos := req.Cond.Position
	if pos >= len(matches) {
		res.Status = "NO MATCH"
	} else {
		page := matches[pos:min(pos+req.Cond.MaxResults, len(matches))]
		for _, p := range page {
			res.InfoList = append(res.InfoList, info{
				Major:            5,
				Minor:            p.Minor,
				Time:             p.Time.Format(timeLayout),
				EmployeeNoString: p.EmployeeNo,
				Name:             p.Name,
				AttendanceStatus: p.Status,
				LabelName:        p.Label,
			})
		}
		res.NumOfMatches = len(page)
		res.Status = "OK"
		if pos+len(page) < len(matches) {
			res.Status = "MORE"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]result{"AcsEvent": res}); err != nil {
		http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
	}
}

// Identity returns the identity the poller of terminalID assigns to p.
func Identity(terminalID string, p Punch) string {
	return strings.Join([]string{terminalID, p.EmployeeNo, p.Time.Format(timeLayout)}, ":")
}
