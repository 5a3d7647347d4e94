package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryUserStore struct {
	mu          sync.Mutex
	records     map[string]UserRecord
	pages       int
	setErr      map[string]error
	onList      func(call int)
	transferLog []string
}

func newMemoryUserStore(records ...UserRecord) *memoryUserStore {
	store := &memoryUserStore{records: map[string]UserRecord{}, setErr: map[string]error{}}
	for _, record := range records {
		store.records[record.ID] = record
	}
	return store
}

func (s *memoryUserStore) ListCandidates(_ context.Context, query CandidateQuery) ([]UserRecord, error) {
	s.mu.Lock()
	s.pages++
	call := s.pages
	onList := s.onList
	s.mu.Unlock()
	if onList != nil {
		onList(call)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	out := make([]UserRecord, 0, len(s.records))
	for _, record := range s.records {
		if !record.EligibleFor(query.Phase) {
			continue
		}
		if query.After != nil && !query.After.Before(record.Position()) {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Position().Before(out[j].Position())
	})
	if len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *memoryUserStore) SetTransferSub(_ context.Context, id string, transferSub string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setErr[id]; err != nil {
		return false, err
	}
	record, ok := s.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if record.TransferSub != "" {
		return false, nil
	}
	record.TransferSub = transferSub
	s.records[id] = record
	s.transferLog = append(s.transferLog, id)
	return true, nil
}

func (s *memoryUserStore) SetProviderIdentity(_ context.Context, id string, expectedSub string, identity ProviderIdentity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setErr[id]; err != nil {
		return false, err
	}
	record, ok := s.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if record.ProviderSub != expectedSub {
		return false, nil
	}
	record.ProviderSub = identity.Sub
	record.ProviderEmail = identity.Email
	s.records[id] = record
	return true, nil
}

func (s *memoryUserStore) get(id string) UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

type stubResolver struct {
	mu      sync.Mutex
	calls   []string
	results map[string]string
	errs    map[string][]error
}

func (r *stubResolver) ResolveTransferSub(_ context.Context, creds Credentials, providerSub string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if creds.AccessToken == "" {
		return "", errors.New("missing token")
	}
	r.calls = append(r.calls, providerSub)
	if queued := r.errs[providerSub]; len(queued) > 0 {
		err := queued[0]
		r.errs[providerSub] = queued[1:]
		if err != nil {
			return "", err
		}
	}
	transferSub, ok := r.results[providerSub]
	if !ok {
		return "", NewResolutionFailure(400, `{"error":"invalid_request"}`, nil)
	}
	return transferSub, nil
}

type stubExchanger struct {
	mu      sync.Mutex
	calls   []string
	results map[string]ProviderIdentity
	errs    map[string]error
}

func (e *stubExchanger) ExchangeTransferSub(_ context.Context, _ Credentials, transferSub string) (ProviderIdentity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, transferSub)
	if err := e.errs[transferSub]; err != nil {
		return ProviderIdentity{}, err
	}
	identity, ok := e.results[transferSub]
	if !ok {
		return ProviderIdentity{}, NewResolutionFailure(400, `{"error":"invalid_grant"}`, nil)
	}
	return identity, nil
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type capturingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *capturingLogger) add(level string, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: append([]any(nil), args...)})
}

func (l *capturingLogger) Trace(msg string, args ...any) { l.add("trace", msg, args) }
func (l *capturingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *capturingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *capturingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *capturingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }
func (l *capturingLogger) Fatal(msg string, args ...any) { l.add("fatal", msg, args) }

func (l *capturingLogger) WithContext(context.Context) Logger { return l }

func (l *capturingLogger) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, entry := range l.entries {
		if entry.msg == msg {
			total++
		}
	}
	return total
}

func (l *capturingLogger) find(msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.msg == msg {
			return entry, true
		}
	}
	return logEntry{}, false
}

func argValue(args []any, key string) any {
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == key {
			return args[i+1]
		}
	}
	return nil
}

type capturingLedger struct {
	reports []RunReport
}

func (l *capturingLedger) RecordRun(_ context.Context, report RunReport) error {
	l.reports = append(l.reports, report)
	return nil
}

type noDelayScheduler struct{}

func (noDelayScheduler) NextDelay(int) time.Duration { return 0 }
