package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/septivank/water-meter-bridge/internal/anomaly"
	"github.com/septivank/water-meter-bridge/internal/db"
	"github.com/septivank/water-meter-bridge/internal/dispatch"
	"github.com/septivank/water-meter-bridge/internal/forward"
	"github.com/septivank/water-meter-bridge/internal/mq"
	"github.com/septivank/water-meter-bridge/internal/push"
	"github.com/septivank/water-meter-bridge/internal/validator"
)

var errDatabaseDown = errors.New("database down")

// memoryStore keeps readings and tokens in memory with the same merge rules
// as the Postgres repository.
type memoryStore struct {
	mu          sync.Mutex
	readings    []db.Reading
	consumption []db.ConsumptionRow
	tokens      map[int]db.DeviceToken
	failLast    error
	failAppend  error
	failTokens  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{tokens: make(map[int]db.DeviceToken)}
}

func (m *memoryStore) AppendReading(ctx context.Context, userID, deviceID, rawValue int) (*db.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend != nil {
		return nil, m.failAppend
	}
	r := db.Reading{
		ID:        int64(len(m.readings) + 1),
		UserID:    userID,
		DeviceID:  deviceID,
		RawValue:  rawValue,
		CreatedAt: time.Now(),
	}
	m.readings = append(m.readings, r)
	return &r, nil
}

func (m *memoryStore) LastReadingForDevice(ctx context.Context, deviceID int) (*db.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLast != nil {
		return nil, m.failLast
	}
	for i := len(m.readings) - 1; i >= 0; i-- {
		if m.readings[i].DeviceID == deviceID {
			r := m.readings[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) ListConsumption(ctx context.Context) ([]db.ConsumptionRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.ConsumptionRow(nil), m.consumption...), nil
}

func (m *memoryStore) UpsertDeviceToken(ctx context.Context, userID int, expoToken, fcmToken *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTokens != nil {
		return m.failTokens
	}
	current := m.tokens[userID]
	current.UserID = userID
	if expoToken != nil {
		current.ExpoToken = expoToken
	}
	if fcmToken != nil {
		current.FCMToken = fcmToken
	}
	current.UpdatedAt = time.Now()
	m.tokens[userID] = current
	return nil
}

func (m *memoryStore) GetDeviceToken(ctx context.Context, userID int) (*db.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTokens != nil {
		return nil, m.failTokens
	}
	t, ok := m.tokens[userID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

type queuedJob struct {
	name string
	job  dispatch.Job
}

// manualScheduler holds jobs until runAll is called
type manualScheduler struct {
	mu   sync.Mutex
	jobs []queuedJob
	err  error
}

func (s *manualScheduler) Submit(name string, job dispatch.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, queuedJob{name: name, job: job})
	return nil
}

func (s *manualScheduler) runAll() {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = nil
	s.mu.Unlock()
	for _, j := range jobs {
		j.job(context.Background())
	}
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type stubSink struct {
	mu       sync.Mutex
	received []forward.Reading
	result   forward.Result
	err      error
}

func (s *stubSink) Send(ctx context.Context, reading forward.Reading) (forward.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, reading)
	return s.result, s.err
}

type sentMessage struct {
	token string
	title string
	body  string
}

type recordingSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	result push.Result
}

func (s *recordingSender) Send(ctx context.Context, token, title, body string) (push.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" {
		return push.Result{Outcome: push.OutcomeSkipped, Detail: push.DetailMissingToken}, nil
	}
	s.sent = append(s.sent, sentMessage{token: token, title: title, body: body})
	if s.result.Outcome == "" {
		return push.Result{Outcome: push.OutcomeSuccess, StatusCode: 200}, nil
	}
	return s.result, nil
}

func (s *recordingSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.ReadingEvent
	err    error
}

func (p *recordingPublisher) PublishReading(ctx context.Context, event mq.ReadingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type fixture struct {
	store     *memoryStore
	scheduler *manualScheduler
	sink      *stubSink
	sender    *recordingSender
	events    *recordingPublisher
	svc       *IngestionService
}

func newFixture() *fixture {
	f := &fixture{
		store:     newMemoryStore(),
		scheduler: &manualScheduler{},
		sink:      &stubSink{result: forward.Result{Forwarded: true, StatusCode: 201}},
		sender:    &recordingSender{},
		events:    &recordingPublisher{},
	}
	f.svc = NewIngestionService(Deps{
		Readings:  f.store,
		Tokens:    f.store,
		Sink:      f.sink,
		Sender:    f.sender,
		Scheduler: f.scheduler,
		Events:    f.events,
		Detector:  anomaly.NewDetector(1.5),
		Validator: validator.NewValidator(),
	})
	return f
}

func strPtr(s string) *string {
	return &s
}
