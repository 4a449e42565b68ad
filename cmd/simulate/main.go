package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/trial-visit-scheduling/internal/api"
	"github.com/hackgods/trial-visit-scheduling/internal/appointment"
	"github.com/hackgods/trial-visit-scheduling/internal/config"
	"github.com/hackgods/trial-visit-scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	Subjects          int
	VisitScheduleName string
	ScheduleName      string
	ReportRatio       float64
	UnscheduledRatio  float64
	DeleteRatio       float64
	ReadRatio         float64
	PostgresDSN       string
}

type subjectRef struct {
	scope        appointment.Scope
	appointments []uuid.UUID
}

// DataPool tracks what the simulation created so workers can pick targets.
type DataPool struct {
	mu       sync.RWMutex
	subjects []subjectRef
	interims []uuid.UUID
}

func (dp *DataPool) AddSubject(scope appointment.Scope, ids []uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.subjects = append(dp.subjects, subjectRef{scope: scope, appointments: ids})
}

func (dp *DataPool) AddInterim(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.interims = append(dp.interims, id)
}

func (dp *DataPool) RandomSubject(rng *rand.Rand) (subjectRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.subjects) == 0 {
		return subjectRef{}, false
	}
	return dp.subjects[rng.Intn(len(dp.subjects))], true
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	s, ok := dp.RandomSubject(rng)
	if !ok || len(s.appointments) == 0 {
		return uuid.Nil, false
	}
	return s.appointments[rng.Intn(len(s.appointments))], true
}

// TakeInterim removes and returns a random interim appointment id.
func (dp *DataPool) TakeInterim(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.interims) == 0 {
		return uuid.Nil, false
	}
	i := rng.Intn(len(dp.interims))
	id := dp.interims[i]
	dp.interims[i] = dp.interims[len(dp.interims)-1]
	dp.interims = dp.interims[:len(dp.interims)-1]
	return id, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && (status == http.StatusConflict || status == http.StatusUnprocessableEntity):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	percentile := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], percentile(50), percentile(95)
}

type Metrics struct {
	Enroll      OperationMetrics
	VisitReport OperationMetrics
	Unscheduled OperationMetrics
	Delete      OperationMetrics
	ReadByID    OperationMetrics
	ListSubject OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := config.NewLogger(baseCfg, "simulate")

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("subjects", cfg.Subjects).
		Float64("report", cfg.ReportRatio).
		Float64("unscheduled", cfg.UnscheduledRatio).
		Float64("delete", cfg.DeleteRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx := context.Background()
	if err := sim.Enroll(ctx); err != nil {
		logger.Fatal().Err(err).Msg("enrollment phase failed")
	}
	sim.Run(ctx)
	sim.PrintReport()

	if err := sim.Verify(ctx); err != nil {
		logger.Error().Err(err).Msg("invariant check failed")
		os.Exit(1)
	}
	logger.Info().Msg("invariants hold")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:        getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 10),
		Subjects:          getInt("SIM_SUBJECTS", 50),
		VisitScheduleName: getEnv("SIM_VISIT_SCHEDULE", "visit_schedule1"),
		ScheduleName:      getEnv("SIM_SCHEDULE", "schedule1"),
		ReportRatio:       getFloat("SIM_REPORT_RATIO", 0.3),
		UnscheduledRatio:  getFloat("SIM_UNSCHEDULED_RATIO", 0.3),
		DeleteRatio:       getFloat("SIM_DELETE_RATIO", 0.1),
		ReadRatio:         getFloat("SIM_READ_RATIO", 0.3),
		PostgresDSN:       base.PostgresDSN,
	}

	total := cfg.ReportRatio + cfg.UnscheduledRatio + cfg.DeleteRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ReportRatio /= total
		cfg.UnscheduledRatio /= total
		cfg.DeleteRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Subjects <= 0 {
		return fmt.Errorf("SIM_SUBJECTS must be > 0")
	}
	return nil
}

// Enroll creates the subjects the workers operate on.
func (s *Simulator) Enroll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	now := time.Now().UTC()
	for i := 0; i < s.config.Subjects; i++ {
		faker := gofakeit.New(uint64(now.UnixNano()) + uint64(i))
		scope := appointment.Scope{
			SubjectIdentifier: faker.Numerify("SIM-###-####"),
			VisitScheduleName: s.config.VisitScheduleName,
			ScheduleName:      s.config.ScheduleName,
		}
		anchor := faker.DateRange(now.AddDate(0, 0, -30), now)

		g.Go(func() error {
			var appts []api.AppointmentResponse
			status, err := s.do(gctx, &s.metrics.Enroll, http.MethodPost, "/enrollments", api.EnrollRequest{
				SubjectIdentifier: scope.SubjectIdentifier,
				VisitScheduleName: scope.VisitScheduleName,
				ScheduleName:      scope.ScheduleName,
				AnchorDatetime:    anchor,
			}, &appts)
			if err != nil {
				return err
			}
			if status != http.StatusCreated {
				s.logger.Warn().Int("status", status).Str("subject", scope.SubjectIdentifier).Msg("enroll rejected")
				return nil
			}
			ids := make([]uuid.UUID, 0, len(appts))
			for _, a := range appts {
				ids = append(ids, a.ID)
			}
			s.pool.AddSubject(scope, ids)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(s.pool.subjects) == 0 {
		return fmt.Errorf("no subjects enrolled")
	}
	s.logger.Info().Int("subjects", len(s.pool.subjects)).Msg("enrollment complete")
	return nil
}

func (s *Simulator) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			s.worker(gctx, workerID)
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.ReportRatio:
			s.doVisitReport(ctx, rng)
		case r < c.ReportRatio+c.UnscheduledRatio:
			s.doUnscheduled(ctx, rng)
		case r < c.ReportRatio+c.UnscheduledRatio+c.DeleteRatio:
			s.doDelete(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListSubject(ctx, rng)
			}
		}
	}
}

// doVisitReport files a report, which starts the appointment and closes
// whichever sibling was in progress.
func (s *Simulator) doVisitReport(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	_, _ = s.do(ctx, &s.metrics.VisitReport, http.MethodPut, "/appointments/"+id.String()+"/visit-report",
		api.VisitReportRequest{Reason: "scheduled", ReportDatetime: time.Now().UTC()}, nil)
}

func (s *Simulator) doUnscheduled(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	var created api.AppointmentResponse
	status, err := s.do(ctx, &s.metrics.Unscheduled, http.MethodPost, "/appointments/"+id.String()+"/unscheduled",
		api.UnscheduledRequest{SuggestedDatetime: time.Now().UTC().AddDate(0, 0, rng.Intn(3))}, &created)
	if err == nil && status == http.StatusCreated {
		s.pool.AddInterim(created.ID)
	}
}

func (s *Simulator) doDelete(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeInterim(rng)
	if !ok {
		return
	}
	_, _ = s.do(ctx, &s.metrics.Delete, http.MethodDelete, "/appointments/"+id.String(), nil, nil)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	_, _ = s.do(ctx, &s.metrics.ReadByID, http.MethodGet, "/appointments/"+id.String(), nil, nil)
}

func (s *Simulator) doListSubject(ctx context.Context, rng *rand.Rand) {
	subj, ok := s.pool.RandomSubject(rng)
	if !ok {
		return
	}
	path := fmt.Sprintf("/subjects/%s/schedules/%s/%s/appointments?order=appt_datetime",
		subj.scope.SubjectIdentifier, subj.scope.VisitScheduleName, subj.scope.ScheduleName)
	_, _ = s.do(ctx, &s.metrics.ListSubject, http.MethodGet, path, nil, nil)
}

// do sends one request and records its outcome. A context cancelled by the
// end of the run is not counted.
func (s *Simulator) do(ctx context.Context, om *OperationMetrics, method, path string, body, out any) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, 0, err)
		}
		return 0, err
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode, nil)
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// Verify reloads every simulated subject from Postgres and checks the
// persisted state.
func (s *Simulator) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, s.config.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	repo := appointment.NewPgRepository(pool)

	var all []appointment.Appointment
	for _, subj := range s.pool.subjects {
		appts, err := repo.List(ctx, subj.scope, appointment.OrderByTimepoint)
		if err != nil {
			return err
		}
		all = append(all, appts...)
	}
	s.logger.Info().Int("appointments", len(all)).Msg("verifying persisted appointments")
	return appointment.CheckInvariants(all)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Subjects: %d\n", len(s.pool.subjects))
	fmt.Println()

	printOperationReport("Enroll", &s.metrics.Enroll)
	printOperationReport("Visit report", &s.metrics.VisitReport)
	printOperationReport("Unscheduled", &s.metrics.Unscheduled)
	printOperationReport("Delete interim", &s.metrics.Delete)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by subject", &s.metrics.ListSubject)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
