package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Zecruu/SpineLineDemo/internal/config"
	"github.com/Zecruu/SpineLineDemo/internal/db"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	CheckInRatio float64
	ReadRatio    float64
	PatientLimit int
	Days         int
}

type staffMember struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Patients    []uuid.UUID
	Doctors     []staffMember
	Secretaries []staffMember

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

// Record files a response. A 409 counts as a conflict rather than an error.
func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, worst time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	worst = latencies[len(latencies)-1]
	return avg, p50, p95, worst
}

type Metrics struct {
	Booking        OperationMetrics
	Cancel         OperationMetrics
	CheckIn        OperationMetrics
	ReadByID       OperationMetrics
	ListByProvider OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *logging.Logger
	metrics Metrics
}

func main() {
	_ = godotenv.Load()

	var cfg SimConfig
	cmd := &cobra.Command{
		Use:          "simulate",
		Short:        "Drive booking, cancel, check-in and read traffic against a running api-server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg.normalized())
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "api-server base URL")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to generate traffic")
	f.IntVar(&cfg.Workers, "workers", 10, "concurrent clients")
	f.Float64Var(&cfg.BookingRatio, "booking", 0.4, "share of booking requests")
	f.Float64Var(&cfg.CancelRatio, "cancel", 0.1, "share of cancel requests")
	f.Float64Var(&cfg.CheckInRatio, "checkin", 0.2, "share of check-in requests")
	f.Float64Var(&cfg.ReadRatio, "read", 0.3, "share of read requests")
	f.IntVar(&cfg.PatientLimit, "patients", 4000, "max patients to load")
	f.IntVar(&cfg.Days, "days", 7, "book over this many days starting tomorrow")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg SimConfig) error {
	baseCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	logger := logging.New(baseCfg.LogLevel).With("service", "simulate")

	if err := validateConfig(cfg, baseCfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("simulator starting",
		"duration", cfg.Duration, "workers", cfg.Workers,
		"booking", cfg.BookingRatio, "cancel", cfg.CancelRatio, "checkin", cfg.CheckInRatio, "read", cfg.ReadRatio)

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(loadCtx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(loadCtx, pgPool, cfg, baseCfg.Auth)
	if err != nil {
		return fmt.Errorf("load data pool: %w", err)
	}
	logger.Info("data loaded", "patients", len(dataPool.Patients), "doctors", len(dataPool.Doctors), "secretaries", len(dataPool.Secretaries))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()
	return nil
}

// normalized scales the traffic ratios so they sum to one.
func (cfg SimConfig) normalized() SimConfig {
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.CheckInRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.CheckInRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig, base config.Config) error {
	if base.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required to mint staff tokens")
	}
	if cfg.Workers <= 0 {
		return errors.New("--workers must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("--duration must be > 0")
	}
	if cfg.Days <= 0 {
		return errors.New("--days must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, auth config.AuthConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	rows, err = pool.Query(ctx, `
		SELECT id, external_id, email, role
		FROM users
		WHERE is_active AND role IN ('doctor', 'secretary')
	`)
	if err != nil {
		return nil, fmt.Errorf("load staff: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                uuid.UUID
			externalID, email string
			role              string
		)
		if err := rows.Scan(&id, &externalID, &email, &role); err != nil {
			return nil, err
		}
		token, err := mintToken(auth, externalID, email)
		if err != nil {
			return nil, err
		}
		member := staffMember{ID: id, Token: token}
		if role == "doctor" {
			dataPool.Doctors = append(dataPool.Doctors, member)
		} else {
			dataPool.Secretaries = append(dataPool.Secretaries, member)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load staff: %w", err)
	}

	switch {
	case len(dataPool.Patients) == 0:
		return nil, errors.New("no patients loaded, run cmd/seed first")
	case len(dataPool.Doctors) == 0:
		return nil, errors.New("no doctors loaded, run cmd/seed first")
	case len(dataPool.Secretaries) == 0:
		return nil, errors.New("no secretaries loaded, run cmd/seed first")
	}
	return dataPool, nil
}

func mintToken(auth config.AuthConfig, subject, email string) (string, error) {
	claims := jwt.MapClaims{
		"sub":   subject,
		"email": email,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(2 * time.Hour).Unix(),
	}
	if auth.Issuer != "" {
		claims["iss"] = auth.Issuer
	}
	if auth.Audience != "" {
		claims["aud"] = auth.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(auth.JWTSecret))
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doTransition(ctx, rng, "cancel", &s.metrics.Cancel)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.CheckInRatio:
			s.doTransition(ctx, rng, "checkin", &s.metrics.CheckIn)
		default:
			if rng.Intn(2) == 0 {
				s.doReadByID(ctx, rng)
			} else {
				s.doListByProvider(ctx, rng)
			}
		}
	}
}

func (s *Simulator) secretary(rng *rand.Rand) staffMember {
	return s.pool.Secretaries[rng.Intn(len(s.pool.Secretaries))]
}

// randomSlot keeps slots on a coarse grid so workers regularly collide.
func (s *Simulator) randomSlot(rng *rand.Rand) time.Time {
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1+rng.Intn(s.config.Days))
	return day.Add(9*time.Hour + time.Duration(rng.Intn(16))*30*time.Minute)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	body, _ := json.Marshal(map[string]any{
		"patient":  s.pool.Patients[rng.Intn(len(s.pool.Patients))].String(),
		"provider": doctor.ID.String(),
		"dateTime": s.randomSlot(rng).Format(time.RFC3339),
		"duration": 30,
		"type":     "ADJUSTMENT",
		"reason":   "Simulated visit",
	})

	status, respBody, latency := s.do(ctx, http.MethodPost, "/api/appointments", s.secretary(rng).Token, body)
	s.metrics.Booking.Record(latency, status)

	if status == http.StatusCreated {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(respBody, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(appt.ID)
		}
	}
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand, action string, om *OperationMetrics) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	var body []byte
	if action == "cancel" {
		body = []byte(`{"reason":"Simulated cancellation"}`)
	}
	status, _, latency := s.do(ctx, http.MethodPut,
		fmt.Sprintf("/api/appointments/%s/%s", apptID, action), s.secretary(rng).Token, body)
	om.Record(latency, status)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	status, _, latency := s.do(ctx, http.MethodGet, "/api/appointments/"+apptID.String(), s.secretary(rng).Token, nil)
	s.metrics.ReadByID.Record(latency, status)
}

func (s *Simulator) doListByProvider(ctx context.Context, rng *rand.Rand) {
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	day := s.randomSlot(rng).Format(time.DateOnly)
	status, _, latency := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/appointments?provider=%s&date=%s", doctor.ID, day), doctor.Token, nil)
	s.metrics.ListByProvider.Record(latency, status)
}

// do returns status 0 when the request never got a response.
func (s *Simulator) do(ctx context.Context, method, path, token string, body []byte) (int, []byte, time.Duration) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rdr)
	if err != nil {
		return 0, nil, 0
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("request failed", "method", method, "path", path, "error", err)
		}
		return 0, nil, latency
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, latency
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Check-in", &s.metrics.CheckIn)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by provider/day", &s.metrics.ListByProvider)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflicts := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)
	avg, p50, p95, worst := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflicts > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflicts, float64(conflicts)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), worst.Round(time.Millisecond))
	fmt.Println()
}
