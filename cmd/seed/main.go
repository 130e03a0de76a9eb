package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Zecruu/SpineLineDemo/internal/appointment"
	"github.com/Zecruu/SpineLineDemo/internal/audit"
	"github.com/Zecruu/SpineLineDemo/internal/config"
	"github.com/Zecruu/SpineLineDemo/internal/db"
	"github.com/Zecruu/SpineLineDemo/internal/identity"
	"github.com/Zecruu/SpineLineDemo/pkg/logging"
)

type seedOptions struct {
	doctors      int
	secretaries  int
	patients     int
	appointments int
	days         int
}

var specializations = []string{
	"Chiropractic",
	"Physical Therapy",
	"Sports Medicine",
	"Orthopedics",
	"Pain Management",
	"Rehabilitation",
}

var reasons = []string{
	"Lower back pain",
	"Neck stiffness",
	"Follow-up after adjustment",
	"Sciatica flare-up",
	"Posture evaluation",
	"Shoulder mobility",
	"Headaches",
}

func main() {
	_ = godotenv.Load()

	var opts seedOptions
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the database with fake staff, patients and appointments",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.doctors, "doctors", 8, "number of doctor accounts")
	cmd.Flags().IntVar(&opts.secretaries, "secretaries", 3, "number of secretary accounts")
	cmd.Flags().IntVar(&opts.patients, "patients", 2000, "number of patients")
	cmd.Flags().IntVar(&opts.appointments, "appointments", 500, "number of appointments to try booking")
	cmd.Flags().IntVar(&opts.days, "days", 14, "book appointments over this many days starting tomorrow")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	logger := logging.New(cfg.LogLevel).With("service", "seed")
	logger.Info("seed starting", "doctors", opts.doctors, "secretaries", opts.secretaries, "patients", opts.patients)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	doctors, err := seedStaff(ctx, pool, faker, identity.RoleDoctor, opts.doctors)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	logger.Info("doctors seeded", "count", len(doctors))

	secretaries, err := seedStaff(ctx, pool, faker, identity.RoleSecretary, opts.secretaries)
	if err != nil {
		return fmt.Errorf("seed secretaries: %w", err)
	}
	logger.Info("secretaries seeded", "count", len(secretaries))

	patients, err := seedPatients(ctx, pool, faker, opts.patients, logger)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	if len(doctors) == 0 || len(secretaries) == 0 || len(patients) == 0 || opts.appointments == 0 {
		logger.Info("seed complete, no appointments booked")
		return nil
	}

	// Appointments go through the service so the seeded schedule has no overlaps.
	svc := appointment.NewService(appointment.NewPgRepository(pool), nil, audit.NewPgSink(pool), cfg,
		appointment.WithLogger(logger.With("component", "appointments")))
	booked, conflicts := 0, 0
	for i := 0; i < opts.appointments; i++ {
		_, err := svc.Create(ctx, randomBooking(faker, doctors, patients, opts.days), appointment.Actor{
			ID:   secretaries[faker.Number(0, len(secretaries)-1)],
			Role: identity.RoleSecretary,
		})
		switch {
		case err == nil:
			booked++
		case errors.Is(err, appointment.ErrSchedulingConflict):
			conflicts++
		default:
			return fmt.Errorf("book appointment: %w", err)
		}
	}

	logger.Info("seed complete", "appointments_booked", booked, "conflicts_skipped", conflicts)
	return nil
}

func seedStaff(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, role identity.Role, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			first, last := faker.FirstName(), faker.LastName()
			email := strings.ToLower(fmt.Sprintf("%s.%s.%s@clinic.test", first, last, id.String()[:8]))

			specialization := ""
			if role == identity.RoleDoctor {
				specialization = specializations[faker.Number(0, len(specializations)-1)]
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, external_id, email, full_name, role, is_active, phone_number,
					specialization, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, true, $6, NULLIF($7, ''), now(), now())
			`, id, "seed:"+id.String(), email, first+" "+last, string(role), faker.Phone(), specialization)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger *logging.Logger) ([]uuid.UUID, error) {
	const batchSize = 500

	ids := make([]uuid.UUID, 0, count)
	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := db.InTx(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				id := uuid.New()
				dob := faker.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-18, 0, 0))

				gender := strings.ToUpper(faker.Gender())

				_, err := tx.Exec(ctx, `
					INSERT INTO patients (id, first_name, last_name, email, phone_number, date_of_birth,
						gender, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
				`, id, faker.FirstName(), faker.LastName(), faker.Email(), faker.Phone(), dob, gender)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		logger.Info("patients seeded", "done", end, "total", count)
	}
	return ids, nil
}

// randomBooking picks a quarter-hour slot between 08:00 and 17:00 UTC on one of the next days.
func randomBooking(faker *gofakeit.Faker, doctors, patients []uuid.UUID, days int) appointment.CreateInput {
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1+faker.Number(0, max(days-1, 0)))
	start := day.Add(8*time.Hour + time.Duration(faker.Number(0, 35))*15*time.Minute)

	types := []appointment.Type{
		appointment.TypeInitialConsultation,
		appointment.TypeFollowUp,
		appointment.TypeAdjustment,
		appointment.TypeTherapy,
		appointment.TypeEvaluation,
	}

	return appointment.CreateInput{
		PatientID:  patients[faker.Number(0, len(patients)-1)],
		ProviderID: doctors[faker.Number(0, len(doctors)-1)],
		DateTime:   start,
		Duration:   []int{15, 30, 30, 45, 60}[faker.Number(0, 4)],
		Type:       types[faker.Number(0, len(types)-1)],
		Reason:     reasons[faker.Number(0, len(reasons)-1)],
	}
}
