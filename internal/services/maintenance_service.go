package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"medassist/internal/database"
	"medassist/internal/report"
)

// DefaultMaintenanceCron runs the nightly jobs at 03:00 UTC.
const DefaultMaintenanceCron = "0 3 * * *"

const (
	reportSweepInterval  = 5 * time.Minute
	probeRefreshInterval = 30 * time.Second
	maintenanceLockKey   = "medassist:maintenance:nightly"
)

// MaintenanceService owns the background housekeeping jobs: completing
// past appointments, sweeping generated reports, compacting the SQLite
// file and summarizing the audit trail. With Redis present a
// distributed lock keeps the nightly run on a single instance.
type MaintenanceService struct {
	scheduler    gocron.Scheduler
	db           *database.DB
	appointments *AppointmentService
	audit        *AuditService
	model        *ModelService
	redis        *RedisService
	instanceID   string
	cronExpr     string
}

func NewMaintenanceService(
	db *database.DB,
	appointments *AppointmentService,
	audit *AuditService,
	model *ModelService,
	redisService *RedisService,
	cronExpr string,
) (*MaintenanceService, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(cronExpr); err != nil {
		log.Printf("⚠️  Invalid MAINTENANCE_CRON %q, using default %q: %v", cronExpr, DefaultMaintenanceCron, err)
		cronExpr = DefaultMaintenanceCron
	}

	return &MaintenanceService{
		scheduler:    scheduler,
		db:           db,
		appointments: appointments,
		audit:        audit,
		model:        model,
		redis:        redisService,
		instanceID:   uuid.New().String(),
		cronExpr:     cronExpr,
	}, nil
}

// Start registers the jobs and starts the scheduler.
func (s *MaintenanceService) Start() error {
	log.Println("⏰ Starting maintenance scheduler...")

	if _, err := s.scheduler.NewJob(
		gocron.CronJob(s.cronExpr, false),
		gocron.NewTask(s.runNightly),
		gocron.WithName("nightly_maintenance"),
	); err != nil {
		return fmt.Errorf("failed to register nightly job: %w", err)
	}

	if _, err := s.scheduler.NewJob(
		gocron.DurationJob(reportSweepInterval),
		gocron.NewTask(s.sweepReports),
		gocron.WithName("report_sweep"),
	); err != nil {
		return fmt.Errorf("failed to register report sweep: %w", err)
	}

	if s.model != nil {
		if _, err := s.scheduler.NewJob(
			gocron.DurationJob(probeRefreshInterval),
			gocron.NewTask(s.refreshModelProbe),
			gocron.WithName("model_probe_refresh"),
		); err != nil {
			return fmt.Errorf("failed to register probe refresh: %w", err)
		}
	}

	s.scheduler.Start()
	log.Printf("✅ Maintenance scheduler started (nightly: %s)", s.cronExpr)
	return nil
}

// Stop shuts the scheduler down.
func (s *MaintenanceService) Stop() error {
	log.Println("⏹️  Stopping maintenance scheduler...")
	return s.scheduler.Shutdown()
}

func (s *MaintenanceService) runNightly() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if s.redis != nil {
		// Minute-level key so retries within the same window stay deduped.
		lockKey := fmt.Sprintf("%s:%d", maintenanceLockKey, time.Now().Unix()/60)
		acquired, err := s.redis.AcquireLock(ctx, lockKey, s.instanceID, 5*time.Minute)
		if err != nil {
			log.Printf("❌ Failed to acquire maintenance lock: %v", err)
			return
		}
		if !acquired {
			log.Println("⏭️  Nightly maintenance already running on another instance")
			return
		}
		defer func() {
			if _, err := s.redis.ReleaseLock(ctx, lockKey, s.instanceID); err != nil {
				log.Printf("⚠️  Failed to release maintenance lock: %v", err)
			}
		}()
	}

	log.Println("🧹 Running nightly maintenance...")

	if completed, err := s.appointments.RetireConfirmed(); err != nil {
		log.Printf("⚠️  Failed to retire appointments: %v", err)
	} else if completed > 0 {
		log.Printf("   ✅ Marked %d appointments completed", completed)
	}

	s.sweepReports()

	if s.db != nil && s.db.Driver == "sqlite" {
		if _, err := s.db.Exec("VACUUM"); err != nil {
			log.Printf("⚠️  VACUUM failed: %v", err)
		} else {
			log.Println("   ✅ SQLite database compacted")
		}
	}

	if s.audit != nil {
		counts, err := s.audit.CountByPathSince(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			log.Printf("⚠️  Failed to summarize audit trail: %v", err)
		} else if len(counts) > 0 {
			log.Printf("   📊 Analyses last 24h: sidecar=%d local_model=%d mock=%d",
				counts[PathSidecar], counts[PathLocalModel], counts[PathMock])
		}
	}

	log.Println("✅ Nightly maintenance finished")
}

func (s *MaintenanceService) sweepReports() {
	if svc := report.GetService(); svc != nil {
		svc.Cleanup()
	}
}

// refreshModelProbe keeps the probe cache warm so /health stays fast.
func (s *MaintenanceService) refreshModelProbe() {
	s.model.Loaded()
}
