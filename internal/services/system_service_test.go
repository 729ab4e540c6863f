package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/tradepost/api/internal/domain"
)

type stubHealthRepository struct {
	collectFunc func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	return s.collectFunc(ctx)
}

func TestHealthReportFillsBuildMetadata(t *testing.T) {
	now := time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)
	service, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{
			collectFunc: func(ctx context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{
					Checks: map[string]domain.SystemHealthCheck{
						"firestore": {Status: domain.HealthStatusOK},
					},
				}, nil
			},
		},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod"},
	})
	if err != nil {
		t.Fatalf("system service: %v", err)
	}

	report, err := service.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected default ok status, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("expected build metadata filled, got %+v", report)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestHealthReportKeepsCollectedValues(t *testing.T) {
	collected := domain.SystemHealthReport{
		Status:      domain.HealthStatusDegraded,
		Version:     "2.0.0",
		GeneratedAt: time.Date(2025, 4, 2, 7, 59, 0, 0, time.UTC),
	}
	service, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{
			collectFunc: func(ctx context.Context) (domain.SystemHealthReport, error) {
				return collected, nil
			},
		},
		Build: BuildInfo{Version: "1.4.0"},
	})
	if err != nil {
		t.Fatalf("system service: %v", err)
	}

	report, err := service.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded || report.Version != "2.0.0" {
		t.Fatalf("collected values must win, got %+v", report)
	}
	if !report.GeneratedAt.Equal(collected.GeneratedAt) {
		t.Fatalf("unexpected generatedAt %s", report.GeneratedAt)
	}
}

func TestHealthReportRepositoryFailure(t *testing.T) {
	service, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{
			collectFunc: func(ctx context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{}, &repositoryErrorStub{unavailable: true}
			},
		},
	})
	if err != nil {
		t.Fatalf("system service: %v", err)
	}

	if _, err := service.HealthReport(context.Background()); !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}
