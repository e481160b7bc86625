package services

import (
	"testing"
	"time"

	"github.com/services-marketplace/backend/internal/models"
)

func TestCancellationPolicyCompute(t *testing.T) {
	policy := CancellationPolicy{FreeHours: 24, PenaltyPercent: 20}
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		now         time.Time
		cancelledBy string
		total       int64
		wantRefund  int64
		wantPenalty int64
	}{
		{"client 30h before start", start.Add(-30 * time.Hour), models.CancelledByClient, 500000, 500000, 0},
		{"client exactly at free boundary", start.Add(-24 * time.Hour), models.CancelledByClient, 500000, 500000, 0},
		{"client 2h before start", start.Add(-2 * time.Hour), models.CancelledByClient, 500000, 400000, 100000},
		{"client just inside penalty window", start.Add(-23 * time.Hour), models.CancelledByClient, 100000, 80000, 20000},
		{"penalty rounds", start.Add(-1 * time.Hour), models.CancelledByClient, 333, 266, 67},
		{"worker cancel always full refund", start.Add(-1 * time.Hour), models.CancelledByWorker, 500000, 500000, 0},
		{"system cancel always full refund", start.Add(-1 * time.Hour), models.CancelledBySystem, 500000, 500000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refund, penalty := policy.Compute(start, tt.now, tt.cancelledBy, tt.total)
			if refund != tt.wantRefund || penalty != tt.wantPenalty {
				t.Errorf("Compute() = (%d, %d), want (%d, %d)", refund, penalty, tt.wantRefund, tt.wantPenalty)
			}
			if refund+penalty != tt.total {
				t.Errorf("refund %d + penalty %d != total %d", refund, penalty, tt.total)
			}
		})
	}
}
