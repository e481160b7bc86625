package models

import "testing"

func TestIsValidBookingTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{BookingStatusPending, BookingStatusConfirmed, true},
		{BookingStatusPending, BookingStatusRejected, true},
		{BookingStatusConfirmed, BookingStatusInProgress, true},
		{BookingStatusInProgress, BookingStatusCompleted, true},
		{BookingStatusInProgress, BookingStatusDisputed, true},

		// Cancellation paths
		{BookingStatusPending, BookingStatusCancelled, true},
		{BookingStatusConfirmed, BookingStatusCancelled, true},
		{BookingStatusInProgress, BookingStatusCancelled, true},

		// Invalid transitions
		{BookingStatusPending, BookingStatusInProgress, false},
		{BookingStatusPending, BookingStatusCompleted, false},
		{BookingStatusConfirmed, BookingStatusRejected, false},
		{BookingStatusConfirmed, BookingStatusCompleted, false},
		{BookingStatusConfirmed, BookingStatusDisputed, false},

		// Nothing leaves a terminal state
		{BookingStatusCompleted, BookingStatusCancelled, false},
		{BookingStatusCompleted, BookingStatusDisputed, false},
		{BookingStatusRejected, BookingStatusConfirmed, false},
		{BookingStatusCancelled, BookingStatusPending, false},
		{BookingStatusCancelled, BookingStatusConfirmed, false},
		{BookingStatusDisputed, BookingStatusCompleted, false},

		{"nonexistent", BookingStatusConfirmed, false},
		{BookingStatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidBookingTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidBookingTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestIsValidPaymentTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{PaymentStatusPending, PaymentStatusPaid, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPaid, PaymentStatusReleased, true},
		{PaymentStatusPaid, PaymentStatusRefunded, true},

		{PaymentStatusPending, PaymentStatusReleased, false},
		{PaymentStatusPaid, PaymentStatusPending, false},
		{PaymentStatusFailed, PaymentStatusPaid, false},
		{PaymentStatusRefunded, PaymentStatusPaid, false},
		{PaymentStatusReleased, PaymentStatusRefunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidPaymentTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidPaymentTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		BookingStatusPending, BookingStatusConfirmed, BookingStatusInProgress,
		BookingStatusCompleted, BookingStatusRejected, BookingStatusCancelled,
		BookingStatusDisputed,
	}

	for _, status := range allStatuses {
		if _, ok := ValidBookingTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidBookingTransitions map", status)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{
		BookingStatusCompleted, BookingStatusRejected,
		BookingStatusCancelled, BookingStatusDisputed,
	}
	for _, status := range terminal {
		if !IsTerminalBookingStatus(status) {
			t.Errorf("status %q should be terminal", status)
		}
		if transitions := ValidBookingTransitions[status]; len(transitions) != 0 {
			t.Errorf("terminal status %q should have no transitions, got %v", status, transitions)
		}
	}
}
