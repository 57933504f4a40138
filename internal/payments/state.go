package payments

import "github.com/aura-academy/backend/internal/models"

// transitions is the payment status table. Failed payments only move again through admin recovery.
var transitions = map[string][]string{
	models.PaymentStatusPending:   {models.PaymentStatusVerifying, models.PaymentStatusCompleted, models.PaymentStatusFailed},
	models.PaymentStatusVerifying: {models.PaymentStatusCompleted, models.PaymentStatusFailed},
	models.PaymentStatusFailed:    {models.PaymentStatusCompleted, models.PaymentStatusFailed},
	models.PaymentStatusCompleted: nil,
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(status string) bool {
	next, known := transitions[status]
	return known && len(next) == 0
}

// Allowed narrows from to the statuses the transition table lets move to to.
// Stores apply it to every conditional status write.
func Allowed(from []string, to string) []string {
	var out []string
	for _, s := range from {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// Settleable is the set of statuses a fresh settlement may complete from.
var Settleable = []string{models.PaymentStatusPending, models.PaymentStatusVerifying}

// Recoverable is the set of statuses admin recovery acts on.
var Recoverable = []string{models.PaymentStatusVerifying, models.PaymentStatusFailed}

// Contains reports whether status is in set.
func Contains(set []string, status string) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
