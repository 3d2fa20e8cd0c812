package agent

// CircuitBreakerConfig configures the per-thread tool circuit breaker
// (spec §4.7): failureThreshold consecutive failures opens the
// circuit; it stays open until stepIndex - openedAtStep >= cooldownSteps.
type CircuitBreakerConfig struct {
	FailureThreshold int
	CooldownSteps    int
}

// DefaultCircuitBreakerConfig matches the teacher's conservative
// defaults for transient-failure isolation: three consecutive failures
// opens the circuit, five steps of cooldown before trying again.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 3, CooldownSteps: 5}
}

// CircuitOpen reports whether the circuit is currently open given the
// checkpointed failureStreak/openedAtStep channel values and the
// current step index. openedAtStep of -1 means the circuit has never
// been opened.
func CircuitOpen(cfg CircuitBreakerConfig, failureStreak float64, openedAtStep int, stepIndex int) bool {
	if openedAtStep < 0 {
		return false
	}
	if int(failureStreak) < cfg.FailureThreshold {
		return false
	}
	return stepIndex-openedAtStep < cfg.CooldownSteps
}

// ShouldOpen reports whether a just-recorded failure streak crosses the
// threshold and the circuit is not already open.
func ShouldOpen(cfg CircuitBreakerConfig, failureStreak float64, openedAtStep int) bool {
	return openedAtStep < 0 && int(failureStreak) >= cfg.FailureThreshold
}
