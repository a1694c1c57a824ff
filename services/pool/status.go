package pool

import (
	"time"

	"agentpool/models"
)

// StatusInputs is everything the status derivation needs, pre-fetched by the
// caller. No I/O happens here.
type StatusInputs struct {
	// DeployStatus as reported by the compute provider; nil when the provider
	// did not report one.
	DeployStatus *models.DeployStatus
	// ProbeRan is true when a liveness probe was attempted this round.
	ProbeRan bool
	// ProbeReady is the probe outcome; only meaningful when ProbeRan is true.
	ProbeReady bool
	// Bound is true when the runtime reports itself bound to a conversation.
	Bound bool
	// IsClaimed is the store-side claimed flag. Claimed instances never
	// resolve to idle and never silently vanish.
	IsClaimed bool
	// Age of the instance row and the threshold past which an instance that
	// never produced a usable status is considered gone.
	Age          time.Duration
	StuckTimeout time.Duration
}

// DeriveStatus reconciles provider deploy status, liveness probe outcome and
// claim state into the pool-visible status. Rules apply in priority order:
// sleeping beats everything, then terminal failures, then in-flight deploys,
// then the probe, with an age-gated fallback when nothing conclusive is known.
func DeriveStatus(in StatusInputs) models.PoolStatus {
	if in.DeployStatus != nil {
		deployStatus := *in.DeployStatus

		switch {
		case deployStatus == models.DeployStatusSleeping:
			return models.PoolStatusSleeping

		case deployStatus.IsTerminalFailure():
			if in.IsClaimed {
				return models.PoolStatusCrashed
			}
			return models.PoolStatusDead

		case deployStatus.IsTransient():
			// A redeploy of a claimed instance must not flip it back to
			// unclaimed-starting
			if in.IsClaimed {
				return models.PoolStatusClaimed
			}
			return models.PoolStatusStarting

		case deployStatus == models.DeployStatusSuccess:
			if in.ProbeRan && in.ProbeReady {
				if in.IsClaimed || in.Bound {
					return models.PoolStatusClaimed
				}
				return models.PoolStatusIdle
			}
			return ageFallback(in)
		}
	}

	return ageFallback(in)
}

// ageFallback covers unreachable or status-less instances: young ones are
// still coming up, old ones are gone.
func ageFallback(in StatusInputs) models.PoolStatus {
	if in.Age < in.StuckTimeout {
		if in.IsClaimed {
			return models.PoolStatusClaimed
		}
		return models.PoolStatusStarting
	}
	if in.IsClaimed {
		return models.PoolStatusCrashed
	}
	return models.PoolStatusDead
}
