package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"agentpool/models"
)

func deployStatusPtr(s models.DeployStatus) *models.DeployStatus {
	return &s
}

func TestDeriveStatus(t *testing.T) {
	stuckTimeout := 15 * time.Minute
	young := 2 * time.Minute
	old := 20 * time.Minute

	tests := []struct {
		name     string
		inputs   StatusInputs
		expected models.PoolStatus
	}{
		{
			name: "SleepingBeatsEverything",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusSleeping),
				ProbeRan:     true,
				ProbeReady:   true,
				IsClaimed:    true,
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusSleeping,
		},
		{
			name: "TerminalFailureUnclaimed",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusFailed),
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusDead,
		},
		{
			name: "TerminalFailureClaimed",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusCrashed),
				IsClaimed:    true,
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusCrashed,
		},
		{
			name: "RemovedUnclaimed",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusRemoved),
				Age:          old,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusDead,
		},
		{
			name: "TransientUnclaimed",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusBuilding),
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusStarting,
		},
		{
			name: "RedeployOfClaimedStaysClaimed",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusBuilding),
				IsClaimed:    true,
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusClaimed,
		},
		{
			name: "QueuedClaimedStaysClaimed",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusQueued),
				IsClaimed:    true,
				Age:          old,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusClaimed,
		},
		{
			name: "SuccessProbeReadyUnbound",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusSuccess),
				ProbeRan:     true,
				ProbeReady:   true,
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusIdle,
		},
		{
			name: "SuccessProbeReadyBound",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusSuccess),
				ProbeRan:     true,
				ProbeReady:   true,
				Bound:        true,
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusClaimed,
		},
		{
			name: "SuccessProbeReadyClaimedNeverIdle",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusSuccess),
				ProbeRan:     true,
				ProbeReady:   true,
				IsClaimed:    true,
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusClaimed,
		},
		{
			name: "SuccessProbeFailedYoung",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusSuccess),
				ProbeRan:     true,
				ProbeReady:   false,
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusStarting,
		},
		{
			name: "SuccessProbeFailedYoungClaimed",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusSuccess),
				ProbeRan:     true,
				ProbeReady:   false,
				IsClaimed:    true,
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusClaimed,
		},
		{
			name: "SuccessUnreachablePastStuckTimeout",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusSuccess),
				ProbeRan:     true,
				ProbeReady:   false,
				Age:          old,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusDead,
		},
		{
			name: "SuccessUnreachablePastStuckTimeoutClaimed",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusSuccess),
				ProbeRan:     true,
				ProbeReady:   false,
				IsClaimed:    true,
				Age:          old,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusCrashed,
		},
		{
			name: "SuccessNoProbeYoung",
			inputs: StatusInputs{
				DeployStatus: deployStatusPtr(models.DeployStatusSuccess),
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusStarting,
		},
		{
			name: "NoDeployStatusYoung",
			inputs: StatusInputs{
				Age:          young,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusStarting,
		},
		{
			name: "NoDeployStatusOld",
			inputs: StatusInputs{
				Age:          old,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusDead,
		},
		{
			name: "NoDeployStatusOldClaimed",
			inputs: StatusInputs{
				IsClaimed:    true,
				Age:          old,
				StuckTimeout: stuckTimeout,
			},
			expected: models.PoolStatusCrashed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveStatus(tt.inputs))
		})
	}
}

// A claimed instance must never resolve to idle no matter what the provider
// or the probe report.
func TestDeriveStatusClaimedNeverIdle(t *testing.T) {
	deployStatuses := []*models.DeployStatus{
		nil,
		deployStatusPtr(models.DeployStatusSuccess),
		deployStatusPtr(models.DeployStatusSleeping),
		deployStatusPtr(models.DeployStatusFailed),
		deployStatusPtr(models.DeployStatusCrashed),
		deployStatusPtr(models.DeployStatusRemoved),
		deployStatusPtr(models.DeployStatusSkipped),
		deployStatusPtr(models.DeployStatusQueued),
		deployStatusPtr(models.DeployStatusWaiting),
		deployStatusPtr(models.DeployStatusBuilding),
		deployStatusPtr(models.DeployStatusDeploying),
	}
	ages := []time.Duration{time.Minute, time.Hour}

	for _, deployStatus := range deployStatuses {
		for _, probeRan := range []bool{false, true} {
			for _, probeReady := range []bool{false, true} {
				for _, age := range ages {
					status := DeriveStatus(StatusInputs{
						DeployStatus: deployStatus,
						ProbeRan:     probeRan,
						ProbeReady:   probeReady,
						Bound:        true,
						IsClaimed:    true,
						Age:          age,
						StuckTimeout: 15 * time.Minute,
					})
					assert.NotEqual(t, models.PoolStatusIdle, status)
					assert.NotEqual(t, models.PoolStatusStarting, status)
					assert.NotEqual(t, models.PoolStatusDead, status)
				}
			}
		}
	}
}
