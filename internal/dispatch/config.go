package dispatch

import "time"

// Config holds the batched-offer protocol's tunables. Grounded on the
// teacher's matching.Config/DefaultConfig shape, narrowed to this
// system's batch/timeout/auto-accept knobs in place of the teacher's
// radius-expansion search loop.
type Config struct {
	BatchSize         int
	BatchTimeout      time.Duration
	MaxBatches        int
	OrderTotalTimeout time.Duration
	RejectThreshold   float64

	QueuePollInterval time.Duration
	SearchRadiusKm    float64

	AutoAccept AutoAcceptConfig
}

// AutoAcceptConfig bounds the side-channel auto-accept score. It holds no
// per-driver policy: policies come only from the AutoAcceptPolicyStore,
// and a driver with no stored policy has auto-accept disabled.
type AutoAcceptConfig struct {
	ScoreWeightAcceptance float64
	ScoreWeightDistance   float64
	ScoreWeightFare       float64
	ScoreWeightTimeWindow float64
	ScoreWeightDriverFit  float64

	MinCompletionRateSampleSize int
	MinCompletionRate           float64
}

func DefaultConfig() Config {
	return Config{
		BatchSize:         3,
		BatchTimeout:      20 * time.Second,
		MaxBatches:        5,
		OrderTotalTimeout: 5 * time.Minute,
		RejectThreshold:   0.70,
		QueuePollInterval: 10 * time.Second,
		SearchRadiusKm:    10.0,
		AutoAccept: AutoAcceptConfig{
			ScoreWeightAcceptance: 0.40,
			ScoreWeightDistance:   0.20,
			ScoreWeightFare:       0.15,
			ScoreWeightTimeWindow: 0.15,
			ScoreWeightDriverFit:  0.10,

			MinCompletionRateSampleSize: 5,
			MinCompletionRate:           0.80,
		},
	}
}
