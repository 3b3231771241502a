// Package statsd is a helper package that wraps some common statsd methods.
// It hides the datadog dependency so if we decide to migrate away from
// datadog in the future, we only need to edit this single file.
package statsd

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}

func Client() ddstatsd.ClientInterface {
	return client
}

// EmitTickStat reports how long one tick stage took.
func EmitTickStat(start time.Time, stage string) {
	duration := time.Since(start)
	err := Client().Timing("tick", duration, []string{stage}, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit tick stat: %v", err)
	}
}

// EmitFlushStat reports how long one delta snapshot flush took.
func EmitFlushStat(start time.Time, stage string) {
	duration := time.Since(start)
	err := Client().Timing("flush", duration, []string{stage}, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit flush stat: %v", err)
	}
}

// EmitBytesStat reports payload bytes moved over one channel.
// direction is "sent" or "received"; channel is "reliable" or "unreliable".
func EmitBytesStat(direction, channel string, n int) {
	err := Client().Count("bytes", int64(n), []string{direction, channel}, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit bytes stat: %v", err)
	}
}

// EmitStrikeStat reports one strike against a misbehaving connection.
func EmitStrikeStat() {
	err := Client().Incr("strikes", nil, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit strike stat: %v", err)
	}
}

// EmitConnectionStat reports the current connection count.
func EmitConnectionStat(n int) {
	err := Client().Gauge("connections", float64(n), nil, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit connection stat: %v", err)
	}
}

func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace("netsync"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return err
	}
	client = newClient
	return nil
}
