package service

import (
	"context"
	"time"

	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const txMaxAttempts = 3

// inTxRetry runs fn in a transaction and re-runs it when Postgres aborts it
// as a deadlock victim or serialization failure. fn must reset any state it
// captures, since it may run more than once.
func inTxRetry(ctx context.Context, repo store.Repository, name string, fn func(tx store.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := repo.InTx(ctx, fn)
		if err != nil && !store.IsSerializationFailure(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(txMaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			util.GetLogger().Warn("Retrying transaction",
				zap.String("op", name),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	return err
}
