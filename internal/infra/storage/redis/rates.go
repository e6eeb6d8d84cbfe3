package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mtessaro/stakewatch/internal/notify"
)

const (
	// ratesKeyPrefix is the namespace prefix for last-notified commission
	// rates, one hash per validator.
	ratesKeyPrefix = "notify:rates"

	ratesFieldBaking = "baking"
	ratesFieldFee    = "fee"
)

var _ notify.RateStore = (*client)(nil)

// ratesKey constructs the redis key holding a validator's last-notified
// rates, in the format "notify:rates:<validatorID>".
func ratesKey(validatorID uint64) string {
	return fmt.Sprintf("%s:%d", ratesKeyPrefix, validatorID)
}

// LastNotifiedRates implements notify.RateStore. A missing hash or field
// yields a nil rate, meaning that rate was never communicated.
func (c *client) LastNotifiedRates(ctx context.Context, validatorID uint64) (*float64, *float64, error) {
	fields, err := c.conn.HGetAll(ctx, ratesKey(validatorID)).Result()
	if err != nil {
		return nil, nil, err
	}

	parse := func(field string) (*float64, error) {
		raw, ok := fields[field]
		if !ok {
			return nil, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing stored rate %q: %w", raw, err)
		}
		return &v, nil
	}

	baking, err := parse(ratesFieldBaking)
	if err != nil {
		return nil, nil, err
	}
	fee, err := parse(ratesFieldFee)
	if err != nil {
		return nil, nil, err
	}
	return baking, fee, nil
}

// SaveNotifiedRates implements notify.RateStore. Nil rates leave the stored
// field untouched.
func (c *client) SaveNotifiedRates(ctx context.Context, validatorID uint64, baking, fee *float64) error {
	values := make([]any, 0, 4)
	if baking != nil {
		values = append(values, ratesFieldBaking, strconv.FormatFloat(*baking, 'g', -1, 64))
	}
	if fee != nil {
		values = append(values, ratesFieldFee, strconv.FormatFloat(*fee, 'g', -1, 64))
	}
	if len(values) == 0 {
		return nil
	}

	return c.conn.HSet(ctx, ratesKey(validatorID), values...).Err()
}
