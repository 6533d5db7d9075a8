// Package kafkafeeder feeds trace events from a kafka topic into a loader.
// Messages are JSON objects of dotted attribute keys; scalar values are
// normalized to strings before handing the record to the engine. Events are
// processed strictly in partition order and offsets are committed only after
// the record was handed over, so a crash replays rather than drops events.
package kafkafeeder

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/segmentio/kafka-go"

	"github.com/flowtrace/loader"
	"github.com/flowtrace/loader/internal/logger"
)

type Feeder struct {
	reader *kafka.Reader
	loader *loader.Loader
	logger loader.Logger
}

type Option func(*Feeder)

func WithLogger(l loader.Logger) Option {
	return func(f *Feeder) {
		f.logger = l
	}
}

func New(brokers []string, topic, group string, l *loader.Loader, opts ...Option) *Feeder {
	f := &Feeder{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		loader: l,
		logger: logger.New(os.Stderr),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run consumes the topic until ctx is cancelled, then drains the loader's
// buffers via Finish before returning.
func (f *Feeder) Run(ctx context.Context) error {
	defer f.reader.Close()

	for {
		msg, err := f.reader.FetchMessage(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
			return f.loader.Finish(context.WithoutCancel(ctx))
		} else if err != nil {
			return errors.Wrap(err, "fetch message")
		}

		r, err := decodeRecord(msg.Value)
		if err != nil {
			// A malformed message will never decode; log, skip and move on.
			f.logger.Error(ctx, err, loader.MKV{
				"topic":  msg.Topic,
				"offset": strconv.FormatInt(msg.Offset, 10),
			})
		} else {
			err = f.loader.Process(ctx, r)
			if err != nil {
				return errors.Wrap(err, "process record")
			}
		}

		err = f.reader.CommitMessages(ctx, msg)
		if err != nil {
			return errors.Wrap(err, "commit offset")
		}
	}
}

// decodeRecord parses a JSON trace event into a flat string record. Numbers
// keep their shortest exact representation so integer valued fields survive
// the float round trip. Null and composite values are dropped.
func decodeRecord(data []byte) (loader.Record, error) {
	var raw map[string]any
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode event")
	}

	r := make(loader.Record, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			r[k] = v
		case float64:
			r[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			r[k] = strconv.FormatBool(v)
		}
	}
	return r, nil
}
