package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pickup-dispatch/internal/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestWriteKeysByEntityAndRoundTrips(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)

	loc := models.AgentLocation{AgentID: 7, Latitude: decimal.RequireFromString("12.9141"), Longitude: decimal.RequireFromString("77.6321"), IsAvailable: true}
	require.NoError(t, p.Write(context.Background(), models.LocationUpdate(loc)))
	require.NoError(t, p.Write(context.Background(), models.OrderAssigned(3, 7)))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "agent:7", string(w.msgs[0].Key))
	assert.Equal(t, "order:3", string(w.msgs[1].Key))
	assert.Equal(t, "orderAssigned", string(w.msgs[1].Headers[0].Value))

	ev, err := Decode(w.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, models.EventLocationUpdate, ev.Type)
	assert.Equal(t, "12.9141", ev.Latitude.String())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestWritePropagatesBrokerError(t *testing.T) {
	p := NewKafkaPublisherWithWriter(&fakeWriter{err: errors.New("leader not available")})
	err := p.Write(context.Background(), models.OrderAssigned(1, 2))
	assert.ErrorContains(t, err, "leader not available")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(kafka.Message{Value: []byte("{")})
	assert.Error(t, err)
	_, err = Decode(kafka.Message{Value: []byte(`{"orderId":1}`)})
	assert.ErrorContains(t, err, "missing type")
}
