package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlock-ai/sentinel/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

var start = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestBuffer(maxAge time.Duration) (*Buffer, *clock) {
	clk := &clock{t: start}
	b := NewBuffer(maxAge)
	b.now = clk.now
	return b, clk
}

func TestBuffer_EmptyIsUnavailable(t *testing.T) {
	b, _ := newTestBuffer(DefaultMaxAge)
	_, err := b.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestBuffer_PutAndLatest(t *testing.T) {
	b, _ := newTestBuffer(DefaultMaxAge)
	require.NoError(t, b.Put(domain.Reading{Voltage: 230, Current: 4, Power: 900, PowerFactor: 0.95}))

	r, err := b.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 230.0, r.Voltage)
	assert.Equal(t, start, r.Timestamp, "zero timestamp is stamped on receipt")
}

func TestBuffer_StaleReadingIsUnavailable(t *testing.T) {
	b, clk := newTestBuffer(10 * time.Second)
	require.NoError(t, b.Put(domain.Reading{Voltage: 230, PowerFactor: 0.9}))

	clk.advance(10 * time.Second)
	_, err := b.Latest(context.Background())
	require.NoError(t, err)

	clk.advance(time.Second)
	_, err = b.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestBuffer_IgnoresOutOfOrderReading(t *testing.T) {
	b, _ := newTestBuffer(0)
	require.NoError(t, b.Put(domain.Reading{Timestamp: start, Voltage: 231, PowerFactor: 0.9}))
	require.NoError(t, b.Put(domain.Reading{Timestamp: start.Add(-time.Second), Voltage: 199, PowerFactor: 0.9}))

	r, err := b.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 231.0, r.Voltage)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(domain.Reading{Voltage: 230, Current: 1, PowerFactor: 1}))
	assert.Error(t, Validate(domain.Reading{Voltage: -1}))
	assert.Error(t, Validate(domain.Reading{Current: -1}))
	assert.Error(t, Validate(domain.Reading{PowerFactor: 1.2}))
}

type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) Latest(context.Context) (domain.Reading, error) {
	s.calls++
	if s.err != nil {
		return domain.Reading{}, s.err
	}
	return domain.Reading{Voltage: float64(s.calls)}, nil
}

func TestCachedSource(t *testing.T) {
	src := &countingSource{}
	clk := &clock{t: start}
	c := NewCachedSource(src, 2*time.Second)
	c.now = clk.now
	ctx := context.Background()

	r, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Voltage)

	clk.advance(time.Second)
	r, _ = c.Latest(ctx)
	assert.Equal(t, 1.0, r.Voltage)
	assert.Equal(t, 1, src.calls)

	clk.advance(time.Second)
	r, _ = c.Latest(ctx)
	assert.Equal(t, 2.0, r.Voltage)

	c.Invalidate()
	r, _ = c.Latest(ctx)
	assert.Equal(t, 3.0, r.Voltage)
}

func TestCachedSource_ErrorsAreNotCached(t *testing.T) {
	src := &countingSource{err: errors.New("upstream down")}
	c := NewCachedSource(src, time.Minute)

	_, err := c.Latest(context.Background())
	require.Error(t, err)
	src.err = nil
	_, err = c.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestDecodeReading(t *testing.T) {
	r, err := DecodeReading([]byte(`{"voltage":229.5,"current":3.1,"power":700,"power_factor":0.93}`))
	require.NoError(t, err)
	assert.True(t, r.Timestamp.IsZero())
	assert.Equal(t, 0.93, r.PowerFactor)

	r, err = DecodeReading([]byte(`{"timestamp":"2026-03-01T08:00:00Z","voltage":230,"current":1,"power":230,"power_factor":1}`))
	require.NoError(t, err)
	assert.Equal(t, start, r.Timestamp.UTC())

	_, err = DecodeReading([]byte(`{"voltage":`))
	assert.Error(t, err)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTSubscriber_OnMessage(t *testing.T) {
	buf, _ := newTestBuffer(0)
	s := NewMQTTSubscriber(MQTTConfig{Broker: "tcp://127.0.0.1:1883", Topic: "gridlock/meter"}, buf, nil)

	s.onMessage(nil, fakeMessage{topic: "gridlock/meter", payload: []byte("garbage")})
	_, err := buf.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)

	s.onMessage(nil, fakeMessage{topic: "gridlock/meter", payload: []byte(`{"voltage":230,"current":-2}`)})
	_, err = buf.Latest(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)

	s.onMessage(nil, fakeMessage{topic: "gridlock/meter", payload: []byte(`{"voltage":230,"current":2,"power":460,"power_factor":1}`)})
	r, err := buf.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 460.0, r.Power)
}
