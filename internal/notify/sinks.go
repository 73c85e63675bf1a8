package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/segmentio/kafka-go"

	"github.com/gridlock-ai/sentinel/internal/domain"
	"github.com/gridlock-ai/sentinel/internal/lifecycle"
)

// Webhook POSTs each event as JSON.
type Webhook struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhook returns a webhook sender named name posting to url.
func NewWebhook(name, url string) *Webhook {
	return &Webhook{name: name, url: url, client: &http.Client{}}
}

func (w *Webhook) Name() string { return w.name }

func (w *Webhook) Send(ctx context.Context, ev lifecycle.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", w.name, resp.StatusCode)
	}
	return nil
}

// MessageWriter is the part of *kafka.Writer the Kafka sender uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes every event to a topic, keyed by circuit.
type Kafka struct {
	w MessageWriter
}

// NewKafkaWriter builds a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewKafka wraps w.
func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{w: w}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, ev lifecycle.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.CircuitID),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Kind)},
		},
	})
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.w.Close() }

// S3Proof posts the proof of every confirmed theft as a public JSON object,
// so the ledger hash can be checked by third parties.
type S3Proof struct {
	api    s3iface.S3API
	bucket string
	prefix string
}

// NewS3Proof builds an S3 client for region using the default credential chain.
func NewS3Proof(region, bucket, prefix string) (*S3Proof, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return NewS3ProofWithAPI(s3.New(sess), bucket, prefix), nil
}

// NewS3ProofWithAPI uses an existing S3 client.
func NewS3ProofWithAPI(api s3iface.S3API, bucket, prefix string) *S3Proof {
	return &S3Proof{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (p *S3Proof) Name() string { return "s3-proof" }

func (p *S3Proof) Accepts(kind lifecycle.EventKind) bool {
	return kind == lifecycle.EventTheftConfirmed
}

// Key returns the object key a proof is stored under.
func (p *S3Proof) Key(circuitID string, proof domain.TheftProof) string {
	return path.Join(p.prefix, circuitID, proof.Timestamp.UTC().Format("2006/01/02"), proof.EpisodeID+".json")
}

func (p *S3Proof) Send(ctx context.Context, ev lifecycle.Event) error {
	if ev.Proof == nil {
		return fmt.Errorf("theft event for %s carries no proof", ev.CircuitID)
	}
	body, err := json.MarshalIndent(ev.Proof, "", "  ")
	if err != nil {
		return err
	}
	_, err = p.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.Key(ev.CircuitID, *ev.Proof)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]*string{
			"entry-hash": aws.String(ev.Proof.EntryHash),
		},
	})
	if err != nil {
		return fmt.Errorf("put proof: %w", err)
	}
	return nil
}

// EpisodeJournal persists episode history for reporting. Writes for one
// episode may arrive in any order, so RecordEpisode must never replace a
// resolved episode with a pending one. *storage.PostgresRepository
// satisfies it.
type EpisodeJournal interface {
	RecordEpisode(ctx context.Context, circuitID string, c domain.AnomalyContext, entryHash *string) error
}

// Journal writes episode openings and resolutions to an EpisodeJournal.
type Journal struct {
	j EpisodeJournal
}

// NewJournal wraps j.
func NewJournal(j EpisodeJournal) *Journal {
	return &Journal{j: j}
}

func (j *Journal) Name() string { return "journal" }

func (j *Journal) Accepts(kind lifecycle.EventKind) bool {
	switch kind {
	case lifecycle.EventAnomalyOpened, lifecycle.EventAnomalyAdapted, lifecycle.EventTheftConfirmed:
		return true
	}
	return false
}

func (j *Journal) Send(ctx context.Context, ev lifecycle.Event) error {
	if ev.Context == nil {
		return fmt.Errorf("%s event carries no episode", ev.Kind)
	}
	var hash *string
	if ev.Proof != nil {
		h := ev.Proof.EntryHash
		hash = &h
	}
	return j.j.RecordEpisode(ctx, ev.CircuitID, *ev.Context, hash)
}
