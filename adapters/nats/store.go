package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/pad"
)

const (
	defaultSubjectPrefix = "cqrs.es"
	defaultStreamName    = "CQRS_ES"
	defaultBucket        = "cqrs_es_state"

	headerTenant      = "Cqrs-Tenant"
	headerAggType     = "Cqrs-Agg-Type"
	headerAggID       = "Cqrs-Agg-Id"
	headerLastVersion = "Cqrs-Last-Version"

	fetchBatch = 256

	// ordered consumers are created per read and left for the server to reap
	consumerInactiveThreshold = 10 * time.Second
)

// indexPad formats the position of an envelope inside one commit message.
var indexPad = pad.MustNew(1000)

type StoreConfig struct {
	Connect       Connector    // If nil, ConnectDefault() is used.
	Log           *slog.Logger // optional
	Metrics       es.ESMetrics // optional
	SubjectPrefix string       // events are published on <prefix>.<tenant>.<type>.<id>
	StreamName    string
	Bucket        string // KV bucket for snapshots and thread records
	Storage       jetstream.StorageType
	MaxAge        time.Duration
	Clock         func() time.Time
}

// EventStore keeps every commit as one JetStream message holding its
// envelopes. Concurrency is enforced by the server through the expected
// last sequence of the aggregate's subject; a tenant's stream is the
// stream filtered by <prefix>.<tenant>.>.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	metrics       es.ESMetrics
	clock         func() time.Time
	subjectPrefix string

	kv      *KvStore
	snaps   *es.SharedSnapshots
	threads *es.KVThreads
}

func NewEventStore(ctx context.Context, cfg StoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = es.NopESMetrics()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Storage:    cfg.Storage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     cfg.MaxAge,
		DenyDelete: true,
		FirstSeq:   1,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}
	kvBucket, err := ensureBucket(ctx, js, KvConfig{Bucket: bucket, Storage: cfg.Storage})
	if err != nil {
		closeNc()
		return nil, err
	}
	log.Debug("ensured stream and bucket", slog.String("bucket", bucket))

	state := NewKvStoreFor(kvBucket)
	return &EventStore{
		nc:            nc,
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		log:           log,
		metrics:       metrics,
		clock:         clock,
		subjectPrefix: subjectPrefix,
		kv:            state,
		snaps:         es.NewSharedSnapshots(es.NewKVSnapshots(state)),
		threads:       es.NewKVThreads(state, es.WithClock(clock), es.WithLog(log)),
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) subjectForAggregate(tenant, aggType, aggID string) string {
	return strings.Join([]string{e.subjectPrefix, tenant, aggType, aggID}, ".")
}

func (e *EventStore) subjectForTenant(tenant string) string {
	return e.subjectPrefix + "." + tenant + ".>"
}

// GID combines the message sequence with the envelope's position in the
// commit. Both parts are fixed width.
func GID(msgSeq uint64, idx int) string {
	return pad.Wide.Pad(int64(msgSeq)) + "." + indexPad.Pad(int64(idx))
}

func parseGID(gid string) (msgSeq uint64, idx int, err error) {
	seqPart, idxPart, ok := strings.Cut(gid, ".")
	if !ok {
		return 0, 0, fmt.Errorf("gid %q: %w", gid, pad.ErrMalformed)
	}
	s, err := pad.Wide.Unpad(seqPart)
	if err != nil {
		return 0, 0, err
	}
	i, err := indexPad.Unpad(idxPart)
	if err != nil {
		return 0, 0, err
	}
	return uint64(s), int(i), nil
}

// validSubjectToken rejects values that would change the subject layout.
func validSubjectToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ". *>\t\r\n")
}

// === Write ===

func (e *EventStore) LoadAggregate(ctx context.Context, cc *es.CommandContext, aggregateID string, expectedVersion es.Version) (es.Aggregate, error) {
	t := cc.AggregateType()
	if aggregateID == "" {
		return es.CreateWithID(t, gonanoid.Must())
	}
	if !validSubjectToken(aggregateID) {
		return nil, es.InvalidArgument("aggregateId")
	}
	if !validSubjectToken(cc.Tenant()) {
		return nil, es.InvalidArgument("tenant")
	}

	subject := e.subjectForAggregate(cc.Tenant(), t.Name(), aggregateID)
	last, err := e.lastMessage(ctx, subject)
	if err != nil {
		return nil, err
	}

	snap := es.LoadSnapshotFor(ctx, e.snaps, cc, aggregateID, e.log, e.metrics)
	if last == nil {
		return es.Rehydrate(ctx, t, aggregateID, expectedVersion, snap, func(context.Context, es.Version, int) ([]es.Envelope, error) {
			return nil, nil
		})
	}

	page := e.aggregatePager(subject, last.Sequence)
	return es.Rehydrate(ctx, t, aggregateID, expectedVersion, snap, page.next)
}

func (e *EventStore) CommitEvents(ctx context.Context, cc *es.CommandContext, expectedVersion es.Version) ([]es.Envelope, error) {
	envs, err := es.PrepareCommit(cc, expectedVersion, e.clock())
	if err != nil || len(envs) == 0 {
		return nil, err
	}
	if len(envs) > int(indexPad.Max()) {
		return nil, es.InvalidArgument("events")
	}
	agg := cc.Aggregate()
	if !validSubjectToken(agg.ID()) {
		return nil, es.InvalidArgument("aggregateId")
	}
	if !validSubjectToken(cc.Tenant()) {
		return nil, es.InvalidArgument("tenant")
	}
	subject := e.subjectForAggregate(cc.Tenant(), agg.TypeName(), agg.ID())

	// read the current head; the publish below is conditional on it
	var (
		lastSeq uint64
		current = es.NoVersion
	)
	last, err := e.lastMessage(ctx, subject)
	if err != nil {
		return nil, err
	}
	if last != nil {
		lastSeq = last.Sequence
		if current, err = lastVersion(last.Header); err != nil {
			return nil, err
		}
	}
	if current != expectedVersion {
		return nil, es.Concurrency(expectedVersion, current)
	}

	msg := natsgo.NewMsg(subject)
	msg.Header.Set(headerTenant, cc.Tenant())
	msg.Header.Set(headerAggType, agg.TypeName())
	msg.Header.Set(headerAggID, agg.ID())
	msg.Header.Set(headerLastVersion, strconv.FormatInt(envs[len(envs)-1].AggregateVersion.Int64(), 10))
	if msg.Data, err = json.Marshal(envs); err != nil {
		return nil, err
	}

	ack, err := e.js.PublishMsg(ctx, msg, jetstream.WithExpectLastSequencePerSubject(lastSeq))
	if err != nil {
		if isWrongLastSequence(err) {
			return nil, es.ConcurrencyCause(err)
		}
		return nil, fmt.Errorf("publish %s: %w", subject, err)
	}
	for i := range envs {
		envs[i].Seq = ack.Sequence
		envs[i].GID = GID(ack.Sequence, i)
	}

	e.log.Debug(
		"append",
		slog.String("tenant", cc.Tenant()),
		slog.Group("agg", slog.String("type", agg.TypeName()), slog.String("id", agg.ID())),
		slog.Uint64("seq", ack.Sequence),
		slog.Int("num_events", len(envs)),
	)

	es.SnapshotAfterCommit(ctx, e.snaps, cc, envs[len(envs)-1].AggregateVersion, e.log, e.metrics)
	return envs, nil
}

func (e *EventStore) lastMessage(ctx context.Context, subject string) (*jetstream.RawStreamMsg, error) {
	msg, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("last message for %s: %w", subject, err)
	}
	return msg, nil
}

func lastVersion(h natsgo.Header) (es.Version, error) {
	v, err := strconv.ParseInt(h.Get(headerLastVersion), 10, 64)
	if err != nil {
		return es.NoVersion, fmt.Errorf("malformed %s header: %w", headerLastVersion, err)
	}
	return es.Version(v), nil
}

func decodeMsg(msg jetstream.Msg) ([]es.Envelope, uint64, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, 0, err
	}
	var envs []es.Envelope
	if err := json.Unmarshal(msg.Data(), &envs); err != nil {
		return nil, 0, fmt.Errorf("decode message %d: %w", md.Sequence.Stream, err)
	}
	for i := range envs {
		envs[i].Seq = md.Sequence.Stream
		envs[i].GID = GID(md.Sequence.Stream, i)
	}
	return envs, md.Sequence.Stream, nil
}

// aggregatePager feeds Rehydrate from one ordered consumer. Messages whose
// last version is not past the requested one are skipped without decoding.
type aggregatePager struct {
	e       *EventStore
	subject string
	endSeq  uint64

	consumer jetstream.Consumer
	pending  []es.Envelope
	done     bool
}

func (e *EventStore) aggregatePager(subject string, endSeq uint64) *aggregatePager {
	return &aggregatePager{e: e, subject: subject, endSeq: endSeq}
}

func (p *aggregatePager) next(ctx context.Context, after es.Version, limit int) ([]es.Envelope, error) {
	if p.consumer == nil {
		c, err := p.e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
			FilterSubjects:    []string{p.subject},
			DeliverPolicy:     jetstream.DeliverAllPolicy,
			InactiveThreshold: consumerInactiveThreshold,
		})
		if err != nil {
			return nil, fmt.Errorf("consumer for %s: %w", p.subject, err)
		}
		p.consumer = c
	}

	for len(p.pending) < limit && !p.done {
		mb, err := p.consumer.FetchNoWait(fetchBatch)
		if err != nil {
			return nil, err
		}
		empty := true
		for msg := range mb.Messages() {
			empty = false
			if v, err := lastVersion(msg.Headers()); err == nil && v <= after {
				continue
			}
			envs, seq, err := decodeMsg(msg)
			if err != nil {
				return nil, err
			}
			for _, env := range envs {
				if env.AggregateVersion > after {
					p.pending = append(p.pending, env)
				}
			}
			if seq >= p.endSeq {
				p.done = true
			}
		}
		if err := mb.Error(); err != nil {
			return nil, err
		}
		if empty {
			p.done = true
		}
	}

	n := min(limit, len(p.pending))
	out := p.pending[:n:n]
	p.pending = p.pending[n:]
	return out, nil
}

// === Read ===

func (e *EventStore) PollStream(ctx context.Context, rc *es.ReaderContext, limit int) (*es.Lease, error) {
	if rc != nil && !validSubjectToken(rc.Tenant) {
		return nil, es.InvalidArgument("tenant")
	}
	return e.threads.Acquire(ctx, rc, limit, e.rangeAfter)
}

func (e *EventStore) CommitCursors(ctx context.Context, rc *es.ReaderContext, lease *es.Lease) (bool, error) {
	return e.threads.Release(ctx, rc, lease)
}

// Thread exposes a thread's persisted cursors and lease.
func (e *EventStore) Thread(ctx context.Context, tenant, thread string) (es.ThreadRecord, error) {
	return e.threads.Thread(ctx, tenant, thread)
}

func (e *EventStore) rangeAfter(ctx context.Context, tenant, after string, limit int) ([]es.Envelope, error) {
	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects:    []string{e.subjectForTenant(tenant)},
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: consumerInactiveThreshold,
	}
	if after != "" {
		seq, _, err := parseGID(after)
		if err != nil {
			return nil, es.InvalidArgument("offset")
		}
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = seq
	}

	info, err := e.stream.Info(ctx)
	if err != nil {
		return nil, err
	}
	if info.State.Msgs == 0 || (cfg.OptStartSeq > info.State.LastSeq) {
		return nil, nil
	}

	consumer, err := e.stream.OrderedConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("consumer for %s: %w", tenant, err)
	}

	var out []es.Envelope
	for len(out) < limit {
		mb, err := consumer.FetchNoWait(min(fetchBatch, limit))
		if err != nil {
			return nil, err
		}
		empty := true
		for msg := range mb.Messages() {
			empty = false
			envs, _, err := decodeMsg(msg)
			if err != nil {
				return nil, err
			}
			for _, env := range envs {
				if env.GID > after && len(out) < limit {
					out = append(out, env)
				}
			}
		}
		if err := mb.Error(); err != nil {
			return nil, err
		}
		if empty {
			break
		}
	}
	return out, nil
}

var (
	_ es.EventStore   = (*EventStore)(nil)
	_ es.ThreadReader = (*EventStore)(nil)
)
