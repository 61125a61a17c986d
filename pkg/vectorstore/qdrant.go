// Copyright 2026 © The Recall Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/jllopis/recall/pkg/errors"
	"github.com/jllopis/recall/pkg/resilience"
)

// InitMode controls what happens to the remote collection on construction.
type InitMode string

const (
	// InitCreateIfMissing keeps an existing collection and creates it otherwise.
	InitCreateIfMissing InitMode = "create_if_missing"
	// InitRecreate drops any existing collection of the same name first.
	// Stored data is lost.
	InitRecreate InitMode = "recreate"
)

// DefaultQdrantTimeout bounds each remote call when no timeout is configured.
const DefaultQdrantTimeout = 10 * time.Second

// QdrantConfig addresses a Qdrant collection.
type QdrantConfig struct {
	Addr       string
	Collection string
	InitMode   InitMode
	// Timeout bounds every remote call. Zero uses DefaultQdrantTimeout.
	Timeout time.Duration
}

type collectionsClient interface {
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
}

type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// RemoteCollectionStore keeps vectors in a Qdrant collection using the
// cosine distance. Search accuracy follows the collection's own index
// settings.
type RemoteCollectionStore struct {
	mu          sync.RWMutex
	dim         int
	collection  string
	timeout     time.Duration
	points      pointsClient
	collections collectionsClient
	conn        io.Closer
	logger      *slog.Logger
}

var _ VectorStore = (*RemoteCollectionStore)(nil)

// NewRemoteCollectionStore connects to cfg.Addr and initializes the
// collection according to cfg.InitMode.
func NewRemoteCollectionStore(ctx context.Context, dim int, cfg QdrantConfig, opts ...Option) (*RemoteCollectionStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New(errors.CodeInvalidInput, "qdrant address is required", nil)
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.New(errors.CodeBackendUnavailable, "connect to qdrant", err).
			WithContext("addr", cfg.Addr)
	}
	s, err := newRemoteCollectionStore(ctx, dim, cfg, pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func newRemoteCollectionStore(ctx context.Context, dim int, cfg QdrantConfig, points pointsClient, collections collectionsClient, conn io.Closer, opts ...Option) (*RemoteCollectionStore, error) {
	if err := validateDim(dim); err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		return nil, errors.New(errors.CodeInvalidInput, "qdrant collection name is required", nil)
	}
	mode := cfg.InitMode
	if mode == "" {
		mode = InitCreateIfMissing
	}
	if mode != InitCreateIfMissing && mode != InitRecreate {
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown collection init mode %q", mode)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultQdrantTimeout
	}

	o := buildOptions(opts)
	s := &RemoteCollectionStore{
		dim:         dim,
		collection:  cfg.Collection,
		timeout:     timeout,
		points:      points,
		collections: collections,
		conn:        conn,
		logger: o.logger.With("component", "vectorstore", "backend", string(BackendQdrant),
			"collection", cfg.Collection),
	}
	if err := s.initialize(ctx, mode); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RemoteCollectionStore) backend() Backend { return BackendQdrant }

// Dim returns the vector dimensionality.
func (s *RemoteCollectionStore) Dim() int { return s.dim }

// Collection returns the collection name.
func (s *RemoteCollectionStore) Collection() string { return s.collection }

// Close closes the gRPC connection.
func (s *RemoteCollectionStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// initLocks serializes collection (re)initialization per collection name
// across every store in the process.
var initLocks = struct {
	sync.Mutex
	byName map[string]*sync.Mutex
}{byName: make(map[string]*sync.Mutex)}

func lockCollection(name string) func() {
	initLocks.Lock()
	mu, ok := initLocks.byName[name]
	if !ok {
		mu = &sync.Mutex{}
		initLocks.byName[name] = mu
	}
	initLocks.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *RemoteCollectionStore) initialize(ctx context.Context, mode InitMode) error {
	unlock := lockCollection(s.collection)
	defer unlock()

	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}

	if exists && mode == InitRecreate {
		s.logger.WarnContext(ctx, "dropping existing collection", "init_mode", string(mode))
		if err := s.call(ctx, "qdrant delete collection", func(ctx context.Context) error {
			_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection})
			return err
		}); err != nil {
			return err
		}
		exists = false
	}

	if exists {
		return s.checkCollectionDim(ctx)
	}

	if err := s.call(ctx, "qdrant create collection", func(ctx context.Context) error {
		_, err := s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(s.dim),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		return err
	}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "collection created", "dim", s.dim, "init_mode", string(mode))
	return nil
}

func (s *RemoteCollectionStore) collectionExists(ctx context.Context) (bool, error) {
	resp, err := resilience.Call(ctx, s.timeoutConfig("qdrant collection exists"), func(ctx context.Context) (*pb.CollectionExistsResponse, error) {
		return s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	})
	if err != nil {
		return false, s.backendError("qdrant collection exists", err)
	}
	return resp.GetResult().GetExists(), nil
}

// checkCollectionDim refuses to reuse a collection built for another
// dimension or distance metric.
func (s *RemoteCollectionStore) checkCollectionDim(ctx context.Context) error {
	resp, err := resilience.Call(ctx, s.timeoutConfig("qdrant get collection"), func(ctx context.Context) (*pb.GetCollectionInfoResponse, error) {
		return s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	})
	if err != nil {
		return s.backendError("qdrant get collection", err)
	}
	params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		// Named-vector collections carry no single size to compare.
		return nil
	}
	if int(params.GetSize()) != s.dim {
		return errors.Newf(errors.CodeDimensionMismatch, "collection %q has dimension %d, store dimension %d",
			s.collection, params.GetSize(), s.dim)
	}
	if d := params.GetDistance(); d != pb.Distance_Cosine {
		return errors.Newf(errors.CodeInvalidInput, "collection %q uses %s distance, cosine required", s.collection, d).
			WithContext("collection", s.collection)
	}
	return nil
}

// Len returns the exact point count of the collection.
func (s *RemoteCollectionStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exact := true
	resp, err := resilience.Call(ctx, s.timeoutConfig("qdrant count"), func(ctx context.Context) (*pb.CountResponse, error) {
		return s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	})
	if err != nil {
		return 0, s.backendError("qdrant count", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Add upserts the batch in a single request and waits for it to be applied.
// Each entry receives a fresh UUID.
func (s *RemoteCollectionStore) Add(ctx context.Context, vectors [][]float32, metadata []Metadata) error {
	if err := validateBatch(s.dim, vectors, metadata); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(vectors))
	for i, v := range vectors {
		data := make([]float32, len(v))
		copy(data, v)
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.NewString()},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: data},
				},
			},
			Payload: encodePayload(metadata[i].withDefaults()),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wait := true
	err := s.call(ctx, "qdrant upsert", func(ctx context.Context) error {
		_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points:         points,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "points upserted", "count", len(points))
	return nil
}

// Search runs a nearest-neighbor query in the collection. The filter is
// translated to a keyword match condition evaluated by Qdrant.
func (s *RemoteCollectionStore) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]Candidate, error) {
	if err := validateQuery(s.dim, query, topK, filter); err != nil {
		return nil, err
	}

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(topK),
		Filter:         toQdrantFilter(filter),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	resp, err := resilience.Call(ctx, s.timeoutConfig("qdrant search"), func(ctx context.Context) (*pb.SearchResponse, error) {
		return s.points.Search(ctx, req)
	})
	if err != nil {
		return nil, s.backendError("qdrant search", err)
	}

	out := make([]Candidate, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		out = append(out, Candidate{
			ID:       pointID(r.GetId()),
			Metadata: decodePayload(r.GetPayload()),
			Score:    r.GetScore(),
		})
		if len(out) == topK {
			break
		}
	}
	return applyFilter(out, filter), nil
}

func (s *RemoteCollectionStore) timeoutConfig(op string) resilience.TimeoutConfig {
	return resilience.TimeoutConfig{Duration: s.timeout, Operation: op}
}

func (s *RemoteCollectionStore) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := resilience.Do(ctx, s.timeoutConfig(op), fn); err != nil {
		return s.backendError(op, err)
	}
	return nil
}

// backendError classifies a failed remote call. Typed errors (timeouts)
// and caller cancellation pass through unchanged.
func (s *RemoteCollectionStore) backendError(op string, err error) error {
	if errors.CodeOf(err) != errors.CodeInternal {
		return err
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return ctxErr
	}
	code := errors.CodeBackendUnavailable
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		code = errors.CodeTimeout
	case codes.InvalidArgument:
		code = errors.CodeInvalidInput
	}
	return errors.New(code, op+" failed", err).
		WithContext("collection", s.collection).
		WithContext("grpc_code", status.Code(err).String())
}

func contextError(err error) error {
	if status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func toQdrantFilter(f *Filter) *pb.Filter {
	if f == nil {
		return nil
	}
	return &pb.Filter{
		Must: []*pb.Condition{
			{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: f.Field,
						Match: &pb.Match{
							MatchValue: &pb.Match_Keyword{Keyword: f.Value},
						},
					},
				},
			},
		},
	}
}

func encodePayload(m Metadata) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return payload
}

// decodePayload flattens a point payload into Metadata. Non-string scalars
// written by other clients are formatted; nested values are skipped.
func decodePayload(payload map[string]*pb.Value) Metadata {
	m := make(Metadata, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *pb.Value_StringValue:
			m[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			m[k] = strconv.FormatInt(kind.IntegerValue, 10)
		case *pb.Value_DoubleValue:
			m[k] = strconv.FormatFloat(kind.DoubleValue, 'g', -1, 64)
		case *pb.Value_BoolValue:
			m[k] = strconv.FormatBool(kind.BoolValue)
		}
	}
	return m
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}
