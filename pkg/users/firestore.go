package users

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/illmade-knight/go-userquery/pkg/fetch"
	"github.com/illmade-knight/go-userquery/pkg/querykey"
)

// FirestoreConfig holds configuration for the Firestore user store.
type FirestoreConfig struct {
	ProjectID       string `env:"PROJECT_ID"`
	CollectionName  string `env:"COLLECTION" envDefault:"users"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

// FirestoreSource serves user payloads from a Firestore collection whose
// document IDs are the user ids. Payloads have the same JSON shape as the REST
// API's, so the same fetcher and L2 cache sit on top of either source.
type FirestoreSource struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreSource creates a source over an existing client.
func NewFirestoreSource(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreSource, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSource initialized.")

	return &FirestoreSource{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSource").Logger(),
	}, nil
}

// Fetch reads the collection for the list endpoint and a single document for
// the detail endpoint.
func (s *FirestoreSource) Fetch(ctx context.Context, d querykey.Descriptor) (json.RawMessage, error) {
	switch d.Endpoint() {
	case EndpointList:
		list, err := s.list(ctx)
		if err != nil {
			return nil, err
		}
		return marshal(EndpointList, list)
	case EndpointDetail:
		u, err := s.get(ctx, d)
		if err != nil {
			return nil, err
		}
		return marshal(EndpointDetail, u)
	default:
		return nil, fetch.Errorf(fetch.KindValidation, d.Endpoint(), "unknown endpoint %q", d.Endpoint())
	}
}

func (s *FirestoreSource) list(ctx context.Context) ([]User, error) {
	docs, err := s.client.Collection(s.collectionName).Documents(ctx).GetAll()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list documents from Firestore.")
		return nil, classify(EndpointList, fmt.Errorf("firestore list %s: %w", s.collectionName, err))
	}

	list := make([]User, 0, len(docs))
	for _, doc := range docs {
		var u User
		if err := doc.DataTo(&u); err != nil {
			return nil, fetch.NewError(fetch.KindValidation, EndpointList, fmt.Errorf("firestore DataTo for %s: %w", doc.Ref.ID, err))
		}
		list = append(list, u)
	}
	s.logger.Debug().Int("count", len(list)).Msg("Successfully listed users from Firestore.")
	return list, nil
}

func (s *FirestoreSource) get(ctx context.Context, d querykey.Descriptor) (User, error) {
	id, ok := d.PathParam("id")
	if !ok {
		return User{}, fetch.Errorf(fetch.KindValidation, EndpointDetail, "missing path parameter id")
	}
	docID := fmt.Sprint(id)

	docSnap, err := s.client.Collection(s.collectionName).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Warn().Str("key", docID).Msg("Document not found in Firestore.")
		} else {
			s.logger.Error().Err(err).Str("key", docID).Msg("Failed to get document from Firestore.")
		}
		return User{}, classify(EndpointDetail, fmt.Errorf("firestore get for %s: %w", docID, err))
	}

	var u User
	if err := docSnap.DataTo(&u); err != nil {
		s.logger.Error().Err(err).Str("key", docID).Msg("Failed to map Firestore document data.")
		return User{}, fetch.NewError(fetch.KindValidation, EndpointDetail, fmt.Errorf("firestore DataTo for %s: %w", docID, err))
	}
	return u, nil
}

// Put writes a user document keyed by its id.
func (s *FirestoreSource) Put(ctx context.Context, u User) error {
	id, ok := u.GetID()
	if !ok {
		return fmt.Errorf("user has no id")
	}
	docID := strconv.FormatInt(id, 10)
	if _, err := s.client.Collection(s.collectionName).Doc(docID).Set(ctx, u); err != nil {
		s.logger.Error().Err(err).Str("key", docID).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", docID, err)
	}
	s.logger.Debug().Str("key", docID).Msg("Successfully wrote user to Firestore.")
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreSource) Close() error {
	s.logger.Info().Msg("FirestoreSource does not close the injected Firestore client.")
	return nil
}

// classify maps gRPC status codes onto fetch error kinds.
func classify(endpoint string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fetch.NewError(fetch.KindNotFound, endpoint, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fetch.NewError(fetch.KindNetwork, endpoint, err)
	default:
		return fetch.NewError(fetch.KindServer, endpoint, err)
	}
}

func marshal(endpoint string, v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fetch.NewError(fetch.KindServer, endpoint, fmt.Errorf("encoding payload: %w", err))
	}
	return b, nil
}
