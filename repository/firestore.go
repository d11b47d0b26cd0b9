package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ sectionsense.AccountStore = FirestoreRepository{}

type FirestoreRepository struct {
	firestore *firestore.Client
	cfg       config.Firestore
}

// One document per account, keyed by the account id
type firestoreAccount struct {
	Username        string                          `firestore:"username"`
	Password        string                          `firestore:"password"`
	Sections        map[string]sectionsense.Section `firestore:"sections"`
	IntervalSeconds int                             `firestore:"interval_seconds"`
	TotalChecks     int                             `firestore:"total_checks"`
	TotalGained     int                             `firestore:"total_gained"`
	TotalLost       int                             `firestore:"total_lost"`
	LastCheck       time.Time                       `firestore:"last_check"`
	RegisteredAt    time.Time                       `firestore:"registered_at"`
}

func newFirestoreRepository(ctx context.Context, cfg config.Firestore) (FirestoreRepository, error) {
	// Create a new Firestore client using application default credentials.
	if cfg.CredentialsFile == "" {
		client, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return FirestoreRepository{}, fmt.Errorf("failed to create firestore client: %w", err)
		}

		return FirestoreRepository{client, cfg}, nil
	}

	// Create a new Firestore client using supplied credentials file.
	client, err := firestore.NewClient(ctx, cfg.ProjectID, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return FirestoreRepository{}, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return FirestoreRepository{client, cfg}, nil
}

func (f FirestoreRepository) accounts() *firestore.CollectionRef {
	return f.firestore.Collection(f.cfg.AccountCollection)
}

func (f FirestoreRepository) Get(ctx context.Context, id string) (sectionsense.Account, error) {
	document, err := f.accounts().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return sectionsense.Account{}, sectionsense.ErrAccountNotFound
	} else if err != nil {
		return sectionsense.Account{}, fmt.Errorf("failed to get account document %s: %w", id, err)
	}

	return decodeAccount(document)
}

func (f FirestoreRepository) Put(ctx context.Context, account sectionsense.Account) error {
	_, err := f.accounts().Doc(account.ID).Set(ctx, encodeAccount(account))
	if err != nil {
		return fmt.Errorf("failed to write account document %s: %w", account.ID, err)
	}

	return nil
}

func (f FirestoreRepository) Delete(ctx context.Context, id string) (bool, error) {
	// the Exists precondition turns deleting a missing document into NotFound instead of a silent success
	_, err := f.accounts().Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to delete account document %s: %w", id, err)
	}

	return true, nil
}

func (f FirestoreRepository) List(ctx context.Context) ([]sectionsense.Account, error) {
	iter := f.accounts().OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var results []sectionsense.Account
	for {
		document, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate account documents: %w", err)
		}

		account, err := decodeAccount(document)
		if err != nil {
			return nil, err
		}
		results = append(results, account)
	}

	return results, nil
}

func (f FirestoreRepository) Close() error {
	return f.firestore.Close()
}

func encodeAccount(account sectionsense.Account) firestoreAccount {
	sections := make(map[string]sectionsense.Section, len(account.Sections))
	for key, section := range account.Sections {
		sections[key] = section
	}

	return firestoreAccount{
		Username:        account.Username,
		Password:        account.Password.Reveal(),
		Sections:        sections,
		IntervalSeconds: account.IntervalSeconds,
		TotalChecks:     account.TotalChecks,
		TotalGained:     account.TotalGained,
		TotalLost:       account.TotalLost,
		LastCheck:       account.LastCheck,
		RegisteredAt:    account.RegisteredAt,
	}
}

func decodeAccount(document *firestore.DocumentSnapshot) (sectionsense.Account, error) {
	var stored firestoreAccount
	if err := document.DataTo(&stored); err != nil {
		return sectionsense.Account{}, fmt.Errorf("failed to deserialize account document %s: %w", document.Ref.ID, err)
	}

	sections := make(sectionsense.Snapshot, len(stored.Sections))
	for key, section := range stored.Sections {
		sections[key] = section
	}

	return sectionsense.Account{
		ID:              document.Ref.ID,
		Username:        stored.Username,
		Password:        sectionsense.Secret(stored.Password),
		Sections:        sections,
		IntervalSeconds: stored.IntervalSeconds,
		TotalChecks:     stored.TotalChecks,
		TotalGained:     stored.TotalGained,
		TotalLost:       stored.TotalLost,
		LastCheck:       stored.LastCheck,
		RegisteredAt:    stored.RegisteredAt,
	}, nil
}
