package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per entitlement in a collection
// (accessRecords by default), with document id Key.Encode().
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func OpenFirestore(ctx context.Context, projectID, credentialsFile, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, errors.New("missing firestore project id")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return NewFirestoreStore(client, collection), nil
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "accessRecords"
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (f *FirestoreStore) doc(k Key) *firestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(k.Encode())
}

func (f *FirestoreStore) Get(ctx context.Context, key Key) (Entitlement, bool, error) {
	snap, err := f.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Entitlement{}, false, nil
	}
	if err != nil {
		return Entitlement{}, false, err
	}
	var ent Entitlement
	if err := snap.DataTo(&ent); err != nil {
		return Entitlement{}, false, fmt.Errorf("decode %s/%s: %w", f.collection, snap.Ref.ID, err)
	}
	return ent, true, nil
}

// Put uses Set without merge options, which replaces the whole document.
func (f *FirestoreStore) Put(ctx context.Context, ent Entitlement) error {
	_, err := f.doc(ent.Key()).Set(ctx, ent)
	return err
}

func (f *FirestoreStore) Ping(ctx context.Context) error {
	it := f.client.Collection(f.collection).Limit(1).Documents(ctx)
	defer it.Stop()
	_, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}

func (f *FirestoreStore) Close() error {
	return f.client.Close()
}
