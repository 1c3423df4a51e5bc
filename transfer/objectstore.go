package transfer

import (
	"context"
	"io"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sftpstreams/errors"
)

// objectPutter is the part of jetstream.ObjectStore the persister uses.
type objectPutter interface {
	Put(ctx context.Context, meta jetstream.ObjectMeta, reader io.Reader) (*jetstream.ObjectInfo, error)
}

// ObjectStorePersister writes transfers into a JetStream object store.
type ObjectStorePersister struct {
	store  objectPutter
	bucket string
}

// NewObjectStorePersister wraps store.
func NewObjectStorePersister(store jetstream.ObjectStore, bucket string) *ObjectStorePersister {
	return &ObjectStorePersister{store: store, bucket: bucket}
}

func (p *ObjectStorePersister) Destination() string { return "object_store" }

func (p *ObjectStorePersister) Save(ctx context.Context, t Transfer) error {
	_, err := p.store.Put(ctx, jetstream.ObjectMeta{
		Name:     t.Target,
		Metadata: t.Metadata,
	}, t.Source)
	if err != nil {
		return errors.WrapTransient(err, "ObjectStorePersister", "Save", "put "+p.bucket+"/"+t.Target)
	}
	return nil
}
