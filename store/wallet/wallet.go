package wallet

import (
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("identity not found")

// Identity is the wallet record for an enrolled user. The signing key stays in
// the Fabric SDK crypto store, indexed by UserID.
type Identity struct {
	Key         string    `json:"key"`
	UserID      string    `json:"userId"`
	MSPID       string    `json:"mspId"`
	Certificate string    `json:"certificate"`
	CommonName  string    `json:"commonName"`
	NotAfter    time.Time `json:"notAfter"`
	EnrolledAt  time.Time `json:"enrolledAt"`
}

type Store interface {
	Put(identity *Identity) error
	Get(key string) (*Identity, error)
	Exists(key string) (bool, error)
	List() ([]*Identity, error)
	Remove(key string) error
	Close() error
}
