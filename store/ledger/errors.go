package ledger

import (
	"strings"

	"github.com/hyperledger/fabric-sdk-go/pkg/common/errors/status"
	"github.com/pkg/errors"
)

var ErrIdentityNotFound = errors.New("identity not found in wallet")

const chaincodeErrorMarker = "Error: "

// endorsementError reduces a failed endorsement to the chaincode's own message
// so that clients see e.g. "CAR12 does not exist" instead of the peer report.
func endorsementError(err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	if s.Group == status.ClientStatus && s.Code == status.MultipleErrors.ToInt32() {
		// one status per endorser; the first chaincode message wins
		for _, detail := range s.Details {
			if detailErr, ok := detail.(error); ok {
				if msg, found := chaincodeMessage(detailErr.Error()); found {
					return errors.New(msg)
				}
			}
		}
		return err
	}
	if msg, found := chaincodeMessage(s.Message); found {
		return errors.New(msg)
	}
	return err
}

func chaincodeMessage(msg string) (string, bool) {
	idx := strings.Index(msg, chaincodeErrorMarker)
	if idx < 0 {
		return "", false
	}
	msg = msg[idx+len(chaincodeErrorMarker):]
	if next := strings.Index(msg, chaincodeErrorMarker); next >= 0 {
		msg = msg[:next]
	}
	msg = strings.TrimSpace(msg)
	return msg, msg != ""
}
