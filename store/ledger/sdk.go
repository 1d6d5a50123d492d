package ledger

import (
	"time"

	"github.com/hyperledger/fabric-sdk-go/pkg/client/channel"
	ledgerclient "github.com/hyperledger/fabric-sdk-go/pkg/client/ledger"
	mspclient "github.com/hyperledger/fabric-sdk-go/pkg/client/msp"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/errors/retry"
	"github.com/hyperledger/fabric-sdk-go/pkg/fabsdk"
	appconfig "github.com/kfsoftware/drivenet/config"
	"github.com/kfsoftware/drivenet/log"
	"github.com/kfsoftware/drivenet/store/wallet"
	"github.com/kfsoftware/drivenet/utils"
	"github.com/pkg/errors"
)

// SDKNetwork binds the proxy to a Fabric network through fabric-sdk-go.
type SDKNetwork struct {
	sdk     *fabsdk.FabricSDK
	network appconfig.Network
}

func NewSDKNetwork(sdk *fabsdk.FabricSDK, network appconfig.Network) *SDKNetwork {
	return &SDKNetwork{
		sdk:     sdk,
		network: network,
	}
}

func (n *SDKNetwork) mspClient() (*mspclient.Client, error) {
	sdkContext := n.sdk.Context(
		fabsdk.WithOrg(n.network.Organization),
	)
	return mspclient.New(
		sdkContext,
		mspclient.WithCAInstance(n.network.CA),
		mspclient.WithOrg(n.network.Organization),
	)
}

func (n *SDKNetwork) Enroll(userID string, secret string) (*wallet.Identity, error) {
	mspClient, err := n.mspClient()
	if err != nil {
		return nil, err
	}
	err = mspClient.Enroll(userID, mspclient.WithSecret(secret))
	if err != nil {
		return nil, errors.Wrapf(err, "enrollment of %s failed", userID)
	}
	signingIdentity, err := mspClient.GetSigningIdentity(userID)
	if err != nil {
		return nil, err
	}
	certPem := signingIdentity.EnrollmentCertificate()
	crt, err := utils.ParseX509Certificate(certPem)
	if err != nil {
		return nil, errors.Wrap(err, "enrollment certificate is invalid")
	}
	return &wallet.Identity{
		UserID:      userID,
		MSPID:       signingIdentity.Identifier().MSPID,
		Certificate: string(utils.EncodeX509Certificate(crt)),
		CommonName:  crt.Subject.CommonName,
		NotAfter:    crt.NotAfter,
		EnrolledAt:  time.Now().UTC(),
	}, nil
}

// HasIdentity reports whether the credential store still holds a signing
// identity for userID.
func (n *SDKNetwork) HasIdentity(userID string) (bool, error) {
	mspClient, err := n.mspClient()
	if err != nil {
		return false, err
	}
	_, err = mspClient.GetSigningIdentity(userID)
	if errors.Is(err, mspclient.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (n *SDKNetwork) Connect(identity *wallet.Identity) (Contract, error) {
	mspClient, err := n.mspClient()
	if err != nil {
		return nil, err
	}
	signingIdentity, err := mspClient.GetSigningIdentity(identity.UserID)
	if errors.Is(err, mspclient.ErrUserNotFound) {
		log.Warnf("signing identity for %s is gone from the credential store", identity.UserID)
		return nil, errors.Wrapf(ErrIdentityNotFound, "key %s", identity.Key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load signing identity for %s", identity.UserID)
	}
	channelProvider := n.sdk.ChannelContext(
		n.network.Channel,
		fabsdk.WithIdentity(signingIdentity),
		fabsdk.WithOrg(n.network.Organization),
	)
	client, err := channel.New(channelProvider)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open channel %s", n.network.Channel)
	}
	return &sdkContract{
		client:      client,
		chaincodeID: n.network.Contract,
	}, nil
}

// Height returns the channel height as seen by the probe user. With no probe
// user configured the network is assumed reachable.
func (n *SDKNetwork) Height() (uint64, error) {
	if n.network.ProbeUser == "" {
		return 0, nil
	}
	channelProvider := n.sdk.ChannelContext(
		n.network.Channel,
		fabsdk.WithUser(n.network.ProbeUser),
		fabsdk.WithOrg(n.network.Organization),
	)
	ledgerClient, err := ledgerclient.New(channelProvider)
	if err != nil {
		return 0, err
	}
	info, err := ledgerClient.QueryInfo()
	if err != nil {
		return 0, err
	}
	return info.BCI.Height, nil
}

type sdkContract struct {
	client      *channel.Client
	chaincodeID string
}

func (c *sdkContract) request(fn string, args []string, transient map[string][]byte) channel.Request {
	byteArgs := make([][]byte, len(args))
	for i, arg := range args {
		byteArgs[i] = []byte(arg)
	}
	return channel.Request{
		ChaincodeID:  c.chaincodeID,
		Fcn:          fn,
		Args:         byteArgs,
		TransientMap: transient,
	}
}

func (c *sdkContract) Evaluate(fn string, args []string, transient map[string][]byte) ([]byte, error) {
	response, err := c.client.Query(
		c.request(fn, args, transient),
		channel.WithRetry(retry.DefaultChannelOpts),
	)
	if err != nil {
		return nil, err
	}
	return response.Payload, nil
}

func (c *sdkContract) Submit(fn string, args []string, transient map[string][]byte) ([]byte, error) {
	response, err := c.client.Execute(
		c.request(fn, args, transient),
		channel.WithRetry(retry.DefaultChannelOpts),
	)
	if err != nil {
		return nil, endorsementError(err)
	}
	return response.Payload, nil
}
